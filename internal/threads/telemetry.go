package threads

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"QuadExplore/internal/containers"
	"QuadExplore/internal/model"
)

// Publisher sends one message over the link.
type Publisher interface {
	Publish(kind string, prio model.Priority, binary bool, payload []byte) error
}

// Recorder persists telemetry records.
type Recorder interface {
	Record(bucket string, v any) error
}

// PoseReport is the telemetry pose payload.
type PoseReport struct {
	Seq           uint64          `json:"seq"`
	Pose          model.Pose      `json:"pose"`
	Actuation     model.Actuation `json:"actuation"`
	Override      bool            `json:"override"`
	ControlsClock uint64          `json:"controls_clock"`
	Explored      float64         `json:"explored"`
}

// MapReport is the header of a binary map frame.
type MapReport struct {
	Version    uint64  `json:"version"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Resolution float64 `json:"resolution"`
	Bits       []byte  `json:"bits"`
}

// Telemetry publishes state changes: pose at normal priority, the packed
// occupancy bitmap as low-priority binary, health at high priority.
type Telemetry struct {
	cv     *containers.ControlVariables
	pub    Publisher
	rec    Recorder
	health func() any
	log    *slog.Logger

	mapVersion uint64
}

func NewTelemetry(cv *containers.ControlVariables, pub Publisher, rec Recorder, health func() any, logger *slog.Logger) *Telemetry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Telemetry{cv: cv, pub: pub, rec: rec, health: health, log: logger.With("component", "telemetry")}
}

func (t *Telemetry) Name() string { return "telemetry" }

func (t *Telemetry) Step(ctx context.Context) error {
	if t.health != nil {
		h := t.health()
		if err := t.send(model.KindHealth, model.PriorityHigh, false, h); err != nil {
			return err
		}
	}
	if !t.cv.Dirty() {
		return nil
	}
	snap := t.cv.Snapshot()
	report := PoseReport{
		Seq:           snap.Seq,
		Pose:          snap.Pose,
		Actuation:     snap.Actuation,
		Override:      snap.Override,
		ControlsClock: snap.ControlsClock,
	}
	if snap.Map != nil {
		report.Explored = snap.Map.Explored()
	}
	if err := t.send(model.KindPose, model.PriorityNormal, false, report); err != nil {
		return err
	}
	if t.rec != nil {
		if err := t.rec.Record("telemetry", report); err != nil {
			t.log.Warn("record failed", "error", err)
		}
	}

	if m := snap.Map; m != nil && m.Version != t.mapVersion {
		t.mapVersion = m.Version
		frame := MapReport{Version: m.Version, Width: m.Width, Height: m.Height, Resolution: m.Resolution, Bits: m.PackBits()}
		if err := t.send(model.KindMap, model.PriorityLow, true, frame); err != nil {
			return err
		}
	}
	return nil
}

func (t *Telemetry) send(kind string, prio model.Priority, binary bool, v any) error {
	if t.pub == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	// filter rejections are dropped silently by the link
	return t.pub.Publish(kind, prio, binary, b)
}
