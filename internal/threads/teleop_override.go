package threads

import (
	"context"
	"log/slog"
	"time"

	"QuadExplore/internal/containers"
	"QuadExplore/internal/metrics"
	"QuadExplore/internal/model"
	"QuadExplore/internal/teleop"
)

// TeleopOverride watches the operator input and raises or clears the
// override flag. Override drops when the operator releases it or when the
// input goes quiet for longer than the timeout.
type TeleopOverride struct {
	cv      *containers.ControlVariables
	source  teleop.Source
	timeout time.Duration
	now     func() time.Time
	metrics *metrics.Registry
	log     *slog.Logger

	last   model.OperatorCommand
	lastAt time.Time
	active bool
}

func NewTeleopOverride(cv *containers.ControlVariables, src teleop.Source, timeout time.Duration, reg *metrics.Registry, logger *slog.Logger) *TeleopOverride {
	if logger == nil {
		logger = slog.Default()
	}
	return &TeleopOverride{
		cv:      cv,
		source:  src,
		timeout: timeout,
		now:     time.Now,
		metrics: reg,
		log:     logger.With("component", model.RoleTeleop.String()),
	}
}

func (t *TeleopOverride) Name() string { return model.RoleTeleop.String() }

func (t *TeleopOverride) Step(ctx context.Context) error {
	fresh := false
	if t.source != nil {
	drain:
		for {
			select {
			case c, ok := <-t.source.Commands():
				if !ok {
					t.source = nil
					break drain
				}
				t.last = c
				fresh = true
			default:
				break drain
			}
		}
	}
	now := t.now()
	if fresh {
		t.lastAt = now
		if !t.last.Time.IsZero() && t.last.Time.Before(now) {
			t.lastAt = t.last.Time
		}
	}

	active := t.last.Active && !t.lastAt.IsZero() && now.Sub(t.lastAt) <= t.timeout
	if !fresh && active == t.active {
		return nil
	}
	if active != t.active {
		reason := "operator"
		if t.last.Active && !active {
			reason = "timeout"
		}
		t.log.Info("override changed", "active", active, "reason", reason)
		t.metrics.Override(active)
	}
	t.active = active

	op := model.Actuation{}
	if active {
		op = t.last.Actuation()
	}
	t.cv.SetOverride(active, op)
	return nil
}
