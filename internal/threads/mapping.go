package threads

import (
	"context"
	"time"

	"QuadExplore/internal/containers"
	"QuadExplore/internal/grid"
	"QuadExplore/internal/model"
)

// Mapping folds range returns into the occupancy grid and publishes an
// immutable snapshot of it. The map flows forward only; nothing here
// writes the pose.
type Mapping struct {
	cv     *containers.ControlVariables
	grid   *grid.Grid
	maxAge time.Duration
	now    func() time.Time

	lastSeq uint64
	stale   uint64
}

func NewMapping(cv *containers.ControlVariables, g *grid.Grid, maxPoseAge time.Duration) *Mapping {
	return &Mapping{cv: cv, grid: g, maxAge: maxPoseAge, now: time.Now}
}

func (m *Mapping) Name() string { return model.RoleMapping.String() }

// Stale counts cycles skipped because the pose was too old.
func (m *Mapping) Stale() uint64 { return m.stale }

func (m *Mapping) Step(ctx context.Context) error {
	snap := m.cv.Snapshot()
	if snap.Timestamp.IsZero() || snap.Sensors.Seq == m.lastSeq {
		return nil
	}
	if m.now().Sub(snap.Timestamp) > m.maxAge {
		m.stale++
		return nil
	}
	m.lastSeq = snap.Sensors.Seq

	beams := make([]grid.Beam, 0, len(snap.Sensors.Ranges))
	for _, r := range snap.Sensors.Ranges {
		beams = append(beams, grid.Beam{Bearing: r.Bearing, Distance: r.Distance, Hit: !r.MaxRange})
	}
	p := snap.Pose
	if m.grid.Integrate(p.Position.X(), p.Position.Y(), p.Yaw(), beams) == 0 {
		return nil
	}
	return m.cv.Update(model.RoleMapping, containers.FieldMap, m.grid.Snapshot())
}
