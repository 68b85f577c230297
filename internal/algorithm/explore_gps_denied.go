package algorithm

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"QuadExplore/internal/grid"
	"QuadExplore/internal/model"
)

// ExploreKind is the frontier exploration strategy.
const ExploreKind = "explore_gps_denied"

func init() {
	Register(ExploreKind, func(opts model.Options, caps Capabilities) (Algorithm, error) {
		o := DefaultExploreOptions()
		if err := opts.Decode(&o); err != nil {
			return nil, err
		}
		return NewExploreGpsDenied(o, caps)
	})
}

// ExploreOptions tune frontier exploration.
type ExploreOptions struct {
	CruiseAltitude float64 `yaml:"cruise_altitude"`
	Speed          float64 `yaml:"speed"`
	// MinDistance ignores frontiers closer than this; they get explored
	// by passing anyway.
	MinDistance float64 `yaml:"min_distance"`
	// StallCycles is how many proposals a target may go without progress
	// before it is abandoned.
	StallCycles int     `yaml:"stall_cycles"`
	Exclusion   float64 `yaml:"exclusion"`
}

func DefaultExploreOptions() ExploreOptions {
	return ExploreOptions{
		CruiseAltitude: 1.5,
		Speed:          1.0,
		MinDistance:    0.5,
		StallCycles:    150,
		Exclusion:      0.75,
	}
}

// ExploreGpsDenied drives toward the nearest reachable frontier of the
// occupancy map. It works purely in the start-relative odometric frame and
// never consults absolute fixes.
type ExploreGpsDenied struct {
	opts  ExploreOptions
	reach float64
	log   *slog.Logger

	// analyze
	mapVersion uint64
	frontiers  []orb.Point

	// plan
	target   *orb.Point
	best     float64
	stalled  int
	excluded []orb.Bound
}

// NewExploreGpsDenied creates the strategy. The reach radius comes from the
// platform's position accuracy, floored at a grid cell.
func NewExploreGpsDenied(o ExploreOptions, caps Capabilities) (*ExploreGpsDenied, error) {
	if caps == nil {
		return nil, fmt.Errorf("%w: platform required", model.ErrInvalidConfig)
	}
	if o.Speed <= 0 || o.StallCycles <= 0 {
		return nil, fmt.Errorf("%w: speed and stall_cycles must be positive", model.ErrInvalidConfig)
	}
	return &ExploreGpsDenied{
		opts:  o,
		reach: math.Max(caps.Accuracy(), 0.2),
		log:   slog.Default().With("component", ExploreKind),
	}, nil
}

func (e *ExploreGpsDenied) Name() string { return ExploreKind }

// ProposeCommand runs one analyze, plan, execute pass.
func (e *ExploreGpsDenied) ProposeCommand(state model.Snapshot, m *grid.Snapshot) (model.CommandProposal, bool) {
	if state.Timestamp.IsZero() {
		return model.CommandProposal{}, false
	}
	pos := orb.Point{state.Pose.Position.X(), state.Pose.Position.Y()}
	e.analyze(m)
	target, ok := e.plan(pos)
	if !ok {
		return e.hold(state), true
	}
	return e.execute(state, pos, target), true
}

// analyze refreshes the frontier set when the map changed.
func (e *ExploreGpsDenied) analyze(m *grid.Snapshot) {
	if m == nil {
		e.frontiers = nil
		return
	}
	if m.Version == e.mapVersion && e.frontiers != nil {
		return
	}
	e.mapVersion = m.Version
	cells := m.Frontiers()
	pts := make([]orb.Point, 0, len(cells))
	for _, c := range cells {
		x, y := m.CellCenter(c)
		pts = append(pts, orb.Point{x, y})
	}
	e.frontiers = pts
}

// plan keeps the current target while it is making progress and otherwise
// picks the nearest frontier outside the excluded areas.
func (e *ExploreGpsDenied) plan(pos orb.Point) (orb.Point, bool) {
	if e.target != nil {
		d := planar.Distance(pos, *e.target)
		switch {
		case d <= e.reach:
			e.target = nil
		case d < e.best-0.05:
			e.best = d
			e.stalled = 0
		default:
			e.stalled++
			if e.stalled >= e.opts.StallCycles {
				e.log.Info("abandoning stalled frontier", "x", (*e.target)[0], "y", (*e.target)[1])
				e.excluded = append(e.excluded, orb.Bound{Min: *e.target, Max: *e.target}.Pad(e.opts.Exclusion))
				e.target = nil
			}
		}
		if e.target != nil && e.stillFrontier(*e.target) {
			return *e.target, true
		}
		e.target = nil
	}

	candidates := make([]orb.Point, 0, len(e.frontiers))
	for _, p := range e.frontiers {
		if planar.Distance(pos, p) < e.opts.MinDistance || e.isExcluded(p) {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return orb.Point{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return planar.Distance(pos, candidates[i]) < planar.Distance(pos, candidates[j])
	})
	t := candidates[0]
	e.target = &t
	e.best = planar.Distance(pos, t)
	e.stalled = 0
	return t, true
}

func (e *ExploreGpsDenied) stillFrontier(t orb.Point) bool {
	for _, p := range e.frontiers {
		if planar.Distance(p, t) <= e.reach {
			return true
		}
	}
	return false
}

func (e *ExploreGpsDenied) isExcluded(p orb.Point) bool {
	for _, b := range e.excluded {
		if b.Contains(p) {
			return true
		}
	}
	return false
}

func (e *ExploreGpsDenied) execute(state model.Snapshot, pos, target orb.Point) model.CommandProposal {
	return model.CommandProposal{
		Target:    model.Vec3{target[0], target[1], e.opts.CruiseAltitude},
		TargetYaw: math.Atan2(target[1]-pos[1], target[0]-pos[0]),
		MaxSpeed:  e.opts.Speed,
	}
}

func (e *ExploreGpsDenied) hold(state model.Snapshot) model.CommandProposal {
	return model.CommandProposal{
		Target:    state.Pose.Position,
		TargetYaw: state.Pose.Yaw(),
		Hold:      true,
	}
}

// Target returns the current frontier goal, if any.
func (e *ExploreGpsDenied) Target() (orb.Point, bool) {
	if e.target == nil {
		return orb.Point{}, false
	}
	return *e.target, true
}
