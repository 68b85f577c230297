package algorithm

import (
	"QuadExplore/internal/grid"
	"QuadExplore/internal/model"
)

// HoverKind holds position at the first pose it sees.
const HoverKind = "hover"

func init() {
	Register(HoverKind, func(opts model.Options, caps Capabilities) (Algorithm, error) {
		h := &Hover{}
		if err := opts.Decode(h); err != nil {
			return nil, err
		}
		return h, nil
	})
}

// Hover is a GPS-independent bring-up baseline.
type Hover struct {
	Altitude float64 `yaml:"altitude"`

	anchor *model.Vec3
	yaw    float64
}

func (h *Hover) Name() string { return HoverKind }

func (h *Hover) ProposeCommand(state model.Snapshot, _ *grid.Snapshot) (model.CommandProposal, bool) {
	if state.Timestamp.IsZero() {
		return model.CommandProposal{}, false
	}
	if h.anchor == nil {
		a := state.Pose.Position
		if h.Altitude > 0 {
			a[2] = h.Altitude
		}
		h.anchor = &a
		h.yaw = state.Pose.Yaw()
	}
	return model.CommandProposal{Target: *h.anchor, TargetYaw: h.yaw}, true
}
