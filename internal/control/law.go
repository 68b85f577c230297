// Package control turns algorithm proposals into per-axis velocity
// setpoints.
package control

import (
	"math"
	"time"

	"github.com/felixge/pidctrl"

	"QuadExplore/internal/model"
)

// Gains parameterise the reference-tracking law.
type Gains struct {
	Kp, Ki, Kd float64
	YawKp      float64
	MaxSpeed   float64
	MaxYawRate float64
}

// GainsFrom copies the controls section of the config.
func GainsFrom(c model.ControlsConfig) Gains {
	return Gains{
		Kp: c.Kp, Ki: c.Ki, Kd: c.Kd,
		YawKp:      c.YawKp,
		MaxSpeed:   c.MaxSpeed,
		MaxYawRate: c.MaxYawRate,
	}
}

// Law runs one PID per world axis with a fixed time step, so the same
// sequence of inputs always yields the same outputs.
type Law struct {
	gains  Gains
	dt     time.Duration
	axes   [3]*pidctrl.PIDController
	primed bool
}

// NewLaw builds a law stepping dt per Compute call.
func NewLaw(g Gains, dt time.Duration) *Law {
	l := &Law{gains: g, dt: dt}
	l.Reset()
	return l
}

// Reset clears integral and derivative history.
func (l *Law) Reset() {
	for i := range l.axes {
		l.axes[i] = pidctrl.NewPIDController(l.gains.Kp, l.gains.Ki, l.gains.Kd).
			SetOutputLimits(-l.gains.MaxSpeed, l.gains.MaxSpeed)
	}
	l.primed = false
}

// Compute returns the autonomous actuation for one cycle. A Hold proposal
// tracks the current position.
func (l *Law) Compute(pose model.Pose, p model.CommandProposal) model.Actuation {
	target, yaw := p.Target, p.TargetYaw
	if p.Hold {
		target, yaw = pose.Position, pose.Yaw()
	}
	limit := l.gains.MaxSpeed
	if p.MaxSpeed > 0 && p.MaxSpeed < limit {
		limit = p.MaxSpeed
	}

	var v model.Vec3
	for i, pid := range l.axes {
		pid.Set(target[i]).SetOutputLimits(-limit, limit)
		if !l.primed {
			// seed the derivative history without integrating
			pid.UpdateDuration(pose.Position[i], 0)
		}
		v[i] = pid.UpdateDuration(pose.Position[i], l.dt)
	}
	l.primed = true

	if h := math.Hypot(v[0], v[1]); h > limit {
		v[0], v[1] = v[0]*limit/h, v[1]*limit/h
	}

	rate := l.gains.YawKp * wrapAngle(yaw-pose.Yaw())
	rate = math.Max(-l.gains.MaxYawRate, math.Min(l.gains.MaxYawRate, rate))

	return model.Actuation{
		VX:      v[0],
		VY:      v[1],
		VZ:      v[2],
		YawRate: rate,
		Source:  model.SourceAutonomous,
	}
}

func wrapAngle(a float64) float64 {
	return math.Remainder(a, 2*math.Pi)
}
