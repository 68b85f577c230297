// Package model defines the shared state, message and configuration types
// exchanged between the QuadExplore runtime components.
package model

import (
	"math"
	"time"

	"QuadExplore/internal/grid"
)

// Vec3 is a 3D vector (x, y, z) or an (roll, pitch, yaw) triple.
type Vec3 [3]float64

// X returns the first component.
func (v Vec3) X() float64 { return v[0] }

// Y returns the second component.
func (v Vec3) Y() float64 { return v[1] }

// Z returns the third component.
func (v Vec3) Z() float64 { return v[2] }

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]} }

// Scale returns v * c.
func (v Vec3) Scale(c float64) Vec3 { return Vec3{v[0] * c, v[1] * c, v[2] * c} }

// Norm returns the euclidean length of v.
func (v Vec3) Norm() float64 { return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2]) }

// Pose is the estimated (or true) kinematic state of the vehicle.
// Orientation holds roll, pitch and yaw in radians.
type Pose struct {
	Position        Vec3 `json:"position"`
	Orientation     Vec3 `json:"orientation"`
	Velocity        Vec3 `json:"velocity"`
	AngularVelocity Vec3 `json:"angular_velocity"`
}

// Yaw returns the heading component of the orientation.
func (p Pose) Yaw() float64 { return p.Orientation[2] }

// Range is a single beam of the range (coverage) sensor, bearing relative
// to the vehicle heading.
type Range struct {
	Bearing  float64 `json:"bearing"`
	Distance float64 `json:"distance"`
	MaxRange bool    `json:"max_range"` // no return within sensor range
}

// GPSFix is an absolute position fix. Platforms flying GPS-denied never
// populate it.
type GPSFix struct {
	Position Vec3    `json:"position"`
	Accuracy float64 `json:"accuracy"`
}

// SensorReadings is one platform sensor observation.
type SensorReadings struct {
	Seq           uint64    `json:"seq"`
	Time          time.Time `json:"time"`
	Accel         Vec3      `json:"accel"`
	Gyro          Vec3      `json:"gyro"`
	IMUSigmaAccel Vec3      `json:"imu_sigma_accel"`
	Odometry      Vec3      `json:"odometry"` // body-frame velocity
	Altitude      float64   `json:"altitude"`
	Ranges        []Range   `json:"ranges,omitempty"`
	GPS           *GPSFix   `json:"gps,omitempty"`
}

// Clone returns a deep copy so a snapshot never aliases a writer's slices.
func (s SensorReadings) Clone() SensorReadings {
	out := s
	if s.Ranges != nil {
		out.Ranges = append([]Range(nil), s.Ranges...)
	}
	if s.GPS != nil {
		g := *s.GPS
		out.GPS = &g
	}
	return out
}

// ActuationSource tells who produced an actuation command.
type ActuationSource string

const (
	SourceNone       ActuationSource = "none"
	SourceAutonomous ActuationSource = "autonomous"
	SourceOperator   ActuationSource = "operator"
)

// Actuation is the per-axis setpoint set sent to a platform.
// Velocities are world-frame m/s, YawRate is rad/s.
type Actuation struct {
	VX      float64         `json:"vx"`
	VY      float64         `json:"vy"`
	VZ      float64         `json:"vz"`
	YawRate float64         `json:"yaw_rate"`
	Source  ActuationSource `json:"source"`
	Cycle   uint64          `json:"cycle"`
}

// Setpoints returns the axis setpoints, ignoring source and cycle bookkeeping.
func (a Actuation) Setpoints() [4]float64 {
	return [4]float64{a.VX, a.VY, a.VZ, a.YawRate}
}

// CommandProposal is what an algorithm hands to the control law.
type CommandProposal struct {
	Target    Vec3    `json:"target"`
	TargetYaw float64 `json:"target_yaw"`
	MaxSpeed  float64 `json:"max_speed"`
	Hold      bool    `json:"hold"`
}

// OperatorCommand is one sample of the external operator input stream.
type OperatorCommand struct {
	Active  bool      `json:"active"`
	VX      float64   `json:"vx"`
	VY      float64   `json:"vy"`
	VZ      float64   `json:"vz"`
	YawRate float64   `json:"yaw_rate"`
	Time    time.Time `json:"time"`
}

// Actuation converts the operator sample into a platform actuation.
func (c OperatorCommand) Actuation() Actuation {
	return Actuation{VX: c.VX, VY: c.VY, VZ: c.VZ, YawRate: c.YawRate, Source: SourceOperator}
}

// Role identifies a writer of the shared control state.
type Role int

const (
	RoleStateEstimation Role = iota
	RoleMapping
	RoleControls
	RoleTeleop
	roleCount
)

// NumRoles is the number of writer roles.
const NumRoles = int(roleCount)

func (r Role) String() string {
	switch r {
	case RoleStateEstimation:
		return "state_estimation"
	case RoleMapping:
		return "mapping"
	case RoleControls:
		return "controls"
	case RoleTeleop:
		return "teleop_override"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent, point-in-time copy of the shared control state.
type Snapshot struct {
	Seq           uint64           `json:"seq"`
	Timestamp     time.Time        `json:"timestamp"`
	Pose          Pose             `json:"pose"`
	Sensors       SensorReadings   `json:"sensors"`
	Autonomous    Actuation        `json:"autonomous"`
	Operator      Actuation        `json:"operator"`
	Actuation     Actuation        `json:"actuation"`
	Override      bool             `json:"override"`
	Map           *grid.Snapshot   `json:"-"`
	ControlsClock uint64           `json:"controls_clock"`
	Commits       [NumRoles]uint64 `json:"commits"`
}
