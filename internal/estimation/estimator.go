package estimation

import (
	"math"
	"time"

	"QuadExplore/internal/model"
)

// Estimator turns raw SensorReadings into a Pose.
type Estimator struct {
	kf       *Kalman
	useGPS   bool
	last     time.Time
	yaw      float64
	odomVar  float64
	altVar   float64
	maxDt    float64
	haveLast bool
}

// Option tweaks an Estimator.
type Option func(*Estimator)

// WithGPS lets the estimator fuse absolute fixes when the platform reports
// them. GPS-denied configurations leave it off.
func WithGPS() Option { return func(e *Estimator) { e.useGPS = true } }

// NewEstimator creates an estimator starting at the origin with zero yaw.
func NewEstimator(opts ...Option) *Estimator {
	e := &Estimator{
		kf:      NewKalman(0.01, 0.5),
		odomVar: 0.02,
		altVar:  0.05,
		maxDt:   0.5,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Fuse folds one sensor observation into the estimate and returns the pose.
func (e *Estimator) Fuse(s model.SensorReadings) (model.Pose, error) {
	dt := 0.0
	if e.haveLast {
		dt = s.Time.Sub(e.last).Seconds()
		if dt < 0 {
			dt = 0
		}
		if dt > e.maxDt {
			dt = e.maxDt
		}
	}
	e.last = s.Time
	e.haveLast = true

	e.yaw = wrapAngle(e.yaw + s.Gyro.Z()*dt)
	e.kf.Predict(dt)

	// body-frame odometry rotated into the start-relative world frame
	c, sn := math.Cos(e.yaw), math.Sin(e.yaw)
	vw := [3]float64{
		c*s.Odometry.X() - sn*s.Odometry.Y(),
		sn*s.Odometry.X() + c*s.Odometry.Y(),
		s.Odometry.Z(),
	}
	r := e.odomVar
	if sig := s.IMUSigmaAccel.Norm(); sig > 0 {
		r += sig * sig
	}
	if err := e.kf.UpdateVelocity(vw, r); err != nil {
		return model.Pose{}, err
	}
	if err := e.kf.UpdateAltitude(s.Altitude, e.altVar); err != nil {
		return model.Pose{}, err
	}
	if e.useGPS && s.GPS != nil {
		acc := math.Max(s.GPS.Accuracy, 0.1)
		if err := e.kf.UpdatePosition(s.GPS.Position, acc*acc); err != nil {
			return model.Pose{}, err
		}
	}

	az := s.Accel.Z()
	roll := math.Atan2(s.Accel.Y(), az)
	pitch := math.Atan2(-s.Accel.X(), math.Hypot(s.Accel.Y(), az))
	if az == 0 && s.Accel.X() == 0 && s.Accel.Y() == 0 {
		roll, pitch = 0, 0
	}

	return model.Pose{
		Position:        model.Vec3(e.kf.Position()),
		Orientation:     model.Vec3{roll, pitch, e.yaw},
		Velocity:        model.Vec3(e.kf.Velocity()),
		AngularVelocity: s.Gyro,
	}, nil
}

func wrapAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
