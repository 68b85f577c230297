package estimation

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuadExplore/internal/model"
)

func TestKalman_VelocityIntegratesIntoPosition(t *testing.T) {
	kf := NewKalman(0.01, 0.5)
	for i := 0; i < 100; i++ {
		kf.Predict(0.1)
		require.NoError(t, kf.UpdateVelocity([3]float64{1, 0, 0}, 0.01))
	}

	v := kf.Velocity()
	assert.InDelta(t, 1.0, v[0], 0.05)
	p := kf.Position()
	assert.InDelta(t, 10.0, p[0], 0.6)
	assert.InDelta(t, 0.0, p[1], 1e-6)
}

func TestKalman_PositionUpdateShrinksVariance(t *testing.T) {
	kf := NewKalman(10, 0.1)
	before := kf.Variance()
	require.NoError(t, kf.UpdatePosition([3]float64{3, 4, 5}, 0.1))
	after := kf.Variance()

	for i := 0; i < 3; i++ {
		assert.Less(t, after[i], before[i])
	}
	p := kf.Position()
	assert.InDelta(t, 3, p[0], 0.05)
	assert.InDelta(t, 5, p[2], 0.1)
}

func TestKalman_PredictNonPositiveDtIsNoop(t *testing.T) {
	kf := NewKalman(1, 1)
	before := kf.Variance()
	kf.Predict(0)
	kf.Predict(-1)
	assert.Equal(t, before, kf.Variance())
}

func TestEstimator_DeadReckonsWithoutGPS(t *testing.T) {
	e := NewEstimator()
	t0 := time.Unix(0, 0)

	var pose model.Pose
	var err error
	for i := 0; i <= 50; i++ {
		pose, err = e.Fuse(model.SensorReadings{
			Time:     t0.Add(time.Duration(i) * 100 * time.Millisecond),
			Accel:    model.Vec3{0, 0, 9.81},
			Odometry: model.Vec3{0.5, 0, 0},
			Altitude: 2,
			// a fix that must be ignored in GPS-denied mode
			GPS: &model.GPSFix{Position: model.Vec3{100, 100, 100}, Accuracy: 0.1},
		})
		require.NoError(t, err)
	}

	assert.InDelta(t, 2.5, pose.Position.X(), 0.3)
	assert.InDelta(t, 0, pose.Position.Y(), 1e-6)
	assert.InDelta(t, 2, pose.Position.Z(), 0.2)
	assert.InDelta(t, 0, pose.Orientation.X(), 1e-9)
}

func TestEstimator_IntegratesYawAndRotatesOdometry(t *testing.T) {
	e := NewEstimator()
	t0 := time.Unix(0, 0)

	// rotate a quarter turn, then fly body-forward
	var pose model.Pose
	for i := 0; i <= 10; i++ {
		p, err := e.Fuse(model.SensorReadings{
			Time: t0.Add(time.Duration(i) * 100 * time.Millisecond),
			Gyro: model.Vec3{0, 0, math.Pi / 2},
		})
		require.NoError(t, err)
		pose = p
	}
	assert.InDelta(t, math.Pi/2, pose.Yaw(), 1e-9)

	for i := 11; i <= 40; i++ {
		p, err := e.Fuse(model.SensorReadings{
			Time:     t0.Add(time.Duration(i) * 100 * time.Millisecond),
			Odometry: model.Vec3{1, 0, 0},
		})
		require.NoError(t, err)
		pose = p
	}
	assert.Greater(t, pose.Position.Y(), 2.0)
	assert.InDelta(t, 0, pose.Position.X(), 0.05)
}

func TestEstimator_UsesGPSWhenEnabled(t *testing.T) {
	e := NewEstimator(WithGPS())
	t0 := time.Unix(0, 0)

	var pose model.Pose
	for i := 0; i < 20; i++ {
		p, err := e.Fuse(model.SensorReadings{
			Time:     t0.Add(time.Duration(i) * 100 * time.Millisecond),
			Altitude: 4,
			GPS:      &model.GPSFix{Position: model.Vec3{7, -3, 4}, Accuracy: 0.1},
		})
		require.NoError(t, err)
		pose = p
	}
	assert.InDelta(t, 7, pose.Position.X(), 0.2)
	assert.InDelta(t, -3, pose.Position.Y(), 0.2)
}
