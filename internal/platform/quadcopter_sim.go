package platform

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"QuadExplore/internal/model"
)

// SimKind is the registry name of the simulated quadcopter.
const SimKind = "quadcopter_sim"

const gravity = 9.81

func init() {
	Register(SimKind, func(opts model.Options) (Platform, error) {
		o := DefaultSimOptions()
		if err := opts.Decode(&o); err != nil {
			return nil, err
		}
		return NewQuadcopterSim(o, time.Now)
	})
}

// SimOptions configure the simulated quadcopter.
type SimOptions struct {
	Seed          int64      `yaml:"seed"`
	ArenaWidth    float64    `yaml:"arena_width"`
	ArenaHeight   float64    `yaml:"arena_height"`
	Start         [2]float64 `yaml:"start"`
	Obstacles     []Obstacle `yaml:"obstacles"`
	Beams         int        `yaml:"beams"`
	SensorRange   float64    `yaml:"sensor_range"`
	RangeNoise    float64    `yaml:"range_noise"`
	OdomNoise     float64    `yaml:"odom_noise"`
	GyroNoise     float64    `yaml:"gyro_noise"`
	IMUSigmaAccel float64    `yaml:"imu_sigma_accel"`
	AltNoise      float64    `yaml:"alt_noise"`
	GPSAvailable  bool       `yaml:"gps_available"`
	GPSAccuracy   float64    `yaml:"gps_accuracy"`
	ResponseTau   float64    `yaml:"response_tau"`
	Accuracy      float64    `yaml:"accuracy"`
	MaxStep       float64    `yaml:"max_step"`
}

// DefaultSimOptions is a 20x20 m arena with the vehicle in the middle and
// a 2.5 m coverage sensor.
func DefaultSimOptions() SimOptions {
	return SimOptions{
		Seed:          1,
		ArenaWidth:    20,
		ArenaHeight:   20,
		Start:         [2]float64{10, 10},
		Beams:         16,
		SensorRange:   2.5,
		RangeNoise:    0.02,
		OdomNoise:     0.02,
		GyroNoise:     0.005,
		IMUSigmaAccel: 0.05,
		AltNoise:      0.01,
		GPSAccuracy:   1.0,
		ResponseTau:   0.3,
		Accuracy:      0.25,
		MaxStep:       0.1,
	}
}

func (o SimOptions) validate() error {
	switch {
	case o.ArenaWidth <= 0 || o.ArenaHeight <= 0:
		return fmt.Errorf("%w: arena must have positive size", model.ErrInvalidConfig)
	case o.Beams <= 0:
		return fmt.Errorf("%w: beams must be positive", model.ErrInvalidConfig)
	case o.SensorRange <= 0:
		return fmt.Errorf("%w: sensor_range must be positive", model.ErrInvalidConfig)
	case o.ResponseTau <= 0 || o.MaxStep <= 0:
		return fmt.Errorf("%w: response_tau and max_step must be positive", model.ErrInvalidConfig)
	}
	return nil
}

// QuadcopterSim is a kinematic point-mass quadcopter with a first-order
// velocity response, seeded sensor noise and a ring of range beams.
//
// Sensing and actuation are guarded separately: the latest command is
// handed over through an atomic pointer and physics only advances on
// ReadSensors, so neither path waits on the other.
type QuadcopterSim struct {
	opts  SimOptions
	world *World
	now   func() time.Time

	sensing   xMutex
	actuating xMutex
	cmd       atomic.Pointer[model.Actuation]
	armed     atomic.Bool
	closed    atomic.Bool

	mu      sync.Mutex
	rng     *rand.Rand
	pos     model.Vec3
	vel     model.Vec3
	yaw     float64
	yawRate float64
	last    time.Time
	seq     uint64
}

// NewQuadcopterSim builds a simulator. now is the simulation clock.
func NewQuadcopterSim(o SimOptions, now func() time.Time) (*QuadcopterSim, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}
	w := NewWorld(o.ArenaWidth, o.ArenaHeight, o.Obstacles)
	if !w.Free(o.Start[0], o.Start[1]) {
		return nil, fmt.Errorf("%w: start position is not free", model.ErrInvalidConfig)
	}
	return &QuadcopterSim{
		opts:  o,
		world: w,
		now:   now,
		rng:   rand.New(rand.NewSource(o.Seed)),
		pos:   model.Vec3{o.Start[0], o.Start[1], 0},
	}, nil
}

func (q *QuadcopterSim) Name() string { return SimKind }

func (q *QuadcopterSim) Arm(ctx context.Context) error {
	if q.closed.Load() {
		return errors.New("quadcopter_sim: closed")
	}
	q.armed.Store(true)
	return nil
}

func (q *QuadcopterSim) Disarm(ctx context.Context) error {
	q.armed.Store(false)
	q.cmd.Store(nil)
	return nil
}

func (q *QuadcopterSim) Armed() bool { return q.armed.Load() }

// Takeoff lifts the vehicle straight to altitude.
func (q *QuadcopterSim) Takeoff(ctx context.Context, altitude float64) error {
	if !q.armed.Load() {
		return fmt.Errorf("takeoff: %w", model.ErrNotArmed)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pos[2] = math.Max(altitude, 0)
	q.vel[2] = 0
	return nil
}

func (q *QuadcopterSim) Land(ctx context.Context) error {
	q.cmd.Store(nil)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pos[2] = 0
	q.vel = model.Vec3{}
	q.yawRate = 0
	return nil
}

// ApplyActuation hands a command to the physics loop. It fails with
// ErrNotArmed before Arm and ErrResourceBusy when another apply is in flight.
func (q *QuadcopterSim) ApplyActuation(ctx context.Context, a model.Actuation) error {
	if !q.armed.Load() {
		return fmt.Errorf("apply actuation: %w", model.ErrNotArmed)
	}
	if err := q.actuating.Lock(); err != nil {
		return err
	}
	defer q.actuating.Unlock()
	q.cmd.Store(&a)
	return nil
}

// ReadSensors advances physics to now and samples every sensor.
func (q *QuadcopterSim) ReadSensors(ctx context.Context) (model.SensorReadings, error) {
	if err := ctx.Err(); err != nil {
		return model.SensorReadings{}, err
	}
	if err := q.sensing.Lock(); err != nil {
		return model.SensorReadings{}, err
	}
	defer q.sensing.Unlock()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.rng == nil {
		return model.SensorReadings{}, errors.New("quadcopter_sim: closed")
	}

	now := q.now()
	dt := 0.0
	if !q.last.IsZero() {
		dt = math.Min(math.Max(now.Sub(q.last).Seconds(), 0), q.opts.MaxStep)
	}
	q.last = now
	prevVel := q.vel
	q.advance(dt)

	q.seq++
	c, s := math.Cos(q.yaw), math.Sin(q.yaw)
	toBody := func(v model.Vec3) model.Vec3 {
		return model.Vec3{c*v[0] + s*v[1], -s*v[0] + c*v[1], v[2]}
	}
	var accel model.Vec3
	if dt > 0 {
		accel = toBody(q.vel.Sub(prevVel).Scale(1 / dt))
	}
	accel[2] += gravity
	sigma := q.opts.IMUSigmaAccel

	r := model.SensorReadings{
		Seq:           q.seq,
		Time:          now,
		Accel:         model.Vec3{accel[0] + q.noise(sigma), accel[1] + q.noise(sigma), accel[2] + q.noise(sigma)},
		Gyro:          model.Vec3{0, 0, q.yawRate + q.noise(q.opts.GyroNoise)},
		IMUSigmaAccel: model.Vec3{sigma, sigma, sigma},
		Altitude:      q.pos[2] + q.noise(q.opts.AltNoise),
		Ranges:        q.scan(),
	}
	body := toBody(q.vel)
	r.Odometry = model.Vec3{body[0] + q.noise(q.opts.OdomNoise), body[1] + q.noise(q.opts.OdomNoise), body[2] + q.noise(q.opts.OdomNoise)}
	if q.opts.GPSAvailable {
		acc := q.opts.GPSAccuracy
		r.GPS = &model.GPSFix{
			Position: model.Vec3{q.pos[0] + q.noise(acc), q.pos[1] + q.noise(acc), q.pos[2] + q.noise(acc)},
			Accuracy: acc,
		}
	}
	return r, nil
}

// advance integrates dt seconds; callers hold mu.
func (q *QuadcopterSim) advance(dt float64) {
	if dt <= 0 {
		return
	}
	var target model.Actuation
	if q.armed.Load() {
		if a := q.cmd.Load(); a != nil {
			target = *a
		}
	}
	alpha := 1 - math.Exp(-dt/q.opts.ResponseTau)
	goal := model.Vec3{target.VX, target.VY, target.VZ}
	if q.pos[2] <= 0 && goal[2] <= 0 {
		goal = model.Vec3{}
	}
	q.vel = q.vel.Add(goal.Sub(q.vel).Scale(alpha))
	q.yawRate += (target.YawRate - q.yawRate) * alpha

	next := q.pos.Add(q.vel.Scale(dt))
	if next[2] < 0 {
		next[2] = 0
		q.vel[2] = 0
	}
	if q.world.Free(next[0], next[1]) {
		q.pos = next
	} else {
		q.pos[2] = next[2]
		q.vel[0], q.vel[1] = 0, 0
	}
	q.yaw = wrap(q.yaw + q.yawRate*dt)
}

func (q *QuadcopterSim) scan() []model.Range {
	out := make([]model.Range, q.opts.Beams)
	step := 2 * math.Pi / float64(q.opts.Beams)
	for i := range out {
		bearing := wrap(float64(i) * step)
		d, hit := q.world.Raycast(q.pos[0], q.pos[1], q.yaw+bearing, q.opts.SensorRange)
		if hit {
			d = math.Max(0, d+q.noise(q.opts.RangeNoise))
		}
		out[i] = model.Range{Bearing: bearing, Distance: d, MaxRange: !hit}
	}
	return out
}

func (q *QuadcopterSim) noise(sigma float64) float64 {
	if sigma <= 0 {
		return 0
	}
	return q.rng.NormFloat64() * sigma
}

// TrueState returns the simulator's ground truth in arena coordinates.
func (q *QuadcopterSim) TrueState() model.Pose {
	q.mu.Lock()
	defer q.mu.Unlock()
	return model.Pose{
		Position:        q.pos,
		Orientation:     model.Vec3{0, 0, q.yaw},
		Velocity:        q.vel,
		AngularVelocity: model.Vec3{0, 0, q.yawRate},
	}
}

func (q *QuadcopterSim) MinSensorRange() float64 { return q.opts.SensorRange }

func (q *QuadcopterSim) Accuracy() float64 { return q.opts.Accuracy }

// Close disarms and releases the noise source. Further reads fail.
func (q *QuadcopterSim) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = q.Disarm(context.Background())
	q.mu.Lock()
	q.rng = nil
	q.mu.Unlock()
	return nil
}

func wrap(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
