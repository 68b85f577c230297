package core

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuadExplore/internal/algorithm"
	"QuadExplore/internal/model"
	"QuadExplore/internal/platform"
	"QuadExplore/internal/recorder"
	"QuadExplore/internal/teleop"
	"QuadExplore/internal/threads"
)

const recordingKind = "recording_quad"

// recordingQuad wraps the simulator, remembers the last applied actuation
// and can slow down sensor reads.
type recordingQuad struct {
	platform.Platform

	mu      sync.Mutex
	applied []model.Actuation
	delay   atomic.Int64
}

var lastRecording atomic.Pointer[recordingQuad]

func init() {
	platform.Register(recordingKind, func(opts model.Options) (platform.Platform, error) {
		sim, err := platform.NewQuadcopterSim(platform.DefaultSimOptions(), time.Now)
		if err != nil {
			return nil, err
		}
		q := &recordingQuad{Platform: sim}
		lastRecording.Store(q)
		return q, nil
	})
}

func (q *recordingQuad) ApplyActuation(ctx context.Context, a model.Actuation) error {
	if err := q.Platform.ApplyActuation(ctx, a); err != nil {
		return err
	}
	q.mu.Lock()
	q.applied = append(q.applied, a)
	q.mu.Unlock()
	return nil
}

func (q *recordingQuad) ReadSensors(ctx context.Context) (model.SensorReadings, error) {
	if d := time.Duration(q.delay.Load()); d > 0 {
		time.Sleep(d)
	}
	return q.Platform.ReadSensors(ctx)
}

func (q *recordingQuad) last() (model.Actuation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.applied) == 0 {
		return model.Actuation{}, false
	}
	return q.applied[len(q.applied)-1], true
}

func testConfig() *model.Config {
	cfg := model.DefaultConfig()
	cfg.Platform = recordingKind
	cfg.Algorithm = algorithm.HoverKind
	cfg.Teleop.Enabled = true
	cfg.Teleop.Source = "none"
	cfg.Teleop.TimeoutMs = 2000
	return cfg
}

func TestNewRuntimeUnknownKinds(t *testing.T) {
	cfg := testConfig()
	cfg.Platform = "submarine"
	_, err := NewRuntime(cfg)
	require.ErrorIs(t, err, model.ErrConfiguration)
	assert.ErrorIs(t, err, model.ErrUnknownPlatformKind)

	cfg = testConfig()
	cfg.Algorithm = "warp_drive"
	_, err = NewRuntime(cfg)
	require.ErrorIs(t, err, model.ErrConfiguration)
	assert.ErrorIs(t, err, model.ErrUnknownAlgorithmKind)

	_, err = NewRuntime(nil)
	assert.ErrorIs(t, err, model.ErrConfiguration)

	cfg = testConfig()
	cfg.Threads.ControlsHz = -1
	_, err = NewRuntime(cfg)
	assert.ErrorIs(t, err, model.ErrConfiguration)
}

func TestOverrideScenario(t *testing.T) {
	src := teleop.NewChannelSource(4)
	rt, err := NewRuntime(testConfig(), WithTeleopSource(src))
	require.NoError(t, err)
	quad := lastRecording.Load()
	require.NoError(t, rt.Start(context.Background()))
	defer rt.Stop()

	require.Eventually(t, func() bool {
		a, ok := quad.last()
		return ok && a.Source == model.SourceAutonomous
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, rt.PushOperator(model.OperatorCommand{Active: true, VX: 0.7, YawRate: -0.2, Time: time.Now()}))
	require.Eventually(t, func() bool {
		a, _ := quad.last()
		return a.Source == model.SourceOperator && a.VX == 0.7 && a.YawRate == -0.2
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, rt.Snapshot().Override)
	assert.True(t, rt.Health().Override)

	require.NoError(t, rt.PushOperator(model.OperatorCommand{Active: false, Time: time.Now()}))
	require.Eventually(t, func() bool {
		a, _ := quad.last()
		return a.Source == model.SourceAutonomous
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, rt.Snapshot().Override)
	assert.Greater(t, rt.Snapshot().ControlsClock, uint64(0))
}

func TestStateEstimationDelayStopsOnlyThatThread(t *testing.T) {
	var mu sync.Mutex
	stops := map[string]int{}
	var seErr error
	hook := func(ev threads.Event) {
		if ev.Kind != threads.EventStopped {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		stops[ev.Thread]++
		if ev.Thread == model.RoleStateEstimation.String() {
			seErr = ev.Err
		}
	}

	cfg := testConfig()
	cfg.Recorder.Path = filepath.Join(t.TempDir(), "flight.db")
	rt, err := NewRuntime(cfg, WithEventHook(hook))
	require.NoError(t, err)
	quad := lastRecording.Load()
	quad.delay.Store(int64(40 * time.Millisecond))
	require.NoError(t, rt.Start(context.Background()))

	se := model.RoleStateEstimation.String()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return stops[se] == 1
	}, 3*time.Second, 10*time.Millisecond)

	h := rt.Health()
	assert.Equal(t, model.HealthDegraded, h.Overall)
	for _, th := range h.Threads {
		if th.Name == se {
			assert.Equal(t, "stopped", th.State)
			assert.Equal(t, 5, th.ConsecutiveMisses)
			assert.Contains(t, th.LastError, "deadline")
		} else {
			assert.Equal(t, "running", th.State, th.Name)
		}
	}

	// the other threads keep cycling
	before := rt.Snapshot().ControlsClock
	require.Eventually(t, func() bool { return rt.Snapshot().ControlsClock > before }, time.Second, 10*time.Millisecond)

	rt.Stop()
	rt.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, stops[se])
	assert.ErrorIs(t, seErr, model.ErrDeadlineMiss)
	assert.Equal(t, model.HealthStopped, rt.Health().Overall)
}

func TestEventsAreRecorded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flight.db")
	cfg := testConfig()
	cfg.Recorder.Path = path
	rt, err := NewRuntime(cfg)
	require.NoError(t, err)
	require.NoError(t, rt.Start(context.Background()))
	rt.Stop()

	rec, err := recorder.Open(path)
	require.NoError(t, err)
	defer rec.Close()
	// one started and one stopped event per thread
	assert.Equal(t, 8, rec.Count(recorder.BucketEvents))
}

func TestPushOperatorWithoutChannelSource(t *testing.T) {
	cfg := testConfig()
	cfg.Teleop.Enabled = false
	rt, err := NewRuntime(cfg)
	require.NoError(t, err)
	defer rt.Stop()
	assert.ErrorIs(t, rt.PushOperator(model.OperatorCommand{Active: true}), ErrNoOperatorInput)
	assert.Equal(t, model.HealthHealthy, rt.Health().Overall)
}

func TestStopBeforeStart(t *testing.T) {
	rt, err := NewRuntime(testConfig())
	require.NoError(t, err)
	rt.Stop()
	assert.Error(t, rt.Start(context.Background()))
}
