package containers

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuadExplore/internal/grid"
	"QuadExplore/internal/metrics"
	"QuadExplore/internal/model"
)

func TestSnapshotIsNeverTorn(t *testing.T) {
	cv := New()
	base := time.Unix(1000, 0)
	const cycles = 2000

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for n := 1; n <= cycles; n++ {
			txn := cv.Begin(model.RoleStateEstimation)
			assert.NoError(t, txn.Set(FieldTimestamp, base.Add(time.Duration(n)*time.Millisecond)))
			assert.NoError(t, txn.Set(FieldPose, model.Pose{Position: model.Vec3{float64(n), float64(-n), 1}}))
			assert.NoError(t, txn.Set(FieldSensors, model.SensorReadings{Seq: uint64(n)}))
			txn.Commit()
		}
	}()
	go func() {
		defer wg.Done()
		for n := uint64(1); n <= cycles; n++ {
			txn := cv.Begin(model.RoleControls)
			assert.NoError(t, txn.Set(FieldAutonomous, model.Actuation{VX: float64(n), Cycle: n}))
			assert.NoError(t, txn.Set(FieldActuation, model.Actuation{VX: float64(n), Cycle: n}))
			assert.NoError(t, txn.Set(FieldControlsClock, n))
			txn.Commit()
		}
	}()

	done := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				s := cv.Snapshot()
				seq := float64(s.Sensors.Seq)
				if s.Sensors.Seq > 0 {
					assert.Equal(t, seq, s.Pose.Position.X())
					assert.Equal(t, -seq, s.Pose.Position.Y())
					assert.Equal(t, base.Add(time.Duration(s.Sensors.Seq)*time.Millisecond), s.Timestamp)
				}
				assert.Equal(t, s.ControlsClock, s.Actuation.Cycle)
				assert.Equal(t, float64(s.ControlsClock), s.Autonomous.VX)
				select {
				case <-done:
					return
				default:
				}
			}
		}()
	}
	wg.Wait()
	close(done)
	readers.Wait()

	s := cv.Snapshot()
	assert.Equal(t, uint64(cycles), s.Sensors.Seq)
	assert.Equal(t, uint64(cycles), s.ControlsClock)
	assert.Equal(t, uint64(cycles), s.Commits[model.RoleStateEstimation])
	assert.Equal(t, uint64(cycles), s.Commits[model.RoleControls])
	assert.Equal(t, uint64(2*cycles), s.Seq)
}

func TestUnownedWriteIsDroppedAndCounted(t *testing.T) {
	reg := metrics.New()
	cv := New(WithMetrics(reg))

	err := cv.Update(model.RoleMapping, FieldPose, model.Pose{Position: model.Vec3{9, 9, 9}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrUnownedField))
	assert.True(t, errors.Is(err, model.ErrContractViolation))
	assert.Equal(t, uint64(1), cv.Violations())
	assert.Equal(t, model.Vec3{}, cv.Snapshot().Pose.Position)
	assert.Zero(t, cv.Snapshot().Seq)
}

func TestWrongTypeIsViolation(t *testing.T) {
	cv := New()
	err := cv.Update(model.RoleControls, FieldControlsClock, 3)
	assert.ErrorIs(t, err, model.ErrFieldType)
	assert.Equal(t, uint64(1), cv.Violations())
	assert.Zero(t, cv.Snapshot().ControlsClock)
}

func TestStrictModePanics(t *testing.T) {
	cv := New(WithStrict(true))
	assert.Panics(t, func() {
		_ = cv.Update(model.RoleTeleop, FieldActuation, model.Actuation{VX: 1})
	})
}

func TestFailedSetKeepsRestOfTxnAtomic(t *testing.T) {
	cv := New()
	txn := cv.Begin(model.RoleMapping)
	assert.Error(t, txn.Set(FieldOverride, true))
	m := grid.New(4, 4, 1).Snapshot()
	require.NoError(t, txn.Set(FieldMap, m))
	s := txn.Commit()
	assert.Same(t, m, s.Map)
	assert.False(t, s.Override)
}

func TestEmptyCommitPublishesNothing(t *testing.T) {
	cv := New()
	s := cv.Begin(model.RoleControls).Commit()
	assert.Zero(t, s.Seq)
	assert.False(t, cv.Dirty())
}

func TestOverrideDominatesAutonomous(t *testing.T) {
	cv := New()
	auto := model.Actuation{VX: 1, VY: 2, Cycle: 7}

	got := cv.Arbitrate(auto)
	assert.Equal(t, model.SourceAutonomous, got.Source)
	assert.Equal(t, 1.0, got.VX)

	cv.SetOverride(true, model.Actuation{VX: -0.5, YawRate: 0.2})
	got = cv.Arbitrate(auto)
	assert.Equal(t, model.SourceOperator, got.Source)
	assert.Equal(t, -0.5, got.VX)
	assert.Equal(t, 0.0, got.VY)
	assert.Equal(t, 0.2, got.YawRate)
	assert.Equal(t, uint64(7), got.Cycle)

	cv.SetOverride(false, model.Actuation{})
	assert.Equal(t, model.SourceAutonomous, cv.Arbitrate(auto).Source)
}

func TestSensorsAreCopiedOnSet(t *testing.T) {
	cv := New()
	r := model.SensorReadings{Seq: 1, Ranges: []model.Range{{Distance: 2}}}
	require.NoError(t, cv.Update(model.RoleStateEstimation, FieldSensors, r))
	r.Ranges[0].Distance = 99
	assert.Equal(t, 2.0, cv.Snapshot().Sensors.Ranges[0].Distance)
}

func TestModifyAndDirty(t *testing.T) {
	cv := New()
	assert.False(t, cv.Dirty())
	cv.Modify()
	assert.True(t, cv.Dirty())
	assert.False(t, cv.Dirty())
	require.NoError(t, cv.Update(model.RoleTeleop, FieldOverride, true))
	assert.True(t, cv.Dirty())
}

func TestOwner(t *testing.T) {
	assert.Equal(t, model.RoleStateEstimation, Owner(FieldPose))
	assert.Equal(t, model.RoleMapping, Owner(FieldMap))
	assert.Equal(t, model.RoleControls, Owner(FieldControlsClock))
	assert.Equal(t, model.RoleTeleop, Owner(FieldOperator))
	assert.Equal(t, "controls_clock", FieldControlsClock.String())
}
