// Package containers holds ControlVariables, the single shared mutable
// state of the runtime.
//
// Every field has exactly one owning role. A writer stages its fields in a
// Txn and commits them under one critical section, so readers see either
// all or none of a writer's cycle. Readers take copies with Snapshot and
// never hold the lock across their own work.
package containers

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"QuadExplore/internal/grid"
	"QuadExplore/internal/metrics"
	"QuadExplore/internal/model"
)

// Field names a logical field of the shared state.
type Field int

const (
	FieldTimestamp Field = iota
	FieldPose
	FieldSensors
	FieldMap
	FieldAutonomous
	FieldActuation
	FieldControlsClock
	FieldOverride
	FieldOperator
	fieldCount
)

var fieldNames = [fieldCount]string{
	"timestamp", "pose", "sensors", "map", "autonomous", "actuation",
	"controls_clock", "override", "operator",
}

func (f Field) String() string {
	if f < 0 || f >= fieldCount {
		return fmt.Sprintf("Field(%d)", int(f))
	}
	return fieldNames[f]
}

// owners is the field ownership table.
var owners = [fieldCount]model.Role{
	FieldTimestamp:     model.RoleStateEstimation,
	FieldPose:          model.RoleStateEstimation,
	FieldSensors:       model.RoleStateEstimation,
	FieldMap:           model.RoleMapping,
	FieldAutonomous:    model.RoleControls,
	FieldActuation:     model.RoleControls,
	FieldControlsClock: model.RoleControls,
	FieldOverride:      model.RoleTeleop,
	FieldOperator:      model.RoleTeleop,
}

// Owner returns the role allowed to write f.
func Owner(f Field) model.Role { return owners[f] }

// ControlVariables is the shared control-state container.
type ControlVariables struct {
	mu    sync.RWMutex
	state model.Snapshot
	dirty bool

	strict     bool
	violations atomic.Uint64
	metrics    *metrics.Registry
	log        *slog.Logger
}

// Option configures ControlVariables.
type Option func(*ControlVariables)

// WithStrict makes contract violations panic (development builds).
func WithStrict(strict bool) Option { return func(cv *ControlVariables) { cv.strict = strict } }

// WithMetrics reports violations to reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(cv *ControlVariables) { cv.metrics = reg }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option { return func(cv *ControlVariables) { cv.log = l } }

// New creates an empty container.
func New(opts ...Option) *ControlVariables {
	cv := &ControlVariables{log: slog.Default()}
	for _, o := range opts {
		o(cv)
	}
	cv.state.Actuation.Source = model.SourceNone
	return cv
}

// Snapshot returns a consistent copy of the whole state.
func (cv *ControlVariables) Snapshot() model.Snapshot {
	cv.mu.RLock()
	defer cv.mu.RUnlock()
	return cv.state
}

// Violations returns how many contract violations were dropped.
func (cv *ControlVariables) Violations() uint64 { return cv.violations.Load() }

// Violation applies the contract policy to a violation found outside the
// container, such as actuating a disarmed platform: it is counted and
// returned, or it panics in strict mode.
func (cv *ControlVariables) Violation(role model.Role, err error) error {
	return cv.violation(role, err)
}

func (cv *ControlVariables) violation(role model.Role, err error) error {
	cv.violations.Add(1)
	cv.metrics.ContractViolation(role.String())
	cv.log.Warn("contract violation", "component", "control_variables", "role", role.String(), "error", err)
	if cv.strict {
		panic(err)
	}
	return err
}

// Txn stages one writer's updates for an atomic commit.
type Txn struct {
	cv   *ControlVariables
	role model.Role
	ops  []func(*model.Snapshot)
}

// Begin starts a transaction for role.
func (cv *ControlVariables) Begin(role model.Role) *Txn {
	return &Txn{cv: cv, role: role}
}

// Set stages field f. Writing a field the role does not own, or a value of
// the wrong type, is a contract violation and the write is dropped.
func (t *Txn) Set(f Field, v any) error {
	if f < 0 || f >= fieldCount {
		return t.cv.violation(t.role, fmt.Errorf("%w: %s", model.ErrUnownedField, f))
	}
	if owners[f] != t.role {
		return t.cv.violation(t.role, fmt.Errorf("%w: %s cannot write %s", model.ErrUnownedField, t.role, f))
	}
	op, ok := setter(f, v)
	if !ok {
		return t.cv.violation(t.role, fmt.Errorf("%w: %s got %T", model.ErrFieldType, f, v))
	}
	t.ops = append(t.ops, op)
	return nil
}

// Commit publishes every staged field at once and returns the resulting
// snapshot. An empty transaction publishes nothing.
func (t *Txn) Commit() model.Snapshot {
	cv := t.cv
	cv.mu.Lock()
	defer cv.mu.Unlock()
	if len(t.ops) == 0 {
		return cv.state
	}
	for _, op := range t.ops {
		op(&cv.state)
	}
	cv.state.Seq++
	cv.state.Commits[t.role]++
	cv.dirty = true
	t.ops = nil
	return cv.state
}

// Update writes a single field as its own cycle.
func (cv *ControlVariables) Update(role model.Role, f Field, v any) error {
	t := cv.Begin(role)
	if err := t.Set(f, v); err != nil {
		return err
	}
	t.Commit()
	return nil
}

// SetOverride is the TeleopOverride write: flag and operator command land
// together.
func (cv *ControlVariables) SetOverride(active bool, operator model.Actuation) {
	operator.Source = model.SourceOperator
	t := cv.Begin(model.RoleTeleop)
	_ = t.Set(FieldOverride, active)
	_ = t.Set(FieldOperator, operator)
	t.Commit()
}

// Arbitrate resolves what Controls may send to the platform. While override
// is active the operator command dominates the autonomous proposal.
func (cv *ControlVariables) Arbitrate(autonomous model.Actuation) model.Actuation {
	cv.mu.RLock()
	defer cv.mu.RUnlock()
	if cv.state.Override {
		out := cv.state.Operator
		out.Source = model.SourceOperator
		out.Cycle = autonomous.Cycle
		return out
	}
	autonomous.Source = model.SourceAutonomous
	return autonomous
}

// Modify marks the whole state as changed so publishers resend it.
func (cv *ControlVariables) Modify() {
	cv.mu.Lock()
	cv.dirty = true
	cv.mu.Unlock()
}

// Dirty reports whether anything changed since the previous call.
func (cv *ControlVariables) Dirty() bool {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	d := cv.dirty
	cv.dirty = false
	return d
}

func setter(f Field, v any) (func(*model.Snapshot), bool) {
	switch f {
	case FieldTimestamp:
		ts, ok := v.(time.Time)
		return func(s *model.Snapshot) { s.Timestamp = ts }, ok
	case FieldPose:
		p, ok := v.(model.Pose)
		return func(s *model.Snapshot) { s.Pose = p }, ok
	case FieldSensors:
		r, ok := v.(model.SensorReadings)
		r = r.Clone()
		return func(s *model.Snapshot) { s.Sensors = r }, ok
	case FieldMap:
		m, ok := v.(*grid.Snapshot)
		return func(s *model.Snapshot) { s.Map = m }, ok
	case FieldAutonomous:
		a, ok := v.(model.Actuation)
		return func(s *model.Snapshot) { s.Autonomous = a }, ok
	case FieldActuation:
		a, ok := v.(model.Actuation)
		return func(s *model.Snapshot) { s.Actuation = a }, ok
	case FieldControlsClock:
		c, ok := v.(uint64)
		return func(s *model.Snapshot) { s.ControlsClock = c }, ok
	case FieldOverride:
		b, ok := v.(bool)
		return func(s *model.Snapshot) { s.Override = b }, ok
	case FieldOperator:
		a, ok := v.(model.Actuation)
		return func(s *model.Snapshot) { s.Operator = a }, ok
	}
	return nil, false
}
