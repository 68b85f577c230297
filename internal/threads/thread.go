// Package threads runs the periodic workers of the autonomy runtime.
//
// A Thread drives one Worker at a fixed rate. Workers only talk to each
// other through ControlVariables; the runner reports lifecycle and
// deadline events to the orchestrator on a channel.
package threads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"QuadExplore/internal/metrics"
	"QuadExplore/internal/model"
)

// Worker is one control-cycle unit of work.
type Worker interface {
	Name() string
	Step(ctx context.Context) error
}

// State is a thread lifecycle state.
type State int32

const (
	Created State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// EventKind classifies thread events.
type EventKind int

const (
	EventStarted EventKind = iota
	EventDeadlineMiss
	EventStopped
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventDeadlineMiss:
		return "deadline_miss"
	case EventStopped:
		return "stopped"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is sent on the status channel. Err carries the cause of a miss or
// of an abnormal stop; it is nil for a requested stop.
type Event struct {
	Thread string
	Kind   EventKind
	Err    error
	Misses int
	At     time.Time
}

// Config controls a Thread's timing and failure policy.
type Config struct {
	Period            time.Duration
	MaxDeadlineMisses int
	RetryBudget       int
	Events            chan<- Event
	Metrics           *metrics.Registry
	Logger            *slog.Logger
}

// Status is a point-in-time view of a thread.
type Status struct {
	Name              string `json:"name"`
	State             string `json:"state"`
	Cycles            uint64 `json:"cycles"`
	Misses            uint64 `json:"misses"`
	ConsecutiveMisses int    `json:"consecutive_misses"`
	LastError         string `json:"last_error,omitempty"`
}

// ErrPanic wraps a value recovered from a worker step.
var ErrPanic = errors.New("worker panic")

// stopEventTimeout bounds how long a stopping thread waits on a full
// status channel.
const stopEventTimeout = time.Second

// Thread runs a Worker periodically.
type Thread struct {
	worker Worker
	cfg    Config
	log    *slog.Logger

	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	cycles atomic.Uint64
	misses atomic.Uint64

	mu          sync.Mutex
	consecutive int
	lastErr     error
}

// New creates a thread in the Created state.
func New(w Worker, cfg Config) *Thread {
	if cfg.Period <= 0 {
		cfg.Period = 100 * time.Millisecond
	}
	if cfg.MaxDeadlineMisses <= 0 {
		cfg.MaxDeadlineMisses = 5
	}
	if cfg.RetryBudget < 0 {
		cfg.RetryBudget = 0
	}
	l := cfg.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Thread{
		worker: w,
		cfg:    cfg,
		log:    l.With("component", w.Name()),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (t *Thread) Name() string { return t.worker.Name() }

func (t *Thread) State() State { return State(t.state.Load()) }

func (t *Thread) IsRunning() bool { return t.State() == Running }

// Done is closed once the thread has fully stopped.
func (t *Thread) Done() <-chan struct{} { return t.done }

// Status returns the thread's counters and last error.
func (t *Thread) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := Status{
		Name:              t.Name(),
		State:             t.State().String(),
		Cycles:            t.cycles.Load(),
		Misses:            t.misses.Load(),
		ConsecutiveMisses: t.consecutive,
	}
	if t.lastErr != nil {
		st.LastError = t.lastErr.Error()
	}
	return st
}

// Start launches the cycle loop. A thread can be started once.
func (t *Thread) Start(ctx context.Context) error {
	if !t.state.CompareAndSwap(int32(Created), int32(Running)) {
		return fmt.Errorf("thread %s: cannot start from state %s", t.Name(), t.State())
	}
	t.cfg.Metrics.ThreadState(t.Name(), int(Running))
	t.log.Info("thread started", "period", t.cfg.Period)
	t.emit(Event{Kind: EventStarted}, false)
	go t.run(ctx)
	return nil
}

// Stop requests the thread to stop and waits for the current cycle to
// finish. It is idempotent and safe from any goroutine except the
// thread's own worker.
func (t *Thread) Stop() {
	if t.state.CompareAndSwap(int32(Created), int32(Stopped)) {
		t.cfg.Metrics.ThreadState(t.Name(), int(Stopped))
		t.stopOnce.Do(func() { close(t.stop) })
		close(t.done)
		return
	}
	t.state.CompareAndSwap(int32(Running), int32(Stopping))
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.done
}

func (t *Thread) stopping() bool {
	select {
	case <-t.stop:
		return true
	default:
		return false
	}
}

func (t *Thread) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	var cause error
	defer func() {
		cancel()
		t.state.Store(int32(Stopped))
		t.cfg.Metrics.ThreadState(t.Name(), int(Stopped))
		if cause != nil {
			t.log.Error("thread stopped", "error", cause)
		} else {
			t.log.Info("thread stopped")
		}
		t.emit(Event{Kind: EventStopped, Err: cause}, true)
		close(t.done)
	}()
	go func() {
		select {
		case <-t.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(t.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		started := time.Now()
		err := t.cycle(ctx)
		elapsed := time.Since(started)
		if t.stopping() {
			return
		}
		if errors.Is(err, ErrPanic) {
			t.setErr(err)
			cause = err
			return
		}
		if err == nil && elapsed > t.cfg.Period {
			err = fmt.Errorf("%w: cycle took %s, period %s", model.ErrDeadlineMiss, elapsed, t.cfg.Period)
		}
		if err == nil {
			t.cycles.Add(1)
			t.cfg.Metrics.Cycle(t.Name())
			t.mu.Lock()
			t.consecutive = 0
			t.mu.Unlock()
			continue
		}

		n := t.miss(err)
		t.log.Warn("deadline miss", "consecutive", n, "error", err)
		t.emit(Event{Kind: EventDeadlineMiss, Err: err, Misses: n}, false)
		if n >= t.cfg.MaxDeadlineMisses {
			cause = fmt.Errorf("%w: %d consecutive misses: %w", model.ErrDeadlineMiss, n, err)
			return
		}
	}
}

// cycle runs one step, retrying transient conflicts within the budget.
func (t *Thread) cycle(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		err := t.step(ctx)
		if err == nil || !errors.Is(err, model.ErrTransient) {
			return err
		}
		if attempt >= t.cfg.RetryBudget || t.stopping() {
			return fmt.Errorf("retry budget exhausted after %d attempts: %w", attempt+1, err)
		}
	}
}

func (t *Thread) step(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return t.worker.Step(ctx)
}

func (t *Thread) miss(err error) int {
	t.misses.Add(1)
	t.cfg.Metrics.DeadlineMiss(t.Name())
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecutive++
	t.lastErr = err
	return t.consecutive
}

func (t *Thread) setErr(err error) {
	t.mu.Lock()
	t.lastErr = err
	t.mu.Unlock()
}

func (t *Thread) emit(ev Event, wait bool) {
	if t.cfg.Events == nil {
		return
	}
	ev.Thread = t.Name()
	ev.At = time.Now()
	if !wait {
		select {
		case t.cfg.Events <- ev:
		default:
		}
		return
	}
	timer := time.NewTimer(stopEventTimeout)
	defer timer.Stop()
	select {
	case t.cfg.Events <- ev:
	case <-timer.C:
		t.log.Warn("status channel full, dropping event", "event", ev.Kind.String())
	}
}
