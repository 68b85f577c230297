// Package core contains the orchestration layer of the QuadExplore runtime.
// A Runtime builds the platform and algorithm through their factories, owns
// every shared object, and runs the worker threads around them.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"QuadExplore/internal/algorithm"
	"QuadExplore/internal/app"
	"QuadExplore/internal/containers"
	"QuadExplore/internal/control"
	"QuadExplore/internal/device"
	"QuadExplore/internal/estimation"
	"QuadExplore/internal/grid"
	"QuadExplore/internal/link"
	"QuadExplore/internal/metrics"
	"QuadExplore/internal/model"
	"QuadExplore/internal/parser"
	"QuadExplore/internal/platform"
	"QuadExplore/internal/recorder"
	"QuadExplore/internal/teleop"
	"QuadExplore/internal/threads"
)

// ErrNoOperatorInput is returned by PushOperator when operator commands
// are not taken in-process.
var ErrNoOperatorInput = errors.New("operator input not accepted")

const (
	eventBuffer     = 64
	shutdownTimeout = 3 * time.Second
)

// Option customises a Runtime.
type Option func(*Runtime)

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option { return func(r *Runtime) { r.log = l } }

// WithTeleopSource replaces the configured operator input.
func WithTeleopSource(src teleop.Source) Option { return func(r *Runtime) { r.source = src } }

// WithEventHook is called by the monitor for every thread event.
func WithEventHook(h func(threads.Event)) Option { return func(r *Runtime) { r.hook = h } }

// Runtime wires platform, algorithm and threads around one ControlVariables.
type Runtime struct {
	cfg     *model.Config
	log     *slog.Logger
	metrics *metrics.Registry
	hook    func(threads.Event)

	platform  platform.Platform
	algorithm algorithm.Algorithm
	cv        *containers.ControlVariables
	source    teleop.Source
	link      *link.Server
	rec       *recorder.Recorder
	api       *app.App

	// threads in stop order
	threads []*threads.Thread
	events  chan threads.Event

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	quit    chan struct{}
	monitor chan struct{}
	servers chan struct{}
}

// NewRuntime validates cfg and constructs every component. A configuration
// error aborts before any thread exists.
func NewRuntime(cfg *model.Config, opts ...Option) (rt *Runtime, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", model.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Runtime{
		cfg:     cfg,
		metrics: metrics.New(),
		events:  make(chan threads.Event, eventBuffer),
		quit:    make(chan struct{}),
		monitor: make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	r.log = r.log.With("component", "runtime")
	defer func() {
		if err != nil {
			r.release()
		}
	}()

	if r.platform, err = platform.New(cfg.Platform, cfg.PlatformOptions); err != nil {
		return nil, err
	}
	if r.algorithm, err = algorithm.New(cfg.Algorithm, cfg.AlgorithmOptions, r.platform); err != nil {
		return nil, err
	}

	r.cv = containers.New(
		containers.WithStrict(cfg.StrictContracts),
		containers.WithMetrics(r.metrics),
		containers.WithLogger(r.log),
	)

	if cfg.Link.Enabled {
		if r.link, err = link.NewServer(cfg.Link, cfg.Filters, r.metrics, r.log); err != nil {
			return nil, err
		}
	}
	if cfg.Teleop.Enabled && r.source == nil {
		if r.source, err = r.buildSource(); err != nil {
			return nil, err
		}
	}
	if r.link != nil {
		r.link.Handle(model.KindOperator, r.handleOperator)
	}
	if cfg.Recorder.Path != "" {
		if r.rec, err = recorder.Open(cfg.Recorder.Path); err != nil {
			return nil, err
		}
	}
	r.api = app.NewApp(r, r.rec, r.metrics.Handler(), r.log)

	r.buildThreads()
	r.log.Info("runtime ready",
		"platform", r.platform.Name(), "algorithm", r.algorithm.Name(),
		"teleop", cfg.Teleop.Enabled, "link", cfg.Link.Enabled, "threads", len(r.threads))
	return r, nil
}

func (r *Runtime) buildSource() (teleop.Source, error) {
	switch r.cfg.Teleop.Source {
	case "serial":
		p, err := parser.Get(r.cfg.Teleop.WireFormat)
		if err != nil {
			return nil, err
		}
		dev, err := device.NewSerialDevice(r.cfg.Teleop.Device, r.cfg.Teleop.Baud)
		if err != nil {
			return nil, fmt.Errorf("teleop device: %w", err)
		}
		return teleop.NewSerialSource(dev, p, r.log), nil
	case "link":
		return teleop.NewChannelSource(8), nil
	default:
		return nil, nil
	}
}

func (r *Runtime) buildThreads() {
	cfg := r.cfg
	tc := func(hz float64) threads.Config {
		return threads.Config{
			Period:            model.Period(hz),
			MaxDeadlineMisses: cfg.Threads.MaxDeadlineMisses,
			RetryBudget:       cfg.Threads.RetryBudget,
			Events:            r.events,
			Metrics:           r.metrics,
			Logger:            r.log,
		}
	}

	var estOpts []estimation.Option
	if cfg.UseGPS {
		estOpts = append(estOpts, estimation.WithGPS())
	}
	se := threads.NewStateEstimation(r.platform, r.cv, estimation.NewEstimator(estOpts...))
	g := grid.New(cfg.Mapping.WidthCells, cfg.Mapping.HeightCells, cfg.Mapping.ResolutionM)
	mp := threads.NewMapping(r.cv, g, time.Duration(cfg.Mapping.MaxPoseAgeMs)*time.Millisecond)
	law := control.NewLaw(control.GainsFrom(cfg.Controls), model.Period(cfg.Threads.ControlsHz))
	ctl := threads.NewControls(r.cv, r.algorithm, law, r.platform)

	if cfg.Teleop.Enabled {
		to := threads.NewTeleopOverride(r.cv, r.source, time.Duration(cfg.Teleop.TimeoutMs)*time.Millisecond, r.metrics, r.log)
		r.threads = append(r.threads, threads.New(to, tc(cfg.Threads.TeleopHz)))
	}
	r.threads = append(r.threads,
		threads.New(ctl, tc(cfg.Threads.ControlsHz)),
		threads.New(mp, tc(cfg.Threads.MappingHz)),
	)
	if cfg.Threads.TelemetryHz > 0 {
		var pub threads.Publisher
		if r.link != nil {
			pub = r.link
		}
		var rec threads.Recorder
		if r.rec != nil {
			rec = r.rec
		}
		tm := threads.NewTelemetry(r.cv, pub, rec, func() any { return r.Health() }, r.log)
		r.threads = append(r.threads, threads.New(tm, tc(cfg.Threads.TelemetryHz)))
	}
	r.threads = append(r.threads, threads.New(se, tc(cfg.Threads.StateEstimationHz)))
}

// handleOperator feeds an operator frame from the link into the teleop
// source.
func (r *Runtime) handleOperator(m model.Message) {
	var c model.OperatorCommand
	if err := json.Unmarshal(m.Payload, &c); err != nil {
		r.log.Warn("bad operator frame", "source", m.Source.String(), "error", err)
		return
	}
	c.Time = time.Now()
	if err := r.PushOperator(c); err != nil {
		r.log.Debug("operator frame ignored", "error", err)
	}
}

// Start arms the platform, takes off and starts every thread. The servers
// run until Stop.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return errors.New("runtime already stopped")
	}
	if r.started {
		return nil
	}

	if err := r.platform.Arm(ctx); err != nil {
		return fmt.Errorf("arm %s: %w", r.platform.Name(), err)
	}
	if err := r.platform.Takeoff(ctx, r.cfg.Controls.TakeoffAltitude); err != nil {
		_ = r.platform.Disarm(ctx)
		return fmt.Errorf("takeoff %s: %w", r.platform.Name(), err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	go r.monitorLoop()

	// state estimation first so the other threads see a pose early
	for i := len(r.threads) - 1; i >= 0; i-- {
		if err := r.threads[i].Start(runCtx); err != nil {
			r.log.Error("thread start failed", "thread", r.threads[i].Name(), "error", err)
		}
	}

	g := &errgroup.Group{}
	if r.link != nil {
		g.Go(r.link.ListenAndServe)
	}
	if addr := r.cfg.API.Addr; addr != "" {
		g.Go(func() error { return r.api.Start(addr) })
	}
	r.servers = make(chan struct{})
	go func() {
		defer close(r.servers)
		if err := g.Wait(); err != nil {
			r.log.Error("server stopped", "error", err)
		}
	}()

	r.started = true
	r.log.Info("runtime started", "takeoff_altitude", r.cfg.Controls.TakeoffAltitude)
	return nil
}

// Stop stops every thread, then lands and releases the platform, the link,
// the teleop source and the recorder. It is idempotent.
func (r *Runtime) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.stopped = true

	for _, t := range r.threads {
		t.Stop()
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.started {
		close(r.quit)
		<-r.monitor
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if r.started {
		if err := r.platform.Land(ctx); err != nil {
			r.log.Warn("land failed", "error", err)
		}
		if err := r.platform.Disarm(ctx); err != nil {
			r.log.Warn("disarm failed", "error", err)
		}
	}
	if r.link != nil {
		if err := r.link.Shutdown(ctx); err != nil {
			r.log.Warn("link shutdown", "error", err)
		}
	}
	r.api.Stop(ctx)
	if r.servers != nil {
		select {
		case <-r.servers:
		case <-ctx.Done():
			r.log.Warn("servers did not stop in time")
		}
	}
	r.release()
	r.log.Info("runtime stopped")
}

// release closes the owned resources that need it.
func (r *Runtime) release() {
	if r.platform != nil {
		if err := r.platform.Close(); err != nil {
			r.log.Warn("platform close", "error", err)
		}
	}
	if r.source != nil {
		if err := r.source.Close(); err != nil {
			r.log.Warn("teleop source close", "error", err)
		}
	}
	if r.rec != nil {
		if err := r.rec.Close(); err != nil {
			r.log.Warn("recorder close", "error", err)
		}
	}
}

type eventRecord struct {
	Thread string    `json:"thread"`
	Kind   string    `json:"kind"`
	Error  string    `json:"error,omitempty"`
	Misses int       `json:"misses,omitempty"`
	At     time.Time `json:"at"`
}

func (r *Runtime) monitorLoop() {
	defer close(r.monitor)
	for {
		select {
		case ev := <-r.events:
			r.observe(ev)
		case <-r.quit:
			for {
				select {
				case ev := <-r.events:
					r.observe(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Runtime) observe(ev threads.Event) {
	switch {
	case ev.Kind == threads.EventStopped && ev.Err != nil:
		r.log.Error("thread failed", "thread", ev.Thread, "error", ev.Err)
	case ev.Kind == threads.EventDeadlineMiss:
		r.log.Debug("thread missed deadline", "thread", ev.Thread, "consecutive", ev.Misses)
	default:
		r.log.Info("thread event", "thread", ev.Thread, "event", ev.Kind.String())
	}
	if r.rec != nil && ev.Kind != threads.EventDeadlineMiss {
		rec := eventRecord{Thread: ev.Thread, Kind: ev.Kind.String(), Misses: ev.Misses, At: ev.At}
		if ev.Err != nil {
			rec.Error = ev.Err.Error()
		}
		if err := r.rec.Record(recorder.BucketEvents, rec); err != nil {
			r.log.Warn("record event failed", "error", err)
		}
	}
	r.metrics.Health(r.Health().Overall.Gauge())
	if r.hook != nil {
		r.hook(ev)
	}
}

// Health summarises thread state. Any stopped thread or a thread currently
// missing deadlines degrades the system; all threads stopped means stopped.
func (r *Runtime) Health() model.HealthReport {
	rep := model.HealthReport{
		Overall:    model.HealthHealthy,
		Violations: r.cv.Violations(),
		Override:   r.cv.Snapshot().Override,
		Time:       time.Now(),
	}
	stopped := 0
	for _, t := range r.threads {
		st := t.Status()
		rep.Threads = append(rep.Threads, model.ThreadHealth(st))
		if t.State() == threads.Stopped {
			stopped++
			rep.Overall = model.HealthDegraded
		}
		if st.ConsecutiveMisses > 0 {
			rep.Overall = model.HealthDegraded
		}
	}
	if len(r.threads) > 0 && stopped == len(r.threads) {
		rep.Overall = model.HealthStopped
	}
	return rep
}

// Snapshot returns the current shared state.
func (r *Runtime) Snapshot() model.Snapshot { return r.cv.Snapshot() }

// Metrics exposes the runtime's metric registry.
func (r *Runtime) Metrics() *metrics.Registry { return r.metrics }

// Link returns the link server, nil when the link is disabled.
func (r *Runtime) Link() *link.Server { return r.link }

// PushOperator hands an operator command to TeleopOverride. It needs an
// in-process teleop source.
func (r *Runtime) PushOperator(c model.OperatorCommand) error {
	cs, ok := r.source.(*teleop.ChannelSource)
	if !ok {
		return ErrNoOperatorInput
	}
	if !cs.Push(c) {
		return fmt.Errorf("%w: teleop source closed", ErrNoOperatorInput)
	}
	return nil
}
