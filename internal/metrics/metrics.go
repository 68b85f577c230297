// Package metrics exposes runtime counters through Prometheus.
//
// Every runtime owns its own registry, so several runtimes (or tests) can
// coexist in one process. All methods are safe on a nil *Registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups the runtime's collectors.
type Registry struct {
	reg *prometheus.Registry

	cycles          *prometheus.CounterVec
	deadlineMisses  *prometheus.CounterVec
	threadState     *prometheus.GaugeVec
	violations      *prometheus.CounterVec
	filterDecisions *prometheus.CounterVec
	health          prometheus.Gauge
	override        prometheus.Gauge
}

// New creates a registry with all runtime collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Registry{
		reg: reg,
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quadexplore_thread_cycles_total",
			Help: "Completed control cycles per thread.",
		}, []string{"thread"}),
		deadlineMisses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quadexplore_thread_deadline_misses_total",
			Help: "Cycles that overran their period or were skipped.",
		}, []string{"thread"}),
		threadState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "quadexplore_thread_state",
			Help: "Thread lifecycle state (0 created, 1 running, 2 stopping, 3 stopped).",
		}, []string{"thread"}),
		violations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quadexplore_contract_violations_total",
			Help: "Writes rejected by the control variables ownership table.",
		}, []string{"role"}),
		filterDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quadexplore_filter_decisions_total",
			Help: "Link filter decisions by filter, deciding predicate and result.",
		}, []string{"filter", "predicate", "result"}),
		health: f.NewGauge(prometheus.GaugeOpts{
			Name: "quadexplore_health",
			Help: "Overall health (0 healthy, 1 degraded, 2 stopped).",
		}),
		override: f.NewGauge(prometheus.GaugeOpts{
			Name: "quadexplore_override_active",
			Help: "1 while operator override is active.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry, mostly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

func (r *Registry) Cycle(thread string) {
	if r == nil {
		return
	}
	r.cycles.WithLabelValues(thread).Inc()
}

func (r *Registry) DeadlineMiss(thread string) {
	if r == nil {
		return
	}
	r.deadlineMisses.WithLabelValues(thread).Inc()
}

func (r *Registry) ThreadState(thread string, state int) {
	if r == nil {
		return
	}
	r.threadState.WithLabelValues(thread).Set(float64(state))
}

func (r *Registry) ContractViolation(role string) {
	if r == nil {
		return
	}
	r.violations.WithLabelValues(role).Inc()
}

// FilterDecision records one filter outcome; predicate is empty on admit.
func (r *Registry) FilterDecision(filter, predicate string, admitted bool) {
	if r == nil {
		return
	}
	result := "rejected"
	if admitted {
		result = "admitted"
	}
	r.filterDecisions.WithLabelValues(filter, predicate, result).Inc()
}

func (r *Registry) Health(level int) {
	if r == nil {
		return
	}
	r.health.Set(float64(level))
}

func (r *Registry) Override(active bool) {
	if r == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	r.override.Set(v)
}
