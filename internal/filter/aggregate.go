// Package filter decides which link messages may leave or enter the agent.
//
// A filter is an ordered list of named predicates joined by logical AND.
// Evaluation stops at the first rejection, so later predicates (including
// stateful ones) never see a message an earlier one dropped.
package filter

import (
	"sync"
	"time"

	"QuadExplore/internal/metrics"
	"QuadExplore/internal/model"
)

// LinkContext is the link state a predicate may consult.
type LinkContext struct {
	Domain           string
	SendBandwidth    float64 // bytes/s
	ReceiveBandwidth float64 // bytes/s
	Now              time.Time
}

// Predicate reports whether a message is admitted.
type Predicate func(m *model.Message, lc LinkContext) bool

// Rule is a named predicate.
type Rule struct {
	Name  string
	Admit Predicate
}

// Counts are per-rule decision totals.
type Counts struct {
	Admitted uint64 `json:"admitted"`
	Rejected uint64 `json:"rejected"`
}

// Aggregate evaluates rules in order.
type Aggregate struct {
	name    string
	rules   []Rule
	metrics *metrics.Registry

	mu    sync.Mutex
	stats map[string]*Counts
}

// NewAggregate builds a filter named name ("send", "receive") from rules.
func NewAggregate(name string, reg *metrics.Registry, rules ...Rule) *Aggregate {
	stats := make(map[string]*Counts, len(rules))
	for _, r := range rules {
		stats[r.Name] = &Counts{}
	}
	return &Aggregate{name: name, rules: rules, metrics: reg, stats: stats}
}

func (a *Aggregate) Name() string { return a.name }

// Admit runs the chain. On rejection it returns the deciding rule's name.
func (a *Aggregate) Admit(m *model.Message, lc LinkContext) (bool, string) {
	for _, r := range a.rules {
		ok := r.Admit(m, lc)
		a.mu.Lock()
		if ok {
			a.stats[r.Name].Admitted++
		} else {
			a.stats[r.Name].Rejected++
		}
		a.mu.Unlock()
		if !ok {
			a.metrics.FilterDecision(a.name, r.Name, false)
			return false, r.Name
		}
	}
	a.metrics.FilterDecision(a.name, "", true)
	return true, ""
}

// Stats returns a copy of the per-rule counters.
func (a *Aggregate) Stats() map[string]Counts {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]Counts, len(a.stats))
	for k, v := range a.stats {
		out[k] = *v
	}
	return out
}
