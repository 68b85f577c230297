// Package algorithm holds the decision-making strategies that propose
// where the vehicle should go next.
package algorithm

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"QuadExplore/internal/grid"
	"QuadExplore/internal/model"
)

// Algorithm proposes at most one command per call.
type Algorithm interface {
	Name() string
	ProposeCommand(state model.Snapshot, m *grid.Snapshot) (model.CommandProposal, bool)
}

// Capabilities is what an algorithm may learn about its platform.
type Capabilities interface {
	Accuracy() float64
	MinSensorRange() float64
}

// Constructor builds an algorithm from its raw config section.
type Constructor func(opts model.Options, caps Capabilities) (Algorithm, error)

var (
	mu         sync.RWMutex
	algorithms = map[string]Constructor{}
)

// Register makes an algorithm kind available by name.
func Register(name string, c Constructor) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := algorithms[name]; dup {
		panic("algorithm: Register called twice for " + name)
	}
	algorithms[name] = c
}

// New constructs the algorithm registered under name.
func New(name string, opts model.Options, caps Capabilities) (Algorithm, error) {
	mu.RLock()
	c, ok := algorithms[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %s)", model.ErrUnknownAlgorithmKind, name, strings.Join(Kinds(), ", "))
	}
	if caps == nil {
		return nil, fmt.Errorf("algorithm %s: %w: platform required", name, model.ErrInvalidConfig)
	}
	a, err := c(opts, caps)
	if err != nil {
		return nil, fmt.Errorf("algorithm %s: %w", name, err)
	}
	return a, nil
}

// Kinds lists registered algorithm names in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(algorithms))
	for k := range algorithms {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
