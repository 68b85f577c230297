// Package platform abstracts the vehicle the runtime flies: a simulator
// or, by the same interface, real hardware.
package platform

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"QuadExplore/internal/model"
)

// Platform is the capability set the threads rely on.
type Platform interface {
	Name() string

	Arm(ctx context.Context) error
	Disarm(ctx context.Context) error
	Armed() bool
	Takeoff(ctx context.Context, altitude float64) error
	Land(ctx context.Context) error

	ReadSensors(ctx context.Context) (model.SensorReadings, error)
	ApplyActuation(ctx context.Context, a model.Actuation) error
	// TrueState is ground truth, for simulation and evaluation only.
	TrueState() model.Pose

	// MinSensorRange is the coverage sensor range in meters.
	MinSensorRange() float64
	// Accuracy is the position accuracy in meters.
	Accuracy() float64

	Close() error
}

// Constructor builds a platform from its raw config section.
type Constructor func(opts model.Options) (Platform, error)

var (
	mu        sync.RWMutex
	platforms = map[string]Constructor{}
)

// Register makes a platform kind available by name. Registering a name
// twice panics.
func Register(name string, c Constructor) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := platforms[name]; dup {
		panic("platform: Register called twice for " + name)
	}
	platforms[name] = c
}

// New constructs the platform registered under name.
func New(name string, opts model.Options) (Platform, error) {
	mu.RLock()
	c, ok := platforms[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %s)", model.ErrUnknownPlatformKind, name, strings.Join(Kinds(), ", "))
	}
	p, err := c(opts)
	if err != nil {
		return nil, fmt.Errorf("platform %s: %w", name, err)
	}
	return p, nil
}

// Kinds lists registered platform names in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(platforms))
	for k := range platforms {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
