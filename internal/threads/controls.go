package threads

import (
	"context"
	"errors"
	"fmt"

	"QuadExplore/internal/algorithm"
	"QuadExplore/internal/containers"
	"QuadExplore/internal/control"
	"QuadExplore/internal/model"
	"QuadExplore/internal/platform"
)

// Controls turns the algorithm's proposal into actuation, lets an active
// operator override win, and applies the result to the platform.
type Controls struct {
	cv        *containers.ControlVariables
	algorithm algorithm.Algorithm
	law       *control.Law
	platform  platform.Platform

	clock uint64
}

func NewControls(cv *containers.ControlVariables, alg algorithm.Algorithm, law *control.Law, p platform.Platform) *Controls {
	return &Controls{cv: cv, algorithm: alg, law: law, platform: p}
}

func (c *Controls) Name() string { return model.RoleControls.String() }

// Step commits only after the platform accepted the command, so a retried
// cycle never advances the controls clock twice.
func (c *Controls) Step(ctx context.Context) error {
	snap := c.cv.Snapshot()
	next := c.clock + 1

	var auto model.Actuation
	if prop, ok := c.algorithm.ProposeCommand(snap, snap.Map); ok {
		auto = c.law.Compute(snap.Pose, prop)
	}
	auto.Source = model.SourceAutonomous
	auto.Cycle = next

	final := c.cv.Arbitrate(auto)
	if err := c.platform.ApplyActuation(ctx, final); err != nil {
		err = fmt.Errorf("apply actuation: %w", err)
		if errors.Is(err, model.ErrContractViolation) {
			return c.cv.Violation(model.RoleControls, err)
		}
		return err
	}
	c.clock = next

	txn := c.cv.Begin(model.RoleControls)
	if err := txn.Set(containers.FieldAutonomous, auto); err != nil {
		return err
	}
	if err := txn.Set(containers.FieldActuation, final); err != nil {
		return err
	}
	if err := txn.Set(containers.FieldControlsClock, next); err != nil {
		return err
	}
	txn.Commit()
	return nil
}
