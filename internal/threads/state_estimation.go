package threads

import (
	"context"
	"fmt"

	"QuadExplore/internal/containers"
	"QuadExplore/internal/estimation"
	"QuadExplore/internal/model"
	"QuadExplore/internal/platform"
)

// StateEstimation reads the platform sensors and publishes the fused pose.
type StateEstimation struct {
	platform platform.Platform
	cv       *containers.ControlVariables
	est      *estimation.Estimator
}

func NewStateEstimation(p platform.Platform, cv *containers.ControlVariables, est *estimation.Estimator) *StateEstimation {
	return &StateEstimation{platform: p, cv: cv, est: est}
}

func (s *StateEstimation) Name() string { return model.RoleStateEstimation.String() }

// Step writes Timestamp, Pose and Sensors as one cycle.
func (s *StateEstimation) Step(ctx context.Context) error {
	r, err := s.platform.ReadSensors(ctx)
	if err != nil {
		return fmt.Errorf("read sensors: %w", err)
	}
	pose, err := s.est.Fuse(r)
	if err != nil {
		return fmt.Errorf("fuse: %w", err)
	}
	txn := s.cv.Begin(model.RoleStateEstimation)
	if err := txn.Set(containers.FieldTimestamp, r.Time); err != nil {
		return err
	}
	if err := txn.Set(containers.FieldPose, pose); err != nil {
		return err
	}
	if err := txn.Set(containers.FieldSensors, r); err != nil {
		return err
	}
	txn.Commit()
	return nil
}
