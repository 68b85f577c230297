package platform

import (
	"sync/atomic"

	"QuadExplore/internal/model"
)

// xMutex is a non-blocking exclusive lock. A second holder gets
// ErrResourceBusy instead of waiting; that error wraps ErrTransient, so the
// thread runner retries the step within its budget rather than stalling a
// control cycle behind another caller.
type xMutex struct {
	held atomic.Bool
}

func (xm *xMutex) Lock() error {
	if !xm.held.CompareAndSwap(false, true) {
		return model.ErrResourceBusy
	}
	return nil
}

func (xm *xMutex) Unlock() { xm.held.Store(false) }
