// Package device defines a line-oriented interface for operator links such
// as a serial radio, and its go.bug.st/serial implementation.
package device

import (
	"errors"
	"time"
)

var (
	// ErrTimeout is returned by ReadLine when no full line arrived in time.
	ErrTimeout = errors.New("read timeout")
	// ErrClosed is returned once the device has been closed.
	ErrClosed = errors.New("device closed")
)

// Device reads and writes newline-terminated lines.
type Device interface {
	// ReadLine reads a single line terminated by '\n'.
	// If timeout > 0, it returns ErrTimeout after timeout even if no data
	// is available.
	ReadLine(timeout time.Duration) (string, error)

	// WriteLine writes s followed by '\n' to the device.
	WriteLine(s string) error

	// Close closes the device and releases underlying resources.
	Close() error
}
