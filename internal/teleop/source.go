// Package teleop delivers operator commands to the TeleopOverride thread.
package teleop

import (
	"sync"

	"QuadExplore/internal/model"
)

// Source is a stream of operator commands.
type Source interface {
	Commands() <-chan model.OperatorCommand
	Close() error
}

// ChannelSource is an in-process Source fed with Push. When the buffer is
// full the oldest command is dropped so the freshest always gets through.
type ChannelSource struct {
	mu     sync.Mutex
	ch     chan model.OperatorCommand
	closed bool
}

// NewChannelSource creates a source buffering up to size commands.
func NewChannelSource(size int) *ChannelSource {
	if size < 1 {
		size = 1
	}
	return &ChannelSource{ch: make(chan model.OperatorCommand, size)}
}

// Push queues a command; it reports false after Close.
func (s *ChannelSource) Push(c model.OperatorCommand) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for {
		select {
		case s.ch <- c:
			return true
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

func (s *ChannelSource) Commands() <-chan model.OperatorCommand { return s.ch }

// Close ends the stream. It is idempotent.
func (s *ChannelSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}
