package teleop

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"QuadExplore/internal/device"
	"QuadExplore/internal/model"
	"QuadExplore/internal/parser"
)

const readTimeout = 200 * time.Millisecond

// SerialSource reads operator lines from a Device and decodes them with
// the configured wire format.
type SerialSource struct {
	dev    device.Device
	parser parser.Parser
	out    *ChannelSource
	log    *slog.Logger
	now    func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewSerialSource starts reading from dev immediately.
func NewSerialSource(dev device.Device, p parser.Parser, logger *slog.Logger) *SerialSource {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SerialSource{
		dev:    dev,
		parser: p,
		out:    NewChannelSource(8),
		log:    logger.With("component", "teleop_serial"),
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// loop reads lines until Close or the device goes away.
func (s *SerialSource) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		line, err := s.dev.ReadLine(readTimeout)
		switch {
		case errors.Is(err, device.ErrTimeout):
			continue
		case errors.Is(err, device.ErrClosed):
			return
		case err != nil:
			s.log.Warn("read failed", "error", err)
			select {
			case <-s.stop:
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cmd, err := s.parser.DecodeCommand(line)
		if err != nil {
			s.log.Warn("decode failed", "error", err, "line", line)
			continue
		}
		// receipt time: operator clocks are not trusted
		cmd.Time = s.now()
		s.out.Push(cmd)
	}
}

func (s *SerialSource) Commands() <-chan model.OperatorCommand { return s.out.Commands() }

// Close stops the reader, closes the device and ends the stream.
func (s *SerialSource) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		err = s.dev.Close()
		s.wg.Wait()
		_ = s.out.Close()
	})
	return err
}
