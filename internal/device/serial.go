package device

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"

	serial "go.bug.st/serial"
)

type lineResult struct {
	line string
	err  error
}

// SerialDevice implements Device using go.bug.st/serial.
// One reader goroutine owns the port, so a timed-out ReadLine never loses
// the line that arrives afterwards.
type SerialDevice struct {
	port  io.ReadWriteCloser
	lines chan lineResult
	done  chan struct{}
	once  sync.Once
	wmu   sync.Mutex
	dev   string
}

// NewSerialDevice opens a serial device with the given path and baudrate.
func NewSerialDevice(dev string, baud int) (*SerialDevice, error) {
	p, err := serial.Open(dev, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial %s: %w", dev, err)
	}
	return newLineDevice(dev, p), nil
}

func newLineDevice(name string, port io.ReadWriteCloser) *SerialDevice {
	s := &SerialDevice{
		port:  port,
		lines: make(chan lineResult, 16),
		done:  make(chan struct{}),
		dev:   name,
	}
	go s.readLoop(bufio.NewReader(port))
	return s
}

func (s *SerialDevice) readLoop(r *bufio.Reader) {
	for {
		line, err := r.ReadString('\n')
		select {
		case s.lines <- lineResult{line, err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// ReadLine reads a single line from the serial port, blocking until newline or timeout.
func (s *SerialDevice) ReadLine(timeout time.Duration) (string, error) {
	select {
	case <-s.done:
		return "", ErrClosed
	default:
	}
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case res := <-s.lines:
		if res.err == io.EOF && res.line == "" {
			return "", ErrClosed
		}
		return res.line, res.err
	case <-s.done:
		return "", ErrClosed
	case <-expired:
		return "", ErrTimeout
	}
}

// WriteLine writes a single line followed by '\n' to the serial port.
func (s *SerialDevice) WriteLine(line string) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := s.port.Write(append([]byte(line), '\n'))
	return err
}

// Close closes the underlying serial connection. It is idempotent.
func (s *SerialDevice) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.port.Close()
	})
	return err
}

func (s *SerialDevice) String() string { return s.dev }
