package teleop

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuadExplore/internal/device"
	"QuadExplore/internal/model"
	"QuadExplore/internal/parser"
)

// fakeDevice serves queued lines and then times out until closed.
type fakeDevice struct {
	mu     sync.Mutex
	lines  []string
	closed chan struct{}
	once   sync.Once
}

func newFakeDevice(lines ...string) *fakeDevice {
	return &fakeDevice{lines: lines, closed: make(chan struct{})}
}

func (d *fakeDevice) ReadLine(timeout time.Duration) (string, error) {
	d.mu.Lock()
	if len(d.lines) > 0 {
		l := d.lines[0]
		d.lines = d.lines[1:]
		d.mu.Unlock()
		return l, nil
	}
	d.mu.Unlock()
	select {
	case <-d.closed:
		return "", device.ErrClosed
	case <-time.After(timeout):
		return "", device.ErrTimeout
	}
}

func (d *fakeDevice) WriteLine(string) error { return nil }

func (d *fakeDevice) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

func TestChannelSourceKeepsFreshest(t *testing.T) {
	s := NewChannelSource(2)
	for i := 1; i <= 5; i++ {
		assert.True(t, s.Push(model.OperatorCommand{VX: float64(i)}))
	}
	assert.Equal(t, 4.0, (<-s.Commands()).VX)
	assert.Equal(t, 5.0, (<-s.Commands()).VX)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.False(t, s.Push(model.OperatorCommand{}))
	_, ok := <-s.Commands()
	assert.False(t, ok)
}

func TestSerialSourceDecodesLines(t *testing.T) {
	dev := newFakeDevice("OP,1,0.5,0,0,0.2\n", "garbage\n", "\n", "OP,0,0,0,0,0\n")
	p, err := parser.Get("csv")
	require.NoError(t, err)
	s := NewSerialSource(dev, p, nil)
	defer s.Close()

	var got []model.OperatorCommand
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case c := <-s.Commands():
			got = append(got, c)
		case <-timeout:
			t.Fatal("timed out waiting for commands")
		}
	}
	assert.True(t, got[0].Active)
	assert.Equal(t, 0.5, got[0].VX)
	assert.Equal(t, 0.2, got[0].YawRate)
	assert.False(t, got[0].Time.IsZero())
	assert.False(t, got[1].Active)
}

func TestSerialSourceCloseEndsStream(t *testing.T) {
	p, err := parser.Get("json")
	require.NoError(t, err)
	s := NewSerialSource(newFakeDevice(), p, nil)
	require.NoError(t, s.Close())
	_, ok := <-s.Commands()
	assert.False(t, ok)
	assert.NoError(t, s.Close())
}
