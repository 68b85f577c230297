package link

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brocaar/lorawan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"QuadExplore/internal/model"
)

const domain = "Mosul Mission"

func testConfig() (model.LinkConfig, model.FiltersConfig) {
	return model.LinkConfig{Enabled: true, Domain: domain, AgentID: "0000000000000001"},
		model.FiltersConfig{
			Send:    model.SendFilterConfig{CongestionBytesPerSec: 1e6, DedupeWindow: 64},
			Receive: model.ReceiveFilterConfig{MaxBandwidthBytesPerSec: 1e6, MaxAgeMs: 2000},
		}
}

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	lc, fc := testConfig()
	s, err := NewServer(lc, fc, nil, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, "ws" + strings.TrimPrefix(ts.URL, "http") + Path
}

func dial(t *testing.T, s *Server, url, dom string) *Client {
	t.Helper()
	c, err := Dial(url, lorawan.EUI64{0, 0, 0, 0, 0, 0, 0, 9}, dom)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewServerRejectsBadAgentID(t *testing.T) {
	lc, fc := testConfig()
	lc.AgentID = "not-hex"
	_, err := NewServer(lc, fc, nil, nil)
	assert.ErrorIs(t, err, model.ErrConfiguration)
}

func TestPublishReachesPeers(t *testing.T) {
	s, url := startServer(t)
	c := dial(t, s, url, domain)
	require.Eventually(t, func() bool { return s.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Publish(model.KindPose, model.PriorityNormal, false, []byte(`{"seq":1}`)))
	m, err := c.Receive(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.KindPose, m.Kind)
	assert.Equal(t, domain, m.Domain)
	assert.Equal(t, s.Agent(), m.Source)
	assert.Equal(t, uint64(1), m.Seq)
	assert.JSONEq(t, `{"seq":1}`, string(m.Payload))
}

func TestCongestionDropsLowPriority(t *testing.T) {
	s, _ := startServer(t)
	s.sendBW.Add(time.Now(), 5e6)

	require.NoError(t, s.Publish(model.KindMap, model.PriorityLow, true, []byte("bits")))
	require.NoError(t, s.Publish(model.KindHealth, model.PriorityHigh, false, []byte("{}")))

	stats := s.FilterStats()["send"]
	assert.Equal(t, uint64(1), stats["low_priority_under_congestion"].Rejected)
	assert.Equal(t, uint64(1), stats["rate_limit_pose"].Admitted)
}

func TestInboundOperatorIsFiltered(t *testing.T) {
	s, url := startServer(t)
	got := make(chan model.OperatorCommand, 4)
	s.Handle(model.KindOperator, func(m model.Message) {
		var c model.OperatorCommand
		if json.Unmarshal(m.Payload, &c) == nil {
			got <- c
		}
	})

	payload, err := json.Marshal(model.OperatorCommand{Active: true, VX: 0.4})
	require.NoError(t, err)

	wrong := dial(t, s, url, "Other Mission")
	require.NoError(t, wrong.Send(model.KindOperator, model.PriorityHigh, payload))

	right := dial(t, s, url, domain)
	require.NoError(t, right.Send(model.KindOperator, model.PriorityHigh, payload))

	select {
	case c := <-got:
		assert.True(t, c.Active)
		assert.Equal(t, 0.4, c.VX)
	case <-time.After(2 * time.Second):
		t.Fatal("operator command not delivered")
	}
	assert.Eventually(t, func() bool {
		return s.FilterStats()["receive"]["require_domain"].Rejected == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, got, 0)
}

func TestDeliverDropsGarbageAndReplays(t *testing.T) {
	s, _ := startServer(t)
	calls := 0
	s.Handle(model.KindOperator, func(model.Message) { calls++ })

	require.Error(t, s.Deliver([]byte("not json")))

	m := model.NewMessage(lorawan.EUI64{7}, 3, model.KindOperator, model.PriorityHigh, nil)
	m.Domain = domain
	b, err := json.Marshal(m)
	require.NoError(t, err)
	assert.NoError(t, s.Deliver(b))
	err = s.Deliver(b)
	assert.ErrorIs(t, err, model.ErrLinkRejection)
	assert.Contains(t, err.Error(), "replayed_seq")
	assert.Equal(t, 1, calls)

	pose := model.NewMessage(lorawan.EUI64{7}, 4, model.KindPose, model.PriorityNormal, nil)
	pose.Domain = domain
	b, err = json.Marshal(pose)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Deliver(b), ErrNoHandler)
}

func TestReconnectedPeerStartsNewSession(t *testing.T) {
	s, url := startServer(t)
	got := make(chan model.OperatorCommand, 8)
	s.Handle(model.KindOperator, func(m model.Message) {
		var c model.OperatorCommand
		if json.Unmarshal(m.Payload, &c) == nil {
			got <- c
		}
	})
	receive := func() model.OperatorCommand {
		t.Helper()
		select {
		case c := <-got:
			return c
		case <-time.After(2 * time.Second):
			t.Fatal("operator command not delivered")
		}
		return model.OperatorCommand{}
	}

	raise, err := json.Marshal(model.OperatorCommand{Active: true, VX: 0.3})
	require.NoError(t, err)
	first := dial(t, s, url, domain)
	for i := 0; i < 3; i++ {
		require.NoError(t, first.Send(model.KindOperator, model.PriorityHigh, raise))
		assert.True(t, receive().Active)
	}
	require.NoError(t, first.Close())

	release, err := json.Marshal(model.OperatorCommand{Active: false})
	require.NoError(t, err)
	second := dial(t, s, url, domain)
	require.NoError(t, second.Send(model.KindOperator, model.PriorityHigh, release))
	assert.False(t, receive().Active)

	stats := s.FilterStats()["receive"]["replayed_seq"]
	assert.Equal(t, uint64(4), stats.Admitted)
	assert.Zero(t, stats.Rejected)
}

func TestListenAfterShutdownReturns(t *testing.T) {
	lc, fc := testConfig()
	lc.Addr = "127.0.0.1:0"
	s, err := NewServer(lc, fc, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Shutdown(context.Background()))

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ListenAndServe kept running after Shutdown")
	}
}
