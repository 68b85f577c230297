package filter

import (
	"sync"
	"time"

	"github.com/brocaar/lorawan"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"QuadExplore/internal/model"
)

// RejectLowPriorityUnderCongestion drops low-priority traffic while the
// send bandwidth is above threshold.
func RejectLowPriorityUnderCongestion(threshold float64) Rule {
	return Rule{Name: "low_priority_under_congestion", Admit: func(m *model.Message, lc LinkContext) bool {
		return !(m.Priority == model.PriorityLow && lc.SendBandwidth > threshold)
	}}
}

// RejectBinaryUnderCongestion strips binary payloads above threshold.
func RejectBinaryUnderCongestion(threshold float64) Rule {
	return Rule{Name: "binary_under_congestion", Admit: func(m *model.Message, lc LinkContext) bool {
		return !(m.Binary && lc.SendBandwidth > threshold)
	}}
}

// RejectDuplicateIDs drops a message whose ID was admitted among the last
// window IDs.
func RejectDuplicateIDs(window int) Rule {
	if window < 1 {
		window = 1
	}
	var (
		mu   sync.Mutex
		seen = make(map[uuid.UUID]struct{}, window)
		ring = make([]uuid.UUID, 0, window)
		next int
	)
	return Rule{Name: "duplicate_id", Admit: func(m *model.Message, _ LinkContext) bool {
		mu.Lock()
		defer mu.Unlock()
		if _, dup := seen[m.ID]; dup {
			return false
		}
		if len(ring) < window {
			ring = append(ring, m.ID)
		} else {
			delete(seen, ring[next])
			ring[next] = m.ID
			next = (next + 1) % window
		}
		seen[m.ID] = struct{}{}
		return true
	}}
}

// RateLimitKind admits at most hz messages per second of one kind, with a
// burst of one. hz <= 0 disables the limit.
func RateLimitKind(kind string, hz float64) Rule {
	var lim *rate.Limiter
	if hz > 0 {
		lim = rate.NewLimiter(rate.Limit(hz), 1)
	}
	return Rule{Name: "rate_limit_" + kind, Admit: func(m *model.Message, lc LinkContext) bool {
		if lim == nil || m.Kind != kind {
			return true
		}
		return lim.AllowN(lc.Now, 1)
	}}
}

// RequireDomain admits only messages of the agent's mission domain.
func RequireDomain(domain string) Rule {
	return Rule{Name: "require_domain", Admit: func(m *model.Message, _ LinkContext) bool {
		return m.Domain == domain
	}}
}

// RejectOverBandwidth drops everything while the receive bandwidth is at
// or above threshold.
func RejectOverBandwidth(threshold float64) Rule {
	return Rule{Name: "over_bandwidth", Admit: func(_ *model.Message, lc LinkContext) bool {
		return lc.ReceiveBandwidth < threshold
	}}
}

// RejectStale drops messages created more than maxAge ago.
func RejectStale(maxAge time.Duration) Rule {
	return Rule{Name: "stale", Admit: func(m *model.Message, lc LinkContext) bool {
		return m.Created.IsZero() || lc.Now.Sub(m.Created) <= maxAge
	}}
}

type seqState struct {
	session uuid.UUID
	seq     uint64
}

// RejectReplayedSeq enforces strictly increasing sequence numbers per source
// within a session. A new session from the same source starts over.
func RejectReplayedSeq() Rule {
	var (
		mu   sync.Mutex
		last = map[lorawan.EUI64]seqState{}
	)
	return Rule{Name: "replayed_seq", Admit: func(m *model.Message, _ LinkContext) bool {
		mu.Lock()
		defer mu.Unlock()
		if prev, ok := last[m.Source]; ok && prev.session == m.Session && m.Seq <= prev.seq {
			return false
		}
		last[m.Source] = seqState{session: m.Session, seq: m.Seq}
		return true
	}}
}
