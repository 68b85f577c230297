package filter

import (
	"time"

	"QuadExplore/internal/metrics"
	"QuadExplore/internal/model"
)

// NewSendFilter builds the outbound chain.
func NewSendFilter(cfg model.SendFilterConfig, reg *metrics.Registry) *Aggregate {
	return NewAggregate("send", reg,
		RejectLowPriorityUnderCongestion(cfg.CongestionBytesPerSec),
		RejectBinaryUnderCongestion(cfg.CongestionBytesPerSec),
		RejectDuplicateIDs(cfg.DedupeWindow),
		RateLimitKind(model.KindPose, cfg.TelemetryRateHz),
	)
}

// NewReceiveFilter builds the inbound chain for an agent in domain.
func NewReceiveFilter(domain string, cfg model.ReceiveFilterConfig, reg *metrics.Registry) *Aggregate {
	return NewAggregate("receive", reg,
		RequireDomain(domain),
		RejectOverBandwidth(cfg.MaxBandwidthBytesPerSec),
		RejectStale(time.Duration(cfg.MaxAgeMs)*time.Millisecond),
		RejectReplayedSeq(),
	)
}
