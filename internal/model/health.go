package model

import "time"

// HealthLevel is the overall system status.
type HealthLevel string

const (
	HealthHealthy  HealthLevel = "healthy"
	HealthDegraded HealthLevel = "degraded"
	HealthStopped  HealthLevel = "stopped"
)

// Gauge maps the level onto the metrics scale.
func (h HealthLevel) Gauge() int {
	switch h {
	case HealthHealthy:
		return 0
	case HealthDegraded:
		return 1
	default:
		return 2
	}
}

// ThreadHealth is one thread's entry in a HealthReport.
type ThreadHealth struct {
	Name              string `json:"name"`
	State             string `json:"state"`
	Cycles            uint64 `json:"cycles"`
	Misses            uint64 `json:"misses"`
	ConsecutiveMisses int    `json:"consecutive_misses"`
	LastError         string `json:"last_error,omitempty"`
}

// HealthReport is what persistent failures surface as.
type HealthReport struct {
	Overall    HealthLevel    `json:"overall"`
	Threads    []ThreadHealth `json:"threads"`
	Violations uint64         `json:"contract_violations"`
	Override   bool           `json:"override"`
	Time       time.Time      `json:"time"`
}
