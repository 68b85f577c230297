package model

import (
	"time"

	"github.com/brocaar/lorawan"
	"github.com/google/uuid"
)

// Priority ranks link messages for the send filter.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Message kinds exchanged over the link.
const (
	KindPose     = "pose"
	KindMap      = "map"
	KindHealth   = "health"
	KindOperator = "operator"
)

// Message is one unit handed to (or received from) the communication link.
// Seq counts up within a Session; a peer that reconnects starts a new one.
type Message struct {
	ID       uuid.UUID     `json:"id"`
	Source   lorawan.EUI64 `json:"source"`
	Session  uuid.UUID     `json:"session"`
	Seq      uint64        `json:"seq"`
	Kind     string        `json:"kind"`
	Priority Priority      `json:"priority"`
	Domain   string        `json:"domain"`
	Binary   bool          `json:"binary"`
	Payload  []byte        `json:"payload"`
	Created  time.Time     `json:"created"`
}

// NewMessage stamps a fresh message id and creation time.
func NewMessage(source lorawan.EUI64, seq uint64, kind string, prio Priority, payload []byte) Message {
	return Message{
		ID:       uuid.New(),
		Source:   source,
		Seq:      seq,
		Kind:     kind,
		Priority: prio,
		Payload:  payload,
		Created:  time.Now(),
	}
}

// Size approximates the on-link size in bytes.
func (m Message) Size() int {
	return len(m.Payload) + len(m.Kind) + len(m.Domain) + 48
}

// ParseAgentID decodes a hex LoRaWAN EUI64 used as the agent identity.
func ParseAgentID(s string) (lorawan.EUI64, error) {
	var id lorawan.EUI64
	if err := id.UnmarshalText([]byte(s)); err != nil {
		return id, err
	}
	return id, nil
}
