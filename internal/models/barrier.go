package models

import "time"

// BarrierCommandState is owned by the barrier controller.
type BarrierCommandState int32

const (
	BarrierIdle BarrierCommandState = iota
	BarrierPulsing
	BarrierCoolingDown
)

func (s BarrierCommandState) String() string {
	switch s {
	case BarrierIdle:
		return "IDLE"
	case BarrierPulsing:
		return "PULSING"
	case BarrierCoolingDown:
		return "COOLING_DOWN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText keeps the JSON form readable.
func (s BarrierCommandState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Barrier event types.
const (
	BarrierEventAccepted           = "ACCEPTED"
	BarrierEventCompleted          = "COMPLETED"
	BarrierEventCommandWriteFailed = "COMMAND_WRITE_FAILED"
	BarrierEventAuditWriteFailed   = "AUDIT_WRITE_FAILED"
)

// BarrierEvent reports progress of a pulse to listeners.
type BarrierEvent struct {
	Type       string              `json:"type"`
	RequestID  string              `json:"request_id"`
	State      BarrierCommandState `json:"state"`
	OccurredAt time.Time           `json:"occurred_at"`
	Message    string              `json:"message,omitempty"`
}
