package models

import "time"

// ParkingSpot is one named spot inside a snapshot.
type ParkingSpot struct {
	Name     string  `json:"name"`
	Occupied bool    `json:"occupied"`
	Distance float64 `json:"distance,omitempty"` // sensor reading, cm
}

// ParkingSnapshot is one complete view published by the remote store.
// SourceTimestampMillis is the producer clock at publish time, not receipt time.
// An empty Spots slice means "no data yet".
type ParkingSnapshot struct {
	Spots                 []ParkingSpot `json:"spots"`
	SourceTimestampMillis int64         `json:"source_timestamp_millis"`
}

// Clone returns a copy that shares no memory with s.
func (s ParkingSnapshot) Clone() ParkingSnapshot {
	out := ParkingSnapshot{SourceTimestampMillis: s.SourceTimestampMillis}
	if s.Spots != nil {
		out.Spots = make([]ParkingSpot, len(s.Spots))
		copy(out.Spots, s.Spots)
	}
	return out
}

// ConnectivityVerdict tells whether the remote is still reporting.
type ConnectivityVerdict string

const (
	Connected    ConnectivityVerdict = "CONNECTED"
	Disconnected ConnectivityVerdict = "DISCONNECTED"
)

// AggregateStatus is the single derived label shown to the user.
type AggregateStatus string

const (
	StatusLoading      AggregateStatus = "LOADING"
	StatusDisconnected AggregateStatus = "DISCONNECTED"
	StatusOpen         AggregateStatus = "OPEN"
	StatusFull         AggregateStatus = "FULL"
)

// Severity levels for status display.
const (
	SeverityInfo     = "info"
	SeverityOK       = "ok"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// StatusDisplay is the presentation hint attached to an AggregateStatus.
type StatusDisplay struct {
	Label    string `json:"label"`
	Color    string `json:"color"`
	Severity string `json:"severity"`
}

// Display maps a status to its label, color and severity.
func (s AggregateStatus) Display() StatusDisplay {
	switch s {
	case StatusDisconnected:
		return StatusDisplay{Label: "Sin conexión", Color: "#607D8B", Severity: SeverityWarning}
	case StatusOpen:
		return StatusDisplay{Label: "Estacionamiento Abierto", Color: "#4CAF50", Severity: SeverityOK}
	case StatusFull:
		return StatusDisplay{Label: "Estacionamiento Lleno", Color: "#F44336", Severity: SeverityCritical}
	default:
		return StatusDisplay{Label: "Cargando...", Color: "#9E9E9E", Severity: SeverityInfo}
	}
}

// StatusView is the atomically published result of one evaluation.
type StatusView struct {
	Status      AggregateStatus     `json:"status"`
	Display     StatusDisplay       `json:"display"`
	Verdict     ConnectivityVerdict `json:"verdict"`
	Snapshot    ParkingSnapshot     `json:"snapshot"`
	EvaluatedAt time.Time           `json:"evaluated_at"`
}
