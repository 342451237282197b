package messages

import "time"

// CycleCompletedEvent riassume un giro completo su tutte le stazioni.
type CycleCompletedEvent struct {
	CycleID    string                `json:"cycle_id"`
	Stations   int                   `json:"stations"`
	ValveOpens int                   `json:"valve_opens"`
	Skipped    []string              `json:"skipped,omitempty"` // stazioni saltate (breaker aperto)
	Results    []WateringResultEvent `json:"results"`
	StartedAt  time.Time             `json:"started_at"`
	Timestamp  time.Time             `json:"timestamp"`
}
