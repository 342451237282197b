package messages

import "time"

const (
	StatusOK     = "OK"
	StatusCapped = "CAPPED"
	StatusFail   = "FAIL"
)

const (
	ReasonWet         = "wet"          // first reading not dry, valve never opened
	ReasonDone        = "done"         // loop ended on a wet reading
	ReasonMaxDuration = "max_duration" // watering ceiling hit
	ReasonMaxSamples  = "max_samples"  // iteration cap hit
	ReasonSensorError = "sensor_error" // arm/read/disarm failed
	ReasonValveError  = "valve_error"  // open/close/indicator failed
	ReasonCancelled   = "cancelled"    // context cancelled mid-sequence
	ReasonBreakerOpen = "breaker_open" // station skipped this cycle
)

// WateringResultEvent è pubblicato dal sequencer al termine (o fallimento) del ciclo di una stazione.
type WateringResultEvent struct {
	StationID       string        `json:"station_id"`
	CycleID         string        `json:"cycle_id"`
	Status          string        `json:"status"` // "OK" | "CAPPED" | "FAIL"
	Reason          string        `json:"reason"`
	Watered         bool          `json:"watered"`          // valvola aperta in questo ciclo
	InitialMoisture int           `json:"initial_moisture"` // m0
	FinalMoisture   int           `json:"final_moisture"`   // ultima lettura
	Samples         int           `json:"samples"`          // letture dopo m0
	OpenFor         time.Duration `json:"open_for"`
	StartedAt       time.Time     `json:"started_at"`
	Timestamp       time.Time     `json:"timestamp"` // fine sequenza
}
