package messages

import (
	"time"

	"github.com/LeonardoBeccarini/pot_waterer/internal/model/entities"
)

// ValveStateChangedEvent per apertura/chiusura della valvola di una stazione
type ValveStateChangedEvent struct {
	StationID string              `json:"station_id"`
	CycleID   string              `json:"cycle_id"`
	NewState  entities.ValveState `json:"new_state"`
	Moisture  int                 `json:"moisture"`           // ultima lettura al momento del cambio
	OpenFor   time.Duration       `json:"open_for,omitempty"` // solo in chiusura
	Timestamp time.Time           `json:"timestamp"`
}
