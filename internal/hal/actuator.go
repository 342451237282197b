package hal

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/LeonardoBeccarini/pot_waterer/internal/model/entities"
)

// ActiveStation reports which station currently owns the analog subsystem.
type ActiveStation interface {
	Active() (string, bool)
}

// Actuator drives the valves and the shared activity indicator.
// A valve can only be opened for the station that is currently armed.
type Actuator struct {
	board     Board
	owner     ActiveStation
	indicator string

	mu   sync.Mutex
	open map[string]string // station ID -> valve pin
}

func NewActuator(b Board, owner ActiveStation, indicator string) *Actuator {
	return &Actuator{
		board:     b,
		owner:     owner,
		indicator: indicator,
		open:      make(map[string]string),
	}
}

func (a *Actuator) OpenValve(st entities.PlantStation) error {
	if id, ok := a.owner.Active(); !ok || id != st.ID {
		return fmt.Errorf("open %s: %w", st.ID, ErrStationNotActive)
	}
	// una valvola rimasta aperta blocca tutte le altre
	if stuck := a.openOthers(st.ID); len(stuck) > 0 {
		return fmt.Errorf("open %s (still open: %v): %w", st.ID, stuck, ErrValveStuck)
	}
	pin, err := a.board.Output(st.Valve)
	if err != nil {
		return fmt.Errorf("open %s: %w", st.ID, err)
	}
	if err := pin.Set(true); err != nil {
		return fmt.Errorf("open %s: %w", st.ID, err)
	}
	a.mu.Lock()
	a.open[st.ID] = st.Valve
	a.mu.Unlock()
	return nil
}

func (a *Actuator) CloseValve(st entities.PlantStation) error {
	pin, err := a.board.Output(st.Valve)
	if err != nil {
		return fmt.Errorf("close %s: %w", st.ID, err)
	}
	if err := pin.Set(false); err != nil {
		return fmt.Errorf("close %s: %w", st.ID, err)
	}
	a.mu.Lock()
	delete(a.open, st.ID)
	a.mu.Unlock()
	return nil
}

// SetIndicator drives the watering-activity output; no-op when unwired.
func (a *Actuator) SetIndicator(on bool) error {
	if a.indicator == "" {
		return nil
	}
	pin, err := a.board.Output(a.indicator)
	if err != nil {
		return fmt.Errorf("indicator: %w", err)
	}
	return pin.Set(on)
}

// OpenValves lists stations whose valve was opened and not closed yet.
func (a *Actuator) OpenValves() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.open))
	for id := range a.open {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (a *Actuator) openOthers(id string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for other := range a.open {
		if other != id {
			out = append(out, other)
		}
	}
	sort.Strings(out)
	return out
}

// CloseAll closes every station's valve and clears the indicator.
func (a *Actuator) CloseAll(stations []entities.PlantStation) error {
	var errs []error
	for _, st := range stations {
		if err := a.CloseValve(st); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.SetIndicator(false); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
