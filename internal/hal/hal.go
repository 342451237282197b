// Package hal wraps the watering board behind small capability objects:
// digital outputs, the shared analog subsystem and the countdown timer.
// Backends: periph.io hardware (periph.go) and an in-process simulator (sim.go).
package hal

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSensorBusy        = errors.New("hal: another station is armed")
	ErrNotArmed          = errors.New("hal: station not armed")
	ErrStationNotActive  = errors.New("hal: valve refused, station is not the armed one")
	ErrUnknownPin        = errors.New("hal: unknown pin")
	ErrChannelOutOfRange = errors.New("hal: analog channel out of range")
	ErrNoChannel         = errors.New("hal: no analog channel selected")
	ErrValveStuck        = errors.New("hal: valve did not close")
)

// OutputPin is a single on/off digital output.
type OutputPin interface {
	Set(high bool) error
}

// Converter is the shared analog-to-digital subsystem.
// Select/Release must bracket Convert; only one conversion may be outstanding.
type Converter interface {
	Select(channel int, sampleEnable string) error
	// Convert starts one sample-and-convert and blocks until the
	// conversion-complete signal arrives or ctx is done.
	Convert(ctx context.Context) (int, error)
	Release(channel int, sampleEnable string) error
}

// Board is a hardware backend.
type Board interface {
	Output(name string) (OutputPin, error)
	Converter() Converter
	Close() error
}

// Countdown is the hardware countdown timer: it blocks until d elapses
// (compare-match) or ctx is done.
type Countdown interface {
	Countdown(ctx context.Context, d time.Duration) error
}

// ForceLow drives every named output low, ignoring unknown pins.
// Used at startup and shutdown so no valve is left open.
func ForceLow(b Board, names ...string) error {
	var errs []error
	for _, n := range names {
		p, err := b.Output(n)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := p.Set(false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
