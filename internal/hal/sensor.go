package hal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/LeonardoBeccarini/pot_waterer/internal/model/entities"
)

// MoistureSensor arms, samples and disarms one station at a time on the
// shared analog subsystem. The mutex plays the role of the interrupts-off
// window around channel configuration and keeps a single conversion in flight.
type MoistureSensor struct {
	board   Board
	conv    Converter
	retries int

	mu      sync.Mutex
	active  *entities.PlantStation
	powered bool
}

// NewMoistureSensor: retries is the number of extra conversion attempts
// after a failed one (0 = fail on the first error).
func NewMoistureSensor(b Board, retries int) *MoistureSensor {
	if retries < 0 {
		retries = 0
	}
	return &MoistureSensor{board: b, conv: b.Converter(), retries: retries}
}

// Arm powers the station's sensor and selects its channel.
// Arming the already armed station is a no-op.
func (s *MoistureSensor) Arm(ctx context.Context, st entities.PlantStation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		if s.active.ID == st.ID {
			return nil
		}
		return fmt.Errorf("arm %s (armed: %s): %w", st.ID, s.active.ID, ErrSensorBusy)
	}

	pin, err := s.board.Output(st.SensorEnable)
	if err != nil {
		return fmt.Errorf("arm %s: %w", st.ID, err)
	}
	if err := pin.Set(true); err != nil {
		return fmt.Errorf("arm %s: power sensor: %w", st.ID, err)
	}
	if err := s.conv.Select(st.ChannelSelect, st.SampleEnable); err != nil {
		_ = pin.Set(false)
		return fmt.Errorf("arm %s: %w", st.ID, err)
	}

	armed := st
	s.active = &armed
	s.powered = true
	return nil
}

// Read takes one sample from the armed station, blocking until the
// conversion completes. The sensor signal is raised for the conversion
// and dropped right after it.
func (s *MoistureSensor) Read(ctx context.Context) (entities.MoistureReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return 0, ErrNotArmed
	}
	st := s.active
	pin, err := s.board.Output(st.SensorEnable)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", st.ID, err)
	}
	if !s.powered {
		if err := pin.Set(true); err != nil {
			return 0, fmt.Errorf("read %s: power sensor: %w", st.ID, err)
		}
		s.powered = true
	}

	var raw int
	op := func() error {
		v, err := s.conv.Convert(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		raw = v
		return nil
	}
	err = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.retries)), ctx))

	if perr := pin.Set(false); perr == nil {
		s.powered = false
	} else if err == nil {
		err = perr
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", st.ID, err)
	}
	return entities.Clamp(raw), nil
}

// Disarm stops conversion, releases the sampling pin and powers the sensor down.
func (s *MoistureSensor) Disarm(_ context.Context, st entities.PlantStation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil || s.active.ID != st.ID {
		return fmt.Errorf("disarm %s: %w", st.ID, ErrNotArmed)
	}

	var errs []error
	if err := s.conv.Release(st.ChannelSelect, st.SampleEnable); err != nil {
		errs = append(errs, err)
	}
	if pin, err := s.board.Output(st.SensorEnable); err != nil {
		errs = append(errs, err)
	} else if err := pin.Set(false); err != nil {
		errs = append(errs, err)
	}
	s.active = nil
	s.powered = false

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("disarm %s: %w", st.ID, err)
	}
	return nil
}

// Active returns the armed station, if any.
func (s *MoistureSensor) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return "", false
	}
	return s.active.ID, true
}

func (s *MoistureSensor) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 3 * time.Second
	return bo
}
