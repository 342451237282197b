// Package timing provides the blocking delays that pace the watering cycle.
package timing

import (
	"context"
	"time"

	"github.com/LeonardoBeccarini/pot_waterer/internal/hal"
)

// MaxSeconds is the first delay the countdown cannot express; requests at or
// above it return immediately without waiting.
const MaxSeconds = 120

// Service builds second and hour delays on one countdown timer.
type Service struct {
	timer  hal.Countdown
	second time.Duration
}

// New: second is the length of one delay unit (time.Second in production,
// shorter when the simulator runs accelerated).
func New(timer hal.Countdown, second time.Duration) *Service {
	if second <= 0 {
		second = time.Second
	}
	return &Service{timer: timer, second: second}
}

// SleepSeconds blocks for n seconds. Values outside [0, 120) do nothing.
func (s *Service) SleepSeconds(ctx context.Context, n int) error {
	if n < 0 || n >= MaxSeconds {
		return nil
	}
	return s.timer.Countdown(ctx, time.Duration(n)*s.second)
}

// SleepHours re-arms the one-minute delay 60*h times.
func (s *Service) SleepHours(ctx context.Context, h int) error {
	for i := h * 60; i > 0; i-- {
		if err := s.SleepSeconds(ctx, 60); err != nil {
			return err
		}
	}
	return nil
}
