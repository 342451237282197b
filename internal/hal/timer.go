package hal

import (
	"context"
	"time"
)

// SystemTimer implements Countdown on the Go runtime timer.
type SystemTimer struct{}

func (SystemTimer) Countdown(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
