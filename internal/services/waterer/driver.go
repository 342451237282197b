package waterer

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/pot_waterer/internal/hal"
	"github.com/LeonardoBeccarini/pot_waterer/internal/metrics"
	"github.com/LeonardoBeccarini/pot_waterer/internal/model/entities"
	"github.com/LeonardoBeccarini/pot_waterer/internal/model/messages"
	"github.com/LeonardoBeccarini/pot_waterer/internal/services/event"
)

// Waterer is implemented by *Sequencer.
type Waterer interface {
	Water(ctx context.Context, st entities.PlantStation) (messages.WateringResultEvent, error)
}

// BreakerConfig: after Failures consecutive failed sequences a station is
// skipped until Timeout has passed, then the next cycle probes it once.
type BreakerConfig struct {
	Failures uint32
	Timeout  time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Failures: 3, Timeout: 2 * time.Hour}
}

// Driver services the stations in order, once per hour, forever.
type Driver struct {
	stations []entities.PlantStation
	seq      Waterer
	sleep    Sleeper
	breakers map[string]*gobreaker.CircuitBreaker

	sink    event.Sink
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string

	beat   atomic.Int64 // unix nano dell'ultimo progresso
	cycles atomic.Int64
}

func NewDriver(stations []entities.PlantStation, seq Waterer, sleep Sleeper, bc BreakerConfig, m *metrics.Metrics) *Driver {
	if bc.Failures == 0 {
		bc.Failures = DefaultBreakerConfig().Failures
	}
	if bc.Timeout <= 0 {
		bc.Timeout = DefaultBreakerConfig().Timeout
	}
	d := &Driver{
		stations: stations,
		seq:      seq,
		sleep:    sleep,
		breakers: make(map[string]*gobreaker.CircuitBreaker, len(stations)),
		sink:     event.NopSink{},
		metrics:  m,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, st := range stations {
		d.breakers[st.ID] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    st.ID,
			Timeout: bc.Timeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= bc.Failures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("waterer: breaker %s %s -> %s", name, from, to)
				d.metrics.BreakerState(name, int(to))
			},
		})
		m.BreakerState(st.ID, int(gobreaker.StateClosed))
	}
	// letture durante l'irrigazione contano come progresso del loop
	if hb, ok := seq.(interface{ SetHeartbeat(func()) }); ok {
		hb.SetHeartbeat(d.touch)
	}
	return d
}

func (d *Driver) SetSink(sink event.Sink) {
	if sink != nil {
		d.sink = sink
	}
}

// LastBeat is the last time the loop made progress (zero before the first cycle).
func (d *Driver) LastBeat() time.Time {
	n := d.beat.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (d *Driver) Cycles() int64 { return d.cycles.Load() }

func (d *Driver) touch() { d.beat.Store(d.now().UnixNano()) }

// RunCycle services every station once, in order. Station failures are
// recorded in the result; only cancellation and a valve that would not
// close (hal.ErrValveStuck) stop the cycle and are returned.
func (d *Driver) RunCycle(ctx context.Context) (messages.CycleCompletedEvent, error) {
	id := d.newID()
	ctx = WithCycle(ctx, id)
	d.touch()

	ev := messages.CycleCompletedEvent{
		CycleID:   id,
		Stations:  len(d.stations),
		Results:   make([]messages.WateringResultEvent, 0, len(d.stations)),
		StartedAt: d.now(),
	}

	for _, st := range d.stations {
		if err := ctx.Err(); err != nil {
			return ev, err
		}
		res, err := d.service(ctx, st)
		d.touch()

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			log.Printf("waterer: %s skipped, breaker open", st.ID)
			ev.Skipped = append(ev.Skipped, st.ID)
			d.metrics.Skipped(st.ID)
			d.sink.Emit(event.Fault(st.ID, id, messages.ReasonBreakerOpen, err, d.now()))
			continue
		}
		ev.Results = append(ev.Results, res)
		if res.Watered {
			ev.ValveOpens++
		}
		if errors.Is(err, hal.ErrValveStuck) {
			// nessun'altra stazione viene armata con una valvola aperta
			log.Printf("waterer: cycle %s aborted at %s: %v", id, st.ID, err)
			return ev, err
		}
		if ctx.Err() != nil {
			return ev, ctx.Err()
		}
	}

	ev.Timestamp = d.now()
	d.cycles.Add(1)
	d.metrics.CycleDone(float64(ev.Timestamp.Unix()))
	d.sink.Emit(event.FromCycle(ev))
	log.Printf("waterer: cycle %s done stations=%d valve_opens=%d skipped=%v in %s",
		id, ev.Stations, ev.ValveOpens, ev.Skipped, ev.Timestamp.Sub(ev.StartedAt))
	return ev, nil
}

// RunForever alternates RunCycle and a one-hour sleep until ctx is cancelled
// or a valve is stuck open.
func (d *Driver) RunForever(ctx context.Context) error {
	for {
		if _, err := d.RunCycle(ctx); err != nil {
			return err
		}
		if err := d.sleep.SleepHours(ctx, 1); err != nil {
			return err
		}
	}
}

func (d *Driver) service(ctx context.Context, st entities.PlantStation) (messages.WateringResultEvent, error) {
	cb, ok := d.breakers[st.ID]
	if !ok {
		return d.seq.Water(ctx, st)
	}
	out, err := cb.Execute(func() (interface{}, error) {
		return d.seq.Water(ctx, st)
	})
	res, _ := out.(messages.WateringResultEvent)
	return res, err
}
