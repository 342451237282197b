// Package waterer runs the inspect-and-water sequence on each plant station
// and repeats it every hour.
package waterer

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/LeonardoBeccarini/pot_waterer/internal/hal"
	"github.com/LeonardoBeccarini/pot_waterer/internal/metrics"
	"github.com/LeonardoBeccarini/pot_waterer/internal/model/entities"
	"github.com/LeonardoBeccarini/pot_waterer/internal/model/messages"
	"github.com/LeonardoBeccarini/pot_waterer/internal/services/event"
)

// MoistureSensor is implemented by hal.MoistureSensor.
type MoistureSensor interface {
	Arm(ctx context.Context, st entities.PlantStation) error
	Read(ctx context.Context) (entities.MoistureReading, error)
	Disarm(ctx context.Context, st entities.PlantStation) error
}

// Actuator is implemented by hal.Actuator.
type Actuator interface {
	OpenValve(st entities.PlantStation) error
	CloseValve(st entities.PlantStation) error
	SetIndicator(on bool) error
}

// Sleeper is implemented by timing.Service.
type Sleeper interface {
	SleepSeconds(ctx context.Context, n int) error
	SleepHours(ctx context.Context, h int) error
}

// Limits bound a single watering run. Zero disables a ceiling.
type Limits struct {
	MaxWateringDuration time.Duration
	MaxSamples          int
}

func DefaultLimits() Limits {
	return Limits{MaxWateringDuration: 15 * time.Minute, MaxSamples: 100000}
}

// Sequencer waters one station at a time:
// IDLE -> SENSOR_ARMED -> DRY_CHECK -> {DONE | WATERING} -> SENSOR_DISARMED -> IDLE.
type Sequencer struct {
	sensor MoistureSensor
	act    Actuator
	sleep  Sleeper
	limits Limits

	sink      event.Sink
	metrics   *metrics.Metrics
	now       func() time.Time
	heartbeat func()
	state     atomic.Int32

	closeRetries int
	closeBackOff func() backoff.BackOff
}

func NewSequencer(sensor MoistureSensor, act Actuator, sleep Sleeper, limits Limits) *Sequencer {
	return &Sequencer{
		sensor: sensor,
		act:    act,
		sleep:  sleep,
		limits: limits,
		sink:   event.NopSink{},
		now:    time.Now,

		closeRetries: 4,
		closeBackOff: defaultCloseBackOff,
	}
}

func defaultCloseBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = 5 * time.Second
	return bo
}

func (s *Sequencer) SetSink(sink event.Sink) {
	if sink != nil {
		s.sink = sink
	}
}

func (s *Sequencer) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// SetHeartbeat registers a callback run after every reading taken while watering.
func (s *Sequencer) SetHeartbeat(f func()) { s.heartbeat = f }

func (s *Sequencer) State() State { return State(s.state.Load()) }

func (s *Sequencer) setState(st State) { s.state.Store(int32(st)) }

// Water runs the full sequence for st and always leaves the sensor disarmed.
// A CAPPED run is not an error; hardware failures and cancellation are.
func (s *Sequencer) Water(ctx context.Context, st entities.PlantStation) (messages.WateringResultEvent, error) {
	res := messages.WateringResultEvent{
		StationID: st.ID,
		CycleID:   CycleFrom(ctx),
		StartedAt: s.now(),
	}
	err := s.run(ctx, st, &res)
	if err != nil {
		res.Status = messages.StatusFail
	}
	res.Timestamp = s.now()
	s.report(res, err)
	return res, err
}

func (s *Sequencer) run(ctx context.Context, st entities.PlantStation, res *messages.WateringResultEvent) error {
	s.setState(StateIdle)
	if err := s.sensor.Arm(ctx, st); err != nil {
		res.Reason = reasonFor(ctx, messages.ReasonSensorError)
		return fmt.Errorf("%s: arm: %w", st.ID, err)
	}
	s.setState(StateSensorArmed)

	err := s.inspect(ctx, st, res)

	s.setState(StateSensorDisarmed)
	if derr := s.sensor.Disarm(context.WithoutCancel(ctx), st); derr != nil {
		log.Printf("waterer: %s disarm: %v", st.ID, derr)
		if err == nil {
			res.Reason = messages.ReasonSensorError
			err = fmt.Errorf("%s: disarm: %w", st.ID, derr)
		}
	}
	s.setState(StateIdle)
	return err
}

func (s *Sequencer) inspect(ctx context.Context, st entities.PlantStation, res *messages.WateringResultEvent) error {
	m0, err := s.sensor.Read(ctx)
	if err != nil {
		res.Reason = reasonFor(ctx, messages.ReasonSensorError)
		return fmt.Errorf("%s: read: %w", st.ID, err)
	}
	s.metrics.Sample(st.ID, int(m0))
	res.InitialMoisture, res.FinalMoisture = int(m0), int(m0)

	s.setState(StateDryCheck)
	if !m0.IsDry() {
		s.setState(StateDone)
		res.Status, res.Reason = messages.StatusOK, messages.ReasonWet
		return nil
	}

	log.Printf("waterer: %s dry m0=%d, watering", st.ID, m0)
	s.setState(StateWatering)
	return s.water(ctx, st, res)
}

func (s *Sequencer) water(ctx context.Context, st entities.PlantStation, res *messages.WateringResultEvent) error {
	if err := s.act.OpenValve(st); err != nil {
		res.Reason = messages.ReasonValveError
		if cerr := s.closeValve(st); cerr != nil {
			log.Printf("waterer: %s close after failed open: %v", st.ID, cerr)
			return fmt.Errorf("%s: open valve: %w (close: %w)", st.ID, err, cerr)
		}
		return fmt.Errorf("%s: open valve: %w", st.ID, err)
	}
	opened := s.now()
	res.Watered = true
	s.metrics.ValveOpened(st.ID)
	s.emitValve(st, res.CycleID, entities.ValveOpen, res.InitialMoisture, 0, opened)

	err := s.soak(ctx, st, res, opened)

	if err == nil {
		if ierr := s.act.SetIndicator(false); ierr != nil {
			res.Reason = messages.ReasonValveError
			err = fmt.Errorf("%s: indicator: %w", st.ID, ierr)
		}
	}
	if err == nil {
		// l'acqua nel tubo finisce di scendere prima della chiusura
		if serr := s.sleep.SleepSeconds(ctx, 2); serr != nil {
			res.Reason = messages.ReasonCancelled
			err = fmt.Errorf("%s: drain: %w", st.ID, serr)
		}
	}
	if err != nil {
		if ierr := s.act.SetIndicator(false); ierr != nil {
			log.Printf("waterer: %s clear indicator: %v", st.ID, ierr)
		}
	}

	if cerr := s.closeValve(st); cerr != nil {
		log.Printf("waterer: %s close valve: %v", st.ID, cerr)
		res.Reason = messages.ReasonValveError
		if err != nil {
			return fmt.Errorf("%w (close: %w)", err, cerr)
		}
		return fmt.Errorf("%s: %w", st.ID, cerr)
	}
	closed := s.now()
	res.OpenFor = closed.Sub(opened)
	s.metrics.ValveClosed(st.ID, res.OpenFor.Seconds())
	s.emitValve(st, res.CycleID, entities.ValveClosed, res.FinalMoisture, res.OpenFor, closed)
	return err
}

// soak keeps the valve open and re-reads until the soil is wet or a ceiling trips.
// The first re-read always happens.
func (s *Sequencer) soak(ctx context.Context, st entities.PlantStation, res *messages.WateringResultEvent, opened time.Time) error {
	if err := s.sleep.SleepSeconds(ctx, 1); err != nil {
		res.Reason = messages.ReasonCancelled
		return fmt.Errorf("%s: settle: %w", st.ID, err)
	}
	for {
		if err := s.act.SetIndicator(true); err != nil {
			res.Reason = messages.ReasonValveError
			return fmt.Errorf("%s: indicator: %w", st.ID, err)
		}
		m, err := s.sensor.Read(ctx)
		if err != nil {
			res.Reason = reasonFor(ctx, messages.ReasonSensorError)
			return fmt.Errorf("%s: read: %w", st.ID, err)
		}
		res.Samples++
		res.FinalMoisture = int(m)
		s.metrics.Sample(st.ID, int(m))
		if s.heartbeat != nil {
			s.heartbeat()
		}

		if m.IsWet() {
			res.Status, res.Reason = messages.StatusOK, messages.ReasonDone
			return nil
		}
		if limit := s.limits.MaxSamples; limit > 0 && res.Samples >= limit {
			res.Status, res.Reason = messages.StatusCapped, messages.ReasonMaxSamples
			return nil
		}
		if limit := s.limits.MaxWateringDuration; limit > 0 && s.now().Sub(opened) >= limit {
			res.Status, res.Reason = messages.StatusCapped, messages.ReasonMaxDuration
			return nil
		}
	}
}

// closeValve retries a failed close without looking at ctx: a shutdown must
// still shut the water. Once retries are exhausted the error wraps hal.ErrValveStuck.
func (s *Sequencer) closeValve(st entities.PlantStation) error {
	bo := backoff.WithMaxRetries(s.closeBackOff(), uint64(s.closeRetries))
	if err := backoff.Retry(func() error { return s.act.CloseValve(st) }, bo); err != nil {
		return fmt.Errorf("close valve: %w: %w", hal.ErrValveStuck, err)
	}
	return nil
}

func (s *Sequencer) report(res messages.WateringResultEvent, err error) {
	switch {
	case err != nil:
		log.Printf("waterer: %s FAIL reason=%s: %v", res.StationID, res.Reason, err)
	case res.Watered:
		log.Printf("waterer: %s %s reason=%s m0=%d m=%d samples=%d open=%s",
			res.StationID, res.Status, res.Reason, res.InitialMoisture, res.FinalMoisture, res.Samples, res.OpenFor)
	}

	s.sink.Emit(event.FromWateringResult(res))

	switch {
	case res.Status == messages.StatusCapped:
		s.metrics.Capped(res.StationID, res.Reason)
		s.sink.Emit(event.Fault(res.StationID, res.CycleID, res.Reason, nil, res.Timestamp))
	case err != nil && res.Reason != messages.ReasonCancelled:
		s.metrics.HardwareError(res.StationID, res.Reason)
		s.sink.Emit(event.Fault(res.StationID, res.CycleID, res.Reason, err, res.Timestamp))
	}
}

func (s *Sequencer) emitValve(st entities.PlantStation, cycleID string, vs entities.ValveState, moisture int, openFor time.Duration, at time.Time) {
	s.sink.Emit(event.FromValveChange(messages.ValveStateChangedEvent{
		StationID: st.ID,
		CycleID:   cycleID,
		NewState:  vs,
		Moisture:  moisture,
		OpenFor:   openFor,
		Timestamp: at,
	}))
}

func reasonFor(ctx context.Context, reason string) string {
	if ctx.Err() != nil {
		return messages.ReasonCancelled
	}
	return reason
}
