package waterer

import "context"

// State of the per-station sequence.
type State int32

const (
	StateIdle State = iota
	StateSensorArmed
	StateDryCheck
	StateWatering
	StateDone
	StateSensorDisarmed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSensorArmed:
		return "SENSOR_ARMED"
	case StateDryCheck:
		return "DRY_CHECK"
	case StateWatering:
		return "WATERING"
	case StateDone:
		return "DONE"
	case StateSensorDisarmed:
		return "SENSOR_DISARMED"
	}
	return "UNKNOWN"
}

type cycleKey struct{}

// WithCycle tags ctx with the ID of the cycle being run.
func WithCycle(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleKey{}, id)
}

func CycleFrom(ctx context.Context) string {
	id, _ := ctx.Value(cycleKey{}).(string)
	return id
}
