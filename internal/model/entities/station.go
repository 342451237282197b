package entities

// ValveState indicates whether a station's solenoid valve is open or closed.
type ValveState string

const (
	ValveClosed ValveState = "closed"
	ValveOpen   ValveState = "open"
)

// PlantStation is the set of signal assignments for one pot.
// The set of stations is fixed for the whole process lifetime.
type PlantStation struct {
	ID            string `json:"id"`             // unique station identifier
	SensorEnable  string `json:"sensor_enable"`  // digital output arming the moisture sensor
	ChannelSelect int    `json:"channel_select"` // analog input channel to sample
	SampleEnable  string `json:"sample_enable"`  // analog-capable pin put into sampling mode
	Valve         string `json:"valve"`          // digital output driving the solenoid
}

// Pins returns every signal name the station drives or samples.
func (s PlantStation) Pins() []string {
	return []string{s.SensorEnable, s.SampleEnable, s.Valve}
}

// DefaultStations is the three-pot board wiring:
// sensors armed from P1.0-P1.2, sampled on A3-A5, valves on P2.0-P2.2.
func DefaultStations() []PlantStation {
	return []PlantStation{
		{ID: "pot-1", SensorEnable: "P1.0", ChannelSelect: 3, SampleEnable: "A3", Valve: "P2.0"},
		{ID: "pot-2", SensorEnable: "P1.1", ChannelSelect: 4, SampleEnable: "A4", Valve: "P2.1"},
		{ID: "pot-3", SensorEnable: "P1.2", ChannelSelect: 5, SampleEnable: "A5", Valve: "P2.2"},
	}
}

// DefaultIndicator is the shared watering-activity output.
const DefaultIndicator = "P2.3"
