package entities

// MoistureReading is a raw sample on the 10-bit analog scale.
type MoistureReading int

const (
	// MoistureMin: below this the soil is dry and watering starts.
	MoistureMin MoistureReading = 200
	// MoistureMax: at or above this the soil is wet enough and watering stops.
	MoistureMax MoistureReading = 600

	MoistureScaleMax MoistureReading = 1023
)

// IsDry reports whether a first reading should start watering (strict <).
func (m MoistureReading) IsDry() bool { return m < MoistureMin }

// IsWet reports whether a reading taken while watering ends the loop.
func (m MoistureReading) IsWet() bool { return m >= MoistureMax }

// Clamp bounds a raw conversion result to the reading scale.
func Clamp(raw int) MoistureReading {
	if raw < 0 {
		return 0
	}
	if raw > int(MoistureScaleMax) {
		return MoistureScaleMax
	}
	return MoistureReading(raw)
}
