package hal

import (
	"math"
	"sync"
	"time"
)

// ====== Tunables ======
const (
	// defaultGainPerSec: raw counts gained per simulated second while the valve is open.
	defaultGainPerSec = 8.0

	// defaultDecayPerSec: raw counts lost per simulated second while the valve is closed
	// (about 100 counts per hour).
	defaultDecayPerSec = 100.0 / 3600.0

	// defaultSeed: starting reading when none is given, just below the dry threshold.
	defaultSeed = 180.0
)

// SoilModel mantiene lo stato interno della moisture di un vaso e lo aggiorna nel tempo.
// Values live on the raw 10-bit scale used by the readings.
type SoilModel struct {
	mu          sync.Mutex
	seeded      bool
	last        time.Time
	moisture    float64 // [0..1023]
	gainPerSec  float64
	decayPerSec float64
	scale       float64 // secondi simulati per secondo reale
	now         func() time.Time
}

// NewSoilModel crea un modello con seed iniziale e tassi di default.
// scale accelerates the clock (1 = real time).
func NewSoilModel(seed float64, scale float64) *SoilModel {
	if seed < 0 {
		seed = defaultSeed
	}
	if scale <= 0 {
		scale = 1
	}
	return &SoilModel{
		moisture:    clampRaw(seed),
		gainPerSec:  defaultGainPerSec,
		decayPerSec: defaultDecayPerSec,
		scale:       scale,
		now:         time.Now,
	}
}

// SetRates overrides gain (valve open) and decay (valve closed) per simulated second.
func (g *SoilModel) SetRates(gainPerSec, decayPerSec float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gainPerSec = math.Max(0, gainPerSec)
	g.decayPerSec = math.Max(0, decayPerSec)
}

// Next aggiorna lo stato interno e restituisce la lettura corrente.
func (g *SoilModel) Next(valveOpen bool) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.seeded {
		g.last = now
		g.seeded = true
	}

	dt := now.Sub(g.last).Seconds() * g.scale
	if dt < 0 {
		dt = 0
	}
	if valveOpen {
		g.moisture = clampRaw(g.moisture + g.gainPerSec*dt)
	} else {
		g.moisture = clampRaw(g.moisture - g.decayPerSec*dt)
	}
	g.last = now

	return int(math.Round(g.moisture))
}

// Moisture returns the current value without advancing the model.
func (g *SoilModel) Moisture() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int(math.Round(g.moisture))
}

func clampRaw(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1023 {
		return 1023
	}
	return x
}
