// Package config reads the waterer settings from the environment (optionally
// seeded from a .env file) and the station table from JSON.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/LeonardoBeccarini/pot_waterer/internal/model/entities"
	"github.com/LeonardoBeccarini/pot_waterer/pkg/broker"
)

var ErrInvalidStations = errors.New("config: invalid stations")

const (
	BoardSim    = "sim"
	BoardPeriph = "periph"
)

// Analog inputs per backend.
const (
	SimChannels    = 8
	PeriphChannels = 4
)

type Config struct {
	Board      string
	I2CBus     string
	ADSAddress uint16
	Indicator  string
	Stations   []entities.PlantStation

	MaxWatering     time.Duration // 0 = nessun limite
	MaxSamples      int           // 0 = nessun limite
	SensorRetries   int
	BreakerFailures int
	BreakerTimeout  time.Duration
	TimeScale       float64 // solo sim: secondi simulati per secondo reale

	HTTPPort int
	GRPCPort int

	MQTTEnabled      bool
	Broker           broker.Config
	EventTopicPrefix string
	FaultDedupTTL    time.Duration

	InfluxEnabled bool
	InfluxURL     string
	InfluxToken   string
	InfluxOrg     string
	InfluxBucket  string

	MaxLoopAge time.Duration
}

// Load carica envPath se esiste (errore ignorato con un warning, come in produzione
// le variabili arrivano dal container) e poi legge l'ambiente.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			log.Printf("config: no .env at %s (%v), using environment only", envPath, err)
		} else {
			log.Printf("config: loaded %s", envPath)
		}
	}

	c := &Config{
		Board:      strings.ToLower(envStr("BOARD", BoardSim)),
		I2CBus:     envStr("I2C_BUS", ""),
		ADSAddress: uint16(envUint("ADS_ADDR", 0x48)),

		MaxWatering:     envDuration("MAX_WATERING", 15*time.Minute),
		MaxSamples:      envInt("MAX_SAMPLES", 100000),
		SensorRetries:   envInt("SENSOR_RETRIES", 2),
		BreakerFailures: envInt("BREAKER_FAILURES", 3),
		BreakerTimeout:  envDuration("BREAKER_TIMEOUT", 2*time.Hour),
		TimeScale:       envFloat("TIME_SCALE", 1),

		HTTPPort: envInt("HTTP_PORT", 8080),
		GRPCPort: envInt("GRPC_PORT", 50051),

		Broker: broker.Config{
			Host:     envStr("RABBITMQ_HOST", ""),
			Port:     envInt("RABBITMQ_PORT", 1883),
			User:     envStr("RABBITMQ_USER", "guest"),
			Password: envStr("RABBITMQ_PASSWORD", "guest"),
			ClientID: envStr("RABBITMQ_CLIENTID", envStr("HOSTNAME", "pot-waterer")),
		},
		EventTopicPrefix: envStr("EVENT_TOPIC_PREFIX", "event"),
		FaultDedupTTL:    envDuration("FAULT_DEDUP_TTL", 6*time.Hour),

		InfluxURL:    envStr("INFLUX_URL", ""),
		InfluxToken:  envStr("INFLUX_TOKEN", ""),
		InfluxOrg:    envStr("INFLUX_ORG", "sdcc"),
		InfluxBucket: envStr("INFLUX_BUCKET", "events"),

		MaxLoopAge: envDuration("HEALTH_MAX_LOOP_AGE", 2*time.Hour),
	}
	c.MQTTEnabled = c.Broker.Host != ""
	c.InfluxEnabled = c.InfluxURL != ""

	maxCh := SimChannels
	switch c.Board {
	case BoardSim:
		c.Indicator = envStr("INDICATOR_PIN", entities.DefaultIndicator)
		c.Stations = entities.DefaultStations()
	case BoardPeriph:
		maxCh = PeriphChannels
		c.Indicator = envStr("INDICATOR_PIN", PeriphIndicator)
		c.Stations = PeriphStations()
		if c.TimeScale != 1 {
			log.Printf("config: TIME_SCALE ignored on periph board")
			c.TimeScale = 1
		}
	default:
		return nil, fmt.Errorf("config: unknown BOARD %q (sim|periph)", c.Board)
	}
	if c.TimeScale <= 0 {
		return nil, fmt.Errorf("config: TIME_SCALE must be > 0, got %v", c.TimeScale)
	}
	if c.BreakerFailures < 1 {
		return nil, fmt.Errorf("config: BREAKER_FAILURES must be >= 1, got %d", c.BreakerFailures)
	}

	if path := envStr("STATIONS_CONFIG_PATH", ""); path != "" {
		st, err := LoadStations(path)
		if err != nil {
			return nil, err
		}
		c.Stations = st
	}
	if err := Validate(c.Stations, c.Indicator, maxCh); err != nil {
		return nil, err
	}
	return c, nil
}

// Second is the length of one timing unit after time scaling.
func (c *Config) Second() time.Duration { return c.Scale(time.Second) }

// Scale shrinks a wall-clock duration by TIME_SCALE.
func (c *Config) Scale(d time.Duration) time.Duration {
	if c.TimeScale <= 0 || c.TimeScale == 1 {
		return d
	}
	return time.Duration(float64(d) / c.TimeScale)
}

// OutputPins lists every digital output the configuration drives.
func (c *Config) OutputPins() []string {
	out := make([]string, 0, 2*len(c.Stations)+1)
	for _, st := range c.Stations {
		out = append(out, st.SensorEnable, st.Valve)
	}
	if c.Indicator != "" {
		out = append(out, c.Indicator)
	}
	return out
}

// PeriphIndicator: LED di attività sul connettore del Raspberry.
const PeriphIndicator = "GPIO19"

// PeriphStations is the Raspberry Pi wiring: enables on GPIO17/27/22,
// valves on GPIO5/6/13, sensors on ADS1115 inputs AIN0-AIN2.
func PeriphStations() []entities.PlantStation {
	return []entities.PlantStation{
		{ID: "pot-1", SensorEnable: "GPIO17", ChannelSelect: 0, SampleEnable: "AIN0", Valve: "GPIO5"},
		{ID: "pot-2", SensorEnable: "GPIO27", ChannelSelect: 1, SampleEnable: "AIN1", Valve: "GPIO6"},
		{ID: "pot-3", SensorEnable: "GPIO22", ChannelSelect: 2, SampleEnable: "AIN2", Valve: "GPIO13"},
	}
}

// LoadStations legge la tabella stazioni: [{"id":..,"sensor_enable":..,...}].
func LoadStations(path string) ([]entities.PlantStation, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stations config: %w", err)
	}
	var st []entities.PlantStation
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("unmarshal stations config %s: %w", path, err)
	}
	return st, nil
}

// Validate checks station IDs are unique, no signal is shared between two
// stations or with the indicator, and every channel exists on the board.
func Validate(stations []entities.PlantStation, indicator string, channels int) error {
	if len(stations) == 0 {
		return fmt.Errorf("%w: no stations", ErrInvalidStations)
	}
	var errs []error
	ids := map[string]bool{}
	pins := map[string]string{}
	chans := map[int]string{}
	if indicator != "" {
		pins[indicator] = "indicator"
	}
	for i, st := range stations {
		if strings.TrimSpace(st.ID) == "" {
			errs = append(errs, fmt.Errorf("station #%d: empty id", i))
			continue
		}
		if ids[st.ID] {
			errs = append(errs, fmt.Errorf("%s: duplicate id", st.ID))
		}
		ids[st.ID] = true

		if st.SensorEnable == "" || st.Valve == "" {
			errs = append(errs, fmt.Errorf("%s: sensor_enable and valve are required", st.ID))
		}
		for _, p := range st.Pins() {
			if p == "" {
				continue
			}
			if owner, ok := pins[p]; ok && owner != st.ID {
				errs = append(errs, fmt.Errorf("%s: pin %s already used by %s", st.ID, p, owner))
			}
			pins[p] = st.ID
		}

		if st.ChannelSelect < 0 || st.ChannelSelect >= channels {
			errs = append(errs, fmt.Errorf("%s: channel %d out of range 0..%d", st.ID, st.ChannelSelect, channels-1))
		} else if owner, ok := chans[st.ChannelSelect]; ok {
			errs = append(errs, fmt.Errorf("%s: channel %d already used by %s", st.ID, st.ChannelSelect, owner))
		}
		chans[st.ChannelSelect] = st.ID
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidStations, errors.Join(errs...))
	}
	return nil
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("config: invalid %s=%q, using %d", key, v, def)
	}
	return def
}

func envUint(key string, def uint64) uint64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseUint(v, 0, 16); err == nil {
			return n
		}
		log.Printf("config: invalid %s=%q, using %#x", key, v, def)
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Printf("config: invalid %s=%q, using %v", key, v, def)
	}
	return def
}

// envDuration accetta "15m", "90s" o un numero di secondi; "0" disabilita.
func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	log.Printf("config: invalid %s=%q, using %s", key, v, def)
	return def
}
