package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/pot_waterer/internal/model/entities"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BOARD", "")
	t.Setenv("RABBITMQ_HOST", "")
	t.Setenv("INFLUX_URL", "")
	t.Setenv("STATIONS_CONFIG_PATH", "")

	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Board != BoardSim || len(c.Stations) != 3 || c.Indicator != entities.DefaultIndicator {
		t.Fatalf("config = %+v", c)
	}
	if c.MaxWatering != 15*time.Minute || c.MaxSamples != 100000 {
		t.Fatalf("limits = %s/%d", c.MaxWatering, c.MaxSamples)
	}
	if c.MQTTEnabled || c.InfluxEnabled {
		t.Fatal("sinks must be off by default")
	}
	if c.Second() != time.Second {
		t.Fatalf("second = %s", c.Second())
	}
	if got := len(c.OutputPins()); got != 7 {
		t.Fatalf("output pins = %d", got)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BOARD", "sim")
	t.Setenv("MAX_WATERING", "0")
	t.Setenv("MAX_SAMPLES", "0")
	t.Setenv("TIME_SCALE", "60")
	t.Setenv("RABBITMQ_HOST", "rabbit")
	t.Setenv("ADS_ADDR", "0x49")
	t.Setenv("BREAKER_TIMEOUT", "90")
	t.Setenv("STATIONS_CONFIG_PATH", "")

	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.MaxWatering != 0 || c.MaxSamples != 0 {
		t.Fatalf("ceilings not disabled: %s/%d", c.MaxWatering, c.MaxSamples)
	}
	if c.Second() != time.Second/60 || c.Scale(time.Hour) != time.Minute {
		t.Fatalf("scale: second=%s hour=%s", c.Second(), c.Scale(time.Hour))
	}
	if !c.MQTTEnabled || c.Broker.Host != "rabbit" {
		t.Fatalf("broker = %+v", c.Broker)
	}
	if c.ADSAddress != 0x49 || c.BreakerTimeout != 90*time.Second {
		t.Fatalf("ads=%#x breaker=%s", c.ADSAddress, c.BreakerTimeout)
	}
}

func TestLoadPeriphDefaults(t *testing.T) {
	t.Setenv("BOARD", "periph")
	t.Setenv("TIME_SCALE", "10")
	t.Setenv("INDICATOR_PIN", "")
	t.Setenv("STATIONS_CONFIG_PATH", "")

	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Stations[0].SensorEnable != "GPIO17" || c.Indicator != PeriphIndicator || c.TimeScale != 1 {
		t.Fatalf("config = %+v", c)
	}
}

func TestLoadUnknownBoard(t *testing.T) {
	t.Setenv("BOARD", "arduino")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadBreakerFailures(t *testing.T) {
	t.Setenv("BOARD", "sim")
	t.Setenv("STATIONS_CONFIG_PATH", "")
	for _, v := range []string{"-1", "0"} {
		t.Setenv("BREAKER_FAILURES", v)
		if _, err := Load(""); err == nil {
			t.Fatalf("BREAKER_FAILURES=%s accepted", v)
		}
	}
	t.Setenv("BREAKER_FAILURES", "1")
	c, err := Load("")
	if err != nil || c.BreakerFailures != 1 {
		t.Fatalf("c=%+v err=%v", c, err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv("BOARD", "")
	t.Setenv("STATIONS_CONFIG_PATH", "")
	t.Cleanup(func() { os.Unsetenv("SENSOR_RETRIES") })
	os.Unsetenv("SENSOR_RETRIES")

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("SENSOR_RETRIES=7\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.SensorRetries != 7 {
		t.Fatalf("retries = %d", c.SensorRetries)
	}
}

func TestLoadStationsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stations.json")
	body := `[
  {"id":"basil","sensor_enable":"P1.0","channel_select":1,"sample_enable":"A1","valve":"P2.0"},
  {"id":"mint","sensor_enable":"P1.1","channel_select":2,"sample_enable":"A2","valve":"P2.1"}
]`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BOARD", "sim")
	t.Setenv("INDICATOR_PIN", "")
	t.Setenv("STATIONS_CONFIG_PATH", path)

	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Stations) != 2 || c.Stations[1].ID != "mint" || c.Stations[1].ChannelSelect != 2 {
		t.Fatalf("stations = %+v", c.Stations)
	}
}

func TestValidate(t *testing.T) {
	ok := entities.DefaultStations()
	cases := []struct {
		name   string
		mutate func([]entities.PlantStation) []entities.PlantStation
		valid  bool
	}{
		{"defaults", func(s []entities.PlantStation) []entities.PlantStation { return s }, true},
		{"empty", func([]entities.PlantStation) []entities.PlantStation { return nil }, false},
		{"duplicate id", func(s []entities.PlantStation) []entities.PlantStation { s[1].ID = s[0].ID; return s }, false},
		{"shared valve", func(s []entities.PlantStation) []entities.PlantStation { s[2].Valve = s[0].Valve; return s }, false},
		{"valve on indicator", func(s []entities.PlantStation) []entities.PlantStation { s[0].Valve = entities.DefaultIndicator; return s }, false},
		{"channel out of range", func(s []entities.PlantStation) []entities.PlantStation { s[0].ChannelSelect = SimChannels; return s }, false},
		{"shared channel", func(s []entities.PlantStation) []entities.PlantStation { s[1].ChannelSelect = s[0].ChannelSelect; return s }, false},
		{"missing valve", func(s []entities.PlantStation) []entities.PlantStation { s[0].Valve = ""; return s }, false},
		{"single station", func(s []entities.PlantStation) []entities.PlantStation { return s[:1] }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := append([]entities.PlantStation(nil), ok...)
			err := Validate(tc.mutate(st), entities.DefaultIndicator, SimChannels)
			if tc.valid && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.valid && !errors.Is(err, ErrInvalidStations) {
				t.Fatalf("err = %v, want ErrInvalidStations", err)
			}
		})
	}
}
