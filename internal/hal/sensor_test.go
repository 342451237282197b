package hal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/pot_waterer/internal/model/entities"
)

func defaultBoard(latency time.Duration) *SimBoard {
	var pins []string
	for _, st := range entities.DefaultStations() {
		pins = append(pins, st.SensorEnable, st.Valve)
	}
	return NewSimBoard(latency, append(pins, entities.DefaultIndicator)...)
}

func TestArmReadDisarm(t *testing.T) {
	b := defaultBoard(time.Millisecond)
	b.Script(3, 321)
	s := NewMoistureSensor(b, 0)
	st := entities.DefaultStations()[0]
	ctx := context.Background()

	if err := s.Arm(ctx, st); err != nil {
		t.Fatal(err)
	}
	if !b.Level(st.SensorEnable) || !b.Sampling(st.SampleEnable) {
		t.Fatal("arm must power the sensor and select its input")
	}
	if id, ok := s.Active(); !ok || id != st.ID {
		t.Fatalf("active = %q %v", id, ok)
	}

	m, err := s.Read(ctx)
	if err != nil || m != 321 {
		t.Fatalf("read = %d, %v", m, err)
	}
	if b.Level(st.SensorEnable) {
		t.Fatal("sensor signal must drop after the conversion")
	}

	if err := s.Disarm(ctx, st); err != nil {
		t.Fatal(err)
	}
	if b.Sampling(st.SampleEnable) || b.Level(st.SensorEnable) {
		t.Fatal("disarm must release the input and power down")
	}
	if _, ok := s.Active(); ok {
		t.Fatal("still armed")
	}
}

func TestSecondArmIsBusy(t *testing.T) {
	b := defaultBoard(0)
	s := NewMoistureSensor(b, 0)
	st := entities.DefaultStations()
	ctx := context.Background()

	if err := s.Arm(ctx, st[0]); err != nil {
		t.Fatal(err)
	}
	if err := s.Arm(ctx, st[0]); err != nil {
		t.Fatalf("re-arming the same station: %v", err)
	}
	if err := s.Arm(ctx, st[1]); !errors.Is(err, ErrSensorBusy) {
		t.Fatalf("err = %v, want ErrSensorBusy", err)
	}
	if b.Level(st[1].SensorEnable) {
		t.Fatal("busy arm must not touch the other station")
	}
	if err := s.Disarm(ctx, st[1]); !errors.Is(err, ErrNotArmed) {
		t.Fatalf("disarm wrong station: %v", err)
	}
}

func TestReadNotArmed(t *testing.T) {
	s := NewMoistureSensor(defaultBoard(0), 0)
	if _, err := s.Read(context.Background()); !errors.Is(err, ErrNotArmed) {
		t.Fatalf("err = %v", err)
	}
}

func TestReadRetriesTransientFaults(t *testing.T) {
	b := defaultBoard(0)
	b.Script(3, 150)
	b.FailConversions(2)
	s := NewMoistureSensor(b, 2)
	st := entities.DefaultStations()[0]
	ctx := context.Background()

	if err := s.Arm(ctx, st); err != nil {
		t.Fatal(err)
	}
	m, err := s.Read(ctx)
	if err != nil || m != 150 {
		t.Fatalf("read = %d, %v", m, err)
	}
	if b.Conversions() != 1 {
		t.Fatalf("conversions = %d", b.Conversions())
	}
}

func TestReadGivesUpAfterRetries(t *testing.T) {
	b := defaultBoard(0)
	b.FailConversions(5)
	s := NewMoistureSensor(b, 1)
	st := entities.DefaultStations()[0]
	ctx := context.Background()

	_ = s.Arm(ctx, st)
	if _, err := s.Read(ctx); err == nil {
		t.Fatal("expected error")
	}
	if b.Level(st.SensorEnable) {
		t.Fatal("sensor left powered after a failed read")
	}
}

func TestReadCancelled(t *testing.T) {
	b := defaultBoard(time.Second)
	s := NewMoistureSensor(b, 3)
	st := entities.DefaultStations()[0]
	_ = s.Arm(context.Background(), st)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := s.Read(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("read did not honour the context")
	}
}

func TestReadClampsRange(t *testing.T) {
	b := defaultBoard(0)
	b.Script(3, 5000, -3)
	s := NewMoistureSensor(b, 0)
	st := entities.DefaultStations()[0]
	_ = s.Arm(context.Background(), st)

	if m, _ := s.Read(context.Background()); m != entities.MoistureScaleMax {
		t.Fatalf("high = %d", m)
	}
	if m, _ := s.Read(context.Background()); m != 0 {
		t.Fatalf("low = %d", m)
	}
}

func TestSoilModelDrivesReadings(t *testing.T) {
	b := defaultBoard(0)
	st := entities.DefaultStations()[0]
	soil := NewSoilModel(100, 1)
	now := time.Unix(0, 0)
	soil.now = func() time.Time { return now }
	b.Attach(st.ChannelSelect, st.Valve, soil)

	s := NewMoistureSensor(b, 0)
	a := NewActuator(b, s, entities.DefaultIndicator)
	ctx := context.Background()
	_ = s.Arm(ctx, st)

	first, _ := s.Read(ctx)
	if err := a.OpenValve(st); err != nil {
		t.Fatal(err)
	}
	now = now.Add(10 * time.Second)
	second, _ := s.Read(ctx)
	if first != 100 || second != 180 {
		t.Fatalf("readings = %d, %d", first, second)
	}
}
