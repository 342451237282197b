package event

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/pot_waterer/internal/model/entities"
	"github.com/LeonardoBeccarini/pot_waterer/internal/model/messages"
	"github.com/LeonardoBeccarini/pot_waterer/pkg/dedup"
)

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(topic string, qos byte, _ bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic, qos, payload})
	return f.err
}

func (f *fakePublisher) Close() {}

type recorder struct{ events []CommonEvent }

func (r *recorder) Emit(e CommonEvent) { r.events = append(r.events, e) }

var ts = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestWateringResultSeverity(t *testing.T) {
	cases := map[string]string{
		messages.StatusOK:     SeverityInfo,
		messages.StatusCapped: SeverityWarning,
		messages.StatusFail:   SeverityError,
	}
	for status, want := range cases {
		e := FromWateringResult(messages.WateringResultEvent{StationID: "pot-1", Status: status, Timestamp: ts})
		if e.Severity != want {
			t.Errorf("%s: severity=%s want %s", status, e.Severity, want)
		}
		if e.EventType != TypeWateringResult || e.StationID != "pot-1" {
			t.Errorf("%s: unexpected event %+v", status, e)
		}
	}
}

func TestMQTTSinkTopics(t *testing.T) {
	pub := &fakePublisher{}
	s := NewMQTTSink(pub, DefaultTopics("garden/"))

	s.Emit(FromValveChange(messages.ValveStateChangedEvent{StationID: "pot-2", NewState: entities.ValveOpen, Moisture: 150, Timestamp: ts}))
	s.Emit(FromCycle(messages.CycleCompletedEvent{CycleID: "c1", Stations: 3, StartedAt: ts, Timestamp: ts.Add(time.Minute)}))
	s.Emit(Fault("pot-3", "c1", messages.ReasonMaxDuration, nil, ts))
	s.Emit(CommonEvent{EventType: "unknown"})

	want := []struct {
		topic string
		qos   byte
	}{
		{"garden/valveStateChange/pot-2", 1},
		{"garden/cycleCompleted", 0},
		{"garden/stationFault/pot-3", 1},
	}
	if len(pub.msgs) != len(want) {
		t.Fatalf("published %d messages, want %d", len(pub.msgs), len(want))
	}
	for i, w := range want {
		if pub.msgs[i].topic != w.topic || pub.msgs[i].qos != w.qos {
			t.Errorf("msg %d: got %s qos=%d, want %s qos=%d", i, pub.msgs[i].topic, pub.msgs[i].qos, w.topic, w.qos)
		}
	}

	var v messages.ValveStateChangedEvent
	if err := json.Unmarshal(pub.msgs[0].payload, &v); err != nil {
		t.Fatal(err)
	}
	if v.NewState != entities.ValveOpen || v.Moisture != 150 {
		t.Fatalf("payload = %+v", v)
	}
}

func TestMQTTSinkPublishErrorDoesNotPanic(t *testing.T) {
	pub := &fakePublisher{err: errors.New("down")}
	NewMQTTSink(pub, DefaultTopics("")).Emit(Fault("pot-1", "", messages.ReasonSensorError, errors.New("adc"), ts))
	if len(pub.msgs) != 1 || pub.msgs[0].topic != "event/stationFault/pot-1" {
		t.Fatalf("msgs = %+v", pub.msgs)
	}
}

func TestFaultFilterSuppressesRepeats(t *testing.T) {
	rec := &recorder{}
	f := NewFaultFilter(rec, dedup.New(time.Hour, 100))

	f.Emit(Fault("pot-1", "c1", messages.ReasonSensorError, nil, ts))
	f.Emit(Fault("pot-1", "c2", messages.ReasonSensorError, nil, ts))
	f.Emit(Fault("pot-1", "c2", messages.ReasonMaxDuration, nil, ts))
	f.Emit(Fault("pot-2", "c2", messages.ReasonSensorError, nil, ts))
	if len(rec.events) != 3 {
		t.Fatalf("forwarded %d events, want 3", len(rec.events))
	}

	// un esito OK azzera la finestra della stazione
	f.Emit(FromWateringResult(messages.WateringResultEvent{StationID: "pot-1", Status: messages.StatusOK}))
	f.Emit(Fault("pot-1", "c3", messages.ReasonSensorError, nil, ts))
	if len(rec.events) != 5 {
		t.Fatalf("forwarded %d events, want 5", len(rec.events))
	}
}

func TestEventToPoint(t *testing.T) {
	e := FromWateringResult(messages.WateringResultEvent{
		StationID: "pot-1", CycleID: "c9", Status: messages.StatusCapped,
		Reason: messages.ReasonMaxSamples, Samples: 42, Timestamp: ts,
	})
	line := write.PointToLineProtocol(EventToPoint(e), time.Second)

	for _, want := range []string{
		"system_event,",
		"station_id=pot-1",
		"cycle_id=c9",
		"event_type=watering.result",
		"severity=warning",
		`status="CAPPED"`,
		"samples=42i",
		"count=1i",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

type fakeWriteAPI struct {
	mu     sync.Mutex
	points []*write.Point
	errs   chan error
}

func (f *fakeWriteAPI) WritePoint(p *write.Point) {
	f.mu.Lock()
	f.points = append(f.points, p)
	f.mu.Unlock()
}
func (f *fakeWriteAPI) Errors() <-chan error { return f.errs }
func (f *fakeWriteAPI) Flush()               {}

func TestWriterEmitAndErrors(t *testing.T) {
	api := &fakeWriteAPI{errs: make(chan error, 1)}
	w := NewWriter(api)

	w.Emit(Fault("pot-1", "", messages.ReasonValveError, nil, ts))
	w.Emit(Fault("pot-2", "", messages.ReasonValveError, nil, ts))
	if got := w.Count(TypeStationFault); got != 2 {
		t.Fatalf("count = %d", got)
	}
	if len(api.points) != 2 {
		t.Fatalf("points = %d", len(api.points))
	}
	if w.LastErrorAge() < time.Hour {
		t.Fatal("fresh writer should report an old error age")
	}

	api.errs <- errors.New("write failed")
	deadline := time.Now().Add(2 * time.Second)
	for w.LastErrorAge() > time.Minute {
		if time.Now().After(deadline) {
			t.Fatal("write error not recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(api.errs)
}

func TestNilWriter(t *testing.T) {
	var w *Writer
	if w.Count("x") != 0 || w.LastErrorAge() < time.Hour {
		t.Fatal("nil writer must be inert")
	}
	w.Flush()
}
