package event

import (
	"fmt"
	"log"
	"time"

	"github.com/LeonardoBeccarini/pot_waterer/internal/model/messages"
)

const SourceService = "waterer"

const (
	TypeValveChange    = "valve.state_change"
	TypeWateringResult = "watering.result"
	TypeCycleCompleted = "cycle.completed"
	TypeStationFault   = "station.fault"
)

const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// CommonEvent è la forma unica che arriva ai sink (MQTT, Influx).
type CommonEvent struct {
	EventType     string
	SourceService string
	StationID     string
	CycleID       string
	Severity      string
	Fields        map[string]interface{} // valori scalari per Influx
	Payload       interface{}            // messaggio di dominio, serializzato su MQTT
	Timestamp     time.Time
}

// Sink riceve gli eventi del waterer. Emit non deve bloccare a lungo il ciclo.
type Sink interface {
	Emit(CommonEvent)
}

type SinkFunc func(CommonEvent)

func (f SinkFunc) Emit(e CommonEvent) { f(e) }

type NopSink struct{}

func (NopSink) Emit(CommonEvent) {}

// MultiSink fans an event out to every non-nil sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(e CommonEvent) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// LogSink scrive una riga per evento.
type LogSink struct{}

func (LogSink) Emit(e CommonEvent) {
	log.Printf("event: %s station=%s cycle=%s severity=%s fields=%v", e.EventType, e.StationID, e.CycleID, e.Severity, e.Fields)
}

func FromValveChange(v messages.ValveStateChangedEvent) CommonEvent {
	fields := map[string]interface{}{
		"new_state": string(v.NewState),
		"moisture":  int64(v.Moisture),
	}
	if v.OpenFor > 0 {
		fields["open_for_s"] = v.OpenFor.Seconds()
	}
	return CommonEvent{
		EventType:     TypeValveChange,
		SourceService: SourceService,
		StationID:     v.StationID,
		CycleID:       v.CycleID,
		Severity:      SeverityInfo,
		Fields:        fields,
		Payload:       v,
		Timestamp:     v.Timestamp,
	}
}

func FromWateringResult(r messages.WateringResultEvent) CommonEvent {
	sev := SeverityInfo
	switch r.Status {
	case messages.StatusCapped:
		sev = SeverityWarning
	case messages.StatusFail:
		sev = SeverityError
	}
	return CommonEvent{
		EventType:     TypeWateringResult,
		SourceService: SourceService,
		StationID:     r.StationID,
		CycleID:       r.CycleID,
		Severity:      sev,
		Fields: map[string]interface{}{
			"status":           r.Status,
			"reason":           r.Reason,
			"watered":          r.Watered,
			"initial_moisture": int64(r.InitialMoisture),
			"final_moisture":   int64(r.FinalMoisture),
			"samples":          int64(r.Samples),
			"open_for_s":       r.OpenFor.Seconds(),
		},
		Payload:   r,
		Timestamp: r.Timestamp,
	}
}

func FromCycle(c messages.CycleCompletedEvent) CommonEvent {
	return CommonEvent{
		EventType:     TypeCycleCompleted,
		SourceService: SourceService,
		CycleID:       c.CycleID,
		Severity:      SeverityInfo,
		Fields: map[string]interface{}{
			"stations":    int64(c.Stations),
			"valve_opens": int64(c.ValveOpens),
			"skipped":     int64(len(c.Skipped)),
			"duration_s":  c.Timestamp.Sub(c.StartedAt).Seconds(),
		},
		Payload:   c,
		Timestamp: c.Timestamp,
	}
}

// FaultPayload is the MQTT body of a station.fault alert.
type FaultPayload struct {
	StationID string    `json:"station_id"`
	CycleID   string    `json:"cycle_id"`
	Reason    string    `json:"reason"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Fault builds the alert raised when a station hits a ceiling or a hardware error.
func Fault(stationID, cycleID, reason string, err error, ts time.Time) CommonEvent {
	p := FaultPayload{StationID: stationID, CycleID: cycleID, Reason: reason, Timestamp: ts}
	fields := map[string]interface{}{"reason": reason}
	if err != nil {
		p.Error = err.Error()
		fields["error"] = p.Error
	}
	return CommonEvent{
		EventType:     TypeStationFault,
		SourceService: SourceService,
		StationID:     stationID,
		CycleID:       cycleID,
		Severity:      SeverityWarning,
		Fields:        fields,
		Payload:       p,
		Timestamp:     ts,
	}
}

// FaultKey identifies an alert for de-duplication: "station|reason".
func FaultKey(e CommonEvent) string {
	if e.EventType != TypeStationFault {
		return ""
	}
	return fmt.Sprintf("%s|%v", e.StationID, e.Fields["reason"])
}
