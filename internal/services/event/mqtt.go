package event

import (
	"encoding/json"
	"log"
	"strings"

	"github.com/LeonardoBeccarini/pot_waterer/pkg/broker"
)

// Topics contiene i template per tipo evento; {station} viene sostituito con l'ID.
type Topics struct {
	ValveChange    string
	WateringResult string
	CycleCompleted string
	StationFault   string
}

func DefaultTopics(prefix string) Topics {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = "event"
	}
	return Topics{
		ValveChange:    prefix + "/valveStateChange/{station}",
		WateringResult: prefix + "/wateringResult/{station}",
		CycleCompleted: prefix + "/cycleCompleted",
		StationFault:   prefix + "/stationFault/{station}",
	}
}

// MQTTSink publishes each event's payload as JSON.
type MQTTSink struct {
	pub    broker.IPublisher
	topics Topics
}

func NewMQTTSink(pub broker.IPublisher, topics Topics) *MQTTSink {
	return &MQTTSink{pub: pub, topics: topics}
}

func (s *MQTTSink) Emit(e CommonEvent) {
	topic, qos := s.route(e)
	if topic == "" {
		return
	}
	body := e.Payload
	if body == nil {
		body = e.Fields
	}
	b, err := json.Marshal(body)
	if err != nil {
		log.Printf("event: marshal %s: %v", e.EventType, err)
		return
	}
	if err := s.pub.Publish(topic, qos, false, b); err != nil {
		log.Printf("event: %v", err)
	}
}

// route: QoS 1 per esiti, cambi valvola e fault, 0 per il riepilogo del ciclo.
func (s *MQTTSink) route(e CommonEvent) (string, byte) {
	var tmpl string
	var qos byte = 1
	switch e.EventType {
	case TypeValveChange:
		tmpl = s.topics.ValveChange
	case TypeWateringResult:
		tmpl = s.topics.WateringResult
	case TypeStationFault:
		tmpl = s.topics.StationFault
	case TypeCycleCompleted:
		tmpl, qos = s.topics.CycleCompleted, 0
	default:
		return "", 0
	}
	return strings.ReplaceAll(tmpl, "{station}", e.StationID), qos
}
