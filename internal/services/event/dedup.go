package event

import (
	"github.com/LeonardoBeccarini/pot_waterer/internal/model/messages"
	"github.com/LeonardoBeccarini/pot_waterer/pkg/dedup"
)

var faultReasons = []string{
	messages.ReasonMaxDuration,
	messages.ReasonMaxSamples,
	messages.ReasonSensorError,
	messages.ReasonValveError,
	messages.ReasonBreakerOpen,
}

// FaultFilter lascia passare tutto tranne i fault ripetuti per la stessa
// stazione e lo stesso motivo dentro la finestra del deduper.
type FaultFilter struct {
	next Sink
	d    *dedup.Deduper
}

func NewFaultFilter(next Sink, d *dedup.Deduper) *FaultFilter {
	return &FaultFilter{next: next, d: d}
}

func (f *FaultFilter) Emit(e CommonEvent) {
	switch e.EventType {
	case TypeStationFault:
		if !f.d.ShouldProcess(FaultKey(e)) {
			return
		}
	case TypeWateringResult:
		// esito pulito: il prossimo fault della stazione va segnalato subito
		if e.Severity == SeverityInfo {
			f.forgetStation(e.StationID)
		}
	}
	f.next.Emit(e)
}

func (f *FaultFilter) forgetStation(id string) {
	for _, reason := range faultReasons {
		f.d.Forget(id + "|" + reason)
	}
}
