package event

import (
	"encoding/json"
	"net/http"
	"time"
)

// Connectivity is satisfied by broker.Publisher.
type Connectivity interface {
	Connected() bool
}

// Heartbeat: ultimo istante in cui il ciclo di irrigazione ha fatto progressi.
type Heartbeat interface {
	LastBeat() time.Time
}

// Probe raccoglie le dipendenze controllate da /healthz, /readyz e dal
// servizio gRPC di health. Broker e Writer nil = sink disabilitato.
type Probe struct {
	Broker      Connectivity
	Writer      *Writer
	Loop        Heartbeat
	MaxLoopAge  time.Duration // oltre questa età il loop è considerato fermo
	MinErrorAge time.Duration // errori Influx più recenti rendono il servizio degraded
	Now         func() time.Time
}

type Status struct {
	Status          string  `json:"status"` // ok | degraded | down
	LoopAlive       bool    `json:"loop_alive"`
	LoopAgeS        float64 `json:"loop_age_sec"`
	MQTTEnabled     bool    `json:"mqtt_enabled"`
	MQTTConnected   bool    `json:"mqtt_connected"`
	InfluxEnabled   bool    `json:"influx_enabled"`
	LastWriteErrorS float64 `json:"last_write_error_age_sec,omitempty"`
}

func (p Probe) Check() Status {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	var st Status

	if p.Loop != nil {
		if last := p.Loop.LastBeat(); !last.IsZero() {
			age := now().Sub(last)
			st.LoopAgeS = age.Seconds()
			st.LoopAlive = p.MaxLoopAge <= 0 || age <= p.MaxLoopAge
		}
	}

	sinksOK := true
	if p.Broker != nil {
		st.MQTTEnabled = true
		st.MQTTConnected = p.Broker.Connected()
		sinksOK = sinksOK && st.MQTTConnected
	}
	if p.Writer != nil {
		st.InfluxEnabled = true
		age := p.Writer.LastErrorAge()
		st.LastWriteErrorS = age.Seconds()
		sinksOK = sinksOK && age > p.MinErrorAge
	}

	switch {
	case st.LoopAlive && sinksOK:
		st.Status = "ok"
	case st.LoopAlive:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}
	return st
}

// Ready: il loop gira e tutti i sink abilitati funzionano.
func (p Probe) Ready() bool { return p.Check().Status == "ok" }

type healthHandler struct{ probe Probe }

func NewHealthHandler(p Probe) http.Handler { return &healthHandler{probe: p} }

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	st := h.probe.Check()
	w.Header().Set("Content-Type", "application/json")
	if st.Status == "down" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(st)
}

// Handler /readyz: 200 solo se tutte le dipendenze sono ok.
type readyHandler struct{ probe Probe }

func NewReadyHandler(p Probe) http.Handler { return &readyHandler{probe: p} }

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	ready := h.probe.Ready()
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	type resp struct {
		Ready bool `json:"ready"`
	}
	_ = json.NewEncoder(w).Encode(resp{Ready: ready})
}
