package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics raccoglie i contatori del waterer. Every method is nil-safe so
// components can run without a registry.
type Metrics struct {
	reg *prometheus.Registry

	moisture      *prometheus.GaugeVec
	samples       *prometheus.CounterVec
	valveOpens    *prometheus.CounterVec
	wateringSecs  *prometheus.HistogramVec
	capped        *prometheus.CounterVec
	sensorErrors  *prometheus.CounterVec
	stationSkips  *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
	cycles        prometheus.Counter
	lastCycleUnix prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		moisture: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "waterer_moisture_raw",
			Help: "Last raw moisture reading per station (0-1023).",
		}, []string{"station"}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waterer_moisture_samples_total",
			Help: "Moisture conversions taken per station.",
		}, []string{"station"}),
		valveOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waterer_valve_open_total",
			Help: "Valve-open events per station.",
		}, []string{"station"}),
		wateringSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "waterer_watering_seconds",
			Help:    "Time the valve stayed open per watering run.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 900, 1800},
		}, []string{"station"}),
		capped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waterer_watering_capped_total",
			Help: "Watering runs stopped by a ceiling instead of a wet reading.",
		}, []string{"station", "reason"}),
		sensorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waterer_hardware_errors_total",
			Help: "Failed station sequences by reason.",
		}, []string{"station", "reason"}),
		stationSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waterer_station_skipped_total",
			Help: "Stations skipped because their breaker was open.",
		}, []string{"station"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "waterer_breaker_state",
			Help: "Station breaker state (0 closed, 1 half-open, 2 open).",
		}, []string{"station"}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waterer_cycles_total",
			Help: "Completed inspect-and-water cycles.",
		}),
		lastCycleUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "waterer_last_cycle_timestamp_seconds",
			Help: "Unix time of the last completed cycle.",
		}),
	}

	m.reg.MustRegister(
		m.moisture,
		m.samples,
		m.valveOpens,
		m.wateringSecs,
		m.capped,
		m.sensorErrors,
		m.stationSkips,
		m.breakerState,
		m.cycles,
		m.lastCycleUnix,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Sample(station string, raw int) {
	if m == nil {
		return
	}
	m.samples.WithLabelValues(station).Inc()
	m.moisture.WithLabelValues(station).Set(float64(raw))
}

func (m *Metrics) ValveOpened(station string) {
	if m == nil {
		return
	}
	m.valveOpens.WithLabelValues(station).Inc()
}

func (m *Metrics) ValveClosed(station string, openSeconds float64) {
	if m == nil {
		return
	}
	m.wateringSecs.WithLabelValues(station).Observe(openSeconds)
}

func (m *Metrics) Capped(station, reason string) {
	if m == nil {
		return
	}
	m.capped.WithLabelValues(station, reason).Inc()
}

func (m *Metrics) HardwareError(station, reason string) {
	if m == nil {
		return
	}
	m.sensorErrors.WithLabelValues(station, reason).Inc()
}

func (m *Metrics) Skipped(station string) {
	if m == nil {
		return
	}
	m.stationSkips.WithLabelValues(station).Inc()
}

// BreakerState: 0 closed, 1 half-open, 2 open.
func (m *Metrics) BreakerState(station string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(station).Set(float64(state))
}

func (m *Metrics) CycleDone(unix float64) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.lastCycleUnix.Set(unix)
}

// Collectors below are read by tests through prometheus/testutil.

func (m *Metrics) ValveOpens() *prometheus.CounterVec { return m.valveOpens }

func (m *Metrics) Samples() *prometheus.CounterVec { return m.samples }

func (m *Metrics) CappedRuns() *prometheus.CounterVec { return m.capped }

func (m *Metrics) Skips() *prometheus.CounterVec { return m.stationSkips }

func (m *Metrics) HardwareErrors() *prometheus.CounterVec { return m.sensorErrors }

func (m *Metrics) Cycles() prometheus.Counter { return m.cycles }
