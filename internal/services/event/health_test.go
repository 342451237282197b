package event

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type beat struct{ t time.Time }

func (b beat) LastBeat() time.Time { return b.t }

type conn bool

func (c conn) Connected() bool { return bool(c) }

func TestProbeStatus(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	cases := []struct {
		name  string
		probe Probe
		want  string
	}{
		{"not started", Probe{Loop: beat{}, Now: clock}, "down"},
		{"alive no sinks", Probe{Loop: beat{now.Add(-time.Minute)}, MaxLoopAge: time.Hour, Now: clock}, "ok"},
		{"stale loop", Probe{Loop: beat{now.Add(-3 * time.Hour)}, MaxLoopAge: 2 * time.Hour, Now: clock}, "down"},
		{"mqtt down", Probe{Loop: beat{now}, Broker: conn(false), Now: clock}, "degraded"},
		{"mqtt up", Probe{Loop: beat{now}, Broker: conn(true), Now: clock}, "ok"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.probe.Check().Status; got != tc.want {
				t.Fatalf("status = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestHealthAndReadyHandlers(t *testing.T) {
	p := Probe{Loop: beat{time.Now()}, Broker: conn(false)}

	rr := httptest.NewRecorder()
	NewHealthHandler(p).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz code = %d", rr.Code)
	}
	var st Status
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Status != "degraded" || !st.MQTTEnabled || st.MQTTConnected {
		t.Fatalf("status = %+v", st)
	}

	rr = httptest.NewRecorder()
	NewReadyHandler(p).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz code = %d", rr.Code)
	}

	p.Broker = conn(true)
	rr = httptest.NewRecorder()
	NewReadyHandler(p).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz code = %d", rr.Code)
	}
}

func TestGRPCHealth(t *testing.T) {
	loop := &beatPtr{}
	g := NewGRPCHealth(Probe{Loop: loop})

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := g.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: GRPCServiceName})
		if err != nil {
			t.Fatal(err)
		}
		return resp.Status
	}

	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("initial = %v", got)
	}
	loop.t = time.Now()
	if got := g.Update(); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("update = %v", got)
	}
	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("after update = %v", got)
	}
}

type beatPtr struct{ t time.Time }

func (b *beatPtr) LastBeat() time.Time { return b.t }

func TestBuildFlux(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/events/watering/latest?"+url.Values{
		"limit":   {"9999"},
		"minutes": {"0"},
		"station": {"pot-2"},
	}.Encode(), nil)
	p, err := parseWatering(r, 1440, 20, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if p.Limit != 500 || p.Minutes != 1 || p.Station != "pot-2" || p.TimeoutMS != 2000 {
		t.Fatalf("params = %+v", p)
	}

	q := buildFlux("events", p)
	for _, want := range []string{
		`from(bucket: "events")`,
		"range(start: -1m)",
		`r.event_type == "watering.result"`,
		`r.station_id == "pot-2"`,
		"limit(n:500)",
	} {
		if !strings.Contains(q, want) {
			t.Errorf("flux missing %q:\n%s", want, q)
		}
	}
}

func TestBuildFluxEscapesStation(t *testing.T) {
	q := buildFlux("events", wateringQuery{Minutes: 5, Limit: 1, Station: `${r.severity}" or true or "`})
	want := `r.station_id == "\${r.severity}\" or true or \"")`
	if !strings.Contains(q, want) {
		t.Fatalf("flux missing %q:\n%s", want, q)
	}
	if strings.Contains(q, `== "${`) {
		t.Fatalf("interpolation left in query:\n%s", q)
	}
}

func TestWateringLatestRejectsControlChars(t *testing.T) {
	client := influxdb2.NewClient("http://127.0.0.1:1", "")
	defer client.Close()
	h := NewWateringLatestHandler(client, "org", "events")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/events/watering/latest?station=pot-1%0A%7C%3E+drop()", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("code = %d body=%s", rr.Code, rr.Body)
	}
}
