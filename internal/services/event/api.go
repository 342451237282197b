package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
)

// Watering è la riga restituita da /events/watering/latest.
type Watering struct {
	StationID string  `json:"station_id,omitempty"`
	OpenForS  float64 `json:"open_for_s"`
	Severity  string  `json:"severity,omitempty"`
	Time      string  `json:"time"` // RFC3339
}

type wateringQuery struct {
	Minutes   int
	Limit     int
	Station   string
	TimeoutMS int
}

var errBadStation = errors.New("station: control characters not allowed")

func parseWatering(r *http.Request, defMin, defLim, defTOms int) (wateringQuery, error) {
	q := r.URL.Query()
	get := func(k string, def, min, max int) int {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				if n < min {
					return min
				}
				if max > 0 && n > max {
					return max
				}
				return n
			}
		}
		return def
	}
	p := wateringQuery{
		Minutes:   get("minutes", defMin, 1, 7*24*60),
		Limit:     get("limit", defLim, 1, 500),
		Station:   strings.TrimSpace(q.Get("station")),
		TimeoutMS: get("timeout_ms", defTOms, 200, 5000),
	}
	if strings.IndexFunc(p.Station, unicode.IsControl) >= 0 {
		return p, errBadStation
	}
	return p, nil
}

// in Flux "${...}" viene interpolato anche dentro le stringhe
var fluxEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`)

func fluxString(s string) string { return `"` + fluxEscaper.Replace(s) + `"` }

func buildFlux(bucket string, p wateringQuery) string {
	station := ""
	if p.Station != "" {
		station = "\n  |> filter(fn: (r) => r.station_id == " + fluxString(p.Station) + ")"
	}
	return fmt.Sprintf(`
from(bucket: %s)
  |> range(start: -%dm)
  |> filter(fn: (r) => r._measurement == %q and r.event_type == %q)
  |> filter(fn: (r) => r._field == "open_for_s")%s
  |> keep(columns: ["_time","_value","station_id","severity"])
  |> sort(columns: ["_time"], desc: true)
  |> limit(n:%d)
`, fluxString(bucket), p.Minutes, Measurement, TypeWateringResult, station, p.Limit)
}

// NewWateringLatestHandler serve gli ultimi esiti di irrigazione scritti dall'InfluxSink.
// GET /events/watering/latest?limit=20[&minutes=1440][&station=pot-1]
func NewWateringLatestHandler(influx influxdb2.Client, org, bucket string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := parseWatering(r, 1440, 20, 2000)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), time.Duration(p.TimeoutMS)*time.Millisecond)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		res, err := influx.QueryAPI(org).Query(ctx, buildFlux(bucket, p))
		if err != nil {
			w.Header().Set("X-Error", "influx-query-error")
			_, _ = w.Write([]byte("[]"))
			return
		}
		defer res.Close()

		out := make([]Watering, 0, p.Limit)
		for res.Next() {
			rec := res.Record()
			row := Watering{Time: rec.Time().UTC().Format(time.RFC3339)}
			switch v := rec.Value().(type) {
			case float64:
				row.OpenForS = v
			case int64:
				row.OpenForS = float64(v)
			}
			if s, ok := rec.ValueByKey("station_id").(string); ok {
				row.StationID = s
			}
			if s, ok := rec.ValueByKey("severity").(string); ok {
				row.Severity = s
			}
			out = append(out, row)
		}
		if res.Err() != nil {
			w.Header().Set("X-Error", "influx-iter-error")
		}
		_ = json.NewEncoder(w).Encode(out)
	})
}
