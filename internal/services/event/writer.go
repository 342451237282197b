package event

import (
	"log"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// pointWriter è il sottoinsieme di api.WriteAPI usato qui.
type pointWriter interface {
	WritePoint(point *write.Point)
	Errors() <-chan error
	Flush()
}

// Writer incapsula WriteAPI, scrive gli eventi come punti e traccia
// l'ultimo errore di scrittura per /healthz e /readyz.
type Writer struct {
	api     pointWriter
	mu      sync.RWMutex
	lastErr time.Time
	counts  map[string]int64
	now     func() time.Time
}

// NewWriter attiva il listener degli errori asincroni di Influx.
func NewWriter(w pointWriter) *Writer {
	ww := &Writer{
		api:     w,
		lastErr: time.Now().Add(-24 * time.Hour),
		counts:  make(map[string]int64),
		now:     time.Now,
	}
	go func() {
		for err := range w.Errors() {
			if err != nil {
				ww.markError()
				log.Printf("event: influx write error: %v", err)
			}
		}
	}()
	return ww
}

func (w *Writer) Emit(e CommonEvent) {
	w.api.WritePoint(EventToPoint(e))
	w.mu.Lock()
	w.counts[e.EventType]++
	w.mu.Unlock()
}

func (w *Writer) Flush() {
	if w != nil {
		w.api.Flush()
	}
}

func (w *Writer) markError() {
	w.mu.Lock()
	w.lastErr = w.now()
	w.mu.Unlock()
}

// LastErrorAge ritorna da quanto tempo non si verificano errori di scrittura.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return w.now().Sub(t)
}

// Count: eventi scritti per tipo.
func (w *Writer) Count(eventType string) int64 {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.counts[eventType]
}
