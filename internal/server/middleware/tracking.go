package middleware

import (
	"net/http"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/guided-traffic/bodyparser/pkg/bodyparser"
)

// Gauge receives the number of bodies being ingested
type Gauge interface {
	Set(float64)
}

// IngestTracker counts in-flight requests and, among them, those that
// carry a body still being ingested. Shutdown reports both counts.
type IngestTracker struct {
	logger   *logrus.Entry
	requests atomic.Int64
	bodies   atomic.Int64
	gauge    Gauge
}

// NewIngestTracker creates a tracker. gauge may be nil.
func NewIngestTracker(logger *logrus.Entry, gauge Gauge) *IngestTracker {
	return &IngestTracker{
		logger: logger,
		gauge:  gauge,
	}
}

// Begin records the start of a request
func (t *IngestTracker) Begin(withBody bool) {
	t.requests.Add(1)
	if withBody {
		t.setBodies(t.bodies.Add(1))
	}
}

// End records the end of a request started with the same withBody value
func (t *IngestTracker) End(withBody bool) {
	t.requests.Add(-1)
	if withBody {
		t.setBodies(t.bodies.Add(-1))
	}
}

func (t *IngestTracker) setBodies(n int64) {
	if t.gauge != nil {
		t.gauge.Set(float64(n))
	}
}

// Requests returns the number of requests in flight
func (t *IngestTracker) Requests() int64 {
	return t.requests.Load()
}

// Bodies returns the number of in-flight requests that carry a body
func (t *IngestTracker) Bodies() int64 {
	return t.bodies.Load()
}

// Middleware returns the HTTP middleware function
func (t *IngestTracker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		withBody := bodyparser.HasBody(r)
		t.Begin(withBody)
		defer t.End(withBody)

		if withBody {
			t.logger.WithFields(logrus.Fields{
				"request_id":       RequestIDFrom(r.Context()),
				"bodies_in_flight": t.Bodies(),
			}).Debug("Body ingestion started")
		}

		next.ServeHTTP(w, r)
	})
}
