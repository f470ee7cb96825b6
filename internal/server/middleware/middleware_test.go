package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "6BA7B810-9DAD-11D1-80B4-00C04FD430C8")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	assert.Empty(t, RequestIDFrom(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}

func TestLoggerMiddleware(t *testing.T) {
	logger, hook := test.NewNullLogger()
	l := NewLogger(logrus.NewEntry(logger), false)

	handler := RequestID(l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodPost, "/json", nil)
	req.Header.Set("Content-Encoding", "gzip")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, http.StatusTeapot, entry.Data["status"])
	assert.Equal(t, "gzip", entry.Data["content_encoding"])
	assert.NotEmpty(t, entry.Data["request_id"])

	hook.Reset()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, hook.Entries)
}

type recordingGauge struct {
	values []float64
}

func (g *recordingGauge) Set(v float64) {
	g.values = append(g.values, v)
}

func TestIngestTracker(t *testing.T) {
	gauge := &recordingGauge{}
	tracker := NewIngestTracker(logrus.NewEntry(logrus.New()), gauge)

	var requests, bodies int64
	handler := tracker.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = tracker.Requests()
		bodies = tracker.Bodies()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/json", strings.NewReader(`{"a":1}`)))
	assert.Equal(t, int64(1), requests)
	assert.Equal(t, int64(1), bodies)
	assert.Equal(t, []float64{1, 0}, gauge.values)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/query", nil))
	assert.Equal(t, int64(1), requests)
	assert.Equal(t, int64(0), bodies)
	assert.Equal(t, []float64{1, 0}, gauge.values)

	assert.Equal(t, int64(0), tracker.Requests())
	assert.Equal(t, int64(0), tracker.Bodies())
}

func TestIngestTrackerWithoutGauge(t *testing.T) {
	tracker := NewIngestTracker(logrus.NewEntry(logrus.New()), nil)
	tracker.Begin(true)
	assert.Equal(t, int64(1), tracker.Bodies())
	tracker.End(true)
	assert.Equal(t, int64(0), tracker.Bodies())
}

func TestCORS(t *testing.T) {
	cors := NewCORS(logrus.NewEntry(logrus.New()), CORSOptions{
		Methods:       []string{http.MethodPost, http.MethodOptions},
		Headers:       []string{"X-Signature", "content-type", "Authorization"},
		Encodings:     []string{"gzip", "br"},
		ExposeHeaders: []string{RequestIDHeader},
	})

	called := false
	handler := cors.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/json", nil))
	assert.False(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, Content-Encoding, Content-Length, X-Request-Id, X-Signature, Authorization", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "identity, gzip, br", rec.Header().Get("Accept-Encoding"))
	assert.Equal(t, "3600", rec.Header().Get("Access-Control-Max-Age"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/json", strings.NewReader("{}")))
	assert.True(t, called)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, RequestIDHeader, rec.Header().Get("Access-Control-Expose-Headers"))
	assert.Empty(t, rec.Header().Get("Accept-Encoding"))
}
