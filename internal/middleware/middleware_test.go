package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/discord-lookup/internal/auth"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(Logger(logger))
	r.Get("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("nope"))
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/missing", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "request completed", line["msg"])
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "GET", line["method"])
	assert.Equal(t, "/missing", line["path"])
	assert.EqualValues(t, 404, line["status"])
	assert.EqualValues(t, 4, line["bytes"])
	assert.NotEmpty(t, line["requestID"])
}

func TestResponseWriter_DefaultsTo200(t *testing.T) {
	rw := wrap(httptest.NewRecorder())
	rw.Write([]byte("hi"))
	rw.WriteHeader(http.StatusTeapot) // ignored once the body started

	assert.Equal(t, http.StatusOK, rw.statusCode)
	assert.EqualValues(t, 2, rw.written)
}

func TestMetrics_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/api/discord/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	counter := httpRequests.WithLabelValues(http.MethodGet, "/api/discord/users/{id}", "200")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"1", "2", "3"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/discord/users/"+id, nil))
	}

	assert.Equal(t, before+3, testutil.ToFloat64(counter))
}

func TestMetrics_Unmatched(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/known", func(w http.ResponseWriter, r *http.Request) {})

	counter := httpRequests.WithLabelValues(http.MethodGet, "unmatched", "404")
	before := testutil.ToFloat64(counter)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestKeyByAccountOrIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:12345"

	if got := KeyByAccountOrIP(req); got != "ip:203.0.113.9" {
		t.Fatalf("expected ip key, got %q", got)
	}

	req = req.WithContext(auth.WithAccountID(req.Context(), 42))
	if got := KeyByAccountOrIP(req); got != "account:42" {
		t.Fatalf("expected account key, got %q", got)
	}
}

func TestRateLimiter_BurstThen429(t *testing.T) {
	rl := NewRateLimiter(0.001, 2, KeyByAccountOrIP)
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/discord/roulette", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusOK, do("198.51.100.1:1").Code)
	assert.Equal(t, http.StatusOK, do("198.51.100.1:2").Code)

	rr := do("198.51.100.1:3")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.True(t, strings.Contains(rr.Body.String(), `"error":"rate_limited"`))

	// another client has its own bucket
	assert.Equal(t, http.StatusOK, do("198.51.100.2:1").Code)
}

func TestRateLimiter_BurstCoercedAndReused(t *testing.T) {
	rl := NewRateLimiter(1, 0, KeyByAccountOrIP)
	if rl.burst != 1 {
		t.Fatalf("burst = %d, want 1", rl.burst)
	}
	if rl.limiter("k") != rl.limiter("k") {
		t.Fatalf("expected the same limiter for the same key")
	}
}

func TestRateLimiter_SweepsIdle(t *testing.T) {
	rl := NewRateLimiter(1, 1, KeyByAccountOrIP)
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.limiter("old")
	now = now.Add(time.Hour)

	rl.lookups = sweepEvery - 1
	rl.limiter("new")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.visitors["old"]; ok {
		t.Fatalf("idle visitor was not swept")
	}
	if _, ok := rl.visitors["new"]; !ok {
		t.Fatalf("current visitor missing")
	}
}
