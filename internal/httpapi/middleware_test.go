package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"inkpost.org/internal/obs"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitExceeded(t *testing.T) {
	handler := RequestID(NewRateLimiter(1, 1).Middleware(okHandler()))

	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req.Clone(context.Background()))
	require.Equal(t, http.StatusOK, rr1.Code)

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req.Clone(context.Background()))
	require.Equal(t, http.StatusTooManyRequests, rr2.Code)
	assert.Equal(t, "1", rr2.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr2.Body.Bytes(), &body))
	assert.Equal(t, "rate limit exceeded", body["error"])
	assert.Equal(t, "RATE_LIMITED", body["code"])
	assert.NotEmpty(t, body["request_id"])

	// Other clients have their own bucket.
	other := req.Clone(context.Background())
	other.RemoteAddr = "10.0.0.2:1234"
	rr3 := httptest.NewRecorder()
	handler.ServeHTTP(rr3, other)
	assert.Equal(t, http.StatusOK, rr3.Code)
}

func TestRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	l := NewRateLimiter(1, 5)
	frozen := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return frozen }
	handler := l.Middleware(okHandler())

	limited := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		req.RemoteAddr = "203.0.113.7:40000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 45, limited, "rotating X-Forwarded-For does not earn fresh buckets")
}

func TestRateLimitBehindTrustedProxy(t *testing.T) {
	l := NewRateLimiter(1, 1, netip.MustParsePrefix("10.0.0.0/8"))
	frozen := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return frozen }
	handler := l.Middleware(okHandler())

	send := func(xff string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		req.RemoteAddr = "10.1.2.3:443"
		req.Header.Set("X-Forwarded-For", xff)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, send("198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("198.51.100.1"))
	assert.Equal(t, http.StatusOK, send("198.51.100.2"), "distinct clients behind the proxy")
	// A forged leftmost entry cannot move the client off its bucket.
	assert.Equal(t, http.StatusTooManyRequests, send("192.0.2.99, 198.51.100.1"))
}

func TestClientIP(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8"), netip.MustParsePrefix("fd00::/8")}
	cases := []struct {
		name    string
		remote  string
		xff     []string
		trusted []netip.Prefix
		want    string
	}{
		{"no proxies configured", "203.0.113.7:1", []string{"198.51.100.1"}, nil, "203.0.113.7"},
		{"untrusted peer", "203.0.113.7:1", []string{"198.51.100.1"}, trusted, "203.0.113.7"},
		{"trusted peer without header", "10.0.0.5:1", nil, trusted, "10.0.0.5"},
		{"single hop", "10.0.0.5:1", []string{"198.51.100.1"}, trusted, "198.51.100.1"},
		{"proxy chain", "10.0.0.5:1", []string{"192.0.2.1, 198.51.100.1, 10.9.9.9"}, trusted, "198.51.100.1"},
		{"repeated headers", "10.0.0.5:1", []string{"192.0.2.1", "198.51.100.1"}, trusted, "198.51.100.1"},
		{"garbage hop", "10.0.0.5:1", []string{"198.51.100.1, nonsense"}, trusted, "10.0.0.5"},
		{"ipv6 proxy", "[fd00::1]:1", []string{"2001:db8::7"}, trusted, "2001:db8::7"},
		{"no port", "203.0.113.7", nil, trusted, "203.0.113.7"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for _, v := range tc.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			assert.Equal(t, tc.want, clientIP(req, tc.trusted))
		})
	}
}

func TestRateLimiterRefillsAndSweeps(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewRateLimiter(1, 1)
	l.now = func() time.Time { return now }

	ok, _ := l.Allow("a")
	require.True(t, ok)
	ok, wait := l.Allow("a")
	require.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))

	now = now.Add(time.Second)
	ok, _ = l.Allow("a")
	assert.True(t, ok)

	now = now.Add(10 * time.Minute)
	l.Allow("b")
	l.mu.Lock()
	_, kept := l.buckets["a"]
	l.mu.Unlock()
	assert.False(t, kept, "idle buckets are swept")
}

func TestLoggingJSONEmitsStructuredEntry(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	restore := obs.SetLogger(zap.New(core))
	defer restore()

	handler := RequestID(LoggingJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/log-test", nil)
	req.Header.Set("User-Agent", "middleware-test")
	req.RemoteAddr = "127.0.0.1:1234"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("request_complete").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	for _, key := range []string{"request_id", "method", "path", "status", "duration_ms", "remote_ip", "user_agent"} {
		assert.Contains(t, fields, key)
	}
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
	assert.Equal(t, "/log-test", fields["path"])
	assert.Equal(t, "127.0.0.1", fields["remote_ip"])
}

func TestRequestIDPropagatesOrGenerates(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rr.Header().Get(requestIDHeader))

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 26)
	assert.Equal(t, seen, rr.Header().Get(requestIDHeader))
}

func TestCORS(t *testing.T) {
	handler := CORS(okHandler(), "https://app.example.com")

	pre := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/login", nil)
	pre.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, pre)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))

	foreign := httptest.NewRequest(http.MethodGet, "/", nil)
	foreign.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, foreign)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurityHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
}

func TestMaxBodyBytes(t *testing.T) {
	var readErr error
	handler := MaxBodyBytes(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}), 8)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"too":"large body"}`))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.Error(t, readErr)
}

func TestAuditFailureIsLoggedAtDebug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	a := &API{log: zap.New(core)}

	a.audit(context.Background(), "  ", nil)

	entries := logs.FilterMessage("audit event not recorded").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Contains(t, entries[0].ContextMap()["error"], "event name is required")
}
