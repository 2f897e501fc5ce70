package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circlehub/newsletter/internal/auth"
	"github.com/circlehub/newsletter/internal/config"
	"github.com/circlehub/newsletter/internal/logger"
)

type memCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	ttls   map[string]time.Duration
	err    error
}

func newMemCounter() *memCounter {
	return &memCounter{counts: map[string]int64{}, ttls: map[string]time.Duration{}}
}

func (c *memCounter) Incr(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	c.counts[key]++
	return c.counts[key], nil
}

func (c *memCounter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttls[key] = ttl
	return nil
}

func (c *memCounter) TTL(ctx context.Context, key string) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttls[key], nil
}

func newTestMiddleware(counter Counter, rateLimiting bool) *Middleware {
	cfg := &config.Config{}
	cfg.Security.RateLimiting.Enabled = rateLimiting
	return New(counter, logger.Nop(), cfg)
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimit(t *testing.T) {
	counter := newMemCounter()
	m := newTestMiddleware(counter, true)
	h := m.RateLimit(RateLimitConfig{Name: "subscribe", Limit: 2, Window: time.Minute, KeyFn: IPKey})(okHandler)

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/subscribers", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		codes = append(codes, w.Code)

		if w.Code == http.StatusTooManyRequests {
			assert.Equal(t, "60", w.Header().Get("Retry-After"))
			assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
			assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
		}
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, time.Minute, counter.ttls["newsletter:ratelimit:subscribe:203.0.113.7"])
}

func TestRateLimit_SeparateClients(t *testing.T) {
	m := newTestMiddleware(newMemCounter(), true)
	h := m.RateLimit(RateLimitConfig{Name: "subscribe", Limit: 1, Window: time.Minute, KeyFn: IPKey})(okHandler)

	for _, ip := range []string{"198.51.100.1:1234", "198.51.100.2:1234"} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = ip
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimit_FailsOpen(t *testing.T) {
	counter := newMemCounter()
	counter.err = errors.New("redis down")

	for _, enabled := range []bool{true, false} {
		m := newTestMiddleware(counter, enabled)
		h := m.RateLimit(RateLimitConfig{Name: "subscribe", Limit: 1, Window: time.Minute, KeyFn: IPKey})(okHandler)

		for range 3 {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		}
	}
}

func TestOperator(t *testing.T) {
	tokens, err := auth.NewTokenService(config.OperatorConfig{
		TokenSecret: "test-secret-value-that-is-long-enough",
		Issuer:      "newsletter",
		TokenTTL:    time.Hour,
	})
	require.NoError(t, err)
	issued, err := tokens.Issue("op_1", "Ops")
	require.NoError(t, err)

	m := newTestMiddleware(newMemCounter(), false)
	var seen string
	h := m.Operator(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.OperatorFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name           string
		header         string
		expectedStatus int
		expectedBody   string
	}{
		{name: "Valid Token", header: "Bearer " + issued.AccessToken, expectedStatus: http.StatusOK},
		{name: "Lowercase Scheme", header: "bearer " + issued.AccessToken, expectedStatus: http.StatusOK},
		{name: "Missing", header: "", expectedStatus: http.StatusUnauthorized, expectedBody: "unauthorized"},
		{name: "Wrong Scheme", header: "Basic b3A6cGFzcw==", expectedStatus: http.StatusUnauthorized, expectedBody: "unauthorized"},
		{name: "Garbage", header: "Bearer not-a-jwt", expectedStatus: http.StatusUnauthorized, expectedBody: "invalid_token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/campaigns", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			h.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, "op_1", seen)
			} else {
				assert.Empty(t, seen)
				assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	m := newTestMiddleware(newMemCounter(), false)
	var seen string
	h := m.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		reused bool
	}{
		{name: "Generated", header: ""},
		{name: "Reused", header: "req-123", reused: true},
		{name: "Too Long", header: strings.Repeat("a", 200)},
		{name: "Control Characters", header: "bad\tid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("X-Request-ID", tt.header)
			}
			w := httptest.NewRecorder()

			h.ServeHTTP(w, req)

			require.NotEmpty(t, seen)
			assert.Equal(t, seen, w.Header().Get("X-Request-ID"))
			if tt.reused {
				assert.Equal(t, tt.header, seen)
			} else {
				assert.NotEqual(t, tt.header, seen)
			}
		})
	}
}

func TestRecover(t *testing.T) {
	m := newTestMiddleware(newMemCounter(), false)
	h := m.Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_server_error")
}

func TestLogger_CapturesStatus(t *testing.T) {
	m := newTestMiddleware(newMemCounter(), false)
	h := m.Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestLogger_RecordsRequest(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Config{}
	m := New(newMemCounter(), logger.NewWithWriter(&buf, "info", "json"), cfg)
	h := m.RequestID(m.Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, float64(http.StatusOK), entry["status"])
	assert.Equal(t, float64(5), entry["bytes"])
	assert.Equal(t, "/api/v1/", entry["path"])
	assert.Equal(t, "req-42", entry["request_id"])
}

func TestCORS(t *testing.T) {
	m := newTestMiddleware(newMemCounter(), false)
	h := m.CORS([]string{"https://admin.example.org"})(okHandler)

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/admin/campaigns", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	w := preflight("https://admin.example.org")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://admin.example.org", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")

	w = preflight("https://evil.example.com")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/campaigns", nil)
	req.Header.Set("Origin", "https://admin.example.org")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://admin.example.org", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurityHeaders(t *testing.T) {
	m := newTestMiddleware(newMemCounter(), false)
	w := httptest.NewRecorder()
	m.SecurityHeaders(okHandler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}
