package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter(t *testing.T) {
	// burst of 2: two tokens up front, then refill at 10/s
	limiter := NewLimiter(10, 2)

	assert.True(t, limiter.Allow("test-key"), "first request")
	assert.True(t, limiter.Allow("test-key"), "second request")
	assert.False(t, limiter.Allow("test-key"), "third request should be limited")

	// Keys are independent
	assert.True(t, limiter.Allow("other-key"))

	time.Sleep(150 * time.Millisecond)
	assert.True(t, limiter.Allow("test-key"), "request after refill")
}

func TestLimiterDisabled(t *testing.T) {
	limiter := NewLimiter(0, 0)
	assert.False(t, limiter.Enabled())
	for i := 0; i < 100; i++ {
		require.True(t, limiter.Allow("k"))
	}
	assert.Equal(t, 0, limiter.Len())
}

func TestMiddleware(t *testing.T) {
	limiter := NewLimiter(1, 2)

	handler := limiter.Middleware(func(r *http.Request) string {
		return "test-key"
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestCleanupOldLimiters(t *testing.T) {
	limiter := NewLimiter(10, 1)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.Allow("stale")
	now = now.Add(10 * time.Minute)
	limiter.Allow("fresh")

	assert.Equal(t, 1, limiter.CleanupOldLimiters(5*time.Minute))
	assert.Equal(t, 1, limiter.Len())
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"remote addr", "192.0.2.10:51234", "", "192.0.2.10"},
		{"ipv6", "[2001:db8::1]:443", "", "2001:db8::1"},
		{"forwarded chain", "10.0.0.1:80", "203.0.113.7, 10.0.0.1", "203.0.113.7"},
		{"no port", "pipe", "", "pipe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, IPKeyFunc(r))
		})
	}
}

func TestAPIKeyFunc(t *testing.T) {
	newRequest := func(header, value string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "192.0.2.10:51234"
		if header != "" {
			r.Header.Set(header, value)
		}
		return r
	}

	bearerA := APIKeyFunc(newRequest("Authorization", "Bearer key-a"))
	bearerB := APIKeyFunc(newRequest("Authorization", "Bearer key-b"))
	headerA := APIKeyFunc(newRequest("X-API-Key", "key-a"))

	assert.NotEqual(t, bearerA, bearerB, "same address, different keys")
	assert.Equal(t, bearerA, headerA, "both header forms share a bucket")
	assert.NotContains(t, bearerA, "key-a", "keys are not stored verbatim")
	assert.Equal(t, bearerA, APIKeyFunc(newRequest("Authorization", "Bearer key-a")))
	assert.Equal(t, "192.0.2.10", APIKeyFunc(newRequest("", "")))
}
