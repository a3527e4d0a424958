package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pybuddy/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(h http.Handler, remote, forwarded string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/challenges/sum-calculator/grade", nil)
	req.RemoteAddr = remote
	if forwarded != "" {
		req.Header.Set("X-Forwarded-For", forwarded)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterRejectsAfterBurst(t *testing.T) {
	before := testutil.ToFloat64(metrics.RateLimitedTotal)
	h := RateLimitMiddleware(time.Hour, 2)(okHandler())

	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:5000", "").Code)
	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:5001", "").Code)

	rec := doRequest(h, "10.0.0.1:5002", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":"Too many requests"}`, rec.Body.String())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RateLimitedTotal))

	// Separate clients have separate buckets.
	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.2:5000", "").Code)
}

func TestRateLimiterUsesFirstForwardedAddress(t *testing.T) {
	l := NewIPRateLimiter(rate.Every(time.Hour), 1)
	h := l.Middleware(okHandler())

	assert.Equal(t, http.StatusOK, doRequest(h, "192.168.1.1:80", "203.0.113.7, 10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(h, "192.168.1.2:80", "203.0.113.7").Code)
	assert.Equal(t, http.StatusOK, doRequest(h, "192.168.1.1:80", "198.51.100.1, 10.0.0.1").Code)
}

func TestGetIP(t *testing.T) {
	l := NewIPRateLimiter(rate.Inf, 1)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	assert.Equal(t, "127.0.0.1", l.getIP(req))

	req.RemoteAddr = "not-a-hostport"
	assert.Equal(t, "not-a-hostport", l.getIP(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.9 ,10.0.0.1")
	assert.Equal(t, "203.0.113.9", l.getIP(req))
}

func TestForgetDropsIdleClients(t *testing.T) {
	l := NewIPRateLimiter(rate.Every(time.Hour), 1)
	l.getLimiter("10.0.0.1")
	l.ips["10.0.0.1"].lastSeen = time.Now().Add(-time.Hour)
	l.getLimiter("10.0.0.2")

	assert.Equal(t, 1, l.Forget(10*time.Minute))
	assert.Len(t, l.ips, 1)
	assert.Contains(t, l.ips, "10.0.0.2")
}
