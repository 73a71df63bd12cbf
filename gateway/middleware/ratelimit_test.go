package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gatewayconfig "defihub/gateway/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func limitConfig(limits ...gatewayconfig.RateLimitConfig) gatewayconfig.Config {
	cfg := gatewayconfig.Default()
	cfg.RateLimits = limits
	return cfg
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(limitConfig(gatewayconfig.RateLimitConfig{ID: "default", RequestsPerMinute: 1, Burst: 1}), nil)
	handler := limiter.Middleware("/v1/quote")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/quote", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
	if res.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestRateLimiterSeparatesBuckets(t *testing.T) {
	limiter := NewRateLimiter(limitConfig(
		gatewayconfig.RateLimitConfig{ID: "default", RequestsPerMinute: 1, Burst: 1},
		gatewayconfig.RateLimitConfig{ID: "calls", RequestsPerMinute: 1, Burst: 1, Paths: []string{"/v1/calls"}},
	), nil)
	quote := limiter.Middleware("/v1/quote")(okHandler())
	calls := limiter.Middleware("/v1/calls")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/quote", nil)
	req.Header.Set("X-API-Key", "tenant-A")
	res := httptest.NewRecorder()
	quote.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected quote request to succeed, got %d", res.Code)
	}

	callReq := httptest.NewRequest(http.MethodPost, "/v1/calls", nil)
	callReq.Header.Set("X-API-Key", "tenant-A")
	callRes := httptest.NewRecorder()
	calls.ServeHTTP(callRes, callReq)
	if callRes.Code != http.StatusOK {
		t.Fatalf("expected first calls request to succeed, got %d", callRes.Code)
	}

	callRes = httptest.NewRecorder()
	calls.ServeHTTP(callRes, callReq)
	if callRes.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second calls request to hit limit, got %d", callRes.Code)
	}
}

func TestRateLimiterPrefersAPIKeyOverIP(t *testing.T) {
	limiter := NewRateLimiter(limitConfig(gatewayconfig.RateLimitConfig{ID: "default", RequestsPerMinute: 1, Burst: 1}), nil)
	handler := limiter.Middleware("/v1/assets")(okHandler())

	for _, tenant := range []string{"tenant-A", "tenant-B"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/assets", nil)
		req.Header.Set("X-API-Key", tenant)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("expected %s request to succeed, got %d", tenant, res.Code)
		}
	}
}

func TestRateLimiterPassesUnmatchedRoutes(t *testing.T) {
	limiter := NewRateLimiter(limitConfig(gatewayconfig.RateLimitConfig{ID: "calls", RequestsPerMinute: 1, Burst: 1, Paths: []string{"/v1/calls"}}), nil)
	handler := limiter.Middleware("/healthz")(okHandler())
	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if res.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, res.Code)
		}
	}
}

func TestRateLimiterEvictsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(limitConfig(gatewayconfig.RateLimitConfig{ID: "default", RequestsPerMinute: 60, Burst: 1}), nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	handler := limiter.Middleware("/v1/quote")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/quote", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if limiter.size() != 1 {
		t.Fatalf("expected one visitor, got %d", limiter.size())
	}

	now = now.Add(visitorTTL + time.Second)
	other := httptest.NewRequest(http.MethodPost, "/v1/quote", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	handler.ServeHTTP(httptest.NewRecorder(), other)
	if limiter.size() != 1 {
		t.Fatalf("expected idle visitor to be evicted, got %d", limiter.size())
	}
}

func TestClientIDUsesForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientID(req); got != "203.0.113.7" {
		t.Fatalf("expected first forwarded address, got %q", got)
	}
}
