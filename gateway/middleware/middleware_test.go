package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	gatewayconfig "defihub/gateway/config"
)

const testSecret = "gateway-test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func authConfig() gatewayconfig.AuthConfig {
	return gatewayconfig.AuthConfig{
		Enabled:    true,
		HMACSecret: testSecret,
		Issuer:     "defihub",
		Audience:   "gateway",
	}
}

func TestAuthenticatorAcceptsScopedToken(t *testing.T) {
	auth := NewAuthenticator(authConfig(), nil)
	var seen Grant
	handler := auth.Middleware(ScopeCalls)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GrantFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	token := signToken(t, jwt.MapClaims{
		"iss":   "defihub",
		"aud":   "gateway",
		"sub":   "desk-7",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "defihub:calls defihub:read",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/calls", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "desk-7", seen.Subject)
	require.Equal(t, []Scope{ScopeCalls, ScopeRead}, seen.Scopes)
}

func TestCallsScopeImpliesRead(t *testing.T) {
	auth := NewAuthenticator(authConfig(), nil)
	read := auth.Middleware(ScopeRead)(okHandler())
	calls := auth.Middleware(ScopeCalls)(okHandler())

	serve := func(h http.Handler, scope any) int {
		token := signToken(t, jwt.MapClaims{"iss": "defihub", "aud": "gateway", "scope": scope})
		req := httptest.NewRequest(http.MethodGet, "/v1/positions/G", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		res := httptest.NewRecorder()
		h.ServeHTTP(res, req)
		return res.Code
	}
	require.Equal(t, http.StatusOK, serve(read, "defihub:calls"))
	require.Equal(t, http.StatusOK, serve(read, []string{"defihub:read"}))
	require.Equal(t, http.StatusForbidden, serve(calls, "defihub:read"))
	require.Equal(t, http.StatusUnauthorized, serve(calls, []any{"defihub:calls", 7}))

	require.True(t, Grant{Scopes: []Scope{ScopeCalls}}.Allows(ScopeRead, ScopeCalls))
	require.False(t, Grant{}.Allows(ScopeRead))
	require.True(t, Grant{}.Allows())
}

func TestAuthenticatorRejects(t *testing.T) {
	auth := NewAuthenticator(authConfig(), nil)
	handler := auth.Middleware(ScopeCalls)(okHandler())

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + signToken(t, jwt.MapClaims{"iss": "other", "aud": "gateway", "scope": "defihub:calls"}), http.StatusUnauthorized},
		{"wrong audience", "Bearer " + signToken(t, jwt.MapClaims{"iss": "defihub", "aud": "explorer", "scope": "defihub:calls"}), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, jwt.MapClaims{"iss": "defihub", "aud": "gateway", "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized},
		{"scheme", "Basic " + signToken(t, jwt.MapClaims{"iss": "defihub", "aud": "gateway", "scope": "defihub:calls"}), http.StatusUnauthorized},
		{"scope", "Bearer " + signToken(t, jwt.MapClaims{"iss": "defihub", "aud": []string{"gateway"}, "scope": "defihub:read"}), http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/calls", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, req)
			require.Equal(t, tc.status, res.Code)
			require.Contains(t, res.Header().Get("Content-Type"), "application/json")
		})
	}
}

func TestAuthenticatorOptionalPaths(t *testing.T) {
	cfg := authConfig()
	cfg.AllowAnonymous = true
	cfg.OptionalPaths = []string{"/v1/assets"}
	handler := NewAuthenticator(cfg, nil).Middleware()(okHandler())

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/assets", nil))
	require.Equal(t, http.StatusOK, res.Code)

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/quote", nil))
	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestAuthenticatorDisabledPassesThrough(t *testing.T) {
	handler := NewAuthenticator(gatewayconfig.AuthConfig{}, nil).Middleware(ScopeCalls)(okHandler())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/calls", nil))
	require.Equal(t, http.StatusOK, res.Code)
}

func TestCORSAllowList(t *testing.T) {
	handler := CORS(gatewayconfig.CORSConfig{AllowedOrigins: []string{"https://app.example.org/"}})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/v1/quote", nil)
	req.Header.Set("Origin", "https://app.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusNoContent, res.Code)
	require.Equal(t, "https://app.example.org", res.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", res.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, "/v1/quote", nil)
	req.Header.Set("Origin", "https://evil.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusForbidden, res.Code)
	require.Empty(t, res.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcard(t *testing.T) {
	handler := CORS(gatewayconfig.CORSConfig{})(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/v1/assets", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "*", res.Header().Get("Access-Control-Allow-Origin"))
	require.Empty(t, res.Header().Get("Access-Control-Allow-Credentials"))
}

func TestObservabilityRecordsStatus(t *testing.T) {
	obs := NewObservability(gatewayconfig.ObservabilityConfig{Metrics: true}, nil)
	handler := obs.Middleware("/v1/quote")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad"))
	}))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/quote", strings.NewReader("{}")))
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Equal(t, "bad", res.Body.String())
}
