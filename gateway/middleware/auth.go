package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	gatewayconfig "defihub/gateway/config"
)

// Scope is a defihub permission carried by a bearer token.
type Scope string

const (
	// ScopeRead covers account positions, transaction status and the journal.
	ScopeRead Scope = "defihub:read"
	// ScopeCalls covers call previews and implies ScopeRead.
	ScopeCalls Scope = "defihub:calls"
)

var implied = map[Scope][]Scope{
	ScopeCalls: {ScopeRead},
}

var errNoSecret = errors.New("auth secret not configured")

// Grant is what an accepted bearer token allows.
type Grant struct {
	Subject string
	Scopes  []Scope
}

// Allows reports whether the grant covers every required scope, directly or
// through an implied scope.
func (g Grant) Allows(required ...Scope) bool {
	held := make(map[Scope]struct{}, len(g.Scopes)*2)
	for _, s := range g.Scopes {
		held[s] = struct{}{}
		for _, sub := range implied[s] {
			held[sub] = struct{}{}
		}
	}
	for _, s := range required {
		if _, ok := held[s]; !ok {
			return false
		}
	}
	return true
}

type grantKey struct{}

// GrantFrom returns the grant of the authenticated caller, if any.
func GrantFrom(ctx context.Context) (Grant, bool) {
	g, ok := ctx.Value(grantKey{}).(Grant)
	return g, ok
}

// Authenticator verifies HMAC-signed bearer tokens against the configured
// issuer and audience and checks their defihub scopes.
type Authenticator struct {
	cfg    gatewayconfig.AuthConfig
	secret []byte
	parser *jwt.Parser
	logger *slog.Logger
	now    func() time.Time
}

func NewAuthenticator(cfg gatewayconfig.AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	a := &Authenticator{
		cfg:    cfg,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		logger: logger,
		now:    time.Now,
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithTimeFunc(func() time.Time { return a.now() }),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	a.parser = jwt.NewParser(opts...)
	return a
}

// Middleware admits requests whose token grants every required scope. With
// auth disabled, or on an optional path when anonymous access is allowed,
// requests pass through without a grant.
func (a *Authenticator) Middleware(required ...Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled || (a.cfg.AllowAnonymous && a.optional(r.URL.Path)) {
				next.ServeHTTP(w, r)
				return
			}
			raw := bearerToken(r.Header.Get("Authorization"))
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			grant, err := a.authenticate(raw)
			if err != nil {
				a.logger.Warn("gateway token rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if !grant.Allows(required...) {
				a.logger.Info("gateway scope denied",
					slog.String("path", r.URL.Path),
					slog.String("subject", grant.Subject),
					slog.Any("required", required))
				writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), grantKey{}, grant)))
		})
	}
}

func (a *Authenticator) optional(path string) bool {
	for _, prefix := range a.cfg.OptionalPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (a *Authenticator) authenticate(raw string) (Grant, error) {
	if len(a.secret) == 0 {
		return Grant{}, errNoSecret
	}
	claims := jwt.MapClaims{}
	if _, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}); err != nil {
		return Grant{}, err
	}
	scopes, err := scopesOf(claims[a.cfg.ScopeClaim])
	if err != nil {
		return Grant{}, err
	}
	subject, _ := claims.GetSubject()
	return Grant{Subject: subject, Scopes: scopes}, nil
}

// scopesOf accepts the space-delimited string form and the JSON array form.
func scopesOf(claim any) ([]Scope, error) {
	var names []string
	switch v := claim.(type) {
	case nil:
		return nil, nil
	case string:
		names = strings.Fields(v)
	case []interface{}:
		for _, entry := range v {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("scope claim entry %v is not a string", entry)
			}
			names = append(names, s)
		}
	default:
		return nil, fmt.Errorf("scope claim has type %T", claim)
	}
	out := make([]Scope, 0, len(names))
	for _, name := range names {
		out = append(out, Scope(name))
	}
	return out, nil
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
