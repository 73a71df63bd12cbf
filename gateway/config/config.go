package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

type RateLimitConfig struct {
	ID                string   `yaml:"id" toml:"id"`
	RequestsPerMinute float64  `yaml:"requestsPerMinute" toml:"requests_per_minute"`
	Burst             int      `yaml:"burst" toml:"burst"`
	Paths             []string `yaml:"paths" toml:"paths"`
}

type ObservabilityConfig struct {
	ServiceName string `yaml:"serviceName" toml:"service_name"`
	Metrics     bool   `yaml:"metrics" toml:"metrics"`
	LogRequests bool   `yaml:"logRequests" toml:"log_requests"`
}

type AuthConfig struct {
	Enabled        bool          `yaml:"enabled" toml:"enabled"`
	HMACSecret     string        `yaml:"hmacSecret" toml:"hmac_secret"`
	Issuer         string        `yaml:"issuer" toml:"issuer"`
	Audience       string        `yaml:"audience" toml:"audience"`
	ScopeClaim     string        `yaml:"scopeClaim" toml:"scope_claim"`
	OptionalPaths  []string      `yaml:"optionalPaths" toml:"optional_paths"`
	AllowAnonymous bool          `yaml:"allowAnonymous" toml:"allow_anonymous"`
	ClockSkew      time.Duration `yaml:"clockSkew" toml:"clock_skew"`
}

// SigningConfig lists partner API keys allowed to sign requests instead of
// presenting a bearer token.
type SigningConfig struct {
	Keys          map[string]string `yaml:"keys" toml:"keys"`
	NonceStore    string            `yaml:"nonceStore" toml:"nonce_store"`
	TimestampSkew time.Duration     `yaml:"timestampSkew" toml:"timestamp_skew"`
	NonceTTL      time.Duration     `yaml:"nonceTTL" toml:"nonce_ttl"`
	NonceCapacity int               `yaml:"nonceCapacity" toml:"nonce_capacity"`
}

// Enabled reports whether any partner key is configured.
func (s SigningConfig) Enabled() bool { return len(s.Keys) > 0 }

type SecurityConfig struct {
	TLSCertFile string `yaml:"tlsCertFile" toml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tlsKeyFile" toml:"tls_key_file"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins" toml:"allowed_origins"`
}

// Config is the HTTP gateway section of the defihub configuration.
type Config struct {
	ListenAddress  string              `yaml:"listen" toml:"listen"`
	ReadTimeout    time.Duration       `yaml:"readTimeout" toml:"read_timeout"`
	WriteTimeout   time.Duration       `yaml:"writeTimeout" toml:"write_timeout"`
	IdleTimeout    time.Duration       `yaml:"idleTimeout" toml:"idle_timeout"`
	RequestTimeout time.Duration       `yaml:"requestTimeout" toml:"request_timeout"`
	StreamInterval time.Duration       `yaml:"streamInterval" toml:"stream_interval"`
	RateLimits     []RateLimitConfig   `yaml:"rateLimits" toml:"rate_limits"`
	Observability  ObservabilityConfig `yaml:"observability" toml:"observability"`
	Auth           AuthConfig          `yaml:"auth" toml:"auth"`
	Signing        SigningConfig       `yaml:"signing" toml:"signing"`
	Security       SecurityConfig      `yaml:"security" toml:"security"`
	CORS           CORSConfig          `yaml:"cors" toml:"cors"`
}

// Default returns the gateway defaults applied before decoding.
func Default() Config {
	return Config{
		ListenAddress:  "127.0.0.1:8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		RequestTimeout: 15 * time.Second,
		StreamInterval: 10 * time.Second,
		RateLimits: []RateLimitConfig{
			{ID: "default", RequestsPerMinute: 120, Burst: 20},
		},
		Observability: ObservabilityConfig{
			ServiceName: "defihub-gateway",
			Metrics:     true,
			LogRequests: true,
		},
		Auth: AuthConfig{
			ScopeClaim: "scope",
			ClockSkew:  2 * time.Minute,
		},
	}
}

// ApplyDefaults fills zero values left after decoding.
func (cfg *Config) ApplyDefaults() {
	if cfg == nil {
		return
	}
	def := Default()
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = def.ListenAddress
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = def.StreamInterval
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = def.Observability.ServiceName
	}
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = def.Auth.ClockSkew
	}
	if cfg.Auth.ScopeClaim == "" {
		cfg.Auth.ScopeClaim = def.Auth.ScopeClaim
	}
}

var ErrAuthRequired = errors.New("auth.enabled or signing.keys is required when TLS is configured")

func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.isSensitiveDeployment() && !cfg.Auth.Enabled && !cfg.Signing.Enabled() {
		return ErrAuthRequired
	}
	if (cfg.Security.TLSCertFile == "") != (cfg.Security.TLSKeyFile == "") {
		return fmt.Errorf("security.tlsCertFile and security.tlsKeyFile must be set together")
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return fmt.Errorf("auth.hmacSecret is required when auth is enabled")
	}
	trimmed := make([]string, len(cfg.Auth.OptionalPaths))
	for i, path := range cfg.Auth.OptionalPaths {
		trimmedPath := strings.TrimSpace(path)
		if trimmedPath == "" {
			return fmt.Errorf("auth.optionalPaths[%d] cannot be empty", i)
		}
		if !strings.HasPrefix(trimmedPath, "/") {
			return fmt.Errorf("auth.optionalPaths[%d] must start with '/'", i)
		}
		trimmed[i] = trimmedPath
	}
	cfg.Auth.OptionalPaths = trimmed
	if cfg.Auth.Enabled && cfg.Auth.AllowAnonymous && len(cfg.Auth.OptionalPaths) == 0 {
		return fmt.Errorf("auth.optionalPaths must list at least one entry when auth.allowAnonymous is true")
	}
	for key, secret := range cfg.Signing.Keys {
		if strings.TrimSpace(key) == "" || strings.TrimSpace(secret) == "" {
			return fmt.Errorf("signing.keys must map non-empty API keys to non-empty secrets")
		}
	}
	if cfg.Signing.NonceCapacity < 0 {
		return fmt.Errorf("signing.nonceCapacity must not be negative")
	}
	seen := map[string]struct{}{}
	for i, rl := range cfg.RateLimits {
		id := strings.TrimSpace(rl.ID)
		if id == "" {
			return fmt.Errorf("rateLimits[%d].id is required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("rateLimits[%d].id %q is duplicated", i, id)
		}
		seen[id] = struct{}{}
		if rl.RequestsPerMinute <= 0 {
			return fmt.Errorf("rateLimits[%d].requestsPerMinute must be positive", i)
		}
		for j, path := range rl.Paths {
			if !strings.HasPrefix(strings.TrimSpace(path), "/") {
				return fmt.Errorf("rateLimits[%d].paths[%d] must start with '/'", i, j)
			}
		}
	}
	return nil
}

// LimitFor returns the rate limit whose paths cover route, falling back to the
// limit with id "default".
func (cfg Config) LimitFor(route string) (RateLimitConfig, bool) {
	var fallback *RateLimitConfig
	for i := range cfg.RateLimits {
		rl := cfg.RateLimits[i]
		for _, path := range rl.Paths {
			if strings.HasPrefix(route, strings.TrimSpace(path)) {
				return rl, true
			}
		}
		if rl.ID == "default" && fallback == nil {
			fallback = &cfg.RateLimits[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return RateLimitConfig{}, false
}

func (cfg *Config) isSensitiveDeployment() bool {
	if cfg == nil {
		return false
	}
	return strings.TrimSpace(cfg.Security.TLSCertFile) != "" || strings.TrimSpace(cfg.Security.TLSKeyFile) != ""
}

// EnforceSecureScheme ensures the supplied URL uses HTTPS outside of the dev environment.
// If autoUpgrade is enabled, insecure HTTP URLs are transparently upgraded to HTTPS.
// The returned boolean indicates whether an upgrade occurred.
func EnforceSecureScheme(env string, target *url.URL, autoUpgrade bool) (*url.URL, bool, error) {
	if target == nil {
		return nil, false, fmt.Errorf("target URL is nil")
	}
	scheme := strings.ToLower(strings.TrimSpace(target.Scheme))
	switch scheme {
	case "https":
		return target, false, nil
	case "http":
		if isDevEnv(env) || isLoopback(target) {
			return target, false, nil
		}
		if autoUpgrade {
			upgraded := *target
			upgraded.Scheme = "https"
			return &upgraded, true, nil
		}
		if strings.TrimSpace(env) == "" {
			env = "(unset)"
		}
		return nil, false, fmt.Errorf("plaintext HTTP endpoints are not permitted for environment %s", env)
	case "":
		return nil, false, fmt.Errorf("URL scheme is required")
	default:
		return nil, false, fmt.Errorf("unsupported URL scheme %q", target.Scheme)
	}
}

func isDevEnv(env string) bool {
	return strings.EqualFold(strings.TrimSpace(env), "dev")
}

func isLoopback(target *url.URL) bool {
	host := target.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
