// Package signing authenticates partner requests signed with a shared API key
// secret. A signature covers the timestamp, nonce, method, canonical path and
// body; nonces are remembered for a bounded window so a captured request
// cannot be replayed.
package signing

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	gatewayconfig "defihub/gateway/config"
	"defihub/observability/logging"
)

const (
	HeaderAPIKey    = "X-Api-Key"
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"
	HeaderSignature = "X-Signature"

	// MaxBody is the largest body that will be hashed.
	MaxBody = 1 << 20

	maxSkew         = 2 * time.Minute
	maxNonceTTL     = 10 * time.Minute
	defaultCapacity = 4096
	maxCapacity     = 65536
	pruneInterval   = time.Minute
)

var (
	ErrMissingHeader = errors.New("missing signing header")
	ErrUnknownKey    = errors.New("unknown API key")
	ErrBadSignature  = errors.New("invalid signature")
	ErrStale         = errors.New("timestamp outside allowed skew")
	ErrReplay        = errors.New("nonce already used")
	ErrNotIncreasing = errors.New("timestamp not increasing")
)

type contextKey struct{}

// Partner identifies the API key that signed a request.
type Partner struct {
	APIKey string
}

// PartnerFrom returns the signing partner stored on ctx by Middleware.
func PartnerFrom(ctx context.Context) (Partner, bool) {
	p, ok := ctx.Value(contextKey{}).(Partner)
	return p, ok
}

// NonceRecord is one observed (key, timestamp, nonce) triple.
type NonceRecord struct {
	APIKey     string
	Timestamp  string
	Nonce      string
	ObservedAt time.Time
}

// NonceLog persists nonces across restarts.
type NonceLog interface {
	// Remember stores rec and reports whether it was already present.
	Remember(ctx context.Context, rec NonceRecord) (bool, error)
	Since(ctx context.Context, cutoff time.Time) ([]NonceRecord, error)
	Prune(ctx context.Context, cutoff time.Time) error
}

// Option customises a Verifier.
type Option func(*Verifier)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithNonceLog persists nonces through log.
func WithNonceLog(log NonceLog) Option {
	return func(v *Verifier) { v.log = log }
}

// WithLogger sets the logger used for rejected requests.
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// Verifier checks signed requests.
type Verifier struct {
	secrets  map[string]string
	skew     time.Duration
	nonceTTL time.Duration
	capacity int
	now      func() time.Time
	log      NonceLog
	logger   *slog.Logger

	mu     sync.Mutex
	nonces map[string]*nonceWindow
	latest map[string]int64
	pruned time.Time
}

// New builds a Verifier from the gateway signing section. Skew, TTL and
// capacity are clamped to safe bounds.
func New(cfg gatewayconfig.SigningConfig, opts ...Option) (*Verifier, error) {
	if len(cfg.Keys) == 0 {
		return nil, errors.New("signing: at least one API key is required")
	}
	v := &Verifier{
		secrets:  make(map[string]string, len(cfg.Keys)),
		skew:     clampDuration(cfg.TimestampSkew, maxSkew),
		nonceTTL: clampDuration(cfg.NonceTTL, maxNonceTTL),
		capacity: cfg.NonceCapacity,
		now:      time.Now,
		logger:   slog.Default(),
		nonces:   make(map[string]*nonceWindow),
		latest:   make(map[string]int64),
	}
	if v.capacity <= 0 {
		v.capacity = defaultCapacity
	}
	if v.capacity > maxCapacity {
		v.capacity = maxCapacity
	}
	for key, secret := range cfg.Keys {
		key, secret = strings.TrimSpace(key), strings.TrimSpace(secret)
		if key == "" || secret == "" {
			return nil, fmt.Errorf("signing: API key %q has an empty secret", key)
		}
		v.secrets[key] = secret
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

func clampDuration(d, limit time.Duration) time.Duration {
	if d <= 0 || d > limit {
		return limit
	}
	return d
}

// Warm loads nonces persisted within the replay window.
func (v *Verifier) Warm(ctx context.Context) error {
	if v.log == nil {
		return nil
	}
	records, err := v.log.Since(ctx, v.now().Add(-v.nonceTTL))
	if err != nil {
		return fmt.Errorf("signing: load nonces: %w", err)
	}
	for _, rec := range records {
		if rec.APIKey == "" || rec.Timestamp == "" || rec.Nonce == "" {
			continue
		}
		v.window(rec.APIKey).add(rec.Timestamp+"|"+rec.Nonce, rec.ObservedAt)
	}
	return nil
}

// Verify authenticates r whose body has already been read into body.
func (v *Verifier) Verify(r *http.Request, body []byte) (Partner, error) {
	if len(body) > MaxBody {
		return Partner{}, fmt.Errorf("request body exceeds %d bytes", MaxBody)
	}
	key := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	stamp := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
	sig := strings.TrimSpace(r.Header.Get(HeaderSignature))
	for name, value := range map[string]string{HeaderAPIKey: key, HeaderTimestamp: stamp, HeaderNonce: nonce, HeaderSignature: sig} {
		if value == "" {
			return Partner{}, fmt.Errorf("%w: %s", ErrMissingHeader, name)
		}
	}
	secret, ok := v.secrets[key]
	if !ok {
		return Partner{}, ErrUnknownKey
	}
	secs, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return Partner{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	now := v.now().UTC()
	ts := time.Unix(secs, 0).UTC()
	if d := now.Sub(ts); d > v.skew || d < -v.skew {
		return Partner{}, ErrStale
	}
	provided, err := hex.DecodeString(sig)
	if err != nil {
		return Partner{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !hmac.Equal(provided, Sign(secret, stamp, nonce, r.Method, CanonicalPath(r), body)) {
		return Partner{}, ErrBadSignature
	}
	replay, err := v.remember(r.Context(), key, stamp, nonce, now)
	if err != nil {
		return Partner{}, err
	}
	if replay {
		return Partner{}, ErrReplay
	}
	if v.regressed(key, secs, now) {
		return Partner{}, ErrNotIncreasing
	}
	return Partner{APIKey: key}, nil
}

// Middleware verifies requests carrying an X-Api-Key header. Requests without
// one are handed to fallback, which is usually bearer-token auth.
func (v *Verifier) Middleware(fallback func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		unsigned := next
		if fallback != nil {
			unsigned = fallback(next)
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.TrimSpace(r.Header.Get(HeaderAPIKey)) == "" {
				unsigned.ServeHTTP(w, r)
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, MaxBody+1))
			if err != nil {
				reject(w, "unreadable body")
				return
			}
			partner, err := v.Verify(r, body)
			if err != nil {
				v.logger.Warn("signed request rejected",
					slog.String("path", r.URL.Path),
					logging.MaskField("apiKey", r.Header.Get(HeaderAPIKey)),
					slog.Any("error", err))
				reject(w, "invalid signature")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, partner)))
		})
	}
}

func reject(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (v *Verifier) remember(ctx context.Context, key, stamp, nonce string, now time.Time) (bool, error) {
	win := v.window(key)
	composite := stamp + "|" + nonce
	if win.contains(composite, now) {
		return true, nil
	}
	if v.log != nil {
		if err := v.prune(ctx, now); err != nil {
			return false, err
		}
		seen, err := v.log.Remember(ctx, NonceRecord{APIKey: key, Timestamp: stamp, Nonce: nonce, ObservedAt: now})
		if err != nil {
			return false, fmt.Errorf("signing: persist nonce: %w", err)
		}
		win.add(composite, now)
		return seen, nil
	}
	win.add(composite, now)
	return false, nil
}

func (v *Verifier) prune(ctx context.Context, now time.Time) error {
	v.mu.Lock()
	due := v.pruned.IsZero() || now.Sub(v.pruned) >= pruneInterval
	if due {
		v.pruned = now
	}
	v.mu.Unlock()
	if !due {
		return nil
	}
	if err := v.log.Prune(ctx, now.Add(-v.nonceTTL)); err != nil {
		return fmt.Errorf("signing: prune nonces: %w", err)
	}
	return nil
}

// regressed reports a timestamp at or before the last one accepted for key
// while that one is still inside the skew window.
func (v *Verifier) regressed(key string, secs int64, now time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	last, ok := v.latest[key]
	if ok && time.Unix(last, 0).After(now.Add(-v.skew)) && secs <= last {
		return true
	}
	if !ok || secs > last {
		v.latest[key] = secs
	}
	return false
}

func (v *Verifier) window(key string) *nonceWindow {
	v.mu.Lock()
	defer v.mu.Unlock()
	win, ok := v.nonces[key]
	if !ok {
		win = newNonceWindow(v.nonceTTL, v.capacity)
		v.nonces[key] = win
	}
	return win
}

// CanonicalPath is the request path with query parameters sorted.
func CanonicalPath(r *http.Request) string {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	if r.URL.RawQuery != "" {
		parts := strings.Split(r.URL.RawQuery, "&")
		sort.Strings(parts)
		path += "?" + strings.Join(parts, "&")
	}
	return path
}

// Sign computes the HMAC-SHA256 over the newline-joined request fields.
func Sign(secret, timestamp, nonce, method, path string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join([]string{timestamp, nonce, strings.ToUpper(method), path, string(body)}, "\n")))
	return mac.Sum(nil)
}
