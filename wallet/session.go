package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"defihub/crypto"
	"defihub/failure"
	"defihub/observability"
	"defihub/observability/logging"
)

// DefaultWatchInterval is how often a session re-reads the wallet state.
const DefaultWatchInterval = 3 * time.Second

// State is the connection state of a session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
)

// Snapshot is a consistent copy of the session state. Address is non-empty
// exactly when State is StateConnected.
type Snapshot struct {
	Address           string    `json:"address,omitempty"`
	Network           string    `json:"network,omitempty"`
	NetworkPassphrase string    `json:"networkPassphrase,omitempty"`
	State             State     `json:"state"`
	ConnectedAt       time.Time `json:"connectedAt,omitempty"`
}

// CanSign reports whether the snapshot describes a session able to request signatures.
func (s Snapshot) CanSign() bool {
	return s.State == StateConnected && s.Address != ""
}

// EventType names a change observed on the wallet.
type EventType string

const (
	EventAccountChanged EventType = "account_changed"
	EventNetworkChanged EventType = "network_changed"
	EventDisconnected   EventType = "disconnected"
)

// Event is delivered to subscribers after the session state changed.
type Event struct {
	Type     EventType
	Previous Snapshot
	Current  Snapshot
}

// Option configures a Session.
type Option func(*Session)

// WithWatchInterval overrides the polling interval of the watcher.
func WithWatchInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the logger used for watcher diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock injects the time source used for ConnectedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMetrics overrides the metrics recorder. A nil recorder disables metrics.
func WithMetrics(m *observability.WalletMetrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// Session is a live connection to a wallet extension. It is safe for
// concurrent use. The zero value is not usable; call Connect.
type Session struct {
	ext      Extension
	logger   *slog.Logger
	metrics  *observability.WalletMetrics
	interval time.Duration
	now      func() time.Time

	mu   sync.RWMutex
	snap Snapshot

	subsMu     sync.Mutex
	subs       map[int]chan Event
	nextSub    int
	subsClosed bool

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Connect asks the extension for access and starts watching it for account
// and network changes.
func Connect(ctx context.Context, ext Extension, opts ...Option) (*Session, error) {
	const op = "connect"
	if ext == nil {
		return nil, failure.New(failure.KindExtension, op, ErrExtensionNotFound)
	}
	s := &Session{
		ext:      ext,
		logger:   slog.Default(),
		metrics:  observability.Wallet(),
		interval: DefaultWatchInterval,
		now:      time.Now,
		subs:     map[int]chan Event{},
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	installed, err := ext.IsConnected(ctx)
	if err != nil {
		return nil, failure.New(failure.KindExtension, op, fmt.Errorf("%w: %w", ErrExtensionNotFound, err))
	}
	if !installed {
		return nil, failure.New(failure.KindExtension, op, ErrExtensionNotFound)
	}
	address, err := ext.RequestAccess(ctx)
	if err != nil {
		return nil, failure.New(failure.KindExtension, op, fmt.Errorf("%w: %w", ErrAccessDenied, err))
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, failure.New(failure.KindExtension, op, ErrAccessDenied)
	}
	if _, err := crypto.DecodeAccount(address); err != nil {
		return nil, failure.New(failure.KindExtension, op, fmt.Errorf("%w: wallet returned %w", ErrAccessDenied, err))
	}
	network, err := ext.GetNetwork(ctx)
	if err != nil {
		return nil, failure.New(failure.KindExtension, op, fmt.Errorf("wallet: read network: %w", err))
	}
	network = normalizeNetwork(network)
	if network.Passphrase == "" {
		return nil, failure.Newf(failure.KindExtension, op, "wallet reported no network passphrase")
	}

	s.snap = Snapshot{
		Address:           address,
		Network:           network.Name,
		NetworkPassphrase: network.Passphrase,
		State:             StateConnected,
		ConnectedAt:       s.now().UTC(),
	}
	s.metrics.SessionOpened()
	s.metrics.RecordEvent("connected")
	s.logger.Info("wallet connected",
		logging.MaskAddress("address", address),
		slog.String("network", network.Name))

	watchCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.watch(watchCtx)
	return s, nil
}

// Snapshot returns a copy of the current session state.
func (s *Session) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{State: StateDisconnected}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Done is closed once the session has disconnected.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Sign asks the wallet to sign envelope for the given network. The session
// refuses when the wallet is on a different network.
func (s *Session) Sign(ctx context.Context, envelope, passphrase string) (string, error) {
	const op = "sign"
	snap := s.Snapshot()
	if !snap.CanSign() {
		return "", failure.New(failure.KindExtension, op, ErrNotConnected)
	}
	if err := checkNetwork(snap, passphrase); err != nil {
		s.metrics.RecordSignature("network_mismatch")
		return "", err
	}
	signed, err := s.ext.SignTransaction(ctx, envelope, SignOptions{
		NetworkPassphrase: passphrase,
		Address:           snap.Address,
	})
	if err != nil {
		s.metrics.RecordSignature("rejected")
		return "", failure.New(failure.KindSigning, op, fmt.Errorf("%w: %w", ErrSigningRejected, err))
	}
	signed = strings.TrimSpace(signed)
	if signed == "" {
		s.metrics.RecordSignature("rejected")
		return "", failure.New(failure.KindSigning, op, fmt.Errorf("%w: empty signature", ErrSigningRejected))
	}
	s.metrics.RecordSignature("signed")
	return signed, nil
}

// EnsureNetwork reads the wallet's current network, folds any change into the
// session and fails when it differs from passphrase.
func (s *Session) EnsureNetwork(ctx context.Context, passphrase string) error {
	if !s.Snapshot().CanSign() {
		return failure.New(failure.KindExtension, "network check", ErrNotConnected)
	}
	network, err := s.ext.GetNetwork(ctx)
	if err != nil {
		return failure.New(failure.KindExtension, "network check", fmt.Errorf("wallet: read network: %w", err))
	}
	s.applyNetwork(normalizeNetwork(network))
	return checkNetwork(s.Snapshot(), passphrase)
}

func checkNetwork(snap Snapshot, passphrase string) error {
	if strings.TrimSpace(passphrase) == snap.NetworkPassphrase {
		return nil
	}
	return failure.New(failure.KindNetworkMismatch, "network check",
		fmt.Errorf("%w: wallet is on %s", ErrNetworkMismatch, displayNetwork(snap)))
}

func displayNetwork(snap Snapshot) string {
	if snap.Network != "" {
		return snap.Network
	}
	return crypto.NetworkName(snap.NetworkPassphrase)
}

// Subscribe registers a listener for session events. Events that do not fit
// in the buffer are dropped. The channel is closed by unsubscribe or when the
// session disconnects.
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if s.subsClosed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
		})
	}
}

func (s *Session) emit(ev Event) {
	s.metrics.RecordEvent(string(ev.Type))
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("wallet event dropped", slog.String("event", string(ev.Type)))
		}
	}
}

// Refresh re-reads the wallet state immediately instead of waiting for the
// next watcher tick.
func (s *Session) Refresh(ctx context.Context) error {
	select {
	case <-s.done:
		return failure.New(failure.KindExtension, "refresh", ErrNotConnected)
	default:
	}
	if !s.poll(ctx) {
		s.teardown("wallet disconnected")
		return failure.New(failure.KindExtension, "refresh", ErrNotConnected)
	}
	return nil
}

// Disconnect stops the watcher and clears the session. It is idempotent.
func (s *Session) Disconnect() {
	if s == nil {
		return
	}
	s.teardown("disconnect requested")
	s.wg.Wait()
}

func (s *Session) watch(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pollCtx, cancel := context.WithTimeout(ctx, s.interval)
			alive := s.poll(pollCtx)
			cancel()
			if !alive {
				s.teardown("wallet disconnected")
				return
			}
		}
	}
}

// poll reports false when the wallet no longer grants access. Transient read
// errors keep the current state.
func (s *Session) poll(ctx context.Context) bool {
	connected, err := s.ext.IsConnected(ctx)
	if err != nil {
		s.logger.Warn("wallet status unavailable", slog.Any("error", err))
		return true
	}
	if !connected {
		return false
	}
	address, err := s.ext.GetAddress(ctx)
	if err != nil {
		s.logger.Warn("wallet address unavailable", slog.Any("error", err))
		return true
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return false
	}
	if _, err := crypto.DecodeAccount(address); err != nil {
		s.logger.Warn("wallet returned invalid address", slog.Any("error", err))
		return false
	}
	s.applyAddress(address)

	network, err := s.ext.GetNetwork(ctx)
	if err != nil {
		s.logger.Warn("wallet network unavailable", slog.Any("error", err))
		return true
	}
	s.applyNetwork(normalizeNetwork(network))
	return true
}

func (s *Session) applyAddress(address string) {
	s.mu.Lock()
	prev := s.snap
	if prev.State != StateConnected || prev.Address == address {
		s.mu.Unlock()
		return
	}
	s.snap.Address = address
	cur := s.snap
	s.mu.Unlock()
	s.logger.Info("wallet account changed", logging.MaskAddress("address", address))
	s.emit(Event{Type: EventAccountChanged, Previous: prev, Current: cur})
}

func (s *Session) applyNetwork(network Network) {
	if network.Passphrase == "" {
		return
	}
	s.mu.Lock()
	prev := s.snap
	if prev.State != StateConnected || prev.NetworkPassphrase == network.Passphrase {
		s.mu.Unlock()
		return
	}
	s.snap.Network = network.Name
	s.snap.NetworkPassphrase = network.Passphrase
	cur := s.snap
	s.mu.Unlock()
	s.logger.Info("wallet network changed", slog.String("network", network.Name))
	s.emit(Event{Type: EventNetworkChanged, Previous: prev, Current: cur})
}

func (s *Session) teardown(reason string) {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Lock()
		prev := s.snap
		s.snap = Snapshot{State: StateDisconnected}
		cur := s.snap
		s.mu.Unlock()

		s.emit(Event{Type: EventDisconnected, Previous: prev, Current: cur})
		s.subsMu.Lock()
		for id, ch := range s.subs {
			delete(s.subs, id)
			close(ch)
		}
		s.subsClosed = true
		s.subsMu.Unlock()

		s.metrics.SessionClosed()
		s.logger.Info("wallet session closed", slog.String("reason", reason))
		close(s.done)
	})
}
