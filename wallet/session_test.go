package wallet

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"defihub/crypto"
	"defihub/failure"
)

type fakeWallet struct {
	mu         sync.Mutex
	installed  bool
	connected  bool
	denyAccess bool
	rejectSign bool
	address    string
	network    Network
	signed     []SignOptions
}

func newFakeWallet(t *testing.T) *fakeWallet {
	return &fakeWallet{
		installed: true,
		connected: true,
		address:   randomAccount(t),
		network:   Network{Name: "TESTNET", Passphrase: crypto.TestNetworkPassphrase},
	}
}

func randomAccount(t *testing.T) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return crypto.MustAddress(crypto.AccountKind, pub).String()
}

func (f *fakeWallet) IsConnected(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installed && f.connected, nil
}

func (f *fakeWallet) RequestAccess(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denyAccess {
		return "", errors.New("user declined")
	}
	return f.address, nil
}

func (f *fakeWallet) GetAddress(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.address, nil
}

func (f *fakeWallet) GetNetwork(context.Context) (Network, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.network, nil
}

func (f *fakeWallet) SignTransaction(_ context.Context, envelope string, opts SignOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectSign {
		return "", errors.New("user rejected the request")
	}
	f.signed = append(f.signed, opts)
	return envelope + "-signed", nil
}

func (f *fakeWallet) set(fn func(*fakeWallet)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func connect(t *testing.T, ext Extension) *Session {
	t.Helper()
	s, err := Connect(context.Background(), ext, WithWatchInterval(time.Hour), WithMetrics(nil))
	require.NoError(t, err)
	t.Cleanup(s.Disconnect)
	return s
}

func TestConnectPopulatesSnapshot(t *testing.T) {
	ext := newFakeWallet(t)
	fixed := time.Unix(1_700_000_000, 0)
	s, err := Connect(context.Background(), ext, WithWatchInterval(time.Hour), WithMetrics(nil),
		WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	defer s.Disconnect()

	snap := s.Snapshot()
	require.Equal(t, StateConnected, snap.State)
	require.Equal(t, ext.address, snap.Address)
	require.Equal(t, "TESTNET", snap.Network)
	require.Equal(t, crypto.TestNetworkPassphrase, snap.NetworkPassphrase)
	require.True(t, snap.CanSign())
	require.True(t, snap.ConnectedAt.Equal(fixed))
}

func TestConnectFailures(t *testing.T) {
	_, err := Connect(context.Background(), nil)
	require.ErrorIs(t, err, ErrExtensionNotFound)
	require.Equal(t, failure.KindExtension, failure.KindOf(err))

	missing := newFakeWallet(t)
	missing.installed = false
	_, err = Connect(context.Background(), missing, WithMetrics(nil))
	require.ErrorIs(t, err, ErrExtensionNotFound)

	denied := newFakeWallet(t)
	denied.denyAccess = true
	_, err = Connect(context.Background(), denied, WithMetrics(nil))
	require.ErrorIs(t, err, ErrAccessDenied)

	bogus := newFakeWallet(t)
	bogus.address = "not-an-address"
	_, err = Connect(context.Background(), bogus, WithMetrics(nil))
	require.ErrorIs(t, err, ErrAccessDenied)

	_, err = Connect(context.Background(), FuncExtension{}, WithMetrics(nil))
	require.ErrorIs(t, err, ErrExtensionNotFound)
}

func TestSignDelegatesWithSessionAddress(t *testing.T) {
	ext := newFakeWallet(t)
	s := connect(t, ext)

	signed, err := s.Sign(context.Background(), "AAAA", crypto.TestNetworkPassphrase)
	require.NoError(t, err)
	require.Equal(t, "AAAA-signed", signed)
	require.Len(t, ext.signed, 1)
	require.Equal(t, ext.address, ext.signed[0].Address)
	require.Equal(t, crypto.TestNetworkPassphrase, ext.signed[0].NetworkPassphrase)
}

func TestSignRefusesOtherNetwork(t *testing.T) {
	ext := newFakeWallet(t)
	s := connect(t, ext)

	_, err := s.Sign(context.Background(), "AAAA", crypto.PublicNetworkPassphrase)
	require.ErrorIs(t, err, ErrNetworkMismatch)
	require.Equal(t, failure.KindNetworkMismatch, failure.KindOf(err))
	require.Empty(t, ext.signed)
}

func TestSignRejected(t *testing.T) {
	ext := newFakeWallet(t)
	ext.rejectSign = true
	s := connect(t, ext)

	_, err := s.Sign(context.Background(), "AAAA", crypto.TestNetworkPassphrase)
	require.ErrorIs(t, err, ErrSigningRejected)
	require.Equal(t, failure.KindSigning, failure.KindOf(err))
	require.True(t, failure.KindOf(err).Recoverable())
}

func TestRefreshEmitsAccountAndNetworkChanges(t *testing.T) {
	ext := newFakeWallet(t)
	s := connect(t, ext)
	events, unsubscribe := s.Subscribe(4)
	defer unsubscribe()

	next := randomAccount(t)
	ext.set(func(f *fakeWallet) {
		f.address = next
		f.network = Network{Name: "public", Passphrase: crypto.PublicNetworkPassphrase}
	})
	require.NoError(t, s.Refresh(context.Background()))

	ev := <-events
	require.Equal(t, EventAccountChanged, ev.Type)
	require.Equal(t, next, ev.Current.Address)
	require.NotEqual(t, ev.Previous.Address, ev.Current.Address)

	ev = <-events
	require.Equal(t, EventNetworkChanged, ev.Type)
	require.Equal(t, "PUBLIC", ev.Current.Network)

	snap := s.Snapshot()
	require.Equal(t, next, snap.Address)
	require.Equal(t, crypto.PublicNetworkPassphrase, snap.NetworkPassphrase)
}

func TestEnsureNetworkDetectsSwitch(t *testing.T) {
	ext := newFakeWallet(t)
	s := connect(t, ext)
	require.NoError(t, s.EnsureNetwork(context.Background(), crypto.TestNetworkPassphrase))

	ext.set(func(f *fakeWallet) {
		f.network = Network{Name: "PUBLIC", Passphrase: crypto.PublicNetworkPassphrase}
	})
	err := s.EnsureNetwork(context.Background(), crypto.TestNetworkPassphrase)
	require.ErrorIs(t, err, ErrNetworkMismatch)
	require.Equal(t, crypto.PublicNetworkPassphrase, s.Snapshot().NetworkPassphrase)
}

func TestRefreshTearsDownRevokedSession(t *testing.T) {
	ext := newFakeWallet(t)
	s := connect(t, ext)
	events, _ := s.Subscribe(4)

	ext.set(func(f *fakeWallet) { f.connected = false })
	err := s.Refresh(context.Background())
	require.ErrorIs(t, err, ErrNotConnected)

	ev, ok := <-events
	require.True(t, ok)
	require.Equal(t, EventDisconnected, ev.Type)
	_, ok = <-events
	require.False(t, ok, "subscription closes on disconnect")

	select {
	case <-s.Done():
	default:
		t.Fatal("expected session to be done")
	}
	snap := s.Snapshot()
	require.Equal(t, StateDisconnected, snap.State)
	require.Empty(t, snap.Address)
	require.False(t, snap.CanSign())

	_, err = s.Sign(context.Background(), "AAAA", crypto.TestNetworkPassphrase)
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestWatcherNoticesDisconnect(t *testing.T) {
	ext := newFakeWallet(t)
	s, err := Connect(context.Background(), ext, WithWatchInterval(5*time.Millisecond), WithMetrics(nil))
	require.NoError(t, err)
	defer s.Disconnect()

	ext.set(func(f *fakeWallet) { f.address = "" })
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not tear the session down")
	}
	require.Equal(t, StateDisconnected, s.Snapshot().State)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	s := connect(t, newFakeWallet(t))
	events, unsubscribe := s.Subscribe(1)
	s.Disconnect()
	s.Disconnect()
	unsubscribe()

	for range events {
	}
	late, _ := s.Subscribe(1)
	_, ok := <-late
	require.False(t, ok)
}
