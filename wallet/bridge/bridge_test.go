package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"defihub/crypto"
	"defihub/wallet"
)

const testAccount = "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"

func newDaemon(t *testing.T, rejectSign bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"connected": true})
	})
	mux.HandleFunc("/access", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "defihub-test", r.Header.Get("X-Wallet-Origin"))
		_ = json.NewEncoder(w).Encode(map[string]string{"address": testAccount})
	})
	mux.HandleFunc("/address", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"address": testAccount})
	})
	mux.HandleFunc("/network", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"network":           "TESTNET",
			"networkPassphrase": crypto.TestNetworkPassphrase,
		})
	})
	mux.HandleFunc("/sign", func(w http.ResponseWriter, r *http.Request) {
		if rejectSign {
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "user rejected"})
			return
		}
		var req signRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, testAccount, req.Address)
		_ = json.NewEncoder(w).Encode(map[string]string{"signedTxXdr": req.XDR + "SIG"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestBridgeImplementsExtension(t *testing.T) {
	srv := newDaemon(t, false)
	client := New(Config{URL: srv.URL + "/", Origin: "defihub-test"})
	ctx := context.Background()

	ok, err := client.IsConnected(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	addr, err := client.RequestAccess(ctx)
	require.NoError(t, err)
	require.Equal(t, testAccount, addr)

	network, err := client.GetNetwork(ctx)
	require.NoError(t, err)
	require.Equal(t, crypto.TestNetworkPassphrase, network.Passphrase)

	signed, err := client.SignTransaction(ctx, "AAAA", wallet.SignOptions{
		NetworkPassphrase: crypto.TestNetworkPassphrase,
		Address:           testAccount,
	})
	require.NoError(t, err)
	require.Equal(t, "AAAASIG", signed)
}

func TestBridgeMapsRefusal(t *testing.T) {
	srv := newDaemon(t, true)
	client := New(Config{URL: srv.URL, Origin: "defihub-test"})

	_, err := client.SignTransaction(context.Background(), "AAAA", wallet.SignOptions{Address: testAccount})
	require.ErrorIs(t, err, wallet.ErrSigningRejected)
}

func TestBridgeUnreachableIsNotInstalled(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := New(Config{URL: url})
	ok, err := client.IsConnected(context.Background())
	require.NoError(t, err)
	require.False(t, ok)

	_, err = wallet.Connect(context.Background(), client, wallet.WithMetrics(nil))
	require.ErrorIs(t, err, wallet.ErrExtensionNotFound)
}

func TestBridgeSessionRoundTrip(t *testing.T) {
	srv := newDaemon(t, false)
	client := New(Config{URL: srv.URL, Origin: "defihub-test"})

	session, err := wallet.Connect(context.Background(), client, wallet.WithMetrics(nil))
	require.NoError(t, err)
	defer session.Disconnect()
	require.Equal(t, testAccount, session.Snapshot().Address)
}
