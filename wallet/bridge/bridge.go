// Package bridge talks to a wallet running as a local daemon that exposes its
// signing surface over HTTP on the loopback interface.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"defihub/wallet"
)

// DefaultURL is where wallet daemons listen unless configured otherwise.
const DefaultURL = "http://127.0.0.1:8765"

// Client implements wallet.Extension against a local wallet daemon.
type Client struct {
	baseURL    string
	origin     string
	httpClient *http.Client
}

// Config represents the client configuration.
type Config struct {
	URL     string
	Origin  string
	Timeout time.Duration
}

// New constructs a bridge client. Signing prompts block on the user, so the
// timeout applies per request and defaults to two minutes.
func New(cfg Config) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		base = DefaultURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	origin := strings.TrimSpace(cfg.Origin)
	if origin == "" {
		origin = "defihub"
	}
	return &Client{
		baseURL: base,
		origin:  origin,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type statusResponse struct {
	Connected bool `json:"connected"`
}

type addressResponse struct {
	Address string `json:"address"`
}

type signRequest struct {
	XDR               string `json:"xdr"`
	NetworkPassphrase string `json:"networkPassphrase"`
	Address           string `json:"address"`
}

type signResponse struct {
	SignedTxXDR string `json:"signedTxXdr"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// IsConnected reports whether a wallet daemon answers. An unreachable daemon
// is reported as not installed rather than as an error.
func (c *Client) IsConnected(ctx context.Context) (bool, error) {
	var out statusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		if isUnreachable(err) {
			return false, nil
		}
		return false, err
	}
	return out.Connected, nil
}

// RequestAccess prompts the wallet user to share an account.
func (c *Client) RequestAccess(ctx context.Context) (string, error) {
	var out addressResponse
	if err := c.do(ctx, http.MethodPost, "/access", map[string]string{"origin": c.origin}, &out); err != nil {
		return "", mapStatus(err, wallet.ErrAccessDenied)
	}
	return strings.TrimSpace(out.Address), nil
}

// GetAddress returns the account currently selected in the wallet.
func (c *Client) GetAddress(ctx context.Context) (string, error) {
	var out addressResponse
	if err := c.do(ctx, http.MethodGet, "/address", nil, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Address), nil
}

// GetNetwork returns the network the wallet is currently using.
func (c *Client) GetNetwork(ctx context.Context) (wallet.Network, error) {
	var out wallet.Network
	if err := c.do(ctx, http.MethodGet, "/network", nil, &out); err != nil {
		return wallet.Network{}, err
	}
	return out, nil
}

// SignTransaction forwards an unsigned envelope for the user to approve.
func (c *Client) SignTransaction(ctx context.Context, envelope string, opts wallet.SignOptions) (string, error) {
	req := signRequest{XDR: envelope, NetworkPassphrase: opts.NetworkPassphrase, Address: opts.Address}
	var out signResponse
	if err := c.do(ctx, http.MethodPost, "/sign", req, &out); err != nil {
		return "", mapStatus(err, wallet.ErrSigningRejected)
	}
	return strings.TrimSpace(out.SignedTxXDR), nil
}

// StatusError is returned when the daemon answers with a non-2xx status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("bridge: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("bridge: status %d: %s", e.Code, e.Message)
}

type transportError struct{ err error }

func (e *transportError) Error() string { return "bridge: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func isUnreachable(err error) bool {
	_, ok := err.(*transportError)
	return ok
}

// mapStatus turns user refusals (401/403) into the wallet sentinel.
func mapStatus(err error, refusal error) error {
	if se, ok := err.(*StatusError); ok && (se.Code == http.StatusForbidden || se.Code == http.StatusUnauthorized) {
		return fmt.Errorf("%w: %s", refusal, se.Message)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c == nil || c.httpClient == nil {
		return fmt.Errorf("bridge: client not configured")
	}
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("bridge: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Wallet-Origin", c.origin)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &transportError{err: err}
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("bridge: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr errorResponse
		_ = json.Unmarshal(payload, &apiErr)
		return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(apiErr.Error)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("bridge: decode response: %w", err)
	}
	return nil
}

var _ wallet.Extension = (*Client)(nil)
