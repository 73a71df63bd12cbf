// Package chain is the client for the ledger's public endpoints: the Horizon
// REST API for account state and the contract RPC for simulation, submission
// and transaction status.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"defihub/observability"
)

var (
	ErrAccountNotFound = errors.New("chain: account not found")
	ErrNotConfigured   = errors.New("chain: client not configured")
)

// RPCError is a JSON-RPC error object returned by the contract RPC.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("chain: rpc error %d: %s", e.Code, e.Message)
}

// Client talks to one contract RPC endpoint and one Horizon endpoint.
type Client struct {
	rpcURL     string
	horizonURL string
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *observability.ChainMetrics
	nextID     atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default traced HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRateLimit caps outbound requests per second. A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithMetrics overrides the metrics recorder. A nil recorder disables metrics.
func WithMetrics(m *observability.ChainMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient constructs a client. horizonURL may be empty when account loading
// is not needed.
func NewClient(rpcURL, horizonURL string, opts ...Option) (*Client, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, fmt.Errorf("chain: rpc url required")
	}
	if _, err := url.ParseRequestURI(rpcURL); err != nil {
		return nil, fmt.Errorf("chain: rpc url: %w", err)
	}
	c := &Client{
		rpcURL:     rpcURL,
		horizonURL: strings.TrimRight(strings.TrimSpace(horizonURL), "/"),
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		metrics: observability.Chain(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Account is the subset of Horizon account state needed to build transactions.
type Account struct {
	ID       string
	Sequence int64
}

// NextSequence is the sequence number the account's next transaction must use.
func (a Account) NextSequence() int64 {
	return a.Sequence + 1
}

// LoadAccount fetches the current sequence number of address from Horizon.
func (c *Client) LoadAccount(ctx context.Context, address string) (Account, error) {
	if c == nil || c.httpClient == nil {
		return Account{}, ErrNotConfigured
	}
	if c.horizonURL == "" {
		return Account{}, fmt.Errorf("chain: horizon url required to load accounts")
	}
	start := time.Now()
	account, err := c.loadAccount(ctx, address)
	c.metrics.Observe("loadAccount", time.Since(start), err)
	return account, err
}

func (c *Client) loadAccount(ctx context.Context, address string) (Account, error) {
	if err := c.wait(ctx); err != nil {
		return Account{}, err
	}
	endpoint := c.horizonURL + "/accounts/" + url.PathEscape(strings.TrimSpace(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Account{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Account{}, fmt.Errorf("chain: load account: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	if resp.StatusCode >= 300 {
		return Account{}, fmt.Errorf("chain: load account: unexpected status %d", resp.StatusCode)
	}
	var payload struct {
		ID       string `json:"id"`
		Sequence string `json:"sequence"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return Account{}, fmt.Errorf("chain: decode account: %w", err)
	}
	seq, err := strconv.ParseInt(strings.TrimSpace(payload.Sequence), 10, 64)
	if err != nil {
		return Account{}, fmt.Errorf("chain: account sequence %q: %w", payload.Sequence, err)
	}
	return Account{ID: payload.ID, Sequence: seq}, nil
}

// NetworkInfo describes the network the RPC serves.
type NetworkInfo struct {
	Passphrase      string `json:"passphrase"`
	ProtocolVersion int    `json:"protocolVersion"`
	FriendbotURL    string `json:"friendbotUrl,omitempty"`
}

// GetNetwork returns the network the RPC endpoint is connected to.
func (c *Client) GetNetwork(ctx context.Context) (NetworkInfo, error) {
	var out NetworkInfo
	if err := c.call(ctx, "getNetwork", nil, &out); err != nil {
		return NetworkInfo{}, err
	}
	return out, nil
}

// LatestLedger reports the most recent ledger the RPC has ingested.
type LatestLedger struct {
	ID              string `json:"id"`
	Sequence        uint32 `json:"sequence"`
	ProtocolVersion int    `json:"protocolVersion"`
}

// GetLatestLedger is used as a cheap liveness probe.
func (c *Client) GetLatestLedger(ctx context.Context) (LatestLedger, error) {
	var out LatestLedger
	if err := c.call(ctx, "getLatestLedger", nil, &out); err != nil {
		return LatestLedger{}, err
	}
	return out, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	if c == nil || c.httpClient == nil {
		return ErrNotConfigured
	}
	start := time.Now()
	err := c.doCall(ctx, method, params, out)
	c.metrics.Observe(method, time.Since(start), err)
	return err
}

func (c *Client) doCall(ctx context.Context, method string, params any, out any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	id := c.nextID.Add(1)
	buf, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("chain: encode %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chain: %s: %w", method, err)
	}
	defer resp.Body.Close()
	var rpcResp rpcResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&rpcResp); err != nil {
		return fmt.Errorf("chain: decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("chain: %s: unexpected status %d", method, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("chain: %s: empty result", method)
	}
	return json.Unmarshal(rpcResp.Result, out)
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("chain: rate limit: %w", err)
	}
	return nil
}
