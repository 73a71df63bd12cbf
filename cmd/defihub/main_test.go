package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"defihub/journal"
	"defihub/lifecycle"
)

const testAccount = "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"

func writeStaticConfig(t *testing.T, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "defihub.yaml")
	content := `
oracle:
  source: static
  static:
    XLM: "0.12"
    USDC: "1"
    BTC: "60000"
` + extra
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersionAndUsage(t *testing.T) {
	code, out, _ := execute(t, "version")
	require.Equal(t, 0, code)
	require.Equal(t, "dev\n", out)

	code, _, errOut := execute(t, "teleport")
	require.Equal(t, 2, code)
	require.Contains(t, errOut, `Unknown command "teleport"`)

	code, _, _ = execute(t)
	require.Equal(t, 2, code)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.toml")
	code, out, _ := execute(t, "config", "init", path)
	require.Equal(t, 0, code)
	require.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "hub_id")

	code, _, errOut := execute(t, "config", "init", path)
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "already exists")
}

func TestQuoteCommand(t *testing.T) {
	cfg := writeStaticConfig(t, "")
	code, out, errOut := execute(t, "--config", cfg, "quote", "XLM", "USDC", "100")
	require.Equal(t, 0, code, errOut)
	var quote map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &quote))
	require.Equal(t, "11820600", quote["minAmountOutChain"])

	code, out, _ = execute(t, "--config", cfg, "quote", "XLM", "USDC", "100", "--slippage", "200")
	require.Equal(t, 0, code)
	require.NoError(t, json.Unmarshal([]byte(out), &quote))
	require.Equal(t, "11701200", quote["minAmountOutChain"])

	code, out, _ = execute(t, "--config", cfg, "quote", "XLM", "USDC", "100", "--slippage", "0")
	require.Equal(t, 0, code)
	require.NoError(t, json.Unmarshal([]byte(out), &quote))
	require.Equal(t, "11940000", quote["minAmountOutChain"])
	require.Equal(t, quote["estimatedOutChain"], quote["minAmountOutChain"])

	for _, bad := range []string{"10001", "4294967396", "-1", "abc"} {
		code, _, errOut = execute(t, "--config", cfg, "quote", "XLM", "USDC", "100", "--slippage", bad)
		require.Equal(t, 2, code, "slippage %s", bad)
		require.Contains(t, errOut, "slippage")
	}
	code, _, _ = execute(t, "--config", cfg, "build", "swap", "XLM", "USDC", "100", "--source", testAccount, "--slippage", "65536")
	require.Equal(t, 2, code)

	code, _, errOut = execute(t, "--config", cfg, "quote", "XLM", "XLM", "1")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "Error:")

	code, _, _ = execute(t, "--config", cfg, "quote", "XLM")
	require.Equal(t, 2, code)
}

func TestHealthCommand(t *testing.T) {
	cfg := writeStaticConfig(t, "")
	code, out, errOut := execute(t, "--config", cfg, "health", "--supply", "USDC=12.5", "--borrow", "xlm=2")
	require.Equal(t, 0, code, errOut)
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	require.Equal(t, "41.6667", body["healthFactor"])

	code, _, _ = execute(t, "--config", cfg, "health", "--supply", "USDC")
	require.Equal(t, 2, code)
}

func TestBuildCommand(t *testing.T) {
	cfg := writeStaticConfig(t, "")
	code, out, errOut := execute(t, "--config", cfg, "build", "supply", "USDC", "10", "--source", testAccount)
	require.Equal(t, 0, code, errOut)
	var p struct {
		Call struct {
			Kind    string   `json:"kind"`
			Method  string   `json:"method"`
			Args    []string `json:"args"`
			Network string   `json:"network"`
		} `json:"call"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	require.Equal(t, "supply", p.Call.Kind)
	require.Len(t, p.Call.Args, 3)
	require.Equal(t, "TESTNET", p.Call.Network)

	code, _, _ = execute(t, "--config", cfg, "build", "supply", "USDC", "10")
	require.Equal(t, 2, code)

	code, _, _ = execute(t, "--config", cfg, "build", "liquidate", "--source", testAccount)
	require.Equal(t, 2, code)
}

func TestAssetsCommand(t *testing.T) {
	cfg := writeStaticConfig(t, "")
	code, out, errOut := execute(t, "--config", cfg, "assets")
	require.Equal(t, 0, code, errOut)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 11)
}

func TestJournalListEmpty(t *testing.T) {
	db := filepath.Join(t.TempDir(), "journal.db")
	cfg := writeStaticConfig(t, "journal:\n  path: "+db+"\n")
	code, out, errOut := execute(t, "--config", cfg, "journal", "list")
	require.Equal(t, 0, code, errOut)
	require.Equal(t, "[]", strings.TrimSpace(out))

	noJournal := writeStaticConfig(t, "")
	code, _, errOut = execute(t, "--config", noJournal, "journal", "list")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "journal.path")
}

type fakeStatuses map[string]lifecycle.State

func (f fakeStatuses) Status(_ context.Context, hash string) (lifecycle.TxStatus, error) {
	state, ok := f[hash]
	if !ok {
		return lifecycle.TxStatus{}, errors.New("rpc unavailable")
	}
	return lifecycle.TxStatus{Hash: hash, Found: true, State: state}, nil
}

type fakeUnresolved []journal.Entry

func (f fakeUnresolved) Unresolved(context.Context) ([]journal.Entry, error) {
	return f, nil
}

func TestReconcile(t *testing.T) {
	entries := fakeUnresolved{
		{ID: "a", Hash: "aa", State: lifecycle.StateSubmitted},
		{ID: "b", Hash: "bb", State: lifecycle.StatePending},
		{ID: "c", Hash: "cc", State: lifecycle.StateSubmitted},
	}
	statuses := fakeStatuses{"aa": lifecycle.StateConfirmed, "bb": lifecycle.StatePending}
	resolved, err := reconcile(context.Background(), statuses, entries)
	require.Equal(t, 1, resolved)
	require.Error(t, err)
	require.Contains(t, err.Error(), "cc")
}

func TestPairsFlag(t *testing.T) {
	p := pairsFlag{}
	require.NoError(t, p.Set("usdc=1.5"))
	require.NoError(t, p.Set("XLM = 2"))
	require.Equal(t, "USDC=1.5,XLM=2", p.String())
	require.Error(t, p.Set("=1"))
}

func TestIsLoopbackAddress(t *testing.T) {
	require.True(t, isLoopbackAddress("127.0.0.1:8080"))
	require.True(t, isLoopbackAddress("localhost:8080"))
	require.True(t, isLoopbackAddress("[::1]:8080"))
	require.False(t, isLoopbackAddress("0.0.0.0:8080"))
	require.False(t, isLoopbackAddress(":8080"))
}
