// Package config loads the defihub configuration from YAML or TOML files and
// DEFIHUB_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"defihub/crypto"
	gatewayconfig "defihub/gateway/config"
	"defihub/observability/logging"
	telemetry "defihub/observability/otel"
)

// DefaultHubID is the testnet deployment of the hub contract.
const DefaultHubID = "CBV3Q4PBHOAIHTJUR433DUWHWFI3PBDS4AR52YQM32KMX62APVFK6PMT"

// Default returns a configuration for the public testnet deployment.
func Default() Config {
	return Config{
		Network: Network{
			Passphrase:     crypto.TestNetworkPassphrase,
			RPCURL:         "https://soroban-testnet.stellar.org",
			HorizonURL:     "https://horizon-testnet.stellar.org",
			RequestsPerSec: 10,
			Burst:          20,
		},
		Contract: Contract{
			HubID:          DefaultHubID,
			DeadlineWindow: 600 * time.Second,
		},
		Protocol: Protocol{
			FeeBps:                  50,
			SlippageBps:             100,
			LiquidationThresholdBps: 8000,
			MinHealthFactor:         "1.2",
			StakingDecimals:         7,
		},
		Lifecycle: Lifecycle{
			BaseFee:        100,
			TxTimeout:      60 * time.Second,
			PollInterval:   2 * time.Second,
			MaxAttempts:    30,
			ConfirmTimeout: 90 * time.Second,
		},
		Wallet: Wallet{
			BridgeURL:     "http://127.0.0.1:8765",
			Origin:        "defihub",
			Timeout:       2 * time.Minute,
			WatchInterval: 3 * time.Second,
		},
		Oracle: Oracle{
			Source:          "contract",
			MaxAge:          time.Hour,
			RefreshInterval: time.Minute,
			MinFeeds:        1,
		},
		Gateway: gatewayconfig.Default(),
		Telemetry: Telemetry{
			ServiceName: "defihub",
			Environment: "dev",
			LogLevel:    "info",
		},
	}
}

// Load reads path on top of Default, applies environment overrides and
// validates the result. An empty path loads defaults and environment only.
func Load(path string) (Config, error) {
	cfg := Default()
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		data, err := os.ReadFile(trimmed)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", trimmed, err)
		}
		if err := decode(data, formatOf(trimmed), &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", trimmed, err)
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	cfg.Gateway.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path in the format implied by its extension.
func Save(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	var buf bytes.Buffer
	switch formatOf(path) {
	case "toml":
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("config: encode toml: %w", err)
		}
	default:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("config: encode yaml: %w", err)
		}
		_ = enc.Close()
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

func decode(data []byte, format string, cfg *Config) error {
	switch format {
	case "toml":
		meta, err := toml.Decode(string(data), cfg)
		if err != nil {
			return fmt.Errorf("decode toml: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("unknown key %s", undecoded[0].String())
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("decode yaml: %w", err)
		}
	}
	return nil
}

func formatOf(path string) string {
	if strings.EqualFold(filepath.Ext(strings.TrimSpace(path)), ".toml") {
		return "toml"
	}
	return "yaml"
}

// LoggingOptions converts the telemetry section for observability/logging.
func (t Telemetry) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      t.LogLevel,
		File:       t.LogFile,
		MaxSizeMB:  t.LogMaxSizeMB,
		MaxBackups: t.LogBackups,
		MaxAgeDays: t.LogMaxAge,
	}
}

// OTel converts the telemetry section for observability/otel.
func (t Telemetry) OTel(version string) telemetry.Config {
	return telemetry.Config{
		ServiceName:    t.ServiceName,
		ServiceVersion: version,
		Environment:    t.Environment,
		Endpoint:       t.OTLPEndpoint,
		Insecure:       t.Insecure,
		Headers:        t.Headers,
		Metrics:        t.Metrics,
		Traces:         t.Traces,
		SampleRatio:    t.SampleRatio,
	}
}
