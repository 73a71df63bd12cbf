package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	telemetry "defihub/observability/otel"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DEFIHUB_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type envBinding struct {
	key   string
	apply func(cfg *Config, raw string) error
}

func str(target func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, raw string) error {
		*target(cfg) = raw
		return nil
	}
}

func dur(target func(*Config) *time.Duration) func(*Config, string) error {
	return func(cfg *Config, raw string) error {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*target(cfg) = d
		return nil
	}
}

func boolean(target func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, raw string) error {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		*target(cfg) = b
		return nil
	}
}

func u32(target func(*Config) *uint32) func(*Config, string) error {
	return func(cfg *Config, raw string) error {
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return err
		}
		*target(cfg) = uint32(n)
		return nil
	}
}

var envBindings = []envBinding{
	{"NETWORK_PASSPHRASE", str(func(c *Config) *string { return &c.Network.Passphrase })},
	{"RPC_URL", str(func(c *Config) *string { return &c.Network.RPCURL })},
	{"HORIZON_URL", str(func(c *Config) *string { return &c.Network.HorizonURL })},
	{"HUB_ID", str(func(c *Config) *string { return &c.Contract.HubID })},
	{"ASSETS_FILE", str(func(c *Config) *string { return &c.Assets.File })},
	{"FEE_BPS", u32(func(c *Config) *uint32 { return &c.Protocol.FeeBps })},
	{"SLIPPAGE_BPS", u32(func(c *Config) *uint32 { return &c.Protocol.SlippageBps })},
	{"BASE_FEE", u32(func(c *Config) *uint32 { return &c.Lifecycle.BaseFee })},
	{"TX_TIMEOUT", dur(func(c *Config) *time.Duration { return &c.Lifecycle.TxTimeout })},
	{"CONFIRM_TIMEOUT", dur(func(c *Config) *time.Duration { return &c.Lifecycle.ConfirmTimeout })},
	{"WALLET_BRIDGE_URL", str(func(c *Config) *string { return &c.Wallet.BridgeURL })},
	{"ORACLE_SOURCE", str(func(c *Config) *string { return &c.Oracle.Source })},
	{"ORACLE_CALLER", str(func(c *Config) *string { return &c.Oracle.Caller })},
	{"ORACLE_MAX_AGE", dur(func(c *Config) *time.Duration { return &c.Oracle.MaxAge })},
	{"GATEWAY_LISTEN", str(func(c *Config) *string { return &c.Gateway.ListenAddress })},
	{"GATEWAY_HMAC_SECRET", str(func(c *Config) *string { return &c.Gateway.Auth.HMACSecret })},
	{"GATEWAY_AUTH_ENABLED", boolean(func(c *Config) *bool { return &c.Gateway.Auth.Enabled })},
	{"GATEWAY_NONCE_STORE", str(func(c *Config) *string { return &c.Gateway.Signing.NonceStore })},
	{"JOURNAL_PATH", str(func(c *Config) *string { return &c.Journal.Path })},
	{"ENV", str(func(c *Config) *string { return &c.Telemetry.Environment })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Telemetry.LogLevel })},
	{"LOG_FILE", str(func(c *Config) *string { return &c.Telemetry.LogFile })},
	{"OTLP_ENDPOINT", str(func(c *Config) *string { return &c.Telemetry.OTLPEndpoint })},
	{"OTLP_INSECURE", boolean(func(c *Config) *bool { return &c.Telemetry.Insecure })},
	{"TRACES", boolean(func(c *Config) *bool { return &c.Telemetry.Traces })},
	{"METRICS", boolean(func(c *Config) *bool { return &c.Telemetry.Metrics })},
	{"OTLP_HEADERS", func(c *Config, raw string) error {
		c.Telemetry.Headers = telemetry.ParseHeaders(raw)
		return nil
	}},
}

// ApplyEnv overlays DEFIHUB_* variables onto cfg. Empty values are ignored.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if cfg == nil || lookup == nil {
		return nil
	}
	for _, b := range envBindings {
		raw, ok := lookup(EnvPrefix + b.key)
		if !ok {
			continue
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if err := b.apply(cfg, raw); err != nil {
			return fmt.Errorf("config: %s%s: %w", EnvPrefix, b.key, err)
		}
	}
	return nil
}
