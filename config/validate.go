package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"defihub/crypto"
	gatewayconfig "defihub/gateway/config"
)

const bpsMax = 10_000

// Validate checks cross-field constraints and normalises endpoint URLs.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Network.Passphrase) == "" {
		errs = append(errs, fmt.Errorf("network.passphrase is required"))
	}
	for _, ep := range []struct {
		name  string
		value *string
	}{
		{"network.rpcURL", &cfg.Network.RPCURL},
		{"network.horizonURL", &cfg.Network.HorizonURL},
	} {
		if err := cfg.secureEndpoint(ep.name, ep.value); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := crypto.DecodeAddress(cfg.Contract.HubID); err != nil {
		errs = append(errs, fmt.Errorf("contract.hubID: %w", err))
	}
	for name, bps := range map[string]uint32{
		"protocol.feeBps":                  cfg.Protocol.FeeBps,
		"protocol.slippageBps":             cfg.Protocol.SlippageBps,
		"protocol.liquidationThresholdBps": cfg.Protocol.LiquidationThresholdBps,
	} {
		if bps > bpsMax {
			errs = append(errs, fmt.Errorf("%s must be at most %d", name, bpsMax))
		}
	}
	if raw := strings.TrimSpace(cfg.Protocol.MinHealthFactor); raw != "" {
		if d, err := decimal.NewFromString(raw); err != nil || d.Sign() <= 0 {
			errs = append(errs, fmt.Errorf("protocol.minHealthFactor %q must be a positive decimal", raw))
		}
	}
	if cfg.Protocol.StakingDecimals > 38 {
		errs = append(errs, fmt.Errorf("protocol.stakingDecimals must be at most 38"))
	}
	if cfg.Lifecycle.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("lifecycle.maxAttempts must not be negative"))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Oracle.Source)) {
	case "contract":
		if caller := strings.TrimSpace(cfg.Oracle.Caller); caller != "" {
			if _, err := crypto.DecodeAccount(caller); err != nil {
				errs = append(errs, fmt.Errorf("oracle.caller: %w", err))
			}
		}
	case "static":
		if len(cfg.Oracle.Static) == 0 {
			errs = append(errs, fmt.Errorf("oracle.static must list prices when oracle.source is static"))
		}
	default:
		errs = append(errs, fmt.Errorf("oracle.source %q must be contract or static", cfg.Oracle.Source))
	}
	if cfg.Oracle.MinFeeds < 0 {
		errs = append(errs, fmt.Errorf("oracle.minFeeds must not be negative"))
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sampleRatio must be within [0,1]"))
	}
	if err := cfg.Gateway.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("gateway: %w", err))
	}
	return errors.Join(errs...)
}

func (cfg *Config) secureEndpoint(name string, value *string) error {
	raw := strings.TrimSpace(*value)
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	secured, upgraded, err := gatewayconfig.EnforceSecureScheme(cfg.Telemetry.Environment, parsed, cfg.Network.AutoUpgradeHTTP)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if upgraded {
		*value = secured.String()
	}
	return nil
}
