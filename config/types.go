package config

import (
	"time"

	gatewayconfig "defihub/gateway/config"
)

// Network selects the ledger and its RPC endpoints.
type Network struct {
	Passphrase     string  `yaml:"passphrase" toml:"passphrase"`
	RPCURL         string  `yaml:"rpcURL" toml:"rpc_url"`
	HorizonURL     string  `yaml:"horizonURL" toml:"horizon_url"`
	RequestsPerSec float64 `yaml:"requestsPerSec" toml:"requests_per_sec"`
	Burst          int     `yaml:"burst" toml:"burst"`
	// AutoUpgradeHTTP rewrites plaintext remote endpoints to https instead of rejecting them.
	AutoUpgradeHTTP bool `yaml:"autoUpgradeHTTP" toml:"auto_upgrade_http"`
}

// Contract identifies the deployed hub.
type Contract struct {
	HubID          string        `yaml:"hubID" toml:"hub_id"`
	DeadlineWindow time.Duration `yaml:"deadlineWindow" toml:"deadline_window"`
}

// Assets points at an asset table. An empty file selects the embedded testnet table.
type Assets struct {
	File string `yaml:"file" toml:"file"`
}

// Protocol mirrors the hub's economic parameters used for local estimates.
type Protocol struct {
	FeeBps                  uint32 `yaml:"feeBps" toml:"fee_bps"`
	SlippageBps             uint32 `yaml:"slippageBps" toml:"slippage_bps"`
	LiquidationThresholdBps uint32 `yaml:"liquidationThresholdBps" toml:"liquidation_threshold_bps"`
	MinHealthFactor         string `yaml:"minHealthFactor" toml:"min_health_factor"`
	StakingDecimals         uint8  `yaml:"stakingDecimals" toml:"staking_decimals"`
}

// Lifecycle bounds fees, validity windows and confirmation polling.
type Lifecycle struct {
	BaseFee        uint32        `yaml:"baseFee" toml:"base_fee"`
	TxTimeout      time.Duration `yaml:"txTimeout" toml:"tx_timeout"`
	PollInterval   time.Duration `yaml:"pollInterval" toml:"poll_interval"`
	MaxAttempts    int           `yaml:"maxAttempts" toml:"max_attempts"`
	ConfirmTimeout time.Duration `yaml:"confirmTimeout" toml:"confirm_timeout"`
}

// Wallet configures the local wallet bridge daemon.
type Wallet struct {
	BridgeURL     string        `yaml:"bridgeURL" toml:"bridge_url"`
	Origin        string        `yaml:"origin" toml:"origin"`
	Timeout       time.Duration `yaml:"timeout" toml:"timeout"`
	WatchInterval time.Duration `yaml:"watchInterval" toml:"watch_interval"`
}

// Oracle controls price sourcing.
type Oracle struct {
	// Source is "contract" (read the hub's oracle) or "static".
	Source          string            `yaml:"source" toml:"source"`
	MaxAge          time.Duration     `yaml:"maxAge" toml:"max_age"`
	RefreshInterval time.Duration     `yaml:"refreshInterval" toml:"refresh_interval"`
	MinFeeds        int               `yaml:"minFeeds" toml:"min_feeds"`
	Caller          string            `yaml:"caller" toml:"caller"`
	Static          map[string]string `yaml:"static" toml:"static"`
}

// Journal locates the sqlite audit log. An empty path disables it.
type Journal struct {
	Path string `yaml:"path" toml:"path"`
}

// Telemetry configures logging and OpenTelemetry export.
type Telemetry struct {
	ServiceName  string            `yaml:"serviceName" toml:"service_name"`
	Environment  string            `yaml:"environment" toml:"environment"`
	LogLevel     string            `yaml:"logLevel" toml:"log_level"`
	LogFile      string            `yaml:"logFile" toml:"log_file"`
	LogMaxSizeMB int               `yaml:"logMaxSizeMB" toml:"log_max_size_mb"`
	LogBackups   int               `yaml:"logBackups" toml:"log_backups"`
	LogMaxAge    int               `yaml:"logMaxAgeDays" toml:"log_max_age_days"`
	OTLPEndpoint string            `yaml:"otlpEndpoint" toml:"otlp_endpoint"`
	Insecure     bool              `yaml:"insecure" toml:"insecure"`
	Headers      map[string]string `yaml:"headers" toml:"headers"`
	Traces       bool              `yaml:"traces" toml:"traces"`
	Metrics      bool              `yaml:"metrics" toml:"metrics"`
	SampleRatio  float64           `yaml:"sampleRatio" toml:"sample_ratio"`
}

// Config is the complete defihub configuration.
type Config struct {
	Network   Network              `yaml:"network" toml:"network"`
	Contract  Contract             `yaml:"contract" toml:"contract"`
	Assets    Assets               `yaml:"assets" toml:"assets"`
	Protocol  Protocol             `yaml:"protocol" toml:"protocol"`
	Lifecycle Lifecycle            `yaml:"lifecycle" toml:"lifecycle"`
	Wallet    Wallet               `yaml:"wallet" toml:"wallet"`
	Oracle    Oracle               `yaml:"oracle" toml:"oracle"`
	Gateway   gatewayconfig.Config `yaml:"gateway" toml:"gateway"`
	Journal   Journal              `yaml:"journal" toml:"journal"`
	Telemetry Telemetry            `yaml:"telemetry" toml:"telemetry"`
}
