package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"walletkit/core/address"
	"walletkit/core/quote"
	"walletkit/core/wallet"
	"walletkit/storage"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for walletd.
type Config struct {
	ListenAddress string            `yaml:"listen"`
	Network       NetworkConfig     `yaml:"network"`
	Storage       StorageConfig     `yaml:"storage"`
	Resilience    ResilienceConfig  `yaml:"resilience"`
	Quote         QuoteConfig       `yaml:"quote"`
	Providers     []Provider        `yaml:"providers"`
	Assets        []quote.Asset     `yaml:"assets"`
	StaticPrices  map[string]string `yaml:"static_prices"`
	Accounts      []Account         `yaml:"accounts"`
	FeeSchedule   string            `yaml:"fee_schedule"`
	Auth          AuthConfig        `yaml:"auth"`
	RateLimit     RateLimitConfig   `yaml:"rate_limit"`
	Keystore      KeystoreConfig    `yaml:"keystore"`
	Logging       LoggingConfig     `yaml:"logging"`
}

// NetworkConfig lists the node endpoints in preference order.
type NetworkConfig struct {
	Endpoints    []string `yaml:"endpoints"`
	APIKey       string   `yaml:"api_key"`
	APIKeyHeader string   `yaml:"api_key_header"`
	Timeout      Duration `yaml:"timeout"`
}

// StorageConfig selects the identifier cursor backend.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// ResilienceConfig tunes retries, pacing and circuit breaking for every
// outbound channel.
type ResilienceConfig struct {
	Interval         Duration `yaml:"interval"`
	MaxAttempts      int      `yaml:"max_attempts"`
	BaseDelay        Duration `yaml:"base_delay"`
	MaxDelay         Duration `yaml:"max_delay"`
	AttemptTimeout   Duration `yaml:"attempt_timeout"`
	BreakerThreshold int      `yaml:"breaker_threshold"`
	BreakerReset     Duration `yaml:"breaker_reset"`
}

// QuoteConfig controls aggregation and the background refresher.
type QuoteConfig struct {
	SlippageBps     int      `yaml:"slippage_bps"`
	EstimateHaircut int      `yaml:"estimate_haircut_bps"`
	Validity        Duration `yaml:"validity"`
	RefreshInterval Duration `yaml:"refresh_interval"`
	Watch           []Watch  `yaml:"watch"`
}

// Watch is a pair kept fresh by the refresher.
type Watch struct {
	From   string `yaml:"from"`
	To     string `yaml:"to"`
	Amount string `yaml:"amount"`
}

// Provider describes one exchange quote source.
type Provider struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Endpoint    string `yaml:"endpoint"`
	FeeBps      int    `yaml:"fee_bps"`
	NativeProxy string `yaml:"native_proxy"`
}

// Account is a managed sending account.
type Account struct {
	Address   string `yaml:"address"`
	Variant   string `yaml:"variant"`
	Subwallet uint32 `yaml:"subwallet"`
	Keystore  string `yaml:"keystore"`

	// TokenWallets maps an asset symbol to the account's token sub-account.
	TokenWallets map[string]string `yaml:"token_wallets"`
}

// AuthConfig protects mutating routes. Either a static admin token or an
// HMAC JWT secret must be set.
type AuthConfig struct {
	BearerToken string   `yaml:"bearer_token"`
	JWTSecret   string   `yaml:"jwt_secret"`
	Issuer      string   `yaml:"issuer"`
	Audience    string   `yaml:"audience"`
	ClockSkew   Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds per-client request rates.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// KeystoreConfig locates the passphrase for encrypted account keys.
type KeystoreConfig struct {
	PassphraseEnv  string `yaml:"passphrase_env"`
	PassphraseFile string `yaml:"passphrase_file"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7080"
	}
	if cfg.Network.Timeout.Duration == 0 {
		cfg.Network.Timeout.Duration = 15 * time.Second
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = string(storage.BackendLevelDB)
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "/var/data/walletd"
	}
	if cfg.Resilience.Interval.Duration == 0 {
		cfg.Resilience.Interval.Duration = time.Second
	}
	if cfg.Resilience.MaxAttempts <= 0 {
		cfg.Resilience.MaxAttempts = 5
	}
	if cfg.Resilience.BaseDelay.Duration == 0 {
		cfg.Resilience.BaseDelay.Duration = 500 * time.Millisecond
	}
	if cfg.Resilience.MaxDelay.Duration == 0 {
		cfg.Resilience.MaxDelay.Duration = 10 * time.Second
	}
	if cfg.Resilience.AttemptTimeout.Duration == 0 {
		cfg.Resilience.AttemptTimeout.Duration = 10 * time.Second
	}
	if cfg.Resilience.BreakerThreshold <= 0 {
		cfg.Resilience.BreakerThreshold = 5
	}
	if cfg.Resilience.BreakerReset.Duration == 0 {
		cfg.Resilience.BreakerReset.Duration = 30 * time.Second
	}
	if cfg.Quote.SlippageBps == 0 {
		cfg.Quote.SlippageBps = quote.DefaultSlippageBps
	}
	if cfg.Quote.EstimateHaircut == 0 {
		cfg.Quote.EstimateHaircut = quote.DefaultEstimateHaircutBps
	}
	if cfg.Quote.Validity.Duration == 0 {
		cfg.Quote.Validity.Duration = quote.DefaultValidity
	}
	if cfg.Quote.RefreshInterval.Duration == 0 {
		cfg.Quote.RefreshInterval.Duration = 10 * time.Second
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Keystore.PassphraseEnv == "" {
		cfg.Keystore.PassphraseEnv = "WALLETD_KEYSTORE_PASSPHRASE"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func validate(cfg Config) error {
	if len(cfg.Network.Endpoints) == 0 {
		return fmt.Errorf("at least one network endpoint must be configured")
	}
	switch storage.Backend(strings.ToLower(cfg.Storage.Backend)) {
	case storage.BackendLevelDB, storage.BackendBolt, storage.BackendSQLite, storage.BackendMemory:
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	if strings.TrimSpace(cfg.Auth.BearerToken) == "" && strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth: bearer_token or jwt_secret must be configured")
	}
	if cfg.Quote.SlippageBps < 0 || cfg.Quote.SlippageBps > quote.MaxSlippageBps {
		return fmt.Errorf("quote: slippage_bps must be within [0, %d]", quote.MaxSlippageBps)
	}
	if cfg.Quote.Validity.Duration < 0 || cfg.Quote.Validity.Duration > quote.MaxValidity {
		return fmt.Errorf("quote: validity must be within (0, %s]", quote.MaxValidity)
	}
	if cfg.Quote.EstimateHaircut < 0 {
		return fmt.Errorf("quote: estimate_haircut_bps must not be negative")
	}
	symbols := map[string]bool{"ton": true}
	for i, a := range cfg.Assets {
		if strings.TrimSpace(a.ID) == "" || strings.TrimSpace(a.Symbol) == "" {
			return fmt.Errorf("assets[%d]: id and symbol required", i)
		}
		if a.Decimals < 0 || a.Decimals > 18 {
			return fmt.Errorf("assets[%d]: decimals must be within [0, 18]", i)
		}
		symbols[strings.ToLower(a.Symbol)] = true
	}
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("at least one quote provider must be configured")
	}
	for i, p := range cfg.Providers {
		if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.Endpoint) == "" {
			return fmt.Errorf("providers[%d]: name and endpoint required", i)
		}
	}
	if len(cfg.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}
	for i, acct := range cfg.Accounts {
		if _, err := address.Parse(acct.Address); err != nil {
			return fmt.Errorf("accounts[%d]: %w", i, err)
		}
		if _, err := wallet.ParseVariant(acct.Variant); err != nil {
			return fmt.Errorf("accounts[%d]: %w", i, err)
		}
		if strings.TrimSpace(acct.Keystore) == "" {
			return fmt.Errorf("accounts[%d]: keystore path required", i)
		}
		for symbol, raw := range acct.TokenWallets {
			if !symbols[strings.ToLower(symbol)] {
				return fmt.Errorf("accounts[%d]: token wallet for unknown asset %q", i, symbol)
			}
			if _, err := address.Parse(raw); err != nil {
				return fmt.Errorf("accounts[%d]: token wallet %s: %w", i, symbol, err)
			}
		}
	}
	for i, w := range cfg.Quote.Watch {
		if !symbols[strings.ToLower(w.From)] || !symbols[strings.ToLower(w.To)] {
			return fmt.Errorf("quote.watch[%d]: unknown asset", i)
		}
	}
	return nil
}
