// Package config defines the top-level configuration for leverbot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by LEVERBOT_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	ZeroEx   ZeroExConfig   `toml:"zeroex"`
	RFQ      RFQConfig      `toml:"rfq"`
	Position PositionConfig `toml:"position"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the process-wide signing/execution key. The same key
// signs RFQ maker orders and broadcasts closing swaps.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	RPCURL           string `toml:"rpc_url"`
}

// ZeroExConfig holds credentials and endpoints for the upstream
// swap-aggregation API.
type ZeroExConfig struct {
	APIKey string `toml:"api_key"`
	// BaseURL is the default https://api.0x.org root; ChainHosts maps chain
	// ids to per-chain subdomains when the default is wrong for a chain.
	BaseURL    string            `toml:"base_url"`
	ChainHosts map[string]string `toml:"chain_hosts"`
	Timeout    duration          `toml:"timeout"`
}

// RFQConfig holds the quoting engine parameters.
type RFQConfig struct {
	// SpreadBps is the process-wide spread in basis points (0-10000),
	// always taken in the maker's favor. 0 is pass-through.
	SpreadBps int `toml:"spread_bps"`
	// ExpirySeconds is the default order expiry window.
	ExpirySeconds int `toml:"expiry_seconds"`
	// VenueExpirySeconds overrides the window per venue name.
	VenueExpirySeconds map[string]int `toml:"venue_expiry_seconds"`
}

// PositionConfig holds the monitor/closer parameters.
type PositionConfig struct {
	// ConfirmFlow selects the create-quote-first deployment mode: positions
	// are persisted as pending and require a confirm-open call. When false,
	// the opening swap is broadcast directly and positions start open.
	ConfirmFlow bool `toml:"confirm_flow"`
	// CheckInterval is the evaluation heartbeat per monitored position.
	CheckInterval duration `toml:"check_interval"`
	// CollateralToken is the base settlement currency positions are funded
	// in and closed back to (e.g. USDC).
	CollateralToken string `toml:"collateral_token"`
	// QuoteToken prices tokens for monitoring (e.g. USDC).
	QuoteToken         string  `toml:"quote_token"`
	QuoteTokenDecimals int     `toml:"quote_token_decimals"`
	ChainID            int     `toml:"chain_id"`
	MaxLeverage        float64 `toml:"max_leverage"`
	// CronSecret authenticates the external scheduler calling check-all.
	CronSecret string `toml:"cron_secret"`
	// CloseLockTTL bounds how long a close may hold the per-position lock.
	CloseLockTTL duration `toml:"close_lock_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters for the position
// history archiver.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey protects all routes except health. Empty disables auth, a
	// deliberate opt-out for local setups, logged loudly at startup.
	APIKey string `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "15s", "5m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for the TOML decoder.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		ZeroEx: ZeroExConfig{
			BaseURL:    "https://api.0x.org",
			ChainHosts: map[string]string{},
			Timeout:    duration{15 * time.Second},
		},
		RFQ: RFQConfig{
			SpreadBps:          10,
			ExpirySeconds:      300,
			VenueExpirySeconds: map[string]int{},
		},
		Position: PositionConfig{
			ConfirmFlow:        false,
			CheckInterval:      duration{15 * time.Second},
			CollateralToken:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", // USDC on Base
			QuoteToken:         "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", // USDC on Base
			QuoteTokenDecimals: 6,
			ChainID:            8453,
			MaxLeverage:        20,
			CloseLockTTL:       duration{2 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "leverbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "leverbot-history",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "position_liquidated", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet: the signing key must exist before the process serves a single
	// quote; a missing key is fatal here, never per-request.
	if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		errs = append(errs, "wallet: either private_key or encrypted_key_path must be set")
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}
	// Monitoring modes execute triggered closes through the bot wallet in
	// both flow variants, so they always need an RPC endpoint.
	if (c.Mode == "monitor" || c.Mode == "full") && c.Wallet.RPCURL == "" {
		errs = append(errs, "wallet: rpc_url is required for close execution in monitoring modes")
	}

	// ZeroEx
	if c.ZeroEx.APIKey == "" {
		errs = append(errs, "zeroex: api_key must not be empty")
	}
	if c.ZeroEx.BaseURL == "" {
		errs = append(errs, "zeroex: base_url must not be empty")
	}

	// RFQ
	if c.RFQ.SpreadBps < 0 || c.RFQ.SpreadBps > 10000 {
		errs = append(errs, fmt.Sprintf("rfq: spread_bps must be 0-10000, got %d", c.RFQ.SpreadBps))
	}
	if c.RFQ.ExpirySeconds <= 0 {
		errs = append(errs, "rfq: expiry_seconds must be > 0")
	}
	for venue, secs := range c.RFQ.VenueExpirySeconds {
		if secs <= 0 {
			errs = append(errs, fmt.Sprintf("rfq: venue_expiry_seconds[%s] must be > 0", venue))
		}
	}

	// Position
	if c.Position.CheckInterval.Duration < time.Second {
		errs = append(errs, "position: check_interval must be at least 1s")
	}
	if c.Position.CollateralToken == "" {
		errs = append(errs, "position: collateral_token must not be empty")
	}
	if c.Position.QuoteToken == "" {
		errs = append(errs, "position: quote_token must not be empty")
	}
	if c.Position.ChainID <= 0 {
		errs = append(errs, "position: chain_id must be positive")
	}
	if c.Position.MaxLeverage < 1 {
		errs = append(errs, "position: max_leverage must be >= 1")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be 0..pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 (only when the archiver is on)
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// VenueExpiry returns the configured expiry window for a venue, falling back
// to the process default.
func (c *Config) VenueExpiry(venue string) time.Duration {
	if secs, ok := c.RFQ.VenueExpirySeconds[venue]; ok && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Duration(c.RFQ.ExpirySeconds) * time.Second
}
