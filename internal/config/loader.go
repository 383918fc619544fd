package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LEVERBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LEVERBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This lets
// operators inject secrets at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "LEVERBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "LEVERBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "LEVERBOT_WALLET_KEY_PASSWORD")
	setStr(&cfg.Wallet.RPCURL, "LEVERBOT_WALLET_RPC_URL")

	// ── ZeroEx ──
	setStr(&cfg.ZeroEx.APIKey, "LEVERBOT_ZEROEX_API_KEY")
	setStr(&cfg.ZeroEx.APIKey, "ZERO_EX_API_KEY") // compatibility alias
	setStr(&cfg.ZeroEx.BaseURL, "LEVERBOT_ZEROEX_BASE_URL")
	setDuration(&cfg.ZeroEx.Timeout, "LEVERBOT_ZEROEX_TIMEOUT")

	// ── RFQ ──
	setInt(&cfg.RFQ.SpreadBps, "LEVERBOT_RFQ_SPREAD_BPS")
	setInt(&cfg.RFQ.SpreadBps, "SPREAD_BPS") // compatibility alias
	setInt(&cfg.RFQ.ExpirySeconds, "LEVERBOT_RFQ_EXPIRY_SECONDS")

	// ── Position ──
	setBool(&cfg.Position.ConfirmFlow, "LEVERBOT_POSITION_CONFIRM_FLOW")
	setDuration(&cfg.Position.CheckInterval, "LEVERBOT_POSITION_CHECK_INTERVAL")
	setStr(&cfg.Position.CollateralToken, "LEVERBOT_POSITION_COLLATERAL_TOKEN")
	setStr(&cfg.Position.QuoteToken, "LEVERBOT_POSITION_QUOTE_TOKEN")
	setInt(&cfg.Position.QuoteTokenDecimals, "LEVERBOT_POSITION_QUOTE_TOKEN_DECIMALS")
	setInt(&cfg.Position.ChainID, "LEVERBOT_POSITION_CHAIN_ID")
	setFloat64(&cfg.Position.MaxLeverage, "LEVERBOT_POSITION_MAX_LEVERAGE")
	setStr(&cfg.Position.CronSecret, "LEVERBOT_POSITION_CRON_SECRET")
	setStr(&cfg.Position.CronSecret, "CRON_SECRET") // compatibility alias
	setDuration(&cfg.Position.CloseLockTTL, "LEVERBOT_POSITION_CLOSE_LOCK_TTL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "LEVERBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "LEVERBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LEVERBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LEVERBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LEVERBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LEVERBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LEVERBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LEVERBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LEVERBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LEVERBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "LEVERBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LEVERBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LEVERBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LEVERBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LEVERBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LEVERBOT_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.StreamMaxLen, "LEVERBOT_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "LEVERBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "LEVERBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LEVERBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "LEVERBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LEVERBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LEVERBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LEVERBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LEVERBOT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "LEVERBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "LEVERBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "LEVERBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "LEVERBOT_SERVER_API_KEY")
	setStr(&cfg.Server.APIKey, "WRAPPER_API_KEY") // compatibility alias

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LEVERBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LEVERBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LEVERBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LEVERBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "LEVERBOT_MODE")
	setStr(&cfg.LogLevel, "LEVERBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
