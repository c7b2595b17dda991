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
// built-in defaults, applies OUTCOMEBOOK_* environment variable overrides,
// and returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known OUTCOMEBOOK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.BookAddress, "OUTCOMEBOOK_ENGINE_BOOK_ADDRESS")
	setStr(&cfg.Engine.AuthorizerAddress, "OUTCOMEBOOK_ENGINE_AUTHORIZER_ADDRESS")
	setInt64(&cfg.Engine.FeeBps, "OUTCOMEBOOK_ENGINE_FEE_BPS")
	setStr(&cfg.Engine.PayoutStrategy, "OUTCOMEBOOK_ENGINE_PAYOUT_STRATEGY")
	setStr(&cfg.Engine.Store, "OUTCOMEBOOK_ENGINE_STORE")
	setUint64(&cfg.Engine.LedgerRetries, "OUTCOMEBOOK_ENGINE_LEDGER_RETRIES")
	setDuration(&cfg.Engine.BatchLockTTL, "OUTCOMEBOOK_ENGINE_BATCH_LOCK_TTL")
	setDuration(&cfg.Engine.MarketCacheTTL, "OUTCOMEBOOK_ENGINE_MARKET_CACHE_TTL")

	// ── Collateral ──
	setStr(&cfg.Collateral.AssetSymbol, "OUTCOMEBOOK_COLLATERAL_ASSET_SYMBOL")
	setUint64(&cfg.Collateral.RateNum, "OUTCOMEBOOK_COLLATERAL_RATE_NUM")
	setUint64(&cfg.Collateral.RateDen, "OUTCOMEBOOK_COLLATERAL_RATE_DEN")
	setInt64(&cfg.Collateral.DailyCap, "OUTCOMEBOOK_COLLATERAL_DAILY_CAP")
	setDuration(&cfg.Collateral.RateMaxAge, "OUTCOMEBOOK_COLLATERAL_RATE_MAX_AGE")

	// ── Leverage ──
	setInt64(&cfg.Leverage.MaxLeverage, "OUTCOMEBOOK_LEVERAGE_MAX_LEVERAGE")
	setInt64(&cfg.Leverage.MinValue, "OUTCOMEBOOK_LEVERAGE_MIN_VALUE")

	// ── Operator ──
	setStr(&cfg.Operator.PrivateKey, "OUTCOMEBOOK_OPERATOR_PRIVATE_KEY")
	setStr(&cfg.Operator.EncryptedKeyPath, "OUTCOMEBOOK_OPERATOR_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Operator.KeyPassword, "OUTCOMEBOOK_OPERATOR_KEY_PASSWORD")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "OUTCOMEBOOK_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "OUTCOMEBOOK_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "OUTCOMEBOOK_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "OUTCOMEBOOK_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "OUTCOMEBOOK_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "OUTCOMEBOOK_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "OUTCOMEBOOK_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "OUTCOMEBOOK_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "OUTCOMEBOOK_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "OUTCOMEBOOK_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "OUTCOMEBOOK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "OUTCOMEBOOK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "OUTCOMEBOOK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "OUTCOMEBOOK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "OUTCOMEBOOK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "OUTCOMEBOOK_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "OUTCOMEBOOK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "OUTCOMEBOOK_S3_REGION")
	setStr(&cfg.S3.Bucket, "OUTCOMEBOOK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "OUTCOMEBOOK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "OUTCOMEBOOK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "OUTCOMEBOOK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "OUTCOMEBOOK_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "OUTCOMEBOOK_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "OUTCOMEBOOK_ARCHIVE_INTERVAL")

	// ── Server ──
	setInt(&cfg.Server.Port, "OUTCOMEBOOK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "OUTCOMEBOOK_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "OUTCOMEBOOK_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "OUTCOMEBOOK_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "OUTCOMEBOOK_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "OUTCOMEBOOK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "OUTCOMEBOOK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "OUTCOMEBOOK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "OUTCOMEBOOK_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "OUTCOMEBOOK_MODE")
	setStr(&cfg.LogLevel, "OUTCOMEBOOK_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
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
