// Package config defines the top-level configuration for the exchange and
// provides validation helpers.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by OUTCOMEBOOK_* environment variables.
type Config struct {
	Engine     EngineConfig     `toml:"engine"`
	Collateral CollateralConfig `toml:"collateral"`
	Leverage   LeverageConfig   `toml:"leverage"`
	Access     AccessConfig     `toml:"access"`
	Operator   OperatorConfig   `toml:"operator"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// EngineConfig holds the order book parameters.
type EngineConfig struct {
	BookAddress string `toml:"book_address"`
	// AuthorizerAddress signs intents; empty means the operator key's address.
	AuthorizerAddress string `toml:"authorizer_address"`
	FeeBps            int64  `toml:"fee_bps"`
	// PayoutStrategy is "complementary_pair" or "single_ticket".
	PayoutStrategy string `toml:"payout_strategy"`
	// Store is "memory" or "postgres".
	Store          string   `toml:"store"`
	LedgerRetries  uint64   `toml:"ledger_retries"`
	BatchLockTTL   duration `toml:"batch_lock_ttl"`
	MarketCacheTTL duration `toml:"market_cache_ttl"`
}

// CollateralConfig holds the credit token parameters.
type CollateralConfig struct {
	AssetSymbol   string   `toml:"asset_symbol"`
	AssetDecimals uint8    `toml:"asset_decimals"`
	RateNum       uint64   `toml:"rate_num"`
	RateDen       uint64   `toml:"rate_den"`
	DailyCap      int64    `toml:"daily_cap"`
	RateMaxAge    duration `toml:"rate_max_age"`
}

// LeverageConfig bounds leveraged positions.
type LeverageConfig struct {
	MaxLeverage int64 `toml:"max_leverage"`
	MinValue    int64 `toml:"min_value"`
}

// AccessConfig maps role names to member addresses and names system
// addresses.
type AccessConfig struct {
	Roles     map[string][]string `toml:"roles"`
	Addresses map[string]string   `toml:"addresses"`
}

// OperatorConfig locates the operator key.
type OperatorConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
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

// RedisConfig holds Redis connection parameters. An empty Addr runs without
// Redis: no cache, lock, rate limit or event stream.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the settled-market archive sweep.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible defaults for local
// development: in-memory ledger, no Redis, server mode.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			PayoutStrategy: "complementary_pair",
			Store:          "memory",
			LedgerRetries:  5,
			BatchLockTTL:   duration{30 * time.Second},
			MarketCacheTTL: duration{5 * time.Minute},
		},
		Collateral: CollateralConfig{
			AssetSymbol:   "USDC",
			AssetDecimals: 6,
			RateNum:       1,
			RateDen:       1,
			RateMaxAge:    duration{time.Minute},
		},
		Leverage: LeverageConfig{
			MaxLeverage: 10_000_000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "outcomebook",
			User:          "outcomebook",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Interval: duration{time.Hour},
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   600,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"integrity", "market_settled", "topup"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validStrategies = map[string]bool{
	"complementary_pair": true,
	"single_ticket":      true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: server, archive, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Engine
	if !common.IsHexAddress(c.Engine.BookAddress) {
		add("engine: book_address %q is not a hex address", c.Engine.BookAddress)
	}
	if c.Engine.AuthorizerAddress != "" && !common.IsHexAddress(c.Engine.AuthorizerAddress) {
		add("engine: authorizer_address %q is not a hex address", c.Engine.AuthorizerAddress)
	}
	if c.Engine.AuthorizerAddress == "" && c.Operator.PrivateKey == "" && c.Operator.EncryptedKeyPath == "" {
		add("engine: authorizer_address or an operator key must be set")
	}
	if c.Engine.FeeBps < 0 || c.Engine.FeeBps > 10_000 {
		add("engine: fee_bps must be 0-10000, got %d", c.Engine.FeeBps)
	}
	if !validStrategies[c.Engine.PayoutStrategy] {
		add("engine: unknown payout_strategy %q", c.Engine.PayoutStrategy)
	}
	switch c.Engine.Store {
	case "memory":
		if mode == "full" || mode == "archive" {
			add("engine: mode %s needs store = \"postgres\"", mode)
		}
	case "postgres":
	default:
		add("engine: store must be memory or postgres, got %q", c.Engine.Store)
	}

	// Collateral
	if c.Collateral.RateNum == 0 || c.Collateral.RateDen == 0 {
		add("collateral: rate_num and rate_den must be > 0")
	}
	if c.Collateral.AssetDecimals > 36 {
		add("collateral: asset_decimals must be <= 36, got %d", c.Collateral.AssetDecimals)
	}

	// Leverage
	if c.Leverage.MaxLeverage < 0 || c.Leverage.MinValue < 0 {
		add("leverage: max_leverage and min_value must be >= 0")
	}

	// Access
	for role, members := range c.Access.Roles {
		for _, m := range members {
			if !common.IsHexAddress(m) {
				add("access: role %s member %q is not a hex address", role, m)
			}
		}
	}

	// Operator
	if c.Operator.EncryptedKeyPath != "" && c.Operator.KeyPassword == "" {
		add("operator: key_password is required when encrypted_key_path is set")
	}

	// Postgres
	if c.Engine.Store == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be 0-pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		add("redis: pool_size must be >= 1")
	}

	// Archive
	if c.Archive.Enabled || mode == "archive" {
		if c.S3.Endpoint == "" {
			add("s3: endpoint must not be empty when the archive runs")
		}
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty when the archive runs")
		}
		if c.Archive.Interval.Duration <= 0 {
			add("archive: interval must be > 0")
		}
	}

	// Server
	if mode == "server" || mode == "full" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			add("server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}
	return nil
}
