package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const book = "0x00000000000000000000000000000000000b00c0"

func validConfig() Config {
	cfg := Defaults()
	cfg.Engine.BookAddress = book
	cfg.Engine.AuthorizerAddress = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
	return cfg
}

func TestDefaultsNeedOnlyAddresses(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	d := Defaults()
	err := d.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "book_address")
	assert.Contains(t, err.Error(), "authorizer_address or an operator key")
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "archive"
	cfg.LogLevel = "loud"
	cfg.Engine.FeeBps = 20_000
	cfg.Engine.PayoutStrategy = "lottery"
	cfg.Collateral.RateDen = 0
	cfg.Access.Roles = map[string][]string{"RESOLVER_ROLE": {"nobody"}}
	cfg.Notify.TelegramToken = "tok"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"log_level", "fee_bps", "payout_strategy", "rate_num",
		"store = \"postgres\"", "s3: endpoint", "s3: bucket",
		"member \"nobody\"", "telegram_chat_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidatePostgres(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.Store = "postgres"
	cfg.Postgres.Host = ""
	cfg.Postgres.PoolMinConns = 50
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: host")
	assert.Contains(t, err.Error(), "pool_min_conns")

	cfg.Postgres.DSN = "postgres://u:p@db/book"
	cfg.Postgres.PoolMinConns = 1
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "outcomebook.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "full"

[engine]
book_address = "`+book+`"
fee_bps = 25
store = "postgres"
batch_lock_ttl = "45s"

[access.roles]
RESOLVER_ROLE = ["0x00000000000000000000000000000000000000a2"]

[archive]
enabled = true
interval = "15m"
`), 0o600))

	t.Setenv("OUTCOMEBOOK_ENGINE_FEE_BPS", "30")
	t.Setenv("OUTCOMEBOOK_SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("OUTCOMEBOOK_OPERATOR_PRIVATE_KEY", "deadbeef")
	t.Setenv("OUTCOMEBOOK_COLLATERAL_RATE_NUM", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, int64(30), cfg.Engine.FeeBps)
	assert.Equal(t, 45*time.Second, cfg.Engine.BatchLockTTL.Duration)
	assert.Equal(t, 15*time.Minute, cfg.Archive.Interval.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, uint64(1), cfg.Collateral.RateNum, "unparsable override is ignored")
	assert.Equal(t, []string{"0x00000000000000000000000000000000000000a2"}, cfg.Access.Roles["RESOLVER_ROLE"])
	assert.Equal(t, "postgres", cfg.Engine.Store)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Operator.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "pw"
	cfg.Server.APIKey = "key"
	cfg.Access.Roles = map[string][]string{"RESOLVER_ROLE": {"0xa2"}}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Operator.PrivateKey)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.S3.SecretKey)

	out.Access.Roles["RESOLVER_ROLE"][0] = "changed"
	out.Server.CORSOrigins[0] = "changed"
	assert.Equal(t, "0xa2", cfg.Access.Roles["RESOLVER_ROLE"][0])
	assert.Equal(t, "http://localhost:3000", cfg.Server.CORSOrigins[0])
	assert.Equal(t, "deadbeef", cfg.Operator.PrivateKey)
}
