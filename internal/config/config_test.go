package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "fourmeme-config-*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	_, err = tmpFile.WriteString(body)
	require.NoError(t, err)
	tmpFile.Close()
	return tmpFile.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
general:
  instance_id: "test-node"
  log_level: "debug"

chain:
  rpc_url: "https://rpc.example"
  heartbeat_interval: 30s

listener:
  max_block_range: 20

trading:
  buy_amount_bnb: 0.1
  keep_moonshot: false
  max_hold: 2m

filter:
  blacklist_keywords: ["scam", "honeypot"]

store:
  driver: postgres
  dsn: "postgres://u:p@localhost/db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-node", cfg.General.InstanceID)
	assert.Equal(t, "debug", cfg.General.LogLevel)
	assert.Equal(t, "https://rpc.example", cfg.Chain.RPCURL)
	assert.Equal(t, 30*time.Second, cfg.Chain.HeartbeatInterval)
	assert.Equal(t, uint64(20), cfg.Listener.MaxBlockRange)
	assert.Equal(t, 0.1, cfg.Trading.BuyAmountBNB)
	assert.False(t, cfg.Trading.KeepMoonshot)
	assert.Equal(t, 2*time.Minute, cfg.Trading.MaxHold)
	assert.Equal(t, []string{"scam", "honeypot"}, cfg.Filter.BlacklistKeywords)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	require.NoError(t, cfg.Validate())
}

func TestDefaults(t *testing.T) {
	path := writeConfig(t, "general:\n  log_format: text\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "fourmeme-1", cfg.General.InstanceID)
	assert.Equal(t, "text", cfg.General.LogFormat)
	assert.Equal(t, int64(56), cfg.Chain.ChainID)
	assert.Equal(t, 60*time.Second, cfg.Chain.MaxRetryDelay)
	assert.Equal(t, 300*time.Second, cfg.Chain.StallThreshold)
	assert.Equal(t, 0.05, cfg.Trading.BuyAmountBNB)
	assert.Equal(t, 200.0, cfg.Trading.TakeProfitPct)
	assert.Equal(t, 90.0, cfg.Trading.TakeProfitSellPct)
	assert.Equal(t, -50.0, cfg.Trading.StopLossPct)
	assert.True(t, cfg.Trading.KeepMoonshot)
	assert.True(t, cfg.Trading.ClusterEnabled)
	assert.Equal(t, uint64(500000), cfg.Trading.FallbackGasLimit)
	assert.Equal(t, 10, cfg.Risk.MaxDailyTrades)
	assert.Equal(t, 0.5, cfg.Risk.MaxDailyInvestmentBNB)
	assert.Equal(t, 3, cfg.Risk.MaxConcurrentPositions)
	assert.Equal(t, []string{"scam", "rug", "test"}, cfg.Filter.BlacklistKeywords)
	assert.Equal(t, 3, cfg.Trend.Threshold)
	assert.Equal(t, 1000, cfg.Listener.DedupSize)
	assert.Equal(t, 30*time.Second, cfg.Listener.DrainTimeout)
	assert.Len(t, cfg.Listener.RawPurchaseTopics, 1)
	assert.Equal(t, "file", cfg.Store.Driver)
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("FOURMEME_TEST_KEY", "abc123")
	path := writeConfig(t, "chain:\n  private_key: \"${FOURMEME_TEST_KEY}\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "abc123", cfg.Chain.PrivateKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults dry run", func(c *Config) {}, true},
		{"trading without key", func(c *Config) { c.Trading.Enabled = true }, false},
		{"trading with key", func(c *Config) {
			c.Trading.Enabled = true
			c.Chain.PrivateKey = "deadbeef"
		}, true},
		{"zero buy amount", func(c *Config) { c.Trading.BuyAmountBNB = 0 }, false},
		{"positive stop loss", func(c *Config) { c.Trading.StopLossPct = 10 }, false},
		{"sell pct above 100", func(c *Config) { c.Trading.TakeProfitSellPct = 120 }, false},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }, false},
		{"unknown driver", func(c *Config) { c.Store.Driver = "redis" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrConfiguration)
			}
		})
	}
}

func TestExampleConfigLoads(t *testing.T) {
	t.Setenv("PRIVATE_KEY", "")
	t.Setenv("POSTGRES_DSN", "")

	cfg, err := Load("../../config/config.example.yaml")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.False(t, cfg.Trading.Enabled)
	assert.Equal(t, "text", cfg.General.LogFormat)
	assert.Equal(t, "file", cfg.Store.Driver)
	assert.Equal(t, ":9090", cfg.Ops.ListenAddr)
	assert.Equal(t, 5*time.Minute, cfg.Trading.MaxHold)
	assert.Len(t, cfg.Listener.RawPurchaseTopics, 1)
}
