package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firemarket/escrow-engine/internal/address"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, address.MustParse("0x00000000000000000000000000000000000000A1"), cfg.Roles.Owner)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	assert.True(t, reg.Known(cfg.Token.ShareAsset))
	assert.True(t, reg.Known(cfg.Token.RewardAsset))
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9000"
  readTimeout: 3s
roles:
  owner: "0x00000000000000000000000000000000000000b1"
token:
  shareAsset: "0x000000000000000000000000000000000000f1ae"
  rewardAsset: "0x000000000000000000000000000000000000da7a"
  fees:
    dev_fee_bps: 200
  devWallet: "0x00000000000000000000000000000000000000D1"
  marketingWallet: "0x00000000000000000000000000000000000000D2"
  feesWallet: "0x00000000000000000000000000000000000000D3"
audit:
  schedule: "@every 30s"
`), 0o600))

	t.Setenv("PORT", "9100")
	t.Setenv("LEVELDB_PATH", "/tmp/escrow-db")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, address.MustParse("0x00000000000000000000000000000000000000b1"), cfg.Roles.Owner)
	assert.Equal(t, address.MustParse("0x000000000000000000000000000000000000f1ae"), cfg.Token.ShareAsset)
	assert.Equal(t, uint32(200), cfg.Token.Fees.DevBps)
	assert.Equal(t, "@every 30s", cfg.Audit.Schedule)
	assert.Equal(t, DriverLevelDB, cfg.Storage.Driver)
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(*Config){
		"bad owner":        func(c *Config) { c.Roles.Owner = "nope" },
		"zero arbiter":     func(c *Config) { c.Roles.Arbiter = address.OffChain },
		"unknown share":    func(c *Config) { c.Token.ShareAsset = "0x0000000000000000000000000000000000000bad" },
		"same assets":      func(c *Config) { c.Token.RewardAsset = c.Token.ShareAsset },
		"fees over 100%":   func(c *Config) { c.Token.Fees.DevBps = 10_001 },
		"postgres no url":  func(c *Config) { c.Storage.Driver = DriverPostgres },
		"unknown driver":   func(c *Config) { c.Storage.Driver = "sqlite" },
		"prod without jwt": func(c *Config) { c.Environment = "production" },
		"negative limit":   func(c *Config) { c.RateLimit.Burst = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
