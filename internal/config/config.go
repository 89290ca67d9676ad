// Package config loads the engine configuration from an optional YAML file
// and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/firemarket/escrow-engine/internal/address"
	"github.com/firemarket/escrow-engine/internal/asset"
	"github.com/firemarket/escrow-engine/internal/fees"
	"github.com/firemarket/escrow-engine/internal/model"
)

// System accounts owned by the engine itself.
var (
	EscrowAccount   = address.Reserved(0xE5C0)
	TreasuryAccount = address.Reserved(0x7EA5)
	PoolAccount     = address.Reserved(0xD1F0)
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverLevelDB  = "leveldb"
	DriverPostgres = "postgres"
)

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type StorageConfig struct {
	Driver      string        `yaml:"driver"`
	DatabaseURL string        `yaml:"databaseURL"`
	LevelDBPath string        `yaml:"leveldbPath"`
	RedisURL    string        `yaml:"redisURL"`
	CacheTTL    time.Duration `yaml:"cacheTTL"`
}

type EventsConfig struct {
	NATSURL      string `yaml:"natsURL"`
	AMQPURL      string `yaml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

type TelemetryConfig struct {
	ServiceName string `yaml:"serviceName"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	Headers     string `yaml:"headers"`
}

type AuthConfig struct {
	Secret    string        `yaml:"secret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"tokenTTL"`
	NonceTTL  time.Duration `yaml:"nonceTTL"`
	ClockSkew time.Duration `yaml:"clockSkew"`
	DevHeader bool          `yaml:"devHeader"`
}

type RateLimitConfig struct {
	RatePerSecond float64 `yaml:"ratePerSecond"`
	Burst         int     `yaml:"burst"`
}

type AuditConfig struct {
	Schedule string `yaml:"schedule"`
}

type RolesConfig struct {
	Owner   string `yaml:"owner"`
	Arbiter string `yaml:"arbiter"`
}

// TokenConfig describes the fee-bearing share token and its reward asset.
type TokenConfig struct {
	ShareAsset      string          `yaml:"shareAsset"`
	RewardAsset     string          `yaml:"rewardAsset"`
	Fees            model.FeeConfig `yaml:"fees"`
	DevWallet       string          `yaml:"devWallet"`
	MarketingWallet string          `yaml:"marketingWallet"`
	FeesWallet      string          `yaml:"feesWallet"`
	TradingEnabled  bool            `yaml:"tradingEnabled"`
}

type Config struct {
	Environment string          `yaml:"environment"`
	Server      ServerConfig    `yaml:"server"`
	Storage     StorageConfig   `yaml:"storage"`
	Events      EventsConfig    `yaml:"events"`
	Log         LogConfig       `yaml:"log"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Auth        AuthConfig      `yaml:"auth"`
	RateLimit   RateLimitConfig `yaml:"rateLimit"`
	Audit       AuditConfig     `yaml:"audit"`
	Roles       RolesConfig     `yaml:"roles"`
	Assets      []asset.Asset   `yaml:"assets"`
	Token       TokenConfig     `yaml:"token"`
}

// Default returns a configuration that runs an in-memory development server.
func Default() Config {
	return Config{
		Environment: "dev",
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Storage: StorageConfig{Driver: DriverMemory, CacheTTL: 30 * time.Second},
		Events:  EventsConfig{AMQPExchange: "escrow.events"},
		Log:     LogConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
		Telemetry: TelemetryConfig{
			ServiceName: "escrow-engine",
			Insecure:    true,
		},
		Auth:      AuthConfig{DevHeader: true},
		RateLimit: RateLimitConfig{RatePerSecond: 20, Burst: 40},
		Audit:     AuditConfig{Schedule: "@every 1m"},
		Roles: RolesConfig{
			Owner:   "0x00000000000000000000000000000000000000A1",
			Arbiter: "0x00000000000000000000000000000000000000A2",
		},
		Assets: []asset.Asset{
			{ID: "0x000000000000000000000000000000000000F1AE", Symbol: "FIRE", Decimals: 18},
			{ID: "0x000000000000000000000000000000000000DA7A", Symbol: "USDT", Decimals: 6},
		},
		Token: TokenConfig{
			ShareAsset:      "0x000000000000000000000000000000000000F1AE",
			RewardAsset:     "0x000000000000000000000000000000000000DA7A",
			Fees:            model.FeeConfig{DevBps: 100, MarketingBps: 50, HoldersBps: 50},
			DevWallet:       "0x00000000000000000000000000000000000000D1",
			MarketingWallet: "0x00000000000000000000000000000000000000D2",
			FeesWallet:      "0x00000000000000000000000000000000000000D3",
		},
	}
}

// Load reads path (skipped when empty), applies environment overrides and
// validates the result. Addresses are normalised to checksum form.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) applyEnv(getenv func(string) string) error {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Environment, "APP_ENV")
	set(&cfg.Server.Port, "PORT")
	set(&cfg.Storage.DatabaseURL, "DATABASE_URL")
	set(&cfg.Storage.LevelDBPath, "LEVELDB_PATH")
	set(&cfg.Storage.RedisURL, "REDIS_URL")
	set(&cfg.Events.NATSURL, "NATS_URL")
	set(&cfg.Events.AMQPURL, "AMQP_URL")
	set(&cfg.Telemetry.Endpoint, "OTLP_ENDPOINT")
	set(&cfg.Telemetry.Headers, "OTLP_HEADERS")
	set(&cfg.Auth.Secret, "AUTH_SECRET")
	set(&cfg.Log.Level, "LOG_LEVEL")
	set(&cfg.Log.File, "LOG_FILE")
	set(&cfg.Roles.Owner, "OWNER_ADDRESS")
	set(&cfg.Roles.Arbiter, "ARBITER_ADDRESS")
	if v := strings.TrimSpace(getenv("AUTH_DEV_HEADER")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AUTH_DEV_HEADER: %w", err)
		}
		cfg.Auth.DevHeader = b
	}

	// A connection string selects its driver while the memory default is in effect.
	if cfg.Storage.Driver == "" || cfg.Storage.Driver == DriverMemory {
		switch {
		case cfg.Storage.DatabaseURL != "":
			cfg.Storage.Driver = DriverPostgres
		case cfg.Storage.LevelDBPath != "":
			cfg.Storage.Driver = DriverLevelDB
		}
	}
	return nil
}

// Validate checks roles, assets, fees and wallets and normalises every
// address in place.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.Server.Port) == "" {
		return errors.New("server port is required")
	}
	var err error
	if cfg.Roles.Owner, err = parseRole("owner", cfg.Roles.Owner); err != nil {
		return err
	}
	if cfg.Roles.Arbiter, err = parseRole("arbiter", cfg.Roles.Arbiter); err != nil {
		return err
	}

	reg, err := asset.NewRegistry(cfg.Assets)
	if err != nil {
		return err
	}
	for i := range cfg.Assets {
		cfg.Assets[i].ID, _ = address.Parse(cfg.Assets[i].ID)
	}
	if cfg.Token.ShareAsset, err = parseAsset(reg, "share", cfg.Token.ShareAsset); err != nil {
		return err
	}
	if cfg.Token.RewardAsset, err = parseAsset(reg, "reward", cfg.Token.RewardAsset); err != nil {
		return err
	}
	if cfg.Token.ShareAsset == cfg.Token.RewardAsset {
		return errors.New("share and reward assets must differ")
	}
	if err := fees.Validate(cfg.Token.Fees); err != nil {
		return err
	}
	for _, w := range []*string{&cfg.Token.DevWallet, &cfg.Token.MarketingWallet, &cfg.Token.FeesWallet} {
		if *w, err = parseRole("fee wallet", *w); err != nil {
			return err
		}
	}

	switch cfg.Storage.Driver {
	case DriverMemory:
	case DriverLevelDB:
		if cfg.Storage.LevelDBPath == "" {
			return errors.New("leveldb driver requires leveldbPath")
		}
	case DriverPostgres:
		if cfg.Storage.DatabaseURL == "" {
			return errors.New("postgres driver requires databaseURL")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	if cfg.RateLimit.RatePerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return errors.New("rate limit must not be negative")
	}
	if cfg.Auth.Secret == "" && !isDevEnv(cfg.Environment) {
		return errors.New("auth secret is required outside dev environments")
	}
	return nil
}

// Registry builds the asset registry.
func (cfg Config) Registry() (*asset.Registry, error) {
	return asset.NewRegistry(cfg.Assets)
}

// SystemAccounts lists the engine-owned accounts, which never earn rewards.
func SystemAccounts() []string {
	return []string{EscrowAccount, TreasuryAccount, PoolAccount}
}

func parseRole(name, s string) (string, error) {
	a, err := address.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	if address.IsOffChain(a) {
		return "", fmt.Errorf("%s must not be the zero address", name)
	}
	return a, nil
}

func parseAsset(reg *asset.Registry, name, s string) (string, error) {
	a, err := address.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%s asset: %w", name, err)
	}
	if !reg.Known(a) {
		return "", fmt.Errorf("%s asset %s is not registered", name, a)
	}
	return a, nil
}

func isDevEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "dev", "development", "local", "test":
		return true
	}
	return false
}
