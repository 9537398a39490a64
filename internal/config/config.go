package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/ledger"
)

// Config is the root configuration struct
type Config struct {
	Redis   RedisConfig   `mapstructure:"redis"`
	Streams StreamsConfig `mapstructure:"streams"`
	Fees    FeesConfig    `mapstructure:"fees"`
	Trust   TrustConfig   `mapstructure:"trust"`
	Storage StorageConfig `mapstructure:"storage"`
	Events  EventsConfig  `mapstructure:"events"`
	API     APIConfig     `mapstructure:"api"`
}

// RedisConfig holds the Redis connection settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StreamsConfig holds stream names and polling settings
type StreamsConfig struct {
	Backend       string        `mapstructure:"backend"` // redis | memory
	Revocation    string        `mapstructure:"revocation"`
	Settlement    string        `mapstructure:"settlement"`
	Shards        int           `mapstructure:"shards"`
	Batch         int64         `mapstructure:"batch"`
	Block         time.Duration `mapstructure:"block"`
	ClaimIdle     time.Duration `mapstructure:"claimIdle"`
	ClaimInterval time.Duration `mapstructure:"claimInterval"`
}

// FeesConfig holds the fee rates and tax shares as decimal strings
type FeesConfig struct {
	RootRate      string `mapstructure:"rootRate"`
	NodeRate      string `mapstructure:"nodeRate"`
	TaxShareRoot  string `mapstructure:"taxShareRoot"`
	TaxShareNode  string `mapstructure:"taxShareNode"`
	TaxSharePayer string `mapstructure:"taxSharePayer"`
}

// TrustConfig holds the root key and the static node set
type TrustConfig struct {
	RootSeed string       `mapstructure:"rootSeed"` // hex ed25519 seed; random when empty
	Nodes    []NodeConfig `mapstructure:"nodes"`
}

// NodeConfig is one node and the providers in its domain
type NodeConfig struct {
	ID        string   `mapstructure:"id"`
	Providers []string `mapstructure:"providers"`
}

// StorageConfig holds the ledger store location
type StorageConfig struct {
	Path string `mapstructure:"path"` // in-memory when empty
}

// EventsConfig holds the event broker settings
type EventsConfig struct {
	NATSURL string `mapstructure:"natsURL"` // events are only logged when empty
	Prefix  string `mapstructure:"prefix"`
}

// APIConfig holds the admin API settings
type APIConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration from file and environment
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	def := ledger.DefaultFeeSchedule()
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("streams.backend", "redis")
	v.SetDefault("streams.revocation", "eden:revocations")
	v.SetDefault("streams.settlement", "eden:settlements")
	v.SetDefault("streams.shards", 1)
	v.SetDefault("streams.batch", 32)
	v.SetDefault("streams.block", 2*time.Second)
	v.SetDefault("streams.claimIdle", 30*time.Second)
	v.SetDefault("streams.claimInterval", 15*time.Second)
	v.SetDefault("fees.rootRate", def.RootRate.String())
	v.SetDefault("fees.nodeRate", def.NodeRate.String())
	v.SetDefault("fees.taxShareRoot", def.TaxShareRoot.String())
	v.SetDefault("fees.taxShareNode", def.TaxShareNode.String())
	v.SetDefault("fees.taxSharePayer", def.TaxSharePayer.String())
	v.SetDefault("trust.rootSeed", "")
	v.SetDefault("storage.path", "")
	v.SetDefault("events.natsURL", "")
	v.SetDefault("events.prefix", "eden")
	v.SetDefault("api.addr", ":8080")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings that must hold before startup, including
// that the tax shares sum to exactly one.
func (c *Config) Validate() error {
	if _, err := c.Fees.Schedule(); err != nil {
		return err
	}
	if _, err := c.Trust.Seed(); err != nil {
		return err
	}
	switch c.Streams.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("streams.backend: unknown backend %q", c.Streams.Backend)
	}
	if c.Streams.Revocation == "" || c.Streams.Settlement == "" {
		return errors.New("streams: revocation and settlement stream names are required")
	}
	if c.Streams.Shards < 1 {
		return errors.New("streams.shards must be at least 1")
	}
	seen := make(map[string]bool)
	for _, n := range c.Trust.Nodes {
		if n.ID == "" {
			return errors.New("trust.nodes: node without id")
		}
		if seen[n.ID] {
			return fmt.Errorf("trust.nodes: duplicate node %s", n.ID)
		}
		seen[n.ID] = true
	}
	return nil
}

// Schedule parses and validates the fee schedule.
func (f FeesConfig) Schedule() (ledger.FeeSchedule, error) {
	var s ledger.FeeSchedule
	for key, dst := range map[string]struct {
		raw string
		out *decimal.Decimal
	}{
		"rootRate":      {f.RootRate, &s.RootRate},
		"nodeRate":      {f.NodeRate, &s.NodeRate},
		"taxShareRoot":  {f.TaxShareRoot, &s.TaxShareRoot},
		"taxShareNode":  {f.TaxShareNode, &s.TaxShareNode},
		"taxSharePayer": {f.TaxSharePayer, &s.TaxSharePayer},
	} {
		d, err := decimal.NewFromString(dst.raw)
		if err != nil {
			return ledger.FeeSchedule{}, fmt.Errorf("fees.%s: %w", key, err)
		}
		*dst.out = d
	}
	if err := s.Validate(); err != nil {
		return ledger.FeeSchedule{}, err
	}
	return s, nil
}

// Seed decodes the root seed. It returns nil when none is configured.
func (t TrustConfig) Seed() ([]byte, error) {
	if t.RootSeed == "" {
		return nil, nil
	}
	seed, err := hex.DecodeString(t.RootSeed)
	if err != nil {
		return nil, fmt.Errorf("trust.rootSeed: %w", err)
	}
	if len(seed) != 32 {
		return nil, fmt.Errorf("trust.rootSeed: %d bytes, want 32", len(seed))
	}
	return seed, nil
}
