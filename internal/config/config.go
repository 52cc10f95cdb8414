// Package config loads the service configuration from YAML with environment
// overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"veilcore/internal/relayer"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Prover   ProverConfig   `yaml:"prover"`
	Relayer  RelayerConfig  `yaml:"relayer"`
	Withdraw WithdrawConfig `yaml:"withdraw"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig is the HTTP listener configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig is the index database configuration. An empty DSN disables
// the index entirely.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// NATSConfig is the event bus configuration. An empty URL disables events.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// LedgerConfig points at the ledger RPC.
type LedgerConfig struct {
	RPCURL       string `yaml:"rpc_url"`
	TreeCacheTTL int    `yaml:"tree_cache_ttl_seconds"`
}

// ProverConfig points at the proving service and verification artifacts.
type ProverConfig struct {
	BaseURL          string `yaml:"base_url"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
	StallWarnSeconds int    `yaml:"stall_warn_seconds"`
	VerifyingKeyPath string `yaml:"verifying_key_path"`
}

// RelayerConfig tunes relayer selection.
type RelayerConfig struct {
	CacheTTLSeconds int                 `yaml:"cache_ttl_seconds"`
	Score           relayer.ScoreConfig `yaml:"score"`
}

// WithdrawConfig tunes the withdrawal flow.
type WithdrawConfig struct {
	MaxStaleRetries int `yaml:"max_stale_retries"`
}

// AuthConfig holds the API JWT secret. Empty disables auth middleware.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LogConfig controls logrus output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Load reads the YAML file, applies environment overrides and fills
// defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("LEDGER_RPC_URL"); v != "" {
		c.Ledger.RPCURL = v
	}
	if v := os.Getenv("PROVER_BASE_URL"); v != "" {
		c.Prover.BaseURL = v
	}
	if v := os.Getenv("PROVER_VERIFYING_KEY"); v != "" {
		c.Prover.VerifyingKeyPath = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Ledger.TreeCacheTTL == 0 {
		c.Ledger.TreeCacheTTL = 30
	}
	if c.Prover.TimeoutSeconds == 0 {
		c.Prover.TimeoutSeconds = 600
	}
	if c.Prover.StallWarnSeconds == 0 {
		c.Prover.StallWarnSeconds = 120
	}
	if c.Relayer.CacheTTLSeconds == 0 {
		c.Relayer.CacheTTLSeconds = 60
	}
	if c.Relayer.Score == (relayer.ScoreConfig{}) {
		c.Relayer.Score = relayer.DefaultScoreConfig()
	}
	if c.Withdraw.MaxStaleRetries == 0 {
		c.Withdraw.MaxStaleRetries = 3
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}
