// Package config loads service settings from an optional YAML file with
// environment overrides. Economics values are plain numbers here; cmd/server
// converts them to decimals when constructing the engine.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Economics are the market parameters passed to the engine at construction.
type Economics struct {
	DefaultLiquidity float64 `yaml:"default_liquidity"` // LMSR b for markets created without one
	DefaultBalance   float64 `yaml:"default_balance"`   // starting balance for unseen accounts
	RedeemFee        float64 `yaml:"redeem_fee"`        // display-only payout fee, as a fraction
	PoolAccount      string  `yaml:"pool_account"`      // reserved account absorbing trade flow
}

// Config holds the full service configuration.
type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	Economics Economics `yaml:"economics"`

	QuoteTTLSeconds int `yaml:"quote_ttl_seconds"` // how long a quote stays confirmable; 0 disables expiry
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"` // redis read-through cache TTL
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Port: "8080",
		Economics: Economics{
			DefaultLiquidity: 100,
			DefaultBalance:   0,
			RedeemFee:        0.05,
			PoolAccount:      "AMM",
		},
		QuoteTTLSeconds: 60,
		CacheTTLSeconds: 30,
	}
}

// Load builds the configuration: defaults, then the YAML file at path (when
// path is non-empty), then environment overrides (PORT, DATABASE_URL,
// REDIS_URL) on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port must not be empty")
	}
	if c.Economics.DefaultLiquidity <= 0 {
		return fmt.Errorf("default_liquidity must be positive, got %v", c.Economics.DefaultLiquidity)
	}
	if c.Economics.DefaultBalance < 0 {
		return fmt.Errorf("default_balance must not be negative, got %v", c.Economics.DefaultBalance)
	}
	if c.Economics.RedeemFee < 0 || c.Economics.RedeemFee >= 1 {
		return fmt.Errorf("redeem_fee must be in [0, 1), got %v", c.Economics.RedeemFee)
	}
	if c.Economics.PoolAccount == "" {
		return fmt.Errorf("pool_account must not be empty")
	}
	if c.QuoteTTLSeconds < 0 {
		return fmt.Errorf("quote_ttl_seconds must not be negative, got %d", c.QuoteTTLSeconds)
	}
	if c.CacheTTLSeconds < 0 {
		return fmt.Errorf("cache_ttl_seconds must not be negative, got %d", c.CacheTTLSeconds)
	}
	return nil
}

// QuoteTTL returns the quote expiry window.
func (c *Config) QuoteTTL() time.Duration {
	return time.Duration(c.QuoteTTLSeconds) * time.Second
}

// CacheTTL returns the redis cache expiry window.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// getEnv returns the environment value for key, or fallback when unset.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
