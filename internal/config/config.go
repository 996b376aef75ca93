// Package config binds the service's runtime configuration via
// viper (env-prefixed WALLETWATCH_, with an optional config file) and
// validates the result. Config is a fixed, known-shape struct rather
// than an open set of CLI flags that can reference each other
// arbitrarily, so validation here is direct: one function per field
// group, walking Config's actual fields instead of reflecting over a
// registered rule set.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the service's full runtime configuration (spec §6's
// "Configuration surface").
type Config struct {
	Env        string `mapstructure:"env"` // "development" or "production"
	HealthAddr string `mapstructure:"health_addr"`

	GRPCEndpoint  string `mapstructure:"grpc_endpoint"`
	GRPCChunkSize int    `mapstructure:"grpc_chunk_size"`

	SolanaRPCURL   string `mapstructure:"solana_rpc_url"`
	PriceOracleURL string `mapstructure:"price_oracle_url"`
	RedisURL       string `mapstructure:"redis_url"`
	DatabaseURL    string `mapstructure:"database_url"`

	SolBuyThreshold  float64 `mapstructure:"sol_buy_threshold"`
	SolSellThreshold float64 `mapstructure:"sol_sell_threshold"`

	BatchSize        int           `mapstructure:"batch_size"`
	BatchTimeoutMS   int           `mapstructure:"batch_timeout_ms"`
	WorkerPoolSize   int           `mapstructure:"worker_pool_size"`
	MetadataCacheTTL time.Duration `mapstructure:"metadata_cache_ttl"`
	WalletCacheTTL   time.Duration `mapstructure:"wallet_cache_ttl"`
}

const envPrefix = "WALLETWATCH"

// Load reads configuration from the environment (WALLETWATCH_* vars)
// and, if present, a config file named walletwatch.{yaml,json,toml} on
// the given search paths, applies defaults, and validates the result.
func Load(configPaths ...string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetConfigName("walletwatch")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("health_addr", ":8080")
	v.SetDefault("grpc_chunk_size", 1000)
	v.SetDefault("sol_buy_threshold", 0.01)
	v.SetDefault("sol_sell_threshold", 0.001)
	v.SetDefault("batch_size", 50)
	v.SetDefault("batch_timeout_ms", 200)
	v.SetDefault("worker_pool_size", 8)
	v.SetDefault("metadata_cache_ttl", 24*time.Hour)
	v.SetDefault("wallet_cache_ttl", 5*time.Minute)
}

// Validate checks the env-var surface that can't be enforced at
// unmarshal time: required URLs, enum membership, and the numeric
// fields that would silently wedge the pipeline at zero (an empty
// batch, a zero-length worker pool, a cache that never expires).
// The env enum is checked first, then the network endpoints, then the
// dispatcher's sizing, then the TTL and threshold knobs.
func Validate(cfg *Config) error {
	if err := oneOf("env", cfg.Env, "development", "production"); err != nil {
		return err
	}
	for _, f := range []struct {
		name  string
		value string
	}{
		{"grpc_endpoint", cfg.GRPCEndpoint},
		{"solana_rpc_url", cfg.SolanaRPCURL},
		{"price_oracle_url", cfg.PriceOracleURL},
		{"redis_url", cfg.RedisURL},
		{"database_url", cfg.DatabaseURL},
	} {
		if err := notEmpty(f.name, f.value); err != nil {
			return err
		}
	}

	for _, f := range []struct {
		name  string
		value int
	}{
		{"grpc_chunk_size", cfg.GRPCChunkSize},
		{"batch_size", cfg.BatchSize},
		{"batch_timeout_ms", cfg.BatchTimeoutMS},
		{"worker_pool_size", cfg.WorkerPoolSize},
	} {
		if err := positive(f.name, f.value); err != nil {
			return err
		}
	}

	for _, f := range []struct {
		name  string
		value time.Duration
	}{
		{"metadata_cache_ttl", cfg.MetadataCacheTTL},
		{"wallet_cache_ttl", cfg.WalletCacheTTL},
	} {
		if f.value <= 0 {
			return fmt.Errorf("config: %s must be a positive duration, got %s", f.name, f.value)
		}
	}

	for _, f := range []struct {
		name  string
		value float64
	}{
		{"sol_buy_threshold", cfg.SolBuyThreshold},
		{"sol_sell_threshold", cfg.SolSellThreshold},
	} {
		if f.value < 0 {
			return fmt.Errorf("config: %s must not be negative, got %v", f.name, f.value)
		}
	}

	return nil
}

func notEmpty(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("config: %s must not be empty", field)
	}
	return nil
}

func positive(field string, value int) error {
	if value <= 0 {
		return fmt.Errorf("config: %s must be positive, got %d", field, value)
	}
	return nil
}

// oneOf asserts that value is one of options, case-insensitively.
func oneOf(field, value string, options ...string) error {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, opt := range options {
		if normalized == strings.ToLower(opt) {
			return nil
		}
	}
	return fmt.Errorf("config: %s must be one of [%s], got %q", field, strings.Join(options, ", "), value)
}
