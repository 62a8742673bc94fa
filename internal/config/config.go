// Package config loads engram configuration from ~/.engram/config.yaml,
// environment variables, and built-in defaults, in that precedence order
// (highest last).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/lazypower/engram/internal/memory"
)

// DefaultConfigDir is the directory searched for config.yaml.
const DefaultConfigDir = ".engram"

// Config holds all engram configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Memory   MemoryConfig   `mapstructure:"memory"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Recall   RecallConfig   `mapstructure:"recall"`
}

type ServerConfig struct {
	Bind string `mapstructure:"bind"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"` // empty means store.DefaultDBPath()
}

type MemoryConfig struct {
	// DefaultTTLDays overrides importance-derived expiry for records stored
	// without an explicit lifetime. Zero keeps the importance tiers.
	DefaultTTLDays float64 `mapstructure:"default_ttl_days"`
}

type CacheConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	Size       int  `mapstructure:"size"`
	TTLSeconds int  `mapstructure:"ttl_seconds"`
}

type RecallConfig struct {
	AccessPolicy string `mapstructure:"access_policy"` // "all" or "details"
}

// Load reads configuration from ~/.engram/config.yaml. A missing file is
// fine; defaults and ENGRAM_* environment variables still apply.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(home, DefaultConfigDir))
	return load(v, true)
}

// LoadFromPath reads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	return load(v, false)
}

func load(v *viper.Viper, missingOK bool) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("ENGRAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || !missingOK {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.bind", "127.0.0.1")
	v.SetDefault("server.port", 37780)

	v.SetDefault("database.path", "")

	v.SetDefault("memory.default_ttl_days", 0)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.size", memory.DefaultCacheSize)
	v.SetDefault("cache.ttl_seconds", int(memory.DefaultCacheTTL.Seconds()))

	v.SetDefault("recall.access_policy", memory.AccessPolicyAll)
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Memory.DefaultTTLDays < 0 {
		return fmt.Errorf("memory.default_ttl_days cannot be negative, got %v", cfg.Memory.DefaultTTLDays)
	}
	if cfg.Cache.Size < 0 {
		return fmt.Errorf("cache.size cannot be negative, got %d", cfg.Cache.Size)
	}
	if cfg.Cache.TTLSeconds < 0 {
		return fmt.Errorf("cache.ttl_seconds cannot be negative, got %d", cfg.Cache.TTLSeconds)
	}
	switch cfg.Recall.AccessPolicy {
	case memory.AccessPolicyAll, memory.AccessPolicyDetails:
	default:
		return fmt.Errorf("recall.access_policy must be %q or %q, got %q",
			memory.AccessPolicyAll, memory.AccessPolicyDetails, cfg.Recall.AccessPolicy)
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
