// Package config provides viper-based configuration loading for the translation router.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. TRANSLATOR_POOLS_NORMAL_WORKERS=6.
const EnvPrefix = "TRANSLATOR"

// Config is the root application configuration. It is built once at startup
// and passed explicitly to every component.
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Transport   TransportConfig   `mapstructure:"transport"`
	Pools       PoolsConfig       `mapstructure:"pools"`
	Translation TranslationConfig `mapstructure:"translation"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Backend     BackendConfig     `mapstructure:"backend"`
	Warmup      WarmupConfig      `mapstructure:"warmup"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`
	// Rotation applies to file outputs
	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls lumberjack file rotation.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// TransportConfig addresses the two pub/sub endpoints.
// Addresses are URLs: tcp://host:port or ws://host:port/path.
type TransportConfig struct {
	Inbound       string `mapstructure:"inbound"`
	Outbound      string `mapstructure:"outbound"`
	Codec         string `mapstructure:"codec"`
	MaxFrameBytes int    `mapstructure:"max_frame_bytes"`
}

// PoolsConfig sizes the normal and broadcast worker pools.
type PoolsConfig struct {
	Normal    PoolConfig `mapstructure:"normal"`
	Broadcast PoolConfig `mapstructure:"broadcast"`
}

// PoolConfig sizes one worker pool.
type PoolConfig struct {
	Workers       int `mapstructure:"workers"`
	QueueCapacity int `mapstructure:"queue_capacity"`
}

// TranslationConfig holds per-subtask translation settings.
type TranslationConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	Tiers         TierConfig    `mapstructure:"tiers"`
	MaxChunkRunes int           `mapstructure:"max_chunk_runes"`
}

// TierConfig holds the text-length thresholds (in characters) for tier selection.
// Texts shorter than MediumMinChars are basic; at least PremiumMinChars are premium.
type TierConfig struct {
	MediumMinChars  int `mapstructure:"medium_min_chars"`
	PremiumMinChars int `mapstructure:"premium_min_chars"`
}

// CacheConfig configures the translation cache.
type CacheConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	MaxEntries    int           `mapstructure:"max_entries"`
	Store         string        `mapstructure:"store"` // memory | sqlite
	SQLitePath    string        `mapstructure:"sqlite_path"`
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

// BackendConfig selects the translation backend.
type BackendConfig struct {
	Kind   string       `mapstructure:"kind"` // lambda | echo
	Lambda LambdaConfig `mapstructure:"lambda"`
}

// LambdaConfig configures the Lambda-backed translation backend.
type LambdaConfig struct {
	FunctionPrefix string `mapstructure:"function_prefix"`
	RoutesFile     string `mapstructure:"routes_file"`
	Region         string `mapstructure:"region"`
}

// WarmupConfig is the backend call a Lambda warmup event makes to open the
// backend's connections. An empty Text disables it.
type WarmupConfig struct {
	Text    string        `mapstructure:"text"`
	Source  string        `mapstructure:"source"`
	Target  string        `mapstructure:"target"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stdout"},
			Rotation: RotationConfig{
				Filename:   "logs/translation-router.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Transport: TransportConfig{
			Inbound:       "tcp://127.0.0.1:5555",
			Outbound:      "tcp://127.0.0.1:5556",
			Codec:         "json",
			MaxFrameBytes: 1 << 20,
		},
		Pools: PoolsConfig{
			Normal:    PoolConfig{Workers: 3, QueueCapacity: 100},
			Broadcast: PoolConfig{Workers: 2, QueueCapacity: 1000},
		},
		Translation: TranslationConfig{
			Timeout:       30 * time.Second,
			Tiers:         TierConfig{MediumMinChars: 50, PremiumMinChars: 200},
			MaxChunkRunes: 400,
		},
		Cache: CacheConfig{
			TTL:           time.Hour,
			MaxEntries:    10000,
			Store:         "memory",
			SQLitePath:    "data/translation-cache.db",
			StatsInterval: time.Minute,
		},
		Backend: BackendConfig{
			Kind: "echo",
			Lambda: LambdaConfig{
				FunctionPrefix: "translator",
			},
		},
		Warmup: WarmupConfig{
			Text:    "Hello",
			Source:  "en",
			Target:  "es",
			Timeout: 5 * time.Second,
		},
	}
}

// Load reads configuration from path (if non-empty), otherwise from
// TRANSLATOR_CONFIG or translation-router.{yaml,toml,json} in common locations.
// Environment variables override file values: `.` is replaced with `_`.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("translation-router")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".translation-router"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults seeds viper so env-only configuration works for every key.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	v.SetDefault("transport.inbound", cfg.Transport.Inbound)
	v.SetDefault("transport.outbound", cfg.Transport.Outbound)
	v.SetDefault("transport.codec", cfg.Transport.Codec)
	v.SetDefault("transport.max_frame_bytes", cfg.Transport.MaxFrameBytes)

	v.SetDefault("pools.normal.workers", cfg.Pools.Normal.Workers)
	v.SetDefault("pools.normal.queue_capacity", cfg.Pools.Normal.QueueCapacity)
	v.SetDefault("pools.broadcast.workers", cfg.Pools.Broadcast.Workers)
	v.SetDefault("pools.broadcast.queue_capacity", cfg.Pools.Broadcast.QueueCapacity)

	v.SetDefault("translation.timeout", cfg.Translation.Timeout)
	v.SetDefault("translation.tiers.medium_min_chars", cfg.Translation.Tiers.MediumMinChars)
	v.SetDefault("translation.tiers.premium_min_chars", cfg.Translation.Tiers.PremiumMinChars)
	v.SetDefault("translation.max_chunk_runes", cfg.Translation.MaxChunkRunes)

	v.SetDefault("cache.ttl", cfg.Cache.TTL)
	v.SetDefault("cache.max_entries", cfg.Cache.MaxEntries)
	v.SetDefault("cache.store", cfg.Cache.Store)
	v.SetDefault("cache.sqlite_path", cfg.Cache.SQLitePath)
	v.SetDefault("cache.stats_interval", cfg.Cache.StatsInterval)

	v.SetDefault("backend.kind", cfg.Backend.Kind)
	v.SetDefault("backend.lambda.function_prefix", cfg.Backend.Lambda.FunctionPrefix)
	v.SetDefault("backend.lambda.routes_file", cfg.Backend.Lambda.RoutesFile)
	v.SetDefault("backend.lambda.region", cfg.Backend.Lambda.Region)

	v.SetDefault("warmup.text", cfg.Warmup.Text)
	v.SetDefault("warmup.source", cfg.Warmup.Source)
	v.SetDefault("warmup.target", cfg.Warmup.Target)
	v.SetDefault("warmup.timeout", cfg.Warmup.Timeout)
}

// Validate normalizes enum-like fields and rejects unusable values.
func (c *Config) Validate() error {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}

	if strings.TrimSpace(c.Transport.Inbound) == "" {
		return fmt.Errorf("transport.inbound is required")
	}
	if strings.TrimSpace(c.Transport.Outbound) == "" {
		return fmt.Errorf("transport.outbound is required")
	}
	c.Transport.Codec = strings.ToLower(strings.TrimSpace(c.Transport.Codec))
	switch c.Transport.Codec {
	case "json", "cbor":
	case "":
		c.Transport.Codec = "json"
	default:
		return fmt.Errorf("invalid transport.codec: %q", c.Transport.Codec)
	}
	if c.Transport.MaxFrameBytes <= 0 {
		c.Transport.MaxFrameBytes = 1 << 20
	}

	for name, p := range map[string]PoolConfig{"normal": c.Pools.Normal, "broadcast": c.Pools.Broadcast} {
		if p.Workers <= 0 {
			return fmt.Errorf("pools.%s.workers must be positive, got %d", name, p.Workers)
		}
		if p.QueueCapacity <= 0 {
			return fmt.Errorf("pools.%s.queue_capacity must be positive, got %d", name, p.QueueCapacity)
		}
	}

	if c.Translation.Timeout <= 0 {
		return fmt.Errorf("translation.timeout must be positive")
	}
	t := c.Translation.Tiers
	if t.MediumMinChars <= 0 || t.PremiumMinChars <= t.MediumMinChars {
		return fmt.Errorf("translation.tiers: need 0 < medium_min_chars (%d) < premium_min_chars (%d)",
			t.MediumMinChars, t.PremiumMinChars)
	}
	if c.Translation.MaxChunkRunes <= 0 {
		return fmt.Errorf("translation.max_chunk_runes must be positive")
	}

	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive")
	}
	c.Cache.Store = strings.ToLower(strings.TrimSpace(c.Cache.Store))
	switch c.Cache.Store {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(c.Cache.SQLitePath) == "" {
			return fmt.Errorf("cache.sqlite_path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("invalid cache.store: %q", c.Cache.Store)
	}

	c.Backend.Kind = strings.ToLower(strings.TrimSpace(c.Backend.Kind))
	switch c.Backend.Kind {
	case "echo", "lambda":
	default:
		return fmt.Errorf("invalid backend.kind: %q", c.Backend.Kind)
	}

	if c.Warmup.Text != "" {
		if c.Warmup.Source == "" || c.Warmup.Target == "" {
			return fmt.Errorf("warmup.source and warmup.target are required when warmup.text is set")
		}
		if c.Warmup.Timeout <= 0 {
			c.Warmup.Timeout = 5 * time.Second
		}
	}
	return nil
}
