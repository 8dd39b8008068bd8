package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Usage    UsageConfig    `mapstructure:"usage_tracking"`
	Playback PlaybackConfig `mapstructure:"playback"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress     string   `mapstructure:"bind_address"`
	APIPort         int      `mapstructure:"api_port"`
	MetricsPort     int      `mapstructure:"metrics_port"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	RateLimit       int      `mapstructure:"rate_limit"`
	RateLimitWindow string   `mapstructure:"rate_limit_window"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Path  string      `mapstructure:"path"`
	Type  string      `mapstructure:"type"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PolicyConfig defines the access gate and admission policy settings
type PolicyConfig struct {
	// PolicyDir holds *.rego files replacing the built-in admission policy.
	PolicyDir       string         `mapstructure:"policy_dir"`
	DefaultControls ControlsConfig `mapstructure:"default_controls"`
}

// ControlsConfig is applied to families that never saved their own controls
type ControlsConfig struct {
	Enabled               bool   `mapstructure:"enabled"`
	DailyTimeLimitMinutes int    `mapstructure:"daily_time_limit_minutes"`
	ScheduleStart         string `mapstructure:"schedule_start"`
	ScheduleEnd           string `mapstructure:"schedule_end"`
}

// UsageConfig defines watch time accounting settings
type UsageConfig struct {
	Timezone           string `mapstructure:"timezone"`
	TickInterval       string `mapstructure:"tick_interval"`
	ResetCheckInterval string `mapstructure:"reset_check_interval"`
	ReevaluateInterval string `mapstructure:"reevaluate_interval"`
}

// PlaybackConfig defines the player and fallback provider settings
type PlaybackConfig struct {
	APILoadTimeout           string   `mapstructure:"api_load_timeout"`
	ProviderTimeout          string   `mapstructure:"provider_timeout"`
	StreamProviders          []string `mapstructure:"stream_providers"`
	MetadataProviders        []string `mapstructure:"metadata_providers"`
	PreferredStreamQuality   string   `mapstructure:"preferred_stream_quality"`
	PreferredStreamFormat    string   `mapstructure:"preferred_stream_format"`
	PreferredFormatQuality   string   `mapstructure:"preferred_format_quality"`
	PreferredFormatContainer string   `mapstructure:"preferred_format_container"`
	CacheSize                int      `mapstructure:"cache_size"`
	CacheTTL                 string   `mapstructure:"cache_ttl"`
	Origin                   string   `mapstructure:"origin"`
	PlayerContainerID        string   `mapstructure:"player_container_id"`
}

// DefaultStreamProviders are public Piped API instances.
var DefaultStreamProviders = []string{
	"https://pipedapi.kavin.rocks",
	"https://pipedapi.smnz.de",
	"https://pipedapi.adminforge.de",
	"https://pipedapi.aeong.one",
	"https://piped-api.lunar.icu",
	"https://pipedapi.ggxt.dev",
	"https://pipedapi.simpleprivacy.fr",
	"https://pipedapi.drgns.space",
	"https://piped-api.garudalinux.org",
	"https://pipedapi.privacydev.net",
	"https://pipedapi.moomoo.me",
	"https://api-piped.mha.fi",
	"https://pipedapi.leptons.xyz",
	"https://pipedapi.frontend.social",
}

// DefaultMetadataProviders are public Invidious instances.
var DefaultMetadataProviders = []string{
	"https://vid.puffyan.us",
	"https://invidious.lunar.icu",
	"https://iv.ggtyler.dev",
	"https://inv.odyssey346.dev",
	"https://invidious.nerdvpn.de",
	"https://invidious.protokolla.fi",
	"https://iv.datura.network",
	"https://invidious.projectsegfau.lt",
	"https://invidious.slipfox.xyz",
	"https://invidious.kavin.rocks",
	"https://invidious.io.lol",
	"https://inv.vern.cc",
	"https://invidious.private.coffee",
	"https://iv.melmac.space",
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("KIDSFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns the configuration produced by an empty config file.
func Defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.api_port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit", 100)
	v.SetDefault("server.rate_limit_window", "1m")

	// Storage defaults
	v.SetDefault("storage.path", "/var/lib/kidsfeed/kidsfeed.bolt")
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Policy defaults
	v.SetDefault("policy.policy_dir", "")
	v.SetDefault("policy.default_controls.enabled", false)
	v.SetDefault("policy.default_controls.daily_time_limit_minutes", 60)
	v.SetDefault("policy.default_controls.schedule_start", "09:00")
	v.SetDefault("policy.default_controls.schedule_end", "18:00")

	// Usage tracking defaults
	v.SetDefault("usage_tracking.timezone", "Local")
	v.SetDefault("usage_tracking.tick_interval", "1s")
	v.SetDefault("usage_tracking.reset_check_interval", "1m")
	v.SetDefault("usage_tracking.reevaluate_interval", "1m")

	// Playback defaults
	v.SetDefault("playback.api_load_timeout", "10s")
	v.SetDefault("playback.provider_timeout", "2s")
	v.SetDefault("playback.stream_providers", DefaultStreamProviders)
	v.SetDefault("playback.metadata_providers", DefaultMetadataProviders)
	v.SetDefault("playback.preferred_stream_quality", "720p")
	v.SetDefault("playback.preferred_stream_format", "WEBM")
	v.SetDefault("playback.preferred_format_quality", "720p")
	v.SetDefault("playback.preferred_format_container", "mp4")
	v.SetDefault("playback.cache_size", 256)
	v.SetDefault("playback.cache_ttl", "30m")
	v.SetDefault("playback.origin", "")
	v.SetDefault("playback.player_container_id", "youtube-player")
}

// Location returns the time zone used for calendar-day boundaries.
func (c *Config) Location() (*time.Location, error) {
	if c.Usage.Timezone == "" || strings.EqualFold(c.Usage.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.Usage.Timezone)
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Storage.Type {
	case "":
		cfg.Storage.Type = "bolt"
	case "bolt", "redis":
	default:
		return fmt.Errorf("unknown storage type: %q (must be bolt or redis)", cfg.Storage.Type)
	}

	if cfg.Storage.Type == "bolt" {
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	durations := map[string]string{
		"server.rate_limit_window":            cfg.Server.RateLimitWindow,
		"usage_tracking.tick_interval":        cfg.Usage.TickInterval,
		"usage_tracking.reset_check_interval": cfg.Usage.ResetCheckInterval,
		"usage_tracking.reevaluate_interval":  cfg.Usage.ReevaluateInterval,
		"playback.api_load_timeout":           cfg.Playback.APILoadTimeout,
		"playback.provider_timeout":           cfg.Playback.ProviderTimeout,
		"playback.cache_ttl":                  cfg.Playback.CacheTTL,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("invalid %s: must be positive", key)
		}
	}

	if _, err := cfg.Location(); err != nil {
		return fmt.Errorf("invalid usage_tracking.timezone: %w", err)
	}

	dc := cfg.Policy.DefaultControls
	if dc.DailyTimeLimitMinutes < 0 {
		return fmt.Errorf("policy.default_controls.daily_time_limit_minutes must be >= 0")
	}
	for key, value := range map[string]string{
		"policy.default_controls.schedule_start": dc.ScheduleStart,
		"policy.default_controls.schedule_end":   dc.ScheduleEnd,
	} {
		if _, err := time.Parse("15:04", value); err != nil {
			return fmt.Errorf("invalid %s: %q is not HH:MM", key, value)
		}
	}

	for _, list := range [][]string{cfg.Playback.StreamProviders, cfg.Playback.MetadataProviders} {
		for i, base := range list {
			u, err := url.Parse(base)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("invalid provider URL: %q", base)
			}
			list[i] = strings.TrimRight(base, "/")
		}
	}

	if cfg.Playback.CacheSize < 0 {
		return fmt.Errorf("playback.cache_size must be >= 0")
	}

	return nil
}
