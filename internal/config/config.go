package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"dashabr/internal/dash"
	"dashabr/internal/session"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. DASHABR_LOG_LEVEL.
const EnvPrefix = "DASHABR"

// Config is the fully decoded application configuration.
type Config struct {
	ListenAddr     string `mapstructure:"listen_addr"`
	LogLevel       string `mapstructure:"log_level"`
	MediaServerURL string `mapstructure:"media_server_url"`
	UserAgent      string `mapstructure:"user_agent"`
	QueueCapacity  int    `mapstructure:"queue_capacity"`
	WindowSize     int    `mapstructure:"window_size"`
	PrebufferCache bool   `mapstructure:"prebuffer_cache"`

	HTTP  HTTPConfig  `mapstructure:"http"`
	Cache CacheConfig `mapstructure:"cache"`
}

// HTTPConfig tunes requests to the media server.
type HTTPConfig struct {
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout"`
	MaxAttempts           int           `mapstructure:"max_attempts"`
	RetryDelay            time.Duration `mapstructure:"retry_delay"`
}

// CacheConfig tunes the prebuffer cache.
type CacheConfig struct {
	EvictionInterval time.Duration `mapstructure:"eviction_interval"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("media_server_url", "http://localhost:9999")
	v.SetDefault("user_agent", "dashabr/1.0")
	v.SetDefault("queue_capacity", 8)
	v.SetDefault("window_size", 3)
	v.SetDefault("prebuffer_cache", false)

	v.SetDefault("http.request_timeout", "5s")
	v.SetDefault("http.response_header_timeout", "3s")
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.retry_delay", "100ms")

	v.SetDefault("cache.eviction_interval", "10s")
}

// BindEnv makes DASHABR_* variables override file values; nested keys use
// underscores, e.g. DASHABR_HTTP_MAX_ATTEMPTS.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode configuration: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func Validate(cfg *Config) error {
	u, err := url.Parse(cfg.MediaServerURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("media_server_url %q must be an absolute http(s) URL", cfg.MediaServerURL)
	}
	if cfg.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be at least 1")
	}
	if cfg.WindowSize < 1 {
		return fmt.Errorf("window_size must be at least 1")
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		return fmt.Errorf("http.request_timeout must be positive")
	}
	if cfg.HTTP.ResponseHeaderTimeout <= 0 {
		return fmt.Errorf("http.response_header_timeout must be positive")
	}
	if cfg.HTTP.MaxAttempts < 1 {
		return fmt.Errorf("http.max_attempts must be at least 1")
	}
	if cfg.HTTP.RetryDelay < 0 {
		return fmt.Errorf("http.retry_delay cannot be negative")
	}
	if cfg.PrebufferCache && cfg.Cache.EvictionInterval <= 0 {
		return fmt.Errorf("cache.eviction_interval must be positive")
	}
	return nil
}

// DashOptions maps the config onto the media server client options.
func (c *Config) DashOptions() dash.Options {
	return dash.Options{
		BaseURL:               c.MediaServerURL,
		UserAgent:             c.UserAgent,
		RequestTimeout:        c.HTTP.RequestTimeout,
		ResponseHeaderTimeout: c.HTTP.ResponseHeaderTimeout,
		MaxAttempts:           c.HTTP.MaxAttempts,
		RetryDelay:            c.HTTP.RetryDelay,
	}
}

// SessionOptions maps the config onto the session manager options.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		WindowSize:            c.WindowSize,
		PrebufferCache:        c.PrebufferCache,
		CacheEvictionInterval: c.Cache.EvictionInterval,
	}
}

// Dump renders the effective settings of v as YAML.
func Dump(v *viper.Viper) ([]byte, error) {
	data, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal configuration: %w", err)
	}
	return data, nil
}
