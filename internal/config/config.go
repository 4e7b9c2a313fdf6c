// Package config loads and validates all runtime configuration for the
// gateway.
//
// Configuration is read from a config.yaml in the working directory (or a
// .env file for local development) with environment variables taking
// precedence, exactly the way the teacher's config.Load() layers viper over
// gotenv. Env vars use the GATEWAY prefix with "__" as the nested-key
// separator, e.g. GATEWAY__SERVER__PORT, GATEWAY__BUSINESS_API__BASE_URL.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level configuration container: the server,
// business_api, cache and proxy blocks of the data model, plus the
// telemetry mirror and log level settings.
type Config struct {
	Server      ServerConfig
	BusinessAPI BusinessAPIConfig
	Cache       CacheConfig
	Proxy       ProxyConfig
	Telemetry   TelemetryConfig
	LogLevel    string
}

// ServerConfig controls the inbound HTTP listener.
type ServerConfig struct {
	// Host is the address the HTTP server binds to. Default: "0.0.0.0".
	Host string
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int
	// Workers is read from server.workers. Default: 0. The HTTP server does
	// not use it.
	Workers int
}

// BusinessAPIConfig configures the client used to resolve routes and report
// telemetry against the business backend.
type BusinessAPIConfig struct {
	// BaseURL is the business backend's root URL, e.g. "https://api.example.com".
	BaseURL string
	// Timeout bounds each /v1/route/resolve call. Default: 5s.
	Timeout time.Duration
	// RetryAttempts is the maximum number of resolve attempts per request,
	// including the first. Default: 3.
	RetryAttempts int
}

// CacheConfig controls the route cache.
type CacheConfig struct {
	// Type selects the cache backend: "memory" (default) or "redis".
	Type string
	// TTL is the sliding expiry refreshed on every cache hit. Default: 5m.
	TTL time.Duration
	// MaxLifetime is the fixed hard expiry from creation. Default: 24h.
	MaxLifetime time.Duration
	// MaxSize is read from cache.max_size. Default: 0. Neither cache backend
	// enforces it; the number of cached entries is not capped.
	MaxSize int
	// RedisURL is required when Type is "redis".
	RedisURL string
}

// ProxyConfig controls the outbound forwarder's HTTP clients.
type ProxyConfig struct {
	// Timeout bounds each unary upstream call. Streaming calls are exempt.
	// Default: 60s.
	Timeout time.Duration
	// MaxConnections caps idle connections per upstream host. Default: 100.
	MaxConnections int
	// KeepAlive enables TCP keepalive on outbound connections. Default: true.
	KeepAlive bool
	// RetryAttempts is read from proxy.retry_attempts and must be ≥ 1.
	// Default: 3. The pipeline does not use it: every candidate the resolver
	// returns is tried before it answers 503.
	RetryAttempts int
}

// TelemetryConfig configures the fire-and-forget telemetry sink.
type TelemetryConfig struct {
	// ClickHouseDSN optionally mirrors every UsageEvent/ErrorEvent into a
	// ClickHouse table alongside the business-backend HTTP report. Empty
	// disables mirroring.
	ClickHouseDSN string
}

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	// viper joins prefix and key with a single "_", so the prefix carries the
	// first half of the "__" separator: GATEWAY_ + _SERVER__PORT.
	v.SetEnvPrefix("GATEWAY_")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.workers", 0)

	v.SetDefault("business_api.timeout", "5s")
	v.SetDefault("business_api.retry_attempts", 3)

	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.max_lifetime", "24h")
	v.SetDefault("cache.max_size", 0)

	v.SetDefault("proxy.timeout", "60s")
	v.SetDefault("proxy.max_connections", 100)
	v.SetDefault("proxy.keep_alive", true)
	v.SetDefault("proxy.retry_attempts", 3)

	v.SetDefault("log_level", "info")

	cfg := &Config{
		Server: ServerConfig{
			Host:    v.GetString("server.host"),
			Port:    v.GetInt("server.port"),
			Workers: v.GetInt("server.workers"),
		},
		BusinessAPI: BusinessAPIConfig{
			BaseURL:       v.GetString("business_api.base_url"),
			Timeout:       v.GetDuration("business_api.timeout"),
			RetryAttempts: v.GetInt("business_api.retry_attempts"),
		},
		Cache: CacheConfig{
			Type:        strings.ToLower(v.GetString("cache.type")),
			TTL:         v.GetDuration("cache.ttl"),
			MaxLifetime: v.GetDuration("cache.max_lifetime"),
			MaxSize:     v.GetInt("cache.max_size"),
			RedisURL:    v.GetString("cache.redis_url"),
		},
		Proxy: ProxyConfig{
			Timeout:        v.GetDuration("proxy.timeout"),
			MaxConnections: v.GetInt("proxy.max_connections"),
			KeepAlive:      v.GetBool("proxy.keep_alive"),
			RetryAttempts:  v.GetInt("proxy.retry_attempts"),
		},
		Telemetry: TelemetryConfig{
			ClickHouseDSN: v.GetString("telemetry.clickhouse_dsn"),
		},
		LogLevel: strings.ToLower(v.GetString("log_level")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as
// defaults, failing fast at startup rather than at first use.
func (c *Config) validate() error {
	if c.BusinessAPI.BaseURL == "" {
		return fmt.Errorf("config: business_api.base_url is required")
	}

	switch c.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: invalid cache.type %q; must be one of: memory, redis", c.Cache.Type)
	}
	if c.Cache.Type == "redis" && c.Cache.RedisURL == "" {
		return fmt.Errorf("config: cache.redis_url is required when cache.type=redis")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("config: cache.ttl must be a positive duration")
	}
	if c.Cache.MaxLifetime <= 0 {
		return fmt.Errorf("config: cache.max_lifetime must be a positive duration")
	}
	if c.Cache.TTL > c.Cache.MaxLifetime {
		return fmt.Errorf("config: cache.ttl must not exceed cache.max_lifetime")
	}

	if c.BusinessAPI.RetryAttempts < 1 {
		return fmt.Errorf("config: business_api.retry_attempts must be ≥ 1, got %d", c.BusinessAPI.RetryAttempts)
	}
	if c.Proxy.RetryAttempts < 1 {
		return fmt.Errorf("config: proxy.retry_attempts must be ≥ 1, got %d", c.Proxy.RetryAttempts)
	}
	if c.Proxy.Timeout <= 0 {
		return fmt.Errorf("config: proxy.timeout must be a positive duration")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log_level %q; must be one of: debug, info, warn, error", c.LogLevel)
	}

	return nil
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
