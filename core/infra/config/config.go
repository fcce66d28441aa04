package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = ":3000"
	defaultMetricsAddr     = ":9092"
	defaultRedisURL        = "redis://localhost:6379"
	defaultEventSubject    = "oncebox.events"
	defaultTTL             = 600 * time.Second
	defaultMinTTL          = 1 * time.Second
	defaultMaxTTL          = 86400 * time.Second
	defaultMaxBodyBytes    = 64 << 10
	defaultRateLimitRPS    = 50
	defaultRateLimitBurst  = 100
	defaultTakeAttempts    = 3
	defaultRedisOpTimeout  = 3 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	envConfigPath        = "ONCEBOX_CONFIG"
	envHTTPAddr          = "ONCEBOX_HTTP_ADDR"
	envPort              = "PORT"
	envMetricsAddr       = "ONCEBOX_METRICS_ADDR"
	envRedisURL          = "REDIS_URL"
	envRedisClusterAddrs = "REDIS_CLUSTER_ADDRESSES"
	envRedisPoolSize     = "ONCEBOX_REDIS_POOL_SIZE"
	envRedisOpTimeout    = "ONCEBOX_REDIS_TIMEOUT"
	envAllowGetDel       = "ONCEBOX_ALLOW_GETDEL"
	envTakeAttempts      = "ONCEBOX_TAKE_ATTEMPTS"
	envTTLDefault        = "ONCEBOX_TTL_DEFAULT_SECONDS"
	envTTLMin            = "ONCEBOX_TTL_MIN_SECONDS"
	envTTLMax            = "ONCEBOX_TTL_MAX_SECONDS"
	envMaxBodyBytes      = "ONCEBOX_MAX_BODY_BYTES"
	envRateLimitRPS      = "API_RATE_LIMIT_RPS"
	envRateLimitBurst    = "API_RATE_LIMIT_BURST"
	envAllowedOrigins    = "ONCEBOX_ALLOWED_ORIGINS"
	envNATSURL           = "NATS_URL"
	envEventSubject      = "ONCEBOX_EVENT_SUBJECT"
	envShutdownTimeout   = "ONCEBOX_SHUTDOWN_TIMEOUT"
)

// Config holds runtime configuration for the server.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	RedisURL          string
	RedisClusterAddrs []string
	RedisPoolSize     int
	RedisOpTimeout    time.Duration

	// AllowGetDel lets the store probe for native GETDEL. When false the Lua
	// path is always used.
	AllowGetDel  bool
	TakeAttempts int

	DefaultTTL time.Duration
	MinTTL     time.Duration
	MaxTTL     time.Duration

	MaxBodyBytes   int64
	RateLimitRPS   int
	RateLimitBurst int
	// AllowedOrigins lists CORS origins; a single "*" allows any origin.
	AllowedOrigins []string

	// NatsURL enables lifecycle event publishing when set.
	NatsURL      string
	EventSubject string

	ShutdownTimeout time.Duration
}

// fileConfig mirrors Config for the optional YAML file. Durations are in
// seconds to match the API.
type fileConfig struct {
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	Redis       struct {
		URL            string   `yaml:"url"`
		ClusterAddrs   []string `yaml:"cluster_addrs"`
		PoolSize       int      `yaml:"pool_size"`
		TimeoutSeconds float64  `yaml:"timeout_seconds"`
		AllowGetDel    *bool    `yaml:"allow_getdel"`
		TakeAttempts   int      `yaml:"take_attempts"`
	} `yaml:"redis"`
	TTL struct {
		DefaultSeconds int64 `yaml:"default_seconds"`
		MinSeconds     int64 `yaml:"min_seconds"`
		MaxSeconds     int64 `yaml:"max_seconds"`
	} `yaml:"ttl"`
	HTTP struct {
		MaxBodyBytes           int64    `yaml:"max_body_bytes"`
		RateLimitRPS           int      `yaml:"rate_limit_rps"`
		RateLimitBurst         int      `yaml:"rate_limit_burst"`
		AllowedOrigins         []string `yaml:"allowed_origins"`
		ShutdownTimeoutSeconds float64  `yaml:"shutdown_timeout_seconds"`
	} `yaml:"http"`
	Events struct {
		NatsURL string `yaml:"nats_url"`
		Subject string `yaml:"subject"`
	} `yaml:"events"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:        defaultHTTPAddr,
		MetricsAddr:     defaultMetricsAddr,
		RedisURL:        defaultRedisURL,
		RedisOpTimeout:  defaultRedisOpTimeout,
		AllowGetDel:     true,
		TakeAttempts:    defaultTakeAttempts,
		DefaultTTL:      defaultTTL,
		MinTTL:          defaultMinTTL,
		MaxTTL:          defaultMaxTTL,
		MaxBodyBytes:    defaultMaxBodyBytes,
		RateLimitRPS:    defaultRateLimitRPS,
		RateLimitBurst:  defaultRateLimitBurst,
		EventSubject:    defaultEventSubject,
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// ONCEBOX_CONFIG (if any), then environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv(envConfigPath)); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.MinTTL < time.Second {
		return fmt.Errorf("min ttl must be at least 1s, got %s", c.MinTTL)
	}
	if c.MaxTTL > defaultMaxTTL {
		return fmt.Errorf("max ttl must be at most %s, got %s", defaultMaxTTL, c.MaxTTL)
	}
	if c.MaxTTL < c.MinTTL {
		return fmt.Errorf("max ttl %s below min ttl %s", c.MaxTTL, c.MinTTL)
	}
	if c.DefaultTTL < c.MinTTL || c.DefaultTTL > c.MaxTTL {
		return fmt.Errorf("default ttl %s outside [%s, %s]", c.DefaultTTL, c.MinTTL, c.MaxTTL)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}
	if c.TakeAttempts <= 0 {
		return fmt.Errorf("take attempts must be positive")
	}
	if strings.TrimSpace(c.RedisURL) == "" {
		return fmt.Errorf("redis url required")
	}
	return nil
}

func (c *Config) applyFile(path string) error {
	// #nosec G304 -- config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	setString(&c.HTTPAddr, fc.HTTPAddr)
	setString(&c.MetricsAddr, fc.MetricsAddr)
	setString(&c.RedisURL, fc.Redis.URL)
	if len(fc.Redis.ClusterAddrs) > 0 {
		c.RedisClusterAddrs = fc.Redis.ClusterAddrs
	}
	if fc.Redis.PoolSize > 0 {
		c.RedisPoolSize = fc.Redis.PoolSize
	}
	if fc.Redis.TimeoutSeconds > 0 {
		c.RedisOpTimeout = seconds(fc.Redis.TimeoutSeconds)
	}
	if fc.Redis.AllowGetDel != nil {
		c.AllowGetDel = *fc.Redis.AllowGetDel
	}
	if fc.Redis.TakeAttempts > 0 {
		c.TakeAttempts = fc.Redis.TakeAttempts
	}
	if fc.TTL.DefaultSeconds > 0 {
		c.DefaultTTL = time.Duration(fc.TTL.DefaultSeconds) * time.Second
	}
	if fc.TTL.MinSeconds > 0 {
		c.MinTTL = time.Duration(fc.TTL.MinSeconds) * time.Second
	}
	if fc.TTL.MaxSeconds > 0 {
		c.MaxTTL = time.Duration(fc.TTL.MaxSeconds) * time.Second
	}
	if fc.HTTP.MaxBodyBytes > 0 {
		c.MaxBodyBytes = fc.HTTP.MaxBodyBytes
	}
	if fc.HTTP.RateLimitRPS != 0 {
		c.RateLimitRPS = fc.HTTP.RateLimitRPS
	}
	if fc.HTTP.RateLimitBurst != 0 {
		c.RateLimitBurst = fc.HTTP.RateLimitBurst
	}
	if len(fc.HTTP.AllowedOrigins) > 0 {
		c.AllowedOrigins = fc.HTTP.AllowedOrigins
	}
	if fc.HTTP.ShutdownTimeoutSeconds > 0 {
		c.ShutdownTimeout = seconds(fc.HTTP.ShutdownTimeoutSeconds)
	}
	setString(&c.NatsURL, fc.Events.NatsURL)
	setString(&c.EventSubject, fc.Events.Subject)
	return nil
}

func (c *Config) applyEnv() error {
	if port := strings.TrimSpace(os.Getenv(envPort)); port != "" {
		c.HTTPAddr = ":" + port
	}
	setString(&c.HTTPAddr, os.Getenv(envHTTPAddr))
	setString(&c.MetricsAddr, os.Getenv(envMetricsAddr))
	setString(&c.RedisURL, os.Getenv(envRedisURL))
	if addrs := splitList(os.Getenv(envRedisClusterAddrs)); len(addrs) > 0 {
		c.RedisClusterAddrs = addrs
	}
	setString(&c.NatsURL, os.Getenv(envNATSURL))
	setString(&c.EventSubject, os.Getenv(envEventSubject))
	if origins := splitList(os.Getenv(envAllowedOrigins)); len(origins) > 0 {
		c.AllowedOrigins = origins
	}
	if raw := strings.TrimSpace(os.Getenv(envAllowGetDel)); raw != "" {
		c.AllowGetDel = parseBool(raw)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{envRedisPoolSize, &c.RedisPoolSize},
		{envTakeAttempts, &c.TakeAttempts},
		{envRateLimitRPS, &c.RateLimitRPS},
		{envRateLimitBurst, &c.RateLimitBurst},
	}
	for _, item := range ints {
		if err := parseIntEnv(item.key, item.dst); err != nil {
			return err
		}
	}
	if raw := strings.TrimSpace(os.Getenv(envMaxBodyBytes)); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", envMaxBodyBytes, err)
		}
		c.MaxBodyBytes = v
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{envTTLDefault, &c.DefaultTTL},
		{envTTLMin, &c.MinTTL},
		{envTTLMax, &c.MaxTTL},
	}
	for _, item := range durations {
		if raw := strings.TrimSpace(os.Getenv(item.key)); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", item.key, err)
			}
			*item.dst = time.Duration(v) * time.Second
		}
	}
	for _, item := range []struct {
		key string
		dst *time.Duration
	}{
		{envRedisOpTimeout, &c.RedisOpTimeout},
		{envShutdownTimeout, &c.ShutdownTimeout},
	} {
		if raw := strings.TrimSpace(os.Getenv(item.key)); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", item.key, err)
			}
			*item.dst = d
		}
	}
	return nil
}

func parseIntEnv(key string, dst *int) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = v
	return nil
}

func setString(dst *string, val string) {
	if v := strings.TrimSpace(val); v != "" {
		*dst = v
	}
}

func splitList(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
