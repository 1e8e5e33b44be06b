package config

import "time"

// Store drivers understood by the serve and rate-limit commands.
const (
	DriverLibsql = "libsql"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Config represents the complete application configuration. Values are
// layered as defaults, then the config file, then QUILLPRESS_* environment
// variables, then runtime overrides.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
	Debug     DebugConfig     `mapstructure:"debug"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects where rate limit state lives.
type StoreConfig struct {
	// Driver is one of libsql, redis or memory.
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`

	// MaxAttempts caps optimistic retries per evaluation. Zero leaves
	// RetryBudget as the only bound.
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryBudget time.Duration `mapstructure:"retry_budget"`
}

// RedisConfig is used when store.driver is redis.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	Prefix      string        `mapstructure:"prefix"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// RateLimitConfig overrides the built-in policies and tunes alerting.
type RateLimitConfig struct {
	Policies map[string]PolicyConfig `mapstructure:"policies"`
	Alerts   AlertConfig             `mapstructure:"alerts"`
	// TrustedToken is the bearer token an upstream service presents to
	// name the identity in the request body. Empty keeps body identity off
	// and every caller is keyed by its client address.
	TrustedToken string `mapstructure:"trusted_token"`
}

// PolicyConfig overrides one scope. Zero fields keep the built-in value.
type PolicyConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
	Block  time.Duration `mapstructure:"block"`
}

// AlertConfig throttles alert delivery per (code, scope). PerSecond <= 0
// disables throttling.
type AlertConfig struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile is SIMPLE for console output; anything else logs JSON.
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// PprofEnabled controls whether pprof endpoints are exposed
	// WARNING: Only enable in development/staging environments
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}
