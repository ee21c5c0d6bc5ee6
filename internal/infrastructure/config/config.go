package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for TagSakay Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"security"`
	DeviceLink DeviceLinkConfig `yaml:"device_link"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains credential, token and abuse-guard settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	Session   SessionConfig   `yaml:"session"`
	Hasher    HasherConfig    `yaml:"hasher"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Lockout   LockoutConfig   `yaml:"lockout"`
}

// JWTConfig contains access token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
	Issuer         string `yaml:"issuer"`
	Audience       string `yaml:"audience"`
}

// SessionConfig contains cookie session settings.
type SessionConfig struct {
	Secret     string `yaml:"secret"`
	TTL        int    `yaml:"ttl"` // hours
	CookieName string `yaml:"cookie_name"`
}

// HasherConfig contains PBKDF2 work factor settings.
type HasherConfig struct {
	Iterations    int `yaml:"iterations"`
	MaxIterations int `yaml:"max_iterations"`
}

// RateLimitConfig contains per-route rate limiter presets.
type RateLimitConfig struct {
	Enabled        bool            `yaml:"enabled"`
	Auth           RateLimitPreset `yaml:"auth"`
	API            RateLimitPreset `yaml:"api"`
	DeviceRegister RateLimitPreset `yaml:"device_register"`
	SweepInterval  int             `yaml:"sweep_interval"` // seconds
	MaxLockout     int             `yaml:"max_lockout"`    // seconds
}

// RateLimitPreset is one fixed-window policy.
type RateLimitPreset struct {
	Limit  int `yaml:"limit"`
	Window int `yaml:"window"` // seconds
}

// LockoutConfig contains account lockout settings.
type LockoutConfig struct {
	MaxAttempts   int `yaml:"max_attempts"`
	Window        int `yaml:"window"`         // seconds
	Duration      int `yaml:"duration"`       // seconds
	SweepInterval int `yaml:"sweep_interval"` // seconds
}

// DeviceLinkConfig contains the optional MQTT device link settings.
type DeviceLinkConfig struct {
	Enabled        bool    `yaml:"enabled"`
	DebounceMillis int     `yaml:"debounce_ms"`
	BufferSize     int     `yaml:"buffer_size"`
	ScansPerSecond float64 `yaml:"scans_per_second"`
	Burst          int     `yaml:"burst"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TAGSAKAY_SECTION_KEY
// For example: TAGSAKAY_DATABASE_PATH, TAGSAKAY_JWT_SECRET
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/tagsakay.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "tagsakay-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8787,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Org:           "tagsakay",
			Bucket:        "scans",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 240,
				Issuer:         "tagsakay-api",
				Audience:       "tagsakay-client",
			},
			Session: SessionConfig{
				TTL:        168,
				CookieName: "ts_session",
			},
			Hasher: HasherConfig{
				Iterations:    100000,
				MaxIterations: 100000,
			},
			RateLimit: RateLimitConfig{
				Enabled:        true,
				Auth:           RateLimitPreset{Limit: 5, Window: 60},
				API:            RateLimitPreset{Limit: 100, Window: 60},
				DeviceRegister: RateLimitPreset{Limit: 3, Window: 3600},
				SweepInterval:  300,
				MaxLockout:     3600,
			},
			Lockout: LockoutConfig{
				MaxAttempts:   5,
				Window:        3600,
				Duration:      900,
				SweepInterval: 600,
			},
		},
		DeviceLink: DeviceLinkConfig{
			DebounceMillis: 1000,
			BufferSize:     100,
			ScansPerSecond: 5,
			Burst:          10,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("TAGSAKAY_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("TAGSAKAY_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TAGSAKAY_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("TAGSAKAY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TAGSAKAY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("TAGSAKAY_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("TAGSAKAY_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("TAGSAKAY_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("TAGSAKAY_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("TAGSAKAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Secrets (always override in production)
	if v := os.Getenv("TAGSAKAY_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("TAGSAKAY_SESSION_SECRET"); v != "" {
		cfg.Security.Session.Secret = v
	}

	// Device link
	if v := os.Getenv("TAGSAKAY_DEVICE_LINK_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.DeviceLink.Enabled = enabled
		}
	}
}

// minSecretLength is the shortest signing secret accepted for tokens and sessions.
const minSecretLength = 32

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Forged tokens would open every authenticated route, so both secrets are mandatory.
	errs = appendSecretErrors(errs, "security.jwt.secret", "TAGSAKAY_JWT_SECRET", c.Security.JWT.Secret)
	errs = appendSecretErrors(errs, "security.session.secret", "TAGSAKAY_SESSION_SECRET", c.Security.Session.Secret)

	if c.Security.JWT.AccessTokenTTL <= 0 {
		errs = append(errs, "security.jwt.access_token_ttl must be positive")
	}
	if c.Security.Session.TTL <= 0 {
		errs = append(errs, "security.session.ttl must be positive")
	}
	if c.Security.Session.CookieName == "" {
		errs = append(errs, "security.session.cookie_name is required")
	}

	h := c.Security.Hasher
	if h.MaxIterations <= 0 {
		errs = append(errs, "security.hasher.max_iterations must be positive")
	}
	if h.Iterations <= 0 || (h.MaxIterations > 0 && h.Iterations > h.MaxIterations) {
		errs = append(errs, "security.hasher.iterations must be between 1 and max_iterations")
	}

	rl := c.Security.RateLimit
	for name, p := range map[string]RateLimitPreset{
		"auth":            rl.Auth,
		"api":             rl.API,
		"device_register": rl.DeviceRegister,
	} {
		if p.Limit <= 0 || p.Window <= 0 {
			errs = append(errs, fmt.Sprintf("security.rate_limit.%s limit and window must be positive", name))
		}
	}

	lo := c.Security.Lockout
	if lo.MaxAttempts <= 0 || lo.Window <= 0 || lo.Duration <= 0 {
		errs = append(errs, "security.lockout max_attempts, window and duration must be positive")
	}

	if c.DeviceLink.Enabled && !c.MQTT.Enabled {
		errs = append(errs, "device_link.enabled requires mqtt.enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func appendSecretErrors(errs []string, field, env, secret string) []string {
	switch {
	case secret == "":
		return append(errs, fmt.Sprintf("%s is required (set %s environment variable)", field, env))
	case len(secret) < minSecretLength:
		return append(errs, fmt.Sprintf("%s must be at least %d characters", field, minSecretLength))
	}
	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// AccessTokenTTL returns the access token lifetime.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.AccessTokenTTL) * time.Minute
}

// SessionTTL returns the session cookie lifetime.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Security.Session.TTL) * time.Hour
}

// WindowDuration returns the preset window as a Duration.
func (p RateLimitPreset) WindowDuration() time.Duration {
	return time.Duration(p.Window) * time.Second
}

// Seconds converts a seconds-valued config field to a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
