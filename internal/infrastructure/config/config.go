package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMQTTNotConfigured is returned by MQTTConfig.Validate when the broker
// connection is disabled or its parameters are absent or still placeholders.
var ErrMQTTNotConfigured = errors.New("mqtt connection not configured")

// Config is the root configuration structure for the Kost RFID core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Scan      ScanConfig      `yaml:"scan"`
	Backend   BackendConfig   `yaml:"backend"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig identifies the boarding house this core serves.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	// Enabled is the explicit on/off switch for the broker connection.
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// ConnectTimeout bounds a single connection attempt (seconds).
	ConnectTimeout int `yaml:"connect_timeout"`
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
//
// The delay before reconnect attempt N+1 is BaseDelayMS * 2^N.
// Once MaxAttempts consecutive failures have occurred no further
// attempts are scheduled until Connect is called explicitly.
type MQTTReconnectConfig struct {
	BaseDelayMS int `yaml:"base_delay_ms"`
	MaxAttempts int `yaml:"max_attempts"`
}

// ScanConfig contains card-scan session settings.
type ScanConfig struct {
	TimeoutMS int `yaml:"timeout_ms"`

	// DeviceToleranceSeconds is how recently a reader must have reported
	// status to be considered online.
	DeviceToleranceSeconds int `yaml:"device_tolerance_seconds"`
}

// BackendConfig selects where card lookups and card creation go.
type BackendConfig struct {
	// Mode is "http" (portal REST backend) or "sqlite" (local store).
	Mode     string `yaml:"mode"`
	BaseURL  string `yaml:"base_url"`
	Token    string `yaml:"token"`
	TimeoutS int    `yaml:"timeout"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// JWTConfig holds the secret shared with the portal backend that issues
// the bearer tokens presented to the API.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: KOSTRFID_SECTION_KEY
// For example: KOSTRFID_MQTT_HOST, KOSTRFID_JWT_SECRET
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Read is Load without validation. Tools that run only part of the
// system adjust the result before calling Validate themselves.
func Read(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Default returns a Config with sensible defaults.
//
// The MQTT section is left disabled; a deployment has to opt in and
// provide real broker credentials.
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "kost-001",
			Name: "Kost",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Port:     1883,
				ClientID: "kost-rfid-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				BaseDelayMS: 1000,
				MaxAttempts: 5,
			},
			ConnectTimeout: 10,
		},
		Scan: ScanConfig{
			TimeoutMS:              30000,
			DeviceToleranceSeconds: 60,
		},
		Backend: BackendConfig{
			Mode:     "sqlite",
			TimeoutS: 10,
		},
		Database: DatabaseConfig{
			Path:        "./data/kost-rfid.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KOSTRFID_MQTT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MQTT.Enabled = b
		}
	}
	if v := os.Getenv("KOSTRFID_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("KOSTRFID_MQTT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = p
		}
	}
	if v := os.Getenv("KOSTRFID_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("KOSTRFID_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("KOSTRFID_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("KOSTRFID_BACKEND_TOKEN"); v != "" {
		cfg.Backend.Token = v
	}

	if v := os.Getenv("KOSTRFID_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("KOSTRFID_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("KOSTRFID_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// MQTT connection parameters are deliberately not checked here: the
// connection manager validates them at connect time so the process can
// still start and report "not configured" to the portal.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Reconnect.BaseDelayMS < 0 {
		errs = append(errs, "mqtt.reconnect.base_delay_ms must not be negative")
	}
	if c.MQTT.Reconnect.MaxAttempts < 0 {
		errs = append(errs, "mqtt.reconnect.max_attempts must not be negative")
	}

	if c.Scan.TimeoutMS <= 0 {
		errs = append(errs, "scan.timeout_ms must be positive")
	}

	switch c.Backend.Mode {
	case "http":
		if c.Backend.BaseURL == "" {
			errs = append(errs, "backend.base_url is required when backend.mode is http")
		}
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required when backend.mode is sqlite")
		}
	default:
		errs = append(errs, "backend.mode must be http or sqlite")
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}

		// The API publishes device commands, so it is never exposed without auth.
		const minJWTSecretLength = 32
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required (set KOSTRFID_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// placeholderValues are template strings that count as "not set".
var placeholderValues = []string{
	"changeme",
	"change-me",
	"placeholder",
	"xxx",
	"todo",
}

// IsPlaceholder reports whether v is empty or a template value that was
// never filled in (e.g. "your-mqtt-host", "<password>", "changeme").
func IsPlaceholder(v string) bool {
	s := strings.ToLower(strings.TrimSpace(v))
	if s == "" {
		return true
	}
	if strings.HasPrefix(s, "your-") || strings.HasPrefix(s, "your_") {
		return true
	}
	if strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">") {
		return true
	}
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return true
	}
	for _, p := range placeholderValues {
		if s == p {
			return true
		}
	}
	return false
}

// Validate reports ErrMQTTNotConfigured when the connection is disabled
// or any required parameter is absent or a placeholder.
func (m MQTTConfig) Validate() error {
	if !m.Enabled {
		return fmt.Errorf("%w: mqtt.enabled is false", ErrMQTTNotConfigured)
	}

	var missing []string
	if IsPlaceholder(m.Broker.Host) {
		missing = append(missing, "mqtt.broker.host")
	}
	if m.Broker.Port < 1 || m.Broker.Port > 65535 {
		missing = append(missing, "mqtt.broker.port")
	}
	if IsPlaceholder(m.Auth.Username) {
		missing = append(missing, "mqtt.auth.username")
	}
	if IsPlaceholder(m.Auth.Password) {
		missing = append(missing, "mqtt.auth.password")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMQTTNotConfigured, strings.Join(missing, ", "))
	}
	return nil
}

// BaseDelay returns the reconnect base delay as a Duration.
func (r MQTTReconnectConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMS) * time.Millisecond
}

// Timeout returns the scan session timeout as a Duration.
func (s ScanConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// DeviceTolerance returns the device online tolerance as a Duration.
func (s ScanConfig) DeviceTolerance() time.Duration {
	return time.Duration(s.DeviceToleranceSeconds) * time.Second
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
