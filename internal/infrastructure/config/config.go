package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Yanzi bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
	Yanzi    YanziConfig    `yaml:"yanzi"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
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
}

// APIConfig contains HTTP status API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings. An empty secret leaves the status
// API unauthenticated.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// YanziConfig contains the Cirrus connection and bridge settings.
//
// Timeouts and intervals are in seconds.
type YanziConfig struct {
	// Host is the Cirrus host, e.g. "eu.yanzi.cloud".
	Host string `yaml:"host"`

	// URL overrides the wss://<host>/cirrusAPI endpoint.
	URL string `yaml:"url"`

	// LocationID is the site (location) to bridge.
	LocationID string `yaml:"location_id"`

	// Credentials. Any one of username/password, access token, session id
	// or a client certificate is enough.
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	AccessToken string `yaml:"access_token"`
	SessionID   string `yaml:"session_id"`

	TLS YanziTLSConfig `yaml:"tls"`

	Timeouts YanziTimeoutConfig `yaml:"timeouts"`

	// RefreshInterval is how often the device source list is re-read.
	RefreshInterval int `yaml:"refresh_interval"`

	// HealthInterval is how often bridge health is published.
	HealthInterval int `yaml:"health_interval"`

	// CatalogFile optionally replaces the embedded device model catalog.
	CatalogFile string `yaml:"catalog_file"`
}

// YanziTLSConfig holds client certificate material for Cirrus.
type YanziTLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
}

// YanziTimeoutConfig contains Cirrus protocol timings.
type YanziTimeoutConfig struct {
	Request          int `yaml:"request"`
	Send             int `yaml:"send"`
	Auth             int `yaml:"auth"`
	Ping             int `yaml:"ping"`
	Subscription     int `yaml:"subscription"`
	ReconnectBackoff int `yaml:"reconnect_backoff"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern GRAYLOGIC_SECTION_KEY, plus
// YANZI_* for the Cirrus account (YANZI_HOST, YANZI_PASSWORD, ...).
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Gray Logic",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/yanzi.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-yanzi",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
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
		InfluxDB: InfluxDBConfig{
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
				Issuer: "graylogic",
			},
		},
		Yanzi: YanziConfig{
			Timeouts: YanziTimeoutConfig{
				Request:          5,
				Send:             30,
				Auth:             30,
				Ping:             30,
				Subscription:     60,
				ReconnectBackoff: 10,
			},
			RefreshInterval: 600,
			HealthInterval:  30,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("GRAYLOGIC_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	// Yanzi account; never keep the password in the file
	if v := os.Getenv("YANZI_HOST"); v != "" {
		cfg.Yanzi.Host = v
	}
	if v := os.Getenv("YANZI_LOCATION_ID"); v != "" {
		cfg.Yanzi.LocationID = v
	}
	if v := os.Getenv("YANZI_USERNAME"); v != "" {
		cfg.Yanzi.Username = v
	}
	if v := os.Getenv("YANZI_PASSWORD"); v != "" {
		cfg.Yanzi.Password = v
	}
	if v := os.Getenv("YANZI_ACCESS_TOKEN"); v != "" {
		cfg.Yanzi.AccessToken = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// An empty secret disables API auth; a short one is refused.
	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	errs = append(errs, c.Yanzi.validate()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (y *YanziConfig) validate() []string {
	var errs []string

	if y.Host == "" && y.URL == "" {
		errs = append(errs, "yanzi.host is required (set YANZI_HOST)")
	}
	if y.LocationID == "" {
		errs = append(errs, "yanzi.location_id is required")
	}

	if (y.Username == "") != (y.Password == "") {
		errs = append(errs, "yanzi.username and yanzi.password must be set together")
	}
	if (y.TLS.CertFile == "") != (y.TLS.KeyFile == "") {
		errs = append(errs, "yanzi.tls.cert_file and yanzi.tls.key_file must be set together")
	}
	if !y.HasCredentials() {
		errs = append(errs, "yanzi credentials are required (username/password, access_token, session_id or tls client certificate)")
	}

	t := y.Timeouts
	if t.Request < 0 || t.Send < 0 || t.Auth < 0 || t.Subscription < 0 || t.ReconnectBackoff < 0 {
		errs = append(errs, "yanzi.timeouts must not be negative")
	}
	if y.RefreshInterval < 0 {
		errs = append(errs, "yanzi.refresh_interval must not be negative")
	}

	return errs
}

// HasCredentials reports whether any way of authenticating is configured.
func (y *YanziConfig) HasCredentials() bool {
	return (y.Username != "" && y.Password != "") ||
		y.AccessToken != "" ||
		y.SessionID != "" ||
		(y.TLS.CertFile != "" && y.TLS.KeyFile != "")
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

// GetRequestTimeout returns the Cirrus request timeout.
func (y *YanziConfig) GetRequestTimeout() time.Duration {
	return seconds(y.Timeouts.Request)
}

// GetSendTimeout returns the Cirrus streamed-send timeout.
func (y *YanziConfig) GetSendTimeout() time.Duration {
	return seconds(y.Timeouts.Send)
}

// GetAuthTimeout returns the login timeout.
func (y *YanziConfig) GetAuthTimeout() time.Duration {
	return seconds(y.Timeouts.Auth)
}

// GetPingInterval returns the keep-alive interval. A negative value in the
// file disables keep-alive.
func (y *YanziConfig) GetPingInterval() time.Duration {
	return seconds(y.Timeouts.Ping)
}

// GetSubscriptionTimeout returns the subscription staleness limit.
func (y *YanziConfig) GetSubscriptionTimeout() time.Duration {
	return seconds(y.Timeouts.Subscription)
}

// GetReconnectBackoff returns the wait between watch reconnects.
func (y *YanziConfig) GetReconnectBackoff() time.Duration {
	return seconds(y.Timeouts.ReconnectBackoff)
}

// GetRefreshInterval returns the device source refresh interval.
func (y *YanziConfig) GetRefreshInterval() time.Duration {
	return seconds(y.RefreshInterval)
}

// GetHealthInterval returns the health publish interval.
func (y *YanziConfig) GetHealthInterval() time.Duration {
	return seconds(y.HealthInterval)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
