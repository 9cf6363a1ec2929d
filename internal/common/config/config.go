package config

import (
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the presence service
type Config struct {
	Logger   LoggerConfig   `yaml:"logger"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Broker   BrokerConfig   `yaml:"broker"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// LoggerConfig represents logger configuration
type LoggerConfig struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Format     string `yaml:"format"`      // json, console
	Output     string `yaml:"output"`      // stdout, file
	FilePath   string `yaml:"file_path"`   // path to log file when output is file
	MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
	MaxBackups int    `yaml:"max_backups"` // max number of backup files
	MaxAge     int    `yaml:"max_age"`     // max age of log files in days
	Compress   bool   `yaml:"compress"`    // whether to compress rotated files
	Color      bool   `yaml:"color"`       // colorized console output
	Stacktrace bool   `yaml:"stacktrace"`  // stacktraces on error level
}

// ServerConfig represents the HTTP server configuration
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Type     string `yaml:"type"` // sqlite, postgres, mysql
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"` // file path for sqlite
	SSLMode  string `yaml:"sslmode"`
}

// JWTConfig represents the token verification configuration
type JWTConfig struct {
	SecretKey string        `yaml:"secret_key"`
	Duration  time.Duration `yaml:"duration"`
}

// UnmarshalYAML accepts "24h" style duration values
func (c *JWTConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		SecretKey string `yaml:"secret_key"`
		Duration  string `yaml:"duration"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.SecretKey = raw.SecretKey
	d, err := parseDuration(raw.Duration)
	if err != nil {
		return err
	}
	c.Duration = d
	return nil
}

// RealtimeConfig carries the session manager timings and retry policy.
// Zero values are replaced with defaults by SetDefaults.
type RealtimeConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	StaleAfter        time.Duration `yaml:"stale_after"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`
	RetryTTL          time.Duration `yaml:"retry_ttl"`
	MaxMessageLength  int           `yaml:"max_message_length"`
}

// UnmarshalYAML accepts "30s" style duration values
func (c *RealtimeConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		HeartbeatInterval string `yaml:"heartbeat_interval"`
		IdleTimeout       string `yaml:"idle_timeout"`
		ReconcileInterval string `yaml:"reconcile_interval"`
		StaleAfter        string `yaml:"stale_after"`
		MaxRetries        int    `yaml:"max_retries"`
		RetryBaseDelay    string `yaml:"retry_base_delay"`
		RetryMaxDelay     string `yaml:"retry_max_delay"`
		RetryTTL          string `yaml:"retry_ttl"`
		MaxMessageLength  int    `yaml:"max_message_length"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	var err error
	if c.HeartbeatInterval, err = parseDuration(raw.HeartbeatInterval); err != nil {
		return err
	}
	if c.IdleTimeout, err = parseDuration(raw.IdleTimeout); err != nil {
		return err
	}
	if c.ReconcileInterval, err = parseDuration(raw.ReconcileInterval); err != nil {
		return err
	}
	if c.StaleAfter, err = parseDuration(raw.StaleAfter); err != nil {
		return err
	}
	if c.RetryBaseDelay, err = parseDuration(raw.RetryBaseDelay); err != nil {
		return err
	}
	if c.RetryMaxDelay, err = parseDuration(raw.RetryMaxDelay); err != nil {
		return err
	}
	if c.RetryTTL, err = parseDuration(raw.RetryTTL); err != nil {
		return err
	}
	c.MaxRetries = raw.MaxRetries
	c.MaxMessageLength = raw.MaxMessageLength
	return nil
}

// parseDuration parses a duration string, treating empty as zero so
// defaults can apply
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// BrokerConfig selects the room broker backend
type BrokerConfig struct {
	Type  string            `yaml:"type"` // memory, redis
	Redis BrokerRedisConfig `yaml:"redis"`
}

// BrokerRedisConfig represents the redis broker configuration
type BrokerRedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Topic    string `yaml:"topic"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Namespace string    `yaml:"namespace"`
	Buckets   []float64 `yaml:"buckets"`
}

// SetDefaults fills zero-valued realtime settings with the production defaults
func (c *RealtimeConfig) SetDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Minute
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 15 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = time.Hour
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 16 * time.Second
	}
	if c.RetryTTL <= 0 {
		c.RetryTTL = 5 * time.Minute
	}
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = 1000
	}
}

// LoadConfig loads configuration from a YAML file with environment
// variable resolution
func LoadConfig(path string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Resolve environment variables
	data = resolveEnv(data)
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.Realtime.SetDefaults()
	return &cfg, nil
}

// resolveEnv replaces ${VAR} and ${VAR:default} placeholders in YAML content
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
