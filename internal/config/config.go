// Package config loads layered settings: defaults, then environment (with an
// optional .env file), then a JSON file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	dbconfig "busbuddy/pkg/database"
	"busbuddy/pkg/types"
)

// EnvPrefix namespaces every environment variable read here
const EnvPrefix = "BUSBUDDY_"

// DriverLocal selects the single-document local store instead of SQL
const DriverLocal = "local"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	Session   *SessionConfig   `json:"session"`
	Dashboard *DashboardConfig `json:"dashboard"`
	Log       *LogConfig       `json:"log"`
}

// DatabaseConfig selects and tunes the storage variant
type DatabaseConfig struct {
	Driver         string        `json:"driver"`
	Path           string        `json:"path"`
	DSN            string        `json:"dsn"`
	Timeout        time.Duration `json:"timeout"`
	MaxConnections int           `json:"max_connections"`
}

// HTTPConfig tunes the REST listener
type HTTPConfig struct {
	Port           int           `json:"port"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	Host           string        `json:"host"`
	PublicBaseURL  string        `json:"public_base_url"`
	WriteRateLimit int           `json:"write_rate_limit"`
}

// SessionConfig bounds session lifetimes
type SessionConfig struct {
	DefaultDuration time.Duration `json:"default_duration"`
	MaxDuration     time.Duration `json:"max_duration"`
}

// DashboardConfig tunes the leader dashboard watcher
type DashboardConfig struct {
	PollInterval time.Duration `json:"poll_interval"`
	ServerURL    string        `json:"server_url"`
}

// LogConfig selects zerolog level and output format
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// DefaultConfig returns working settings for a single-host SQLite deployment
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Driver:         string(dbconfig.DialectSQLite),
			Path:           "./busbuddy.db",
			Timeout:        5 * time.Second,
			MaxConnections: 10,
		},
		HTTP: &HTTPConfig{
			Port:           3000,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			Host:           "0.0.0.0",
			WriteRateLimit: 120,
		},
		Session: &SessionConfig{
			DefaultDuration: types.DefaultSessionDuration,
			MaxDuration:     7 * 24 * time.Hour,
		},
		Dashboard: &DashboardConfig{
			PollInterval: 10 * time.Second,
			ServerURL:    "http://localhost:3000",
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	if c.Database == nil {
		return errors.New("database configuration is required")
	}
	switch c.Database.Driver {
	case DriverLocal:
		// an empty path keeps the local store in memory
	case string(dbconfig.DialectSQLite), string(dbconfig.DialectPostgres):
		if err := c.Database.SQLConfig().Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("database driver must be one of sqlite3, pgx, local; got %q", c.Database.Driver)
	}

	if c.HTTP == nil {
		return errors.New("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return errors.New("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	if c.HTTP.WriteRateLimit < 0 {
		return errors.New("HTTP write rate limit cannot be negative")
	}

	if c.Session == nil {
		return errors.New("session configuration is required")
	}
	if c.Session.DefaultDuration <= 0 {
		return errors.New("session default duration must be positive")
	}
	if c.Session.MaxDuration > 0 && c.Session.DefaultDuration > c.Session.MaxDuration {
		return errors.New("session default duration exceeds max duration")
	}

	if c.Dashboard == nil {
		return errors.New("dashboard configuration is required")
	}
	if c.Dashboard.PollInterval <= 0 {
		return errors.New("dashboard poll interval must be positive")
	}

	if c.Log == nil {
		return errors.New("log configuration is required")
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log format must be json or console; got %q", c.Log.Format)
	}

	return nil
}

// SQLConfig converts the database section for the SQL storage variant
func (d *DatabaseConfig) SQLConfig() *dbconfig.Config {
	cfg := dbconfig.DefaultConfig()
	cfg.Driver = dbconfig.Dialect(d.Driver)
	cfg.Path = d.Path
	cfg.DSN = d.DSN
	cfg.Timeout = d.Timeout
	cfg.MaxConnections = d.MaxConnections
	return cfg
}

// Addr is the listen address
func (h *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// ApplyEnv overlays environment variables onto c. Unparseable values are
// logged and skipped.
func (c *Config) ApplyEnv() {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				log.Warn().Str("var", EnvPrefix+key).Str("value", v).Msg("Ignoring invalid integer")
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				log.Warn().Str("var", EnvPrefix+key).Str("value", v).Msg("Ignoring invalid duration")
				return
			}
			*dst = d
		}
	}

	str("DATABASE_DRIVER", &c.Database.Driver)
	str("DATABASE_PATH", &c.Database.Path)
	str("DATABASE_DSN", &c.Database.DSN)
	dur("DATABASE_TIMEOUT", &c.Database.Timeout)
	num("DATABASE_MAX_CONNECTIONS", &c.Database.MaxConnections)

	// PORT is honoured for platforms that inject it
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.HTTP.Port = p
		}
	}
	num("HTTP_PORT", &c.HTTP.Port)
	str("HTTP_HOST", &c.HTTP.Host)
	dur("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	dur("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)
	str("HTTP_PUBLIC_BASE_URL", &c.HTTP.PublicBaseURL)
	num("HTTP_WRITE_RATE_LIMIT", &c.HTTP.WriteRateLimit)

	dur("SESSION_DEFAULT_DURATION", &c.Session.DefaultDuration)
	dur("SESSION_MAX_DURATION", &c.Session.MaxDuration)

	dur("DASHBOARD_POLL_INTERVAL", &c.Dashboard.PollInterval)
	str("DASHBOARD_SERVER_URL", &c.Dashboard.ServerURL)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
}

// LoadFromEnv returns defaults overlaid with the environment
func LoadFromEnv() *Config {
	config := DefaultConfig()
	config.ApplyEnv()
	return config
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	Database *struct {
		Driver         string `json:"driver"`
		Path           string `json:"path"`
		DSN            string `json:"dsn"`
		Timeout        string `json:"timeout"`
		MaxConnections int    `json:"max_connections"`
	} `json:"database"`
	HTTP *struct {
		Port           int    `json:"port"`
		Host           string `json:"host"`
		ReadTimeout    string `json:"read_timeout"`
		WriteTimeout   string `json:"write_timeout"`
		PublicBaseURL  string `json:"public_base_url"`
		WriteRateLimit *int   `json:"write_rate_limit"`
	} `json:"http"`
	Session *struct {
		DefaultDuration string `json:"default_duration"`
		MaxDuration     string `json:"max_duration"`
	} `json:"session"`
	Dashboard *struct {
		PollInterval string `json:"poll_interval"`
		ServerURL    string `json:"server_url"`
	} `json:"dashboard"`
	Log *struct {
		Level  string `json:"level"`
		Format string `json:"format"`
	} `json:"log"`
}

// ApplyFile overlays the JSON file at path onto c. Unlike environment
// values, a malformed duration in a file is an error.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var f ConfigFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var errs []error
	dur := func(name, v string, dst *time.Duration) {
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = d
	}
	str := func(v string, dst *string) {
		if v != "" {
			*dst = v
		}
	}

	if db := f.Database; db != nil {
		str(db.Driver, &c.Database.Driver)
		str(db.Path, &c.Database.Path)
		str(db.DSN, &c.Database.DSN)
		dur("database.timeout", db.Timeout, &c.Database.Timeout)
		if db.MaxConnections > 0 {
			c.Database.MaxConnections = db.MaxConnections
		}
	}
	if h := f.HTTP; h != nil {
		if h.Port > 0 {
			c.HTTP.Port = h.Port
		}
		str(h.Host, &c.HTTP.Host)
		str(h.PublicBaseURL, &c.HTTP.PublicBaseURL)
		dur("http.read_timeout", h.ReadTimeout, &c.HTTP.ReadTimeout)
		dur("http.write_timeout", h.WriteTimeout, &c.HTTP.WriteTimeout)
		if h.WriteRateLimit != nil {
			c.HTTP.WriteRateLimit = *h.WriteRateLimit
		}
	}
	if s := f.Session; s != nil {
		dur("session.default_duration", s.DefaultDuration, &c.Session.DefaultDuration)
		dur("session.max_duration", s.MaxDuration, &c.Session.MaxDuration)
	}
	if d := f.Dashboard; d != nil {
		dur("dashboard.poll_interval", d.PollInterval, &c.Dashboard.PollInterval)
		str(d.ServerURL, &c.Dashboard.ServerURL)
	}
	if l := f.Log; l != nil {
		str(l.Level, &c.Log.Level)
		str(l.Format, &c.Log.Format)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config file %s: %w", path, errors.Join(errs...))
	}
	return nil
}

// LoadFromFile returns defaults overlaid with a JSON file, validated
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := config.ApplyFile(path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// Load builds the runtime configuration.
// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults.
// A .env file in the working directory is read into the environment first;
// variables already set win over it. When path is empty BUSBUDDY_CONFIG_FILE
// names the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config := LoadFromEnv()

	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvPrefix + "CONFIG_FILE"))
	}
	if path != "" {
		if err := config.ApplyFile(path); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
