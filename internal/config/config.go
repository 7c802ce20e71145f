// Package config loads application configuration from an optional YAML file
// and NOTIFIER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "NOTIFIER_"
	defaultConfigFile = "config.yaml"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the application configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Log           LogConfig           `koanf:"log"`
	CORS          CORSConfig          `koanf:"cors"`
	Notifications NotificationsConfig `koanf:"notifications"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig contains storage settings.
type DatabaseConfig struct {
	Driver          string        `koanf:"driver"`
	URL             string        `koanf:"url"`
	SQLitePath      string        `koanf:"sqlite_path"`
	BusyTimeout     time.Duration `koanf:"busy_timeout"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	MigrateOnStart  bool          `koanf:"migrate_on_start"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CORSConfig contains CORS settings of the HTTP API.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// NotificationsConfig contains debounce, delivery and webhook settings.
// An empty WebhookURL leaves the queue processor idle.
type NotificationsConfig struct {
	Enabled        bool          `koanf:"enabled"`
	WebhookURL     string        `koanf:"webhook_url"`
	BaseURL        string        `koanf:"base_url"`
	Username       string        `koanf:"username"`
	AvatarURL      string        `koanf:"avatar_url"`
	DebounceWindow time.Duration `koanf:"debounce_window"`
	MaxWait        time.Duration `koanf:"max_wait"`
	PollInterval   time.Duration `koanf:"poll_interval"`
	BatchSize      int           `koanf:"batch_size"`
	MaxAttempts    int           `koanf:"max_attempts"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	RateLimit      float64       `koanf:"rate_limit"`
	MaxEmbeds      int           `koanf:"max_embeds"`
	DrainTimeout   time.Duration `koanf:"drain_timeout"`
	Retention      time.Duration `koanf:"retention"`
}

// Default returns the configuration used for every key not set elsewhere.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          DriverPostgres,
			SQLitePath:      "notifier.db",
			BusyTimeout:     5 * time.Second,
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			MigrateOnStart:  true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Notifications: NotificationsConfig{
			Enabled:        true,
			DebounceWindow: 60 * time.Second,
			MaxWait:        3 * time.Minute,
			PollInterval:   30 * time.Second,
			BatchSize:      10,
			MaxAttempts:    3,
			RequestTimeout: 10 * time.Second,
			MaxEmbeds:      10,
			DrainTimeout:   10 * time.Second,
			Retention:      7 * 24 * time.Hour,
		},
	}
}

// Load reads configuration from the file named by CONFIG_FILE (config.yaml
// when unset) and then from the environment.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = defaultConfigFile
	}
	return LoadFile(path)
}

// LoadFile reads configuration from path, which may be missing, and then from
// NOTIFIER_* environment variables. A double underscore separates sections:
// NOTIFIER_NOTIFICATIONS__WEBHOOK_URL sets notifications.webhook_url.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres driver"))
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			errs = append(errs, errors.New("database.sqlite_path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Database.Driver))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}

	n := c.Notifications
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"notifications.debounce_window", n.DebounceWindow},
		{"notifications.max_wait", n.MaxWait},
		{"notifications.poll_interval", n.PollInterval},
		{"notifications.request_timeout", n.RequestTimeout},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.name))
		}
	}
	if n.MaxWait > 0 && n.DebounceWindow > n.MaxWait {
		errs = append(errs, errors.New("notifications.max_wait must not be shorter than notifications.debounce_window"))
	}
	if n.BatchSize <= 0 {
		errs = append(errs, errors.New("notifications.batch_size must be positive"))
	}
	if n.MaxAttempts <= 0 {
		errs = append(errs, errors.New("notifications.max_attempts must be positive"))
	}
	if n.MaxEmbeds < 1 || n.MaxEmbeds > 10 {
		errs = append(errs, errors.New("notifications.max_embeds must be between 1 and 10"))
	}
	if n.RateLimit < 0 {
		errs = append(errs, errors.New("notifications.rate_limit must not be negative"))
	}
	if n.Retention < 0 {
		errs = append(errs, errors.New("notifications.retention must not be negative"))
	}

	return errors.Join(errs...)
}
