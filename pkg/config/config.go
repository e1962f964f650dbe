package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Port        int
	GinMode     string
	CORSOrigins []string
	Log         LogConfig
	Database    DatabaseConfig
	Breaker     BreakerConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type DatabaseConfig struct {
	Driver       string
	Path         string
	Host         string
	Port         string
	User         string
	Password     string
	Name         string
	MaxRetries   int
	RetryDelay   time.Duration
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

type BreakerConfig struct {
	MaxFailures int
	Timeout     time.Duration
	Window      time.Duration
}

// DSN returns the postgres connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.Host, c.User, c.Password, c.Name, c.Port)
}

// Keys double as environment variable names: viper upper-cases them.
const (
	KeyPort            = "port"
	KeyGinMode         = "gin_mode"
	KeyCORSOrigins     = "cors_allowed_origins"
	KeyLogLevel        = "log_level"
	KeyLogFormat       = "log_format"
	KeyDBDriver        = "db_driver"
	KeyDatabaseURL     = "database_url"
	KeyDBHost          = "db_host"
	KeyDBPort          = "db_port"
	KeyDBUser          = "db_user"
	KeyDBPassword      = "db_password"
	KeyDBName          = "db_name"
	KeyDBRetries       = "db_connect_retries"
	KeyDBRetryDelay    = "db_connect_retry_delay"
	KeyDBMaxOpenConns  = "db_max_open_conns"
	KeyDBMaxIdleConns  = "db_max_idle_conns"
	KeyDBConnLifetime  = "db_conn_max_lifetime"
	KeyBreakerFailures = "breaker_max_failures"
	KeyBreakerTimeout  = "breaker_timeout"
	KeyBreakerWindow   = "breaker_window"
)

// SetDefaults registers every known key so AutomaticEnv can resolve it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyPort, 5000)
	v.SetDefault(KeyGinMode, "release")
	v.SetDefault(KeyCORSOrigins, "*")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyDBDriver, DriverSQLite)
	v.SetDefault(KeyDatabaseURL, "library.db")
	v.SetDefault(KeyDBHost, "postgres")
	v.SetDefault(KeyDBPort, "5432")
	v.SetDefault(KeyDBUser, "program")
	v.SetDefault(KeyDBPassword, "test")
	v.SetDefault(KeyDBName, "library")
	v.SetDefault(KeyDBRetries, 10)
	v.SetDefault(KeyDBRetryDelay, 5*time.Second)
	v.SetDefault(KeyDBMaxOpenConns, 25)
	v.SetDefault(KeyDBMaxIdleConns, 10)
	v.SetDefault(KeyDBConnLifetime, 5*time.Minute)
	v.SetDefault(KeyBreakerFailures, 5)
	v.SetDefault(KeyBreakerTimeout, 30*time.Second)
	v.SetDefault(KeyBreakerWindow, 60*time.Second)
}

// New returns a viper instance with defaults and environment lookup wired.
// A missing envFile is not an error.
func New(envFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read %s: %w", envFile, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", envFile, err)
		}
	}
	return v, nil
}

func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:        v.GetInt(KeyPort),
		GinMode:     v.GetString(KeyGinMode),
		CORSOrigins: splitList(v.GetString(KeyCORSOrigins)),
		Log: LogConfig{
			Level:  v.GetString(KeyLogLevel),
			Format: strings.ToLower(v.GetString(KeyLogFormat)),
		},
		Database: DatabaseConfig{
			Driver:       strings.ToLower(v.GetString(KeyDBDriver)),
			Path:         v.GetString(KeyDatabaseURL),
			Host:         v.GetString(KeyDBHost),
			Port:         v.GetString(KeyDBPort),
			User:         v.GetString(KeyDBUser),
			Password:     v.GetString(KeyDBPassword),
			Name:         v.GetString(KeyDBName),
			MaxRetries:   v.GetInt(KeyDBRetries),
			RetryDelay:   v.GetDuration(KeyDBRetryDelay),
			MaxOpenConns: v.GetInt(KeyDBMaxOpenConns),
			MaxIdleConns: v.GetInt(KeyDBMaxIdleConns),
			ConnLifetime: v.GetDuration(KeyDBConnLifetime),
		},
		Breaker: BreakerConfig{
			MaxFailures: v.GetInt(KeyBreakerFailures),
			Timeout:     v.GetDuration(KeyBreakerTimeout),
			Window:      v.GetDuration(KeyBreakerWindow),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database_url is required for the sqlite driver")
		}
	case DriverPostgres:
	default:
		return fmt.Errorf("unsupported db driver %q", c.Database.Driver)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unsupported log format %q", c.Log.Format)
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("unsupported gin mode %q", c.GinMode)
	}
	if c.Database.MaxRetries < 1 {
		c.Database.MaxRetries = 1
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
