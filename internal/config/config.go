package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported values of SourceConfig.Driver.
const (
	DriverSQLite   = "sqlite"
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// reservedNames are served by the HTTP server and cannot name a source.
var reservedNames = map[string]bool{
	"health": true,
	"ready":  true,
	"status": true,
}

// EnvPrefix prefixes environment overrides, e.g. DBCONFIG_LISTEN.
const EnvPrefix = "DBCONFIG"

type Config struct {
	Listen    string         `mapstructure:"listen" yaml:"listen"`
	AuthKey   string         `mapstructure:"auth_key" yaml:"auth_key,omitempty"`
	LogLevel  string         `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string         `mapstructure:"log_format" yaml:"log_format"`
	Sources   []SourceConfig `mapstructure:"sources" yaml:"sources"`
}

// SourceConfig describes one database backed configuration source.
type SourceConfig struct {
	Name            string        `mapstructure:"name" yaml:"name"`
	Driver          string        `mapstructure:"driver" yaml:"driver"`
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	Query           string        `mapstructure:"query" yaml:"query"`
	KeyColumn       int           `mapstructure:"key_column" yaml:"key_column"`
	ValueColumn     int           `mapstructure:"value_column" yaml:"value_column"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval" yaml:"refresh_interval,omitempty"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout" yaml:"query_timeout,omitempty"`
}

func NewDefaultConfig() *Config {
	return &Config{
		Listen:    ":8080",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// TryLoadFromDisk reads the config file at configFilePath. Top level keys can
// be overridden from the environment with the DBCONFIG_ prefix.
func TryLoadFromDisk(configFilePath string) (*Config, error) {
	if _, err := os.Stat(configFilePath); err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(configFilePath)
	v.SetConfigType(strings.TrimPrefix(filepath.Ext(configFilePath), "."))
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"listen", "auth_key", "log_level", "log_format"} {
		// AutomaticEnv only applies to keys viper already knows about
		_ = v.BindEnv(key)
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := NewDefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	for i := range cfg.Sources {
		// with neither column set, read the key from 0 and the value from 1
		if cfg.Sources[i].ValueColumn == 0 && cfg.Sources[i].KeyColumn == 0 {
			cfg.Sources[i].ValueColumn = 1
		}
	}
	return cfg, nil
}

// Validate reports every problem found in the configuration.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Sources) == 0 {
		errs = append(errs, errors.New("at least one source is required"))
	}
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: name is required", i))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Errorf("sources[%d]: duplicate name %q", i, s.Name))
		} else if reservedNames[s.Name] {
			errs = append(errs, fmt.Errorf("sources[%d]: name %q is reserved", i, s.Name))
		}
		seen[s.Name] = true
		switch s.Driver {
		case DriverSQLite, DriverPgx, DriverPostgres, DriverMySQL:
		default:
			errs = append(errs, fmt.Errorf("sources[%d]: unsupported driver %q", i, s.Driver))
		}
		if s.DSN == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: dsn is required", i))
		}
		if s.Query == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: query is required", i))
		}
		if s.KeyColumn < 0 || s.ValueColumn < 0 {
			errs = append(errs, fmt.Errorf("sources[%d]: column indexes must not be negative", i))
		}
		if s.RefreshInterval < 0 || s.QueryTimeout < 0 {
			errs = append(errs, fmt.Errorf("sources[%d]: durations must not be negative", i))
		}
	}
	return errors.Join(errs...)
}
