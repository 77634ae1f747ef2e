// Package config loads the collector configuration. Values come from, in
// increasing priority: built-in defaults, the YAML file given on the command
// line, and CVC_* environment variables (a .env file is honoured). The result
// is validated once at startup and never modified afterwards.
package config

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/i474232898/cvc-collector/internal/common"
)

// EnvPrefix is prepended to every environment override, e.g. CVC_NUM_DAYS.
const EnvPrefix = "CVC"

const (
	defaultCheckInterval = 86400
	defaultSourceURL     = "http://akashabyronbay.com/abbcvcs/"
	defaultRequestDelay  = time.Second
	defaultSourceTimeout = 30 * time.Second
	defaultInfluxHost    = "localhost"
	defaultInfluxPort    = 8086
	defaultInfluxScheme  = "http"
	defaultDatabase      = "aussiebb"
)

// Secret is a string that never prints its value.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***REDACTED***"
}

// Reveal returns the raw value.
func (s Secret) Reveal() string {
	return string(s)
}

// Config is the top-level collector configuration.
type Config struct {
	// CheckInterval is the pause between cycles, in seconds.
	CheckInterval int `yaml:"check_interval" envconfig:"CHECK_INTERVAL"`

	// NumDays is the lookback, in days, walked by every cycle.
	NumDays int `yaml:"num_days" envconfig:"NUM_DAYS" validate:"gt=0"`

	// CVCs are the station slugs to collect.
	CVCs []string `yaml:"cvcs" envconfig:"CVCS" validate:"required,min=1,dive,required"`

	LogLevel string `yaml:"log_level" envconfig:"LOG_LEVEL" validate:"oneof=debug info warn error"`

	InfluxDB InfluxDBConfig `yaml:"influxdb" envconfig:"INFLUXDB" validate:"-"`
	Source   SourceConfig   `yaml:"source" envconfig:"SOURCE"`
	Store    StoreConfig    `yaml:"store" envconfig:"STORE"`
	Status   StatusConfig   `yaml:"status" envconfig:"STATUS"`
}

// InfluxDBConfig holds the InfluxDB connection parameters.
type InfluxDBConfig struct {
	Scheme   string        `yaml:"scheme" envconfig:"SCHEME" validate:"oneof=http https"`
	Host     string        `yaml:"host" envconfig:"HOST" validate:"required"`
	Port     int           `yaml:"port" envconfig:"PORT" validate:"gt=0,lte=65535"`
	Token    Secret        `yaml:"token" envconfig:"TOKEN" validate:"required"`
	Org      string        `yaml:"org" envconfig:"ORG" validate:"required"`
	Database string        `yaml:"database" envconfig:"DATABASE" validate:"required"`
	Timeout  time.Duration `yaml:"timeout" envconfig:"TIMEOUT" validate:"gte=0"`
}

// URL returns the server address built from scheme, host and port.
func (c InfluxDBConfig) URL() string {
	return fmt.Sprintf("%s://%s", c.Scheme, net.JoinHostPort(c.Host, strconv.Itoa(c.Port)))
}

// SourceConfig holds the upstream feed settings.
type SourceConfig struct {
	URL          string        `yaml:"url" envconfig:"URL" validate:"required,url"`
	RequestDelay time.Duration `yaml:"request_delay" envconfig:"REQUEST_DELAY" validate:"gt=0"`
	Timeout      time.Duration `yaml:"timeout" envconfig:"TIMEOUT" validate:"gt=0"`
}

// StoreConfig selects the point store.
type StoreConfig struct {
	// Driver is "influxdb" or "memory" (dry run).
	Driver     string `yaml:"driver" envconfig:"DRIVER" validate:"oneof=influxdb memory"`
	MaxHistory int    `yaml:"max_history" envconfig:"MAX_HISTORY" validate:"gte=0"`
}

// StatusConfig controls the status HTTP server. An empty Addr disables it.
type StatusConfig struct {
	Addr string `yaml:"addr" envconfig:"ADDR" validate:"omitempty,hostname_port"`
}

// RecheckInterval is CheckInterval as a duration.
func (c *Config) RecheckInterval() time.Duration {
	return time.Duration(c.CheckInterval) * time.Second
}

// Default returns the configuration used before the file and environment are applied.
func Default() Config {
	return Config{
		CheckInterval: defaultCheckInterval,
		LogLevel:      "info",
		InfluxDB: InfluxDBConfig{
			Scheme:   defaultInfluxScheme,
			Host:     defaultInfluxHost,
			Port:     defaultInfluxPort,
			Database: defaultDatabase,
			Timeout:  defaultSourceTimeout,
		},
		Source: SourceConfig{
			URL:          defaultSourceURL,
			RequestDelay: defaultRequestDelay,
			Timeout:      defaultSourceTimeout,
		},
		Store: StoreConfig{
			Driver: "influxdb",
		},
	}
}

// Load reads configuration from the YAML file at path (skipped when path is
// empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, &ConfigError{
				Type:    ErrReadFile,
				Message: fmt.Sprintf("failed to read config file %s", path),
				Err:     err,
			}
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, &ConfigError{
				Type:    ErrParsing,
				Message: fmt.Sprintf("failed to parse config file %s", path),
				Err:     err,
			}
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.CVCs = common.CleanList(cfg.CVCs)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration. A zero check_interval is reported with a
// dedicated message because it is the most common misconfiguration.
func (c *Config) Validate() error {
	if c.CheckInterval <= 0 {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "check_interval is not set in config file.",
		}
	}

	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	if c.Store.Driver == "influxdb" {
		if err := validate.Struct(c.InfluxDB); err != nil {
			return &ConfigError{
				Type:    ErrValidation,
				Message: "influxdb configuration is incomplete",
				Err:     err,
			}
		}
	}
	return nil
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrReadFile indicates the config file could not be read.
	ErrReadFile ConfigErrorType = "READ_FAILED"
	// ErrParsing indicates the file or an environment value could not be parsed.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
	// ErrValidation indicates the configuration failed validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
)

// ConfigError is returned by Load and Validate.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is a ConfigError of the given type.
func IsConfigError(err error, typ ConfigErrorType) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr) && cfgErr.Type == typ
}
