package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/systmms/secrets-replicator/internal/cache"
	"github.com/systmms/secrets-replicator/internal/destinations"
	dserrors "github.com/systmms/secrets-replicator/internal/errors"
	"github.com/systmms/secrets-replicator/internal/logging"
	"github.com/systmms/secrets-replicator/internal/retry"
	"github.com/systmms/secrets-replicator/internal/transform"
)

const (
	// EnvPrefix prefixes every environment variable, e.g. REPLICATOR_SOURCE_REGION.
	EnvPrefix = "REPLICATOR"

	// DefaultConfigName is looked up in the working directory and
	// /etc/secrets-replicator when no path is given.
	DefaultConfigName = "replicator"

	// Config store backends
	StoreSecretsManager = "secretsmanager"
	StoreSSM            = "ssm"

	maxSecretSizeLimit = 65536
)

// Config holds the runtime configuration
type Config struct {
	// Path is an explicit config file. Empty means search for replicator.yaml.
	Path string

	// EnvFiles are dotenv files loaded before reading the environment.
	// Empty means ".env" when it exists.
	EnvFiles []string

	Logger   *logging.Logger
	Settings *Settings
}

// Settings is the resolved configuration.
type Settings struct {
	SourceRegion    string
	Endpoint        string
	ConfigStore     string
	DestinationsKey string
	Destinations    string
	MaxSecretSize   int
	Concurrency     int

	AWSProfile         string
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	SessionName     string
	SessionDuration time.Duration
	ExternalID      string

	CacheTTL     time.Duration
	RegexTimeout time.Duration
	Retry        retry.Config

	LogLevel    string
	MetricsFile string

	// ConfigFile is the file the settings were read from, if any.
	ConfigFile string
}

// SetDefaults registers every key with its default value
func SetDefaults(v *viper.Viper) {
	retryDefaults := retry.DefaultConfig()

	v.SetDefault("source_region", "")
	v.SetDefault("endpoint", "")
	v.SetDefault("config_store", StoreSecretsManager)
	v.SetDefault("destinations_key", destinations.DefaultDestinationsKey)
	v.SetDefault("destinations", "")
	v.SetDefault("max_secret_size", maxSecretSizeLimit)
	v.SetDefault("concurrency", 1)
	v.SetDefault("aws.profile", "")
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")
	v.SetDefault("session_name", "secrets-replicator")
	v.SetDefault("session_duration", time.Hour)
	v.SetDefault("external_id", "")
	v.SetDefault("cache.ttl", cache.DefaultTTL)
	v.SetDefault("transform.regex_timeout", transform.DefaultRegexTimeout)
	v.SetDefault("retry.initial_interval", retryDefaults.InitialInterval)
	v.SetDefault("retry.max_interval", retryDefaults.MaxInterval)
	v.SetDefault("retry.multiplier", retryDefaults.Multiplier)
	v.SetDefault("retry.max_attempts", retryDefaults.MaxAttempts)
	v.SetDefault("retry.jitter", retryDefaults.Jitter)
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.file", "")
}

// Load reads dotenv files, the config file and the environment, then
// validates the result
func (c *Config) Load() error {
	if err := c.loadEnvFiles(); err != nil {
		return err
	}

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if c.Path != "" {
		if _, err := os.Stat(c.Path); errors.Is(err, os.ErrNotExist) {
			return dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Check the --config path or omit it to use replicator.yaml",
			}
		}
		v.SetConfigFile(c.Path)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/secrets-replicator")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if c.Path != "" || !errors.As(err, &notFound) {
			return dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    fmt.Sprintf("failed to read configuration file: %v", err),
				Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
			}
		}
	}

	settings := FromViper(v)
	if err := settings.Validate(); err != nil {
		return err
	}

	c.Settings = settings
	if c.Logger != nil && settings.ConfigFile != "" {
		c.Logger.Debug("loaded configuration from %s", settings.ConfigFile)
	}
	return nil
}

func (c *Config) loadEnvFiles() error {
	files := c.EnvFiles
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}

	if err := godotenv.Load(files...); err != nil {
		return dserrors.ConfigError{
			Field:      "env_file",
			Value:      strings.Join(files, ","),
			Message:    fmt.Sprintf("failed to load environment file: %v", err),
			Suggestion: "Use KEY=value lines; lines starting with # are comments",
		}
	}
	return nil
}

// FromViper reads settings from v without validating them
func FromViper(v *viper.Viper) *Settings {
	return &Settings{
		SourceRegion:       v.GetString("source_region"),
		Endpoint:           v.GetString("endpoint"),
		ConfigStore:        strings.ToLower(v.GetString("config_store")),
		DestinationsKey:    v.GetString("destinations_key"),
		Destinations:       v.GetString("destinations"),
		MaxSecretSize:      v.GetInt("max_secret_size"),
		Concurrency:        v.GetInt("concurrency"),
		AWSProfile:         v.GetString("aws.profile"),
		AWSAccessKeyID:     v.GetString("aws.access_key_id"),
		AWSSecretAccessKey: v.GetString("aws.secret_access_key"),
		SessionName:        v.GetString("session_name"),
		SessionDuration:    v.GetDuration("session_duration"),
		ExternalID:         v.GetString("external_id"),
		CacheTTL:           v.GetDuration("cache.ttl"),
		RegexTimeout:       v.GetDuration("transform.regex_timeout"),
		Retry: retry.Config{
			InitialInterval: v.GetDuration("retry.initial_interval"),
			MaxInterval:     v.GetDuration("retry.max_interval"),
			Multiplier:      v.GetFloat64("retry.multiplier"),
			MaxAttempts:     v.GetInt("retry.max_attempts"),
			Jitter:          v.GetFloat64("retry.jitter"),
		},
		LogLevel:    strings.ToLower(v.GetString("log.level")),
		MetricsFile: v.GetString("metrics.file"),
		ConfigFile:  v.ConfigFileUsed(),
	}
}

// Validate checks every setting and returns the first problem found
func (s *Settings) Validate() error {
	switch s.ConfigStore {
	case StoreSecretsManager, StoreSSM:
	default:
		return dserrors.ConfigError{
			Field:      "config_store",
			Value:      s.ConfigStore,
			Message:    "unknown configuration store",
			Suggestion: "Use 'secretsmanager' or 'ssm'",
		}
	}

	if s.Destinations == "" && s.DestinationsKey == "" {
		return dserrors.ConfigError{
			Field:      "destinations_key",
			Message:    "no destination list configured",
			Suggestion: fmt.Sprintf("Set destinations_key (default %s) or an inline destinations document", destinations.DefaultDestinationsKey),
		}
	}
	if s.Destinations != "" {
		if _, err := destinations.ParseSpecs([]byte(s.Destinations)); err != nil {
			return dserrors.ConfigError{
				Field:      "destinations",
				Message:    err.Error(),
				Suggestion: "Validate the document with 'secrets-replicator validate --file'",
			}
		}
	}

	if s.MaxSecretSize <= 0 || s.MaxSecretSize > maxSecretSizeLimit {
		return dserrors.ConfigError{
			Field:      "max_secret_size",
			Value:      s.MaxSecretSize,
			Message:    fmt.Sprintf("must be between 1 and %d bytes", maxSecretSizeLimit),
			Suggestion: "Secrets Manager rejects values above 64 KiB",
		}
	}
	if s.Concurrency < 1 {
		return dserrors.ConfigError{
			Field:      "concurrency",
			Value:      s.Concurrency,
			Message:    "must be at least 1",
			Suggestion: "Use 1 for sequential writes",
		}
	}
	if s.SessionDuration < 15*time.Minute || s.SessionDuration > 12*time.Hour {
		return dserrors.ConfigError{
			Field:      "session_duration",
			Value:      s.SessionDuration,
			Message:    "must be between 15m and 12h",
			Suggestion: "STS limits role sessions to the role's maximum session duration",
		}
	}
	if s.CacheTTL < 0 {
		return dserrors.ConfigError{
			Field:   "cache.ttl",
			Value:   s.CacheTTL,
			Message: "must not be negative",
		}
	}
	if s.RegexTimeout <= 0 {
		return dserrors.ConfigError{
			Field:      "transform.regex_timeout",
			Value:      s.RegexTimeout,
			Message:    "must be positive",
			Suggestion: fmt.Sprintf("The default is %s", transform.DefaultRegexTimeout),
		}
	}
	if err := validateRetry(s.Retry); err != nil {
		return err
	}

	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return dserrors.ConfigError{
			Field:      "log.level",
			Value:      s.LogLevel,
			Message:    "unknown log level",
			Suggestion: "Use debug, info, warn or error",
		}
	}
	return nil
}

func validateRetry(cfg retry.Config) error {
	switch {
	case cfg.MaxAttempts < 1:
		return dserrors.ConfigError{Field: "retry.max_attempts", Value: cfg.MaxAttempts, Message: "must be at least 1"}
	case cfg.InitialInterval <= 0:
		return dserrors.ConfigError{Field: "retry.initial_interval", Value: cfg.InitialInterval, Message: "must be positive"}
	case cfg.MaxInterval < cfg.InitialInterval:
		return dserrors.ConfigError{Field: "retry.max_interval", Value: cfg.MaxInterval, Message: "must not be below retry.initial_interval"}
	case cfg.Multiplier < 1:
		return dserrors.ConfigError{Field: "retry.multiplier", Value: cfg.Multiplier, Message: "must be at least 1"}
	case cfg.Jitter < 0 || cfg.Jitter > 1:
		return dserrors.ConfigError{Field: "retry.jitter", Value: cfg.Jitter, Message: "must be between 0 and 1"}
	}
	return nil
}

// Specs returns the inline destination list, or nil when the list is loaded
// from the configuration store
func (s *Settings) Specs() ([]destinations.Spec, error) {
	if s.Destinations == "" {
		return nil, nil
	}
	return destinations.ParseSpecs([]byte(s.Destinations))
}
