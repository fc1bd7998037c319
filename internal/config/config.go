// Package config loads varianthunter settings from an optional YAML file and
// VARIANTHUNTER_* environment variables via viper.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// VARIANTHUNTER_STORAGE_DRIVER or VARIANTHUNTER_EXPORT_S3_BUCKET.
const EnvPrefix = "VARIANTHUNTER"

// Config is the complete varianthunter configuration.
type Config struct {
	Storage     StorageConfig     `mapstructure:"storage"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Export      ExportConfig      `mapstructure:"export"`
	HTTP        HTTPConfig        `mapstructure:"http"`
}

// StorageConfig selects the durable document store.
type StorageConfig struct {
	// Driver is one of memory, sqlite, postgres, badger.
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	BadgerPath  string `mapstructure:"badger_path"`
	// BadgerInMemory runs badger without touching disk.
	BadgerInMemory bool `mapstructure:"badger_in_memory"`
}

// PersistenceConfig tunes the background snapshot writer.
type PersistenceConfig struct {
	DebounceMs     int `mapstructure:"debounce_ms"`
	MaxRetries     int `mapstructure:"max_retries"`
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
	TimeoutMs      int `mapstructure:"timeout_ms"`
}

// Debounce returns the coalescing window.
func (c PersistenceConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// RetryBackoff returns the delay before the first retry.
func (c PersistenceConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

// Timeout bounds a single save attempt.
func (c PersistenceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	// Dir holds varianthunter.log; empty logs to stderr.
	Dir   string `mapstructure:"dir"`

	// TraceFile receives one JSON line per session operation; empty
	// disables tracing.
	TraceFile string `mapstructure:"trace_file"`
}

// ExportConfig selects where export artifacts are written.
type ExportConfig struct {
	// Driver is one of fs, memory, s3.
	Driver string   `mapstructure:"driver"`
	FSRoot string   `mapstructure:"fs_root"`
	S3     S3Config `mapstructure:"s3"`
}

// S3Config configures the S3 / MinIO export sink.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	PathStyle       bool   `mapstructure:"path_style"`
}

// HTTPConfig configures the HTTP adapter.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
	// Metrics exposes /metrics when true.
	Metrics bool `mapstructure:"metrics"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver:      "sqlite",
			SQLitePath:  "varianthunter.db",
			PostgresDSN: "postgres://localhost:5432/varianthunter?sslmode=disable",
			BadgerPath:  "varianthunter-badger",
		},
		Persistence: PersistenceConfig{
			DebounceMs:     250,
			MaxRetries:     3,
			RetryBackoffMs: 200,
			TimeoutMs:      5000,
		},
		Logging: LoggingConfig{Level: "info"},
		Export: ExportConfig{
			Driver: "fs",
			FSRoot: "./exports-data",
			S3:     S3Config{Region: "us-east-1"},
		},
		HTTP: HTTPConfig{Addr: ":8080", Metrics: true},
	}
}

// SetDefaults registers default values and environment bindings with v.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.postgres_dsn", d.Storage.PostgresDSN)
	v.SetDefault("storage.badger_path", d.Storage.BadgerPath)
	v.SetDefault("storage.badger_in_memory", d.Storage.BadgerInMemory)

	v.SetDefault("persistence.debounce_ms", d.Persistence.DebounceMs)
	v.SetDefault("persistence.max_retries", d.Persistence.MaxRetries)
	v.SetDefault("persistence.retry_backoff_ms", d.Persistence.RetryBackoffMs)
	v.SetDefault("persistence.timeout_ms", d.Persistence.TimeoutMs)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.dir", d.Logging.Dir)
	v.SetDefault("logging.trace_file", d.Logging.TraceFile)

	v.SetDefault("export.driver", d.Export.Driver)
	v.SetDefault("export.fs_root", d.Export.FSRoot)
	v.SetDefault("export.s3.bucket", d.Export.S3.Bucket)
	v.SetDefault("export.s3.region", d.Export.S3.Region)
	v.SetDefault("export.s3.endpoint", d.Export.S3.Endpoint)
	v.SetDefault("export.s3.access_key_id", d.Export.S3.AccessKeyID)
	v.SetDefault("export.s3.secret_access_key", d.Export.S3.SecretAccessKey)
	v.SetDefault("export.s3.session_token", d.Export.S3.SessionToken)
	v.SetDefault("export.s3.path_style", d.Export.S3.PathStyle)

	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.metrics", d.HTTP.Metrics)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// New returns a viper instance with defaults registered. A non-empty
// configFile is read as YAML.
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Load unmarshals v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}
