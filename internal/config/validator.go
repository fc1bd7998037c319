package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidStorageDrivers lists the accepted storage.driver values.
func ValidStorageDrivers() []string {
	return []string{"memory", "sqlite", "postgres", "badger"}
}

// ValidExportDrivers lists the accepted export.driver values.
func ValidExportDrivers() []string {
	return []string{"fs", "memory", "s3"}
}

// ValidLogLevels lists the accepted logging.level values.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config and returns every problem found.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if !slices.Contains(ValidStorageDrivers(), c.Storage.Driver) {
		errs = append(errs, ValidationError{Field: "storage.driver", Value: c.Storage.Driver,
			Message: "must be one of " + strings.Join(ValidStorageDrivers(), ", ")})
	}
	if c.Storage.Driver == "postgres" && c.Storage.PostgresDSN == "" {
		errs = append(errs, ValidationError{Field: "storage.postgres_dsn", Value: "", Message: "required for postgres driver"})
	}
	if c.Storage.Driver == "badger" && !c.Storage.BadgerInMemory && c.Storage.BadgerPath == "" {
		errs = append(errs, ValidationError{Field: "storage.badger_path", Value: "", Message: "required for on-disk badger"})
	}

	if c.Persistence.DebounceMs < 0 {
		errs = append(errs, ValidationError{Field: "persistence.debounce_ms", Value: c.Persistence.DebounceMs, Message: "must be >= 0"})
	}
	if c.Persistence.MaxRetries < 0 {
		errs = append(errs, ValidationError{Field: "persistence.max_retries", Value: c.Persistence.MaxRetries, Message: "must be >= 0"})
	}
	if c.Persistence.RetryBackoffMs < 0 {
		errs = append(errs, ValidationError{Field: "persistence.retry_backoff_ms", Value: c.Persistence.RetryBackoffMs, Message: "must be >= 0"})
	}
	if c.Persistence.TimeoutMs <= 0 {
		errs = append(errs, ValidationError{Field: "persistence.timeout_ms", Value: c.Persistence.TimeoutMs, Message: "must be > 0"})
	}

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{Field: "logging.level", Value: c.Logging.Level,
			Message: "must be one of " + strings.Join(ValidLogLevels(), ", ")})
	}

	if !slices.Contains(ValidExportDrivers(), c.Export.Driver) {
		errs = append(errs, ValidationError{Field: "export.driver", Value: c.Export.Driver,
			Message: "must be one of " + strings.Join(ValidExportDrivers(), ", ")})
	}
	if c.Export.Driver == "s3" && c.Export.S3.Bucket == "" {
		errs = append(errs, ValidationError{Field: "export.s3.bucket", Value: "", Message: "required for s3 driver"})
	}
	if c.Export.Driver == "fs" && c.Export.FSRoot == "" {
		errs = append(errs, ValidationError{Field: "export.fs_root", Value: "", Message: "required for fs driver"})
	}

	if c.HTTP.Addr == "" {
		errs = append(errs, ValidationError{Field: "http.addr", Value: "", Message: "must not be empty"})
	}
	return errs
}
