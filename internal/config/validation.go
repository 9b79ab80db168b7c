package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
	Warning bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// ValidateConfig performs comprehensive validation of the configuration.
// Warnings alone do not fail validation.
func ValidateConfig(c *Config) error {
	if errs := Check(c); errs.HasErrors() {
		return errs.Errors()
	}
	return nil
}

// Check runs every validation and returns all findings, warnings included.
func Check(c *Config) ValidationErrors {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateScanner(&c.Scanner)...)
	errs = append(errs, validateDecoder(&c.Decoder)...)
	errs = append(errs, validateDevice(&c.Device)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateHTTP(&c.HTTP)...)
	return errs
}

func validateScanner(s *ScannerConfig) ValidationErrors {
	var errs ValidationErrors

	if s.TimerMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "scanner.timer_ms",
			Message: "timer cannot be negative",
		})
	}
	if s.KeyGapMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "scanner.key_gap_ms",
			Message: "key gap cannot be negative",
		})
	}

	// Mirror the strategy order: suffix wins, then prefix, then gap.
	switch {
	case len(s.SuffixKeys) > 0:
		if len(s.PrefixKeys) > 0 {
			errs = append(errs, ValidationError{
				Field:   "scanner.prefix_keys",
				Message: "ignored because suffix_keys is set",
				Warning: true,
			})
		}
	case len(s.PrefixKeys) > 0:
		if s.TimerMs < 1 {
			errs = append(errs, *RangeError("scanner.timer_ms", 1, 60000))
		}
	default:
		if s.KeyGapMs < 1 {
			errs = append(errs, *RangeError("scanner.key_gap_ms", 1, 60000))
		}
	}
	if s.TimerMs > 60000 {
		errs = append(errs, *RangeError("scanner.timer_ms", 1, 60000))
	}
	if s.KeyGapMs > 60000 {
		errs = append(errs, *RangeError("scanner.key_gap_ms", 1, 60000))
	}

	for i, k := range s.PrefixKeys {
		if k == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("scanner.prefix_keys[%d]", i),
				Message: "key name cannot be empty",
			})
		}
	}
	for i, k := range s.SuffixKeys {
		if k == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("scanner.suffix_keys[%d]", i),
				Message: "key name cannot be empty",
			})
		}
	}

	return errs
}

func validateDecoder(d *DecoderConfig) ValidationErrors {
	var errs ValidationErrors

	switch d.Kind {
	case "", "gs1":
		if len(d.FunctionCodes) == 0 {
			errs = append(errs, ValidationError{
				Field:   "decoder.function_codes",
				Message: "no function codes; every scan decodes as linear",
				Warning: true,
			})
		}
		for i, fc := range d.FunctionCodes {
			if fc == "" {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("decoder.function_codes[%d]", i),
					Message: "function code cannot be empty",
				})
			}
		}
		if d.IdentifierTable != "" {
			if _, err := os.Stat(expandPath(d.IdentifierTable)); err != nil {
				errs = append(errs, ValidationError{
					Field:   "decoder.identifier_table",
					Message: fmt.Sprintf("cannot access identifier table: %v", err),
				})
			}
		}
	case "basic":
		if d.IdentifierTable != "" {
			errs = append(errs, ValidationError{
				Field:   "decoder.identifier_table",
				Message: "ignored by the basic decoder",
				Warning: true,
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "decoder.kind",
			Message: fmt.Sprintf("invalid decoder kind: %s (valid: gs1, basic)", d.Kind),
		})
	}

	return errs
}

func validateDevice(d *DeviceConfig) ValidationErrors {
	var errs ValidationErrors

	if !d.Enabled {
		return errs
	}

	if d.Path == "" && d.Name == "" {
		errs = append(errs, ValidationError{
			Field:   "device.path",
			Message: "path or name is required when the device is enabled",
		})
	}
	if d.ReconnectSec < 0 {
		errs = append(errs, ValidationError{
			Field:   "device.reconnect_sec",
			Message: "reconnect delay cannot be negative",
		})
	}

	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	if !s.Enabled {
		return errs
	}

	if s.Path == "" {
		errs = append(errs, *RequiredFieldError("storage.path"))
	} else {
		dir := filepath.Dir(expandPath(s.Path))
		if info, err := os.Stat(dir); err == nil && !info.IsDir() {
			errs = append(errs, ValidationError{
				Field:   "storage.path",
				Message: fmt.Sprintf("parent path is not a directory: %s", dir),
			})
		}
	}

	if s.RetentionDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.retention_days",
			Message: "retention cannot be negative",
		})
	}
	if s.BusyTimeoutMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.busy_timeout_ms",
			Message: "busy timeout cannot be negative",
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output includes a file",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}
	if l.LogScans {
		errs = append(errs, ValidationError{
			Field:   "logging.log_scans",
			Message: "scanned data will be written to the log",
			Warning: true,
		})
	}

	return errs
}

func validateHTTP(h *HTTPConfig) ValidationErrors {
	var errs ValidationErrors

	if !h.Enabled {
		return errs
	}

	if _, _, err := net.SplitHostPort(h.Addr); err != nil {
		errs = append(errs, ValidationError{
			Field:   "http.addr",
			Message: fmt.Sprintf("invalid listen address %q: %v", h.Addr, err),
		})
	}
	if h.ReadTimeoutSec < 1 {
		errs = append(errs, *RangeError("http.read_timeout_sec", 1, 300))
	}

	return errs
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// IsWarning returns true if this is a non-fatal validation issue.
func (e *ValidationError) IsWarning() bool {
	return e.Warning
}

// Warnings returns only warning-level validation errors.
func (e ValidationErrors) Warnings() ValidationErrors {
	var warnings ValidationErrors
	for _, err := range e {
		if err.IsWarning() {
			warnings = append(warnings, err)
		}
	}
	return warnings
}

// Errors returns only error-level validation errors.
func (e ValidationErrors) Errors() ValidationErrors {
	var errs ValidationErrors
	for _, err := range e {
		if !err.IsWarning() {
			errs = append(errs, err)
		}
	}
	return errs
}

// HasErrors returns true if there are any non-warning errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e.Errors()) > 0
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")
