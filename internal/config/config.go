// Package config handles configuration loading, validation, and hot reload
// for keywedge.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"

	"keywedge/internal/decode"
	"keywedge/internal/decode/gs1"
	"keywedge/internal/logging"
	"keywedge/internal/scanner"
)

// Version is the current configuration schema version.
const Version = 1

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KEYWEDGE_"

// Config holds the complete configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Scanner controls keystroke classification.
	Scanner ScannerConfig `toml:"scanner" json:"scanner" yaml:"scanner" envPrefix:"SCANNER_"`

	// Decoder selects and configures the payload decoder.
	Decoder DecoderConfig `toml:"decoder" json:"decoder" yaml:"decoder" envPrefix:"DECODER_"`

	// Device configures the hardware keystroke source.
	Device DeviceConfig `toml:"device" json:"device" yaml:"device" envPrefix:"DEVICE_"`

	// Storage configures the scan history database.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage" envPrefix:"STORAGE_"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging" envPrefix:"LOG_"`

	// Metrics configuration.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics" envPrefix:"METRICS_"`

	// HTTP configures the status and query API.
	HTTP HTTPConfig `toml:"http" json:"http" yaml:"http" envPrefix:"HTTP_"`
}

// ScannerConfig holds classifier settings. Durations are milliseconds.
type ScannerConfig struct {
	// TimerMs is the read window opened by a prefix key.
	TimerMs int `toml:"timer_ms" json:"timer_ms" yaml:"timer_ms" env:"TIMER_MS"`

	// KeyGapMs is the longest pause between keys of one scan.
	KeyGapMs int `toml:"key_gap_ms" json:"key_gap_ms" yaml:"key_gap_ms" env:"KEY_GAP_MS"`

	// PrefixKeys select the prefix strategy.
	PrefixKeys []string `toml:"prefix_keys" json:"prefix_keys" yaml:"prefix_keys" env:"PREFIX_KEYS"`

	// SuffixKeys select the suffix strategy. They win over PrefixKeys.
	SuffixKeys []string `toml:"suffix_keys" json:"suffix_keys" yaml:"suffix_keys" env:"SUFFIX_KEYS"`

	// ExcludeNodes lists event origins whose keys are ignored.
	ExcludeNodes []string `toml:"exclude_nodes" json:"exclude_nodes" yaml:"exclude_nodes" env:"EXCLUDE_NODES"`
}

// DecoderConfig selects the decoder.
type DecoderConfig struct {
	// Kind is "gs1" or "basic".
	Kind string `toml:"kind" json:"kind" yaml:"kind" env:"KIND"`

	// FunctionCodes are the key sequences the scanner sends for FNC1.
	// Longer sequences must come before any sequence they contain.
	FunctionCodes []string `toml:"function_codes" json:"function_codes" yaml:"function_codes" env:"FUNCTION_CODES"`

	// SpecialKeys replaces the built-in list of non-data key names.
	SpecialKeys []string `toml:"special_keys" json:"special_keys,omitempty" yaml:"special_keys,omitempty" env:"SPECIAL_KEYS"`

	// IdentifierTable is an optional TOML, JSON or YAML file extending or
	// replacing the stock Application Identifier table.
	IdentifierTable string `toml:"identifier_table" json:"identifier_table" yaml:"identifier_table" env:"IDENTIFIER_TABLE"`
}

// DeviceConfig configures the evdev input source.
type DeviceConfig struct {
	// Enabled turns on reading from an input device.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled" env:"ENABLED"`

	// Path is an explicit /dev/input/eventN path.
	Path string `toml:"path" json:"path" yaml:"path" env:"PATH"`

	// Name selects the first device whose name contains this string when
	// Path is empty.
	Name string `toml:"name" json:"name" yaml:"name" env:"NAME"`

	// Grab takes the device exclusively so its keys reach only keywedge.
	Grab bool `toml:"grab" json:"grab" yaml:"grab" env:"GRAB"`

	// Origin is stamped on every event read from the device.
	Origin string `toml:"origin" json:"origin" yaml:"origin" env:"ORIGIN"`

	// ReconnectSec is how long to wait before reopening a lost device.
	ReconnectSec int `toml:"reconnect_sec" json:"reconnect_sec" yaml:"reconnect_sec" env:"RECONNECT_SEC"`
}

// StorageConfig holds scan history settings.
type StorageConfig struct {
	// Enabled records every scan in the database.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled" env:"ENABLED"`

	// Path is the SQLite database path.
	Path string `toml:"path" json:"path" yaml:"path" env:"PATH"`

	// RetentionDays prunes older scans. Zero keeps everything.
	RetentionDays int `toml:"retention_days" json:"retention_days" yaml:"retention_days" env:"RETENTION_DAYS"`

	// BusyTimeoutMs is the SQLite busy timeout.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms" env:"BUSY_TIMEOUT_MS"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level" env:"LEVEL"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format" env:"FORMAT"`

	// Output is "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output" env:"OUTPUT"`

	// FilePath is the log file when Output includes a file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path" env:"PATH"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb" env:"MAX_SIZE_MB"`

	// MaxBackups is the number of old log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups" env:"MAX_BACKUPS"`

	// MaxAgeDays is the maximum age of log files in days.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days" env:"MAX_AGE_DAYS"`

	// Compress determines whether to compress rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress" env:"COMPRESS"`

	// LogScans includes scanned data in log records.
	LogScans bool `toml:"log_scans" json:"log_scans" yaml:"log_scans" env:"SCANS"`

	// AuditPath is the audit log file. Empty disables the audit log.
	AuditPath string `toml:"audit_path" json:"audit_path" yaml:"audit_path" env:"AUDIT_PATH"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	// Enabled exposes /metrics on the HTTP API.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled" env:"ENABLED"`

	// Namespace prefixes every metric name.
	Namespace string `toml:"namespace" json:"namespace" yaml:"namespace" env:"NAMESPACE"`
}

// HTTPConfig holds API server settings.
type HTTPConfig struct {
	// Enabled starts the HTTP API.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled" env:"ENABLED"`

	// Addr is the listen address.
	Addr string `toml:"addr" json:"addr" yaml:"addr" env:"ADDR"`

	// ReadTimeoutSec bounds reading a request.
	ReadTimeoutSec int `toml:"read_timeout_sec" json:"read_timeout_sec" yaml:"read_timeout_sec" env:"READ_TIMEOUT_SEC"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	sc := scanner.DefaultConfig()
	return &Config{
		Version: Version,
		Scanner: ScannerConfig{
			TimerMs:      int(sc.Timer / time.Millisecond),
			KeyGapMs:     int(sc.KeyGap / time.Millisecond),
			PrefixKeys:   []string{},
			SuffixKeys:   []string{},
			ExcludeNodes: sc.ExcludeNodes,
		},
		Decoder: DecoderConfig{
			Kind:          "gs1",
			FunctionCodes: []string{"Clear0029Clear", "F8"},
		},
		Device: DeviceConfig{
			Grab:         true,
			Origin:       "scanner",
			ReconnectSec: 5,
		},
		Storage: StorageConfig{
			Enabled:       true,
			Path:          DefaultDatabasePath(),
			RetentionDays: 90,
			BusyTimeoutMs: 5000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   logging.DefaultLogPath(),
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "keywedge",
		},
		HTTP: HTTPConfig{
			Enabled:        true,
			Addr:           "127.0.0.1:7420",
			ReadTimeoutSec: 10,
		},
	}
}

// Validate checks the configuration for errors. The error, if any, is a
// ValidationErrors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// ApplyEnvOverrides applies KEYWEDGE_* environment variables, for example
// KEYWEDGE_SCANNER_KEY_GAP_MS=30 or KEYWEDGE_DECODER_FUNCTION_CODES=F8.
// Variables that are not set leave the current value untouched.
func (c *Config) ApplyEnvOverrides() error {
	return c.applyEnv(nil)
}

func (c *Config) applyEnv(environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(c, opts); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Scanner.PrefixKeys = slices.Clone(c.Scanner.PrefixKeys)
	clone.Scanner.SuffixKeys = slices.Clone(c.Scanner.SuffixKeys)
	clone.Scanner.ExcludeNodes = slices.Clone(c.Scanner.ExcludeNodes)
	clone.Decoder.FunctionCodes = slices.Clone(c.Decoder.FunctionCodes)
	clone.Decoder.SpecialKeys = slices.Clone(c.Decoder.SpecialKeys)
	return &clone
}

// EnsureDirectories creates the directories the configured files live in.
func (c *Config) EnsureDirectories() error {
	var dirs []string
	if c.Storage.Enabled && c.Storage.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Storage.Path))
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	if c.Logging.AuditPath != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.AuditPath))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ClassifierConfig converts the scanner section for scanner.Classifier.
func (c *Config) ClassifierConfig() scanner.Config {
	return scanner.Config{
		Timer:        time.Duration(c.Scanner.TimerMs) * time.Millisecond,
		KeyGap:       time.Duration(c.Scanner.KeyGapMs) * time.Millisecond,
		PrefixKeys:   slices.Clone(c.Scanner.PrefixKeys),
		SuffixKeys:   slices.Clone(c.Scanner.SuffixKeys),
		ExcludeNodes: slices.Clone(c.Scanner.ExcludeNodes),
	}
}

// BuildDecoder constructs the configured decoder, loading the custom
// identifier table if one is set.
func (c *Config) BuildDecoder() (decode.Decoder, error) {
	switch c.Decoder.Kind {
	case "basic":
		return decode.Basic{SpecialKeys: c.Decoder.SpecialKeys}, nil
	case "", "gs1":
		table := gs1.DefaultTable()
		if c.Decoder.IdentifierTable != "" {
			var err error
			if table, err = gs1.LoadTable(c.Decoder.IdentifierTable); err != nil {
				return nil, err
			}
		}
		return &gs1.Decoder{
			Table:         table,
			FunctionCodes: slices.Clone(c.Decoder.FunctionCodes),
			SpecialKeys:   slices.Clone(c.Decoder.SpecialKeys),
		}, nil
	default:
		return nil, fmt.Errorf("unknown decoder kind %q", c.Decoder.Kind)
	}
}

// LoggerConfig converts the logging section for logging.New.
func (c *Config) LoggerConfig(component string) (*logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, err
	}
	return &logging.Config{
		Level:      level,
		Format:     format,
		Output:     c.Logging.Output,
		FilePath:   c.Logging.FilePath,
		MaxSize:    int64(c.Logging.MaxSizeMB),
		MaxAge:     c.Logging.MaxAgeDays,
		MaxBackups: c.Logging.MaxBackups,
		Compress:   c.Logging.Compress,
		LogScans:   c.Logging.LogScans,
		Component:  component,
	}, nil
}
