package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// AuditEventType names an operational event worth keeping beyond the
// regular log.
type AuditEventType string

// Audit event types.
const (
	AuditStartup        AuditEventType = "startup"
	AuditShutdown       AuditEventType = "shutdown"
	AuditConfigReload   AuditEventType = "config_reload"
	AuditDeviceAttached AuditEventType = "device_attached"
	AuditDeviceLost     AuditEventType = "device_lost"
	AuditHistoryPruned  AuditEventType = "history_pruned"
	AuditError          AuditEventType = "error"
)

// AuditEvent is one line of the audit log.
type AuditEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType AuditEventType `json:"event_type"`
	Component string         `json:"component"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource,omitempty"`
	Result    string         `json:"result"` // "success" or "failure"
	Details   map[string]any `json:"details,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// AuditLoggerConfig holds configuration for the audit logger.
type AuditLoggerConfig struct {
	FilePath   string
	MaxSize    int64
	MaxAge     int
	MaxBackups int
	Compress   bool
	Component  string
}

// DefaultAuditConfig returns default audit logger configuration. The file
// sits next to the regular log.
func DefaultAuditConfig() *AuditLoggerConfig {
	return &AuditLoggerConfig{
		FilePath:   filepath.Join(filepath.Dir(DefaultLogPath()), "audit.log"),
		MaxSize:    10,
		MaxAge:     90,
		MaxBackups: 10,
		Compress:   true,
		Component:  "keywedged",
	}
}

// AuditLogger appends JSON audit events to a rotated file.
type AuditLogger struct {
	config  *AuditLoggerConfig
	rotator *FileRotator
	mu      sync.Mutex
	now     func() time.Time
}

// NewAuditLogger opens the audit log.
func NewAuditLogger(cfg *AuditLoggerConfig) (*AuditLogger, error) {
	if cfg == nil {
		cfg = DefaultAuditConfig()
	}
	rotator, err := NewFileRotator(&Config{
		FilePath:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("create audit rotator: %w", err)
	}
	return &AuditLogger{config: cfg, rotator: rotator, now: time.Now}, nil
}

// Log writes an audit event, filling in the timestamp and component.
func (a *AuditLogger) Log(event AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = a.now().UTC()
	}
	if event.Component == "" {
		event.Component = a.config.Component
	}
	if event.Result == "" {
		event.Result = "success"
		if event.Error != "" {
			event.Result = "failure"
		}
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	if _, err := a.rotator.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// LogStartup records the daemon starting.
func (a *AuditLogger) LogStartup(version string) error {
	hostname, _ := os.Hostname()
	return a.Log(AuditEvent{
		EventType: AuditStartup,
		Action:    "start",
		Details: map[string]any{
			"version":  version,
			"pid":      os.Getpid(),
			"hostname": hostname,
			"goos":     runtime.GOOS,
		},
	})
}

// LogShutdown records the daemon stopping.
func (a *AuditLogger) LogShutdown(reason string) error {
	return a.Log(AuditEvent{
		EventType: AuditShutdown,
		Action:    "stop",
		Details:   map[string]any{"reason": reason},
	})
}

// LogConfigReload records a configuration reload attempt.
func (a *AuditLogger) LogConfigReload(path string, err error) error {
	ev := AuditEvent{EventType: AuditConfigReload, Action: "reload", Resource: path}
	if err != nil {
		ev.Error = err.Error()
	}
	return a.Log(ev)
}

// LogDevice records a scanner device being attached or lost.
func (a *AuditLogger) LogDevice(attached bool, device string, err error) error {
	ev := AuditEvent{EventType: AuditDeviceAttached, Action: "attach", Resource: device}
	if !attached {
		ev.EventType, ev.Action = AuditDeviceLost, "detach"
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return a.Log(ev)
}

// LogPrune records scan history retention.
func (a *AuditLogger) LogPrune(removed int64, before time.Time) error {
	return a.Log(AuditEvent{
		EventType: AuditHistoryPruned,
		Action:    "prune",
		Details:   map[string]any{"removed": removed, "before": before.UTC().Format(time.RFC3339)},
	})
}

// Close closes the audit file.
func (a *AuditLogger) Close() error {
	return a.rotator.Close()
}
