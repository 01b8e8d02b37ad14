package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditLogLevel defines the verbosity of audit logging
type AuditLogLevel string

const (
	// AuditLogLevelMinimal logs only warnings and worse
	AuditLogLevelMinimal AuditLogLevel = "minimal"

	// AuditLogLevelStandard logs run events with moderate detail
	AuditLogLevelStandard AuditLogLevel = "standard"

	// AuditLogLevelVerbose logs everything including per-finding detail
	AuditLogLevelVerbose AuditLogLevel = "verbose"
)

// AuditLogSeverity defines the severity of audit log events
type AuditLogSeverity string

const (
	// SeverityInfo for normal operations
	SeverityInfo AuditLogSeverity = "info"

	// SeverityWarning for quality findings and k-anonymity violations
	SeverityWarning AuditLogSeverity = "warning"

	// SeverityError for aborted runs
	SeverityError AuditLogSeverity = "error"

	// SeverityCritical for raw PII detected in published output
	SeverityCritical AuditLogSeverity = "critical"
)

// RunLog is one audit trail entry for an anonymization run. Entries
// carry counts and identifiers only — never cell values and never the
// salt, so the trail itself stays publishable.
type RunLog struct {
	RunID     string            `json:"run_id"`
	Timestamp string            `json:"timestamp"`
	EventType string            `json:"event_type"`
	Table     string            `json:"table,omitempty"`
	Severity  AuditLogSeverity  `json:"severity"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditLogger writes the anonymization audit trail in JSONL format
type AuditLogger struct {
	mu            sync.Mutex
	logPath       string
	level         AuditLogLevel
	writer        io.Writer
	initialized   bool
	enableConsole bool
}

// Global default logger
var defaultLogger *AuditLogger
var loggerOnce sync.Once

// GetAuditLogger returns the singleton audit logger instance
func GetAuditLogger() *AuditLogger {
	loggerOnce.Do(func() {
		defaultLogger = &AuditLogger{
			logPath:       "anonymizer_audit.log",
			level:         AuditLogLevelStandard,
			enableConsole: false,
		}
	})

	return defaultLogger
}

// ConfigureLogger configures the audit logger with specific settings
func ConfigureLogger(path string, level AuditLogLevel, enableConsole bool) error {
	logger := GetAuditLogger()

	logger.mu.Lock()
	defer logger.mu.Unlock()

	logger.logPath = path
	logger.level = level
	logger.enableConsole = enableConsole
	logger.initialized = false

	return logger.initialize()
}

// initialize opens the log file with current settings
func (l *AuditLogger) initialize() error {
	dir := filepath.Dir(l.logPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(l.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	if l.enableConsole {
		l.writer = io.MultiWriter(f, os.Stderr)
	} else {
		l.writer = f
	}

	l.initialized = true
	return nil
}

// LogEvent appends an audit event to the trail
func (l *AuditLogger) LogEvent(entry RunLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.initialized {
		if err := l.initialize(); err != nil {
			return err
		}
	}

	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().Format(time.RFC3339Nano)
	}
	if entry.Severity == "" {
		entry.Severity = SeverityInfo
	}

	// Minimal mode keeps only events worth waking someone for
	if l.level == AuditLogLevelMinimal && entry.Severity == SeverityInfo {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	if _, err := fmt.Fprintln(l.writer, string(data)); err != nil {
		return fmt.Errorf("failed to write to log: %w", err)
	}

	return nil
}

// LogRunEvent is a helper to log one event of an anonymization run
func LogRunEvent(runID, eventType string, severity AuditLogSeverity, table string, metadata map[string]string) error {
	return GetAuditLogger().LogEvent(RunLog{
		RunID:     runID,
		EventType: eventType,
		Severity:  severity,
		Table:     table,
		Metadata:  metadata,
	})
}
