package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCategory defines standardized error categories for audit trails
type ErrorCategory string

const (
	ErrorCategoryConfig     ErrorCategory = "configuration"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryAnalysis   ErrorCategory = "analysis"
	ErrorCategoryIO         ErrorCategory = "io"
)

// ConfigError is a fatal configuration error detected before any row is
// processed. A run that hits one must abort without publishing data.
//
// The most important case is an unsecured PII column: a column flagged
// is_pii whose anonymization method is missing or resolves to
// passthrough. Table and Column always name the exact offender.
type ConfigError struct {
	Table  string
	Column string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("configuration error in table %q: %s", e.Table, e.Reason)
	}
	return fmt.Sprintf("configuration error in %s.%s: %s", e.Table, e.Column, e.Reason)
}

// IsConfigError reports whether err (or anything it wraps) is a fatal
// configuration error.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// RunError wraps errors raised during a run with standardized metadata
type RunError struct {
	Category    ErrorCategory
	OriginalErr error
	RunID       string
	Timestamp   time.Time
	Details     map[string]string
}

func (e *RunError) Error() string {
	return fmt.Sprintf("[%s] %s (run: %s)", e.Category, e.OriginalErr.Error(), e.RunID)
}

func (e *RunError) Unwrap() error {
	return e.OriginalErr
}

// NewRunError creates a RunError with the current timestamp
func NewRunError(category ErrorCategory, runID string, err error) *RunError {
	return &RunError{
		Category:    category,
		OriginalErr: err,
		RunID:       runID,
		Timestamp:   time.Now(),
	}
}
