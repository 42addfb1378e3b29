package models

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies a failed fetch.
type FailureKind string

const (
	FailureNetwork  FailureKind = "network"
	FailureTimeout  FailureKind = "timeout"
	FailureProxy    FailureKind = "proxy_error"
	FailureHTTP     FailureKind = "http_error"
	FailureCanceled FailureKind = "canceled"
)

// Retryable reports whether a failure of this kind may succeed on a new attempt.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureNetwork, FailureTimeout, FailureProxy:
		return true
	default:
		return false
	}
}

// ConfigError is fatal: it aborts a run before any fetch happens.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError builds a ConfigError with a formatted message.
func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// FetchError records a fetch that failed after all permitted attempts.
type FetchError struct {
	Kind     FailureKind
	URL      string
	Status   int
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractionError means a page was retrieved but yielded no usable data.
// It is never retried.
type ExtractionError struct {
	URL   string
	Field string
	Err   error
}

func (e *ExtractionError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("extract %s: field %q: %v", e.URL, e.Field, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// IsConfigError reports whether err wraps a ConfigError.
func IsConfigError(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}

// IsExtractionError reports whether err wraps an ExtractionError.
func IsExtractionError(err error) bool {
	var target *ExtractionError
	return errors.As(err, &target)
}

// FailureKindOf returns the kind label used for counters and failed-URL reports.
func FailureKindOf(err error) string {
	if err == nil {
		return "unknown"
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return string(fe.Kind)
	}
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return "extraction"
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return "config"
	}
	if errors.Is(err, context.Canceled) {
		return string(FailureCanceled)
	}
	return "other"
}
