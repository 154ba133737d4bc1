package rag

import (
	"errors"
	"fmt"
)

var (
	ErrNotSetAuth       = errors.New("API key not set")
	ErrMissingQuery     = errors.New("missing query")
	ErrInvalidTopN      = errors.New("top_n must be non-negative")
	ErrInvalidBatchSize = errors.New("invalid batch size")
	ErrNotImplemented   = errors.New("not implemented")
	ErrEmptyResponse    = errors.New("empty response")
)

// ConfigError reports an adapter configuration problem found before any network call.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "config error"
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a ConfigError wrapping err.
func NewConfigError(field string, err error, format string, args ...any) *ConfigError {
	return &ConfigError{
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
		Err:    err,
	}
}

// IsConfigError reports whether err is, or wraps, a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
