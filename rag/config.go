package rag

import (
	"fmt"
	"os"
)

// ResolveAPIKey returns explicit when set, otherwise the value of envVar.
// When neither is set it returns a ConfigError wrapping ErrNotSetAuth.
func ResolveAPIKey(explicit, envVar string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if envVar != "" {
		if v := os.Getenv(envVar); v != "" {
			return v, nil
		}
	}
	return "", &ConfigError{
		Field:  "api_key",
		Reason: fmt.Sprintf("pass WithAPIKey(\"{API Key}\") or export %s={API Key}", envVar),
		Err:    ErrNotSetAuth,
	}
}

// GetEnvOrDefault retrieves an environment variable or returns the default value.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// ValidateBatchSize checks 0 < size <= limit. A limit of 0 means unbounded.
func ValidateBatchSize(field string, size, limit int) error {
	if size <= 0 {
		return NewConfigError(field, ErrInvalidBatchSize, "must be positive, got %d", size)
	}
	if limit > 0 && size > limit {
		return NewConfigError(field, ErrInvalidBatchSize, "must not exceed %d, got %d", limit, size)
	}
	return nil
}

// ValidateTopN checks that n is non-negative.
func ValidateTopN(n int) error {
	if n < 0 {
		return NewConfigError("top_n", ErrInvalidTopN, "got %d", n)
	}
	return nil
}
