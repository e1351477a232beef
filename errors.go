package cloudblob

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions
var (
	// Data errors
	ErrNotFound    = errors.New("object not found")
	ErrInvalidData = errors.New("invalid data format")

	// Backend errors
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrUnauthorized       = errors.New("unauthorized access")
	ErrTimeout            = errors.New("operation timed out")

	// Cache errors
	ErrCacheMiss = errors.New("cache miss")

	// Namespace and index errors
	ErrUnconfiguredNamespace = errors.New("namespace not configured")
	ErrNoIndexer             = errors.New("no indexer configured")
	ErrIndexNotLoaded        = errors.New("tried to serialize an index not loaded yet")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingRef    = fmt.Errorf("%w: namespace has no ref field for generated ids", ErrInvalidConfig)
)

// ErrorWithContext adds additional context to errors for better debugging and logging
type ErrorWithContext struct {
	Err     error
	Context map[string]interface{}
}

func (e *ErrorWithContext) Error() string {
	if len(e.Context) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (context: %+v)", e.Err, e.Context)
}

func (e *ErrorWithContext) Unwrap() error {
	return e.Err
}

// WithContext adds context to an error
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Err:     err,
		Context: context,
	}
}

// NamespaceError reports a namespace-scoped misconfiguration. Its message is
// stable so callers and the SQL gateway can surface it verbatim.
type NamespaceError struct {
	Namespace string
	Err       error
}

func (e *NamespaceError) Error() string {
	switch e.Err {
	case ErrUnconfiguredNamespace:
		return fmt.Sprintf("Expected namespace '%s' to be configured", e.Namespace)
	case ErrNoIndexer:
		return fmt.Sprintf("No indexer for namespace '%s' defined", e.Namespace)
	case ErrMissingRef:
		return fmt.Sprintf("Expected namespace '%s' to define a ref field for generated ids", e.Namespace)
	}
	return fmt.Sprintf("namespace '%s': %v", e.Namespace, e.Err)
}

func (e *NamespaceError) Unwrap() error {
	return e.Err
}

func namespaceError(namespace string, err error) error {
	return &NamespaceError{Namespace: namespace, Err: err}
}

// Common error checking helpers

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConfigError checks if an error was caused by datastore or namespace misconfiguration
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrUnconfiguredNamespace) ||
		errors.Is(err, ErrNoIndexer)
}

// IsRetryable checks if an error is safe to retry
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrBackendUnavailable)
}

// IsPermanent checks if an error is permanent (not retryable)
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrInvalidData) ||
		IsConfigError(err)
}
