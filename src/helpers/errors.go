package helpers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"market-feed/src/logger"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type FeedError struct {
	Message string
	Cause   error
}

func (e *FeedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *FeedError) Unwrap() error {
	return e.Cause
}

// Distinct error kinds, matched with errors.As.
type ConfigurationError struct{ FeedError }
type TransportError struct{ FeedError }
type DecodeError struct{ FeedError }
type DatabaseError struct{ FeedError }
type ValidationError struct{ FeedError }

func NewTransportError(msg string, cause error) error {
	return &TransportError{FeedError{Message: msg, Cause: cause}}
}

func NewDecodeError(msg string, cause error) error {
	return &DecodeError{FeedError{Message: msg, Cause: cause}}
}

func NewDatabaseError(msg string, cause error) error {
	return &DatabaseError{FeedError{Message: msg, Cause: cause}}
}

func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{FeedError{Message: fmt.Sprintf(format, args...)}}
}

func NewConfigurationError(msg string, cause error) error {
	return &ConfigurationError{FeedError{Message: msg, Cause: cause}}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var t *TransportError
	return errors.As(err, &t)
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// RetryWithBackoff attempts to execute the operation up to maxRetries times with exponential backoff.
func RetryWithBackoff[T any](log *logger.Logger, operation string, maxRetries int, baseDelay time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	if maxRetries < 1 {
		maxRetries = 1
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		res, err := fn()
		if err == nil {
			return res, nil
		}

		lastErr = err
		if attempt == maxRetries-1 {
			break
		}

		delay := baseDelay * (1 << attempt)
		if log != nil {
			log.Warning("Attempt %d/%d failed for %s: %v. Retrying in %v", attempt+1, maxRetries, operation, err, delay)
		}
		time.Sleep(delay)
	}

	return zero, classify(operation, lastErr)
}

// classify wraps the final error of an operation into the matching error kind.
// Inner kinds stay reachable through errors.As.
func classify(operation string, err error) error {
	msg := fmt.Sprintf("%s failed", operation)
	lowerOp := strings.ToLower(operation)
	switch {
	case strings.Contains(lowerOp, "connect") || strings.Contains(lowerOp, "fetch") || strings.Contains(lowerOp, "network"):
		return &TransportError{FeedError{Message: msg, Cause: err}}
	case strings.Contains(lowerOp, "database") || strings.Contains(lowerOp, "save"):
		return &DatabaseError{FeedError{Message: msg, Cause: err}}
	default:
		return &FeedError{Message: msg, Cause: err}
	}
}

// -----------------------------------------------------------------------------
// Panic isolation
// -----------------------------------------------------------------------------

// SafeCall runs fn and turns a panic into a logged error so that one failing
// callback cannot take the caller down.
func SafeCall(log *logger.Logger, what string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", what, r)
			if log != nil {
				log.Error("%v", err)
			}
		}
	}()
	fn()
	return nil
}
