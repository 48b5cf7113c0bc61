package badger

import (
	"errors"
	"fmt"
	"time"
)

// RetryableError marks a catalog failure worth retrying, typically a
// transient badger conflict or IO hiccup
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps err so withRetry will re-attempt it
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err carries the retryable marker
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

const (
	retryAttempts  = 3
	retryBaseDelay = 100 * time.Millisecond
)

// withRetry runs fn up to retryAttempts times with linear backoff.
// Non-retryable errors abort immediately.
func withRetry(fn func() error) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt < retryAttempts {
			time.Sleep(retryBaseDelay * time.Duration(attempt))
		}
	}
	return err
}
