package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")

	// ErrNotFound indicates the referenced record does not exist.
	ErrNotFound = errors.New("storage: record not found")

	// ErrConcurrentRun indicates another ingestion run holds the same bucket.
	ErrConcurrentRun = errors.New("storage: concurrent run for bucket")

	// ErrStatusConflict indicates a compare-and-swap status update lost the race.
	ErrStatusConflict = errors.New("storage: alert status changed concurrently")
)

// ValidationError rejects malformed snapshot or rule input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
