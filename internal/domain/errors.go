package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned when a query hits a collection with no documents.
	ErrNotReady = errors.New("document store not ready: collection is empty")

	// ErrGeneration is returned when a rewrite or answer model call fails.
	ErrGeneration = errors.New("generation failed")

	// ErrStoreUnavailable is returned when the document or session store cannot be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// SkipError describes one input row that ingestion skipped.
type SkipError struct {
	Row    int
	Reason string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("row %d skipped: %s", e.Row, e.Reason)
}

// GenerationError wraps err so that it matches ErrGeneration.
func GenerationError(stage string, err error) error {
	return fmt.Errorf("%s: %w: %w", stage, ErrGeneration, err)
}

// StoreUnavailable wraps err so that it matches ErrStoreUnavailable.
func StoreUnavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
