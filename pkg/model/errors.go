// Package model defines the core data types shared by every Mnemosyne
// component: memory notes, links, audit events, and the error taxonomy
// surfaced to callers.
package model

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to callers. Wrap with fmt.Errorf("...: %w", ErrX)
// to carry detail; compare with errors.Is against the sentinel.
var (
	ErrNotFound             = errors.New("mnemosyne: not found")
	ErrDuplicateLink        = errors.New("mnemosyne: duplicate link")
	ErrValidation           = errors.New("mnemosyne: validation error")
	ErrForbidden            = errors.New("mnemosyne: forbidden")
	ErrDatabaseNotFound     = errors.New("mnemosyne: database not found")
	ErrDatabaseCorrupt      = errors.New("mnemosyne: database corrupt")
	ErrReadOnlyDatabase     = errors.New("mnemosyne: read-only database")
	ErrMigrationFailed      = errors.New("mnemosyne: migration failed")
	ErrEmbeddingDimMismatch = errors.New("mnemosyne: embedding dimension mismatch")
	ErrRateLimitExceeded    = errors.New("mnemosyne: rate limit exceeded")
	ErrNetwork              = errors.New("mnemosyne: network error")
	ErrAuthentication       = errors.New("mnemosyne: authentication error")
)

// NotFoundError wraps ErrNotFound with the missing resource's ID.
func NotFoundError(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// ValidationError wraps ErrValidation with a caller-supplied message.
func ValidationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// DatabaseNotFoundError wraps ErrDatabaseNotFound with the expected path
// and an actionable remediation hint.
func DatabaseNotFoundError(path string) error {
	return fmt.Errorf("%w: %s (run `init` to create it)", ErrDatabaseNotFound, path)
}

// MigrationFailedError wraps ErrMigrationFailed with the migration name and
// the underlying cause.
func MigrationFailedError(name string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrMigrationFailed, name, cause)
}

// EmbeddingDimMismatchError wraps ErrEmbeddingDimMismatch with the expected
// and observed dimensions.
func EmbeddingDimMismatchError(expected, got int) error {
	return fmt.Errorf("%w: expected %d, got %d", ErrEmbeddingDimMismatch, expected, got)
}
