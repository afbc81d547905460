package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrTransientConflict marks a failure that is expected to go away on retry.
	ErrTransientConflict = errors.New("storage: transient conflict")
)

// PostgreSQL codes worth retrying: serialization_failure, deadlock_detected, lock_not_available.
var transientPgCodes = map[string]bool{
	"40001": true,
	"40P01": true,
	"55P03": true,
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

// IsTransient reports whether err is a retryable store conflict.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransientConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientPgCodes[pgErr.Code]
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}

// classify wraps retryable errors with ErrTransientConflict and leaves the rest untouched.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrTransientConflict) || !IsTransient(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransientConflict, err)
}
