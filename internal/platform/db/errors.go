package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quarryline/quarryline/internal/shared"
)

// Postgres SQLSTATE codes the repositories care about.
const (
	CodeUniqueViolation      = "23505"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeLockNotAvailable     = "55P03"
)

// IsUniqueViolation reports whether err is a unique constraint violation,
// optionally on the named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != CodeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// Classify maps driver errors onto the shared taxonomy. Errors that are already
// classified pass through unchanged.
func Classify(err error) error {
	if err == nil || shared.Classified(err) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case CodeUniqueViolation:
			return fmt.Errorf("%w: duplicate %s: %w", shared.ErrConflict, pgErr.ConstraintName, err)
		case CodeSerializationFailure, CodeDeadlockDetected, CodeLockNotAvailable:
			return fmt.Errorf("%w: concurrent update: %w", shared.ErrConflict, err)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", shared.ErrStoreUnavailable, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %w", shared.ErrStoreUnavailable, err)
	}
	return err
}
