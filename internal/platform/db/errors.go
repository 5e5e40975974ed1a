package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinic/booking/pkg/apperrors"
)

// Postgres SQLSTATE codes the service reacts to.
const (
	CodeLockNotAvailable     = "55P03"
	CodeDeadlockDetected     = "40P01"
	CodeSerializationFailure = "40001"
	CodeUniqueViolation      = "23505"
	CodeCheckViolation       = "23514"
	CodeForeignKeyViolation  = "23503"
)

// ErrNotFound is returned by repositories when a row does not exist.
var ErrNotFound = errors.New("not found")

// PgCode returns the SQLSTATE carried by err, or "".
func PgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsNoRows reports whether err means the query matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, ErrNotFound)
}

// Classify turns a persistence error into an apperrors value. Lock waits
// that exceeded lock_timeout and lost serialization races are conflicts the
// caller may resubmit; anything unexpected is internal.
func Classify(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}

	switch PgCode(err) {
	case CodeLockNotAvailable:
		return apperrors.Conflict("the resource is locked by another request; please try again")
	case CodeDeadlockDetected, CodeSerializationFailure:
		return apperrors.Conflict("the request conflicted with a concurrent update; please try again")
	case CodeUniqueViolation:
		return apperrors.Conflict("a record with the same key already exists")
	case CodeCheckViolation:
		return apperrors.Conflict("the change would violate a capacity constraint")
	case CodeForeignKeyViolation:
		return apperrors.Conflict("the record is still referenced by other records")
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperrors.Internal("request cancelled while waiting for the database", err)
	}
	return apperrors.Internal(message, err)
}
