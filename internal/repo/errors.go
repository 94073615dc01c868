package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"workdesk/internal/domain"
)

// MapStorageError classifies a database error into the engine taxonomy.
// Errors that already carry a kind pass through unchanged.
func MapStorageError(err error) error {
	if err == nil {
		return nil
	}
	if domain.Classified(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.StorageUnavailable("operation aborted before commit", err)
	}
	if errors.Is(err, sql.ErrTxDone) {
		return domain.StorageUnavailable("transaction already closed", err)
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		switch {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return domain.DuplicateRequest("unique constraint violated", err, nil)
		case code&0xff == sqlite3.SQLITE_BUSY || code&0xff == sqlite3.SQLITE_LOCKED:
			return domain.ConcurrencyConflict("database is busy", err, nil)
		}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return domain.DuplicateRequest("unique constraint violated", err, nil)
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "SQLITE_BUSY"):
		return domain.ConcurrencyConflict("database is busy", err, nil)
	}
	return domain.StorageUnavailable("storage failure", err)
}

// IsUniqueViolation reports whether err is a unique or primary key conflict.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
