package storage

import (
	"errors"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/fiterafrica/fineract-template/domain"
)

// Postgres SQLSTATEs that mean the transaction lost a race and may succeed
// if run again.
var retryableStates = map[pq.ErrorCode]string{
	"40001": "serialization failure",
	"40P01": "deadlock detected",
	"55P03": "lock not available",
}

// classify wraps storage errors that signal a lost race as conflicts so the
// retry controller picks them up. Anything else is returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if reason, ok := retryableStates[pqErr.Code]; ok {
			return &domain.ConflictError{Reason: reason, Err: err}
		}
		return err
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return &domain.ConflictError{Reason: "database is locked", Err: err}
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
