package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"helpboard-backend/internal/domain"
)

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(sqliteErr.Error(), "UNIQUE constraint")
		}
	}
	return false
}

// translate maps driver errors onto the domain taxonomy.
func translate(err error, entity string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return domain.NotFoundf("%s not found", entity)
	case isUniqueViolation(err):
		return &domain.Error{Code: domain.CodeAlreadyExists, Message: entity + " already exists", Err: err}
	default:
		return fmt.Errorf("%s: %w", entity, err)
	}
}

// expectOne turns a zero-row compare-and-set into a conflict.
func expectOne(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", entity, err)
	}
	if n == 0 {
		return domain.Conflictf("%s %d was modified concurrently", entity, id)
	}
	return nil
}
