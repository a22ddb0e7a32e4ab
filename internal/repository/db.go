package repository

import (
	"context"
	"database/sql"
	"strings"
)

// DBTX is the subset of *sql.DB and *sql.Tx operations the repositories
// use. Repositories bound to a transaction via WithTx share its lifetime.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation on the named constraint
func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, constraint) &&
		(strings.Contains(msg, "SQLSTATE 23505") || strings.Contains(msg, "duplicate key value"))
}
