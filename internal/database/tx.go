package database

import (
	"context"
	"database/sql"
	"fmt"
)

// TxRunner runs a function inside a database transaction, committing on nil
// and rolling back on error or panic.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

type txRunner struct {
	db *sql.DB
}

// NewTxRunner creates a TxRunner over db
func NewTxRunner(db *sql.DB) TxRunner {
	return &txRunner{db: db}
}

// RunInTx begins a transaction, invokes fn with it, and commits if fn
// returns nil. Any error from fn (or the commit) rolls the whole
// transaction back, so partial writes never persist.
func (r *txRunner) RunInTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
