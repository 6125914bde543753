package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNoTransaction is returned when a transaction-scoped lock is requested outside one
var ErrNoTransaction = errors.New("advisory lock requires a transaction")

// AdvisoryLocker takes Postgres transaction-scoped advisory locks. The lock is
// released by the database when the surrounding transaction ends.
type AdvisoryLocker struct{}

// NewAdvisoryLocker creates an AdvisoryLocker
func NewAdvisoryLocker() *AdvisoryLocker {
	return &AdvisoryLocker{}
}

// Lock blocks until the advisory lock for key is held by the transaction in ctx
func (l *AdvisoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	tx, ok := TxFromContext(ctx)
	if !ok {
		return nil, ErrNoTransaction
	}
	if err := lockTx(ctx, tx, key); err != nil {
		return nil, err
	}
	return func() {}, nil
}

func lockTx(ctx context.Context, tx *sql.Tx, key string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	return nil
}
