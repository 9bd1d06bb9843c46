/*-------------------------------------------------------------------------
 *
 * queries.go
 *    Query service root for NeuronFlow
 *
 * Provides the Queries type all store operations hang off, the shared
 * transaction helper and acting-principal propagation for audit.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type Queries struct {
	DB *sqlx.DB
}

func NewQueries(db *sqlx.DB) *Queries {
	return &Queries{DB: db}
}

type principalKey struct{}

/* WithActingPrincipal stamps the acting-principal identifier on the context.
 * Every transaction started under that context propagates it to the session
 * so the audit trail can attribute the change. */
func WithActingPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

/* ActingPrincipal returns the acting-principal identifier, if any */
func ActingPrincipal(ctx context.Context) string {
	if p, ok := ctx.Value(principalKey{}).(string); ok {
		return p
	}
	return ""
}

/* withTx runs fn inside a transaction. The transaction is rolled back and
 * the original error re-raised when fn fails; partial effects never leak. */
func (q *Queries) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := q.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if principal := ActingPrincipal(ctx); principal != "" {
		if _, err := tx.ExecContext(ctx,
			`SELECT set_config('neurondb_flow.acting_principal', $1, true)`, principal); err != nil {
			tx.Rollback()
			return fmt.Errorf("set acting principal: %w", err)
		}
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
