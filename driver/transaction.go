package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Transactor runs fn inside a database transaction. The transaction commits
// when fn returns nil and rolls back otherwise.
type Transactor interface {
	ExecuteTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}

type TransactionManager struct {
	conn   PostgresPool
	logger *zap.Logger
}

var _ Transactor = (*TransactionManager)(nil)

func NewTransactionManager(conn PostgresPool, logger *zap.Logger) *TransactionManager {
	return &TransactionManager{conn: conn, logger: logger}
}

func (tm *TransactionManager) ExecuteTransaction(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := tm.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				tm.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
