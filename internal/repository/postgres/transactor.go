package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

var _ notification.Transactor = (*transactorImpl)(nil)

type transactorImpl struct {
	db     *DB
	logger *zap.Logger
}

func NewTransactor(db *DB, logger *zap.Logger) *transactorImpl {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &transactorImpl{
		db:     db,
		logger: logger,
	}
}

// WithTx joins the transaction already carried by ctx. Only the call that began
// the transaction commits or rolls it back.
func (t *transactorImpl) WithTx(ctx context.Context, function func(ctx context.Context) error) (txErr error) {
	ctxWithTx, tx, owner, err := injectTx(ctx, t.db)
	if err != nil {
		return notification.NewStorageError("begin tx", err)
	}
	if !owner {
		return function(ctxWithTx)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if txErr != nil {
			if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
				t.logger.Error("rollback", zap.Error(err))
			}
			return
		}
		if err := tx.Commit(ctx); err != nil {
			t.logger.Error("commit", zap.Error(err))
			txErr = notification.NewStorageError("commit", err)
		}
	}()

	if err := function(ctxWithTx); err != nil {
		return fmt.Errorf("tx: %w", err)
	}
	return nil
}

type txInjector struct{}

var ErrTxNotFound = errors.New("tx not found in context")

func injectTx(ctx context.Context, db *DB) (context.Context, pgx.Tx, bool, error) {
	if tx, err := extractTx(ctx); err == nil {
		return ctx, tx, false, nil
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, nil, false, err
	}

	return context.WithValue(ctx, txInjector{}, tx), tx, true, nil
}

func extractTx(ctx context.Context) (pgx.Tx, error) {
	tx, ok := ctx.Value(txInjector{}).(pgx.Tx)
	if !ok {
		return nil, ErrTxNotFound
	}
	return tx, nil
}

type execQueryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (db *DB) execQueryer(ctx context.Context) execQueryer {
	if tx, err := extractTx(ctx); err == nil && tx != nil {
		return tx
	}
	return db.Pool
}
