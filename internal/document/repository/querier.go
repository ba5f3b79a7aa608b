package repository

import (
	"context"
	"database/sql"
	"errors"

	"colladoc/pkg/apperror"

	"github.com/lib/pq"
)

// Querier is satisfied by *sql.DB and *sql.Tx so the same statements can run
// inside or outside the commit transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// classify turns driver errors into the application taxonomy. notFound is
// returned for sql.ErrNoRows.
func classify(err error, notFound *apperror.Error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.Storage(err)
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
