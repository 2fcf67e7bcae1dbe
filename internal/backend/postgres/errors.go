package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"govportal/internal/backend"
	"govportal/pkg/platform/sentinel"
)

// SQLSTATE codes the adapter classifies.
const (
	codeUniqueViolation   = "23505"
	codeRestrictViolation = "23001"
	codeUndefinedTable    = "42P01"
	codeUndefinedColumn   = "42703"
)

// classify converts a driver error into a structured backend error. The
// result wraps a sentinel where one applies, plus the original cause.
func classify(op backend.Op, table string, err error) error {
	if err == nil {
		return nil
	}
	be := &backend.Error{Op: op, Table: table, Err: err}

	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, sql.ErrNoRows):
		be.Code = "not_found"
		be.Message = "row not found"
		be.Err = fmt.Errorf("%w: %w", sentinel.ErrNotFound, err)
	case errors.As(err, &pgErr):
		be.Code = pgErr.Code
		be.Message = pgErr.Message
		switch pgErr.Code {
		case codeUniqueViolation:
			be.Err = fmt.Errorf("%w: %w", sentinel.ErrConflict, err)
		case codeRestrictViolation:
			be.Err = fmt.Errorf("%w: %w", sentinel.ErrInvalidState, err)
		}
	case errors.Is(err, context.DeadlineExceeded), pgconn.Timeout(err):
		be.Code = "timeout"
		be.Message = "backend timed out"
		be.Err = fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
	case errors.Is(err, sql.ErrConnDone):
		be.Code = "unavailable"
		be.Message = "connection closed"
		be.Err = fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
	}
	return be
}
