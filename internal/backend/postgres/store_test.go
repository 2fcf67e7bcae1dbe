package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"govportal/internal/backend"
	"govportal/pkg/platform/sentinel"
)

func TestCheckIdent(t *testing.T) {
	assert.NoError(t, checkIdent("audit_logs"))
	assert.NoError(t, checkIdent("created_at"))
	assert.Error(t, checkIdent("Applications"))
	assert.Error(t, checkIdent("x; DROP TABLE y"))
	assert.Error(t, checkIdent(""))
}

func TestClassify(t *testing.T) {
	t.Run("no rows is not found", func(t *testing.T) {
		err := classify(backend.OpUpdate, "applications", sql.ErrNoRows)
		assert.True(t, backend.IsNotFound(err))
		var be *backend.Error
		require.ErrorAs(t, err, &be)
		assert.Equal(t, "not_found", be.Code)
	})

	t.Run("unique violation is conflict", func(t *testing.T) {
		pgErr := &pgconn.PgError{Code: codeUniqueViolation, Message: "duplicate key"}
		err := classify(backend.OpInsert, "audit_logs", fmt.Errorf("exec: %w", pgErr))
		assert.ErrorIs(t, err, sentinel.ErrConflict)
		var be *backend.Error
		require.ErrorAs(t, err, &be)
		assert.Equal(t, codeUniqueViolation, be.Code)
		assert.Equal(t, "duplicate key", be.Message)
	})

	t.Run("append-only trigger is invalid state", func(t *testing.T) {
		pgErr := &pgconn.PgError{Code: codeRestrictViolation, Message: "audit_logs is append-only"}
		err := classify(backend.OpUpdate, "audit_logs", pgErr)
		assert.ErrorIs(t, err, sentinel.ErrInvalidState)
	})

	t.Run("other errors keep their cause", func(t *testing.T) {
		cause := errors.New("boom")
		err := classify(backend.OpQuery, "applications", cause)
		assert.ErrorIs(t, err, cause)
		assert.False(t, backend.IsNotFound(err))
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, classify(backend.OpQuery, "applications", nil))
	})
}

func TestDecodeRow(t *testing.T) {
	row, err := decodeRow([]byte(`{"id":"a1","fee_amount":1500,"district":null}`))
	require.NoError(t, err)
	assert.Equal(t, "a1", row.String("id"))
	assert.Equal(t, float64(1500), row["fee_amount"])
	assert.Nil(t, row["district"])
}
