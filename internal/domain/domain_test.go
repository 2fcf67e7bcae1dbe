package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"govportal/internal/backend"
)

func TestApplicationFromRow(t *testing.T) {
	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("native values", func(t *testing.T) {
		app, err := ApplicationFromRow(backend.Row{
			"id": "a1", "owner_id": "c1", "service_type": "birth_certificate",
			"status": "pending", "district": "Ilala", "ward": nil,
			"fee_amount": 2500.0, "payment_status": "unpaid", "created_at": created,
		})
		require.NoError(t, err)
		assert.Equal(t, "a1", app.ID)
		assert.Equal(t, StatusPending, app.Status)
		assert.Equal(t, "Ilala", app.District)
		assert.Empty(t, app.Ward)
		assert.Equal(t, 2500.0, app.FeeAmount)
		assert.True(t, created.Equal(app.CreatedAt))
		assert.True(t, app.UpdatedAt.IsZero())
	})

	t.Run("decoded json values", func(t *testing.T) {
		app, err := ApplicationFromRow(backend.Row{
			"id": "a2", "fee_amount": float64(100),
			"created_at": "2025-03-01T09:00:00.123456+00:00",
		})
		require.NoError(t, err)
		assert.Equal(t, 100.0, app.FeeAmount)
		assert.Equal(t, 2025, app.CreatedAt.Year())
	})

	t.Run("bad timestamp", func(t *testing.T) {
		_, err := ApplicationFromRow(backend.Row{"id": "a3", "created_at": "yesterday"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "a3")
	})
}

func TestApplicationRowWritesNullForEmptyLocation(t *testing.T) {
	row := Application{OwnerID: "c1", ServiceType: "permit", Status: StatusPending, Ward: "Upanga"}.Row()
	assert.Nil(t, row[ColDistrict])
	assert.Equal(t, "Upanga", row[ColWard])
	_, hasID := row[ColID]
	assert.False(t, hasID, "id is left to the backend")
}

func TestAuditEntryRoundTrip(t *testing.T) {
	entry := AuditEntry{
		ID: "e1", ApplicationID: "a1", ActorID: "u1", ActorRole: "Ward",
		Ward: "Upanga", Action: "approved", Note: `said "ok"`,
		CreatedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	got, err := AuditEntryFromRow(entry.Row())
	require.NoError(t, err)
	assert.Equal(t, entry, got)
}

func TestAuditEntryFieldsFollowColumns(t *testing.T) {
	entry := AuditEntry{ID: "e1", Action: "declined", CreatedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	fields := entry.Fields()
	require.Len(t, fields, len(AuditColumns))
	assert.Equal(t, "e1", fields[0])
	assert.Equal(t, "declined", fields[6])
	assert.Equal(t, "2025-03-01T09:00:00Z", fields[8])
}
