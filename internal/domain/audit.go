package domain

import (
	"fmt"
	"time"

	"govportal/internal/backend"
)

// AuditColumns is the canonical column order of an audit entry.
var AuditColumns = []string{
	ColID, ColApplicationID, ColActorID, ColActorRole,
	ColDistrict, ColWard, ColAction, ColNote, ColCreatedAt,
}

// AuditEntry records one reviewer action. District and Ward come from the
// actor's session, not from the application. Entries are never updated.
type AuditEntry struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"application_id"`
	ActorID       string    `json:"actor_id"`
	ActorRole     string    `json:"actor_role"`
	District      string    `json:"district,omitempty"`
	Ward          string    `json:"ward,omitempty"`
	Action        string    `json:"action"`
	Note          string    `json:"note"`
	CreatedAt     time.Time `json:"created_at"`
}

// Row encodes the entry for insertion.
func (e AuditEntry) Row() backend.Row {
	row := backend.Row{
		ColApplicationID: e.ApplicationID,
		ColActorID:       e.ActorID,
		ColActorRole:     e.ActorRole,
		ColDistrict:      nullable(e.District),
		ColWard:          nullable(e.Ward),
		ColAction:        e.Action,
		ColNote:          e.Note,
	}
	if e.ID != "" {
		row[ColID] = e.ID
	}
	if !e.CreatedAt.IsZero() {
		row[ColCreatedAt] = e.CreatedAt
	}
	return row
}

// Fields returns the entry's values in AuditColumns order.
func (e AuditEntry) Fields() []string {
	created := ""
	if !e.CreatedAt.IsZero() {
		created = e.CreatedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		e.ID, e.ApplicationID, e.ActorID, e.ActorRole,
		e.District, e.Ward, e.Action, e.Note, created,
	}
}

// AuditEntryFromRow decodes a backend row.
func AuditEntryFromRow(row backend.Row) (AuditEntry, error) {
	created, err := timeValue(row[ColCreatedAt])
	if err != nil {
		return AuditEntry{}, fmt.Errorf("audit entry %s: %s: %w", row.String(ColID), ColCreatedAt, err)
	}
	return AuditEntry{
		ID:            stringValue(row[ColID]),
		ApplicationID: stringValue(row[ColApplicationID]),
		ActorID:       stringValue(row[ColActorID]),
		ActorRole:     stringValue(row[ColActorRole]),
		District:      stringValue(row[ColDistrict]),
		Ward:          stringValue(row[ColWard]),
		Action:        stringValue(row[ColAction]),
		Note:          stringValue(row[ColNote]),
		CreatedAt:     created,
	}, nil
}

// AuditEntriesFromRows decodes rows in order.
func AuditEntriesFromRows(rows []backend.Row) ([]AuditEntry, error) {
	out := make([]AuditEntry, 0, len(rows))
	for _, r := range rows {
		e, err := AuditEntryFromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
