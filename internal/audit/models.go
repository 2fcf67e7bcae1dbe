package audit

import (
	"time"

	"govportal/internal/domain"
)

// EventVersion is bumped when Event changes incompatibly.
const EventVersion = 1

// Event is the mirrored form of an audit entry as written to Kafka.
// Consumers key on ApplicationID.
type Event struct {
	Version       int       `json:"version"`
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

// EventFromEntry converts a stored audit entry.
func EventFromEntry(e domain.AuditEntry) Event {
	return Event{
		Version:       EventVersion,
		ID:            e.ID,
		ApplicationID: e.ApplicationID,
		ActorID:       e.ActorID,
		ActorRole:     e.ActorRole,
		District:      e.District,
		Ward:          e.Ward,
		Action:        e.Action,
		Note:          e.Note,
		CreatedAt:     e.CreatedAt.UTC(),
	}
}
