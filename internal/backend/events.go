package backend

import (
	"encoding/json"
	"fmt"
)

// EventType is the kind of row change.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent is one of Inserted, Updated or Deleted.
type ChangeEvent interface {
	Table() string
	Type() EventType
	isChangeEvent()
}

// Inserted carries a newly written row.
type Inserted struct {
	TableName string
	New       Row
}

// Updated carries the row after (and, when known, before) a change.
type Updated struct {
	TableName string
	Old       Row
	New       Row
}

// Deleted carries the removed row as last seen.
type Deleted struct {
	TableName string
	Old       Row
}

func (e Inserted) Table() string   { return e.TableName }
func (e Inserted) Type() EventType { return EventInsert }
func (Inserted) isChangeEvent()    {}

func (e Updated) Table() string   { return e.TableName }
func (e Updated) Type() EventType { return EventUpdate }
func (Updated) isChangeEvent()    {}

func (e Deleted) Table() string   { return e.TableName }
func (e Deleted) Type() EventType { return EventDelete }
func (Deleted) isChangeEvent()    {}

// envelope is the wire form shared by the Postgres NOTIFY trigger and the
// Redis fan-out channel.
type envelope struct {
	Type  EventType `json:"type"`
	Table string    `json:"table"`
	New   Row       `json:"new,omitempty"`
	Old   Row       `json:"old,omitempty"`
}

// EncodeEvent serializes ev to its wire form.
func EncodeEvent(ev ChangeEvent) ([]byte, error) {
	env := envelope{Type: ev.Type(), Table: ev.Table()}
	switch e := ev.(type) {
	case Inserted:
		env.New = e.New
	case Updated:
		env.New, env.Old = e.New, e.Old
	case Deleted:
		env.Old = e.Old
	}
	return json.Marshal(env)
}

// DecodeEvent parses the wire form.
func DecodeEvent(data []byte) (ChangeEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode change event: %w", err)
	}
	if env.Table == "" {
		return nil, fmt.Errorf("decode change event: missing table")
	}
	switch env.Type {
	case EventInsert:
		return Inserted{TableName: env.Table, New: env.New}, nil
	case EventUpdate:
		return Updated{TableName: env.Table, Old: env.Old, New: env.New}, nil
	case EventDelete:
		return Deleted{TableName: env.Table, Old: env.Old}, nil
	default:
		return nil, fmt.Errorf("decode change event: unknown type %q", env.Type)
	}
}
