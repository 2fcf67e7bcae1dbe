// Package backend defines the contract the portal core consumes from its
// hosted data collaborator: filtered queries, single-row writes and a push
// channel of row changes per table.
package backend

import (
	"context"
	"maps"
)

// Row is one table row keyed by column name.
type Row map[string]any

// Clone returns a shallow copy of r.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	return maps.Clone(r)
}

// String returns the column value as a string, or "" when absent or not a string.
func (r Row) String(column string) string {
	s, _ := r[column].(string)
	return s
}

// Filter is an equality predicate on one column.
type Filter struct {
	Column string
	Value  any
}

// Eq builds an equality filter.
func Eq(column string, value any) Filter {
	return Filter{Column: column, Value: value}
}

// Query selects rows from Table matching every filter, sorted by OrderBy
// descending. Limit <= 0 means no cap.
type Query struct {
	Table   string
	Filters []Filter
	OrderBy string
	Limit   int
}

// Querier runs filtered, ordered reads.
type Querier interface {
	Query(ctx context.Context, q Query) ([]Row, error)
}

// Writer performs single-row mutations. Failures are returned as *Error.
type Writer interface {
	Insert(ctx context.Context, table string, record Row) (Row, error)
	Update(ctx context.Context, table, id string, patch Row) (Row, error)
}

// Subscriber opens a change feed for a table.
type Subscriber interface {
	Subscribe(ctx context.Context, table string) (Subscription, error)
}

// Subscription is a cancellable stream of change events for one table.
// Events is closed when the subscription ends; Err then reports why
// (nil after an explicit Close).
type Subscription interface {
	Events() <-chan ChangeEvent
	Err() error
	Close() error
}

// Backend is the full collaborator surface.
type Backend interface {
	Querier
	Writer
	Subscriber
}

// IDColumn is the primary key column every table carries.
const IDColumn = "id"
