// Package memory is an in-process Backend used for development mode and
// tests. It honors the full contract: equality filters, descending order,
// limits and change fan-out.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"govportal/internal/backend"
	"govportal/pkg/platform/sentinel"
)

type failureKey struct {
	op    backend.Op
	table string
}

// Store keeps rows per table in insertion order.
type Store struct {
	mu       sync.RWMutex
	tables   map[string][]backend.Row
	failures map[failureKey]error
	queries  map[string]int
	hub      *backend.Hub
}

// New creates an empty store.
func New() *Store {
	return &Store{
		tables:   make(map[string][]backend.Row),
		failures: make(map[failureKey]error),
		queries:  make(map[string]int),
		hub:      backend.NewHub(0),
	}
}

// FailOn makes every op on table fail with err until ClearFailures.
func (s *Store) FailOn(op backend.Op, table string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[failureKey{op, table}] = err
}

// ClearFailures removes all injected failures.
func (s *Store) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[failureKey]error)
}

// QueryCount returns how many queries ran against table.
func (s *Store) QueryCount(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries[table]
}

// Subscribers returns the number of open subscriptions.
func (s *Store) Subscribers() int {
	return s.hub.Len()
}

// Interrupt drops every open subscription as a transport failure would.
func (s *Store) Interrupt() {
	s.hub.Interrupt(backend.ErrFeedInterrupted)
}

func (s *Store) injected(op backend.Op, table string) error {
	if err, ok := s.failures[failureKey{op, table}]; ok {
		return &backend.Error{Op: op, Table: table, Code: "injected", Message: err.Error(), Err: err}
	}
	return nil
}

// Query returns matching rows ordered by q.OrderBy descending.
func (s *Store) Query(ctx context.Context, q backend.Query) ([]backend.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.queries[q.Table]++
	if err := s.injected(backend.OpQuery, q.Table); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	var out []backend.Row
	for _, row := range s.tables[q.Table] {
		if matches(row, q.Filters) {
			out = append(out, row.Clone())
		}
	}
	s.mu.Unlock()

	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			return compare(out[i][q.OrderBy], out[j][q.OrderBy]) > 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Insert appends record, assigning an id when absent.
func (s *Store) Insert(ctx context.Context, table string, record backend.Row) (backend.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if err := s.injected(backend.OpInsert, table); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	row := record.Clone()
	if row == nil {
		row = backend.Row{}
	}
	if row.String(backend.IDColumn) == "" {
		row[backend.IDColumn] = uuid.NewString()
	}
	id := row.String(backend.IDColumn)
	if s.indexLocked(table, id) >= 0 {
		s.mu.Unlock()
		return nil, backend.Errorf(backend.OpInsert, table, sentinel.ErrConflict, "duplicate id %s", id)
	}
	s.tables[table] = append(s.tables[table], row)
	out := row.Clone()
	s.mu.Unlock()

	s.hub.Publish(backend.Inserted{TableName: table, New: out.Clone()})
	return out, nil
}

// Update merges patch into the row with the given id.
func (s *Store) Update(ctx context.Context, table, id string, patch backend.Row) (backend.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if err := s.injected(backend.OpUpdate, table); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	idx := s.indexLocked(table, id)
	if idx < 0 {
		s.mu.Unlock()
		return nil, backend.Errorf(backend.OpUpdate, table, sentinel.ErrNotFound, "row %s not found", id)
	}
	old := s.tables[table][idx]
	row := old.Clone()
	for k, v := range patch {
		if k == backend.IDColumn {
			continue
		}
		row[k] = v
	}
	s.tables[table][idx] = row
	out := row.Clone()
	s.mu.Unlock()

	s.hub.Publish(backend.Updated{TableName: table, Old: old.Clone(), New: out.Clone()})
	return out, nil
}

// Delete removes a row. Not part of the Writer contract; it lets tests and
// seeding tools produce delete notifications.
func (s *Store) Delete(ctx context.Context, table, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	idx := s.indexLocked(table, id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("delete %s/%s: %w", table, id, sentinel.ErrNotFound)
	}
	old := s.tables[table][idx]
	s.tables[table] = append(s.tables[table][:idx:idx], s.tables[table][idx+1:]...)
	s.mu.Unlock()

	s.hub.Publish(backend.Deleted{TableName: table, Old: old.Clone()})
	return nil
}

// Subscribe opens a change feed for table.
func (s *Store) Subscribe(ctx context.Context, table string) (backend.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	err := s.injected(backend.OpSubscribe, table)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return s.hub.Subscribe(table), nil
}

// Close ends every subscription.
func (s *Store) Close() error {
	s.hub.Close()
	return nil
}

func (s *Store) indexLocked(table, id string) int {
	for i, row := range s.tables[table] {
		if row.String(backend.IDColumn) == id {
			return i
		}
	}
	return -1
}

func matches(row backend.Row, filters []backend.Filter) bool {
	for _, f := range filters {
		if !equal(row[f.Column], f.Value) {
			return false
		}
	}
	return true
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// compare orders times, numbers and strings; mismatched or missing values
// sort last.
func compare(a, b any) int {
	switch av := a.(type) {
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case int:
		if bv, ok := b.(int); ok {
			return av - bv
		}
	case string:
		if bv, ok := b.(string); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	}
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return 0
}

var _ backend.Backend = (*Store)(nil)
