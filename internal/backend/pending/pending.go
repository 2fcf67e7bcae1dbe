// Package pending records writes the remote backend rejected. Captured writes
// are kept in a bounded buffer for inspection and are never replayed: there
// is no reconciliation with the remote store.
package pending

import (
	"context"
	"log/slog"
	"time"

	"govportal/internal/backend"
)

// DefaultCapacity bounds the buffer when no capacity is given.
const DefaultCapacity = 1000

// Write is one failed mutation.
type Write struct {
	Op       backend.Op  `json:"op"`
	Table    string      `json:"table"`
	ID       string      `json:"id,omitempty"` // empty for inserts
	Record   backend.Row `json:"record"`
	Err      string      `json:"error"`
	FailedAt time.Time   `json:"failed_at"`
}

// Backend decorates a backend.Backend, capturing failed writes. The write
// error is still returned to the caller unchanged.
type Backend struct {
	backend.Backend
	buf    *ring
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the decorator.
type Option func(*Backend)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		if now != nil {
			b.now = now
		}
	}
}

// Wrap decorates inner with a buffer of the given capacity.
func Wrap(inner backend.Backend, capacity int, opts ...Option) *Backend {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Backend{
		Backend: inner,
		buf:     newRing(capacity),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *Backend) Insert(ctx context.Context, table string, record backend.Row) (backend.Row, error) {
	row, err := b.Backend.Insert(ctx, table, record)
	if err != nil {
		b.capture(ctx, Write{Op: backend.OpInsert, Table: table, Record: record.Clone()}, err)
	}
	return row, err
}

func (b *Backend) Update(ctx context.Context, table, id string, patch backend.Row) (backend.Row, error) {
	row, err := b.Backend.Update(ctx, table, id, patch)
	if err != nil {
		b.capture(ctx, Write{Op: backend.OpUpdate, Table: table, ID: id, Record: patch.Clone()}, err)
	}
	return row, err
}

func (b *Backend) capture(ctx context.Context, w Write, err error) {
	w.Err = err.Error()
	w.FailedAt = b.now()
	b.buf.push(w)
	b.logger.WarnContext(ctx, "captured failed write",
		"op", w.Op, "table", w.Table, "id", w.ID, "error", err, "pending", b.buf.len())
}

// Pending returns the captured writes, oldest first.
func (b *Backend) Pending() []Write {
	return b.buf.snapshot()
}

// Drain returns and clears the captured writes.
func (b *Backend) Drain() []Write {
	return b.buf.drain()
}

// Len returns the number of captured writes.
func (b *Backend) Len() int {
	return b.buf.len()
}

// Dropped returns how many captured writes were overwritten.
func (b *Backend) Dropped() int64 {
	return b.buf.droppedCount()
}
