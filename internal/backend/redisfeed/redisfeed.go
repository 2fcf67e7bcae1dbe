// Package redisfeed shares one change feed between portal instances. It
// decorates a Backend: every successful write is republished on a Redis
// pub/sub channel, and Subscribe reads from Redis instead of the wrapped
// backend.
package redisfeed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"govportal/internal/backend"
)

// DefaultPrefix namespaces the per-table channels.
const DefaultPrefix = "govportal:changes"

// Feed is a Backend decorator backed by Redis pub/sub.
type Feed struct {
	inner  backend.Backend
	client redis.UniversalClient
	prefix string
	buffer int
	logger *slog.Logger
}

// Option configures a Feed.
type Option func(*Feed)

// WithPrefix overrides the channel prefix.
func WithPrefix(prefix string) Option {
	return func(f *Feed) {
		if prefix != "" {
			f.prefix = prefix
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Feed) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithBuffer sets the per-subscription event buffer.
func WithBuffer(n int) Option {
	return func(f *Feed) {
		if n > 0 {
			f.buffer = n
		}
	}
}

// New wraps inner.
func New(inner backend.Backend, client redis.UniversalClient, opts ...Option) *Feed {
	f := &Feed{
		inner:  inner,
		client: client,
		prefix: DefaultPrefix,
		buffer: backend.DefaultHubBuffer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Channel returns the Redis channel carrying changes for table.
func (f *Feed) Channel(table string) string {
	return f.prefix + ":" + table
}

func (f *Feed) Query(ctx context.Context, q backend.Query) ([]backend.Row, error) {
	return f.inner.Query(ctx, q)
}

// Insert writes through and publishes an Inserted event.
func (f *Feed) Insert(ctx context.Context, table string, record backend.Row) (backend.Row, error) {
	row, err := f.inner.Insert(ctx, table, record)
	if err != nil {
		return nil, err
	}
	f.publish(ctx, backend.Inserted{TableName: table, New: row})
	return row, nil
}

// Update writes through and publishes an Updated event. The prior row is
// not known here, so Old is empty.
func (f *Feed) Update(ctx context.Context, table, id string, patch backend.Row) (backend.Row, error) {
	row, err := f.inner.Update(ctx, table, id, patch)
	if err != nil {
		return nil, err
	}
	f.publish(ctx, backend.Updated{TableName: table, New: row})
	return row, nil
}

// publish is best effort: the write already succeeded.
func (f *Feed) publish(ctx context.Context, ev backend.ChangeEvent) {
	payload, err := backend.EncodeEvent(ev)
	if err != nil {
		f.logger.ErrorContext(ctx, "encode change event", "table", ev.Table(), "error", err)
		return
	}
	if err := f.client.Publish(ctx, f.Channel(ev.Table()), payload).Err(); err != nil {
		f.logger.WarnContext(ctx, "publish change event", "table", ev.Table(), "error", err)
	}
}

// Subscribe opens a Redis subscription on the table's channel. It returns
// once Redis has confirmed the subscription.
func (f *Feed) Subscribe(ctx context.Context, table string) (backend.Subscription, error) {
	ps := f.client.Subscribe(ctx, f.Channel(table))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, backend.Errorf(backend.OpSubscribe, table, err, "redis subscribe")
	}
	sub := &subscription{
		ps:   ps,
		ch:   make(chan backend.ChangeEvent, f.buffer),
		done: make(chan struct{}),
	}
	go sub.pump(ps.Channel(), f.logger)
	return sub, nil
}

type subscription struct {
	ps   *redis.PubSub
	ch   chan backend.ChangeEvent
	done chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *subscription) Events() <-chan backend.ChangeEvent { return s.ch }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()
	return s.ps.Close()
}

func (s *subscription) pump(msgs <-chan *redis.Message, logger *slog.Logger) {
	defer close(s.ch)
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				s.fail(backend.ErrFeedInterrupted)
				return
			}
			ev, err := backend.DecodeEvent([]byte(msg.Payload))
			if err != nil {
				logger.Warn("dropping malformed change event", "channel", msg.Channel, "error", err)
				continue
			}
			select {
			case s.ch <- ev:
			case <-s.done:
				return
			default:
				s.fail(fmt.Errorf("%w: channel %s", backend.ErrSlowConsumer, msg.Channel))
				_ = s.ps.Close()
				return
			}
		}
	}
}

func (s *subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.err = err
	}
}

var _ backend.Backend = (*Feed)(nil)
