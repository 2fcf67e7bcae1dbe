package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"

	"govportal/internal/backend"
)

// ChangeChannel is the NOTIFY channel the row-change trigger publishes on.
const ChangeChannel = "table_changes"

// Feed holds one LISTEN connection and fans notifications out to
// subscribers. When pq reports a dropped connection every open subscription
// ends with backend.ErrFeedInterrupted, since notifications sent while
// disconnected are lost.
type Feed struct {
	listener *pq.Listener
	hub      *backend.Hub
	logger   *slog.Logger
	done     chan struct{}
	stop     sync.Once
}

// FeedOption configures a Feed.
type FeedOption func(*feedConfig)

type feedConfig struct {
	logger       *slog.Logger
	minReconnect time.Duration
	maxReconnect time.Duration
	buffer       int
}

// WithFeedLogger sets the logger.
func WithFeedLogger(logger *slog.Logger) FeedOption {
	return func(c *feedConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithReconnectInterval bounds pq's own reconnect loop.
func WithReconnectInterval(min, max time.Duration) FeedOption {
	return func(c *feedConfig) {
		if min > 0 {
			c.minReconnect = min
		}
		if max >= min && max > 0 {
			c.maxReconnect = max
		}
	}
}

// WithFeedBuffer sets the per-subscriber buffer.
func WithFeedBuffer(n int) FeedOption {
	return func(c *feedConfig) {
		c.buffer = n
	}
}

// NewFeed opens a listener on ChangeChannel using dsn.
func NewFeed(dsn string, opts ...FeedOption) (*Feed, error) {
	cfg := feedConfig{
		logger:       slog.Default(),
		minReconnect: time.Second,
		maxReconnect: time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	f := &Feed{
		hub:    backend.NewHub(cfg.buffer),
		logger: cfg.logger,
		done:   make(chan struct{}),
	}
	f.listener = pq.NewListener(dsn, cfg.minReconnect, cfg.maxReconnect, f.onEvent)
	if err := f.listener.Listen(ChangeChannel); err != nil {
		_ = f.listener.Close()
		return nil, fmt.Errorf("listen %s: %w", ChangeChannel, err)
	}
	go f.run()
	return f, nil
}

// Subscribe registers a subscriber for table.
func (f *Feed) Subscribe(table string) backend.Subscription {
	return f.hub.Subscribe(table)
}

// Ping checks the listener connection.
func (f *Feed) Ping(_ context.Context) error {
	return f.listener.Ping()
}

// Close stops listening and ends every subscription.
func (f *Feed) Close() error {
	var err error
	f.stop.Do(func() {
		close(f.done)
		err = f.listener.Close()
		f.hub.Close()
	})
	return err
}

func (f *Feed) run() {
	for {
		select {
		case <-f.done:
			return
		case n, ok := <-f.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// pq sends nil after re-establishing the connection.
				f.hub.Interrupt(backend.ErrFeedInterrupted)
				continue
			}
			ev, err := backend.DecodeEvent([]byte(n.Extra))
			if err != nil {
				f.logger.Warn("dropping malformed change notification", "error", err)
				continue
			}
			f.hub.Publish(ev)
		}
	}
}

func (f *Feed) onEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		f.logger.Info("change feed connected", "channel", ChangeChannel)
	case pq.ListenerEventDisconnected:
		f.logger.Warn("change feed disconnected", "channel", ChangeChannel, "error", err)
		f.hub.Interrupt(backend.ErrFeedInterrupted)
	case pq.ListenerEventReconnected:
		f.logger.Info("change feed reconnected", "channel", ChangeChannel)
	case pq.ListenerEventConnectionAttemptFailed:
		f.logger.Warn("change feed reconnect failed", "channel", ChangeChannel, "error", err)
	}
}
