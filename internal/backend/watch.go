package backend

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Watcher keeps a subscription open, re-subscribing with exponential backoff
// whenever the feed drops, and delivers events to a handler from a single
// goroutine.
type Watcher struct {
	src    Subscriber
	table  string
	handle func(context.Context, ChangeEvent)
	cfg    watchConfig

	cancel context.CancelFunc
	done   chan struct{}
}

type watchConfig struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	logger          *slog.Logger
	onReconnect     func(context.Context)
}

// WatchOption configures Watch.
type WatchOption func(*watchConfig)

// WithBackoff sets the reconnect backoff bounds.
func WithBackoff(initial, max time.Duration) WatchOption {
	return func(c *watchConfig) {
		if initial > 0 {
			c.initialInterval = initial
		}
		if max > 0 {
			c.maxInterval = max
		}
	}
}

// WithWatchLogger sets the logger for reconnect diagnostics.
func WithWatchLogger(logger *slog.Logger) WatchOption {
	return func(c *watchConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// OnReconnect registers fn to run (on the watch goroutine) after every
// subscription opened by the retry loop. Events may have been missed while
// the feed was down, so callers typically re-read here.
func OnReconnect(fn func(context.Context)) WatchOption {
	return func(c *watchConfig) { c.onReconnect = fn }
}

// Watch subscribes to table and feeds events to handle until Stop is called
// or ctx ends. The first Subscribe happens before Watch returns so that
// changes made afterwards are observed; if it fails the retry loop takes over.
func Watch(ctx context.Context, src Subscriber, table string, handle func(context.Context, ChangeEvent), opts ...WatchOption) *Watcher {
	cfg := watchConfig{
		initialInterval: 500 * time.Millisecond,
		maxInterval:     30 * time.Second,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		src:    src,
		table:  table,
		handle: handle,
		cfg:    cfg,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	sub, err := src.Subscribe(ctx, table)
	if err != nil {
		cfg.logger.WarnContext(ctx, "initial subscribe failed, retrying in background",
			"table", table,
			"error", err,
		)
		sub = nil
	}
	go w.run(ctx, sub)
	return w
}

// Stop closes the current subscription and waits for the watch goroutine.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context, sub Subscription) {
	defer close(w.done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.cfg.initialInterval
	bo.MaxInterval = w.cfg.maxInterval
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		if sub == nil {
			timer := time.NewTimer(bo.NextBackOff())
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			s, err := w.src.Subscribe(ctx, w.table)
			if err != nil {
				w.cfg.logger.WarnContext(ctx, "resubscribe failed",
					"table", w.table,
					"error", err,
				)
				continue
			}
			sub = s
			bo.Reset()
			w.cfg.logger.InfoContext(ctx, "subscription re-established", "table", w.table)
			if w.cfg.onReconnect != nil {
				w.cfg.onReconnect(ctx)
			}
		}

		if !w.pump(ctx, sub) {
			_ = sub.Close()
			return
		}
		w.cfg.logger.WarnContext(ctx, "subscription ended, reconnecting",
			"table", w.table,
			"error", sub.Err(),
		)
		_ = sub.Close()
		sub = nil
	}
}

// pump forwards events until the feed ends (true) or ctx is done (false).
func (w *Watcher) pump(ctx context.Context, sub Subscription) bool {
	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return ctx.Err() == nil
			}
			w.handle(ctx, ev)
		}
	}
}
