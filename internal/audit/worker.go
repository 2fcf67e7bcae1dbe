package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"govportal/internal/backend"
	"govportal/internal/domain"
)

// Worker follows the audit table's change feed and mirrors every inserted
// entry through the Publisher. Entries inserted while the worker is
// disconnected are not replayed.
type Worker struct {
	src       backend.Subscriber
	publisher *Publisher
	logger    *slog.Logger
	timeout   time.Duration
	watchOpts []backend.WatchOption

	mu      sync.Mutex
	watcher *backend.Watcher
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithProduceTimeout bounds each Emit.
func WithProduceTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.timeout = d
		}
	}
}

func WithWatchOptions(opts ...backend.WatchOption) WorkerOption {
	return func(w *Worker) { w.watchOpts = append(w.watchOpts, opts...) }
}

func NewWorker(src backend.Subscriber, publisher *Publisher, opts ...WorkerOption) *Worker {
	w := &Worker{
		src:       src,
		publisher: publisher,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout:   10 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start subscribes to the audit table. Calling Start twice is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return
	}
	opts := append([]backend.WatchOption{backend.WithWatchLogger(w.logger)}, w.watchOpts...)
	w.watcher = backend.Watch(context.WithoutCancel(ctx), w.src, domain.TableAuditLogs, w.handle, opts...)
	w.logger.InfoContext(ctx, "audit mirror started", "topic", w.publisher.topic)
}

// Stop closes the subscription and waits for an in-flight Emit.
func (w *Worker) Stop() {
	w.mu.Lock()
	watcher := w.watcher
	w.watcher = nil
	w.mu.Unlock()
	if watcher != nil {
		watcher.Stop()
	}
}

func (w *Worker) handle(ctx context.Context, ev backend.ChangeEvent) {
	ins, ok := ev.(backend.Inserted)
	if !ok {
		return
	}
	entry, err := domain.AuditEntryFromRow(ins.New)
	if err != nil {
		w.logger.ErrorContext(ctx, "undecodable audit row", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if err := w.publisher.Emit(ctx, entry); err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			w.logger.DebugContext(ctx, "audit mirror skipped", "audit_id", entry.ID)
			return
		}
		w.logger.ErrorContext(ctx, "audit mirror failed",
			"audit_id", entry.ID,
			"application_id", entry.ApplicationID,
			"error", err,
		)
	}
}
