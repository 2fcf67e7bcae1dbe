// Package livesync keeps a scoped list of applications consistent with the
// backend. Any change event on the applications table triggers a full
// re-query with the current scope; the list is replaced, never patched.
package livesync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"govportal/internal/backend"
	"govportal/internal/domain"
	"govportal/internal/platform/metrics"
	"govportal/pkg/platform/sentinel"
	"govportal/pkg/session"
)

const listName = "applications"

// Snapshot is the list state at one instant. Err is only set when the list
// was built WithSurfaceErrors.
type Snapshot struct {
	Items   []domain.Application
	Loading bool
	Err     error
}

// LiveList is a live, scope-filtered view of the applications table.
type LiveList struct {
	backend       backend.Backend
	logger        *slog.Logger
	metrics       *metrics.Metrics
	setter        func([]domain.Application)
	onChange      func()
	surfaceErrors bool
	watchOpts     []backend.WatchOption

	mu      sync.Mutex
	scope   session.Scope
	started bool
	closed  bool
	items   []domain.Application
	loading bool
	err     error
	issued  uint64 // last fetch generation handed out
	applied uint64 // generation of the result currently shown
	watcher *backend.Watcher
}

// Option configures a LiveList.
type Option func(*LiveList)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *LiveList) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *LiveList) { l.metrics = m }
}

// WithSetter registers a callback receiving every applied list.
func WithSetter(fn func([]domain.Application)) Option {
	return func(l *LiveList) { l.setter = fn }
}

// WithOnChange registers a callback run after every state change.
func WithOnChange(fn func()) Option {
	return func(l *LiveList) { l.onChange = fn }
}

// WithSurfaceErrors controls whether fetch failures appear in Snapshot.Err.
// When false (the default) a failure only yields an empty list and a log line.
func WithSurfaceErrors(surface bool) Option {
	return func(l *LiveList) { l.surfaceErrors = surface }
}

// WithWatchOptions passes options to the underlying backend.Watch.
func WithWatchOptions(opts ...backend.WatchOption) Option {
	return func(l *LiveList) { l.watchOpts = append(l.watchOpts, opts...) }
}

// New creates an idle list; call Start to fetch and subscribe.
func New(b backend.Backend, opts ...Option) *LiveList {
	l := &LiveList{
		backend: b,
		logger:  slog.Default(),
		loading: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Start performs the initial fetch for scope and opens the subscription.
// The subscription outlives ctx's cancellation; it ends with Close or
// SetScope.
func (l *LiveList) Start(ctx context.Context, scope session.Scope) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return sentinel.ErrClosed
	}
	if l.started {
		l.mu.Unlock()
		return sentinel.ErrInvalidState
	}
	l.started = true
	l.scope = scope
	l.mu.Unlock()

	l.open(ctx, scope)
	return nil
}

// SetScope re-keys the list. The same (role, district, ward) triple is a
// no-op; otherwise the old subscription is closed before the new one opens.
func (l *LiveList) SetScope(ctx context.Context, scope session.Scope) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return sentinel.ErrClosed
	}
	if !l.started {
		l.mu.Unlock()
		return l.Start(ctx, scope)
	}
	if l.scope == scope {
		l.mu.Unlock()
		return nil
	}
	old := l.watcher
	l.watcher = nil
	l.scope = scope
	l.loading = true
	l.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	l.open(ctx, scope)
	return nil
}

// open subscribes before fetching, so a change committed while the fetch is
// in flight still triggers a re-read.
func (l *LiveList) open(ctx context.Context, scope session.Scope) {
	opts := append([]backend.WatchOption{
		backend.WithWatchLogger(l.logger),
		backend.OnReconnect(func(ctx context.Context) {
			l.metrics.IncrementReconnect(domain.TableApplications)
			l.fetch(ctx)
		}),
	}, l.watchOpts...)

	w := backend.Watch(context.WithoutCancel(ctx), l.backend, domain.TableApplications, l.handle, opts...)

	l.mu.Lock()
	if l.closed || l.scope != scope || l.watcher != nil {
		l.mu.Unlock()
		w.Stop()
		return
	}
	l.watcher = w
	l.mu.Unlock()

	l.fetch(ctx)
}

func (l *LiveList) handle(ctx context.Context, ev backend.ChangeEvent) {
	l.metrics.IncrementChangeEvent(listName, string(ev.Type()))
	l.fetch(ctx)
}

// Refresh re-runs the scoped query and replaces the list.
func (l *LiveList) Refresh(ctx context.Context) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return sentinel.ErrClosed
	}
	return l.fetch(ctx)
}

// Query builds the scoped applications query.
func Query(scope session.Scope) backend.Query {
	q := backend.Query{Table: domain.TableApplications, OrderBy: domain.ColCreatedAt}
	if column, value, ok := scope.LocationFilter(); ok {
		q.Filters = []backend.Filter{backend.Eq(column, value)}
	}
	return q
}

func (l *LiveList) fetch(ctx context.Context) error {
	l.mu.Lock()
	l.issued++
	gen := l.issued
	scope := l.scope
	l.mu.Unlock()

	start := time.Now()
	rows, err := l.backend.Query(ctx, Query(scope))
	var items []domain.Application
	if err == nil {
		items, err = domain.ApplicationsFromRows(rows)
	}
	l.metrics.ObserveFetch(listName, time.Since(start), err)
	if err != nil {
		l.logger.ErrorContext(ctx, "fetch applications failed",
			"scope", scope.String(),
			"error", err,
		)
		items = []domain.Application{}
	}

	l.mu.Lock()
	if l.closed || gen < l.applied || scope != l.scope {
		l.mu.Unlock()
		l.metrics.IncrementStaleFetch(listName)
		return err
	}
	l.applied = gen
	l.items = items
	l.loading = false
	l.err = nil
	if err != nil && l.surfaceErrors {
		l.err = err
	}
	setter, onChange := l.setter, l.onChange
	l.mu.Unlock()

	if setter != nil {
		setter(cloneItems(items))
	}
	if onChange != nil {
		onChange()
	}
	return err
}

// Snapshot returns a copy of the current state.
func (l *LiveList) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{Items: cloneItems(l.items), Loading: l.loading, Err: l.err}
}

// Scope returns the active scope.
func (l *LiveList) Scope() session.Scope {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scope
}

// Close ends the subscription. Results of in-flight fetches are dropped.
func (l *LiveList) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	w := l.watcher
	l.watcher = nil
	l.mu.Unlock()

	if w != nil {
		w.Stop()
	}
}

func cloneItems(items []domain.Application) []domain.Application {
	if items == nil {
		return nil
	}
	out := make([]domain.Application, len(items))
	copy(out, items)
	return out
}
