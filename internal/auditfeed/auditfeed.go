// Package auditfeed keeps the most recent audit entries, newest first.
// After the initial fetch it merges inserts optimistically: a matching entry
// is prepended without re-querying, and the fetch limit is not re-applied.
package auditfeed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"govportal/internal/backend"
	"govportal/internal/domain"
	"govportal/internal/platform/metrics"
	"govportal/pkg/platform/sentinel"
)

// DefaultLimit caps the initial fetch.
const DefaultLimit = 100

const listName = "audit"

// Filter narrows the feed. Empty fields do not filter.
type Filter struct {
	Role     string
	District string
	Ward     string
}

// Matches reports whether e passes every set field.
func (f Filter) Matches(e domain.AuditEntry) bool {
	if f.Role != "" && e.ActorRole != f.Role {
		return false
	}
	if f.District != "" && e.District != f.District {
		return false
	}
	if f.Ward != "" && e.Ward != f.Ward {
		return false
	}
	return true
}

func (f Filter) filters() []backend.Filter {
	var out []backend.Filter
	if f.Role != "" {
		out = append(out, backend.Eq(domain.ColActorRole, f.Role))
	}
	if f.District != "" {
		out = append(out, backend.Eq(domain.ColDistrict, f.District))
	}
	if f.Ward != "" {
		out = append(out, backend.Eq(domain.ColWard, f.Ward))
	}
	return out
}

// Snapshot is the feed state at one instant.
type Snapshot struct {
	Entries []domain.AuditEntry
	Loading bool
	Err     error
}

// Feed is a live audit log view.
type Feed struct {
	backend   backend.Backend
	logger    *slog.Logger
	metrics   *metrics.Metrics
	limit     int
	setter    func([]domain.AuditEntry)
	onChange  func()
	watchOpts []backend.WatchOption

	mu      sync.Mutex
	filter  Filter
	started bool
	closed  bool
	epoch   uint64 // bumped on every re-key; stale fetches and events are dropped
	entries []domain.AuditEntry
	// inserts seen while a fetch of the current epoch is in flight; merged
	// into its result so the fetch cannot drop them
	fetching int
	buffered []domain.AuditEntry
	loading bool
	err     error
	watcher *backend.Watcher
}

// Option configures a Feed.
type Option func(*Feed)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Feed) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Feed) { f.metrics = m }
}

// WithLimit overrides DefaultLimit.
func WithLimit(n int) Option {
	return func(f *Feed) {
		if n > 0 {
			f.limit = n
		}
	}
}

// WithSetter registers a callback receiving the entries after every change.
func WithSetter(fn func([]domain.AuditEntry)) Option {
	return func(f *Feed) { f.setter = fn }
}

// WithOnChange registers a callback run after every state change.
func WithOnChange(fn func()) Option {
	return func(f *Feed) { f.onChange = fn }
}

// WithWatchOptions passes options to the underlying backend.Watch.
func WithWatchOptions(opts ...backend.WatchOption) Option {
	return func(f *Feed) { f.watchOpts = append(f.watchOpts, opts...) }
}

// New creates an idle feed; call Start to fetch and subscribe.
func New(b backend.Backend, opts ...Option) *Feed {
	f := &Feed{
		backend: b,
		logger:  slog.Default(),
		limit:   DefaultLimit,
		loading: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Start fetches the newest entries matching filter and subscribes to inserts.
func (f *Feed) Start(ctx context.Context, filter Filter) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return sentinel.ErrClosed
	}
	if f.started {
		f.mu.Unlock()
		return sentinel.ErrInvalidState
	}
	f.started = true
	f.filter = filter
	epoch := f.epoch
	f.mu.Unlock()

	f.open(ctx, epoch)
	return nil
}

// SetFilter re-keys the fetch and subscription. An unchanged filter is a
// no-op.
func (f *Feed) SetFilter(ctx context.Context, filter Filter) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return sentinel.ErrClosed
	}
	if !f.started {
		f.mu.Unlock()
		return f.Start(ctx, filter)
	}
	if f.filter == filter {
		f.mu.Unlock()
		return nil
	}
	old := f.watcher
	f.watcher = nil
	f.filter = filter
	f.epoch++
	epoch := f.epoch
	f.fetching = 0
	f.buffered = nil
	f.loading = true
	f.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	f.open(ctx, epoch)
	return nil
}

// open subscribes before fetching; inserts arriving during the fetch are
// merged into its result.
func (f *Feed) open(ctx context.Context, epoch uint64) {
	opts := append([]backend.WatchOption{
		backend.WithWatchLogger(f.logger),
		backend.OnReconnect(func(ctx context.Context) {
			// Inserts during the outage were missed.
			f.metrics.IncrementReconnect(domain.TableAuditLogs)
			f.fetch(ctx, epoch)
		}),
	}, f.watchOpts...)
	handle := func(ctx context.Context, ev backend.ChangeEvent) { f.handle(ctx, epoch, ev) }
	w := backend.Watch(context.WithoutCancel(ctx), f.backend, domain.TableAuditLogs, handle, opts...)

	f.mu.Lock()
	if f.closed || f.epoch != epoch || f.watcher != nil {
		f.mu.Unlock()
		w.Stop()
		return
	}
	f.watcher = w
	f.mu.Unlock()

	f.fetch(ctx, epoch)
}

// Refresh re-runs the initial fetch with the current filter.
func (f *Feed) Refresh(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return sentinel.ErrClosed
	}
	epoch := f.epoch
	f.mu.Unlock()
	return f.fetch(ctx, epoch)
}

func (f *Feed) fetch(ctx context.Context, epoch uint64) error {
	f.mu.Lock()
	filter := f.filter
	if f.epoch == epoch {
		f.fetching++
	}
	f.mu.Unlock()

	start := time.Now()
	rows, err := f.backend.Query(ctx, backend.Query{
		Table:   domain.TableAuditLogs,
		Filters: filter.filters(),
		OrderBy: domain.ColCreatedAt,
		Limit:   f.limit,
	})
	var entries []domain.AuditEntry
	if err == nil {
		entries, err = domain.AuditEntriesFromRows(rows)
	}
	f.metrics.ObserveFetch(listName, time.Since(start), err)

	f.mu.Lock()
	if f.closed || f.epoch != epoch {
		f.mu.Unlock()
		f.metrics.IncrementStaleFetch(listName)
		return err
	}
	f.loading = false
	f.fetching--
	buffered := f.buffered
	if f.fetching == 0 {
		f.buffered = nil
	}
	if err != nil {
		// Keep whatever is already shown.
		f.err = err
		f.mu.Unlock()
		f.logger.ErrorContext(ctx, "fetch audit entries failed", "error", err)
		f.notify(nil)
		return err
	}
	f.err = nil
	f.entries = mergeNewer(buffered, entries)
	out := cloneEntries(f.entries)
	f.mu.Unlock()

	f.notify(out)
	return nil
}

func (f *Feed) handle(ctx context.Context, epoch uint64, ev backend.ChangeEvent) {
	f.metrics.IncrementChangeEvent(listName, string(ev.Type()))
	ins, ok := ev.(backend.Inserted)
	if !ok {
		return
	}
	entry, err := domain.AuditEntryFromRow(ins.New)
	if err != nil {
		f.logger.WarnContext(ctx, "dropping undecodable audit insert", "error", err)
		return
	}

	f.mu.Lock()
	if f.closed || f.epoch != epoch || !f.filter.Matches(entry) {
		f.mu.Unlock()
		return
	}
	f.entries = append([]domain.AuditEntry{entry}, f.entries...)
	if f.fetching > 0 {
		f.buffered = append([]domain.AuditEntry{entry}, f.buffered...)
	}
	out := cloneEntries(f.entries)
	f.mu.Unlock()

	f.notify(out)
}

// notify calls the setter (when entries is non-nil) and the change hook.
func (f *Feed) notify(entries []domain.AuditEntry) {
	if entries != nil && f.setter != nil {
		f.setter(entries)
	}
	if f.onChange != nil {
		f.onChange()
	}
}

// Snapshot returns a copy of the current state.
func (f *Feed) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Snapshot{Entries: cloneEntries(f.entries), Loading: f.loading, Err: f.err}
}

// Filter returns the active filter.
func (f *Feed) Filter() Filter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filter
}

// Close ends the subscription.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	w := f.watcher
	f.watcher = nil
	f.mu.Unlock()

	if w != nil {
		w.Stop()
	}
}

// mergeNewer prepends the buffered entries that fetched does not contain.
// Both slices are newest first.
func mergeNewer(buffered, fetched []domain.AuditEntry) []domain.AuditEntry {
	if len(buffered) == 0 {
		return fetched
	}
	seen := make(map[string]struct{}, len(fetched))
	for _, e := range fetched {
		seen[e.ID] = struct{}{}
	}
	out := make([]domain.AuditEntry, 0, len(buffered)+len(fetched))
	for _, e := range buffered {
		if _, ok := seen[e.ID]; !ok {
			out = append(out, e)
		}
	}
	return append(out, fetched...)
}

func cloneEntries(entries []domain.AuditEntry) []domain.AuditEntry {
	out := make([]domain.AuditEntry, len(entries))
	copy(out, entries)
	return out
}
