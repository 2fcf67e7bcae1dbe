// Package dashboard composes the reviewer view: a live application list
// scoped to the viewer, a live audit feed with a local role filter, and the
// action workflow whose refresher is the application list.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"govportal/internal/auditfeed"
	"govportal/internal/backend"
	"govportal/internal/domain"
	"govportal/internal/livesync"
	"govportal/internal/platform/metrics"
	"govportal/internal/workflow"
	dErrors "govportal/pkg/domain-errors"
	"govportal/pkg/platform/sentinel"
	"govportal/pkg/session"
)

// AllRoles is the audit role filter value that disables role filtering.
const AllRoles = "all"

// Dashboard is one viewer's composed state. Dashboards never share state.
type Dashboard struct {
	backend  backend.Backend
	session  session.Session
	list     *livesync.LiveList
	feed     *auditfeed.Feed
	workflow *workflow.Workflow
	updates  *notifier
	logger   *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	mounted    bool
	closed     bool
	roleFilter string
	lastActive time.Time
}

type config struct {
	logger        *slog.Logger
	metrics       *metrics.Metrics
	auditLimit    int
	policy        workflow.Policy
	surfaceErrors bool
	watchOpts     []backend.WatchOption
	now           func() time.Time
}

// Option configures a Dashboard.
type Option func(*config)

// WithLogger sets the logger for the dashboard and its parts.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithAuditLimit sets the audit feed's initial fetch size.
func WithAuditLimit(n int) Option {
	return func(c *config) { c.auditLimit = n }
}

// WithPolicy sets the workflow's partial-failure policy.
func WithPolicy(p workflow.Policy) Option {
	return func(c *config) { c.policy = p }
}

// WithSurfaceErrors exposes application fetch failures in snapshots.
func WithSurfaceErrors(surface bool) Option {
	return func(c *config) { c.surfaceErrors = surface }
}

// WithWatchOptions tunes the reconnect behaviour of both subscriptions.
func WithWatchOptions(opts ...backend.WatchOption) Option {
	return func(c *config) { c.watchOpts = append(c.watchOpts, opts...) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// New builds an unmounted dashboard for sess.
func New(b backend.Backend, sess session.Session, opts ...Option) *Dashboard {
	cfg := config{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	logger := cfg.logger.With("actor_id", sess.ActorID, "role", sess.Role.String())

	d := &Dashboard{
		backend:    b,
		session:    sess,
		updates:    newNotifier(),
		logger:     logger,
		now:        cfg.now,
		roleFilter: AllRoles,
		lastActive: cfg.now(),
	}
	d.list = livesync.New(b,
		livesync.WithLogger(logger),
		livesync.WithMetrics(cfg.metrics),
		livesync.WithSurfaceErrors(cfg.surfaceErrors),
		livesync.WithOnChange(d.updates.notify),
		livesync.WithWatchOptions(cfg.watchOpts...),
	)
	d.feed = auditfeed.New(b,
		auditfeed.WithLogger(logger),
		auditfeed.WithMetrics(cfg.metrics),
		auditfeed.WithLimit(cfg.auditLimit),
		auditfeed.WithOnChange(d.updates.notify),
		auditfeed.WithWatchOptions(cfg.watchOpts...),
	)
	d.workflow = workflow.New(b, sess,
		workflow.WithRefresher(d.list),
		workflow.WithPolicy(cfg.policy),
		workflow.WithLogger(logger),
		workflow.WithMetrics(cfg.metrics),
		workflow.WithClock(cfg.now),
	)
	return d
}

// Session returns the viewer's session.
func (d *Dashboard) Session() session.Session { return d.session }

// Mount fetches and subscribes both lists concurrently: one query and one
// subscribe each.
func (d *Dashboard) Mount(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return sentinel.ErrClosed
	}
	if d.mounted {
		d.mu.Unlock()
		return nil
	}
	d.mounted = true
	filter := d.auditFilterLocked()
	d.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.list.Start(gctx, d.session.Scope()) })
	g.Go(func() error { return d.feed.Start(gctx, filter) })
	if err := g.Wait(); err != nil {
		return err
	}
	d.logger.InfoContext(ctx, "dashboard mounted", "scope", d.session.Scope().String())
	return nil
}

// auditFilterLocked scopes the feed by the viewer's location (same
// precedence as the application list) plus the selected role.
func (d *Dashboard) auditFilterLocked() auditfeed.Filter {
	var f auditfeed.Filter
	if column, value, ok := d.session.Scope().LocationFilter(); ok {
		switch column {
		case "district":
			f.District = value
		case "ward":
			f.Ward = value
		}
	}
	if d.roleFilter != AllRoles {
		f.Role = d.roleFilter
	}
	return f
}

// Applications returns the live application list.
func (d *Dashboard) Applications() livesync.Snapshot {
	d.touch()
	return d.list.Snapshot()
}

// Audit returns the live audit feed.
func (d *Dashboard) Audit() auditfeed.Snapshot {
	d.touch()
	return d.feed.Snapshot()
}

// AuditRoleFilter returns the selected role filter ("all" when unset).
func (d *Dashboard) AuditRoleFilter() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.roleFilter
}

// SetAuditRoleFilter selects the audit role filter; "" or "all" clears it.
func (d *Dashboard) SetAuditRoleFilter(ctx context.Context, role string) error {
	role = strings.TrimSpace(role)
	if role == "" || strings.EqualFold(role, AllRoles) {
		role = AllRoles
	} else if r, err := session.ParseRole(role); err == nil {
		role = r.String()
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return sentinel.ErrClosed
	}
	d.roleFilter = role
	d.lastActive = d.now()
	mounted := d.mounted
	filter := d.auditFilterLocked()
	d.mu.Unlock()

	if !mounted {
		return nil
	}
	return d.feed.SetFilter(ctx, filter)
}

// Stage opens the action dialog. The application must be inside the
// viewer's scope; anything else reads as not found.
func (d *Dashboard) Stage(ctx context.Context, applicationID, action, note string) (workflow.Staged, error) {
	d.touch()
	if id := strings.TrimSpace(applicationID); id != "" {
		if err := d.checkVisible(ctx, id); err != nil {
			return workflow.Staged{}, err
		}
	}
	return d.workflow.Stage(applicationID, action, note)
}

func (d *Dashboard) checkVisible(ctx context.Context, applicationID string) error {
	q := livesync.Query(d.session.Scope())
	q.Filters = append(q.Filters, backend.Eq(domain.ColID, applicationID))
	q.OrderBy = ""
	q.Limit = 1
	rows, err := d.backend.Query(ctx, q)
	if err != nil {
		return fmt.Errorf("look up application %s: %w", applicationID, err)
	}
	if len(rows) == 0 {
		return dErrors.New(dErrors.CodeNotFound, "application not found")
	}
	return nil
}

// EditNote edits the staged note.
func (d *Dashboard) EditNote(note string) (workflow.Staged, error) {
	d.touch()
	return d.workflow.EditNote(note)
}

// Cancel closes the dialog.
func (d *Dashboard) Cancel() error {
	d.touch()
	return d.workflow.Cancel()
}

// Confirm submits the staged action.
func (d *Dashboard) Confirm(ctx context.Context) (workflow.Outcome, error) {
	d.touch()
	return d.workflow.Confirm(ctx)
}

// Staged returns the dialog contents, if open.
func (d *Dashboard) Staged() (workflow.Staged, bool) {
	return d.workflow.Staged()
}

// WorkflowState returns the dialog state.
func (d *Dashboard) WorkflowState() workflow.State {
	return d.workflow.State()
}

// ExportAuditCSV writes the audit entries currently held in memory. It makes
// no backend call. The returned name is the suggested download filename.
func (d *Dashboard) ExportAuditCSV(w io.Writer) (string, error) {
	d.touch()
	entries := d.feed.Snapshot().Entries
	if err := WriteAuditCSV(w, entries); err != nil {
		return "", err
	}
	return ExportFilename(d.now()), nil
}

// Updates returns a channel signalled whenever either list changes, and a
// function to stop listening.
func (d *Dashboard) Updates() (<-chan struct{}, func()) {
	return d.updates.subscribe()
}

// LastActive returns the time of the last viewer interaction.
func (d *Dashboard) LastActive() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastActive
}

// Listeners returns the number of open Updates channels.
func (d *Dashboard) Listeners() int {
	return d.updates.len()
}

func (d *Dashboard) touch() {
	d.mu.Lock()
	d.lastActive = d.now()
	d.mu.Unlock()
}

// Close tears down both subscriptions and ends every Updates channel.
func (d *Dashboard) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.list.Close()
	d.feed.Close()
	d.updates.close()
	d.logger.Info("dashboard closed")
}
