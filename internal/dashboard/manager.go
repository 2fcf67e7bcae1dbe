package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"govportal/internal/backend"
	"govportal/internal/platform/metrics"
	"govportal/pkg/platform/sentinel"
	"govportal/pkg/session"
)

// Manager owns one dashboard per actor and closes dashboards nobody has
// looked at for IdleTimeout.
type Manager struct {
	backend     backend.Backend
	opts        []Option
	logger      *slog.Logger
	metrics     *metrics.Metrics
	idleTimeout time.Duration
	schedule    string
	now         func() time.Time

	mu         sync.Mutex
	dashboards map[string]*Dashboard
	cron       *cron.Cron
	closed     bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithIdleTimeout sets how long an unused dashboard survives.
func WithIdleTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.idleTimeout = d
		}
	}
}

// WithSweepSchedule sets the cron expression of the idle sweep.
func WithSweepSchedule(schedule string) ManagerOption {
	return func(m *Manager) {
		if schedule != "" {
			m.schedule = schedule
		}
	}
}

// WithDashboardOptions sets the options every dashboard is built with.
func WithDashboardOptions(opts ...Option) ManagerOption {
	return func(m *Manager) { m.opts = append(m.opts, opts...) }
}

// WithManagerLogger sets the logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithManagerMetrics sets the metrics sink.
func WithManagerMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// WithManagerClock overrides time.Now for idle checks.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a manager. Call Start to run the idle sweep.
func NewManager(b backend.Backend, opts ...ManagerOption) *Manager {
	m := &Manager{
		backend:     b,
		logger:      slog.Default(),
		idleTimeout: 15 * time.Minute,
		schedule:    "@every 1m",
		now:         time.Now,
		dashboards:  make(map[string]*Dashboard),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Start schedules the idle sweep.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return sentinel.ErrClosed
	}
	if m.cron != nil {
		return nil
	}
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(m.schedule, func() { m.SweepIdle() }); err != nil {
		return fmt.Errorf("schedule dashboard sweep %q: %w", m.schedule, err)
	}
	c.Start()
	m.cron = c
	return nil
}

// Get returns the mounted dashboard for sess.ActorID, creating and mounting
// one if needed. A dashboard whose session no longer matches (role or
// location changed) is replaced.
func (m *Manager) Get(ctx context.Context, sess session.Session) (*Dashboard, error) {
	if sess.ActorID == "" {
		return nil, fmt.Errorf("dashboard without actor: %w", sentinel.ErrInvalidState)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, sentinel.ErrClosed
	}
	old, ok := m.dashboards[sess.ActorID]
	if ok && old.Session() == sess {
		m.mu.Unlock()
		return old, nil
	}
	d := New(m.backend, sess, m.opts...)
	m.dashboards[sess.ActorID] = d
	m.metrics.SetActiveDashboards(len(m.dashboards))
	m.mu.Unlock()

	// The replaced dashboard releases its subscriptions before the new one
	// opens its own.
	if ok {
		old.Close()
	}
	if err := d.Mount(ctx); err != nil {
		m.remove(sess.ActorID, d)
		return nil, err
	}
	return d, nil
}

// Lookup returns the dashboard for actorID without creating one.
func (m *Manager) Lookup(actorID string) (*Dashboard, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dashboards[actorID]
	return d, ok
}

// Len returns the number of live dashboards.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dashboards)
}

// SweepIdle closes dashboards idle longer than the timeout that have no
// open update listeners. It returns how many were closed.
func (m *Manager) SweepIdle() int {
	cutoff := m.now().Add(-m.idleTimeout)

	m.mu.Lock()
	var idle []*Dashboard
	for actor, d := range m.dashboards {
		if d.Listeners() == 0 && d.LastActive().Before(cutoff) {
			idle = append(idle, d)
			delete(m.dashboards, actor)
		}
	}
	m.metrics.SetActiveDashboards(len(m.dashboards))
	m.mu.Unlock()

	for _, d := range idle {
		d.Close()
	}
	if len(idle) > 0 {
		m.logger.Info("closed idle dashboards", "count", len(idle))
	}
	return len(idle)
}

func (m *Manager) remove(actorID string, d *Dashboard) {
	m.mu.Lock()
	if m.dashboards[actorID] == d {
		delete(m.dashboards, actorID)
	}
	m.metrics.SetActiveDashboards(len(m.dashboards))
	m.mu.Unlock()
	d.Close()
}

// Close stops the sweep and closes every dashboard.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	c := m.cron
	all := m.dashboards
	m.dashboards = make(map[string]*Dashboard)
	m.metrics.SetActiveDashboards(0)
	m.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	for _, d := range all {
		d.Close()
	}
}
