// Package workflow runs the reviewer action dialog: stage an action on an
// application, optionally edit the note, then confirm. Confirmation performs
// two independent writes (status update, then audit insert) with no
// transaction between them; the partial-failure policy is explicit.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"govportal/internal/backend"
	"govportal/internal/domain"
	"govportal/internal/platform/metrics"
	dErrors "govportal/pkg/domain-errors"
	"govportal/pkg/platform/sentinel"
	"govportal/pkg/session"
)

// State is the dialog state.
type State int

const (
	StateIdle State = iota
	StateConfirming
	StateSubmitting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfirming:
		return "confirming"
	case StateSubmitting:
		return "submitting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Policy decides what happens when the status update succeeds but the audit
// insert fails.
type Policy int

const (
	// AcceptOrphanedUpdate keeps the new status without an audit entry.
	AcceptOrphanedUpdate Policy = iota
	// CompensateUpdate restores the status and updated_at read before the
	// update.
	CompensateUpdate
)

func (p Policy) String() string {
	if p == CompensateUpdate {
		return "compensate"
	}
	return "accept_orphaned_update"
}

// Refresher re-reads the application list after a confirmation.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context) error

func (f RefresherFunc) Refresh(ctx context.Context) error { return f(ctx) }

// Staged is the pending action shown in the dialog.
type Staged struct {
	ApplicationID string `json:"application_id"`
	Action        string `json:"action"`
	Note          string `json:"note"`
}

// Outcome reports what each step of a confirmation did.
type Outcome struct {
	ApplicationID string
	Action        string
	Updated       bool
	UpdateErr     error
	Audited       bool
	AuditErr      error
	AuditEntry    *domain.AuditEntry
	Compensated   bool
	CompensateErr error
	RefreshErr    error
}

// Outcome results, also used as metric labels.
const (
	ResultCompleted          = "completed"
	ResultUpdateFailed       = "update_failed"
	ResultOrphanedUpdate     = "orphaned_update"
	ResultCompensated        = "compensated"
	ResultCompensationFailed = "compensation_failed"
)

// Result summarizes the outcome.
func (o Outcome) Result() string {
	switch {
	case !o.Updated:
		return ResultUpdateFailed
	case o.Audited:
		return ResultCompleted
	case o.Compensated:
		return ResultCompensated
	case o.CompensateErr != nil:
		return ResultCompensationFailed
	default:
		return ResultOrphanedUpdate
	}
}

// Workflow is one reviewer's action dialog. Methods are safe for concurrent
// use; a second Confirm while submitting fails with sentinel.ErrInvalidState.
type Workflow struct {
	backend   backend.Backend
	session   session.Session
	refresher Refresher
	policy    Policy
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time
	newID     func() string

	mu     sync.Mutex
	state  State
	staged Staged
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithRefresher sets the list re-read after every confirmation.
func WithRefresher(r Refresher) Option {
	return func(w *Workflow) { w.refresher = r }
}

// WithPolicy sets the partial-failure policy.
func WithPolicy(p Policy) Option {
	return func(w *Workflow) { w.policy = p }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Workflow) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Workflow) { w.metrics = m }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(w *Workflow) {
		if t != nil {
			w.tracer = t
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) {
		if now != nil {
			w.now = now
		}
	}
}

// WithIDGenerator overrides the audit entry id source.
func WithIDGenerator(fn func() string) Option {
	return func(w *Workflow) {
		if fn != nil {
			w.newID = fn
		}
	}
}

// New creates an idle workflow acting as sess.
func New(b backend.Backend, sess session.Session, opts ...Option) *Workflow {
	w := &Workflow{
		backend: b,
		session: sess,
		logger:  slog.Default(),
		tracer:  otel.Tracer("govportal/internal/workflow"),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// MaxNoteLength caps a note in runes. The audit row travels through
// pg_notify, whose payload limit is 8000 bytes.
const MaxNoteLength = 1000

// ValidateNote rejects notes longer than MaxNoteLength.
func ValidateNote(note string) error {
	if utf8.RuneCountInString(note) > MaxNoteLength {
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("note must be at most %d characters", MaxNoteLength))
	}
	return nil
}

// DefaultNote is the pre-filled justification, e.g. "Approved by Ward".
func DefaultNote(action string, role session.Role) string {
	return fmt.Sprintf("%s by %s", capitalize(action), role)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// State returns the current state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Staged returns the staged values; ok is false outside Confirming.
func (w *Workflow) Staged() (Staged, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.staged, w.state == StateConfirming
}

// Stage opens the dialog for an action. An empty note is pre-filled.
func (w *Workflow) Stage(applicationID, action, note string) (Staged, error) {
	applicationID = strings.TrimSpace(applicationID)
	action = strings.TrimSpace(action)
	if applicationID == "" {
		return Staged{}, dErrors.New(dErrors.CodeValidation, "application_id is required")
	}
	if action == "" {
		return Staged{}, dErrors.New(dErrors.CodeValidation, "action is required")
	}
	if err := ValidateNote(note); err != nil {
		return Staged{}, err
	}
	if strings.TrimSpace(note) == "" {
		note = DefaultNote(action, w.session.Role)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateIdle {
		return Staged{}, fmt.Errorf("stage in %s: %w", w.state, sentinel.ErrInvalidState)
	}
	w.staged = Staged{ApplicationID: applicationID, Action: action, Note: note}
	w.state = StateConfirming
	return w.staged, nil
}

// EditNote replaces the staged note.
func (w *Workflow) EditNote(note string) (Staged, error) {
	if err := ValidateNote(note); err != nil {
		return Staged{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateConfirming {
		return Staged{}, fmt.Errorf("edit note in %s: %w", w.state, sentinel.ErrInvalidState)
	}
	w.staged.Note = note
	return w.staged, nil
}

// Cancel closes the dialog and discards staged values. Cancelling while
// idle is a no-op.
func (w *Workflow) Cancel() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case StateSubmitting:
		return fmt.Errorf("cancel in %s: %w", w.state, sentinel.ErrInvalidState)
	case StateConfirming:
		w.staged = Staged{}
		w.state = StateIdle
	}
	return nil
}

// Confirm submits the staged action. Write failures are logged and reported
// in the Outcome, not returned: the dialog always closes. The only error is
// sentinel.ErrInvalidState when nothing is staged.
//
// Step 1 updates the application's status and updated_at. If it fails, step
// 2 is not attempted. Step 2 inserts the audit entry; if it fails the policy
// decides whether the status change stands. Afterwards the refresher runs.
func (w *Workflow) Confirm(ctx context.Context) (Outcome, error) {
	w.mu.Lock()
	if w.state != StateConfirming {
		state := w.state
		w.mu.Unlock()
		return Outcome{}, fmt.Errorf("confirm in %s: %w", state, sentinel.ErrInvalidState)
	}
	staged := w.staged
	w.state = StateSubmitting
	w.mu.Unlock()

	ctx, span := w.tracer.Start(ctx, "workflow.confirm", trace.WithAttributes(
		attribute.String("application.id", staged.ApplicationID),
		attribute.String("workflow.action", staged.Action),
		attribute.String("workflow.policy", w.policy.String()),
		attribute.String("actor.role", w.session.Role.String()),
	))
	defer span.End()

	out := w.submit(ctx, staged)

	w.mu.Lock()
	w.staged = Staged{}
	w.state = StateIdle
	w.mu.Unlock()

	if w.refresher != nil {
		if err := w.refresher.Refresh(ctx); err != nil {
			out.RefreshErr = err
			w.logger.WarnContext(ctx, "refresh after confirm failed", "error", err)
		}
	}

	result := out.Result()
	w.metrics.IncrementWorkflowOutcome(result)
	span.SetAttributes(attribute.String("workflow.result", result))
	if result != ResultCompleted {
		span.SetStatus(codes.Error, result)
	}
	w.logger.InfoContext(ctx, "workflow confirmed",
		"application_id", staged.ApplicationID,
		"action", staged.Action,
		"actor_id", w.session.ActorID,
		"result", result,
	)
	return out, nil
}

func (w *Workflow) submit(ctx context.Context, staged Staged) Outcome {
	out := Outcome{ApplicationID: staged.ApplicationID, Action: staged.Action}

	var prior backend.Row
	if w.policy == CompensateUpdate {
		prior = w.priorState(ctx, staged.ApplicationID)
	}

	now := w.now().UTC()
	_, err := w.backend.Update(ctx, domain.TableApplications, staged.ApplicationID, backend.Row{
		domain.ColStatus:    staged.Action,
		domain.ColUpdatedAt: now,
	})
	if err != nil {
		out.UpdateErr = err
		w.recordError(ctx, "update application status failed", err, staged)
		return out
	}
	out.Updated = true

	entry := domain.AuditEntry{
		ID:            w.newID(),
		ApplicationID: staged.ApplicationID,
		ActorID:       w.session.ActorID,
		ActorRole:     w.session.Role.String(),
		District:      w.session.District,
		Ward:          w.session.Ward,
		Action:        staged.Action,
		Note:          staged.Note,
		CreatedAt:     now,
	}
	if _, err := w.backend.Insert(ctx, domain.TableAuditLogs, entry.Row()); err != nil {
		out.AuditErr = err
		w.recordError(ctx, "insert audit entry failed", err, staged)
		if w.policy == CompensateUpdate {
			w.compensate(ctx, &out, staged, prior)
		}
		return out
	}
	out.Audited = true
	out.AuditEntry = &entry
	return out
}

// priorState reads the status and updated_at that compensation restores.
// It returns nil when the row cannot be read.
func (w *Workflow) priorState(ctx context.Context, applicationID string) backend.Row {
	rows, err := w.backend.Query(ctx, backend.Query{
		Table:   domain.TableApplications,
		Filters: []backend.Filter{backend.Eq(domain.ColID, applicationID)},
		Limit:   1,
	})
	if err != nil || len(rows) == 0 {
		w.logger.WarnContext(ctx, "could not read prior status; compensation disabled for this action",
			"application_id", applicationID,
			"error", err,
		)
		return nil
	}
	prior := backend.Row{domain.ColStatus: rows[0].String(domain.ColStatus)}
	if v, ok := rows[0][domain.ColUpdatedAt]; ok && v != nil {
		prior[domain.ColUpdatedAt] = v
	}
	return prior
}

func (w *Workflow) compensate(ctx context.Context, out *Outcome, staged Staged, prior backend.Row) {
	if prior == nil {
		out.CompensateErr = fmt.Errorf("prior status unknown: %w", sentinel.ErrInvalidState)
		return
	}
	if _, err := w.backend.Update(ctx, domain.TableApplications, staged.ApplicationID, prior); err != nil {
		out.CompensateErr = err
		w.recordError(ctx, "restore application status failed", err, staged)
		return
	}
	out.Compensated = true
}

func (w *Workflow) recordError(ctx context.Context, msg string, err error, staged Staged) {
	trace.SpanFromContext(ctx).RecordError(err)
	w.logger.ErrorContext(ctx, msg,
		"application_id", staged.ApplicationID,
		"action", staged.Action,
		"actor_id", w.session.ActorID,
		"error", err,
	)
}
