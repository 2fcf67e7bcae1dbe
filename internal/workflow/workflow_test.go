package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"govportal/internal/backend"
	"govportal/internal/backend/memory"
	"govportal/internal/backend/mocks"
	"govportal/internal/domain"
	dErrors "govportal/pkg/domain-errors"
	"govportal/pkg/platform/sentinel"
	"govportal/pkg/session"
)

var (
	reviewer = session.Session{ActorID: "ward-officer-1", Role: session.RoleWard, District: "Ilala", Ward: "Upanga"}
	fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

type countingRefresher struct{ calls int }

func (r *countingRefresher) Refresh(context.Context) error {
	r.calls++
	return nil
}

type WorkflowSuite struct {
	suite.Suite
	store     *memory.Store
	refresher *countingRefresher
	ctx       context.Context
}

func TestWorkflowSuite(t *testing.T) {
	suite.Run(t, new(WorkflowSuite))
}

func (s *WorkflowSuite) SetupTest() {
	s.store = memory.New()
	s.refresher = &countingRefresher{}
	s.ctx = context.Background()
	_, err := s.store.Insert(s.ctx, domain.TableApplications, domain.Application{
		ID: "a1", OwnerID: "c1", ServiceType: "permit", Status: domain.StatusPending,
		District: "Ilala", Ward: "Upanga", CreatedAt: fixedNow.Add(-time.Hour),
		UpdatedAt: fixedNow.Add(-30 * time.Minute),
	}.Row())
	s.Require().NoError(err)
}

func (s *WorkflowSuite) newWorkflow(opts ...Option) *Workflow {
	base := []Option{
		WithRefresher(s.refresher),
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string { return "audit-1" }),
	}
	return New(s.store, reviewer, append(base, opts...)...)
}

func (s *WorkflowSuite) status(id string) string {
	return s.row(id).String(domain.ColStatus)
}

func (s *WorkflowSuite) row(id string) backend.Row {
	rows, err := s.store.Query(s.ctx, backend.Query{
		Table:   domain.TableApplications,
		Filters: []backend.Filter{backend.Eq(domain.ColID, id)},
	})
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	return rows[0]
}

func (s *WorkflowSuite) auditEntries() []backend.Row {
	rows, err := s.store.Query(s.ctx, backend.Query{Table: domain.TableAuditLogs})
	s.Require().NoError(err)
	return rows
}

func (s *WorkflowSuite) TestHappyPath() {
	w := s.newWorkflow()

	staged, err := w.Stage("a1", "approved", "")
	s.Require().NoError(err)
	s.Equal("Approved by Ward", staged.Note)
	s.Equal(StateConfirming, w.State())

	_, err = w.EditNote(`documents verified, "stamp" present`)
	s.Require().NoError(err)

	out, err := w.Confirm(s.ctx)
	s.Require().NoError(err)
	s.Equal(ResultCompleted, out.Result())
	s.Equal(StateIdle, w.State())
	_, open := w.Staged()
	s.False(open)
	s.Equal(1, s.refresher.calls)

	s.Equal("approved", s.status("a1"))
	audits := s.auditEntries()
	s.Require().Len(audits, 1)
	entry, err := domain.AuditEntryFromRow(audits[0])
	s.Require().NoError(err)
	s.Equal(domain.AuditEntry{
		ID: "audit-1", ApplicationID: "a1", ActorID: "ward-officer-1", ActorRole: "Ward",
		District: "Ilala", Ward: "Upanga", Action: "approved",
		Note: `documents verified, "stamp" present`, CreatedAt: fixedNow,
	}, entry)
	s.Equal(&entry, out.AuditEntry)
}

func (s *WorkflowSuite) TestAuditFailureLeavesOrphanedUpdate() {
	s.store.FailOn(backend.OpInsert, domain.TableAuditLogs, errors.New("audit store offline"))
	w := s.newWorkflow()

	_, err := w.Stage("a1", "declined", "")
	s.Require().NoError(err)
	out, err := w.Confirm(s.ctx)

	s.Require().NoError(err, "write failures are not raised")
	s.Equal(StateIdle, w.State())
	s.True(out.Updated)
	s.False(out.Audited)
	s.Error(out.AuditErr)
	s.Equal(ResultOrphanedUpdate, out.Result())
	s.Equal("declined", s.status("a1"))
	s.Empty(s.auditEntries())
	s.Equal(1, s.refresher.calls)
}

func (s *WorkflowSuite) TestAuditFailureCompensates() {
	s.store.FailOn(backend.OpInsert, domain.TableAuditLogs, errors.New("audit store offline"))
	w := s.newWorkflow(WithPolicy(CompensateUpdate))

	_, err := w.Stage("a1", "escalated", "")
	s.Require().NoError(err)
	out, err := w.Confirm(s.ctx)

	s.Require().NoError(err)
	s.Equal(ResultCompensated, out.Result())
	s.Equal("pending", s.status("a1"))
	s.Equal(fixedNow.Add(-30*time.Minute), s.row("a1")[domain.ColUpdatedAt], "updated_at is restored too")
	s.Empty(s.auditEntries())
}

func (s *WorkflowSuite) TestUpdateFailureSkipsAudit() {
	w := s.newWorkflow()

	_, err := w.Stage("missing", "approved", "")
	s.Require().NoError(err)
	out, err := w.Confirm(s.ctx)

	s.Require().NoError(err)
	s.Equal(ResultUpdateFailed, out.Result())
	s.True(backend.IsNotFound(out.UpdateErr))
	s.Empty(s.auditEntries())
	s.Equal(StateIdle, w.State())
	s.Equal(1, s.refresher.calls)
}

func (s *WorkflowSuite) TestCancelDiscardsStaged() {
	w := s.newWorkflow()
	_, err := w.Stage("a1", "approved", "custom note")
	s.Require().NoError(err)

	s.Require().NoError(w.Cancel())
	s.Equal(StateIdle, w.State())
	_, open := w.Staged()
	s.False(open)

	_, err = w.Confirm(s.ctx)
	s.ErrorIs(err, sentinel.ErrInvalidState)
	s.Equal("pending", s.status("a1"))
	s.Zero(s.refresher.calls)
}

func (s *WorkflowSuite) TestStateGuards() {
	w := s.newWorkflow()

	_, err := w.EditNote("x")
	s.ErrorIs(err, sentinel.ErrInvalidState)
	s.NoError(w.Cancel(), "cancel while idle is a no-op")

	_, err = w.Stage("a1", "approved", "")
	s.Require().NoError(err)
	_, err = w.Stage("a1", "declined", "")
	s.ErrorIs(err, sentinel.ErrInvalidState)
}

func (s *WorkflowSuite) TestStageValidation() {
	w := s.newWorkflow()
	_, err := w.Stage(" ", "approved", "")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	_, err = w.Stage("a1", "", "")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Equal(StateIdle, w.State())
}

func (s *WorkflowSuite) TestNoteLengthIsCapped() {
	w := s.newWorkflow()
	long := strings.Repeat("é", MaxNoteLength+1)

	_, err := w.Stage("a1", "approved", long)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Equal(StateIdle, w.State())

	_, err = w.Stage("a1", "approved", strings.Repeat("é", MaxNoteLength))
	s.Require().NoError(err, "the cap counts characters, not bytes")

	_, err = w.EditNote(long)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	staged, open := w.Staged()
	s.True(open)
	s.Equal(strings.Repeat("é", MaxNoteLength), staged.Note)
}

func TestUpdateFailureNeverInserts(t *testing.T) {
	ctrl := gomock.NewController(t)
	b := mocks.NewMockBackend(ctrl)

	b.EXPECT().
		Update(gomock.Any(), domain.TableApplications, "a1", gomock.Any()).
		Return(nil, &backend.Error{Op: backend.OpUpdate, Table: domain.TableApplications, Message: "timeout"})
	// No Insert expectation: gomock fails the test if step 2 runs.

	refreshed := 0
	w := New(b, reviewer, WithRefresher(RefresherFunc(func(context.Context) error {
		refreshed++
		return nil
	})))
	_, err := w.Stage("a1", "approved", "")
	require.NoError(t, err)

	out, err := w.Confirm(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Updated)
	assert.Equal(t, StateIdle, w.State())
	assert.Equal(t, 1, refreshed)
}

func TestConfirmWritesStatusThenAudit(t *testing.T) {
	ctrl := gomock.NewController(t)
	b := mocks.NewMockBackend(ctrl)

	gomock.InOrder(
		b.EXPECT().
			Update(gomock.Any(), domain.TableApplications, "a1", backend.Row{
				domain.ColStatus:    "approved",
				domain.ColUpdatedAt: fixedNow,
			}).
			Return(backend.Row{"id": "a1", "status": "approved"}, nil),
		b.EXPECT().
			Insert(gomock.Any(), domain.TableAuditLogs, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, row backend.Row) (backend.Row, error) {
				assert.Equal(t, "a1", row[domain.ColApplicationID])
				assert.Equal(t, "Ilala", row[domain.ColDistrict])
				assert.Equal(t, "Upanga", row[domain.ColWard])
				return row, nil
			}),
	)

	w := New(b, reviewer, WithClock(func() time.Time { return fixedNow }))
	_, err := w.Stage("a1", "approved", "")
	require.NoError(t, err)
	out, err := w.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResultCompleted, out.Result())
}

func TestCompensationWithoutPriorStatus(t *testing.T) {
	ctrl := gomock.NewController(t)
	b := mocks.NewMockBackend(ctrl)

	b.EXPECT().Query(gomock.Any(), gomock.Any()).Return(nil, errors.New("read failed"))
	b.EXPECT().Update(gomock.Any(), domain.TableApplications, "a1", gomock.Any()).Return(backend.Row{}, nil)
	b.EXPECT().Insert(gomock.Any(), domain.TableAuditLogs, gomock.Any()).Return(nil, errors.New("insert failed"))

	w := New(b, reviewer, WithPolicy(CompensateUpdate))
	_, err := w.Stage("a1", "approved", "")
	require.NoError(t, err)
	out, err := w.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResultCompensationFailed, out.Result())
	assert.ErrorIs(t, out.CompensateErr, sentinel.ErrInvalidState)
}

func TestDefaultNote(t *testing.T) {
	assert.Equal(t, "Approved by District", DefaultNote("approved", session.RoleDistrict))
	assert.Equal(t, "In-progress by Staff", DefaultNote("in-progress", session.RoleStaff))
	assert.Equal(t, " by Admin", DefaultNote("", session.RoleAdmin))
}
