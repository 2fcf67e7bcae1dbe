package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"govportal/internal/backend"
	"govportal/pkg/platform/sentinel"
)

type StoreSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
	base  time.Time
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.store = New()
	s.ctx = context.Background()
	s.base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
}

func (s *StoreSuite) TearDownTest() {
	_ = s.store.Close()
}

func (s *StoreSuite) seed(id, district string, offset time.Duration) {
	_, err := s.store.Insert(s.ctx, "applications", backend.Row{
		"id":         id,
		"district":   district,
		"created_at": s.base.Add(offset),
	})
	s.Require().NoError(err)
}

func (s *StoreSuite) TestQueryFiltersOrdersAndLimits() {
	s.seed("a1", "Ilala", 0)
	s.seed("a2", "Kinondoni", time.Minute)
	s.seed("a3", "Ilala", 2*time.Minute)
	s.seed("a4", "Ilala", 3*time.Minute)

	s.Run("equality filter with descending order", func() {
		rows, err := s.store.Query(s.ctx, backend.Query{
			Table:   "applications",
			Filters: []backend.Filter{backend.Eq("district", "Ilala")},
			OrderBy: "created_at",
		})
		s.Require().NoError(err)
		s.Equal([]string{"a4", "a3", "a1"}, ids(rows))
	})

	s.Run("limit caps the result", func() {
		rows, err := s.store.Query(s.ctx, backend.Query{Table: "applications", OrderBy: "created_at", Limit: 2})
		s.Require().NoError(err)
		s.Equal([]string{"a4", "a3"}, ids(rows))
	})

	s.Run("unknown table is empty", func() {
		rows, err := s.store.Query(s.ctx, backend.Query{Table: "nope"})
		s.Require().NoError(err)
		s.Empty(rows)
	})
}

func (s *StoreSuite) TestQueryReturnsCopies() {
	s.seed("a1", "Ilala", 0)
	rows, err := s.store.Query(s.ctx, backend.Query{Table: "applications"})
	s.Require().NoError(err)
	rows[0]["district"] = "mutated"

	again, err := s.store.Query(s.ctx, backend.Query{Table: "applications"})
	s.Require().NoError(err)
	s.Equal("Ilala", again[0]["district"])
}

func (s *StoreSuite) TestInsertAssignsID() {
	row, err := s.store.Insert(s.ctx, "audit_logs", backend.Row{"action": "approved"})
	s.Require().NoError(err)
	s.NotEmpty(row.String("id"))
}

func (s *StoreSuite) TestInsertDuplicateIsConflict() {
	s.seed("a1", "Ilala", 0)
	_, err := s.store.Insert(s.ctx, "applications", backend.Row{"id": "a1"})
	s.Require().Error(err)
	s.ErrorIs(err, sentinel.ErrConflict)
	var be *backend.Error
	s.Require().ErrorAs(err, &be)
	s.Equal(backend.OpInsert, be.Op)
}

func (s *StoreSuite) TestUpdateMergesPatch() {
	s.seed("a1", "Ilala", 0)
	row, err := s.store.Update(s.ctx, "applications", "a1", backend.Row{"status": "approved", "id": "ignored"})
	s.Require().NoError(err)
	s.Equal("a1", row.String("id"))
	s.Equal("approved", row.String("status"))
	s.Equal("Ilala", row.String("district"))
}

func (s *StoreSuite) TestUpdateMissingRow() {
	_, err := s.store.Update(s.ctx, "applications", "missing", backend.Row{"status": "approved"})
	s.Require().Error(err)
	s.True(backend.IsNotFound(err))
}

func (s *StoreSuite) TestFailureInjection() {
	boom := errors.New("boom")
	s.store.FailOn(backend.OpInsert, "audit_logs", boom)

	_, err := s.store.Insert(s.ctx, "audit_logs", backend.Row{})
	s.Require().ErrorIs(err, boom)
	var be *backend.Error
	s.Require().ErrorAs(err, &be)
	s.Equal("audit_logs", be.Table)

	_, err = s.store.Insert(s.ctx, "applications", backend.Row{})
	s.NoError(err, "other tables are unaffected")

	s.store.ClearFailures()
	_, err = s.store.Insert(s.ctx, "audit_logs", backend.Row{})
	s.NoError(err)
}

func (s *StoreSuite) TestQueryCount() {
	_, _ = s.store.Query(s.ctx, backend.Query{Table: "applications"})
	_, _ = s.store.Query(s.ctx, backend.Query{Table: "applications"})
	s.Equal(2, s.store.QueryCount("applications"))
	s.Equal(0, s.store.QueryCount("audit_logs"))
}

func (s *StoreSuite) TestSubscribeReceivesChanges() {
	sub, err := s.store.Subscribe(s.ctx, "applications")
	s.Require().NoError(err)
	defer sub.Close()

	s.seed("a1", "Ilala", 0)
	_, err = s.store.Update(s.ctx, "applications", "a1", backend.Row{"status": "approved"})
	s.Require().NoError(err)
	s.Require().NoError(s.store.Delete(s.ctx, "applications", "a1"))

	ins := next(s.T(), sub)
	s.IsType(backend.Inserted{}, ins)

	upd, ok := next(s.T(), sub).(backend.Updated)
	s.Require().True(ok)
	s.Nil(upd.Old["status"])
	s.Equal("approved", upd.New["status"])

	del, ok := next(s.T(), sub).(backend.Deleted)
	s.Require().True(ok)
	s.Equal("a1", del.Old.String("id"))
}

func (s *StoreSuite) TestInterruptEndsSubscriptions() {
	sub, err := s.store.Subscribe(s.ctx, "applications")
	s.Require().NoError(err)
	s.Equal(1, s.store.Subscribers())

	s.store.Interrupt()
	_, open := <-sub.Events()
	s.False(open)
	s.ErrorIs(sub.Err(), backend.ErrFeedInterrupted)
	s.Equal(0, s.store.Subscribers())
}

func TestCompare(t *testing.T) {
	now := time.Now()
	assert.Positive(t, compare(now.Add(time.Second), now))
	assert.Negative(t, compare(1.5, 2.5))
	assert.Zero(t, compare("b", "b"))
	assert.Positive(t, compare("x", nil))
}

func next(t *testing.T, sub backend.Subscription) backend.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func ids(rows []backend.Row) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.String("id"))
	}
	return out
}
