package auditfeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"govportal/internal/backend"
	"govportal/internal/backend/memory"
	"govportal/internal/domain"
	"govportal/pkg/platform/sentinel"
)

type FeedSuite struct {
	suite.Suite
	store *memory.Store
	ctx   context.Context
	base  time.Time
	n     int
}

func TestFeedSuite(t *testing.T) {
	suite.Run(t, new(FeedSuite))
}

func (s *FeedSuite) SetupTest() {
	s.store = memory.New()
	s.ctx = context.Background()
	s.base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s.n = 0
}

func (s *FeedSuite) TearDownTest() {
	_ = s.store.Close()
}

func (s *FeedSuite) insert(role, ward string) string {
	s.n++
	id := fmt.Sprintf("e%03d", s.n)
	_, err := s.store.Insert(s.ctx, domain.TableAuditLogs, domain.AuditEntry{
		ID: id, ApplicationID: "a1", ActorID: "u-" + role, ActorRole: role,
		Ward: ward, Action: "approved", Note: "Approved by " + role,
		CreatedAt: s.base.Add(time.Duration(s.n) * time.Second),
	}.Row())
	s.Require().NoError(err)
	return id
}

func (s *FeedSuite) start(filter Filter, opts ...Option) *Feed {
	f := New(s.store, opts...)
	s.Require().NoError(f.Start(s.ctx, filter))
	s.T().Cleanup(f.Close)
	return f
}

func (s *FeedSuite) TestInitialFetchNewestFirstWithFilters() {
	s.insert("Ward", "Upanga")
	s.insert("Admin", "")
	s.insert("Ward", "Kariakoo")
	s.insert("Ward", "Upanga")

	all := s.start(Filter{})
	s.Equal([]string{"e004", "e003", "e002", "e001"}, ids(all.Snapshot().Entries))

	byRole := s.start(Filter{Role: "Ward"})
	s.Equal([]string{"e004", "e003", "e001"}, ids(byRole.Snapshot().Entries))

	byRoleAndWard := s.start(Filter{Role: "Ward", Ward: "Upanga"})
	s.Equal([]string{"e004", "e001"}, ids(byRoleAndWard.Snapshot().Entries))
}

func (s *FeedSuite) TestInsertIsFilteredThenPrepended() {
	s.insert("Ward", "Upanga")
	f := s.start(Filter{Role: "Ward"})
	before := s.store.QueryCount(domain.TableAuditLogs)

	s.insert("Admin", "")
	wardID := s.insert("Ward", "Upanga")

	s.Require().Eventually(func() bool { return len(f.Snapshot().Entries) == 2 }, time.Second, 5*time.Millisecond)
	entries := f.Snapshot().Entries
	s.Equal(wardID, entries[0].ID)
	for _, e := range entries {
		s.Equal("Ward", e.ActorRole)
	}
	s.Equal(before, s.store.QueryCount(domain.TableAuditLogs), "inserts merge without re-querying")
}

func (s *FeedSuite) TestLimitIsNotReappliedAfterPrepends() {
	for i := 0; i < 100; i++ {
		s.insert("Staff", "Upanga")
	}
	f := s.start(Filter{}, WithLimit(100))
	s.Require().Len(f.Snapshot().Entries, 100)

	for i := 0; i < 5; i++ {
		s.insert("Staff", "Upanga")
	}
	s.Eventually(func() bool { return len(f.Snapshot().Entries) == 105 }, time.Second, 5*time.Millisecond)
}

func (s *FeedSuite) TestDefaultLimit() {
	for i := 0; i < DefaultLimit+3; i++ {
		s.insert("Staff", "")
	}
	f := s.start(Filter{})
	s.Len(f.Snapshot().Entries, DefaultLimit)
}

func (s *FeedSuite) TestUpdatesAndDeletesAreIgnored() {
	id := s.insert("Ward", "Upanga")
	f := s.start(Filter{})

	_, err := s.store.Update(s.ctx, domain.TableAuditLogs, id, backend.Row{"note": "rewritten"})
	s.Require().NoError(err)
	s.Require().NoError(s.store.Delete(s.ctx, domain.TableAuditLogs, id))

	s.Never(func() bool {
		snap := f.Snapshot()
		return len(snap.Entries) != 1 || snap.Entries[0].Note != "Approved by Ward"
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func (s *FeedSuite) TestFetchFailureKeepsDataAndSetsErr() {
	s.insert("Ward", "Upanga")
	f := s.start(Filter{})
	s.Require().Len(f.Snapshot().Entries, 1)

	s.store.FailOn(backend.OpQuery, domain.TableAuditLogs, errors.New("offline"))
	s.Error(f.Refresh(s.ctx))

	snap := f.Snapshot()
	s.False(snap.Loading)
	s.Error(snap.Err)
	s.Len(snap.Entries, 1)
}

func (s *FeedSuite) TestInitialFailureResolvesLoading() {
	s.store.FailOn(backend.OpQuery, domain.TableAuditLogs, errors.New("offline"))
	f := s.start(Filter{})

	snap := f.Snapshot()
	s.False(snap.Loading)
	s.Error(snap.Err)
	s.Empty(snap.Entries)
}

func (s *FeedSuite) TestSetFilterRekeys() {
	s.insert("Ward", "Upanga")
	s.insert("District", "")
	f := s.start(Filter{Role: "Ward"})
	s.Equal(1, s.store.Subscribers())

	s.Require().NoError(f.SetFilter(s.ctx, Filter{Role: "District"}))
	s.Equal([]string{"e002"}, ids(f.Snapshot().Entries))
	s.Equal(1, s.store.Subscribers())

	s.insert("Ward", "Upanga")
	districtID := s.insert("District", "")
	s.Eventually(func() bool {
		e := f.Snapshot().Entries
		return len(e) == 2 && e[0].ID == districtID
	}, time.Second, 5*time.Millisecond)
}

func (s *FeedSuite) TestSetterAndOnChange() {
	s.insert("Ward", "Upanga")
	var lens []int
	changes := 0
	s.start(Filter{},
		WithSetter(func(e []domain.AuditEntry) { lens = append(lens, len(e)) }),
		WithOnChange(func() { changes++ }),
	)
	s.Equal([]int{1}, lens)
	s.Equal(1, changes)
}

func (s *FeedSuite) TestClose() {
	f := New(s.store)
	s.Require().NoError(f.Start(s.ctx, Filter{}))
	f.Close()
	s.Equal(0, s.store.Subscribers())
	s.ErrorIs(f.Refresh(s.ctx), sentinel.ErrClosed)
	s.ErrorIs(f.SetFilter(s.ctx, Filter{Role: "Ward"}), sentinel.ErrClosed)
}

// stallingStore reads the rows of the first query, then blocks until
// released before returning them.
type stallingStore struct {
	*memory.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *stallingStore) Query(ctx context.Context, q backend.Query) ([]backend.Row, error) {
	rows, err := g.Store.Query(ctx, q)
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return rows, err
}

func (s *FeedSuite) TestInsertDuringInitialFetchIsKept() {
	s.insert("Ward", "Upanga")
	gated := &stallingStore{Store: s.store, entered: make(chan struct{}), release: make(chan struct{})}
	f := New(gated)
	defer f.Close()

	done := make(chan error, 1)
	go func() { done <- f.Start(s.ctx, Filter{}) }()
	<-gated.entered

	late := s.insert("Ward", "Upanga")
	s.Require().Eventually(func() bool { return len(f.Snapshot().Entries) == 1 }, time.Second, 5*time.Millisecond)

	close(gated.release)
	s.Require().NoError(<-done)
	s.Equal([]string{late, "e001"}, ids(f.Snapshot().Entries))

	again := s.insert("Ward", "Upanga")
	s.Eventually(func() bool {
		e := f.Snapshot().Entries
		return len(e) == 3 && e[0].ID == again
	}, time.Second, 5*time.Millisecond)
}

func (s *FeedSuite) TestRefreshDoesNotDuplicateBufferedInserts() {
	s.insert("Ward", "Upanga")
	f := s.start(Filter{})
	s.insert("Ward", "Upanga")
	s.Require().Eventually(func() bool { return len(f.Snapshot().Entries) == 2 }, time.Second, 5*time.Millisecond)

	s.Require().NoError(f.Refresh(s.ctx))
	s.Equal([]string{"e002", "e001"}, ids(f.Snapshot().Entries))
}

func TestFilterMatches(t *testing.T) {
	e := domain.AuditEntry{ActorRole: "Ward", District: "Ilala", Ward: "Upanga"}
	assert.True(t, Filter{}.Matches(e))
	assert.True(t, Filter{Role: "Ward", Ward: "Upanga"}.Matches(e))
	assert.False(t, Filter{Role: "Admin"}.Matches(e))
	assert.False(t, Filter{District: "Kinondoni"}.Matches(e))
}

func ids(entries []domain.AuditEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}
