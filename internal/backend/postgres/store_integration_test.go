//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"govportal/internal/backend"
	"govportal/internal/backend/postgres"
	"govportal/pkg/platform/sentinel"
	"govportal/pkg/platform/tx"
	"govportal/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	db    *sql.DB
	feed  *postgres.Feed
	store *postgres.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	pg := containers.GetManager().GetPostgres(s.T())
	ctx := context.Background()

	db, err := postgres.Open(ctx, pg.DSN)
	s.Require().NoError(err)
	s.Require().NoError(postgres.Migrate(ctx, db, nil))
	s.Require().NoError(postgres.Migrate(ctx, db, nil), "migrations are idempotent")

	feed, err := postgres.NewFeed(pg.DSN)
	s.Require().NoError(err)

	s.db = db
	s.feed = feed
	s.store = postgres.New(db, postgres.WithFeed(feed))
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.feed != nil {
		_ = s.feed.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *PostgresStoreSuite) insertApplication(district string, createdAt time.Time) backend.Row {
	row, err := s.store.Insert(context.Background(), "applications", backend.Row{
		"owner_id":     "citizen-1",
		"service_type": "birth_certificate",
		"district":     district,
		"created_at":   createdAt,
	})
	s.Require().NoError(err)
	return row
}

func (s *PostgresStoreSuite) TestQueryFilterOrderLimit() {
	district := "d-" + uuid.NewString()
	base := time.Now().UTC().Truncate(time.Second)
	first := s.insertApplication(district, base)
	second := s.insertApplication(district, base.Add(time.Minute))
	s.insertApplication("elsewhere", base)

	rows, err := s.store.Query(context.Background(), backend.Query{
		Table:   "applications",
		Filters: []backend.Filter{backend.Eq("district", district)},
		OrderBy: "created_at",
	})
	s.Require().NoError(err)
	s.Require().Len(rows, 2)
	s.Equal(second.String("id"), rows[0].String("id"))
	s.Equal(first.String("id"), rows[1].String("id"))
	s.Equal("pending", rows[0].String("status"), "column defaults apply")

	limited, err := s.store.Query(context.Background(), backend.Query{
		Table:   "applications",
		Filters: []backend.Filter{backend.Eq("district", district)},
		OrderBy: "created_at",
		Limit:   1,
	})
	s.Require().NoError(err)
	s.Len(limited, 1)
}

func (s *PostgresStoreSuite) TestUpdate() {
	row := s.insertApplication("d-"+uuid.NewString(), time.Now())

	updated, err := s.store.Update(context.Background(), "applications", row.String("id"), backend.Row{"status": "approved"})
	s.Require().NoError(err)
	s.Equal("approved", updated.String("status"))

	_, err = s.store.Update(context.Background(), "applications", uuid.NewString(), backend.Row{"status": "approved"})
	s.True(backend.IsNotFound(err))
}

func (s *PostgresStoreSuite) TestAuditLogIsAppendOnly() {
	row, err := s.store.Insert(context.Background(), "audit_logs", backend.Row{
		"application_id": uuid.NewString(),
		"actor_id":       "staff-1",
		"actor_role":     "Staff",
		"action":         "approved",
	})
	s.Require().NoError(err)

	_, err = s.store.Update(context.Background(), "audit_logs", row.String("id"), backend.Row{"note": "rewritten"})
	s.Require().Error(err)
	s.ErrorIs(err, sentinel.ErrInvalidState)
}

func (s *PostgresStoreSuite) TestWritesHonorContextTransaction() {
	district := "d-" + uuid.NewString()
	sqlTx, err := s.db.BeginTx(context.Background(), nil)
	s.Require().NoError(err)
	ctx := tx.WithTx(context.Background(), sqlTx)

	_, err = s.store.Insert(ctx, "applications", backend.Row{
		"owner_id": "citizen-1", "service_type": "permit", "district": district,
	})
	s.Require().NoError(err)
	s.Require().NoError(sqlTx.Rollback())

	rows, err := s.store.Query(context.Background(), backend.Query{
		Table:   "applications",
		Filters: []backend.Filter{backend.Eq("district", district)},
	})
	s.Require().NoError(err)
	s.Empty(rows)
}

func (s *PostgresStoreSuite) TestSubscribeReceivesTriggerNotifications() {
	sub, err := s.store.Subscribe(context.Background(), "applications")
	s.Require().NoError(err)
	defer sub.Close()

	row := s.insertApplication("d-"+uuid.NewString(), time.Now())

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			s.Require().True(ok, "subscription ended: %v", sub.Err())
			ins, isInsert := ev.(backend.Inserted)
			if isInsert && ins.New.String("id") == row.String("id") {
				return
			}
		case <-deadline:
			s.FailNow("no notification for inserted row")
		}
	}
}
