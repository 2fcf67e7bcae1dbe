//go:build integration

package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"govportal/internal/backend/memory"
	"govportal/internal/domain"
	"govportal/pkg/testutil/containers"
)

type MirrorIntegrationSuite struct {
	suite.Suite
	broker string
}

func TestMirrorIntegrationSuite(t *testing.T) {
	suite.Run(t, new(MirrorIntegrationSuite))
}

func (s *MirrorIntegrationSuite) SetupSuite() {
	s.broker = containers.GetManager().GetRedpanda(s.T()).Broker
}

func (s *MirrorIntegrationSuite) TestInsertedEntryReachesTopic() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	const topic = "govportal.audit.test"

	producer, err := kgo.NewClient(kgo.SeedBrokers(s.broker))
	s.Require().NoError(err)
	defer producer.Close()

	admin := kadm.NewClient(producer)
	s.Require().NoError(EnsureTopic(ctx, admin, topic, 1, 1))
	s.Require().NoError(EnsureTopic(ctx, admin, topic, 1, 1), "existing topic is fine")

	store := memory.New()
	defer store.Close()
	w := NewWorker(store, NewPublisher(producer, topic))
	w.Start(ctx)
	defer w.Stop()

	_, err = store.Insert(ctx, domain.TableAuditLogs, entry.Row())
	s.Require().NoError(err)

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	for {
		fetches := consumer.PollFetches(ctx)
		s.Require().NoError(ctx.Err(), "no record before deadline")
		var found *kgo.Record
		fetches.EachRecord(func(r *kgo.Record) {
			if found == nil {
				found = r
			}
		})
		if found == nil {
			continue
		}
		s.Equal("a1", string(found.Key))
		var got Event
		s.Require().NoError(json.Unmarshal(found.Value, &got))
		s.Equal("e1", got.ID)
		s.Equal("approved", got.Action)
		return
	}
}
