package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"govportal/internal/domain"
	"govportal/internal/platform/metrics"
	"govportal/pkg/platform/circuit"
	"govportal/pkg/platform/sentinel"
)

// Mirror results, also used as metric labels.
const (
	ResultMirrored = "mirrored"
	ResultFailed   = "failed"
	ResultSkipped  = "skipped"
)

// ErrCircuitOpen is returned by Emit while the broker is considered down.
var ErrCircuitOpen = fmt.Errorf("audit mirror circuit open: %w", sentinel.ErrUnavailable)

// Producer is the part of *kgo.Client the publisher needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Publisher writes audit events to a Kafka topic. It is append-only: one
// record per audit entry, keyed by application id so that an application's
// trail stays ordered within a partition.
type Publisher struct {
	producer Producer
	topic    string
	breaker  *circuit.Breaker
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

func WithBreaker(b *circuit.Breaker) PublisherOption {
	return func(p *Publisher) {
		if b != nil {
			p.breaker = b
		}
	}
}

func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

func NewPublisher(producer Producer, topic string, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		producer: producer,
		topic:    topic,
		breaker:  circuit.New("audit-mirror"),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit produces one audit entry. While the breaker is open entries are
// skipped and ErrCircuitOpen is returned; the audit table stays the source
// of truth.
func (p *Publisher) Emit(ctx context.Context, entry domain.AuditEntry) error {
	if !p.breaker.Allow() {
		p.metrics.IncrementMirrored(ResultSkipped)
		return ErrCircuitOpen
	}

	value, err := json.Marshal(EventFromEntry(entry))
	if err != nil {
		return fmt.Errorf("encode audit event %s: %w", entry.ID, err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(entry.ApplicationID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(entry.Action)},
			{Key: "actor_role", Value: []byte(entry.ActorRole)},
		},
		Timestamp: entry.CreatedAt,
	}

	if err := p.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		p.metrics.IncrementMirrored(ResultFailed)
		if _, change := p.breaker.RecordFailure(); change.Opened {
			p.logger.WarnContext(ctx, "audit mirror circuit opened",
				"breaker", p.breaker.Name(),
				"error", err,
			)
		}
		return fmt.Errorf("produce audit event %s: %w", entry.ID, err)
	}

	p.metrics.IncrementMirrored(ResultMirrored)
	if _, change := p.breaker.RecordSuccess(); change.Closed {
		p.logger.InfoContext(ctx, "audit mirror circuit closed", "breaker", p.breaker.Name())
	}
	return nil
}

// EnsureTopic creates topic if it does not exist yet.
func EnsureTopic(ctx context.Context, admin *kadm.Client, topic string, partitions int32, replicationFactor int16) error {
	_, err := admin.CreateTopic(ctx, partitions, replicationFactor, nil, topic)
	if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	return nil
}
