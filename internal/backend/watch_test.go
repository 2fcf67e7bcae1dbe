package backend

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hubSource serves subscriptions from a hub, failing the first failN calls.
type hubSource struct {
	hub   *Hub
	calls atomic.Int32
	failN int32
}

func (s *hubSource) Subscribe(_ context.Context, table string) (Subscription, error) {
	n := s.calls.Add(1)
	if n <= s.failN {
		return nil, errors.New("connection refused")
	}
	return s.hub.Subscribe(table), nil
}

type eventLog struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (l *eventLog) add(_ context.Context, ev ChangeEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func TestWatchDeliversEvents(t *testing.T) {
	src := &hubSource{hub: NewHub(0)}
	var log eventLog

	w := Watch(context.Background(), src, "applications", log.add)
	defer w.Stop()

	src.hub.Publish(Inserted{TableName: "applications", New: Row{"id": "1"}})
	require.Eventually(t, func() bool { return log.len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestWatchReconnectsAfterInterrupt(t *testing.T) {
	src := &hubSource{hub: NewHub(0)}
	var log eventLog
	var reconnects atomic.Int32

	w := Watch(context.Background(), src, "applications", log.add,
		WithBackoff(time.Millisecond, 5*time.Millisecond),
		OnReconnect(func(context.Context) { reconnects.Add(1) }),
	)
	defer w.Stop()

	src.hub.Interrupt(ErrFeedInterrupted)
	require.Eventually(t, func() bool { return reconnects.Load() == 1 }, time.Second, 2*time.Millisecond)

	src.hub.Publish(Inserted{TableName: "applications", New: Row{"id": "after"}})
	require.Eventually(t, func() bool { return log.len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestWatchRetriesFailedInitialSubscribe(t *testing.T) {
	src := &hubSource{hub: NewHub(0), failN: 2}
	var reconnects atomic.Int32

	w := Watch(context.Background(), src, "audit_logs", func(context.Context, ChangeEvent) {},
		WithBackoff(time.Millisecond, 2*time.Millisecond),
		OnReconnect(func(context.Context) { reconnects.Add(1) }),
	)
	defer w.Stop()

	require.Eventually(t, func() bool { return src.hub.Len() == 1 }, time.Second, 2*time.Millisecond)
	assert.GreaterOrEqual(t, src.calls.Load(), int32(3))
	assert.Equal(t, int32(1), reconnects.Load())
}

func TestWatchStopClosesSubscription(t *testing.T) {
	src := &hubSource{hub: NewHub(0)}
	w := Watch(context.Background(), src, "applications", func(context.Context, ChangeEvent) {})
	require.Equal(t, 1, src.hub.Len())

	w.Stop()
	assert.Equal(t, 0, src.hub.Len())
}
