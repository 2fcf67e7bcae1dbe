//go:generate mockgen -source=backend.go -destination=mocks/mocks.go -package=mocks Backend,Subscription

package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubRoutesByTable(t *testing.T) {
	hub := NewHub(4)
	apps := hub.Subscribe("applications")
	audit := hub.Subscribe("audit_logs")
	defer apps.Close()
	defer audit.Close()

	hub.Publish(Inserted{TableName: "audit_logs", New: Row{"id": "a1"}})

	select {
	case ev := <-audit.Events():
		assert.Equal(t, EventInsert, ev.Type())
	default:
		t.Fatal("audit subscriber did not receive event")
	}
	assert.Empty(t, apps.Events())
}

func TestHubDropsSlowConsumer(t *testing.T) {
	hub := NewHub(1)
	sub := hub.Subscribe("applications")

	hub.Publish(Inserted{TableName: "applications", New: Row{"id": "1"}})
	hub.Publish(Inserted{TableName: "applications", New: Row{"id": "2"}})

	// The buffered event is still readable, then the channel is closed.
	_, ok := <-sub.Events()
	require.True(t, ok)
	_, ok = <-sub.Events()
	require.False(t, ok)
	assert.ErrorIs(t, sub.Err(), ErrSlowConsumer)
	assert.Equal(t, 0, hub.Len())
}

func TestHubInterruptEndsSubscriptions(t *testing.T) {
	hub := NewHub(0)
	sub := hub.Subscribe("applications")

	hub.Interrupt(ErrFeedInterrupted)

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, sub.Err(), ErrFeedInterrupted)

	// New subscribers are still accepted after an interrupt.
	again := hub.Subscribe("applications")
	defer again.Close()
	assert.Equal(t, 1, hub.Len())
}

func TestHubCloseIsIdempotentPerSubscription(t *testing.T) {
	hub := NewHub(0)
	sub := hub.Subscribe("applications")
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.NoError(t, sub.Err())
}

func TestDecodeTriggerPayload(t *testing.T) {
	payload := []byte(`{"type":"UPDATE","table":"applications",` +
		`"new":{"id":"app-1","status":"approved"},"old":{"id":"app-1","status":"pending"}}`)

	ev, err := DecodeEvent(payload)
	require.NoError(t, err)

	upd, ok := ev.(Updated)
	require.True(t, ok)
	assert.Equal(t, "applications", upd.Table())
	assert.Equal(t, "approved", upd.New.String("status"))
	assert.Equal(t, "pending", upd.Old.String("status"))

	encoded, err := EncodeEvent(upd)
	require.NoError(t, err)
	again, err := DecodeEvent(encoded)
	require.NoError(t, err)
	assert.Equal(t, ev, again)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"type":"TRUNCATE","table":"applications"}`))
	assert.Error(t, err)
}
