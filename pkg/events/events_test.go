package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noriteio/norite/pkg/types"
)

func TestPublishStampsAndDelivers(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(0)
	defer b.Cancel(sub)

	b.Publish(Event{Type: Created, Kind: types.KindNexus, ResourceID: "n1"})

	select {
	case ev := <-sub.C:
		assert.Equal(t, Created, ev.Type)
		assert.Equal(t, types.KindNexus, ev.Kind)
		assert.Equal(t, "n1", ev.ResourceID)
		assert.NotEmpty(t, ev.ID, "event id is stamped on publish")
		assert.False(t, ev.OccurredAt.IsZero(), "timestamp is stamped on publish")
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(1)
	defer b.Cancel(sub)

	b.Publish(Event{Type: Created, Kind: types.KindPool, ResourceID: "p1"})
	b.Publish(Event{Type: Deleted, Kind: types.KindPool, ResourceID: "p1"})

	assert.Equal(t, uint64(1), sub.Dropped())

	ev := <-sub.C
	assert.Equal(t, Created, ev.Type, "the buffered event survives, the overflow is dropped")
}

func TestCancelClosesChannelAndForgetsSubscriber(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(0)
	require.Equal(t, 1, b.SubscriberCount())

	b.Cancel(sub)
	require.Zero(t, b.SubscriberCount())

	_, open := <-sub.C
	assert.False(t, open)

	// Cancelling twice is a no-op, and publishing with no subscribers
	// is safe.
	b.Cancel(sub)
	b.Publish(Event{Type: Offline, Kind: types.KindNode, ResourceID: "node-a"})
}
