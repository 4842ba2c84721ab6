package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(New(CommitAvailable, "local commit observed"))

	select {
	case ev := <-sub:
		require.Equal(t, CommitAvailable, ev.Type)
		require.NotEmpty(t, ev.ID)
		require.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestWithMetadataChains(t *testing.T) {
	ev := New(SubscriptionComplete, "set superseded older sets").WithMetadata("version", "3")
	require.Equal(t, "3", ev.Metadata["version"])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	require.Equal(t, 0, b.SubscriberCount())
}

func TestNewAssignsDistinctIDs(t *testing.T) {
	a := New(CommitAvailable, "a")
	c := New(CommitAvailable, "b")
	require.NotEqual(t, a.ID, c.ID)
}
