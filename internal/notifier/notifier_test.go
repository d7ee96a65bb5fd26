package notifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchdeck/matchdeck/internal/domain"
)

func newTestNotifier(t *testing.T) *Notifier {
	t.Helper()
	n, err := New()
	require.NoError(t, err)
	t.Cleanup(n.Close)
	return n
}

func waitEvent(t *testing.T, ch <-chan domain.Event) domain.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return domain.Event{}
	}
}

func TestPublishSubscribe(t *testing.T) {
	n := newTestNotifier(t)

	got := make(chan domain.Event, 1)
	sub, err := n.Subscribe("m1", func(ev domain.Event) { got <- ev })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, n.Publish(domain.Event{
		Type:    domain.EventRoundEnd,
		MatchID: "m1",
	}))

	ev := waitEvent(t, got)
	assert.Equal(t, domain.EventRoundEnd, ev.Type)
	assert.Equal(t, "m1", ev.MatchID)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestSubscribeIsScopedToMatch(t *testing.T) {
	n := newTestNotifier(t)

	got := make(chan domain.Event, 2)
	sub, err := n.Subscribe("m1", func(ev domain.Event) { got <- ev })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, n.Publish(domain.Event{Type: domain.EventKill, MatchID: "m2"}))
	require.NoError(t, n.Publish(domain.Event{Type: domain.EventKill, MatchID: "m1"}))

	ev := waitEvent(t, got)
	assert.Equal(t, "m1", ev.MatchID)
	select {
	case ev := <-got:
		t.Fatalf("unexpected event for match %s", ev.MatchID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribeAll(t *testing.T) {
	n := newTestNotifier(t)

	got := make(chan domain.Event, 2)
	sub, err := n.SubscribeAll(func(ev domain.Event) { got <- ev })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, n.Publish(domain.Event{Type: domain.EventMatchCreated, MatchID: "m1"}))
	require.NoError(t, n.Publish(domain.Event{Type: domain.EventMatchEnd, MatchID: "m2"}))

	seen := map[string]bool{}
	seen[waitEvent(t, got).MatchID] = true
	seen[waitEvent(t, got).MatchID] = true
	assert.True(t, seen["m1"])
	assert.True(t, seen["m2"])
}
