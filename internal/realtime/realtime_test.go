package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertSilent(t *testing.T, ch <-chan Event, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(wait):
	}
}

func TestRedisBrokerRoutesByChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	broker := NewRedisBroker(client, zerolog.Nop())
	ctx := context.Background()

	ticketEvents, cancelTicket, err := broker.Subscribe(ctx, TicketChannel("org_1", "tkt_1"))
	require.NoError(t, err)
	defer cancelTicket()
	orgEvents, cancelOrg, err := broker.Subscribe(ctx, OrgChannel("org_1"))
	require.NoError(t, err)
	defer cancelOrg()

	require.NoError(t, broker.Publish(ctx, Event{Type: ResponseCreated, OrgID: "org_1", TicketID: "tkt_1", ProfileID: "prf_1"}))

	got := receive(t, ticketEvents)
	assert.Equal(t, ResponseCreated, got.Type)
	assert.False(t, got.At.IsZero())
	assert.Equal(t, "tkt_1", receive(t, orgEvents).TicketID)

	// Another ticket only reaches the org channel.
	require.NoError(t, broker.Publish(ctx, Event{Type: TicketCreated, OrgID: "org_1", TicketID: "tkt_2"}))
	assert.Equal(t, "tkt_2", receive(t, orgEvents).TicketID)
	assertSilent(t, ticketEvents, 100*time.Millisecond)
}

func TestRedisBrokerCancelClosesChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	broker := NewRedisBroker(client, zerolog.Nop())
	events, cancel, err := broker.Subscribe(context.Background(), OrgChannel("org_1"))
	require.NoError(t, err)

	cancel()
	cancel()
	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
}

func TestLocalBroker(t *testing.T) {
	broker := NewLocalBroker()
	ctx := context.Background()

	events, cancel, err := broker.Subscribe(ctx, TicketChannel("org_1", "tkt_1"))
	require.NoError(t, err)

	require.NoError(t, broker.Publish(ctx, Event{Type: Read, OrgID: "org_1", TicketID: "tkt_1"}))
	assert.Equal(t, Read, receive(t, events).Type)

	require.NoError(t, broker.Publish(ctx, Event{Type: Read, OrgID: "org_2", TicketID: "tkt_1"}))
	assertSilent(t, events, 50*time.Millisecond)

	cancel()
	_, ok := <-events
	assert.False(t, ok)
	assert.Empty(t, broker.subs)
}

func TestVisibleTo(t *testing.T) {
	tests := []struct {
		name    string
		ev      Event
		profile string
		staff   bool
		want    bool
	}{
		{"staff sees internal", Event{Internal: true, CustomerID: "c1"}, "a1", true, true},
		{"customer never sees internal", Event{Internal: true, CustomerID: "c1"}, "c1", false, false},
		{"customer sees own ticket", Event{CustomerID: "c1"}, "c1", false, true},
		{"customer blind to other tickets", Event{CustomerID: "c2"}, "c1", false, false},
		{"untargeted event", Event{}, "c1", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VisibleTo(tt.ev, tt.profile, tt.staff))
		})
	}
}

func TestTypingTrackerExpires(t *testing.T) {
	broker := NewLocalBroker()
	ctx := context.Background()
	events, cancel, err := broker.Subscribe(ctx, TicketChannel("org_1", "tkt_1"))
	require.NoError(t, err)
	defer cancel()

	tracker := NewTypingTracker(broker, 50*time.Millisecond, zerolog.Nop())
	defer tracker.Stop()

	base := Event{OrgID: "org_1", TicketID: "tkt_1", ProfileID: "prf_1", Name: "Ada"}
	tracker.Signal(ctx, base, true)

	first := receive(t, events)
	require.NotNil(t, first.Typing)
	assert.True(t, *first.Typing)
	assert.Equal(t, Typing, first.Type)

	// Repeated signals while typing publish nothing new.
	tracker.Signal(ctx, base, true)

	second := receive(t, events)
	require.NotNil(t, second.Typing)
	assert.False(t, *second.Typing)
	assert.Equal(t, "Ada", second.Name)
	assertSilent(t, events, 100*time.Millisecond)
}

func TestTypingTrackerExplicitStop(t *testing.T) {
	broker := NewLocalBroker()
	ctx := context.Background()
	events, cancel, err := broker.Subscribe(ctx, OrgChannel("org_1"))
	require.NoError(t, err)
	defer cancel()

	tracker := NewTypingTracker(broker, time.Hour, zerolog.Nop())
	base := Event{OrgID: "org_1", TicketID: "tkt_1", ProfileID: "prf_1"}

	tracker.Signal(ctx, base, false)
	assertSilent(t, events, 30*time.Millisecond)

	tracker.Signal(ctx, base, true)
	assert.True(t, *receive(t, events).Typing)
	tracker.Signal(ctx, base, false)
	assert.False(t, *receive(t, events).Typing)
	assert.Empty(t, tracker.active)
}
