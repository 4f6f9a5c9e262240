package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TypingTimeout is how long a typing indicator stays on without a new signal.
const TypingTimeout = 3 * time.Second

// TypingTracker turns raw typing signals into on/off presence events. A
// profile that stops signalling is reported as not typing after the timeout.
type TypingTracker struct {
	broker  Broker
	timeout time.Duration
	log     zerolog.Logger

	mu     sync.Mutex
	active map[string]*typingState
}

type typingState struct {
	timer    *time.Timer
	deadline time.Time
}

func NewTypingTracker(broker Broker, timeout time.Duration, log zerolog.Logger) *TypingTracker {
	if timeout <= 0 {
		timeout = TypingTimeout
	}
	return &TypingTracker{
		broker:  broker,
		timeout: timeout,
		log:     log,
		active:  make(map[string]*typingState),
	}
}

func typingKey(ev Event) string {
	return ev.OrgID + "|" + ev.TicketID + "|" + ev.ProfileID
}

// Signal records a typing signal. Only transitions are published.
func (t *TypingTracker) Signal(ctx context.Context, ev Event, typing bool) {
	ev.Type = Typing
	key := typingKey(ev)

	t.mu.Lock()
	state, wasTyping := t.active[key]
	if !typing {
		if wasTyping {
			state.timer.Stop()
			delete(t.active, key)
		}
		t.mu.Unlock()
		if wasTyping {
			t.publish(ctx, ev, false)
		}
		return
	}

	if wasTyping {
		state.deadline = time.Now().Add(t.timeout)
		state.timer.Reset(t.timeout)
		t.mu.Unlock()
		return
	}
	state = &typingState{deadline: time.Now().Add(t.timeout)}
	state.timer = time.AfterFunc(t.timeout, func() { t.expire(key, ev) })
	t.active[key] = state
	t.mu.Unlock()
	t.publish(ctx, ev, true)
}

func (t *TypingTracker) expire(key string, ev Event) {
	t.mu.Lock()
	state, ok := t.active[key]
	if !ok {
		t.mu.Unlock()
		return
	}
	// A signal may have extended the deadline while this timer was firing.
	if remaining := time.Until(state.deadline); remaining > 0 {
		state.timer.Reset(remaining)
		t.mu.Unlock()
		return
	}
	delete(t.active, key)
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.publish(ctx, ev, false)
}

// Stop clears every pending indicator without publishing.
func (t *TypingTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, state := range t.active {
		state.timer.Stop()
		delete(t.active, key)
	}
}

func (t *TypingTracker) publish(ctx context.Context, ev Event, typing bool) {
	ev.Typing = &typing
	ev.At = time.Now().UTC()
	if err := t.broker.Publish(ctx, ev); err != nil {
		t.log.Warn().Err(err).Str("ticket_id", ev.TicketID).Msg("publish typing event")
	}
}
