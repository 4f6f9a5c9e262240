package realtime

import (
	"context"
	"sync"
	"time"
)

// LocalBroker fans out within a single process. It serves deployments without
// Redis and tests.
type LocalBroker struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[string]map[chan Event]struct{})}
}

func (b *LocalBroker) Publish(_ context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, channel := range channelsFor(ev) {
		for ch := range b.subs[channel] {
			select {
			case ch <- ev:
			default:
			}
		}
	}
	return nil
}

func (b *LocalBroker) Subscribe(_ context.Context, channels ...string) (<-chan Event, func(), error) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	for _, channel := range channels {
		if b.subs[channel] == nil {
			b.subs[channel] = make(map[chan Event]struct{})
		}
		b.subs[channel][ch] = struct{}{}
	}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			for _, channel := range channels {
				delete(b.subs[channel], ch)
				if len(b.subs[channel]) == 0 {
					delete(b.subs, channel)
				}
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}
