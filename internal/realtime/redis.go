package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBroker relays events through Redis pub/sub so every API instance sees
// them.
type RedisBroker struct {
	client *redis.Client
	prefix string
	log    zerolog.Logger
}

func NewRedisBroker(client *redis.Client, log zerolog.Logger) *RedisBroker {
	return &RedisBroker{client: client, prefix: "rt:", log: log}
}

func (b *RedisBroker) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	for _, channel := range channelsFor(ev) {
		if err := b.client.Publish(ctx, b.prefix+channel, payload).Err(); err != nil {
			return fmt.Errorf("publish %s: %w", channel, err)
		}
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, channels ...string) (<-chan Event, func(), error) {
	names := make([]string, len(channels))
	for i, channel := range channels {
		names[i] = b.prefix + channel
	}

	pubsub := b.client.Subscribe(ctx, names...)
	// Wait for the subscription confirmation so events published right after
	// Subscribe returns are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan Event, subscriberBuffer)
	done := make(chan struct{})
	go func() {
		defer close(out)
		messages := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.log.Warn().Err(err).Str("channel", msg.Channel).Msg("drop malformed realtime event")
					continue
				}
				select {
				case out <- ev:
				default:
					b.log.Debug().Str("channel", msg.Channel).Str("type", ev.Type).Msg("subscriber lagging, event dropped")
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}
	return out, cancel, nil
}
