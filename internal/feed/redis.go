package feed

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRetryWait = time.Second

// RedisSource reads snapshots from a pub/sub channel. Receive errors are
// reported once per outage as channel errors while the client reconnects.
type RedisSource struct {
	client    *redis.Client
	channel   Channel
	topic     string
	retryWait time.Duration
}

func NewRedisSource(client *redis.Client, channel Channel, topic string) *RedisSource {
	return &RedisSource{client: client, channel: channel, topic: topic, retryWait: defaultRetryWait}
}

func (s *RedisSource) Subscribe(ctx context.Context, handle Handler) (func(), error) {
	if s.client == nil {
		return nil, fmt.Errorf("subscribe %s: %w", s.topic, ErrChannelDown)
	}

	ctx, cancel := context.WithCancel(ctx)
	pubsub := s.client.Subscribe(ctx, s.topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", s.topic, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		failing := false
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !failing {
					failing = true
					handle(Event{Channel: s.channel, Err: fmt.Errorf("%w: %v", ErrChannelDown, err)})
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.retryWait):
				}
				continue
			}
			failing = false
			s.handlePayload(msg.Payload, handle)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			_ = pubsub.Close()
			<-done
		})
	}, nil
}

func (s *RedisSource) handlePayload(payload string, handle Handler) {
	snap, err := DecodeSnapshot([]byte(payload))
	if err != nil {
		log.Printf("feed: drop %s message on %s: %v", s.channel, s.topic, err)
		return
	}
	handle(Event{Channel: s.channel, Snapshot: snap})
}
