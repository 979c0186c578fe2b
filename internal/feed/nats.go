package feed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATSSource reads snapshots published on one subject. A dropped or closed
// connection is reported to the handler as a channel error; the next
// snapshot after reconnecting clears it.
type NATSSource struct {
	conn    *nats.Conn
	channel Channel
	subject string
}

func NewNATSSource(conn *nats.Conn, channel Channel, subject string) *NATSSource {
	return &NATSSource{conn: conn, channel: channel, subject: subject}
}

func (s *NATSSource) Subscribe(ctx context.Context, handle Handler) (func(), error) {
	if s.conn == nil {
		return nil, fmt.Errorf("subscribe %s: %w", s.subject, ErrChannelDown)
	}

	sub, err := s.conn.Subscribe(s.subject, func(msg *nats.Msg) {
		s.handleMsg(msg, handle)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", s.subject, err)
	}

	statuses := s.conn.StatusChanged(nats.DISCONNECTED, nats.CLOSED)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case st, ok := <-statuses:
				if !ok {
					return
				}
				handle(Event{Channel: s.channel, Err: fmt.Errorf("%w: nats %s", ErrChannelDown, st)})
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			s.conn.RemoveStatusListener(statuses)
			if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
				log.Printf("feed: unsubscribe %s: %v", s.subject, err)
			}
		})
	}, nil
}

func (s *NATSSource) handleMsg(msg *nats.Msg, handle Handler) {
	snap, err := DecodeSnapshot(msg.Data)
	if err != nil {
		log.Printf("feed: drop %s message on %s: %v", s.channel, msg.Subject, err)
		return
	}
	handle(Event{Channel: s.channel, Snapshot: snap})
}
