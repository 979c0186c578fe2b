package stream

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix = "stream:"
	clientBuffer  = 64
)

// Hub fans payloads out to websocket clients per topic. With Redis set,
// broadcasts are relayed to every other instance sharing it.
type Hub struct {
	redis   *redis.Client
	origin  string
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex

	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

type Client struct {
	Topic string
	Send  chan []byte
}

// envelope tags relayed payloads with the sending instance.
type envelope struct {
	Origin  string `json:"origin"`
	Payload []byte `json:"payload"`
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:   redisClient,
		origin:  uuid.NewString(),
		clients: map[string]map[*Client]struct{}{},
		done:    make(chan struct{}),
	}
	if redisClient == nil {
		close(h.done)
		return h
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.pubsub = redisClient.PSubscribe(ctx, channelPrefix+"*")

	confirmCtx, confirmCancel := context.WithTimeout(ctx, 2*time.Second)
	defer confirmCancel()
	if _, err := h.pubsub.Receive(confirmCtx); err != nil {
		log.Printf("stream: redis subscribe: %v", err)
	}

	go h.relay()
	return h
}

func (h *Hub) Register(topic string) *Client {
	client := &Client{
		Topic: topic,
		Send:  make(chan []byte, clientBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[topic] == nil {
		h.clients[topic] = map[*Client]struct{}{}
	}
	h.clients[topic][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	topicClients, ok := h.clients[client.Topic]
	if !ok {
		return
	}
	if _, ok := topicClients[client]; !ok {
		return
	}
	delete(topicClients, client)
	if len(topicClients) == 0 {
		delete(h.clients, client.Topic)
	}
	close(client.Send)
}

func (h *Hub) Clients(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// Broadcast delivers payload to local clients of topic and relays it to
// other instances. Clients with a full buffer miss the message.
func (h *Hub) Broadcast(topic string, payload []byte) {
	h.deliver(topic, payload)

	if h.redis == nil {
		return
	}
	msg, err := json.Marshal(envelope{Origin: h.origin, Payload: payload})
	if err != nil {
		return
	}
	if err := h.redis.Publish(context.Background(), redisChannel(topic), msg).Err(); err != nil {
		log.Printf("stream: redis publish %s: %v", topic, err)
	}
}

// Close stops the Redis relay. Registered clients stay open.
func (h *Hub) Close() {
	h.once.Do(func() {
		if h.cancel == nil {
			return
		}
		h.cancel()
		_ = h.pubsub.Close()
		<-h.done
	})
}

func (h *Hub) deliver(topic string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[topic] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) relay() {
	defer close(h.done)
	for msg := range h.pubsub.Channel() {
		topic := topicFromChannel(msg.Channel)
		if topic == "" {
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Printf("stream: drop relay message on %s: %v", msg.Channel, err)
			continue
		}
		if env.Origin == h.origin {
			continue
		}
		h.deliver(topic, env.Payload)
	}
}

func redisChannel(topic string) string {
	return channelPrefix + topic
}

func topicFromChannel(ch string) string {
	topic, ok := strings.CutPrefix(ch, channelPrefix)
	if !ok {
		return ""
	}
	return topic
}
