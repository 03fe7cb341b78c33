package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Stream is one live subscription to a topic. Payloads closes when the
// subscription ends, whether by Close or by transport failure.
type Stream interface {
	Payloads() <-chan []byte
	Close() error
}

// Transport moves raw event payloads between processes. The broker layers
// local fan-out, refcounting and resync semantics on top of it.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (Stream, error)
}

// RedisTransport backs the channel with Redis Pub/Sub
type RedisTransport struct {
	client *redis.Client
}

// NewRedisTransport creates a transport over the given Redis client
func NewRedisTransport(client *redis.Client) *RedisTransport {
	return &RedisTransport{client: client}
}

// Publish sends payload to every subscriber of topic
func (t *RedisTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := t.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a Pub/Sub subscription for topic
func (t *RedisTransport) Subscribe(ctx context.Context, topic string) (Stream, error) {
	pubsub := t.client.Subscribe(ctx, topic)

	// Force the SUBSCRIBE round trip so a dead Redis fails here, not on
	// the first missed event
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe to %s: %w", topic, err)
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			out <- []byte(msg.Payload)
		}
	}()

	return &redisStream{pubsub: pubsub, out: out}, nil
}

type redisStream struct {
	pubsub *redis.PubSub
	out    chan []byte
}

func (s *redisStream) Payloads() <-chan []byte { return s.out }

func (s *redisStream) Close() error { return s.pubsub.Close() }

// MemoryTransport is an in-process transport used in tests and
// single-process deployments
type MemoryTransport struct {
	mu     sync.Mutex
	topics map[string][]*memoryStream
}

// NewMemoryTransport creates an empty in-process transport
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{topics: make(map[string][]*memoryStream)}
}

// Publish delivers payload to every open stream on topic in subscription order
func (t *MemoryTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	t.mu.Lock()
	streams := make([]*memoryStream, len(t.topics[topic]))
	copy(streams, t.topics[topic])
	t.mu.Unlock()

	for _, s := range streams {
		s.deliver(payload)
	}
	return nil
}

// Subscribe opens a stream on topic
func (t *MemoryTransport) Subscribe(ctx context.Context, topic string) (Stream, error) {
	s := &memoryStream{
		transport: t,
		topic:     topic,
		out:       make(chan []byte, 256),
	}

	t.mu.Lock()
	t.topics[topic] = append(t.topics[topic], s)
	t.mu.Unlock()

	return s, nil
}

// SubscriberCount reports the number of open streams on topic
func (t *MemoryTransport) SubscriberCount(topic string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.topics[topic])
}

// DropTopic forcibly closes every stream on topic, simulating a transport
// failure for that topic's subscribers
func (t *MemoryTransport) DropTopic(topic string) {
	t.mu.Lock()
	streams := t.topics[topic]
	delete(t.topics, topic)
	t.mu.Unlock()

	for _, s := range streams {
		s.closeOut()
	}
}

type memoryStream struct {
	transport *MemoryTransport
	topic     string
	out       chan []byte
	closeOnce sync.Once
}

func (s *memoryStream) deliver(payload []byte) {
	defer func() {
		// Stream closed concurrently; the payload is lost, which is
		// within the at-least-once contract
		_ = recover()
	}()
	s.out <- payload
}

func (s *memoryStream) Payloads() <-chan []byte { return s.out }

func (s *memoryStream) Close() error {
	s.transport.mu.Lock()
	streams := s.transport.topics[s.topic]
	for i, other := range streams {
		if other == s {
			s.transport.topics[s.topic] = append(streams[:i], streams[i+1:]...)
			break
		}
	}
	if len(s.transport.topics[s.topic]) == 0 {
		delete(s.transport.topics, s.topic)
	}
	s.transport.mu.Unlock()

	s.closeOut()
	return nil
}

func (s *memoryStream) closeOut() {
	s.closeOnce.Do(func() { close(s.out) })
}
