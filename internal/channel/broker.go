package channel

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"healthbridge-backend/pkg/errors"
	"healthbridge-backend/pkg/logger"
	"healthbridge-backend/pkg/metrics"
	"healthbridge-backend/pkg/resilience"
)

const (
	// subscriberQueueSize bounds each subscriber's dispatch queue; a full
	// queue drops the event and forces that subscriber through a resync
	subscriberQueueSize = 64

	reconnectInitialInterval = 100 * time.Millisecond
	reconnectMaxInterval     = 5 * time.Second
)

// Handler is invoked for every event delivered to a subscription. It runs
// on the subscription's own dispatch goroutine and never blocks publishers.
type Handler func(Event)

// Subscription is a cancellable registration on one topic
type Subscription struct {
	topic   string
	broker  *Broker
	handler Handler
	queue   chan Event
	done    chan struct{}
	once    sync.Once
	gap     atomic.Bool
}

// Topic returns the topic this subscription is registered on
func (s *Subscription) Topic() string { return s.topic }

// Unsubscribe stops delivery and cancels pending callbacks. Safe to call
// multiple times and during in-flight delivery.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.broker.remove(s)
		close(s.done)
		metrics.ChannelSubscriptionsActive.Dec()
	})
}

func (s *Subscription) enqueue(ev Event) {
	select {
	case s.queue <- ev:
	default:
		// Subscriber fell behind; drop the event and force a resync once
		// its queue drains
		s.gap.Store(true)
		metrics.ChannelEventsDroppedTotal.WithLabelValues("queue_full").Inc()
	}
}

func (s *Subscription) dispatch() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		select {
		case <-s.done:
			return
		case ev := <-s.queue:
			s.handler(ev)
		}

		if s.gap.Load() && len(s.queue) == 0 {
			s.gap.Store(false)
			s.handler(Event{Kind: EventChannelResync, OccurredAt: time.Now()})
		}
	}
}

type topicState struct {
	stream Stream
	subs   map[*Subscription]struct{}
	closed bool
}

// Broker fans session events out to local subscribers over a Transport.
// Topic subscriptions are refcounted: the transport stream is opened on the
// first subscriber and torn down when the last one unsubscribes.
type Broker struct {
	transport Transport

	mu     sync.Mutex
	topics map[string]*topicState
}

// NewBroker creates a broker over the given transport
func NewBroker(transport Transport) *Broker {
	return &Broker{
		transport: transport,
		topics:    make(map[string]*topicState),
	}
}

// Publish marshals the event and hands it to the transport. Ordering for a
// topic follows the order Publish is called by the committing writer.
func (b *Broker) Publish(ctx context.Context, topic string, ev *Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.PublishError(err)
	}

	if err := b.transport.Publish(ctx, topic, payload); err != nil {
		metrics.ChannelPublishErrorsTotal.Inc()
		return errors.PublishError(err)
	}

	metrics.ChannelEventsPublishedTotal.WithLabelValues(string(ev.Kind)).Inc()
	return nil
}

// Subscribe registers handler for events on topic. The handler runs on a
// dedicated goroutine per subscription; slow handlers delay only their own
// subscription and, past the queue bound, trigger a resync signal.
func (b *Broker) Subscribe(topic string, handler Handler) (*Subscription, error) {
	b.mu.Lock()
	ts := b.topics[topic]
	if ts == nil {
		stream, err := b.transport.Subscribe(context.Background(), topic)
		if err != nil {
			b.mu.Unlock()
			return nil, errors.WrapWithStatus(errors.ErrCodePublish, "channel subscribe failed", 500, err)
		}
		ts = &topicState{
			stream: stream,
			subs:   make(map[*Subscription]struct{}),
		}
		b.topics[topic] = ts
		go b.pump(topic, ts)
	}

	sub := &Subscription{
		topic:   topic,
		broker:  b,
		handler: handler,
		queue:   make(chan Event, subscriberQueueSize),
		done:    make(chan struct{}),
	}
	ts.subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.dispatch()
	metrics.ChannelSubscriptionsActive.Inc()
	return sub, nil
}

// SubscriberCount reports how many subscriptions topic currently has
func (b *Broker) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ts := b.topics[topic]; ts != nil {
		return len(ts.subs)
	}
	return 0
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.topics[sub.topic]
	if ts == nil {
		return
	}
	delete(ts.subs, sub)
	if len(ts.subs) == 0 {
		ts.closed = true
		ts.stream.Close()
		delete(b.topics, sub.topic)
	}
}

// pump reads the topic's transport stream and fans events out. A closed
// stream that was not torn down means the transport dropped: subscribers
// get a reset signal, the broker reconnects with backoff, and a resync
// signal follows once incremental delivery resumes.
func (b *Broker) pump(topic string, ts *topicState) {
	for {
		b.mu.Lock()
		stream := ts.stream
		b.mu.Unlock()

		for payload := range stream.Payloads() {
			var ev Event
			if err := json.Unmarshal(payload, &ev); err != nil {
				logger.Warn("dropping undecodable channel event",
					zap.String("topic", topic), zap.Error(err))
				metrics.ChannelEventsDroppedTotal.WithLabelValues("decode_error").Inc()
				continue
			}
			b.fanout(ts, ev)
		}

		if b.topicGone(topic, ts) {
			return
		}

		b.fanout(ts, Event{Kind: EventChannelReset, OccurredAt: time.Now()})
		logger.Warn("channel transport dropped, reconnecting", zap.String("topic", topic))

		if !b.reconnect(topic, ts) {
			return
		}
		b.fanout(ts, Event{Kind: EventChannelResync, OccurredAt: time.Now()})
	}
}

func (b *Broker) topicGone(topic string, ts *topicState) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return ts.closed || b.topics[topic] != ts
}

func (b *Broker) reconnect(topic string, ts *topicState) bool {
	backoff := resilience.NewBackoff(reconnectInitialInterval, reconnectMaxInterval)

	for {
		if b.topicGone(topic, ts) {
			return false
		}

		stream, err := b.transport.Subscribe(context.Background(), topic)
		if err == nil {
			b.mu.Lock()
			if ts.closed {
				b.mu.Unlock()
				stream.Close()
				return false
			}
			ts.stream = stream
			b.mu.Unlock()
			return true
		}

		logger.Warn("channel resubscribe failed",
			zap.String("topic", topic), zap.Error(err))
		if werr := backoff.Wait(context.Background()); werr != nil {
			return false
		}
	}
}

func (b *Broker) fanout(ts *topicState, ev Event) {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(ts.subs))
	for s := range ts.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.enqueue(ev)
	}
}
