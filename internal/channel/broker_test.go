package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthbridge-backend/internal/domain"
)

// collector records events delivered to one subscription
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func insertEvent(sessionID uuid.UUID, content string) *Event {
	return &Event{
		Kind:      EventMessageInsert,
		SessionID: sessionID,
		Message: &domain.Message{
			MessageID: uuid.New(),
			SessionID: sessionID,
			Content:   content,
			Type:      domain.MessageTypeText,
			Status:    domain.MessageStatusSent,
			CreatedAt: time.Now().UTC(),
		},
	}
}

func TestBrokerDeliversInPublishOrder(t *testing.T) {
	transport := NewMemoryTransport()
	broker := NewBroker(transport)
	topic := MessageTopic("consult-order")
	sessionID := uuid.New()

	col := &collector{}
	sub, err := broker.Subscribe(topic, col.handle)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	contents := []string{"one", "two", "three", "four", "five"}
	for _, c := range contents {
		require.NoError(t, broker.Publish(context.Background(), topic, insertEvent(sessionID, c)))
	}

	require.Eventually(t, func() bool { return col.len() == len(contents) },
		time.Second, 5*time.Millisecond)

	got := col.snapshot()
	for i, ev := range got {
		assert.Equal(t, EventMessageInsert, ev.Kind)
		assert.Equal(t, contents[i], ev.Message.Content)
	}
}

func TestBrokerFansOutToAllSubscribers(t *testing.T) {
	transport := NewMemoryTransport()
	broker := NewBroker(transport)
	topic := MessageTopic("consult-fanout")
	sessionID := uuid.New()

	a, b := &collector{}, &collector{}
	subA, err := broker.Subscribe(topic, a.handle)
	require.NoError(t, err)
	defer subA.Unsubscribe()
	subB, err := broker.Subscribe(topic, b.handle)
	require.NoError(t, err)
	defer subB.Unsubscribe()

	require.NoError(t, broker.Publish(context.Background(), topic, insertEvent(sessionID, "hello")))

	require.Eventually(t, func() bool { return a.len() == 1 && b.len() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, "hello", a.snapshot()[0].Message.Content)
	assert.Equal(t, "hello", b.snapshot()[0].Message.Content)
}

func TestBrokerTopicsAreIndependent(t *testing.T) {
	transport := NewMemoryTransport()
	broker := NewBroker(transport)
	sessionID := uuid.New()

	messages := &collector{}
	presence := &collector{}
	subM, err := broker.Subscribe(MessageTopic("consult-x"), messages.handle)
	require.NoError(t, err)
	defer subM.Unsubscribe()
	subP, err := broker.Subscribe(PresenceTopic("consult-x"), presence.handle)
	require.NoError(t, err)
	defer subP.Unsubscribe()

	require.NoError(t, broker.Publish(context.Background(), MessageTopic("consult-x"), insertEvent(sessionID, "msg")))

	require.Eventually(t, func() bool { return messages.len() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Zero(t, presence.len())
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	transport := NewMemoryTransport()
	broker := NewBroker(transport)
	topic := MessageTopic("consult-unsub")

	sub, err := broker.Subscribe(topic, func(Event) {})
	require.NoError(t, err)

	sub.Unsubscribe()
	sub.Unsubscribe() // must not panic or double-decrement

	assert.Zero(t, broker.SubscriberCount(topic))
}

func TestLastUnsubscribeTearsDownStream(t *testing.T) {
	transport := NewMemoryTransport()
	broker := NewBroker(transport)
	topic := MessageTopic("consult-teardown")

	subA, err := broker.Subscribe(topic, func(Event) {})
	require.NoError(t, err)
	subB, err := broker.Subscribe(topic, func(Event) {})
	require.NoError(t, err)

	assert.Equal(t, 1, transport.SubscriberCount(topic), "one shared stream for both subscriptions")
	assert.Equal(t, 2, broker.SubscriberCount(topic))

	subA.Unsubscribe()
	assert.Equal(t, 1, transport.SubscriberCount(topic), "stream survives while a subscriber remains")

	subB.Unsubscribe()
	assert.Zero(t, transport.SubscriberCount(topic), "stream closed with the last subscriber")
	assert.Zero(t, broker.SubscriberCount(topic))
}

func TestTransportDropSignalsResetThenResync(t *testing.T) {
	transport := NewMemoryTransport()
	broker := NewBroker(transport)
	topic := MessageTopic("consult-drop")
	sessionID := uuid.New()

	col := &collector{}
	sub, err := broker.Subscribe(topic, col.handle)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	transport.DropTopic(topic)

	// reset on drop, resync once the broker has resubscribed
	require.Eventually(t, func() bool { return col.len() >= 2 },
		2*time.Second, 5*time.Millisecond)
	got := col.snapshot()
	assert.Equal(t, EventChannelReset, got[0].Kind)
	assert.Equal(t, EventChannelResync, got[1].Kind)

	// delivery works again on the new stream
	require.NoError(t, broker.Publish(context.Background(), topic, insertEvent(sessionID, "post-recovery")))
	require.Eventually(t, func() bool { return col.len() == 3 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, "post-recovery", col.snapshot()[2].Message.Content)
}

func TestUndecodablePayloadIsDropped(t *testing.T) {
	transport := NewMemoryTransport()
	broker := NewBroker(transport)
	topic := MessageTopic("consult-garbage")
	sessionID := uuid.New()

	col := &collector{}
	sub, err := broker.Subscribe(topic, col.handle)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, transport.Publish(context.Background(), topic, []byte("{not json")))
	require.NoError(t, broker.Publish(context.Background(), topic, insertEvent(sessionID, "valid")))

	require.Eventually(t, func() bool { return col.len() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, "valid", col.snapshot()[0].Message.Content)
}

func TestSlowSubscriberGetsResyncSignal(t *testing.T) {
	transport := NewMemoryTransport()
	broker := NewBroker(transport)
	topic := MessageTopic("consult-slow")
	sessionID := uuid.New()

	release := make(chan struct{})
	col := &collector{}
	first := true
	sub, err := broker.Subscribe(topic, func(ev Event) {
		if first {
			first = false
			<-release // block the dispatch goroutine so the queue fills
		}
		col.handle(ev)
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	// one event to occupy the handler, then enough to overflow the queue
	total := subscriberQueueSize + 10
	for i := 0; i <= total; i++ {
		require.NoError(t, broker.Publish(context.Background(), topic, insertEvent(sessionID, "flood")))
	}
	close(release)

	// the overflow is surfaced as a trailing resync signal
	require.Eventually(t, func() bool {
		evs := col.snapshot()
		return len(evs) > 0 && evs[len(evs)-1].Kind == EventChannelResync
	}, 2*time.Second, 5*time.Millisecond)

	inserts := 0
	for _, ev := range col.snapshot() {
		if ev.Kind == EventMessageInsert {
			inserts++
		}
	}
	assert.Less(t, inserts, total+1, "overflowed events are dropped, not delivered late")
}
