package client

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"healthbridge-backend/internal/channel"
	"healthbridge-backend/internal/domain"
	apperrors "healthbridge-backend/pkg/errors"
	"healthbridge-backend/pkg/logger"
	"healthbridge-backend/pkg/metrics"
)

// Store is the message store surface the controller drives
type Store interface {
	Append(ctx context.Context, caller domain.Caller, sessionID uuid.UUID, input *domain.MessageCreate) (*domain.Message, error)
	ListBySession(ctx context.Context, caller domain.Caller, sessionID uuid.UUID) ([]*domain.Message, error)
	MarkRead(ctx context.Context, caller domain.Caller, sessionID, messageID uuid.UUID) (*domain.Message, error)
}

// Coordinator is the presence surface the controller drives
type Coordinator interface {
	ReportJoin(ctx context.Context, sessionID uuid.UUID, role domain.Role) (*domain.SessionState, error)
	ReportLeave(ctx context.Context, sessionID uuid.UUID, role domain.Role) (*domain.SessionState, error)
	ReportEnd(ctx context.Context, sessionID uuid.UUID) (*domain.SessionState, error)
}

// Subscriber opens cancellable subscriptions on session topics
type Subscriber interface {
	Subscribe(topic string, handler channel.Handler) (*channel.Subscription, error)
}

// Listener receives view updates. Callbacks arrive on the controller's
// dispatch goroutines; implementations should hand off to their own loop.
type Listener struct {
	OnMessages func(messages []*domain.Message)
	OnState    func(state *domain.SessionState)
	OnDegraded func(degraded bool)
}

// Controller maintains one consultation view: the ordered message list
// and the live session state, kept consistent with the store across
// subscription delivery, optimistic sends and transport drops.
type Controller struct {
	store       Store
	coordinator Coordinator
	subscriber  Subscriber
	caller      domain.Caller
	listener    Listener

	mu        sync.Mutex
	session   *domain.Session
	role      domain.Role
	state     *domain.SessionState
	messages  []*domain.Message
	pending   []channel.Event
	loaded    bool
	resyncing bool
	degraded  bool
	closed    bool

	msgSub      *channel.Subscription
	presenceSub *channel.Subscription
}

// NewController creates a controller for one participant's view of a session
func NewController(store Store, coordinator Coordinator, subscriber Subscriber, caller domain.Caller, listener Listener) *Controller {
	return &Controller{
		store:       store,
		coordinator: coordinator,
		subscriber:  subscriber,
		caller:      caller,
		listener:    listener,
	}
}

// Open subscribes to the session's topics and loads the message history.
// Subscribing happens before the history fetch; events arriving in the
// gap are buffered and applied after the initial load so nothing is
// dropped and nothing is duplicated.
func (c *Controller) Open(ctx context.Context, session *domain.Session) error {
	role, ok := session.RoleOf(c.caller.UserID)
	if !ok {
		return apperrors.UnauthorizedError("caller is not a participant of this session")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return apperrors.InternalError("controller already closed")
	}
	c.session = session
	c.role = role
	c.state = session.State()
	c.mu.Unlock()

	msgSub, err := c.subscriber.Subscribe(channel.MessageTopic(session.ChannelName), c.onMessageEvent)
	if err != nil {
		return err
	}
	presenceSub, err := c.subscriber.Subscribe(channel.PresenceTopic(session.ChannelName), c.onPresenceEvent)
	if err != nil {
		msgSub.Unsubscribe()
		return err
	}

	c.mu.Lock()
	c.msgSub = msgSub
	c.presenceSub = presenceSub
	c.mu.Unlock()

	messages, err := c.store.ListBySession(ctx, c.caller, session.SessionID)
	if err != nil {
		c.Close()
		return err
	}

	c.mu.Lock()
	c.messages = messages
	c.loaded = true
	buffered := c.pending
	c.pending = nil
	for _, ev := range buffered {
		c.applyLocked(ev)
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.notifyMessages(snapshot)
	return nil
}

// Close tears the view down and cancels pending delivery. Idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	msgSub, presenceSub := c.msgSub, c.presenceSub
	c.mu.Unlock()

	if msgSub != nil {
		msgSub.Unsubscribe()
	}
	if presenceSub != nil {
		presenceSub.Unsubscribe()
	}
}

// Messages returns a copy of the current ordered message list
func (c *Controller) Messages() []*domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// State returns the last observed session state
func (c *Controller) State() *domain.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LiveCallActive reports whether the call surface should be shown
func (c *Controller) LiveCallActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != nil && c.state.Phase == domain.PhaseInProgress
}

// Send appends a message through the store and folds the authoritative
// result into the local view. The stored message may also race in via
// the subscription echo; either way the final list holds exactly one
// entry with the stored id.
func (c *Controller) Send(ctx context.Context, input *domain.MessageCreate) (*domain.Message, error) {
	c.mu.Lock()
	if c.state != nil && c.state.Phase.IsTerminal() {
		phase := c.state.Phase
		c.mu.Unlock()
		return nil, apperrors.InvalidPhaseError("cannot send into a " + string(phase) + " session")
	}
	sessionID := c.session.SessionID
	c.mu.Unlock()

	message, err := c.store.Append(ctx, c.caller, sessionID, input)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.upsertLocked(message)
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.notifyMessages(snapshot)
	return message, nil
}

// MarkRead marks a counterpart's message as read
func (c *Controller) MarkRead(ctx context.Context, messageID uuid.UUID) error {
	c.mu.Lock()
	sessionID := c.session.SessionID
	c.mu.Unlock()

	message, err := c.store.MarkRead(ctx, c.caller, sessionID, messageID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.upsertLocked(message)
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.notifyMessages(snapshot)
	return nil
}

// ReportJoin reports this participant joining the live call
func (c *Controller) ReportJoin(ctx context.Context) (*domain.SessionState, error) {
	c.mu.Lock()
	sessionID, role := c.session.SessionID, c.role
	c.mu.Unlock()

	state, err := c.coordinator.ReportJoin(ctx, sessionID, role)
	if err != nil {
		return nil, err
	}
	c.applyState(state)
	return state, nil
}

// ReportLeave reports this participant leaving the live call
func (c *Controller) ReportLeave(ctx context.Context) (*domain.SessionState, error) {
	c.mu.Lock()
	sessionID, role := c.session.SessionID, c.role
	c.mu.Unlock()

	state, err := c.coordinator.ReportLeave(ctx, sessionID, role)
	if err != nil {
		return nil, err
	}
	c.applyState(state)
	return state, nil
}

// ReportEnd reports the consultation ending
func (c *Controller) ReportEnd(ctx context.Context) (*domain.SessionState, error) {
	c.mu.Lock()
	sessionID := c.session.SessionID
	c.mu.Unlock()

	state, err := c.coordinator.ReportEnd(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	c.applyState(state)
	return state, nil
}

// JoinEligibility reports whether the join window is open at now and, if
// not, how long until it opens. The window opens JoinWindow before the
// scheduled start, boundary inclusive, and never closes on its own.
func JoinEligibility(scheduledAt, now time.Time) (bool, time.Duration) {
	opens := scheduledAt.Add(-domain.JoinWindow)
	if !now.Before(opens) {
		return true, 0
	}
	return false, opens.Sub(now)
}

func (c *Controller) onMessageEvent(ev channel.Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	if ev.IsLocal() {
		c.mu.Unlock()
		c.handleLocal(ev)
		return
	}

	if !c.loaded || c.resyncing {
		c.pending = append(c.pending, ev)
		c.mu.Unlock()
		return
	}

	c.applyLocked(ev)
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.notifyMessages(snapshot)
}

func (c *Controller) onPresenceEvent(ev channel.Event) {
	if ev.IsLocal() {
		c.handleLocal(ev)
		return
	}
	if ev.Kind == channel.EventPhaseChange && ev.State != nil {
		c.applyState(ev.State)
	}
}

// handleLocal reacts to transport-level signals: reset marks the view
// degraded, resync re-fetches the full history since incremental
// delivery may have gaps.
func (c *Controller) handleLocal(ev channel.Event) {
	switch ev.Kind {
	case channel.EventChannelReset:
		c.setDegraded(true)
	case channel.EventChannelResync:
		c.resync()
	}
}

func (c *Controller) resync() {
	c.mu.Lock()
	if c.closed || c.resyncing || !c.loaded {
		c.mu.Unlock()
		return
	}
	c.resyncing = true
	sessionID := c.session.SessionID
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		messages, err := c.store.ListBySession(ctx, c.caller, sessionID)

		// Events delivered while the fetch was in flight were buffered;
		// replay them over the fetched list so an insert committed after
		// the store snapshot is not lost to the replace.
		c.mu.Lock()
		c.resyncing = false
		if err == nil {
			c.messages = messages
		}
		buffered := c.pending
		c.pending = nil
		for _, ev := range buffered {
			c.applyLocked(ev)
		}
		snapshot := c.snapshotLocked()
		c.mu.Unlock()

		if err != nil {
			logger.Warn("view resync failed",
				zap.String("session_id", sessionID.String()), zap.Error(err))
			if len(buffered) > 0 {
				c.notifyMessages(snapshot)
			}
			return
		}

		metrics.ChannelResyncTotal.Inc()
		c.setDegraded(false)
		c.notifyMessages(snapshot)
	}()
}

func (c *Controller) setDegraded(degraded bool) {
	c.mu.Lock()
	changed := c.degraded != degraded
	c.degraded = degraded
	c.mu.Unlock()

	if changed && c.listener.OnDegraded != nil {
		c.listener.OnDegraded(degraded)
	}
}

func (c *Controller) applyState(state *domain.SessionState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	if c.listener.OnState != nil {
		c.listener.OnState(state)
	}
}

func (c *Controller) applyLocked(ev channel.Event) {
	if ev.Message == nil {
		return
	}
	switch ev.Kind {
	case channel.EventMessageInsert, channel.EventMessageUpdate:
		c.upsertLocked(ev.Message)
	}
}

// upsertLocked folds a message into the ordered list: a matching id is
// replaced in place, a new id is inserted at its ordering position.
// Duplicate deliveries of the same insert therefore collapse to one entry.
func (c *Controller) upsertLocked(message *domain.Message) {
	for i, existing := range c.messages {
		if existing.MessageID == message.MessageID {
			c.messages[i] = message
			return
		}
	}

	at := sort.Search(len(c.messages), func(i int) bool {
		return message.Before(c.messages[i])
	})
	c.messages = append(c.messages, nil)
	copy(c.messages[at+1:], c.messages[at:])
	c.messages[at] = message
}

func (c *Controller) snapshotLocked() []*domain.Message {
	snapshot := make([]*domain.Message, len(c.messages))
	copy(snapshot, c.messages)
	return snapshot
}

func (c *Controller) notifyMessages(snapshot []*domain.Message) {
	if c.listener.OnMessages != nil {
		c.listener.OnMessages(snapshot)
	}
}
