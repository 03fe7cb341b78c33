package channel

import (
	"time"

	"github.com/google/uuid"

	"healthbridge-backend/internal/domain"
)

// EventKind identifies what changed for a session
type EventKind string

const (
	// EventMessageInsert carries a newly appended message
	EventMessageInsert EventKind = "message.insert"
	// EventMessageUpdate carries a message whose status or content changed
	EventMessageUpdate EventKind = "message.update"
	// EventPhaseChange carries the session's new live state
	EventPhaseChange EventKind = "phase.change"

	// EventChannelReset signals the transport dropped; incremental delivery
	// stopped and events may have been missed. Local only, never published.
	EventChannelReset EventKind = "channel.reset"
	// EventChannelResync signals the transport is back (or a subscriber fell
	// behind and recovered); consumers must re-fetch before trusting
	// incremental delivery again. Local only, never published.
	EventChannelResync EventKind = "channel.resync"
)

// Event is the envelope fanned out to session subscribers
type Event struct {
	Kind       EventKind            `json:"kind"`
	SessionID  uuid.UUID            `json:"session_id"`
	Message    *domain.Message      `json:"message,omitempty"`
	State      *domain.SessionState `json:"state,omitempty"`
	OccurredAt time.Time            `json:"occurred_at"`
}

// IsLocal reports whether the event is a broker-generated signal rather
// than a published change
func (e *Event) IsLocal() bool {
	return e.Kind == EventChannelReset || e.Kind == EventChannelResync
}

// MessageTopic returns the pub/sub topic carrying message events for the
// session bound to channelName
func MessageTopic(channelName string) string {
	return "consult:" + channelName + ":messages"
}

// PresenceTopic returns the pub/sub topic carrying phase and join-flag
// events for the session bound to channelName
func PresenceTopic(channelName string) string {
	return "consult:" + channelName + ":presence"
}
