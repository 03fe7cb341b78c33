package bridge

import (
	apperrors "healthbridge-backend/pkg/errors"
)

// EventType is the fixed set of presence triggers the coordinator
// consumes. Bridge-specific event names are folded into these at the
// boundary and never leak further in.
type EventType string

const (
	EventJoined EventType = "joined"
	EventLeft   EventType = "left"
	EventEnded  EventType = "ended"
)

// Event is a bridge callback translated into coordinator terms
type Event struct {
	Type        EventType
	ChannelName string
	// ParticipantName is the display identity the bridge was given at
	// embed time; empty for session-level events like ended
	ParticipantName string
}

// bridgeEventNames maps the conference provider's webhook event names
// onto the fixed event set. Providers emit both room-level and
// participant-level variants for the same lifecycle moment.
var bridgeEventNames = map[string]EventType{
	"participantJoined":     EventJoined,
	"videoConferenceJoined": EventJoined,
	"participantLeft":       EventLeft,
	"videoConferenceLeft":   EventLeft,
	"readyToClose":          EventEnded,
	"conferenceEnded":       EventEnded,
}

// WebhookPayload is the raw shape posted by the conference bridge
type WebhookPayload struct {
	Event       string `json:"event" binding:"required"`
	RoomName    string `json:"room_name" binding:"required"`
	Participant string `json:"participant,omitempty"`
}

// Translate converts a raw webhook payload into a fixed tagged event.
// Unknown event names are rejected rather than guessed at.
func Translate(payload *WebhookPayload) (*Event, error) {
	eventType, ok := bridgeEventNames[payload.Event]
	if !ok {
		return nil, apperrors.ValidationError("unknown bridge event: " + payload.Event)
	}
	if payload.RoomName == "" {
		return nil, apperrors.ValidationError("bridge event missing room name")
	}

	return &Event{
		Type:            eventType,
		ChannelName:     payload.RoomName,
		ParticipantName: payload.Participant,
	}, nil
}
