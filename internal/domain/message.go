package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageType classifies message content
type MessageType string

const (
	MessageTypeText           MessageType = "text"
	MessageTypePrescription   MessageType = "prescription"
	MessageTypeSystem         MessageType = "system"
	MessageTypeFileAttachment MessageType = "file_attachment"
	MessageTypeImage          MessageType = "image"
)

// Valid reports whether t is a known message type
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypePrescription, MessageTypeSystem,
		MessageTypeFileAttachment, MessageTypeImage:
		return true
	}
	return false
}

// RequiresAttachment reports whether the type must carry an attachment
func (t MessageType) RequiresAttachment() bool {
	return t == MessageTypeFileAttachment || t == MessageTypeImage
}

// MessageStatus is the single per-message delivery status
// (two-party simplification: one status field, not per-recipient receipts)
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// CanAdvanceTo reports whether status may move to next.
// Status only moves forward: sent → delivered → read; read never reverts.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	switch s {
	case MessageStatusSent:
		return next == MessageStatusDelivered || next == MessageStatusRead || next == MessageStatusFailed
	case MessageStatusDelivered:
		return next == MessageStatusRead
	default:
		return false
	}
}

// Attachment references an uploaded file attached to a message.
// URL, Name and Size are required together or absent together.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Message represents a chat message in a consultation session
// Maps to the Cassandra messages table; message ids are TIMEUUIDs so
// (created_at, message_id) is a total creation order within a session
type Message struct {
	MessageID  uuid.UUID     `json:"message_id" cql:"message_id"`
	SessionID  uuid.UUID     `json:"session_id" cql:"session_id"`
	SenderID   uuid.UUID     `json:"sender_id" cql:"sender_id"`
	Content    string        `json:"content" cql:"content"`
	Type       MessageType   `json:"type" cql:"message_type"`
	Status     MessageStatus `json:"status" cql:"status"`
	Attachment *Attachment   `json:"attachment,omitempty" cql:"attachment"`
	Edited     bool          `json:"edited,omitempty" cql:"edited"`
	EditedAt   *time.Time    `json:"edited_at,omitempty" cql:"edited_at"`
	ReplyTo    *uuid.UUID    `json:"reply_to,omitempty" cql:"reply_to"`
	CreatedAt  time.Time     `json:"created_at" cql:"created_at"`
}

// Before reports whether m precedes other in session order:
// ascending (CreatedAt, MessageID) with the id as tie-break
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return lessUUID(m.MessageID, other.MessageID)
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

func lessUUID(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// MessageCreate represents data needed to append a message
type MessageCreate struct {
	Content    string      `json:"content"`
	Type       MessageType `json:"type" binding:"required"`
	Attachment *Attachment `json:"attachment,omitempty"`
	ReplyTo    *uuid.UUID  `json:"reply_to,omitempty"`
}
