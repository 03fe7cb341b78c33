package messaging

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"healthbridge-backend/internal/channel"
	"healthbridge-backend/internal/domain"
	"healthbridge-backend/internal/repository/cassandra"
	"healthbridge-backend/internal/repository/cockroach"
	"healthbridge-backend/pkg/constants"
	apperrors "healthbridge-backend/pkg/errors"
	"healthbridge-backend/pkg/logger"
	"healthbridge-backend/pkg/metrics"
)

// MessageRepository is the message log storage contract
type MessageRepository interface {
	Insert(ctx context.Context, message *domain.Message) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*domain.Message, error)
	ListPage(ctx context.Context, sessionID uuid.UUID, limit int, pageState []byte) ([]*domain.Message, []byte, error)
	GetByID(ctx context.Context, sessionID, messageID uuid.UUID) (*domain.Message, error)
	UpdateStatus(ctx context.Context, message *domain.Message, status domain.MessageStatus) error
	UpdateContent(ctx context.Context, message *domain.Message, content string, editedAt time.Time) error
}

// SessionRepository is the subset of session storage this service reads
type SessionRepository interface {
	GetByID(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error)
}

// Publisher pushes events onto the session's message topic
type Publisher interface {
	Publish(ctx context.Context, topic string, ev *channel.Event) error
}

// Notifier alerts a participant who has no live connection. Implementations
// must not block; delivery is best-effort.
type Notifier interface {
	NotifyMessage(session *domain.Session, message *domain.Message)
}

// Service owns the append/read/status contract of the consultation
// message log. Every successful mutation is published to the session's
// message topic so subscribers never need to poll.
type Service struct {
	messageRepo MessageRepository
	sessionRepo SessionRepository
	publisher   Publisher
	notifier    Notifier // optional

	now func() time.Time
}

// NewService creates a new messaging service
func NewService(messageRepo MessageRepository, sessionRepo SessionRepository, publisher Publisher, notifier Notifier) *Service {
	return &Service{
		messageRepo: messageRepo,
		sessionRepo: sessionRepo,
		publisher:   publisher,
		notifier:    notifier,
		now:         time.Now,
	}
}

// loadSessionFor loads the session and verifies the caller participates in it
func (s *Service) loadSessionFor(ctx context.Context, caller domain.Caller, sessionID uuid.UUID) (*domain.Session, domain.Role, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if err == cockroach.ErrNotFound {
			return nil, "", apperrors.NotFoundError("session")
		}
		return nil, "", apperrors.DatabaseError(err)
	}

	role, ok := session.RoleOf(caller.UserID)
	if !ok {
		return nil, "", apperrors.UnauthorizedError("caller is not a participant of this session")
	}
	return session, role, nil
}

// Append validates and persists a new message, then fans it out. The id
// and creation timestamp are assigned by the store at commit time so
// ordering never depends on client clocks.
func (s *Service) Append(ctx context.Context, caller domain.Caller, sessionID uuid.UUID, input *domain.MessageCreate) (*domain.Message, error) {
	session, _, err := s.loadSessionFor(ctx, caller, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Phase.IsTerminal() {
		metrics.RecordMessageRejected("invalid_phase")
		return nil, apperrors.InvalidPhaseError("cannot send into a " + string(session.Phase) + " session")
	}

	if err := validateCreate(input); err != nil {
		metrics.RecordMessageRejected("invalid_message")
		return nil, err
	}

	if input.ReplyTo != nil {
		if _, err := s.messageRepo.GetByID(ctx, sessionID, *input.ReplyTo); err != nil {
			if err == cassandra.ErrNotFound {
				metrics.RecordMessageRejected("invalid_reference")
				return nil, apperrors.InvalidReferenceError("reply target does not exist in this session")
			}
			return nil, apperrors.DatabaseError(err)
		}
	}

	message := &domain.Message{
		SessionID:  sessionID,
		SenderID:   caller.UserID,
		Content:    input.Content,
		Type:       input.Type,
		Status:     domain.MessageStatusSent,
		Attachment: input.Attachment,
		ReplyTo:    input.ReplyTo,
	}

	persistStart := s.now()
	if err := s.messageRepo.Insert(ctx, message); err != nil {
		metrics.RecordMessagePersisted("error")
		return nil, apperrors.DatabaseError(err)
	}
	metrics.RecordMessagePersisted("success")
	metrics.RecordMessageAppended(string(message.Type))
	metrics.RecordDeliveryStep("persist", time.Since(persistStart).Seconds())

	// Fan-out failure does not roll back the append; the message is marked
	// failed so clients can distinguish stored-but-undelivered.
	publishStart := s.now()
	ev := &channel.Event{
		Kind:       channel.EventMessageInsert,
		SessionID:  sessionID,
		Message:    message,
		OccurredAt: message.CreatedAt,
	}
	if err := s.publisher.Publish(ctx, channel.MessageTopic(session.ChannelName), ev); err != nil {
		logger.Error("failed to publish message insert",
			zap.String("session_id", sessionID.String()),
			zap.String("message_id", message.MessageID.String()),
			zap.Error(err))
		if updErr := s.messageRepo.UpdateStatus(ctx, message, domain.MessageStatusFailed); updErr != nil {
			logger.Error("failed to mark message as failed",
				zap.String("message_id", message.MessageID.String()),
				zap.Error(updErr))
		} else {
			message.Status = domain.MessageStatusFailed
			metrics.RecordMessageStatus(string(domain.MessageStatusFailed))
		}
		return message, nil
	}
	metrics.RecordDeliveryStep("publish", time.Since(publishStart).Seconds())

	if s.notifier != nil {
		s.notifier.NotifyMessage(session, message)
	}

	return message, nil
}

// ListBySession returns the full ordered message log of a session
func (s *Service) ListBySession(ctx context.Context, caller domain.Caller, sessionID uuid.UUID) ([]*domain.Message, error) {
	if _, _, err := s.loadSessionFor(ctx, caller, sessionID); err != nil {
		return nil, err
	}

	messages, err := s.messageRepo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return messages, nil
}

// GetHistory returns one page of the message log with an opaque cursor
func (s *Service) GetHistory(ctx context.Context, caller domain.Caller, sessionID uuid.UUID, limit int, pageState []byte) ([]*domain.Message, []byte, error) {
	if _, _, err := s.loadSessionFor(ctx, caller, sessionID); err != nil {
		return nil, nil, err
	}

	if limit <= 0 || limit > constants.MaxPageSize {
		limit = constants.DefaultPageSize
	}

	messages, next, err := s.messageRepo.ListPage(ctx, sessionID, limit, pageState)
	if err != nil {
		return nil, nil, apperrors.DatabaseError(err)
	}
	return messages, next, nil
}

// MarkRead transitions a message to read. Re-reading an already read
// message is a no-op; readers cannot mark their own messages.
func (s *Service) MarkRead(ctx context.Context, caller domain.Caller, sessionID, messageID uuid.UUID) (*domain.Message, error) {
	session, _, err := s.loadSessionFor(ctx, caller, sessionID)
	if err != nil {
		return nil, err
	}

	message, err := s.messageRepo.GetByID(ctx, sessionID, messageID)
	if err != nil {
		if err == cassandra.ErrNotFound {
			return nil, apperrors.NotFoundError("message")
		}
		return nil, apperrors.DatabaseError(err)
	}

	if message.SenderID == caller.UserID {
		return nil, apperrors.UnauthorizedError("cannot mark own message as read")
	}

	if message.Status == domain.MessageStatusRead {
		return message, nil
	}
	if !message.Status.CanAdvanceTo(domain.MessageStatusRead) {
		return nil, apperrors.InvalidMessageError("message in status " + string(message.Status) + " cannot be marked read")
	}

	return s.advanceStatus(ctx, session, message, domain.MessageStatusRead)
}

// MarkDelivered records that the recipient's client received the message
// over the live channel. Called by the realtime layer, not end users;
// out-of-order calls (already delivered or read) are silent no-ops.
func (s *Service) MarkDelivered(ctx context.Context, recipientID uuid.UUID, sessionID, messageID uuid.UUID) (*domain.Message, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if err == cockroach.ErrNotFound {
			return nil, apperrors.NotFoundError("session")
		}
		return nil, apperrors.DatabaseError(err)
	}
	if _, ok := session.RoleOf(recipientID); !ok {
		return nil, apperrors.UnauthorizedError("recipient is not a participant of this session")
	}

	message, err := s.messageRepo.GetByID(ctx, sessionID, messageID)
	if err != nil {
		if err == cassandra.ErrNotFound {
			return nil, apperrors.NotFoundError("message")
		}
		return nil, apperrors.DatabaseError(err)
	}

	if message.SenderID == recipientID ||
		!message.Status.CanAdvanceTo(domain.MessageStatusDelivered) {
		return message, nil
	}

	return s.advanceStatus(ctx, session, message, domain.MessageStatusDelivered)
}

// EditMessage replaces the content of a previously sent text message
func (s *Service) EditMessage(ctx context.Context, caller domain.Caller, sessionID, messageID uuid.UUID, content string) (*domain.Message, error) {
	session, _, err := s.loadSessionFor(ctx, caller, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Phase.IsTerminal() {
		return nil, apperrors.InvalidPhaseError("cannot edit messages in a " + string(session.Phase) + " session")
	}

	message, err := s.messageRepo.GetByID(ctx, sessionID, messageID)
	if err != nil {
		if err == cassandra.ErrNotFound {
			return nil, apperrors.NotFoundError("message")
		}
		return nil, apperrors.DatabaseError(err)
	}

	if message.SenderID != caller.UserID {
		return nil, apperrors.UnauthorizedError("only the sender can edit a message")
	}
	if message.Type != domain.MessageTypeText && message.Type != domain.MessageTypePrescription {
		return nil, apperrors.InvalidMessageError("only text and prescription messages can be edited")
	}
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.InvalidMessageError("content is required")
	}
	if len(content) > constants.MaxMessageLength {
		return nil, apperrors.InvalidMessageError("content exceeds maximum length")
	}

	editedAt := s.now().UTC()
	if err := s.messageRepo.UpdateContent(ctx, message, content, editedAt); err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	message.Content = content
	message.Edited = true
	message.EditedAt = &editedAt

	s.publishUpdate(ctx, session, message)
	return message, nil
}

// advanceStatus persists a status transition and fans it out
func (s *Service) advanceStatus(ctx context.Context, session *domain.Session, message *domain.Message, status domain.MessageStatus) (*domain.Message, error) {
	if err := s.messageRepo.UpdateStatus(ctx, message, status); err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	message.Status = status
	metrics.RecordMessageStatus(string(status))

	s.publishUpdate(ctx, session, message)
	return message, nil
}

func (s *Service) publishUpdate(ctx context.Context, session *domain.Session, message *domain.Message) {
	ev := &channel.Event{
		Kind:       channel.EventMessageUpdate,
		SessionID:  session.SessionID,
		Message:    message,
		OccurredAt: s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, channel.MessageTopic(session.ChannelName), ev); err != nil {
		logger.Error("failed to publish message update",
			zap.String("session_id", session.SessionID.String()),
			zap.String("message_id", message.MessageID.String()),
			zap.Error(err))
	}
}

// validateCreate checks the shape of an append request
func validateCreate(input *domain.MessageCreate) error {
	if !input.Type.Valid() {
		return apperrors.InvalidMessageError("unknown message type")
	}

	switch {
	case input.Type.RequiresAttachment():
		if input.Attachment == nil {
			return apperrors.InvalidMessageError("attachment is required for " + string(input.Type) + " messages")
		}
	case input.Attachment != nil:
		return apperrors.InvalidMessageError("attachment is not allowed for " + string(input.Type) + " messages")
	}

	if input.Attachment != nil {
		att := input.Attachment
		if att.URL == "" || att.Name == "" || att.Size <= 0 {
			return apperrors.InvalidMessageError("attachment url, name and size are required together")
		}
		if att.Size > constants.MaxAttachmentSize {
			return apperrors.InvalidMessageError("attachment exceeds maximum size")
		}
		if len(att.Name) > constants.MaxAttachmentNameLength {
			return apperrors.InvalidMessageError("attachment name exceeds maximum length")
		}
	}

	if input.Type == domain.MessageTypeText || input.Type == domain.MessageTypePrescription {
		if strings.TrimSpace(input.Content) == "" {
			return apperrors.InvalidMessageError("content is required for " + string(input.Type) + " messages")
		}
	}
	if len(input.Content) > constants.MaxMessageLength {
		return apperrors.InvalidMessageError("content exceeds maximum length")
	}

	return nil
}
