package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"healthbridge-backend/internal/domain"
	"healthbridge-backend/pkg/cache"
	"healthbridge-backend/pkg/logger"
	"healthbridge-backend/pkg/push"
)

const (
	notifyTimeout = 10 * time.Second

	// display names change rarely; a short TTL keeps renames from
	// sticking in notification titles for long
	nameCacheTTL  = 5 * time.Minute
	nameCacheSize = 10000
)

// ConnectionChecker reports whether a participant holds a live realtime
// connection to the session on any instance
type ConnectionChecker interface {
	IsConnected(ctx context.Context, sessionID, userID uuid.UUID) (bool, error)
}

// UserRepository resolves sender display names for notification bodies
type UserRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// Service delivers push notifications to participants who are not
// currently connected. Connected participants receive the message over
// their realtime subscription instead.
type Service struct {
	connections ConnectionChecker
	userRepo    UserRepository
	pusher      *push.Service
	names       *cache.MemoryCache
}

// NewService creates a new notification service
func NewService(connections ConnectionChecker, userRepo UserRepository, pusher *push.Service) *Service {
	return &Service{
		connections: connections,
		userRepo:    userRepo,
		pusher:      pusher,
		names:       cache.NewMemoryCache(nameCacheTTL, nameCacheSize),
	}
}

// NotifyMessage pushes a new-message notification to the recipient when
// they have no live connection. Runs detached from the request: a slow
// or failing push gateway must never delay message delivery.
func (s *Service) NotifyMessage(session *domain.Session, message *domain.Message) {
	senderRole, ok := session.RoleOf(message.SenderID)
	if !ok {
		return
	}
	recipientID := session.ParticipantID(senderRole.Other())

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		connected, err := s.connections.IsConnected(ctx, session.SessionID, recipientID)
		if err != nil {
			logger.Warn("connection check failed, pushing anyway",
				zap.String("session_id", session.SessionID.String()),
				zap.Error(err))
		}
		if connected {
			return
		}

		notification := s.buildNotification(ctx, session, message)
		if err := s.pusher.SendToUser(ctx, recipientID, notification); err != nil {
			logger.Error("push delivery failed",
				zap.String("session_id", session.SessionID.String()),
				zap.String("recipient_id", recipientID.String()),
				zap.Error(err))
		}
	}()
}

func (s *Service) buildNotification(ctx context.Context, session *domain.Session, message *domain.Message) *push.Notification {
	title := "New message"
	if name := s.senderName(ctx, message.SenderID); name != "" {
		title = "New message from " + name
	}

	return &push.Notification{
		Title: title,
		Body:  preview(message),
		Data: map[string]string{
			"session_id": session.SessionID.String(),
			"message_id": message.MessageID.String(),
			"type":       string(message.Type),
		},
		Sound:    "default",
		Category: "consult_message",
	}
}

// senderName resolves a display name through the short-lived cache so a
// burst of messages from one sender costs a single user lookup
func (s *Service) senderName(ctx context.Context, userID uuid.UUID) string {
	key := userID.String()
	if cached, ok := s.names.Get(key); ok {
		if name, ok := cached.(string); ok {
			return name
		}
	}

	sender, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return ""
	}
	s.names.Set(key, sender.DisplayName, 0)
	return sender.DisplayName
}

func preview(message *domain.Message) string {
	switch message.Type {
	case domain.MessageTypePrescription:
		return "You received a prescription"
	case domain.MessageTypeFileAttachment, domain.MessageTypeImage:
		if message.Attachment != nil && message.Attachment.Name != "" {
			return "Attachment: " + message.Attachment.Name
		}
		return "You received an attachment"
	default:
		const maxPreview = 120
		if len(message.Content) > maxPreview {
			return message.Content[:maxPreview] + "…"
		}
		return message.Content
	}
}
