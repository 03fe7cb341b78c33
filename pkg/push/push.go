package push

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"healthbridge-backend/pkg/logger"
	"healthbridge-backend/pkg/metrics"
)

// Provider defines the interface for sending push notifications
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
	Errors        []error
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
	Sound    string            `json:"sound,omitempty"`
	Category string            `json:"category,omitempty"`
}

// Platform identifies the push delivery platform of a device token
type Platform string

const (
	PlatformFCM  Platform = "fcm"
	PlatformAPNs Platform = "apns"
)

// Token represents a registered device token for a user
type Token struct {
	UserID       uuid.UUID `json:"user_id"`
	Token        string    `json:"token"`
	Platform     Platform  `json:"platform"`
	RegisteredAt int64     `json:"registered_at"`
}

// TokenRepository defines the interface for device token storage
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error)
	Delete(ctx context.Context, userID uuid.UUID, tokenStr string) error
	DeleteByUserID(ctx context.Context, userID uuid.UUID) error
}

// Service handles push notification delivery
type Service struct {
	provider Provider
	repo     TokenRepository
}

// NewService creates a new push notification service
func NewService(provider Provider, repo TokenRepository) *Service {
	return &Service{
		provider: provider,
		repo:     repo,
	}
}

// RegisterToken registers a device token for a user. Storing the same
// token again is an overwrite, so re-registration is idempotent.
func (s *Service) RegisterToken(ctx context.Context, token *Token) error {
	if token.RegisteredAt == 0 {
		token.RegisteredAt = time.Now().Unix()
	}
	return s.repo.Store(ctx, token)
}

// UnregisterToken removes one device token for a user
func (s *Service) UnregisterToken(ctx context.Context, userID uuid.UUID, tokenStr string) error {
	return s.repo.Delete(ctx, userID, tokenStr)
}

// UnregisterAllTokens removes all device tokens for a user
func (s *Service) UnregisterAllTokens(ctx context.Context, userID uuid.UUID) error {
	return s.repo.DeleteByUserID(ctx, userID)
}

// SendToUser delivers a notification to every registered device of a user.
// Invalid tokens reported by the provider are pruned from storage.
func (s *Service) SendToUser(ctx context.Context, userID uuid.UUID, notification *Notification) error {
	tokens, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		logger.Debug("no device tokens registered, skipping push",
			zap.String("user_id", userID.String()))
		return nil
	}

	tokenStrs := make([]string, 0, len(tokens))
	platformByToken := make(map[string]Platform, len(tokens))
	for _, t := range tokens {
		tokenStrs = append(tokenStrs, t.Token)
		platformByToken[t.Token] = t.Platform
	}

	result, err := s.provider.Send(ctx, notification, tokenStrs)
	if err != nil {
		metrics.RecordPushFailed("all", "provider_error")
		return err
	}

	for _, t := range tokens {
		metrics.RecordPushSent(string(t.Platform))
	}
	for _, invalid := range result.InvalidTokens {
		metrics.RecordPushFailed(string(platformByToken[invalid]), "invalid_token")
		if err := s.repo.Delete(ctx, userID, invalid); err != nil {
			logger.Warn("failed to prune invalid device token",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
	}

	logger.Debug("push notification sent",
		zap.String("user_id", userID.String()),
		zap.Int("success", result.SuccessCount),
		zap.Int("failure", result.FailureCount))
	return nil
}

// MockProvider is a no-op provider for development and tests
type MockProvider struct {
	mu   sync.Mutex
	Sent []*Notification
}

// NewMockProvider creates a new mock provider
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Send records the notification and reports success for every token
func (m *MockProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	m.mu.Lock()
	m.Sent = append(m.Sent, notification)
	m.mu.Unlock()

	return &SendResult{SuccessCount: len(tokens)}, nil
}
