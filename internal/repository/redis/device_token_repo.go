package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"healthbridge-backend/internal/database"
	"healthbridge-backend/pkg/constants"
	"healthbridge-backend/pkg/logger"
	"healthbridge-backend/pkg/push"
)

// DeviceTokenRepository stores push notification device tokens in Redis.
// Tokens live in one hash per user, keyed by the raw token string, so
// re-registering the same device overwrites instead of duplicating.
type DeviceTokenRepository struct {
	client *database.RedisClient
}

// NewDeviceTokenRepository creates a new device token repository
func NewDeviceTokenRepository(client *database.RedisClient) *DeviceTokenRepository {
	return &DeviceTokenRepository{client: client}
}

func userTokensKey(userID uuid.UUID) string {
	return fmt.Sprintf("push:user:%s:tokens", userID)
}

// Store registers a device token for a user
func (r *DeviceTokenRepository) Store(ctx context.Context, token *push.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	key := userTokensKey(token.UserID)
	if err := r.client.SafeHSet(ctx, key, token.Token, data).Err(); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	// Whole hash expires together; each registration pushes it out
	if err := r.client.SafeExpire(ctx, key, constants.PushTokenExpiry).Err(); err != nil {
		logger.Warn("failed to set expiration on device tokens",
			zap.String("user_id", token.UserID.String()),
			zap.Error(err))
	}

	return nil
}

// GetByUserID retrieves all device tokens for a user
func (r *DeviceTokenRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*push.Token, error) {
	entries, err := r.client.SafeHGetAll(ctx, userTokensKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get device tokens: %w", err)
	}

	tokens := make([]*push.Token, 0, len(entries))
	for raw, data := range entries {
		var token push.Token
		if err := json.Unmarshal([]byte(data), &token); err != nil {
			logger.Warn("skipping undecodable device token",
				zap.String("user_id", userID.String()),
				zap.String("token", raw),
				zap.Error(err))
			continue
		}
		tokens = append(tokens, &token)
	}
	return tokens, nil
}

// Delete removes one device token for a user
func (r *DeviceTokenRepository) Delete(ctx context.Context, userID uuid.UUID, tokenStr string) error {
	if err := r.client.SafeHDel(ctx, userTokensKey(userID), tokenStr).Err(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// DeleteByUserID removes all device tokens for a user
func (r *DeviceTokenRepository) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.SafeDel(ctx, userTokensKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete user tokens: %w", err)
	}
	return nil
}
