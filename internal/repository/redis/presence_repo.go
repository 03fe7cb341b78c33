package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"healthbridge-backend/internal/database"
)

// connectionTTL bounds how stale a presence record can get if a node dies
// without cleaning up. Connected handlers refresh it on every ping.
const connectionTTL = 5 * time.Minute

// PresenceRepository tracks which participants hold a live realtime
// connection to a session channel. This is shared across service
// instances, unlike the per-process connection registry in the hub.
type PresenceRepository struct {
	client *database.RedisClient
}

// NewPresenceRepository creates a new presence repository
func NewPresenceRepository(client *database.RedisClient) *PresenceRepository {
	return &PresenceRepository{client: client}
}

func connectionKey(sessionID, userID uuid.UUID) string {
	return fmt.Sprintf("consult:connected:%s:%s", sessionID, userID)
}

// SetConnected marks a participant as holding a live connection
func (r *PresenceRepository) SetConnected(ctx context.Context, sessionID, userID uuid.UUID) error {
	err := r.client.SafeSet(ctx, connectionKey(sessionID, userID), "1", connectionTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to mark connected: %w", err)
	}
	return nil
}

// Refresh extends the TTL of a live connection record
func (r *PresenceRepository) Refresh(ctx context.Context, sessionID, userID uuid.UUID) error {
	err := r.client.SafeExpire(ctx, connectionKey(sessionID, userID), connectionTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to refresh connection: %w", err)
	}
	return nil
}

// SetDisconnected clears the connection record
func (r *PresenceRepository) SetDisconnected(ctx context.Context, sessionID, userID uuid.UUID) error {
	err := r.client.SafeDel(ctx, connectionKey(sessionID, userID)).Err()
	if err != nil {
		return fmt.Errorf("failed to mark disconnected: %w", err)
	}
	return nil
}

// IsConnected reports whether the participant has a live connection on
// any service instance
func (r *PresenceRepository) IsConnected(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	res, err := r.client.SafeGet(ctx, connectionKey(sessionID, userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("failed to check connection: %w", err)
	}
	return res == "1", nil
}
