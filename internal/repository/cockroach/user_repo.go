package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"healthbridge-backend/internal/domain"
)

// UserRepository handles user account lookups. Accounts are provisioned by
// the identity service; this repository only reads.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new user repository
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetByID retrieves a user by id
func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	query := `
		SELECT user_id, email, display_name, role, profile_id, created_at
		FROM users
		WHERE user_id = $1
	`

	user := &domain.User{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&user.UserID,
		&user.Email,
		&user.DisplayName,
		&user.Role,
		&user.ProfileID,
		&user.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ExistsWithRole reports whether a user exists and holds the given role
func (r *UserRepository) ExistsWithRole(ctx context.Context, userID uuid.UUID, role domain.Role) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE user_id = $1 AND role = $2)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, userID, string(role)).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check user role: %w", err)
	}
	return exists, nil
}
