package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents a platform account resolved from the caller's token
// Maps to the CockroachDB users table
type User struct {
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	Email       string    `json:"email" db:"email"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Role        Role      `json:"role" db:"role"`
	// ProfileID is the role-specific profile row (doctor or patient profile)
	ProfileID uuid.UUID `json:"profile_id" db:"profile_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Caller is the resolved identity of the authenticated requester
type Caller struct {
	UserID    uuid.UUID `json:"user_id"`
	Role      Role      `json:"role"`
	ProfileID uuid.UUID `json:"profile_id"`
}
