package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-jwt-signing-0042"

func TestGenerateAndValidateToken(t *testing.T) {
	manager := NewManager(testSecret, time.Hour)
	userID, profileID := uuid.New(), uuid.New()

	token, err := manager.GenerateToken(userID, "doctor", profileID, "Dr. Nguyen")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := manager.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "doctor", claims.Role)
	assert.Equal(t, profileID, claims.ProfileID)
	assert.Equal(t, "Dr. Nguyen", claims.DisplayName)
	assert.Equal(t, userID.String(), claims.Subject)
}

func TestValidateExpiredToken(t *testing.T) {
	manager := NewManager(testSecret, -time.Minute)

	token, err := manager.GenerateToken(uuid.New(), "patient", uuid.New(), "Pat")
	require.NoError(t, err)

	_, err = manager.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateWrongSecret(t *testing.T) {
	manager := NewManager(testSecret, time.Hour)
	other := NewManager("a-completely-different-secret-key-00", time.Hour)

	token, err := manager.GenerateToken(uuid.New(), "patient", uuid.New(), "Pat")
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateGarbageToken(t *testing.T) {
	manager := NewManager(testSecret, time.Hour)

	_, err := manager.ValidateToken("not.a.jwt")
	assert.Error(t, err)

	_, err = manager.ValidateToken("")
	assert.Error(t, err)
}
