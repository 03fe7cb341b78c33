package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"healthbridge-backend/internal/domain"
	"healthbridge-backend/pkg/jwt"
	"healthbridge-backend/pkg/response"
)

const (
	// ContextCallerKey holds the resolved domain.Caller in the gin context
	ContextCallerKey = "caller"
	// ContextDisplayNameKey holds the caller's display name
	ContextDisplayNameKey = "display_name"
)

// AuthMiddleware validates the bearer token and resolves the caller
// identity for downstream handlers
func AuthMiddleware(jwtManager *jwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "Authorization header required")
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "Invalid authorization header format")
			c.Abort()
			return
		}

		claims, err := jwtManager.ValidateToken(parts[1])
		if err != nil {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		role := domain.Role(claims.Role)
		if role != domain.RoleDoctor && role != domain.RolePatient {
			response.Forbidden(c, "Unknown caller role")
			c.Abort()
			return
		}

		c.Set(ContextCallerKey, domain.Caller{
			UserID:    claims.UserID,
			Role:      role,
			ProfileID: claims.ProfileID,
		})
		c.Set(ContextDisplayNameKey, claims.DisplayName)
		c.Next()
	}
}

// CallerFromContext extracts the authenticated caller set by AuthMiddleware
func CallerFromContext(c *gin.Context) (domain.Caller, bool) {
	val, exists := c.Get(ContextCallerKey)
	if !exists {
		return domain.Caller{}, false
	}
	caller, ok := val.(domain.Caller)
	return caller, ok
}
