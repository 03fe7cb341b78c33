// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// JWT-related constants
const (
	// AccessTokenExpiry is the default access token lifetime
	AccessTokenExpiry = 15 * time.Minute
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute
)

// Storage and file upload constants
const (
	// PresignedURLExpiry is the validity period for presigned upload URLs
	PresignedURLExpiry = 15 * time.Minute
)

// Push notification constants
const (
	// PushTokenExpiry is the validity period for push notification tokens
	PushTokenExpiry = 30 * 24 * time.Hour // 30 days
)

// Pagination constants
const (
	// DefaultPageSize is the default number of items per page
	DefaultPageSize = 50

	// MaxPageSize is the maximum number of items per page
	MaxPageSize = 200
)

// Message constants
const (
	// MaxMessageLength is the maximum allowed message content length
	MaxMessageLength = 10000

	// MaxAttachmentSize is the maximum allowed attachment size in bytes (50MB)
	MaxAttachmentSize = 50 * 1024 * 1024

	// MaxAttachmentNameLength is the maximum allowed attachment file name length
	MaxAttachmentNameLength = 255
)
