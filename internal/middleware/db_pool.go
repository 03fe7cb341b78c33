package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"healthbridge-backend/internal/database"
	"healthbridge-backend/pkg/logger"
	"healthbridge-backend/pkg/metrics"
)

// poolUsageThreshold is the in-use fraction at which new requests are
// shed instead of queued behind an exhausted pool
const poolUsageThreshold = 0.8

// DBPoolLimiter sheds load when the relational pool nears exhaustion
type DBPoolLimiter struct {
	db *database.DB
}

// NewDBPoolLimiter creates a new database pool limiter
func NewDBPoolLimiter(db *database.DB) *DBPoolLimiter {
	return &DBPoolLimiter{db: db}
}

// Middleware returns a Gin middleware for pool exhaustion protection
func (dpl *DBPoolLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := dpl.db.Stats()
		acquired := int64(stats.AcquiredConns())
		idle := int64(stats.IdleConns())

		metrics.RecordDBConnectionsInUse(int(acquired))
		metrics.RecordDBConnectionsIdle(int(idle))

		maxConns := float64(stats.MaxConns())
		if maxConns > 0 && float64(acquired)/maxConns >= poolUsageThreshold {
			logger.Warn("database connection pool near exhaustion",
				zap.Int64("acquired", acquired),
				zap.Int32("max_conns", stats.MaxConns()),
			)
			metrics.RecordDBConnectionAcquireTimeout()

			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Service temporarily unavailable",
				"code":  "DB_POOL_EXHAUSTED",
			})
			c.Abort()
			return
		}

		metrics.RecordDBConnectionAcquire()
		c.Next()
	}
}
