package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"presence-service/internal/database"
)

const readyTimeout = 5 * time.Second

// Fan-out modes reported by Ready
const (
	fanoutRedis = "redis"
	fanoutLocal = "local"
)

// HealthHandler serves the liveness and readiness endpoints.
// Presence rows live in the database, so it is required. Redis only carries
// change notices between instances and is checked when it is configured.
type HealthHandler struct {
	db    *gorm.DB
	redis *redis.Client
}

// NewHealthHandler creates a HealthHandler; redis is nil when fan-out is local only
func NewHealthHandler(db *gorm.DB, redis *redis.Client) *HealthHandler {
	return &HealthHandler{
		db:    db,
		redis: redis,
	}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "presence-service",
	})
}

// Ready reports 503 when presence writes or cross-instance notices would fail
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	fanout := fanoutLocal
	if h.redis != nil {
		fanout = fanoutRedis
	}

	if !database.IsConnected(ctx, h.db) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"error":  "database not reachable",
			"fanout": fanout,
		})
		return
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  "redis not reachable",
				"fanout": fanout,
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"fanout": fanout,
	})
}
