package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alimgiray/gitalizer/pkg/logger"
	"github.com/alimgiray/gitalizer/pkg/metrics"
)

// Counter returns the number of stored rows of one entity
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// StatusHandler serves health, store statistics and metrics
type StatusHandler struct {
	counters map[string]Counter
	started  time.Time
}

func NewStatusHandler(counters map[string]Counter) *StatusHandler {
	return &StatusHandler{
		counters: counters,
		started:  time.Now(),
	}
}

// Register mounts the status routes on router
func (h *StatusHandler) Register(router gin.IRouter) {
	router.GET("/health", h.HealthCheck)
	router.GET("/stats", h.Stats)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// HealthCheck handles health check requests
func (h *StatusHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// Stats returns the row count of every entity
func (h *StatusHandler) Stats(c *gin.Context) {
	names := make([]string, 0, len(h.counters))
	for name := range h.counters {
		names = append(names, name)
	}
	sort.Strings(names)

	counts := make(gin.H, len(names))
	for _, name := range names {
		count, err := h.counters[name].Count(c.Request.Context())
		if err != nil {
			logger.WithError(err).WithField("entity", name).Error("Failed to count rows")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count " + name})
			return
		}
		counts[name] = count
	}
	c.JSON(http.StatusOK, counts)
}
