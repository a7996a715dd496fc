package handlers

import (
	"net/http"
	"time"

	"lcmeval/internal/database"
	"lcmeval/internal/events"
	"lcmeval/internal/pipeline"
	"lcmeval/pkg/logger"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const serviceName = "lcmeval"

// HealthHandler reports database, event flow and pipeline health. Every
// dependency is optional; db is nil when persistence runs in memory.
type HealthHandler struct {
	db      *gorm.DB
	monitor *events.Monitor
	metrics *pipeline.Metrics
	logger  *logger.Logger
}

func NewHealthHandler(db *gorm.DB, monitor *events.Monitor, metrics *pipeline.Metrics, logger *logger.Logger) *HealthHandler {
	return &HealthHandler{
		db:      db,
		monitor: monitor,
		metrics: metrics,
		logger:  logger,
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	status := "ok"
	statusCode := http.StatusOK
	databaseStatus := "disabled"

	if h.db != nil {
		databaseStatus = "ok"
		if err := database.HealthCheck(h.db); err != nil {
			h.logger.Errorw("Database health check failed", "error", err)
			status = "error"
			databaseStatus = "error"
			statusCode = http.StatusServiceUnavailable
		}
	}

	response := gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   serviceName,
		"database":  databaseStatus,
	}
	if h.monitor != nil {
		response["events"] = h.monitor.HealthStatus()
	}
	if h.metrics != nil {
		response["pipeline"] = h.metrics.GetHealthStatus()
	}

	c.JSON(statusCode, response)
}
