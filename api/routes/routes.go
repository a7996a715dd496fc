package routes

import (
	"lcmeval/api/handlers"
	"lcmeval/api/middleware"
	"lcmeval/internal/catalog"
	"lcmeval/internal/common"
	"lcmeval/internal/coverage"
	"lcmeval/internal/events"
	"lcmeval/internal/pipeline"
	"lcmeval/internal/store"
	"lcmeval/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Dependencies are the services behind the HTTP API. DB, Monitor and
// Metrics may be nil.
type Dependencies struct {
	DB         *gorm.DB
	Tracker    *coverage.Tracker[catalog.APIEntry]
	Repository store.Repository
	RunID      common.RunID
	Monitor    *events.Monitor
	Metrics    *pipeline.Metrics
	Registry   *prometheus.Registry
	Logger     *logger.Logger
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.Use(middleware.RequestLogging(deps.Logger))
	router.Use(gin.Recovery())
	if deps.Registry != nil {
		router.Use(middleware.RequestMetrics(deps.Registry))
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Monitor, deps.Metrics, deps.Logger)
	coverageHandler := handlers.NewCoverageHandler(deps.Tracker, deps.Repository, deps.RunID, deps.Logger)
	generationsHandler := handlers.NewGenerationsHandler(deps.Repository, deps.Logger)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", healthHandler.Check)

		v1.GET("/coverage", coverageHandler.Stats)
		v1.GET("/coverage/uncovered", coverageHandler.Uncovered)
		v1.POST("/coverage/sample", coverageHandler.Sample)
		v1.POST("/coverage/report", coverageHandler.Report)

		v1.GET("/generations", generationsHandler.List)
		v1.GET("/generations/:id", generationsHandler.Get)
	}

	// Root health check
	router.GET("/health", healthHandler.Check)
}
