package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/coachconnect/experiments-backend/internal/http/handlers"
	httpMW "github.com/coachconnect/experiments-backend/internal/http/middleware"
	"github.com/coachconnect/experiments-backend/internal/observability"
	"github.com/coachconnect/experiments-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log     *logger.Logger
	Metrics *observability.Metrics

	AuthMiddleware *httpMW.AuthMiddleware

	ExperimentHandler *httpH.ExperimentHandler
	AssignmentHandler *httpH.AssignmentHandler
	ConversionHandler *httpH.ConversionHandler
	FlagHandler       *httpH.FlagHandler
	HealthHandler     *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")

	// Evaluation surface: any authenticated caller.
	evaluation := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			evaluation.Use(cfg.AuthMiddleware.RequireAuth())
		}

		if cfg.AssignmentHandler != nil {
			evaluation.POST("/experiments/:id/assignment", cfg.AssignmentHandler.Assign)
			evaluation.GET("/assignments", cfg.AssignmentHandler.ListMine)
		}

		if cfg.ConversionHandler != nil {
			evaluation.POST("/experiments/:id/conversions", cfg.ConversionHandler.Track)
		}

		if cfg.FlagHandler != nil {
			evaluation.POST("/flags/evaluate", cfg.FlagHandler.EvaluateAll)
			evaluation.POST("/flags/:key/evaluate", cfg.FlagHandler.Evaluate)
		}
	}

	// Admin surface: registry writes and results, gated on the operations key.
	admin := api.Group("/admin")
	{
		if cfg.AuthMiddleware != nil {
			admin.Use(cfg.AuthMiddleware.RequireAdminKey())
		}

		if cfg.ExperimentHandler != nil {
			admin.POST("/experiments", cfg.ExperimentHandler.Create)
			admin.GET("/experiments", cfg.ExperimentHandler.List)
			admin.GET("/experiments/:id", cfg.ExperimentHandler.Get)
			admin.PATCH("/experiments/:id", cfg.ExperimentHandler.Update)
			admin.POST("/experiments/:id/start", cfg.ExperimentHandler.Start)
			admin.POST("/experiments/:id/stop", cfg.ExperimentHandler.Stop)
			admin.DELETE("/experiments/:id", cfg.ExperimentHandler.Delete)
			admin.GET("/experiments/:id/results", cfg.ExperimentHandler.Results)
			admin.GET("/experiments/:id/summary", cfg.ExperimentHandler.Summary)
		}

		if cfg.FlagHandler != nil {
			admin.POST("/flags", cfg.FlagHandler.Create)
			admin.GET("/flags", cfg.FlagHandler.List)
			admin.GET("/flags/:key", cfg.FlagHandler.Get)
			admin.PATCH("/flags/:key", cfg.FlagHandler.Update)
			admin.POST("/flags/:key/toggle", cfg.FlagHandler.Toggle)
			admin.DELETE("/flags/:key", cfg.FlagHandler.Delete)
		}
	}

	return r
}
