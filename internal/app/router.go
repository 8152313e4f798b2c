package app

import (
	"github.com/gin-gonic/gin"

	httpx "github.com/coachconnect/experiments-backend/internal/http"
	"github.com/coachconnect/experiments-backend/internal/observability"
	"github.com/coachconnect/experiments-backend/internal/platform/logger"
)

func wireRouter(log *logger.Logger, metrics *observability.Metrics, handlerset Handlers, middlewareset Middleware) *gin.Engine {
	return httpx.NewRouter(httpx.RouterConfig{
		Log:     log,
		Metrics: metrics,

		AuthMiddleware: middlewareset.Auth,

		ExperimentHandler: handlerset.Experiment,
		AssignmentHandler: handlerset.Assignment,
		ConversionHandler: handlerset.Conversion,
		FlagHandler:       handlerset.Flag,
		HealthHandler:     handlerset.Health,
	})
}
