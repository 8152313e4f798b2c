package app

import (
	httpMW "github.com/coachconnect/experiments-backend/internal/http/middleware"
	"github.com/coachconnect/experiments-backend/internal/platform/logger"
)

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

func wireMiddleware(log *logger.Logger, cfg Config) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth: httpMW.NewAuthMiddleware(log, cfg.JWTSecretKey, cfg.AdminAPIKeyHash),
	}
}
