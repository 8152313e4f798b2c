package app

import (
	"time"

	"github.com/coachconnect/experiments-backend/internal/platform/logger"
	"github.com/coachconnect/experiments-backend/internal/utils"
)

type Config struct {
	Port        string
	Environment string
	Version     string

	JWTSecretKey    string
	AdminAPIKeyHash string

	ExperimentCacheTTL time.Duration
	FlagCacheTTL       time.Duration
	FlagSessionTTL     time.Duration
	SweeperInterval    time.Duration

	RedisAddr   string
	MetricsAddr string
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		Port:        utils.GetEnv("PORT", "8080", log),
		Environment: utils.GetEnv("APP_ENV", "development", log),
		Version:     utils.GetEnv("APP_VERSION", "dev", log),

		JWTSecretKey:    utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log),
		AdminAPIKeyHash: utils.GetEnv("ADMIN_API_KEY_HASH", "", log),

		ExperimentCacheTTL: utils.GetEnvAsDuration("EXPERIMENT_CACHE_TTL", 5*time.Minute, log),
		FlagCacheTTL:       utils.GetEnvAsDuration("FLAG_CACHE_TTL", 3*time.Minute, log),
		FlagSessionTTL:     utils.GetEnvAsDuration("FLAG_SESSION_TTL", 3*time.Minute, log),
		SweeperInterval:    utils.GetEnvAsDuration("SWEEPER_INTERVAL", 10*time.Minute, log),

		RedisAddr:   utils.GetEnv("REDIS_ADDR", "", log),
		MetricsAddr: utils.GetEnv("METRICS_ADDR", "", log),
	}
}
