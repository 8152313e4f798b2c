package app

import (
	"gorm.io/gorm"

	"github.com/coachconnect/experiments-backend/internal/platform/logger"
	"github.com/coachconnect/experiments-backend/internal/services"
)

type Services struct {
	Registry    services.RegistryService
	Assignments services.AssignmentService
	Flags       services.FlagService
	Statistics  services.StatisticsService

	Sweeper *services.RuntimeSweeper
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, reposet Repos, clients Clients) Services {
	log.Info("Wiring services...")

	registry := services.NewRegistryService(
		db, log,
		reposet.Experiments,
		reposet.Flags,
		clients.InvalidationBus,
		cfg.ExperimentCacheTTL,
		cfg.FlagCacheTTL,
	)
	assignments := services.NewAssignmentService(db, log, registry, reposet.Assignments, clients.EventBus)
	flags := services.NewFlagService(log, registry, assignments, clients.EventBus, cfg.FlagSessionTTL)
	statistics := services.NewStatisticsService(db, log, registry, reposet.Assignments, reposet.Conversions, clients.EventBus)
	sweeper := services.NewRuntimeSweeper(log, registry, cfg.SweeperInterval)

	return Services{
		Registry:    registry,
		Assignments: assignments,
		Flags:       flags,
		Statistics:  statistics,
		Sweeper:     sweeper,
	}
}
