package app

import (
	"gorm.io/gorm"

	"github.com/coachconnect/experiments-backend/internal/data/repos"
	"github.com/coachconnect/experiments-backend/internal/platform/logger"
)

type Repos struct {
	Experiments repos.ExperimentRepo
	Flags       repos.FeatureFlagRepo
	Assignments repos.AssignmentRepo
	Conversions repos.ConversionEventRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Experiments: repos.NewExperimentRepo(db, log),
		Flags:       repos.NewFeatureFlagRepo(db, log),
		Assignments: repos.NewAssignmentRepo(db, log),
		Conversions: repos.NewConversionEventRepo(db, log),
	}
}
