package repos

import (
	"gorm.io/gorm"

	"github.com/coachconnect/experiments-backend/internal/data/repos/experiments"
	"github.com/coachconnect/experiments-backend/internal/platform/logger"
)

type ExperimentRepo = experiments.ExperimentRepo
type AssignmentRepo = experiments.AssignmentRepo
type ConversionEventRepo = experiments.ConversionEventRepo
type FeatureFlagRepo = experiments.FeatureFlagRepo

type VariantCount = experiments.VariantCount
type VariantMetricCount = experiments.VariantMetricCount

func NewExperimentRepo(db *gorm.DB, baseLog *logger.Logger) ExperimentRepo {
	return experiments.NewExperimentRepo(db, baseLog)
}

func NewAssignmentRepo(db *gorm.DB, baseLog *logger.Logger) AssignmentRepo {
	return experiments.NewAssignmentRepo(db, baseLog)
}

func NewConversionEventRepo(db *gorm.DB, baseLog *logger.Logger) ConversionEventRepo {
	return experiments.NewConversionEventRepo(db, baseLog)
}

func NewFeatureFlagRepo(db *gorm.DB, baseLog *logger.Logger) FeatureFlagRepo {
	return experiments.NewFeatureFlagRepo(db, baseLog)
}
