package db

import (
	"gorm.io/gorm"

	"github.com/coachconnect/experiments-backend/internal/domain/experiments"
)

// AutoMigrateAll creates or updates every engine table. The composite unique
// index on experiment_assignment(user_id, experiment_id) declared on the
// model is the storage-level guarantee behind idempotent assignment; nothing
// may weaken it.
func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&experiments.Experiment{},
		&experiments.ExperimentAssignment{},
		&experiments.ConversionEvent{},
		&experiments.FeatureFlag{},
	)
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	return nil
}
