package experiments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/coachconnect/experiments-backend/internal/domain/experiments"
	"github.com/coachconnect/experiments-backend/internal/platform/logger"
)

// VariantCount is one GROUP BY row of assignment counts per variant.
type VariantCount struct {
	VariantID string
	N         int64
}

type AssignmentRepo interface {
	// InsertIfAbsent writes the assignment unless one already exists for the
	// same (user_id, experiment_id). Returns true when this call created the
	// row; false when a concurrent or earlier call won the insert.
	InsertIfAbsent(ctx context.Context, tx *gorm.DB, row *types.ExperimentAssignment) (bool, error)

	GetByUserAndExperiment(ctx context.Context, tx *gorm.DB, userID string, experimentID uuid.UUID) (*types.ExperimentAssignment, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID string) ([]*types.ExperimentAssignment, error)

	CountByVariant(ctx context.Context, tx *gorm.DB, experimentID uuid.UUID) ([]VariantCount, error)
	DeleteByExperiment(ctx context.Context, tx *gorm.DB, experimentID uuid.UUID) error
}

type assignmentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAssignmentRepo(db *gorm.DB, baseLog *logger.Logger) AssignmentRepo {
	return &assignmentRepo{db: db, log: baseLog.With("repo", "AssignmentRepo")}
}

func (r *assignmentRepo) InsertIfAbsent(ctx context.Context, tx *gorm.DB, row *types.ExperimentAssignment) (bool, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	if row == nil {
		return false, nil
	}
	res := t.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "experiment_id"}},
		DoNothing: true,
	}).Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *assignmentRepo) GetByUserAndExperiment(ctx context.Context, tx *gorm.DB, userID string, experimentID uuid.UUID) (*types.ExperimentAssignment, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	if userID == "" || experimentID == uuid.Nil {
		return nil, nil
	}
	var rows []*types.ExperimentAssignment
	if err := t.WithContext(ctx).
		Where("user_id = ? AND experiment_id = ?", userID, experimentID).
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *assignmentRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID string) ([]*types.ExperimentAssignment, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	if userID == "" {
		return nil, nil
	}
	var out []*types.ExperimentAssignment
	if err := t.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("assigned_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *assignmentRepo) CountByVariant(ctx context.Context, tx *gorm.DB, experimentID uuid.UUID) ([]VariantCount, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	if experimentID == uuid.Nil {
		return nil, nil
	}
	var out []VariantCount
	if err := t.WithContext(ctx).
		Model(&types.ExperimentAssignment{}).
		Select("variant_id AS variant_id, COUNT(*) AS n").
		Where("experiment_id = ?", experimentID).
		Group("variant_id").
		Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *assignmentRepo) DeleteByExperiment(ctx context.Context, tx *gorm.DB, experimentID uuid.UUID) error {
	t := tx
	if t == nil {
		t = r.db
	}
	if experimentID == uuid.Nil {
		return nil
	}
	return t.WithContext(ctx).
		Where("experiment_id = ?", experimentID).
		Delete(&types.ExperimentAssignment{}).Error
}
