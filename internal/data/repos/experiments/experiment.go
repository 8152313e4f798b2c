package experiments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/coachconnect/experiments-backend/internal/domain/experiments"
	"github.com/coachconnect/experiments-backend/internal/platform/logger"
)

type ExperimentRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *types.Experiment) error

	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Experiment, error)
	GetByFeatureKey(ctx context.Context, tx *gorm.DB, key string) (*types.Experiment, error)
	List(ctx context.Context, tx *gorm.DB) ([]*types.Experiment, error)
	ListByStatus(ctx context.Context, tx *gorm.DB, status string) ([]*types.Experiment, error)

	Update(ctx context.Context, tx *gorm.DB, row *types.Experiment) error
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error

	SoftDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type experimentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewExperimentRepo(db *gorm.DB, baseLog *logger.Logger) ExperimentRepo {
	return &experimentRepo{db: db, log: baseLog.With("repo", "ExperimentRepo")}
}

func (r *experimentRepo) Create(ctx context.Context, tx *gorm.DB, row *types.Experiment) error {
	t := tx
	if t == nil {
		t = r.db
	}
	if row == nil {
		return nil
	}
	return t.WithContext(ctx).Create(row).Error
}

func (r *experimentRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Experiment, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var rows []*types.Experiment
	if err := t.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *experimentRepo) GetByFeatureKey(ctx context.Context, tx *gorm.DB, key string) (*types.Experiment, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	if key == "" {
		return nil, nil
	}
	var rows []*types.Experiment
	if err := t.WithContext(ctx).Where("feature_key = ?", key).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *experimentRepo) List(ctx context.Context, tx *gorm.DB) ([]*types.Experiment, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	var out []*types.Experiment
	if err := t.WithContext(ctx).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *experimentRepo) ListByStatus(ctx context.Context, tx *gorm.DB, status string) ([]*types.Experiment, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	var out []*types.Experiment
	if err := t.WithContext(ctx).Where("status = ?", status).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *experimentRepo) Update(ctx context.Context, tx *gorm.DB, row *types.Experiment) error {
	t := tx
	if t == nil {
		t = r.db
	}
	if row == nil || row.ID == uuid.Nil {
		return nil
	}
	row.UpdatedAt = time.Now().UTC()
	return t.WithContext(ctx).Save(row).Error
}

func (r *experimentRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	t := tx
	if t == nil {
		t = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return t.WithContext(ctx).
		Model(&types.Experiment{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *experimentRepo) SoftDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	t := tx
	if t == nil {
		t = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return t.WithContext(ctx).Where("id = ?", id).Delete(&types.Experiment{}).Error
}
