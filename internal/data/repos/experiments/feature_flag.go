package experiments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/coachconnect/experiments-backend/internal/domain/experiments"
	"github.com/coachconnect/experiments-backend/internal/platform/logger"
)

type FeatureFlagRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *types.FeatureFlag) error

	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.FeatureFlag, error)
	GetByKey(ctx context.Context, tx *gorm.DB, key string) (*types.FeatureFlag, error)
	List(ctx context.Context, tx *gorm.DB) ([]*types.FeatureFlag, error)
	ListActive(ctx context.Context, tx *gorm.DB) ([]*types.FeatureFlag, error)

	Update(ctx context.Context, tx *gorm.DB, row *types.FeatureFlag) error
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error

	SoftDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type featureFlagRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFeatureFlagRepo(db *gorm.DB, baseLog *logger.Logger) FeatureFlagRepo {
	return &featureFlagRepo{db: db, log: baseLog.With("repo", "FeatureFlagRepo")}
}

func (r *featureFlagRepo) Create(ctx context.Context, tx *gorm.DB, row *types.FeatureFlag) error {
	t := tx
	if t == nil {
		t = r.db
	}
	if row == nil {
		return nil
	}
	return t.WithContext(ctx).Create(row).Error
}

func (r *featureFlagRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.FeatureFlag, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var rows []*types.FeatureFlag
	if err := t.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *featureFlagRepo) GetByKey(ctx context.Context, tx *gorm.DB, key string) (*types.FeatureFlag, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	if key == "" {
		return nil, nil
	}
	var rows []*types.FeatureFlag
	if err := t.WithContext(ctx).Where("key = ?", key).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *featureFlagRepo) List(ctx context.Context, tx *gorm.DB) ([]*types.FeatureFlag, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	var out []*types.FeatureFlag
	if err := t.WithContext(ctx).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *featureFlagRepo) ListActive(ctx context.Context, tx *gorm.DB) ([]*types.FeatureFlag, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	var out []*types.FeatureFlag
	if err := t.WithContext(ctx).Where("is_active = ?", true).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *featureFlagRepo) Update(ctx context.Context, tx *gorm.DB, row *types.FeatureFlag) error {
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

func (r *featureFlagRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.FeatureFlag{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *featureFlagRepo) SoftDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	t := tx
	if t == nil {
		t = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return t.WithContext(ctx).Where("id = ?", id).Delete(&types.FeatureFlag{}).Error
}
