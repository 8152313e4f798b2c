package experiments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/coachconnect/experiments-backend/internal/domain/experiments"
	"github.com/coachconnect/experiments-backend/internal/platform/logger"
)

// VariantMetricCount is one GROUP BY row of conversion totals per
// (variant, metric) pair. N counts distinct converting users so repeat
// events from the same user do not inflate the rate.
type VariantMetricCount struct {
	VariantID  string
	MetricName string
	N          int64
	TotalValue float64
}

type ConversionEventRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *types.ConversionEvent) error
	CreateBatch(ctx context.Context, tx *gorm.DB, rows []*types.ConversionEvent) error

	CountByVariantAndMetric(ctx context.Context, tx *gorm.DB, experimentID uuid.UUID) ([]VariantMetricCount, error)
	ListByUserAndExperiment(ctx context.Context, tx *gorm.DB, userID string, experimentID uuid.UUID) ([]*types.ConversionEvent, error)
	DeleteByExperiment(ctx context.Context, tx *gorm.DB, experimentID uuid.UUID) error
}

type conversionEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversionEventRepo(db *gorm.DB, baseLog *logger.Logger) ConversionEventRepo {
	return &conversionEventRepo{db: db, log: baseLog.With("repo", "ConversionEventRepo")}
}

func (r *conversionEventRepo) Create(ctx context.Context, tx *gorm.DB, row *types.ConversionEvent) error {
	t := tx
	if t == nil {
		t = r.db
	}
	if row == nil {
		return nil
	}
	return t.WithContext(ctx).Create(row).Error
}

func (r *conversionEventRepo) CreateBatch(ctx context.Context, tx *gorm.DB, rows []*types.ConversionEvent) error {
	t := tx
	if t == nil {
		t = r.db
	}
	if len(rows) == 0 {
		return nil
	}
	return t.WithContext(ctx).Create(&rows).Error
}

func (r *conversionEventRepo) CountByVariantAndMetric(ctx context.Context, tx *gorm.DB, experimentID uuid.UUID) ([]VariantMetricCount, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	if experimentID == uuid.Nil {
		return nil, nil
	}
	var out []VariantMetricCount
	if err := t.WithContext(ctx).
		Model(&types.ConversionEvent{}).
		Select("variant_id AS variant_id, metric_name AS metric_name, COUNT(DISTINCT user_id) AS n, COALESCE(SUM(value), 0) AS total_value").
		Where("experiment_id = ?", experimentID).
		Group("variant_id, metric_name").
		Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *conversionEventRepo) ListByUserAndExperiment(ctx context.Context, tx *gorm.DB, userID string, experimentID uuid.UUID) ([]*types.ConversionEvent, error) {
	t := tx
	if t == nil {
		t = r.db
	}
	if userID == "" || experimentID == uuid.Nil {
		return nil, nil
	}
	var out []*types.ConversionEvent
	if err := t.WithContext(ctx).
		Where("user_id = ? AND experiment_id = ?", userID, experimentID).
		Order("occurred_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *conversionEventRepo) DeleteByExperiment(ctx context.Context, tx *gorm.DB, experimentID uuid.UUID) error {
	t := tx
	if t == nil {
		t = r.db
	}
	if experimentID == uuid.Nil {
		return nil
	}
	return t.WithContext(ctx).
		Where("experiment_id = ?", experimentID).
		Delete(&types.ConversionEvent{}).Error
}
