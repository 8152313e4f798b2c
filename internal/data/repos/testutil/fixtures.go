package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/coachconnect/experiments-backend/internal/domain/experiments"
)

// SeedExperiment writes an active two-variant experiment with an even
// split and one primary metric named "conversion".
func SeedExperiment(tb testing.TB, ctx context.Context, tx *gorm.DB, featureKey string) *types.Experiment {
	tb.Helper()
	e := &types.Experiment{
		ID:          uuid.New(),
		Name:        "Experiment " + featureKey,
		Description: "seeded for tests",
		FeatureKey:  featureKey,
		Status:      types.StatusActive,
		Variants: datatypes.JSONSlice[types.ExperimentVariant]{
			{
				ID:            fmt.Sprintf("%s_0", featureKey),
				Name:          "Control",
				Type:          types.VariantTypeControl,
				TrafficWeight: 50,
				IsControl:     true,
			},
			{
				ID:            fmt.Sprintf("%s_1", featureKey),
				Name:          "Treatment",
				Type:          types.VariantTypeVariant,
				TrafficWeight: 50,
			},
		},
		Metrics: datatypes.JSONSlice[types.ConversionMetric]{
			{Name: "conversion", EventType: "conversion", IsPrimary: true},
		},
		TrafficAllocation: 100,
		StatisticalConfig: datatypes.NewJSONType(types.StatisticalConfig{
			ConfidenceLevel:   types.ConfidenceLevel95,
			Power:             0.80,
			MinimumSampleSize: 100,
		}),
		StartedAt: PtrTime(time.Now().UTC()),
	}
	if err := tx.WithContext(ctx).Create(e).Error; err != nil {
		tb.Fatalf("seed experiment: %v", err)
	}
	return e
}

func SeedFlag(tb testing.TB, ctx context.Context, tx *gorm.DB, key string, rollout int) *types.FeatureFlag {
	tb.Helper()
	f := &types.FeatureFlag{
		ID:                uuid.New(),
		Key:               key,
		Name:              "Flag " + key,
		IsActive:          true,
		RolloutPercentage: rollout,
		DefaultValue:      datatypes.JSON([]byte(`false`)),
	}
	if err := tx.WithContext(ctx).Create(f).Error; err != nil {
		tb.Fatalf("seed flag: %v", err)
	}
	return f
}

func SeedAssignment(tb testing.TB, ctx context.Context, tx *gorm.DB, userID string, experimentID uuid.UUID, variantID string) *types.ExperimentAssignment {
	tb.Helper()
	a := &types.ExperimentAssignment{
		ID:           uuid.New(),
		UserID:       userID,
		ExperimentID: experimentID,
		VariantID:    variantID,
		AssignedAt:   time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(a).Error; err != nil {
		tb.Fatalf("seed assignment: %v", err)
	}
	return a
}

func SeedConversion(tb testing.TB, ctx context.Context, tx *gorm.DB, userID string, experimentID uuid.UUID, variantID, metric string) *types.ConversionEvent {
	tb.Helper()
	c := &types.ConversionEvent{
		ID:           uuid.New(),
		UserID:       userID,
		ExperimentID: experimentID,
		VariantID:    variantID,
		MetricName:   metric,
		Value:        1,
		OccurredAt:   time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed conversion: %v", err)
	}
	return c
}

func PtrUUID(v uuid.UUID) *uuid.UUID { return &v }

func PtrTime(v time.Time) *time.Time { return &v }
