package services

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coachconnect/experiments-backend/internal/data/repos"
	"github.com/coachconnect/experiments-backend/internal/data/repos/testutil"
	types "github.com/coachconnect/experiments-backend/internal/domain/experiments"
)

type statsHarness struct {
	db      *gorm.DB
	reg     RegistryService
	stats   StatisticsService
	assigns repos.AssignmentRepo
	convs   repos.ConversionEventRepo
}

func newStatsHarness(t *testing.T) *statsHarness {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	reg := NewRegistryService(
		db,
		log,
		repos.NewExperimentRepo(db, log),
		repos.NewFeatureFlagRepo(db, log),
		nil,
		5*time.Minute,
		3*time.Minute,
	)
	assigns := repos.NewAssignmentRepo(db, log)
	convs := repos.NewConversionEventRepo(db, log)
	return &statsHarness{
		db:      db,
		reg:     reg,
		stats:   NewStatisticsService(db, log, reg, assigns, convs, nil),
		assigns: assigns,
		convs:   convs,
	}
}

// seedPopulation bulk-writes sampleSize assignments per variant and the
// requested number of conversions on the seeded "conversion" metric.
func seedPopulation(t *testing.T, ctx context.Context, h *statsHarness, exp *types.Experiment, sampleSize, controlConv, treatmentConv int) {
	t.Helper()
	now := time.Now().UTC()

	rows := make([]*types.ExperimentAssignment, 0, 2*sampleSize)
	for i := 0; i < sampleSize; i++ {
		rows = append(rows, &types.ExperimentAssignment{
			ID:           uuid.New(),
			UserID:       fmt.Sprintf("%s-c-%04d", exp.FeatureKey, i),
			ExperimentID: exp.ID,
			VariantID:    exp.Variants[0].ID,
			AssignedAt:   now,
		}, &types.ExperimentAssignment{
			ID:           uuid.New(),
			UserID:       fmt.Sprintf("%s-t-%04d", exp.FeatureKey, i),
			ExperimentID: exp.ID,
			VariantID:    exp.Variants[1].ID,
			AssignedAt:   now,
		})
	}
	if err := h.db.WithContext(ctx).CreateInBatches(rows, 500).Error; err != nil {
		t.Fatalf("seed assignments: %v", err)
	}

	convs := make([]*types.ConversionEvent, 0, controlConv+treatmentConv)
	for i := 0; i < controlConv; i++ {
		convs = append(convs, &types.ConversionEvent{
			ID:           uuid.New(),
			UserID:       fmt.Sprintf("%s-c-%04d", exp.FeatureKey, i),
			ExperimentID: exp.ID,
			VariantID:    exp.Variants[0].ID,
			MetricName:   "conversion",
			Value:        1,
			OccurredAt:   now,
		})
	}
	for i := 0; i < treatmentConv; i++ {
		convs = append(convs, &types.ConversionEvent{
			ID:           uuid.New(),
			UserID:       fmt.Sprintf("%s-t-%04d", exp.FeatureKey, i),
			ExperimentID: exp.ID,
			VariantID:    exp.Variants[1].ID,
			MetricName:   "conversion",
			Value:        1,
			OccurredAt:   now,
		})
	}
	if err := h.convs.CreateBatch(ctx, nil, convs); err != nil {
		t.Fatalf("seed conversions: %v", err)
	}
}

func TestStatisticsServiceTrackConversion(t *testing.T) {
	ctx := context.Background()
	h := newStatsHarness(t)
	exp := testutil.SeedExperiment(t, ctx, h.db, "stats_svc_track")

	// No assignment yet: the conversion is dropped without error.
	stranger := types.UserContext{UserID: "stats-track-stranger"}
	if err := h.stats.TrackConversion(ctx, nil, exp.ID, "conversion", stranger, 0, nil); err != nil {
		t.Fatalf("unassigned conversion should be a no-op, got %v", err)
	}
	aggs, err := h.convs.CountByVariantAndMetric(ctx, nil, exp.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if len(aggs) != 0 {
		t.Fatalf("no rows expected before any assignment, got %+v", aggs)
	}

	seeded := testutil.SeedAssignment(t, ctx, h.db, "stats-track-member", exp.ID, exp.Variants[1].ID)
	member := types.UserContext{UserID: "stats-track-member", SessionID: "st-1"}
	if err := h.stats.TrackConversion(ctx, nil, exp.ID, "conversion", member, 0, map[string]any{"plan": "pro"}); err != nil {
		t.Fatalf("track: %v", err)
	}
	aggs, err = h.convs.CountByVariantAndMetric(ctx, nil, exp.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if len(aggs) != 1 {
		t.Fatalf("expected a single aggregate row, got %+v", aggs)
	}
	if aggs[0].VariantID != seeded.VariantID {
		t.Fatalf("conversion must inherit the assignment's variant, got %s want %s", aggs[0].VariantID, seeded.VariantID)
	}
	// A zero value counts as one unit.
	if aggs[0].N != 1 || aggs[0].TotalValue != 1 {
		t.Fatalf("zero value should be recorded as 1, got n=%d total=%v", aggs[0].N, aggs[0].TotalValue)
	}

	// Unknown experiment and blank metric are both swallowed.
	if err := h.stats.TrackConversion(ctx, nil, uuid.New(), "conversion", member, 2, nil); err != nil {
		t.Fatalf("unknown experiment should be swallowed, got %v", err)
	}
	if err := h.stats.TrackConversion(ctx, nil, exp.ID, "", member, 2, nil); err != nil {
		t.Fatalf("blank metric should be swallowed, got %v", err)
	}
	aggs, err = h.convs.CountByVariantAndMetric(ctx, nil, exp.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if len(aggs) != 1 || aggs[0].N != 1 {
		t.Fatalf("swallowed calls must not write rows, got %+v", aggs)
	}
}

func TestStatisticsServiceCalculateResults(t *testing.T) {
	ctx := context.Background()
	h := newStatsHarness(t)
	exp := testutil.SeedExperiment(t, ctx, h.db, "stats_svc_results")
	seedPopulation(t, ctx, h, exp, 1000, 100, 150)

	results, err := h.stats.CalculateResults(ctx, exp.ID)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected one row per variant, got %d", len(results))
	}

	byVariant := map[string]VariantResult{}
	for _, r := range results {
		if r.MetricName != "conversion" {
			t.Fatalf("unexpected metric %q", r.MetricName)
		}
		byVariant[r.VariantID] = r
	}

	control := byVariant[exp.Variants[0].ID]
	if !control.IsControl || !control.IsPrimaryMetric {
		t.Fatalf("control row mislabeled: %+v", control)
	}
	if control.SampleSize != 1000 || control.ConversionCount != 100 {
		t.Fatalf("control counts off: %+v", control)
	}
	if math.Abs(control.ConversionRate-0.10) > 1e-9 {
		t.Fatalf("control rate = %v, want 0.10", control.ConversionRate)
	}
	// Wald interval at 95%: 0.1 +- 1.96*sqrt(0.1*0.9/1000).
	if math.Abs(control.IntervalLower-0.0814) > 0.0005 || math.Abs(control.IntervalUpper-0.1186) > 0.0005 {
		t.Fatalf("control CI = [%v, %v], want ~[0.0814, 0.1186]", control.IntervalLower, control.IntervalUpper)
	}
	if control.Lift != 0 || control.StatisticallySignificant {
		t.Fatalf("control must not report lift or significance: %+v", control)
	}

	treatment := byVariant[exp.Variants[1].ID]
	if treatment.IsControl {
		t.Fatalf("treatment row mislabeled: %+v", treatment)
	}
	if math.Abs(treatment.ConversionRate-0.15) > 1e-9 {
		t.Fatalf("treatment rate = %v, want 0.15", treatment.ConversionRate)
	}
	if math.Abs(treatment.Lift-50) > 1e-6 {
		t.Fatalf("treatment lift = %v, want 50", treatment.Lift)
	}
	// z ~ 3.38 for 150/1000 vs 100/1000, comfortably past 1.96.
	if !treatment.StatisticallySignificant {
		t.Fatalf("treatment should be significant: %+v", treatment)
	}
	if treatment.Confidence < 0.99 {
		t.Fatalf("treatment confidence = %v, want > 0.99", treatment.Confidence)
	}

	if _, err := h.stats.CalculateResults(ctx, uuid.New()); !types.IsCode(err, types.CodeExperimentNotFound) {
		t.Fatalf("unknown experiment should surface EXPERIMENT_NOT_FOUND, got %v", err)
	}
}

func TestStatisticsServiceSummary(t *testing.T) {
	ctx := context.Background()
	h := newStatsHarness(t)
	exp := testutil.SeedExperiment(t, ctx, h.db, "stats_svc_summary")
	seedPopulation(t, ctx, h, exp, 1000, 100, 150)

	summary, err := h.stats.GetExperimentSummary(ctx, exp.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Experiment.ID != exp.ID {
		t.Fatalf("summary carries wrong experiment")
	}
	if got := summary.Status.TotalSampleSize; got != 2000 {
		t.Fatalf("total sample = %d, want 2000", got)
	}
	if !summary.Status.SampleSizeReached || !summary.Status.SignificanceAchieved {
		t.Fatalf("status flags off: %+v", summary.Status)
	}
	if summary.Status.MaxRuntimeElapsed {
		t.Fatalf("experiment just started, runtime cannot have elapsed")
	}
	if summary.Recommendation.Action != RecommendationConclude || summary.Recommendation.Confidence != ConfidenceHigh {
		t.Fatalf("expected a high-confidence conclude, got %+v", summary.Recommendation)
	}
}

func TestRecommendDecisionTable(t *testing.T) {
	cases := []struct {
		name       string
		status     ExperimentStatus
		action     string
		confidence string
	}{
		{
			name:       "sample unmet wins over elapsed runtime",
			status:     ExperimentStatus{SampleSizeReached: false, MaxRuntimeElapsed: true},
			action:     RecommendationContinue,
			confidence: ConfidenceLow,
		},
		{
			name:       "significance concludes",
			status:     ExperimentStatus{SampleSizeReached: true, SignificanceAchieved: true},
			action:     RecommendationConclude,
			confidence: ConfidenceHigh,
		},
		{
			name:       "runtime exhausted concludes without significance",
			status:     ExperimentStatus{SampleSizeReached: true, MaxRuntimeElapsed: true},
			action:     RecommendationConclude,
			confidence: ConfidenceMedium,
		},
		{
			name:       "otherwise keep collecting",
			status:     ExperimentStatus{SampleSizeReached: true},
			action:     RecommendationContinue,
			confidence: ConfidenceMedium,
		},
	}
	for _, tc := range cases {
		got := recommend(tc.status)
		if got.Action != tc.action || got.Confidence != tc.confidence {
			t.Fatalf("%s: got %+v, want %s/%s", tc.name, got, tc.action, tc.confidence)
		}
	}
}

func TestStatisticsServicePurge(t *testing.T) {
	ctx := context.Background()
	h := newStatsHarness(t)
	exp := testutil.SeedExperiment(t, ctx, h.db, "stats_svc_purge")
	testutil.SeedAssignment(t, ctx, h.db, "purge-user-1", exp.ID, exp.Variants[0].ID)
	testutil.SeedAssignment(t, ctx, h.db, "purge-user-2", exp.ID, exp.Variants[1].ID)
	testutil.SeedConversion(t, ctx, h.db, "purge-user-1", exp.ID, exp.Variants[0].ID, "conversion")

	if err := h.stats.PurgeExperimentData(ctx, nil, exp.ID); err != nil {
		t.Fatalf("purge: %v", err)
	}

	counts, err := h.assigns.CountByVariant(ctx, nil, exp.ID)
	if err != nil {
		t.Fatalf("count assignments: %v", err)
	}
	if len(counts) != 0 {
		t.Fatalf("assignments should be gone, got %+v", counts)
	}
	aggs, err := h.convs.CountByVariantAndMetric(ctx, nil, exp.ID)
	if err != nil {
		t.Fatalf("count conversions: %v", err)
	}
	if len(aggs) != 0 {
		t.Fatalf("conversions should be gone, got %+v", aggs)
	}
}
