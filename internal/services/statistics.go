package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/coachconnect/experiments-backend/internal/data/repos"
	types "github.com/coachconnect/experiments-backend/internal/domain/experiments"
	"github.com/coachconnect/experiments-backend/internal/observability"
	"github.com/coachconnect/experiments-backend/internal/platform/logger"
	"github.com/coachconnect/experiments-backend/internal/realtime/bus"
	"github.com/coachconnect/experiments-backend/internal/stats"
	"github.com/coachconnect/experiments-backend/internal/utils"
)

// VariantResult is one (variant, metric) row of an experiment's results,
// recomputed on demand from assignments and conversion events. Never stored.
type VariantResult struct {
	ExperimentID             uuid.UUID `json:"experiment_id"`
	VariantID                string    `json:"variant_id"`
	VariantName              string    `json:"variant_name"`
	IsControl                bool      `json:"is_control"`
	MetricName               string    `json:"metric_name"`
	IsPrimaryMetric          bool      `json:"is_primary_metric"`
	SampleSize               int       `json:"sample_size"`
	ConversionCount          int       `json:"conversion_count"`
	TotalValue               float64   `json:"total_value"`
	ConversionRate           float64   `json:"conversion_rate"`
	StandardError            float64   `json:"standard_error"`
	ConfidenceLevel          float64   `json:"confidence_level"`
	IntervalLower            float64   `json:"interval_lower"`
	IntervalUpper            float64   `json:"interval_upper"`
	Lift                     float64   `json:"lift"`
	StatisticallySignificant bool      `json:"statistically_significant"`
	Confidence               float64   `json:"confidence"`
}

type ExperimentStatus struct {
	SampleSizeReached    bool `json:"sample_size_reached"`
	SignificanceAchieved bool `json:"significance_achieved"`
	TotalSampleSize      int  `json:"total_sample_size"`
	MinimumSampleSize    int  `json:"minimum_sample_size"`
	RuntimeDays          int  `json:"runtime_days"`
	MaxRuntimeElapsed    bool `json:"max_runtime_elapsed"`
}

const (
	RecommendationContinue = "continue"
	RecommendationConclude = "conclude"

	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

type Recommendation struct {
	Action     string `json:"action"`
	Reason     string `json:"reason"`
	Confidence string `json:"confidence"`
}

type ExperimentSummary struct {
	Experiment     *types.Experiment `json:"experiment"`
	Results        []VariantResult   `json:"results"`
	Status         ExperimentStatus  `json:"status"`
	Recommendation Recommendation    `json:"recommendation"`
}

// StatisticsService records conversions and computes experiment results.
// Tracking is a user-facing path and swallows everything recoverable;
// computation is a dashboard path and surfaces failures as STATISTICAL_ERROR
// rather than silently zeroing numbers.
type StatisticsService interface {
	TrackConversion(ctx context.Context, tx *gorm.DB, experimentID uuid.UUID, metricName string, userCtx types.UserContext, value float64, properties map[string]any) error
	CalculateResults(ctx context.Context, experimentID uuid.UUID) ([]VariantResult, error)
	GetExperimentSummary(ctx context.Context, experimentID uuid.UUID) (*ExperimentSummary, error)
	PurgeExperimentData(ctx context.Context, tx *gorm.DB, experimentID uuid.UUID) error
}

type statisticsService struct {
	db          *gorm.DB
	log         *logger.Logger
	registry    RegistryService
	assignments repos.AssignmentRepo
	conversions repos.ConversionEventRepo
	events      bus.Bus

	driftThreshold float64
	driftMinSample int
}

func NewStatisticsService(
	db *gorm.DB,
	baseLog *logger.Logger,
	registry RegistryService,
	assignmentRepo repos.AssignmentRepo,
	conversionRepo repos.ConversionEventRepo,
	eventBus bus.Bus,
) StatisticsService {
	log := baseLog.With("service", "StatisticsService")
	return &statisticsService{
		db:             db,
		log:            log,
		registry:       registry,
		assignments:    assignmentRepo,
		conversions:    conversionRepo,
		events:         eventBus,
		driftThreshold: utils.GetEnvAsFloat("ALLOCATION_DRIFT_THRESHOLD_POINTS", 5.0, log),
		driftMinSample: utils.GetEnvAsInt("ALLOCATION_DRIFT_MIN_SAMPLE", 500, log),
	}
}

func (s *statisticsService) TrackConversion(ctx context.Context, tx *gorm.DB, experimentID uuid.UUID, metricName string, userCtx types.UserContext, value float64, properties map[string]any) error {
	const op = "statistics.track_conversion"
	m := observability.Current()
	userID := strings.TrimSpace(userCtx.UserID)
	metricName = strings.TrimSpace(metricName)
	if userID == "" || metricName == "" {
		observability.ReportTrackingQuality(ctx, s.log, "conversion", observability.TrackingIssueMalformedPayload, experimentID.String(), map[string]any{
			"metric_name": metricName,
		})
		m.IncConversion(experimentID.String(), metricName, "malformed")
		return nil
	}

	exp, err := s.registry.GetExperiment(ctx, experimentID)
	if err != nil {
		if types.IsCode(err, types.CodeExperimentNotFound) {
			observability.ReportTrackingQuality(ctx, s.log, "conversion", observability.TrackingIssueUnknownExperiment, experimentID.String(), map[string]any{
				"metric_name": metricName,
			})
			m.IncConversion(experimentID.String(), metricName, "unknown_experiment")
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	// A user cannot convert in an experiment they were never exposed to:
	// without an assignment this is a silent no-op, only the quality signal
	// fires.
	assignment, err := s.assignments.GetByUserAndExperiment(ctx, tx, userID, experimentID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if assignment == nil {
		observability.ReportTrackingQuality(ctx, s.log, "conversion", observability.TrackingIssueNoAssignment, exp.FeatureKey, map[string]any{
			"metric_name": metricName,
		})
		m.IncConversion(exp.FeatureKey, metricName, "no_assignment")
		return nil
	}

	// Mis-instrumented metric or variant names still get recorded; the signal
	// tells the owning team, and results simply never read those rows.
	if !exp.HasMetric(metricName) {
		observability.ReportTrackingQuality(ctx, s.log, "conversion", observability.TrackingIssueUnknownMetric, exp.FeatureKey, map[string]any{
			"metric_name": metricName,
		})
	}
	if exp.VariantByID(assignment.VariantID) == nil {
		observability.ReportTrackingQuality(ctx, s.log, "conversion", observability.TrackingIssueUnknownVariant, exp.FeatureKey, map[string]any{
			"variant_id": assignment.VariantID,
		})
	}

	if value == 0 {
		value = 1
	}
	now := time.Now().UTC()
	row := &types.ConversionEvent{
		ID:           uuid.New(),
		UserID:       userID,
		ExperimentID: experimentID,
		VariantID:    assignment.VariantID,
		MetricName:   metricName,
		Value:        value,
		OccurredAt:   now,
		SessionID:    userCtx.SessionID,
		CreatedAt:    now,
	}
	if len(properties) > 0 {
		row.Properties = datatypes.JSONMap(properties)
	}
	if err := s.conversions.Create(ctx, tx, row); err != nil {
		m.IncConversion(exp.FeatureKey, metricName, "error")
		return fmt.Errorf("%s: %w", op, err)
	}

	m.IncConversion(exp.FeatureKey, metricName, "tracked")
	s.emitConversion(exp, row)
	return nil
}

func (s *statisticsService) CalculateResults(ctx context.Context, experimentID uuid.UUID) ([]VariantResult, error) {
	const op = "statistics.calculate_results"
	started := time.Now()
	exp, err := s.registry.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	var (
		counts []repos.VariantCount
		aggs   []repos.VariantMetricCount
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		counts, err = s.assignments.CountByVariant(gctx, nil, experimentID)
		return err
	})
	g.Go(func() error {
		var err error
		aggs, err = s.conversions.CountByVariantAndMetric(gctx, nil, experimentID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, types.Wrap(types.CodeStatisticalError, op, err)
	}

	sampleByVariant := make(map[string]int, len(counts))
	for _, c := range counts {
		sampleByVariant[c.VariantID] = int(c.N)
	}
	type vmKey struct{ variant, metric string }
	convByKey := make(map[vmKey]repos.VariantMetricCount, len(aggs))
	for _, a := range aggs {
		convByKey[vmKey{a.VariantID, a.MetricName}] = a
	}

	cfg := exp.StatConfig()
	z, ok := stats.ZScore(cfg.ConfidenceLevel)
	if !ok {
		return nil, types.NewError(types.CodeStatisticalError, op, fmt.Sprintf("unsupported confidence level %v", cfg.ConfidenceLevel), nil)
	}
	control := exp.ControlVariant()
	if control == nil {
		return nil, types.NewError(types.CodeStatisticalError, op, "experiment has no variants", nil)
	}

	results := make([]VariantResult, 0, len(exp.Metrics)*len(exp.Variants))
	for _, metric := range exp.Metrics {
		controlSample := sampleByVariant[control.ID]
		controlAgg := convByKey[vmKey{control.ID, metric.Name}]
		controlRate := stats.ConversionRate(int(controlAgg.N), controlSample)

		for i := range exp.Variants {
			v := &exp.Variants[i]
			sample := sampleByVariant[v.ID]
			agg := convByKey[vmKey{v.ID, metric.Name}]
			rate := stats.ConversionRate(int(agg.N), sample)
			lower, upper := stats.ConfidenceInterval(rate, sample, z)

			row := VariantResult{
				ExperimentID:    exp.ID,
				VariantID:       v.ID,
				VariantName:     v.Name,
				IsControl:       v.ID == control.ID,
				MetricName:      metric.Name,
				IsPrimaryMetric: metric.IsPrimary,
				SampleSize:      sample,
				ConversionCount: int(agg.N),
				TotalValue:      agg.TotalValue,
				ConversionRate:  rate,
				StandardError:   stats.StandardError(rate, sample),
				ConfidenceLevel: cfg.ConfidenceLevel,
				IntervalLower:   lower,
				IntervalUpper:   upper,
				Confidence:      0.5,
			}
			if !row.IsControl {
				row.Lift = stats.Lift(rate, controlRate)
				row.Confidence = stats.TwoProportionConfidence(int(agg.N), sample, int(controlAgg.N), controlSample)
				row.StatisticallySignificant = stats.Significant(int(agg.N), sample, int(controlAgg.N), controlSample, cfg.ConfidenceLevel)
			}
			results = append(results, row)
		}
	}

	s.checkAllocationDrift(ctx, exp, sampleByVariant)
	observability.Current().ObserveResultsComputation(exp.FeatureKey, time.Since(started))
	return results, nil
}

func (s *statisticsService) GetExperimentSummary(ctx context.Context, experimentID uuid.UUID) (*ExperimentSummary, error) {
	exp, err := s.registry.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	results, err := s.CalculateResults(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	totalSample := 0
	seen := map[string]bool{}
	significance := false
	for _, r := range results {
		if !seen[r.VariantID] {
			seen[r.VariantID] = true
			totalSample += r.SampleSize
		}
		if r.IsPrimaryMetric && !r.IsControl && r.StatisticallySignificant {
			significance = true
		}
	}

	cfg := exp.StatConfig()
	now := time.Now().UTC()
	status := ExperimentStatus{
		SampleSizeReached:    totalSample >= cfg.MinimumSampleSize,
		SignificanceAchieved: significance,
		TotalSampleSize:      totalSample,
		MinimumSampleSize:    cfg.MinimumSampleSize,
		MaxRuntimeElapsed:    exp.MaxRuntimeElapsed(now),
	}
	if exp.StartedAt != nil {
		status.RuntimeDays = int(now.Sub(*exp.StartedAt).Hours() / 24)
	}

	return &ExperimentSummary{
		Experiment:     exp,
		Results:        results,
		Status:         status,
		Recommendation: recommend(status),
	}, nil
}

// recommend is the decision table behind the summary. First matching branch
// wins; every branch is reachable from a status alone so each is testable in
// isolation.
func recommend(status ExperimentStatus) Recommendation {
	switch {
	case !status.SampleSizeReached:
		return Recommendation{
			Action:     RecommendationContinue,
			Reason:     "minimum sample size not reached",
			Confidence: ConfidenceLow,
		}
	case status.SignificanceAchieved:
		return Recommendation{
			Action:     RecommendationConclude,
			Reason:     "statistical significance achieved on a primary metric",
			Confidence: ConfidenceHigh,
		}
	case status.MaxRuntimeElapsed:
		return Recommendation{
			Action:     RecommendationConclude,
			Reason:     "maximum runtime elapsed without significance",
			Confidence: ConfidenceMedium,
		}
	default:
		return Recommendation{
			Action:     RecommendationContinue,
			Reason:     "experiment is still collecting data",
			Confidence: ConfidenceMedium,
		}
	}
}

func (s *statisticsService) PurgeExperimentData(ctx context.Context, tx *gorm.DB, experimentID uuid.UUID) error {
	const op = "statistics.purge_experiment_data"
	t := tx
	if t == nil {
		t = s.db
	}
	// Both row sets go together or not at all; a half purge would leave
	// conversions pointing at assignments that no longer exist.
	err := t.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if err := s.conversions.DeleteByExperiment(ctx, txn, experimentID); err != nil {
			return err
		}
		return s.assignments.DeleteByExperiment(ctx, txn, experimentID)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("experiment data purged", "experiment_id", experimentID)
	return nil
}

// checkAllocationDrift compares realized per-variant sample shares against the
// configured traffic weights and raises a sample ratio mismatch alert when any
// variant drifts past the threshold. Small samples are skipped outright; at
// low n the shares are dominated by noise.
func (s *statisticsService) checkAllocationDrift(ctx context.Context, exp *types.Experiment, sampleByVariant map[string]int) {
	total := 0
	for _, n := range sampleByVariant {
		total += n
	}
	if total < s.driftMinSample {
		return
	}
	var drifted []observability.AllocationDriftMetric
	for _, v := range exp.Variants {
		expected := float64(v.TrafficWeight)
		observed := float64(sampleByVariant[v.ID]) / float64(total) * 100
		if math.Abs(observed-expected) > s.driftThreshold {
			drifted = append(drifted, observability.AllocationDriftMetric{
				Variant:   v.ID,
				Expected:  expected,
				Observed:  observed,
				Threshold: s.driftThreshold,
			})
		}
	}
	if len(drifted) > 0 {
		observability.ReportAllocationDrift(ctx, s.log, exp.FeatureKey, drifted, map[string]any{
			"total_sample": total,
		})
	}
}

func (s *statisticsService) emitConversion(exp *types.Experiment, row *types.ConversionEvent) {
	if s.events == nil {
		return
	}
	msg, err := bus.NewMessage(types.EventConversionTracked, types.ConversionTrackedEvent{
		ExperimentID: row.ExperimentID,
		VariantID:    row.VariantID,
		UserID:       row.UserID,
		MetricName:   row.MetricName,
		Value:        row.Value,
		OccurredAt:   row.OccurredAt,
	})
	if err != nil {
		s.log.Warn("conversion encode failed", "experiment_id", row.ExperimentID, "error", err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.events.Publish(ctx, msg)
		observability.Current().IncBusPublish("events", err)
		if err != nil {
			s.log.Warn("conversion publish failed", "experiment_id", row.ExperimentID, "error", err)
		}
	}()
}
