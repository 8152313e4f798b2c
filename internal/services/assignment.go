package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/coachconnect/experiments-backend/internal/bucketing"
	"github.com/coachconnect/experiments-backend/internal/data/repos"
	types "github.com/coachconnect/experiments-backend/internal/domain/experiments"
	"github.com/coachconnect/experiments-backend/internal/observability"
	"github.com/coachconnect/experiments-backend/internal/platform/logger"
	"github.com/coachconnect/experiments-backend/internal/realtime/bus"
	"github.com/coachconnect/experiments-backend/internal/targeting"
)

// AssignmentService decides, deterministically and exactly once, which variant
// a user sees for an experiment. A nil assignment with a nil error means the
// user is simply not in the experiment (inactive, untargeted, or outside the
// traffic allocation); errors carry an engine code and are converted to "not
// in experiment" at the user-facing boundary.
type AssignmentService interface {
	GetAssignment(ctx context.Context, experimentID uuid.UUID, userCtx types.UserContext) (*types.ExperimentAssignment, error)
	ListUserAssignments(ctx context.Context, userID string) ([]*types.ExperimentAssignment, error)
}

type assignmentService struct {
	db          *gorm.DB
	log         *logger.Logger
	registry    RegistryService
	assignments repos.AssignmentRepo
	events      bus.Bus
}

func NewAssignmentService(
	db *gorm.DB,
	baseLog *logger.Logger,
	registry RegistryService,
	assignmentRepo repos.AssignmentRepo,
	eventBus bus.Bus,
) AssignmentService {
	return &assignmentService{
		db:          db,
		log:         baseLog.With("service", "AssignmentService"),
		registry:    registry,
		assignments: assignmentRepo,
		events:      eventBus,
	}
}

func (s *assignmentService) GetAssignment(ctx context.Context, experimentID uuid.UUID, userCtx types.UserContext) (*types.ExperimentAssignment, error) {
	const op = "assignment.get"
	m := observability.Current()
	userID := strings.TrimSpace(userCtx.UserID)
	if userID == "" {
		observability.ReportTrackingQuality(ctx, s.log, "assignment", observability.TrackingIssueMalformedPayload, experimentID.String(), map[string]any{
			"detail": "empty user_id",
		})
		m.IncAssignment(experimentID.String(), "invalid_user")
		return nil, nil
	}

	// Idempotency comes first: an existing row wins before any registry or
	// bucketing work, so a user keeps their variant even after the experiment
	// stops or its config changes.
	existing, err := s.assignments.GetByUserAndExperiment(ctx, nil, userID, experimentID)
	if err != nil {
		m.IncAssignment(experimentID.String(), "error")
		return nil, types.Wrap(types.CodeAssignmentError, op, err)
	}
	if existing != nil {
		m.IncAssignment(experimentID.String(), "existing")
		return existing, nil
	}

	exp, err := s.registry.GetExperiment(ctx, experimentID)
	if err != nil {
		if types.IsCode(err, types.CodeExperimentNotFound) {
			observability.ReportTrackingQuality(ctx, s.log, "assignment", observability.TrackingIssueUnknownExperiment, experimentID.String(), nil)
			m.IncAssignment(experimentID.String(), "not_found")
			return nil, err
		}
		m.IncAssignment(experimentID.String(), "error")
		return nil, types.Wrap(types.CodeAssignmentError, op, err)
	}
	if !exp.IsActive() {
		m.IncAssignment(exp.FeatureKey, "not_active")
		return nil, nil
	}

	if !targeting.Matches(userCtx, exp.TargetingRules) {
		m.IncAssignment(exp.FeatureKey, "not_targeted")
		return nil, nil
	}

	// Traffic gate and variant split hash different purposes so the two
	// decisions stay independent for the same user.
	if bucketing.UserBucket(userID, bucketing.PurposeTraffic) >= exp.TrafficAllocation {
		m.IncAssignment(exp.FeatureKey, "traffic_excluded")
		return nil, nil
	}

	variant := selectVariant(exp, bucketing.UserBucket(userID, bucketing.PurposeVariant))
	if variant == nil {
		m.IncAssignment(exp.FeatureKey, "error")
		return nil, types.NewError(types.CodeVariantNotFound, op, "experiment "+exp.FeatureKey+" has no variants", nil)
	}

	row := s.buildAssignment(exp, variant.ID, userCtx)
	inserted, err := s.assignments.InsertIfAbsent(ctx, nil, row)
	if err != nil && !types.IsUniqueViolation(err) {
		m.IncAssignment(exp.FeatureKey, "error")
		return nil, types.Wrap(types.CodeAssignmentError, op, err)
	}
	if !inserted {
		// Lost a concurrent first-assignment race; the winner's row is the
		// assignment. Converging on it is success, not an error.
		winner, err := s.assignments.GetByUserAndExperiment(ctx, nil, userID, experimentID)
		if err != nil {
			m.IncAssignment(exp.FeatureKey, "error")
			return nil, types.Wrap(types.CodeAssignmentError, op, err)
		}
		if winner == nil {
			m.IncAssignment(exp.FeatureKey, "error")
			return nil, types.NewError(types.CodeAssignmentError, op, "assignment insert conflicted but no row is visible", nil)
		}
		m.IncAssignment(exp.FeatureKey, "existing")
		return winner, nil
	}

	m.IncAssignment(exp.FeatureKey, "assigned")
	m.IncExperimentExposure(exp.FeatureKey, variant.ID, "assignment")
	s.emitExposure(exp, row)
	s.log.Info("user assigned",
		"experiment_id", exp.ID,
		"feature_key", exp.FeatureKey,
		"variant_id", variant.ID,
		"user_id", userID)
	return row, nil
}

func (s *assignmentService) ListUserAssignments(ctx context.Context, userID string) ([]*types.ExperimentAssignment, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil
	}
	return s.assignments.ListByUser(ctx, nil, userID)
}

// selectVariant walks the variant list in its defined order accumulating
// traffic weight; the first variant whose cumulative weight exceeds the bucket
// wins. A bucket past the total (weights that stopped summing to 100 despite
// validation) falls back to the control.
func selectVariant(exp *types.Experiment, bucket int) *types.ExperimentVariant {
	cumulative := 0
	for i := range exp.Variants {
		cumulative += exp.Variants[i].TrafficWeight
		if bucket < cumulative {
			return &exp.Variants[i]
		}
	}
	return exp.ControlVariant()
}

func (s *assignmentService) buildAssignment(exp *types.Experiment, variantID string, userCtx types.UserContext) *types.ExperimentAssignment {
	now := time.Now().UTC()
	row := &types.ExperimentAssignment{
		ID:           uuid.New(),
		UserID:       strings.TrimSpace(userCtx.UserID),
		ExperimentID: exp.ID,
		VariantID:    variantID,
		AssignedAt:   now,
		SessionID:    userCtx.SessionID,
		UserAgent:    userCtx.UserAgent,
		CreatedAt:    now,
	}
	// Snapshot what the user looked like at exposure time; segmentation of
	// results later depends on it.
	if b, err := json.Marshal(userCtx); err == nil {
		row.Context = datatypes.JSON(b)
	}
	return row
}

// emitExposure publishes the exposure event off the request path. A publish
// failure costs an analytics row, never an assignment.
func (s *assignmentService) emitExposure(exp *types.Experiment, row *types.ExperimentAssignment) {
	if s.events == nil {
		return
	}
	msg, err := bus.NewMessage(types.EventExperimentExposure, types.ExposureEvent{
		ExperimentID: exp.ID,
		FeatureKey:   exp.FeatureKey,
		VariantID:    row.VariantID,
		UserID:       row.UserID,
		SessionID:    row.SessionID,
		OccurredAt:   row.AssignedAt,
	})
	if err != nil {
		s.log.Warn("exposure encode failed", "experiment_id", exp.ID, "error", err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.events.Publish(ctx, msg)
		observability.Current().IncBusPublish("events", err)
		if err != nil {
			s.log.Warn("exposure publish failed", "experiment_id", exp.ID, "error", err)
		}
	}()
}
