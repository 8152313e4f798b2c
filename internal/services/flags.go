package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coachconnect/experiments-backend/internal/bucketing"
	types "github.com/coachconnect/experiments-backend/internal/domain/experiments"
	"github.com/coachconnect/experiments-backend/internal/observability"
	"github.com/coachconnect/experiments-backend/internal/platform/cache"
	"github.com/coachconnect/experiments-backend/internal/platform/logger"
	"github.com/coachconnect/experiments-backend/internal/realtime/bus"
	"github.com/coachconnect/experiments-backend/internal/targeting"
)

// FlagEvaluation is what a caller acts on: the value to serve, the variant it
// came from when an experiment decided it, and why.
type FlagEvaluation struct {
	Key       string `json:"key"`
	Value     any    `json:"value"`
	VariantID string `json:"variant,omitempty"`
	IsEnabled bool   `json:"is_enabled"`
	Reason    string `json:"reason"`
}

// FlagService evaluates feature flags for a user context. Evaluate never
// fails: any internal error degrades to the caller's default value with an
// error reason, because a broken flag backend must never break the product
// path it gates.
type FlagService interface {
	Evaluate(ctx context.Context, key string, userCtx types.UserContext, defaultValue any) *FlagEvaluation
	// EvaluateAll evaluates every active flag for a session bootstrap.
	EvaluateAll(ctx context.Context, userCtx types.UserContext) (map[string]*FlagEvaluation, error)
}

type sessionEntry struct {
	eval FlagEvaluation
	gen  uint64
}

type flagService struct {
	log         *logger.Logger
	registry    RegistryService
	assignments AssignmentService
	events      bus.Bus
	// sessionEvals pins a user's evaluation for the flag-cache TTL, keyed
	// {flag}|{user}|{session}. Entries carry the registry generation they were
	// computed against; any flag or experiment write bumps the generation and
	// strands them.
	sessionEvals *cache.Cache[sessionEntry]
}

func NewFlagService(
	baseLog *logger.Logger,
	registry RegistryService,
	assignments AssignmentService,
	eventBus bus.Bus,
	sessionTTL time.Duration,
) FlagService {
	return &flagService{
		log:          baseLog.With("service", "FlagService"),
		registry:     registry,
		assignments:  assignments,
		events:       eventBus,
		sessionEvals: cache.New[sessionEntry](sessionTTL),
	}
}

func (s *flagService) Evaluate(ctx context.Context, key string, userCtx types.UserContext, defaultValue any) *FlagEvaluation {
	m := observability.Current()
	key = strings.TrimSpace(key)
	if key == "" {
		m.IncFlagEvaluation("none", types.FlagReasonNotFound)
		return &FlagEvaluation{Key: key, Value: defaultValue, Reason: types.FlagReasonNotFound}
	}

	userID := strings.TrimSpace(userCtx.UserID)
	cacheKey := key + "|" + userID + "|" + userCtx.SessionID
	gen := s.registry.ConfigGeneration()
	if userID != "" {
		if entry, ok := s.sessionEvals.Get(cacheKey); ok && entry.gen == gen {
			m.IncCacheEvent("flag_evals", "hit")
			m.IncFlagEvaluation(key, entry.eval.Reason)
			eval := entry.eval
			return &eval
		}
		m.IncCacheEvent("flag_evals", "miss")
	}

	eval := s.compute(ctx, key, userCtx, defaultValue)
	m.IncFlagEvaluation(key, eval.Reason)
	if userID != "" && eval.Reason != types.FlagReasonError {
		s.sessionEvals.Set(cacheKey, sessionEntry{eval: *eval, gen: gen})
	}
	s.emitEvaluation(key, userID, eval)
	return eval
}

func (s *flagService) compute(ctx context.Context, key string, userCtx types.UserContext, defaultValue any) *FlagEvaluation {
	flag, err := s.registry.GetFlag(ctx, key)
	if err != nil {
		s.log.Warn("flag lookup failed", "flag_key", key, "error", err)
		return &FlagEvaluation{Key: key, Value: defaultValue, Reason: types.FlagReasonError}
	}
	if flag == nil {
		return &FlagEvaluation{Key: key, Value: defaultValue, Reason: types.FlagReasonNotFound}
	}
	if !flag.IsActive {
		return &FlagEvaluation{Key: key, Value: defaultValue, Reason: types.FlagReasonInactive}
	}

	if flag.UseForABTest && flag.ExperimentID != nil {
		return s.evaluateViaExperiment(ctx, flag, userCtx, defaultValue)
	}

	if !targeting.Matches(userCtx, flag.TargetingRules) {
		return &FlagEvaluation{Key: key, Value: fallbackValue(flag, defaultValue), Reason: types.FlagReasonNoTarget}
	}
	if bucketing.UserBucket(strings.TrimSpace(userCtx.UserID), bucketing.PurposeRollout) >= flag.RolloutPercentage {
		return &FlagEvaluation{Key: key, Value: fallbackValue(flag, defaultValue), Reason: types.FlagReasonRollout}
	}
	// A standalone flag is a switch: inside the rollout it serves true; the
	// stored default_value is the payload every disabled outcome falls back
	// to. Typed per-variant values only come from experiment delegation.
	return &FlagEvaluation{Key: key, Value: true, IsEnabled: true, Reason: types.FlagReasonEnabled}
}

func (s *flagService) evaluateViaExperiment(ctx context.Context, flag *types.FeatureFlag, userCtx types.UserContext, defaultValue any) *FlagEvaluation {
	assignment, err := s.assignments.GetAssignment(ctx, *flag.ExperimentID, userCtx)
	if err != nil {
		// Engine errors mean "not in experiment" here; the flag still serves
		// its fallback rather than surfacing the failure.
		s.log.Warn("flag assignment lookup failed", "flag_key", flag.Key, "experiment_id", flag.ExperimentID, "error", err)
		assignment = nil
	}
	if assignment == nil {
		return &FlagEvaluation{Key: flag.Key, Value: fallbackValue(flag, defaultValue), Reason: types.FlagReasonNoAssignment}
	}
	value, ok := flag.VariantValue(assignment.VariantID)
	if !ok {
		value = fallbackValue(flag, defaultValue)
	}
	return &FlagEvaluation{
		Key:       flag.Key,
		Value:     value,
		VariantID: assignment.VariantID,
		IsEnabled: true,
		Reason:    types.FlagReasonExperiment,
	}
}

func (s *flagService) EvaluateAll(ctx context.Context, userCtx types.UserContext) (map[string]*FlagEvaluation, error) {
	flags, err := s.registry.ListActiveFlags(ctx)
	if err != nil {
		return nil, err
	}
	evals := make([]*FlagEvaluation, len(flags))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := range flags {
		g.Go(func() error {
			evals[i] = s.Evaluate(gctx, flags[i].Key, userCtx, nil)
			return nil
		})
	}
	// Evaluate never returns an error, so Wait only observes ctx cancellation.
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string]*FlagEvaluation, len(evals))
	for _, e := range evals {
		if e != nil {
			out[e.Key] = e
		}
	}
	return out, nil
}

// fallbackValue is the flag's stored default payload, or the caller's own
// fallback when the flag has none (or it does not parse).
func fallbackValue(flag *types.FeatureFlag, defaultValue any) any {
	if len(flag.DefaultValue) == 0 {
		return defaultValue
	}
	var v any
	if err := json.Unmarshal(flag.DefaultValue, &v); err != nil {
		return defaultValue
	}
	return v
}

func (s *flagService) emitEvaluation(key, userID string, eval *FlagEvaluation) {
	if s.events == nil {
		return
	}
	msg, err := bus.NewMessage(types.EventFlagEvaluated, types.FlagEvaluationEvent{
		FlagKey:    key,
		UserID:     userID,
		VariantID:  eval.VariantID,
		Enabled:    eval.IsEnabled,
		Reason:     eval.Reason,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		s.log.Warn("flag evaluation encode failed", "flag_key", key, "error", err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.events.Publish(ctx, msg)
		observability.Current().IncBusPublish("events", err)
		if err != nil {
			s.log.Warn("flag evaluation publish failed", "flag_key", key, "error", err)
		}
	}()
}
