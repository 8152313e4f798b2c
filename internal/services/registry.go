package services

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/coachconnect/experiments-backend/internal/data/repos"
	types "github.com/coachconnect/experiments-backend/internal/domain/experiments"
	"github.com/coachconnect/experiments-backend/internal/observability"
	"github.com/coachconnect/experiments-backend/internal/platform/cache"
	"github.com/coachconnect/experiments-backend/internal/platform/logger"
	"github.com/coachconnect/experiments-backend/internal/realtime/bus"
)

// ExperimentUpdate carries the mutable experiment fields. Nil means leave the
// field as is; TargetingRules is a pointer-to-slice so an explicit empty list
// clears the rules instead of being mistaken for "unchanged". Status never
// moves through Update: lifecycle transitions go through Start and Stop so
// started_at and ended_at are always stamped.
type ExperimentUpdate struct {
	Name              *string                   `json:"name,omitempty"`
	Description       *string                   `json:"description,omitempty"`
	Variants          []types.ExperimentVariant `json:"variants,omitempty"`
	Metrics           []types.ConversionMetric  `json:"metrics,omitempty"`
	TargetingRules    *[]types.TargetingRule    `json:"targeting_rules,omitempty"`
	TrafficAllocation *int                      `json:"traffic_allocation,omitempty"`
	StatisticalConfig *types.StatisticalConfig  `json:"statistical_config,omitempty"`
}

// FlagUpdate mirrors ExperimentUpdate for feature flags.
type FlagUpdate struct {
	Name              *string                `json:"name,omitempty"`
	Description       *string                `json:"description,omitempty"`
	IsActive          *bool                  `json:"is_active,omitempty"`
	RolloutPercentage *int                   `json:"rollout_percentage,omitempty"`
	TargetingRules    *[]types.TargetingRule `json:"targeting_rules,omitempty"`
	UseForABTest      *bool                  `json:"use_for_ab_test,omitempty"`
	ExperimentID      *uuid.UUID             `json:"experiment_id,omitempty"`
	DefaultValue      datatypes.JSON         `json:"default_value,omitempty"`
	VariantValues     datatypes.JSONMap      `json:"variant_values,omitempty"`
}

// RegistryService owns the experiment and flag configuration: validated admin
// writes, TTL-cached reads, and cross-instance cache invalidation over the
// invalidation bus. Every evaluation-path read in the engine goes through the
// caches here; the backing rows stay authoritative, so a stale entry can cost
// at most one TTL window of outdated config, never a wrong assignment.
type RegistryService interface {
	CreateExperiment(ctx context.Context, tx *gorm.DB, in *types.Experiment) (*types.Experiment, error)
	GetExperiment(ctx context.Context, id uuid.UUID) (*types.Experiment, error)
	GetExperimentByKey(ctx context.Context, key string) (*types.Experiment, error)
	ListExperiments(ctx context.Context) ([]*types.Experiment, error)
	ListActiveExperiments(ctx context.Context) ([]*types.Experiment, error)
	UpdateExperiment(ctx context.Context, tx *gorm.DB, id uuid.UUID, patch ExperimentUpdate) (*types.Experiment, error)
	StartExperiment(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Experiment, error)
	StopExperiment(ctx context.Context, tx *gorm.DB, id uuid.UUID, outcome string) (*types.Experiment, error)
	DeleteExperiment(ctx context.Context, tx *gorm.DB, id uuid.UUID) error

	CreateFlag(ctx context.Context, tx *gorm.DB, in *types.FeatureFlag) (*types.FeatureFlag, error)
	GetFlag(ctx context.Context, key string) (*types.FeatureFlag, error)
	ListFlags(ctx context.Context) ([]*types.FeatureFlag, error)
	ListActiveFlags(ctx context.Context) ([]*types.FeatureFlag, error)
	UpdateFlag(ctx context.Context, tx *gorm.DB, key string, patch FlagUpdate) (*types.FeatureFlag, error)
	ToggleFlag(ctx context.Context, tx *gorm.DB, key string, active bool) (*types.FeatureFlag, error)
	DeleteFlag(ctx context.Context, tx *gorm.DB, key string) error

	// ConfigGeneration increments on every invalidation, local or remote.
	// Derived caches (per-session flag evaluations) compare generations to
	// drop entries computed against config that has since changed.
	ConfigGeneration() uint64

	// StartInvalidationListener subscribes to the invalidation bus and applies
	// entries written by other instances. Returns once the subscription is
	// live; delivery continues until ctx is cancelled.
	StartInvalidationListener(ctx context.Context) error
}

type registryService struct {
	db    *gorm.DB
	log   *logger.Logger
	exps  repos.ExperimentRepo
	flags repos.FeatureFlagRepo
	inval bus.Bus

	expByID     *cache.Cache[*types.Experiment]
	expIDByKey  *cache.Cache[uuid.UUID]
	activeExps  *cache.Cache[[]*types.Experiment]
	flagByKey   *cache.Cache[*types.FeatureFlag]
	activeFlags *cache.Cache[[]*types.FeatureFlag]

	sf        singleflight.Group
	configGen atomic.Uint64
}

const activeListKey = "all"

func NewRegistryService(
	db *gorm.DB,
	baseLog *logger.Logger,
	expRepo repos.ExperimentRepo,
	flagRepo repos.FeatureFlagRepo,
	invalidationBus bus.Bus,
	experimentTTL time.Duration,
	flagTTL time.Duration,
) RegistryService {
	return &registryService{
		db:          db,
		log:         baseLog.With("service", "RegistryService"),
		exps:        expRepo,
		flags:       flagRepo,
		inval:       invalidationBus,
		expByID:     cache.New[*types.Experiment](experimentTTL),
		expIDByKey:  cache.New[uuid.UUID](experimentTTL),
		activeExps:  cache.New[[]*types.Experiment](experimentTTL),
		flagByKey:   cache.New[*types.FeatureFlag](flagTTL),
		activeFlags: cache.New[[]*types.FeatureFlag](flagTTL),
	}
}

// --- experiments ---

func (r *registryService) CreateExperiment(ctx context.Context, tx *gorm.DB, in *types.Experiment) (*types.Experiment, error) {
	const op = "registry.create_experiment"
	if in == nil {
		return nil, types.NewError(types.CodeInvalidConfig, op, "experiment body is required", nil)
	}
	// Experiments are always born draft; Start is the only way to go active,
	// which keeps started_at trustworthy for runtime accounting.
	in.Status = types.StatusDraft
	in.StartedAt = nil
	in.EndedAt = nil
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if existing, err := r.exps.GetByFeatureKey(ctx, tx, in.FeatureKey); err != nil {
		return nil, types.Wrap(types.CodeInvalidConfig, op, err)
	} else if existing != nil {
		return nil, types.NewError(types.CodeInvalidConfig, op, "feature_key already in use: "+in.FeatureKey, nil)
	}
	if err := r.exps.Create(ctx, tx, in); err != nil {
		if types.IsUniqueViolation(err) {
			return nil, types.NewError(types.CodeInvalidConfig, op, "feature_key already in use: "+in.FeatureKey, err)
		}
		return nil, types.Wrap(types.CodeInvalidConfig, op, err)
	}
	r.invalidateExperiment(ctx, in.ID.String())
	r.log.Info("experiment created", "experiment_id", in.ID, "feature_key", in.FeatureKey)
	return in, nil
}

func (r *registryService) GetExperiment(ctx context.Context, id uuid.UUID) (*types.Experiment, error) {
	const op = "registry.get_experiment"
	m := observability.Current()
	key := id.String()
	if exp, ok := r.expByID.Get(key); ok {
		m.IncCacheEvent("experiments", "hit")
		return exp, nil
	}
	m.IncCacheEvent("experiments", "miss")
	v, err, _ := r.sf.Do("exp:"+key, func() (any, error) {
		exp, err := r.exps.GetByID(ctx, nil, id)
		if err != nil {
			return nil, err
		}
		if exp == nil {
			return nil, types.NewError(types.CodeExperimentNotFound, op, "experiment "+key+" does not exist", nil)
		}
		r.cacheExperiment(exp)
		return exp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.Experiment), nil
}

func (r *registryService) GetExperimentByKey(ctx context.Context, key string) (*types.Experiment, error) {
	const op = "registry.get_experiment_by_key"
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, types.NewError(types.CodeExperimentNotFound, op, "feature key is required", nil)
	}
	// The feature key is immutable after creation, so the key-to-id mapping
	// never goes stale; only the experiment entry itself is invalidated.
	if id, ok := r.expIDByKey.Get(key); ok {
		return r.GetExperiment(ctx, id)
	}
	v, err, _ := r.sf.Do("expkey:"+key, func() (any, error) {
		exp, err := r.exps.GetByFeatureKey(ctx, nil, key)
		if err != nil {
			return nil, err
		}
		if exp == nil {
			return nil, types.NewError(types.CodeExperimentNotFound, op, "no experiment with feature key "+key, nil)
		}
		r.cacheExperiment(exp)
		return exp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.Experiment), nil
}

func (r *registryService) ListExperiments(ctx context.Context) ([]*types.Experiment, error) {
	// Admin listing reads through to the store: the dashboard that just wrote
	// a row expects to see it in the very next list.
	return r.exps.List(ctx, nil)
}

func (r *registryService) ListActiveExperiments(ctx context.Context) ([]*types.Experiment, error) {
	m := observability.Current()
	if exps, ok := r.activeExps.Get(activeListKey); ok {
		m.IncCacheEvent("active_experiments", "hit")
		return exps, nil
	}
	m.IncCacheEvent("active_experiments", "miss")
	v, err, _ := r.sf.Do("active", func() (any, error) {
		exps, err := r.exps.ListByStatus(ctx, nil, types.StatusActive)
		if err != nil {
			return nil, err
		}
		// Full refresh: the list swaps in atomically and warms the per-entry
		// cache so assignment lookups right after a refresh stay local.
		r.activeExps.ReplaceAll(map[string][]*types.Experiment{activeListKey: exps})
		for _, exp := range exps {
			r.cacheExperiment(exp)
		}
		m.IncCacheEvent("active_experiments", "refresh")
		return exps, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*types.Experiment), nil
}

func (r *registryService) UpdateExperiment(ctx context.Context, tx *gorm.DB, id uuid.UUID, patch ExperimentUpdate) (*types.Experiment, error) {
	const op = "registry.update_experiment"
	exp, err := r.loadExperiment(ctx, tx, id, op)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		exp.Name = *patch.Name
	}
	if patch.Description != nil {
		exp.Description = *patch.Description
	}
	if patch.Variants != nil {
		if exp.Status == types.StatusActive && !types.SameVariantSet(exp.Variants, patch.Variants) {
			return nil, types.NewError(types.CodeInvalidConfig, op, "variant set is frozen while the experiment is active", nil)
		}
		exp.Variants = patch.Variants
	}
	if patch.Metrics != nil {
		exp.Metrics = patch.Metrics
	}
	if patch.TargetingRules != nil {
		exp.TargetingRules = *patch.TargetingRules
	}
	if patch.TrafficAllocation != nil {
		exp.TrafficAllocation = *patch.TrafficAllocation
	}
	if patch.StatisticalConfig != nil {
		exp.StatisticalConfig = datatypes.NewJSONType(*patch.StatisticalConfig)
	}
	exp.Normalize()
	if err := exp.Validate(); err != nil {
		return nil, err
	}
	if err := r.exps.Update(ctx, tx, exp); err != nil {
		return nil, types.Wrap(types.CodeInvalidConfig, op, err)
	}
	r.invalidateExperiment(ctx, exp.ID.String())
	return exp, nil
}

func (r *registryService) StartExperiment(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Experiment, error) {
	const op = "registry.start_experiment"
	exp, err := r.loadExperiment(ctx, tx, id, op)
	if err != nil {
		return nil, err
	}
	if exp.Status != types.StatusDraft {
		return nil, types.NewError(types.CodeInvalidConfig, op, "only draft experiments can start, current status is "+exp.Status, nil)
	}
	if err := exp.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	exp.Status = types.StatusActive
	exp.StartedAt = &now
	exp.EndedAt = nil
	if err := r.exps.Update(ctx, tx, exp); err != nil {
		return nil, types.Wrap(types.CodeInvalidConfig, op, err)
	}
	r.invalidateExperiment(ctx, exp.ID.String())
	r.log.Info("experiment started", "experiment_id", exp.ID, "feature_key", exp.FeatureKey)
	return exp, nil
}

func (r *registryService) StopExperiment(ctx context.Context, tx *gorm.DB, id uuid.UUID, outcome string) (*types.Experiment, error) {
	const op = "registry.stop_experiment"
	exp, err := r.loadExperiment(ctx, tx, id, op)
	if err != nil {
		return nil, err
	}
	if outcome == "" {
		outcome = types.StatusCompleted
	}
	if outcome != types.StatusCompleted && outcome != types.StatusArchived {
		return nil, types.NewError(types.CodeInvalidConfig, op, "stop outcome must be completed or archived", nil)
	}
	if exp.Status != types.StatusActive {
		return nil, types.NewError(types.CodeInvalidConfig, op, "only active experiments can stop, current status is "+exp.Status, nil)
	}
	now := time.Now().UTC()
	exp.Status = outcome
	exp.EndedAt = &now
	if err := r.exps.Update(ctx, tx, exp); err != nil {
		return nil, types.Wrap(types.CodeInvalidConfig, op, err)
	}
	r.invalidateExperiment(ctx, exp.ID.String())
	r.log.Info("experiment stopped", "experiment_id", exp.ID, "outcome", outcome)
	return exp, nil
}

func (r *registryService) DeleteExperiment(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	const op = "registry.delete_experiment"
	exp, err := r.loadExperiment(ctx, tx, id, op)
	if err != nil {
		return err
	}
	// Archived is the only deletable state: a live experiment keeps its
	// assignments meaningful, and completed ones keep their results readable.
	if exp.Status != types.StatusArchived {
		return types.NewError(types.CodeInvalidConfig, op, "only archived experiments can be deleted, current status is "+exp.Status, nil)
	}
	if err := r.exps.SoftDeleteByID(ctx, tx, id); err != nil {
		return types.Wrap(types.CodeInvalidConfig, op, err)
	}
	r.invalidateExperiment(ctx, id.String())
	r.log.Info("experiment deleted", "experiment_id", id)
	return nil
}

func (r *registryService) loadExperiment(ctx context.Context, tx *gorm.DB, id uuid.UUID, op string) (*types.Experiment, error) {
	// Write paths read the row, never the cache: the mutation must apply to
	// current state even if this instance's cache is a TTL window behind.
	exp, err := r.exps.GetByID(ctx, tx, id)
	if err != nil {
		return nil, types.Wrap(types.CodeInvalidConfig, op, err)
	}
	if exp == nil {
		return nil, types.NewError(types.CodeExperimentNotFound, op, "experiment "+id.String()+" does not exist", nil)
	}
	return exp, nil
}

// --- flags ---

func (r *registryService) CreateFlag(ctx context.Context, tx *gorm.DB, in *types.FeatureFlag) (*types.FeatureFlag, error) {
	const op = "registry.create_flag"
	if in == nil {
		return nil, types.NewError(types.CodeInvalidConfig, op, "flag body is required", nil)
	}
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := r.checkFlagExperiment(ctx, tx, in); err != nil {
		return nil, err
	}
	if existing, err := r.flags.GetByKey(ctx, tx, in.Key); err != nil {
		return nil, types.Wrap(types.CodeInvalidConfig, op, err)
	} else if existing != nil {
		return nil, types.NewError(types.CodeInvalidConfig, op, "flag key already in use: "+in.Key, nil)
	}
	if err := r.flags.Create(ctx, tx, in); err != nil {
		if types.IsUniqueViolation(err) {
			return nil, types.NewError(types.CodeInvalidConfig, op, "flag key already in use: "+in.Key, err)
		}
		return nil, types.Wrap(types.CodeInvalidConfig, op, err)
	}
	r.invalidateFlag(ctx, in.Key)
	r.log.Info("flag created", "flag_key", in.Key)
	return in, nil
}

func (r *registryService) GetFlag(ctx context.Context, key string) (*types.FeatureFlag, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	m := observability.Current()
	if flag, ok := r.flagByKey.Get(key); ok {
		m.IncCacheEvent("flags", "hit")
		return flag, nil
	}
	m.IncCacheEvent("flags", "miss")
	v, err, _ := r.sf.Do("flag:"+key, func() (any, error) {
		flag, err := r.flags.GetByKey(ctx, nil, key)
		if err != nil {
			return nil, err
		}
		if flag != nil {
			r.flagByKey.Set(key, flag)
		}
		return flag, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.FeatureFlag), nil
}

func (r *registryService) ListFlags(ctx context.Context) ([]*types.FeatureFlag, error) {
	return r.flags.List(ctx, nil)
}

func (r *registryService) ListActiveFlags(ctx context.Context) ([]*types.FeatureFlag, error) {
	m := observability.Current()
	if flags, ok := r.activeFlags.Get(activeListKey); ok {
		m.IncCacheEvent("active_flags", "hit")
		return flags, nil
	}
	m.IncCacheEvent("active_flags", "miss")
	v, err, _ := r.sf.Do("activeflags", func() (any, error) {
		flags, err := r.flags.ListActive(ctx, nil)
		if err != nil {
			return nil, err
		}
		r.activeFlags.ReplaceAll(map[string][]*types.FeatureFlag{activeListKey: flags})
		for _, f := range flags {
			r.flagByKey.Set(f.Key, f)
		}
		m.IncCacheEvent("active_flags", "refresh")
		return flags, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*types.FeatureFlag), nil
}

func (r *registryService) UpdateFlag(ctx context.Context, tx *gorm.DB, key string, patch FlagUpdate) (*types.FeatureFlag, error) {
	const op = "registry.update_flag"
	flag, err := r.loadFlag(ctx, tx, key, op)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		flag.Name = *patch.Name
	}
	if patch.Description != nil {
		flag.Description = *patch.Description
	}
	if patch.IsActive != nil {
		flag.IsActive = *patch.IsActive
	}
	if patch.RolloutPercentage != nil {
		flag.RolloutPercentage = *patch.RolloutPercentage
	}
	if patch.TargetingRules != nil {
		flag.TargetingRules = *patch.TargetingRules
	}
	if patch.UseForABTest != nil {
		flag.UseForABTest = *patch.UseForABTest
	}
	if patch.ExperimentID != nil {
		flag.ExperimentID = patch.ExperimentID
	}
	if patch.DefaultValue != nil {
		flag.DefaultValue = patch.DefaultValue
	}
	if patch.VariantValues != nil {
		flag.VariantValues = patch.VariantValues
	}
	flag.Normalize()
	if err := flag.Validate(); err != nil {
		return nil, err
	}
	if err := r.checkFlagExperiment(ctx, tx, flag); err != nil {
		return nil, err
	}
	if err := r.flags.Update(ctx, tx, flag); err != nil {
		return nil, types.Wrap(types.CodeInvalidConfig, op, err)
	}
	r.invalidateFlag(ctx, flag.Key)
	return flag, nil
}

func (r *registryService) ToggleFlag(ctx context.Context, tx *gorm.DB, key string, active bool) (*types.FeatureFlag, error) {
	const op = "registry.toggle_flag"
	flag, err := r.loadFlag(ctx, tx, key, op)
	if err != nil {
		return nil, err
	}
	if flag.IsActive == active {
		return flag, nil
	}
	if err := r.flags.UpdateFields(ctx, tx, flag.ID, map[string]interface{}{"is_active": active}); err != nil {
		return nil, types.Wrap(types.CodeInvalidConfig, op, err)
	}
	flag.IsActive = active
	r.invalidateFlag(ctx, flag.Key)
	r.log.Info("flag toggled", "flag_key", flag.Key, "is_active", active)
	return flag, nil
}

func (r *registryService) DeleteFlag(ctx context.Context, tx *gorm.DB, key string) error {
	const op = "registry.delete_flag"
	flag, err := r.loadFlag(ctx, tx, key, op)
	if err != nil {
		return err
	}
	if err := r.flags.SoftDeleteByID(ctx, tx, flag.ID); err != nil {
		return types.Wrap(types.CodeInvalidConfig, op, err)
	}
	r.invalidateFlag(ctx, flag.Key)
	r.log.Info("flag deleted", "flag_key", flag.Key)
	return nil
}

func (r *registryService) loadFlag(ctx context.Context, tx *gorm.DB, key, op string) (*types.FeatureFlag, error) {
	key = strings.TrimSpace(key)
	flag, err := r.flags.GetByKey(ctx, tx, key)
	if err != nil {
		return nil, types.Wrap(types.CodeInvalidConfig, op, err)
	}
	if flag == nil {
		return nil, types.NewError(types.CodeInvalidConfig, op, "flag "+key+" does not exist", nil)
	}
	return flag, nil
}

// checkFlagExperiment verifies that a delegating flag points at a real
// experiment before the link is persisted.
func (r *registryService) checkFlagExperiment(ctx context.Context, tx *gorm.DB, flag *types.FeatureFlag) error {
	const op = "registry.check_flag_experiment"
	if !flag.UseForABTest || flag.ExperimentID == nil {
		return nil
	}
	exp, err := r.exps.GetByID(ctx, tx, *flag.ExperimentID)
	if err != nil {
		return types.Wrap(types.CodeInvalidConfig, op, err)
	}
	if exp == nil {
		return types.NewError(types.CodeExperimentNotFound, op, "linked experiment "+flag.ExperimentID.String()+" does not exist", nil)
	}
	return nil
}

// --- invalidation ---

func (r *registryService) ConfigGeneration() uint64 {
	return r.configGen.Load()
}

func (r *registryService) invalidateExperiment(ctx context.Context, id string) {
	r.dropExperiment(id)
	observability.Current().IncCacheEvent("experiments", "invalidate")
	r.publishInvalidation(ctx, types.InvalidateExperiment, id)
}

func (r *registryService) invalidateFlag(ctx context.Context, key string) {
	r.dropFlag(key)
	observability.Current().IncCacheEvent("flags", "invalidate")
	r.publishInvalidation(ctx, types.InvalidateFlag, key)
}

func (r *registryService) dropExperiment(id string) {
	r.expByID.Delete(id)
	r.activeExps.Delete(activeListKey)
	r.configGen.Add(1)
}

func (r *registryService) dropFlag(key string) {
	r.flagByKey.Delete(key)
	r.activeFlags.Delete(activeListKey)
	r.configGen.Add(1)
}

func (r *registryService) cacheExperiment(exp *types.Experiment) {
	r.expByID.Set(exp.ID.String(), exp)
	r.expIDByKey.Set(exp.FeatureKey, exp.ID)
}

func (r *registryService) publishInvalidation(ctx context.Context, kind, id string) {
	if r.inval == nil {
		return
	}
	msg, err := bus.NewMessage(types.EventRegistryInvalidation, types.InvalidationEvent{Kind: kind, ID: id})
	if err != nil {
		r.log.Warn("invalidation encode failed", "kind", kind, "id", id, "error", err)
		return
	}
	err = r.inval.Publish(ctx, msg)
	observability.Current().IncBusPublish("invalidation", err)
	if err != nil {
		// Other instances fall back to TTL expiry; config can run one cache
		// window stale there, which the storage layer tolerates.
		r.log.Warn("invalidation publish failed", "kind", kind, "id", id, "error", err)
	}
}

func (r *registryService) StartInvalidationListener(ctx context.Context) error {
	if r.inval == nil {
		return nil
	}
	return r.inval.StartForwarder(ctx, func(m bus.Message) {
		if m.Type != types.EventRegistryInvalidation {
			return
		}
		var ev types.InvalidationEvent
		if err := m.Decode(&ev); err != nil {
			r.log.Warn("invalidation decode failed", "error", err)
			return
		}
		// Our own publishes come back through the channel as well; dropping
		// an already-dropped entry is a no-op, so no origin filtering needed.
		switch ev.Kind {
		case types.InvalidateExperiment:
			r.dropExperiment(ev.ID)
			observability.Current().IncCacheEvent("experiments", "remote_invalidate")
		case types.InvalidateFlag:
			r.dropFlag(ev.ID)
			observability.Current().IncCacheEvent("flags", "remote_invalidate")
		default:
			r.log.Warn("unknown invalidation kind", "kind", ev.Kind)
		}
	})
}
