package services

import (
	"context"
	"time"

	types "github.com/coachconnect/experiments-backend/internal/domain/experiments"
	"github.com/coachconnect/experiments-backend/internal/observability"
	"github.com/coachconnect/experiments-backend/internal/platform/logger"
)

// RuntimeSweeper completes active experiments that have outlived their
// configured maximum runtime. It stops them through the registry so cache
// invalidation and the bus fan-out fire exactly as they would for an admin
// stop.
type RuntimeSweeper struct {
	log      *logger.Logger
	registry RegistryService
	interval time.Duration
}

func NewRuntimeSweeper(baseLog *logger.Logger, registry RegistryService, interval time.Duration) *RuntimeSweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &RuntimeSweeper{
		log:      baseLog.With("component", "RuntimeSweeper"),
		registry: registry,
		interval: interval,
	}
}

func (w *RuntimeSweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.Sweep(ctx)
			}
		}
	}()
}

// Sweep runs one pass. Exported so a deploy hook or test can force a pass
// without waiting out the ticker.
func (w *RuntimeSweeper) Sweep(ctx context.Context) {
	observability.Current().IncSweeperRun()
	exps, err := w.registry.ListActiveExperiments(ctx)
	if err != nil {
		w.log.Warn("sweep list failed", "error", err)
		return
	}
	now := time.Now().UTC()
	completed := 0
	for _, exp := range exps {
		if !exp.MaxRuntimeElapsed(now) {
			continue
		}
		if _, err := w.registry.StopExperiment(ctx, nil, exp.ID, types.StatusCompleted); err != nil {
			// Another instance may have swept it first; the stop re-reads the
			// row, so a lost race shows up as an invalid transition here.
			w.log.Warn("sweep stop failed", "experiment_id", exp.ID, "feature_key", exp.FeatureKey, "error", err)
			continue
		}
		completed++
		w.log.Info("experiment auto-completed", "experiment_id", exp.ID, "feature_key", exp.FeatureKey)
	}
	if completed > 0 {
		observability.Current().AddSweeperCompleted(completed)
	}
}
