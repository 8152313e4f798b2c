package services

import (
	"context"
	"testing"
	"time"

	"github.com/coachconnect/experiments-backend/internal/data/repos"
	"github.com/coachconnect/experiments-backend/internal/data/repos/testutil"
	types "github.com/coachconnect/experiments-backend/internal/domain/experiments"
)

func TestRuntimeSweeperCompletesExpired(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	expRepo := repos.NewExperimentRepo(db, log)
	reg := NewRegistryService(
		db,
		log,
		expRepo,
		repos.NewFeatureFlagRepo(db, log),
		nil,
		5*time.Minute,
		3*time.Minute,
	)

	// Forty days against the default thirty-day maximum.
	expired := testutil.SeedExperiment(t, ctx, db, "sweeper_expired")
	backdated := time.Now().UTC().Add(-40 * 24 * time.Hour)
	if err := db.WithContext(ctx).Model(&types.Experiment{}).
		Where("id = ?", expired.ID).
		Update("started_at", backdated).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}
	fresh := testutil.SeedExperiment(t, ctx, db, "sweeper_fresh")

	sweeper := NewRuntimeSweeper(log, reg, time.Hour)
	sweeper.Sweep(ctx)

	got, err := expRepo.GetByID(ctx, nil, expired.ID)
	if err != nil {
		t.Fatalf("reload expired: %v", err)
	}
	if got == nil || got.Status != types.StatusCompleted {
		t.Fatalf("expired experiment should be completed, got %+v", got)
	}
	if got.EndedAt == nil {
		t.Fatalf("completion must stamp ended_at")
	}

	still, err := expRepo.GetByID(ctx, nil, fresh.ID)
	if err != nil {
		t.Fatalf("reload fresh: %v", err)
	}
	if still == nil || still.Status != types.StatusActive {
		t.Fatalf("fresh experiment must stay active, got %+v", still)
	}

	// A second pass finds nothing expired and changes nothing.
	sweeper.Sweep(ctx)
	again, err := expRepo.GetByID(ctx, nil, expired.ID)
	if err != nil {
		t.Fatalf("reload after second sweep: %v", err)
	}
	if again.Status != types.StatusCompleted || !again.EndedAt.Equal(*got.EndedAt) {
		t.Fatalf("second sweep must be a no-op, got %+v", again)
	}
}
