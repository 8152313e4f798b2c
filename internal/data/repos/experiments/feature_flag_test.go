package experiments

import (
	"context"
	"testing"

	"gorm.io/datatypes"

	"github.com/coachconnect/experiments-backend/internal/data/repos/testutil"
)

func TestFeatureFlagRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	repo := NewFeatureFlagRepo(db, testutil.Logger(t))

	f := testutil.SeedFlag(t, ctx, tx, "dark_mode", 50)
	testutil.SeedFlag(t, ctx, tx, "beta_search", 100)

	if got, err := repo.GetByKey(ctx, tx, "dark_mode"); err != nil || got == nil || got.ID != f.ID {
		t.Fatalf("GetByKey: got=%v err=%v", got, err)
	}
	if got, err := repo.GetByID(ctx, tx, f.ID); err != nil || got == nil || got.Key != "dark_mode" {
		t.Fatalf("GetByID: got=%v err=%v", got, err)
	}
	if got, err := repo.GetByKey(ctx, tx, "missing"); err != nil || got != nil {
		t.Fatalf("GetByKey(miss): got=%v err=%v", got, err)
	}
	if rows, err := repo.List(ctx, tx); err != nil || len(rows) != 2 {
		t.Fatalf("List: err=%v len=%d", err, len(rows))
	}

	if err := repo.UpdateFields(ctx, tx, f.ID, map[string]interface{}{"is_active": false}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	if rows, err := repo.ListActive(ctx, tx); err != nil || len(rows) != 1 || rows[0].Key != "beta_search" {
		t.Fatalf("ListActive: err=%v rows=%+v", err, rows)
	}

	f.RolloutPercentage = 75
	f.VariantValues = datatypes.JSONMap{"dark_mode_1": "enabled"}
	if err := repo.Update(ctx, tx, f); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := repo.GetByKey(ctx, tx, "dark_mode")
	if err != nil || got == nil {
		t.Fatalf("GetByKey after update: got=%v err=%v", got, err)
	}
	if got.RolloutPercentage != 75 {
		t.Fatalf("rollout round-trip: %d", got.RolloutPercentage)
	}
	if v, ok := got.VariantValue("dark_mode_1"); !ok || v != "enabled" {
		t.Fatalf("VariantValue: v=%v ok=%v", v, ok)
	}
	if _, ok := got.VariantValue("dark_mode_9"); ok {
		t.Fatalf("VariantValue should miss for unknown variant")
	}

	if err := repo.SoftDeleteByID(ctx, tx, f.ID); err != nil {
		t.Fatalf("SoftDeleteByID: %v", err)
	}
	if got, err := repo.GetByKey(ctx, tx, "dark_mode"); err != nil || got != nil {
		t.Fatalf("GetByKey after delete: got=%v err=%v", got, err)
	}
}
