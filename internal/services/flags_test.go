package services

import (
	"context"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/coachconnect/experiments-backend/internal/data/repos"
	"github.com/coachconnect/experiments-backend/internal/data/repos/testutil"
	types "github.com/coachconnect/experiments-backend/internal/domain/experiments"
)

type flagHarness struct {
	reg   RegistryService
	flags FlagService
}

func newFlagHarness(t *testing.T) *flagHarness {
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
	assigns := NewAssignmentService(db, log, reg, repos.NewAssignmentRepo(db, log), nil)
	return &flagHarness{
		reg:   reg,
		flags: NewFlagService(log, reg, assigns, nil, 3*time.Minute),
	}
}

func TestFlagServiceStandalone(t *testing.T) {
	ctx := context.Background()
	h := newFlagHarness(t)
	userCtx := types.UserContext{UserID: "flag-user-1", SessionID: "fs-1"}

	if _, err := h.reg.CreateFlag(ctx, nil, &types.FeatureFlag{
		Key:               "flag_svc_on",
		Name:              "Always on",
		IsActive:          true,
		RolloutPercentage: 100,
		DefaultValue:      datatypes.JSON([]byte(`"fallback"`)),
	}); err != nil {
		t.Fatalf("create on-flag: %v", err)
	}
	eval := h.flags.Evaluate(ctx, "flag_svc_on", userCtx, "caller-default")
	if !eval.IsEnabled || eval.Value != true || eval.Reason != types.FlagReasonEnabled {
		t.Fatalf("full rollout should enable, got %+v", eval)
	}

	if _, err := h.reg.CreateFlag(ctx, nil, &types.FeatureFlag{
		Key:               "flag_svc_off",
		Name:              "Always off",
		IsActive:          true,
		RolloutPercentage: 0,
		DefaultValue:      datatypes.JSON([]byte(`"stored-default"`)),
	}); err != nil {
		t.Fatalf("create off-flag: %v", err)
	}
	eval = h.flags.Evaluate(ctx, "flag_svc_off", userCtx, "caller-default")
	if eval.IsEnabled || eval.Reason != types.FlagReasonRollout {
		t.Fatalf("zero rollout should exclude, got %+v", eval)
	}
	if eval.Value != "stored-default" {
		t.Fatalf("excluded user should see the flag's stored default, got %v", eval.Value)
	}

	eval = h.flags.Evaluate(ctx, "flag_svc_missing", userCtx, "caller-default")
	if eval.IsEnabled || eval.Reason != types.FlagReasonNotFound || eval.Value != "caller-default" {
		t.Fatalf("missing flag should serve the caller default, got %+v", eval)
	}
}

func TestFlagServiceToggleFallback(t *testing.T) {
	ctx := context.Background()
	h := newFlagHarness(t)
	userCtx := types.UserContext{UserID: "flag-toggle-user", SessionID: "ft-1"}

	if _, err := h.reg.CreateFlag(ctx, nil, &types.FeatureFlag{
		Key:               "flag_svc_toggle",
		Name:              "Toggling",
		IsActive:          true,
		RolloutPercentage: 100,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	before := h.flags.Evaluate(ctx, "flag_svc_toggle", userCtx, false)
	if !before.IsEnabled {
		t.Fatalf("expected enabled before toggle, got %+v", before)
	}

	if _, err := h.reg.ToggleFlag(ctx, nil, "flag_svc_toggle", false); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	// The toggle bumps the config generation, which strands the per-session
	// cache entry; the very next evaluation must fall back.
	after := h.flags.Evaluate(ctx, "flag_svc_toggle", userCtx, false)
	if after.IsEnabled || after.Reason != types.FlagReasonInactive || after.Value != false {
		t.Fatalf("disabled flag must serve the default immediately, got %+v", after)
	}
}

func TestFlagServiceTargeting(t *testing.T) {
	ctx := context.Background()
	h := newFlagHarness(t)

	if _, err := h.reg.CreateFlag(ctx, nil, &types.FeatureFlag{
		Key:               "flag_svc_mobile",
		Name:              "Mobile only",
		IsActive:          true,
		RolloutPercentage: 100,
		TargetingRules: datatypes.JSONSlice[types.TargetingRule]{
			{Criteria: types.CriteriaMobileUser},
		},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	desktop := types.UserContext{UserID: "flag-desktop-user"}
	desktop.Properties.Device.Type = "desktop"
	eval := h.flags.Evaluate(ctx, "flag_svc_mobile", desktop, "nope")
	if eval.IsEnabled || eval.Reason != types.FlagReasonNoTarget {
		t.Fatalf("desktop user should miss targeting, got %+v", eval)
	}

	mobile := types.UserContext{UserID: "flag-mobile-user"}
	mobile.Properties.Device.Type = "mobile"
	eval = h.flags.Evaluate(ctx, "flag_svc_mobile", mobile, "nope")
	if !eval.IsEnabled || eval.Reason != types.FlagReasonEnabled {
		t.Fatalf("mobile user should be enabled, got %+v", eval)
	}
}

func TestFlagServiceExperimentDelegation(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	h := newFlagHarness(t)
	userCtx := types.UserContext{UserID: "flag-ab-user", SessionID: "fab-1"}

	exp := testutil.SeedExperiment(t, ctx, db, "flag_svc_ab")
	if _, err := h.reg.CreateFlag(ctx, nil, &types.FeatureFlag{
		Key:          "flag_svc_ab",
		Name:         "AB flag",
		IsActive:     true,
		UseForABTest: true,
		ExperimentID: testutil.PtrUUID(exp.ID),
		DefaultValue: datatypes.JSON([]byte(`"control-default"`)),
		VariantValues: datatypes.JSONMap{
			"flag_svc_ab_0": "control-value",
			"flag_svc_ab_1": "treatment-value",
		},
	}); err != nil {
		t.Fatalf("create ab flag: %v", err)
	}

	eval := h.flags.Evaluate(ctx, "flag_svc_ab", userCtx, nil)
	if !eval.IsEnabled || eval.Reason != types.FlagReasonExperiment {
		t.Fatalf("delegated flag should evaluate through the experiment, got %+v", eval)
	}
	if eval.VariantID == "" {
		t.Fatalf("delegated evaluation must carry the variant id")
	}
	want := map[string]any{
		"flag_svc_ab_0": "control-value",
		"flag_svc_ab_1": "treatment-value",
	}[eval.VariantID]
	if eval.Value != want {
		t.Fatalf("value = %v, want %v for variant %s", eval.Value, want, eval.VariantID)
	}

	repeat := h.flags.Evaluate(ctx, "flag_svc_ab", userCtx, nil)
	if repeat.VariantID != eval.VariantID || repeat.Value != eval.Value {
		t.Fatalf("delegated evaluation must be stable, got %+v then %+v", eval, repeat)
	}
}

func TestFlagServiceExperimentNoAssignment(t *testing.T) {
	ctx := context.Background()
	h := newFlagHarness(t)

	gated, err := h.reg.CreateExperiment(ctx, nil, draftExperiment("flag_svc_ab_gated"))
	if err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	zero := 0
	if _, err := h.reg.UpdateExperiment(ctx, nil, gated.ID, ExperimentUpdate{TrafficAllocation: &zero}); err != nil {
		t.Fatalf("set allocation: %v", err)
	}
	if _, err := h.reg.StartExperiment(ctx, nil, gated.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := h.reg.CreateFlag(ctx, nil, &types.FeatureFlag{
		Key:          "flag_svc_ab_gated",
		Name:         "Gated AB flag",
		IsActive:     true,
		UseForABTest: true,
		ExperimentID: testutil.PtrUUID(gated.ID),
		DefaultValue: datatypes.JSON([]byte(`"everyone-else"`)),
	}); err != nil {
		t.Fatalf("create flag: %v", err)
	}

	eval := h.flags.Evaluate(ctx, "flag_svc_ab_gated", types.UserContext{UserID: "flag-ab-outsider"}, nil)
	if eval.IsEnabled || eval.Reason != types.FlagReasonNoAssignment {
		t.Fatalf("unassigned user should fall back, got %+v", eval)
	}
	if eval.Value != "everyone-else" {
		t.Fatalf("fallback should be the flag's own default, got %v", eval.Value)
	}
}

func TestFlagServiceEvaluateAll(t *testing.T) {
	ctx := context.Background()
	h := newFlagHarness(t)
	userCtx := types.UserContext{UserID: "flag-bootstrap-user", SessionID: "boot-1"}

	for _, key := range []string{"flag_svc_all_a", "flag_svc_all_b"} {
		if _, err := h.reg.CreateFlag(ctx, nil, &types.FeatureFlag{
			Key: key, Name: key, IsActive: true, RolloutPercentage: 100,
		}); err != nil {
			t.Fatalf("create %s: %v", key, err)
		}
	}
	if _, err := h.reg.CreateFlag(ctx, nil, &types.FeatureFlag{
		Key: "flag_svc_all_dark", Name: "dark", IsActive: false, RolloutPercentage: 100,
	}); err != nil {
		t.Fatalf("create inactive: %v", err)
	}

	evals, err := h.flags.EvaluateAll(ctx, userCtx)
	if err != nil {
		t.Fatalf("evaluate all: %v", err)
	}
	for _, key := range []string{"flag_svc_all_a", "flag_svc_all_b"} {
		e, ok := evals[key]
		if !ok {
			t.Fatalf("bootstrap missing active flag %s", key)
		}
		if !e.IsEnabled {
			t.Fatalf("flag %s should be enabled, got %+v", key, e)
		}
	}
	if _, ok := evals["flag_svc_all_dark"]; ok {
		t.Fatalf("inactive flag must not appear in the bootstrap")
	}
}
