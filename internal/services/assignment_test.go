package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/coachconnect/experiments-backend/internal/bucketing"
	"github.com/coachconnect/experiments-backend/internal/data/repos"
	"github.com/coachconnect/experiments-backend/internal/data/repos/testutil"
	types "github.com/coachconnect/experiments-backend/internal/domain/experiments"
)

type assignmentHarness struct {
	reg     RegistryService
	svc     AssignmentService
	assigns repos.AssignmentRepo
}

func newAssignmentHarness(t *testing.T) *assignmentHarness {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	assigns := repos.NewAssignmentRepo(db, log)
	reg := NewRegistryService(
		db,
		log,
		repos.NewExperimentRepo(db, log),
		repos.NewFeatureFlagRepo(db, log),
		nil,
		5*time.Minute,
		3*time.Minute,
	)
	return &assignmentHarness{
		reg:     reg,
		svc:     NewAssignmentService(db, log, reg, assigns, nil),
		assigns: assigns,
	}
}

// expectedVariant recomputes the cumulative-weight walk the engine is
// specified to perform, so the test fails if the selection ever drifts from
// the published algorithm.
func expectedVariant(exp *types.Experiment, userID string) string {
	bucket := bucketing.UserBucket(userID, bucketing.PurposeVariant)
	cumulative := 0
	for _, v := range exp.Variants {
		cumulative += v.TrafficWeight
		if bucket < cumulative {
			return v.ID
		}
	}
	return ""
}

func TestAssignmentServiceGetAssignment(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	h := newAssignmentHarness(t)

	exp := testutil.SeedExperiment(t, ctx, db, "assign_svc")
	userCtx := types.UserContext{UserID: "assign-svc-user-1", SessionID: "sess-1", UserAgent: "go-test"}

	first, err := h.svc.GetAssignment(ctx, exp.ID, userCtx)
	if err != nil {
		t.Fatalf("first assignment: %v", err)
	}
	if first == nil {
		t.Fatalf("full-allocation experiment must assign every user")
	}
	if want := expectedVariant(exp, userCtx.UserID); first.VariantID != want {
		t.Fatalf("variant = %q, want %q from the cumulative-weight walk", first.VariantID, want)
	}
	if first.SessionID != "sess-1" || len(first.Context) == 0 {
		t.Fatalf("assignment should snapshot session and context, got %+v", first)
	}

	second, err := h.svc.GetAssignment(ctx, exp.ID, userCtx)
	if err != nil {
		t.Fatalf("second assignment: %v", err)
	}
	if second == nil || second.ID != first.ID || second.VariantID != first.VariantID {
		t.Fatalf("repeat call must return the identical assignment, got %+v vs %+v", second, first)
	}

	if _, err := h.svc.GetAssignment(ctx, uuid.New(), userCtx); !types.IsCode(err, types.CodeExperimentNotFound) {
		t.Fatalf("unknown experiment should be EXPERIMENT_NOT_FOUND, got %v", err)
	}

	if a, err := h.svc.GetAssignment(ctx, exp.ID, types.UserContext{}); err != nil || a != nil {
		t.Fatalf("empty user id should be (nil, nil), got %v %v", a, err)
	}

	draft, err := h.reg.CreateExperiment(ctx, nil, draftExperiment("assign_svc_draft"))
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if a, err := h.svc.GetAssignment(ctx, draft.ID, userCtx); err != nil || a != nil {
		t.Fatalf("draft experiment should be (nil, nil), got %v %v", a, err)
	}
}

func TestAssignmentServiceTrafficGate(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	h := newAssignmentHarness(t)

	gated, err := h.reg.CreateExperiment(ctx, nil, draftExperiment("assign_svc_gated"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	zero := 0
	if _, err := h.reg.UpdateExperiment(ctx, nil, gated.ID, ExperimentUpdate{TrafficAllocation: &zero}); err != nil {
		t.Fatalf("set allocation 0: %v", err)
	}
	if _, err := h.reg.StartExperiment(ctx, nil, gated.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 0; i < 20; i++ {
		userCtx := types.UserContext{UserID: "gated-user-" + string(rune('a'+i))}
		a, err := h.svc.GetAssignment(ctx, gated.ID, userCtx)
		if err != nil {
			t.Fatalf("gated assignment: %v", err)
		}
		if a != nil {
			t.Fatalf("allocation 0 must never assign, user %q got %q", userCtx.UserID, a.VariantID)
		}
	}
	if row, err := h.assigns.GetByUserAndExperiment(ctx, db, "gated-user-a", gated.ID); err != nil || row != nil {
		t.Fatalf("gated user must have no persisted row, got %v %v", row, err)
	}
}

func TestAssignmentServiceTargeting(t *testing.T) {
	ctx := context.Background()
	h := newAssignmentHarness(t)

	in := draftExperiment("assign_svc_premium")
	in.TargetingRules = datatypes.JSONSlice[types.TargetingRule]{
		{Criteria: types.CriteriaPremiumUser},
	}
	exp, err := h.reg.CreateExperiment(ctx, nil, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.reg.StartExperiment(ctx, nil, exp.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	free := types.UserContext{UserID: "targeting-free-user"}
	if a, err := h.svc.GetAssignment(ctx, exp.ID, free); err != nil || a != nil {
		t.Fatalf("non-premium user should be (nil, nil), got %v %v", a, err)
	}

	premium := types.UserContext{UserID: "targeting-premium-user"}
	premium.Properties.SubscriptionTier = "premium"
	a, err := h.svc.GetAssignment(ctx, exp.ID, premium)
	if err != nil {
		t.Fatalf("premium assignment: %v", err)
	}
	if a == nil {
		t.Fatalf("premium user should be assigned")
	}
}

func TestAssignmentServiceStickyAfterStop(t *testing.T) {
	ctx := context.Background()
	h := newAssignmentHarness(t)

	exp, err := h.reg.CreateExperiment(ctx, nil, draftExperiment("assign_svc_sticky"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.reg.StartExperiment(ctx, nil, exp.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	userCtx := types.UserContext{UserID: "sticky-user"}
	before, err := h.svc.GetAssignment(ctx, exp.ID, userCtx)
	if err != nil || before == nil {
		t.Fatalf("assignment before stop: %v %v", before, err)
	}

	if _, err := h.reg.StopExperiment(ctx, nil, exp.ID, ""); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// The existing-row check runs before the active check, so prior
	// participants keep their variant after the experiment ends while new
	// users stay out.
	after, err := h.svc.GetAssignment(ctx, exp.ID, userCtx)
	if err != nil {
		t.Fatalf("assignment after stop: %v", err)
	}
	if after == nil || after.ID != before.ID {
		t.Fatalf("existing assignment must survive the stop, got %+v", after)
	}
	if a, err := h.svc.GetAssignment(ctx, exp.ID, types.UserContext{UserID: "sticky-newcomer"}); err != nil || a != nil {
		t.Fatalf("new user on a stopped experiment should be (nil, nil), got %v %v", a, err)
	}
}

func TestAssignmentServiceConcurrentFirstCall(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	h := newAssignmentHarness(t)

	exp := testutil.SeedExperiment(t, ctx, db, "assign_svc_race")
	userCtx := types.UserContext{UserID: "race-user"}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*types.ExperimentAssignment, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = h.svc.GetAssignment(ctx, exp.ID, userCtx)
		}()
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] == nil {
			t.Fatalf("caller %d got nil assignment", i)
		}
		if results[i].ID != results[0].ID || results[i].VariantID != results[0].VariantID {
			t.Fatalf("caller %d diverged: %+v vs %+v", i, results[i], results[0])
		}
	}

	counts, err := h.assigns.CountByVariant(ctx, db, exp.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	total := int64(0)
	for _, c := range counts {
		total += c.N
	}
	if total != 1 {
		t.Fatalf("concurrent first calls must converge on one row, got %d", total)
	}
}
