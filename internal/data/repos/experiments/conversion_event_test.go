package experiments

import (
	"context"
	"testing"
	"time"

	"github.com/coachconnect/experiments-backend/internal/data/repos/testutil"
	types "github.com/coachconnect/experiments-backend/internal/domain/experiments"
)

func TestConversionEventRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	repo := NewConversionEventRepo(db, testutil.Logger(t))

	exp := testutil.SeedExperiment(t, ctx, tx, "search_ranking")
	control := "search_ranking_0"
	treatment := "search_ranking_1"

	// u1 converts twice on the same metric; distinct-user counting must
	// report one conversion, while the value column still sums both.
	testutil.SeedConversion(t, ctx, tx, "u1", exp.ID, control, "conversion")
	testutil.SeedConversion(t, ctx, tx, "u1", exp.ID, control, "conversion")
	testutil.SeedConversion(t, ctx, tx, "u2", exp.ID, control, "conversion")
	testutil.SeedConversion(t, ctx, tx, "u3", exp.ID, treatment, "conversion")
	testutil.SeedConversion(t, ctx, tx, "u3", exp.ID, treatment, "revenue")

	rows, err := repo.CountByVariantAndMetric(ctx, tx, exp.ID)
	if err != nil {
		t.Fatalf("CountByVariantAndMetric: %v", err)
	}
	type key struct{ variant, metric string }
	got := map[key]VariantMetricCount{}
	for _, row := range rows {
		got[key{row.VariantID, row.MetricName}] = row
	}
	if v := got[key{control, "conversion"}]; v.N != 2 || v.TotalValue != 3 {
		t.Fatalf("control/conversion: %+v", v)
	}
	if v := got[key{treatment, "conversion"}]; v.N != 1 || v.TotalValue != 1 {
		t.Fatalf("treatment/conversion: %+v", v)
	}
	if v := got[key{treatment, "revenue"}]; v.N != 1 {
		t.Fatalf("treatment/revenue: %+v", v)
	}

	events, err := repo.ListByUserAndExperiment(ctx, tx, "u1", exp.ID)
	if err != nil || len(events) != 2 {
		t.Fatalf("ListByUserAndExperiment: err=%v len=%d", err, len(events))
	}

	batch := []*types.ConversionEvent{
		{UserID: "u4", ExperimentID: exp.ID, VariantID: treatment, MetricName: "conversion", Value: 1, OccurredAt: time.Now().UTC()},
		{UserID: "u5", ExperimentID: exp.ID, VariantID: treatment, MetricName: "conversion", Value: 1, OccurredAt: time.Now().UTC()},
	}
	if err := repo.CreateBatch(ctx, tx, batch); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	if err := repo.DeleteByExperiment(ctx, tx, exp.ID); err != nil {
		t.Fatalf("DeleteByExperiment: %v", err)
	}
	if rows, err := repo.CountByVariantAndMetric(ctx, tx, exp.ID); err != nil || len(rows) != 0 {
		t.Fatalf("CountByVariantAndMetric after delete: err=%v rows=%+v", err, rows)
	}
}
