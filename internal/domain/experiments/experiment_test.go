package experiments

import (
	"testing"

	"gorm.io/datatypes"
)

func validExperiment() *Experiment {
	return &Experiment{
		Name:       "booking flow revamp",
		FeatureKey: "booking_flow",
		Status:     StatusDraft,
		Variants: []ExperimentVariant{
			{Name: "current", TrafficWeight: 50, IsControl: true},
			{Name: "streamlined", TrafficWeight: 50},
		},
		Metrics: []ConversionMetric{
			{Name: "booking_completed", IsPrimary: true},
		},
		TrafficAllocation: 100,
	}
}

func TestExperimentValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(e *Experiment)
		wantErr bool
	}{
		{
			name:   "valid",
			mutate: func(e *Experiment) {},
		},
		{
			name: "weights_sum_99",
			mutate: func(e *Experiment) {
				e.Variants[1].TrafficWeight = 49
			},
			wantErr: true,
		},
		{
			name: "no_control",
			mutate: func(e *Experiment) {
				e.Variants[0].IsControl = false
				e.Variants[0].Type = VariantTypeVariant
			},
			wantErr: true,
		},
		{
			name: "no_primary_metric",
			mutate: func(e *Experiment) {
				e.Metrics[0].IsPrimary = false
			},
			wantErr: true,
		},
		{
			name: "no_metrics",
			mutate: func(e *Experiment) {
				e.Metrics = nil
			},
			wantErr: true,
		},
		{
			name: "traffic_allocation_out_of_range",
			mutate: func(e *Experiment) {
				e.TrafficAllocation = 101
			},
			wantErr: true,
		},
		{
			name: "unknown_criteria",
			mutate: func(e *Experiment) {
				e.TargetingRules = []TargetingRule{{Criteria: "vip_user"}}
			},
			wantErr: true,
		},
		{
			name: "unsupported_confidence_level",
			mutate: func(e *Experiment) {
				cfg := e.StatConfig()
				cfg.ConfidenceLevel = 0.97
				e.StatisticalConfig = datatypes.NewJSONType(cfg)
			},
			wantErr: true,
		},
		{
			name: "missing_feature_key",
			mutate: func(e *Experiment) {
				e.FeatureKey = ""
			},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := validExperiment()
			tc.mutate(e)
			e.Normalize()
			err := e.Validate()
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Validate()=nil, want INVALID_CONFIG")
				}
				if !IsCode(err, CodeInvalidConfig) {
					t.Fatalf("Validate() code=%q, want %q (err=%v)", CodeOf(err), CodeInvalidConfig, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate()=%v, want nil", err)
			}
		})
	}
}

func TestNormalizeDerivesVariantIDs(t *testing.T) {
	e := validExperiment()
	e.Normalize()

	if got, want := e.Variants[0].ID, "booking_flow_0"; got != want {
		t.Fatalf("variant 0 id=%q, want %q", got, want)
	}
	if got, want := e.Variants[1].ID, "booking_flow_1"; got != want {
		t.Fatalf("variant 1 id=%q, want %q", got, want)
	}
	if e.Variants[0].Type != VariantTypeControl {
		t.Fatalf("control variant type=%q, want %q", e.Variants[0].Type, VariantTypeControl)
	}
	if e.Variants[1].Type != VariantTypeVariant {
		t.Fatalf("variant type=%q, want %q", e.Variants[1].Type, VariantTypeVariant)
	}
	if got := e.StatConfig(); got.ConfidenceLevel != ConfidenceLevel95 || got.MinimumSampleSize != 100 {
		t.Fatalf("stat config defaults not applied: %+v", got)
	}
}

func TestControlVariantFallback(t *testing.T) {
	e := validExperiment()
	e.Normalize()

	if cv := e.ControlVariant(); cv == nil || cv.ID != "booking_flow_0" {
		t.Fatalf("ControlVariant()=%+v, want booking_flow_0", cv)
	}

	// No flagged control: first variant stands in.
	e.Variants[0].IsControl = false
	if cv := e.ControlVariant(); cv == nil || cv.ID != "booking_flow_0" {
		t.Fatalf("ControlVariant() fallback=%+v, want first variant", cv)
	}

	e.Variants = nil
	if cv := e.ControlVariant(); cv != nil {
		t.Fatalf("ControlVariant() on empty list=%+v, want nil", cv)
	}
}

func TestSameVariantSet(t *testing.T) {
	e := validExperiment()
	e.Normalize()
	same := make([]ExperimentVariant, len(e.Variants))
	copy(same, e.Variants)

	if !SameVariantSet(e.Variants, same) {
		t.Fatalf("identical variant sets reported different")
	}

	same[1].TrafficWeight = 49
	if SameVariantSet(e.Variants, same) {
		t.Fatalf("weight change not detected")
	}
}
