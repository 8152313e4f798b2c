package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"

	"github.com/coachconnect/experiments-backend/internal/app"
	types "github.com/coachconnect/experiments-backend/internal/domain/experiments"
)

// Seed definitions are declarative YAML so an environment's experiments and
// flags can live in version control and re-apply cleanly: keys that already
// exist are skipped, never overwritten.

type seedFile struct {
	Experiments []seedExperiment `yaml:"experiments"`
	Flags       []seedFlag       `yaml:"flags"`
}

type seedExperiment struct {
	Name              string         `yaml:"name"`
	FeatureKey        string         `yaml:"feature_key"`
	Description       string         `yaml:"description"`
	TrafficAllocation int            `yaml:"traffic_allocation"`
	Variants          []seedVariant  `yaml:"variants"`
	Metrics           []seedMetric   `yaml:"metrics"`
	TargetingRules    []seedRule     `yaml:"targeting_rules"`
	Statistical       seedStatConfig `yaml:"statistical_config"`
	Start             bool           `yaml:"start"`
}

type seedVariant struct {
	ID            string         `yaml:"id"`
	Name          string         `yaml:"name"`
	Type          string         `yaml:"type"`
	TrafficWeight int            `yaml:"traffic_weight"`
	IsControl     bool           `yaml:"is_control"`
	Config        map[string]any `yaml:"config"`
}

type seedMetric struct {
	Name        string `yaml:"name"`
	EventType   string `yaml:"event_type"`
	Description string `yaml:"description"`
	IsPrimary   bool   `yaml:"is_primary"`
}

type seedRule struct {
	Criteria   string            `yaml:"criteria"`
	DeviceType string            `yaml:"device_type"`
	Locations  []string          `yaml:"locations"`
	Attributes map[string]string `yaml:"attributes"`
}

type seedStatConfig struct {
	ConfidenceLevel    float64 `yaml:"confidence_level"`
	Power              float64 `yaml:"power"`
	MinimumSampleSize  int     `yaml:"minimum_sample_size"`
	MinimumRuntimeDays int     `yaml:"minimum_runtime_days"`
	MaximumRuntimeDays int     `yaml:"maximum_runtime_days"`
}

type seedFlag struct {
	Key               string         `yaml:"key"`
	Name              string         `yaml:"name"`
	Description       string         `yaml:"description"`
	IsActive          bool           `yaml:"is_active"`
	RolloutPercentage int            `yaml:"rollout_percentage"`
	TargetingRules    []seedRule     `yaml:"targeting_rules"`
	UseForABTest      bool           `yaml:"use_for_ab_test"`
	ExperimentKey     string         `yaml:"experiment_key"`
	DefaultValue      any            `yaml:"default_value"`
	VariantValues     map[string]any `yaml:"variant_values"`
}

func toRules(in []seedRule) datatypes.JSONSlice[types.TargetingRule] {
	if len(in) == 0 {
		return nil
	}
	out := make(datatypes.JSONSlice[types.TargetingRule], 0, len(in))
	for _, r := range in {
		rule := types.TargetingRule{Criteria: r.Criteria}
		if r.DeviceType != "" || len(r.Locations) > 0 || len(r.Attributes) > 0 {
			rule.Conditions = &types.RuleConditions{
				DeviceType: r.DeviceType,
				Locations:  r.Locations,
				Attributes: r.Attributes,
			}
		}
		out = append(out, rule)
	}
	return out
}

func toExperiment(s seedExperiment) *types.Experiment {
	variants := make(datatypes.JSONSlice[types.ExperimentVariant], 0, len(s.Variants))
	for _, v := range s.Variants {
		variants = append(variants, types.ExperimentVariant{
			ID:            v.ID,
			Name:          v.Name,
			Type:          v.Type,
			TrafficWeight: v.TrafficWeight,
			Config:        datatypes.JSONMap(v.Config),
			IsControl:     v.IsControl,
		})
	}
	metrics := make(datatypes.JSONSlice[types.ConversionMetric], 0, len(s.Metrics))
	for _, m := range s.Metrics {
		metrics = append(metrics, types.ConversionMetric{
			Name:        m.Name,
			EventType:   m.EventType,
			Description: m.Description,
			IsPrimary:   m.IsPrimary,
		})
	}
	return &types.Experiment{
		Name:              s.Name,
		Description:       s.Description,
		FeatureKey:        s.FeatureKey,
		Variants:          variants,
		Metrics:           metrics,
		TargetingRules:    toRules(s.TargetingRules),
		TrafficAllocation: s.TrafficAllocation,
		StatisticalConfig: datatypes.NewJSONType(types.StatisticalConfig{
			ConfidenceLevel:    s.Statistical.ConfidenceLevel,
			Power:              s.Statistical.Power,
			MinimumSampleSize:  s.Statistical.MinimumSampleSize,
			MinimumRuntimeDays: s.Statistical.MinimumRuntimeDays,
			MaximumRuntimeDays: s.Statistical.MaximumRuntimeDays,
		}),
	}
}

func toFlag(s seedFlag, experimentID *uuid.UUID) (*types.FeatureFlag, error) {
	f := &types.FeatureFlag{
		Key:               s.Key,
		Name:              s.Name,
		Description:       s.Description,
		IsActive:          s.IsActive,
		RolloutPercentage: s.RolloutPercentage,
		TargetingRules:    toRules(s.TargetingRules),
		UseForABTest:      s.UseForABTest,
		ExperimentID:      experimentID,
	}
	if s.DefaultValue != nil {
		raw, err := json.Marshal(s.DefaultValue)
		if err != nil {
			return nil, fmt.Errorf("default_value: %w", err)
		}
		f.DefaultValue = datatypes.JSON(raw)
	}
	if len(s.VariantValues) > 0 {
		f.VariantValues = datatypes.JSONMap(s.VariantValues)
	}
	return f, nil
}

func main() {
	var file string
	var dryRun bool
	flag.StringVar(&file, "file", "seed.yaml", "path to the YAML seed definitions")
	flag.BoolVar(&dryRun, "dry-run", false, "print planned writes without applying them")
	flag.Parse()

	raw, err := os.ReadFile(file)
	if err != nil {
		fmt.Printf("read seed file: %v\n", err)
		os.Exit(1)
	}
	var defs seedFile
	if err := yaml.Unmarshal(raw, &defs); err != nil {
		fmt.Printf("parse seed file: %v\n", err)
		os.Exit(1)
	}
	if len(defs.Experiments) == 0 && len(defs.Flags) == 0 {
		fmt.Println("seed file defines no experiments or flags")
		return
	}

	application, err := app.New()
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	ctx := context.Background()
	reg := application.Services.Registry

	created := 0
	for _, s := range defs.Experiments {
		existing, err := reg.GetExperimentByKey(ctx, s.FeatureKey)
		if err != nil && !types.IsCode(err, types.CodeExperimentNotFound) {
			fmt.Printf("lookup experiment %s: %v\n", s.FeatureKey, err)
			continue
		}
		if existing != nil {
			fmt.Printf("experiment %s already present; skipping\n", s.FeatureKey)
			continue
		}
		if dryRun {
			fmt.Printf("[dry-run] create experiment %s (%d variants, start=%v)\n", s.FeatureKey, len(s.Variants), s.Start)
			continue
		}
		exp, err := reg.CreateExperiment(ctx, nil, toExperiment(s))
		if err != nil {
			fmt.Printf("create experiment %s: %v\n", s.FeatureKey, err)
			continue
		}
		created++
		fmt.Printf("created experiment %s (%s)\n", exp.FeatureKey, exp.ID.String())
		if s.Start {
			if _, err := reg.StartExperiment(ctx, nil, exp.ID); err != nil {
				fmt.Printf("start experiment %s: %v\n", s.FeatureKey, err)
			} else {
				fmt.Printf("started experiment %s\n", s.FeatureKey)
			}
		}
	}

	flagsCreated := 0
	for _, s := range defs.Flags {
		existing, err := reg.GetFlag(ctx, s.Key)
		if err != nil {
			fmt.Printf("lookup flag %s: %v\n", s.Key, err)
			continue
		}
		if existing != nil {
			fmt.Printf("flag %s already present; skipping\n", s.Key)
			continue
		}
		if dryRun {
			fmt.Printf("[dry-run] create flag %s (active=%v, rollout=%d)\n", s.Key, s.IsActive, s.RolloutPercentage)
			continue
		}
		var experimentID *uuid.UUID
		if s.ExperimentKey != "" {
			exp, err := reg.GetExperimentByKey(ctx, s.ExperimentKey)
			if err != nil {
				fmt.Printf("flag %s: resolve experiment %s: %v\n", s.Key, s.ExperimentKey, err)
				continue
			}
			id := exp.ID
			experimentID = &id
		}
		in, err := toFlag(s, experimentID)
		if err != nil {
			fmt.Printf("flag %s: %v\n", s.Key, err)
			continue
		}
		if _, err := reg.CreateFlag(ctx, nil, in); err != nil {
			fmt.Printf("create flag %s: %v\n", s.Key, err)
			continue
		}
		flagsCreated++
		fmt.Printf("created flag %s\n", s.Key)
	}

	fmt.Printf("done; experiments=%d flags=%d\n", created, flagsCreated)
}
