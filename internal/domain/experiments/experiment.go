package experiments

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusDraft     = "draft"
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusArchived  = "archived"
)

const (
	VariantTypeControl    = "control"
	VariantTypeVariant    = "variant"
	VariantTypeChallenger = "challenger"
)

const (
	CriteriaAllUsers      = "all_users"
	CriteriaNewUser       = "new_user"
	CriteriaReturningUser = "returning_user"
	CriteriaPremiumUser   = "premium_user"
	CriteriaMobileUser    = "mobile_user"
	CriteriaDesktopUser   = "desktop_user"
)

// Confidence levels the statistics engine knows z-values for.
const (
	ConfidenceLevel90 = 0.90
	ConfidenceLevel95 = 0.95
	ConfidenceLevel99 = 0.99
)

type Experiment struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"column:name;not null" json:"name"`
	Description string    `gorm:"column:description" json:"description,omitempty"`
	Status      string    `gorm:"column:status;not null;index" json:"status"`
	FeatureKey  string    `gorm:"column:feature_key;size:128;not null;uniqueIndex" json:"feature_key"`
	// Variants are owned exclusively by their experiment and carry derived ids
	// ({feature_key}_{ordinal}), so they live embedded rather than as rows.
	Variants          datatypes.JSONSlice[ExperimentVariant] `gorm:"type:jsonb;column:variants" json:"variants"`
	Metrics           datatypes.JSONSlice[ConversionMetric]  `gorm:"type:jsonb;column:metrics" json:"metrics"`
	TargetingRules    datatypes.JSONSlice[TargetingRule]     `gorm:"type:jsonb;column:targeting_rules" json:"targeting_rules,omitempty"`
	TrafficAllocation int                                    `gorm:"column:traffic_allocation;not null" json:"traffic_allocation"`
	StatisticalConfig datatypes.JSONType[StatisticalConfig]  `gorm:"type:jsonb;column:statistical_config" json:"statistical_config"`
	CreatedAt         time.Time                              `gorm:"not null;index" json:"created_at"`
	UpdatedAt         time.Time                              `gorm:"not null" json:"updated_at"`
	StartedAt         *time.Time                             `gorm:"column:started_at" json:"started_at,omitempty"`
	EndedAt           *time.Time                             `gorm:"column:ended_at" json:"ended_at,omitempty"`
	DeletedAt         gorm.DeletedAt                         `gorm:"index" json:"deleted_at,omitempty"`
}

func (Experiment) TableName() string { return "experiment" }

func (e *Experiment) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

type ExperimentVariant struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Type          string            `json:"type"`
	TrafficWeight int               `json:"traffic_weight"`
	Config        datatypes.JSONMap `json:"config,omitempty"`
	IsControl     bool              `json:"is_control"`
}

type ConversionMetric struct {
	Name        string `json:"name"`
	EventType   string `json:"event_type,omitempty"`
	Description string `json:"description,omitempty"`
	IsPrimary   bool   `json:"is_primary"`
}

// TargetingRule matches when its criteria tag holds AND every condition holds.
// A rule set matches when any single rule matches.
type TargetingRule struct {
	Criteria   string          `json:"criteria"`
	Conditions *RuleConditions `json:"conditions,omitempty"`
}

type RuleConditions struct {
	DeviceType string            `json:"device_type,omitempty"`
	Locations  []string          `json:"locations,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type StatisticalConfig struct {
	ConfidenceLevel    float64 `json:"confidence_level"`
	Power              float64 `json:"power"`
	MinimumSampleSize  int     `json:"minimum_sample_size"`
	MinimumRuntimeDays int     `json:"minimum_runtime_days"`
	MaximumRuntimeDays int     `json:"maximum_runtime_days"`
}

func (c StatisticalConfig) withDefaults() StatisticalConfig {
	if c.ConfidenceLevel == 0 {
		c.ConfidenceLevel = ConfidenceLevel95
	}
	if c.Power == 0 {
		c.Power = 0.80
	}
	if c.MinimumSampleSize == 0 {
		c.MinimumSampleSize = 100
	}
	if c.MinimumRuntimeDays == 0 {
		c.MinimumRuntimeDays = 7
	}
	if c.MaximumRuntimeDays == 0 {
		c.MaximumRuntimeDays = 30
	}
	return c
}

// StatConfig returns the stored statistical config with defaults applied.
func (e *Experiment) StatConfig() StatisticalConfig {
	return e.StatisticalConfig.Data().withDefaults()
}

// DerivedVariantID builds the stable variant identifier from the experiment's
// feature key and the variant's position in the ordered variant list.
func DerivedVariantID(featureKey string, ordinal int) string {
	return fmt.Sprintf("%s_%d", strings.TrimSpace(featureKey), ordinal)
}

// ControlVariant returns the designated control, or the first variant when no
// control is flagged, or nil for an empty variant list.
func (e *Experiment) ControlVariant() *ExperimentVariant {
	for i := range e.Variants {
		if e.Variants[i].IsControl {
			return &e.Variants[i]
		}
	}
	if len(e.Variants) > 0 {
		return &e.Variants[0]
	}
	return nil
}

func (e *Experiment) VariantByID(id string) *ExperimentVariant {
	for i := range e.Variants {
		if e.Variants[i].ID == id {
			return &e.Variants[i]
		}
	}
	return nil
}

func (e *Experiment) HasMetric(name string) bool {
	for _, m := range e.Metrics {
		if m.Name == name {
			return true
		}
	}
	return false
}

func (e *Experiment) IsActive() bool { return e.Status == StatusActive }

// MaxRuntimeElapsed reports whether the experiment has been running longer
// than its configured maximum runtime.
func (e *Experiment) MaxRuntimeElapsed(now time.Time) bool {
	if e.StartedAt == nil {
		return false
	}
	maxDays := e.StatConfig().MaximumRuntimeDays
	if maxDays <= 0 {
		return false
	}
	return now.Sub(*e.StartedAt) >= time.Duration(maxDays)*24*time.Hour
}

// Normalize fills derived variant ids, reconciles control flags with variant
// types, and defaults missing fields. Called before Validate on every write.
func (e *Experiment) Normalize() {
	e.Name = strings.TrimSpace(e.Name)
	e.FeatureKey = strings.TrimSpace(e.FeatureKey)
	if e.Status == "" {
		e.Status = StatusDraft
	}
	for i := range e.Variants {
		v := &e.Variants[i]
		v.Name = strings.TrimSpace(v.Name)
		if v.Type == VariantTypeControl {
			v.IsControl = true
		}
		if v.IsControl && v.Type == "" {
			v.Type = VariantTypeControl
		}
		if v.Type == "" {
			v.Type = VariantTypeVariant
		}
		if strings.TrimSpace(v.ID) == "" {
			v.ID = DerivedVariantID(e.FeatureKey, i)
		}
	}
	e.StatisticalConfig = datatypes.NewJSONType(e.StatisticalConfig.Data().withDefaults())
}

var validStatuses = map[string]bool{
	StatusDraft:     true,
	StatusActive:    true,
	StatusPaused:    true,
	StatusCompleted: true,
	StatusArchived:  true,
}

var validCriteria = map[string]bool{
	CriteriaAllUsers:      true,
	CriteriaNewUser:       true,
	CriteriaReturningUser: true,
	CriteriaPremiumUser:   true,
	CriteriaMobileUser:    true,
	CriteriaDesktopUser:   true,
}

// Validate enforces the configuration invariants that block creation and
// update: weights summing to exactly 100, a designated control, a primary
// metric, and bounded traffic allocation.
func (e *Experiment) Validate() error {
	const op = "experiment.validate"
	if e.Name == "" {
		return NewError(CodeInvalidConfig, op, "name is required", nil)
	}
	if e.FeatureKey == "" {
		return NewError(CodeInvalidConfig, op, "feature_key is required", nil)
	}
	if !validStatuses[e.Status] {
		return NewError(CodeInvalidConfig, op, "unknown status "+e.Status, nil)
	}
	if e.TrafficAllocation < 0 || e.TrafficAllocation > 100 {
		return NewError(CodeInvalidConfig, op, "traffic_allocation must be within [0,100]", nil)
	}
	if len(e.Variants) == 0 {
		return NewError(CodeInvalidConfig, op, "at least one variant is required", nil)
	}
	weightSum := 0
	controls := 0
	seen := map[string]bool{}
	for i, v := range e.Variants {
		if v.Name == "" {
			return NewError(CodeInvalidConfig, op, fmt.Sprintf("variant %d: name is required", i), nil)
		}
		if v.TrafficWeight < 0 || v.TrafficWeight > 100 {
			return NewError(CodeInvalidConfig, op, fmt.Sprintf("variant %q: traffic_weight must be within [0,100]", v.ID), nil)
		}
		switch v.Type {
		case VariantTypeControl, VariantTypeVariant, VariantTypeChallenger:
		default:
			return NewError(CodeInvalidConfig, op, fmt.Sprintf("variant %q: unknown type %q", v.ID, v.Type), nil)
		}
		if seen[v.ID] {
			return NewError(CodeInvalidConfig, op, fmt.Sprintf("duplicate variant id %q", v.ID), nil)
		}
		seen[v.ID] = true
		weightSum += v.TrafficWeight
		if v.IsControl {
			controls++
		}
	}
	if weightSum != 100 {
		return NewError(CodeInvalidConfig, op, fmt.Sprintf("variant traffic weights must sum to 100, got %d", weightSum), nil)
	}
	if controls == 0 {
		return NewError(CodeInvalidConfig, op, "at least one variant must be marked control", nil)
	}
	if len(e.Metrics) == 0 {
		return NewError(CodeInvalidConfig, op, "at least one conversion metric is required", nil)
	}
	primaries := 0
	for i, m := range e.Metrics {
		if strings.TrimSpace(m.Name) == "" {
			return NewError(CodeInvalidConfig, op, fmt.Sprintf("metric %d: name is required", i), nil)
		}
		if m.IsPrimary {
			primaries++
		}
	}
	if primaries == 0 {
		return NewError(CodeInvalidConfig, op, "at least one metric must be marked primary", nil)
	}
	for i, r := range e.TargetingRules {
		if r.Criteria != "" && !validCriteria[r.Criteria] {
			return NewError(CodeInvalidConfig, op, fmt.Sprintf("targeting rule %d: unknown criteria %q", i, r.Criteria), nil)
		}
	}
	cfg := e.StatisticalConfig.Data()
	switch cfg.ConfidenceLevel {
	case 0, ConfidenceLevel90, ConfidenceLevel95, ConfidenceLevel99:
	default:
		return NewError(CodeInvalidConfig, op, "confidence_level must be one of 0.90, 0.95, 0.99", nil)
	}
	if cfg.MinimumSampleSize < 0 {
		return NewError(CodeInvalidConfig, op, "minimum_sample_size must not be negative", nil)
	}
	if cfg.MaximumRuntimeDays < 0 || cfg.MinimumRuntimeDays < 0 {
		return NewError(CodeInvalidConfig, op, "runtime bounds must not be negative", nil)
	}
	if cfg.MaximumRuntimeDays > 0 && cfg.MinimumRuntimeDays > cfg.MaximumRuntimeDays {
		return NewError(CodeInvalidConfig, op, "minimum_runtime_days exceeds maximum_runtime_days", nil)
	}
	return nil
}

// SameVariantSet reports whether two variant lists are interchangeable for a
// running experiment: same ids, order, weights and control designation.
// Changing any of these mid-flight invalidates accumulated results.
func SameVariantSet(a, b []ExperimentVariant) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].TrafficWeight != b[i].TrafficWeight || a[i].IsControl != b[i].IsControl {
			return false
		}
	}
	return true
}
