package experiments

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Flag evaluation reasons, carried on responses and analytics events so a
// dashboard can tell why a user saw the default.
const (
	FlagReasonInactive     = "flag_inactive"
	FlagReasonNotFound     = "flag_not_found"
	FlagReasonNoTarget     = "targeting_no_match"
	FlagReasonRollout      = "rollout_excluded"
	FlagReasonEnabled      = "rollout_included"
	FlagReasonExperiment   = "experiment_variant"
	FlagReasonNoAssignment = "experiment_no_assignment"
	FlagReasonError        = "evaluation_error"
)

type FeatureFlag struct {
	ID                uuid.UUID                          `gorm:"type:uuid;primaryKey" json:"id"`
	Key               string                             `gorm:"column:key;size:128;not null;uniqueIndex" json:"key"`
	Name              string                             `gorm:"column:name;not null" json:"name"`
	Description       string                             `gorm:"column:description" json:"description,omitempty"`
	IsActive          bool                               `gorm:"column:is_active;not null;index" json:"is_active"`
	RolloutPercentage int                                `gorm:"column:rollout_percentage;not null" json:"rollout_percentage"`
	TargetingRules    datatypes.JSONSlice[TargetingRule] `gorm:"type:jsonb;column:targeting_rules" json:"targeting_rules,omitempty"`
	// UseForABTest delegates evaluation to the linked experiment's assignment;
	// VariantValues maps that assignment's variant id to the served value.
	UseForABTest  bool              `gorm:"column:use_for_ab_test;not null" json:"use_for_ab_test"`
	ExperimentID  *uuid.UUID        `gorm:"type:uuid;column:experiment_id;index" json:"experiment_id,omitempty"`
	DefaultValue  datatypes.JSON    `gorm:"type:jsonb;column:default_value" json:"default_value,omitempty"`
	VariantValues datatypes.JSONMap `gorm:"type:jsonb;column:variant_values" json:"variant_values,omitempty"`
	CreatedAt     time.Time         `gorm:"not null;index" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"not null" json:"updated_at"`
	DeletedAt     gorm.DeletedAt    `gorm:"index" json:"deleted_at,omitempty"`
}

func (FeatureFlag) TableName() string { return "feature_flag" }

func (f *FeatureFlag) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

func (f *FeatureFlag) Normalize() {
	f.Key = strings.TrimSpace(f.Key)
	f.Name = strings.TrimSpace(f.Name)
	if !f.UseForABTest {
		f.ExperimentID = nil
	}
}

func (f *FeatureFlag) Validate() error {
	const op = "feature_flag.validate"
	if f.Key == "" {
		return NewError(CodeInvalidConfig, op, "key is required", nil)
	}
	if f.Name == "" {
		return NewError(CodeInvalidConfig, op, "name is required", nil)
	}
	if f.RolloutPercentage < 0 || f.RolloutPercentage > 100 {
		return NewError(CodeInvalidConfig, op, "rollout_percentage must be within [0,100]", nil)
	}
	if f.UseForABTest && f.ExperimentID == nil {
		return NewError(CodeInvalidConfig, op, "use_for_ab_test requires experiment_id", nil)
	}
	for i, r := range f.TargetingRules {
		if r.Criteria != "" && !validCriteria[r.Criteria] {
			return NewError(CodeInvalidConfig, op, fmt.Sprintf("targeting rule %d: unknown criteria %q", i, r.Criteria), nil)
		}
	}
	return nil
}

// VariantValue resolves the typed value served for a variant id, falling back
// to ok=false when the variant is unmapped.
func (f *FeatureFlag) VariantValue(variantID string) (any, bool) {
	if f.VariantValues == nil {
		return nil, false
	}
	v, ok := f.VariantValues[variantID]
	return v, ok
}
