package experiments

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ExperimentAssignment is the authoritative record of which variant a user
// received. At most one row exists per (user_id, experiment_id) for the
// lifetime of the experiment; the composite unique index is what resolves
// concurrent first-assignment races across instances. Rows are insert-only.
type ExperimentAssignment struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       string    `gorm:"column:user_id;size:128;not null;index:idx_assignment_user_experiment,unique,priority:1" json:"user_id"`
	ExperimentID uuid.UUID `gorm:"type:uuid;column:experiment_id;not null;index;index:idx_assignment_user_experiment,unique,priority:2" json:"experiment_id"`
	VariantID    string    `gorm:"column:variant_id;size:160;not null;index" json:"variant_id"`
	AssignedAt   time.Time `gorm:"column:assigned_at;not null;index" json:"assigned_at"`
	SessionID    string    `gorm:"column:session_id;size:128" json:"session_id,omitempty"`
	UserAgent    string    `gorm:"column:user_agent" json:"user_agent,omitempty"`
	// Context snapshots what the user looked like at exposure time.
	Context   datatypes.JSON `gorm:"type:jsonb;column:context" json:"context,omitempty"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
}

func (ExperimentAssignment) TableName() string { return "experiment_assignment" }

func (a *ExperimentAssignment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// ConversionEvent is append-only: the engine never updates or deduplicates
// conversions (idempotency of conversions is a caller concern).
type ConversionEvent struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       string            `gorm:"column:user_id;size:128;not null;index" json:"user_id"`
	ExperimentID uuid.UUID         `gorm:"type:uuid;column:experiment_id;not null;index:idx_conversion_exp_variant_metric,priority:1" json:"experiment_id"`
	VariantID    string            `gorm:"column:variant_id;size:160;not null;index:idx_conversion_exp_variant_metric,priority:2" json:"variant_id"`
	MetricName   string            `gorm:"column:metric_name;size:128;not null;index:idx_conversion_exp_variant_metric,priority:3" json:"metric_name"`
	Value        float64           `gorm:"column:value;not null" json:"value"`
	Properties   datatypes.JSONMap `gorm:"type:jsonb;column:properties" json:"properties,omitempty"`
	OccurredAt   time.Time         `gorm:"column:occurred_at;not null;index" json:"occurred_at"`
	SessionID    string            `gorm:"column:session_id;size:128" json:"session_id,omitempty"`
	CreatedAt    time.Time         `gorm:"not null" json:"created_at"`
}

func (ConversionEvent) TableName() string { return "conversion_event" }

func (c *ConversionEvent) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
