package experiments

import (
	"time"

	"github.com/google/uuid"
)

// Analytics sink event types. Publishing is fire-and-forget everywhere: a
// failed publish never fails the assignment or evaluation that produced it.
const (
	EventExperimentExposure   = "experiment_exposure"
	EventConversionTracked    = "conversion_tracked"
	EventFlagEvaluated        = "flag_evaluated"
	EventRegistryInvalidation = "registry_invalidation"
)

// ExposureEvent records the first time a user receives a variant.
type ExposureEvent struct {
	ExperimentID uuid.UUID `json:"experiment_id"`
	FeatureKey   string    `json:"feature_key"`
	VariantID    string    `json:"variant_id"`
	UserID       string    `json:"user_id"`
	SessionID    string    `json:"session_id,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

type ConversionTrackedEvent struct {
	ExperimentID uuid.UUID `json:"experiment_id"`
	VariantID    string    `json:"variant_id"`
	UserID       string    `json:"user_id"`
	MetricName   string    `json:"metric_name"`
	Value        float64   `json:"value"`
	OccurredAt   time.Time `json:"occurred_at"`
}

type FlagEvaluationEvent struct {
	FlagKey    string    `json:"flag_key"`
	UserID     string    `json:"user_id"`
	VariantID  string    `json:"variant_id,omitempty"`
	Enabled    bool      `json:"enabled"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Registry invalidation kinds, fanned out to every instance so local caches
// drop entries written elsewhere before their TTL expires.
const (
	InvalidateExperiment = "experiment"
	InvalidateFlag       = "flag"
)

type InvalidationEvent struct {
	Kind string `json:"kind"`
	// ID carries the experiment id for experiments, the flag key for flags.
	ID string `json:"id"`
}
