package bus

import (
	"testing"
	"time"

	"github.com/coachconnect/experiments-backend/internal/platform/logger"
)

func TestMessageEnvelope(t *testing.T) {
	type exposure struct {
		ExperimentID string `json:"experiment_id"`
		VariantID    string `json:"variant_id"`
	}

	msg, err := NewMessage("experiment_exposure", exposure{ExperimentID: "e1", VariantID: "v1"})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if msg.Type != "experiment_exposure" || msg.At.IsZero() {
		t.Fatalf("envelope fields: %+v", msg)
	}

	var got exposure
	if err := msg.Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ExperimentID != "e1" || got.VariantID != "v1" {
		t.Fatalf("payload round-trip: %+v", got)
	}

	empty := Message{Type: "noop", At: time.Now()}
	var out exposure
	if err := empty.Decode(&out); err != nil {
		t.Fatalf("Decode empty payload: %v", err)
	}
}

func TestNewEventBusRequiresAddr(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")

	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	if _, err := NewEventBus(log); err == nil {
		t.Fatalf("expected error without REDIS_ADDR")
	}
	if _, err := NewInvalidationBus(nil); err == nil {
		t.Fatalf("expected error without logger")
	}
}
