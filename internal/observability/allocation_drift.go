package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coachconnect/experiments-backend/internal/platform/ctxutil"
	"github.com/coachconnect/experiments-backend/internal/platform/logger"
)

// AllocationDriftMetric describes one variant whose observed share of
// assignments deviates from its configured traffic weight (sample ratio
// mismatch). Values are percentages in [0,100].
type AllocationDriftMetric struct {
	Variant   string         `json:"variant"`
	Expected  float64        `json:"expected"`
	Observed  float64        `json:"observed"`
	Threshold float64        `json:"threshold"`
	Meta      map[string]any `json:"meta,omitempty"`
}

type driftAlertState struct {
	mu   sync.Mutex
	last map[string]time.Time
}

var driftAlerts driftAlertState

func ReportAllocationDrift(ctx context.Context, log *logger.Logger, experiment string, metrics []AllocationDriftMetric, meta map[string]any) {
	if len(metrics) == 0 {
		return
	}
	if !allocationDriftAlertsEnabled() {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	if td := ctxutil.GetTraceData(ctx); td != nil {
		if td.TraceID != "" {
			meta["trace_id"] = td.TraceID
		}
		if td.RequestID != "" {
			meta["request_id"] = td.RequestID
		}
	}

	webhook := allocationDriftAlertWebhook()
	if webhook == "" {
		return
	}
	key := "allocation_drift:" + experiment
	driftAlerts.mu.Lock()
	if driftAlerts.last == nil {
		driftAlerts.last = map[string]time.Time{}
	}
	last := driftAlerts.last[key]
	minInterval := allocationDriftAlertMinInterval()
	if !last.IsZero() && time.Since(last) < minInterval {
		driftAlerts.mu.Unlock()
		return
	}
	driftAlerts.last[key] = time.Now()
	driftAlerts.mu.Unlock()

	payload := map[string]any{
		"title":      "Sample ratio mismatch detected",
		"experiment": experiment,
		"metrics":    metrics,
		"meta":       meta,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequest(http.MethodPost, webhook, bytes.NewReader(body))
	if err != nil {
		if log != nil {
			log.Warn("allocation drift alert request build failed", "error", err, "experiment", experiment)
		}
		return
	}
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		if log != nil {
			log.Warn("allocation drift alert post failed", "error", err, "experiment", experiment)
		}
		return
	}
	_ = resp.Body.Close()
	if log != nil {
		log.Info("allocation drift alert sent", "experiment", experiment, "status", resp.StatusCode)
	}
}

func allocationDriftAlertsEnabled() bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv("ALLOCATION_DRIFT_ALERTS_ENABLED")))
	if v == "" {
		return false
	}
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func allocationDriftAlertWebhook() string {
	val := strings.TrimSpace(os.Getenv("ALLOCATION_DRIFT_ALERT_WEBHOOK_URL"))
	if val != "" {
		return val
	}
	return strings.TrimSpace(os.Getenv("SLO_ALERT_WEBHOOK_URL"))
}

func allocationDriftAlertMinInterval() time.Duration {
	raw := strings.TrimSpace(os.Getenv("ALLOCATION_DRIFT_ALERT_MIN_INTERVAL_SECONDS"))
	if raw == "" {
		return 10 * time.Minute
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(seconds) * time.Second
}
