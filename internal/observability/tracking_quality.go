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

// Tracking quality issue names. Conversion payloads referencing unknown
// experiments, variants or metrics usually mean a mis-instrumented
// client, so they are counted and optionally alerted on rather than
// silently dropped.
const (
	TrackingIssueUnknownExperiment = "unknown_experiment"
	TrackingIssueUnknownVariant    = "unknown_variant"
	TrackingIssueUnknownMetric     = "unknown_metric"
	TrackingIssueNoAssignment      = "no_assignment"
	TrackingIssueMalformedPayload  = "malformed_payload"
)

type tqAlertState struct {
	mu   sync.Mutex
	last map[string]time.Time
}

var tqAlerts tqAlertState

func ReportTrackingQuality(ctx context.Context, log *logger.Logger, stage, issue, key string, meta map[string]any) {
	stage = strings.TrimSpace(stage)
	if stage == "" {
		stage = "unknown"
	}
	issue = strings.TrimSpace(issue)
	if issue == "" {
		issue = "unknown"
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

	if metrics := Current(); metrics != nil {
		metrics.IncTrackingQuality(stage, issue, key)
	}

	if log != nil {
		log.Warn("tracking quality issue detected",
			"stage", stage,
			"issue", issue,
			"key", key,
			"meta", meta,
		)
	}
	sendTrackingQualityAlert(stage, issue, key, meta, log)
}

func trackingQualityAlertsEnabled() bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv("TRACKING_QUALITY_ALERTS_ENABLED")))
	if v == "" {
		return false
	}
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func trackingQualityAlertWebhook() string {
	val := strings.TrimSpace(os.Getenv("TRACKING_QUALITY_ALERT_WEBHOOK_URL"))
	if val != "" {
		return val
	}
	return strings.TrimSpace(os.Getenv("SLO_ALERT_WEBHOOK_URL"))
}

func trackingQualityAlertMinInterval() time.Duration {
	raw := strings.TrimSpace(os.Getenv("TRACKING_QUALITY_ALERT_MIN_INTERVAL_SECONDS"))
	if raw == "" {
		return 5 * time.Minute
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(seconds) * time.Second
}

func sendTrackingQualityAlert(stage, issue, key string, meta map[string]any, log *logger.Logger) {
	if !trackingQualityAlertsEnabled() {
		return
	}
	webhook := trackingQualityAlertWebhook()
	if webhook == "" {
		return
	}
	alertKey := stage + ":" + issue
	tqAlerts.mu.Lock()
	if tqAlerts.last == nil {
		tqAlerts.last = map[string]time.Time{}
	}
	last := tqAlerts.last[alertKey]
	minInterval := trackingQualityAlertMinInterval()
	if !last.IsZero() && time.Since(last) < minInterval {
		tqAlerts.mu.Unlock()
		return
	}
	tqAlerts.last[alertKey] = time.Now()
	tqAlerts.mu.Unlock()

	payload := map[string]any{
		"title":     "Tracking quality issue",
		"stage":     stage,
		"issue":     issue,
		"key":       key,
		"meta":      meta,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequest(http.MethodPost, webhook, bytes.NewReader(body))
	if err != nil {
		if log != nil {
			log.Warn("tracking quality alert request build failed", "error", err, "stage", stage)
		}
		return
	}
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		if log != nil {
			log.Warn("tracking quality alert post failed", "error", err, "stage", stage)
		}
		return
	}
	_ = resp.Body.Close()
	if log != nil {
		log.Info("tracking quality alert sent", "stage", stage, "issue", issue, "status", resp.StatusCode)
	}
}
