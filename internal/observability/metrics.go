package observability

import (
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/coachconnect/experiments-backend/internal/platform/logger"
)

type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge
	apiReqTotal *Counter
	apiReqError *Counter
	apiReqGood  *Counter

	assignments *CounterVec
	assignTotal *Counter
	assignError *Counter
	exposures   *CounterVec
	flagEvals   *CounterVec
	conversions *CounterVec

	cacheEvents     *CounterVec
	trackingQuality *CounterVec
	resultsTime     *HistogramVec
	busPublishes    *CounterVec
	busTotal        *Counter
	busError        *Counter

	sweeperRuns      *Counter
	sweeperCompleted *Counter

	pgStats   *GaugeVec
	redisUp   *Gauge
	redisPing *Gauge

	sloCompliance *GaugeVec
	sloBudget     *GaugeVec
	sloBurn       *GaugeVec

	sloLatencyThreshold float64
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	v := strings.TrimSpace(os.Getenv("METRICS_ENABLED"))
	if v == "" {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func Current() *Metrics {
	return instance
}

func scrapeInterval() time.Duration {
	v := strings.TrimSpace(os.Getenv("METRICS_SCRAPE_INTERVAL_SECONDS"))
	if v == "" {
		return 10 * time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 10 * time.Second
	}
	return time.Duration(n) * time.Second
}

func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		latencyThreshold := 0.5
		if v := strings.TrimSpace(os.Getenv("SLO_API_LATENCY_THRESHOLD_SECONDS")); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
				latencyThreshold = f
			}
		}
		instance = &Metrics{
			apiRequests: NewCounterVec("xp_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
			apiLatency: NewHistogramVec(
				"xp_api_request_duration_seconds",
				"API request latency in seconds by method/route/status.",
				[]string{"method", "route", "status"},
				[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			),
			apiInflight: NewGauge("xp_api_inflight_requests", "In-flight API requests."),
			apiReqTotal: NewCounter("xp_api_requests_total_all", "Total API requests (all)."),
			apiReqError: NewCounter("xp_api_requests_error_total", "Total API requests with 5xx status."),
			apiReqGood:  NewCounter("xp_api_requests_good_latency_total", "Total API requests under SLO latency threshold."),
			assignments: NewCounterVec(
				"xp_assignments_total",
				"Assignment requests by experiment/outcome.",
				[]string{"experiment", "outcome"},
			),
			assignTotal: NewCounter("xp_assignments_total_all", "Total assignment requests (all)."),
			assignError: NewCounter("xp_assignments_error_total", "Total assignment requests that failed."),
			exposures: NewCounterVec(
				"xp_experiment_exposure_total",
				"Experiment exposures by experiment/variant/source.",
				[]string{"experiment", "variant", "source"},
			),
			flagEvals: NewCounterVec(
				"xp_flag_evaluations_total",
				"Feature flag evaluations by flag/reason.",
				[]string{"flag", "reason"},
			),
			conversions: NewCounterVec(
				"xp_conversion_events_total",
				"Conversion tracking requests by experiment/metric/outcome.",
				[]string{"experiment", "metric", "outcome"},
			),
			cacheEvents: NewCounterVec(
				"xp_registry_cache_events_total",
				"Registry cache activity by cache/event.",
				[]string{"cache", "event"},
			),
			trackingQuality: NewCounterVec(
				"xp_tracking_quality_issues_total",
				"Tracking payload quality issues by stage/issue/key.",
				[]string{"stage", "issue", "key"},
			),
			resultsTime: NewHistogramVec(
				"xp_results_computation_duration_seconds",
				"Experiment results computation latency in seconds.",
				[]string{"experiment"},
				[]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			),
			busPublishes: NewCounterVec(
				"xp_bus_publish_total",
				"Event bus publishes by channel/status.",
				[]string{"channel", "status"},
			),
			busTotal:            NewCounter("xp_bus_publish_total_all", "Total event bus publishes (all)."),
			busError:            NewCounter("xp_bus_publish_error_total", "Total event bus publishes that failed."),
			sweeperRuns:         NewCounter("xp_runtime_sweeper_runs_total", "Runtime sweeper passes."),
			sweeperCompleted:    NewCounter("xp_runtime_sweeper_completed_total", "Experiments auto-completed by the runtime sweeper."),
			pgStats:             NewGaugeVec("xp_postgres_stats", "Postgres connection stats.", []string{"metric"}),
			redisUp:             NewGauge("xp_redis_up", "Redis connectivity (1=up, 0=down)."),
			redisPing:           NewGauge("xp_redis_ping_seconds", "Redis ping latency in seconds."),
			sloCompliance:       NewGaugeVec("xp_slo_compliance", "SLO compliance (SLI) over window.", []string{"slo", "window"}),
			sloBudget:           NewGaugeVec("xp_slo_error_budget_remaining", "Error budget remaining (0-1).", []string{"slo", "window"}),
			sloBurn:             NewGaugeVec("xp_slo_burn_rate", "Error budget burn rate.", []string{"slo", "window"}),
			sloLatencyThreshold: latencyThreshold,
		}
		if log != nil {
			log.Info("Observability metrics enabled")
		}
	})
	return instance
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	if err := m.apiRequests.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.apiLatency.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.apiInflight.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.apiReqTotal.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.apiReqError.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.apiReqGood.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.assignments.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.exposures.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.flagEvals.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.conversions.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.cacheEvents.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.trackingQuality.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.resultsTime.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.busPublishes.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.sweeperRuns.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.sweeperCompleted.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.assignTotal.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.assignError.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.busTotal.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.busError.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.pgStats.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.redisUp.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.redisPing.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.sloCompliance.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.sloBudget.WritePrometheus(w); err != nil {
		return err
	}
	return m.sloBurn.WritePrometheus(w)
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
	m.apiReqTotal.Inc()
	if isServerErrorStatus(status) {
		m.apiReqError.Inc()
	}
	if m.sloLatencyThreshold > 0 && dur.Seconds() <= m.sloLatencyThreshold {
		m.apiReqGood.Inc()
	}
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) IncAssignment(experiment, outcome string) {
	if m == nil {
		return
	}
	m.assignments.Inc(orUnknown(experiment), orUnknown(outcome))
	m.assignTotal.Inc()
	if outcome == "error" {
		m.assignError.Inc()
	}
}

func (m *Metrics) IncExperimentExposure(experiment, variant, source string) {
	if m == nil {
		return
	}
	m.exposures.Inc(orUnknown(experiment), orUnknown(variant), orUnknown(source))
}

func (m *Metrics) IncFlagEvaluation(flag, reason string) {
	if m == nil {
		return
	}
	m.flagEvals.Inc(orUnknown(flag), orUnknown(reason))
}

func (m *Metrics) IncConversion(experiment, metric, outcome string) {
	if m == nil {
		return
	}
	m.conversions.Inc(orUnknown(experiment), orUnknown(metric), orUnknown(outcome))
}

func (m *Metrics) IncCacheEvent(cache, event string) {
	if m == nil {
		return
	}
	m.cacheEvents.Inc(orUnknown(cache), orUnknown(event))
}

func (m *Metrics) IncTrackingQuality(stage, issue, key string) {
	if m == nil {
		return
	}
	k := strings.TrimSpace(key)
	if k == "" {
		k = "none"
	}
	m.trackingQuality.Inc(orUnknown(stage), orUnknown(issue), k)
}

func (m *Metrics) ObserveResultsComputation(experiment string, dur time.Duration) {
	if m == nil {
		return
	}
	secs := dur.Seconds()
	if secs < 0 {
		secs = 0
	}
	m.resultsTime.Observe(secs, orUnknown(experiment))
}

func (m *Metrics) IncBusPublish(channel string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.busError.Inc()
	}
	m.busTotal.Inc()
	m.busPublishes.Inc(orUnknown(channel), status)
}

func (m *Metrics) IncSweeperRun() {
	if m == nil {
		return
	}
	m.sweeperRuns.Inc()
}

func (m *Metrics) AddSweeperCompleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweeperCompleted.Add(float64(n))
}

func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: postgres stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.pgStats.Set(float64(stats.OpenConnections), "open_connections")
				m.pgStats.Set(float64(stats.InUse), "in_use")
				m.pgStats.Set(float64(stats.Idle), "idle")
				m.pgStats.Set(float64(stats.WaitCount), "wait_count")
				m.pgStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
				m.pgStats.Set(float64(stats.MaxOpenConnections), "max_open_connections")
			}
		}
	}()
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	interval := scrapeInterval()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = rdb.Close()
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}

func orUnknown(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}

func isServerErrorStatus(status string) bool {
	status = strings.TrimSpace(status)
	if len(status) < 3 {
		return false
	}
	return status[0] == '5'
}
