package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PublishAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "amplify_publish_attempts_total",
		Help: "Platform publish attempts by outcome",
	}, []string{"platform", "outcome"})
	JobTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "amplify_job_transitions_total",
		Help: "Publish job state transitions",
	}, []string{"state"})
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "amplify_circuit_state",
		Help: "Circuit breaker state per target (0 closed, 1 half-open, 2 open)",
	}, []string{"target"})
	SyncRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "amplify_sync_runs_total",
		Help: "Total engagement sync runs",
	})
	SyncErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "amplify_sync_errors_total",
		Help: "Total per-post engagement sync errors",
	})
	SyncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "amplify_sync_duration_seconds",
		Help:    "Engagement sync duration seconds",
		Buckets: prometheus.DefBuckets,
	})
	Escalations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "amplify_ad_escalations_total",
		Help: "Posts escalated into paid campaigns",
	}, []string{"platform"})
	APIRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "amplify_api_retries_total",
		Help: "Total retry attempts by operation",
	}, []string{"endpoint"})
	CommandRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "amplify_command_runs_total",
		Help: "CLI command invocations",
	}, []string{"command"})
	CommandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "amplify_command_errors_total",
		Help: "CLI command failures",
	}, []string{"command"})
)

func init() {
	prometheus.MustRegister(PublishAttempts, JobTransitions, BreakerState, SyncRuns, SyncErrors,
		SyncDuration, Escalations, APIRetries, CommandRuns, CommandErrors)
}

// StartServer starts a metrics HTTP server on addr (e.g., ":9090").
func StartServer(addr string) {
	if addr == "" {
		addr = os.Getenv("METRICS_ADDR")
	}
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	go func() { _ = http.ListenAndServe(addr, mux) }()
}

// ObserveSyncDuration records a sync run duration.
func ObserveSyncDuration(start time.Time) {
	SyncDuration.Observe(time.Since(start).Seconds())
}

// IncAPIRetry increments the retry counter for an operation.
func IncAPIRetry(endpoint string) { APIRetries.WithLabelValues(endpoint).Inc() }

func IncPublish(platform, outcome string) { PublishAttempts.WithLabelValues(platform, outcome).Inc() }

func IncJobTransition(state string) { JobTransitions.WithLabelValues(state).Inc() }

func SetBreakerState(target string, state float64) { BreakerState.WithLabelValues(target).Set(state) }

func IncEscalation(platform string) { Escalations.WithLabelValues(platform).Inc() }

func IncCommandRun(cmd string)   { CommandRuns.WithLabelValues(cmd).Inc() }
func IncCommandError(cmd string) { CommandErrors.WithLabelValues(cmd).Inc() }
