// Package observability — metrics.go
//
// Prometheus metrics and structured logging for the triaged daemon.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: triaged_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - State/action labels use the string name (small, fixed sets).
//   - PID is NOT used as a label (unbounded cardinality).
//   - Per-PID metrics are aggregated before recording.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for triaged.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Ingest ───────────────────────────────────────────────────────────────

	// ObservationsProcessedTotal counts per-PID snapshots consumed from the
	// feature source.
	ObservationsProcessedTotal prometheus.Counter

	// ObservationsDroppedTotal counts snapshots dropped due to queue
	// overflow. Labels: reason (queue_full).
	ObservationsDroppedTotal *prometheus.CounterVec

	// ObservationQueueDepth is the current in-memory snapshot queue depth.
	ObservationQueueDepth prometheus.Gauge

	// ─── Inference ────────────────────────────────────────────────────────────

	// BocpdChangepointProbability records the posterior probability mass
	// assigned to a change point (run length 0) per update.
	BocpdChangepointProbability prometheus.Histogram

	// CtwRegretBits records the per-symbol coding regret of the CTW mixture
	// against the best fixed-depth model, in bits.
	CtwRegretBits prometheus.Histogram

	// EvtTailTypeTotal counts GPD tail-shape classifications.
	// Labels: tail_type (light, exponential, heavy)
	EvtTailTypeTotal *prometheus.CounterVec

	// MartingaleEValue records the mixture martingale's wealth process
	// value at each evaluation.
	MartingaleEValue prometheus.Histogram

	// WassersteinDriftSeverityTotal counts drift detections by severity.
	// Labels: severity (none, adaptive, dro_trigger)
	WassersteinDriftSeverityTotal *prometheus.CounterVec

	// ─── Decision ─────────────────────────────────────────────────────────────

	// DecisionOptimalActionTotal counts the decision core's chosen action.
	// Labels: action
	DecisionOptimalActionTotal *prometheus.CounterVec

	// ─── Planner ──────────────────────────────────────────────────────────────

	// PlannerActionsEmittedTotal counts plan actions by routing outcome and
	// confidence tier. Labels: routing, confidence
	PlannerActionsEmittedTotal *prometheus.CounterVec

	// PlannerBlockedCandidatesTotal counts candidates blocked by a planner
	// safety gate.
	PlannerBlockedCandidatesTotal prometheus.Counter

	// ─── Tool runner ──────────────────────────────────────────────────────────

	// ToolRunnerBudgetRemainingMs is the current scan-cycle probe budget
	// remaining, in milliseconds.
	ToolRunnerBudgetRemainingMs prometheus.Gauge

	// ToolRunnerReservationsTotal counts Reserve outcomes.
	// Labels: outcome (granted, denied)
	ToolRunnerReservationsTotal *prometheus.CounterVec

	// ─── Calibration ──────────────────────────────────────────────────────────

	// CalibrationFalseKillUpperBound is the most recently computed
	// credible upper bound on the false-kill rate, per confidence level.
	// Labels: delta
	CalibrationFalseKillUpperBound *prometheus.GaugeVec

	// ─── Daemon ───────────────────────────────────────────────────────────────

	// UptimeSeconds is the number of seconds since the daemon started.
	UptimeSeconds prometheus.Gauge

	// startTime records when the daemon started (for uptime calculation).
	startTime time.Time
}

// NewMetrics creates and registers all triaged Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		ObservationsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "triaged",
			Subsystem: "ingest",
			Name:      "observations_processed_total",
			Help:      "Total per-PID feature snapshots consumed from the feature source.",
		}),

		ObservationsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triaged",
			Subsystem: "ingest",
			Name:      "observations_dropped_total",
			Help:      "Total snapshots dropped due to queue overflow, by reason.",
		}, []string{"reason"}),

		ObservationQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "triaged",
			Subsystem: "ingest",
			Name:      "observation_queue_depth",
			Help:      "Current depth of the in-memory snapshot processing queue.",
		}),

		BocpdChangepointProbability: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "triaged",
			Subsystem: "inference",
			Name:      "bocpd_changepoint_probability",
			Help:      "Posterior probability mass assigned to a change point at each BOCPD update.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),

		CtwRegretBits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "triaged",
			Subsystem: "inference",
			Name:      "ctw_regret_bits",
			Help:      "Per-symbol coding regret of the CTW mixture, in bits.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 4, 8},
		}),

		EvtTailTypeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triaged",
			Subsystem: "inference",
			Name:      "evt_tail_type_total",
			Help:      "GPD tail-shape classifications, by tail type.",
		}, []string{"tail_type"}),

		MartingaleEValue: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "triaged",
			Subsystem: "inference",
			Name:      "martingale_e_value",
			Help:      "Mixture martingale wealth-process value at each evaluation.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 1000},
		}),

		WassersteinDriftSeverityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triaged",
			Subsystem: "inference",
			Name:      "wasserstein_drift_severity_total",
			Help:      "Distribution-drift detections, by severity.",
		}, []string{"severity"}),

		DecisionOptimalActionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triaged",
			Subsystem: "decision",
			Name:      "optimal_action_total",
			Help:      "Decision core optimal-action verdicts, by action.",
		}, []string{"action"}),

		PlannerActionsEmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triaged",
			Subsystem: "planner",
			Name:      "actions_emitted_total",
			Help:      "Plan actions emitted, by routing outcome and confidence tier.",
		}, []string{"routing", "confidence"}),

		PlannerBlockedCandidatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "triaged",
			Subsystem: "planner",
			Name:      "blocked_candidates_total",
			Help:      "Total candidates blocked by a planner safety gate.",
		}),

		ToolRunnerBudgetRemainingMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "triaged",
			Subsystem: "toolrunner",
			Name:      "budget_remaining_ms",
			Help:      "Scan-cycle probe budget remaining, in milliseconds.",
		}),

		ToolRunnerReservationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triaged",
			Subsystem: "toolrunner",
			Name:      "reservations_total",
			Help:      "Probe budget reservation attempts, by outcome.",
		}, []string{"outcome"}),

		CalibrationFalseKillUpperBound: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "triaged",
			Subsystem: "calibration",
			Name:      "false_kill_upper_bound",
			Help:      "Most recent credible upper bound on the false-kill rate, by confidence level.",
		}, []string{"delta"}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "triaged",
			Subsystem: "daemon",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the daemon started.",
		}),
	}

	reg.MustRegister(
		m.ObservationsProcessedTotal,
		m.ObservationsDroppedTotal,
		m.ObservationQueueDepth,
		m.BocpdChangepointProbability,
		m.CtwRegretBits,
		m.EvtTailTypeTotal,
		m.MartingaleEValue,
		m.WassersteinDriftSeverityTotal,
		m.DecisionOptimalActionTotal,
		m.PlannerActionsEmittedTotal,
		m.PlannerBlockedCandidatesTotal,
		m.ToolRunnerBudgetRemainingMs,
		m.ToolRunnerReservationsTotal,
		m.CalibrationFalseKillUpperBound,
		m.UptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given
// address. Blocks until ctx is cancelled or the server fails. The server
// binds to addr (e.g., "127.0.0.1:9091") and serves GET /metrics.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

// updateUptime periodically updates the UptimeSeconds gauge.
func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}

