// Package config provides configuration loading, validation, and hot-reload
// for the triaged daemon.
//
// Configuration file: /etc/triaged/config.yaml (default)
// Schema version: 1
//
// Hot-reload:
//   - Daemon listens for SIGHUP.
//   - On SIGHUP: re-read and re-validate config.yaml.
//   - Apply non-destructive changes only: the daemon re-applies the
//     per-module inference, decision, planner and calibration sections.
//     The observability section (log level included) is not re-applied.
//   - Destructive changes (DB path, plan-export listen address, operator
//     socket path) require restart.
//   - If the new config is invalid, the old config remains active and an
//     error is logged. The daemon does NOT crash on invalid hot-reload config.
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (e.g., probabilities in [0,1], counts >= 1).
//   - File paths must be non-empty where required; they are not checked
//     for being absolute.
//   - Unknown fields in the YAML file are rejected.
//   - Invalid config on startup: daemon refuses to start (fatal error).
//   - Invalid config on hot-reload: logged, old config retained.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected by the Makefile via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// DefaultDBPath is the default bbolt store location.
const DefaultDBPath = "/var/lib/triaged/triaged.db"

// Config is the root configuration structure for triaged. Every field has a
// default; see Defaults() for values.
type Config struct {
	// SchemaVersion must be "1". Future versions will trigger migration.
	SchemaVersion string `yaml:"schema_version"`

	// NodeID identifies this triaged instance in the audit ledger and plan
	// export envelopes. Default: hostname.
	NodeID string `yaml:"node_id"`

	Feature       FeatureConfig       `yaml:"feature"`
	Belief        BeliefConfig        `yaml:"belief"`
	Bocpd         BocpdConfig         `yaml:"bocpd"`
	Ctw           CtwConfig           `yaml:"ctw"`
	Evt           EvtConfig           `yaml:"evt"`
	Martingale    MartingaleConfig    `yaml:"martingale"`
	Wasserstein   WassersteinConfig   `yaml:"wasserstein"`
	Proptree      ProptreeConfig      `yaml:"proptree"`
	Composite     CompositeConfig     `yaml:"composite"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Decision      DecisionConfig      `yaml:"decision"`
	Planner       PlannerConfig       `yaml:"planner"`
	Calibration   CalibrationConfig   `yaml:"calibration"`
	ToolRunner    ToolRunnerConfig    `yaml:"tool_runner"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
	PlanExport    PlanExportConfig    `yaml:"plan_export"`
	Operator      OperatorConfig      `yaml:"operator"`
}

// FeatureConfig holds the ingestion pipeline's operational parameters.
type FeatureConfig struct {
	// MaxGoroutines is the maximum number of per-PID worker goroutines.
	// Default: 4.
	MaxGoroutines int `yaml:"max_goroutines"`

	// EventQueueSize is the in-memory event queue depth. If full, new
	// events are dropped and the drop counter is incremented.
	// Default: 10000.
	EventQueueSize int `yaml:"event_queue_size"`

	// MaxTrackedPIDs is the maximum number of PIDs tracked simultaneously.
	// Default: 8192.
	MaxTrackedPIDs int `yaml:"max_tracked_pids"`

	// ScanInterval is the period between full process-table scans.
	// Default: 5s.
	ScanInterval time.Duration `yaml:"scan_interval"`
}

// BeliefConfig configures the sequential Bayesian belief update.
type BeliefConfig struct {
	// MinProb is the floor every belief component is clamped to after an
	// update, preventing a state from becoming permanently unreachable.
	// Default: belief.DefaultMinProb.
	MinProb float64 `yaml:"min_prob"`
}

// BocpdConfig configures Bayesian online change-point detection.
type BocpdConfig struct {
	// HazardRate is the constant hazard function's rate: the prior
	// probability of a change point at any given step. Range: (0, 1).
	// Default: 0.1.
	HazardRate float64 `yaml:"hazard_rate"`

	// MaxRunLength bounds the run-length posterior's support, truncating
	// the tail to keep the detector's cost bounded. Default: 256.
	MaxRunLength int `yaml:"max_run_length"`

	// SegmentModel selects the conjugate emission family applied to each
	// run: "normal_gamma", "poisson_gamma", or "beta_bernoulli".
	// Default: normal_gamma.
	SegmentModel string `yaml:"segment_model"`
}

// CtwConfig configures context-tree-weighting universal prediction.
type CtwConfig struct {
	// Alphabet is the discretizer's output symbol count: 2, 3, or 4.
	// Default: 4.
	Alphabet int `yaml:"alphabet"`

	// Depth is the maximum context tree depth. Range: [1, 12].
	// Default: 8.
	Depth int `yaml:"depth"`
}

// EvtConfig configures extreme-value tail modeling.
type EvtConfig struct {
	// ThresholdMethod selects how the POT threshold is chosen: "fixed" or
	// "quantile". Default: quantile.
	ThresholdMethod string `yaml:"threshold_method"`

	// EstimationMethod selects the GPD parameter estimator: "mle" or
	// "pwm" (probability-weighted moments). Default: pwm.
	EstimationMethod string `yaml:"estimation_method"`

	// XiBound clamps the estimated shape parameter xi to
	// [-XiBound, XiBound], keeping the tail estimate from degenerating.
	// Default: 0.5.
	XiBound float64 `yaml:"xi_bound"`
}

// MartingaleConfig configures time-uniform martingale concentration tests.
type MartingaleConfig struct {
	// Alpha is the significance level used by the time-uniform confidence
	// sequence. Range: (0, 1). Default: 0.05.
	Alpha float64 `yaml:"alpha"`

	// DefaultIncrementBound is the per-step increment bound (CMax) the
	// martingale bounds assume; increments are not clamped to it.
	// Default: 1.0.
	DefaultIncrementBound float64 `yaml:"default_increment_bound"`
}

// WassersteinConfig configures 1-Wasserstein distribution-drift detection.
type WassersteinConfig struct {
	// FixedThreshold is the drift-distance threshold used when adaptive
	// thresholding is disabled.
	FixedThreshold float64 `yaml:"fixed_threshold"`

	// AdaptiveMultiplier scales the rolling baseline distance to derive
	// an adaptive threshold. Default: 2.5.
	AdaptiveMultiplier float64 `yaml:"adaptive_multiplier"`

	// DROTriggerMultiplier scales the active threshold to decide when
	// drift is severe enough to trigger the decision core's
	// distributionally-robust worst-case adjustment. Default: 1.5.
	DROTriggerMultiplier float64 `yaml:"dro_trigger_multiplier"`
}

// ProptreeConfig configures sum-product belief propagation on the PPID
// forest.
type ProptreeConfig struct {
	// CouplingStrength controls how strongly a parent's belief pulls its
	// children's priors during message passing. Range: [0, 1].
	CouplingStrength float64 `yaml:"coupling_strength"`
}

// CompositeConfig configures the mixture-SPRT/GLR composite sequential
// tests.
type CompositeConfig struct {
	// AlphaErr is the target Type-I error rate. Default: 0.05.
	AlphaErr float64 `yaml:"alpha_err"`

	// BetaErr is the target Type-II error rate. Default: 0.05.
	BetaErr float64 `yaml:"beta_err"`

	// MinObservations is the number of observations before a verdict is
	// reported rather than suppressed as premature. Default: 5.
	MinObservations int `yaml:"min_observations"`
}

// SchedulerConfig configures the Gittins-index probe scheduler.
type SchedulerConfig struct {
	// Horizon is the number of lookahead steps used to approximate each
	// arm's Gittins index. Default: 3.
	Horizon int `yaml:"horizon"`

	// Gamma is the discount factor applied to future steps. Range: (0,1).
	// Default: 0.9.
	Gamma float64 `yaml:"gamma"`
}

// DecisionConfig configures the expected-loss decision core.
type DecisionConfig struct {
	// RiskSensitive enables the CVaR worst-case adjustment in place of
	// plain expected loss. Default: false.
	RiskSensitive bool `yaml:"risk_sensitive"`

	// CVaRAlpha is the confidence level of the CVaR adjustment when
	// RiskSensitive is true: loss is averaged over the worst
	// (1 - CVaRAlpha) share of the belief mass. Range: (0, 1).
	// Default: 0.9 (the worst 10%).
	CVaRAlpha float64 `yaml:"cvar_alpha"`

	// DRORadius is the 1-Wasserstein ball radius used by the
	// distributionally-robust worst-case adjustment when a drift monitor
	// has flagged the evidence distribution as unstable. Default: 0.1.
	DRORadius float64 `yaml:"dro_radius"`
}

// PlannerConfig configures the action planner's safety gates.
type PlannerConfig struct {
	// StagePauseBeforeKill routes a Kill verdict through a Pause stage
	// first: the plan carries a Pause action at stage 0 and the Kill at
	// stage 1. Default: true.
	StagePauseBeforeKill bool `yaml:"stage_pause_before_kill"`
}

// CalibrationConfig configures the false-kill credible bound and PAC-Bayes
// bound computations.
type CalibrationConfig struct {
	// Threshold is the decision-score cutoff above which a prediction
	// counts as a kill trial for calibration purposes. Default: 0.5.
	Threshold float64 `yaml:"threshold"`

	// DeltaGrid is the set of (1-delta) confidence levels reported for
	// both bound families. Default: [0.05, 0.01].
	DeltaGrid []float64 `yaml:"delta_grid"`

	// PriorAlpha, PriorBeta parameterize the Beta(alpha, beta) conjugate
	// prior over the false-kill rate. Default: 1, 1 (uniform).
	PriorAlpha float64 `yaml:"prior_alpha"`
	PriorBeta  float64 `yaml:"prior_beta"`
}

// ToolRunnerConfig configures the per-scan-cycle probe budget.
type ToolRunnerConfig struct {
	// CapacityMs is the cumulative millisecond budget for one scan cycle.
	// Default: 2000.
	CapacityMs int64 `yaml:"capacity_ms"`

	// PerProbeTimeout bounds a single probe's estimated duration.
	// Default: 200ms.
	PerProbeTimeout time.Duration `yaml:"per_probe_timeout"`

	// SigtermGrace is the grace period between SIGTERM and SIGKILL when
	// escalating a probe that exceeded its deadline. Default: 500ms.
	SigtermGrace time.Duration `yaml:"sigterm_grace"`
}

// StorageConfig holds bbolt parameters.
type StorageConfig struct {
	// DBPath is the absolute path to the bbolt file.
	// Default: /var/lib/triaged/triaged.db.
	DBPath string `yaml:"db_path"`

	// RetentionDays is the ledger and calibration-log retention period.
	// Default: 30.
	RetentionDays int `yaml:"retention_days"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	// Default: 127.0.0.1:9091.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	// Default: info.
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	// Default: json.
	LogFormat string `yaml:"log_format"`
}

// PlanExportConfig holds mTLS gRPC plan-export server parameters.
type PlanExportConfig struct {
	// Enabled controls whether the plan-export server is started.
	// Default: false (standalone mode).
	Enabled bool `yaml:"enabled"`

	// ListenAddr is the TCP address the gRPC server binds.
	// Default: 0.0.0.0:9443.
	ListenAddr string `yaml:"listen_addr"`

	// TLSCertFile, TLSKeyFile are the server's Ed25519 certificate/key pair.
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`

	// TLSCAFile is the CA bundle used to verify client certificates.
	TLSCAFile string `yaml:"tls_ca_file"`

	// EnvelopeTTL bounds how old an incoming plan envelope's timestamp may
	// be before it is rejected as stale. Default: 30s.
	EnvelopeTTL time.Duration `yaml:"envelope_ttl"`
}

// OperatorConfig holds operator override parameters. Overrides allow
// privileged operators to manually pin, unpin, or acknowledge process
// verdicts without restarting the daemon.
type OperatorConfig struct {
	// SocketPath is the Unix domain socket path for the operator CLI.
	// Permissions: 0600, owned by root.
	// Default: /run/triaged/operator.sock.
	SocketPath string `yaml:"socket_path"`

	// Enabled controls whether the operator socket is active.
	// Default: true.
	Enabled bool `yaml:"enabled"`
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		NodeID:        hostname,
		Feature: FeatureConfig{
			MaxGoroutines:  4,
			EventQueueSize: 10000,
			MaxTrackedPIDs: 8192,
			ScanInterval:   5 * time.Second,
		},
		Belief: BeliefConfig{
			MinProb: 1e-10,
		},
		Bocpd: BocpdConfig{
			HazardRate:   0.1,
			MaxRunLength: 256,
			SegmentModel: "normal_gamma",
		},
		Ctw: CtwConfig{
			Alphabet: 4,
			Depth:    8,
		},
		Evt: EvtConfig{
			ThresholdMethod:  "quantile",
			EstimationMethod: "pwm",
			XiBound:          0.5,
		},
		Martingale: MartingaleConfig{
			Alpha:                 0.05,
			DefaultIncrementBound: 1.0,
		},
		Wasserstein: WassersteinConfig{
			FixedThreshold:       1.0,
			AdaptiveMultiplier:   2.5,
			DROTriggerMultiplier: 1.5,
		},
		Proptree: ProptreeConfig{
			CouplingStrength: 0.5,
		},
		Composite: CompositeConfig{
			AlphaErr:        0.05,
			BetaErr:         0.05,
			MinObservations: 5,
		},
		Scheduler: SchedulerConfig{
			Horizon: 3,
			Gamma:   0.9,
		},
		Decision: DecisionConfig{
			RiskSensitive: false,
			CVaRAlpha:     0.9,
			DRORadius:     0.1,
		},
		Planner: PlannerConfig{
			StagePauseBeforeKill: true,
		},
		Calibration: CalibrationConfig{
			Threshold:  0.5,
			DeltaGrid:  []float64{0.05, 0.01},
			PriorAlpha: 1,
			PriorBeta:  1,
		},
		ToolRunner: ToolRunnerConfig{
			CapacityMs:      2000,
			PerProbeTimeout: 200 * time.Millisecond,
			SigtermGrace:    500 * time.Millisecond,
		},
		Storage: StorageConfig{
			DBPath:        DefaultDBPath,
			RetentionDays: 30,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		PlanExport: PlanExportConfig{
			Enabled:     false,
			ListenAddr:  "0.0.0.0:9443",
			EnvelopeTTL: 30 * time.Second,
		},
		Operator: OperatorConfig{
			Enabled:    true,
			SocketPath: "/run/triaged/operator.sock",
		},
	}
}

// Load reads and validates a config file from the given path. Returns the
// merged config (defaults overridden by file values). Returns an error if
// the file cannot be read, parsed, or validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness, accumulating every
// violation into a single descriptive error rather than failing on the
// first one found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.NodeID == "" {
		errs = append(errs, "node_id must not be empty")
	}

	if cfg.Feature.MaxGoroutines < 1 || cfg.Feature.MaxGoroutines > 64 {
		errs = append(errs, fmt.Sprintf("feature.max_goroutines must be in [1, 64], got %d", cfg.Feature.MaxGoroutines))
	}
	if cfg.Feature.EventQueueSize < 100 {
		errs = append(errs, fmt.Sprintf("feature.event_queue_size must be >= 100, got %d", cfg.Feature.EventQueueSize))
	}
	if cfg.Feature.MaxTrackedPIDs < 1 || cfg.Feature.MaxTrackedPIDs > 65536 {
		errs = append(errs, fmt.Sprintf("feature.max_tracked_pids must be in [1, 65536], got %d", cfg.Feature.MaxTrackedPIDs))
	}

	if cfg.Belief.MinProb <= 0 || cfg.Belief.MinProb >= 1 {
		errs = append(errs, fmt.Sprintf("belief.min_prob must be in (0, 1), got %v", cfg.Belief.MinProb))
	}

	if cfg.Bocpd.HazardRate <= 0 || cfg.Bocpd.HazardRate >= 1 {
		errs = append(errs, fmt.Sprintf("bocpd.hazard_rate must be in (0, 1), got %v", cfg.Bocpd.HazardRate))
	}
	if cfg.Bocpd.MaxRunLength < 1 {
		errs = append(errs, fmt.Sprintf("bocpd.max_run_length must be >= 1, got %d", cfg.Bocpd.MaxRunLength))
	}
	switch cfg.Bocpd.SegmentModel {
	case "normal_gamma", "poisson_gamma", "beta_bernoulli":
	default:
		errs = append(errs, fmt.Sprintf("bocpd.segment_model must be one of normal_gamma, poisson_gamma, beta_bernoulli, got %q", cfg.Bocpd.SegmentModel))
	}

	if cfg.Ctw.Alphabet < 2 || cfg.Ctw.Alphabet > 4 {
		errs = append(errs, fmt.Sprintf("ctw.alphabet must be in [2, 4], got %d", cfg.Ctw.Alphabet))
	}
	if cfg.Ctw.Depth < 1 || cfg.Ctw.Depth > 12 {
		errs = append(errs, fmt.Sprintf("ctw.depth must be in [1, 12], got %d", cfg.Ctw.Depth))
	}

	switch cfg.Evt.ThresholdMethod {
	case "fixed", "quantile":
	default:
		errs = append(errs, fmt.Sprintf("evt.threshold_method must be fixed or quantile, got %q", cfg.Evt.ThresholdMethod))
	}
	switch cfg.Evt.EstimationMethod {
	case "mle", "pwm":
	default:
		errs = append(errs, fmt.Sprintf("evt.estimation_method must be mle or pwm, got %q", cfg.Evt.EstimationMethod))
	}
	if cfg.Evt.XiBound <= 0 {
		errs = append(errs, fmt.Sprintf("evt.xi_bound must be > 0, got %v", cfg.Evt.XiBound))
	}

	if cfg.Martingale.Alpha <= 0 || cfg.Martingale.Alpha >= 1 {
		errs = append(errs, fmt.Sprintf("martingale.alpha must be in (0, 1), got %v", cfg.Martingale.Alpha))
	}
	if cfg.Martingale.DefaultIncrementBound <= 0 {
		errs = append(errs, fmt.Sprintf("martingale.default_increment_bound must be > 0, got %v", cfg.Martingale.DefaultIncrementBound))
	}

	if cfg.Wasserstein.FixedThreshold <= 0 {
		errs = append(errs, fmt.Sprintf("wasserstein.fixed_threshold must be > 0, got %v", cfg.Wasserstein.FixedThreshold))
	}
	if cfg.Wasserstein.AdaptiveMultiplier <= 0 {
		errs = append(errs, fmt.Sprintf("wasserstein.adaptive_multiplier must be > 0, got %v", cfg.Wasserstein.AdaptiveMultiplier))
	}
	if cfg.Wasserstein.DROTriggerMultiplier <= 0 {
		errs = append(errs, fmt.Sprintf("wasserstein.dro_trigger_multiplier must be > 0, got %v", cfg.Wasserstein.DROTriggerMultiplier))
	}

	if cfg.Proptree.CouplingStrength < 0 || cfg.Proptree.CouplingStrength > 1 {
		errs = append(errs, fmt.Sprintf("proptree.coupling_strength must be in [0, 1], got %v", cfg.Proptree.CouplingStrength))
	}

	if cfg.Composite.AlphaErr <= 0 || cfg.Composite.AlphaErr >= 1 {
		errs = append(errs, fmt.Sprintf("composite.alpha_err must be in (0, 1), got %v", cfg.Composite.AlphaErr))
	}
	if cfg.Composite.BetaErr <= 0 || cfg.Composite.BetaErr >= 1 {
		errs = append(errs, fmt.Sprintf("composite.beta_err must be in (0, 1), got %v", cfg.Composite.BetaErr))
	}
	if cfg.Composite.MinObservations < 1 {
		errs = append(errs, fmt.Sprintf("composite.min_observations must be >= 1, got %d", cfg.Composite.MinObservations))
	}

	if cfg.Scheduler.Horizon < 1 {
		errs = append(errs, fmt.Sprintf("scheduler.horizon must be >= 1, got %d", cfg.Scheduler.Horizon))
	}
	if cfg.Scheduler.Gamma <= 0 || cfg.Scheduler.Gamma >= 1 {
		errs = append(errs, fmt.Sprintf("scheduler.gamma must be in (0, 1), got %v", cfg.Scheduler.Gamma))
	}

	if cfg.Decision.RiskSensitive && (cfg.Decision.CVaRAlpha <= 0 || cfg.Decision.CVaRAlpha >= 1) {
		errs = append(errs, fmt.Sprintf("decision.cvar_alpha must be in (0, 1) when risk_sensitive is true, got %v", cfg.Decision.CVaRAlpha))
	}
	if cfg.Decision.DRORadius < 0 {
		errs = append(errs, fmt.Sprintf("decision.dro_radius must be >= 0, got %v", cfg.Decision.DRORadius))
	}

	if cfg.Calibration.Threshold < 0 || cfg.Calibration.Threshold > 1 {
		errs = append(errs, fmt.Sprintf("calibration.threshold must be in [0, 1], got %v", cfg.Calibration.Threshold))
	}
	for _, d := range cfg.Calibration.DeltaGrid {
		if d <= 0 || d >= 1 {
			errs = append(errs, fmt.Sprintf("calibration.delta_grid entries must be in (0, 1), got %v", d))
			break
		}
	}
	if cfg.Calibration.PriorAlpha <= 0 || cfg.Calibration.PriorBeta <= 0 {
		errs = append(errs, fmt.Sprintf("calibration.prior_alpha and prior_beta must be > 0, got %v, %v", cfg.Calibration.PriorAlpha, cfg.Calibration.PriorBeta))
	}

	if cfg.ToolRunner.CapacityMs < 1 {
		errs = append(errs, fmt.Sprintf("tool_runner.capacity_ms must be >= 1, got %d", cfg.ToolRunner.CapacityMs))
	}
	if cfg.ToolRunner.PerProbeTimeout < time.Millisecond {
		errs = append(errs, fmt.Sprintf("tool_runner.per_probe_timeout must be >= 1ms, got %s", cfg.ToolRunner.PerProbeTimeout))
	}
	if cfg.ToolRunner.SigtermGrace < 0 {
		errs = append(errs, fmt.Sprintf("tool_runner.sigterm_grace must be >= 0, got %s", cfg.ToolRunner.SigtermGrace))
	}

	if cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.db_path must not be empty")
	}
	if cfg.Storage.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("storage.retention_days must be >= 1, got %d", cfg.Storage.RetentionDays))
	}

	switch cfg.Observability.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_level must be one of debug, info, warn, error, got %q", cfg.Observability.LogLevel))
	}
	switch cfg.Observability.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_format must be json or console, got %q", cfg.Observability.LogFormat))
	}

	if cfg.PlanExport.Enabled {
		if cfg.PlanExport.ListenAddr == "" {
			errs = append(errs, "plan_export.listen_addr must not be empty when plan_export.enabled is true")
		}
		if cfg.PlanExport.TLSCertFile == "" {
			errs = append(errs, "plan_export.tls_cert_file must not be empty when plan_export.enabled is true")
		}
		if cfg.PlanExport.TLSKeyFile == "" {
			errs = append(errs, "plan_export.tls_key_file must not be empty when plan_export.enabled is true")
		}
		if cfg.PlanExport.TLSCAFile == "" {
			errs = append(errs, "plan_export.tls_ca_file must not be empty when plan_export.enabled is true")
		}
		if cfg.PlanExport.EnvelopeTTL <= 0 {
			errs = append(errs, fmt.Sprintf("plan_export.envelope_ttl must be positive, got %s", cfg.PlanExport.EnvelopeTTL))
		}
	}

	if cfg.Operator.Enabled && cfg.Operator.SocketPath == "" {
		errs = append(errs, "operator.socket_path must not be empty when operator.enabled is true")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// NonDestructiveFields lists the top-level config sections SIGHUP hot-reload
// may apply without a restart. Storage, tool_runner capacity, and the
// operator/plan-export listen addresses are destructive — changing them
// requires a fresh process so that open file handles and bound sockets are
// not left inconsistent with the new config.
var NonDestructiveFields = []string{
	"belief", "bocpd", "ctw", "evt", "martingale", "wasserstein",
	"proptree", "composite", "scheduler", "decision", "planner",
	"calibration", "observability.log_level",
}
