// Package main — cmd/triaged/main.go
//
// triaged daemon entrypoint.
//
// Startup sequence:
//  1. Load and validate config from /etc/triaged/config.yaml.
//  2. Initialise structured logger (zap; level and json/console format from
//     config).
//  3. Open BoltDB storage.
//  4. Prune stale calibration ledger entries.
//  5. Start Prometheus metrics server.
//  6. Start the feature-source ingestion pipeline (external Source injected;
//     a placeholder source is wired here since the real /proc collector is
//     out of scope — see internal/feature.Source).
//  7. Start the scheduler + decision + planner tick loop.
//  8. Start the plan-export gRPC server (if enabled).
//  9. Start the operator override socket (if enabled).
// 10. Register SIGHUP handler for config hot-reload.
// 11. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel root context (propagates to all goroutines).
//  2. Wait for the ingestion pipeline to drain (max 5s).
//  3. Close BoltDB.
//  4. Flush logger.
//  5. Exit 0.
//
// On config validation failure: exit 1 immediately.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/triaged/contrib"
	"github.com/octoreflex/triaged/internal/audit"
	"github.com/octoreflex/triaged/internal/belief"
	"github.com/octoreflex/triaged/internal/composite"
	"github.com/octoreflex/triaged/internal/config"
	"github.com/octoreflex/triaged/internal/decision"
	"github.com/octoreflex/triaged/internal/feature"
	"github.com/octoreflex/triaged/internal/observability"
	"github.com/octoreflex/triaged/internal/operator"
	"github.com/octoreflex/triaged/internal/planexport"
	"github.com/octoreflex/triaged/internal/planner"
	"github.com/octoreflex/triaged/internal/planner/session"
	"github.com/octoreflex/triaged/internal/scheduler"
	"github.com/octoreflex/triaged/internal/storage"
)

func main() {
	// ── Flags ────────────────────────────────────────────────────────────────
	configPath := flag.String("config", "/etc/triaged/config.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("triaged %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	// ── Step 1: Load config ──────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 2: Initialise logger ────────────────────────────────────────────
	log, err := observability.BuildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("triaged starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("node_id", cfg.NodeID),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 3: Open BoltDB ──────────────────────────────────────────────────
	db, err := storage.Open(cfg.Storage.DBPath, cfg.Storage.RetentionDays)
	if err != nil {
		log.Fatal("BoltDB open failed", zap.Error(err),
			zap.String("path", cfg.Storage.DBPath))
	}
	defer db.Close() //nolint:errcheck
	log.Info("BoltDB opened", zap.String("path", cfg.Storage.DBPath))

	// ── Step 4: Prune stale calibration ledger ───────────────────────────────
	pruned, err := db.PruneOldCalibrationEntries()
	if err != nil {
		log.Warn("calibration ledger pruning failed", zap.Error(err))
	} else {
		log.Info("calibration ledger pruned", zap.Int("deleted", pruned))
	}

	// ── Step 5: Prometheus metrics ────────────────────────────────────────────
	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	// ── Step 6: Feature ingestion pipeline ───────────────────────────────────
	audit := newAuditChain()
	registry := operator.NewMemRegistry()

	bundler := newBundler(cfg, db, log)
	pipeline := feature.NewPipeline(
		cfg.Feature.MaxGoroutines,
		cfg.Feature.EventQueueSize,
		bundler.handle,
		metrics,
		log,
	)

	source := newPlaceholderSource()
	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		if err := pipeline.Run(ctx, source); err != nil {
			log.Error("feature pipeline error", zap.Error(err))
		}
	}()
	log.Info("feature ingestion pipeline started",
		zap.Int("shards", cfg.Feature.MaxGoroutines))

	// ── Step 7: Scheduler/decision/planner tick loop ─────────────────────────
	go runPlanLoop(ctx, cfg, bundler, registry, metrics, audit, log)
	log.Info("plan tick loop started")

	// ── Step 8: Plan-export gRPC server ──────────────────────────────────────
	if cfg.PlanExport.Enabled {
		sink := planExportSink{registry: registry, log: log}
		srv := planexport.NewServer(cfg.NodeID, nil, cfg.PlanExport.EnvelopeTTL, sink, log)
		go func() {
			if err := planexport.ListenAndServe(
				ctx,
				cfg.PlanExport.ListenAddr,
				cfg.PlanExport.TLSCertFile,
				cfg.PlanExport.TLSKeyFile,
				cfg.PlanExport.TLSCAFile,
				srv,
				log,
			); err != nil {
				log.Error("plan-export server error", zap.Error(err))
			}
		}()
		log.Info("plan-export server started", zap.String("addr", cfg.PlanExport.ListenAddr))
	} else {
		log.Info("plan-export disabled (standalone mode)")
	}

	// ── Step 9: Operator override socket ─────────────────────────────────────
	if cfg.Operator.Enabled {
		opSrv := operator.NewServer(cfg.Operator.SocketPath, registry, log)
		go func() {
			if err := opSrv.ListenAndServe(ctx); err != nil {
				log.Error("operator server error", zap.Error(err))
			}
		}()
		log.Info("operator socket started", zap.String("path", cfg.Operator.SocketPath))
	} else {
		log.Info("operator overrides disabled")
	}

	// ── Step 10: SIGHUP hot-reload ────────────────────────────────────────────
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config...")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			bundler.applyNonDestructive(newCfg)
			log.Info("config hot-reload successful",
				zap.Float64("new_decision_cvar_alpha", newCfg.Decision.CVaRAlpha))
		}
	}()

	// ── Step 11: Wait for shutdown signal ────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()

	shutdownTimer := time.NewTimer(5 * time.Second)
	defer shutdownTimer.Stop()
	select {
	case <-shutdownTimer.C:
		log.Warn("shutdown drain timeout — forcing exit")
	case <-pipelineDone:
		log.Info("ingestion pipeline drained")
	}

	log.Info("triaged shutdown complete")
}

// newAuditChain returns a mutex-protected audit hash chain that the plan
// tick loop extends with every generated plan. The operator socket keeps
// its own, separate chain (see internal/operator.Server).
func newAuditChain() *auditChain {
	return &auditChain{}
}

type auditChain struct {
	mu   sync.Mutex
	hash audit.Hash
}

func (a *auditChain) extend(payload []byte) audit.Hash {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hash = audit.ChainDecision(a.hash, payload)
	return a.hash
}

// planExportSink adapts the operator's in-memory plan registry to
// planexport.Sink, so plans received from peers are visible to the same
// operator status/pin/unpin surface as locally generated plans.
type planExportSink struct {
	registry *operator.MemRegistry
	log      *zap.Logger
}

func (s planExportSink) Record(nodeID string, plan planner.Plan) {
	s.registry.Put(summarize(plan))
	s.log.Info("plan received from peer",
		zap.String("node_id", nodeID),
		zap.String("plan_id", plan.PlanID))
}

func summarize(plan planner.Plan) operator.PlanSummary {
	var blocked []string
	for _, a := range plan.Actions {
		if a.Blocked {
			blocked = append(blocked, a.ActionID)
		}
	}
	return operator.PlanSummary{
		PlanID:         plan.PlanID,
		SessionID:      plan.SessionID,
		ActionCount:    len(plan.Actions),
		BlockedActions: blocked,
	}
}

// newPlaceholderSource returns a feature.Source that never produces a
// snapshot on its own — it blocks until ctx is canceled. The real /proc
// and cgroup collector that would populate feature.Snapshot is out of
// scope (spec.md §1); deployments wire their own Source in place of this
// one. Kept here so the ingestion pipeline, decision core, and planner can
// be exercised end-to-end without a live collector attached.
func newPlaceholderSource() feature.Source {
	return placeholderSource{}
}

type placeholderSource struct{}

func (placeholderSource) Next(ctx context.Context) (feature.Snapshot, error) {
	<-ctx.Done()
	return feature.Snapshot{}, ctx.Err()
}

// bundler holds the per-shard tracked-process state the tick loop and the
// feature pipeline's handler share. Each PID is always routed to the same
// pipeline shard, so per-PID state never needs synchronization — the
// single-writer invariant spec.md §5 requires.
type bundler struct {
	mu  sync.Mutex // guards tracked, since the tick loop reads across shards
	cfg *config.Config
	db  *storage.DB
	log *zap.Logger

	tracked map[int]*trackedProcess
}

type trackedProcess struct {
	identity planner.ProcessIdentity
	ppid     int
	belief   belief.Belief
	lastSnap feature.Snapshot
}

func newBundler(cfg *config.Config, db *storage.DB, log *zap.Logger) *bundler {
	return &bundler{
		cfg:     cfg,
		db:      db,
		log:     log,
		tracked: make(map[int]*trackedProcess),
	}
}

// handle is the feature.Handler invoked by the pipeline for each snapshot.
// A PID seen for the first time (or with a new start time) starts from the
// uniform belief; the stored belief record is not read back. The belief is
// then updated from the registered contrib.EvidenceContributor set, folding
// the combined log-Bayes-factor into an observation likelihood, and the
// posterior is persisted.
func (b *bundler) handle(ctx context.Context, s feature.Snapshot) {
	b.mu.Lock()
	tp, exists := b.tracked[s.PID]
	if !exists || tp.identity.StartID != fmt.Sprintf("%d", s.StartTime) {
		tp = &trackedProcess{
			identity: planner.ProcessIdentity{
				PID:     s.PID,
				StartID: fmt.Sprintf("%d", s.StartTime),
				Quality: planner.IdentityFull,
			},
			ppid:   s.PPID,
			belief: belief.Uniform(),
		}
		b.tracked[s.PID] = tp
	}
	b.mu.Unlock()

	agg := composite.NewEvidenceAggregator()
	req := contrib.ContributionRequest{PID: s.PID, Snapshot: s, TimestampNs: s.StartTime}
	if errs := contrib.FeedAll(agg, req, contrib.ListContributors()); len(errs) > 0 {
		for _, err := range errs {
			b.log.Debug("evidence contributor error", zap.Int("pid", s.PID), zap.Error(err))
		}
	}

	lik := likelihoodFromLogBF(agg.CombinedLogBF())
	transition := belief.DefaultLifecycle()
	result, err := belief.UpdateBelief(tp.belief, transition, lik, belief.UpdateConfig{MinProb: b.cfg.Belief.MinProb})
	if err != nil {
		b.log.Warn("belief update failed", zap.Int("pid", s.PID), zap.Error(err))
		return
	}

	b.mu.Lock()
	tp.belief = result.Posterior
	tp.lastSnap = s
	tp.ppid = s.PPID
	b.mu.Unlock()

	if err := b.db.PutBelief(storage.BeliefRecord{
		PID:       s.PID,
		StartTime: s.StartTime,
		Belief:    result.Posterior,
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		b.log.Warn("belief persist failed", zap.Int("pid", s.PID), zap.Error(err))
	}
}

// likelihoodFromLogBF turns a single combined log-Bayes-factor into a
// 4-state observation likelihood: positive values (favoring the bad
// hypothesis under the aggregator's sign convention) weight UsefulBad and
// Abandoned upward, negative values weight Useful upward, and Zombie is
// left neutral since no contributor here speaks to process-table exit
// status.
func likelihoodFromLogBF(logBF float64) belief.ObservationLikelihood {
	bad := clampExp(logBF)
	good := clampExp(-logBF)
	return belief.ObservationLikelihood{
		belief.StateUseful:    good,
		belief.StateUsefulBad: bad,
		belief.StateAbandoned: bad,
		belief.StateZombie:    1.0,
	}
}

func clampExp(x float64) float64 {
	if x > 20 {
		x = 20
	}
	if x < -20 {
		x = -20
	}
	return math.Exp(x)
}

func (b *bundler) applyNonDestructive(newCfg *config.Config) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg.Belief = newCfg.Belief
	b.cfg.Bocpd = newCfg.Bocpd
	b.cfg.Ctw = newCfg.Ctw
	b.cfg.Evt = newCfg.Evt
	b.cfg.Martingale = newCfg.Martingale
	b.cfg.Wasserstein = newCfg.Wasserstein
	b.cfg.Proptree = newCfg.Proptree
	b.cfg.Composite = newCfg.Composite
	b.cfg.Scheduler = newCfg.Scheduler
	b.cfg.Decision = newCfg.Decision
	b.cfg.Planner = newCfg.Planner
	b.cfg.Calibration = newCfg.Calibration
}

// runPlanLoop periodically materializes the current tracked-process set
// into decision candidates, runs the scheduler to rank which candidates
// most need attention, folds each through the decision core, and emits a
// plan via internal/planner.Generate — chaining the plan's id into the
// daemon's audit sequence.
func runPlanLoop(
	ctx context.Context,
	cfg *config.Config,
	b *bundler,
	registry *operator.MemRegistry,
	metrics *observability.Metrics,
	audit *auditChain,
	log *zap.Logger,
) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	loss := defaultLossMatrix()
	sessionChecker := session.AllowAll{}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		b.mu.Lock()
		bundleCandidates := make([]planner.DecisionCandidate, 0, len(b.tracked))
		gittinsCandidates := make([]scheduler.GittinsCandidate, 0, len(b.tracked))
		for pid, tp := range b.tracked {
			feas := decision.AllFeasible()
			outcome, err := decision.Decide(tp.belief, feas, loss, 0.0, decision.DecisionConfig{
				RiskSensitive: cfg.Decision.RiskSensitive,
				CVaRAlpha:     cfg.Decision.CVaRAlpha,
			})
			if err != nil {
				log.Warn("decision failed", zap.Int("pid", pid), zap.Error(err))
				continue
			}
			bundleCandidates = append(bundleCandidates, planner.DecisionCandidate{
				Identity:             tp.identity,
				PPID:                 tp.ppid,
				Decision:             outcome,
				StagePauseBeforeKill: cfg.Planner.StagePauseBeforeKill,
				ProcessState:         tp.lastSnap.ProcessState,
			})
			gittinsCandidates = append(gittinsCandidates, scheduler.GittinsCandidate{
				ID:          tp.identity.StartID,
				Belief:      tp.belief,
				Feasibility: feas,
			})
		}
		b.mu.Unlock()

		if len(bundleCandidates) == 0 {
			continue
		}

		schedCfg := scheduler.Config{Horizon: cfg.Scheduler.Horizon, Gamma: cfg.Scheduler.Gamma}
		ranked := scheduler.Schedule(gittinsCandidates, belief.DefaultLifecycle(), loss, schedCfg)
		for _, r := range ranked {
			metrics.DecisionOptimalActionTotal.WithLabelValues(r.Index.StoppingAction.String()).Inc()
		}

		bundle := planner.DecisionBundle{
			SessionID:   cfg.NodeID,
			Policy:      planner.Policy{PolicyID: "default", SchemaVersion: cfg.SchemaVersion},
			Candidates:  bundleCandidates,
			GeneratedAt: time.Now().UTC().Format(time.RFC3339Nano),
		}
		plan := planner.Generate(bundle, sessionChecker)

		registry.Put(summarize(plan))
		payload := []byte(plan.PlanID + plan.SessionID)
		chainHash := audit.extend(payload)

		for _, a := range plan.Actions {
			metrics.PlannerActionsEmittedTotal.WithLabelValues(a.Routing.String(), a.Confidence.String()).Inc()
			if a.Blocked {
				metrics.PlannerBlockedCandidatesTotal.Inc()
			}
		}

		log.Info("plan generated",
			zap.String("plan_id", plan.PlanID),
			zap.Int("actions", len(plan.Actions)),
			zap.String("chain_hash", fmt.Sprintf("%x", chainHash)))
	}
}

// defaultLossMatrix encodes the operator's default cost structure: killing
// a Useful process is maximally costly (Freeze and Pause also carry a cost
// there), killing a Zombie is free, and for UsefulBad/Abandoned both Keep
// and Kill carry a cost while the staged actions (Pause, Throttle, Freeze,
// ...) cost 0, so the decision core prefers a staged action for them.
// Entries not set here are 0.
// Configuring a custom loss matrix per deployment is an open area spec.md
// leaves to the operator; this is the daemon's shipped default.
func defaultLossMatrix() decision.LossMatrix {
	var m decision.LossMatrix
	m[belief.StateUseful][decision.ActionKill] = 100.0
	m[belief.StateUseful][decision.ActionFreeze] = 20.0
	m[belief.StateUseful][decision.ActionPause] = 5.0
	m[belief.StateUsefulBad][decision.ActionKill] = 10.0
	m[belief.StateUsefulBad][decision.ActionKeep] = 5.0
	m[belief.StateAbandoned][decision.ActionKill] = 2.0
	m[belief.StateAbandoned][decision.ActionKeep] = 8.0
	m[belief.StateZombie][decision.ActionKill] = 0.0
	m[belief.StateZombie][decision.ActionKeep] = 10.0
	return m
}
