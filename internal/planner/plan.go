package planner

import (
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/octoreflex/triaged/internal/decision"
	"github.com/octoreflex/triaged/internal/planner/session"
)

// Policy is the subset of policy configuration the planner needs: an
// identifying id/version pair for the plan header. Staged pause-before-kill
// is set per candidate (DecisionCandidate.StagePauseBeforeKill), not here.
type Policy struct {
	PolicyID      string
	SchemaVersion string
}

// DecisionBundle is the planner's input: a session id, the active policy,
// and one DecisionCandidate per process under consideration.
type DecisionBundle struct {
	SessionID  string
	Policy     Policy
	Candidates []DecisionCandidate
	// GeneratedAt overrides the plan's generated_at stamp; if empty the
	// caller is expected to fill it in after Generate returns, since this
	// package never calls the clock itself.
	GeneratedAt string
}

// DecisionCandidate is one process's decision-core outcome plus the
// process-state context the planner needs for routing.
type DecisionCandidate struct {
	Identity             ProcessIdentity
	PPID                 int
	Decision             decision.Outcome
	BlockedReasons       []string
	StagePauseBeforeKill bool
	ProcessState         ProcessState
	ParentIdentity       *ProcessIdentity
	DStateDiagnostics    *DStateDiagnostics
}

// PreCheck is a precondition the executor must revalidate immediately
// before applying an action.
type PreCheck int

const (
	CheckVerifyIdentity PreCheck = iota
	CheckNotProtected
	CheckSessionSafety
	CheckDataLossGate
	CheckSupervisor
	CheckVerifyProcessState
)

func (c PreCheck) String() string {
	switch c {
	case CheckVerifyIdentity:
		return "VerifyIdentity"
	case CheckNotProtected:
		return "CheckNotProtected"
	case CheckSessionSafety:
		return "CheckSessionSafety"
	case CheckDataLossGate:
		return "CheckDataLossGate"
	case CheckSupervisor:
		return "CheckSupervisor"
	case CheckVerifyProcessState:
		return "VerifyProcessState"
	default:
		return "Unknown"
	}
}

// Routing explains why an action targets something other than the direct
// candidate, or flags reduced confidence in its success.
type Routing int

const (
	RoutingDirect Routing = iota
	RoutingZombieToParent
	RoutingZombieToSupervisor
	RoutingZombieInvestigateOnly
	RoutingDStateLowConfidence
)

func (r Routing) String() string {
	switch r {
	case RoutingZombieToParent:
		return "ZombieToParent"
	case RoutingZombieToSupervisor:
		return "ZombieToSupervisor"
	case RoutingZombieInvestigateOnly:
		return "ZombieInvestigateOnly"
	case RoutingDStateLowConfidence:
		return "DStateLowConfidence"
	default:
		return "Direct"
	}
}

// Confidence downgrades the executor's expectation that an action will
// actually succeed.
type Confidence int

const (
	ConfidenceNormal Confidence = iota
	ConfidenceLow
	ConfidenceVeryLow
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceLow:
		return "Low"
	case ConfidenceVeryLow:
		return "VeryLow"
	default:
		return "Normal"
	}
}

// Timeouts bounds each stage of applying one action.
type Timeouts struct {
	PreflightMs uint64
	ExecuteMs   uint64
	VerifyMs    uint64
}

// DefaultTimeouts matches the original implementation's defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{PreflightMs: 2000, ExecuteMs: 10000, VerifyMs: 5000}
}

// Hook names a side effect to run when an action succeeds or fails.
type Hook struct {
	Action  string
	Details string
}

// Rationale is the audit-facing summary of why this action was chosen,
// carried through from the decision core.
type Rationale struct {
	ExpectedLoss                   *float64
	ExpectedRecovery               *float64
	ExpectedRecoveryStdDev         *float64
	PosteriorOddsAbandonedVsUseful *float64
	SPRTBoundary                   *decision.BoundaryTag
}

// PlanAction is one step of a Plan: a single action applied to a single
// target, at a given stage of a possibly multi-stage sequence.
type PlanAction struct {
	ActionID             string
	Target               ProcessIdentity
	Action               decision.Action
	Order                int
	Stage                int
	Timeouts             Timeouts
	PreChecks            []PreCheck
	Rationale            Rationale
	OnSuccess            []Hook
	OnFailure            []Hook
	Blocked              bool
	Routing              Routing
	Confidence           Confidence
	OriginalZombieTarget *ProcessIdentity
	DStateDiagnostics    *DStateDiagnostics
}

// GatesSummary is the plan-level rollup of how many candidates were
// blocked and how many actions were pre-toggled for immediate execution.
type GatesSummary struct {
	TotalCandidates   int
	BlockedCandidates int
	PreToggledActions int
}

// Plan is the planner's deterministic, content-addressed output.
type Plan struct {
	PlanID        string
	SessionID     string
	GeneratedAt   string
	PolicyID      string
	PolicyVersion string
	Actions       []PlanAction
	PreToggled    []string
	GatesSummary  GatesSummary
}

// Generate converts a DecisionBundle into a Plan: zombie and D-state
// routing first, staged pause-before-kill expansion, pre-check assignment,
// then a total sort and content-addressed IDs. sessionChecker gates every
// action against spec §4.13's protection rules before anything is
// considered pre-toggled.
func Generate(bundle DecisionBundle, sessionChecker session.Checker) Plan {
	var actions []PlanAction
	var preToggled []string
	blockedCandidates := 0

	for _, c := range bundle.Candidates {
		blocked := len(c.BlockedReasons) > 0
		blocked = blocked || sessionProtects(c.Identity.PID, sessionChecker)
		if blocked {
			blockedCandidates++
		}

		if c.ProcessState == ProcessStateZombie {
			zombieActions := planZombieActions(c, blocked)
			for _, a := range zombieActions {
				if !blocked && !a.Blocked {
					preToggled = append(preToggled, a.ActionID)
				}
				actions = append(actions, a)
			}
			continue
		}

		isDState := c.ProcessState == ProcessStateDiskSleep

		type stagedAction struct {
			action decision.Action
			stage  int
		}
		var sequence []stagedAction
		switch {
		case c.Decision.OptimalAction == decision.ActionKill && c.StagePauseBeforeKill:
			sequence = []stagedAction{{decision.ActionPause, 0}, {decision.ActionKill, 1}}
		case c.Decision.OptimalAction != decision.ActionKeep:
			sequence = []stagedAction{{c.Decision.OptimalAction, 0}}
		default:
			continue
		}

		for _, sa := range sequence {
			actionID := actionIDFor(sa.action, c.Identity, sa.stage)
			if !blocked {
				preToggled = append(preToggled, actionID)
			}

			rationale := rationaleFor(c.Decision, sa.action)

			confidence := ConfidenceNormal
			routing := RoutingDirect
			var dStateDiag *DStateDiagnostics
			if isDState {
				routing = RoutingDStateLowConfidence
				if sa.action == decision.ActionKill || sa.action == decision.ActionRestart {
					confidence = ConfidenceLow
				}
				dStateDiag = c.DStateDiagnostics
			}

			preChecks := preChecksFor(sa.action)
			if isDState && (sa.action == decision.ActionKill || sa.action == decision.ActionRestart) {
				preChecks = append(preChecks, CheckVerifyProcessState)
			}

			var onFailure []Hook
			if isDState {
				onFailure = []Hook{{Action: "report_failure", Details: "process was in D-state (uninterruptible sleep)"}}
			} else {
				onFailure = []Hook{{Action: "report_failure"}}
			}

			actions = append(actions, PlanAction{
				ActionID:          actionID,
				Target:            c.Identity,
				Action:            sa.action,
				Stage:             sa.stage,
				Timeouts:          DefaultTimeouts(),
				PreChecks:         preChecks,
				Rationale:         rationale,
				OnFailure:         onFailure,
				Blocked:           blocked,
				Routing:           routing,
				Confidence:        confidence,
				DStateDiagnostics: dStateDiag,
			})
		}
	}

	sort.SliceStable(actions, func(i, j int) bool {
		return lessBySortKey(bundle, actions[i], actions[j])
	})
	for i := range actions {
		actions[i].Order = i
	}

	return Plan{
		PlanID:        planIDFor(bundle.SessionID, bundle.Policy.PolicyID, len(actions)),
		SessionID:     bundle.SessionID,
		GeneratedAt:   bundle.GeneratedAt,
		PolicyID:      bundle.Policy.PolicyID,
		PolicyVersion: bundle.Policy.SchemaVersion,
		Actions:       actions,
		PreToggled:    preToggled,
		GatesSummary: GatesSummary{
			TotalCandidates:   len(bundle.Candidates),
			BlockedCandidates: blockedCandidates,
			PreToggledActions: len(preToggled),
		},
	}
}

func sessionProtects(pid int, checker session.Checker) bool {
	if checker == nil {
		return false
	}
	return checker.Check(pid).Protected
}

// planZombieActions implements spec §4.12's zombie override: destructive
// actions route to the parent (or become a blocked investigate-only Keep
// with no parent), non-destructive actions on a zombie always become a
// blocked investigate-only Keep.
func planZombieActions(c DecisionCandidate, blocked bool) []PlanAction {
	original := c.Decision.OptimalAction
	if original == decision.ActionKeep {
		return nil
	}

	rationale := rationaleFor(c.Decision, original)
	isDestructive := original == decision.ActionKill || original == decision.ActionRestart

	if isDestructive {
		if c.ParentIdentity != nil {
			parentAction := decision.ActionRestart
			actionID := actionIDFor(parentAction, *c.ParentIdentity, 0)
			return []PlanAction{{
				ActionID: actionID,
				Target:   *c.ParentIdentity,
				Action:   parentAction,
				Stage:    0,
				Timeouts: DefaultTimeouts(),
				PreChecks: []PreCheck{
					CheckVerifyIdentity, CheckNotProtected, CheckSessionSafety,
					CheckDataLossGate, CheckSupervisor,
				},
				Rationale: rationale,
				OnSuccess: []Hook{{
					Action:  "zombie_reaped",
					Details: fmt.Sprintf("parent restart should reap zombie PID %d", c.Identity.PID),
				}},
				OnFailure:            []Hook{{Action: "report_failure", Details: "failed to restart parent of zombie"}},
				Blocked:              blocked,
				Routing:              RoutingZombieToParent,
				Confidence:           ConfidenceNormal,
				OriginalZombieTarget: &c.Identity,
			}}
		}
		actionID := actionIDFor(decision.ActionKeep, c.Identity, 0)
		return []PlanAction{{
			ActionID:   actionID,
			Target:     c.Identity,
			Action:     decision.ActionKeep,
			Stage:      0,
			Timeouts:   DefaultTimeouts(),
			PreChecks:  []PreCheck{CheckVerifyIdentity},
			Rationale:  rationale,
			Blocked:    true,
			Routing:    RoutingZombieInvestigateOnly,
			Confidence: ConfidenceVeryLow,
		}}
	}

	actionID := actionIDFor(decision.ActionKeep, c.Identity, 0)
	return []PlanAction{{
		ActionID:   actionID,
		Target:     c.Identity,
		Action:     decision.ActionKeep,
		Stage:      0,
		Timeouts:   DefaultTimeouts(),
		PreChecks:  []PreCheck{CheckVerifyIdentity},
		Rationale:  rationale,
		Blocked:    true,
		Routing:    RoutingZombieInvestigateOnly,
		Confidence: ConfidenceVeryLow,
	}}
}

func preChecksFor(a decision.Action) []PreCheck {
	checks := []PreCheck{CheckVerifyIdentity, CheckNotProtected, CheckSessionSafety}
	switch a {
	case decision.ActionKill, decision.ActionRestart:
		checks = append(checks, CheckDataLossGate, CheckSupervisor)
	case decision.ActionPause, decision.ActionThrottle, decision.ActionRenice,
		decision.ActionFreeze, decision.ActionUnfreeze, decision.ActionQuarantine:
		checks = append(checks, CheckSupervisor)
	case decision.ActionResume, decision.ActionUnquarantine, decision.ActionKeep:
		// identity verification only
		checks = checks[:1]
	}
	return checks
}

func rationaleFor(out decision.Outcome, a decision.Action) Rationale {
	var r Rationale
	loss := out.ExpectedLoss[a]
	r.ExpectedLoss = &loss
	if rec, ok := out.RecoveryExpectations[a]; ok {
		prob := rec.Probability
		r.ExpectedRecovery = &prob
		if rec.HasStdDev {
			sd := rec.StdDev
			r.ExpectedRecoveryStdDev = &sd
		}
	}
	r.PosteriorOddsAbandonedVsUseful = out.PosteriorOddsAbandonedVsUseful
	r.SPRTBoundary = out.SPRTBoundary
	return r
}

// lessBySortKey implements spec §4.12's total order: (action-tier,
// pgid-group, stage, -benefit_key, identity_key, action_id).
func lessBySortKey(bundle DecisionBundle, a, b PlanAction) bool {
	ka := sortKey(bundle, a)
	kb := sortKey(bundle, b)

	if ka.tier != kb.tier {
		return ka.tier < kb.tier
	}
	if ka.group != kb.group {
		return ka.group < kb.group
	}
	if ka.stage != kb.stage {
		return ka.stage < kb.stage
	}
	if ka.negBenefit != kb.negBenefit {
		return ka.negBenefit < kb.negBenefit
	}
	if ka.identityKey != kb.identityKey {
		return ka.identityKey < kb.identityKey
	}
	return ka.actionID < kb.actionID
}

type sortKeyFields struct {
	tier        int
	group       int
	stage       int
	negBenefit  int64
	identityKey string
	actionID    string
}

func sortKey(bundle DecisionBundle, a PlanAction) sortKeyFields {
	tier := a.Action.Tier()

	group := a.Target.PID
	var candidate *DecisionCandidate
	for i := range bundle.Candidates {
		if bundle.Candidates[i].Identity.PID == a.Target.PID {
			candidate = &bundle.Candidates[i]
			break
		}
	}
	if candidate != nil && candidate.Identity.PGID != 0 {
		group = candidate.Identity.PGID
	}

	var benefit float64
	if candidate != nil {
		keepLoss := candidate.Decision.ExpectedLoss[decision.ActionKeep]
		actionLoss := candidate.Decision.ExpectedLoss[a.Action]
		benefit = keepLoss - actionLoss
	}
	var benefitKey int64
	if benefit >= 0 {
		benefitKey = int64(benefit*1e6 + 0.5)
	} else {
		benefitKey = -int64(-benefit*1e6 + 0.5)
	}

	identityKey := fmt.Sprintf("%d:%d:%s", a.Target.PID, a.Target.UID, a.Target.StartID)

	return sortKeyFields{
		tier:        tier,
		group:       group,
		stage:       a.Stage,
		negBenefit:  -benefitKey,
		identityKey: identityKey,
		actionID:    a.ActionID,
	}
}

func fnv1a64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

func actionIDFor(a decision.Action, identity ProcessIdentity, stage int) string {
	key := fmt.Sprintf("%s:%d:%s:%d:%d", actionStr(a), identity.PID, identity.StartID, identity.UID, stage)
	return fmt.Sprintf("act-%016x", fnv1a64(key))
}

func planIDFor(sessionID, policyID string, actionCount int) string {
	if policyID == "" {
		policyID = "unknown"
	}
	key := fmt.Sprintf("%s:%s:%d", sessionID, policyID, actionCount)
	return fmt.Sprintf("plan-%016x", fnv1a64(key))
}

func actionStr(a decision.Action) string {
	switch a {
	case decision.ActionKeep:
		return "keep"
	case decision.ActionRenice:
		return "renice"
	case decision.ActionPause:
		return "pause"
	case decision.ActionResume:
		return "resume"
	case decision.ActionThrottle:
		return "throttle"
	case decision.ActionFreeze:
		return "freeze"
	case decision.ActionUnfreeze:
		return "unfreeze"
	case decision.ActionQuarantine:
		return "quarantine"
	case decision.ActionUnquarantine:
		return "unquarantine"
	case decision.ActionRestart:
		return "restart"
	case decision.ActionKill:
		return "kill"
	default:
		return "unknown"
	}
}
