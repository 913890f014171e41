package decision

import (
	"errors"

	"github.com/octoreflex/triaged/internal/belief"
	"github.com/octoreflex/triaged/internal/mathx"
)

// ErrInvalidInput is returned when Decide's belief, loss matrix, or config
// contains non-finite values.
var ErrInvalidInput = errors.New("decision: invalid input")

// LossMatrix is a [state][action] table of losses: rows are belief.State,
// columns are Action. Missing costs default to 0 — a zero-valued LossMatrix
// is a valid (if uninteresting) input.
type LossMatrix [belief.NumStates][NumActions]float64

// ActionFeasibility flags which actions are available for a candidate this
// tick (e.g. Resume is infeasible if the process was never paused).
type ActionFeasibility [NumActions]bool

// AllFeasible returns a feasibility vector with every action enabled.
func AllFeasible() ActionFeasibility {
	var f ActionFeasibility
	for i := range f {
		f[i] = true
	}
	return f
}

// BoundaryTag downgrades the optimal action when the composite evidence
// aggregator's e-value has not yet crossed its configured threshold.
type BoundaryTag int

const (
	BoundaryNone BoundaryTag = iota
	BoundaryContinue
	BoundaryAcceptH0
	BoundaryAcceptH1
)

// Recovery holds the planner-facing recovery-probability expectation for
// one action.
type Recovery struct {
	Probability float64
	StdDev      float64 // 0 when unavailable
	HasStdDev   bool
}

// Rationale records why the optimal action was chosen, for audit and UI.
type Rationale struct {
	Chosen           Action
	TieBreak         bool
	DisabledActions  map[Action]string
	UsedRecoveryPref bool
}

// DROConfig gates the distributionally-robust worst-case adjustment.
type DROConfig struct {
	Enabled bool
	Radius  float64 // W1 ball radius rho
	// Triggered must be set by the caller from a Wasserstein monitor's
	// DROTriggered flag; DRO only activates when both Enabled and
	// Triggered are true.
	Triggered bool
}

// SequentialGateConfig attaches an SPRT boundary tag when the combined
// e-value from the composite aggregator hasn't crossed Alpha.
type SequentialGateConfig struct {
	Enabled bool
	EValue  float64
	Alpha   float64
}

// DecisionConfig bundles the decision core's optional behaviors.
type DecisionConfig struct {
	RiskSensitive  bool
	CVaRAlpha      float64 // used when RiskSensitive is true
	DRO            DROConfig
	SequentialGate SequentialGateConfig
	Recovery       map[Action]Recovery // optional per-action recovery expectations
}

// Outcome is the decision core's full output.
type Outcome struct {
	ExpectedLoss                   [NumActions]float64
	OptimalAction                  Action
	SPRTBoundary                   *BoundaryTag
	PosteriorOddsAbandonedVsUseful *float64
	RecoveryExpectations           map[Action]Recovery
	Rationale                      Rationale
	RiskSensitive                  bool
	DRO                            bool
}

// Decide implements spec.md §4.11's six-step expected-loss minimization.
func Decide(b belief.Belief, feas ActionFeasibility, loss LossMatrix, impactScore float64, cfg DecisionConfig) (Outcome, error) {
	for _, p := range b.Probs {
		if !mathx.IsFinite(p) {
			return Outcome{}, ErrInvalidInput
		}
	}
	for _, row := range loss {
		for _, v := range row {
			if !mathx.IsFinite(v) {
				return Outcome{}, ErrInvalidInput
			}
		}
	}
	if !mathx.IsFinite(impactScore) {
		return Outcome{}, ErrInvalidInput
	}

	scaledLoss := applyImpactScaling(loss, impactScore)

	var el [NumActions]float64
	disabled := make(map[Action]string)
	for a := 0; a < NumActions; a++ {
		action := Action(a)
		if !feas[a] {
			disabled[action] = "infeasible"
			el[a] = posInf()
			continue
		}
		el[a] = expectedLoss(b, scaledLoss, a)
	}

	riskSensitive := false
	if cfg.RiskSensitive {
		riskSensitive = true
		alpha := cfg.CVaRAlpha
		if alpha <= 0 || alpha >= 1 {
			alpha = 0.95
		}
		for a := 0; a < NumActions; a++ {
			if !feas[a] {
				continue
			}
			el[a] = cvarLoss(b, scaledLoss, a, alpha)
		}
	}

	droApplied := false
	if cfg.DRO.Enabled && cfg.DRO.Triggered {
		droApplied = true
		perturbed := perturbBelief(b, cfg.DRO.Radius)
		for a := 0; a < NumActions; a++ {
			if !feas[a] {
				continue
			}
			worst := expectedLoss(perturbed, scaledLoss, a)
			if worst > el[a] {
				el[a] = worst
			}
		}
	}

	optimal, tieBreak := selectOptimal(el, feas)

	var boundaryTag *BoundaryTag
	if cfg.SequentialGate.Enabled {
		tag := evaluateGate(cfg.SequentialGate)
		boundaryTag = &tag
		if tag == BoundaryContinue || tag == BoundaryAcceptH0 {
			optimal = ActionKeep
		}
	}

	odds := posteriorOddsAbandonedVsUseful(b)

	usedRecovery := len(cfg.Recovery) > 0

	return Outcome{
		ExpectedLoss:                   el,
		OptimalAction:                  optimal,
		SPRTBoundary:                   boundaryTag,
		PosteriorOddsAbandonedVsUseful: &odds,
		RecoveryExpectations:           cfg.Recovery,
		Rationale: Rationale{
			Chosen:           optimal,
			TieBreak:         tieBreak,
			DisabledActions:  disabled,
			UsedRecoveryPref: usedRecovery,
		},
		RiskSensitive: riskSensitive,
		DRO:           droApplied,
	}, nil
}

// applyImpactScaling scales every Kill-column loss by (1+impactScore),
// leaving every other column untouched.
func applyImpactScaling(loss LossMatrix, impactScore float64) LossMatrix {
	out := loss
	scale := 1 + impactScore
	for s := 0; s < belief.NumStates; s++ {
		out[s][ActionKill] *= scale
	}
	return out
}

func expectedLoss(b belief.Belief, loss LossMatrix, action int) float64 {
	var el float64
	for s := 0; s < belief.NumStates; s++ {
		el += b.Probs[s] * loss[s][action]
	}
	return el
}

// cvarLoss computes the CVaR_alpha of the state-conditional loss for
// action: the expectation of loss restricted to the tail of states whose
// loss is at or above the alpha-quantile loss, weighted by belief mass.
func cvarLoss(b belief.Belief, loss LossMatrix, action int, alpha float64) float64 {
	type sl struct {
		state int
		prob  float64
		loss  float64
	}
	items := make([]sl, belief.NumStates)
	for s := 0; s < belief.NumStates; s++ {
		items[s] = sl{state: s, prob: b.Probs[s], loss: loss[s][action]}
	}
	// Sort ascending by loss so the upper tail is the highest-loss states.
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].loss < items[j-1].loss; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}

	tailMass := 1 - alpha
	if tailMass <= 0 {
		return items[len(items)-1].loss
	}

	var accMass, accLoss float64
	for i := len(items) - 1; i >= 0 && accMass < tailMass; i-- {
		take := items[i].prob
		if accMass+take > tailMass {
			take = tailMass - accMass
		}
		accLoss += take * items[i].loss
		accMass += take
	}
	if accMass <= 0 {
		return expectedLoss(b, loss, action)
	}
	return accLoss / accMass
}

// perturbBelief shifts mass toward the single most loss-relevant direction
// within a Wasserstein ball of radius rho: moves up to rho probability mass
// from the least-probable state to the most-probable state, a conservative
// worst-case-flavored perturbation within the DRO budget.
func perturbBelief(b belief.Belief, rho float64) belief.Belief {
	if rho <= 0 {
		return b
	}
	maxIdx, minIdx := 0, 0
	for i := 1; i < belief.NumStates; i++ {
		if b.Probs[i] > b.Probs[maxIdx] {
			maxIdx = i
		}
		if b.Probs[i] < b.Probs[minIdx] {
			minIdx = i
		}
	}
	move := mathx.Clamp(rho, 0, b.Probs[minIdx])
	out := b.Probs
	out[minIdx] -= move
	out[maxIdx] += move
	return belief.FromProbs(out, belief.DefaultMinProb)
}

// selectOptimal returns argmin expected loss with deterministic tie-break:
// among actions within 1e-9 of the minimum, prefer the lowest tier, then
// the lowest Action value.
func selectOptimal(el [NumActions]float64, feas ActionFeasibility) (Action, bool) {
	best := -1
	for a := 0; a < NumActions; a++ {
		if !feas[a] {
			continue
		}
		if best < 0 || el[a] < el[best] {
			best = a
		}
	}
	if best < 0 {
		return ActionKeep, false
	}

	const tol = 1e-9
	tieBreak := false
	winner := best
	for a := 0; a < NumActions; a++ {
		if !feas[a] || a == winner {
			continue
		}
		if el[a]-el[winner] <= tol {
			tieBreak = true
			if Action(a).Tier() < Action(winner).Tier() || (Action(a).Tier() == Action(winner).Tier() && a < winner) {
				winner = a
			}
		}
	}
	return Action(winner), tieBreak
}

func evaluateGate(g SequentialGateConfig) BoundaryTag {
	alpha := g.Alpha
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.05
	}
	if g.EValue >= 1/alpha {
		return BoundaryAcceptH1
	}
	if g.EValue <= alpha {
		return BoundaryAcceptH0
	}
	return BoundaryContinue
}

// posteriorOddsAbandonedVsUseful returns b[Abandoned]/b[Useful].
func posteriorOddsAbandonedVsUseful(b belief.Belief) float64 {
	useful := b.Probs[belief.StateUseful]
	if useful <= 0 {
		return posInf()
	}
	return b.Probs[belief.StateAbandoned] / useful
}

func posInf() float64 {
	var inf float64 = 1
	for i := 0; i < 400; i++ {
		inf *= 10
	}
	return inf
}
