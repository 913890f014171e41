// Package scheduler implements the Gittins-index probe scheduler: for each
// candidate process it scores whether to act now (stop) or keep gathering
// evidence (continue probing), via finite-horizon value iteration over the
// belief-transition model. Spec §4.10.
//
// The continuation value here is a finite-horizon lookahead under the
// transition model only — it does not fold in the classical infinite-horizon
// restart-in-place Gittins formulation. Treat IndexValue as an ordering
// heuristic for which candidates most need attention this tick, not as an
// optimal-stopping certificate.
package scheduler

import (
	"sort"

	"github.com/octoreflex/triaged/internal/belief"
	"github.com/octoreflex/triaged/internal/decision"
)

// ProbeSpec describes one available probe: an action that produces more
// evidence without committing to a destructive outcome (e.g. a short
// strace sample, a /proc re-read).
type ProbeSpec struct {
	Name string
	Cost float64
}

// GittinsCandidate is one process under consideration: its current belief,
// which actions are feasible, and which probes are available.
type GittinsCandidate struct {
	ID          string
	Belief      belief.Belief
	Feasibility decision.ActionFeasibility
	Probes      []ProbeSpec
}

// GittinsIndex is the scheduler's per-candidate output.
type GittinsIndex struct {
	IndexValue          float64
	StoppingAction      decision.Action
	StoppingLossByState [belief.NumStates]float64
	ContinuationValue   float64
	StoppingValue       float64
}

// Config bundles the value-iteration knobs: how many prediction steps to
// look ahead and the per-step discount.
type Config struct {
	Horizon int
	Gamma   float64
}

// DefaultConfig returns a 3-step horizon at discount 0.9.
func DefaultConfig() Config {
	return Config{Horizon: 3, Gamma: 0.9}
}

// ComputeIndex scores one candidate: stopping value is the minimum expected
// loss over feasible actions; continuation value is the finite-horizon
// value of predicting the belief forward under transition (without
// observing anything) and re-evaluating stop-vs-continue at each step.
func ComputeIndex(candidate GittinsCandidate, transition belief.Transition, loss decision.LossMatrix, cfg Config) GittinsIndex {
	stopAction, stopValue, stopByState := stoppingValue(candidate.Belief, candidate.Feasibility, loss)

	horizon := cfg.Horizon
	if horizon < 0 {
		horizon = 0
	}
	gamma := cfg.Gamma
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.9
	}

	contValue := continuationValue(candidate.Belief, candidate.Feasibility, transition, loss, horizon, gamma)

	return GittinsIndex{
		IndexValue:          contValue - stopValue,
		StoppingAction:      stopAction,
		StoppingLossByState: stopByState,
		ContinuationValue:   contValue,
		StoppingValue:       stopValue,
	}
}

// stoppingValue returns argmin_a E[L(a,S)|b] over feasible actions, the
// value at that minimum, and the per-state loss row for the chosen action.
func stoppingValue(b belief.Belief, feas decision.ActionFeasibility, loss decision.LossMatrix) (decision.Action, float64, [belief.NumStates]float64) {
	best := -1
	var bestEL float64
	for a := 0; a < decision.NumActions; a++ {
		if !feas[a] {
			continue
		}
		var el float64
		for s := 0; s < belief.NumStates; s++ {
			el += b.Probs[s] * loss[s][a]
		}
		if best < 0 || el < bestEL || (el == bestEL && decision.Action(a).Tier() < decision.Action(best).Tier()) {
			best = a
			bestEL = el
		}
	}
	if best < 0 {
		return decision.ActionKeep, 0, [belief.NumStates]float64{}
	}
	var row [belief.NumStates]float64
	for s := 0; s < belief.NumStates; s++ {
		row[s] = loss[s][best]
	}
	return decision.Action(best), bestEL, row
}

// continuationValue implements V_0(b) = stop(b); V_k(b) = gamma *
// min(V_0(b'), V_{k-1}(b')) where b' is the one-step predicted belief,
// recursed horizon times. It returns V_horizon(predict(b)) for horizon >= 1
// and stop(b) itself when horizon is 0.
func continuationValue(b belief.Belief, feas decision.ActionFeasibility, transition belief.Transition, loss decision.LossMatrix, horizon int, gamma float64) float64 {
	if horizon == 0 {
		_, stop, _ := stoppingValue(b, feas, loss)
		return stop
	}
	predicted := transition.Predict(b)
	_, v0, _ := stoppingValue(predicted, feas, loss)
	vPrev := v0
	for k := 1; k <= horizon; k++ {
		nextPredicted := transition.Predict(predicted)
		_, stopNext, _ := stoppingValue(nextPredicted, feas, loss)
		candidate := stopNext
		if vPrev < candidate {
			candidate = vPrev
		}
		vPrev = gamma * candidate
		predicted = nextPredicted
	}
	return vPrev
}

// ScheduledCandidate is one candidate ranked by probe priority.
type ScheduledCandidate struct {
	Candidate GittinsCandidate
	Index     GittinsIndex
}

// Schedule ranks candidates by IndexValue descending (highest priority to
// act or probe first), tie-breaking on candidate ID for determinism.
func Schedule(candidates []GittinsCandidate, transition belief.Transition, loss decision.LossMatrix, cfg Config) []ScheduledCandidate {
	out := make([]ScheduledCandidate, len(candidates))
	for i, c := range candidates {
		out[i] = ScheduledCandidate{Candidate: c, Index: ComputeIndex(c, transition, loss, cfg)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Index.IndexValue != out[j].Index.IndexValue {
			return out[i].Index.IndexValue > out[j].Index.IndexValue
		}
		return out[i].Candidate.ID < out[j].Candidate.ID
	})
	return out
}
