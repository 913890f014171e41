package proptree

import (
	"math"

	"github.com/octoreflex/triaged/internal/belief"
	"github.com/octoreflex/triaged/internal/mathx"
)

// Config holds the pairwise coupling strength J. J=0 makes the pairwise
// potential uniform, which is a testable identity property (spec.md §8):
// propagation with coupling_strength=0 returns local beliefs unchanged.
type Config struct {
	J float64
}

// Propagator runs sum-product belief propagation over a Forest.
type Propagator struct {
	forest *Forest
	cfg    Config
}

// NewPropagator builds a Propagator bound to forest with coupling cfg.
func NewPropagator(forest *Forest, cfg Config) *Propagator {
	return &Propagator{forest: forest, cfg: cfg}
}

// Evidence summarizes how much each node's marginal moved under coupling.
type Evidence struct {
	BeliefChange          map[PID]float64 // total-variation distance, local vs coupled
	ClassificationChanges []PID           // PIDs whose TV > 0.1
}

const classificationChangeThreshold = 0.1

type logVec [belief.NumStates]float64

// Propagate runs the single upward+downward sum-product pass over every
// tree in the forest. local supplies each node's own posterior; nodes
// absent from local are treated as uniform. Returns the coupled marginals
// and the change evidence.
func (p *Propagator) Propagate(local map[PID]belief.Belief) (map[PID]belief.Belief, Evidence, error) {
	coupled := make(map[PID]belief.Belief, len(local))
	evidence := Evidence{BeliefChange: make(map[PID]float64, len(local))}

	logLocal := make(map[PID]logVec)
	for pid, b := range local {
		logLocal[pid] = toLogVec(b)
	}
	uniformLog := toLogVec(belief.Uniform())

	for _, root := range p.forest.Roots() {
		p.propagateTree(root, logLocal, uniformLog, coupled)
	}

	for pid, b := range coupled {
		l, ok := local[pid]
		if !ok {
			continue
		}
		tv := totalVariation(l, b)
		evidence.BeliefChange[pid] = tv
		if tv > classificationChangeThreshold {
			evidence.ClassificationChanges = append(evidence.ClassificationChanges, pid)
		}
	}

	return coupled, evidence, nil
}

// propagateTree runs the upward pass (collecting per-child upward messages)
// then the downward pass (propagating parent context) over one rooted tree.
func (p *Propagator) propagateTree(root PID, logLocal map[PID]logVec, uniformLog logVec, out map[PID]belief.Belief) {
	upMsg := make(map[PID]logVec) // upMsg[c] = message child c sends to its parent

	var postOrder func(v PID) logVec
	postOrder = func(v PID) logVec {
		lv, ok := logLocal[v]
		if !ok {
			lv = uniformLog
		}
		acc := lv
		for _, c := range p.forest.Children(v) {
			childUp := postOrder(c)
			msg := p.message(childUp)
			upMsg[c] = msg
			acc = addVec(acc, msg)
		}
		return logNormalize(acc)
	}
	postOrder(root)

	var preOrder func(v PID, downIn logVec)
	preOrder = func(v PID, downIn logVec) {
		lv, ok := logLocal[v]
		if !ok {
			lv = uniformLog
		}
		children := p.forest.Children(v)

		unnorm := addVec(lv, downIn)
		for _, c := range children {
			unnorm = addVec(unnorm, upMsg[c])
		}

		marginal := logNormalize(unnorm)
		out[v] = fromLogVec(marginal)

		for _, c := range children {
			// Exclude c's own contribution before sending the message back down.
			excl := subVec(unnorm, upMsg[c])
			childDownIn := p.message(excl)
			preOrder(c, childDownIn)
		}
	}
	preOrder(root, zeroVec())
}

// message computes, for every output state s, logsumexp_{s'}(ψ_log(s', s) +
// src[s']), where ψ_log(s', s) = J·1{s'=s}.
func (p *Propagator) message(src logVec) logVec {
	var out logVec
	for s := 0; s < belief.NumStates; s++ {
		terms := make([]float64, belief.NumStates)
		for sp := 0; sp < belief.NumStates; sp++ {
			psi := 0.0
			if sp == s {
				psi = p.cfg.J
			}
			terms[sp] = psi + src[sp]
		}
		out[s] = mathx.LogSumExp(terms)
	}
	return out
}

func toLogVec(b belief.Belief) logVec {
	var out logVec
	for i, pr := range b.Probs {
		if pr <= 0 {
			out[i] = math.Inf(-1)
		} else {
			out[i] = math.Log(pr)
		}
	}
	return out
}

func fromLogVec(v logVec) belief.Belief {
	var probs [belief.NumStates]float64
	for i, lv := range v {
		probs[i] = math.Exp(lv)
	}
	return belief.FromProbs(probs, belief.DefaultMinProb)
}

func zeroVec() logVec {
	return logVec{}
}

func addVec(a, b logVec) logVec {
	var out logVec
	for i := range out {
		out[i] = a[i] + b[i]
	}
	return out
}

func subVec(a, b logVec) logVec {
	var out logVec
	for i := range out {
		out[i] = a[i] - b[i]
	}
	return out
}

func logNormalize(v logVec) logVec {
	z := mathx.LogSumExp(v[:])
	var out logVec
	for i := range v {
		out[i] = v[i] - z
	}
	return out
}

// totalVariation returns the total-variation distance between two beliefs:
// 0.5 Σ|p_i - q_i|.
func totalVariation(a, b belief.Belief) float64 {
	var sum float64
	for i := range a.Probs {
		sum += math.Abs(a.Probs[i] - b.Probs[i])
	}
	return 0.5 * sum
}
