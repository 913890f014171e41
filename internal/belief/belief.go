// Package belief implements the discrete-time Bayesian belief update core
// (spec §4.1) over the four latent process states, plus the row-stochastic
// transition model and continuous-time generator matrix (spec §4.2, §3).
//
// BeliefState, TransitionModel, and GeneratorMatrix are plain value types —
// fixed-size arrays, not slices with shared backing — so they can be passed
// and returned by value with no aliasing. Per the concurrency model (spec
// §5), per-PID belief state is owned by a single execution context and never
// shared mutably across goroutines; this package therefore holds no mutex
// anywhere, unlike the teacher's escalation.ProcessState which protects a
// small enum with a sync.Mutex. That pattern is deliberately not reused
// here — see DESIGN.md.
package belief

import (
	"errors"
	"fmt"
	"math"

	"github.com/octoreflex/triaged/internal/mathx"
)

// NumStates is the size of the latent state space.
const NumStates = 4

// State indexes the four latent process classes.
type State int

const (
	StateUseful State = iota
	StateUsefulBad
	StateAbandoned
	StateZombie
)

func (s State) String() string {
	switch s {
	case StateUseful:
		return "Useful"
	case StateUsefulBad:
		return "UsefulBad"
	case StateAbandoned:
		return "Abandoned"
	case StateZombie:
		return "Zombie"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DefaultMinProb is the floor every belief component is clamped to after an
// update, per spec §3.
const DefaultMinProb = 1e-10

// Belief is a categorical distribution over the four latent states.
type Belief struct {
	Probs [NumStates]float64
}

// Uniform returns the belief with equal mass on all four states.
func Uniform() Belief {
	return Belief{Probs: [NumStates]float64{0.25, 0.25, 0.25, 0.25}}
}

// FromProbs builds a Belief from an explicit prior, clamping and
// renormalizing it to satisfy the invariants.
func FromProbs(p [NumStates]float64, minProb float64) Belief {
	s := p[:]
	mathx.ClampProbVector(s, minProb)
	var out Belief
	copy(out.Probs[:], s)
	return out
}

// Entropy returns the Shannon entropy of the belief, in nats.
func (b Belief) Entropy() float64 {
	var h float64
	for _, p := range b.Probs {
		if p <= 0 {
			continue
		}
		h -= p * logNat(p)
	}
	return h
}

// Argmax returns the most probable state, breaking ties toward the lower
// index (Useful first).
func (b Belief) Argmax() State {
	best := 0
	for i := 1; i < NumStates; i++ {
		if b.Probs[i] > b.Probs[best] {
			best = i
		}
	}
	return State(best)
}

// Sum returns the sum of components, useful for asserting the Σp=1
// invariant in tests.
func (b Belief) Sum() float64 {
	var s float64
	for _, p := range b.Probs {
		s += p
	}
	return s
}

// Renormalize clamps every component to at least minProb and renormalizes,
// returning a new Belief (the receiver is never mutated).
func (b Belief) Renormalize(minProb float64) Belief {
	p := b.Probs
	mathx.ClampProbVector(p[:], minProb)
	return Belief{Probs: p}
}

// Transition is a row-stochastic 4×4 matrix: Rows[i][j] = P(state j | state i).
type Transition struct {
	Rows [NumStates][NumStates]float64
}

// Identity returns the "no transition" matrix.
func Identity() Transition {
	var t Transition
	for i := 0; i < NumStates; i++ {
		t.Rows[i][i] = 1
	}
	return t
}

// DefaultLifecycle encodes the expected motion through the lifecycle: a
// process tends to stay Useful, UsefulBad tends toward Abandoned more than
// back to Useful, Abandoned is mostly absorbing but can still be reclaimed
// at a low rate, and Zombie is absorbing until reaped externally.
func DefaultLifecycle() Transition {
	return Transition{Rows: [NumStates][NumStates]float64{
		{0.90, 0.06, 0.03, 0.01}, // Useful
		{0.05, 0.55, 0.35, 0.05}, // UsefulBad
		{0.02, 0.03, 0.92, 0.03}, // Abandoned
		{0.00, 0.00, 0.00, 1.00}, // Zombie
	}}
}

// Predict applies T to prior: predicted[j] = Σ_i prior[i]·T[i][j].
func (t Transition) Predict(prior Belief) Belief {
	var out Belief
	for j := 0; j < NumStates; j++ {
		var sum float64
		for i := 0; i < NumStates; i++ {
			sum += prior.Probs[i] * t.Rows[i][j]
		}
		out.Probs[j] = sum
	}
	return out
}

// ObservationLikelihood is a 4-vector of per-state likelihoods — possibly
// unnormalized, must be non-negative with at least one strictly positive
// entry.
type ObservationLikelihood [NumStates]float64

// UpdateConfig holds belief-update parameters.
type UpdateConfig struct {
	MinProb float64
}

// DefaultUpdateConfig returns the spec's default min_prob floor.
func DefaultUpdateConfig() UpdateConfig {
	return UpdateConfig{MinProb: DefaultMinProb}
}

// UpdateResult is the output of UpdateBelief / FilterStep.
type UpdateResult struct {
	Posterior    Belief
	EvidenceLogZ float64
	KLDivergence float64
}

var (
	// ErrZeroEvidence indicates the update's normalizing constant Z ≤ 0.
	ErrZeroEvidence = errors.New("belief: zero evidence (Z <= 0)")
	// ErrInvalidInput indicates a NaN appeared in the prior or likelihood.
	ErrInvalidInput = errors.New("belief: invalid input (NaN detected)")
)

// UpdateBelief implements spec §4.1: predict, multiply by likelihood,
// normalize (recording log Z), clamp+renormalize, and compute the KL
// divergence from prior to posterior. On ErrZeroEvidence or ErrInvalidInput
// the caller is expected to keep using prior — this function does not
// mutate the prior, it only reports the failure.
func UpdateBelief(prior Belief, t Transition, lik ObservationLikelihood, cfg UpdateConfig) (UpdateResult, error) {
	if cfg.MinProb <= 0 {
		cfg.MinProb = DefaultMinProb
	}
	for _, p := range prior.Probs {
		if !mathx.IsFinite(p) {
			return UpdateResult{}, ErrInvalidInput
		}
	}
	for _, l := range lik {
		if !mathx.IsFinite(l) || l < 0 {
			return UpdateResult{}, ErrInvalidInput
		}
	}

	predicted := t.Predict(prior)

	var u [NumStates]float64
	var z float64
	for j := 0; j < NumStates; j++ {
		u[j] = predicted.Probs[j] * lik[j]
		z += u[j]
	}
	if z <= 0 || !mathx.IsFinite(z) {
		return UpdateResult{}, ErrZeroEvidence
	}

	posterior := u
	for j := range posterior {
		posterior[j] /= z
	}
	mathx.ClampProbVector(posterior[:], cfg.MinProb)

	kl := klDivergence(prior.Probs, posterior)

	return UpdateResult{
		Posterior:    Belief{Probs: posterior},
		EvidenceLogZ: logNat(z),
		KLDivergence: kl,
	}, nil
}

// klDivergence computes KL(p || q) in nats, skipping terms where p_i == 0.
func klDivergence(p, q [NumStates]float64) float64 {
	var kl float64
	for i := 0; i < NumStates; i++ {
		if p[i] <= 0 {
			continue
		}
		qi := q[i]
		if qi <= 0 {
			qi = DefaultMinProb
		}
		kl += p[i] * (logNat(p[i]) - logNat(qi))
	}
	if kl < 0 {
		// Numerical noise can push this slightly negative; KL is never
		// negative by definition.
		kl = 0
	}
	return kl
}

func logNat(x float64) float64 {
	if x <= 0 {
		return math.Inf(-1)
	}
	return math.Log(x)
}
