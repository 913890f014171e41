// Package composite implements composite-hypothesis sequential tests
// (mixture SPRT, GLR, four-class mixture) and the evidence aggregation and
// detector-quorum machinery that feeds the decision core — spec §4.9.
package composite

import (
	"math"

	"github.com/octoreflex/triaged/internal/mathx"
)

// Verdict is the state of a sequential test after its boundaries are
// evaluated.
type Verdict int

const (
	Continue Verdict = iota
	FavorH1
	FavorH0
)

func (v Verdict) String() string {
	switch v {
	case FavorH1:
		return "FavorH1"
	case FavorH0:
		return "FavorH0"
	default:
		return "Continue"
	}
}

// WaldBoundaries computes the Wald SPRT log-boundaries from the target
// Type-I/II error rates: upper = log((1-betaErr)/alphaErr),
// lower = log(betaErr/(1-alphaErr)).
func WaldBoundaries(alphaErr, betaErr float64) (upper, lower float64) {
	upper = math.Log((1 - betaErr) / alphaErr)
	lower = math.Log(betaErr / (1 - alphaErr))
	return
}

// SPRTConfig holds a mixture SPRT's hypothesis and stopping parameters.
type SPRTConfig struct {
	P0              float64 // H0: point null success probability
	AlphaPrior      float64 // H1: Beta(alpha, beta) prior
	BetaPrior       float64
	AlphaErr        float64 // target Type-I error
	BetaErr         float64 // target Type-II error
	MinObservations int     // decisions before this many steps are suppressed
}

// DefaultSPRTConfig returns the given p0, Beta(1,1), 5% errors, min 5 obs.
func DefaultSPRTConfig(p0 float64) SPRTConfig {
	return SPRTConfig{P0: p0, AlphaPrior: 1, BetaPrior: 1, AlphaErr: 0.05, BetaErr: 0.05, MinObservations: 5}
}

// MixtureSPRT runs a mixture sequential probability ratio test for
// H0: p=p0 (point) vs. H1: p~Beta(alpha,beta), updating the Beta posterior
// at every step (the spec's "proper Bayesian" sequential variant).
type MixtureSPRT struct {
	cfg SPRTConfig

	n         int
	logLambda float64
	alpha     float64
	beta      float64
}

// NewMixtureSPRT constructs a MixtureSPRT in its prior state.
func NewMixtureSPRT(cfg SPRTConfig) *MixtureSPRT {
	if cfg.AlphaPrior <= 0 {
		cfg.AlphaPrior = 1
	}
	if cfg.BetaPrior <= 0 {
		cfg.BetaPrior = 1
	}
	if cfg.AlphaErr <= 0 || cfg.AlphaErr >= 1 {
		cfg.AlphaErr = 0.05
	}
	if cfg.BetaErr <= 0 || cfg.BetaErr >= 1 {
		cfg.BetaErr = 0.05
	}
	return &MixtureSPRT{cfg: cfg, alpha: cfg.AlphaPrior, beta: cfg.BetaPrior}
}

// SPRTResult is the per-step output of MixtureSPRT.Update.
type SPRTResult struct {
	LogLambda float64
	Verdict   Verdict
	Upper     float64
	Lower     float64
}

// Update folds in one Bernoulli trial (success) and returns the current
// sequential-test state. The Beta posterior is updated regardless of
// whether MinObservations has been reached; only the reported Verdict is
// suppressed (held at Continue) before that gate.
func (s *MixtureSPRT) Update(success bool) SPRTResult {
	s.n++

	// Predictive under the current Beta posterior (Beta-Bernoulli marginal).
	var logPredH1 float64
	if success {
		logPredH1 = math.Log(s.alpha) - math.Log(s.alpha+s.beta)
	} else {
		logPredH1 = math.Log(s.beta) - math.Log(s.alpha+s.beta)
	}

	var logPredH0 float64
	if success {
		logPredH0 = math.Log(s.cfg.P0)
	} else {
		logPredH0 = math.Log(1 - s.cfg.P0)
	}

	s.logLambda += logPredH1 - logPredH0

	a, b := mathx.BetaUpdate(s.alpha, s.beta, success)
	s.alpha, s.beta = a, b

	upper, lower := WaldBoundaries(s.cfg.AlphaErr, s.cfg.BetaErr)
	verdict := Continue
	if s.n >= s.cfg.MinObservations {
		switch {
		case s.logLambda >= upper:
			verdict = FavorH1
		case s.logLambda <= lower:
			verdict = FavorH0
		}
	}

	return SPRTResult{LogLambda: s.logLambda, Verdict: verdict, Upper: upper, Lower: lower}
}

// Posterior returns the current Beta(alpha, beta) posterior under H1.
func (s *MixtureSPRT) Posterior() (alpha, beta float64) { return s.alpha, s.beta }

// GLRConfig holds a binomial GLR test's tunables.
type GLRConfig struct {
	P0              float64
	BartlettCorrect bool
}

// GLRResult is the output of a binomial generalized likelihood-ratio test.
type GLRResult struct {
	LogGLR float64
	EValue float64 // conservative e-value = min(exp(logGLR/2), exp(logGLR))
}

// BinomialGLR computes the binomial GLR statistic log ℓ(k/n) − ℓ(p0), with
// an optional Bartlett correction dividing by (1 + 1/(2n)), and a
// conservative e-value via the χ²-half approximation.
func BinomialGLR(k, n int, cfg GLRConfig) GLRResult {
	if n <= 0 {
		return GLRResult{EValue: 1}
	}
	phat := float64(k) / float64(n)
	logGLR := binomialLogLik(k, n, phat) - binomialLogLik(k, n, cfg.P0)
	if cfg.BartlettCorrect {
		logGLR /= 1 + 1/(2*float64(n))
	}
	e1 := math.Exp(logGLR / 2)
	e2 := math.Exp(logGLR)
	eValue := math.Min(e1, e2)
	return GLRResult{LogGLR: logGLR, EValue: eValue}
}

func binomialLogLik(k, n int, p float64) float64 {
	if p <= 0 {
		if k == 0 {
			return 0
		}
		return math.Inf(-1)
	}
	if p >= 1 {
		if k == n {
			return 0
		}
		return math.Inf(-1)
	}
	kf, nf := float64(k), float64(n)
	return kf*math.Log(p) + (nf-kf)*math.Log(1-p)
}
