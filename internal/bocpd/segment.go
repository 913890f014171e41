// Package bocpd implements Bayesian online change-point detection over a
// truncated run-length posterior, with closed conjugate segment models
// (Normal-Gamma, Poisson-Gamma, Beta-Bernoulli) — spec §4.3.
package bocpd

import (
	"math"

	"github.com/octoreflex/triaged/internal/mathx"
)

// SegmentModel is the closed set of conjugate emission models a run can use.
// Like the teacher's EventType enum, this is a small closed sum type: no
// runtime plugin surface; Update calls it only through these methods.
type SegmentModel interface {
	// LogPredictive returns log p(x | current sufficient statistics).
	LogPredictive(x float64) float64
	// Posterior returns a new segment model with x folded into the
	// sufficient statistics (the receiver is left untouched).
	Posterior(x float64) SegmentModel
	// Clone returns an independent copy for prepending as a fresh segment.
	Clone() SegmentModel
}

// NormalGamma is the Normal-Gamma conjugate model; its predictive
// distribution is Student-t.
type NormalGamma struct {
	Mu    float64 // location
	Kappa float64 // pseudo-count on the mean
	Alpha float64 // shape
	Beta  float64 // rate
}

// NewNormalGamma returns the model's prior.
func NewNormalGamma(mu, kappa, alpha, beta float64) NormalGamma {
	return NormalGamma{Mu: mu, Kappa: kappa, Alpha: alpha, Beta: beta}
}

// LogPredictive is the log Student-t density with ν=2α, location μ, scale
// √(β(κ+1)/(ακ)).
func (m NormalGamma) LogPredictive(x float64) float64 {
	nu := 2 * m.Alpha
	scale2 := m.Beta * (m.Kappa + 1) / (m.Alpha * m.Kappa)
	if scale2 <= 0 || !mathx.IsFinite(scale2) {
		return math.Inf(-1)
	}
	scale := math.Sqrt(scale2)
	z := (x - m.Mu) / scale
	logNorm := mathx.LnGamma((nu+1)/2) - mathx.LnGamma(nu/2) -
		0.5*math.Log(nu*math.Pi) - math.Log(scale)
	logKernel := -(nu + 1) / 2 * math.Log(1+z*z/nu)
	return logNorm + logKernel
}

// Posterior folds a single observation x into the Normal-Gamma sufficient
// statistics (standard online update for unit exposure).
func (m NormalGamma) Posterior(x float64) SegmentModel {
	kappaNew := m.Kappa + 1
	muNew := (m.Kappa*m.Mu + x) / kappaNew
	alphaNew := m.Alpha + 0.5
	betaNew := m.Beta + (m.Kappa*(x-m.Mu)*(x-m.Mu))/(2*kappaNew)
	return NormalGamma{Mu: muNew, Kappa: kappaNew, Alpha: alphaNew, Beta: betaNew}
}

// Clone returns an independent copy (NormalGamma is a value type already).
func (m NormalGamma) Clone() SegmentModel { return m }

// PoissonGamma is the Poisson-Gamma conjugate model; its predictive
// distribution is Negative-Binomial.
type PoissonGamma struct {
	Alpha float64 // shape
	Beta  float64 // rate
}

// NewPoissonGamma returns the model's prior.
func NewPoissonGamma(alpha, beta float64) PoissonGamma {
	return PoissonGamma{Alpha: alpha, Beta: beta}
}

// LogPredictive is the log Negative-Binomial pmf with shape α and success
// probability p = β/(β+1), evaluated at the rounded count x. Negative or
// non-finite x has log-probability -Inf.
func (m PoissonGamma) LogPredictive(x float64) float64 {
	if x < 0 || !mathx.IsFinite(x) {
		return math.Inf(-1)
	}
	k := math.Round(x)
	p := m.Beta / (m.Beta + 1)
	if p <= 0 || p >= 1 || !mathx.IsFinite(p) {
		return math.Inf(-1)
	}
	logComb := mathx.LnGamma(k+m.Alpha) - mathx.LnGamma(m.Alpha) - mathx.LnGamma(k+1)
	return logComb + m.Alpha*math.Log(p) + k*math.Log(1-p)
}

// Posterior folds a single Poisson count observation into the Gamma
// sufficient statistics under unit exposure.
func (m PoissonGamma) Posterior(x float64) SegmentModel {
	a, b := mathx.GammaUpdate(m.Alpha, m.Beta, x)
	return PoissonGamma{Alpha: a, Beta: b}
}

// Clone returns an independent copy.
func (m PoissonGamma) Clone() SegmentModel { return m }

// BetaBernoulli is the Beta-Bernoulli conjugate model; its predictive
// distribution is Bernoulli with p = α/(α+β).
type BetaBernoulli struct {
	Alpha float64
	Beta  float64
}

// NewBetaBernoulli returns the model's prior.
func NewBetaBernoulli(alpha, beta float64) BetaBernoulli {
	return BetaBernoulli{Alpha: alpha, Beta: beta}
}

// LogPredictive treats x as an indicator: values ≥ 0.5 are success, else
// failure, whatever their range. Only non-finite inputs are rejected
// (log-probability -Inf).
func (m BetaBernoulli) LogPredictive(x float64) float64 {
	if !mathx.IsFinite(x) {
		return math.Inf(-1)
	}
	p := m.Alpha / (m.Alpha + m.Beta)
	if x >= 0.5 {
		return math.Log(p)
	}
	return math.Log(1 - p)
}

// Posterior folds one Bernoulli trial (x ≥ 0.5 counts as success) into the
// Beta sufficient statistics.
func (m BetaBernoulli) Posterior(x float64) SegmentModel {
	a, b := mathx.BetaUpdate(m.Alpha, m.Beta, x >= 0.5)
	return BetaBernoulli{Alpha: a, Beta: b}
}

// Clone returns an independent copy.
func (m BetaBernoulli) Clone() SegmentModel { return m }
