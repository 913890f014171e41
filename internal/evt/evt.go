// Package evt implements Peaks-Over-Threshold extreme-value tail modeling:
// Generalized Pareto Distribution fitting by Probability-Weighted Moments
// or MLE, tail classification, CVaR, return levels, and an
// Anderson-Darling reliability gate — spec §4.5.
package evt

import (
	"errors"
	"math"
	"sort"

	"github.com/octoreflex/triaged/internal/mathx"
)

// ErrInsufficientData is returned when fewer than two exceedances are
// available to fit a GPD.
var ErrInsufficientData = errors.New("evt: insufficient exceedance data")

// CandidateQuantiles are the default threshold-selection sweep points for
// the mean-residual-life stability method.
var CandidateQuantiles = []float64{0.80, 0.85, 0.90, 0.95}

// TailType classifies the fitted shape parameter ξ.
type TailType int

const (
	TailLight TailType = iota
	TailExponential
	TailHeavy
	TailVeryHeavy
)

func (t TailType) String() string {
	switch t {
	case TailLight:
		return "Light"
	case TailExponential:
		return "Exponential"
	case TailHeavy:
		return "Heavy"
	case TailVeryHeavy:
		return "VeryHeavy"
	default:
		return "Unknown"
	}
}

// ClassifyTail maps a shape parameter to its TailType per spec.md §4.5:
// ξ<−0.1 Light, |ξ|<0.1 Exponential, 0.1≤ξ<0.3 Heavy, ξ≥0.3 VeryHeavy.
func ClassifyTail(xi float64) TailType {
	switch {
	case xi < -0.1:
		return TailLight
	case xi < 0.1:
		return TailExponential
	case xi < 0.3:
		return TailHeavy
	default:
		return TailVeryHeavy
	}
}

// Fit is a fitted Generalized Pareto Distribution over exceedances
// Y = X − threshold.
type Fit struct {
	Threshold float64
	Xi        float64 // shape
	Sigma     float64 // scale
	N         int     // number of exceedances used

	Tail            TailType
	AndersonDarling float64
	Reliable        bool // AD < 2.5 && sigma > 0
}

// SelectThresholdFixed picks the threshold at a fixed quantile of sorted
// (ascending) data.
func SelectThresholdFixed(sortedData []float64, quantile float64) float64 {
	return mathx.QuantileInterp(sortedData, quantile)
}

// SelectThresholdStable sweeps CandidateQuantiles and returns the threshold
// (the data value at the candidate quantile) whose exceedance-mean (mean
// residual life) changes least relative to its lower neighbor — a simple
// stability heuristic. Falls back to the 0.90 quantile when no two adjacent
// candidates both have at least 2 exceedances to compare.
func SelectThresholdStable(sortedData []float64) float64 {
	type point struct {
		q    float64
		mean float64
		ok   bool
	}
	pts := make([]point, len(CandidateQuantiles))
	for i, q := range CandidateQuantiles {
		u := mathx.QuantileInterp(sortedData, q)
		exceed := exceedances(sortedData, u)
		if len(exceed) < 2 {
			pts[i] = point{q: q, ok: false}
			continue
		}
		pts[i] = point{q: q, mean: mathx.Mean(exceed), ok: true}
	}

	bestIdx := -1
	bestDelta := math.Inf(1)
	for i := 1; i < len(pts); i++ {
		if !pts[i].ok || !pts[i-1].ok {
			continue
		}
		delta := math.Abs(pts[i].mean - pts[i-1].mean)
		if delta < bestDelta {
			bestDelta = delta
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return mathx.QuantileInterp(sortedData, 0.90)
	}
	return mathx.QuantileInterp(sortedData, pts[bestIdx].q)
}

func exceedances(sortedData []float64, threshold float64) []float64 {
	var out []float64
	for _, x := range sortedData {
		if x > threshold {
			out = append(out, x-threshold)
		}
	}
	return out
}

// FitPWM fits a GPD to data above threshold using Probability-Weighted
// Moments (the spec's default, more numerically stable estimator).
func FitPWM(data []float64, threshold float64) (Fit, error) {
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	y := exceedances(sorted, threshold)
	n := len(y)
	if n < 2 {
		return Fit{}, ErrInsufficientData
	}
	sort.Float64s(y)

	b0 := mathx.Mean(y)
	var b1 float64
	// y is ascending; the weight (n-1-i)/(n-1) is i/(n-1) taken over the
	// descending order statistics, which the xi/sigma formulas below use.
	for i, yi := range y {
		b1 += (float64(n-1-i) / float64(n-1)) * yi
	}
	b1 /= float64(n)

	denom := b0 - 2*b1
	var xi, sigma float64
	if math.Abs(denom) < 1e-12 {
		// Exponential case: denominator vanishes.
		xi = 0
		sigma = b0
	} else {
		xi = 2 - b0/denom
		sigma = 2 * b0 * b1 / denom
	}
	if sigma < 1e-10 {
		sigma = 1e-10
	}

	ad := andersonDarling(y, xi, sigma)
	return Fit{
		Threshold:       threshold,
		Xi:              xi,
		Sigma:           sigma,
		N:               n,
		Tail:            ClassifyTail(xi),
		AndersonDarling: ad,
		Reliable:        ad < 2.5 && sigma > 0,
	}, nil
}

// MLEConfig holds projected-gradient-ascent tunables for FitMLE.
type MLEConfig struct {
	XiBound  float64 // ξ is clamped to [-XiBound, XiBound]
	Steps    int
	StepSize float64
}

// DefaultMLEConfig returns conservative defaults: bound ξ to [-0.5, 0.5],
// 200 gradient steps, step size 1e-3.
func DefaultMLEConfig() MLEConfig {
	return MLEConfig{XiBound: 0.5, Steps: 200, StepSize: 1e-3}
}

// FitMLE fits a GPD by projected gradient ascent on the log-likelihood,
// seeded from the PWM estimate, clamping ξ to [−ξ_bound, ξ_bound] and σ to
// ≥1e-10 after every step.
func FitMLE(data []float64, threshold float64, cfg MLEConfig) (Fit, error) {
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	y := exceedances(sorted, threshold)
	n := len(y)
	if n < 2 {
		return Fit{}, ErrInsufficientData
	}

	seed, err := FitPWM(data, threshold)
	if err != nil {
		return Fit{}, err
	}
	xi, sigma := seed.Xi, seed.Sigma

	if cfg.Steps <= 0 {
		cfg.Steps = DefaultMLEConfig().Steps
	}
	if cfg.StepSize <= 0 {
		cfg.StepSize = DefaultMLEConfig().StepSize
	}
	if cfg.XiBound <= 0 {
		cfg.XiBound = DefaultMLEConfig().XiBound
	}

	for s := 0; s < cfg.Steps; s++ {
		gXi, gSigma := gpdLogLikGradient(y, xi, sigma)
		if !mathx.AllFinite(gXi, gSigma) {
			break
		}
		xi += cfg.StepSize * gXi
		sigma += cfg.StepSize * gSigma
		xi = mathx.Clamp(xi, -cfg.XiBound, cfg.XiBound)
		if sigma < 1e-10 {
			sigma = 1e-10
		}
	}

	ad := andersonDarling(y, xi, sigma)
	return Fit{
		Threshold:       threshold,
		Xi:              xi,
		Sigma:           sigma,
		N:               n,
		Tail:            ClassifyTail(xi),
		AndersonDarling: ad,
		Reliable:        ad < 2.5 && sigma > 0,
	}, nil
}

// gpdLogLikGradient returns the (approximate, numerically differenced)
// gradient of the GPD log-likelihood w.r.t. (xi, sigma) over exceedances y.
func gpdLogLikGradient(y []float64, xi, sigma float64) (float64, float64) {
	const h = 1e-5
	f := func(x, s float64) float64 { return gpdLogLik(y, x, s) }
	gXi := (f(xi+h, sigma) - f(xi-h, sigma)) / (2 * h)
	gSigma := (f(xi, sigma+h) - f(xi, sigma-h)) / (2 * h)
	return gXi, gSigma
}

func gpdLogLik(y []float64, xi, sigma float64) float64 {
	if sigma <= 0 {
		return math.Inf(-1)
	}
	var ll float64
	for _, yi := range y {
		ll += gpdLogPDF(yi, xi, sigma)
	}
	return ll
}

func gpdLogPDF(y, xi, sigma float64) float64 {
	if y < 0 || sigma <= 0 {
		return math.Inf(-1)
	}
	if math.Abs(xi) < 1e-8 {
		return -math.Log(sigma) - y/sigma
	}
	z := 1 + xi*y/sigma
	if z <= 0 {
		return math.Inf(-1)
	}
	return -math.Log(sigma) - (1+1/xi)*math.Log(z)
}

// CDF returns the GPD CDF at y ≥ 0.
func (f Fit) CDF(y float64) float64 {
	if y < 0 {
		return 0
	}
	if math.Abs(f.Xi) < 1e-8 {
		return 1 - math.Exp(-y/f.Sigma)
	}
	z := 1 + f.Xi*y/f.Sigma
	if z <= 0 {
		return 1
	}
	return 1 - math.Pow(z, -1/f.Xi)
}

// Quantile returns the exceedance value y at probability p ∈ (0,1).
func (f Fit) Quantile(p float64) float64 {
	if math.Abs(f.Xi) < 1e-8 {
		return -f.Sigma * math.Log(1-p)
	}
	return f.Sigma / f.Xi * (math.Pow(1-p, -f.Xi) - 1)
}

// ReturnLevel returns the value expected to be exceeded once every m
// observations, given exceedanceRate = P(X > threshold).
func (f Fit) ReturnLevel(m float64, exceedanceRate float64) float64 {
	if exceedanceRate <= 0 || m <= 0 {
		return f.Threshold
	}
	p := 1 - 1/(m*exceedanceRate)
	if p <= 0 {
		return f.Threshold
	}
	return f.Threshold + f.Quantile(p)
}

// VaR returns the Value-at-Risk at confidence alpha (above the threshold,
// in absolute units).
func (f Fit) VaR(alpha float64) float64 {
	return f.Threshold + f.Quantile(alpha)
}

// CVaR returns the Conditional VaR at confidence alpha:
// CVaR_α = VaR_α + σ(1+ξ)/(1−ξ) for ξ<1, else +Inf.
func (f Fit) CVaR(alpha float64) float64 {
	if f.Xi >= 1 {
		return math.Inf(1)
	}
	return f.VaR(alpha) + f.Sigma*(1+f.Xi)/(1-f.Xi)
}

// andersonDarling computes the Anderson-Darling statistic for the fitted
// GPD against the sorted exceedances y, used as the fit-reliability gate.
func andersonDarling(y []float64, xi, sigma float64) float64 {
	n := len(y)
	if n == 0 {
		return math.Inf(1)
	}
	sorted := append([]float64(nil), y...)
	sort.Float64s(sorted)

	fit := Fit{Xi: xi, Sigma: sigma}
	var sum float64
	for i, yi := range sorted {
		u := fit.CDF(yi)
		u = mathx.Clamp(u, 1e-12, 1-1e-12)
		i1 := float64(i + 1)
		sum += (2*i1 - 1) * (math.Log(u) + math.Log(1-fit.CDF(sorted[n-1-i])))
	}
	a2 := -float64(n) - sum/float64(n)
	if !mathx.IsFinite(a2) || a2 < 0 {
		return math.Inf(1)
	}
	return a2
}
