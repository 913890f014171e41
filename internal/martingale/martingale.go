// Package martingale implements time-uniform concentration bounds for
// sequential anomaly evidence: Azuma-Hoeffding, Freedman/Bernstein, and a
// method-of-mixtures anytime-valid bound, combined into an e-value and a
// bounded anomaly score — spec §4.6.
package martingale

import (
	"math"

	"github.com/octoreflex/triaged/internal/mathx"
)

// EValueCap is the ceiling applied to the combined e-value.
const EValueCap = 1e15

// AnomalyScoreCap is the ceiling (in nats) applied to ln(e_value).
const AnomalyScoreCap = 30.0

// Config holds the detector's tunables.
type Config struct {
	// Alpha is the significance level used by anomaly_detected and by the
	// method-of-mixtures bound.
	Alpha float64
	// CMax bounds each increment's magnitude, used by Azuma-Hoeffding and
	// as the Bernstein c_max term.
	CMax float64
}

// DefaultConfig returns Alpha=0.05, CMax=1.0.
func DefaultConfig() Config {
	return Config{Alpha: 0.05, CMax: 1.0}
}

// Analyzer accumulates a running sum, squared-bound sum, and optional
// conditional-variance sum for one scalar martingale stream. It owns its
// state exclusively — no internal synchronization — per the per-PID
// single-writer inference model.
type Analyzer struct {
	cfg Config

	n       int
	sum     float64
	sumC2   float64 // Σ c_i² (per-step bound squared)
	sumVar  float64 // Σ conditional variance, when supplied
	haveVar bool
}

// New constructs an Analyzer.
func New(cfg Config) *Analyzer {
	if cfg.Alpha <= 0 || cfg.Alpha >= 1 {
		cfg.Alpha = DefaultConfig().Alpha
	}
	if cfg.CMax <= 0 {
		cfg.CMax = DefaultConfig().CMax
	}
	return &Analyzer{cfg: cfg}
}

// Update folds in one increment x bounded in magnitude by the configured
// CMax (values are not clamped — CMax is used only in the bound formulas).
// condVar is the increment's conditional variance; pass a negative value
// when unavailable (the Freedman/Bernstein bound is then skipped).
func (a *Analyzer) Update(x float64, condVar float64) Result {
	a.n++
	a.sum += x
	a.sumC2 += a.cfg.CMax * a.cfg.CMax
	if condVar >= 0 {
		a.sumVar += condVar
		a.haveVar = true
	}
	return a.Evaluate()
}

// Result is the combined output of the three concentration bounds.
type Result struct {
	N                int
	S                float64 // cumulative sum
	AzumaBound       float64
	FreedmanBound    float64 // math.Inf(1) when variance unavailable
	TimeUniformBound float64 // math.Inf(1) when the current mean has not exceeded the mixture radius
	TailProbability  float64 // min of the available bounds
	EValue           float64
	AnomalyScore     float64 // ln(e_value), clipped to [0, AnomalyScoreCap]
	AnomalyDetected  bool
}

// Evaluate recomputes the combined bound from the analyzer's current
// running sums, without consuming a new observation.
func (a *Analyzer) Evaluate() Result {
	n := a.n
	t := math.Abs(a.sum)

	azuma := azumaHoeffding(t, a.sumC2)

	freedman := math.Inf(1)
	if a.haveVar {
		freedman = freedmanBernstein(t, a.sumVar, a.cfg.CMax)
	}

	timeUniform := math.Inf(1)
	if n > 0 {
		radius := timeUniformRadius(n, a.cfg.Alpha, a.cfg.CMax)
		mean := t / float64(n)
		if mean > radius {
			timeUniform = azumaHoeffding(t, a.sumC2) // crude tail bound, per spec: only emitted once mean exceeds radius
		}
	}

	tail := math.Min(azuma, math.Min(freedman, timeUniform))
	tail = mathx.Clamp(tail, 0, 1)

	eValue := 1.0
	if tail > 0 {
		eValue = 1.0 / tail
	} else {
		eValue = EValueCap
	}
	if eValue > EValueCap {
		eValue = EValueCap
	}

	score := math.Log(eValue)
	score = mathx.Clamp(score, 0, AnomalyScoreCap)

	return Result{
		N:                n,
		S:                a.sum,
		AzumaBound:       azuma,
		FreedmanBound:    freedman,
		TimeUniformBound: timeUniform,
		TailProbability:  tail,
		EValue:           eValue,
		AnomalyScore:     score,
		AnomalyDetected:  tail < a.cfg.Alpha,
	}
}

// azumaHoeffding returns exp(−t² / 2Σc²), the always-available bound.
func azumaHoeffding(t, sumC2 float64) float64 {
	if sumC2 <= 0 {
		return 1
	}
	return math.Exp(-t * t / (2 * sumC2))
}

// freedmanBernstein returns exp(−t² / 2(Σv + c_max·t/3)).
func freedmanBernstein(t, sumVar, cMax float64) float64 {
	denom := 2 * (sumVar + cMax*t/3)
	if denom <= 0 {
		return 1
	}
	return math.Exp(-t * t / denom)
}

// timeUniformRadius returns the anytime-valid method-of-mixtures radius
// c·√(2(1+1/n)·log(√(n+1)/α) / n).
func timeUniformRadius(n int, alpha, c float64) float64 {
	nf := float64(n)
	inner := math.Sqrt(nf+1) / alpha
	if inner <= 1 {
		inner = 1 + 1e-12
	}
	return c * math.Sqrt(2*(1+1/nf)*math.Log(inner)/nf)
}
