package bocpd

import (
	"errors"
	"math"

	"github.com/octoreflex/triaged/internal/mathx"
)

// ErrInvalidConfig is returned by New when the hazard rate or run-length
// bound is out of range.
var ErrInvalidConfig = errors.New("bocpd: invalid config")

// Config holds the detector's tunables.
type Config struct {
	HazardRate   float64
	MaxRunLength int
	// MaxConsecutiveSkipsBeforeStale is the number of consecutive
	// non-finite-evidence updates after which the detector marks itself
	// Stale (see DESIGN.md Open Question decision #1 — spec.md notes this
	// behavior is unresolved and leaves escalation to the implementer).
	MaxConsecutiveSkipsBeforeStale int
}

// DefaultConfig returns spec.md §8 scenario-2 defaults: hazard 0.1, a
// generous run-length truncation, and a conservative stale threshold.
func DefaultConfig() Config {
	return Config{
		HazardRate:                     0.1,
		MaxRunLength:                   256,
		MaxConsecutiveSkipsBeforeStale: 20,
	}
}

func (c Config) validate() error {
	if c.HazardRate <= 0 || c.HazardRate >= 1 || !mathx.IsFinite(c.HazardRate) {
		return ErrInvalidConfig
	}
	if c.MaxRunLength < 1 {
		return ErrInvalidConfig
	}
	return nil
}

// Result is the per-step output of Detector.Update.
type Result struct {
	ChangePointProbability float64
	MapRunLength           int
	ExpectedRunLength      float64
	CumLogEvidence         float64
	Skipped                bool
}

// ChangePoint flags a step whose change-point probability crossed a
// caller-supplied threshold.
type ChangePoint struct {
	Index                  int
	ChangePointProbability float64
}

// Detector holds the truncated run-length log-weight vector and one segment
// model per run length, per spec.md §4.3. It owns its own state exclusively
// — it is not safe to share a *Detector across goroutines, matching the
// per-PID single-writer ownership model (no internal mutex).
type Detector struct {
	cfg Config

	logRunLength []float64      // log p(r_t = r), length len(segments)
	segments     []SegmentModel // segments[r] are the sufficient stats for run length r

	cumLogEvidence   float64
	consecutiveSkips int
	Stale            bool

	prior SegmentModel // fresh-segment prior, reused on every change event
}

// New constructs a Detector seeded with a single run length (r=0) holding
// prior as its sufficient statistics.
func New(cfg Config, prior SegmentModel) (*Detector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if prior == nil {
		return nil, ErrInvalidConfig
	}
	return &Detector{
		cfg:          cfg,
		logRunLength: []float64{0}, // log(1) = 0: certainty of run length 0
		segments:     []SegmentModel{prior.Clone()},
		prior:        prior.Clone(),
	}, nil
}

// ConsecutiveSkips reports how many updates in a row were skipped due to
// non-finite evidence.
func (d *Detector) ConsecutiveSkips() int { return d.consecutiveSkips }

// Update implements the growth/change recursion for one observation x. On
// non-finite predictive evidence it skips the update, leaves all state
// unmutated except the consecutive-skip counter, and returns
// Result{Skipped: true} carrying the prior step's outputs.
func (d *Detector) Update(x float64) Result {
	if !mathx.IsFinite(x) {
		return d.skip()
	}

	n := len(d.logRunLength)
	logHazard := math.Log(d.cfg.HazardRate)
	log1mHazard := math.Log(1 - d.cfg.HazardRate)

	// Growth: shift every run length up by one, folding in its segment's
	// predictive log-likelihood and the survival term.
	grown := make([]float64, n)
	anyFinite := false
	for r := 0; r < n; r++ {
		lp := d.segments[r].LogPredictive(x)
		if !mathx.IsFinite(lp) {
			grown[r] = math.Inf(-1)
			continue
		}
		grown[r] = d.logRunLength[r] + lp + log1mHazard
		anyFinite = true
	}

	// Change: fresh segment at r=0. Since logRunLength is kept normalized,
	// Σ_r p(r_{t-1}=r) = 1, so this collapses to ℓ_prior + log H.
	logPriorPred := d.prior.LogPredictive(x)
	changeWeight := math.Inf(-1)
	if mathx.IsFinite(logPriorPred) {
		changeWeight = logPriorPred + logHazard
		anyFinite = true
	}

	if !anyFinite {
		return d.skip()
	}

	next := make([]float64, n+1)
	next[0] = changeWeight
	copy(next[1:], grown)

	logZ := mathx.LogSumExp(next)
	if !mathx.IsFinite(logZ) {
		return d.skip()
	}
	for i := range next {
		next[i] -= logZ
	}

	// Update each existing segment's sufficient statistics with x, then
	// prepend the fresh r=0 segment.
	nextSegments := make([]SegmentModel, n+1)
	nextSegments[0] = d.prior.Clone()
	for r := 0; r < n; r++ {
		nextSegments[r+1] = d.segments[r].Posterior(x)
	}

	if len(next) > d.cfg.MaxRunLength+1 {
		next = next[:d.cfg.MaxRunLength+1]
		nextSegments = nextSegments[:d.cfg.MaxRunLength+1]
		// Renormalize after truncation so Σp(r)=1 holds exactly.
		logZ2 := mathx.LogSumExp(next)
		for i := range next {
			next[i] -= logZ2
		}
	}

	d.logRunLength = next
	d.segments = nextSegments
	d.cumLogEvidence += logZ
	d.consecutiveSkips = 0

	return d.result(false)
}

func (d *Detector) skip() Result {
	d.consecutiveSkips++
	if d.consecutiveSkips >= d.cfg.MaxConsecutiveSkipsBeforeStale {
		d.Stale = true
	}
	r := d.result(true)
	return r
}

func (d *Detector) result(skipped bool) Result {
	mapR := 0
	best := math.Inf(-1)
	var expected float64
	for r, lp := range d.logRunLength {
		p := math.Exp(lp)
		expected += float64(r) * p
		if lp > best {
			best = lp
			mapR = r
		}
	}
	cpProb := math.Exp(d.logRunLength[0])
	return Result{
		ChangePointProbability: cpProb,
		MapRunLength:           mapR,
		ExpectedRunLength:      expected,
		CumLogEvidence:         d.cumLogEvidence,
		Skipped:                skipped,
	}
}

// RunLengthSum returns Σ_r p(r_t=r), which must stay ≈1 — exposed for the
// invariant checks in spec.md §8.
func (d *Detector) RunLengthSum() float64 {
	var s float64
	for _, lp := range d.logRunLength {
		s += math.Exp(lp)
	}
	return s
}

// ProcessBatch runs Update over every observation in xs in order and
// returns the full sequence of per-step results.
func (d *Detector) ProcessBatch(xs []float64) []Result {
	out := make([]Result, len(xs))
	for i, x := range xs {
		out[i] = d.Update(x)
	}
	return out
}

// DetectChangePoints scans a sequence of results and reports every step
// whose change-point probability meets or exceeds threshold.
func DetectChangePoints(results []Result, threshold float64) []ChangePoint {
	var out []ChangePoint
	for i, r := range results {
		if r.ChangePointProbability >= threshold {
			out = append(out, ChangePoint{Index: i, ChangePointProbability: r.ChangePointProbability})
		}
	}
	return out
}
