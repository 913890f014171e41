// Package calibration turns a stream of post-hoc shadow-mode predictions
// into the safety artifacts that gate promotion from shadow to enforcement:
// a binned calibration curve, a Beta credible upper bound on the false-kill
// rate, and a PAC-Bayes upper bound on the same quantity. Spec §3
// CalibrationData/CalibrationCurve and §4.14.
//
// Grounded on the original implementation's calibrate/report.rs report
// assembly shape (metrics + curve + bounds + summary, with ASCII and JSON
// renders of the same struct), narrowed to the bounds spec.md actually
// requires.
package calibration

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/octoreflex/triaged/internal/mathx"
)

// DefaultDeltas is the δ grid spec.md §4.14 names for both bound families.
var DefaultDeltas = []float64{0.05, 0.01}

// Data is one post-hoc record: the model's P(abandoned) for a decision made
// in shadow mode, and whether the process was truly abandoned.
type Data struct {
	Predicted float64
	Actual    bool
	ProcType  string
}

// Bin is one bucket of a CalibrationCurve.
type Bin struct {
	Lower         float64
	Upper         float64
	Count         int
	MeanPredicted float64
	ActualRate    float64
}

// Curve bins predictions into numBins equal-width buckets over [0,1].
type Curve struct {
	Bins []Bin
}

// BuildCurve bins data into numBins equal-width buckets spanning [0,1]. An
// empty bucket reports zero count and zero rates rather than NaN.
func BuildCurve(data []Data, numBins int) Curve {
	if numBins <= 0 {
		numBins = 1
	}
	bins := make([]Bin, numBins)
	width := 1.0 / float64(numBins)
	for i := range bins {
		bins[i].Lower = float64(i) * width
		bins[i].Upper = float64(i+1) * width
	}

	sums := make([]float64, numBins)
	positives := make([]int, numBins)
	for _, d := range data {
		idx := int(d.Predicted / width)
		if idx >= numBins {
			idx = numBins - 1
		}
		if idx < 0 {
			idx = 0
		}
		bins[idx].Count++
		sums[idx] += d.Predicted
		if d.Actual {
			positives[idx]++
		}
	}
	for i := range bins {
		if bins[i].Count == 0 {
			continue
		}
		bins[i].MeanPredicted = sums[i] / float64(bins[i].Count)
		bins[i].ActualRate = float64(positives[i]) / float64(bins[i].Count)
	}
	return Curve{Bins: bins}
}

// ASCII renders the curve as one line per bin, width characters wide, with
// '#' marking the actual positive rate — a non-canonical terminal view
// alongside the canonical JSON report (spec.md §6.5).
func (c Curve) ASCII(width int) string {
	if width <= 0 {
		width = 40
	}
	var b strings.Builder
	for _, bin := range c.Bins {
		lower := int(math.Round(bin.Lower * 100))
		upper := int(math.Round(bin.Upper * 100))
		if bin.Count == 0 {
			fmt.Fprintf(&b, "  %3d-%3d: no data\n", lower, upper)
			continue
		}
		filled := int(math.Round(bin.ActualRate * float64(width)))
		if filled > width {
			filled = width
		}
		bar := strings.Repeat("#", filled) + strings.Repeat(".", width-filled)
		fmt.Fprintf(&b, "  %3d-%3d: [%s] predicted=%.3f actual=%.3f (n=%d)\n",
			lower, upper, bar, bin.MeanPredicted, bin.ActualRate, bin.Count)
	}
	return b.String()
}

// Bound is one δ's worth of upper-bound computation.
type Bound struct {
	Delta float64
	Upper float64
}

// CredibleBounds is the Beta credible bound on the false-kill rate: among
// predictions at or above threshold ("trials", i.e. would-kill
// recommendations), the fraction that were actually false ("errors").
type CredibleBounds struct {
	Threshold       float64
	Trials          int
	Errors          int
	PriorAlpha      float64
	PriorBeta       float64
	PosteriorAlpha  float64
	PosteriorBeta   float64
	ObservedRate    float64
	PosteriorMean   float64
	Bounds          []Bound
	TrialDefinition string
	ErrorDefinition string
}

// FalseKillCredibleBounds computes the Beta(priorAlpha, priorBeta) posterior
// over the false-kill rate and its 1-δ upper credible bounds for each δ in
// deltas. Returns nil if no prediction reached threshold (no kill
// recommendations to bound), per spec.md §4.14's "skip the component, do not
// fail the pipeline" InsufficientData rule (§6.5).
func FalseKillCredibleBounds(data []Data, threshold, priorAlpha, priorBeta float64, deltas []float64) *CredibleBounds {
	trials, errors := 0, 0
	for _, d := range data {
		if d.Predicted < threshold {
			continue
		}
		trials++
		if !d.Actual {
			errors++
		}
	}
	if trials == 0 {
		return nil
	}

	postAlpha := priorAlpha + float64(errors)
	postBeta := priorBeta + float64(trials-errors)

	bounds := make([]Bound, len(deltas))
	for i, delta := range deltas {
		bounds[i] = Bound{
			Delta: delta,
			Upper: mathx.BetaQuantile(1-delta, postAlpha, postBeta),
		}
	}

	return &CredibleBounds{
		Threshold:       threshold,
		Trials:          trials,
		Errors:          errors,
		PriorAlpha:      priorAlpha,
		PriorBeta:       priorBeta,
		PosteriorAlpha:  postAlpha,
		PosteriorBeta:   postBeta,
		ObservedRate:    float64(errors) / float64(trials),
		PosteriorMean:   postAlpha / (postAlpha + postBeta),
		Bounds:          bounds,
		TrialDefinition: fmt.Sprintf("predictions >= %.2f", threshold),
		ErrorDefinition: "trial where actual = false (a would-kill recommendation that was wrong)",
	}
}

// PacBayesSummary is the PAC-Bayes upper bound on the true error rate given
// (errors, trials), independent of the Beta credible bound's prior choice.
type PacBayesSummary struct {
	Trials         int
	Errors         int
	EmpiricalError float64
	KLQP           float64
	Bounds         []Bound
	Assumptions    string
}

// PacBayesErrorBounds computes McAllester's PAC-Bayes bound:
//
//	upper(δ) = p̂ + sqrt((KL(Q||P) + ln(2*sqrt(trials)/δ)) / (2*trials))
//
// klQP is 0 for a point prior (spec.md §4.14). Returns nil when trials is 0.
func PacBayesErrorBounds(errors, trials int, klQP float64, deltas []float64) *PacBayesSummary {
	if trials == 0 {
		return nil
	}
	n := float64(trials)
	empirical := float64(errors) / n

	bounds := make([]Bound, len(deltas))
	for i, delta := range deltas {
		if delta <= 0 {
			delta = 1e-9
		}
		term := (klQP + math.Log(2*math.Sqrt(n)/delta)) / (2 * n)
		if term < 0 {
			term = 0
		}
		upper := empirical + math.Sqrt(term)
		if upper > 1 {
			upper = 1
		}
		bounds[i] = Bound{Delta: delta, Upper: upper}
	}

	return &PacBayesSummary{
		Trials:         trials,
		Errors:         errors,
		EmpiricalError: empirical,
		KLQP:           klQP,
		Bounds:         bounds,
		Assumptions:    "McAllester PAC-Bayes bound, point prior (KL(Q||P)=0), i.i.d. trials",
	}
}

// Report is the complete calibration artifact: curve plus both families of
// false-kill bound. JSON is canonical (spec.md §6.5); ASCII is a secondary,
// non-canonical view.
type Report struct {
	Curve          Curve
	CredibleBounds *CredibleBounds
	PacBayes       *PacBayesSummary
	Summary        string
}

// GenerateReport assembles a Report from data: the curve over numBins
// buckets, and both bound families gated on predictions at or above
// threshold, using a Beta(1,1) uninformative prior and spec.md's default δ
// grid.
func GenerateReport(data []Data, numBins int, threshold float64) Report {
	curve := BuildCurve(data, numBins)
	credible := FalseKillCredibleBounds(data, threshold, 1.0, 1.0, DefaultDeltas)

	var pac *PacBayesSummary
	if credible != nil {
		pac = PacBayesErrorBounds(credible.Errors, credible.Trials, 0.0, DefaultDeltas)
	}

	return Report{
		Curve:          curve,
		CredibleBounds: credible,
		PacBayes:       pac,
		Summary:        summarize(credible, pac),
	}
}

func summarize(credible *CredibleBounds, pac *PacBayesSummary) string {
	if credible == nil {
		return "No kill recommendations in this window; false-kill bounds unavailable."
	}
	return fmt.Sprintf(
		"%d kill recommendations, %d observed false kills (rate %.4f); posterior mean %.4f, PAC-Bayes empirical %.4f.",
		credible.Trials, credible.Errors, credible.ObservedRate, credible.PosteriorMean, pac.EmpiricalError,
	)
}

// JSON renders the report in its canonical form (spec.md §6.5): a
// structured object that must round-trip on every numeric field to within
// 1e-10 (spec.md §8).
func (r Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// ASCII renders the report for terminal display; curveWidth bounds the
// curve's bar width.
func (r Report) ASCII(curveWidth int) string {
	var b strings.Builder
	b.WriteString("=== Calibration Report ===\n\n")
	b.WriteString("--- Calibration Curve ---\n")
	b.WriteString(r.Curve.ASCII(curveWidth))
	b.WriteString("\n--- False-Kill Credible Bounds ---\n")
	if r.CredibleBounds == nil {
		b.WriteString("  No kill recommendations; bounds unavailable.\n")
	} else {
		cb := r.CredibleBounds
		fmt.Fprintf(&b, "  Trials: %d  Errors: %d  Threshold: %.2f\n", cb.Trials, cb.Errors, cb.Threshold)
		fmt.Fprintf(&b, "  Prior Beta(%.2f,%.2f)  Posterior Beta(%.2f,%.2f)\n", cb.PriorAlpha, cb.PriorBeta, cb.PosteriorAlpha, cb.PosteriorBeta)
		fmt.Fprintf(&b, "  Observed rate: %.4f  Posterior mean: %.4f\n", cb.ObservedRate, cb.PosteriorMean)
		for _, bound := range cb.Bounds {
			fmt.Fprintf(&b, "  Upper bound (1-delta=%.2f): %.4f\n", 1-bound.Delta, bound.Upper)
		}
	}
	b.WriteString("\n--- PAC-Bayes Bounds ---\n")
	if r.PacBayes == nil {
		b.WriteString("  No trials; PAC-Bayes bounds unavailable.\n")
	} else {
		pb := r.PacBayes
		fmt.Fprintf(&b, "  Trials: %d  Errors: %d  Empirical: %.4f  KL(Q||P): %.4f\n", pb.Trials, pb.Errors, pb.EmpiricalError, pb.KLQP)
		for _, bound := range pb.Bounds {
			fmt.Fprintf(&b, "  Upper bound (1-delta=%.2f): %.4f\n", 1-bound.Delta, bound.Upper)
		}
		fmt.Fprintf(&b, "  Assumptions: %s\n", pb.Assumptions)
	}
	b.WriteString("\n--- Summary ---\n")
	fmt.Fprintf(&b, "  %s\n", r.Summary)
	return b.String()
}

// SortedProcTypes returns the distinct, non-empty ProcType values present in
// data, sorted for deterministic stratified reporting.
func SortedProcTypes(data []Data) []string {
	seen := make(map[string]bool)
	for _, d := range data {
		if d.ProcType != "" {
			seen[d.ProcType] = true
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
