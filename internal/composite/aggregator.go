package composite

import (
	"math"
	"sort"

	"github.com/octoreflex/triaged/internal/mathx"
)

// ClassComponent is one weighted log-likelihood term in the four-class
// mixture.
type ClassComponent struct {
	Name          string
	Weight        float64 // mixture weight, need not be pre-normalized
	LogLikelihood float64
}

// LogBayesFactor combines per-class weighted log-likelihoods for the "bad"
// classes against the "good" classes into a single log Bayes factor via
// log-sum-exp of the weighted components.
func LogBayesFactor(bad, good []ClassComponent) float64 {
	return mixtureLogSumExp(bad) - mixtureLogSumExp(good)
}

func mixtureLogSumExp(components []ClassComponent) float64 {
	if len(components) == 0 {
		return math.Inf(-1)
	}
	terms := make([]float64, len(components))
	for i, c := range components {
		w := c.Weight
		if w <= 0 {
			terms[i] = math.Inf(-1)
			continue
		}
		terms[i] = math.Log(w) + c.LogLikelihood
	}
	return mathx.LogSumExp(terms)
}

// NeedsCompositeTest implements spec.md §4.9's trigger rule: the core uses
// the composite path only when the simple SPRT log-BF is ambiguous
// (|simpleLogBF| < 1.5) and either posterior entropy > 1 nat or parameter
// uncertainty > 0.3. Otherwise the simple path suffices.
func NeedsCompositeTest(simpleLogBF, entropy, paramUncertainty float64) bool {
	ambiguous := math.Abs(simpleLogBF) < 1.5
	return ambiguous && (entropy > 1.0 || paramUncertainty > 0.3)
}

// Term is one named log-Bayes-factor contribution accumulated by an
// EvidenceAggregator.
type Term struct {
	Name  string
	LogBF float64
}

// EvidenceAggregator accumulates named log-BF terms from independent
// evidence sources (SPRT, GLR, the four-class mixture, detector quorum)
// and exposes their combined e-value plus the top-N contributors by
// absolute magnitude.
type EvidenceAggregator struct {
	terms []Term
}

// NewEvidenceAggregator returns an empty aggregator.
func NewEvidenceAggregator() *EvidenceAggregator {
	return &EvidenceAggregator{}
}

// Add records one named log-BF contribution. Later calls with the same
// name replace the earlier value, so callers can re-evaluate a term each
// tick without accumulating duplicates.
func (e *EvidenceAggregator) Add(name string, logBF float64) {
	for i, t := range e.terms {
		if t.Name == name {
			e.terms[i].LogBF = logBF
			return
		}
	}
	e.terms = append(e.terms, Term{Name: name, LogBF: logBF})
}

// CombinedLogBF sums every recorded term (independent log-BFs combine
// additively).
func (e *EvidenceAggregator) CombinedLogBF() float64 {
	var sum float64
	for _, t := range e.terms {
		sum += t.LogBF
	}
	return sum
}

// CombinedEValue returns exp(CombinedLogBF()), capped at 1e15.
func (e *EvidenceAggregator) CombinedEValue() float64 {
	v := math.Exp(e.CombinedLogBF())
	if v > 1e15 {
		return 1e15
	}
	return v
}

// TopContributors returns the n terms with the largest |LogBF|, descending.
func (e *EvidenceAggregator) TopContributors(n int) []Term {
	sorted := append([]Term(nil), e.terms...)
	sort.Slice(sorted, func(i, j int) bool {
		return math.Abs(sorted[i].LogBF) > math.Abs(sorted[j].LogBF)
	})
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

// Terms returns every recorded term, in insertion order.
func (e *EvidenceAggregator) Terms() []Term {
	out := make([]Term, len(e.terms))
	copy(out, e.terms)
	return out
}
