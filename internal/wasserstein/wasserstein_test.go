package wasserstein

import (
	"math"
	"testing"
)

// TestEqualSizeShift is spec.md §8 scenario 4: p=[1,2,3,4,5], q=[2,3,4,5,6]
// → W₁ = 1.0 exactly.
func TestEqualSizeShift(t *testing.T) {
	p := []float64{1, 2, 3, 4, 5}
	q := []float64{2, 3, 4, 5, 6}
	got := Distance(p, q, Interpolate)
	if math.Abs(got-1.0) > 1e-12 {
		t.Fatalf("W1 = %v, want 1.0 exactly", got)
	}
}

func TestDistanceZeroForIdenticalSamples(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5}
	if got := Distance(xs, xs, Interpolate); got != 0 {
		t.Fatalf("W1(x,x) = %v, want 0", got)
	}
}

func TestUnequalSizeInterpolateVsSubsampleAgreeRoughly(t *testing.T) {
	p := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	q := []float64{10, 11, 12, 13}
	interp := Distance(p, q, Interpolate)
	sub := Distance(p, q, Subsample)
	if interp <= 0 || sub <= 0 {
		t.Fatalf("expected positive distance for clearly shifted samples: interp=%v sub=%v", interp, sub)
	}
}

func TestClassifySeverityBoundaries(t *testing.T) {
	cases := []struct {
		ratio float64
		want  Severity
	}{
		{0.1, SeverityNone},
		{0.6, SeverityMinor},
		{0.85, SeverityModerate},
		{1.5, SeveritySignificant},
		{3.0, SeveritySevere},
	}
	for _, c := range cases {
		if got := ClassifySeverity(c.ratio); got != c.want {
			t.Fatalf("ClassifySeverity(%v) = %v, want %v", c.ratio, got, c.want)
		}
	}
}

func TestAdaptiveThresholdBoundedBelowByHalfFixed(t *testing.T) {
	cfg := ThresholdConfig{Fixed: 10, Adaptive: true, AdaptiveMultiplier: 2.5, DROTriggerMultiplier: 1.5}
	stable := []float64{5, 5, 5, 5, 5, 5, 5, 5}
	threshold := cfg.EffectiveThreshold(stable)
	if threshold < cfg.Fixed/2 {
		t.Fatalf("adaptive threshold %v fell below half of fixed %v", threshold, cfg.Fixed/2)
	}
}

func TestDROTriggersWhenDistanceExceedsMultiplier(t *testing.T) {
	m := NewMonitor(ThresholdConfig{Fixed: 1.0, DROTriggerMultiplier: 1.5}, Interpolate)
	baseline := []float64{0, 0, 0, 0, 0}
	current := []float64{10, 10, 10, 10, 10}
	res := m.Evaluate(baseline, current)
	if !res.DROTriggered {
		t.Fatalf("expected DRO trigger for distance=%v threshold=%v", res.Distance, res.Threshold)
	}
	if res.Severity != SeveritySevere {
		t.Fatalf("expected Severe severity, got %v", res.Severity)
	}
}

func TestEmptySampleReturnsZero(t *testing.T) {
	if got := Distance(nil, []float64{1, 2, 3}, Interpolate); got != 0 {
		t.Fatalf("Distance with empty sample = %v, want 0", got)
	}
}
