package martingale

import (
	"math"
	"testing"
)

// TestAzumaOnlyKnownCase is spec.md §8 scenario 1: ten increments of exactly
// +1.0 with bound 1.0. Expect azuma_tail_bound = exp(-5) ≈ 0.006737947
// (±1e-3).
func TestAzumaOnlyKnownCase(t *testing.T) {
	a := New(Config{Alpha: 0.05, CMax: 1.0})
	var res Result
	for i := 0; i < 10; i++ {
		res = a.Update(1.0, -1) // no conditional variance supplied
	}
	want := math.Exp(-5)
	if math.Abs(res.AzumaBound-want) > 1e-3 {
		t.Fatalf("AzumaBound = %v, want %v (±1e-3)", res.AzumaBound, want)
	}
}

func TestFreedmanBoundUnavailableWithoutVariance(t *testing.T) {
	a := New(DefaultConfig())
	res := a.Update(1.0, -1)
	if !math.IsInf(res.FreedmanBound, 1) {
		t.Fatalf("expected FreedmanBound = +Inf without variance, got %v", res.FreedmanBound)
	}
}

func TestFreedmanBoundTighterWithLowVariance(t *testing.T) {
	a := New(DefaultConfig())
	var res Result
	for i := 0; i < 10; i++ {
		res = a.Update(1.0, 0.01)
	}
	if res.FreedmanBound >= res.AzumaBound {
		t.Fatalf("expected Freedman bound (%v) tighter than Azuma (%v) under low variance", res.FreedmanBound, res.AzumaBound)
	}
}

func TestEValueAndAnomalyScoreConsistent(t *testing.T) {
	a := New(DefaultConfig())
	var res Result
	for i := 0; i < 20; i++ {
		res = a.Update(2.0, -1)
	}
	wantScore := math.Log(res.EValue)
	wantScore = math.Min(math.Max(wantScore, 0), AnomalyScoreCap)
	if math.Abs(res.AnomalyScore-wantScore) > 1e-9 {
		t.Fatalf("AnomalyScore = %v, want %v", res.AnomalyScore, wantScore)
	}
	if res.EValue > EValueCap {
		t.Fatalf("EValue exceeded cap: %v", res.EValue)
	}
}

func TestAnomalyDetectedWhenTailBelowAlpha(t *testing.T) {
	a := New(Config{Alpha: 0.05, CMax: 1.0})
	var res Result
	for i := 0; i < 50; i++ {
		res = a.Update(1.0, -1)
	}
	if !res.AnomalyDetected {
		t.Fatalf("expected AnomalyDetected=true for a strong sustained drift, tail=%v", res.TailProbability)
	}
}

func TestNoDriftStaysUndetected(t *testing.T) {
	a := New(DefaultConfig())
	var res Result
	for i := 0; i < 20; i++ {
		x := 1.0
		if i%2 == 0 {
			x = -1.0
		}
		res = a.Update(x, -1)
	}
	if res.AnomalyDetected {
		t.Fatalf("expected AnomalyDetected=false for a zero-mean alternating sequence, tail=%v", res.TailProbability)
	}
}
