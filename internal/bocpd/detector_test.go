package bocpd

import (
	"math"
	"testing"
)

func TestRunLengthDistributionNormalized(t *testing.T) {
	d, err := New(DefaultConfig(), NewNormalGamma(0, 1, 1, 1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, x := range []float64{1.0, 1.1, 0.9, 1.05, 0.95, 20.0, 21.0} {
		r := d.Update(x)
		if r.ChangePointProbability < 0 || r.ChangePointProbability > 1 {
			t.Fatalf("change_point_probability out of range: %v", r.ChangePointProbability)
		}
		if math.Abs(d.RunLengthSum()-1.0) > 1e-6 {
			t.Fatalf("Σp(r) = %v, want 1", d.RunLengthSum())
		}
	}
}

// TestPoissonGammaDetectsLevelShift is spec.md §8 scenario 2: Poisson-Gamma
// model with hazard_rate=0.1, prior α=1, β=0.2 (prior mean 5). Feed 5 values
// of 5.0, then 5 values of 20.0. Expect the maximum change_point_probability
// over the second half to exceed 0.30.
func TestPoissonGammaDetectsLevelShift(t *testing.T) {
	cfg := Config{HazardRate: 0.1, MaxRunLength: 64, MaxConsecutiveSkipsBeforeStale: 20}
	d, err := New(cfg, NewPoissonGamma(1, 0.2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	xs := []float64{5, 5, 5, 5, 5, 20, 20, 20, 20, 20}
	results := d.ProcessBatch(xs)

	var maxCP float64
	for _, r := range results[5:] {
		if r.ChangePointProbability > maxCP {
			maxCP = r.ChangePointProbability
		}
	}
	if maxCP <= 0.30 {
		t.Fatalf("max change_point_probability over second half = %v, want > 0.30", maxCP)
	}
}

func TestUpdateSkipsNonFiniteObservation(t *testing.T) {
	d, err := New(DefaultConfig(), NewNormalGamma(0, 1, 1, 1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	before := d.RunLengthSum()
	r := d.Update(math.NaN())
	if !r.Skipped {
		t.Fatalf("expected Skipped=true for NaN observation")
	}
	if d.ConsecutiveSkips() != 1 {
		t.Fatalf("ConsecutiveSkips = %d, want 1", d.ConsecutiveSkips())
	}
	if math.Abs(d.RunLengthSum()-before) > 1e-12 {
		t.Fatalf("state mutated on skip: before=%v after=%v", before, d.RunLengthSum())
	}
}

func TestStaleAfterMaxConsecutiveSkips(t *testing.T) {
	cfg := Config{HazardRate: 0.1, MaxRunLength: 16, MaxConsecutiveSkipsBeforeStale: 3}
	d, err := New(cfg, NewNormalGamma(0, 1, 1, 1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 3; i++ {
		d.Update(math.NaN())
	}
	if !d.Stale {
		t.Fatalf("expected detector to be Stale after %d consecutive skips", cfg.MaxConsecutiveSkipsBeforeStale)
	}
}

func TestConsecutiveSkipsResetsOnGoodUpdate(t *testing.T) {
	d, err := New(DefaultConfig(), NewNormalGamma(0, 1, 1, 1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.Update(math.NaN())
	d.Update(1.0)
	if d.ConsecutiveSkips() != 0 {
		t.Fatalf("ConsecutiveSkips = %d, want 0 after a good update", d.ConsecutiveSkips())
	}
}

func TestMaxRunLengthTruncation(t *testing.T) {
	cfg := Config{HazardRate: 0.2, MaxRunLength: 5, MaxConsecutiveSkipsBeforeStale: 20}
	d, err := New(cfg, NewBetaBernoulli(1, 1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 50; i++ {
		d.Update(1.0)
		if len(d.logRunLength) > cfg.MaxRunLength+1 {
			t.Fatalf("run length vector not truncated: len=%d", len(d.logRunLength))
		}
		if math.Abs(d.RunLengthSum()-1.0) > 1e-6 {
			t.Fatalf("Σp(r) = %v after truncation, want 1", d.RunLengthSum())
		}
	}
}

func TestDetectChangePoints(t *testing.T) {
	results := []Result{
		{ChangePointProbability: 0.1},
		{ChangePointProbability: 0.5},
		{ChangePointProbability: 0.05},
		{ChangePointProbability: 0.9},
	}
	cps := DetectChangePoints(results, 0.3)
	if len(cps) != 2 {
		t.Fatalf("expected 2 change points, got %d", len(cps))
	}
	if cps[0].Index != 1 || cps[1].Index != 3 {
		t.Fatalf("unexpected change point indices: %+v", cps)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cases := []Config{
		{HazardRate: 0, MaxRunLength: 10, MaxConsecutiveSkipsBeforeStale: 5},
		{HazardRate: 1, MaxRunLength: 10, MaxConsecutiveSkipsBeforeStale: 5},
		{HazardRate: 0.1, MaxRunLength: 0, MaxConsecutiveSkipsBeforeStale: 5},
	}
	for _, c := range cases {
		if _, err := New(c, NewNormalGamma(0, 1, 1, 1)); err != ErrInvalidConfig {
			t.Fatalf("config %+v: expected ErrInvalidConfig, got %v", c, err)
		}
	}
}
