package ctw

import (
	"math"
	"testing"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	cases := []Config{
		{Alphabet: 1, Depth: 4},
		{Alphabet: 5, Depth: 4},
		{Alphabet: 2, Depth: 0},
		{Alphabet: 2, Depth: 13},
	}
	for _, c := range cases {
		if _, err := New(c); err != ErrInvalidConfig {
			t.Fatalf("config %+v: expected ErrInvalidConfig, got %v", c, err)
		}
	}
}

// TestConstantSequenceIsPredictable is spec.md §8 scenario 3: binary config,
// depth 4, feed twenty zeros. Expect avg_logloss_bits < 0.5 and
// IsPredictable = true.
func TestConstantSequenceIsPredictable(t *testing.T) {
	p, err := New(Config{Alphabet: 2, Depth: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	symbols := make([]int, 20)
	p.ProcessBatch(symbols)

	f := p.Features()
	if f.AvgLogLossBits >= 0.5 {
		t.Fatalf("avg_logloss_bits = %v, want < 0.5", f.AvgLogLossBits)
	}
	if !f.IsPredictable {
		t.Fatalf("expected IsPredictable = true, got false (avg=%v)", f.AvgLogLossBits)
	}
}

func TestAvgLogLossBitsNonNegative(t *testing.T) {
	p, err := New(Config{Alphabet: 3, Depth: 3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	symbols := []int{0, 1, 2, 1, 0, 2, 2, 1, 0, 0}
	p.ProcessBatch(symbols)
	if f := p.Features(); f.AvgLogLossBits < 0 {
		t.Fatalf("avg_logloss_bits = %v, want >= 0", f.AvgLogLossBits)
	}
}

func TestRegretTracksCumulativeDifference(t *testing.T) {
	p, err := New(Config{Alphabet: 2, Depth: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var last Result
	for _, s := range []int{0, 0, 0, 1, 0, 0, 1, 0} {
		last = p.Update(s)
	}
	want := last.CumLogLossBits - last.CumBaselineBits
	if math.Abs(last.RegretBits-want) > 1e-9 {
		t.Fatalf("RegretBits = %v, want %v", last.RegretBits, want)
	}
}

func TestOutOfRangeSymbolIgnored(t *testing.T) {
	p, err := New(Config{Alphabet: 2, Depth: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Update(0)
	before := p.Features()
	p.Update(7) // out of range for Alphabet=2
	after := p.Features()
	if before != after {
		t.Fatalf("out-of-range symbol mutated state: before=%+v after=%+v", before, after)
	}
}

func TestDiscretizerBinary(t *testing.T) {
	d, err := NewDiscretizer(NewBinaryConfig(0.5))
	if err != nil {
		t.Fatalf("NewDiscretizer: %v", err)
	}
	if d.Discretize(0.1) != 0 {
		t.Fatalf("expected symbol 0 for 0.1")
	}
	if d.Discretize(0.9) != 1 {
		t.Fatalf("expected symbol 1 for 0.9")
	}
}

func TestDiscretizerTernary(t *testing.T) {
	d, err := NewDiscretizer(NewTernaryConfig(0.3, 0.7))
	if err != nil {
		t.Fatalf("NewDiscretizer: %v", err)
	}
	if d.Discretize(0.1) != 0 || d.Discretize(0.5) != 1 || d.Discretize(0.9) != 2 {
		t.Fatalf("ternary boundaries incorrect")
	}
}

func TestDiscretizerQuaternaryCPUPreset(t *testing.T) {
	d, err := NewDiscretizer(CPUQuaternary())
	if err != nil {
		t.Fatalf("NewDiscretizer: %v", err)
	}
	if d.AlphabetSize() != 4 {
		t.Fatalf("AlphabetSize = %d, want 4", d.AlphabetSize())
	}
	got := []int{d.Discretize(0.01), d.Discretize(0.10), d.Discretize(0.30), d.Discretize(0.80)}
	want := []int{0, 1, 2, 3}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDiscretizerConfigRejectsNonMonotonicThresholds(t *testing.T) {
	cfg := DiscretizerConfig{Mode: Ternary, Thresholds: []float64{0.7, 0.3}}
	if err := cfg.Validate(); err != ErrInvalidConfig {
		t.Fatalf("expected ErrInvalidConfig for non-monotonic thresholds, got %v", err)
	}
}
