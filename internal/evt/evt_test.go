package evt

import (
	"math"
	"math/rand"
	"sort"
	"testing"
)

func exponentialSample(n int, rate float64, seed int64) []float64 {
	r := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = -math.Log(1-r.Float64()) / rate
	}
	sort.Float64s(out)
	return out
}

func TestClassifyTail(t *testing.T) {
	cases := []struct {
		xi   float64
		want TailType
	}{
		{-0.5, TailLight},
		{0.0, TailExponential},
		{0.05, TailExponential},
		{0.2, TailHeavy},
		{0.5, TailVeryHeavy},
	}
	for _, c := range cases {
		if got := ClassifyTail(c.xi); got != c.want {
			t.Fatalf("ClassifyTail(%v) = %v, want %v", c.xi, got, c.want)
		}
	}
}

func TestFitPWMExponentialCase(t *testing.T) {
	data := exponentialSample(2000, 1.0, 42)
	threshold := SelectThresholdFixed(data, 0.90)
	fit, err := FitPWM(data, threshold)
	if err != nil {
		t.Fatalf("FitPWM: %v", err)
	}
	if math.Abs(fit.Xi) > 0.25 {
		t.Fatalf("expected ξ near 0 for exponential tail, got %v", fit.Xi)
	}
	if fit.Sigma <= 0 {
		t.Fatalf("sigma must be positive, got %v", fit.Sigma)
	}
}

func TestFitPWMInsufficientData(t *testing.T) {
	data := []float64{1, 2, 3}
	_, err := FitPWM(data, 2.9)
	if err != ErrInsufficientData {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestFitMLECloseToStableNeighborhoodOfPWM(t *testing.T) {
	data := exponentialSample(1000, 1.0, 7)
	threshold := SelectThresholdFixed(data, 0.85)
	pwm, err := FitPWM(data, threshold)
	if err != nil {
		t.Fatalf("FitPWM: %v", err)
	}
	mle, err := FitMLE(data, threshold, DefaultMLEConfig())
	if err != nil {
		t.Fatalf("FitMLE: %v", err)
	}
	if math.Abs(mle.Xi-pwm.Xi) > 0.3 {
		t.Fatalf("MLE xi=%v diverged too far from PWM xi=%v", mle.Xi, pwm.Xi)
	}
	if mle.Sigma <= 0 {
		t.Fatalf("MLE sigma must stay positive, got %v", mle.Sigma)
	}
}

func TestCVaRInfiniteWhenXiAtLeastOne(t *testing.T) {
	f := Fit{Threshold: 0, Xi: 1.2, Sigma: 1.0}
	if !math.IsInf(f.CVaR(0.95), 1) {
		t.Fatalf("expected +Inf CVaR for xi >= 1")
	}
}

func TestReturnLevelMonotonicInM(t *testing.T) {
	f := Fit{Threshold: 10, Xi: 0.1, Sigma: 2.0}
	low := f.ReturnLevel(10, 0.1)
	high := f.ReturnLevel(1000, 0.1)
	if high <= low {
		t.Fatalf("return level should increase with return period: low=%v high=%v", low, high)
	}
}

func TestSelectThresholdStableFallsBackWithSparseData(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5}
	u := SelectThresholdStable(data)
	if u < 1 || u > 5 {
		t.Fatalf("threshold %v out of data range", u)
	}
}
