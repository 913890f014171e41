package composite

import (
	"math"
	"testing"
)

func TestWaldBoundaries(t *testing.T) {
	upper, lower := WaldBoundaries(0.05, 0.05)
	wantUpper := math.Log(0.95 / 0.05)
	wantLower := math.Log(0.05 / 0.95)
	if math.Abs(upper-wantUpper) > 1e-9 || math.Abs(lower-wantLower) > 1e-9 {
		t.Fatalf("boundaries = (%v,%v), want (%v,%v)", upper, lower, wantUpper, wantLower)
	}
}

func TestMixtureSPRTSuppressedBeforeMinObservations(t *testing.T) {
	cfg := DefaultSPRTConfig(0.1)
	cfg.MinObservations = 10
	s := NewMixtureSPRT(cfg)
	var res SPRTResult
	for i := 0; i < 5; i++ {
		res = s.Update(true)
	}
	if res.Verdict != Continue {
		t.Fatalf("expected Continue before MinObservations, got %v", res.Verdict)
	}
}

func TestMixtureSPRTFavorsH1UnderSustainedSuccess(t *testing.T) {
	cfg := DefaultSPRTConfig(0.05)
	cfg.MinObservations = 3
	s := NewMixtureSPRT(cfg)
	var res SPRTResult
	for i := 0; i < 30; i++ {
		res = s.Update(true)
	}
	if res.Verdict != FavorH1 {
		t.Fatalf("expected FavorH1 after sustained successes against a low null, got %v (logLambda=%v)", res.Verdict, res.LogLambda)
	}
}

func TestBinomialGLRMatchesNullAtObservedRate(t *testing.T) {
	res := BinomialGLR(5, 10, GLRConfig{P0: 0.5})
	if math.Abs(res.LogGLR) > 1e-9 {
		t.Fatalf("LogGLR = %v, want ~0 when observed rate equals null", res.LogGLR)
	}
}

func TestBinomialGLRPositiveWhenRateDiffersFromNull(t *testing.T) {
	res := BinomialGLR(9, 10, GLRConfig{P0: 0.1})
	if res.LogGLR <= 0 {
		t.Fatalf("expected positive LogGLR for a large deviation from null, got %v", res.LogGLR)
	}
	if res.EValue <= 0 {
		t.Fatalf("EValue must be positive, got %v", res.EValue)
	}
}

func TestLogBayesFactorCombinesWeightedComponents(t *testing.T) {
	bad := []ClassComponent{{Name: "bad1", Weight: 0.5, LogLikelihood: -1}}
	good := []ClassComponent{{Name: "good1", Weight: 0.5, LogLikelihood: -3}}
	bf := LogBayesFactor(bad, good)
	if bf <= 0 {
		t.Fatalf("expected positive log-BF favoring bad classes, got %v", bf)
	}
}

func TestNeedsCompositeTestTriggerRule(t *testing.T) {
	if !NeedsCompositeTest(0.5, 1.5, 0.1) {
		t.Fatalf("expected trigger: ambiguous logBF and high entropy")
	}
	if !NeedsCompositeTest(0.5, 0.1, 0.5) {
		t.Fatalf("expected trigger: ambiguous logBF and high parameter uncertainty")
	}
	if NeedsCompositeTest(0.5, 0.1, 0.1) {
		t.Fatalf("expected no trigger: ambiguous but neither entropy nor uncertainty high")
	}
	if NeedsCompositeTest(5.0, 2.0, 0.9) {
		t.Fatalf("expected no trigger: unambiguous logBF should skip the composite path regardless")
	}
}

func TestEvidenceAggregatorCombinesAndRanksTerms(t *testing.T) {
	agg := NewEvidenceAggregator()
	agg.Add("sprt", 1.0)
	agg.Add("glr", 2.5)
	agg.Add("quorum", -0.5)

	want := 1.0 + 2.5 - 0.5
	if math.Abs(agg.CombinedLogBF()-want) > 1e-9 {
		t.Fatalf("CombinedLogBF = %v, want %v", agg.CombinedLogBF(), want)
	}

	top := agg.TopContributors(2)
	if len(top) != 2 || top[0].Name != "glr" {
		t.Fatalf("TopContributors = %+v, want glr first", top)
	}
}

func TestEvidenceAggregatorAddReplacesSameName(t *testing.T) {
	agg := NewEvidenceAggregator()
	agg.Add("sprt", 1.0)
	agg.Add("sprt", 3.0)
	if len(agg.Terms()) != 1 {
		t.Fatalf("expected a single term after re-adding the same name, got %d", len(agg.Terms()))
	}
	if agg.CombinedLogBF() != 3.0 {
		t.Fatalf("CombinedLogBF = %v, want 3.0", agg.CombinedLogBF())
	}
}

func TestDetectorQuorumReachedWithDefaultConfig(t *testing.T) {
	q := NewDetectorQuorum(DefaultQuorumConfig())
	reports := []DetectorReport{
		{Detector: DetectorBOCPD, Flagged: true, HasData: true},
		{Detector: DetectorCTW, Flagged: true, HasData: true},
		{Detector: DetectorEVT, Flagged: false, HasData: true},
		{Detector: DetectorWasserstein, Flagged: false, HasData: true},
		{Detector: DetectorMartingale, Flagged: false, HasData: true},
	}
	res := q.Evaluate(reports)
	if !res.QuorumReached {
		t.Fatalf("expected quorum reached with 2 of 5 flagged (min=2), got %+v", res)
	}
	if res.Recalibrated {
		t.Fatalf("did not expect recalibration with full reporting coverage")
	}
}

func TestDetectorQuorumRecalibratesWithSparseReporting(t *testing.T) {
	q := NewDetectorQuorum(DefaultQuorumConfig())
	reports := []DetectorReport{
		{Detector: DetectorBOCPD, Flagged: true, HasData: true},
		{Detector: DetectorCTW, Flagged: false, HasData: false},
		{Detector: DetectorEVT, Flagged: false, HasData: false},
		{Detector: DetectorWasserstein, Flagged: false, HasData: false},
		{Detector: DetectorMartingale, Flagged: false, HasData: false},
	}
	res := q.Evaluate(reports)
	if !res.Recalibrated {
		t.Fatalf("expected recalibration with only 1 of 5 detectors reporting")
	}
	if res.EffectiveMin > res.ReportingCount {
		t.Fatalf("recalibrated EffectiveMin %d exceeds ReportingCount %d", res.EffectiveMin, res.ReportingCount)
	}
}

func TestQuorumResultLogBFZeroWhenNotReached(t *testing.T) {
	res := QuorumResult{FlaggedCount: 0, EffectiveMin: 2, QuorumReached: false}
	if res.LogBF() != 0 {
		t.Fatalf("expected zero log-BF when quorum not reached, got %v", res.LogBF())
	}
}
