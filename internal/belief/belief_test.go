package belief

import (
	"math"
	"testing"
)

func assertValidBelief(t *testing.T, b Belief, minProb float64) {
	t.Helper()
	if math.Abs(b.Sum()-1.0) > 1e-9 {
		t.Fatalf("Σb = %v, want 1±1e-9", b.Sum())
	}
	for i, p := range b.Probs {
		if p < minProb {
			t.Fatalf("b[%d] = %v below min_prob %v", i, p, minProb)
		}
	}
}

func TestUpdateBeliefInvariants(t *testing.T) {
	prior := Uniform()
	lik := ObservationLikelihood{0.9, 0.3, 0.05, 0.01}
	res, err := UpdateBelief(prior, Identity(), lik, DefaultUpdateConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertValidBelief(t, res.Posterior, DefaultMinProb)
	if res.Posterior.Argmax() != StateUseful {
		t.Fatalf("expected Useful to dominate, got %v (%v)", res.Posterior.Argmax(), res.Posterior.Probs)
	}
	if res.KLDivergence < 0 {
		t.Fatalf("KL divergence must be non-negative, got %v", res.KLDivergence)
	}
}

func TestUpdateBeliefZeroEvidence(t *testing.T) {
	prior := Uniform()
	lik := ObservationLikelihood{0, 0, 0, 0}
	_, err := UpdateBelief(prior, Identity(), lik, DefaultUpdateConfig())
	if err != ErrZeroEvidence {
		t.Fatalf("expected ErrZeroEvidence, got %v", err)
	}
}

func TestUpdateBeliefInvalidInput(t *testing.T) {
	prior := Uniform()
	lik := ObservationLikelihood{math.NaN(), 0.5, 0.1, 0.1}
	_, err := UpdateBelief(prior, Identity(), lik, DefaultUpdateConfig())
	if err != ErrInvalidInput {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUpdateBeliefPreservesPriorOnFailure(t *testing.T) {
	prior := Uniform()
	lik := ObservationLikelihood{0, 0, 0, 0}
	_, err := UpdateBelief(prior, Identity(), lik, DefaultUpdateConfig())
	if err == nil {
		t.Fatalf("expected error")
	}
	// prior itself must be untouched — UpdateBelief takes it by value.
	assertValidBelief(t, prior, 0.2499999)
}

func TestTransitionPredictRowStochastic(t *testing.T) {
	tr := DefaultLifecycle()
	for i, row := range tr.Rows {
		var sum float64
		for _, p := range row {
			sum += p
		}
		if math.Abs(sum-1.0) > 1e-9 {
			t.Fatalf("row %d sums to %v, want 1", i, sum)
		}
	}
	prior := Uniform()
	predicted := tr.Predict(prior)
	assertValidBelief(t, predicted, 0)
}

func TestGeneratorRowSumsZero(t *testing.T) {
	g := DefaultGenerator(0.01)
	if !g.Validate(1e-9) {
		t.Fatalf("generator failed validation: rowsums=%v", g.RowSums())
	}
}

func TestDiscretizeEulerSmallDtMatchesExpm(t *testing.T) {
	g := DefaultGenerator(0.01)
	dt := 0.001
	euler := g.DiscretizeEuler(dt)
	expm := g.DiscretizeExpm(dt, 6)
	for i := 0; i < NumStates; i++ {
		for j := 0; j < NumStates; j++ {
			if math.Abs(euler.Rows[i][j]-expm.Rows[i][j]) > 1e-4 {
				t.Fatalf("euler vs expm mismatch at [%d][%d]: %v vs %v", i, j, euler.Rows[i][j], expm.Rows[i][j])
			}
		}
	}
}

func TestFilterStepInvariants(t *testing.T) {
	g := DefaultGenerator(0.05)
	prior := Uniform()
	lik := ObservationLikelihood{0.2, 0.2, 0.7, 0.1}
	res, err := FilterStep(prior, g, 1.0, true, 8, lik, DefaultUpdateConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertValidBelief(t, res.Posterior, DefaultMinProb)
	assertValidBelief(t, res.Predicted, 0)
}

func TestZombieIsAbsorbingUnderLifecycle(t *testing.T) {
	tr := DefaultLifecycle()
	b := Belief{Probs: [NumStates]float64{0, 0, 0, 1}}
	predicted := tr.Predict(b)
	if predicted.Probs[StateZombie] != 1 {
		t.Fatalf("zombie state should be absorbing, got %v", predicted.Probs)
	}
}

func TestEntropyMaximalAtUniform(t *testing.T) {
	u := Uniform()
	peaked := Belief{Probs: [NumStates]float64{0.97, 0.01, 0.01, 0.01}}
	if u.Entropy() <= peaked.Entropy() {
		t.Fatalf("uniform entropy %v should exceed peaked entropy %v", u.Entropy(), peaked.Entropy())
	}
}
