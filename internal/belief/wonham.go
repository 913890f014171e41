package belief

// Generator is a continuous-time Markov generator (Q-matrix) over the four
// latent states: Rows[i][j] is the instantaneous transition rate i→j for
// i≠j, and Rows[i][i] = −Σ_{j≠i} Rows[i][j] so each row sums to zero.
type Generator struct {
	Rows [NumStates][NumStates]float64
}

// RowSums returns the sum of each row, which must be ≈0 for a valid
// generator — used by tests and by Validate.
func (g Generator) RowSums() [NumStates]float64 {
	var sums [NumStates]float64
	for i := 0; i < NumStates; i++ {
		var s float64
		for j := 0; j < NumStates; j++ {
			s += g.Rows[i][j]
		}
		sums[i] = s
	}
	return sums
}

// Validate reports whether every off-diagonal entry is non-negative and
// every row sums to ≈0 within tol.
func (g Generator) Validate(tol float64) bool {
	for i := 0; i < NumStates; i++ {
		for j := 0; j < NumStates; j++ {
			if i != j && g.Rows[i][j] < 0 {
				return false
			}
		}
	}
	for _, s := range g.RowSums() {
		if s > tol || s < -tol {
			return false
		}
	}
	return true
}

// DefaultGenerator builds a generator whose embedded jump chain matches
// DefaultLifecycle, scaled by a plausible per-second rate for process
// lifecycle transitions.
func DefaultGenerator(rate float64) Generator {
	t := DefaultLifecycle()
	var g Generator
	for i := 0; i < NumStates; i++ {
		var diag float64
		for j := 0; j < NumStates; j++ {
			if i == j {
				continue
			}
			g.Rows[i][j] = rate * t.Rows[i][j]
			diag += g.Rows[i][j]
		}
		g.Rows[i][i] = -diag
	}
	return g
}

// DiscretizeEuler converts a generator to a row-stochastic transition matrix
// over a step of dt using the first-order Euler approximation T ≈ I + Q·dt.
// Valid only for small dt; negative entries are clamped to zero and each row
// is renormalized.
func (g Generator) DiscretizeEuler(dt float64) Transition {
	var t Transition
	for i := 0; i < NumStates; i++ {
		var rowSum float64
		for j := 0; j < NumStates; j++ {
			v := g.Rows[i][j] * dt
			if i == j {
				v = 1 + v
			}
			if v < 0 {
				v = 0
			}
			t.Rows[i][j] = v
			rowSum += v
		}
		if rowSum > 0 {
			for j := 0; j < NumStates; j++ {
				t.Rows[i][j] /= rowSum
			}
		}
	}
	return t
}

// DiscretizeExpm converts a generator to a transition matrix via the
// truncated matrix-exponential series T = Σ_{k=0}^{terms-1} (Q·dt)^k / k!,
// which stays accurate for larger dt than the Euler approximation at the
// cost of terms matrix multiplications.
func (g Generator) DiscretizeExpm(dt float64, terms int) Transition {
	if terms < 1 {
		terms = 1
	}
	qdt := scale(g.Rows, dt)

	acc := identityMatrix()
	term := identityMatrix()
	for k := 1; k < terms; k++ {
		term = matMul(term, qdt)
		term = scale(term, 1.0/float64(k))
		acc = matAdd(acc, term)
	}

	var t Transition
	for i := 0; i < NumStates; i++ {
		var rowSum float64
		for j := 0; j < NumStates; j++ {
			v := acc[i][j]
			if v < 0 {
				v = 0
			}
			rowSum += v
		}
		if rowSum > 0 {
			for j := 0; j < NumStates; j++ {
				v := acc[i][j]
				if v < 0 {
					v = 0
				}
				t.Rows[i][j] = v / rowSum
			}
		}
	}
	return t
}

type mat4 [NumStates][NumStates]float64

func identityMatrix() mat4 {
	var m mat4
	for i := 0; i < NumStates; i++ {
		m[i][i] = 1
	}
	return m
}

func scale(m [NumStates][NumStates]float64, s float64) mat4 {
	var out mat4
	for i := 0; i < NumStates; i++ {
		for j := 0; j < NumStates; j++ {
			out[i][j] = m[i][j] * s
		}
	}
	return out
}

func matMul(a, b mat4) mat4 {
	var out mat4
	for i := 0; i < NumStates; i++ {
		for j := 0; j < NumStates; j++ {
			var s float64
			for k := 0; k < NumStates; k++ {
				s += a[i][k] * b[k][j]
			}
			out[i][j] = s
		}
	}
	return out
}

func matAdd(a, b mat4) mat4 {
	var out mat4
	for i := 0; i < NumStates; i++ {
		for j := 0; j < NumStates; j++ {
			out[i][j] = a[i][j] + b[i][j]
		}
	}
	return out
}

// ProbeOutcome is the likelihood contribution of a single Gittins-scheduled
// probe observation, supplied by the caller (internal/scheduler computes
// which probe to run; this package only consumes its resulting likelihood).
type ProbeOutcome struct {
	Likelihood ObservationLikelihood
	// Cost is the probe's resource cost, forwarded untouched for the
	// scheduler's reward accounting; FilterStep does not use it.
	Cost float64
}

// FilterResult bundles a continuous-time filtering step's output.
type FilterResult struct {
	Posterior    Belief
	Predicted    Belief
	EvidenceLogZ float64
	KLDivergence float64
}

// FilterStep advances belief over a continuous-time interval dt under
// generator g, then folds in an observation likelihood exactly like
// UpdateBelief. useExpm selects the truncated matrix-exponential
// discretization over the cheaper Euler one; expmTerms is ignored when
// useExpm is false.
func FilterStep(prior Belief, g Generator, dt float64, useExpm bool, expmTerms int, lik ObservationLikelihood, cfg UpdateConfig) (FilterResult, error) {
	var t Transition
	if useExpm {
		t = g.DiscretizeExpm(dt, expmTerms)
	} else {
		t = g.DiscretizeEuler(dt)
	}

	predicted := t.Predict(prior)

	res, err := UpdateBelief(prior, t, lik, cfg)
	if err != nil {
		return FilterResult{}, err
	}
	return FilterResult{
		Posterior:    res.Posterior,
		Predicted:    predicted,
		EvidenceLogZ: res.EvidenceLogZ,
		KLDivergence: res.KLDivergence,
	}, nil
}
