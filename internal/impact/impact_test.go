package impact

import "testing"

func TestScoreZeroComponentsIsLowSeverity(t *testing.T) {
	res := Score(Components{})
	// The zero-value Supervisor is SupervisorUnknown, which weighs as
	// maximal (1.0), so only the supervisor term contributes.
	if res.Score != 0.15 {
		t.Fatalf("expected score 0.15 (supervisor term only) for empty components, got %v", res.Score)
	}
	if res.Severity != SeverityLow {
		t.Fatalf("expected SeverityLow, got %v", res.Severity)
	}
	if res.ElevatedDueToMissingData {
		t.Fatalf("did not expect elevation with no missing data")
	}
}

func TestScoreSaturatesAtOne(t *testing.T) {
	res := Score(Components{
		ListenPorts:           100,
		EstablishedConns:      100,
		OpenFDs:               1000,
		WriteModeFDs:          100,
		CriticalWriteCategory: 10,
		ChildCount:            100,
		Supervisor:            SupervisorAgent,
	})
	if res.Score != 1 {
		t.Fatalf("expected saturated score of 1, got %v", res.Score)
	}
	if res.Severity != SeverityCritical {
		t.Fatalf("expected SeverityCritical, got %v", res.Severity)
	}
}

func TestClassifySeverityBuckets(t *testing.T) {
	cases := []struct {
		score float64
		want  Severity
	}{
		{0.0, SeverityLow},
		{0.24, SeverityLow},
		{0.25, SeverityMedium},
		{0.49, SeverityMedium},
		{0.5, SeverityHigh},
		{0.74, SeverityHigh},
		{0.75, SeverityCritical},
		{1.0, SeverityCritical},
	}
	for _, c := range cases {
		if got := ClassifySeverity(c.score); got != c.want {
			t.Fatalf("ClassifySeverity(%v) = %v, want %v", c.score, got, c.want)
		}
	}
}

// TestMissingDataNeverLowersScore is spec.md §8's direct, testable
// invariant: a component that could not be measured must never make the
// result look safer than the same components with that field measured at
// zero.
func TestMissingDataNeverLowersScore(t *testing.T) {
	baseline := Components{
		ListenPorts:      0,
		EstablishedConns: 0,
		Supervisor:       SupervisorNone,
	}
	withMissing := baseline
	withMissing.MissingData = []MissingSource{"open_fds"}

	baselineResult := Score(baseline)
	missingResult := Score(withMissing)

	if missingResult.Score < baselineResult.Score {
		t.Fatalf("missing-data score (%v) is lower than the fully-measured-at-zero baseline (%v)", missingResult.Score, baselineResult.Score)
	}
	if !missingResult.ElevatedDueToMissingData {
		t.Fatalf("expected ElevatedDueToMissingData=true")
	}
}

func TestMissingDataNeverLowersScoreAgainstPartiallyPopulated(t *testing.T) {
	populated := Components{
		ListenPorts:      1,
		EstablishedConns: 2,
		OpenFDs:          10,
		WriteModeFDs:     1,
		Supervisor:       SupervisorCI,
	}
	withMissingWriteFDs := populated
	withMissingWriteFDs.WriteModeFDs = 0
	withMissingWriteFDs.MissingData = []MissingSource{"write_mode_fds"}

	if Score(withMissingWriteFDs).Score < Score(populated).Score {
		t.Fatalf("treating write_mode_fds as missing must not score lower than having measured it")
	}
}

func TestSupervisorWeightOrdering(t *testing.T) {
	levels := []SupervisorLevel{SupervisorNone, SupervisorTerminal, SupervisorIDE, SupervisorCI, SupervisorOrchestrator, SupervisorAgent}
	for i := 1; i < len(levels); i++ {
		if levels[i].weight() <= levels[i-1].weight() {
			t.Fatalf("expected strictly increasing supervisor weight, %v (%v) <= %v (%v)", levels[i], levels[i].weight(), levels[i-1], levels[i-1].weight())
		}
	}
}

func TestSupervisorUnknownTreatedAsMaximal(t *testing.T) {
	if SupervisorUnknown.weight() != SupervisorAgent.weight() {
		t.Fatalf("expected Unknown supervisor to be treated as maximally uncertain, weight=%v want %v", SupervisorUnknown.weight(), SupervisorAgent.weight())
	}
}

func TestSortedMissingIsDeterministic(t *testing.T) {
	c := Components{MissingData: []MissingSource{"write_mode_fds", "critical_write", "open_fds"}}
	sorted := SortedMissing(c)
	if len(sorted) != 3 || sorted[0] != "critical_write" || sorted[1] != "open_fds" || sorted[2] != "write_mode_fds" {
		t.Fatalf("SortedMissing not in lexical order: %v", sorted)
	}
}
