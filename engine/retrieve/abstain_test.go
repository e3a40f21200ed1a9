package retrieve

import "testing"

func TestAbstainNoResultsAbstains(t *testing.T) {
	d := Abstain(DefaultAbstentionPolicy, nil)
	if !d.ShouldAbstain || d.Reason != ReasonNoResults {
		t.Fatalf("expected no_results abstention, got %+v", d)
	}
}

func TestAbstainLowTopScoreAbstains(t *testing.T) {
	d := Abstain(DefaultAbstentionPolicy, []float64{0.1, 0.05})
	if !d.ShouldAbstain || d.Reason != ReasonLowScore {
		t.Fatalf("expected low_retrieval_score abstention, got %+v", d)
	}
}

func TestAbstainNoScoreGapAbstains(t *testing.T) {
	// top is below GapDetectionThresh (0.5) and the gap to the runner-up is
	// under MinScoreGap (0.1).
	d := Abstain(DefaultAbstentionPolicy, []float64{0.45, 0.40})
	if !d.ShouldAbstain || d.Reason != ReasonNoScoreGap {
		t.Fatalf("expected no_score_gap abstention, got %+v", d)
	}
}

func TestAbstainNoScoreGapSeedScenarioMatchesFixedConfidence(t *testing.T) {
	// The literal seed scenario: scores [0.42, 0.41, 0.40] with default
	// thresholds must yield shouldAbstain=true, reason=no_score_gap,
	// confidence=0.7 exactly.
	d := Abstain(DefaultAbstentionPolicy, []float64{0.42, 0.41, 0.40})
	if !d.ShouldAbstain || d.Reason != ReasonNoScoreGap {
		t.Fatalf("expected no_score_gap abstention, got %+v", d)
	}
	if d.Confidence != 0.7 {
		t.Fatalf("expected fixed confidence 0.7 for no_score_gap, got %v", d.Confidence)
	}
}

func TestAbstainConfidentResultsDoNotAbstain(t *testing.T) {
	d := Abstain(DefaultAbstentionPolicy, []float64{0.9, 0.3})
	if d.ShouldAbstain {
		t.Fatalf("expected no abstention for a confident top score, got %+v", d)
	}
}

func TestAbstainHighScoreWithSmallGapStillAnswers(t *testing.T) {
	// top score clears GapDetectionThresh, so the gap rule never applies
	// even though the runner-up is close behind.
	d := Abstain(DefaultAbstentionPolicy, []float64{0.6, 0.55})
	if d.ShouldAbstain {
		t.Fatalf("expected no abstention when top score clears gap-detection threshold, got %+v", d)
	}
}
