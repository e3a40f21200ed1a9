package retrieve

// AbstentionReason names why the Layer-1 detector recommends abstaining
// (spec.md §4.5 step 5).
type AbstentionReason string

const (
	ReasonNoResults       AbstentionReason = "no_results"
	ReasonLowScore        AbstentionReason = "low_retrieval_score"
	ReasonNoScoreGap      AbstentionReason = "no_score_gap"
	ReasonNone            AbstentionReason = ""
	defaultMinScore       = 0.3
	defaultGapThreshold   = 0.5
	defaultMinScoreGap    = 0.1

	// noScoreGapConfidence is the fixed confidence reported for
	// ReasonNoScoreGap (spec.md §8's seed scenario: scores [0.42, 0.41,
	// 0.40] with default thresholds yields confidence=0.7), the same way
	// ReasonNoResults always reports a fixed 1.0 rather than a
	// gap-derived value — the gap itself is already the trigger, not a
	// further confidence signal.
	noScoreGapConfidence = 0.7
)

// AbstentionPolicy holds the thresholds spec.md §4.5 names, defaulted by
// NewAbstentionPolicy.
type AbstentionPolicy struct {
	MinRetrievalScore  float64
	GapDetectionThresh float64
	MinScoreGap        float64
}

// DefaultAbstentionPolicy matches spec.md §4.5's defaults.
var DefaultAbstentionPolicy = AbstentionPolicy{
	MinRetrievalScore:  defaultMinScore,
	GapDetectionThresh: defaultGapThreshold,
	MinScoreGap:        defaultMinScoreGap,
}

// AbstentionDecision is the Layer-1 detector's verdict.
type AbstentionDecision struct {
	ShouldAbstain bool
	Reason        AbstentionReason
	Confidence    float64
	Details       string
}

// Abstain examines the top-k fused/reranked scores (highest first) and
// decides whether the caller should present "I don't know" instead of
// these results, per spec.md §4.5 step 5's three-rule policy.
func Abstain(policy AbstentionPolicy, scores []float64) AbstentionDecision {
	if len(scores) == 0 {
		return AbstentionDecision{ShouldAbstain: true, Reason: ReasonNoResults, Confidence: 1.0, Details: "no candidates returned"}
	}

	top := scores[0]
	if top < policy.MinRetrievalScore {
		return AbstentionDecision{
			ShouldAbstain: true,
			Reason:        ReasonLowScore,
			Confidence:    1 - top,
			Details:       "top score below minRetrievalScore",
		}
	}

	if len(scores) > 1 && top < policy.GapDetectionThresh {
		gap := top - scores[1]
		if gap < policy.MinScoreGap {
			return AbstentionDecision{
				ShouldAbstain: true,
				Reason:        ReasonNoScoreGap,
				Confidence:    noScoreGapConfidence,
				Details:       "insufficient separation between top two results",
			}
		}
	}

	return AbstentionDecision{ShouldAbstain: false, Reason: ReasonNone, Confidence: top}
}
