package retrieve

import (
	"regexp"
	"strings"
)

// Strategy selects which vector-store fetch path a query takes
// (spec.md §4.5 "classify").
type Strategy string

const (
	StrategyDense  Strategy = "dense"
	StrategySparse Strategy = "sparse"
	StrategyHybrid Strategy = "hybrid"
)

// Classification is the (strategy, alpha) tuple the rule-based classifier
// returns; alpha weights dense vs sparse contribution for callers that want
// a single blended score outside of RRF fusion.
type Classification struct {
	Strategy Strategy
	Alpha    float64
}

var (
	versionLike  = regexp.MustCompile(`\b\d+\.\d+(\.\d+)?\b`)
	quotedLit    = regexp.MustCompile(`["'` + "`" + `][^"'` + "`" + `]+["'` + "`" + `]`)
	questionWord = regexp.MustCompile(`(?i)^(what|why|how|when|where|who|which)\b`)
	identLike    = regexp.MustCompile(`[A-Za-z][A-Za-z0-9]*(_[A-Za-z0-9]+)+|[a-z][A-Za-z0-9]*[A-Z][A-Za-z0-9]*`)
)

// Classify picks a retrieval strategy from surface features of query: its
// length, and the presence of entities/versions/quoted literals/question
// words (spec.md §4.5 step 1). Literal, version, and identifier tokens are
// lexical anchors a dense embedding tends to blur, so their presence pulls
// the strategy toward sparse/hybrid; an opening question word signals an
// open-ended semantic query, pulling toward dense.
func Classify(query string) Classification {
	q := strings.TrimSpace(query)
	words := strings.Fields(q)

	hasLexicalAnchor := versionLike.MatchString(q) || quotedLit.MatchString(q) || identLike.MatchString(q)
	isQuestion := questionWord.MatchString(q)

	switch {
	case hasLexicalAnchor && isQuestion:
		return Classification{Strategy: StrategyHybrid, Alpha: 0.5}
	case hasLexicalAnchor:
		return Classification{Strategy: StrategySparse, Alpha: 0.2}
	case isQuestion || len(words) > 6:
		return Classification{Strategy: StrategyDense, Alpha: 0.8}
	default:
		return Classification{Strategy: StrategyHybrid, Alpha: 0.5}
	}
}
