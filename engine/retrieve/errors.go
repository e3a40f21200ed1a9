package retrieve

import "errors"

// ErrNoCandidates is returned by Rerank callers that need to distinguish
// "nothing to score" from a successful empty reranking.
var ErrNoCandidates = errors.New("retrieve: no candidates to rerank")
