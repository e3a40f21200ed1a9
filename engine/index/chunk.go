package index

import "math"

const (
	// chunkSize and chunkOverlap mirror spec.md §4.4's code-path chunker:
	// ~6000 chars per chunk, 500-char overlap, capped at 5 chunks so a huge
	// diff still costs a bounded number of embedding calls.
	chunkSize    = 6000
	chunkOverlap = 500
	maxChunks    = 5
)

// chunkCode splits patch into overlapping fixed char-count windows, since a
// diff has no sentence boundaries to respect.
func chunkCode(patch string) []string {
	if len(patch) <= chunkSize {
		return []string{patch}
	}

	var chunks []string
	step := chunkSize - chunkOverlap
	for start := 0; start < len(patch) && len(chunks) < maxChunks; start += step {
		end := start + chunkSize
		if end > len(patch) {
			end = len(patch)
		}
		chunks = append(chunks, patch[start:end])
		if end == len(patch) {
			break
		}
	}
	return chunks
}

// averageAndNormalize averages a set of equal-length embedding vectors and
// L2-normalizes the result, matching spec.md §4.4's "averaged then
// L2-normalized" chunk-reduction step.
func averageAndNormalize(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	dims := len(vecs[0])
	avg := make([]float64, dims)
	for _, v := range vecs {
		for i, x := range v {
			avg[i] += float64(x)
		}
	}
	n := float64(len(vecs))
	var norm float64
	for i := range avg {
		avg[i] /= n
		norm += avg[i] * avg[i]
	}
	norm = math.Sqrt(norm)

	out := make([]float32, dims)
	if norm == 0 {
		return out
	}
	for i, x := range avg {
		out[i] = float32(x / norm)
	}
	return out
}
