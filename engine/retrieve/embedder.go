package retrieve

import "context"

// Embedder embeds a query for the dense fetch paths (spec.md §4.5 step 2:
// "embed the query with the query: prefix; code queries use the code
// embedder"). Shaped identically to engine/index.Embedder so a single
// concrete implementation satisfies both at the composition root, without
// engine/retrieve importing engine/index.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedCode(ctx context.Context, code string) ([]float32, error)
}
