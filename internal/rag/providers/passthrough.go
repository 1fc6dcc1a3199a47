package providers

import (
	"context"
	"net/http"

	"github.com/advanced-rag/vector-gateway/config"
)

func init() {
	RegisterReranker(config.TypePassthrough, func(config.RerankProvider, string, *http.Client) (Reranker, error) {
		return PassthroughReranker{}, nil
	})
}

// PassthroughReranker keeps the original document order. It stands in
// when reranking is disabled and serves as the fallback whenever a
// configured reranker cannot run.
type PassthroughReranker struct{}

// DefaultModel reports "passthrough" so response metadata shows that no
// model ranked the results.
func (PassthroughReranker) DefaultModel() string { return "passthrough" }

// Rerank returns the first topN indices in input order with no scores.
func (PassthroughReranker) Rerank(_ context.Context, _ string, documents []string, topN int) (*RerankResult, error) {
	return &RerankResult{
		Indices: passthroughIndices(len(documents), topN),
		Model:   "passthrough",
	}, nil
}

// passthroughIndices returns 0..n-1 capped at topN (topN <= 0 keeps all).
func passthroughIndices(n, topN int) []int {
	if topN > 0 && topN < n {
		n = topN
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	return indices
}
