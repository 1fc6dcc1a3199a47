// Package providers implements the embedding and rerank backends the
// gateway can talk to. Each backend registers a factory for its wire
// protocol; the active provider named in the configuration is resolved
// into a concrete client exactly once, at startup. Request handling code
// only ever sees the Embedder and Reranker interfaces.
package providers

import (
	"context"
	"net/http"

	"github.com/advanced-rag/vector-gateway/config"
)

// EmbedOptions carry per-call overrides. The zero value uses the
// provider's configured defaults.
type EmbedOptions struct {
	// Model overrides the configured model for this call.
	Model string
	// EncodingFormat is forwarded to OpenAI-compatible endpoints
	// ("float" or "base64") when set.
	EncodingFormat string
	// InputType hints how the texts will be used. Cohere distinguishes
	// "search_document" (storage) from "search_query" (retrieval);
	// other providers ignore it.
	InputType string
}

// EmbedResult is the outcome of one Embed call. Vectors are positional:
// Vectors[i] embeds texts[i].
type EmbedResult struct {
	Vectors     [][]float32
	Model       string
	TotalTokens int
}

// RerankResult orders candidate documents by relevance. Indices refer to
// positions in the input document slice, most relevant first. Scores is
// nil when the backend does not report relevance scores. Ranked reports
// whether a model actually scored the documents; the passthrough
// reranker and every fallback path leave it false so responses can
// carry an honest reranked flag.
type RerankResult struct {
	Indices []int
	Scores  []float64
	Model   string
	Ranked  bool
}

// Embedder converts batches of text into vectors. Implementations handle
// their own batching and token limits internally.
type Embedder interface {
	Embed(ctx context.Context, texts []string, opts EmbedOptions) (*EmbedResult, error)

	// DefaultModel reports the model used when no override is given.
	DefaultModel() string

	// Dimension reports the vector width of the default model, or 0
	// when the provider cannot know it ahead of the first call.
	Dimension() int
}

// Reranker reorders documents by relevance to a query. topN caps the
// number of indices returned; topN <= 0 means all documents.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) (*RerankResult, error)

	// DefaultModel reports the model used for ranking.
	DefaultModel() string
}

// EmbedderFactory builds an embedder from its provider entry and the API
// key resolved for it.
type EmbedderFactory func(p config.EmbeddingProvider, apiKey string, client *http.Client) (Embedder, error)

// RerankerFactory builds a reranker from its provider entry and the API
// key resolved for it.
type RerankerFactory func(p config.RerankProvider, apiKey string, client *http.Client) (Reranker, error)
