package providers

import (
	"context"
	"net/http"

	"github.com/advanced-rag/vector-gateway/config"
	"github.com/advanced-rag/vector-gateway/internal/rag"
)

func init() {
	RegisterReranker(config.TypeJina, NewJinaReranker)
}

const defaultJinaBaseURL = "https://api.jina.ai"

// JinaReranker calls Jina AI's rerank API. The wire shape matches
// Cohere's except that some models report the score under "score"
// instead of "relevance_score"; parsing accepts both.
type JinaReranker struct {
	baseURL      string
	apiKey       string
	model        string
	maxDocuments int
	client       *http.Client
}

// NewJinaReranker builds a reranker for a jina provider entry.
func NewJinaReranker(p config.RerankProvider, apiKey string, client *http.Client) (Reranker, error) {
	if apiKey == "" {
		return nil, rag.Errorf(rag.KindConfig, "jina reranker requires an API key")
	}

	baseURL := p.BaseURL
	if baseURL == "" {
		baseURL = defaultJinaBaseURL
	}
	model := p.Model
	if model == "" {
		model = config.DefaultJinaModel
	}
	maxDocuments := p.MaxDocuments
	if maxDocuments <= 0 {
		maxDocuments = config.DefaultMaxDocuments
	}

	return &JinaReranker{
		baseURL:      baseURL,
		apiKey:       apiKey,
		model:        model,
		maxDocuments: maxDocuments,
		client:       client,
	}, nil
}

// DefaultModel reports the configured model.
func (r *JinaReranker) DefaultModel() string { return r.model }

// Rerank orders documents by relevance to the query, most relevant
// first. An empty query keeps the original order.
func (r *JinaReranker) Rerank(ctx context.Context, query string, documents []string, topN int) (*RerankResult, error) {
	if len(documents) == 0 {
		return &RerankResult{Indices: []int{}, Model: r.model, Ranked: true}, nil
	}
	if query == "" {
		return &RerankResult{Indices: passthroughIndices(len(documents), topN), Model: r.model}, nil
	}

	documents = truncateDocuments(documents, r.maxDocuments)

	payload := map[string]any{
		"model":     r.model,
		"query":     query,
		"documents": documents,
	}
	if topN > 0 {
		payload["top_n"] = topN
	}

	body, err := postJSON(ctx, r.client, joinURL(r.baseURL, "/v1/rerank"), r.apiKey, payload)
	if err != nil {
		return nil, err
	}
	indices, scores := parseRankedResults(body.Get("results"), topN)
	return &RerankResult{Indices: indices, Scores: scores, Model: r.model, Ranked: true}, nil
}
