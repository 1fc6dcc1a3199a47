package providers

import (
	"context"
	"net/http"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/advanced-rag/vector-gateway/config"
	"github.com/advanced-rag/vector-gateway/internal/rag"
)

func init() {
	RegisterEmbedder(config.TypeCohere, NewCohereEmbedder)
	RegisterReranker(config.TypeCohere, NewCohereReranker)
}

const (
	defaultCohereBaseURL    = "https://api.cohere.com"
	defaultCohereEmbedModel = "embed-english-v3.0"
)

// Cohere input types. Documents being stored and queries being searched
// embed differently; pass the matching type in EmbedOptions.
const (
	InputTypeDocument = "search_document"
	InputTypeQuery    = "search_query"
)

var cohereDimensions = map[string]int{
	"embed-english-v3.0":            1024,
	"embed-multilingual-v3.0":       1024,
	"embed-english-light-v3.0":      384,
	"embed-multilingual-light-v3.0": 384,
}

// CohereEmbedder calls Cohere's v1 embed API. Batches are positional
// slices capped at the provider's batch limit; inputs over the token
// limit are truncated server-side ("END").
type CohereEmbedder struct {
	baseURL  string
	apiKey   string
	model    string
	maxBatch int
	client   *http.Client
}

// NewCohereEmbedder builds an embedder for a cohere provider entry.
func NewCohereEmbedder(p config.EmbeddingProvider, apiKey string, client *http.Client) (Embedder, error) {
	if apiKey == "" {
		return nil, rag.Errorf(rag.KindConfig, "cohere embedder requires an API key")
	}

	baseURL := p.BaseURL
	if baseURL == "" {
		baseURL = defaultCohereBaseURL
	}
	model := p.Model
	if model == "" {
		model = defaultCohereEmbedModel
	}
	maxBatch := p.MaxBatch
	if maxBatch <= 0 {
		maxBatch = config.DefaultCohereMaxBatch
	}

	return &CohereEmbedder{
		baseURL:  baseURL,
		apiKey:   apiKey,
		model:    model,
		maxBatch: maxBatch,
		client:   client,
	}, nil
}

// DefaultModel reports the configured model.
func (e *CohereEmbedder) DefaultModel() string { return e.model }

// Dimension reports the vector width of known Cohere models, 0 otherwise.
func (e *CohereEmbedder) Dimension() int { return cohereDimensions[e.model] }

// Embed generates one vector per text, preserving order. InputType
// defaults to search_document.
func (e *CohereEmbedder) Embed(ctx context.Context, texts []string, opts EmbedOptions) (*EmbedResult, error) {
	model := opts.Model
	if model == "" {
		model = e.model
	}
	inputType := opts.InputType
	if inputType == "" {
		inputType = InputTypeDocument
	}

	result := &EmbedResult{Model: model}
	for start := 0; start < len(texts); start += e.maxBatch {
		end := start + e.maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		vectors, tokens, err := e.callAPI(ctx, texts[start:end], model, inputType)
		if err != nil {
			return nil, err
		}
		if len(vectors) != end-start {
			return nil, rag.Errorf(rag.KindFormat, "embedding count mismatch: sent %d texts, got %d vectors",
				end-start, len(vectors))
		}
		result.Vectors = append(result.Vectors, vectors...)
		result.TotalTokens += tokens
	}
	return result, nil
}

func (e *CohereEmbedder) callAPI(ctx context.Context, batch []string, model, inputType string) ([][]float32, int, error) {
	payload := map[string]any{
		"model":           model,
		"texts":           batch,
		"input_type":      inputType,
		"embedding_types": []string{"float"},
		"truncate":        "END",
	}

	body, err := postJSON(ctx, e.client, joinURL(e.baseURL, "/v1/embed"), e.apiKey, payload)
	if err != nil {
		return nil, 0, err
	}

	// embedding_types moves the vectors under embeddings.float; older
	// deployments return embeddings as a bare array.
	embeddings := body.Get("embeddings.float")
	if !embeddings.IsArray() {
		embeddings = body.Get("embeddings")
	}
	if !embeddings.IsArray() {
		return nil, 0, rag.Errorf(rag.KindFormat, "embed response has no embeddings array")
	}

	vectors := make([][]float32, 0, len(batch))
	for _, item := range embeddings.Array() {
		vectors = append(vectors, floatVector(item))
	}
	tokens := int(body.Get("meta.billed_units.input_tokens").Int())
	return vectors, tokens, nil
}

// CohereReranker calls Cohere's v1 rerank API. Results are re-sorted by
// relevance score on the way in; the API does not guarantee order.
type CohereReranker struct {
	baseURL      string
	apiKey       string
	model        string
	maxDocuments int
	client       *http.Client
}

// NewCohereReranker builds a reranker for a cohere provider entry.
func NewCohereReranker(p config.RerankProvider, apiKey string, client *http.Client) (Reranker, error) {
	if apiKey == "" {
		return nil, rag.Errorf(rag.KindConfig, "cohere reranker requires an API key")
	}

	baseURL := p.BaseURL
	if baseURL == "" {
		baseURL = defaultCohereBaseURL
	}
	model := p.Model
	if model == "" {
		model = config.DefaultRerankModel
	}
	maxDocuments := p.MaxDocuments
	if maxDocuments <= 0 {
		maxDocuments = config.DefaultMaxDocuments
	}

	return &CohereReranker{
		baseURL:      baseURL,
		apiKey:       apiKey,
		model:        model,
		maxDocuments: maxDocuments,
		client:       client,
	}, nil
}

// DefaultModel reports the configured model.
func (r *CohereReranker) DefaultModel() string { return r.model }

// Rerank orders documents by relevance to the query, most relevant
// first. An empty query keeps the original order.
func (r *CohereReranker) Rerank(ctx context.Context, query string, documents []string, topN int) (*RerankResult, error) {
	if len(documents) == 0 {
		return &RerankResult{Indices: []int{}, Model: r.model, Ranked: true}, nil
	}
	if query == "" {
		return &RerankResult{Indices: passthroughIndices(len(documents), topN), Model: r.model}, nil
	}

	documents = truncateDocuments(documents, r.maxDocuments)

	payload := map[string]any{
		"model":            r.model,
		"query":            query,
		"documents":        documents,
		"return_documents": false,
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

// parseRankedResults reads a Cohere-shaped results array and returns
// indices and scores sorted by descending relevance, capped at topN.
// Entries may carry the score as relevance_score or score.
func parseRankedResults(results gjson.Result, topN int) ([]int, []float64) {
	type ranked struct {
		index int
		score float64
	}
	items := make([]ranked, 0)
	for _, r := range results.Array() {
		score := r.Get("relevance_score")
		if !score.Exists() {
			score = r.Get("score")
		}
		items = append(items, ranked{
			index: int(r.Get("index").Int()),
			score: score.Float(),
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })

	if topN > 0 && len(items) > topN {
		items = items[:topN]
	}
	indices := make([]int, len(items))
	scores := make([]float64, len(items))
	for i, item := range items {
		indices[i] = item.index
		scores[i] = item.score
	}
	return indices, scores
}

// truncateDocuments caps the candidate list at the provider's document
// limit. Over-long lists are truncated, never rejected.
func truncateDocuments(documents []string, max int) []string {
	if max > 0 && len(documents) > max {
		rag.GlobalLogger.Warn("truncating rerank candidates", "documents", len(documents), "max", max)
		return documents[:max]
	}
	return documents
}
