package providers

import (
	"context"
	"crypto/tls"
	"net/http"

	"github.com/advanced-rag/vector-gateway/config"
	"github.com/advanced-rag/vector-gateway/internal/rag"
)

func init() {
	RegisterEmbedder(config.TypeCaikit, NewCaikitEmbedder)
	RegisterReranker(config.TypeCaikit, NewCaikitReranker)
}

// Caikit NLP task endpoints, as served by Red Hat OpenShift AI and IBM
// watsonx model servers.
const (
	caikitEmbedPath      = "/api/v1/task/embedding"
	caikitEmbedBatchPath = "/api/v1/task/embedding-tasks"
	caikitRerankPath     = "/api/v1/task/rerank"
)

// caikitClient wraps the shared HTTP client with a transport that skips
// certificate verification. OpenShift AI model servers commonly present
// self-signed certificates on cluster-internal routes.
func caikitClient(client *http.Client) *http.Client {
	return &http.Client{
		Timeout: client.Timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
}

// CaikitEmbedder talks to a Caikit NLP embedding service. Single texts
// use the embedding task endpoint; larger inputs use the batch endpoint,
// split at the provider's batch limit. The API key is optional since
// cluster-internal Caikit routes often run unauthenticated.
type CaikitEmbedder struct {
	baseURL  string
	apiKey   string
	model    string
	maxBatch int
	client   *http.Client
}

// NewCaikitEmbedder builds an embedder for a caikit provider entry. The
// base URL and model are required; Caikit has no public default endpoint.
func NewCaikitEmbedder(p config.EmbeddingProvider, apiKey string, client *http.Client) (Embedder, error) {
	if p.BaseURL == "" {
		return nil, rag.Errorf(rag.KindConfig, "caikit embedder requires base_url")
	}
	if p.Model == "" {
		return nil, rag.Errorf(rag.KindConfig, "caikit embedder requires a model id")
	}
	maxBatch := p.MaxBatch
	if maxBatch <= 0 {
		maxBatch = config.DefaultMaxBatch
	}

	return &CaikitEmbedder{
		baseURL:  p.BaseURL,
		apiKey:   apiKey,
		model:    p.Model,
		maxBatch: maxBatch,
		client:   caikitClient(client),
	}, nil
}

// DefaultModel reports the configured model id.
func (e *CaikitEmbedder) DefaultModel() string { return e.model }

// Dimension is unknown for Caikit models until the first vector arrives.
func (e *CaikitEmbedder) Dimension() int { return 0 }

// Embed generates one vector per text, preserving order. Model overrides
// are ignored; Caikit serves the model registered under the configured id.
func (e *CaikitEmbedder) Embed(ctx context.Context, texts []string, opts EmbedOptions) (*EmbedResult, error) {
	result := &EmbedResult{Model: e.model}
	for start := 0; start < len(texts); start += e.maxBatch {
		end := start + e.maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		var (
			vectors [][]float32
			tokens  int
			err     error
		)
		if len(batch) == 1 {
			vectors, tokens, err = e.embedSingle(ctx, batch[0])
		} else {
			vectors, tokens, err = e.embedBatch(ctx, batch)
		}
		if err != nil {
			return nil, err
		}
		result.Vectors = append(result.Vectors, vectors...)
		result.TotalTokens += tokens
	}
	return result, nil
}

func (e *CaikitEmbedder) embedSingle(ctx context.Context, text string) ([][]float32, int, error) {
	payload := map[string]any{
		"inputs":   text,
		"model_id": e.model,
	}
	body, err := postJSON(ctx, e.client, joinURL(e.baseURL, caikitEmbedPath), e.apiKey, payload)
	if err != nil {
		return nil, 0, err
	}

	values := body.Get("result.data.values")
	if !values.IsArray() || len(values.Array()) == 0 {
		return nil, 0, rag.Errorf(rag.KindFormat, "caikit returned an empty embedding")
	}
	return [][]float32{floatVector(values)}, int(body.Get("input_token_count").Int()), nil
}

func (e *CaikitEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, int, error) {
	payload := map[string]any{
		"inputs":   batch,
		"model_id": e.model,
	}
	body, err := postJSON(ctx, e.client, joinURL(e.baseURL, caikitEmbedBatchPath), e.apiKey, payload)
	if err != nil {
		return nil, 0, err
	}

	items := body.Get("results.vectors").Array()
	if len(items) != len(batch) {
		return nil, 0, rag.Errorf(rag.KindFormat, "expected %d embeddings, got %d", len(batch), len(items))
	}
	vectors := make([][]float32, 0, len(items))
	for _, item := range items {
		values := item.Get("data.values")
		if !values.IsArray() || len(values.Array()) == 0 {
			return nil, 0, rag.Errorf(rag.KindFormat, "caikit returned an empty embedding")
		}
		vectors = append(vectors, floatVector(values))
	}
	return vectors, int(body.Get("input_token_count").Int()), nil
}

// CaikitReranker talks to a Caikit NLP rerank task backed by a
// cross-encoder model. Scores arrive pre-sorted, highest first, with
// index pointing at the original document position.
type CaikitReranker struct {
	baseURL      string
	apiKey       string
	model        string
	maxDocuments int
	client       *http.Client
}

// NewCaikitReranker builds a reranker for a caikit provider entry.
func NewCaikitReranker(p config.RerankProvider, apiKey string, client *http.Client) (Reranker, error) {
	if p.BaseURL == "" {
		return nil, rag.Errorf(rag.KindConfig, "caikit reranker requires base_url")
	}
	if p.Model == "" {
		return nil, rag.Errorf(rag.KindConfig, "caikit reranker requires a model id")
	}
	maxDocuments := p.MaxDocuments
	if maxDocuments <= 0 {
		maxDocuments = config.DefaultCaikitMaxDocuments
	}

	return &CaikitReranker{
		baseURL:      p.BaseURL,
		apiKey:       apiKey,
		model:        p.Model,
		maxDocuments: maxDocuments,
		client:       caikitClient(client),
	}, nil
}

// DefaultModel reports the configured model id.
func (r *CaikitReranker) DefaultModel() string { return r.model }

// Rerank orders documents by relevance to the query, most relevant
// first.
func (r *CaikitReranker) Rerank(ctx context.Context, query string, documents []string, topN int) (*RerankResult, error) {
	if len(documents) == 0 {
		return &RerankResult{Indices: []int{}, Model: r.model, Ranked: true}, nil
	}

	documents = truncateDocuments(documents, r.maxDocuments)
	if topN <= 0 || topN > len(documents) {
		topN = len(documents)
	}

	docs := make([]map[string]string, len(documents))
	for i, text := range documents {
		docs[i] = map[string]string{"text": text}
	}
	payload := map[string]any{
		"inputs": map[string]any{
			"query":     query,
			"documents": docs,
		},
		"model_id":   r.model,
		"parameters": map[string]any{"top_n": topN},
	}

	body, err := postJSON(ctx, r.client, joinURL(r.baseURL, caikitRerankPath), r.apiKey, payload)
	if err != nil {
		return nil, err
	}

	ranked := body.Get("result.scores").Array()
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	indices := make([]int, 0, len(ranked))
	scores := make([]float64, 0, len(ranked))
	for _, item := range ranked {
		indices = append(indices, int(item.Get("index").Int()))
		scores = append(scores, item.Get("score").Float())
	}
	return &RerankResult{Indices: indices, Scores: scores, Model: r.model, Ranked: true}, nil
}
