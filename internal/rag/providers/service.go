package providers

import (
	"context"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/advanced-rag/vector-gateway/internal/rag"
)

// ServiceEmbedder tries a dedicated embedding service before the direct
// provider. Any failure, including an unexpected response shape, falls
// back to the wrapped embedder; the service is an optimization, never a
// point of failure.
type ServiceEmbedder struct {
	url    string
	token  string
	inner  Embedder
	client *http.Client
}

// NewServiceEmbedder wraps inner so that calls go to the embedding
// service at url first.
func NewServiceEmbedder(url, token string, inner Embedder, timeout time.Duration) *ServiceEmbedder {
	return &ServiceEmbedder{
		url:    url,
		token:  token,
		inner:  inner,
		client: &http.Client{Timeout: timeout},
	}
}

// DefaultModel reports the wrapped provider's model.
func (e *ServiceEmbedder) DefaultModel() string { return e.inner.DefaultModel() }

// Dimension reports the wrapped provider's vector width.
func (e *ServiceEmbedder) Dimension() int { return e.inner.Dimension() }

// Embed posts the texts to the service and falls back to the direct
// provider when the call fails.
func (e *ServiceEmbedder) Embed(ctx context.Context, texts []string, opts EmbedOptions) (*EmbedResult, error) {
	if len(texts) == 0 {
		return e.inner.Embed(ctx, texts, opts)
	}

	vectors, err := e.callService(ctx, texts, opts)
	if err != nil {
		rag.GlobalLogger.Warn("embedding service call failed, using direct provider", "error", err)
		return e.inner.Embed(ctx, texts, opts)
	}

	model := opts.Model
	if model == "" {
		model = e.inner.DefaultModel()
	}
	return &EmbedResult{Vectors: vectors, Model: model}, nil
}

func (e *ServiceEmbedder) callService(ctx context.Context, texts []string, opts EmbedOptions) ([][]float32, error) {
	payload := map[string]any{"texts": texts}
	if opts.Model != "" {
		payload["model"] = opts.Model
	}
	if opts.EncodingFormat != "" {
		payload["encoding_format"] = opts.EncodingFormat
	}

	body, err := postJSON(ctx, e.client, joinURL(e.url, "/embed"), e.token, payload)
	if err != nil {
		return nil, err
	}

	raw := body.Get("vectors")
	if !raw.IsArray() {
		return nil, rag.Errorf(rag.KindFormat, "embedding service response has no vectors array")
	}
	items := raw.Array()
	if len(items) != len(texts) {
		return nil, rag.Errorf(rag.KindFormat, "embedding service returned %d vectors for %d texts",
			len(items), len(texts))
	}
	vectors := make([][]float32, 0, len(items))
	for _, item := range items {
		vectors = append(vectors, floatVector(item))
	}
	return vectors, nil
}

// Circuit breaker settings for the rerank service. Three consecutive
// failures open the breaker; while open, calls skip straight to the
// wrapped reranker instead of waiting out connection timeouts.
const (
	rerankBreakerFailures = 3
	rerankBreakerCooldown = 30 * time.Second
)

// ServiceReranker tries a dedicated rerank service before the direct
// provider, guarded by a circuit breaker so a dead service does not add
// its timeout to every search.
type ServiceReranker struct {
	url     string
	token   string
	inner   Reranker
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewServiceReranker wraps inner so that calls go to the rerank service
// at url first.
func NewServiceReranker(url, token string, inner Reranker, timeout time.Duration) *ServiceReranker {
	return &ServiceReranker{
		url:    url,
		token:  token,
		inner:  inner,
		client: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "rerank-service",
			Timeout: rerankBreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= rerankBreakerFailures
			},
		}),
	}
}

// DefaultModel reports the wrapped provider's model.
func (r *ServiceReranker) DefaultModel() string { return r.inner.DefaultModel() }

// Rerank posts the candidates to the service and falls back to the
// direct provider when the call fails or the breaker is open.
func (r *ServiceReranker) Rerank(ctx context.Context, query string, documents []string, topN int) (*RerankResult, error) {
	if len(documents) == 0 {
		return r.inner.Rerank(ctx, query, documents, topN)
	}

	ranked, err := r.breaker.Execute(func() (any, error) {
		return r.callService(ctx, query, documents, topN)
	})
	if err != nil {
		rag.GlobalLogger.Warn("rerank service call failed, using direct provider", "error", err)
		return r.inner.Rerank(ctx, query, documents, topN)
	}
	return ranked.(*RerankResult), nil
}

func (r *ServiceReranker) callService(ctx context.Context, query string, documents []string, topN int) (*RerankResult, error) {
	payload := map[string]any{
		"query":     query,
		"documents": documents,
	}
	if topN > 0 {
		payload["top_k"] = topN
	}

	body, err := postJSON(ctx, r.client, joinURL(r.url, "/rerank"), r.token, payload)
	if err != nil {
		return nil, err
	}

	raw := body.Get("indices")
	if !raw.IsArray() {
		return nil, rag.Errorf(rag.KindFormat, "rerank service response has no indices array")
	}

	result := &RerankResult{Model: "rerank-service", Ranked: true}
	for _, item := range raw.Array() {
		index := int(item.Int())
		if index < 0 || index >= len(documents) {
			return nil, rag.Errorf(rag.KindFormat, "rerank service returned index %d out of range", index)
		}
		result.Indices = append(result.Indices, index)
	}
	if scores := body.Get("scores"); scores.IsArray() && len(scores.Array()) == len(result.Indices) {
		for _, s := range scores.Array() {
			result.Scores = append(result.Scores, s.Float())
		}
	}
	if topN > 0 && len(result.Indices) > topN {
		result.Indices = result.Indices[:topN]
		if result.Scores != nil {
			result.Scores = result.Scores[:topN]
		}
	}
	return result, nil
}
