package providers

import (
	"context"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/advanced-rag/vector-gateway/config"
	"github.com/advanced-rag/vector-gateway/internal/rag"
)

func init() {
	RegisterEmbedder(config.TypeOpenAICompatible, NewOpenAIEmbedder)
	RegisterEmbedder(config.TypeOpenAI, NewOpenAIEmbedder)
}

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"

	// maxTokensPerBatch keeps one embeddings call comfortably inside
	// upstream request limits.
	maxTokensPerBatch = 3500

	// embedRPM is the request budget enforced client-side, matching the
	// published limit for text-embedding-3-small at the default tier.
	embedRPM = 3000
)

// openAIDimensions maps known OpenAI models to their vector width.
var openAIDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIEmbedder talks to OpenAI's embeddings endpoint or any server
// implementing the same API. Inputs are packed into batches bounded by
// both an item count and a token budget, and over-long inputs are
// truncated before sending. Safe for concurrent use.
type OpenAIEmbedder struct {
	baseURL           string
	apiKey            string
	model             string
	dimensions        int
	maxBatch          int
	maxTokensPerInput int
	client            *http.Client
	limiter           *rate.Limiter
	est               *rag.Estimator
}

// NewOpenAIEmbedder builds an embedder for an openai-compatible provider
// entry. The API key is required.
func NewOpenAIEmbedder(p config.EmbeddingProvider, apiKey string, client *http.Client) (Embedder, error) {
	if apiKey == "" {
		return nil, rag.Errorf(rag.KindConfig, "openai-compatible embedder requires an API key")
	}

	baseURL := p.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	model := p.Model
	if model == "" {
		model = config.DefaultEmbeddingModel
	}
	maxBatch := p.MaxBatch
	if maxBatch <= 0 {
		maxBatch = config.DefaultMaxBatch
	}
	maxTokens := p.MaxTokensPerInput
	if maxTokens <= 0 {
		maxTokens = config.DefaultMaxTokensPerInput
	}

	return &OpenAIEmbedder{
		baseURL:           baseURL,
		apiKey:            apiKey,
		model:             model,
		dimensions:        p.Dimensions,
		maxBatch:          maxBatch,
		maxTokensPerInput: maxTokens,
		client:            client,
		limiter:           rate.NewLimiter(rate.Limit(embedRPM/60), embedRPM),
		est:               rag.DefaultEstimator(),
	}, nil
}

// DefaultModel reports the configured model.
func (e *OpenAIEmbedder) DefaultModel() string { return e.model }

// Dimension reports the vector width: the configured dimensions override
// when set, otherwise the known width of the model, 0 for models not in
// the table.
func (e *OpenAIEmbedder) Dimension() int {
	if e.dimensions > 0 {
		return e.dimensions
	}
	return openAIDimensions[e.model]
}

// Embed generates one vector per input text, preserving input order.
// Texts longer than the per-input token limit are truncated by character
// ratio. A batch is flushed before it would exceed either the item cap
// or the per-call token budget.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string, opts EmbedOptions) (*EmbedResult, error) {
	model := opts.Model
	if model == "" {
		model = e.model
	}
	result := &EmbedResult{Model: model}
	if len(texts) == 0 {
		return result, nil
	}

	batch := make([]string, 0, e.maxBatch)
	batchTokens := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		vectors, tokens, err := e.callAPI(ctx, batch, model, opts.EncodingFormat)
		if err != nil {
			return err
		}
		if len(vectors) != len(batch) {
			return rag.Errorf(rag.KindFormat, "embedding count mismatch: sent %d texts, got %d vectors",
				len(batch), len(vectors))
		}
		result.Vectors = append(result.Vectors, vectors...)
		result.TotalTokens += tokens
		batch = batch[:0]
		batchTokens = 0
		return nil
	}

	for _, text := range texts {
		est := e.est.Estimate(text)
		if est > e.maxTokensPerInput {
			keep := len(text) * e.maxTokensPerInput / est
			if keep < 1 {
				keep = 1
			}
			text = text[:keep]
			est = e.est.Estimate(text)
		}
		if len(batch) > 0 && (len(batch) >= e.maxBatch || batchTokens+est > maxTokensPerBatch) {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		batch = append(batch, text)
		batchTokens += est
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *OpenAIEmbedder) callAPI(ctx context.Context, batch []string, model, encodingFormat string) ([][]float32, int, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, 0, rag.Wrap(rag.KindRemote, "waiting on embedding rate limit", err)
	}

	payload := map[string]any{
		"model": model,
		"input": batch,
	}
	if encodingFormat != "" {
		payload["encoding_format"] = encodingFormat
	}
	if e.dimensions > 0 {
		payload["dimensions"] = e.dimensions
	}

	body, err := postJSON(ctx, e.client, joinURL(e.baseURL, "/embeddings"), e.apiKey, payload)
	if err != nil {
		return nil, 0, err
	}

	data := body.Get("data")
	if !data.IsArray() {
		return nil, 0, rag.Errorf(rag.KindFormat, "embedding response has no data array")
	}
	vectors := make([][]float32, 0, len(batch))
	for _, item := range data.Array() {
		vectors = append(vectors, floatVector(item.Get("embedding")))
	}
	return vectors, int(body.Get("usage.total_tokens").Int()), nil
}
