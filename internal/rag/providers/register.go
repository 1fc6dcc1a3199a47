package providers

import (
	"net/http"
	"sync"

	"github.com/advanced-rag/vector-gateway/config"
	"github.com/advanced-rag/vector-gateway/internal/rag"
)

var (
	mu                sync.RWMutex
	embedderFactories = make(map[string]EmbedderFactory)
	rerankerFactories = make(map[string]RerankerFactory)
)

// RegisterEmbedder registers an embedder factory under a provider type.
// Later registrations replace earlier ones.
func RegisterEmbedder(providerType string, factory EmbedderFactory) {
	mu.Lock()
	defer mu.Unlock()
	embedderFactories[providerType] = factory
}

// RegisterReranker registers a reranker factory under a provider type.
func RegisterReranker(providerType string, factory RerankerFactory) {
	mu.Lock()
	defer mu.Unlock()
	rerankerFactories[providerType] = factory
}

func embedderFactory(providerType string) (EmbedderFactory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := embedderFactories[providerType]
	return f, ok
}

func rerankerFactory(providerType string) (RerankerFactory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := rerankerFactories[providerType]
	return f, ok
}

// BuildEmbedder resolves the active embedding provider into a ready
// client chain. When an embedding service URL is configured the direct
// provider is wrapped so the service is tried first and the direct
// backend serves as the fallback.
//
// A missing API key is a startup error for providers that require one;
// Caikit endpoints may run without authentication.
func BuildEmbedder(cfg *config.RagConfig) (Embedder, error) {
	p, err := cfg.ActiveEmbedding()
	if err != nil {
		return nil, err
	}

	factory, ok := embedderFactory(p.Type)
	if !ok {
		return nil, rag.Errorf(rag.KindConfig, "unknown embedding provider type %q", p.Type)
	}

	var apiKey string
	if p.Type == config.TypeCaikit {
		apiKey = config.ResolveAPIKey(p.APIKeyEnv)
	} else {
		apiKey, err = config.RequireEmbeddingKey(p)
		if err != nil {
			return nil, err
		}
	}

	client := &http.Client{Timeout: cfg.Timeouts.Embed()}
	embedder, err := factory(p, apiKey, client)
	if err != nil {
		return nil, err
	}

	if url := cfg.Services.EmbeddingServiceURL; url != "" {
		embedder = NewServiceEmbedder(url, cfg.Settings.ServiceToken(), embedder, cfg.Timeouts.Embed())
	}
	return embedder, nil
}

// BuildReranker resolves the active rerank provider. Reranking is never
// fatal: a disabled provider, a missing API key, or a missing base URL
// all degrade to the passthrough reranker with a warning, and a rerank
// service URL wraps whatever was resolved.
func BuildReranker(cfg *config.RagConfig) (Reranker, error) {
	var reranker Reranker = PassthroughReranker{}

	p, err := cfg.ActiveRerank()
	if err != nil {
		return nil, err
	}
	if p != nil {
		reranker, err = buildDirectReranker(cfg, p)
		if err != nil {
			return nil, err
		}
	}

	if url := cfg.Services.RerankServiceURL; url != "" {
		reranker = NewServiceReranker(url, cfg.Settings.ServiceToken(), reranker, cfg.Timeouts.Rerank())
	}
	return reranker, nil
}

func buildDirectReranker(cfg *config.RagConfig, p *config.RerankProvider) (Reranker, error) {
	factory, ok := rerankerFactory(p.Type)
	if !ok {
		return nil, rag.Errorf(rag.KindConfig, "unknown rerank provider type %q", p.Type)
	}

	var apiKey string
	switch p.Type {
	case config.TypeCaikit:
		if p.BaseURL == "" {
			rag.GlobalLogger.Warn("caikit rerank has no base_url, falling back to passthrough")
			return PassthroughReranker{}, nil
		}
		apiKey = config.ResolveAPIKey(p.APIKeyEnv)
	case config.TypePassthrough:
	default:
		key, err := config.RequireRerankKey(p)
		if err != nil {
			rag.GlobalLogger.Warn("rerank API key not set, falling back to passthrough",
				"provider", p.Type, "error", err)
			return PassthroughReranker{}, nil
		}
		apiKey = key
	}

	client := &http.Client{Timeout: cfg.Timeouts.Rerank()}
	return factory(*p, apiKey, client)
}
