// Package gateway implements the upsert and search pipelines that sit
// between the HTTP surface and the embedding, rerank, and vector-store
// clients. All decisions about defaults, filtering, score normalization,
// and graceful degradation live here; the HTTP layer only binds JSON and
// maps error kinds to status codes.
package gateway

import (
	"context"
	"time"

	"github.com/advanced-rag/vector-gateway/config"
	"github.com/advanced-rag/vector-gateway/internal/rag"
	"github.com/advanced-rag/vector-gateway/internal/rag/providers"
	"github.com/advanced-rag/vector-gateway/internal/rag/vectordb"
)

// Gateway wires already-constructed provider and store clients into the
// request pipelines. It is safe for concurrent use; the config value is
// read-only after startup.
type Gateway struct {
	cfg      *config.RagConfig
	embedder providers.Embedder
	reranker providers.Reranker
	store    vectordb.VectorStore
	stats    *vectordb.StatsCache
	log      rag.Logger
}

// New builds a gateway around the given clients.
func New(cfg *config.RagConfig, embedder providers.Embedder, reranker providers.Reranker, store vectordb.VectorStore) *Gateway {
	return &Gateway{
		cfg:      cfg,
		embedder: embedder,
		reranker: reranker,
		store:    store,
		stats:    vectordb.NewStatsCache(),
		log:      rag.GlobalLogger,
	}
}

// Health reports liveness plus the active backend and its row count.
// Count is -1 when the backend cannot answer cheaply.
func (g *Gateway) Health(ctx context.Context) HealthResponse {
	return HealthResponse{
		Status:  "ok",
		Backend: g.store.Name(),
		Count:   g.store.Count(ctx),
	}
}

// resolveCollection falls back to the configured default collection when
// the request leaves it empty.
func (g *Gateway) resolveCollection(requested string) string {
	if requested != "" {
		return requested
	}
	return g.cfg.Settings.DefaultCollection
}

// withTimeout bounds one pipeline stage. A zero or negative budget leaves
// the caller's deadline in charge, which keeps tests with an empty config
// from running against an already-expired context.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// kindOr returns the classified kind of err, or fallback when nothing in
// the chain is classified.
func kindOr(err error, fallback rag.Kind) rag.Kind {
	if k := rag.KindOf(err); k != rag.KindUnknown {
		return k
	}
	return fallback
}

// classify tags unclassified errors, typically context deadlines, with a
// default kind so the HTTP boundary maps them predictably. Errors that
// already carry a kind pass through untouched.
func classify(err error, kind rag.Kind, msg string) error {
	if rag.KindOf(err) != rag.KindUnknown {
		return err
	}
	return rag.Wrap(kind, msg, err)
}
