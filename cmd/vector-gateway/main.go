// Command vector-gateway serves hybrid retrieval over a vector store:
// upsert with batched embedding, dense+lexical search with reranking and
// neighbor expansion, and collection statistics.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/advanced-rag/vector-gateway/config"
	"github.com/advanced-rag/vector-gateway/internal/gateway"
	"github.com/advanced-rag/vector-gateway/internal/httpapi"
	"github.com/advanced-rag/vector-gateway/internal/rag"
	"github.com/advanced-rag/vector-gateway/internal/rag/providers"
	"github.com/advanced-rag/vector-gateway/internal/rag/vectordb"
)

const (
	connectTimeout  = 30 * time.Second
	shutdownTimeout = 30 * time.Second

	// fallbackDim matches text-embedding-3-small when neither MILVUS_DIM
	// nor the embedder can name a dimension.
	fallbackDim = 1536
)

func main() {
	log := rag.GlobalLogger

	cfg, err := config.Load()
	if err != nil {
		log.Error("configuration failed", "error", err)
		os.Exit(1)
	}
	log.Info("configuration loaded", "source", cfg.Source)

	embedder, err := providers.BuildEmbedder(cfg)
	if err != nil {
		log.Error("embedding provider failed", "error", err)
		os.Exit(1)
	}
	reranker, err := providers.BuildReranker(cfg)
	if err != nil {
		log.Error("rerank provider failed", "error", err)
		os.Exit(1)
	}

	store, err := openStore(cfg, log)
	if err != nil {
		log.Error("vector store failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	prepareDefaultCollection(cfg, store, embedder, log)

	gw := gateway.New(cfg, embedder, reranker, store)

	if os.Getenv("GATEWAY_DEBUG") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewServer(cfg, gw).Router()

	srv := &http.Server{
		Addr:              cfg.Settings.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Timeouts.Request() + 10*time.Second,
	}

	go func() {
		log.Info("gateway listening",
			"addr", cfg.Settings.Addr,
			"backend", store.Name(),
			"default_collection", cfg.Settings.DefaultCollection,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", "error", err)
		os.Exit(1)
	}
	log.Info("gateway stopped")
}

// openStore opens the configured backend, falling back to the in-memory
// store when the primary is unreachable. GATEWAY_REQUIRE_BACKEND turns
// the fallback into a startup failure.
func openStore(cfg *config.RagConfig, log rag.Logger) (vectordb.VectorStore, error) {
	storeCfg := vectordb.Config{
		Address:  cfg.Settings.MilvusAddress(),
		Username: cfg.Settings.MilvusUser,
		Password: cfg.Settings.MilvusPassword,
		MaxDocs:  cfg.Settings.MaxDocs,
		Timeout:  connectTimeout,
	}

	backend := cfg.Settings.Backend
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	store, err := vectordb.Open(ctx, backend, storeCfg)
	if err == nil {
		return store, nil
	}
	if cfg.Settings.BackendRequired() || backend == "memory" {
		return nil, err
	}
	log.Warn("backend unavailable, falling back to memory store",
		"backend", backend, "error", err)
	return vectordb.Open(ctx, "memory", storeCfg)
}

// prepareDefaultCollection creates and loads the default Milvus
// collection up front so the first upsert doesn't pay index-build
// latency. Dimension resolution: MILVUS_DIM, then the embedder's default
// model, then fallbackDim. The memory backend sizes collections from the
// first insert instead.
func prepareDefaultCollection(cfg *config.RagConfig, store vectordb.VectorStore, embedder providers.Embedder, log rag.Logger) {
	if store.Name() != "milvus" {
		return
	}
	dim := cfg.Settings.MilvusDim
	if dim <= 0 {
		dim = embedder.Dimension()
	}
	if dim <= 0 {
		dim = fallbackDim
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := store.EnsureCollection(ctx, cfg.Settings.DefaultCollection, dim); err != nil {
		log.Warn("default collection not ready, first upsert will retry",
			"collection", cfg.Settings.DefaultCollection, "dim", dim, "error", err)
	}
}
