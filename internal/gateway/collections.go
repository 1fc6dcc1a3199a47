package gateway

import (
	"context"

	"github.com/advanced-rag/vector-gateway/internal/rag"
)

// Collections lists the store's collections, sorted by name.
func (g *Gateway) Collections(ctx context.Context) (*CollectionsResponse, error) {
	storeCtx, cancel := withTimeout(ctx, g.cfg.Timeouts.Store())
	defer cancel()

	names, err := g.store.ListCollections(storeCtx)
	if err != nil {
		return nil, classify(err, rag.KindStore, "list collections failed")
	}
	if names == nil {
		names = []string{}
	}
	return &CollectionsResponse{Collections: names, Count: len(names)}, nil
}

// CollectionStats returns the row count and distinct provenance values
// for one collection. Results are memoized briefly; upserts invalidate
// the entry so stats always reflect the latest write.
func (g *Gateway) CollectionStats(ctx context.Context, name string) (*CollectionStatsResponse, error) {
	if err := validateCollectionName(name); err != nil {
		return nil, err
	}
	if stats, ok := g.stats.Get(name); ok {
		return &CollectionStatsResponse{Stats: stats}, nil
	}

	storeCtx, cancel := withTimeout(ctx, g.cfg.Timeouts.Store())
	defer cancel()

	stats, err := g.store.GetCollectionStats(storeCtx, name)
	if err != nil {
		return nil, classify(err, rag.KindStore, "collection stats failed")
	}
	g.stats.Put(name, *stats)
	return &CollectionStatsResponse{Stats: *stats}, nil
}
