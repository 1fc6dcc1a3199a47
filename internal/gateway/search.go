package gateway

import (
	"context"
	"path"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/advanced-rag/vector-gateway/internal/rag"
	"github.com/advanced-rag/vector-gateway/internal/rag/providers"
	"github.com/advanced-rag/vector-gateway/internal/rag/vectordb"
)

const (
	// expandConcurrency caps how many per-hit context fetches run at once.
	expandConcurrency = 4

	// filteredOverfetchFloor is the minimum candidate pool when filters
	// will discard rows after retrieval.
	filteredOverfetchFloor = 50
)

// Search runs the query pipeline: embed, hybrid retrieve, filter, rerank,
// truncate, expand neighbors, normalize scores. Rerank and per-hit
// expansion failures degrade gracefully; every other stage error aborts
// the request.
func (g *Gateway) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	collection := g.resolveCollection(req.Collection)
	if err := validateCollectionName(collection); err != nil {
		return nil, err
	}
	topK := req.EffectiveTopK()

	queryVector, err := g.embedQuery(ctx, req.Query, req.Model)
	if err != nil {
		return nil, err
	}

	overfetch := overfetchFor(topK, req.Filters)
	storeCtx, cancel := withTimeout(ctx, g.cfg.Timeouts.Store())
	hits, err := g.store.HybridSearch(storeCtx, collection, queryVector, req.Query, overfetch, overfetch, vectordb.DefaultRRFK)
	cancel()
	if err != nil {
		return nil, classify(err, rag.KindStore, "hybrid search failed")
	}

	hits = applyFilters(hits, req.Filters)
	hits, reranked := g.rerankHits(ctx, req.Query, hits, topK)
	if len(hits) > topK {
		hits = hits[:topK]
	}

	out := make([]SearchHit, len(hits))
	for i, h := range hits {
		score := g.normalizeScore(h)
		out[i] = SearchHit{
			DocID:             h.Chunk.ChunkID,
			Text:              h.Chunk.Text,
			Score:             score,
			Metadata:          hitMetadata(h, score),
			SurroundingChunks: []rag.ContextChunk{},
		}
	}
	if req.ContextWindow > 0 {
		g.attachContext(ctx, collection, hits, out, req.ContextWindow)
	}

	return &SearchResponse{
		Hits:       out,
		Count:      len(out),
		LatencyMS:  time.Since(start).Milliseconds(),
		Backend:    g.store.Name(),
		Collection: collection,
		Reranked:   reranked,
	}, nil
}

// embedQuery turns the query text into a dense vector under the embed
// timeout.
func (g *Gateway) embedQuery(ctx context.Context, query, model string) ([]float32, error) {
	embedCtx, cancel := withTimeout(ctx, g.cfg.Timeouts.Embed())
	defer cancel()

	res, err := g.embedder.Embed(embedCtx, []string{query}, providers.EmbedOptions{
		Model:     model,
		InputType: providers.InputTypeQuery,
	})
	if err != nil {
		return nil, rag.Wrap(kindOr(err, rag.KindRemote), "embedding failed", err)
	}
	if len(res.Vectors) != 1 {
		return nil, rag.Errorf(rag.KindFormat, "embedding returned %d vectors for one query", len(res.Vectors))
	}
	return res.Vectors[0], nil
}

// overfetchFor sizes the candidate pool. Filters discard rows after
// retrieval, so their presence quadruples the pool with a fixed floor.
func overfetchFor(topK int, filters *SearchFilters) int {
	if filters != nil {
		n := 4 * topK
		if n < filteredOverfetchFloor {
			n = filteredOverfetchFloor
		}
		return n
	}
	return 2 * topK
}

// applyFilters drops hits that fail the AND-composed metadata filters.
func applyFilters(hits []vectordb.StoreHit, f *SearchFilters) []vectordb.StoreHit {
	if f == nil {
		return hits
	}
	kept := hits[:0]
	for _, h := range hits {
		if f.FileName != "" && h.Chunk.FileName != f.FileName {
			continue
		}
		if f.FilePattern != "" {
			ok, err := path.Match(f.FilePattern, h.Chunk.FileName)
			if err != nil || !ok {
				continue
			}
		}
		if f.MimeType != "" && h.Chunk.MimeType != f.MimeType {
			continue
		}
		kept = append(kept, h)
	}
	return kept
}

// rerankHits reorders hits with the configured reranker under the rerank
// timeout. Rerank is never fatal: any failure keeps the fused order and
// reports reranked=false. The returned flag is true only when a model
// actually scored the documents, so the passthrough reranker also reports
// false.
func (g *Gateway) rerankHits(ctx context.Context, query string, hits []vectordb.StoreHit, topN int) ([]vectordb.StoreHit, bool) {
	if len(hits) == 0 {
		return hits, false
	}
	docs := make([]string, len(hits))
	for i, h := range hits {
		docs[i] = h.Chunk.Text
	}

	rerankCtx, cancel := withTimeout(ctx, g.cfg.Timeouts.Rerank())
	defer cancel()

	res, err := g.reranker.Rerank(rerankCtx, query, docs, topN)
	if err != nil {
		g.log.Warn("rerank failed, keeping fused order", "error", err)
		return hits, false
	}

	reordered := make([]vectordb.StoreHit, 0, len(res.Indices))
	for _, idx := range res.Indices {
		if idx < 0 || idx >= len(hits) {
			continue
		}
		reordered = append(reordered, hits[idx])
	}
	if len(reordered) == 0 {
		return hits, false
	}
	return reordered, res.Ranked
}

// normalizeScore maps a raw store distance onto [0, 1], higher is more
// similar. Milvus reports cosine distance (0 best, 2 worst); the memory
// backend reports cosine similarity (-1 worst, 1 best). Hits that only
// matched the lexical leg carry no distance and score zero.
func (g *Gateway) normalizeScore(h vectordb.StoreHit) float64 {
	if !h.HasDistance {
		return 0
	}
	switch g.store.Name() {
	case "memory":
		return clamp01((h.Distance + 1) / 2)
	default:
		return clamp01(1 - h.Distance)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// hitMetadata extends the chunk's provenance fields with the raw distance
// and the normalized score. Distance is null for lexical-only hits.
func hitMetadata(h vectordb.StoreHit, score float64) map[string]interface{} {
	meta := h.Chunk.MetadataMap()
	if h.HasDistance {
		meta["distance"] = h.Distance
	} else {
		meta["distance"] = nil
	}
	meta["score"] = score
	return meta
}

// attachContext fetches neighboring chunks for each hit, bounded by
// expandConcurrency. Each goroutine writes only its own out[i], so no
// locking is needed. A failed fetch leaves that hit's surrounding_chunks
// empty rather than failing the search.
func (g *Gateway) attachContext(ctx context.Context, collection string, hits []vectordb.StoreHit, out []SearchHit, window int) {
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(expandConcurrency)
	for i := range hits {
		hit := hits[i].Chunk
		if hit.FileName == "" {
			continue
		}
		grp.Go(func() error {
			storeCtx, cancel := withTimeout(grpCtx, g.cfg.Timeouts.Store())
			defer cancel()

			chunks, err := g.store.GetContextChunks(storeCtx, collection, hit.FileName, hit.ChunkIndex, int64(window))
			if err != nil {
				g.log.Warn("context expansion failed", "chunk_id", hit.ChunkID, "error", err)
				return nil
			}
			neighbors := make([]rag.ContextChunk, 0, len(chunks))
			for _, c := range chunks {
				if c.ChunkIndex == hit.ChunkIndex {
					continue
				}
				neighbors = append(neighbors, rag.ContextChunk{
					ChunkIndex: c.ChunkIndex,
					Text:       c.Text,
					Page:       c.Page,
				})
			}
			out[i].SurroundingChunks = neighbors
			return nil
		})
	}
	_ = grp.Wait()
}
