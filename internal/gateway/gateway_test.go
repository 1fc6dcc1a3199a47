package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advanced-rag/vector-gateway/config"
	"github.com/advanced-rag/vector-gateway/internal/rag"
	"github.com/advanced-rag/vector-gateway/internal/rag/providers"
	"github.com/advanced-rag/vector-gateway/internal/rag/vectordb"
)

// stubEmbedder returns canned vectors by exact text match and a zero
// vector otherwise, recording the options of the last call.
type stubEmbedder struct {
	vectors  map[string][]float32
	dim      int
	err      error
	lastOpts providers.EmbedOptions
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string, opts providers.EmbedOptions) (*providers.EmbedResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.lastOpts = opts
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := s.vectors[t]; ok {
			out[i] = v
		} else {
			out[i] = make([]float32, s.dim)
		}
	}
	return &providers.EmbedResult{Vectors: out, Model: "stub-embed"}, nil
}

func (s *stubEmbedder) DefaultModel() string { return "stub-embed" }

func (s *stubEmbedder) Dimension() int { return s.dim }

// stubReranker returns a canned result, a canned error, or an unranked
// identity permutation.
type stubReranker struct {
	result *providers.RerankResult
	err    error
	calls  int
}

func (s *stubReranker) Rerank(_ context.Context, _ string, documents []string, topN int) (*providers.RerankResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	indices := make([]int, len(documents))
	for i := range indices {
		indices[i] = i
	}
	if topN > 0 && topN < len(indices) {
		indices = indices[:topN]
	}
	return &providers.RerankResult{Indices: indices, Model: "stub-rerank"}, nil
}

func (s *stubReranker) DefaultModel() string { return "stub-rerank" }

func unitVec(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

func newTestGateway(embedder providers.Embedder, reranker providers.Reranker, maxDocs int) *Gateway {
	cfg := &config.RagConfig{}
	cfg.Settings.DefaultCollection = "rag_gateway"
	return New(cfg, embedder, reranker, vectordb.NewMemoryStore(maxDocs))
}

// threeDocEmbedder maps three distinct texts and one query onto axes of a
// 3-dimensional space so dense ranking is fully deterministic.
func threeDocEmbedder() *stubEmbedder {
	return &stubEmbedder{
		dim: 3,
		vectors: map[string][]float32{
			"alpha content": unitVec(3, 0),
			"beta content":  unitVec(3, 1),
			"gamma content": unitVec(3, 2),
			"find beta":     unitVec(3, 1),
		},
	}
}

func docsABC() []UpsertDocument {
	return []UpsertDocument{
		{DocID: "a", Text: "alpha content", Metadata: map[string]interface{}{"file_name": "alpha.pdf"}},
		{DocID: "b", Text: "beta content", Metadata: map[string]interface{}{"file_name": "beta.pdf"}},
		{DocID: "c", Text: "gamma content", Metadata: map[string]interface{}{"file_name": "gamma.pdf"}},
	}
}

func intPtr(v int) *int { return &v }

func TestUpsertThenSearchRoundTrip(t *testing.T) {
	embedder := threeDocEmbedder()
	g := newTestGateway(embedder, &stubReranker{}, 100)
	ctx := context.Background()

	up, err := g.Upsert(ctx, &UpsertRequest{Documents: docsABC()})
	require.NoError(t, err)
	assert.Equal(t, 3, up.Inserted)
	assert.Equal(t, int64(3), up.Total)
	assert.Equal(t, "memory", up.Backend)
	assert.Equal(t, "rag_gateway", up.Collection)

	resp, err := g.Search(ctx, &SearchRequest{Query: "find beta"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Hits)
	assert.Equal(t, "b", resp.Hits[0].DocID)
	assert.Equal(t, "beta content", resp.Hits[0].Text)
	assert.Equal(t, len(resp.Hits), resp.Count)
	assert.Equal(t, "memory", resp.Backend)
	assert.Equal(t, "rag_gateway", resp.Collection)
	assert.False(t, resp.Reranked)
	assert.GreaterOrEqual(t, resp.LatencyMS, int64(0))
}

func TestSearchScoresAndMetadata(t *testing.T) {
	embedder := threeDocEmbedder()
	g := newTestGateway(embedder, &stubReranker{}, 100)
	ctx := context.Background()

	_, err := g.Upsert(ctx, &UpsertRequest{Documents: docsABC()})
	require.NoError(t, err)

	resp, err := g.Search(ctx, &SearchRequest{Query: "find beta", TopK: intPtr(3)})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Hits)

	// Memory similarity 1.0 normalizes to 1.0; orthogonal rows to 0.5.
	top := resp.Hits[0]
	assert.InDelta(t, 1.0, top.Score, 1e-6)
	assert.Equal(t, "beta.pdf", top.Metadata["file_name"])
	assert.InDelta(t, 1.0, top.Metadata["distance"].(float64), 1e-6)
	assert.InDelta(t, 1.0, top.Metadata["score"].(float64), 1e-6)
	assert.NotNil(t, top.SurroundingChunks)
	assert.Empty(t, top.SurroundingChunks)

	for _, h := range resp.Hits[1:] {
		assert.InDelta(t, 0.5, h.Score, 1e-6)
	}
}

func TestSearchNeighborExpansion(t *testing.T) {
	embedder := &stubEmbedder{
		dim: 2,
		vectors: map[string][]float32{
			"intro text":  {1, 0},
			"target text": {0, 1},
			"outro text":  {1, 0},
			"target":      {0, 1},
		},
	}
	g := newTestGateway(embedder, &stubReranker{}, 100)
	ctx := context.Background()

	meta := func(idx int) map[string]interface{} {
		return map[string]interface{}{"file_name": "manual.pdf", "chunk_index": idx, "page": idx + 1}
	}
	_, err := g.Upsert(ctx, &UpsertRequest{Documents: []UpsertDocument{
		{DocID: "m0", Text: "intro text", Metadata: meta(0)},
		{DocID: "m1", Text: "target text", Metadata: meta(1)},
		{DocID: "m2", Text: "outro text", Metadata: meta(2)},
	}})
	require.NoError(t, err)

	resp, err := g.Search(ctx, &SearchRequest{Query: "target", TopK: intPtr(1), ContextWindow: 1})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "m1", resp.Hits[0].DocID)

	neighbors := resp.Hits[0].SurroundingChunks
	require.Len(t, neighbors, 2)
	assert.Equal(t, int64(0), neighbors[0].ChunkIndex)
	assert.Equal(t, "intro text", neighbors[0].Text)
	assert.Equal(t, int64(1), neighbors[0].Page)
	assert.Equal(t, int64(2), neighbors[1].ChunkIndex)
	assert.Equal(t, "outro text", neighbors[1].Text)
	assert.Equal(t, int64(3), neighbors[1].Page)
}

func TestSearchFilterByGlobPattern(t *testing.T) {
	embedder := &stubEmbedder{
		dim: 2,
		vectors: map[string][]float32{
			"brake pads":   {1, 0},
			"engine oil":   {0.9, 0.1},
			"brake lookup": {1, 0},
		},
	}
	g := newTestGateway(embedder, &stubReranker{}, 100)
	ctx := context.Background()

	_, err := g.Upsert(ctx, &UpsertRequest{Documents: []UpsertDocument{
		{DocID: "b1", Text: "brake pads", Metadata: map[string]interface{}{"file_name": "DMC-BRAKE-001.pdf"}},
		{DocID: "e1", Text: "engine oil", Metadata: map[string]interface{}{"file_name": "DMC-ENGINE-001.pdf"}},
	}})
	require.NoError(t, err)

	resp, err := g.Search(ctx, &SearchRequest{
		Query:   "brake lookup",
		Filters: &SearchFilters{FilePattern: "DMC-BRAKE*"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "b1", resp.Hits[0].DocID)
}

func TestSearchFiltersANDCompose(t *testing.T) {
	embedder := &stubEmbedder{
		dim:     2,
		vectors: map[string][]float32{"anything": {1, 0}},
	}
	g := newTestGateway(embedder, &stubReranker{}, 100)
	ctx := context.Background()

	_, err := g.Upsert(ctx, &UpsertRequest{Documents: []UpsertDocument{
		{DocID: "pdf", Text: "anything", Metadata: map[string]interface{}{"file_name": "doc.pdf", "mime_type": "application/pdf"}},
		{DocID: "txt", Text: "anything", Metadata: map[string]interface{}{"file_name": "doc.txt", "mime_type": "text/plain"}},
	}})
	require.NoError(t, err)

	resp, err := g.Search(ctx, &SearchRequest{
		Query:   "anything",
		Filters: &SearchFilters{FilePattern: "doc.*", MimeType: "text/plain"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "txt", resp.Hits[0].DocID)

	resp, err = g.Search(ctx, &SearchRequest{
		Query:   "anything",
		Filters: &SearchFilters{FileName: "doc.pdf", MimeType: "text/plain"},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Hits)
}

func TestSearchRerankFailureDegrades(t *testing.T) {
	embedder := threeDocEmbedder()
	reranker := &stubReranker{err: errors.New("rerank upstream down")}
	g := newTestGateway(embedder, reranker, 100)
	ctx := context.Background()

	_, err := g.Upsert(ctx, &UpsertRequest{Documents: docsABC()})
	require.NoError(t, err)

	resp, err := g.Search(ctx, &SearchRequest{Query: "find beta"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Hits)
	assert.False(t, resp.Reranked)
	assert.Equal(t, "b", resp.Hits[0].DocID)
	assert.Equal(t, 1, reranker.calls)
}

func TestSearchRerankReordersHits(t *testing.T) {
	embedder := threeDocEmbedder()
	reranker := &stubReranker{result: &providers.RerankResult{
		Indices: []int{1, 0},
		Scores:  []float64{0.9, 0.2},
		Model:   "stub-rerank",
		Ranked:  true,
	}}
	g := newTestGateway(embedder, reranker, 100)
	ctx := context.Background()

	_, err := g.Upsert(ctx, &UpsertRequest{Documents: docsABC()})
	require.NoError(t, err)

	resp, err := g.Search(ctx, &SearchRequest{Query: "find beta", TopK: intPtr(2)})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 2)
	assert.True(t, resp.Reranked)
	// Fused order is b first; the canned permutation swaps the top two.
	assert.NotEqual(t, "b", resp.Hits[0].DocID)
	assert.Equal(t, "b", resp.Hits[1].DocID)
}

func TestSearchRerankDropsOutOfRangeIndices(t *testing.T) {
	embedder := threeDocEmbedder()
	reranker := &stubReranker{result: &providers.RerankResult{
		Indices: []int{7, 1, -1},
		Ranked:  true,
	}}
	g := newTestGateway(embedder, reranker, 100)
	ctx := context.Background()

	_, err := g.Upsert(ctx, &UpsertRequest{Documents: docsABC()})
	require.NoError(t, err)

	resp, err := g.Search(ctx, &SearchRequest{Query: "find beta", TopK: intPtr(3)})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.True(t, resp.Reranked)
}

func TestSearchTopKTruncates(t *testing.T) {
	embedder := threeDocEmbedder()
	g := newTestGateway(embedder, &stubReranker{}, 100)
	ctx := context.Background()

	_, err := g.Upsert(ctx, &UpsertRequest{Documents: docsABC()})
	require.NoError(t, err)

	resp, err := g.Search(ctx, &SearchRequest{Query: "find beta", TopK: intPtr(1)})
	require.NoError(t, err)
	assert.Len(t, resp.Hits, 1)
	assert.Equal(t, 1, resp.Count)
}

func TestSearchUnknownCollectionReturnsEmpty(t *testing.T) {
	embedder := threeDocEmbedder()
	g := newTestGateway(embedder, &stubReranker{}, 100)

	resp, err := g.Search(context.Background(), &SearchRequest{Query: "find beta", Collection: "nothing_here"})
	require.NoError(t, err)
	assert.Empty(t, resp.Hits)
	assert.Equal(t, 0, resp.Count)
	assert.False(t, resp.Reranked)
}

func TestSearchValidation(t *testing.T) {
	g := newTestGateway(threeDocEmbedder(), &stubReranker{}, 100)
	ctx := context.Background()

	cases := []struct {
		name string
		req  SearchRequest
		want string
	}{
		{"empty query", SearchRequest{Query: "   "}, "query"},
		{"zero top_k", SearchRequest{Query: "q", TopK: intPtr(0)}, "top_k"},
		{"oversized top_k", SearchRequest{Query: "q", TopK: intPtr(101)}, "top_k"},
		{"negative window", SearchRequest{Query: "q", ContextWindow: -1}, "context_window"},
		{"oversized window", SearchRequest{Query: "q", ContextWindow: 11}, "context_window"},
		{"bad glob", SearchRequest{Query: "q", Filters: &SearchFilters{FilePattern: "["}}, "file_pattern"},
		{"bad collection", SearchRequest{Query: "q", Collection: "café"}, "collection"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := g.Search(ctx, &tc.req)
			require.Error(t, err)
			assert.True(t, rag.IsKind(err, rag.KindValidation))
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestUpsertValidation(t *testing.T) {
	g := newTestGateway(threeDocEmbedder(), &stubReranker{}, 100)
	ctx := context.Background()

	_, err := g.Upsert(ctx, &UpsertRequest{})
	require.Error(t, err)
	assert.True(t, rag.IsKind(err, rag.KindValidation))
	assert.Contains(t, err.Error(), "documents")

	_, err = g.Upsert(ctx, &UpsertRequest{Documents: []UpsertDocument{
		{DocID: "ok", Text: "fine"},
		{DocID: "bad", Text: "  "},
	}})
	require.Error(t, err)
	assert.True(t, rag.IsKind(err, rag.KindValidation))
	assert.Contains(t, err.Error(), "documents[1].text")
}

func TestUpsertSynthesizesIDsAndDefaults(t *testing.T) {
	embedder := &stubEmbedder{dim: 2, vectors: map[string][]float32{"some text": {1, 0}}}
	g := newTestGateway(embedder, &stubReranker{}, 100)
	ctx := context.Background()

	_, err := g.Upsert(ctx, &UpsertRequest{Documents: []UpsertDocument{
		{Text: "some text"},
		{Text: "some text", Metadata: map[string]interface{}{
			"file_name":   "named.pdf",
			"page":        float64(7),
			"chunk_index": float64(42),
		}},
	}})
	require.NoError(t, err)

	resp, err := g.Search(ctx, &SearchRequest{Query: "some text", TopK: intPtr(2)})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 2)

	var synthesized, named SearchHit
	var found bool
	for _, h := range resp.Hits {
		if strings.HasPrefix(h.DocID, "doc-0-") {
			synthesized, found = h, true
		} else {
			named = h
		}
	}
	require.True(t, found, "expected a doc-0-<ts> id for the first document")
	assert.True(t, strings.HasPrefix(named.DocID, "doc-1-"))

	assert.Equal(t, int64(-1), synthesized.Metadata["page"])
	assert.Equal(t, int64(0), synthesized.Metadata["chunk_index"])
	assert.Equal(t, "", synthesized.Metadata["file_name"])

	assert.Equal(t, "named.pdf", named.Metadata["file_name"])
	assert.Equal(t, int64(7), named.Metadata["page"])
	assert.Equal(t, int64(42), named.Metadata["chunk_index"])
}

func TestUpsertKeepsCallerIDs(t *testing.T) {
	embedder := &stubEmbedder{dim: 2, vectors: map[string][]float32{"t": {1, 0}}}
	g := newTestGateway(embedder, &stubReranker{}, 100)
	ctx := context.Background()

	_, err := g.Upsert(ctx, &UpsertRequest{Documents: []UpsertDocument{
		{DocID: "caller-chose-this", Text: "t"},
	}})
	require.NoError(t, err)

	resp, err := g.Search(ctx, &SearchRequest{Query: "t"})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "caller-chose-this", resp.Hits[0].DocID)
}

func TestUpsertCapacityError(t *testing.T) {
	embedder := threeDocEmbedder()
	g := newTestGateway(embedder, &stubReranker{}, 2)
	ctx := context.Background()

	_, err := g.Upsert(ctx, &UpsertRequest{Documents: docsABC()})
	require.Error(t, err)
	assert.True(t, rag.IsKind(err, rag.KindCapacity))

	health := g.Health(ctx)
	assert.Equal(t, int64(0), health.Count)
}

func TestUpsertEmbedCountMismatch(t *testing.T) {
	embedder := &mismatchEmbedder{}
	g := newTestGateway(embedder, &stubReranker{}, 100)

	_, err := g.Upsert(context.Background(), &UpsertRequest{Documents: []UpsertDocument{
		{DocID: "a", Text: "one"},
		{DocID: "b", Text: "two"},
	}})
	require.Error(t, err)
	assert.True(t, rag.IsKind(err, rag.KindFormat))
	assert.Contains(t, err.Error(), "2 documents")
}

// mismatchEmbedder always returns a single vector regardless of input
// size.
type mismatchEmbedder struct{}

func (m *mismatchEmbedder) Embed(_ context.Context, _ []string, _ providers.EmbedOptions) (*providers.EmbedResult, error) {
	return &providers.EmbedResult{Vectors: [][]float32{{1, 0}}}, nil
}

func (m *mismatchEmbedder) DefaultModel() string { return "mismatch" }

func (m *mismatchEmbedder) Dimension() int { return 2 }

func TestSearchEmbedFailureIsRemote(t *testing.T) {
	embedder := &stubEmbedder{dim: 2, err: errors.New("upstream 500")}
	g := newTestGateway(embedder, &stubReranker{}, 100)

	_, err := g.Search(context.Background(), &SearchRequest{Query: "anything"})
	require.Error(t, err)
	assert.True(t, rag.IsKind(err, rag.KindRemote))
	assert.Contains(t, err.Error(), "embedding failed")
}

func TestEmbedFailureKeepsProviderKind(t *testing.T) {
	embedder := &stubEmbedder{dim: 2, err: rag.Errorf(rag.KindConfig, "no API key set")}
	g := newTestGateway(embedder, &stubReranker{}, 100)

	_, err := g.Search(context.Background(), &SearchRequest{Query: "anything"})
	require.Error(t, err)
	assert.True(t, rag.IsKind(err, rag.KindConfig))
}

func TestEmbedInputTypes(t *testing.T) {
	embedder := threeDocEmbedder()
	g := newTestGateway(embedder, &stubReranker{}, 100)
	ctx := context.Background()

	_, err := g.Upsert(ctx, &UpsertRequest{Documents: docsABC()})
	require.NoError(t, err)
	assert.Equal(t, providers.InputTypeDocument, embedder.lastOpts.InputType)

	_, err = g.Search(ctx, &SearchRequest{Query: "find beta"})
	require.NoError(t, err)
	assert.Equal(t, providers.InputTypeQuery, embedder.lastOpts.InputType)
}

func TestCollectionsAndStats(t *testing.T) {
	embedder := threeDocEmbedder()
	g := newTestGateway(embedder, &stubReranker{}, 100)
	ctx := context.Background()

	empty, err := g.Collections(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty.Collections)
	assert.Empty(t, empty.Collections)
	assert.Equal(t, 0, empty.Count)

	_, err = g.Upsert(ctx, &UpsertRequest{Documents: docsABC()})
	require.NoError(t, err)

	list, err := g.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"rag_gateway"}, list.Collections)
	assert.Equal(t, 1, list.Count)

	stats, err := g.CollectionStats(ctx, "rag_gateway")
	require.NoError(t, err)
	assert.Equal(t, "rag_gateway", stats.Stats.Name)
	assert.Equal(t, int64(3), stats.Stats.RowCount)
	assert.Equal(t, []string{"alpha.pdf", "beta.pdf", "gamma.pdf"}, stats.Stats.FileNames)

	_, err = g.CollectionStats(ctx, "missing")
	require.Error(t, err)
	assert.True(t, rag.IsKind(err, rag.KindNotFound))
}

func TestStatsCacheInvalidatedByUpsert(t *testing.T) {
	embedder := &stubEmbedder{dim: 2, vectors: map[string][]float32{"x": {1, 0}}}
	g := newTestGateway(embedder, &stubReranker{}, 100)
	ctx := context.Background()

	_, err := g.Upsert(ctx, &UpsertRequest{Documents: []UpsertDocument{
		{DocID: "1", Text: "x", Metadata: map[string]interface{}{"file_name": "first.pdf"}},
	}})
	require.NoError(t, err)

	stats, err := g.CollectionStats(ctx, "rag_gateway")
	require.NoError(t, err)
	assert.Equal(t, []string{"first.pdf"}, stats.Stats.FileNames)

	_, err = g.Upsert(ctx, &UpsertRequest{Documents: []UpsertDocument{
		{DocID: "2", Text: "x", Metadata: map[string]interface{}{"file_name": "second.pdf"}},
	}})
	require.NoError(t, err)

	stats, err = g.CollectionStats(ctx, "rag_gateway")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Stats.RowCount)
	assert.Equal(t, []string{"first.pdf", "second.pdf"}, stats.Stats.FileNames)
}

func TestHealth(t *testing.T) {
	embedder := threeDocEmbedder()
	g := newTestGateway(embedder, &stubReranker{}, 100)
	ctx := context.Background()

	health := g.Health(ctx)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "memory", health.Backend)
	assert.Equal(t, int64(0), health.Count)

	_, err := g.Upsert(ctx, &UpsertRequest{Documents: docsABC()})
	require.NoError(t, err)
	assert.Equal(t, int64(3), g.Health(ctx).Count)
}

func TestOverfetchFor(t *testing.T) {
	assert.Equal(t, 10, overfetchFor(5, nil))
	assert.Equal(t, 200, overfetchFor(100, nil))
	assert.Equal(t, 50, overfetchFor(5, &SearchFilters{FileName: "a"}))
	assert.Equal(t, 80, overfetchFor(20, &SearchFilters{FileName: "a"}))
}

func TestValidateCollectionName(t *testing.T) {
	assert.NoError(t, validateCollectionName("rag_gateway"))
	assert.NoError(t, validateCollectionName("Collection-2.v1"))

	assert.Error(t, validateCollectionName(""))
	assert.Error(t, validateCollectionName(strings.Repeat("x", 256)))
	assert.Error(t, validateCollectionName("café"))
	assert.Error(t, validateCollectionName("tab\there"))
}

func TestEffectiveTopKDefault(t *testing.T) {
	req := SearchRequest{Query: "q"}
	assert.Equal(t, DefaultTopK, req.EffectiveTopK())
	req.TopK = intPtr(9)
	assert.Equal(t, 9, req.EffectiveTopK())
}
