package vectordb

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/advanced-rag/vector-gateway/internal/rag"
)

func init() {
	Register("memory", func(_ context.Context, cfg Config) (VectorStore, error) {
		return NewMemoryStore(cfg.MaxDocs), nil
	})
}

// memoryCollection holds one collection's rows and its lexical index.
// Rows are append-only; a chunk id inserted twice keeps both rows, and
// hybrid search deduplicates on chunk id at fusion time.
type memoryCollection struct {
	dim     int
	chunks  []rag.Chunk
	vectors [][]float32
	sparse  *BM25Index
}

// MemoryStore is the fallback backend: everything lives in process
// memory behind one lock. It serves the full VectorStore contract, so
// development and tests run the same pipelines as milvus, just without
// persistence. Total rows across collections are capped so a runaway
// client cannot exhaust the process.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
	maxDocs     int
	totalDocs   int
}

// NewMemoryStore creates an empty store. maxDocs <= 0 disables the cap.
func NewMemoryStore(maxDocs int) *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*memoryCollection),
		maxDocs:     maxDocs,
	}
}

func (s *MemoryStore) Name() string { return "memory" }

// EnsureCollection creates the collection when missing. An existing
// collection with a different vector dimension is a validation error.
func (s *MemoryStore) EnsureCollection(_ context.Context, name string, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, exists := s.collections[name]
	if !exists {
		s.collections[name] = &memoryCollection{dim: dim, sparse: NewBM25Index()}
		return nil
	}
	if coll.dim == 0 {
		coll.dim = dim
		return nil
	}
	if dim > 0 && coll.dim != dim {
		return rag.Errorf(rag.KindValidation, "collection %q stores %d-dimensional vectors, got %d", name, coll.dim, dim)
	}
	return nil
}

// InsertChunks appends rows to the collection, creating it on first use.
// The call validates every row before mutating anything, so a failed
// insert leaves the store unchanged.
func (s *MemoryStore) InsertChunks(_ context.Context, collection string, chunks []rag.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return rag.Errorf(rag.KindValidation, "got %d chunks but %d vectors", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxDocs > 0 && s.totalDocs+len(chunks) > s.maxDocs {
		return rag.Errorf(rag.KindCapacity, "store limit reached")
	}

	coll, exists := s.collections[collection]
	if !exists {
		coll = &memoryCollection{sparse: NewBM25Index()}
		s.collections[collection] = coll
	}
	dim := coll.dim
	if dim == 0 {
		dim = len(vectors[0])
	}
	for i, vec := range vectors {
		if len(vec) != dim {
			return rag.Errorf(rag.KindValidation, "vector %d has dimension %d, collection %q wants %d", i, len(vec), collection, dim)
		}
	}

	coll.dim = dim
	for i, chunk := range chunks {
		coll.chunks = append(coll.chunks, chunk)
		coll.vectors = append(coll.vectors, vectors[i])
		coll.sparse.Add(chunk.ChunkID, chunk.Text)
	}
	s.totalDocs += len(chunks)
	return nil
}

// HybridSearch scans the collection for the dense leg, queries the
// collection's BM25 index for the lexical leg, and fuses both with RRF.
// Dense hits carry raw cosine similarity in Distance. An unknown
// collection returns no hits, matching a search before any upsert.
func (s *MemoryStore) HybridSearch(_ context.Context, collection string, queryVector []float32, queryText string, topK, overfetch, rrfK int) ([]StoreHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll, exists := s.collections[collection]
	if !exists || len(coll.chunks) == 0 {
		return nil, nil
	}
	if overfetch < topK {
		overfetch = topK
	}

	dense := make([]StoreHit, 0, len(coll.chunks))
	for i, chunk := range coll.chunks {
		dense = append(dense, StoreHit{
			Chunk:       chunk,
			Distance:    cosineSimilarity(queryVector, coll.vectors[i]),
			HasDistance: true,
		})
	}
	sort.Slice(dense, func(i, j int) bool {
		if dense[i].Distance != dense[j].Distance {
			return dense[i].Distance > dense[j].Distance
		}
		return dense[i].Chunk.ChunkID < dense[j].Chunk.ChunkID
	})
	if len(dense) > overfetch {
		dense = dense[:overfetch]
	}

	byID := make(map[string]rag.Chunk, len(coll.chunks))
	for _, chunk := range coll.chunks {
		byID[chunk.ChunkID] = chunk
	}
	var lexical []StoreHit
	for _, hit := range coll.sparse.Search(queryText, overfetch) {
		chunk, ok := byID[hit.ChunkID]
		if !ok {
			continue
		}
		lexical = append(lexical, StoreHit{Chunk: chunk})
	}

	return fuseRRF(dense, lexical, rrfK, topK), nil
}

// GetContextChunks returns the rows of fileName whose chunk_index falls
// inside the window, ordered by chunk_index.
func (s *MemoryStore) GetContextChunks(_ context.Context, collection, fileName string, chunkIndex, window int64) ([]rag.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll, exists := s.collections[collection]
	if !exists {
		return nil, nil
	}
	low, high := chunkIndex-window, chunkIndex+window

	var neighbors []rag.Chunk
	for _, chunk := range coll.chunks {
		if chunk.FileName != fileName {
			continue
		}
		if chunk.ChunkIndex < low || chunk.ChunkIndex > high {
			continue
		}
		neighbors = append(neighbors, chunk)
	}
	sort.Slice(neighbors, func(i, j int) bool {
		return neighbors[i].ChunkIndex < neighbors[j].ChunkIndex
	})
	return neighbors, nil
}

// ListCollections returns the collection names, sorted.
func (s *MemoryStore) ListCollections(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// GetCollectionStats counts rows and collects the distinct file names
// and mime types of one collection.
func (s *MemoryStore) GetCollectionStats(_ context.Context, name string) (*CollectionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll, exists := s.collections[name]
	if !exists {
		return nil, rag.Errorf(rag.KindNotFound, "collection %q not found", name)
	}

	fileNames := make(map[string]struct{})
	mimeTypes := make(map[string]struct{})
	for _, chunk := range coll.chunks {
		if chunk.FileName != "" {
			fileNames[chunk.FileName] = struct{}{}
		}
		if chunk.MimeType != "" {
			mimeTypes[chunk.MimeType] = struct{}{}
		}
	}
	return &CollectionStats{
		Name:      name,
		RowCount:  int64(len(coll.chunks)),
		FileNames: sortedKeys(fileNames),
		MimeTypes: sortedKeys(mimeTypes),
	}, nil
}

// Count reports the exact number of stored rows across collections.
func (s *MemoryStore) Count(_ context.Context) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(s.totalDocs)
}

func (s *MemoryStore) Close() error { return nil }

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// cosineSimilarity returns the cosine of the angle between a and b, in
// [-1,1]. Mismatched lengths or a zero vector score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
