// Package vectordb abstracts the vector stores the gateway can persist
// chunks into. A backend registers a factory under its name; the store
// selected by GATEWAY_BACKEND is opened once at startup. Both backends
// serve the same contract: collection lifecycle, dense+lexical hybrid
// retrieval fused with RRF, neighbor lookup by (file_name, chunk_index)
// window, and collection statistics.
package vectordb

import (
	"context"
	"sync"
	"time"

	"github.com/advanced-rag/vector-gateway/internal/rag"
)

// DefaultRRFK is the smoothing constant for reciprocal rank fusion.
const DefaultRRFK = 60

// maxScanRows caps full-collection scans (stats extraction, lexical
// candidate fetch) so large collections stay affordable.
const maxScanRows = 16384

// StoreHit is one fused retrieval candidate. Distance is the raw value
// the backend reported for the dense leg: cosine distance in [0,2] for
// milvus, cosine similarity in [-1,1] for memory. HasDistance is false
// for candidates only the lexical leg produced; callers score those 0.
type StoreHit struct {
	Chunk       rag.Chunk
	Distance    float64
	HasDistance bool

	// RRFScore is the fused rank score the hit was ordered by.
	RRFScore float64
}

// CollectionStats describes one collection: its row count and the
// distinct provenance values stored in it. FileNames and MimeTypes are
// sorted and may be approximate on very large collections (extraction
// scans at most maxScanRows rows).
type CollectionStats struct {
	Name      string   `json:"name"`
	RowCount  int64    `json:"row_count"`
	FileNames []string `json:"file_names"`
	MimeTypes []string `json:"mime_types"`
}

// VectorStore is the data-plane contract between the pipelines and a
// vector store. Implementations are safe for concurrent use.
type VectorStore interface {
	// Name identifies the backend ("milvus", "memory") in responses
	// and logs.
	Name() string

	// EnsureCollection creates the collection with the chunk schema
	// when it does not exist and verifies the dense-vector dimension
	// when it does. It never drops data; a dimension mismatch is an
	// error, not a rebuild.
	EnsureCollection(ctx context.Context, name string, dim int) error

	// InsertChunks stores chunks with their dense vectors. Both slices
	// must have equal length; the insert is atomic per call.
	InsertChunks(ctx context.Context, collection string, chunks []rag.Chunk, vectors [][]float32) error

	// HybridSearch runs the dense leg (kNN, limit=overfetch) and the
	// lexical leg (BM25 over text, limit=overfetch), fuses both lists
	// with RRF on chunk_id, and returns up to topK hits by descending
	// fused score.
	HybridSearch(ctx context.Context, collection string, queryVector []float32, queryText string, topK, overfetch, rrfK int) ([]StoreHit, error)

	// GetContextChunks returns the chunks of fileName whose chunk_index
	// lies in [chunkIndex-window, chunkIndex+window], ordered by
	// chunk_index ascending. The hit itself is included; callers
	// exclude it.
	GetContextChunks(ctx context.Context, collection, fileName string, chunkIndex, window int64) ([]rag.Chunk, error)

	// ListCollections returns the known collection names, sorted.
	ListCollections(ctx context.Context) ([]string, error)

	// GetCollectionStats describes one collection. Unknown names
	// return a not-found error.
	GetCollectionStats(ctx context.Context, name string) (*CollectionStats, error)

	// Count reports the total number of stored documents, or -1 when
	// the backend cannot answer cheaply.
	Count(ctx context.Context) int64

	Close() error
}

// Config carries the backend-independent open parameters. Backends read
// the fields they need and ignore the rest.
type Config struct {
	// Address is the milvus endpoint as host:port.
	Address  string
	Username string
	Password string

	// MaxDocs caps the memory backend's total document count.
	MaxDocs int

	// Timeout bounds connection establishment and collection loads.
	Timeout time.Duration
}

// Factory opens a store from its configuration.
type Factory func(ctx context.Context, cfg Config) (VectorStore, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a backend available under name. Later registrations
// replace earlier ones.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Open builds the named backend. Unknown names are a config error so
// startup can report the valid choices.
func Open(ctx context.Context, name string, cfg Config) (VectorStore, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, rag.Errorf(rag.KindConfig, "unknown vector store backend %q (expected milvus or memory)", name)
	}
	return factory(ctx, cfg)
}
