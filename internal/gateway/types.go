package gateway

import (
	"path"
	"strings"

	"github.com/advanced-rag/vector-gateway/internal/rag"
	"github.com/advanced-rag/vector-gateway/internal/rag/vectordb"
)

const (
	// DefaultTopK is the hit count used when a search omits top_k.
	DefaultTopK = 5
	// MaxTopK bounds how many hits one search may request.
	MaxTopK = 100
	// MaxContextWindow bounds how many neighbors per side a search may
	// request.
	MaxContextWindow = 10

	maxCollectionNameLen = 255
)

// UpsertDocument is one client-supplied document. DocID is optional; the
// gateway synthesizes one from the list position when it is empty.
// Metadata keys beyond the known provenance fields are ignored.
type UpsertDocument struct {
	DocID    string                 `json:"doc_id"`
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
}

// UpsertRequest is the body of POST /upsert.
type UpsertRequest struct {
	Documents  []UpsertDocument `json:"documents"`
	Collection string           `json:"collection"`
	Model      string           `json:"model"`
}

// Validate checks the request shape before any remote call is made.
func (r *UpsertRequest) Validate() error {
	if len(r.Documents) == 0 {
		return rag.Errorf(rag.KindValidation, "documents must contain at least one entry")
	}
	for i, doc := range r.Documents {
		if strings.TrimSpace(doc.Text) == "" {
			return rag.Errorf(rag.KindValidation, "documents[%d].text must not be empty", i)
		}
	}
	return nil
}

// UpsertResponse reports how many rows were written. Total is the store's
// row count across collections, or -1 when the backend cannot answer.
type UpsertResponse struct {
	Inserted   int    `json:"inserted"`
	Total      int64  `json:"total"`
	Backend    string `json:"backend"`
	Collection string `json:"collection"`
}

// SearchFilters narrows hits by provenance metadata. Set fields are
// AND-composed: file_name exact match, file_pattern shell glob against
// file_name, mime_type exact match.
type SearchFilters struct {
	FileName    string `json:"file_name"`
	FilePattern string `json:"file_pattern"`
	MimeType    string `json:"mime_type"`
}

// SearchRequest is the body of POST /search. TopK distinguishes an
// omitted field from an explicit zero so that zero can be rejected.
type SearchRequest struct {
	Query         string         `json:"query"`
	Collection    string         `json:"collection"`
	TopK          *int           `json:"top_k"`
	ContextWindow int            `json:"context_window"`
	Filters       *SearchFilters `json:"filters"`
	Model         string         `json:"model"`
}

// Validate checks the request shape before any remote call is made.
func (r *SearchRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return rag.Errorf(rag.KindValidation, "query must not be empty")
	}
	if r.TopK != nil && (*r.TopK < 1 || *r.TopK > MaxTopK) {
		return rag.Errorf(rag.KindValidation, "top_k must be between 1 and %d", MaxTopK)
	}
	if r.ContextWindow < 0 || r.ContextWindow > MaxContextWindow {
		return rag.Errorf(rag.KindValidation, "context_window must be between 0 and %d", MaxContextWindow)
	}
	if r.Filters != nil && r.Filters.FilePattern != "" {
		if _, err := path.Match(r.Filters.FilePattern, "probe"); err != nil {
			return rag.Errorf(rag.KindValidation, "file_pattern %q is not a valid glob", r.Filters.FilePattern)
		}
	}
	return nil
}

// EffectiveTopK applies the default when the client omitted top_k.
func (r *SearchRequest) EffectiveTopK() int {
	if r.TopK == nil {
		return DefaultTopK
	}
	return *r.TopK
}

// SearchHit is one scored result row. Metadata carries the chunk's
// provenance fields plus the raw store distance and the normalized score.
// SurroundingChunks is always present, empty unless a context window was
// requested.
type SearchHit struct {
	DocID             string                 `json:"doc_id"`
	Text              string                 `json:"text"`
	Score             float64                `json:"score"`
	Metadata          map[string]interface{} `json:"metadata"`
	SurroundingChunks []rag.ContextChunk     `json:"surrounding_chunks"`
}

// SearchResponse is the body returned by POST /search.
type SearchResponse struct {
	Hits       []SearchHit `json:"hits"`
	Count      int         `json:"count"`
	LatencyMS  int64       `json:"latency_ms"`
	Backend    string      `json:"backend"`
	Collection string      `json:"collection"`
	Reranked   bool        `json:"reranked"`
}

// CollectionsResponse lists the store's collections.
type CollectionsResponse struct {
	Collections []string `json:"collections"`
	Count       int      `json:"count"`
}

// CollectionStatsResponse wraps one collection's statistics.
type CollectionStatsResponse struct {
	Stats vectordb.CollectionStats `json:"stats"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
	Count   int64  `json:"count"`
}

// validateCollectionName enforces the storage-safe naming rules shared by
// every endpoint that takes a collection: non-empty, at most 255
// characters, printable ASCII only.
func validateCollectionName(name string) error {
	if name == "" {
		return rag.Errorf(rag.KindValidation, "collection name must not be empty")
	}
	if len(name) > maxCollectionNameLen {
		return rag.Errorf(rag.KindValidation, "collection name exceeds %d characters", maxCollectionNameLen)
	}
	for i := 0; i < len(name); i++ {
		if name[i] < 0x20 || name[i] > 0x7e {
			return rag.Errorf(rag.KindValidation, "collection name %q contains non-printable or non-ASCII characters", name)
		}
	}
	return nil
}
