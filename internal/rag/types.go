package rag

// Chunk is the atomic unit indexed and returned by the gateway. Within a
// file_name the chunk_index values are expected to be dense and contiguous
// from 0; neighbor expansion relies on that cooperative contract.
type Chunk struct {
	ChunkID     string
	Text        string
	FileName    string
	FilePath    string
	Page        int64
	Section     string
	MimeType    string
	ChunkIndex  int64
	CreatedAtTS int64
}

// MetadataMap renders the chunk's provenance fields under their wire names.
// Search responses extend it with the raw distance.
func (c *Chunk) MetadataMap() map[string]interface{} {
	return map[string]interface{}{
		"file_name":     c.FileName,
		"file_path":     c.FilePath,
		"page":          c.Page,
		"section":       c.Section,
		"mime_type":     c.MimeType,
		"chunk_index":   c.ChunkIndex,
		"created_at_ts": c.CreatedAtTS,
	}
}

// ContextChunk is a neighbor attached to a hit by context expansion.
type ContextChunk struct {
	ChunkIndex int64  `json:"chunk_index"`
	Text       string `json:"text"`
	Page       int64  `json:"page"`
}
