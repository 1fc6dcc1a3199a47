package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/advanced-rag/vector-gateway/internal/rag"
	"github.com/advanced-rag/vector-gateway/internal/rag/providers"
)

// Upsert embeds the request documents in one batch and writes them to the
// store in input order. The write is atomic per call; completed inserts
// are not rolled back when a later request fails.
func (g *Gateway) Upsert(ctx context.Context, req *UpsertRequest) (*UpsertResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	collection := g.resolveCollection(req.Collection)
	if err := validateCollectionName(collection); err != nil {
		return nil, err
	}

	texts := make([]string, len(req.Documents))
	for i, doc := range req.Documents {
		texts[i] = doc.Text
	}

	embedCtx, cancel := withTimeout(ctx, g.cfg.Timeouts.Embed())
	res, err := g.embedder.Embed(embedCtx, texts, providers.EmbedOptions{
		Model:     req.Model,
		InputType: providers.InputTypeDocument,
	})
	cancel()
	if err != nil {
		return nil, rag.Wrap(kindOr(err, rag.KindRemote), "embedding failed", err)
	}
	if len(res.Vectors) != len(texts) {
		return nil, rag.Errorf(rag.KindFormat, "embedding returned %d vectors for %d documents", len(res.Vectors), len(texts))
	}

	now := time.Now().Unix()
	chunks := make([]rag.Chunk, len(req.Documents))
	for i, doc := range req.Documents {
		chunks[i] = chunkFromDocument(doc, i, now)
	}

	storeCtx, cancel := withTimeout(ctx, g.cfg.Timeouts.Store())
	defer cancel()
	if err := g.store.EnsureCollection(storeCtx, collection, len(res.Vectors[0])); err != nil {
		return nil, classify(err, rag.KindStore, "ensure collection failed")
	}
	if err := g.store.InsertChunks(storeCtx, collection, chunks, res.Vectors); err != nil {
		return nil, classify(err, rag.KindStore, "insert failed")
	}
	g.stats.Invalidate(collection)

	return &UpsertResponse{
		Inserted:   len(chunks),
		Total:      g.store.Count(ctx),
		Backend:    g.store.Name(),
		Collection: collection,
	}, nil
}

// chunkFromDocument maps one wire document onto a chunk row, filling the
// provenance defaults the store schema expects. Caller-supplied doc ids
// are kept verbatim, duplicates included.
func chunkFromDocument(doc UpsertDocument, position int, now int64) rag.Chunk {
	id := doc.DocID
	if id == "" {
		id = fmt.Sprintf("doc-%d-%d", position, now)
	}
	return rag.Chunk{
		ChunkID:     id,
		Text:        doc.Text,
		FileName:    metaString(doc.Metadata, "file_name"),
		FilePath:    metaString(doc.Metadata, "file_path"),
		Page:        metaInt(doc.Metadata, "page", -1),
		Section:     metaString(doc.Metadata, "section"),
		MimeType:    metaString(doc.Metadata, "mime_type"),
		ChunkIndex:  metaInt(doc.Metadata, "chunk_index", int64(position)),
		CreatedAtTS: metaInt(doc.Metadata, "created_at_ts", now),
	}
}

// metaString reads an optional string field from client metadata.
func metaString(meta map[string]interface{}, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

// metaInt reads an optional integer field, tolerating the float64 values
// JSON decoding produces.
func metaInt(meta map[string]interface{}, key string, fallback int64) int64 {
	switch v := meta[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	default:
		return fallback
	}
}
