package vectordb

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/cenkalti/backoff/v4"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/advanced-rag/vector-gateway/internal/rag"
)

// Field names of the chunk collection schema. These double as the wire
// names in response metadata, so renames break stored collections AND
// clients.
const (
	fieldChunkID    = "chunk_id"
	fieldText       = "text"
	fieldFileName   = "file_name"
	fieldFilePath   = "file_path"
	fieldPage       = "page"
	fieldSection    = "section"
	fieldMimeType   = "mime_type"
	fieldChunkIndex = "chunk_index"
	fieldCreatedAt  = "created_at_ts"
	fieldVector     = "dense_vector"
)

const (
	maxTextLength    = 65535
	maxIDLength      = 512
	maxNameLength    = 1024
	maxPathLength    = 2048
	maxMimeLength    = 256
	hnswM            = 16
	hnswEfConstr     = 500
	searchEfFloor    = 64
	maxLexicalTerms  = 8
	defaultOpTimeout = 30 * time.Second
)

// chunkFields are the scalar fields fetched with every hit.
var chunkFields = []string{
	fieldChunkID, fieldText, fieldFileName, fieldFilePath,
	fieldPage, fieldSection, fieldMimeType, fieldChunkIndex, fieldCreatedAt,
}

func init() {
	Register("milvus", openMilvus)
}

// MilvusStore persists chunks in a Milvus cluster. The dense leg runs on
// an HNSW index over dense_vector with the COSINE metric; the lexical
// leg fetches candidate rows whose text contains a query term and scores
// them with the same in-process BM25 used by the memory backend, so both
// backends rank through one fusion path.
type MilvusStore struct {
	client  client.Client
	address string
	timeout time.Duration

	mu     sync.Mutex
	loaded map[string]bool
	dims   map[string]int
}

func openMilvus(ctx context.Context, cfg Config) (VectorStore, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	var c client.Client
	connect := func() error {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		var err error
		c, err = client.NewClient(dialCtx, client.Config{
			Address:  cfg.Address,
			Username: cfg.Username,
			Password: cfg.Password,
		})
		return err
	}
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = timeout
	if err := backoff.Retry(connect, backoff.WithContext(policy, ctx)); err != nil {
		return nil, rag.Wrap(rag.KindStore, fmt.Sprintf("connect to milvus at %s", cfg.Address), err)
	}

	return &MilvusStore{
		client:  c,
		address: cfg.Address,
		timeout: timeout,
		loaded:  make(map[string]bool),
		dims:    make(map[string]int),
	}, nil
}

func (s *MilvusStore) Name() string { return "milvus" }

// EnsureCollection creates the chunk collection with its indexes when it
// does not exist, and verifies the stored vector dimension when it does.
// Existing collections are never dropped or rebuilt.
func (s *MilvusStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	has, err := s.client.HasCollection(ctx, name)
	if err != nil {
		return rag.Wrap(rag.KindStore, fmt.Sprintf("check collection %q", name), err)
	}
	if !has {
		if err := s.createCollection(ctx, name, dim); err != nil {
			return err
		}
	} else if dim > 0 {
		current, err := s.collectionDim(ctx, name)
		if err != nil {
			return err
		}
		if current > 0 && current != dim {
			return rag.Errorf(rag.KindValidation, "collection %q stores %d-dimensional vectors, got %d", name, current, dim)
		}
	}
	return s.ensureLoaded(ctx, name)
}

func (s *MilvusStore) createCollection(ctx context.Context, name string, dim int) error {
	rag.GlobalLogger.Debug("creating collection", "collection", name, "dim", dim)
	schema := entity.NewSchema().
		WithName(name).
		WithDescription("chunk records with dense embeddings").
		WithField(entity.NewField().WithName(fieldChunkID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxIDLength).WithIsPrimaryKey(true)).
		WithField(entity.NewField().WithName(fieldText).WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxTextLength)).
		WithField(entity.NewField().WithName(fieldFileName).WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxNameLength)).
		WithField(entity.NewField().WithName(fieldFilePath).WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxPathLength)).
		WithField(entity.NewField().WithName(fieldPage).WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(fieldSection).WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxPathLength)).
		WithField(entity.NewField().WithName(fieldMimeType).WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxMimeLength)).
		WithField(entity.NewField().WithName(fieldChunkIndex).WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(fieldCreatedAt).WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(fieldVector).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(dim)))

	if err := s.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		// A concurrent creator winning the race is fine.
		if !strings.Contains(err.Error(), "already exist") {
			return rag.Wrap(rag.KindStore, fmt.Sprintf("create collection %q", name), err)
		}
	}

	idx, err := entity.NewIndexHNSW(entity.COSINE, hnswM, hnswEfConstr)
	if err != nil {
		return rag.Wrap(rag.KindStore, "build hnsw index", err)
	}
	if err := s.client.CreateIndex(ctx, name, fieldVector, idx, false); err != nil && !strings.Contains(err.Error(), "already exist") {
		return rag.Wrap(rag.KindStore, fmt.Sprintf("index %s.%s", name, fieldVector), err)
	}
	// Scalar indexes back the neighbor window query.
	for _, field := range []string{fieldFileName, fieldChunkIndex} {
		if err := s.client.CreateIndex(ctx, name, field, entity.NewScalarIndex(), false); err != nil && !strings.Contains(err.Error(), "already exist") {
			return rag.Wrap(rag.KindStore, fmt.Sprintf("index %s.%s", name, field), err)
		}
	}

	s.mu.Lock()
	s.dims[name] = dim
	s.mu.Unlock()
	return nil
}

func (s *MilvusStore) collectionDim(ctx context.Context, name string) (int, error) {
	s.mu.Lock()
	if dim, ok := s.dims[name]; ok {
		s.mu.Unlock()
		return dim, nil
	}
	s.mu.Unlock()

	info, err := s.client.DescribeCollection(ctx, name)
	if err != nil {
		return 0, rag.Wrap(rag.KindStore, fmt.Sprintf("describe collection %q", name), err)
	}
	for _, field := range info.Schema.Fields {
		if field.Name != fieldVector {
			continue
		}
		dim, err := strconv.Atoi(field.TypeParams[entity.TypeParamDim])
		if err != nil {
			return 0, rag.Wrap(rag.KindStore, fmt.Sprintf("parse dim of %s.%s", name, fieldVector), err)
		}
		s.mu.Lock()
		s.dims[name] = dim
		s.mu.Unlock()
		return dim, nil
	}
	return 0, rag.Errorf(rag.KindStore, "collection %q has no %s field", name, fieldVector)
}

func (s *MilvusStore) ensureLoaded(ctx context.Context, name string) error {
	s.mu.Lock()
	if s.loaded[name] {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	// Loading right after index creation fails until the index is
	// built, so retry with backoff instead of a fixed sleep.
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = s.timeout
	load := func() error { return s.client.LoadCollection(ctx, name, false) }
	if err := backoff.Retry(load, backoff.WithContext(policy, ctx)); err != nil {
		return rag.Wrap(rag.KindStore, fmt.Sprintf("load collection %q", name), err)
	}

	s.mu.Lock()
	s.loaded[name] = true
	s.mu.Unlock()
	return nil
}

// InsertChunks writes chunks and their vectors in one batch and flushes
// so they become searchable. Duplicate chunk ids are appended, not
// replaced; fusion deduplicates them at query time.
func (s *MilvusStore) InsertChunks(ctx context.Context, collection string, chunks []rag.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return rag.Errorf(rag.KindValidation, "got %d chunks but %d vectors", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}
	dim := len(vectors[0])
	for i, vec := range vectors {
		if len(vec) != dim {
			return rag.Errorf(rag.KindValidation, "vector %d has dimension %d, want %d", i, len(vec), dim)
		}
	}
	if err := s.EnsureCollection(ctx, collection, dim); err != nil {
		return err
	}

	n := len(chunks)
	ids := make([]string, n)
	texts := make([]string, n)
	fileNames := make([]string, n)
	filePaths := make([]string, n)
	pages := make([]int64, n)
	sections := make([]string, n)
	mimeTypes := make([]string, n)
	chunkIndexes := make([]int64, n)
	createdAts := make([]int64, n)
	for i, chunk := range chunks {
		ids[i] = truncateRunes(chunk.ChunkID, maxIDLength)
		texts[i] = truncateRunes(chunk.Text, maxTextLength)
		fileNames[i] = truncateRunes(chunk.FileName, maxNameLength)
		filePaths[i] = truncateRunes(chunk.FilePath, maxPathLength)
		pages[i] = chunk.Page
		sections[i] = truncateRunes(chunk.Section, maxPathLength)
		mimeTypes[i] = truncateRunes(chunk.MimeType, maxMimeLength)
		chunkIndexes[i] = chunk.ChunkIndex
		createdAts[i] = chunk.CreatedAtTS
	}

	_, err := s.client.Insert(ctx, collection, "",
		entity.NewColumnVarChar(fieldChunkID, ids),
		entity.NewColumnVarChar(fieldText, texts),
		entity.NewColumnVarChar(fieldFileName, fileNames),
		entity.NewColumnVarChar(fieldFilePath, filePaths),
		entity.NewColumnInt64(fieldPage, pages),
		entity.NewColumnVarChar(fieldSection, sections),
		entity.NewColumnVarChar(fieldMimeType, mimeTypes),
		entity.NewColumnInt64(fieldChunkIndex, chunkIndexes),
		entity.NewColumnInt64(fieldCreatedAt, createdAts),
		entity.NewColumnFloatVector(fieldVector, dim, vectors),
	)
	if err != nil {
		return rag.Wrap(rag.KindStore, fmt.Sprintf("insert into %q", collection), err)
	}
	if err := s.client.Flush(ctx, collection, false); err != nil {
		return rag.Wrap(rag.KindStore, fmt.Sprintf("flush %q", collection), err)
	}
	return nil
}

// HybridSearch fuses the HNSW dense leg with the BM25 lexical leg. The
// lexical leg is best effort: if its candidate query fails the dense
// results still answer, just without keyword boosts.
func (s *MilvusStore) HybridSearch(ctx context.Context, collection string, queryVector []float32, queryText string, topK, overfetch, rrfK int) ([]StoreHit, error) {
	if overfetch < topK {
		overfetch = topK
	}
	if err := s.ensureLoaded(ctx, collection); err != nil {
		return nil, err
	}

	dense, err := s.denseSearch(ctx, collection, queryVector, overfetch)
	if err != nil {
		return nil, err
	}
	lexical, err := s.lexicalSearch(ctx, collection, queryText, overfetch)
	if err != nil {
		rag.GlobalLogger.Warn("lexical leg failed, using dense only", "collection", collection, "error", err)
		lexical = nil
	}
	return fuseRRF(dense, lexical, rrfK, topK), nil
}

func (s *MilvusStore) denseSearch(ctx context.Context, collection string, vector []float32, limit int) ([]StoreHit, error) {
	ef := limit
	if ef < searchEfFloor {
		ef = searchEfFloor
	}
	sp, err := entity.NewIndexHNSWSearchParam(ef)
	if err != nil {
		return nil, rag.Wrap(rag.KindStore, "build search param", err)
	}

	results, err := s.client.Search(ctx, collection, nil, "", chunkFields,
		[]entity.Vector{entity.FloatVector(vector)}, fieldVector, entity.COSINE, limit, sp)
	if err != nil {
		return nil, rag.Wrap(rag.KindStore, fmt.Sprintf("search %q", collection), err)
	}

	var hits []StoreHit
	for _, result := range results {
		for i := 0; i < result.ResultCount; i++ {
			// COSINE scores are similarities; expose the
			// conventional cosine distance in [0,2] instead.
			hits = append(hits, StoreHit{
				Chunk:       chunkFromColumns(result.Fields, i),
				Distance:    1 - float64(result.Scores[i]),
				HasDistance: true,
			})
		}
	}
	return hits, nil
}

// lexicalSearch fetches rows whose text contains a query term and ranks
// them with BM25 in process. Milvus 2.4 has no server-side BM25, so the
// candidate fetch narrows the corpus and the scoring stays identical to
// the memory backend's.
func (s *MilvusStore) lexicalSearch(ctx context.Context, collection, queryText string, limit int) ([]StoreHit, error) {
	expr := likeExpr(queryText)
	if expr == "" {
		return nil, nil
	}
	rows, err := s.client.Query(ctx, collection, nil, expr, chunkFields, client.WithLimit(int64(maxScanRows)))
	if err != nil {
		return nil, rag.Wrap(rag.KindStore, "lexical candidate query", err)
	}
	n := resultLen(rows)
	if n == 0 {
		return nil, nil
	}

	index := NewBM25Index()
	byID := make(map[string]rag.Chunk, n)
	for i := 0; i < n; i++ {
		chunk := chunkFromColumns(rows, i)
		index.Add(chunk.ChunkID, chunk.Text)
		byID[chunk.ChunkID] = chunk
	}
	hits := make([]StoreHit, 0, limit)
	for _, scored := range index.Search(queryText, limit) {
		hits = append(hits, StoreHit{Chunk: byID[scored.ChunkID]})
	}
	return hits, nil
}

// GetContextChunks queries the neighbor window of one file's chunk,
// ordered by chunk_index. The hit row itself is included.
func (s *MilvusStore) GetContextChunks(ctx context.Context, collection, fileName string, chunkIndex, window int64) ([]rag.Chunk, error) {
	if window < 0 {
		window = 0
	}
	if err := s.ensureLoaded(ctx, collection); err != nil {
		return nil, err
	}

	expr := fmt.Sprintf(`%s == "%s" && %s >= %d && %s <= %d`,
		fieldFileName, escapeExpr(fileName),
		fieldChunkIndex, chunkIndex-window,
		fieldChunkIndex, chunkIndex+window)
	rows, err := s.client.Query(ctx, collection, nil, expr, chunkFields, client.WithLimit(int64(maxScanRows)))
	if err != nil {
		return nil, rag.Wrap(rag.KindStore, "context window query", err)
	}

	n := resultLen(rows)
	chunks := make([]rag.Chunk, 0, n)
	for i := 0; i < n; i++ {
		chunks = append(chunks, chunkFromColumns(rows, i))
	}
	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].ChunkIndex < chunks[j].ChunkIndex
	})
	return chunks, nil
}

// ListCollections returns every collection in the cluster, sorted.
func (s *MilvusStore) ListCollections(ctx context.Context) ([]string, error) {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, rag.Wrap(rag.KindStore, "list collections", err)
	}
	names := make([]string, 0, len(collections))
	for _, coll := range collections {
		names = append(names, coll.Name)
	}
	sort.Strings(names)
	return names, nil
}

// GetCollectionStats reports the row count plus the distinct file names
// and mime types seen in a capped scan. A failed scan degrades to the
// row count alone rather than failing the stats call.
func (s *MilvusStore) GetCollectionStats(ctx context.Context, name string) (*CollectionStats, error) {
	has, err := s.client.HasCollection(ctx, name)
	if err != nil {
		return nil, rag.Wrap(rag.KindStore, fmt.Sprintf("check collection %q", name), err)
	}
	if !has {
		return nil, rag.Errorf(rag.KindNotFound, "collection %q not found", name)
	}

	stats := &CollectionStats{Name: name, FileNames: []string{}, MimeTypes: []string{}}
	if raw, err := s.client.GetCollectionStatistics(ctx, name); err == nil {
		if count, ok := raw["row_count"]; ok {
			stats.RowCount, _ = strconv.ParseInt(count, 10, 64)
		}
	}

	if err := s.ensureLoaded(ctx, name); err != nil {
		rag.GlobalLogger.Warn("stats scan skipped", "collection", name, "error", err)
		return stats, nil
	}
	rows, err := s.client.Query(ctx, name, nil, fmt.Sprintf(`%s != ""`, fieldChunkID),
		[]string{fieldFileName, fieldMimeType}, client.WithLimit(int64(maxScanRows)))
	if err != nil {
		rag.GlobalLogger.Warn("stats scan failed", "collection", name, "error", err)
		return stats, nil
	}

	fileNames := make(map[string]struct{})
	mimeTypes := make(map[string]struct{})
	n := 0
	if col := rows.GetColumn(fieldFileName); col != nil {
		n = col.Len()
	}
	for i := 0; i < n; i++ {
		if v := stringAt(rows, fieldFileName, i); v != "" {
			fileNames[v] = struct{}{}
		}
		if v := stringAt(rows, fieldMimeType, i); v != "" {
			mimeTypes[v] = struct{}{}
		}
	}
	stats.FileNames = sortedKeys(fileNames)
	stats.MimeTypes = sortedKeys(mimeTypes)
	return stats, nil
}

// Count reports -1: totals live per collection in milvus and are served
// by GetCollectionStats instead.
func (s *MilvusStore) Count(context.Context) int64 { return -1 }

func (s *MilvusStore) Close() error {
	return s.client.Close()
}

// likeExpr builds the lexical candidate filter: rows whose text contains
// any query term. The term list is capped to keep the expression small;
// BM25 still scores against the full query afterwards. Milvus `like` is
// case sensitive, so each term also matches its title-cased form.
func likeExpr(queryText string) string {
	terms := tokenizeText(queryText)
	if len(terms) > maxLexicalTerms {
		terms = terms[:maxLexicalTerms]
	}
	seen := make(map[string]struct{}, len(terms)*2)
	var parts []string
	for _, term := range terms {
		for _, variant := range caseVariants(term) {
			// Strip % so a term cannot widen the like match.
			escaped := escapeExpr(strings.ReplaceAll(variant, "%", ""))
			if escaped == "" {
				continue
			}
			if _, dup := seen[escaped]; dup {
				continue
			}
			seen[escaped] = struct{}{}
			parts = append(parts, fmt.Sprintf(`%s like "%%%s%%"`, fieldText, escaped))
		}
	}
	return strings.Join(parts, " || ")
}

func caseVariants(term string) []string {
	runes := []rune(term)
	if len(runes) == 0 || !unicode.IsLetter(runes[0]) {
		return []string{term}
	}
	title := make([]rune, len(runes))
	copy(title, runes)
	title[0] = unicode.ToUpper(title[0])
	if string(title) == term {
		return []string{term}
	}
	return []string{term, string(title)}
}

// escapeExpr escapes a string literal for a milvus boolean expression.
func escapeExpr(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func resultLen(rows client.ResultSet) int {
	col := rows.GetColumn(fieldChunkID)
	if col == nil {
		return 0
	}
	return col.Len()
}

func chunkFromColumns(fields client.ResultSet, i int) rag.Chunk {
	return rag.Chunk{
		ChunkID:     stringAt(fields, fieldChunkID, i),
		Text:        stringAt(fields, fieldText, i),
		FileName:    stringAt(fields, fieldFileName, i),
		FilePath:    stringAt(fields, fieldFilePath, i),
		Page:        intAt(fields, fieldPage, i),
		Section:     stringAt(fields, fieldSection, i),
		MimeType:    stringAt(fields, fieldMimeType, i),
		ChunkIndex:  intAt(fields, fieldChunkIndex, i),
		CreatedAtTS: intAt(fields, fieldCreatedAt, i),
	}
}

func stringAt(fields client.ResultSet, name string, i int) string {
	col := fields.GetColumn(name)
	if col == nil {
		return ""
	}
	val, err := col.GetAsString(i)
	if err != nil {
		return ""
	}
	return val
}

func intAt(fields client.ResultSet, name string, i int) int64 {
	col := fields.GetColumn(name)
	if col == nil {
		return 0
	}
	val, err := col.GetAsInt64(i)
	if err != nil {
		return 0
	}
	return val
}
