package vectordb

import (
	"math"
	"sort"
	"strings"
	"sync"
)

// BM25Parameters holds the parameters for BM25 scoring.
type BM25Parameters struct {
	K1 float64 // term saturation, typically 1.2-2.0
	B  float64 // length normalization, typically 0.75
}

// DefaultBM25Parameters returns the standard parameter choice.
func DefaultBM25Parameters() BM25Parameters {
	return BM25Parameters{K1: 1.5, B: 0.75}
}

// lexicalHit is one scored document from the sparse index.
type lexicalHit struct {
	ChunkID string
	Score   float64
}

// BM25Index scores chunk texts against a query with BM25. The memory
// backend keeps one per collection and grows it on insert; the milvus
// backend builds a transient index over each query's candidate rows.
// Safe for concurrent use.
type BM25Index struct {
	mu           sync.RWMutex
	termFreq     map[string]map[string]int // chunk_id -> term -> count
	docFreq      map[string]int            // term -> number of chunks
	docLength    map[string]int            // chunk_id -> token count
	totalLength  int
	params       BM25Parameters
	preprocessor func(string) []string
}

// NewBM25Index creates an empty index with default parameters.
func NewBM25Index() *BM25Index {
	return &BM25Index{
		termFreq:     make(map[string]map[string]int),
		docFreq:      make(map[string]int),
		docLength:    make(map[string]int),
		params:       DefaultBM25Parameters(),
		preprocessor: tokenizeText,
	}
}

// tokenizeText lowercases and splits on whitespace. Both the indexed
// texts and the queries go through the same function.
func tokenizeText(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// Add indexes one chunk's text. Re-adding an id replaces its previous
// terms, keeping the corpus statistics consistent.
func (idx *BM25Index) Add(chunkID, text string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if prev, exists := idx.termFreq[chunkID]; exists {
		for term := range prev {
			idx.docFreq[term]--
			if idx.docFreq[term] == 0 {
				delete(idx.docFreq, term)
			}
		}
		idx.totalLength -= idx.docLength[chunkID]
	}

	terms := idx.preprocessor(text)
	freq := make(map[string]int, len(terms))
	for _, term := range terms {
		freq[term]++
	}

	idx.termFreq[chunkID] = freq
	idx.docLength[chunkID] = len(terms)
	idx.totalLength += len(terms)
	for term := range freq {
		idx.docFreq[term]++
	}
}

// Len reports the number of indexed chunks.
func (idx *BM25Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.termFreq)
}

// Search scores the indexed chunks against the query and returns up to
// topK hits in descending score order. Chunks sharing no query term are
// omitted; ties break on chunk id so ranking is deterministic.
func (idx *BM25Index) Search(query string, topK int) []lexicalHit {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	totalDocs := len(idx.termFreq)
	if totalDocs == 0 || topK <= 0 {
		return nil
	}
	avgLength := float64(idx.totalLength) / float64(totalDocs)

	scores := make(map[string]float64)
	for _, term := range idx.preprocessor(query) {
		df, exists := idx.docFreq[term]
		if !exists {
			continue
		}
		idf := math.Log(1 + (float64(totalDocs)-float64(df)+0.5)/(float64(df)+0.5))
		for chunkID, terms := range idx.termFreq {
			tf, exists := terms[term]
			if !exists {
				continue
			}
			docLen := float64(idx.docLength[chunkID])
			numerator := float64(tf) * (idx.params.K1 + 1)
			denominator := float64(tf) + idx.params.K1*(1-idx.params.B+idx.params.B*docLen/avgLength)
			scores[chunkID] += idf * numerator / denominator
		}
	}

	hits := make([]lexicalHit, 0, len(scores))
	for chunkID, score := range scores {
		hits = append(hits, lexicalHit{ChunkID: chunkID, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// SetParameters replaces the BM25 parameters.
func (idx *BM25Index) SetParameters(params BM25Parameters) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.params = params
}
