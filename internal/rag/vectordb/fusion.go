package vectordb

import "sort"

// fuseRRF merges a dense and a lexical result list with reciprocal rank
// fusion. Each list is assumed ordered best-first; a chunk at rank r
// (1-based) contributes 1/(k+r) to its fused score, so chunks found by
// both legs accumulate both contributions. The dense hit is kept as the
// carrier when a chunk appears in both lists so its raw distance
// survives fusion. Ties rank chunks present in both lists first, then
// fall back to chunk id for a stable order.
func fuseRRF(dense, lexical []StoreHit, k, limit int) []StoreHit {
	if k <= 0 {
		k = DefaultRRFK
	}

	type fused struct {
		hit    StoreHit
		score  float64
		inBoth bool
	}
	merged := make(map[string]*fused, len(dense)+len(lexical))

	for rank, hit := range dense {
		// Duplicate chunk ids keep their best rank.
		if _, exists := merged[hit.Chunk.ChunkID]; exists {
			continue
		}
		merged[hit.Chunk.ChunkID] = &fused{
			hit:   hit,
			score: 1.0 / float64(k+rank+1),
		}
	}
	for rank, hit := range lexical {
		contribution := 1.0 / float64(k+rank+1)
		if entry, exists := merged[hit.Chunk.ChunkID]; exists {
			entry.score += contribution
			entry.inBoth = true
			continue
		}
		merged[hit.Chunk.ChunkID] = &fused{hit: hit, score: contribution}
	}

	results := make([]StoreHit, 0, len(merged))
	for _, entry := range merged {
		entry.hit.RRFScore = entry.score
		results = append(results, entry.hit)
	}
	inBoth := func(h StoreHit) bool {
		entry := merged[h.Chunk.ChunkID]
		return entry != nil && entry.inBoth
	}
	sort.Slice(results, func(i, j int) bool {
		si, sj := results[i].RRFScore, results[j].RRFScore
		if si != sj {
			return si > sj
		}
		bi, bj := inBoth(results[i]), inBoth(results[j])
		if bi != bj {
			return bi
		}
		return results[i].Chunk.ChunkID < results[j].Chunk.ChunkID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
