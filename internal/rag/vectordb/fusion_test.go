package vectordb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advanced-rag/vector-gateway/internal/rag"
)

func hit(id string) StoreHit {
	return StoreHit{Chunk: rag.Chunk{ChunkID: id, Text: "text of " + id}}
}

func denseHit(id string, distance float64) StoreHit {
	h := hit(id)
	h.Distance = distance
	h.HasDistance = true
	return h
}

func TestFuseRRFSumsContributionsAcrossLegs(t *testing.T) {
	dense := []StoreHit{denseHit("a", 0.1), denseHit("b", 0.2)}
	lexical := []StoreHit{hit("b"), hit("a")}

	fused := fuseRRF(dense, lexical, 60, 10)
	require.Len(t, fused, 2)

	// a: dense rank 1 + lexical rank 2; b: dense rank 2 + lexical rank 1.
	// Equal sums, so chunk id breaks the tie.
	assert.Equal(t, "a", fused[0].Chunk.ChunkID)
	assert.Equal(t, "b", fused[1].Chunk.ChunkID)
	assert.InDelta(t, 1.0/61+1.0/62, fused[0].RRFScore, 1e-12)
	assert.InDelta(t, fused[0].RRFScore, fused[1].RRFScore, 1e-12)
}

func TestFuseRRFBothLegsOutrankOneLeg(t *testing.T) {
	dense := []StoreHit{denseHit("only-dense", 0.05), denseHit("both", 0.3)}
	lexical := []StoreHit{hit("both")}

	fused := fuseRRF(dense, lexical, 60, 10)
	require.Len(t, fused, 2)
	assert.Equal(t, "both", fused[0].Chunk.ChunkID)
	assert.Greater(t, fused[0].RRFScore, fused[1].RRFScore)
}

func TestFuseRRFKeepsDenseDistanceForSharedChunks(t *testing.T) {
	dense := []StoreHit{denseHit("a", 0.25)}
	lexical := []StoreHit{hit("a")}

	fused := fuseRRF(dense, lexical, 60, 10)
	require.Len(t, fused, 1)
	assert.True(t, fused[0].HasDistance)
	assert.InDelta(t, 0.25, fused[0].Distance, 1e-12)
}

func TestFuseRRFLexicalOnlyChunkHasNoDistance(t *testing.T) {
	fused := fuseRRF(nil, []StoreHit{hit("lex")}, 60, 10)
	require.Len(t, fused, 1)
	assert.False(t, fused[0].HasDistance)
}

func TestFuseRRFLimit(t *testing.T) {
	dense := []StoreHit{denseHit("a", 0), denseHit("b", 0), denseHit("c", 0)}
	fused := fuseRRF(dense, nil, 60, 2)
	require.Len(t, fused, 2)
	assert.Equal(t, "a", fused[0].Chunk.ChunkID)
	assert.Equal(t, "b", fused[1].Chunk.ChunkID)
}

func TestFuseRRFDuplicateDenseIDKeepsBestRank(t *testing.T) {
	dense := []StoreHit{denseHit("dup", 0.1), denseHit("dup", 0.9), denseHit("other", 0.2)}
	fused := fuseRRF(dense, nil, 60, 10)
	require.Len(t, fused, 2)
	assert.Equal(t, "dup", fused[0].Chunk.ChunkID)
	assert.InDelta(t, 1.0/61, fused[0].RRFScore, 1e-12)
	assert.InDelta(t, 0.1, fused[0].Distance, 1e-12)
}

func TestFuseRRFZeroKUsesDefault(t *testing.T) {
	fused := fuseRRF([]StoreHit{denseHit("a", 0)}, nil, 0, 10)
	require.Len(t, fused, 1)
	assert.InDelta(t, 1.0/float64(DefaultRRFK+1), fused[0].RRFScore, 1e-12)
}
