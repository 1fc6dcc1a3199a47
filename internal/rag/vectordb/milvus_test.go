package vectordb

import (
	"strings"
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLikeExprBuildsCaseVariants(t *testing.T) {
	expr := likeExpr("brake pads")
	assert.Contains(t, expr, `text like "%brake%"`)
	assert.Contains(t, expr, `text like "%Brake%"`)
	assert.Contains(t, expr, `text like "%pads%"`)
	assert.Contains(t, expr, `text like "%Pads%"`)
	assert.Contains(t, expr, " || ")
}

func TestLikeExprStripsWildcardAndDedupes(t *testing.T) {
	expr := likeExpr("100% 100%")
	assert.Equal(t, `text like "%100%"`, expr)
}

func TestLikeExprEmptyQuery(t *testing.T) {
	assert.Empty(t, likeExpr(""))
	assert.Empty(t, likeExpr("   "))
	assert.Empty(t, likeExpr("%%%"))
}

func TestLikeExprCapsTermCount(t *testing.T) {
	expr := likeExpr("a1 a2 a3 a4 a5 a6 a7 a8 a9 a10 a11 a12")
	// Each capped term yields its lower and title-cased clause.
	assert.Equal(t, maxLexicalTerms*2, strings.Count(expr, "like"))
	assert.NotContains(t, expr, "a9")
}

func TestEscapeExpr(t *testing.T) {
	assert.Equal(t, `manual \"v2\"`, escapeExpr(`manual "v2"`))
	assert.Equal(t, `path\\to`, escapeExpr(`path\to`))
	assert.Equal(t, `50% off`, escapeExpr(`50% off`))
}

func TestCaseVariants(t *testing.T) {
	assert.Equal(t, []string{"brake", "Brake"}, caseVariants("brake"))
	assert.Equal(t, []string{"Brake"}, caseVariants("Brake"))
	assert.Equal(t, []string{"123"}, caseVariants("123"))
	assert.Equal(t, []string{""}, caseVariants(""))
}

func TestTruncateRunesIsMultibyteSafe(t *testing.T) {
	assert.Equal(t, "héll", truncateRunes("héllo", 4))
	assert.Equal(t, "ok", truncateRunes("ok", 10))
}

func TestChunkFromColumnsReadsAllFields(t *testing.T) {
	fields := client.ResultSet{
		entity.NewColumnVarChar(fieldChunkID, []string{"c-1"}),
		entity.NewColumnVarChar(fieldText, []string{"body text"}),
		entity.NewColumnVarChar(fieldFileName, []string{"manual.pdf"}),
		entity.NewColumnVarChar(fieldFilePath, []string{"/docs/manual.pdf"}),
		entity.NewColumnInt64(fieldPage, []int64{12}),
		entity.NewColumnVarChar(fieldSection, []string{"brakes"}),
		entity.NewColumnVarChar(fieldMimeType, []string{"application/pdf"}),
		entity.NewColumnInt64(fieldChunkIndex, []int64{3}),
		entity.NewColumnInt64(fieldCreatedAt, []int64{1700000000}),
	}

	chunk := chunkFromColumns(fields, 0)
	assert.Equal(t, "c-1", chunk.ChunkID)
	assert.Equal(t, "body text", chunk.Text)
	assert.Equal(t, "manual.pdf", chunk.FileName)
	assert.Equal(t, "/docs/manual.pdf", chunk.FilePath)
	assert.EqualValues(t, 12, chunk.Page)
	assert.Equal(t, "brakes", chunk.Section)
	assert.Equal(t, "application/pdf", chunk.MimeType)
	assert.EqualValues(t, 3, chunk.ChunkIndex)
	assert.EqualValues(t, 1700000000, chunk.CreatedAtTS)
}

func TestChunkFromColumnsToleratesMissingColumns(t *testing.T) {
	fields := client.ResultSet{
		entity.NewColumnVarChar(fieldChunkID, []string{"c-1"}),
	}
	chunk := chunkFromColumns(fields, 0)
	assert.Equal(t, "c-1", chunk.ChunkID)
	assert.Empty(t, chunk.Text)
	assert.Zero(t, chunk.ChunkIndex)
	require.Equal(t, 1, resultLen(fields))
}

func TestResultLenWithoutIDColumn(t *testing.T) {
	assert.Zero(t, resultLen(client.ResultSet{}))
}
