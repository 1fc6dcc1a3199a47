package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateEmptyText(t *testing.T) {
	exact := DefaultEstimator()
	heuristic := &Estimator{}

	assert.Equal(t, 1, exact.Estimate(""))
	assert.Equal(t, 1, heuristic.Estimate(""))
}

func TestEstimateHeuristic(t *testing.T) {
	e := &Estimator{}

	assert.Equal(t, 1, e.Estimate("abc"))
	assert.Equal(t, 2, e.Estimate("abcdefgh"))
	assert.Equal(t, 25, e.Estimate(strings.Repeat("x", 100)))
}

func TestEstimateMonotonicInLength(t *testing.T) {
	e := DefaultEstimator()

	short := e.Estimate("hello world")
	long := e.Estimate(strings.Repeat("hello world ", 50))
	assert.GreaterOrEqual(t, short, 1)
	assert.Greater(t, long, short)
}

func TestTruncateToTokens(t *testing.T) {
	text := strings.Repeat("the quick brown fox jumps over the lazy dog ", 30)

	for _, e := range []*Estimator{DefaultEstimator(), {}} {
		assert.Equal(t, "", e.TruncateToTokens(text, 0))
		assert.Equal(t, "", e.TruncateToTokens(text, -5))
		assert.Equal(t, "", e.TruncateToTokens("", 10))

		// Fits untouched.
		assert.Equal(t, text, e.TruncateToTokens(text, 1<<20))

		// Truncation respects the budget.
		out := e.TruncateToTokens(text, 20)
		require.NotEmpty(t, out)
		assert.Less(t, len(out), len(text))
		assert.LessOrEqual(t, e.Estimate(out), 20)
	}
}

func TestCountInMessages(t *testing.T) {
	e := &Estimator{}

	// Empty content still estimates to one token: 4 + 1 per message, +3 priming.
	assert.Equal(t, 3, e.CountInMessages(nil))
	assert.Equal(t, 8, e.CountInMessages([]Message{{Role: "user"}}))
	assert.Equal(t, 13, e.CountInMessages([]Message{{Role: "user"}, {Role: "assistant"}}))

	withContent := e.CountInMessages([]Message{{Role: "user", Content: "hello there"}})
	assert.Equal(t, 4+e.Estimate("hello there")+3, withContent)
}

func TestExceedsContext(t *testing.T) {
	e := DefaultEstimator()
	text := strings.Repeat("token budget check ", 100)
	n := e.Estimate(text)

	assert.False(t, e.ExceedsContext(text, n+DefaultContextBuffer, DefaultContextBuffer))
	assert.True(t, e.ExceedsContext(text, n+DefaultContextBuffer-1, DefaultContextBuffer))
	assert.True(t, e.ExceedsContext(text, 100, 100))
}
