package rag

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used for all token estimates.
const DefaultEncoding = "cl100k_base"

// DefaultContextBuffer is the safety margin ExceedsContext reserves for
// prompts and responses.
const DefaultContextBuffer = 2048

const (
	perMessageTokens = 4
	primingTokens    = 3
)

// Estimator approximates token counts for batch sizing and per-input
// truncation. It uses the exact BPE encoding when it loads and falls back
// to the bytes/4 heuristic otherwise. Estimators are immutable and safe
// for concurrent use.
type Estimator struct {
	enc *tiktoken.Tiktoken
}

var (
	defaultEstimator     *Estimator
	defaultEstimatorOnce sync.Once
)

// NewEstimator loads the named tiktoken encoding. When the encoding cannot
// be loaded (offline build, unknown name) the estimator still works using
// the heuristic only.
func NewEstimator(encoding string) *Estimator {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		GlobalLogger.Warn("tiktoken encoding unavailable, falling back to heuristic",
			"encoding", encoding, "error", err)
		return &Estimator{}
	}
	return &Estimator{enc: enc}
}

// DefaultEstimator returns the shared cl100k_base estimator, built once.
func DefaultEstimator() *Estimator {
	defaultEstimatorOnce.Do(func() {
		defaultEstimator = NewEstimator(DefaultEncoding)
	})
	return defaultEstimator
}

// Estimate returns the approximate token count of text. Empty text counts
// as a single token so batch accounting never divides by zero.
func (e *Estimator) Estimate(text string) int {
	if text == "" {
		return 1
	}
	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	return heuristicTokens(text)
}

// heuristicTokens assumes ~4 bytes per token for English-ish text.
func heuristicTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		return 1
	}
	return n
}

// TruncateToTokens shortens text so it fits within maxTokens. With the
// exact encoding the cut is token-precise; otherwise the text is cut by
// character ratio. maxTokens <= 0 yields "".
func (e *Estimator) TruncateToTokens(text string, maxTokens int) string {
	if text == "" || maxTokens <= 0 {
		return ""
	}
	if e.enc != nil {
		tokens := e.enc.Encode(text, nil, nil)
		if len(tokens) <= maxTokens {
			return text
		}
		return e.enc.Decode(tokens[:maxTokens])
	}
	estimated := heuristicTokens(text)
	if estimated <= maxTokens {
		return text
	}
	keep := int(float64(len(text)) * float64(maxTokens) / float64(estimated))
	if keep < 1 {
		keep = 1
	}
	return text[:keep]
}

// ExceedsContext reports whether text would overflow a model context of
// contextLimit tokens once buffer tokens are reserved for prompt scaffolding
// and the response.
func (e *Estimator) ExceedsContext(text string, contextLimit, buffer int) bool {
	allowed := contextLimit - buffer
	if allowed < 0 {
		allowed = 0
	}
	return e.Estimate(text) > allowed
}

// Message is a chat-style message for CountInMessages.
type Message struct {
	Role    string
	Content string
}

// CountInMessages estimates tokens across chat messages: content tokens
// plus 4 per message for role markers, plus 3 priming tokens.
func (e *Estimator) CountInMessages(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += perMessageTokens
		total += e.Estimate(m.Content)
	}
	return total + primingTokens
}
