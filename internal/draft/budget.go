// internal/draft/budget.go
package draft

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter returns the token count for a string.
type TokenCounter func(string) int

// NewTiktokenCounter selects the tokenizer for model, falling back to
// cl100k_base for unknown models.
func NewTiktokenCounter(model string) (TokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return func(s string) int {
		return len(enc.Encode(s, nil, nil))
	}, nil
}

// ApproxCounter estimates four bytes per token. Used when no tokenizer can be loaded.
func ApproxCounter(s string) int {
	return (len(s) + 3) / 4
}

// Budget trims serialized states to fit a token limit.
type Budget struct {
	count     TokenCounter
	maxTokens int
}

// NewBudget returns a budget of maxTokens. maxTokens <= 0 disables trimming.
func NewBudget(count TokenCounter, maxTokens int) *Budget {
	if count == nil {
		count = ApproxCounter
	}
	return &Budget{count: count, maxTokens: maxTokens}
}

// Trim keeps the header line and as many of the most recent event lines as
// fit. The newest line is always kept, even if it alone exceeds the budget.
func (b *Budget) Trim(state string) string {
	if b == nil || b.maxTokens <= 0 || b.count(state) <= b.maxTokens {
		return state
	}
	lines := strings.Split(state, "\n")
	if len(lines) <= 2 {
		return state
	}

	header := lines[0]
	used := b.count(header)
	start := len(lines) - 1
	used += b.count(lines[start])
	for i := start - 1; i >= 1; i-- {
		cost := b.count(lines[i]) + 1
		if used+cost > b.maxTokens {
			break
		}
		used += cost
		start = i
	}
	return header + "\n" + strings.Join(lines[start:], "\n")
}
