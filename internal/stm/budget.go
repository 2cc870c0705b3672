// Package stm holds the per-session short-term memory structures: the
// token-budgeted conversation buffer, the working-context scratchpad and the
// promotion queue. Each session has exactly one logical owner, so nothing in
// this package locks.
package stm

import (
	"math"

	"github.com/xiy/tiermem/pkg/types"
)

// TokenBudget is a pure eviction policy for the conversation buffer. It is
// configuration only; a single budget is shared by reference across the
// buffer's lifetime.
type TokenBudget struct {
	MaxTokens         int
	ReservePercentage float64
	OverheadThreshold float64
}

// DefaultBudget returns the budget used when a session supplies none.
func DefaultBudget() TokenBudget {
	return TokenBudget{
		MaxTokens:         8192,
		ReservePercentage: 0.1,
		OverheadThreshold: 0.05,
	}
}

// EvictionThreshold is the token level above which the buffer evicts. The
// reserve percentage keeps headroom for the next message before eviction has
// to run mid-turn.
func (b TokenBudget) EvictionThreshold() int {
	return int(float64(b.MaxTokens) * (1 - b.ReservePercentage))
}

// MessageCost estimates the token cost of one message, including the
// structural overhead fraction for role and framing tokens.
func (b TokenBudget) MessageCost(msg types.ConversationMessage) int {
	base := EstimateTokens(msg.Content) + EstimateTokens(string(msg.Role))
	return int(math.Ceil(float64(base) * (1 + b.OverheadThreshold)))
}

// EstimateTokens is a rough rune-count approximation for prompt budgeting.
func EstimateTokens(s string) int {
	runes := len([]rune(s))
	t := int(math.Ceil(float64(runes) / 4.0))
	if t < 1 {
		return 1
	}
	return t
}
