package stm

import (
	"time"

	"github.com/xiy/tiermem/pkg/types"
)

// ConversationBuffer is an ordered message log bounded by a token budget.
// When an append pushes the estimated cost over the budget's eviction
// threshold, the oldest messages are dropped and returned to the caller,
// which may archive them elsewhere.
type ConversationBuffer struct {
	budget   TokenBudget
	messages []types.ConversationMessage
	costs    []int
	tokens   int
}

// NewConversationBuffer creates an empty buffer governed by budget.
func NewConversationBuffer(budget TokenBudget) *ConversationBuffer {
	return &ConversationBuffer{budget: budget}
}

// Add appends a message, stamping its timestamp if unset, then evicts from
// the oldest end until the buffer is back under the eviction threshold.
// Evicted messages are returned oldest first.
func (b *ConversationBuffer) Add(msg types.ConversationMessage) []types.ConversationMessage {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	cost := b.budget.MessageCost(msg)
	b.messages = append(b.messages, msg)
	b.costs = append(b.costs, cost)
	b.tokens += cost

	threshold := b.budget.EvictionThreshold()
	var evicted []types.ConversationMessage
	// An oversized message may be evicted right back out; the token
	// invariant holds unconditionally.
	for b.tokens > threshold && len(b.messages) > 0 {
		evicted = append(evicted, b.messages[0])
		b.tokens -= b.costs[0]
		b.messages = b.messages[1:]
		b.costs = b.costs[1:]
	}
	return evicted
}

// Recent returns the last n messages, most recent first.
func (b *ConversationBuffer) Recent(n int) []types.ConversationMessage {
	if n <= 0 || len(b.messages) == 0 {
		return nil
	}
	if n > len(b.messages) {
		n = len(b.messages)
	}
	out := make([]types.ConversationMessage, 0, n)
	for i := len(b.messages) - 1; i >= len(b.messages)-n; i-- {
		out = append(out, b.messages[i])
	}
	return out
}

// All returns every buffered message in chronological order.
func (b *ConversationBuffer) All() []types.ConversationMessage {
	out := make([]types.ConversationMessage, len(b.messages))
	copy(out, b.messages)
	return out
}

// Trim truncates the buffer to the count most recent messages, returning the
// evicted ones oldest first. A non-positive count clears the buffer.
func (b *ConversationBuffer) Trim(count int) []types.ConversationMessage {
	if count < 0 {
		count = 0
	}
	if count >= len(b.messages) {
		return nil
	}
	cut := len(b.messages) - count
	evicted := make([]types.ConversationMessage, cut)
	copy(evicted, b.messages[:cut])
	for _, c := range b.costs[:cut] {
		b.tokens -= c
	}
	b.messages = b.messages[cut:]
	b.costs = b.costs[cut:]
	return evicted
}

// Clear drops every message.
func (b *ConversationBuffer) Clear() {
	b.messages = nil
	b.costs = nil
	b.tokens = 0
}

// CurrentTokens reports the estimated token cost of the buffered messages.
func (b *ConversationBuffer) CurrentTokens() int { return b.tokens }

// Len reports the number of buffered messages.
func (b *ConversationBuffer) Len() int { return len(b.messages) }
