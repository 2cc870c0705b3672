package stm

import "github.com/xiy/tiermem/pkg/types"

// Options configure a session's short-term memory.
type Options struct {
	Budget          TokenBudget
	ContextCapacity int
	PendingCapacity int
}

// Memory aggregates the short-term structures for one session: the bounded
// conversation buffer, the working-context scratchpad and the promotion
// queue. Exactly one logical owner mutates it at a time, so operations are
// plain value transformations with no locking. Callers must finish any disk
// or network I/O before handing data in; nothing here blocks.
type Memory struct {
	SessionID string
	Buffer    *ConversationBuffer
	Context   *WorkingContext
	Pending   *PendingMemories
}

// New creates the short-term memory for a session. Zero-valued options fall
// back to defaults.
func New(sessionID string, opts Options) *Memory {
	budget := opts.Budget
	if budget.MaxTokens <= 0 {
		budget = DefaultBudget()
	}
	return &Memory{
		SessionID: sessionID,
		Buffer:    NewConversationBuffer(budget),
		Context:   NewWorkingContext(opts.ContextCapacity),
		Pending:   NewPendingMemories(opts.PendingCapacity),
	}
}

// Clear resets all three structures; the session itself stays open.
func (m *Memory) Clear() {
	m.Buffer.Clear()
	m.Context.Clear()
	m.Pending.RemoveWhere(func(types.PendingMemory) bool { return true })
}
