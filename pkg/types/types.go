// Package types defines the shared memory data model.
package types

import (
	"encoding/json"
	"time"
)

// MemoryType classifies a memory item.
type MemoryType string

const (
	TypeFact           MemoryType = "fact"
	TypeClaim          MemoryType = "claim"
	TypeDerivedFact    MemoryType = "derived_fact"
	TypeAnalysis       MemoryType = "analysis"
	TypeConversation   MemoryType = "conversation"
	TypeFileContext    MemoryType = "file_context"
	TypeDecision       MemoryType = "decision"
	TypeAssumption     MemoryType = "assumption"
	TypeUserPreference MemoryType = "user_preference"
	TypeConstraint     MemoryType = "constraint"
	TypeToolResult     MemoryType = "tool_result"
)

// ValidTypes is the allow-list for memory types. Type tags arrive as free-form
// strings from callers; anything outside this table is rejected rather than
// minted as a new tag.
var ValidTypes = map[MemoryType]bool{
	TypeFact:           true,
	TypeClaim:          true,
	TypeDerivedFact:    true,
	TypeAnalysis:       true,
	TypeConversation:   true,
	TypeFileContext:    true,
	TypeDecision:       true,
	TypeAssumption:     true,
	TypeUserPreference: true,
	TypeConstraint:     true,
	TypeToolResult:     true,
}

// MaxDataBytes bounds the serialized size of a memory item's payload.
const MaxDataBytes = 100 * 1024

// MemoryItem is one persisted long-term memory entry, scoped to a session.
type MemoryItem struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Type       MemoryType     `json:"type"`
	Data       map[string]any `json:"data"`
	Importance float64        `json:"importance"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// DataSize returns the serialized byte size of the item's payload.
// A payload that cannot marshal reports -1.
func (m MemoryItem) DataSize() int {
	b, err := json.Marshal(m.Data)
	if err != nil {
		return -1
	}
	return len(b)
}

// Clone returns a deep copy; stored items are never handed out by reference.
func (m MemoryItem) Clone() MemoryItem {
	c := m
	c.Data = CloneData(m.Data)
	return c
}

// PendingMemory is a pre-promotion candidate awaiting transfer to long-term
// storage. Importance is optional; when absent it is derived from the type's
// base score with age decay applied at selection time.
type PendingMemory struct {
	ID         string         `json:"id"`
	Type       MemoryType     `json:"type,omitempty"`
	Data       map[string]any `json:"data"`
	Importance *float64       `json:"importance,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ConversationMessage is one immutable entry in the conversation buffer.
type ConversationMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// CloneData deep-copies a structured payload of maps, slices and scalars.
func CloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneData(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
