package rpc

// ToolDefinition models tool metadata for tools/list.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func toolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "memory_remember",
			Description: "Append a conversation message to the session's token-budgeted buffer.",
			InputSchema: jsonSchema(map[string]any{
				"session_id": propString("Session identifier."),
				"role":       propStringEnum("Message author.", []string{"user", "assistant", "system"}),
				"content":    propString("Message text."),
			}, []string{"session_id", "content"}),
		},
		{
			Name:        "memory_store",
			Description: "Write a memory to long-term storage, or queue it for importance-gated promotion.",
			InputSchema: jsonSchema(map[string]any{
				"session_id": propString("Session identifier."),
				"id":         propString("Optional memory id; minted when omitted."),
				"type":       propString("Memory type (fact, analysis, file_context, ...)."),
				"data": map[string]any{
					"type":        "object",
					"description": "Memory payload.",
				},
				"importance": propNumber("Importance 0.0-1.0."),
				"queue":      propBoolean("Queue for promotion instead of writing directly."),
			}, []string{"session_id", "data"}),
		},
		{
			Name:        "memory_recall",
			Description: "Search the session's long-term memories by keywords, ranked by relevance.",
			InputSchema: jsonSchema(map[string]any{
				"session_id": propString("Session identifier."),
				"keywords": map[string]any{
					"type":        "array",
					"description": "Keywords matched against memory payloads.",
					"items":       map[string]any{"type": "string"},
				},
				"type":           propString("Optional memory type filter."),
				"min_importance": propNumber("Optional minimum importance."),
				"limit":          propNumber("Maximum results."),
			}, []string{"session_id"}),
		},
		{
			Name:        "memory_promote",
			Description: "Run one promotion batch, moving ready pending memories to long-term storage.",
			InputSchema: jsonSchema(map[string]any{
				"session_id": propString("Session identifier."),
			}, []string{"session_id"}),
		},
		{
			Name:        "context_put",
			Description: "Store key-value entries in the session's working context.",
			InputSchema: jsonSchema(map[string]any{
				"session_id": propString("Session identifier."),
				"entries": map[string]any{
					"type":        "object",
					"description": "Entries to store; all stored or none.",
				},
			}, []string{"session_id", "entries"}),
		},
		{
			Name:        "context_enrich",
			Description: "Recall memories and package them with a summary under a token budget.",
			InputSchema: jsonSchema(map[string]any{
				"session_id": propString("Session identifier."),
				"keywords": map[string]any{
					"type":        "array",
					"description": "Keywords matched against memory payloads.",
					"items":       map[string]any{"type": "string"},
				},
				"type":             propString("Optional memory type filter."),
				"min_importance":   propNumber("Optional minimum importance."),
				"limit":            propNumber("Maximum candidate memories."),
				"max_tokens":       propNumber("Approximate token budget for the bundle."),
				"group_by":         propStringEnum("Result ordering.", []string{"type", "recency"}),
				"include_metadata": propBoolean("Whether to include match scores and reasons."),
			}, []string{"session_id"}),
		},
		{
			Name:        "session_stats",
			Description: "Report buffer, context, pending and long-term counts for a session.",
			InputSchema: jsonSchema(map[string]any{
				"session_id": propString("Session identifier."),
			}, []string{"session_id"}),
		},
	}
}

func jsonSchema(properties map[string]any, required []string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func propString(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func propStringEnum(description string, values []string) map[string]any {
	return map[string]any{"type": "string", "description": description, "enum": values}
}

func propNumber(description string) map[string]any {
	return map[string]any{"type": "number", "description": description}
}

func propBoolean(description string) map[string]any {
	return map[string]any{"type": "boolean", "description": description}
}
