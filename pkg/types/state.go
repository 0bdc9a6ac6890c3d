package types

import "encoding/json"

// Message is one conversational entry in a session's message log.
type Message struct {
	ID      string `json:"id"`
	Role    string `json:"role"` // "user" | "assistant" | "system"
	Content string `json:"content"`
	Created int64  `json:"created"`
}

// ReasoningStep records one step of model reasoning surfaced to the UI.
type ReasoningStep struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Created int64  `json:"created"`
}

// ToolCallRecord captures a tool invocation and its outcome in the session
// tool-call log.
type ToolCallRecord struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Status    string          `json:"status"` // "running" | "completed" | "failed"
	Output    string          `json:"output,omitempty"`
	Created   int64           `json:"created"`
}

// Todo is one entry of the session todo list.
type Todo struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Status   string `json:"status"`   // "pending" | "in_progress" | "completed"
	Priority string `json:"priority"` // "high" | "medium" | "low"
}

// StateSnapshot is a read-only view of a session's state store, with all
// logs in chronological (oldest-first) order.
type StateSnapshot struct {
	SessionID      string           `json:"sessionID"`
	Messages       []Message        `json:"messages"`
	ReasoningSteps []ReasoningStep  `json:"reasoningSteps"`
	ToolCalls      []ToolCallRecord `json:"toolCalls"`
	Todos          []Todo           `json:"todos"`
	ScrollOffset   int              `json:"scrollOffset"`
	Streaming      bool             `json:"streaming"`
	PartialMessage string           `json:"partialMessage,omitempty"`
}
