package types

import "encoding/json"

// ToolCall is a named operation with arguments submitted for execution
// against a session's sandbox and boundary.
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`

	// Approved marks a re-submission after the caller obtained explicit
	// user approval for an ask-tier decision.
	Approved bool `json:"approved,omitempty"`
}

// ToolResult is the outcome of a tool call.
type ToolResult struct {
	OK      bool   `json:"ok"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`

	// NeedsApproval is set when the permission decision was "ask"; the
	// handler did not run and the caller must re-invoke with Approved set.
	NeedsApproval bool `json:"needsApproval,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}
