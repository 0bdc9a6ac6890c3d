package event

import (
	"encoding/json"

	"github.com/atelier-dev/atelier/pkg/types"
)

// Type identifies the kind of event on the bus.
type Type string

const (
	SessionCreated   Type = "session.created"
	SessionUpdated   Type = "session.updated"
	SessionStopped   Type = "session.stopped"
	SessionRestarted Type = "session.restarted"
	ToolCallStarted  Type = "tool_call"
	ToolCallResult   Type = "tool_result"
	StreamChunk      Type = "stream_chunk"
	StreamEnd        Type = "stream_end"
)

// Event is a tagged payload published to a session topic and mirrored to the
// global topic.
type Event struct {
	Type      Type   `json:"type"`
	SessionID string `json:"sessionID,omitempty"`
	Data      any    `json:"data"`
}

// SessionData carries the session object for lifecycle events.
type SessionData struct {
	Info *types.Session `json:"info"`
}

// ToolCallData is published when a tool call is dispatched.
type ToolCallData struct {
	Name      string          `json:"name"`
	Args      json.RawMessage `json:"args,omitempty"`
	CallID    string          `json:"callID"`
	SessionID string          `json:"sessionID"`
}

// ToolResultData is published when a tool call completes or fails.
type ToolResultData struct {
	Result    *types.ToolResult `json:"result"`
	CallID    string            `json:"callID"`
	SessionID string            `json:"sessionID"`
}

// StreamChunkData is published for each partial chunk of a streaming
// assistant message.
type StreamChunkData struct {
	SessionID string `json:"sessionID"`
	Text      string `json:"text"`
}

// StreamEndData is published when a streaming message is finalized.
type StreamEndData struct {
	SessionID string         `json:"sessionID"`
	FullText  string         `json:"fullText"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
