// Package types provides the core data types shared across the atelier runtime.
package types

// Session represents one supervised unit of work scoped to a single project
// directory.
type Session struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	ProjectPath string        `json:"projectPath"`
	Config      SessionConfig `json:"config"`
	Time        SessionTime   `json:"time"`
}

// SessionConfig holds the effective per-session configuration, merged from
// global and project-local settings before the session is created.
type SessionConfig struct {
	Provider        string            `json:"provider,omitempty"`
	Model           string            `json:"model,omitempty"`
	Temperature     float64           `json:"temperature,omitempty"`
	MaxTokens       int               `json:"maxTokens,omitempty"`
	Permission      *PermissionPolicy `json:"permission,omitempty"`
	AllowedCommands []string          `json:"allowedCommands,omitempty"`
}

// SessionTime contains timestamps for a session, in Unix milliseconds.
type SessionTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}
