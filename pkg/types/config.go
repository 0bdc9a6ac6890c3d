package types

// Config is the merged runtime configuration consumed by the core. It is
// produced by the settings loader from a global file, an optional
// project-local file (local extends global), and environment overrides.
type Config struct {
	Provider    string  `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model       string  `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`

	// MaxSessions bounds the number of concurrently active sessions.
	MaxSessions int `json:"maxSessions,omitempty" yaml:"maxSessions,omitempty"`

	Permission *PermissionPolicy `json:"permission,omitempty" yaml:"permission,omitempty"`

	// AllowedCommands extends the built-in shell command allow-list.
	AllowedCommands []string `json:"allowedCommands,omitempty" yaml:"allowedCommands,omitempty"`
}

// DefaultMaxSessions is the registry capacity used when MaxSessions is unset.
const DefaultMaxSessions = 10

// SessionConfigFrom derives a per-session configuration from the merged
// runtime configuration.
func (c *Config) SessionConfigFrom() SessionConfig {
	sc := SessionConfig{
		Provider:        c.Provider,
		Model:           c.Model,
		Temperature:     c.Temperature,
		MaxTokens:       c.MaxTokens,
		AllowedCommands: append([]string{}, c.AllowedCommands...),
	}
	if c.Permission != nil {
		sc.Permission = &PermissionPolicy{
			Allow: append([]string{}, c.Permission.Allow...),
			Deny:  append([]string{}, c.Permission.Deny...),
			Ask:   append([]string{}, c.Permission.Ask...),
		}
	}
	return sc
}
