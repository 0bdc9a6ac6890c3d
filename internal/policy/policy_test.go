package policy

import (
	"testing"

	"github.com/atelier-dev/atelier/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		matches bool
	}{
		{"Edit:*", "Edit:replace", true},
		{"Edit:*", "Edit:", true},
		{"Edit:*", "Read:file", false},
		{"*", "anything:at all", true},
		{"run_command:git*", "run_command:git", true},
		{"run_command:git*", "run_command:git push", true},
		{"run_command:git*", "run_command:gitk", true},
		{"run_command:git*", "run_command:rm", false},
		{"Read:file", "Read:file", true},
		{"Read:file", "read:file", false}, // case-sensitive
		{"*:delete", "Write:delete", true},
		{"*:delete", "Write:deleted", false},
		{"a*c", "abc", true},
		{"a*c", "ac", true},
		{"a*c", "abx", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.matches, Match(tt.pattern, tt.key))
		})
	}
}

func TestEvaluatePrecedence(t *testing.T) {
	// All three tiers have a pattern matching the same action: deny wins.
	e := NewEngine(&types.PermissionPolicy{
		Allow: []string{"run_command:*"},
		Deny:  []string{"run_command:rm*"},
		Ask:   []string{"run_command:rm -rf*"},
	})

	assert.Equal(t, Deny, e.Evaluate("run_command", "rm -rf /tmp/x"))
	assert.Equal(t, Allow, e.Evaluate("run_command", "git status"))
}

func TestEvaluateAskBeatsAllow(t *testing.T) {
	e := NewEngine(&types.PermissionPolicy{
		Allow: []string{"Edit:*"},
		Ask:   []string{"Edit:*"},
	})
	assert.Equal(t, Ask, e.Evaluate("Edit", "replace"))
}

func TestEvaluateDefaultAllow(t *testing.T) {
	e := NewEngine(&types.PermissionPolicy{
		Deny: []string{"Write:*"},
	})
	assert.Equal(t, Allow, e.Evaluate("Read", "file"))
	assert.Equal(t, Deny, e.Evaluate("Write", "file"))
}

func TestEvaluateNilPolicy(t *testing.T) {
	e := NewEngine(nil)
	assert.Equal(t, Allow, e.Evaluate("Edit", "anything"))
}

func TestMatcherCacheReuse(t *testing.T) {
	// Same pattern twice must hit the cache and agree.
	first := Match("cache:test*", "cache:test123")
	second := Match("cache:test*", "cache:test123")
	assert.True(t, first)
	assert.True(t, second)

	cached, ok := matcherCache.Load("cache:test*")
	assert.True(t, ok)
	assert.NotNil(t, cached)
}
