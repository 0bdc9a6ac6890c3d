// Package policy implements the permission-decision engine for tool calls.
//
// A policy is three lists of glob patterns over literal "category:action"
// strings (e.g. "Edit:*", "run_command:git*"). Evaluation order is fixed:
// deny, then ask, then allow, first match per tier wins; an action matching
// no pattern at all is allowed. Matchers are compiled once and cached
// process-wide so repeated tool calls do not pay a recompilation cost.
package policy

import (
	"regexp"
	"strings"
	"sync"

	"github.com/atelier-dev/atelier/pkg/types"
)

// Decision is the outcome of a permission check.
type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
	Ask   Decision = "ask"
)

// Engine evaluates one policy. Engines are cheap to build; compiled matchers
// are shared across all engines.
type Engine struct {
	policy types.PermissionPolicy
}

// NewEngine creates an engine for the given policy. A nil policy permits
// everything (default-allow).
func NewEngine(p *types.PermissionPolicy) *Engine {
	e := &Engine{}
	if p != nil {
		e.policy = *p
	}
	return e
}

// Evaluate resolves the decision for a "category:action" pair.
func (e *Engine) Evaluate(category, action string) Decision {
	key := category + ":" + action
	switch {
	case matchAny(e.policy.Deny, key):
		return Deny
	case matchAny(e.policy.Ask, key):
		return Ask
	case matchAny(e.policy.Allow, key):
		return Allow
	default:
		// No pattern claimed the action: default-allow.
		return Allow
	}
}

func matchAny(patterns []string, key string) bool {
	for _, pattern := range patterns {
		if Match(pattern, key) {
			return true
		}
	}
	return false
}

// matcherCache holds compiled pattern matchers keyed by pattern text.
var matcherCache sync.Map // string -> *regexp.Regexp

// Match reports whether key matches pattern. '*' matches any run of
// characters (including none) over the literal key; everything else is
// literal and case-sensitive.
func Match(pattern, key string) bool {
	re := compile(pattern)
	return re.MatchString(key)
}

func compile(pattern string) *regexp.Regexp {
	if cached, ok := matcherCache.Load(pattern); ok {
		return cached.(*regexp.Regexp)
	}

	parts := strings.Split(pattern, "*")
	quoted := make([]string, len(parts))
	for i, part := range parts {
		quoted[i] = regexp.QuoteMeta(part)
	}
	re := regexp.MustCompile("^" + strings.Join(quoted, ".*") + "$")
	actual, _ := matcherCache.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp)
}
