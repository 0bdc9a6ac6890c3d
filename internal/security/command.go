package security

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// DefaultAllowedCommands is the built-in executable allow-list. Interpreters
// (sh, python, node, ...) are deliberately absent: piping into one is the
// canonical shell-escape vector, and an allow-listed command feeding a
// non-allow-listed interpreter must fail.
var DefaultAllowedCommands = []string{
	"ls", "cat", "echo", "pwd", "head", "tail", "wc", "sort", "uniq",
	"grep", "find", "diff", "cut", "tr", "which", "true", "false",
	"mkdir", "touch", "cp", "mv", "rm",
	"git", "go", "gofmt", "make",
}

// AllowedCommands merges the default allow-list with extra entries from
// configuration, deduplicated.
func AllowedCommands(extra []string) []string {
	seen := make(map[string]bool, len(DefaultAllowedCommands)+len(extra))
	merged := make([]string, 0, len(DefaultAllowedCommands)+len(extra))
	for _, name := range append(append([]string{}, DefaultAllowedCommands...), extra...) {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		merged = append(merged, name)
	}
	return merged
}

// ValidateCommand parses command as bash and checks every simple command in
// it, including those nested in pipelines, subshells, and command
// substitutions, against the allow-list. Dynamic command names (variable or
// substitution results) are always rejected.
func ValidateCommand(command string, allowed []string) error {
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("%w: empty command", ErrNotAllowed)
	}

	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return fmt.Errorf("%w: unparseable command: %v", ErrNotAllowed, err)
	}

	allowSet := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allowSet[name] = true
	}

	var checkErr error
	syntax.Walk(file, func(node syntax.Node) bool {
		if checkErr != nil {
			return false
		}
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) == 0 {
			return true
		}
		name := wordToString(call.Args[0])
		switch {
		case name == "":
			// Bare assignment, e.g. FOO=bar; nothing to execute.
		case strings.ContainsAny(name, "$`"):
			checkErr = fmt.Errorf("%w: dynamic command name %q", ErrNotAllowed, name)
		case !allowSet[basename(name)]:
			checkErr = fmt.Errorf("%w: %s", ErrNotAllowed, name)
		}
		return true
	})
	return checkErr
}

// wordToString flattens a parsed word into its literal text. Variable and
// substitution parts keep their markers so callers can detect them.
func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			// Quoting does not make an expansion literal; "$X" as a command
			// name must keep its marker so it is rejected as dynamic.
			for _, qp := range p.Parts {
				switch q := qp.(type) {
				case *syntax.Lit:
					sb.WriteString(q.Value)
				case *syntax.ParamExp:
					sb.WriteString("$" + q.Param.Value)
				case *syntax.CmdSubst:
					sb.WriteString("$()")
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$" + p.Param.Value)
		case *syntax.CmdSubst:
			sb.WriteString("$()")
		}
	}
	return sb.String()
}

// basename strips a leading path so "/bin/ls" and "ls" check the same
// allow-list entry. A path-qualified disallowed binary still fails.
func basename(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}
