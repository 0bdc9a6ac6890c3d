// Package sandbox provides the embedded scripting engine owned by each
// session runtime.
//
// Scripts are POSIX shell (bash variant) interpreted in-process by
// mvdan.cc/sh; nothing is ever forked. The interpreter's filesystem is an
// afero BasePathFs jail rooted at the session's project root, and its
// execution surface is a fixed set of builtins implemented over that jail.
// There is no raw process spawning and no file I/O outside the boundary.
//
// A sandbox is stateful and strictly sequential: environment variables and
// the working directory persist, so the results of one Run are visible to
// the next. The owning session runtime serializes all calls.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/atelier-dev/atelier/internal/security"
)

// MaxOutputLength caps captured script output.
const MaxOutputLength = 30000

// Sandbox is one session's scripting engine.
type Sandbox struct {
	root string
	fs   afero.Fs

	// cwd is jail-relative and always absolute within the jail; "/" is the
	// project root. Path cleaning clamps ".." at the jail root, so the
	// boundary holds regardless of script input. runCwd is the working
	// directory of the in-flight script; it is committed to cwd only when
	// the script succeeds.
	cwd    string
	runCwd string
	env    map[string]string

	parser *syntax.Parser
	stdout bytes.Buffer
	stderr bytes.Buffer
}

// New creates a sandbox jailed to root, which must be an existing directory.
func New(root string) (*Sandbox, error) {
	canon, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("sandbox root unavailable: %w", err)
	}
	base := afero.NewBasePathFs(afero.NewOsFs(), canon)
	if _, err := base.Stat("/"); err != nil {
		return nil, fmt.Errorf("sandbox root unavailable: %w", err)
	}
	return &Sandbox{
		root: canon,
		fs:   base,
		cwd:  "/",
		env: map[string]string{
			"HOME": "/",
			"PWD":  "/",
		},
		parser: syntax.NewParser(syntax.Variant(syntax.LangBash)),
	}, nil
}

// Run parses and executes source, returning captured stdout. Engine state
// (env, cwd) is persisted only when the script succeeds.
func (s *Sandbox) Run(ctx context.Context, source string) (string, error) {
	prog, err := s.parser.Parse(strings.NewReader(source), "script")
	if err != nil {
		return "", fmt.Errorf("script parse error: %w", err)
	}

	s.stdout.Reset()
	s.stderr.Reset()
	s.runCwd = s.cwd

	runner, err := interp.New(
		interp.StdIO(strings.NewReader(""), &s.stdout, &s.stderr),
		interp.Env(expand.ListEnviron(s.environ()...)),
		interp.Dir("/"),
		interp.CallHandler(s.callHandler),
		interp.ExecHandlers(s.execHandler),
		interp.OpenHandler(s.openHandler),
		interp.StatHandler(s.statHandler),
		interp.ReadDirHandler(s.readDirHandler),
	)
	if err != nil {
		return "", fmt.Errorf("building interpreter: %w", err)
	}

	runErr := runner.Run(ctx, prog)
	out := s.output()

	if runErr != nil {
		if status, ok := interp.IsExitStatus(runErr); ok {
			return out, fmt.Errorf("script exited with status %d", status)
		}
		return out, fmt.Errorf("script error: %w", runErr)
	}

	s.harvestEnv(runner)
	s.cwd = s.runCwd
	return out, nil
}

// Cwd returns the sandbox working directory, jail-relative.
func (s *Sandbox) Cwd() string { return s.cwd }

// Root returns the real filesystem path the jail is rooted at.
func (s *Sandbox) Root() string { return s.root }

func (s *Sandbox) output() string {
	out := s.stdout.String()
	if s.stderr.Len() > 0 {
		out += s.stderr.String()
	}
	if len(out) > MaxOutputLength {
		out = out[:MaxOutputLength] + "\n\n(Output truncated)"
	}
	return out
}

func (s *Sandbox) environ() []string {
	s.env["PWD"] = s.cwd
	keys := make([]string, 0, len(s.env))
	for k := range s.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	list := make([]string, 0, len(keys))
	for _, k := range keys {
		list = append(list, k+"="+s.env[k])
	}
	return list
}

// harvestEnv copies variables set during the run back into the persistent
// environment so the next Run sees them.
func (s *Sandbox) harvestEnv(runner *interp.Runner) {
	for name, vr := range runner.Vars {
		if !vr.IsSet() {
			delete(s.env, name)
			continue
		}
		s.env[name] = vr.String()
	}
}

// resolve turns a script-visible path into a clean jail-absolute path.
// Cleaning after an absolute join clamps any ".." run at "/", which is the
// project root. The clamped path is then resolved against the host
// filesystem and checked against the boundary, so a symlink inside the jail
// pointing outside the root fails instead of escaping it.
func (s *Sandbox) resolve(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.runCwd, path)
	}
	path = filepath.Clean(path)

	host, err := security.ValidatePath(filepath.Join(s.root, path), s.root)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(s.root, host)
	if err != nil {
		return "", err
	}
	return filepath.Join("/", rel), nil
}
