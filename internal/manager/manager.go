// Package manager provides the per-session sandboxed execution runtime.
//
// A Manager owns one session's project root, embedded script sandbox, and
// shell surface. It is a single-writer sequential actor: every operation runs
// on one goroutine in arrival order, which is what keeps the sandbox strictly
// sequential and the session isolated from all others.
//
// Lifecycle: initializing -> ready, or failed when the sandbox cannot be
// built. Construction returns an error on failure so the owning unit never
// starts.
package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/atelier-dev/atelier/internal/logging"
	"github.com/atelier-dev/atelier/internal/sandbox"
	"github.com/atelier-dev/atelier/internal/security"
)

const (
	// DefaultShellTimeout bounds shell commands when the caller gives none.
	DefaultShellTimeout = 30 * time.Second

	// MaxShellTimeout is the hard ceiling for one shell command.
	MaxShellTimeout = 10 * time.Minute

	// DefaultScriptTimeout bounds sandbox scripts when the caller gives none.
	DefaultScriptTimeout = 30 * time.Second

	// MaxOutputLength caps captured shell output.
	MaxOutputLength = 30000

	sigkillDelay = 200 * time.Millisecond
)

// ErrStopped is returned by operations on a stopped manager.
var ErrStopped = errors.New("session manager stopped")

// Status is the manager lifecycle state.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusReady        Status = "ready"
	StatusFailed       Status = "failed"
	StatusStopped      Status = "stopped"
)

// ShellResult carries the outcome of one shell command.
type ShellResult struct {
	Output   string
	ExitCode int
	TimedOut bool
}

// Manager is one session's execution runtime.
type Manager struct {
	sessionID string
	root      string
	box       *sandbox.Sandbox
	allowed   []string

	ops      chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu     sync.RWMutex
	status Status
}

// New builds a manager for sessionID rooted at projectPath. The path is
// canonicalized and must be an existing directory. extraCommands widens the
// shell allow-list with session-configured entries.
func New(sessionID, projectPath string, extraCommands []string) (*Manager, error) {
	root, err := filepath.EvalSymlinks(projectPath)
	if err != nil {
		return nil, fmt.Errorf("%w: project path %s", security.ErrNotFound, projectPath)
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("project path is not a directory: %s", projectPath)
	}

	m := &Manager{
		sessionID: sessionID,
		root:      root,
		allowed:   security.AllowedCommands(extraCommands),
		ops:       make(chan func()),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		status:    StatusInitializing,
	}

	box, err := sandbox.New(root)
	if err != nil {
		m.setStatus(StatusFailed)
		return nil, fmt.Errorf("building sandbox: %w", err)
	}
	m.box = box

	go m.loop()
	m.setStatus(StatusReady)
	logging.Debug().Str("sessionID", sessionID).Str("root", root).Msg("session manager ready")
	return m, nil
}

func (m *Manager) loop() {
	defer close(m.done)
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Str("sessionID", m.sessionID).Interface("panic", r).Msg("session manager panicked")
		}
	}()
	for {
		select {
		case op := <-m.ops:
			op()
		case <-m.quit:
			return
		}
	}
}

// Stop terminates the actor. In-flight operations finish; later calls fail
// with ErrStopped.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.quit) })
	<-m.done
	m.setStatus(StatusStopped)
}

// Done is closed when the actor goroutine has exited. The supervisor
// watches it.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Status returns the lifecycle state.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// do runs op on the actor goroutine and waits for completion. ctx bounds the
// wait, not the interruption of already-running native work.
func (m *Manager) do(ctx context.Context, op func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ran := make(chan struct{})
	select {
	case m.ops <- func() { op(); close(ran) }:
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ran:
		return nil
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ProjectRoot returns the canonical project root.
func (m *Manager) ProjectRoot() string { return m.root }

// ValidatePath canonicalizes path relative to this session's root and
// verifies it stays inside the boundary.
func (m *Manager) ValidatePath(path string) (string, error) {
	return security.ValidatePath(path, m.root)
}

// Shell validates command against the allow-list and executes it with the
// working directory pinned to the project root. Output is combined
// stdout+stderr, truncated at MaxOutputLength.
func (m *Manager) Shell(ctx context.Context, command string, timeout time.Duration) (ShellResult, error) {
	var result ShellResult
	var runErr error
	err := m.do(ctx, func() {
		result, runErr = m.runShell(ctx, command, timeout)
	})
	if err != nil {
		return ShellResult{}, err
	}
	return result, runErr
}

func (m *Manager) runShell(ctx context.Context, command string, timeout time.Duration) (ShellResult, error) {
	if err := security.ValidateCommand(command, m.allowed); err != nil {
		return ShellResult{}, err
	}

	if timeout <= 0 {
		timeout = DefaultShellTimeout
	}
	if timeout > MaxShellTimeout {
		timeout = MaxShellTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, shellPath(), "-c", command)
	cmd.Dir = m.root
	cmd.Env = os.Environ()
	if runtime.GOOS != "windows" {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}
	cmd.Cancel = func() error { return killGroup(cmd) }

	output, err := cmd.CombinedOutput()
	timedOut := cmdCtx.Err() == context.DeadlineExceeded

	out := string(output)
	if len(out) > MaxOutputLength {
		out = out[:MaxOutputLength] + "\n\n(Output truncated)"
	}
	if timedOut {
		out += fmt.Sprintf("\n\n(Command timed out after %v)", timeout)
	}

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil && !timedOut {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return ShellResult{Output: out, ExitCode: exitCode}, fmt.Errorf("shell: %w", err)
		}
	}

	return ShellResult{Output: out, ExitCode: exitCode, TimedOut: timedOut}, nil
}

func shellPath() string {
	if bash, err := exec.LookPath("bash"); err == nil {
		return bash
	}
	return "/bin/sh"
}

// killGroup terminates the command's process group, escalating to SIGKILL
// after a grace period.
func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	if runtime.GOOS == "windows" {
		return cmd.Process.Kill()
	}
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	time.Sleep(sigkillDelay)
	if cmd.ProcessState == nil {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
	return nil
}

// RunScript executes source in the embedded sandbox. Sandbox state (env,
// cwd) persists across calls on success only. Scripts never overlap; the
// actor serializes them.
func (m *Manager) RunScript(ctx context.Context, source string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}
	var out string
	var runErr error
	err := m.do(ctx, func() {
		scriptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		out, runErr = m.box.Run(scriptCtx, source)
	})
	if err != nil {
		return "", err
	}
	return out, runErr
}
