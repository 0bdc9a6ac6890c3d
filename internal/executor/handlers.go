package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/atelier-dev/atelier/pkg/types"
)

func defaultHandlers() []Handler {
	return []Handler{
		readHandler{},
		writeHandler{},
		editHandler{},
		listHandler{},
		globHandler{},
		bashHandler{},
		scriptHandler{},
		todoWriteHandler{},
		todoReadHandler{},
	}
}

func decode[T any](args json.RawMessage) (T, error) {
	var params T
	if len(args) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return params, fmt.Errorf("invalid input: %w", err)
	}
	return params, nil
}

// readHandler reads a file with line numbers.
type readHandler struct{}

type readInput struct {
	FilePath string `json:"filePath"`
	Offset   int    `json:"offset,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

func (readHandler) Name() string { return "Read" }

func (readHandler) PermissionKey(json.RawMessage) (string, string) { return "Read", "*" }

func (readHandler) Execute(ctx context.Context, deps Deps, _ Context, args json.RawMessage) (*types.ToolResult, error) {
	params, err := decode[readInput](args)
	if err != nil {
		return nil, err
	}
	fc, err := deps.Mgr.ReadFile(ctx, params.FilePath, params.Offset, params.Limit)
	if err != nil {
		return nil, err
	}
	return &types.ToolResult{
		Title:   params.FilePath,
		Content: fc.Content,
		Metadata: map[string]any{
			"lines": fc.Lines,
			"total": fc.Total,
		},
	}, nil
}

// writeHandler writes a file atomically.
type writeHandler struct{}

type writeInput struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
}

func (writeHandler) Name() string { return "Write" }

func (writeHandler) PermissionKey(json.RawMessage) (string, string) { return "Write", "*" }

func (writeHandler) Execute(ctx context.Context, deps Deps, _ Context, args json.RawMessage) (*types.ToolResult, error) {
	params, err := decode[writeInput](args)
	if err != nil {
		return nil, err
	}
	resolved, err := deps.Mgr.WriteFile(ctx, params.FilePath, params.Content)
	if err != nil {
		return nil, err
	}
	return &types.ToolResult{
		Title:   params.FilePath,
		Content: fmt.Sprintf("wrote %d bytes to %s", len(params.Content), resolved),
	}, nil
}

// editHandler replaces one exact occurrence in a file.
type editHandler struct{}

type editInput struct {
	FilePath  string `json:"filePath"`
	OldString string `json:"oldString"`
	NewString string `json:"newString"`
}

func (editHandler) Name() string { return "Edit" }

func (editHandler) PermissionKey(json.RawMessage) (string, string) { return "Edit", "*" }

func (editHandler) Execute(ctx context.Context, deps Deps, _ Context, args json.RawMessage) (*types.ToolResult, error) {
	params, err := decode[editInput](args)
	if err != nil {
		return nil, err
	}
	res, err := deps.Mgr.EditFile(ctx, params.FilePath, params.OldString, params.NewString)
	if err != nil {
		return nil, err
	}
	return &types.ToolResult{
		Title:   params.FilePath,
		Content: fmt.Sprintf("edited %s (+%d -%d)", params.FilePath, res.Additions, res.Removals),
		Metadata: map[string]any{
			"diff":      res.Diff,
			"additions": res.Additions,
			"removals":  res.Removals,
		},
	}, nil
}

// listHandler lists a directory.
type listHandler struct{}

type listInput struct {
	Path string `json:"path,omitempty"`
}

func (listHandler) Name() string { return "List" }

func (listHandler) PermissionKey(json.RawMessage) (string, string) { return "List", "*" }

func (listHandler) Execute(ctx context.Context, deps Deps, _ Context, args json.RawMessage) (*types.ToolResult, error) {
	params, err := decode[listInput](args)
	if err != nil {
		return nil, err
	}
	if params.Path == "" {
		params.Path = "."
	}
	entries, err := deps.Mgr.ListDir(ctx, params.Path)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	for _, entry := range entries {
		if entry.IsDir {
			fmt.Fprintf(&sb, "%s/\n", entry.Name)
		} else {
			fmt.Fprintf(&sb, "%s\n", entry.Name)
		}
	}
	return &types.ToolResult{
		Title:    params.Path,
		Content:  sb.String(),
		Metadata: map[string]any{"count": len(entries)},
	}, nil
}

// globHandler matches files by pattern, newest first.
type globHandler struct{}

type globInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

func (globHandler) Name() string { return "Glob" }

func (globHandler) PermissionKey(json.RawMessage) (string, string) { return "Glob", "*" }

func (globHandler) Execute(ctx context.Context, deps Deps, _ Context, args json.RawMessage) (*types.ToolResult, error) {
	params, err := decode[globInput](args)
	if err != nil {
		return nil, err
	}
	matches, err := deps.Mgr.GlobFiles(ctx, params.Pattern, params.Path)
	if err != nil {
		return nil, err
	}
	content := strings.Join(matches, "\n")
	if len(matches) > 0 {
		content += "\n"
	}
	return &types.ToolResult{
		Title:    params.Pattern,
		Content:  content,
		Metadata: map[string]any{"count": len(matches)},
	}, nil
}

// bashHandler runs an allow-listed shell command in the project root.
type bashHandler struct{}

type bashInput struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"` // milliseconds
}

func (bashHandler) Name() string { return "Bash" }

// PermissionKey derives the action from the command itself so policies like
// "run_command:git*" apply per command rather than per tool.
func (bashHandler) PermissionKey(args json.RawMessage) (string, string) {
	params, err := decode[bashInput](args)
	if err != nil || strings.TrimSpace(params.Command) == "" {
		return "run_command", "*"
	}
	return "run_command", strings.TrimSpace(params.Command)
}

func (bashHandler) Execute(ctx context.Context, deps Deps, _ Context, args json.RawMessage) (*types.ToolResult, error) {
	params, err := decode[bashInput](args)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Command) == "" {
		return nil, fmt.Errorf("command is required")
	}
	res, err := deps.Mgr.Shell(ctx, params.Command, time.Duration(params.Timeout)*time.Millisecond)
	if err != nil {
		return nil, err
	}
	return &types.ToolResult{
		Title:   params.Command,
		Content: res.Output,
		Metadata: map[string]any{
			"exit":     res.ExitCode,
			"timedOut": res.TimedOut,
		},
	}, nil
}

// scriptHandler runs source in the session's embedded sandbox.
type scriptHandler struct{}

type scriptInput struct {
	Source  string `json:"source"`
	Timeout int    `json:"timeout,omitempty"` // milliseconds
}

func (scriptHandler) Name() string { return "Script" }

func (scriptHandler) PermissionKey(json.RawMessage) (string, string) { return "run_script", "*" }

func (scriptHandler) Execute(ctx context.Context, deps Deps, _ Context, args json.RawMessage) (*types.ToolResult, error) {
	params, err := decode[scriptInput](args)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Source) == "" {
		return nil, fmt.Errorf("source is required")
	}
	out, err := deps.Mgr.RunScript(ctx, params.Source, time.Duration(params.Timeout)*time.Millisecond)
	if err != nil {
		return &types.ToolResult{Content: out, Error: err.Error()}, nil
	}
	return &types.ToolResult{Title: "script", Content: out}, nil
}

// todoWriteHandler replaces the session todo list.
type todoWriteHandler struct{}

type todoWriteInput struct {
	Todos []types.Todo `json:"todos"`
}

func (todoWriteHandler) Name() string { return "TodoWrite" }

func (todoWriteHandler) PermissionKey(json.RawMessage) (string, string) { return "TodoWrite", "*" }

func (todoWriteHandler) Execute(_ context.Context, deps Deps, _ Context, args json.RawMessage) (*types.ToolResult, error) {
	params, err := decode[todoWriteInput](args)
	if err != nil {
		return nil, err
	}
	if err := deps.St.UpdateTodos(params.Todos); err != nil {
		return nil, err
	}
	return &types.ToolResult{
		Title:   "todos",
		Content: fmt.Sprintf("%d todos", len(params.Todos)),
	}, nil
}

// todoReadHandler returns the session todo list.
type todoReadHandler struct{}

func (todoReadHandler) Name() string { return "TodoRead" }

func (todoReadHandler) PermissionKey(json.RawMessage) (string, string) { return "TodoRead", "*" }

func (todoReadHandler) Execute(_ context.Context, deps Deps, _ Context, _ json.RawMessage) (*types.ToolResult, error) {
	todos, err := deps.St.GetTodos()
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	for _, todo := range todos {
		fmt.Fprintf(&sb, "[%s] %s\n", todo.Status, todo.Content)
	}
	return &types.ToolResult{
		Title:    "todos",
		Content:  sb.String(),
		Metadata: map[string]any{"count": len(todos)},
	}, nil
}
