// Package executor accepts tool invocations, resolves their session
// context, evaluates permission, and dispatches to a handler.
//
// Decision order is always deny > ask > allow > default-allow. A denied
// call errors without the handler ever running; an ask decision returns a
// needs-confirmation result without executing, and the caller re-invokes
// with the approved flag set after explicit approval. Around every dispatch
// the executor publishes a tool_call / tool_result event pair on the
// session's channel, mirrored globally.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/atelier-dev/atelier/internal/event"
	"github.com/atelier-dev/atelier/internal/logging"
	"github.com/atelier-dev/atelier/internal/manager"
	"github.com/atelier-dev/atelier/internal/policy"
	"github.com/atelier-dev/atelier/internal/state"
	"github.com/atelier-dev/atelier/internal/supervisor"
	"github.com/atelier-dev/atelier/pkg/types"
)

// DefaultTimeout bounds one tool invocation when the context carries no
// deadline of its own.
const DefaultTimeout = 30 * time.Second

var (
	// ErrInvalidSessionID is returned for session ids that are not UUIDs.
	ErrInvalidSessionID = errors.New("invalid session id")

	// ErrUnknownTool is returned for unregistered tool names.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrDenied is returned when policy denies an invocation.
	ErrDenied = errors.New("permission denied")
)

// Context is the ephemeral per-invocation tool context. Built once per call,
// never persisted.
type Context struct {
	SessionID   string
	ProjectRoot string
	Timeout     time.Duration
}

// Deps hands a handler its session's runtime and state store.
type Deps struct {
	Mgr *manager.Manager
	St  *state.Store
}

// Handler executes one tool.
type Handler interface {
	// Name is the tool name as invoked.
	Name() string

	// PermissionKey derives the (category, action) pair evaluated against
	// the session policy for the given arguments.
	PermissionKey(args json.RawMessage) (category, action string)

	// Execute runs the tool. ctx carries the invocation deadline.
	Execute(ctx context.Context, deps Deps, toolCtx Context, args json.RawMessage) (*types.ToolResult, error)
}

// Executor routes tool invocations for all sessions.
type Executor struct {
	tree     *supervisor.Tree
	bus      *event.Bus
	handlers map[string]Handler
}

// New creates an executor with the default tool set registered.
func New(tree *supervisor.Tree, bus *event.Bus) *Executor {
	if bus == nil {
		bus = event.Default()
	}
	e := &Executor{
		tree:     tree,
		bus:      bus,
		handlers: make(map[string]Handler),
	}
	for _, h := range defaultHandlers() {
		e.Register(h)
	}
	return e
}

// Register adds a handler, replacing any existing one of the same name.
func (e *Executor) Register(h Handler) {
	e.handlers[h.Name()] = h
}

// Tools returns the registered tool names.
func (e *Executor) Tools() []string {
	names := make([]string, 0, len(e.handlers))
	for name := range e.handlers {
		names = append(names, name)
	}
	return names
}

// BuildContext resolves the per-invocation context for a session. The id is
// validated for form before any lookup; a malformed id never reaches the
// catalog. When enrichment fails the base context is returned alongside the
// error, never one carrying a stale project root.
func (e *Executor) BuildContext(sessionID string) (Context, error) {
	if uuid.Validate(sessionID) != nil {
		return Context{}, fmt.Errorf("%w: %s", ErrInvalidSessionID, sessionID)
	}
	toolCtx := Context{SessionID: sessionID, Timeout: DefaultTimeout}

	mgr, err := e.tree.ManagerFor(sessionID)
	if err != nil {
		return toolCtx, err
	}
	toolCtx.ProjectRoot = mgr.ProjectRoot()
	return toolCtx, nil
}

// Execute runs one tool call against a session.
func (e *Executor) Execute(ctx context.Context, sessionID string, call types.ToolCall) (*types.ToolResult, error) {
	toolCtx, err := e.BuildContext(sessionID)
	if err != nil {
		return nil, err
	}

	handler, ok := e.handlers[call.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}

	session, err := e.tree.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	category, action := handler.PermissionKey(call.Arguments)
	engine := policy.NewEngine(session.Config.Permission)
	decision := engine.Evaluate(category, action)

	switch decision {
	case policy.Deny:
		logging.Warn().Str("sessionID", sessionID).Str("tool", call.Name).Str("action", action).Msg("tool call denied")
		return nil, fmt.Errorf("%w: %s:%s", ErrDenied, category, action)
	case policy.Ask:
		if !call.Approved {
			return &types.ToolResult{
				NeedsApproval: true,
				Title:         fmt.Sprintf("Approval required: %s", call.Name),
				Content:       fmt.Sprintf("%s:%s requires confirmation", category, action),
			}, nil
		}
	}

	return e.dispatch(ctx, toolCtx, handler, call)
}

func (e *Executor) dispatch(ctx context.Context, toolCtx Context, handler Handler, call types.ToolCall) (*types.ToolResult, error) {
	if call.ID == "" {
		call.ID = ulid.Make().String()
	}

	mgr, err := e.tree.ManagerFor(toolCtx.SessionID)
	if err != nil {
		return nil, err
	}
	st, err := e.tree.StateFor(toolCtx.SessionID)
	if err != nil {
		return nil, err
	}
	deps := Deps{Mgr: mgr, St: st}

	e.bus.Publish(event.Event{
		Type:      event.ToolCallStarted,
		SessionID: toolCtx.SessionID,
		Data: event.ToolCallData{
			Name:      call.Name,
			Args:      call.Arguments,
			CallID:    call.ID,
			SessionID: toolCtx.SessionID,
		},
	})

	execCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, toolCtx.Timeout)
		defer cancel()
	}

	result, execErr := handler.Execute(execCtx, deps, toolCtx, call.Arguments)
	if execErr != nil {
		result = &types.ToolResult{Error: execErr.Error()}
	} else if result == nil {
		result = &types.ToolResult{OK: true}
	} else {
		result.OK = result.Error == ""
	}

	record := types.ToolCallRecord{
		ID:        call.ID,
		Name:      call.Name,
		Arguments: call.Arguments,
		Status:    "completed",
		Output:    result.Content,
	}
	if !result.OK {
		record.Status = "failed"
		record.Output = result.Error
	}
	if _, err := st.AddToolCall(record); err != nil {
		logging.Debug().Str("sessionID", toolCtx.SessionID).Err(err).Msg("tool call not recorded")
	}

	e.bus.Publish(event.Event{
		Type:      event.ToolCallResult,
		SessionID: toolCtx.SessionID,
		Data: event.ToolResultData{
			Result:    result,
			CallID:    call.ID,
			SessionID: toolCtx.SessionID,
		},
	})

	if execErr != nil {
		return result, execErr
	}
	return result, nil
}
