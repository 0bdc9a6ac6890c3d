package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelier-dev/atelier/internal/event"
	"github.com/atelier-dev/atelier/internal/registry"
	"github.com/atelier-dev/atelier/internal/supervisor"
	"github.com/atelier-dev/atelier/pkg/types"
)

type fixture struct {
	exec    *Executor
	tree    *supervisor.Tree
	bus     *event.Bus
	session *types.Session
	root    string
}

func newFixture(t *testing.T, policy *types.PermissionPolicy) *fixture {
	t.Helper()
	bus := event.NewBus()
	t.Cleanup(func() { _ = bus.Close() })
	tree := supervisor.NewTree(supervisor.Options{MaxSessions: 10, Bus: bus})
	t.Cleanup(tree.Shutdown)

	dir := t.TempDir()
	session, err := tree.CreateSession(supervisor.CreateOptions{
		Name:        "test",
		ProjectPath: dir,
		Config:      types.SessionConfig{Permission: policy},
	})
	require.NoError(t, err)

	return &fixture{
		exec:    New(tree, bus),
		tree:    tree,
		bus:     bus,
		session: session,
		root:    session.ProjectPath,
	}
}

func argsJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestExecuteInvalidSessionID(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.exec.Execute(context.Background(), "not-a-uuid", types.ToolCall{Name: "Read"})
	assert.ErrorIs(t, err, ErrInvalidSessionID)
}

func TestExecuteUnknownSession(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.exec.Execute(context.Background(), uuid.NewString(), types.ToolCall{Name: "Read"})
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestExecuteUnknownTool(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.exec.Execute(context.Background(), f.session.ID, types.ToolCall{Name: "Teleport"})
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestBuildContextUnknownSessionUnenriched(t *testing.T) {
	f := newFixture(t, nil)

	id := uuid.NewString()
	toolCtx, err := f.exec.BuildContext(id)
	assert.ErrorIs(t, err, registry.ErrNotFound)

	// The base context comes back without a project root, never a stale one.
	assert.Equal(t, id, toolCtx.SessionID)
	assert.Empty(t, toolCtx.ProjectRoot)
	assert.Equal(t, DefaultTimeout, toolCtx.Timeout)
}

func TestUpdatedPolicyAppliesToNextCall(t *testing.T) {
	f := newFixture(t, nil)

	path := filepath.Join(f.root, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	edit := types.ToolCall{
		Name:      "Edit",
		Arguments: argsJSON(t, editInput{FilePath: "f.txt", OldString: "original", NewString: "changed"}),
	}
	res, err := f.exec.Execute(context.Background(), f.session.ID, edit)
	require.NoError(t, err)
	assert.True(t, res.OK)

	_, err = f.tree.UpdateConfig(f.session.ID, types.SessionConfig{
		Permission: &types.PermissionPolicy{Deny: []string{"Edit:*"}},
	})
	require.NoError(t, err)

	edit.Arguments = argsJSON(t, editInput{FilePath: "f.txt", OldString: "changed", NewString: "again"})
	_, err = f.exec.Execute(context.Background(), f.session.ID, edit)
	assert.ErrorIs(t, err, ErrDenied)
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.exec.Execute(context.Background(), f.session.ID, types.ToolCall{
		Name:      "Write",
		Arguments: argsJSON(t, writeInput{FilePath: "notes.txt", Content: "first line\nsecond line\n"}),
	})
	require.NoError(t, err)
	assert.True(t, res.OK)

	res, err = f.exec.Execute(context.Background(), f.session.ID, types.ToolCall{
		Name:      "Read",
		Arguments: argsJSON(t, readInput{FilePath: "notes.txt"}),
	})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Contains(t, res.Content, "1\tfirst line")
	assert.Contains(t, res.Content, "2\tsecond line")
}

func TestDenyBlocksHandler(t *testing.T) {
	f := newFixture(t, &types.PermissionPolicy{Deny: []string{"Edit:*"}})

	path := filepath.Join(f.root, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	_, err := f.exec.Execute(context.Background(), f.session.ID, types.ToolCall{
		Name:      "Edit",
		Arguments: argsJSON(t, editInput{FilePath: "f.txt", OldString: "original", NewString: "changed"}),
	})
	assert.ErrorIs(t, err, ErrDenied)

	// Handler never ran: the file is untouched.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestAskReturnsNeedsApproval(t *testing.T) {
	f := newFixture(t, &types.PermissionPolicy{Ask: []string{"Write:*"}})

	call := types.ToolCall{
		Name:      "Write",
		Arguments: argsJSON(t, writeInput{FilePath: "pending.txt", Content: "x"}),
	}
	res, err := f.exec.Execute(context.Background(), f.session.ID, call)
	require.NoError(t, err)
	assert.True(t, res.NeedsApproval)
	assert.False(t, res.OK)

	_, statErr := os.Stat(filepath.Join(f.root, "pending.txt"))
	assert.True(t, os.IsNotExist(statErr))

	// Re-submission with the approved flag executes.
	call.Approved = true
	res, err = f.exec.Execute(context.Background(), f.session.ID, call)
	require.NoError(t, err)
	assert.True(t, res.OK)
	_, statErr = os.Stat(filepath.Join(f.root, "pending.txt"))
	assert.NoError(t, statErr)
}

func TestBashPermissionPerCommand(t *testing.T) {
	f := newFixture(t, &types.PermissionPolicy{Deny: []string{"run_command:rm*"}})

	res, err := f.exec.Execute(context.Background(), f.session.ID, types.ToolCall{
		Name:      "Bash",
		Arguments: argsJSON(t, bashInput{Command: "echo allowed"}),
	})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "allowed\n", res.Content)

	_, err = f.exec.Execute(context.Background(), f.session.ID, types.ToolCall{
		Name:      "Bash",
		Arguments: argsJSON(t, bashInput{Command: "rm -rf something"}),
	})
	assert.ErrorIs(t, err, ErrDenied)
}

func TestBashDisallowedCommandFails(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.exec.Execute(context.Background(), f.session.ID, types.ToolCall{
		Name:      "Bash",
		Arguments: argsJSON(t, bashInput{Command: "curl http://example.com"}),
	})
	require.Error(t, err)
	assert.False(t, res.OK)
}

func TestScriptToolStateful(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.exec.Execute(context.Background(), f.session.ID, types.ToolCall{
		Name:      "Script",
		Arguments: argsJSON(t, scriptInput{Source: "COUNTER=41"}),
	})
	require.NoError(t, err)
	assert.True(t, res.OK)

	res, err = f.exec.Execute(context.Background(), f.session.ID, types.ToolCall{
		Name:      "Script",
		Arguments: argsJSON(t, scriptInput{Source: "echo $((COUNTER+1))"}),
	})
	require.NoError(t, err)
	assert.Equal(t, "42\n", res.Content)
}

func TestTodoWriteRead(t *testing.T) {
	f := newFixture(t, nil)

	todos := []types.Todo{
		{ID: "1", Content: "write docs", Status: "pending", Priority: "high"},
		{ID: "2", Content: "ship it", Status: "in_progress", Priority: "medium"},
	}
	res, err := f.exec.Execute(context.Background(), f.session.ID, types.ToolCall{
		Name:      "TodoWrite",
		Arguments: argsJSON(t, todoWriteInput{Todos: todos}),
	})
	require.NoError(t, err)
	assert.True(t, res.OK)

	res, err = f.exec.Execute(context.Background(), f.session.ID, types.ToolCall{Name: "TodoRead"})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "[pending] write docs")
	assert.Contains(t, res.Content, "[in_progress] ship it")
}

func TestExecutePublishesEventPair(t *testing.T) {
	f := newFixture(t, nil)

	var mu sync.Mutex
	var got []event.Type
	unsub := f.bus.SubscribeSession(f.session.ID, func(e event.Event) {
		if e.Type == event.ToolCallStarted || e.Type == event.ToolCallResult {
			mu.Lock()
			got = append(got, e.Type)
			mu.Unlock()
		}
	})
	defer unsub()

	_, err := f.exec.Execute(context.Background(), f.session.ID, types.ToolCall{
		Name:      "List",
		Arguments: argsJSON(t, listInput{}),
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, got, event.ToolCallStarted)
	assert.Contains(t, got, event.ToolCallResult)
}

func TestExecuteRecordsToolCall(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.exec.Execute(context.Background(), f.session.ID, types.ToolCall{
		ID:        "call-1",
		Name:      "List",
		Arguments: argsJSON(t, listInput{}),
	})
	require.NoError(t, err)

	st, err := f.tree.StateFor(f.session.ID)
	require.NoError(t, err)
	snap, err := st.GetState()
	require.NoError(t, err)
	require.Len(t, snap.ToolCalls, 1)
	assert.Equal(t, "call-1", snap.ToolCalls[0].ID)
	assert.Equal(t, "List", snap.ToolCalls[0].Name)
	assert.Equal(t, "completed", snap.ToolCalls[0].Status)
}

func TestFailedCallRecordedAsFailed(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.exec.Execute(context.Background(), f.session.ID, types.ToolCall{
		Name:      "Read",
		Arguments: argsJSON(t, readInput{FilePath: "missing.txt"}),
	})
	require.Error(t, err)

	st, err := f.tree.StateFor(f.session.ID)
	require.NoError(t, err)
	snap, err := st.GetState()
	require.NoError(t, err)
	require.Len(t, snap.ToolCalls, 1)
	assert.Equal(t, "failed", snap.ToolCalls[0].Status)
}

func TestToolsRegistered(t *testing.T) {
	f := newFixture(t, nil)

	names := f.exec.Tools()
	for _, want := range []string{"Read", "Write", "Edit", "List", "Glob", "Bash", "Script", "TodoWrite", "TodoRead"} {
		assert.Contains(t, names, want, fmt.Sprintf("missing tool %s", want))
	}
}
