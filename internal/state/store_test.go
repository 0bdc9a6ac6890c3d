package state

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelier-dev/atelier/internal/event"
	"github.com/atelier-dev/atelier/pkg/types"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	bus := event.NewBus()
	t.Cleanup(func() { _ = bus.Close() })
	s := New("sess-1", bus)
	t.Cleanup(s.Stop)
	return s
}

func TestRingEvictsOldest(t *testing.T) {
	r := newRing[int](3)
	for i := 1; i <= 5; i++ {
		r.append(i)
	}
	assert.Equal(t, []int{3, 4, 5}, r.items())
	assert.Equal(t, 3, r.len())
}

func TestAppendMessageBounded(t *testing.T) {
	s := newStore(t)

	for i := 0; i < MaxMessages+1; i++ {
		_, err := s.AppendMessage("user", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	msgs, err := s.GetMessages()
	require.NoError(t, err)
	require.Len(t, msgs, MaxMessages)

	// Oldest evicted; the rest chronological.
	assert.Equal(t, "m1", msgs[0].Content)
	assert.Equal(t, fmt.Sprintf("m%d", MaxMessages), msgs[len(msgs)-1].Content)
	for i := 1; i < len(msgs); i++ {
		assert.LessOrEqual(t, msgs[i-1].Created, msgs[i].Created)
	}
}

func TestToolCallAssignsID(t *testing.T) {
	s := newStore(t)

	rec, err := s.AddToolCall(types.ToolCallRecord{Name: "Read", Status: "completed"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.NotZero(t, rec.Created)
}

func TestTodosCopiedNotAliased(t *testing.T) {
	s := newStore(t)

	todos := []types.Todo{{ID: "1", Content: "write tests", Status: "pending"}}
	require.NoError(t, s.UpdateTodos(todos))
	todos[0].Content = "mutated"

	got, err := s.GetTodos()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "write tests", got[0].Content)
}

func TestScrollOffsetClampsNegative(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.SetScrollOffset(-5))
	snap, err := s.GetState()
	require.NoError(t, err)
	assert.Equal(t, 0, snap.ScrollOffset)
}

func TestStreamingLifecycle(t *testing.T) {
	bus := event.NewBus()
	t.Cleanup(func() { _ = bus.Close() })
	s := New("sess-1", bus)
	t.Cleanup(s.Stop)

	var mu sync.Mutex
	var chunkEvents, endEvents int
	unsub := bus.SubscribeSession("sess-1", func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		switch e.Type {
		case event.StreamChunk:
			chunkEvents++
		case event.StreamEnd:
			endEvents++
		}
	})
	defer unsub()

	require.NoError(t, s.StartStreaming())
	s.AppendChunk("hello ")
	s.AppendChunk("world")

	msg, err := s.EndStreaming(map[string]any{"model": "test"})
	require.NoError(t, err)
	assert.Equal(t, "assistant", msg.Role)
	assert.Equal(t, "hello world", msg.Content)

	msgs, err := s.GetMessages()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello world", msgs[0].Content)

	snap, err := s.GetState()
	require.NoError(t, err)
	assert.False(t, snap.Streaming)
	assert.Empty(t, snap.PartialMessage)

	// Direct subscribers run async.
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return chunkEvents == 2 && endEvents == 1
	}, time.Second, 10*time.Millisecond)
}

func TestChunkBeforeStartIsDropped(t *testing.T) {
	s := newStore(t)

	s.AppendChunk("orphan")

	snap, err := s.GetState()
	require.NoError(t, err)
	assert.False(t, snap.Streaming)
	assert.Empty(t, snap.PartialMessage)

	// An orphan chunk must not leak into the next stream.
	require.NoError(t, s.StartStreaming())
	s.AppendChunk("fresh")
	msg, err := s.EndStreaming(nil)
	require.NoError(t, err)
	assert.Equal(t, "fresh", msg.Content)
}

func TestEndStreamingWithoutStartIsNoOp(t *testing.T) {
	s := newStore(t)

	msg, err := s.EndStreaming(nil)
	require.NoError(t, err)
	assert.Empty(t, msg.ID)

	msgs, err := s.GetMessages()
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestOperationsAfterStop(t *testing.T) {
	bus := event.NewBus()
	t.Cleanup(func() { _ = bus.Close() })
	s := New("sess-1", bus)
	s.Stop()

	_, err := s.AppendMessage("user", "too late")
	assert.ErrorIs(t, err, ErrStopped)

	_, err = s.GetState()
	assert.ErrorIs(t, err, ErrStopped)

	// Fire-and-forget path must not block or panic after stop.
	s.AppendChunk("ignored")
}

func TestConcurrentAppendsSerialize(t *testing.T) {
	s := newStore(t)

	const writers = 16
	const perWriter = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				_, err := s.AppendMessage("user", fmt.Sprintf("w%d-%d", i, j))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	msgs, err := s.GetMessages()
	require.NoError(t, err)
	assert.Len(t, msgs, writers*perWriter)
}
