// Package state provides the per-session conversational and tool-call state
// store.
//
// A Store is a single-writer sequential actor: every operation runs on one
// goroutine in arrival order, so no mutation ever races another. The three
// logs (messages, reasoning steps, tool calls) are append-only to callers but
// internally capped; the oldest entries evict on overflow so memory stays
// bounded over a session's lifetime.
package state

import (
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/atelier-dev/atelier/internal/event"
	"github.com/atelier-dev/atelier/internal/logging"
	"github.com/atelier-dev/atelier/pkg/types"
)

// Log capacities. Overflow evicts oldest-first.
const (
	MaxMessages       = 1000
	MaxReasoningSteps = 100
	MaxToolCalls      = 500
)

// ErrStopped is returned by operations on a store whose actor has exited.
var ErrStopped = errors.New("state store stopped")

// Store holds one session's bounded state behind a sequential actor loop.
type Store struct {
	sessionID string
	bus       *event.Bus

	ops      chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// Everything below is owned by the actor goroutine.
	messages  *ring[types.Message]
	reasoning *ring[types.ReasoningStep]
	toolCalls *ring[types.ToolCallRecord]
	todos     []types.Todo

	scrollOffset int
	streaming    bool
	partial      string
}

// New creates a store for sessionID publishing stream events on bus. The
// actor is running on return.
func New(sessionID string, bus *event.Bus) *Store {
	s := &Store{
		sessionID: sessionID,
		bus:       bus,
		ops:       make(chan func(), 64),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		messages:  newRing[types.Message](MaxMessages),
		reasoning: newRing[types.ReasoningStep](MaxReasoningSteps),
		toolCalls: newRing[types.ToolCallRecord](MaxToolCalls),
	}
	go s.loop()
	return s
}

func (s *Store) loop() {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Str("sessionID", s.sessionID).Interface("panic", r).Msg("state store panicked")
		}
	}()
	for {
		select {
		case op := <-s.ops:
			op()
		case <-s.quit:
			return
		}
	}
}

// Stop terminates the actor. Pending operations fail with ErrStopped.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.quit) })
	<-s.done
}

// Done is closed when the actor goroutine has exited, whether by Stop or by
// panic. The supervisor watches it.
func (s *Store) Done() <-chan struct{} { return s.done }

// do runs op on the actor goroutine and waits for it to complete.
func (s *Store) do(op func()) error {
	ran := make(chan struct{})
	select {
	case s.ops <- func() { op(); close(ran) }:
	case <-s.done:
		return ErrStopped
	}
	select {
	case <-ran:
		return nil
	case <-s.done:
		return ErrStopped
	}
}

// AppendMessage appends a message to the bounded log and returns it.
func (s *Store) AppendMessage(role, content string) (types.Message, error) {
	var msg types.Message
	err := s.do(func() {
		msg = types.Message{
			ID:      ulid.Make().String(),
			Role:    role,
			Content: content,
			Created: time.Now().UnixMilli(),
		}
		s.messages.append(msg)
	})
	return msg, err
}

// AddReasoningStep records one reasoning step.
func (s *Store) AddReasoningStep(text string) (types.ReasoningStep, error) {
	var step types.ReasoningStep
	err := s.do(func() {
		step = types.ReasoningStep{
			ID:      ulid.Make().String(),
			Text:    text,
			Created: time.Now().UnixMilli(),
		}
		s.reasoning.append(step)
	})
	return step, err
}

// AddToolCall records a tool call. A zero ID gets one assigned.
func (s *Store) AddToolCall(record types.ToolCallRecord) (types.ToolCallRecord, error) {
	err := s.do(func() {
		if record.ID == "" {
			record.ID = ulid.Make().String()
		}
		if record.Created == 0 {
			record.Created = time.Now().UnixMilli()
		}
		s.toolCalls.append(record)
	})
	return record, err
}

// UpdateTodos replaces the todo list wholesale.
func (s *Store) UpdateTodos(todos []types.Todo) error {
	return s.do(func() {
		s.todos = append([]types.Todo(nil), todos...)
	})
}

// SetScrollOffset records the caller's scroll position. Negative offsets
// clamp to zero.
func (s *Store) SetScrollOffset(offset int) error {
	return s.do(func() {
		if offset < 0 {
			offset = 0
		}
		s.scrollOffset = offset
	})
}

// GetState returns a full snapshot, logs in chronological order.
func (s *Store) GetState() (types.StateSnapshot, error) {
	var snap types.StateSnapshot
	err := s.do(func() {
		snap = types.StateSnapshot{
			SessionID:      s.sessionID,
			Messages:       s.messages.items(),
			ReasoningSteps: s.reasoning.items(),
			ToolCalls:      s.toolCalls.items(),
			Todos:          append([]types.Todo(nil), s.todos...),
			ScrollOffset:   s.scrollOffset,
			Streaming:      s.streaming,
			PartialMessage: s.partial,
		}
	})
	return snap, err
}

// GetMessages returns the message log, oldest first.
func (s *Store) GetMessages() ([]types.Message, error) {
	var msgs []types.Message
	err := s.do(func() { msgs = s.messages.items() })
	return msgs, err
}

// GetTodos returns the current todo list.
func (s *Store) GetTodos() ([]types.Todo, error) {
	var todos []types.Todo
	err := s.do(func() { todos = append([]types.Todo(nil), s.todos...) })
	return todos, err
}

// StartStreaming begins a streaming assistant message, resetting the partial
// buffer.
func (s *Store) StartStreaming() error {
	return s.do(func() {
		s.streaming = true
		s.partial = ""
	})
}

// AppendChunk concatenates text into the partial buffer and publishes a
// stream_chunk event. It is fire-and-forget: the one async path in the
// store, since display-only partial data tolerates drop. Chunks arriving
// with no active stream are dropped.
func (s *Store) AppendChunk(text string) {
	op := func() {
		if !s.streaming {
			return
		}
		s.partial += text
		s.bus.Publish(event.Event{
			Type:      event.StreamChunk,
			SessionID: s.sessionID,
			Data:      event.StreamChunkData{SessionID: s.sessionID, Text: text},
		})
	}
	select {
	case s.ops <- op:
	case <-s.done:
	default:
		logging.Debug().Str("sessionID", s.sessionID).Msg("stream chunk dropped, store busy")
	}
}

// EndStreaming finalizes the partial buffer into an assistant message,
// clears streaming state, and publishes a stream_end event. Ending with no
// active stream is a no-op.
func (s *Store) EndStreaming(metadata map[string]any) (types.Message, error) {
	var msg types.Message
	err := s.do(func() {
		if !s.streaming {
			return
		}
		msg = types.Message{
			ID:      ulid.Make().String(),
			Role:    "assistant",
			Content: s.partial,
			Created: time.Now().UnixMilli(),
		}
		s.messages.append(msg)
		s.bus.Publish(event.Event{
			Type:      event.StreamEnd,
			SessionID: s.sessionID,
			Data:      event.StreamEndData{SessionID: s.sessionID, FullText: s.partial, Metadata: metadata},
		})
		s.streaming = false
		s.partial = ""
	})
	return msg, err
}
