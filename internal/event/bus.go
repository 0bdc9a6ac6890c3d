// Package event provides the pub/sub event channel protocol for the runtime
// using watermill.
//
// Every tool-call start/result and streaming chunk/end is published to a
// session-scoped topic "events.<session_id>" and mirrored to the global
// "events" topic for legacy subscribers. In-process consumers can also attach
// typed callbacks directly, avoiding a marshal round trip.
package event

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/oklog/ulid/v2"
)

// GlobalTopic is the topic every event is mirrored to.
const GlobalTopic = "events"

// SessionTopic returns the session-scoped topic name.
func SessionTopic(sessionID string) string {
	return GlobalTopic + "." + sessionID
}

// Subscriber is a function that receives events.
type Subscriber func(event Event)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus manages pub/sub over watermill's gochannel transport plus direct
// typed subscribers.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	session map[string][]subscriberEntry
	global  []subscriberEntry

	nextID uint64
	closed bool
}

var globalBus = NewBus()

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		session: make(map[string][]subscriberEntry),
	}
}

// Default returns the process-wide bus.
func Default() *Bus { return globalBus }

func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// SubscribeSession registers a subscriber for one session's events.
// Returns an unsubscribe function.
func (b *Bus) SubscribeSession(sessionID string, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.session[sessionID] = append(b.session[sessionID], subscriberEntry{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.session[sessionID]
		for i, entry := range subs {
			if entry.id == id {
				b.session[sessionID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(b.session[sessionID]) == 0 {
			delete(b.session, sessionID)
		}
	}
}

// SubscribeAll registers a subscriber for every event on the bus.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, entry := range b.global {
			if entry.id == id {
				b.global = append(b.global[:i], b.global[i+1:]...)
				break
			}
		}
	}
}

// Publish sends an event to the session topic, mirrors it to the global
// topic, and invokes direct subscribers asynchronously.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := make([]Subscriber, 0, len(b.session[e.SessionID])+len(b.global))
	for _, entry := range b.session[e.SessionID] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		go sub(e)
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	msg := message.NewMessage(ulid.Make().String(), payload)
	if e.SessionID != "" {
		_ = b.pubsub.Publish(SessionTopic(e.SessionID), msg)
	}
	mirror := message.NewMessage(ulid.Make().String(), payload)
	_ = b.pubsub.Publish(GlobalTopic, mirror)
}

// Messages subscribes to a raw watermill topic. Used by consumers that want
// the wire representation rather than typed callbacks.
func (b *Bus) Messages(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// Close shuts the bus down; further publishes are dropped.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.session = make(map[string][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}

// Publish sends an event on the default bus.
func Publish(e Event) {
	globalBus.Publish(e)
}

// SubscribeSession registers a session subscriber on the default bus.
func SubscribeSession(sessionID string, fn Subscriber) func() {
	return globalBus.SubscribeSession(sessionID, fn)
}

// SubscribeAll registers a global subscriber on the default bus.
func SubscribeAll(fn Subscriber) func() {
	return globalBus.SubscribeAll(fn)
}
