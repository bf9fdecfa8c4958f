// Package bus carries engine, lip-sync and turn notifications between
// components without coupling them.
package bus

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies different event types
type EventType string

// Event types for the companion
const (
	// Engine events
	EventTypeEmotionChanged  EventType = "avatar.emotion_changed"
	EventTypeGestureStarted  EventType = "avatar.gesture_started"
	EventTypeGestureExpired  EventType = "avatar.gesture_expired"
	EventTypePostureChanged  EventType = "avatar.posture_changed"
	EventTypeChannelRejected EventType = "avatar.channel_rejected"

	// Lip-sync events
	EventTypeScheduleStarted    EventType = "lipsync.schedule_started"
	EventTypeScheduleSuperseded EventType = "lipsync.schedule_superseded"
	EventTypeScheduleDrained    EventType = "lipsync.schedule_drained"

	// Conversation events
	EventTypeTurnStarted   EventType = "turn.started"
	EventTypeTurnCompleted EventType = "turn.completed"
)

// Event is one notification. Time is stamped on publish when left zero.
type Event struct {
	Type EventType
	Time time.Time
	Data map[string]any
}

// Handler is a function that handles events
type Handler func(Event)

type subscription struct {
	id uint64
	fn Handler
}

// EventBus fans events out to subscribers. A nil *EventBus drops every
// publish, so components can hold one unconditionally.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[EventType][]subscription
	nextID uint64
	logger zerolog.Logger
}

// NewEventBus creates an empty bus that discards handler panics silently
// until SetLogger is called.
func NewEventBus() *EventBus {
	return &EventBus{
		subs:   make(map[EventType][]subscription),
		logger: zerolog.Nop(),
	}
}

// SetLogger sets where recovered handler panics are reported.
func (b *EventBus) SetLogger(logger zerolog.Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
}

// Subscribe registers handler for eventType and returns a func that removes
// it again. Calling the returned func more than once is harmless.
func (b *EventBus) Subscribe(eventType EventType, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, fn: handler})
	b.mu.Unlock()

	return func() { b.remove(eventType, id) }
}

// SubscribeMultiple registers one handler for several event types.
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) (unsubscribe func()) {
	undo := make([]func(), 0, len(eventTypes))
	for _, et := range eventTypes {
		undo = append(undo, b.Subscribe(et, handler))
	}
	return func() {
		for _, u := range undo {
			u()
		}
	}
}

func (b *EventBus) remove(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, s := range subs {
		if s.id == id {
			b.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers event to each handler on its own goroutine and returns
// immediately.
func (b *EventBus) Publish(event Event) {
	handlers, logger := b.handlers(event.Type)
	stamp(&event)
	for _, h := range handlers {
		go deliver(logger, h, event)
	}
}

// PublishSync delivers event to each handler in subscription order on the
// caller's goroutine.
func (b *EventBus) PublishSync(event Event) {
	handlers, logger := b.handlers(event.Type)
	stamp(&event)
	for _, h := range handlers {
		deliver(logger, h, event)
	}
}

func (b *EventBus) handlers(eventType EventType) ([]Handler, zerolog.Logger) {
	if b == nil {
		return nil, zerolog.Nop()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	subs := b.subs[eventType]
	out := make([]Handler, len(subs))
	for i, s := range subs {
		out[i] = s.fn
	}
	return out, b.logger
}

func stamp(event *Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
}

func deliver(logger zerolog.Logger, h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("type", string(event.Type)).Interface("panic", r).Msg("Event handler panicked")
		}
	}()
	h(event)
}

// Clear removes all handlers
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[EventType][]subscription)
}
