// Package bus is a small in-process pub/sub used to decouple the relay
// pipeline from observers (logging, metrics). Handlers run synchronously and
// a panicking handler never takes down the emitter.
package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

type Event struct {
	Type      string
	Source    string
	Payload   map[string]any
	Timestamp time.Time
}

type EventHandler func(Event)

type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	logger   *slog.Logger
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers: make(map[string][]namedHandler),
		logger:   logger,
	}
}

// On registers a handler for the given event type. "*" matches every event.
// The returned ID can be passed to Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eventType + "-" + strconv.Itoa(len(eb.handlers[eventType]))
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

// Off removes a handler by its ID.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit delivers an event to matching handlers in registration order.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	handlers := make([]namedHandler, 0, len(eb.handlers[event.Type]))
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.RUnlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic",
						"event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// Relay event types.
const (
	EventWebhookReceived = "webhook.received"
	EventMessageReceived = "message.received"
	EventMessageSent     = "message.sent"
	EventDuplicateDrop   = "message.duplicate"
	EventProviderError   = "provider.error"
	EventScheduleSent    = "schedule.sent"
	EventScheduleFailed  = "schedule.failed"
)
