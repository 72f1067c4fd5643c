package bus

import (
	"log/slog"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func TestEmit_SpecificAndWildcard(t *testing.T) {
	eb := NewEventBus(testLogger())

	var specific, wildcard int
	eb.On(EventMessageReceived, func(Event) { specific++ })
	eb.On("*", func(Event) { wildcard++ })

	eb.Emit(Event{Type: EventMessageReceived})
	eb.Emit(Event{Type: EventMessageSent})

	if specific != 1 {
		t.Errorf("specific handler called %d times, want 1", specific)
	}
	if wildcard != 2 {
		t.Errorf("wildcard handler called %d times, want 2", wildcard)
	}
}

func TestEmit_PanicDoesNotStopOthers(t *testing.T) {
	eb := NewEventBus(testLogger())

	var called bool
	eb.On(EventProviderError, func(Event) { panic("boom") })
	eb.On(EventProviderError, func(Event) { called = true })

	eb.Emit(Event{Type: EventProviderError})

	if !called {
		t.Error("handler after panicking handler was not called")
	}
}

func TestOff(t *testing.T) {
	eb := NewEventBus(testLogger())

	var calls int
	id := eb.On(EventScheduleSent, func(Event) { calls++ })
	eb.Emit(Event{Type: EventScheduleSent})
	eb.Off(EventScheduleSent, id)
	eb.Emit(Event{Type: EventScheduleSent})

	if calls != 1 {
		t.Errorf("handler called %d times after Off, want 1", calls)
	}
}

func TestEmit_SetsTimestamp(t *testing.T) {
	eb := NewEventBus(testLogger())

	var got Event
	eb.On(EventWebhookReceived, func(e Event) { got = e })
	eb.Emit(Event{Type: EventWebhookReceived})

	if got.Timestamp.IsZero() {
		t.Error("timestamp not filled in")
	}
}
