package domain

import (
	"errors"
	"time"
)

// ErrDuplicateMessage is returned when an inbound event carries a
// provider-assigned message ID that has already been recorded for the same
// identity. It is an expected signal, not a failure.
var ErrDuplicateMessage = errors.New("duplicate provider message id")

// Direction of a stored conversation turn.
const (
	DirectionUser      = "user"
	DirectionAssistant = "assistant"
)

// Processing status of a stored conversation turn. Status is the only field
// ever mutated after insert.
const (
	StatusReceived  = "received"
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

// InboundEvent is the transport envelope for one gateway delivery. It lives
// only for the duration of a single processing cycle and is never persisted
// as-is.
type InboundEvent struct {
	SenderIdentity    string
	Text              string
	ProviderMessageID string
	ReceivedAt        time.Time
}

// ConversationMessage is one persisted turn of a conversation thread, keyed
// by the sender identity (e.g. a phone number).
type ConversationMessage struct {
	ID                int64     `json:"id"`
	Identity          string    `json:"identity"`
	Direction         string    `json:"direction"` // user | assistant
	Content           string    `json:"content"`
	Intent            string    `json:"intent,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	ModelUsed         string    `json:"model_used,omitempty"`
	AILatencyMs       int64     `json:"ai_latency_ms,omitempty"`
	TotalLatencyMs    int64     `json:"total_latency_ms,omitempty"`
	ProcessingStatus  string    `json:"processing_status"`
	ReceivedAt        time.Time `json:"received_at"`
}
