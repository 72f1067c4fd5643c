package domain

import (
	"context"
	"time"
)

// ConversationStore is the append-only per-identity message log. Inserts and
// the status update are the only writes; content is never mutated.
type ConversationStore interface {
	// InsertUserMessage records an inbound turn. Returns ErrDuplicateMessage
	// when the (identity, provider message id) pair already exists; the
	// storage-level uniqueness constraint is the deduplication authority.
	InsertUserMessage(ctx context.Context, msg ConversationMessage) (int64, error)
	InsertAssistantMessage(ctx context.Context, msg ConversationMessage) (int64, error)
	UpdateMessageStatus(ctx context.Context, id int64, status string) error
	// RecentHistory returns the last limit turns for identity in
	// chronological order.
	RecentHistory(ctx context.Context, identity string, limit int) ([]ConversationMessage, error)
}

// ScheduleStore owns ScheduledSend rows. ClaimDue must be a single atomic
// conditional update; a separate read-then-write would duplicate sends under
// overlapping scheduler invocations.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, s ScheduledSend) error
	ListSchedules(ctx context.Context, limit int) ([]ScheduledSend, error)
	// ClaimDue atomically transitions up to limit rows with status=pending
	// and a due instant <= now into processing, returning the claimed rows.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]ScheduledSend, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time, response, model string) error
	MarkFailed(ctx context.Context, id string) error
	MarkExpired(ctx context.Context, id string) error
	// Reschedule returns a recurring row to pending with its next run instant.
	Reschedule(ctx context.Context, id string, nextRunAt time.Time, response, model string) error
}

// UsageRecord is a per-provider/model/day counter row; incremented, never
// replaced.
type UsageRecord struct {
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	Date             string  `json:"date"` // YYYY-MM-DD (UTC)
	RequestCount     int64   `json:"request_count"`
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// UsageStore accumulates request/cost counters with a single atomic
// upsert-with-increment per call.
type UsageStore interface {
	RecordUsage(ctx context.Context, rec UsageRecord) error
	ListUsage(ctx context.Context, limit int) ([]UsageRecord, error)
}
