package domain

import "time"

// Schedule status lifecycle: pending → processing → {sent | pending | failed}.
// Recurring, non-expired schedules loop back to pending with a recomputed
// NextRunAt; expired and failed rows are terminal.
const (
	ScheduleStatusPending    = "pending"
	ScheduleStatusProcessing = "processing"
	ScheduleStatusSent       = "sent"
	ScheduleStatusFailed     = "failed"
	ScheduleStatusExpired    = "expired"
)

// Recurrence types.
const (
	RecurOnce        = "once"
	RecurDaily       = "daily"
	RecurWeekly      = "weekly"
	RecurEveryNHours = "every_n_hours"
	RecurEveryNDays  = "every_n_days"
	RecurDateRange   = "date_range"
)

// Recurrence describes how a scheduled send repeats. Interval is only
// meaningful for every_n_hours / every_n_days; EndDate only for date_range.
type Recurrence struct {
	Type     string     `json:"type"`
	Interval int        `json:"interval,omitempty"`
	EndDate  *time.Time `json:"end_date,omitempty"`
}

// ScheduledSend is an operator-created message to dispatch at a future time.
// Either Content (fixed text) or TaskPrompt (generated fresh at dispatch
// time) is set, never both.
type ScheduledSend struct {
	ID                 string     `json:"id"`
	Identity           string     `json:"identity"`
	Content            string     `json:"content,omitempty"`
	TaskPrompt         string     `json:"task_prompt,omitempty"`
	PromptInstructions string     `json:"prompt_instructions,omitempty"`
	ScheduledFor       time.Time  `json:"scheduled_for"`
	Recurrence         Recurrence `json:"recurrence"`
	Status             string     `json:"status"`
	NextRunAt          *time.Time `json:"next_run_at,omitempty"`
	SentAt             *time.Time `json:"sent_at,omitempty"`
	AIResponse         string     `json:"ai_response,omitempty"`
	ModelUsed          string     `json:"model_used,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// DueAt returns the instant this schedule should next fire: NextRunAt when a
// recurrence has advanced it, otherwise the original ScheduledFor.
func (s *ScheduledSend) DueAt() time.Time {
	if s.NextRunAt != nil {
		return *s.NextRunAt
	}
	return s.ScheduledFor
}
