// Package store persists conversations, scheduled sends and usage counters
// in SQLite. One store instance owns the database; SQLite runs with a single
// connection and WAL, so statements here are serialized and each statement is
// atomic on its own.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"relaybot/internal/domain"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore implements domain.ConversationStore, domain.ScheduleStore and
// domain.UsageStore.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		identity            TEXT NOT NULL,
		direction           TEXT NOT NULL,
		content             TEXT NOT NULL,
		intent              TEXT DEFAULT '',
		provider_message_id TEXT DEFAULT '',
		model_used          TEXT DEFAULT '',
		ai_latency_ms       INTEGER DEFAULT 0,
		total_latency_ms    INTEGER DEFAULT 0,
		processing_status   TEXT NOT NULL DEFAULT 'received',
		received_at         DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_identity ON messages(identity, received_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_dedup
		ON messages(identity, provider_message_id)
		WHERE provider_message_id != '';

	CREATE TABLE IF NOT EXISTS scheduled_sends (
		id                  TEXT PRIMARY KEY,
		identity            TEXT NOT NULL,
		content             TEXT DEFAULT '',
		task_prompt         TEXT DEFAULT '',
		prompt_instructions TEXT DEFAULT '',
		scheduled_for       DATETIME NOT NULL,
		recur_type          TEXT NOT NULL DEFAULT 'once',
		recur_interval      INTEGER DEFAULT 0,
		recur_end_date      DATETIME,
		status              TEXT NOT NULL DEFAULT 'pending',
		next_run_at         DATETIME,
		sent_at             DATETIME,
		ai_response         TEXT DEFAULT '',
		model_used          TEXT DEFAULT '',
		created_at          DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sched_due ON scheduled_sends(status, scheduled_for);

	CREATE TABLE IF NOT EXISTS usage_records (
		provider           TEXT NOT NULL,
		model              TEXT NOT NULL,
		date               TEXT NOT NULL,
		request_count      INTEGER NOT NULL DEFAULT 0,
		input_tokens       INTEGER NOT NULL DEFAULT 0,
		output_tokens      INTEGER NOT NULL DEFAULT 0,
		estimated_cost_usd REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (provider, model, date)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// isUniqueViolation reports whether err is the dedup index firing.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// --- ConversationStore ---

func (s *SQLiteStore) InsertUserMessage(ctx context.Context, msg domain.ConversationMessage) (int64, error) {
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (identity, direction, content, intent, provider_message_id, processing_status, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.Identity, domain.DirectionUser, msg.Content, msg.Intent,
		msg.ProviderMessageID, domain.StatusReceived, msg.ReceivedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, domain.ErrDuplicateMessage
		}
		return 0, fmt.Errorf("insert user message: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) InsertAssistantMessage(ctx context.Context, msg domain.ConversationMessage) (int64, error) {
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}
	status := msg.ProcessingStatus
	if status == "" {
		status = domain.StatusProcessed
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (identity, direction, content, intent, model_used, ai_latency_ms, total_latency_ms, processing_status, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.Identity, domain.DirectionAssistant, msg.Content, msg.Intent,
		msg.ModelUsed, msg.AILatencyMs, msg.TotalLatencyMs, status, msg.ReceivedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert assistant message: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) UpdateMessageStatus(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET processing_status = ? WHERE id = ?`, status, id,
	)
	return err
}

func (s *SQLiteStore) RecentHistory(ctx context.Context, identity string, limit int) ([]domain.ConversationMessage, error) {
	if limit <= 0 {
		limit = 10
	}

	// Last N turns, returned oldest first.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identity, direction, content, intent, provider_message_id, model_used,
		        ai_latency_ms, total_latency_ms, processing_status, received_at
		 FROM messages WHERE identity = ?
		 ORDER BY id DESC LIMIT ?`, identity, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.ConversationMessage
	for rows.Next() {
		var m domain.ConversationMessage
		if err := rows.Scan(&m.ID, &m.Identity, &m.Direction, &m.Content, &m.Intent,
			&m.ProviderMessageID, &m.ModelUsed, &m.AILatencyMs, &m.TotalLatencyMs,
			&m.ProcessingStatus, &m.ReceivedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// --- ScheduleStore ---

func (s *SQLiteStore) CreateSchedule(ctx context.Context, sched domain.ScheduledSend) error {
	if sched.CreatedAt.IsZero() {
		sched.CreatedAt = time.Now().UTC()
	}
	if sched.Status == "" {
		sched.Status = domain.ScheduleStatusPending
	}
	if sched.Recurrence.Type == "" {
		sched.Recurrence.Type = domain.RecurOnce
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_sends (id, identity, content, task_prompt, prompt_instructions,
		     scheduled_for, recur_type, recur_interval, recur_end_date, status, next_run_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sched.ID, sched.Identity, sched.Content, sched.TaskPrompt, sched.PromptInstructions,
		sched.ScheduledFor, sched.Recurrence.Type, sched.Recurrence.Interval,
		nullTime(sched.Recurrence.EndDate), sched.Status, nullTime(sched.NextRunAt), sched.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSchedules(ctx context.Context, limit int) ([]domain.ScheduledSend, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		scheduleColumns+` FROM scheduled_sends ORDER BY scheduled_for DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// ClaimDue flips due pending rows to processing in one statement. The
// subquery works around SQLite's lack of UPDATE ... LIMIT; the whole
// statement still executes atomically, so concurrent invocations can never
// claim the same row twice.
func (s *SQLiteStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledSend, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`UPDATE scheduled_sends SET status = ?
		 WHERE status = ? AND id IN (
		     SELECT id FROM scheduled_sends
		     WHERE status = ? AND COALESCE(next_run_at, scheduled_for) <= ?
		     ORDER BY scheduled_for LIMIT ?
		 )
		 RETURNING id, identity, content, task_prompt, prompt_instructions,
		     scheduled_for, recur_type, recur_interval, recur_end_date,
		     status, next_run_at, sent_at, ai_response, model_used, created_at`,
		domain.ScheduleStatusProcessing,
		domain.ScheduleStatusPending, domain.ScheduleStatusPending, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due schedules: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

func (s *SQLiteStore) MarkSent(ctx context.Context, id string, sentAt time.Time, response, model string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_sends SET status = ?, sent_at = ?, ai_response = ?, model_used = ? WHERE id = ?`,
		domain.ScheduleStatusSent, sentAt, response, model, id,
	)
	return err
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_sends SET status = ? WHERE id = ?`,
		domain.ScheduleStatusFailed, id,
	)
	return err
}

func (s *SQLiteStore) MarkExpired(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_sends SET status = ? WHERE id = ?`,
		domain.ScheduleStatusExpired, id,
	)
	return err
}

func (s *SQLiteStore) Reschedule(ctx context.Context, id string, nextRunAt time.Time, response, model string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_sends SET status = ?, next_run_at = ?, sent_at = ?, ai_response = ?, model_used = ? WHERE id = ?`,
		domain.ScheduleStatusPending, nextRunAt, time.Now().UTC(), response, model, id,
	)
	return err
}

const scheduleColumns = `SELECT id, identity, content, task_prompt, prompt_instructions,
	scheduled_for, recur_type, recur_interval, recur_end_date,
	status, next_run_at, sent_at, ai_response, model_used, created_at`

func scanSchedules(rows *sql.Rows) ([]domain.ScheduledSend, error) {
	var scheds []domain.ScheduledSend
	for rows.Next() {
		var sc domain.ScheduledSend
		var endDate, nextRun, sentAt sql.NullTime
		if err := rows.Scan(&sc.ID, &sc.Identity, &sc.Content, &sc.TaskPrompt, &sc.PromptInstructions,
			&sc.ScheduledFor, &sc.Recurrence.Type, &sc.Recurrence.Interval, &endDate,
			&sc.Status, &nextRun, &sentAt, &sc.AIResponse, &sc.ModelUsed, &sc.CreatedAt); err != nil {
			return nil, err
		}
		if endDate.Valid {
			t := endDate.Time
			sc.Recurrence.EndDate = &t
		}
		if nextRun.Valid {
			t := nextRun.Time
			sc.NextRunAt = &t
		}
		if sentAt.Valid {
			t := sentAt.Time
			sc.SentAt = &t
		}
		scheds = append(scheds, sc)
	}
	return scheds, rows.Err()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// --- UsageStore ---

// RecordUsage increments the per-provider/model/day counters in one upsert,
// so concurrent recorders never lose increments.
func (s *SQLiteStore) RecordUsage(ctx context.Context, rec domain.UsageRecord) error {
	if rec.Date == "" {
		rec.Date = time.Now().UTC().Format("2006-01-02")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records (provider, model, date, request_count, input_tokens, output_tokens, estimated_cost_usd)
		 VALUES (?, ?, ?, 1, ?, ?, ?)
		 ON CONFLICT(provider, model, date) DO UPDATE SET
		     request_count      = request_count + 1,
		     input_tokens       = input_tokens + excluded.input_tokens,
		     output_tokens      = output_tokens + excluded.output_tokens,
		     estimated_cost_usd = estimated_cost_usd + excluded.estimated_cost_usd`,
		rec.Provider, rec.Model, rec.Date, rec.InputTokens, rec.OutputTokens, rec.EstimatedCostUSD,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListUsage(ctx context.Context, limit int) ([]domain.UsageRecord, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, model, date, request_count, input_tokens, output_tokens, estimated_cost_usd
		 FROM usage_records ORDER BY date DESC, provider, model LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.UsageRecord
	for rows.Next() {
		var r domain.UsageRecord
		if err := rows.Scan(&r.Provider, &r.Model, &r.Date, &r.RequestCount,
			&r.InputTokens, &r.OutputTokens, &r.EstimatedCostUSD); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
