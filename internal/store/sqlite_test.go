package store

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"relaybot/internal/domain"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertUserMessage_Duplicate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	msg := domain.ConversationMessage{
		Identity:          "84901234567",
		Content:           "hello",
		ProviderMessageID: "wamid.abc123",
	}
	if _, err := s.InsertUserMessage(ctx, msg); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	_, err := s.InsertUserMessage(ctx, msg)
	if !errors.Is(err, domain.ErrDuplicateMessage) {
		t.Fatalf("expected ErrDuplicateMessage, got %v", err)
	}
}

func TestInsertUserMessage_SameIDDifferentIdentity(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := domain.ConversationMessage{Identity: "111", Content: "hi", ProviderMessageID: "wamid.x"}
	b := domain.ConversationMessage{Identity: "222", Content: "hi", ProviderMessageID: "wamid.x"}

	if _, err := s.InsertUserMessage(ctx, a); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if _, err := s.InsertUserMessage(ctx, b); err != nil {
		t.Fatalf("same id for another identity should insert: %v", err)
	}
}

func TestInsertAssistantMessage_NoDedup(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Assistant rows carry no provider message id; two inserts must not
	// trip the dedup index.
	msg := domain.ConversationMessage{Identity: "111", Content: "reply"}
	if _, err := s.InsertAssistantMessage(ctx, msg); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := s.InsertAssistantMessage(ctx, msg); err != nil {
		t.Fatalf("second: %v", err)
	}
}

func TestRecentHistory_OrderAndWindow(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.InsertUserMessage(ctx, domain.ConversationMessage{
			Identity:          "111",
			Content:           string(rune('a' + i)),
			ProviderMessageID: "wamid." + string(rune('a'+i)),
		})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	msgs, err := s.RecentHistory(ctx, "111", 3)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	// Window keeps the newest rows, returned oldest first.
	if msgs[0].Content != "c" || msgs[2].Content != "e" {
		t.Errorf("unexpected order: %s..%s", msgs[0].Content, msgs[2].Content)
	}
}

func TestUpdateMessageStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.InsertUserMessage(ctx, domain.ConversationMessage{
		Identity: "111", Content: "hi", ProviderMessageID: "wamid.1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateMessageStatus(ctx, id, domain.StatusProcessed); err != nil {
		t.Fatalf("update status: %v", err)
	}

	msgs, err := s.RecentHistory(ctx, "111", 1)
	if err != nil {
		t.Fatal(err)
	}
	if msgs[0].ProcessingStatus != domain.StatusProcessed {
		t.Errorf("status = %s, want processed", msgs[0].ProcessingStatus)
	}
}

func TestClaimDue(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	due := domain.ScheduledSend{
		ID: "sched-1", Identity: "111", Content: "reminder",
		ScheduledFor: now.Add(-time.Hour),
	}
	future := domain.ScheduledSend{
		ID: "sched-2", Identity: "111", Content: "later",
		ScheduledFor: now.Add(time.Hour),
	}
	if err := s.CreateSchedule(ctx, due); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateSchedule(ctx, future); err != nil {
		t.Fatal(err)
	}

	claimed, err := s.ClaimDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != "sched-1" {
		t.Fatalf("claimed %d rows, want only sched-1", len(claimed))
	}
	if claimed[0].Status != domain.ScheduleStatusProcessing {
		t.Errorf("status = %s, want processing", claimed[0].Status)
	}

	// Second claim finds nothing: sched-1 is processing, sched-2 not due.
	again, err := s.ClaimDue(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("second claim returned %d rows, want 0", len(again))
	}
}

func TestClaimDue_UsesNextRunAt(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Row recurred: original instant long past, next run in the future.
	next := now.Add(2 * time.Hour)
	sched := domain.ScheduledSend{
		ID: "sched-1", Identity: "111", Content: "daily",
		ScheduledFor: now.Add(-48 * time.Hour),
		Recurrence:   domain.Recurrence{Type: domain.RecurDaily},
		NextRunAt:    &next,
	}
	if err := s.CreateSchedule(ctx, sched); err != nil {
		t.Fatal(err)
	}

	claimed, err := s.ClaimDue(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 0 {
		t.Fatalf("claimed %d rows, want 0 until next_run_at", len(claimed))
	}

	claimed, err = s.ClaimDue(ctx, next, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed %d rows at next_run_at, want 1", len(claimed))
	}
}

func TestClaimDue_Limit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for _, id := range []string{"a", "b", "c"} {
		err := s.CreateSchedule(ctx, domain.ScheduledSend{
			ID: id, Identity: "111", Content: id,
			ScheduledFor: now.Add(-time.Hour),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	claimed, err := s.ClaimDue(ctx, now, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed %d rows, want 2", len(claimed))
	}

	rest, err := s.ClaimDue(ctx, now, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 1 {
		t.Fatalf("second claim got %d rows, want 1", len(rest))
	}
}

func TestScheduleLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	sched := domain.ScheduledSend{
		ID: "sched-1", Identity: "111", TaskPrompt: "summarize the news",
		ScheduledFor: now.Add(-time.Minute),
		Recurrence:   domain.Recurrence{Type: domain.RecurDaily},
	}
	if err := s.CreateSchedule(ctx, sched); err != nil {
		t.Fatal(err)
	}

	claimed, err := s.ClaimDue(ctx, now, 10)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d rows)", err, len(claimed))
	}

	next := claimed[0].DueAt().Add(24 * time.Hour)
	if err := s.Reschedule(ctx, "sched-1", next, "today's summary", "gpt-4o-mini"); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	list, err := s.ListSchedules(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d schedules", len(list))
	}
	got := list[0]
	if got.Status != domain.ScheduleStatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(next) {
		t.Errorf("next_run_at = %v, want %v", got.NextRunAt, next)
	}
	if got.AIResponse != "today's summary" || got.ModelUsed != "gpt-4o-mini" {
		t.Errorf("dispatch result not persisted: %+v", got)
	}
}

func TestMarkSentFailedExpired(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for _, id := range []string{"s1", "s2", "s3"} {
		err := s.CreateSchedule(ctx, domain.ScheduledSend{
			ID: id, Identity: "111", Content: "x", ScheduledFor: now,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	if err := s.MarkSent(ctx, "s1", now, "body", "m"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkFailed(ctx, "s2"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkExpired(ctx, "s3"); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListSchedules(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	byID := map[string]domain.ScheduledSend{}
	for _, sc := range list {
		byID[sc.ID] = sc
	}
	if byID["s1"].Status != domain.ScheduleStatusSent || byID["s1"].SentAt == nil {
		t.Errorf("s1 not marked sent: %+v", byID["s1"])
	}
	if byID["s2"].Status != domain.ScheduleStatusFailed {
		t.Errorf("s2 status = %s", byID["s2"].Status)
	}
	if byID["s3"].Status != domain.ScheduleStatusExpired {
		t.Errorf("s3 status = %s", byID["s3"].Status)
	}
}

func TestRecordUsage_UpsertIncrements(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := domain.UsageRecord{
		Provider: "openai", Model: "gpt-4o-mini", Date: "2025-06-01",
		InputTokens: 100, OutputTokens: 50, EstimatedCostUSD: 0.001,
	}
	if err := s.RecordUsage(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordUsage(ctx, rec); err != nil {
		t.Fatal(err)
	}

	recs, err := s.ListUsage(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d rows, want 1 merged row", len(recs))
	}
	got := recs[0]
	if got.RequestCount != 2 {
		t.Errorf("request_count = %d, want 2", got.RequestCount)
	}
	if got.InputTokens != 200 || got.OutputTokens != 100 {
		t.Errorf("tokens = %d/%d, want 200/100", got.InputTokens, got.OutputTokens)
	}
	if got.EstimatedCostUSD < 0.0019 || got.EstimatedCostUSD > 0.0021 {
		t.Errorf("cost = %f, want ~0.002", got.EstimatedCostUSD)
	}
}

func TestRecordUsage_SeparateDays(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, date := range []string{"2025-06-01", "2025-06-02"} {
		err := s.RecordUsage(ctx, domain.UsageRecord{
			Provider: "openai", Model: "gpt-4o-mini", Date: date, InputTokens: 10,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	recs, err := s.ListUsage(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Errorf("got %d rows, want one per day", len(recs))
	}
}
