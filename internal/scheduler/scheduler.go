// Package scheduler dispatches due scheduled sends. A run claims a batch of
// due rows atomically, then works through them strictly one at a time, so
// one recipient's send never interleaves with another's and a crash loses at
// most the row being processed.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"relaybot/internal/bus"
	"relaybot/internal/channel"
	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

// taskPromptBudget is the token budget for content generated at dispatch
// time.
const taskPromptBudget = 800

type Scheduler struct {
	schedules domain.ScheduleStore
	usage     domain.UsageStore
	completer domain.Completer
	transport domain.Transport
	events    *bus.EventBus
	logger    *slog.Logger

	systemPrompt string
	batchSize    int
	chunkLimit   int
	chunkDelay   time.Duration
}

type Options struct {
	Schedules domain.ScheduleStore
	Usage     domain.UsageStore
	Completer domain.Completer
	Transport domain.Transport
	Events    *bus.EventBus
	Logger    *slog.Logger

	SystemPrompt string
	BatchSize    int
	ChunkLimit   int
	ChunkDelay   time.Duration
}

func New(opts Options) *Scheduler {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	return &Scheduler{
		schedules:    opts.Schedules,
		usage:        opts.Usage,
		completer:    opts.Completer,
		transport:    opts.Transport,
		events:       opts.Events,
		logger:       opts.Logger,
		systemPrompt: opts.SystemPrompt,
		batchSize:    opts.BatchSize,
		chunkLimit:   opts.ChunkLimit,
		chunkDelay:   opts.ChunkDelay,
	}
}

// Summary reports one run. Expired counts rows retired without sending; a
// send whose recurrence then ran off its end date still counts as Sent.
type Summary struct {
	Claimed int `json:"claimed"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Expired int `json:"expired"`
}

// Run claims and dispatches everything due at now. Overlapping runs are safe:
// the claim is a single conditional update, so each row lands in exactly one
// run's batch.
func (s *Scheduler) Run(ctx context.Context, now time.Time) (Summary, error) {
	var sum Summary

	claimed, err := s.schedules.ClaimDue(ctx, now, s.batchSize)
	if err != nil {
		return sum, fmt.Errorf("claim due schedules: %w", err)
	}
	sum.Claimed = len(claimed)
	if len(claimed) == 0 {
		return sum, nil
	}

	s.logger.Info("scheduler run started", "claimed", len(claimed), "now", now)

	for _, sched := range claimed {
		if err := ctx.Err(); err != nil {
			// Remaining claimed rows stay in processing; an operator can
			// requeue them, and nothing double-sends.
			return sum, err
		}
		s.dispatch(ctx, sched, &sum)
	}

	s.logger.Info("scheduler run finished",
		"claimed", sum.Claimed, "sent", sum.Sent, "failed", sum.Failed, "expired", sum.Expired)
	return sum, nil
}

func (s *Scheduler) dispatch(ctx context.Context, sched domain.ScheduledSend, sum *Summary) {
	base := sched.DueAt()

	if sched.Recurrence.Type == domain.RecurDateRange && sched.Recurrence.EndDate != nil &&
		base.After(*sched.Recurrence.EndDate) {
		s.retire(ctx, sched.ID, sum)
		return
	}

	text := sched.Content
	model := ""
	if sched.TaskPrompt != "" {
		comp, err := s.generate(ctx, sched)
		if err != nil {
			s.fail(ctx, sched.ID, err)
			sum.Failed++
			return
		}
		text = comp.Text
		model = comp.Model
	}

	if err := channel.SendChunked(ctx, s.transport, sched.Identity, text, s.chunkLimit, s.chunkDelay, s.logger); err != nil {
		s.fail(ctx, sched.ID, err)
		sum.Failed++
		return
	}

	metrics.SchedulerDispatchTotal.Inc()
	s.emit(bus.EventScheduleSent, map[string]any{"id": sched.ID, "identity": sched.Identity})
	sum.Sent++

	next, recurring := nextRun(sched.Recurrence, base)
	switch {
	case !recurring:
		if err := s.schedules.MarkSent(ctx, sched.ID, time.Now().UTC(), text, model); err != nil {
			s.logger.Error("cannot mark schedule sent", "id", sched.ID, "err", err)
		}
	case sched.Recurrence.Type == domain.RecurDateRange && sched.Recurrence.EndDate != nil &&
		next.After(*sched.Recurrence.EndDate):
		// Series complete: this send was the last one inside the range.
		if err := s.schedules.MarkExpired(ctx, sched.ID); err != nil {
			s.logger.Error("cannot expire schedule", "id", sched.ID, "err", err)
		}
	default:
		if err := s.schedules.Reschedule(ctx, sched.ID, next, text, model); err != nil {
			s.logger.Error("cannot reschedule", "id", sched.ID, "err", err)
		}
	}
}

// generate produces dispatch-time content from the task prompt. A degraded
// completion is a failure here: an apology is a sensible reply to a person
// who just wrote in, but a scheduled update that cannot be produced should
// fail visibly instead of messaging apologies on a timer.
func (s *Scheduler) generate(ctx context.Context, sched domain.ScheduledSend) (*domain.Completion, error) {
	system := s.systemPrompt
	if sched.PromptInstructions != "" {
		if system != "" {
			system += "\n\n"
		}
		system += sched.PromptInstructions
	}

	comp, err := s.completer.Complete(ctx, domain.CompletionRequest{
		System:    system,
		History:   []domain.Turn{{Role: "user", Content: sched.TaskPrompt}},
		MaxTokens: taskPromptBudget,
	})
	if err != nil {
		return nil, err
	}
	if comp.Degraded {
		return nil, fmt.Errorf("content generation degraded: %s", comp.FailureClass)
	}

	if s.usage != nil {
		rec := domain.UsageRecord{
			Provider:         comp.Provider,
			Model:            comp.Model,
			InputTokens:      int64(comp.InputTokens),
			OutputTokens:     int64(comp.OutputTokens),
			EstimatedCostUSD: comp.CostUSD,
		}
		if err := s.usage.RecordUsage(ctx, rec); err != nil {
			s.logger.Error("cannot record usage", "err", err)
		}
	}
	return comp, nil
}

func (s *Scheduler) fail(ctx context.Context, id string, cause error) {
	metrics.SchedulerFailuresTotal.Inc()
	s.emit(bus.EventScheduleFailed, map[string]any{"id": id, "error": cause.Error()})
	s.logger.Error("scheduled send failed", "id", id, "err", cause)
	if err := s.schedules.MarkFailed(ctx, id); err != nil {
		s.logger.Error("cannot mark schedule failed", "id", id, "err", err)
	}
}

func (s *Scheduler) retire(ctx context.Context, id string, sum *Summary) {
	s.logger.Info("schedule past its end date, expiring", "id", id)
	if err := s.schedules.MarkExpired(ctx, id); err != nil {
		s.logger.Error("cannot expire schedule", "id", id, "err", err)
	}
	sum.Expired++
}

func (s *Scheduler) emit(eventType string, payload map[string]any) {
	if s.events != nil {
		s.events.Emit(bus.Event{Type: eventType, Source: "scheduler", Payload: payload})
	}
}

// nextRun advances a recurrence from the run it just completed, not from the
// wall clock, so a late run never drifts the series.
func nextRun(r domain.Recurrence, base time.Time) (time.Time, bool) {
	switch r.Type {
	case domain.RecurDaily, domain.RecurDateRange:
		return base.Add(24 * time.Hour), true
	case domain.RecurWeekly:
		return base.Add(7 * 24 * time.Hour), true
	case domain.RecurEveryNHours:
		return base.Add(time.Duration(intervalOrOne(r.Interval)) * time.Hour), true
	case domain.RecurEveryNDays:
		return base.Add(time.Duration(intervalOrOne(r.Interval)) * 24 * time.Hour), true
	default:
		return time.Time{}, false
	}
}

func intervalOrOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
