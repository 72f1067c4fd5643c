// Package relay implements the inbound message pipeline: classify, persist,
// complete, chunk, reply. One Process call handles exactly one gateway
// delivery and always leaves the sender with an answer when the message was
// accepted.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"relaybot/internal/bus"
	"relaybot/internal/channel"
	"relaybot/internal/domain"
	"relaybot/internal/intent"
	"relaybot/internal/metrics"
)

// processTimeout bounds one full delivery cycle, provider retries and
// chunked sending included.
const processTimeout = 2 * time.Minute

const busyNotice = "I'm having trouble keeping up right now. Please try again in a moment."

type Processor struct {
	conversations domain.ConversationStore
	usage         domain.UsageStore
	completer     domain.Completer
	transport     domain.Transport
	classifier    *intent.Classifier
	events        *bus.EventBus
	logger        *slog.Logger

	systemPrompt  string
	historyWindow int
	chunkLimit    int
	chunkDelay    time.Duration
}

type Options struct {
	Conversations domain.ConversationStore
	Usage         domain.UsageStore
	Completer     domain.Completer
	Transport     domain.Transport
	Classifier    *intent.Classifier
	Events        *bus.EventBus
	Logger        *slog.Logger

	SystemPrompt  string
	HistoryWindow int
	ChunkLimit    int
	ChunkDelay    time.Duration
}

func NewProcessor(opts Options) *Processor {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 10
	}
	return &Processor{
		conversations: opts.Conversations,
		usage:         opts.Usage,
		completer:     opts.Completer,
		transport:     opts.Transport,
		classifier:    opts.Classifier,
		events:        opts.Events,
		logger:        opts.Logger,
		systemPrompt:  opts.SystemPrompt,
		historyWindow: opts.HistoryWindow,
		chunkLimit:    opts.ChunkLimit,
		chunkDelay:    opts.ChunkDelay,
	}
}

// Process handles one inbound event end to end. It is safe to call from a
// detached goroutine: panics are contained and every path is logged.
func (p *Processor) Process(ev domain.InboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("processor panic", "identity", ev.SenderIdentity, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	start := time.Now()
	msgIntent := p.classifier.Classify(ev.Text)

	userID, err := p.conversations.InsertUserMessage(ctx, domain.ConversationMessage{
		Identity:          ev.SenderIdentity,
		Content:           ev.Text,
		Intent:            string(msgIntent),
		ProviderMessageID: ev.ProviderMessageID,
		ReceivedAt:        ev.ReceivedAt,
	})
	if errors.Is(err, domain.ErrDuplicateMessage) {
		// Gateway re-delivery; the first copy already answered.
		metrics.DuplicatesTotal.Inc()
		p.emit(bus.EventDuplicateDrop, map[string]any{"identity": ev.SenderIdentity, "message_id": ev.ProviderMessageID})
		p.logger.Info("duplicate delivery dropped",
			"identity", ev.SenderIdentity, "message_id", ev.ProviderMessageID)
		return
	}
	if err != nil {
		p.logger.Error("cannot persist inbound message", "identity", ev.SenderIdentity, "err", err)
		p.reply(ctx, ev.SenderIdentity, busyNotice)
		return
	}

	metrics.MessagesTotal.Inc()
	p.emit(bus.EventMessageReceived, map[string]any{"identity": ev.SenderIdentity, "intent": string(msgIntent)})

	history, err := p.conversations.RecentHistory(ctx, ev.SenderIdentity, p.historyWindow)
	if err != nil {
		p.logger.Warn("history unavailable, answering without context", "err", err)
		history = []domain.ConversationMessage{{Direction: domain.DirectionUser, Content: ev.Text}}
	}

	metrics.ProviderRequestsTotal.Inc()
	comp, err := p.completer.Complete(ctx, domain.CompletionRequest{
		System:    p.prompt(msgIntent),
		History:   toTurns(history),
		MaxTokens: p.classifier.TokenBudget(msgIntent),
	})
	if err != nil {
		// The router only errors once the processing deadline is gone, so
		// the notice goes out on its own short-lived context.
		p.logger.Error("completion aborted", "identity", ev.SenderIdentity, "err", err)
		p.notifyBusy(ev.SenderIdentity)
		p.markFailed(userID)
		return
	}

	metrics.ProviderLatency.Observe(float64(comp.LatencyMs) / 1000)
	if comp.Degraded {
		metrics.ProviderFailuresTotal.Inc()
		p.emit(bus.EventProviderError, map[string]any{"identity": ev.SenderIdentity, "class": comp.FailureClass})
	}

	if err := p.reply(ctx, ev.SenderIdentity, comp.Text); err != nil {
		metrics.SendFailuresTotal.Inc()
		p.logger.Error("reply delivery failed", "identity", ev.SenderIdentity, "err", err)
		p.markFailed(userID)
		return
	}

	assistant := domain.ConversationMessage{
		Identity:       ev.SenderIdentity,
		Content:        comp.Text,
		Intent:         string(msgIntent),
		ModelUsed:      comp.Model,
		AILatencyMs:    comp.LatencyMs,
		TotalLatencyMs: time.Since(start).Milliseconds(),
	}
	if _, err := p.conversations.InsertAssistantMessage(ctx, assistant); err != nil {
		p.logger.Error("cannot persist assistant message", "err", err)
	}
	if err := p.conversations.UpdateMessageStatus(ctx, userID, domain.StatusProcessed); err != nil {
		p.logger.Error("cannot update message status", "id", userID, "err", err)
	}

	if !comp.Degraded {
		rec := domain.UsageRecord{
			Provider:         comp.Provider,
			Model:            comp.Model,
			InputTokens:      int64(comp.InputTokens),
			OutputTokens:     int64(comp.OutputTokens),
			EstimatedCostUSD: comp.CostUSD,
		}
		if err := p.usage.RecordUsage(ctx, rec); err != nil {
			p.logger.Error("cannot record usage", "err", err)
		}
	}

	p.emit(bus.EventMessageSent, map[string]any{"identity": ev.SenderIdentity, "model": comp.Model})
	p.logger.Info("message relayed",
		"identity", ev.SenderIdentity,
		"intent", string(msgIntent),
		"model", comp.Model,
		"degraded", comp.Degraded,
		"total_ms", time.Since(start).Milliseconds())
}

func (p *Processor) prompt(i intent.Intent) string {
	if p.systemPrompt == "" {
		return p.classifier.Instruction(i)
	}
	return p.systemPrompt + "\n\n" + p.classifier.Instruction(i)
}

func (p *Processor) reply(ctx context.Context, to, text string) error {
	return channel.SendChunked(ctx, p.transport, to, text, p.chunkLimit, p.chunkDelay, p.logger)
}

// notifyBusy sends the busy notice best-effort, detached from the expired
// processing context.
func (p *Processor) notifyBusy(to string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.reply(ctx, to, busyNotice); err != nil {
		p.logger.Error("cannot deliver busy notice", "identity", to, "err", err)
	}
}

func (p *Processor) markFailed(id int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.conversations.UpdateMessageStatus(ctx, id, domain.StatusFailed); err != nil {
		p.logger.Error("cannot mark message failed", "id", id, "err", err)
	}
}

func (p *Processor) emit(eventType string, payload map[string]any) {
	if p.events != nil {
		p.events.Emit(bus.Event{Type: eventType, Source: "relay", Payload: payload})
	}
}

func toTurns(history []domain.ConversationMessage) []domain.Turn {
	turns := make([]domain.Turn, 0, len(history))
	for _, m := range history {
		turns = append(turns, domain.Turn{Role: m.Direction, Content: m.Content})
	}
	return turns
}
