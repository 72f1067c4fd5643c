package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"relaybot/internal/bus"
	"relaybot/internal/chunk"
	"relaybot/internal/config"
	"relaybot/internal/domain"
)

// NewTransport builds the configured outbound transport.
func NewTransport(cfg config.GatewayConfig, client *http.Client, events *bus.EventBus, logger *slog.Logger) (domain.Transport, error) {
	switch cfg.Transport {
	case "whatsapp":
		return NewWhatsApp(WhatsAppOptions{
			Config: cfg.WhatsApp,
			Client: client,
			Events: events,
			Logger: logger,
		}), nil
	case "telegram":
		return NewTelegram(cfg.Telegram.Token, logger)
	default:
		return nil, fmt.Errorf("unknown transport: %s", cfg.Transport)
	}
}

// SendChunked splits text to the transport ceiling and sends the segments in
// order, pausing between them. A mid-sequence failure stops the remainder;
// already delivered segments are not recalled.
func SendChunked(ctx context.Context, t domain.Transport, to, text string, limit int, delay time.Duration, logger *slog.Logger) error {
	segments := chunk.Split(text, limit)
	for i, seg := range segments {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := t.Send(ctx, to, seg); err != nil {
			logger.Error("chunked send failed",
				"transport", t.Name(), "to", to, "segment", i+1, "of", len(segments), "err", err)
			return fmt.Errorf("send segment %d/%d: %w", i+1, len(segments), err)
		}
	}
	return nil
}
