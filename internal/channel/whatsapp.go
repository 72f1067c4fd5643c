// Package channel holds the messaging gateway transports: the WhatsApp Cloud
// API webhook plus sender, and a Telegram sender. Transports only move text;
// all relay logic lives upstream.
package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"time"

	"relaybot/internal/bus"
	"relaybot/internal/config"
	"relaybot/internal/domain"
)

const defaultWhatsAppAPIBase = "https://graph.facebook.com/v21.0"

// WhatsApp receives Cloud API webhook deliveries and sends text messages.
type WhatsApp struct {
	cfg    config.WhatsAppConfig
	client *http.Client
	events *bus.EventBus
	logger *slog.Logger
}

type WhatsAppOptions struct {
	Config config.WhatsAppConfig
	Client *http.Client
	Events *bus.EventBus
	Logger *slog.Logger
}

func NewWhatsApp(opts WhatsAppOptions) *WhatsApp {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Config.APIBase == "" {
		opts.Config.APIBase = defaultWhatsAppAPIBase
	}
	return &WhatsApp{
		cfg:    opts.Config,
		client: opts.Client,
		events: opts.Events,
		logger: opts.Logger,
	}
}

func (w *WhatsApp) Name() string { return "whatsapp" }

// Register mounts the webhook endpoints. Each accepted text message is handed
// to dispatch on its own goroutine, so the webhook reply never waits on
// provider calls.
func (w *WhatsApp) Register(mux *http.ServeMux, dispatch func(domain.InboundEvent)) {
	path := w.cfg.WebhookPath
	if path == "" {
		path = "/webhook/whatsapp"
	}
	mux.HandleFunc("GET "+path, w.handleVerification)
	mux.HandleFunc("POST "+path, func(rw http.ResponseWriter, r *http.Request) {
		w.handleIncoming(rw, r, dispatch)
	})
	w.logger.Info("whatsapp webhook ready", "path", path)
}

// handleVerification answers the hub.challenge subscription handshake.
func (w *WhatsApp) handleVerification(rw http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == w.cfg.VerifyToken {
		w.logger.Info("whatsapp webhook verified")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, html.EscapeString(challenge))
		return
	}

	w.logger.Warn("whatsapp webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

// handleIncoming authenticates a delivery and fans out its messages. Only a
// bad signature is rejected; everything after authentication answers 200 so
// the gateway never re-delivers a payload we merely failed to parse.
func (w *WhatsApp) handleIncoming(rw http.ResponseWriter, r *http.Request, dispatch func(domain.InboundEvent)) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		// Without the full raw body the signature cannot be checked, and
		// an unverifiable delivery gets the same answer as a forged one.
		w.logger.Warn("whatsapp webhook body unreadable", "err", err)
		http.Error(rw, "Forbidden", http.StatusForbidden)
		return
	}

	if !w.verifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		w.logger.Warn("whatsapp invalid signature")
		http.Error(rw, "Forbidden", http.StatusForbidden)
		return
	}

	if w.events != nil {
		w.events.Emit(bus.Event{Type: bus.EventWebhookReceived, Source: "whatsapp"})
	}

	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("whatsapp unparseable payload", "err", err)
		rw.WriteHeader(http.StatusOK)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.Text == nil {
					continue
				}
				w.logger.Info("whatsapp message received",
					"from", msg.From, "id", msg.ID, "text_len", len(msg.Text.Body))

				ev := domain.InboundEvent{
					SenderIdentity:    msg.From,
					Text:              msg.Text.Body,
					ProviderMessageID: msg.ID,
					ReceivedAt:        time.Now().UTC(),
				}
				go dispatch(ev)
			}
		}
	}

	rw.WriteHeader(http.StatusOK)
}

// verifySignature checks the X-Hub-Signature-256 header against the raw body.
func (w *WhatsApp) verifySignature(body []byte, signature string) bool {
	if len(signature) < 7 || signature[:7] != "sha256=" {
		return false
	}
	expected := signature[7:]

	mac := hmac.New(sha256.New, []byte(w.cfg.AppSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(computed))
}

// Send delivers one text message via the Cloud API.
func (w *WhatsApp) Send(ctx context.Context, to, text string) error {
	url := fmt.Sprintf("%s/%s/messages", w.cfg.APIBase, w.cfg.PhoneNumberID)

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// --- Cloud API webhook payload ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Messages         []waMessage `json:"messages"`
}

type waMessage struct {
	From string  `json:"from"`
	ID   string  `json:"id"`
	Type string  `json:"type"`
	Text *waText `json:"text,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}
