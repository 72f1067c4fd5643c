package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"relaybot/internal/domain"
)

func TestOpenAI_Complete(t *testing.T) {
	var captured oaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("bad auth header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(oaiResponse{
			Choices: []oaiChoice{{Message: oaiMessage{Role: "assistant", Content: "hi there"}}},
			Usage:   oaiUsage{PromptTokens: 12, CompletionTokens: 5},
		})
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL, Model: "gpt-4o-mini", Logger: testLogger()})
	c, err := p.Complete(context.Background(), domain.CompletionRequest{
		System:    "be brief",
		History:   []domain.Turn{{Role: "user", Content: "hello"}},
		MaxTokens: 500,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if c.Text != "hi there" || c.InputTokens != 12 || c.OutputTokens != 5 {
		t.Errorf("unexpected completion: %+v", c)
	}
	// System prompt rides as the first chat message.
	if len(captured.Messages) != 2 || captured.Messages[0].Role != "system" {
		t.Errorf("unexpected messages: %+v", captured.Messages)
	}
	if captured.MaxTokens != 500 {
		t.Errorf("max_tokens = %d, want 500", captured.MaxTokens)
	}
}

func TestAnthropic_Complete(t *testing.T) {
	var captured anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "sk-ant" {
			t.Errorf("bad api key header %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got == "" {
			t.Error("missing anthropic-version header")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicBlock{{Type: "text", Text: "claude says hi"}},
			Usage:   anthropicUsage{InputTokens: 20, OutputTokens: 7},
		})
	}))
	defer srv.Close()

	p := NewAnthropic(AnthropicConfig{APIKey: "sk-ant", APIBase: srv.URL, Model: "claude-3-5-haiku-20241022", Logger: testLogger()})
	c, err := p.Complete(context.Background(), domain.CompletionRequest{
		System:    "be brief",
		History:   []domain.Turn{{Role: "user", Content: "hello"}},
		MaxTokens: 500,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if c.Text != "claude says hi" || c.InputTokens != 20 || c.OutputTokens != 7 {
		t.Errorf("unexpected completion: %+v", c)
	}
	// System prompt travels in its own field, never as a message.
	if captured.System != "be brief" {
		t.Errorf("system = %q", captured.System)
	}
	for _, m := range captured.Messages {
		if m.Role == "system" {
			t.Error("system role leaked into messages")
		}
	}
}

func TestGemini_Complete(t *testing.T) {
	var captured geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "g-key" {
			t.Errorf("missing key query param")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []geminiCandidate{{Content: geminiContent{
				Role:  "model",
				Parts: []geminiPart{{Text: "gemini "}, {Text: "reply"}},
			}}},
			UsageMetadata: geminiUsage{PromptTokenCount: 9, CandidatesTokenCount: 3},
		})
	}))
	defer srv.Close()

	p := NewGemini(GeminiConfig{APIKey: "g-key", APIBase: srv.URL, Model: "gemini-2.0-flash", Logger: testLogger()})
	c, err := p.Complete(context.Background(), domain.CompletionRequest{
		System: "be brief",
		History: []domain.Turn{
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "hi"},
			{Role: "user", Content: "more"},
		},
		MaxTokens: 800,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if c.Text != "gemini reply" || c.InputTokens != 9 || c.OutputTokens != 3 {
		t.Errorf("unexpected completion: %+v", c)
	}
	if captured.SystemInstruction == nil || captured.SystemInstruction.Parts[0].Text != "be brief" {
		t.Error("system instruction not set")
	}
	// Assistant turns are renamed to the "model" role.
	if len(captured.Contents) != 3 || captured.Contents[1].Role != "model" {
		t.Errorf("unexpected contents: %+v", captured.Contents)
	}
	if captured.GenerationConfig == nil || captured.GenerationConfig.MaxOutputTokens != 800 {
		t.Error("maxOutputTokens not set")
	}
}

func TestCodec_Non200ReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limit"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL, Logger: testLogger()})
	_, err := p.Complete(context.Background(), domain.CompletionRequest{
		History: []domain.Turn{{Role: "user", Content: "hello"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	var ae *apiError
	if !errors.As(err, &ae) {
		t.Fatalf("expected apiError, got %T", err)
	}
	if ae.statusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", ae.statusCode)
	}
	if !isTransient(err) {
		t.Error("429 should be transient")
	}
}
