package provider

import (
	"fmt"
	"log/slog"
	"net/http"

	"relaybot/internal/domain"
)

// Endpoint describes one upstream completion API.
type Endpoint struct {
	Provider string
	Model    string
	APIKey   string
	APIBase  string
}

// New builds a provider codec for the given endpoint.
func New(ep Endpoint, client *http.Client, logger *slog.Logger) (domain.Provider, error) {
	switch ep.Provider {
	case "openai":
		return NewOpenAI(OpenAIConfig{
			APIKey:  ep.APIKey,
			APIBase: ep.APIBase,
			Model:   ep.Model,
			Client:  client,
			Logger:  logger,
		}), nil
	case "anthropic":
		return NewAnthropic(AnthropicConfig{
			APIKey:  ep.APIKey,
			APIBase: ep.APIBase,
			Model:   ep.Model,
			Client:  client,
			Logger:  logger,
		}), nil
	case "gemini":
		return NewGemini(GeminiConfig{
			APIKey:  ep.APIKey,
			APIBase: ep.APIBase,
			Model:   ep.Model,
			Client:  client,
			Logger:  logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", ep.Provider)
	}
}
