package domain

import "context"

// Completion failure classes, used to pick a user-safe apology. Raw upstream
// error bodies are never forwarded to the end user.
const (
	FailureRateLimited    = "rate_limited"
	FailureQuotaExhausted = "quota_exhausted"
	FailureGeneric        = "generic"
)

// Turn is one conversation turn handed to a provider.
type Turn struct {
	Role    string // user | assistant
	Content string
}

// CompletionRequest is the provider-neutral completion input. Each codec
// translates it into its own wire shape.
type CompletionRequest struct {
	System    string
	History   []Turn
	MaxTokens int
}

// Completion is the normalized provider result. When Degraded is set, Text
// holds a user-safe apology and FailureClass names why.
type Completion struct {
	Text         string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	LatencyMs    int64
	Degraded     bool
	FailureClass string
}

// Provider is one AI completion backend speaking one wire protocol.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	Name() string
	Model() string
	// Healthy reports whether the backend looks usable: credentials present
	// and, where the API offers a free endpoint, reachable.
	Healthy(ctx context.Context) error
}

// Completer is the routing entry point shared by the reactive pipeline and
// the scheduler. Implementations never mutate shared state; every call is a
// pure request/response exchange.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}
