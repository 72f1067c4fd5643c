package provider

import (
	"context"
	"log/slog"
	"time"

	"relaybot/internal/domain"
)

// Router drives completion calls against a primary provider with a bounded
// recovery ladder: one retry against the primary at half the token budget,
// then a single attempt against the fallback, then a degraded apology. It
// never surfaces raw upstream errors to callers.
type Router struct {
	primary  domain.Provider
	fallback domain.Provider
	timeout  time.Duration
	logger   *slog.Logger
}

type RouterConfig struct {
	Primary  domain.Provider
	Fallback domain.Provider
	Timeout  time.Duration
	Logger   *slog.Logger
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Router{
		primary:  cfg.Primary,
		fallback: cfg.Fallback,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
	}
}

// Complete resolves a request to a completion. The returned completion is
// always usable: on upstream failure it carries a user-safe apology with
// Degraded set, so callers can reply without inspecting provider internals.
// The error is non-nil only when the caller's context is already done.
func (r *Router) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c, err := r.attempt(ctx, r.primary, req)
	if err == nil {
		return c, nil
	}

	if !isTransient(err) {
		r.logger.Warn("provider rejected request",
			"provider", r.primary.Name(), "error", err)
		return r.apology(err), nil
	}

	r.logger.Warn("provider call failed, retrying at reduced budget",
		"provider", r.primary.Name(), "error", err)

	retryReq := req
	if retryReq.MaxTokens > 1 {
		retryReq.MaxTokens /= 2
	}
	c, retryErr := r.attempt(ctx, r.primary, retryReq)
	if retryErr == nil {
		return c, nil
	}
	err = retryErr

	if r.fallback != nil {
		r.logger.Warn("primary exhausted, trying fallback",
			"primary", r.primary.Name(), "fallback", r.fallback.Name(), "error", err)
		c, fbErr := r.attempt(ctx, r.fallback, req)
		if fbErr == nil {
			return c, nil
		}
		err = fbErr
	}

	r.logger.Error("all completion attempts failed",
		"provider", r.primary.Name(), "error", err)
	return r.apology(err), nil
}

// attempt runs one provider call under the per-call deadline and fills in
// latency and cost on success.
func (r *Router) attempt(ctx context.Context, p domain.Provider, req domain.CompletionRequest) (*domain.Completion, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	c, err := p.Complete(callCtx, req)
	if err != nil {
		return nil, err
	}
	c.LatencyMs = time.Since(start).Milliseconds()
	c.CostUSD = EstimateCost(c.Model, c.InputTokens, c.OutputTokens)
	return c, nil
}

// apology builds the degraded completion sent to the user when no provider
// could answer.
func (r *Router) apology(cause error) *domain.Completion {
	class := failureClass(cause)

	var text string
	switch class {
	case domain.FailureRateLimited:
		text = "I'm handling a lot of messages right now. Please try again in a minute."
	case domain.FailureQuotaExhausted:
		text = "I've reached my usage limit for the moment. Please try again later."
	default:
		text = "Sorry, I couldn't process that right now. Please try again shortly."
	}

	return &domain.Completion{
		Text:         text,
		Provider:     r.primary.Name(),
		Model:        r.primary.Model(),
		Degraded:     true,
		FailureClass: class,
	}
}
