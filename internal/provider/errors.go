package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"relaybot/internal/domain"
)

// apiError is a non-2xx reply from an upstream completion API. The body is
// kept for logs and classification but never forwarded to end users.
type apiError struct {
	provider   string
	statusCode int
	body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.provider, e.statusCode, e.body)
}

// isTransient reports whether a failed call is worth retrying: timeouts,
// network errors, rate limits and server-side errors. Client-side rejections
// (bad request, bad key, unknown model) are final.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.statusCode == http.StatusRequestTimeout ||
			ae.statusCode == http.StatusTooManyRequests ||
			ae.statusCode >= 500
	}
	// Transport-level failures without a typed error (connection refused,
	// DNS) arrive wrapped by net/http; treat anything that is not an API
	// rejection as transient.
	return true
}

// failureClass maps an upstream failure to the coarse class surfaced in the
// degraded completion.
func failureClass(err error) string {
	var ae *apiError
	if errors.As(err, &ae) {
		if ae.statusCode == http.StatusTooManyRequests {
			return domain.FailureRateLimited
		}
		lower := strings.ToLower(ae.body)
		for _, marker := range []string{"quota", "billing", "credit balance"} {
			if strings.Contains(lower, marker) {
				return domain.FailureQuotaExhausted
			}
		}
	}
	return domain.FailureGeneric
}

// snippet truncates an upstream body for error messages and logs.
func snippet(body []byte) string {
	const max = 256
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
