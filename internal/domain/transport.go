package domain

import "context"

// Transport sends one outbound text to one recipient identity through the
// messaging gateway. Text must already fit the gateway's size ceiling;
// oversized replies go through the chunker first.
type Transport interface {
	Name() string
	Send(ctx context.Context, to, text string) error
}
