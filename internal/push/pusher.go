// Package push abstracts the external delivery provider behind a multicast
// send capability. Delivery is best effort: callers inspect the report for
// observability but never fail a send on provider errors.
package push

import "context"

// Message carries the user-visible notification content.
type Message struct {
	Title string
	Body  string
}

// Report summarizes the per-token outcome of one multicast send.
type Report struct {
	SuccessCount int
	FailureCount int
	// InvalidTokens lists tokens the provider reported as no longer
	// registered. They are not yet pruned from the token registry; this is
	// the hook point for that future feedback loop.
	InvalidTokens []string
}

// Pusher delivers one message to a batch of device tokens.
type Pusher interface {
	SendMulticast(ctx context.Context, deviceTokens []string, message Message) (Report, error)
}

// NopPusher discards every send. Used when no provider credentials are
// configured, keeping the rest of the system exercisable.
type NopPusher struct{}

// SendMulticast reports every token as delivered without doing anything.
func (NopPusher) SendMulticast(_ context.Context, deviceTokens []string, _ Message) (Report, error) {
	return Report{SuccessCount: len(deviceTokens)}, nil
}
