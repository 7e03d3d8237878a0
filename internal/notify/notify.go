package notify

import "context"

// Notifier sends a short text message to a customer.
type Notifier interface {
	Send(ctx context.Context, phone, text string) error
}

// Nop drops every message. Used when no SMS gateway is configured.
type Nop struct{}

func (Nop) Send(ctx context.Context, phone, text string) error { return nil }
