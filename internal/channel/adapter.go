package channel

import (
	"context"
	"time"
)

// Result is the outcome of one dispatch as reported by the messaging gateway.
type Result struct {
	Success           bool   `json:"success"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	Error             string `json:"error,omitempty"`
}

// Adapter sends messages on behalf of a tenant's connected account.
// Send returns a non-nil error whenever Result.Success is false.
type Adapter interface {
	Send(ctx context.Context, tenantID, recipient, content string) (Result, error)
	CheckHealth(ctx context.Context, tenantID string) bool
}

// TypingNotifier is implemented by adapters that can show a typing indicator.
type TypingNotifier interface {
	SendTyping(ctx context.Context, tenantID, recipient string, duration time.Duration) error
}
