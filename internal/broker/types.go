package broker

import (
	"context"
	"time"

	"herald/pkg/models"
)

type Producer interface {
	Publish(ctx context.Context, topic, key string, payload interface{}) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

// HandlerFunc processes one decoded submission. Returning a retry.FatalError
// skips the remaining attempts.
type HandlerFunc func(ctx context.Context, req models.SubmitRequest) error

// DeadLetter wraps a submission that exhausted its retries.
type DeadLetter struct {
	Request     models.SubmitRequest `json:"request"`
	Reason      string               `json:"reason"`
	SourceTopic string               `json:"source_topic"`
	Timestamp   time.Time            `json:"timestamp"`
}
