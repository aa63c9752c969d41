package broker

import (
	"context"

	"herald/pkg/models"
)

// StatusProducer publishes delivery status transitions, keyed by message ID so
// that a message's events stay ordered within a partition.
type StatusProducer struct {
	producer Producer
	topic    string
}

func NewStatusProducer(producer Producer, topic string) *StatusProducer {
	return &StatusProducer{producer: producer, topic: topic}
}

func (p *StatusProducer) PublishStatus(ctx context.Context, event models.StatusEvent) error {
	return p.producer.Publish(ctx, p.topic, event.MessageID, event)
}
