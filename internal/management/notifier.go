package management

import (
	"context"
	"time"

	"herald/internal/broker"
)

// RuleEventProducer announces rule changes so other replicas and downstream
// systems can react without polling.
type RuleEventProducer struct {
	producer broker.Producer
	topic    string
}

func NewRuleEventProducer(producer broker.Producer, topic string) *RuleEventProducer {
	return &RuleEventProducer{
		producer: producer,
		topic:    topic,
	}
}

func (p *RuleEventProducer) Publish(ctx context.Context, action, tenantID, ruleID, changedBy string) error {
	if p == nil || p.producer == nil || p.topic == "" {
		return nil
	}

	event := RuleChangeEvent{
		Action:    action,
		TenantID:  tenantID,
		RuleID:    ruleID,
		ChangedBy: changedBy,
		Timestamp: time.Now().Unix(),
	}
	return p.producer.Publish(ctx, p.topic, tenantID, event)
}

type actorKey struct{}

// WithActor records who made a change for audit fields and events.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return "system"
}
