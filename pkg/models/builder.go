package models

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

type EnvelopeBuilder struct {
	envelope *Envelope
}

func NewEnvelopeBuilder() *EnvelopeBuilder {
	return &EnvelopeBuilder{
		envelope: &Envelope{
			Priority: PriorityNormal,
		},
	}
}

func (b *EnvelopeBuilder) WithID(id string) *EnvelopeBuilder {
	b.envelope.ID = id
	return b
}

func (b *EnvelopeBuilder) WithTenant(tenantID string) *EnvelopeBuilder {
	b.envelope.TenantID = tenantID
	return b
}

func (b *EnvelopeBuilder) WithRecipient(recipient string) *EnvelopeBuilder {
	b.envelope.Recipient = recipient
	return b
}

func (b *EnvelopeBuilder) WithContent(content string) *EnvelopeBuilder {
	b.envelope.Content = content
	return b
}

func (b *EnvelopeBuilder) WithTemplateRef(ref string) *EnvelopeBuilder {
	b.envelope.TemplateRef = ref
	return b
}

func (b *EnvelopeBuilder) WithType(messageType string) *EnvelopeBuilder {
	b.envelope.Type = messageType
	return b
}

func (b *EnvelopeBuilder) WithPriority(priority Priority) *EnvelopeBuilder {
	b.envelope.Priority = priority
	return b
}

func (b *EnvelopeBuilder) WithBehavior(behavior BehaviorConfig) *EnvelopeBuilder {
	b.envelope.Behavior = behavior
	return b
}

func (b *EnvelopeBuilder) WithMaxAttempts(maxAttempts int) *EnvelopeBuilder {
	b.envelope.Metadata.MaxAttempts = maxAttempts
	return b
}

func (b *EnvelopeBuilder) WithSource(source string) *EnvelopeBuilder {
	b.envelope.Metadata.Source = source
	return b
}

func (b *EnvelopeBuilder) WithRuleID(ruleID string) *EnvelopeBuilder {
	b.envelope.Metadata.RuleID = ruleID
	return b
}

func (b *EnvelopeBuilder) WithCreatedAt(createdAt time.Time) *EnvelopeBuilder {
	b.envelope.Metadata.CreatedAt = createdAt
	return b
}

// Build fills in the ID, creation time and estimated length when they were not set.
func (b *EnvelopeBuilder) Build() *Envelope {
	if b.envelope.ID == "" {
		b.envelope.ID = uuid.New().String()
	}
	if b.envelope.Metadata.CreatedAt.IsZero() {
		b.envelope.Metadata.CreatedAt = time.Now()
	}
	if b.envelope.Priority == "" {
		b.envelope.Priority = PriorityNormal
	}
	b.envelope.Metadata.EstimatedLength = utf8.RuneCountInString(b.envelope.Content)
	return b.envelope
}
