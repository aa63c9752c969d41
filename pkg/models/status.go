package models

import "time"

// StatusRecord is the write-back of an envelope's latest state, kept under status:<id>.
type StatusRecord struct {
	MessageID         string    `json:"message_id"`
	TenantID          string    `json:"tenant_id"`
	Status            Status    `json:"status"`
	Attempts          int       `json:"attempts"`
	MaxAttempts       int       `json:"max_attempts"`
	Reason            string    `json:"reason,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	NextAttemptAt     time.Time `json:"next_attempt_at,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
	Envelope          *Envelope `json:"envelope,omitempty"`
}

func NewStatusRecord(env *Envelope, reason string, at time.Time) StatusRecord {
	return StatusRecord{
		MessageID:         env.ID,
		TenantID:          env.TenantID,
		Status:            env.Status,
		Attempts:          env.Metadata.Attempts,
		MaxAttempts:       env.Metadata.MaxAttempts,
		Reason:            reason,
		ProviderMessageID: env.ProviderMessageID,
		NextAttemptAt:     env.NotBefore,
		UpdatedAt:         at,
		Envelope:          env.Clone(),
	}
}

// StatusEvent is published to the status topic on every transition.
type StatusEvent struct {
	MessageID         string    `json:"message_id"`
	TenantID          string    `json:"tenant_id"`
	Recipient         string    `json:"recipient"`
	Type              string    `json:"type"`
	Status            Status    `json:"status"`
	Attempts          int       `json:"attempts"`
	Reason            string    `json:"reason,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// SubmitRequest is the wire shape of a message submission, shared by the HTTP API
// and the Kafka submission topic.
type SubmitRequest struct {
	TenantID    string         `json:"tenant_id"`
	Recipient   string         `json:"recipient" binding:"required"`
	Content     string         `json:"content" binding:"required"`
	TemplateRef string         `json:"template_ref,omitempty"`
	Type        string         `json:"type"`
	Priority    Priority       `json:"priority,omitempty"`
	MaxAttempts int            `json:"max_attempts,omitempty"`
	Behavior    BehaviorConfig `json:"behavior,omitempty"`
}

func (r SubmitRequest) ToEnvelope(source string) *Envelope {
	return NewEnvelopeBuilder().
		WithTenant(r.TenantID).
		WithRecipient(r.Recipient).
		WithContent(r.Content).
		WithTemplateRef(r.TemplateRef).
		WithType(r.Type).
		WithPriority(r.Priority).
		WithMaxAttempts(r.MaxAttempts).
		WithBehavior(r.Behavior).
		WithSource(source).
		Build()
}
