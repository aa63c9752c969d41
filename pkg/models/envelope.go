package models

import "time"

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusPostponed Status = "postponed"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusRetrying  Status = "retrying"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further delivery will be attempted without an explicit retry.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// Envelope is the unit of queued work: a message plus its delivery metadata.
type Envelope struct {
	ID                string         `json:"id"`
	TenantID          string         `json:"tenant_id"`
	Recipient         string         `json:"recipient"`
	Content           string         `json:"content"`
	TemplateRef       string         `json:"template_ref,omitempty"`
	Priority          Priority       `json:"priority"`
	Type              string         `json:"type"`
	Behavior          BehaviorConfig `json:"behavior"`
	Metadata          Metadata       `json:"metadata"`
	Status            Status         `json:"status"`
	NotBefore         time.Time      `json:"not_before,omitempty"`
	LastError         string         `json:"last_error,omitempty"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
}

type Metadata struct {
	CreatedAt       time.Time `json:"created_at"`
	Attempts        int       `json:"attempts"`
	MaxAttempts     int       `json:"max_attempts"`
	EstimatedLength int       `json:"estimated_length"`
	Source          string    `json:"source,omitempty"` // "api", "kafka", "rule"
	RuleID          string    `json:"rule_id,omitempty"`
	TraceID         string    `json:"trace_id,omitempty"`
}

// BehaviorConfig controls how human-like the delivery of a single envelope looks.
type BehaviorConfig struct {
	Pattern         string         `json:"pattern,omitempty"`
	TypingProfile   string         `json:"typing_profile,omitempty"`
	Jitter          *bool          `json:"jitter,omitempty"`
	TypingIndicator bool           `json:"typing_indicator,omitempty"`
	BusinessHours   *BusinessHours `json:"business_hours,omitempty"`
	Service         string         `json:"service,omitempty"`
	BatchPosition   int            `json:"batch_position,omitempty"`
	BatchSize       int            `json:"batch_size,omitempty"`
}

// JitterEnabled defaults to true when the flag is unset.
func (b BehaviorConfig) JitterEnabled() bool {
	return b.Jitter == nil || *b.Jitter
}

// BusinessHours is a local-time window during which sends are permitted.
type BusinessHours struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Start    string `json:"start" mapstructure:"start"` // "HH:MM"
	End      string `json:"end" mapstructure:"end"`     // "HH:MM"
	Days     []int  `json:"days" mapstructure:"days"`   // 0 = Sunday
	Timezone string `json:"timezone" mapstructure:"timezone"`
}

func (e *Envelope) IsHighPriority() bool {
	return e.Priority == PriorityHigh
}

// Due reports whether the envelope may be processed at now.
func (e *Envelope) Due(now time.Time) bool {
	return e.NotBefore.IsZero() || !now.Before(e.NotBefore)
}

func (e *Envelope) Clone() *Envelope {
	c := *e
	if e.Behavior.BusinessHours != nil {
		bh := *e.Behavior.BusinessHours
		bh.Days = append([]int(nil), e.Behavior.BusinessHours.Days...)
		c.Behavior.BusinessHours = &bh
	}
	if e.Behavior.Jitter != nil {
		j := *e.Behavior.Jitter
		c.Behavior.Jitter = &j
	}
	return &c
}
