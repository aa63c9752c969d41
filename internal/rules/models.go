package rules

import (
	"context"
	"errors"
	"time"

	"herald/internal/delivery"
	"herald/pkg/models"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrRuleNotFound     = errors.New("rule not found")
	ErrEntityNotFound   = errors.New("entity not found")
	ErrRuleExists       = errors.New("rule already exists")
)

type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

const (
	OperatorEquals    = "equals"
	OperatorNotEquals = "not_equals"
	OperatorIn        = "in"
	OperatorDate      = "date"
)

const (
	DateOverdue = "overdue"
	DateBefore  = "before"
	DateAfter   = "after"
)

const defaultRecipientField = "recipient"

// Rule turns matching entities into messages at a time of day.
type Rule struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenant_id"`
	Name        string      `json:"name"`
	Enabled     bool        `json:"enabled"`
	EntityType  string      `json:"entity_type"`
	TimeOfDay   string      `json:"time_of_day"`         // "HH:MM" in the rules timezone
	Frequency   Frequency   `json:"frequency"`
	Days        []int       `json:"days,omitempty"`      // weekly only, 0 = Sunday
	Criteria    []Criterion `json:"criteria,omitempty"`
	Condition   string      `json:"condition,omitempty"` // optional CEL expression over entity
	TemplateRef string      `json:"template_ref"`
	// RecipientField names the entity attribute holding the recipient address.
	RecipientField string                `json:"recipient_field"`
	MessageType    string                `json:"message_type,omitempty"`
	Priority       models.Priority       `json:"priority"`
	Behavior       models.BehaviorConfig `json:"behavior"`
	LastRunAt      *time.Time            `json:"last_run_at,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// Criterion filters entities on one attribute. Date criteria compare the
// attribute's calendar day against today shifted by OffsetDays.
type Criterion struct {
	Field      string   `json:"field"`
	Operator   string   `json:"operator"`
	Value      string   `json:"value,omitempty"`
	Values     []string `json:"values,omitempty"`
	Condition  string   `json:"condition,omitempty"`
	OffsetDays int      `json:"offset_days,omitempty"`
}

type Entity struct {
	ID         string                 `json:"id"`
	TenantID   string                 `json:"tenant_id"`
	Type       string                 `json:"entity_type"`
	Attributes map[string]interface{} `json:"attributes"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

type Template struct {
	Ref       string    `bson:"ref" json:"ref"`
	TenantID  string    `bson:"tenant_id" json:"tenant_id"`
	Name      string    `bson:"name" json:"name"`
	Body      string    `bson:"body" json:"body"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

type RuleRepository interface {
	ListEnabled(ctx context.Context) ([]Rule, error)
	MarkRun(ctx context.Context, ruleID string, at time.Time) error
}

type EntityRepository interface {
	ListByType(ctx context.Context, tenantID, entityType string) ([]Entity, error)
}

type TemplateRepository interface {
	// Get returns ErrTemplateNotFound when the tenant has no template with ref.
	Get(ctx context.Context, tenantID, ref string) (*Template, error)
}

// Submitter is the pipeline entry point; rule messages go through the same checks as API submissions.
type Submitter interface {
	Enqueue(ctx context.Context, env *models.Envelope) (delivery.EnqueueResult, error)
}

// FiredStore records that a rule already fired today.
type FiredStore interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}
