package management

import (
	"herald/internal/rules"
	"herald/pkg/models"
)

type CreateRuleRequest struct {
	ID             string                `json:"id,omitempty"`
	Name           string                `json:"name" binding:"required"`
	Enabled        *bool                 `json:"enabled,omitempty"`
	EntityType     string                `json:"entity_type" binding:"required"`
	TimeOfDay      string                `json:"time_of_day" binding:"required"`
	Frequency      rules.Frequency       `json:"frequency,omitempty"`
	Days           []int                 `json:"days,omitempty"`
	Criteria       []rules.Criterion     `json:"criteria,omitempty"`
	Condition      string                `json:"condition,omitempty"`
	TemplateRef    string                `json:"template_ref" binding:"required"`
	RecipientField string                `json:"recipient_field,omitempty"`
	MessageType    string                `json:"message_type,omitempty"`
	Priority       models.Priority       `json:"priority,omitempty"`
	Behavior       models.BehaviorConfig `json:"behavior,omitempty"`
}

// UpdateRuleRequest changes only the fields that are set.
type UpdateRuleRequest struct {
	Name           *string                `json:"name,omitempty"`
	Enabled        *bool                  `json:"enabled,omitempty"`
	EntityType     *string                `json:"entity_type,omitempty"`
	TimeOfDay      *string                `json:"time_of_day,omitempty"`
	Frequency      *rules.Frequency       `json:"frequency,omitempty"`
	Days           *[]int                 `json:"days,omitempty"`
	Criteria       *[]rules.Criterion     `json:"criteria,omitempty"`
	Condition      *string                `json:"condition,omitempty"`
	TemplateRef    *string                `json:"template_ref,omitempty"`
	RecipientField *string                `json:"recipient_field,omitempty"`
	MessageType    *string                `json:"message_type,omitempty"`
	Priority       *models.Priority       `json:"priority,omitempty"`
	Behavior       *models.BehaviorConfig `json:"behavior,omitempty"`
}

type TemplateRequest struct {
	Name string `json:"name"`
	Body string `json:"body" binding:"required"`
}

type EntityRequest struct {
	Attributes map[string]interface{} `json:"attributes" binding:"required"`
}

// RuleChangeEvent is published after a rule is created, updated or deleted.
type RuleChangeEvent struct {
	Action    string `json:"action"`
	TenantID  string `json:"tenant_id"`
	RuleID    string `json:"rule_id"`
	ChangedBy string `json:"changed_by"`
	Timestamp int64  `json:"timestamp"`
}

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

func (r CreateRuleRequest) toRule(tenantID string) *rules.Rule {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return &rules.Rule{
		ID:             r.ID,
		TenantID:       tenantID,
		Name:           r.Name,
		Enabled:        enabled,
		EntityType:     r.EntityType,
		TimeOfDay:      r.TimeOfDay,
		Frequency:      r.Frequency,
		Days:           r.Days,
		Criteria:       r.Criteria,
		Condition:      r.Condition,
		TemplateRef:    r.TemplateRef,
		RecipientField: r.RecipientField,
		MessageType:    r.MessageType,
		Priority:       r.Priority,
		Behavior:       r.Behavior,
	}
}

func (r UpdateRuleRequest) apply(rule *rules.Rule) {
	if r.Name != nil {
		rule.Name = *r.Name
	}
	if r.Enabled != nil {
		rule.Enabled = *r.Enabled
	}
	if r.EntityType != nil {
		rule.EntityType = *r.EntityType
	}
	if r.TimeOfDay != nil {
		rule.TimeOfDay = *r.TimeOfDay
	}
	if r.Frequency != nil {
		rule.Frequency = *r.Frequency
	}
	if r.Days != nil {
		rule.Days = *r.Days
	}
	if r.Criteria != nil {
		rule.Criteria = *r.Criteria
	}
	if r.Condition != nil {
		rule.Condition = *r.Condition
	}
	if r.TemplateRef != nil {
		rule.TemplateRef = *r.TemplateRef
	}
	if r.RecipientField != nil {
		rule.RecipientField = *r.RecipientField
	}
	if r.MessageType != nil {
		rule.MessageType = *r.MessageType
	}
	if r.Priority != nil {
		rule.Priority = *r.Priority
	}
	if r.Behavior != nil {
		rule.Behavior = *r.Behavior
	}
}
