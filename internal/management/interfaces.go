package management

import (
	"context"

	"herald/internal/rules"
)

type Service interface {
	CreateRule(ctx context.Context, tenantID string, req CreateRuleRequest) (*rules.Rule, error)
	ListRules(ctx context.Context, tenantID string) ([]rules.Rule, error)
	GetRule(ctx context.Context, tenantID, id string) (*rules.Rule, error)
	UpdateRule(ctx context.Context, tenantID, id string, req UpdateRuleRequest) (*rules.Rule, error)
	DeleteRule(ctx context.Context, tenantID, id string) error

	PutTemplate(ctx context.Context, tenantID, ref string, req TemplateRequest) (*rules.Template, error)
	ListTemplates(ctx context.Context, tenantID string) ([]rules.Template, error)
	GetTemplate(ctx context.Context, tenantID, ref string) (*rules.Template, error)
	DeleteTemplate(ctx context.Context, tenantID, ref string) error

	PutEntity(ctx context.Context, tenantID, entityType, id string, req EntityRequest) (*rules.Entity, error)
	DeleteEntity(ctx context.Context, tenantID, entityType, id string) error
}

type RuleStore interface {
	Create(ctx context.Context, rule *rules.Rule) error
	Get(ctx context.Context, tenantID, id string) (*rules.Rule, error)
	ListByTenant(ctx context.Context, tenantID string) ([]rules.Rule, error)
	Update(ctx context.Context, rule *rules.Rule) error
	Delete(ctx context.Context, tenantID, id string) error
}

type TemplateStore interface {
	Get(ctx context.Context, tenantID, ref string) (*rules.Template, error)
	List(ctx context.Context, tenantID string) ([]rules.Template, error)
	Put(ctx context.Context, tmpl *rules.Template) error
	Delete(ctx context.Context, tenantID, ref string) error
}

type EntityStore interface {
	Upsert(ctx context.Context, entity *rules.Entity) error
	Delete(ctx context.Context, tenantID, entityType, id string) error
}
