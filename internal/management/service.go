package management

import (
	"context"
	"errors"

	"herald/internal/logger"
	"herald/internal/rules"
	"herald/pkg/cel"
	pkgerrors "herald/pkg/errors"
	"herald/pkg/models"
)

type service struct {
	rules      RuleStore
	templates  TemplateStore
	entities   EntityStore
	conditions *cel.Evaluator
	events     *RuleEventProducer
	logger     logger.Logger
}

type ServiceOption func(*service)

func WithRuleEvents(events *RuleEventProducer) ServiceOption {
	return func(s *service) {
		s.events = events
	}
}

func NewService(ruleStore RuleStore, templateStore TemplateStore, entityStore EntityStore, conditions *cel.Evaluator, log logger.Logger, opts ...ServiceOption) Service {
	s := &service{
		rules:      ruleStore,
		templates:  templateStore,
		entities:   entityStore,
		conditions: conditions,
		logger:     log,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func validationError(err error) error {
	return pkgerrors.ErrValidation.WithCause(err).WithDetail("message", err.Error())
}

func applyDefaults(rule *rules.Rule) {
	if rule.Frequency == "" {
		rule.Frequency = rules.FrequencyDaily
	}
	if rule.Priority == "" {
		rule.Priority = models.PriorityNormal
	}
	if rule.RecipientField == "" {
		rule.RecipientField = "recipient"
	}
}

func (s *service) CreateRule(ctx context.Context, tenantID string, req CreateRuleRequest) (*rules.Rule, error) {
	rule := req.toRule(tenantID)
	applyDefaults(rule)

	if err := ValidateRule(rule, s.conditions); err != nil {
		return nil, validationError(err)
	}

	if err := s.rules.Create(ctx, rule); err != nil {
		if errors.Is(err, rules.ErrRuleExists) {
			return nil, pkgerrors.ErrConflict.WithCause(err).WithDetail("id", rule.ID)
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	s.publish(ctx, ActionCreate, rule)
	return rule, nil
}

func (s *service) ListRules(ctx context.Context, tenantID string) ([]rules.Rule, error) {
	list, err := s.rules.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	if list == nil {
		list = []rules.Rule{}
	}
	return list, nil
}

func (s *service) GetRule(ctx context.Context, tenantID, id string) (*rules.Rule, error) {
	rule, err := s.rules.Get(ctx, tenantID, id)
	if err != nil {
		return nil, notFoundOr(err, rules.ErrRuleNotFound, "id", id)
	}
	return rule, nil
}

func (s *service) UpdateRule(ctx context.Context, tenantID, id string, req UpdateRuleRequest) (*rules.Rule, error) {
	rule, err := s.rules.Get(ctx, tenantID, id)
	if err != nil {
		return nil, notFoundOr(err, rules.ErrRuleNotFound, "id", id)
	}

	req.apply(rule)
	applyDefaults(rule)

	if err := ValidateRule(rule, s.conditions); err != nil {
		return nil, validationError(err)
	}

	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, notFoundOr(err, rules.ErrRuleNotFound, "id", id)
	}

	s.publish(ctx, ActionUpdate, rule)
	return rule, nil
}

func (s *service) DeleteRule(ctx context.Context, tenantID, id string) error {
	if err := s.rules.Delete(ctx, tenantID, id); err != nil {
		return notFoundOr(err, rules.ErrRuleNotFound, "id", id)
	}
	s.publish(ctx, ActionDelete, &rules.Rule{ID: id, TenantID: tenantID})
	return nil
}

func (s *service) PutTemplate(ctx context.Context, tenantID, ref string, req TemplateRequest) (*rules.Template, error) {
	if err := ValidateTemplate(ref, req); err != nil {
		return nil, validationError(err)
	}

	tmpl := &rules.Template{
		Ref:      ref,
		TenantID: tenantID,
		Name:     req.Name,
		Body:     req.Body,
	}
	if err := s.templates.Put(ctx, tmpl); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	if _, missing := rules.Render(tmpl.Body, nil); len(missing) > 0 {
		s.logger.DebugwCtx(ctx, "Template stored with placeholders", "tenant_id", tenantID, "ref", ref, "placeholders", missing)
	}
	return tmpl, nil
}

func (s *service) ListTemplates(ctx context.Context, tenantID string) ([]rules.Template, error) {
	list, err := s.templates.List(ctx, tenantID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return list, nil
}

func (s *service) GetTemplate(ctx context.Context, tenantID, ref string) (*rules.Template, error) {
	tmpl, err := s.templates.Get(ctx, tenantID, ref)
	if err != nil {
		return nil, notFoundOr(err, rules.ErrTemplateNotFound, "ref", ref)
	}
	return tmpl, nil
}

func (s *service) DeleteTemplate(ctx context.Context, tenantID, ref string) error {
	if err := s.templates.Delete(ctx, tenantID, ref); err != nil {
		return notFoundOr(err, rules.ErrTemplateNotFound, "ref", ref)
	}
	return nil
}

func (s *service) PutEntity(ctx context.Context, tenantID, entityType, id string, req EntityRequest) (*rules.Entity, error) {
	if entityType == "" || id == "" {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "entity type and id are required")
	}

	entity := &rules.Entity{
		ID:         id,
		TenantID:   tenantID,
		Type:       entityType,
		Attributes: req.Attributes,
	}
	if err := s.entities.Upsert(ctx, entity); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return entity, nil
}

func (s *service) DeleteEntity(ctx context.Context, tenantID, entityType, id string) error {
	if err := s.entities.Delete(ctx, tenantID, entityType, id); err != nil {
		return notFoundOr(err, rules.ErrEntityNotFound, "id", id)
	}
	return nil
}

func (s *service) publish(ctx context.Context, action string, rule *rules.Rule) {
	if err := s.events.Publish(ctx, action, rule.TenantID, rule.ID, actorFrom(ctx)); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to publish rule change event",
			"action", action,
			"rule_id", rule.ID,
			"error", err,
		)
	}
}

func notFoundOr(err, notFound error, key, value string) error {
	if errors.Is(err, notFound) {
		return pkgerrors.ErrNotFound.WithCause(err).WithDetail(key, value)
	}
	return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
}
