package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"herald/internal/config"
	"herald/internal/constants"
	"herald/internal/logger"
	"herald/internal/queuestore"
	"herald/pkg/cel"
	"herald/pkg/logging"
	"herald/pkg/metrics"
	"herald/pkg/models"
	"herald/pkg/tracing"
)

const (
	skipReasonNoTemplate      = "no_template_ref"
	skipReasonMissingTemplate = "template_missing"
	skipReasonAlreadyFired    = "already_fired"
)

// SweepResult summarises one pass over the rule set.
type SweepResult struct {
	RulesChecked int `json:"rules_checked"`
	RulesFired   int `json:"rules_fired"`
	RulesSkipped int `json:"rules_skipped"`
	Submitted    int `json:"submitted"`
	Rejected     int `json:"rejected"`
	Errors       int `json:"errors"`
}

type Evaluator struct {
	rules     RuleRepository
	entities  EntityRepository
	templates TemplateRepository
	submitter Submitter
	fired     FiredStore
	cel       *cel.Evaluator
	grace     int
	location  *time.Location
	logger    logger.Logger
}

func NewEvaluator(
	cfg config.RulesConfig,
	rules RuleRepository,
	entities EntityRepository,
	templates TemplateRepository,
	submitter Submitter,
	fired FiredStore,
	conditions *cel.Evaluator,
	log logger.Logger,
) (*Evaluator, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("failed to load rules timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}

	return &Evaluator{
		rules:     rules,
		entities:  entities,
		templates: templates,
		submitter: submitter,
		fired:     fired,
		cel:       conditions,
		grace:     cfg.GraceMinutes,
		location:  loc,
		logger:    log,
	}, nil
}

// Sweep evaluates every enabled rule against now. A failing rule is logged and
// counted; it never aborts the sweep.
func (e *Evaluator) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	ctx, span := tracing.GetTracer("herald-rules").Start(ctx, "rules.sweep")
	defer span.End()

	start := time.Now()
	defer func() { metrics.ObserveRuleSweepDuration(time.Since(start)) }()

	var result SweepResult

	rules, err := e.rules.ListEnabled(ctx)
	if err != nil {
		metrics.IncRuleSweep("error")
		return result, fmt.Errorf("failed to list rules: %w", err)
	}

	local := now.In(e.location)
	for _, rule := range rules {
		result.RulesChecked++
		e.evaluateRule(ctx, rule, local, &result)
	}

	metrics.IncRuleSweep("success")
	e.logger.InfowCtx(ctx, "Rule sweep finished",
		"rules_checked", result.RulesChecked,
		"rules_fired", result.RulesFired,
		"submitted", result.Submitted,
		"rejected", result.Rejected,
		"errors", result.Errors,
	)
	return result, nil
}

func (e *Evaluator) evaluateRule(ctx context.Context, rule Rule, now time.Time, result *SweepResult) {
	ctx = logging.WithTenantID(ctx, rule.TenantID)
	log := e.logger.With("rule_id", rule.ID)

	if !rule.Enabled {
		return
	}
	scheduled, due, err := timeMatches(rule, now, e.grace)
	if err != nil {
		log.WarnwCtx(ctx, "Rule has invalid time of day", "error", err)
		result.Errors++
		return
	}
	if !due || !frequencyMatches(rule, scheduled) {
		return
	}

	if rule.TemplateRef == "" {
		e.skip(ctx, log, rule, skipReasonNoTemplate, result)
		return
	}
	tmpl, err := e.templates.Get(ctx, rule.TenantID, rule.TemplateRef)
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			e.skip(ctx, log, rule, skipReasonMissingTemplate, result)
			return
		}
		log.ErrorwCtx(ctx, "Failed to load rule template", "error", err)
		result.Errors++
		return
	}

	firedKey := queuestore.RuleFiredKey(rule.ID, scheduled)
	first, err := e.fired.SetNX(ctx, firedKey, now.Format(time.RFC3339), constants.DefaultRuleFiredTTL)
	if err != nil {
		log.ErrorwCtx(ctx, "Failed to record rule firing", "error", err)
		result.Errors++
		return
	}
	if !first {
		e.skip(ctx, log, rule, skipReasonAlreadyFired, result)
		return
	}

	entities, err := e.entities.ListByType(ctx, rule.TenantID, rule.EntityType)
	if err != nil {
		// Release the day marker so the next sweep in the grace window can retry.
		if delErr := e.fired.Delete(ctx, firedKey); delErr != nil {
			log.WarnwCtx(ctx, "Failed to release rule firing marker", "error", delErr)
		}
		log.ErrorwCtx(ctx, "Failed to load rule entities", "error", err)
		result.Errors++
		return
	}

	result.RulesFired++
	for _, entity := range entities {
		e.fireForEntity(ctx, log, rule, tmpl, entity, now, result)
	}

	if err := e.rules.MarkRun(ctx, rule.ID, now); err != nil {
		log.WarnwCtx(ctx, "Failed to mark rule run", "error", err)
	}
}

func (e *Evaluator) fireForEntity(ctx context.Context, log logger.Logger, rule Rule, tmpl *Template, entity Entity, now time.Time, result *SweepResult) {
	ok, err := matchCriteria(rule.Criteria, entity.Attributes, now)
	if err != nil {
		log.WarnwCtx(ctx, "Rule criteria failed", "entity_id", entity.ID, "error", err)
		result.Errors++
		return
	}
	if !ok {
		return
	}

	if rule.Condition != "" && e.cel != nil {
		ok, err = e.cel.EvaluateCondition(ctx, rule.Condition, cel.Input{
			Entity:   entity.Attributes,
			TenantID: rule.TenantID,
			RuleID:   rule.ID,
			Now:      now,
		})
		if err != nil {
			log.WarnwCtx(ctx, "Rule condition failed", "entity_id", entity.ID, "error", err)
			result.Errors++
			return
		}
		if !ok {
			return
		}
	}

	field := rule.RecipientField
	if field == "" {
		field = defaultRecipientField
	}
	recipient := attrStringOrEmpty(entity.Attributes[field])
	if recipient == "" {
		log.WarnwCtx(ctx, "Entity has no recipient", "entity_id", entity.ID, "field", field)
		result.Errors++
		return
	}

	content, missing := Render(tmpl.Body, entity.Attributes)
	if len(missing) > 0 {
		log.DebugwCtx(ctx, "Template placeholders without values", "entity_id", entity.ID, "missing", missing)
	}

	behavior := rule.Behavior
	if behavior.Service == "" {
		behavior.Service = constants.HoursServiceRules
	}

	env := models.NewEnvelopeBuilder().
		WithTenant(rule.TenantID).
		WithRecipient(recipient).
		WithContent(content).
		WithTemplateRef(rule.TemplateRef).
		WithType(rule.MessageType).
		WithPriority(rule.Priority).
		WithBehavior(behavior).
		WithSource(constants.SourceRule).
		WithRuleID(rule.ID).
		WithCreatedAt(now).
		Build()

	res, err := e.submitter.Enqueue(ctx, env)
	switch {
	case err != nil:
		log.WarnwCtx(ctx, "Rule submission failed", "entity_id", entity.ID, "error", err)
		metrics.IncRuleFired(rule.ID, "error")
		result.Errors++
	case !res.Accepted:
		log.InfowCtx(ctx, "Rule submission rejected", "entity_id", entity.ID, "reason", res.Reason)
		metrics.IncRuleFired(rule.ID, "rejected")
		result.Rejected++
	default:
		metrics.IncRuleFired(rule.ID, "submitted")
		result.Submitted++
	}
}

func (e *Evaluator) skip(ctx context.Context, log logger.Logger, rule Rule, reason string, result *SweepResult) {
	log.InfowCtx(ctx, "Rule skipped", "reason", reason)
	metrics.IncRuleFired(rule.ID, "skipped")
	result.RulesSkipped++
}

func attrStringOrEmpty(v interface{}) string {
	if v == nil {
		return ""
	}
	return attrString(v)
}
