package management

import (
	"fmt"
	"strings"

	"herald/internal/rules"
	"herald/pkg/cel"
	"herald/pkg/models"
)

var validOperators = map[string]bool{
	rules.OperatorEquals:    true,
	rules.OperatorNotEquals: true,
	rules.OperatorIn:        true,
	rules.OperatorDate:      true,
}

var validDateConditions = map[string]bool{
	rules.DateOverdue: true,
	rules.DateBefore:  true,
	rules.DateAfter:   true,
}

// ValidateRule checks a rule as it will be stored. Defaults are filled in
// before validation.
func ValidateRule(rule *rules.Rule, conditions *cel.Evaluator) error {
	if strings.TrimSpace(rule.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if rule.EntityType == "" {
		return fmt.Errorf("entity_type is required")
	}
	if rule.TemplateRef == "" {
		return fmt.Errorf("template_ref is required")
	}
	if _, err := models.ParseClock(rule.TimeOfDay); err != nil {
		return fmt.Errorf("invalid time_of_day %q: expected HH:MM", rule.TimeOfDay)
	}

	switch rule.Frequency {
	case rules.FrequencyDaily:
	case rules.FrequencyWeekly:
		if len(rule.Days) == 0 {
			return fmt.Errorf("days are required for weekly rules")
		}
		for _, d := range rule.Days {
			if d < 0 || d > 6 {
				return fmt.Errorf("invalid day %d: expected 0 (Sunday) to 6", d)
			}
		}
	default:
		return fmt.Errorf("invalid frequency: %s. Allowed: daily, weekly", rule.Frequency)
	}

	if rule.Priority != models.PriorityNormal && rule.Priority != models.PriorityHigh {
		return fmt.Errorf("invalid priority: %s. Allowed: normal, high", rule.Priority)
	}

	for i, c := range rule.Criteria {
		if err := validateCriterion(c); err != nil {
			return fmt.Errorf("criteria[%d]: %w", i, err)
		}
	}

	if rule.Condition != "" {
		if err := conditions.ValidateCondition(rule.Condition); err != nil {
			return fmt.Errorf("invalid condition: %w", err)
		}
	}

	return nil
}

func validateCriterion(c rules.Criterion) error {
	if c.Field == "" {
		return fmt.Errorf("field is required")
	}
	if !validOperators[c.Operator] {
		return fmt.Errorf("invalid operator: %s. Allowed: equals, not_equals, in, date", c.Operator)
	}
	switch c.Operator {
	case rules.OperatorIn:
		if len(c.Values) == 0 {
			return fmt.Errorf("values are required for operator in")
		}
	case rules.OperatorDate:
		if !validDateConditions[c.Condition] {
			return fmt.Errorf("invalid date condition: %s. Allowed: overdue, before, after", c.Condition)
		}
		if c.OffsetDays < 0 {
			return fmt.Errorf("offset_days must be non-negative")
		}
	}
	return nil
}

func ValidateTemplate(ref string, req TemplateRequest) error {
	if ref == "" {
		return fmt.Errorf("ref is required")
	}
	if strings.TrimSpace(req.Body) == "" {
		return fmt.Errorf("body is required")
	}
	return nil
}
