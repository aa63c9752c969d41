package models

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateEnvelope(env *Envelope) error {
	if env == nil {
		return &ValidationError{
			Field:   "envelope",
			Message: "envelope cannot be nil",
		}
	}

	if env.ID == "" {
		return &ValidationError{
			Field:   "id",
			Message: "message ID is required",
		}
	}

	if strings.TrimSpace(env.TenantID) == "" {
		return &ValidationError{
			Field:   "tenant_id",
			Message: "tenant ID is required",
		}
	}

	if strings.ContainsAny(env.TenantID, ": ") {
		return &ValidationError{
			Field:   "tenant_id",
			Message: "tenant ID must not contain ':' or spaces",
		}
	}

	if strings.TrimSpace(env.Recipient) == "" {
		return &ValidationError{
			Field:   "recipient",
			Message: "recipient address is required",
		}
	}

	if strings.TrimSpace(env.Content) == "" {
		return &ValidationError{
			Field:   "content",
			Message: "message content cannot be empty",
		}
	}

	switch env.Priority {
	case PriorityNormal, PriorityHigh:
	default:
		return &ValidationError{
			Field:   "priority",
			Message: fmt.Sprintf("unknown priority %q (valid: normal, high)", env.Priority),
		}
	}

	if env.Metadata.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "metadata.max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if bh := env.Behavior.BusinessHours; bh != nil && bh.Enabled {
		if err := ValidateBusinessHours(bh); err != nil {
			return err
		}
	}

	return nil
}

func ValidateBusinessHours(bh *BusinessHours) error {
	if _, err := ParseClock(bh.Start); err != nil {
		return &ValidationError{Field: "business_hours.start", Message: err.Error()}
	}
	if _, err := ParseClock(bh.End); err != nil {
		return &ValidationError{Field: "business_hours.end", Message: err.Error()}
	}
	for _, d := range bh.Days {
		if d < 0 || d > 6 {
			return &ValidationError{
				Field:   "business_hours.days",
				Message: fmt.Sprintf("day %d out of range 0..6", d),
			}
		}
	}
	return nil
}

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return h*60 + m, nil
}
