package rules

import (
	"fmt"
	"strings"
	"time"

	"herald/pkg/models"
)

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// timeMatches reports whether now falls in [TimeOfDay, TimeOfDay+grace]. The
// window may run past midnight, so the returned firing time is the scheduled
// occurrence, which can be on the previous day.
func timeMatches(r Rule, now time.Time, graceMinutes int) (time.Time, bool, error) {
	target, err := models.ParseClock(r.TimeOfDay)
	if err != nil {
		return time.Time{}, false, err
	}

	y, m, d := now.Date()
	limit := time.Duration(graceMinutes+1) * time.Minute
	for _, back := range []int{0, 1} {
		scheduled := time.Date(y, m, d-back, target/60, target%60, 0, 0, now.Location())
		if elapsed := now.Sub(scheduled); elapsed >= 0 && elapsed < limit {
			return scheduled, true, nil
		}
	}
	return time.Time{}, false, nil
}

func frequencyMatches(r Rule, now time.Time) bool {
	switch r.Frequency {
	case FrequencyWeekly:
		for _, d := range r.Days {
			if time.Weekday(d) == now.Weekday() {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// matchCriteria reports whether the entity passes every criterion. A missing
// attribute fails the criterion.
func matchCriteria(criteria []Criterion, attrs map[string]interface{}, now time.Time) (bool, error) {
	for _, c := range criteria {
		ok, err := matchCriterion(c, attrs, now)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchCriterion(c Criterion, attrs map[string]interface{}, now time.Time) (bool, error) {
	raw, ok := attrs[c.Field]
	if !ok || raw == nil {
		return false, nil
	}

	switch c.Operator {
	case OperatorEquals, "":
		return attrString(raw) == c.Value, nil
	case OperatorNotEquals:
		return attrString(raw) != c.Value, nil
	case OperatorIn:
		v := attrString(raw)
		for _, candidate := range c.Values {
			if v == candidate {
				return true, nil
			}
		}
		return false, nil
	case OperatorDate:
		return matchDate(c, raw, now)
	default:
		return false, fmt.Errorf("unknown criterion operator %q", c.Operator)
	}
}

// matchDate compares calendar days in now's location:
// overdue means the date is more than OffsetDays in the past,
// before means the date is exactly OffsetDays ahead,
// after means the date was exactly OffsetDays ago.
func matchDate(c Criterion, raw interface{}, now time.Time) (bool, error) {
	date, err := parseDate(raw, now.Location())
	if err != nil {
		return false, nil
	}

	today := startOfDay(now)
	day := startOfDay(date)

	switch c.Condition {
	case DateOverdue:
		return day.Before(today.AddDate(0, 0, -c.OffsetDays)), nil
	case DateBefore:
		return day.Equal(today.AddDate(0, 0, c.OffsetDays)), nil
	case DateAfter:
		return day.Equal(today.AddDate(0, 0, -c.OffsetDays)), nil
	default:
		return false, fmt.Errorf("unknown date condition %q", c.Condition)
	}
}

func parseDate(raw interface{}, loc *time.Location) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.In(loc), nil
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.ParseInLocation(layout, v, loc); err == nil {
				return t.In(loc), nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable date %q", v)
	default:
		return time.Time{}, fmt.Errorf("unsupported date value %T", raw)
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func attrString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
