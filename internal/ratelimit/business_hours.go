package ratelimit

import (
	"time"

	"herald/internal/config"
	"herald/internal/logger"
	"herald/pkg/models"
)

// BusinessHours resolves which send window applies and evaluates it.
type BusinessHours struct {
	cfg    config.BusinessHoursConfig
	logger logger.Logger
}

func NewBusinessHours(cfg config.BusinessHoursConfig, log logger.Logger) *BusinessHours {
	return &BusinessHours{cfg: cfg, logger: log}
}

// Resolve picks the window for a check. An envelope's own window wins. A service
// override comes next unless it inherits the global window, which is the default.
func (b *BusinessHours) Resolve(service string, envelopeWindow *models.BusinessHours) models.BusinessHours {
	if envelopeWindow != nil {
		return *envelopeWindow
	}

	if override, ok := b.cfg.Overrides[service]; ok && service != "" {
		if override.InheritGlobal {
			return b.cfg.Global
		}
		return override.Window
	}
	return b.cfg.Global
}

// Within reports whether t falls inside w. Disabled windows always allow.
func (b *BusinessHours) Within(w models.BusinessHours, t time.Time) bool {
	if !w.Enabled {
		return true
	}

	start, end, ok := b.bounds(w)
	if !ok {
		return true
	}

	local := t.In(loadLocation(w.Timezone, b.logger))
	minute := local.Hour()*60 + local.Minute()
	today := local.Weekday()

	switch {
	case start == end:
		return dayAllowed(w.Days, today)
	case start < end:
		return dayAllowed(w.Days, today) && minute >= start && minute < end
	default:
		// spans midnight: the late part belongs to today, the early part to yesterday's window
		if minute >= start {
			return dayAllowed(w.Days, today)
		}
		if minute < end {
			return dayAllowed(w.Days, (today+6)%7)
		}
		return false
	}
}

// NextStart returns the earliest instant at or after t inside w.
func (b *BusinessHours) NextStart(w models.BusinessHours, t time.Time) time.Time {
	if b.Within(w, t) {
		return t
	}

	start, _, ok := b.bounds(w)
	if !ok {
		return t
	}

	local := t.In(loadLocation(w.Timezone, b.logger))
	y, m, d := local.Date()
	for offset := 0; offset <= 7; offset++ {
		candidate := time.Date(y, m, d+offset, start/60, start%60, 0, 0, local.Location())
		if candidate.Before(local) {
			continue
		}
		if dayAllowed(w.Days, candidate.Weekday()) {
			return candidate
		}
	}

	b.logger.Warnw("Business hours window has no open day, retrying in a day", "days", w.Days)
	return t.Add(24 * time.Hour)
}

func (b *BusinessHours) bounds(w models.BusinessHours) (int, int, bool) {
	start, err := models.ParseClock(w.Start)
	if err != nil {
		b.logger.Warnw("Invalid business hours start, window ignored", "start", w.Start, "error", err)
		return 0, 0, false
	}
	end, err := models.ParseClock(w.End)
	if err != nil {
		b.logger.Warnw("Invalid business hours end, window ignored", "end", w.End, "error", err)
		return 0, 0, false
	}
	return start, end, true
}

// dayAllowed treats an empty day set as every day.
func dayAllowed(days []int, day time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	for _, d := range days {
		if time.Weekday(d) == day {
			return true
		}
	}
	return false
}
