package behavior

import (
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"herald/internal/config"
	"herald/internal/constants"
)

const (
	jitterMin       = 0.3
	jitterMax       = 1.5
	firstMultiplier = 1.5
	lastMultiplier  = 1.3
	dayVariationMin = 0.8
	dayVariationMax = 1.4
	fatiguePerSend  = 0.01
	typingVariance  = 0.3
)

type Pattern struct {
	Min  time.Duration
	Max  time.Duration
	Base time.Duration
}

var defaultPatterns = map[string]Pattern{
	constants.PatternConservative: {Min: 30 * time.Second, Max: 180 * time.Second, Base: 60 * time.Second},
	constants.PatternModerate:     {Min: 15 * time.Second, Max: 90 * time.Second, Base: 30 * time.Second},
	constants.PatternAggressive:   {Min: 5 * time.Second, Max: 45 * time.Second, Base: 12 * time.Second},
}

var defaultTypingProfiles = map[string]float64{
	constants.TypingSlow:   3,
	constants.TypingNormal: 5,
	constants.TypingFast:   8,
}

type DelayInput struct {
	Pattern       string
	TypingProfile string
	MessageLength int
	// Position is zero-based within a batch of BatchSize messages.
	Position   int
	BatchSize  int
	DailyCount int
	Jitter     bool
	At         time.Time
}

// Engine computes human-looking pauses between sends.
type Engine struct {
	patterns       map[string]Pattern
	typing         map[string]float64
	defaultPattern string
	defaultTyping  string
	maxTyping      time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewEngine builds an engine from configuration. A nil rng is seeded from the clock.
func NewEngine(cfg config.BehaviorConfig, rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	e := &Engine{
		patterns:       make(map[string]Pattern, len(defaultPatterns)),
		typing:         make(map[string]float64, len(defaultTypingProfiles)),
		defaultPattern: cfg.DefaultPattern,
		defaultTyping:  cfg.DefaultTypingProfile,
		maxTyping:      cfg.MaxTyping,
		rng:            rng,
	}

	for name, p := range defaultPatterns {
		e.patterns[name] = p
	}
	for name, p := range cfg.Patterns {
		e.patterns[name] = Pattern{Min: p.Min, Max: p.Max, Base: p.Base}
	}
	for name, cps := range defaultTypingProfiles {
		e.typing[name] = cps
	}
	for name, cps := range cfg.TypingProfiles {
		if cps > 0 {
			e.typing[name] = cps
		}
	}

	if _, ok := e.patterns[e.defaultPattern]; !ok {
		e.defaultPattern = constants.PatternModerate
	}
	if _, ok := e.typing[e.defaultTyping]; !ok {
		e.defaultTyping = constants.TypingNormal
	}
	return e
}

// Pattern returns the named pattern, or the default one for unknown names.
func (e *Engine) Pattern(name string) (string, Pattern) {
	if p, ok := e.patterns[name]; ok {
		return name, p
	}
	return e.defaultPattern, e.patterns[e.defaultPattern]
}

// ComputeDelay applies, in order: base plus typing time, jitter, batch position,
// day variation and fatigue, then clamps to the pattern's bounds.
func (e *Engine) ComputeDelay(in DelayInput) time.Duration {
	_, pattern := e.Pattern(in.Pattern)

	delay := float64(pattern.Base) + float64(e.TypingDuration(in.MessageLength, in.TypingProfile))

	if in.Jitter {
		delay *= e.uniform(jitterMin, jitterMax)
	}

	if in.BatchSize > 1 {
		switch in.Position {
		case 0:
			delay *= firstMultiplier
		case in.BatchSize - 1:
			delay *= lastMultiplier
		}
	}

	at := in.At
	if at.IsZero() {
		at = time.Now()
	}
	delay *= DayVariation(at)

	delay *= 1 + fatiguePerSend*float64(in.DailyCount)

	return clamp(time.Duration(delay), pattern.Min, pattern.Max)
}

// TypingDuration estimates how long a person would take to type length characters.
func (e *Engine) TypingDuration(length int, profile string) time.Duration {
	if length <= 0 {
		return 0
	}

	cps, ok := e.typing[profile]
	if !ok {
		cps = e.typing[e.defaultTyping]
	}
	cps *= e.uniform(1-typingVariance, 1+typingVariance)

	d := time.Duration(float64(length) / cps * float64(time.Second))
	if e.maxTyping > 0 && d > e.maxTyping {
		return e.maxTyping
	}
	return d
}

// DayVariation is a per-calendar-day factor in [0.8, 1.4], stable for the whole day.
func DayVariation(at time.Time) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(at.Format("2006-01-02")))
	r := rand.New(rand.NewSource(int64(h.Sum64() & math.MaxInt64)))
	return dayVariationMin + r.Float64()*(dayVariationMax-dayVariationMin)
}

func (e *Engine) uniform(lo, hi float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return lo + e.rng.Float64()*(hi-lo)
}

func (e *Engine) shuffle(n int, swap func(i, j int)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rng.Shuffle(n, swap)
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if hi > 0 && d > hi {
		return hi
	}
	return d
}
