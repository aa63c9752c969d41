package dedup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"herald/internal/config"
	"herald/internal/constants"
	"herald/internal/logger"
	"herald/internal/queuestore"
	"herald/pkg/metrics"
	"herald/pkg/models"
	"herald/pkg/tracing"
)

const (
	ReasonContentDuplicate = "content_duplicate"
	ReasonDailyCapExceeded = "daily_cap_exceeded"
)

const defaultType = "default"

// Store is the slice of the queue store the guard needs.
type Store interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Decr(ctx context.Context, key string) error
	Delete(ctx context.Context, keys ...string) error
}

type Options struct {
	CheckContent  bool
	CheckDailyCap bool
	Window        time.Duration
	DailyCap      int
	// Type overrides the envelope's message type for the daily cap bucket.
	Type string
}

type Result struct {
	Duplicate bool
	Reason    string
	Message   string

	// Records written by an accepting check, undone by Release.
	dupKey string
	capKey string
}

// Guard rejects repeated content to a recipient within a window and caps
// per-recipient daily volume by message type.
type Guard struct {
	store    Store
	hasher   *Hasher
	cfg      config.DeduplicationConfig
	location *time.Location
	logger   logger.Logger
	now      func() time.Time
}

func NewGuard(store Store, cfg config.DeduplicationConfig, log logger.Logger) *Guard {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Warnw("Invalid deduplication timezone, using UTC", "timezone", cfg.Timezone, "error", err)
		loc = time.UTC
	}

	return &Guard{
		store:    store,
		hasher:   NewHasher(cfg.HashAlgorithm),
		cfg:      cfg,
		location: loc,
		logger:   log,
		now:      time.Now,
	}
}

// DefaultOptions builds per-call options from the configured defaults.
func (g *Guard) DefaultOptions() Options {
	return Options{
		CheckContent:  g.cfg.CheckContent,
		CheckDailyCap: g.cfg.CheckDailyCap,
		Window:        g.cfg.Window,
		DailyCap:      g.cfg.DailyCap,
	}
}

// Check runs the content check and then the daily cap check. A content
// duplicate short-circuits the cap check.
func (g *Guard) Check(ctx context.Context, tenantID string, env *models.Envelope, opts Options) (Result, error) {
	ctx, span := tracing.GetTracer("herald-dedup").Start(ctx, "dedup.check")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	msgType := opts.Type
	if msgType == "" {
		msgType = env.Type
	}
	if msgType == "" {
		msgType = defaultType
	}

	var dupKey string
	if opts.CheckContent {
		window := opts.Window
		if window <= 0 {
			window = constants.DefaultDuplicateWindow
		}

		hash := g.hasher.Fingerprint(env.Recipient, env.Content, msgType)
		dupKey = queuestore.DupKey(tenantID, env.Recipient, hash)

		fresh, err := g.store.SetNX(ctx, dupKey, strconv.FormatInt(g.now().Unix(), 10), window)
		if err != nil {
			return g.onStoreError(ctx, "content", err)
		}
		if !fresh {
			return Result{
				Duplicate: true,
				Reason:    ReasonContentDuplicate,
				Message:   fmt.Sprintf("same content was sent to %s within the last %s", env.Recipient, window),
			}, nil
		}
	}

	var capKey string
	if opts.CheckDailyCap && opts.DailyCap > 0 {
		now := g.now().In(g.location)
		key := queuestore.DailyCapKey(tenantID, env.Recipient, msgType, now)

		n, err := g.store.IncrWithExpire(ctx, key, untilMidnight(now))
		if err != nil {
			return g.onStoreError(ctx, "daily_cap", err)
		}
		capKey = key
		if n > int64(opts.DailyCap) {
			if dupKey != "" {
				if err := g.store.Delete(ctx, dupKey); err != nil {
					g.logger.WarnwCtx(ctx, "Failed to release duplicate record after cap rejection",
						"key", dupKey,
						"error", err,
					)
				}
			}
			return Result{
				Duplicate: true,
				Reason:    ReasonDailyCapExceeded,
				Message:   fmt.Sprintf("recipient already received %d %q messages today (cap %d)", n-1, msgType, opts.DailyCap),
			}, nil
		}
	}

	return Result{dupKey: dupKey, capKey: capKey}, nil
}

// Release undoes what an accepting Check recorded, for a message that was
// then never queued. It is a no-op for rejections.
func (g *Guard) Release(ctx context.Context, res Result) error {
	if res.Duplicate {
		return nil
	}
	var errs []error
	if res.dupKey != "" {
		if err := g.store.Delete(ctx, res.dupKey); err != nil {
			errs = append(errs, fmt.Errorf("release duplicate record: %w", err))
		}
	}
	if res.capKey != "" {
		if err := g.store.Decr(ctx, res.capKey); err != nil {
			errs = append(errs, fmt.Errorf("release daily cap slot: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (g *Guard) onStoreError(ctx context.Context, stage string, err error) (Result, error) {
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	if g.cfg.OnStoreError == constants.FallbackDeny {
		metrics.IncFallbackUsage("deduplication", "deny_on_error", stage)
		return Result{}, fmt.Errorf("duplicate check (%s) failed: %w", stage, err)
	}

	metrics.IncFallbackUsage("deduplication", "allow_on_error", stage)
	g.logger.WarnwCtx(ctx, "Store error during duplicate check, allowing message (fallback: allow)",
		"stage", stage,
		"error", err,
	)
	return Result{}, nil
}

func untilMidnight(now time.Time) time.Duration {
	y, m, d := now.Date()
	midnight := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	return midnight.Sub(now)
}
