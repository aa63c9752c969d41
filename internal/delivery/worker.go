package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"herald/internal/behavior"
	"herald/internal/channel"
	"herald/internal/logger"
	"herald/internal/queuestore"
	pkgerrors "herald/pkg/errors"
	"herald/pkg/logging"
	"herald/pkg/metrics"
	"herald/pkg/models"
	"herald/pkg/retry"
	"herald/pkg/tracing"
)

const reasonOutsideBusinessHours = "outside_business_hours"

// worker drains one tenant's queues. At most one run loop exists per worker.
type worker struct {
	tenantID string
	m        *Manager
	history  *history
	logger   logger.Logger
	wake     chan struct{}

	// selectMu serializes queue rotation with Cancel and Clear.
	selectMu sync.Mutex

	mu         sync.Mutex
	running    bool
	pending    bool
	paused     bool
	resumeCh   chan struct{}
	current    string
	lastActive time.Time
}

type workerSnapshot struct {
	running bool
	paused  bool
	current string
}

func newWorker(tenantID string, m *Manager) *worker {
	return &worker{
		tenantID:   tenantID,
		m:          m,
		history:    newHistory(m.cfg.HistorySize),
		logger:     m.logger.Named("worker"),
		wake:       make(chan struct{}, 1),
		lastActive: m.clock.Now(),
	}
}

// start launches the run loop unless one is active, in which case the loop is
// told to look at the queue again. Called with the manager's lock held.
func (w *worker) start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		w.pending = true
		select {
		case w.wake <- struct{}{}:
		default:
		}
		return
	}

	w.running = true
	w.m.wg.Add(1)
	go w.run()
}

func (w *worker) run() {
	defer w.m.wg.Done()

	ctx := logging.WithTenantID(w.m.ctx, w.tenantID)
	metrics.SetActiveWorkers(int(w.m.running.Add(1)))
	defer func() {
		metrics.SetActiveWorkers(int(w.m.running.Add(-1)))
	}()

	w.logger.DebugwCtx(ctx, "Worker started")

	for {
		if err := w.waitIfPaused(ctx); err != nil {
			w.stop()
			return
		}

		env, wait, err := w.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.stop()
				return
			}
			w.logger.ErrorwCtx(ctx, "Failed to select next message", "error", err)
			if sleep(ctx, w.m.clock, w.m.cfg.PollInterval, w.wake) != nil {
				w.stop()
				return
			}
			continue
		}

		if env == nil {
			if wait <= 0 {
				if w.finish() {
					w.logger.DebugwCtx(ctx, "Worker idle")
					return
				}
				continue
			}
			if wait > w.m.cfg.PollInterval {
				wait = w.m.cfg.PollInterval
			}
			if sleep(ctx, w.m.clock, wait, w.wake) != nil {
				w.stop()
				return
			}
			continue
		}

		w.process(ctx, env)
		w.setCurrent("")
	}
}

// next pops the first due envelope, priority tier first. Envelopes that are not
// due yet go back to the tail of their tier; the returned wait is the time until
// the earliest of them. A nil envelope with zero wait means both tiers are empty.
func (w *worker) next(ctx context.Context) (*models.Envelope, time.Duration, error) {
	w.selectMu.Lock()
	defer w.selectMu.Unlock()

	w.mu.Lock()
	w.pending = false
	w.mu.Unlock()

	store := w.m.store
	now := w.m.clock.Now()

	var earliest time.Time
	for _, tier := range queuestore.Tiers {
		n, err := store.Len(ctx, w.tenantID, tier)
		if err != nil {
			return nil, 0, err
		}

		for i := 0; i < n; i++ {
			env, err := store.Pop(ctx, w.tenantID, tier)
			if errors.Is(err, queuestore.ErrEmpty) {
				break
			}
			if err != nil {
				return nil, 0, err
			}

			if env.Due(now) {
				w.setCurrent(env.ID)
				return env, 0, nil
			}

			if err := store.Push(ctx, env); err != nil {
				w.logger.ErrorwCtx(ctx, "Lost message while rotating queue", "message_id", env.ID, "error", err)
				return nil, 0, fmt.Errorf("failed to rotate message %s: %w", env.ID, err)
			}
			if earliest.IsZero() || env.NotBefore.Before(earliest) {
				earliest = env.NotBefore
			}
		}
	}

	if earliest.IsZero() {
		return nil, 0, nil
	}
	return nil, earliest.Sub(now), nil
}

// process walks one envelope through the gates and dispatches it. The
// business-hours and counter gates run again after the pauses, so a message
// picked up just before the window closes is postponed rather than sent late.
func (w *worker) process(ctx context.Context, env *models.Envelope) {
	m := w.m
	ctx = logging.WithMessageID(ctx, env.ID)

	if !w.gatesOpen(ctx, env) {
		return
	}

	now := m.clock.Now()
	burst := behavior.AnalyzeBurst(w.history.Snapshot(), now, m.cfg.BurstWindow)
	if burst.IsBurst {
		metrics.IncBurstRisk(string(burst.RiskLevel))
	}
	if burst.NeedsCooldown() {
		w.logger.WarnwCtx(ctx, "Send burst detected, cooling down",
			"risk", burst.RiskLevel,
			"sends", burst.Count,
			"average_interval", burst.AverageInterval,
			"cooldown", burst.RecommendedCooldown,
		)
		if err := sleep(ctx, m.clock, burst.RecommendedCooldown, nil); err != nil {
			w.requeue(ctx, env)
			return
		}
	}

	if err := w.humanPause(ctx, env); err != nil {
		w.requeue(ctx, env)
		return
	}

	if !w.gatesOpen(ctx, env) {
		return
	}
	w.dispatch(ctx, env)
}

// gatesOpen checks business hours and the tenant counters at the current
// clock time. A closed gate postpones env and reports false.
func (w *worker) gatesOpen(ctx context.Context, env *models.Envelope) bool {
	m := w.m
	now := m.clock.Now()

	window := m.hours.Resolve(hoursService(env), env.Behavior.BusinessHours)
	if !m.hours.Within(window, now) {
		w.postpone(ctx, env, m.hours.NextStart(window, now), reasonOutsideBusinessHours)
		return false
	}

	decision, err := m.governor.CheckCounters(ctx, w.tenantID)
	if err != nil {
		w.logger.WarnwCtx(ctx, "Rate counters unavailable, dispatching without cap check", "error", err)
		return true
	}
	if !decision.Allowed {
		w.postpone(ctx, env, decision.RetryAt, decision.Reason)
		return false
	}
	return true
}

// humanPause sleeps the computed human delay (never shorter than the spacing
// gate asks for) and then the typing simulation when enabled.
func (w *worker) humanPause(ctx context.Context, env *models.Envelope) error {
	m := w.m

	dailyCount, err := m.governor.DailyCount(ctx, w.tenantID)
	if err != nil {
		w.logger.WarnwCtx(ctx, "Failed to read daily count, assuming zero", "error", err)
		dailyCount = 0
	}

	pattern, _ := m.engine.Pattern(env.Behavior.Pattern)
	delay := m.engine.ComputeDelay(behavior.DelayInput{
		Pattern:       pattern,
		TypingProfile: env.Behavior.TypingProfile,
		MessageLength: env.Metadata.EstimatedLength,
		Position:      env.Behavior.BatchPosition,
		BatchSize:     env.Behavior.BatchSize,
		DailyCount:    dailyCount,
		Jitter:        env.Behavior.JitterEnabled(),
		At:            m.clock.Now(),
	})
	metrics.ObserveHumanDelay(pattern, delay)

	wait := delay
	spacing, err := m.governor.SpacingWait(ctx, w.tenantID)
	if err != nil {
		w.logger.WarnwCtx(ctx, "Failed to read spacing, using human delay only", "error", err)
	} else if spacing > wait {
		wait = spacing
	}

	w.logger.DebugwCtx(ctx, "Waiting before dispatch",
		"pattern", pattern,
		"human_delay", delay,
		"wait", wait,
	)
	if err := sleep(ctx, m.clock, wait, nil); err != nil {
		return err
	}

	if !env.Behavior.TypingIndicator && !m.typingIndicator {
		return nil
	}

	typing := m.engine.TypingDuration(env.Metadata.EstimatedLength, env.Behavior.TypingProfile)
	if tn, ok := m.adapter.(channel.TypingNotifier); ok {
		if err := tn.SendTyping(ctx, w.tenantID, env.Recipient, typing); err != nil {
			w.logger.WarnwCtx(ctx, "Failed to send typing indicator", "error", err)
		}
	}
	return sleep(ctx, m.clock, typing, nil)
}

func (w *worker) dispatch(ctx context.Context, env *models.Envelope) {
	m := w.m
	ctx, span := tracing.GetTracer("herald-delivery").Start(ctx, "delivery.dispatch")
	defer span.End()

	env.Status = models.StatusSending
	m.writeStatus(ctx, env, "")
	metrics.ObserveMessageQueueWaitDuration(string(env.Priority), m.clock.Now().Sub(env.Metadata.CreatedAt))

	start := time.Now()
	dctx, cancel := context.WithTimeout(ctx, m.cfg.DispatchTimeout)
	var res channel.Result
	err := pkgerrors.Safely(func() (sendErr error) {
		res, sendErr = m.adapter.Send(dctx, w.tenantID, env.Recipient, env.Content)
		return sendErr
	})
	cancel()

	sentAt := m.clock.Now()
	w.history.Add(sentAt)

	if err == nil && !res.Success {
		err = fmt.Errorf("channel reported failure: %s", res.Error)
	}
	if err != nil {
		metrics.ObserveDispatch("failure", time.Since(start))
		span.RecordError(err)
		w.fail(ctx, env, err)
		return
	}
	metrics.ObserveDispatch("success", time.Since(start))

	if err := m.governor.RecordSend(ctx, w.tenantID, sentAt); err != nil {
		w.logger.WarnwCtx(ctx, "Failed to record send in rate counters", "error", err)
	}

	env.Status = models.StatusSent
	env.ProviderMessageID = res.ProviderMessageID
	env.LastError = ""
	env.NotBefore = time.Time{}
	m.writeStatus(ctx, env, "")

	w.logger.InfowCtx(ctx, "Message sent",
		"recipient", env.Recipient,
		"attempt", env.Metadata.Attempts+1,
		"provider_message_id", res.ProviderMessageID,
	)
}

// fail counts the attempt and either schedules a retry with exponential backoff
// or marks the message failed for good.
func (w *worker) fail(ctx context.Context, env *models.Envelope, cause error) {
	m := w.m
	ctx = context.WithoutCancel(ctx)

	env.Metadata.Attempts++
	env.LastError = cause.Error()

	maxAttempts := env.Metadata.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = m.cfg.MaxAttempts
	}

	if env.Metadata.Attempts >= maxAttempts {
		w.markFailed(ctx, env)
		return
	}

	backoff := retry.Delay(env.Metadata.Attempts, m.cfg.BackoffBase, m.cfg.BackoffFactor, m.cfg.BackoffMax)
	env.Status = models.StatusRetrying
	env.NotBefore = m.clock.Now().Add(backoff)

	if err := m.store.Push(ctx, env); err != nil {
		w.logger.ErrorwCtx(ctx, "Failed to schedule retry", "error", err)
		env.LastError = fmt.Sprintf("%s; retry not scheduled: %v", env.LastError, err)
		w.markFailed(ctx, env)
		return
	}
	metrics.RetryAttemptsTotal.WithLabelValues("delivery", "dispatch").Inc()
	m.writeStatus(ctx, env, env.LastError)

	w.logger.WarnwCtx(ctx, "Dispatch failed, retry scheduled",
		"attempt", env.Metadata.Attempts,
		"max_attempts", maxAttempts,
		"backoff", backoff,
		"error", cause,
	)
}

func (w *worker) markFailed(ctx context.Context, env *models.Envelope) {
	env.Status = models.StatusFailed
	env.NotBefore = time.Time{}
	w.m.writeStatus(ctx, env, env.LastError)

	w.logger.ErrorwCtx(ctx, "Message failed",
		"attempts", env.Metadata.Attempts,
		"error", env.LastError,
	)
}

func (w *worker) postpone(ctx context.Context, env *models.Envelope, until time.Time, reason string) {
	m := w.m
	now := m.clock.Now()
	if !until.After(now) {
		until = now.Add(m.cfg.PollInterval)
	}

	env.Status = models.StatusPostponed
	env.NotBefore = until
	metrics.IncPostponed(reason)

	if err := m.store.Push(ctx, env); err != nil {
		w.logger.ErrorwCtx(ctx, "Failed to push back postponed message", "error", err)
		return
	}
	m.writeStatus(ctx, env, reason)

	w.logger.InfowCtx(ctx, "Message postponed",
		"reason", reason,
		"until", until,
	)
}

// requeue puts back an envelope whose pause was interrupted by shutdown.
func (w *worker) requeue(ctx context.Context, env *models.Envelope) {
	ctx = context.WithoutCancel(ctx)
	env.Status = models.StatusQueued

	if err := w.m.store.Push(ctx, env); err != nil {
		w.logger.ErrorwCtx(ctx, "Failed to requeue interrupted message", "error", err)
		return
	}
	w.m.writeStatus(ctx, env, "interrupted by shutdown")
}

func (w *worker) waitIfPaused(ctx context.Context) error {
	for {
		w.mu.Lock()
		if !w.paused {
			w.mu.Unlock()
			return ctx.Err()
		}
		ch := w.resumeCh
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (w *worker) pause() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.paused {
		w.paused = true
		w.resumeCh = make(chan struct{})
	}
}

func (w *worker) resume() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.paused {
		w.paused = false
		close(w.resumeCh)
	}
}

// finish marks the loop stopped unless an enqueue arrived since the last selection.
func (w *worker) finish() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending {
		w.pending = false
		return false
	}
	w.running = false
	w.lastActive = w.m.clock.Now()
	return true
}

func (w *worker) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.running = false
	w.pending = false
	w.current = ""
	w.lastActive = w.m.clock.Now()
}

func (w *worker) setCurrent(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.current = id
	if id == "" {
		w.lastActive = w.m.clock.Now()
	}
}

func (w *worker) snapshot() workerSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	return workerSnapshot{running: w.running, paused: w.paused, current: w.current}
}

// idleSince reports whether the worker is stopped, unpaused and has been quiet for at least d.
func (w *worker) idleSince(now time.Time, d time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return !w.running && !w.paused && now.Sub(w.lastActive) >= d
}
