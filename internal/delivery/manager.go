package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"herald/internal/behavior"
	"herald/internal/channel"
	"herald/internal/config"
	"herald/internal/constants"
	"herald/internal/dedup"
	"herald/internal/logger"
	"herald/internal/queuestore"
	"herald/internal/ratelimit"
	pkgerrors "herald/pkg/errors"
	"herald/pkg/logging"
	"herald/pkg/metrics"
	"herald/pkg/models"
	"herald/pkg/tracing"
)

type EnqueueResult struct {
	Accepted       bool          `json:"accepted"`
	MessageID      string        `json:"message_id"`
	Status         models.Status `json:"status,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	Message        string        `json:"message,omitempty"`
	EstimatedDelay time.Duration `json:"estimated_delay_ms"`
}

type QueueLengths struct {
	Priority int `json:"priority"`
	Regular  int `json:"regular"`
}

type TenantStatus struct {
	TenantID   string             `json:"tenant_id"`
	Queues     QueueLengths       `json:"queues"`
	BurstRisk  behavior.RiskLevel `json:"burst_risk"`
	Processing bool               `json:"processing"`
	Paused     bool               `json:"paused"`
	Current    string             `json:"current_message_id,omitempty"`
	LastSentAt time.Time          `json:"last_sent_at,omitempty"`
	Backend    string             `json:"backend"`
	Upcoming   []*models.Envelope `json:"upcoming"`
}

// Service is what submitters (API, Kafka consumer, rule evaluator) and
// operators see of the delivery pipeline.
type Service interface {
	Enqueue(ctx context.Context, env *models.Envelope) (EnqueueResult, error)
	EnqueueBulk(ctx context.Context, tenantID string, envs []*models.Envelope) ([]EnqueueResult, error)
	Status(ctx context.Context, tenantID string) (TenantStatus, error)
	Pause(tenantID string)
	Resume(tenantID string)
	Clear(ctx context.Context, tenantID string) (int, error)
	Cancel(ctx context.Context, tenantID, messageID string) error
	Retry(ctx context.Context, tenantID, messageID string) (EnqueueResult, error)
	MessageStatus(ctx context.Context, messageID string) (models.StatusRecord, error)
}

type Dependencies struct {
	Store     queuestore.Store
	Guard     *dedup.Guard
	Governor  *ratelimit.Governor
	Hours     *ratelimit.BusinessHours
	Engine    *behavior.Engine
	Adapter   channel.Adapter
	Publisher StatusPublisher
	// Clock defaults to the wall clock.
	Clock Clock
}

// Manager is the registry of per-tenant workers. A tenant's worker starts on
// the first enqueue, drains until the queue is empty and then goes idle.
type Manager struct {
	store     queuestore.Store
	guard     *dedup.Guard
	governor  *ratelimit.Governor
	hours     *ratelimit.BusinessHours
	engine    *behavior.Engine
	adapter   channel.Adapter
	publisher StatusPublisher
	clock     Clock

	cfg             config.DeliveryConfig
	statusTTL       time.Duration
	typingIndicator bool
	logger          logger.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Int32

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
}

var _ Service = (*Manager)(nil)

func NewManager(cfg *config.Config, deps Dependencies, log logger.Logger) *Manager {
	dc := cfg.Delivery
	if dc.MaxAttempts < 1 {
		dc.MaxAttempts = constants.DefaultMaxAttempts
	}
	if dc.DispatchTimeout <= 0 {
		dc.DispatchTimeout = constants.DefaultDispatchTimeout
	}
	if dc.PollInterval <= 0 {
		dc.PollInterval = constants.DefaultPollInterval
	}
	if dc.BackoffBase <= 0 {
		dc.BackoffBase = constants.DefaultBackoffBase
	}
	if dc.BackoffMax < dc.BackoffBase {
		dc.BackoffMax = constants.DefaultBackoffMax
	}
	if dc.BackoffFactor <= 1 {
		dc.BackoffFactor = 2
	}
	if dc.BurstWindow <= 0 {
		dc.BurstWindow = constants.DefaultBurstWindow
	}
	if dc.HistorySize < 1 {
		dc.HistorySize = constants.DefaultHistorySize
	}

	statusTTL := cfg.Queue.StatusTTL
	if statusTTL <= 0 {
		statusTTL = constants.DefaultStatusTTL
	}

	clock := deps.Clock
	if clock == nil {
		clock = RealClock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:           deps.Store,
		guard:           deps.Guard,
		governor:        deps.Governor,
		hours:           deps.Hours,
		engine:          deps.Engine,
		adapter:         deps.Adapter,
		publisher:       deps.Publisher,
		clock:           clock,
		cfg:             dc,
		statusTTL:       statusTTL,
		typingIndicator: cfg.Behavior.TypingIndicator,
		logger:          log,
		ctx:             ctx,
		cancel:          cancel,
		workers:         make(map[string]*worker),
	}
}

// Enqueue runs the submission checks (rate caps, then duplicates) and queues the
// envelope. Policy rejections are reported in the result, not as errors.
func (m *Manager) Enqueue(ctx context.Context, env *models.Envelope) (EnqueueResult, error) {
	ctx, span := tracing.GetTracer("herald-delivery").Start(ctx, "delivery.enqueue")
	defer span.End()

	if env == nil {
		return EnqueueResult{}, pkgerrors.ErrValidation.WithDetail("message", "envelope cannot be nil")
	}
	m.applyDefaults(env)
	if err := models.ValidateEnvelope(env); err != nil {
		return EnqueueResult{}, pkgerrors.ErrValidation.WithCause(err).WithDetail("message", err.Error())
	}

	ctx = logging.WithTenantID(logging.WithMessageID(ctx, env.ID), env.TenantID)

	decision, err := m.governor.CheckCounters(ctx, env.TenantID)
	if err != nil {
		m.logger.WarnwCtx(ctx, "Rate counters unavailable at submission, continuing", "error", err)
	} else if !decision.Allowed {
		return m.reject(ctx, env, ratelimit.ReasonRateLimitExceeded, decision.Message), nil
	}

	res, err := m.guard.Check(ctx, env.TenantID, env, m.guard.DefaultOptions())
	if err != nil {
		return EnqueueResult{}, pkgerrors.ErrServiceUnavailable.WithCause(err)
	}
	if res.Duplicate {
		return m.reject(ctx, env, res.Reason, res.Message), nil
	}

	out, err := m.push(ctx, env, "")
	if err != nil {
		// An unqueued message leaves no duplicate or cap record behind.
		if relErr := m.guard.Release(context.WithoutCancel(ctx), res); relErr != nil {
			m.logger.WarnwCtx(ctx, "Failed to release duplicate records", "error", relErr)
		}
	}
	return out, err
}

// EnqueueBulk reorders the batch so no recipient is hit twice in a row, tags each
// envelope with its batch position and enqueues them one by one. Invalid
// envelopes are reported first and take no part in the ordering.
func (m *Manager) EnqueueBulk(ctx context.Context, tenantID string, envs []*models.Envelope) ([]EnqueueResult, error) {
	batch := make([]*models.Envelope, 0, len(envs))
	for _, env := range envs {
		if env == nil {
			continue
		}
		if env.TenantID == "" {
			env.TenantID = tenantID
		}
		if env.TenantID != tenantID {
			return nil, pkgerrors.ErrValidation.WithDetail("message",
				fmt.Sprintf("message for tenant %q in a batch for tenant %q", env.TenantID, tenantID))
		}
		batch = append(batch, env)
	}

	results := make([]EnqueueResult, 0, len(batch))
	valid := batch[:0]
	for _, env := range batch {
		m.applyDefaults(env)
		if err := models.ValidateEnvelope(env); err != nil {
			results = append(results, EnqueueResult{MessageID: env.ID, Reason: "validation_failed", Message: err.Error()})
			continue
		}
		valid = append(valid, env)
	}

	ordered := m.engine.OptimalOrder(valid)
	for i, env := range ordered {
		env.Behavior.BatchPosition = i
		env.Behavior.BatchSize = len(ordered)

		res, err := m.Enqueue(ctx, env)
		if pkgerrors.IsValidation(err) {
			results = append(results, EnqueueResult{MessageID: env.ID, Reason: "validation_failed", Message: err.Error()})
			continue
		}
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (m *Manager) Status(ctx context.Context, tenantID string) (TenantStatus, error) {
	st := TenantStatus{
		TenantID:  tenantID,
		BurstRisk: behavior.RiskLow,
		Backend:   m.store.Name(),
		Upcoming:  []*models.Envelope{},
	}

	var err error
	if st.Queues.Priority, err = m.store.Len(ctx, tenantID, queuestore.TierPriority); err != nil {
		return st, pkgerrors.ErrServiceUnavailable.WithCause(err)
	}
	if st.Queues.Regular, err = m.store.Len(ctx, tenantID, queuestore.TierRegular); err != nil {
		return st, pkgerrors.ErrServiceUnavailable.WithCause(err)
	}

	for _, tier := range queuestore.Tiers {
		remaining := constants.StatusPreviewLimit - len(st.Upcoming)
		if remaining <= 0 {
			break
		}
		envs, err := m.store.List(ctx, tenantID, tier, remaining)
		if err != nil {
			return st, pkgerrors.ErrServiceUnavailable.WithCause(err)
		}
		st.Upcoming = append(st.Upcoming, envs...)
	}

	if w := m.lookup(tenantID); w != nil {
		snap := w.snapshot()
		st.Processing = snap.running
		st.Paused = snap.paused
		st.Current = snap.current
		st.BurstRisk = behavior.AnalyzeBurst(w.history.Snapshot(), m.clock.Now(), m.cfg.BurstWindow).RiskLevel
		st.LastSentAt = w.history.Last()
	}
	return st, nil
}

// Pause stops the tenant's worker from starting new iterations. Queued messages stay queued.
func (m *Manager) Pause(tenantID string) {
	m.mu.Lock()
	w := m.workerLocked(tenantID)
	m.mu.Unlock()

	w.pause()
	m.logger.Infow("Tenant delivery paused", "tenant_id", tenantID)
}

func (m *Manager) Resume(tenantID string) {
	w := m.lookup(tenantID)
	if w == nil {
		return
	}
	w.resume()
	m.ensureRunning(tenantID)
	m.logger.Infow("Tenant delivery resumed", "tenant_id", tenantID)
}

// Clear drops every queued message of the tenant from both tiers.
func (m *Manager) Clear(ctx context.Context, tenantID string) (int, error) {
	if w := m.lookup(tenantID); w != nil {
		w.selectMu.Lock()
		defer w.selectMu.Unlock()
	}

	n, err := m.store.Clear(ctx, tenantID)
	if err != nil {
		return 0, pkgerrors.ErrServiceUnavailable.WithCause(err)
	}
	m.logger.InfowCtx(ctx, "Tenant queue cleared", "tenant_id", tenantID, "removed", n)
	return n, nil
}

// Cancel removes a message that is still queued. A message already being sent cannot be cancelled.
func (m *Manager) Cancel(ctx context.Context, tenantID, messageID string) error {
	if w := m.lookup(tenantID); w != nil {
		w.selectMu.Lock()
		defer w.selectMu.Unlock()

		if w.snapshot().current == messageID {
			return pkgerrors.ErrConflict.WithDetail("message", fmt.Sprintf("message %s is already being sent", messageID))
		}
	}

	env, err := m.store.Remove(ctx, tenantID, messageID)
	if errors.Is(err, queuestore.ErrNotFound) {
		return pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("message %s is not queued", messageID))
	}
	if err != nil {
		return pkgerrors.ErrServiceUnavailable.WithCause(err)
	}

	env.Status = models.StatusCancelled
	m.writeStatus(ctx, env, "cancelled on request")
	m.logger.InfowCtx(ctx, "Message cancelled", "tenant_id", tenantID, "message_id", messageID)
	return nil
}

// Retry queues a failed or cancelled message again with a fresh attempt budget.
// The duplicate guard is not consulted; this is an explicit operator action.
func (m *Manager) Retry(ctx context.Context, tenantID, messageID string) (EnqueueResult, error) {
	rec, err := m.readStatus(ctx, messageID)
	if errors.Is(err, queuestore.ErrNotFound) || (err == nil && rec.TenantID != tenantID) {
		return EnqueueResult{}, pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("message %s not found", messageID))
	}
	if err != nil {
		return EnqueueResult{}, pkgerrors.ErrServiceUnavailable.WithCause(err)
	}

	if rec.Status != models.StatusFailed && rec.Status != models.StatusCancelled {
		return EnqueueResult{}, pkgerrors.ErrConflict.WithDetail("message",
			fmt.Sprintf("message %s is %s; only failed or cancelled messages can be retried", messageID, rec.Status))
	}
	if rec.Envelope == nil {
		return EnqueueResult{}, pkgerrors.ErrConflict.WithDetail("message", "status record has no envelope to retry")
	}

	env := rec.Envelope
	env.Metadata.Attempts = 0
	env.NotBefore = time.Time{}
	env.LastError = ""
	env.ProviderMessageID = ""

	ctx = logging.WithTenantID(logging.WithMessageID(ctx, env.ID), env.TenantID)
	return m.push(ctx, env, "retry requested")
}

func (m *Manager) MessageStatus(ctx context.Context, messageID string) (models.StatusRecord, error) {
	rec, err := m.readStatus(ctx, messageID)
	if errors.Is(err, queuestore.ErrNotFound) {
		return rec, pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("message %s not found", messageID))
	}
	if err != nil {
		return rec, pkgerrors.ErrServiceUnavailable.WithCause(err)
	}
	return rec, nil
}

// Cleanup drops idle workers whose burst history has aged out and refreshes the
// queue gauges. It returns how many workers were removed.
func (m *Manager) Cleanup(ctx context.Context) int {
	now := m.clock.Now()

	m.mu.Lock()
	removed := 0
	tenants := make([]string, 0, len(m.workers))
	for id, w := range m.workers {
		if w.idleSince(now, m.cfg.BurstWindow) {
			delete(m.workers, id)
			removed++
			continue
		}
		tenants = append(tenants, id)
	}
	m.mu.Unlock()

	for _, tier := range queuestore.Tiers {
		total := 0
		for _, id := range tenants {
			n, err := m.store.Len(ctx, id, tier)
			if err != nil {
				m.logger.WarnwCtx(ctx, "Failed to read queue length during cleanup", "tenant_id", id, "error", err)
				continue
			}
			total += n
		}
		metrics.SetMessageQueueSize(string(tier), total)
	}

	if removed > 0 {
		m.logger.InfowCtx(ctx, "Removed idle delivery workers", "removed", removed, "remaining", len(tenants))
	}
	return removed
}

// Shutdown stops every worker. A message caught mid-pause is put back in its queue.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("Delivery workers stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("delivery workers did not stop: %w", ctx.Err())
	}
}

func (m *Manager) applyDefaults(env *models.Envelope) {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Priority == "" {
		env.Priority = models.PriorityNormal
	}
	if env.Metadata.MaxAttempts == 0 {
		env.Metadata.MaxAttempts = m.cfg.MaxAttempts
	}
	if env.Metadata.CreatedAt.IsZero() {
		env.Metadata.CreatedAt = m.clock.Now()
	}
	if env.Metadata.Source == "" {
		env.Metadata.Source = constants.SourceAPI
	}
	env.Metadata.EstimatedLength = utf8.RuneCountInString(env.Content)
}

func (m *Manager) reject(ctx context.Context, env *models.Envelope, reason, message string) EnqueueResult {
	metrics.IncRejected(reason)
	m.logger.InfowCtx(ctx, "Message rejected",
		"reason", reason,
		"recipient", env.Recipient,
		"type", env.Type,
	)
	return EnqueueResult{
		MessageID: env.ID,
		Reason:    reason,
		Message:   message,
	}
}

func (m *Manager) push(ctx context.Context, env *models.Envelope, reason string) (EnqueueResult, error) {
	if m.isClosed() {
		return EnqueueResult{}, pkgerrors.ErrServiceUnavailable.WithDetail("message", "delivery is shutting down")
	}

	env.Status = models.StatusQueued
	if env.Metadata.TraceID == "" {
		env.Metadata.TraceID = tracing.TraceID(ctx)
	}

	estimate := m.estimateDelay(ctx, env)
	if err := m.store.Push(ctx, env); err != nil {
		return EnqueueResult{}, pkgerrors.ErrServiceUnavailable.WithCause(err)
	}
	m.writeStatus(ctx, env, reason)
	metrics.IncEnqueued(string(env.Priority), env.Metadata.Source)
	m.ensureRunning(env.TenantID)

	m.logger.DebugwCtx(ctx, "Message queued",
		"priority", env.Priority,
		"estimated_delay", estimate,
	)
	return EnqueueResult{
		Accepted:       true,
		MessageID:      env.ID,
		Status:         models.StatusQueued,
		EstimatedDelay: estimate,
	}, nil
}

// estimateDelay is a rough guess: one base delay per message ahead of env, plus
// the wait until the business hours window opens.
func (m *Manager) estimateDelay(ctx context.Context, env *models.Envelope) time.Duration {
	_, pattern := m.engine.Pattern(env.Behavior.Pattern)

	ahead := 0
	tiers := queuestore.Tiers
	if env.IsHighPriority() {
		tiers = tiers[:1]
	}
	for _, tier := range tiers {
		if n, err := m.store.Len(ctx, env.TenantID, tier); err == nil {
			ahead += n
		}
	}

	estimate := time.Duration(ahead+1) * pattern.Base
	now := m.clock.Now()
	window := m.hours.Resolve(hoursService(env), env.Behavior.BusinessHours)
	if !m.hours.Within(window, now) {
		estimate += m.hours.NextStart(window, now).Sub(now)
	}
	return estimate
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) lookup(tenantID string) *worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workers[tenantID]
}

func (m *Manager) workerLocked(tenantID string) *worker {
	w, ok := m.workers[tenantID]
	if !ok {
		w = newWorker(tenantID, m)
		m.workers[tenantID] = w
	}
	return w
}

func (m *Manager) ensureRunning(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.workerLocked(tenantID).start()
}

func hoursService(env *models.Envelope) string {
	if env.Behavior.Service != "" {
		return env.Behavior.Service
	}
	return constants.HoursServiceDelivery
}
