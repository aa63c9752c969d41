package delivery

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/behavior"
	"herald/internal/channel"
	"herald/internal/config"
	"herald/internal/dedup"
	"herald/internal/logger"
	"herald/internal/queuestore"
	"herald/internal/ratelimit"
	pkgerrors "herald/pkg/errors"
	"herald/pkg/models"
)

// fakeClock jumps forward instead of sleeping, so a worker runs through hours of
// simulated waiting in milliseconds.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	t := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- t
	return ch
}

type sentMessage struct {
	Recipient string
	Content   string
	At        time.Time
}

type fakeAdapter struct {
	clock *fakeClock

	mu   sync.Mutex
	sent []sentMessage
	fail bool
}

func (a *fakeAdapter) Send(_ context.Context, _, recipient, content string) (channel.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.sent = append(a.sent, sentMessage{Recipient: recipient, Content: content, At: a.clock.Now()})
	if a.fail {
		return channel.Result{Error: "session closed"}, errors.New("session closed")
	}
	return channel.Result{Success: true, ProviderMessageID: fmt.Sprintf("p-%d", len(a.sent))}, nil
}

func (a *fakeAdapter) CheckHealth(context.Context, string) bool { return true }

func (a *fakeAdapter) Sent() []sentMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]sentMessage(nil), a.sent...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.StatusEvent
}

func (p *recordingPublisher) PublishStatus(_ context.Context, e models.StatusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Reasons(status models.Status) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []string
	for _, e := range p.events {
		if e.Status == status {
			out = append(out, e.Reason)
		}
	}
	return out
}

type harness struct {
	m       *Manager
	store   queuestore.Store
	clock   *fakeClock
	adapter *fakeAdapter
	events  *recordingPublisher
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.RateLimit.MinSpacing = 0
	cfg.RateLimit.HourlyLimit = 1000
	cfg.RateLimit.DailyLimit = 10000
	cfg.Behavior.TypingIndicator = false
	return cfg
}

func newHarness(t *testing.T, cfg *config.Config, store queuestore.Store) *harness {
	t.Helper()

	if store == nil {
		mem := queuestore.NewMemoryStore(0)
		t.Cleanup(mem.Close)
		store = mem
	}

	log := logger.NopLogger()
	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	adapter := &fakeAdapter{clock: clock}
	events := &recordingPublisher{}

	m := NewManager(cfg, Dependencies{
		Store:     store,
		Guard:     dedup.NewGuard(store, cfg.Deduplication, log),
		Governor:  ratelimit.NewGovernor(store, cfg.RateLimit, log).WithClock(clock.Now),
		Hours:     ratelimit.NewBusinessHours(cfg.BusinessHours, log),
		Engine:    behavior.NewEngine(cfg.Behavior, rand.New(rand.NewSource(7))),
		Adapter:   adapter,
		Publisher: events,
		Clock:     clock,
	}, log)
	t.Cleanup(func() {
		_ = m.Shutdown(context.Background())
	})

	return &harness{m: m, store: store, clock: clock, adapter: adapter, events: events}
}

func message(recipient, content string) *models.Envelope {
	return models.NewEnvelopeBuilder().
		WithTenant("school-1").
		WithRecipient(recipient).
		WithContent(content).
		WithType("fee_reminder").
		Build()
}

func (h *harness) waitForStatus(t *testing.T, id string, want models.Status) models.StatusRecord {
	t.Helper()

	var rec models.StatusRecord
	require.Eventually(t, func() bool {
		r, err := h.m.MessageStatus(context.Background(), id)
		if err != nil {
			return false
		}
		rec = r
		return r.Status == want
	}, 5*time.Second, 5*time.Millisecond, "message %s never reached %s", id, want)
	return rec
}

func TestEnqueueRejectsDuplicateSubmission(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.m.Pause("school-1")
	ctx := context.Background()

	first, err := h.m.Enqueue(ctx, message("905550000001", "Your fee is due"))
	require.NoError(t, err)
	assert.True(t, first.Accepted)
	assert.Equal(t, models.StatusQueued, first.Status)
	assert.Positive(t, first.EstimatedDelay)

	second, err := h.m.Enqueue(ctx, message("905550000001", "Your fee is due"))
	require.NoError(t, err)
	assert.False(t, second.Accepted)
	assert.Equal(t, dedup.ReasonContentDuplicate, second.Reason)

	n, err := h.store.Len(ctx, "school-1", queuestore.TierRegular)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEnqueueValidation(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	_, err := h.m.Enqueue(context.Background(), message("905550000001", "  "))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))

	_, err = h.m.Enqueue(context.Background(), nil)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestEnqueueRejectsWhenRateCapReached(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.HourlyLimit = 1
	h := newHarness(t, cfg, nil)

	require.NoError(t, h.m.governor.RecordSend(context.Background(), "school-1", h.clock.Now()))

	res, err := h.m.Enqueue(context.Background(), message("905550000001", "hello"))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, ratelimit.ReasonRateLimitExceeded, res.Reason)
	assert.Contains(t, res.Message, "1/1")
}

func TestWorkerDrainsPriorityFirst(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.m.Pause("school-1")
	ctx := context.Background()

	var ids []string
	for i, p := range []models.Priority{models.PriorityNormal, models.PriorityNormal, models.PriorityHigh, models.PriorityHigh} {
		env := message(fmt.Sprintf("90555000000%d", i), fmt.Sprintf("message %d", i))
		env.Priority = p
		res, err := h.m.Enqueue(ctx, env)
		require.NoError(t, err)
		require.True(t, res.Accepted)
		ids = append(ids, res.MessageID)
	}

	status, err := h.m.Status(ctx, "school-1")
	require.NoError(t, err)
	assert.Equal(t, QueueLengths{Priority: 2, Regular: 2}, status.Queues)
	assert.True(t, status.Paused)
	assert.Len(t, status.Upcoming, 4)
	assert.Empty(t, h.adapter.Sent(), "a paused tenant sends nothing")

	h.m.Resume("school-1")
	for _, id := range ids {
		h.waitForStatus(t, id, models.StatusSent)
	}

	var order []string
	for _, s := range h.adapter.Sent() {
		order = append(order, s.Content)
	}
	assert.Equal(t, []string{"message 2", "message 3", "message 0", "message 1"}, order)
}

func TestConservativePatternKeepsMinimumSpacing(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()
	start := h.clock.Now()

	var ids []string
	for i := 0; i < 3; i++ {
		env := message(fmt.Sprintf("90555000000%d", i), fmt.Sprintf("reminder %d", i))
		env.Behavior.Pattern = "conservative"
		res, err := h.m.Enqueue(ctx, env)
		require.NoError(t, err)
		require.True(t, res.Accepted)
		ids = append(ids, res.MessageID)
	}
	for _, id := range ids {
		h.waitForStatus(t, id, models.StatusSent)
	}

	sent := h.adapter.Sent()
	require.Len(t, sent, 3)

	prev := start
	for i, s := range sent {
		assert.Equal(t, fmt.Sprintf("reminder %d", i), s.Content, "submission order is kept")
		assert.GreaterOrEqual(t, s.At.Sub(prev), 30*time.Second, "dispatch %d came too soon", i)
		prev = s.At
	}
}

func TestFailedDispatchRetriesWithGrowingBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.Delivery.MaxAttempts = 3
	cfg.Behavior.DefaultPattern = "aggressive"
	h := newHarness(t, cfg, nil)
	h.adapter.fail = true

	res, err := h.m.Enqueue(context.Background(), message("905550000001", "hello"))
	require.NoError(t, err)

	rec := h.waitForStatus(t, res.MessageID, models.StatusFailed)
	assert.Equal(t, 3, rec.Attempts)
	assert.Contains(t, rec.Reason, "session closed")

	sent := h.adapter.Sent()
	require.Len(t, sent, 3, "exactly max_attempts dispatches")

	first := sent[1].At.Sub(sent[0].At)
	second := sent[2].At.Sub(sent[1].At)
	assert.GreaterOrEqual(t, first, 2*time.Minute)
	assert.GreaterOrEqual(t, second, 4*time.Minute)
	assert.Greater(t, second, first)

	assert.Len(t, h.events.Reasons(models.StatusRetrying), 2)
}

func TestPostponesOutsideBusinessHours(t *testing.T) {
	cfg := testConfig()
	cfg.BusinessHours.Global = models.BusinessHours{
		Enabled:  true,
		Start:    "09:00",
		End:      "17:00",
		Timezone: "UTC",
	}
	h := newHarness(t, cfg, nil)
	h.clock.now = time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)

	res, err := h.m.Enqueue(context.Background(), message("905550000001", "evening reminder"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.EstimatedDelay, 13*time.Hour)

	h.waitForStatus(t, res.MessageID, models.StatusSent)

	sent := h.adapter.Sent()
	require.Len(t, sent, 1)
	assert.False(t, sent[0].At.Before(time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)))
	assert.True(t, sent[0].At.Before(time.Date(2026, 3, 3, 17, 0, 0, 0, time.UTC)))
	assert.Contains(t, h.events.Reasons(models.StatusPostponed), reasonOutsideBusinessHours)
}

func TestHourlyCapPostponesUntilNextHour(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.HourlyLimit = 1
	h := newHarness(t, cfg, nil)
	h.m.Pause("school-1")
	ctx := context.Background()

	a, err := h.m.Enqueue(ctx, message("905550000001", "first"))
	require.NoError(t, err)
	b, err := h.m.Enqueue(ctx, message("905550000002", "second"))
	require.NoError(t, err)
	h.m.Resume("school-1")

	h.waitForStatus(t, a.MessageID, models.StatusSent)
	h.waitForStatus(t, b.MessageID, models.StatusSent)

	sent := h.adapter.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, sent[0].At.Truncate(time.Hour).Add(time.Hour), sent[1].At.Truncate(time.Hour))
	assert.Contains(t, h.events.Reasons(models.StatusPostponed), ratelimit.ReasonHourlyLimit)
}

func TestCancelClearAndRetry(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.m.Pause("school-1")
	ctx := context.Background()

	a, err := h.m.Enqueue(ctx, message("905550000001", "first"))
	require.NoError(t, err)
	b, err := h.m.Enqueue(ctx, message("905550000002", "second"))
	require.NoError(t, err)

	require.NoError(t, h.m.Cancel(ctx, "school-1", a.MessageID))
	rec, err := h.m.MessageStatus(ctx, a.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, rec.Status)

	err = h.m.Cancel(ctx, "school-1", a.MessageID)
	assert.True(t, pkgerrors.IsNotFound(err))

	_, err = h.m.Retry(ctx, "school-1", b.MessageID)
	assert.True(t, pkgerrors.IsConflict(err), "a queued message cannot be retried")

	_, err = h.m.Retry(ctx, "school-2", a.MessageID)
	assert.True(t, pkgerrors.IsNotFound(err), "tenants cannot see each other's messages")

	again, err := h.m.Retry(ctx, "school-1", a.MessageID)
	require.NoError(t, err)
	assert.True(t, again.Accepted)
	assert.Equal(t, a.MessageID, again.MessageID)

	n, err := h.m.Clear(ctx, "school-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	status, err := h.m.Status(ctx, "school-1")
	require.NoError(t, err)
	assert.Equal(t, QueueLengths{}, status.Queues)
}

func TestEnqueueBulkSpreadsRecipients(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.m.Pause("school-1")

	batch := []*models.Envelope{
		message("905550000001", "a1"),
		message("905550000001", "a2"),
		message("905550000002", "b1"),
		message("905550000002", "b2"),
		message("905550000003", "c1"),
	}
	for _, env := range batch {
		env.TenantID = ""
	}

	results, err := h.m.EnqueueBulk(context.Background(), "school-1", batch)
	require.NoError(t, err)
	require.Len(t, results, 5)
	for _, r := range results {
		assert.True(t, r.Accepted)
	}

	queued, err := h.store.List(context.Background(), "school-1", queuestore.TierRegular, 0)
	require.NoError(t, err)
	require.Len(t, queued, 5)
	for i, env := range queued {
		assert.Equal(t, i, env.Behavior.BatchPosition)
		assert.Equal(t, 5, env.Behavior.BatchSize)
		if i > 0 {
			assert.NotEqual(t, queued[i-1].Recipient, env.Recipient)
		}
	}
}

// downableStore reports every call as a lost connection while down is set.
type downableStore struct {
	*queuestore.MemoryStore
	down atomic.Bool
}

func (s *downableStore) err() error {
	if s.down.Load() {
		return queuestore.ErrUnavailable
	}
	return nil
}

func (s *downableStore) Push(ctx context.Context, env *models.Envelope) error {
	if err := s.err(); err != nil {
		return err
	}
	return s.MemoryStore.Push(ctx, env)
}

func (s *downableStore) Pop(ctx context.Context, tenantID string, tier queuestore.Tier) (*models.Envelope, error) {
	if err := s.err(); err != nil {
		return nil, err
	}
	return s.MemoryStore.Pop(ctx, tenantID, tier)
}

func (s *downableStore) Len(ctx context.Context, tenantID string, tier queuestore.Tier) (int, error) {
	if err := s.err(); err != nil {
		return 0, err
	}
	return s.MemoryStore.Len(ctx, tenantID, tier)
}

func (s *downableStore) List(ctx context.Context, tenantID string, tier queuestore.Tier, limit int) ([]*models.Envelope, error) {
	if err := s.err(); err != nil {
		return nil, err
	}
	return s.MemoryStore.List(ctx, tenantID, tier, limit)
}

func (s *downableStore) Remove(ctx context.Context, tenantID, messageID string) (*models.Envelope, error) {
	if err := s.err(); err != nil {
		return nil, err
	}
	return s.MemoryStore.Remove(ctx, tenantID, messageID)
}

func (s *downableStore) Clear(ctx context.Context, tenantID string) (int, error) {
	if err := s.err(); err != nil {
		return 0, err
	}
	return s.MemoryStore.Clear(ctx, tenantID)
}

func (s *downableStore) Get(ctx context.Context, key string) (string, error) {
	if err := s.err(); err != nil {
		return "", err
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *downableStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.err(); err != nil {
		return err
	}
	return s.MemoryStore.Set(ctx, key, value, ttl)
}

func (s *downableStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := s.err(); err != nil {
		return false, err
	}
	return s.MemoryStore.SetNX(ctx, key, value, ttl)
}

func (s *downableStore) IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := s.err(); err != nil {
		return 0, err
	}
	return s.MemoryStore.IncrWithExpire(ctx, key, ttl)
}

func (s *downableStore) Decr(ctx context.Context, key string) error {
	if err := s.err(); err != nil {
		return err
	}
	return s.MemoryStore.Decr(ctx, key)
}

func (s *downableStore) Delete(ctx context.Context, keys ...string) error {
	if err := s.err(); err != nil {
		return err
	}
	return s.MemoryStore.Delete(ctx, keys...)
}

func (s *downableStore) Ping(ctx context.Context) error {
	return s.err()
}

func (s *downableStore) Name() string { return "redis" }

func TestStoreFailureFallsBackTransparently(t *testing.T) {
	primary := &downableStore{MemoryStore: queuestore.NewMemoryStore(0)}
	fallback := queuestore.NewMemoryStore(0)
	t.Cleanup(primary.Close)
	t.Cleanup(fallback.Close)

	sup := queuestore.NewSupervisor(primary, fallback, queuestore.SupervisorConfig{FallbackOnError: true}, logger.NopLogger())
	h := newHarness(t, testConfig(), sup)
	ctx := context.Background()

	before, err := h.m.Enqueue(ctx, message("905550000001", "before outage"))
	require.NoError(t, err)
	h.waitForStatus(t, before.MessageID, models.StatusSent)

	primary.down.Store(true)

	after, err := h.m.Enqueue(ctx, message("905550000002", "during outage"))
	require.NoError(t, err, "store failure never reaches the caller")
	assert.True(t, after.Accepted)
	assert.True(t, sup.OnFallback())

	h.waitForStatus(t, after.MessageID, models.StatusSent)

	status, err := h.m.Status(ctx, "school-1")
	require.NoError(t, err)
	assert.Equal(t, "memory", status.Backend)
}

func TestShutdownStopsWorkers(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.m.Pause("school-1")

	_, err := h.m.Enqueue(context.Background(), message("905550000001", "hello"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.m.Shutdown(ctx))

	_, err = h.m.Enqueue(context.Background(), message("905550000002", "late"))
	assert.Error(t, err)

	n, err := h.store.Len(context.Background(), "school-1", queuestore.TierRegular)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "queued work survives shutdown")
}

func TestCleanupRemovesIdleWorkers(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	res, err := h.m.Enqueue(context.Background(), message("905550000001", "hello"))
	require.NoError(t, err)
	h.waitForStatus(t, res.MessageID, models.StatusSent)

	require.Eventually(t, func() bool {
		return !h.m.lookup("school-1").snapshot().running
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, h.m.Cleanup(context.Background()), "recent activity keeps the worker")

	h.clock.After(10 * time.Minute)
	assert.Equal(t, 1, h.m.Cleanup(context.Background()))
	assert.Nil(t, h.m.lookup("school-1"))
}

func TestWindowClosingDuringPausePostpones(t *testing.T) {
	cfg := testConfig()
	cfg.Behavior.DefaultPattern = "conservative"
	cfg.BusinessHours.Global = models.BusinessHours{
		Enabled:  true,
		Start:    "09:00",
		End:      "17:00",
		Timezone: "UTC",
	}
	h := newHarness(t, cfg, nil)
	h.clock.now = time.Date(2026, 3, 2, 16, 59, 45, 0, time.UTC)

	res, err := h.m.Enqueue(context.Background(), message("905550000001", "closing time"))
	require.NoError(t, err)

	h.waitForStatus(t, res.MessageID, models.StatusSent)

	sent := h.adapter.Sent()
	require.Len(t, sent, 1)
	assert.False(t, sent[0].At.Before(time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)),
		"dispatched at %s, after the window closed", sent[0].At)
	assert.Contains(t, h.events.Reasons(models.StatusPostponed), reasonOutsideBusinessHours)
}

// stallingAdapter never answers; only the dispatch timeout ends a send.
type stallingAdapter struct {
	calls atomic.Int32
}

func (a *stallingAdapter) Send(ctx context.Context, _, _, _ string) (channel.Result, error) {
	a.calls.Add(1)
	<-ctx.Done()
	return channel.Result{Error: ctx.Err().Error()}, ctx.Err()
}

func (a *stallingAdapter) CheckHealth(context.Context, string) bool { return true }

func TestDispatchTimeoutCountsAsFailedAttempt(t *testing.T) {
	cfg := testConfig()
	cfg.Delivery.MaxAttempts = 2
	cfg.Delivery.DispatchTimeout = 20 * time.Millisecond
	cfg.Behavior.DefaultPattern = "aggressive"
	h := newHarness(t, cfg, nil)
	stalling := &stallingAdapter{}
	h.m.adapter = stalling

	res, err := h.m.Enqueue(context.Background(), message("905550000001", "hello"))
	require.NoError(t, err)

	rec := h.waitForStatus(t, res.MessageID, models.StatusFailed)
	assert.Equal(t, 2, rec.Attempts)
	assert.Contains(t, rec.Reason, context.DeadlineExceeded.Error())
	assert.EqualValues(t, 2, stalling.calls.Load())
	assert.Len(t, h.events.Reasons(models.StatusRetrying), 1)
}

func TestCriticalBurstCoolsDownBeforeDispatch(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.m.Pause("school-1")

	start := h.clock.Now()
	w := h.m.lookup("school-1")
	require.NotNil(t, w)
	for i := 16; i > 0; i-- {
		w.history.Add(start.Add(-time.Duration(i) * 5 * time.Second))
	}

	res, err := h.m.Enqueue(context.Background(), message("905550000001", "after the burst"))
	require.NoError(t, err)
	h.m.Resume("school-1")

	h.waitForStatus(t, res.MessageID, models.StatusSent)

	sent := h.adapter.Sent()
	require.Len(t, sent, 1)
	assert.GreaterOrEqual(t, sent[0].At.Sub(start), 10*time.Minute)
}

func TestFailedPushReleasesDuplicateRecord(t *testing.T) {
	mem := queuestore.NewMemoryStore(0)
	t.Cleanup(mem.Close)

	first := newHarness(t, testConfig(), mem)
	require.NoError(t, first.m.Shutdown(context.Background()))

	_, err := first.m.Enqueue(context.Background(), message("905550000001", "Your fee is due"))
	require.Error(t, err)

	second := newHarness(t, testConfig(), mem)
	res, err := second.m.Enqueue(context.Background(), message("905550000001", "Your fee is due"))
	require.NoError(t, err)
	assert.True(t, res.Accepted, "rejected with %q", res.Reason)
}

func TestEnqueueBulkReportsMissingRecipient(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.m.Pause("school-1")

	batch := []*models.Envelope{
		message("", "nobody"),
		message("905550000001", "someone"),
	}

	var results []EnqueueResult
	require.NotPanics(t, func() {
		var err error
		results, err = h.m.EnqueueBulk(context.Background(), "school-1", batch)
		require.NoError(t, err)
	})
	require.Len(t, results, 2)
	assert.Equal(t, "validation_failed", results[0].Reason)
	assert.True(t, results[1].Accepted)
	assert.Equal(t, 1, batch[1].Behavior.BatchSize)
}
