package queuestore

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"herald/internal/constants"
	"herald/pkg/models"
)

type memoryItem struct {
	value     string
	expiresAt time.Time
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// MemoryStore is the in-process backend. One mutex guards queues and keys so
// push and pop are atomic with respect to each other.
type MemoryStore struct {
	mu     sync.Mutex
	queues map[string][]*models.Envelope
	items  map[string]memoryItem
	now    func() time.Time

	stop chan struct{}
	once sync.Once
}

// NewMemoryStore starts a janitor that evicts expired keys every janitorInterval.
// A non-positive interval disables the janitor; expired keys are still hidden on read.
func NewMemoryStore(janitorInterval time.Duration) *MemoryStore {
	m := &MemoryStore{
		queues: make(map[string][]*models.Envelope),
		items:  make(map[string]memoryItem),
		now:    time.Now,
		stop:   make(chan struct{}),
	}

	if janitorInterval > 0 {
		go m.janitor(janitorInterval)
	}
	return m
}

// WithClock replaces the time source used for key expiry.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

func (m *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.deleteExpired()
		case <-m.stop:
			return
		}
	}
}

func (m *MemoryStore) deleteExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, item := range m.items {
		if item.expired(now) {
			delete(m.items, key)
		}
	}
}

func (m *MemoryStore) Close() {
	m.once.Do(func() { close(m.stop) })
}

func (m *MemoryStore) Name() string {
	return constants.BackendMemory
}

func (m *MemoryStore) Push(_ context.Context, env *models.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := QueueKey(TierFor(env), env.TenantID)
	m.queues[key] = append(m.queues[key], env.Clone())
	return nil
}

func (m *MemoryStore) Pop(_ context.Context, tenantID string, tier Tier) (*models.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := QueueKey(tier, tenantID)
	q := m.queues[key]
	if len(q) == 0 {
		return nil, ErrEmpty
	}

	env := q[0]
	q[0] = nil
	if len(q) == 1 {
		delete(m.queues, key)
	} else {
		m.queues[key] = q[1:]
	}
	return env, nil
}

func (m *MemoryStore) Len(_ context.Context, tenantID string, tier Tier) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[QueueKey(tier, tenantID)]), nil
}

func (m *MemoryStore) List(_ context.Context, tenantID string, tier Tier, limit int) ([]*models.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[QueueKey(tier, tenantID)]
	if limit <= 0 || limit > len(q) {
		limit = len(q)
	}

	out := make([]*models.Envelope, 0, limit)
	for _, env := range q[:limit] {
		out = append(out, env.Clone())
	}
	return out, nil
}

func (m *MemoryStore) Remove(_ context.Context, tenantID, messageID string) (*models.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tier := range Tiers {
		key := QueueKey(tier, tenantID)
		q := m.queues[key]
		for i, env := range q {
			if env.ID != messageID {
				continue
			}
			rest := append(q[:i:i], q[i+1:]...)
			if len(rest) == 0 {
				delete(m.queues, key)
			} else {
				m.queues[key] = rest
			}
			return env, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Clear(_ context.Context, tenantID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, tier := range Tiers {
		key := QueueKey(tier, tenantID)
		total += len(m.queues[key])
		delete(m.queues, key)
	}
	return total, nil
}

// Tenants returns every tenant with at least one queued envelope, sorted.
func (m *MemoryStore) Tenants() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{})
	for key, q := range m.queues {
		if len(q) == 0 {
			continue
		}
		// queue:<tier>:<tenant>
		parts := strings.SplitN(strings.TrimPrefix(key, constants.KeyPrefixQueue), ":", 2)
		if len(parts) == 2 {
			seen[parts[1]] = struct{}{}
		}
	}

	tenants := make([]string, 0, len(seen))
	for t := range seen {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)
	return tenants
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[key]
	if !ok || item.expired(m.now()) {
		return "", ErrNotFound
	}
	return item.value, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key] = memoryItem{value: value, expiresAt: m.expiry(ttl)}
	return nil
}

func (m *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if item, ok := m.items[key]; ok && !item.expired(m.now()) {
		return false, nil
	}
	m.items[key] = memoryItem{value: value, expiresAt: m.expiry(ttl)}
	return true, nil
}

func (m *MemoryStore) IncrWithExpire(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	if item, ok := m.items[key]; ok && !item.expired(m.now()) {
		parsed, err := strconv.ParseInt(item.value, 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	}
	n++

	expiresAt := m.expiry(ttl)
	m.items[key] = memoryItem{value: strconv.FormatInt(n, 10), expiresAt: expiresAt}
	return n, nil
}

func (m *MemoryStore) Decr(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[key]
	if !ok || item.expired(m.now()) {
		return nil
	}
	n, err := strconv.ParseInt(item.value, 10, 64)
	if err != nil {
		return err
	}
	item.value = strconv.FormatInt(n-1, 10)
	m.items[key] = item
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.items, key)
	}
	return nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func (m *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}
