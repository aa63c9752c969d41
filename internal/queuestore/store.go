package queuestore

import (
	"context"
	"errors"
	"time"

	"herald/internal/constants"
	"herald/pkg/models"
)

var (
	ErrEmpty       = errors.New("queue is empty")
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("queue store unavailable")
)

type Tier string

const (
	TierPriority Tier = constants.TierPriority
	TierRegular  Tier = constants.TierRegular
)

// Tiers lists the queue tiers in drain order.
var Tiers = []Tier{TierPriority, TierRegular}

func TierFor(env *models.Envelope) Tier {
	if env.IsHighPriority() {
		return TierPriority
	}
	return TierRegular
}

// Store is the persistence contract shared by every backend: per-tenant FIFO
// queues in two tiers plus a small key-value space with TTLs.
type Store interface {
	// Push appends env to the tail of its tier's queue.
	Push(ctx context.Context, env *models.Envelope) error
	// Pop removes the head of a tier's queue, or returns ErrEmpty.
	Pop(ctx context.Context, tenantID string, tier Tier) (*models.Envelope, error)
	Len(ctx context.Context, tenantID string, tier Tier) (int, error)
	// List returns up to limit entries from the head without removing them. limit <= 0 means all.
	List(ctx context.Context, tenantID string, tier Tier, limit int) ([]*models.Envelope, error)
	// Remove deletes the queued envelope with messageID from either tier, or returns ErrNotFound.
	Remove(ctx context.Context, tenantID, messageID string) (*models.Envelope, error)
	// Clear empties both tiers and returns how many entries were dropped.
	Clear(ctx context.Context, tenantID string) (int, error)

	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// IncrWithExpire increments key and (re)sets its TTL, returning the new value.
	IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Decr decrements a live counter without touching its TTL. A missing or
	// expired key is left alone.
	Decr(ctx context.Context, key string) error
	Delete(ctx context.Context, keys ...string) error

	Ping(ctx context.Context) error
	Name() string
}
