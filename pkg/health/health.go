package health

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const checkTimeout = 5 * time.Second

type Checker interface {
	Check(ctx context.Context) error
	Name() string
}

// DegradationReporter is implemented by checkers that can be up but running in a reduced mode.
type DegradationReporter interface {
	Degraded() (bool, string)
}

type Health struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type CheckerRegistry struct {
	checkers []Checker
}

func NewCheckerRegistry() *CheckerRegistry {
	return &CheckerRegistry{}
}

func (r *CheckerRegistry) Register(checker Checker) {
	r.checkers = append(r.checkers, checker)
}

// Check runs every checker concurrently. Any failure makes the whole service
// unhealthy; a degraded checker only downgrades it.
func (r *CheckerRegistry) Check(ctx context.Context) Health {
	results := make(map[string]CheckResult, len(r.checkers))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, checker := range r.checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			res := runCheck(ctx, c)
			mu.Lock()
			results[c.Name()] = res
			mu.Unlock()
		}(checker)
	}
	wg.Wait()

	overall := StatusHealthy
	for _, res := range results {
		switch res.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}

	return Health{
		Status:    overall,
		Timestamp: time.Now(),
		Checks:    results,
	}
}

func runCheck(ctx context.Context, c Checker) CheckResult {
	res := CheckResult{Status: StatusHealthy}
	if err := c.Check(ctx); err != nil {
		res.Status = StatusUnhealthy
		res.Message = err.Error()
	} else if dr, ok := c.(DegradationReporter); ok {
		if degraded, msg := dr.Degraded(); degraded {
			res.Status = StatusDegraded
			res.Message = msg
		}
	}
	res.Timestamp = time.Now()
	return res
}

// Pinger is anything that can report liveness, such as a queue store or channel adapter.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

type PingChecker struct {
	name   string
	target Pinger
}

func NewPingChecker(name string, target Pinger) *PingChecker {
	return &PingChecker{name: name, target: target}
}

func NewPostgreSQLChecker(db *sql.DB) *PingChecker {
	return NewPingChecker("postgresql", PingFunc(db.PingContext))
}

func NewRedisChecker(client *redis.Client) *PingChecker {
	return NewPingChecker("redis", PingFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}))
}

func NewMongoDBChecker(client *mongo.Client) *PingChecker {
	return NewPingChecker("mongodb", PingFunc(func(ctx context.Context) error {
		return client.Ping(ctx, nil)
	}))
}

func (c *PingChecker) Name() string {
	return c.name
}

func (c *PingChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := c.target.Ping(ctx); err != nil {
		return fmt.Errorf("%s ping failed: %w", c.name, err)
	}
	return nil
}

func (c *PingChecker) Degraded() (bool, string) {
	if dr, ok := c.target.(DegradationReporter); ok {
		return dr.Degraded()
	}
	return false, ""
}
