package channel

import (
	"context"
	"fmt"
	"io"
	"time"

	"herald/pkg/circuitbreaker"
	"herald/pkg/health"
)

// CircuitBreakerAdapter stops hammering a gateway that keeps failing.
type CircuitBreakerAdapter struct {
	adapter Adapter
	cb      *circuitbreaker.Wrapper
	name    string
}

func NewCircuitBreakerAdapter(adapter Adapter, name string, cfg circuitbreaker.Config) *CircuitBreakerAdapter {
	return &CircuitBreakerAdapter{
		adapter: adapter,
		cb:      circuitbreaker.NewWrapper(cfg),
		name:    name,
	}
}

func (a *CircuitBreakerAdapter) Send(ctx context.Context, tenantID, recipient, content string) (Result, error) {
	res, err := a.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		r, err := a.adapter.Send(ctx, tenantID, recipient, content)
		return r, err
	})
	if err != nil {
		if circuitbreaker.IsRejected(err) {
			err = fmt.Errorf("circuit breaker is open for %s: %w", a.name, err)
		}
		return Result{Error: err.Error()}, err
	}

	result, ok := res.(Result)
	if !ok {
		return Result{Error: "adapter returned invalid result type"}, fmt.Errorf("adapter returned invalid result type")
	}
	return result, nil
}

// SendTyping bypasses the breaker; a lost indicator never fails a dispatch.
func (a *CircuitBreakerAdapter) SendTyping(ctx context.Context, tenantID, recipient string, duration time.Duration) error {
	if tn, ok := a.adapter.(TypingNotifier); ok {
		return tn.SendTyping(ctx, tenantID, recipient, duration)
	}
	return nil
}

func (a *CircuitBreakerAdapter) CheckHealth(ctx context.Context, tenantID string) bool {
	if a.cb.IsOpen() {
		return false
	}
	return a.adapter.CheckHealth(ctx, tenantID)
}

func (a *CircuitBreakerAdapter) Ping(ctx context.Context) error {
	if p, ok := a.adapter.(health.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (a *CircuitBreakerAdapter) Close() error {
	if c, ok := a.adapter.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (a *CircuitBreakerAdapter) State() string {
	return a.cb.State().String()
}

func (a *CircuitBreakerAdapter) IsOpen() bool {
	return a.cb.IsOpen()
}
