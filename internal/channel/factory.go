package channel

import (
	"fmt"

	"herald/internal/config"
	"herald/internal/constants"
	"herald/pkg/circuitbreaker"
)

// NewAdapter builds the configured gateway, wrapped in a circuit breaker when enabled.
func NewAdapter(cfg config.ChannelConfig, cbCfg config.CircuitBreakerConfig) (Adapter, error) {
	var adapter Adapter
	switch cfg.Type {
	case constants.ChannelHTTP:
		adapter = NewHTTPGateway(cfg.HTTP)
	case constants.ChannelKafka:
		adapter = NewKafkaGateway(cfg.Kafka)
	default:
		return nil, fmt.Errorf("unknown channel type: %s", cfg.Type)
	}

	if !cbCfg.Enabled {
		return adapter, nil
	}
	return NewCircuitBreakerAdapter(adapter, "channel-"+cfg.Type, BreakerConfig("channel-"+cfg.Type, cbCfg)), nil
}

// BreakerConfig maps the shared circuit breaker settings onto a named breaker.
func BreakerConfig(name string, cfg config.CircuitBreakerConfig) circuitbreaker.Config {
	cbConfig := circuitbreaker.DefaultConfig(name)
	if cfg.MaxRequests > 0 {
		cbConfig.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cbConfig.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cbConfig.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		cbConfig.ReadyToTrip = circuitbreaker.RatioTrip(cfg.MinRequests, cfg.FailureRatio)
	}
	return cbConfig
}
