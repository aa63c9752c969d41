package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"herald/internal/broker"
	"herald/internal/config"
	"herald/internal/logger"
)

// Base holds what every herald process shares: config, logger and the
// optional Kafka clients.
type Base struct {
	Config   *config.Config
	Logger   logger.Logger
	Producer broker.Producer
	Consumer broker.Consumer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// BrokerEnabled is false when broker.type is empty; submissions then only
// arrive over HTTP and status events are not published.
func (b *Base) BrokerEnabled() bool {
	return b.Config.Broker.Type != ""
}

func (b *Base) InitBroker(consumerName string) error {
	if !b.BrokerEnabled() {
		b.Logger.Info("Broker disabled, skipping Kafka clients")
		return nil
	}

	producer, err := broker.NewProducer(b.Config.Broker, b.Logger)
	if err != nil {
		return fmt.Errorf("create producer: %w", err)
	}
	consumer, err := broker.NewConsumer(b.Config.Broker, b.Logger)
	if err != nil {
		_ = producer.Close()
		return fmt.Errorf("create consumer: %w", err)
	}
	consumer.SetServiceName(consumerName)

	b.Producer, b.Consumer = producer, consumer
	return nil
}

// Shutdown runs hook first so in-flight work can still publish, then closes
// the broker clients. All errors are joined.
func (b *Base) Shutdown(ctx context.Context, hook func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down")

	var errs []error
	if hook != nil {
		errs = append(errs, hook(ctx)...)
	}
	if b.Consumer != nil {
		if err := b.Consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close consumer: %w", err))
		}
	}
	if b.Producer != nil {
		if err := b.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close producer: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	b.Logger.Info("Shutdown complete")
	return nil
}
