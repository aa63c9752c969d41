package broker

import (
	"fmt"

	"herald/internal/config"
	"herald/internal/logger"
)

// TypeKafka is the only broker.type herald ships with.
const TypeKafka = "kafka"

func NewProducer(cfg config.BrokerConfig, log logger.Logger) (Producer, error) {
	if cfg.Type != TypeKafka {
		return nil, unsupported(cfg.Type)
	}
	return NewKafkaProducer(cfg.Kafka, log.Named("producer")), nil
}

func NewConsumer(cfg config.BrokerConfig, log logger.Logger) (Consumer, error) {
	if cfg.Type != TypeKafka {
		return nil, unsupported(cfg.Type)
	}
	return NewKafkaConsumer(cfg.Kafka, log.Named("consumer")), nil
}

func unsupported(kind string) error {
	return fmt.Errorf("unsupported broker type %q", kind)
}
