package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"herald/internal/config"
	"herald/internal/constants"
	"herald/pkg/metrics"
	"herald/pkg/tracing"
)

const kafkaGatewayService = "channel-kafka"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OutboundMessage is what the Kafka gateway hands to the sending bridge.
type OutboundMessage struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Recipient string    `json:"recipient"`
	Content   string    `json:"content"`
	Typing    int64     `json:"typing_ms,omitempty"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// KafkaGateway publishes outbound messages to a topic consumed by a separate
// bridge process. Success means the broker acknowledged the write.
type KafkaGateway struct {
	writer  messageWriter
	topic   string
	brokers []string
	dial    func(ctx context.Context, network, address string) (net.Conn, error)
}

func NewKafkaGateway(cfg config.KafkaChannelConfig) *KafkaGateway {
	topic := cfg.Topic
	if topic == "" {
		topic = constants.DefaultSendTopic
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		RequiredAcks: kafka.RequireAll,
	}

	dialer := &kafka.Dialer{Timeout: 5 * time.Second}
	return &KafkaGateway{
		writer:  w,
		topic:   topic,
		brokers: cfg.Brokers,
		dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, address)
		},
	}
}

func (g *KafkaGateway) Send(ctx context.Context, tenantID, recipient, content string) (Result, error) {
	msg := OutboundMessage{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Recipient: recipient,
		Content:   content,
		Kind:      "message",
		CreatedAt: time.Now().UTC(),
	}
	if err := g.publish(ctx, msg); err != nil {
		return Result{Error: err.Error()}, err
	}
	return Result{Success: true, ProviderMessageID: msg.ID}, nil
}

func (g *KafkaGateway) SendTyping(ctx context.Context, tenantID, recipient string, duration time.Duration) error {
	return g.publish(ctx, OutboundMessage{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Recipient: recipient,
		Typing:    duration.Milliseconds(),
		Kind:      "typing",
		CreatedAt: time.Now().UTC(),
	})
}

// CheckHealth reports whether any broker accepts a connection; the bridge owns tenant sessions.
func (g *KafkaGateway) CheckHealth(ctx context.Context, _ string) bool {
	return g.Ping(ctx) == nil
}

func (g *KafkaGateway) Ping(ctx context.Context) error {
	var lastErr error
	for _, broker := range g.brokers {
		conn, err := g.dial(ctx, "tcp", broker)
		if err == nil {
			conn.Close()
			return nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no kafka brokers configured")
	}
	return lastErr
}

func (g *KafkaGateway) Close() error {
	return g.writer.Close()
}

func (g *KafkaGateway) publish(ctx context.Context, msg OutboundMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal outbound message: %w", err)
	}

	start := time.Now()
	err = g.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(msg.TenantID),
		Value:   body,
		Headers: tracing.InjectTraceContext(ctx, nil),
		Time:    msg.CreatedAt,
	})
	metrics.ObserveKafkaWriteDuration(kafkaGatewayService, g.topic, time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to write outbound message: %w", err)
	}

	metrics.IncKafkaMessagesWritten(kafkaGatewayService, g.topic)
	metrics.ObserveKafkaMessageSize(kafkaGatewayService, g.topic, "out", len(body))
	return nil
}
