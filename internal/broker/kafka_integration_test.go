package broker

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"

	"herald/internal/config"
	"herald/internal/logger"
	"herald/pkg/models"
)

func setupKafka(t *testing.T, topics ...string) []string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping kafka container test in short mode")
	}

	ctx := context.Background()
	container, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0",
		kafkamodule.WithClusterID("herald-test"),
	)
	if err != nil {
		t.Fatalf("failed to start kafka container: %v", err)
	}
	t.Cleanup(func() {
		container.Terminate(ctx)
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	var configs []kafka.TopicConfig
	for _, topic := range topics {
		configs = append(configs, kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})
	}
	require.NoError(t, ctrl.CreateTopics(configs...))

	return brokers
}

func TestKafkaRoundTrip(t *testing.T) {
	brokers := setupKafka(t, "submissions_it")

	cfg := config.KafkaConfig{Brokers: brokers, GroupID: "herald-it"}
	producer := NewKafkaProducer(cfg, logger.NopLogger())
	defer producer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	req := models.SubmitRequest{TenantID: "t1", Recipient: "+15550001", Content: "hello"}
	require.NoError(t, producer.Publish(ctx, "submissions_it", req.TenantID, req))

	consumer := NewKafkaConsumer(cfg, logger.NopLogger())
	defer consumer.Close()

	var mu sync.Mutex
	var got []models.SubmitRequest
	consumeCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- consumer.Consume(consumeCtx, "submissions_it", func(_ context.Context, r models.SubmitRequest) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, r)
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 45*time.Second, 100*time.Millisecond)
	stop()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, req, got[0])
}
