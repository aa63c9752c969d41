package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/config"
	"herald/internal/logger"
	"herald/pkg/models"
	"herald/pkg/retry"
)

type recordingWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

type fakeReader struct {
	messages  chan kafka.Message
	mu        sync.Mutex
	committed []kafka.Message
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{messages: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.messages <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.messages:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func (r *fakeReader) Close() error { return nil }

type recordingProducer struct {
	mu        sync.Mutex
	published []published
}

type published struct {
	topic   string
	key     string
	payload interface{}
}

func (p *recordingProducer) Publish(_ context.Context, topic, key string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, published{topic: topic, key: key, payload: payload})
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func (p *recordingProducer) snapshot() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.published...)
}

func submission(t *testing.T, req models.SubmitRequest) kafka.Message {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return kafka.Message{Topic: "message_submissions", Value: body}
}

func testConsumer(cfg config.KafkaConfig, reader *fakeReader) *KafkaConsumer {
	cfg.Retry = config.RetryConfig{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1}
	c := NewKafkaConsumer(cfg, logger.NopLogger())
	c.newReader = func(string) messageReader { return reader }
	c.SetServiceName("test")
	return c
}

func TestKafkaProducerPublish(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaProducer{writer: w, logger: logger.NopLogger(), serviceName: "test"}

	event := models.StatusEvent{MessageID: "m1", TenantID: "t1", Status: models.StatusSent}
	require.NoError(t, NewStatusProducer(p, "message_status").PublishStatus(context.Background(), event))

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "message_status", msg.Topic)
	assert.Equal(t, "m1", string(msg.Key))

	var decoded models.StatusEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, models.StatusSent, decoded.Status)
}

func TestKafkaProducerWriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	p := &KafkaProducer{writer: w, logger: logger.NopLogger(), serviceName: "test"}

	err := p.Publish(context.Background(), "topic", "k", map[string]string{"a": "b"})
	assert.Error(t, err)
}

func TestKafkaConsumerHandlesAndCommits(t *testing.T) {
	reader := newFakeReader(
		submission(t, models.SubmitRequest{TenantID: "t1", Recipient: "r1", Content: "hi"}),
		kafka.Message{Value: []byte("{not json")},
		submission(t, models.SubmitRequest{TenantID: "t1", Recipient: "r2", Content: "hello"}),
	)
	c := testConsumer(config.KafkaConfig{}, reader)

	var mu sync.Mutex
	var seen []string
	handler := func(_ context.Context, req models.SubmitRequest) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, req.Recipient)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Consume(ctx, "message_submissions", handler) }()

	require.Eventually(t, func() bool { return reader.commits() == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	require.NoError(t, c.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"r1", "r2"}, seen)
}

func TestKafkaConsumerRetriesThenDeadLetters(t *testing.T) {
	reader := newFakeReader(submission(t, models.SubmitRequest{TenantID: "t1", Recipient: "r1", Content: "hi"}))
	c := testConsumer(config.KafkaConfig{DLQTopic: "message_submissions_dlq"}, reader)
	dlq := &recordingProducer{}
	c.dlqProducer = dlq

	var mu sync.Mutex
	calls := 0
	handler := func(context.Context, models.SubmitRequest) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return errors.New("store unavailable")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Consume(ctx, "message_submissions", handler) }()

	require.Eventually(t, func() bool { return reader.commits() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, c.Close())

	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()

	letters := dlq.snapshot()
	require.Len(t, letters, 1)
	assert.Equal(t, "message_submissions_dlq", letters[0].topic)
	letter, ok := letters[0].payload.(DeadLetter)
	require.True(t, ok)
	assert.Equal(t, "r1", letter.Request.Recipient)
	assert.Equal(t, "message_submissions", letter.SourceTopic)
	assert.Contains(t, letter.Reason, "store unavailable")
}

func TestKafkaConsumerFatalErrorSkipsRetries(t *testing.T) {
	reader := newFakeReader(submission(t, models.SubmitRequest{TenantID: "t1", Recipient: "r1", Content: "hi"}))
	c := testConsumer(config.KafkaConfig{}, reader)

	var mu sync.Mutex
	calls := 0
	handler := func(context.Context, models.SubmitRequest) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return retry.NewFatalError(errors.New("invalid"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Consume(ctx, "message_submissions", handler) }()

	require.Eventually(t, func() bool { return reader.commits() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, c.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestKafkaConsumerRecoversHandlerPanic(t *testing.T) {
	reader := newFakeReader(submission(t, models.SubmitRequest{TenantID: "t1", Recipient: "r1", Content: "hi"}))
	c := testConsumer(config.KafkaConfig{}, reader)

	handler := func(context.Context, models.SubmitRequest) error {
		panic("boom")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Consume(ctx, "message_submissions", handler) }()

	require.Eventually(t, func() bool { return reader.commits() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, c.Close())
}

func TestNewProducerUnknownType(t *testing.T) {
	_, err := NewProducer(config.BrokerConfig{Type: "nats"}, logger.NopLogger())
	assert.Error(t, err)

	_, err = NewConsumer(config.BrokerConfig{Type: ""}, logger.NopLogger())
	assert.Error(t, err)
}
