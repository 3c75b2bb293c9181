package kafka

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LexExtract/internal/testutil"
	"github.com/turtacn/LexExtract/pkg/errors"
)

// mockKafkaWriter records written messages.
type mockKafkaWriter struct {
	mu        sync.Mutex
	written   []kafka.Message
	writeFunc func(ctx context.Context, msgs ...kafka.Message) error
	closeFunc func() error
}

func (m *mockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if m.writeFunc != nil {
		if err := m.writeFunc(ctx, msgs...); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.written = append(m.written, msgs...)
	m.mu.Unlock()
	return nil
}

func (m *mockKafkaWriter) Close() error {
	if m.closeFunc != nil {
		return m.closeFunc()
	}
	return nil
}

func (m *mockKafkaWriter) Stats() kafka.WriterStats { return kafka.WriterStats{} }

func (m *mockKafkaWriter) messages() []kafka.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]kafka.Message(nil), m.written...)
}

func headerMap(m kafka.Message) map[string]string {
	out := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		out[h.Key] = string(h.Value)
	}
	return out
}

func newTestProducer(w WriterInterface) *Producer {
	return &Producer{
		writer:  w,
		config:  ProducerConfig{Brokers: []string{"localhost:9092"}, MaxMessageBytes: 64},
		logger:  testutil.NewMockLogger(),
		metrics: &ProducerMetrics{},
	}
}

func TestValidateProducerConfig(t *testing.T) {
	assert.NoError(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"b:9092"}}))
	assert.Error(t, ValidateProducerConfig(ProducerConfig{}))
	assert.Error(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"b:9092"}, MaxRetries: -1}))
	assert.Error(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"b:9092"}, Acks: "most"}))

	err := ValidateProducerConfig(ProducerConfig{
		Brokers:  []string{"b:9092"},
		Security: SecurityConfig{SASLMechanism: "PLAIN"},
	})
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestNewProducer_BuildsWriter(t *testing.T) {
	p, err := NewProducer(ProducerConfig{
		Brokers:     []string{"b1:9092", "b2:9092"},
		Compression: "zstd",
		Security:    SecurityConfig{SASLMechanism: "SCRAM-SHA-512", SASLUsername: "u", SASLPassword: "p"},
	}, testutil.NewMockLogger())
	require.NoError(t, err)
	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, 4, w.MaxAttempts)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
	assert.Equal(t, kafka.Zstd, w.Compression)
	assert.Equal(t, 1<<20, p.config.MaxMessageBytes)
	require.NoError(t, p.Close())
}

func TestPublish_Success(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)

	err := p.Publish(context.Background(), &ProducerMessage{
		Topic:   "extraction.results",
		Key:     []byte("req-1"),
		Value:   []byte(`{"request_id":"req-1"}`),
		Headers: map[string]string{HeaderRequestID: "req-1"},
	})
	require.NoError(t, err)

	msgs := w.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "extraction.results", msgs[0].Topic)
	assert.Equal(t, "req-1", string(msgs[0].Key))
	assert.Equal(t, "req-1", headerMap(msgs[0])[HeaderRequestID])
	assert.False(t, msgs[0].Time.IsZero())

	m := p.GetMetrics()
	assert.Equal(t, int64(1), m.MessagesSent.Load())
	assert.Equal(t, int64(len(`{"request_id":"req-1"}`)), m.BytesSent.Load())
}

func TestPublish_Rejects(t *testing.T) {
	p := newTestProducer(&mockKafkaWriter{})
	ctx := context.Background()

	assert.Error(t, p.Publish(ctx, &ProducerMessage{Value: []byte("v")}))
	assert.Error(t, p.Publish(ctx, &ProducerMessage{Topic: "t"}))
	err := p.Publish(ctx, &ProducerMessage{Topic: "t", Value: make([]byte, 65)})
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestPublish_WriteFailure(t *testing.T) {
	boom := stderrors.New("leader not available")
	p := newTestProducer(&mockKafkaWriter{
		writeFunc: func(context.Context, ...kafka.Message) error { return boom },
	})
	err := p.Publish(context.Background(), &ProducerMessage{Topic: "t", Value: []byte("v")})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, errors.IsCode(err, errors.ErrCodeMessageQueue))
	assert.Equal(t, int64(1), p.GetMetrics().MessagesFailed.Load())
}

func TestProducerClose(t *testing.T) {
	closes := 0
	p := newTestProducer(&mockKafkaWriter{closeFunc: func() error { closes++; return nil }})
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, closes)

	err := p.Publish(context.Background(), &ProducerMessage{Topic: "t", Value: []byte("v")})
	assert.ErrorIs(t, err, ErrProducerClosed)
}
