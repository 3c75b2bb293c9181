package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LexExtract/internal/config"
	"github.com/turtacn/LexExtract/internal/intelligence/batching"
	"github.com/turtacn/LexExtract/internal/intelligence/common"
	"github.com/turtacn/LexExtract/internal/testutil"
	"github.com/turtacn/LexExtract/pkg/errors"
)

func testWorkerConfig(t *testing.T) *config.Config {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results": []}`))
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Backend.Endpoint = srv.URL
	cfg.Kafka.Brokers = []string{"127.0.0.1:1"}
	cfg.Cache.Enabled = true
	return cfg
}

func gatheredNames(t *testing.T, reg *promclient.Registry) map[string]bool {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestNewWorker_RegistersPipelineMetrics(t *testing.T) {
	reg := promclient.NewRegistry()
	w, err := newWorker(testWorkerConfig(t), testutil.NewMockLogger(), reg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.shutdown(ctx)
	})

	names := gatheredNames(t, reg)
	for _, want := range []string{
		"lexextract_kafka_messages_consumed_total",
		"lexextract_kafka_messages_dead_lettered_total",
		"lexextract_kafka_results_published_total",
		"lexextract_scheduler_in_flight_requests",
	} {
		assert.True(t, names[want], want)
	}
	assert.Nil(t, w.redis)
}

func TestNewWorker_RequiresBackendEndpoint(t *testing.T) {
	cfg := testWorkerConfig(t)
	cfg.Backend.Endpoint = ""

	w, err := newWorker(cfg, testutil.NewMockLogger(), promclient.NewRegistry())
	require.Error(t, err)
	assert.Nil(t, w)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestNewWorker_DuplicateRegistration(t *testing.T) {
	reg := promclient.NewRegistry()
	cfg := testWorkerConfig(t)

	w, err := newWorker(cfg, testutil.NewMockLogger(), reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.shutdown(context.Background()) })

	_, err = newWorker(cfg, testutil.NewMockLogger(), reg)
	assert.Error(t, err)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	logger := testutil.NewMockLogger()
	w, err := newWorker(testWorkerConfig(t), logger, promclient.NewRegistry())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- w.run(ctx, false, 5*time.Second) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.True(t, logger.HasMessage("info", "worker started"))
	assert.True(t, logger.HasMessage("info", "worker stopped"))
}

func TestSchedulerOptions(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	opts, err := schedulerOptions(cfg.Batching)
	require.NoError(t, err)
	// three global options plus one per tier
	assert.Len(t, opts, 7)

	classifier, err := batching.NewSizeClassifier()
	require.NoError(t, err)
	echo := common.ProcessBatchFunc(func(_ context.Context, reqs []*common.ExtractionRequest) ([]*common.ExtractionResult, error) {
		out := make([]*common.ExtractionResult, len(reqs))
		for i, r := range reqs {
			out[i] = &common.ExtractionResult{RequestID: r.ID}
		}
		return out, nil
	})
	sched, err := batching.NewAdaptiveBatchScheduler(classifier, echo, opts...)
	require.NoError(t, err)
	require.NoError(t, sched.Close(context.Background()))
}

func TestKafkaSecurity(t *testing.T) {
	sec := kafkaSecurity(config.KafkaConfig{
		SASLMechanism: "SCRAM-SHA-512",
		SASLUsername:  "worker",
		SASLPassword:  "secret",
		TLSEnabled:    true,
		TLSCAFile:     "/etc/ssl/kafka-ca.pem",
	})
	assert.Equal(t, "SCRAM-SHA-512", sec.SASLMechanism)
	assert.Equal(t, "worker", sec.SASLUsername)
	assert.Equal(t, "secret", sec.SASLPassword)
	assert.True(t, sec.TLSEnabled)
	assert.Equal(t, "/etc/ssl/kafka-ca.pem", sec.TLSCAFile)
}
