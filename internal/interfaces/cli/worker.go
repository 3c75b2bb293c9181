package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/LexExtract/internal/config"
	"github.com/turtacn/LexExtract/internal/infrastructure/cache"
	"github.com/turtacn/LexExtract/internal/infrastructure/database/redis"
	"github.com/turtacn/LexExtract/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/LexExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/LexExtract/internal/intelligence/backend"
	"github.com/turtacn/LexExtract/internal/intelligence/batching"
	"github.com/turtacn/LexExtract/internal/intelligence/common"
	"github.com/turtacn/LexExtract/pkg/errors"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	metricsNamespace       = "lexextract"
)

type workerOptions struct {
	shutdownTimeout time.Duration
	createTopics    bool
}

func newWorkerCmd() *cobra.Command {
	opts := &workerOptions{}
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the extraction worker",
		Long: "Consumes extraction requests from Kafka, batches them by size tier,\n" +
			"sends the batches to the inference backend and publishes each result\n" +
			"keyed by its request id.  Stops on SIGINT or SIGTERM after flushing\n" +
			"every pending request.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd, opts)
		},
	}
	cmd.Flags().DurationVar(&opts.shutdownTimeout, "shutdown-timeout", defaultShutdownTimeout, "time allowed to flush pending requests on shutdown")
	cmd.Flags().BoolVar(&opts.createTopics, "create-topics", false, "create the request, result and dead-letter topics before consuming")
	return cmd
}

func runWorker(cmd *cobra.Command, opts *workerOptions) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	cfg := cliCtx.Config

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := prometheus.NewRegistry(prometheus.RegistryConfig{
		Namespace:            metricsNamespace,
		EnableProcessMetrics: true,
		EnableGoMetrics:      true,
	})
	if err != nil {
		return err
	}

	w, err := newWorker(cfg, logger, registry)
	if err != nil {
		return err
	}

	if cliCtx.ConfigPath != "" {
		err := config.Watch(cliCtx.ConfigPath, func(next *config.Config) {
			logger.SetLevel(next.Log.Level)
			logger.Info("configuration reloaded", logging.String("log_level", next.Log.Level))
		}, func(err error) {
			logger.Warn("ignoring invalid configuration revision", logging.Err(err))
		})
		if err != nil {
			logger.Warn("config hot reload disabled", logging.Err(err))
		}
	}

	return w.run(ctx, opts.createTopics || cfg.Kafka.CreateTopics, opts.shutdownTimeout)
}

// worker owns the request pipeline:
// consumer -> scheduler -> cached backend -> result publisher -> producer.
type worker struct {
	cfg    *config.Config
	logger logging.Logger

	registry  *promclient.Registry
	metrics   common.ExtractionMetrics
	scheduler *batching.AdaptiveBatchScheduler
	producer  *kafka.Producer
	consumer  *kafka.Consumer
	redis     *redis.Client
}

// newWorker builds every component without contacting Kafka.  Redis is
// pinged when the shared cache tier is enabled.
func newWorker(cfg *config.Config, logger logging.Logger, registry *promclient.Registry) (*worker, error) {
	w := &worker{cfg: cfg, logger: logger, registry: registry}
	if err := w.build(); err != nil {
		_ = w.release()
		return nil, err
	}
	return w, nil
}

func (w *worker) build() error {
	cfg, logger := w.cfg, w.logger

	metrics, err := common.NewPrometheusExtractionMetrics(w.registry)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "register extraction metrics")
	}
	w.metrics = metrics

	processor, err := w.newProcessor()
	if err != nil {
		return err
	}

	classifier, err := batching.NewSizeClassifier(
		batching.WithCacheSize(cfg.Estimator.CacheSize),
		batching.WithWordsPerTokenRatio(cfg.Estimator.WordsPerTokenRatio),
		batching.WithCalibrationHistory(cfg.Estimator.HistorySize),
		batching.WithClassifierLogger(logger.Named("classifier")),
		batching.WithClassifierMetrics(metrics),
	)
	if err != nil {
		return err
	}

	schedOpts, err := schedulerOptions(cfg.Batching)
	if err != nil {
		return err
	}
	schedOpts = append(schedOpts,
		batching.WithSchedulerLogger(logger.Named("scheduler")),
		batching.WithSchedulerMetrics(metrics),
	)
	w.scheduler, err = batching.NewAdaptiveBatchScheduler(classifier, processor, schedOpts...)
	if err != nil {
		return err
	}

	security := kafkaSecurity(cfg.Kafka)
	w.producer, err = kafka.NewProducer(kafka.ProducerConfig{
		Brokers:  cfg.Kafka.Brokers,
		Security: security,
	}, logger.Named("producer"))
	if err != nil {
		return err
	}
	results := kafka.NewResultPublisher(w.producer, cfg.Kafka.ResultTopic)

	w.consumer, err = kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:  cfg.Kafka.Brokers,
		GroupID:  cfg.Kafka.GroupID,
		Topics:   []string{cfg.Kafka.RequestTopic},
		Security: security,
		RetryConfig: kafka.RetryConfig{
			MaxRetries:      cfg.Kafka.MaxRetries,
			RetryBackoff:    cfg.Kafka.RetryBackoff,
			MaxRetryBackoff: cfg.Kafka.MaxRetryBackoff,
			DeadLetterTopic: cfg.Kafka.DeadLetterTopic,
		},
	}, logger.Named("consumer"))
	if err != nil {
		return err
	}
	w.consumer.Subscribe(cfg.Kafka.RequestTopic, kafka.NewRequestHandler(w.scheduler, results.Publish, logger.Named("intake")))

	if err := w.registerPipelineMetrics(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "register pipeline metrics")
	}
	return nil
}

// newProcessor returns the HTTP backend, wrapped in the result cache when
// caching is enabled.
func (w *worker) newProcessor() (common.BatchProcessor, error) {
	bc := w.cfg.Backend
	httpBackend, err := backend.NewHTTPBackend(bc.Endpoint,
		backend.WithAPIKey(bc.APIKey),
		backend.WithTimeout(bc.Timeout),
		backend.WithRetry(bc.MaxRetries, bc.RetryBaseDelay, bc.RetryMaxDelay),
		backend.WithLogger(w.logger.Named("backend")),
	)
	if err != nil {
		return nil, err
	}
	cc := w.cfg.Cache
	if !cc.Enabled {
		return httpBackend, nil
	}

	var remote redis.Cache
	if cc.UseRedis {
		rc := w.cfg.Redis
		w.redis, err = redis.NewClient(&redis.RedisConfig{
			Addr:         rc.Addr,
			Password:     rc.Password,
			DB:           rc.DB,
			PoolSize:     rc.PoolSize,
			DialTimeout:  rc.DialTimeout,
			ReadTimeout:  rc.ReadTimeout,
			WriteTimeout: rc.WriteTimeout,
		}, w.logger.Named("redis"))
		if err != nil {
			return nil, err
		}
		remote = redis.NewRedisCache(w.redis, w.logger.Named("redis"),
			redis.WithPrefix(cc.KeyPrefix),
			redis.WithDefaultTTL(cc.RedisTTL),
		)
	}
	store := cache.New(cache.Config{
		MemoryTTL:       cc.MemoryTTL,
		CleanupInterval: cc.CleanupInterval,
		RemoteTTL:       cc.RedisTTL,
	}, remote, cache.WithLogger(w.logger.Named("cache")), cache.WithMetrics(w.metrics))
	return backend.NewCachedProcessor(httpBackend, store, backend.WithCacheLogger(w.logger.Named("cache"))), nil
}

// registerPipelineMetrics exposes the kafka counters and per-tier queue
// depth, which the components keep themselves.
func (w *worker) registerPipelineMetrics() error {
	consumer, producer := w.consumer, w.producer
	kafkaMetrics := prometheus.FuncMetrics{
		Namespace: metricsNamespace,
		Subsystem: "kafka",
		Counters: []prometheus.FuncMetric{
			{Name: "messages_consumed_total", Help: "Request messages fetched.",
				Value: func() float64 { return float64(consumer.GetMetrics().MessagesConsumed.Load()) }},
			{Name: "messages_processed_total", Help: "Request messages accepted by the scheduler.",
				Value: func() float64 { return float64(consumer.GetMetrics().MessagesProcessed.Load()) }},
			{Name: "messages_retried_total", Help: "Handler retries.",
				Value: func() float64 { return float64(consumer.GetMetrics().MessagesRetried.Load()) }},
			{Name: "messages_dead_lettered_total", Help: "Request messages sent to the dead-letter topic.",
				Value: func() float64 { return float64(consumer.GetMetrics().MessagesDeadLettered.Load()) }},
			{Name: "results_published_total", Help: "Result messages written.",
				Value: func() float64 { return float64(producer.GetMetrics().MessagesSent.Load()) }},
			{Name: "results_failed_total", Help: "Result messages that could not be written.",
				Value: func() float64 { return float64(producer.GetMetrics().MessagesFailed.Load()) }},
		},
	}
	scheduler := w.scheduler
	queueMetrics := prometheus.FuncMetrics{Namespace: metricsNamespace, Subsystem: "scheduler"}
	for _, tier := range common.AllTiers {
		tier := tier
		queueMetrics.Gauges = append(queueMetrics.Gauges, prometheus.FuncMetric{
			Name:   "in_flight_requests",
			Help:   "Requests inside a dispatched batch.",
			Labels: map[string]string{"tier": tier.String()},
			Value:  func() float64 { return float64(scheduler.StatsFor(tier).InFlight) },
		})
	}
	if err := kafkaMetrics.Register(w.registry); err != nil {
		return err
	}
	return queueMetrics.Register(w.registry)
}

// run consumes until ctx is cancelled, then shuts the pipeline down.
func (w *worker) run(ctx context.Context, createTopics bool, shutdownTimeout time.Duration) error {
	if createTopics {
		if err := w.ensureTopics(ctx); err != nil {
			_ = w.release()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := w.consumer.Start(gctx); err != nil {
		_ = w.release()
		return err
	}

	var server *prometheus.Server
	if w.cfg.Metrics.Enabled {
		server = prometheus.NewServer(w.cfg.Metrics.Addr, w.cfg.Metrics.Path, w.registry, w.logger.Named("metrics"))
		server.SetReady(true)
		g.Go(server.ListenAndServe)
	}
	w.logger.Info("worker started",
		logging.Strings("brokers", w.cfg.Kafka.Brokers),
		logging.String("request_topic", w.cfg.Kafka.RequestTopic),
		logging.String("result_topic", w.cfg.Kafka.ResultTopic))

	g.Go(func() error {
		<-gctx.Done()
		w.logger.Info("shutting down worker")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		if server != nil {
			errs = append(errs, server.Shutdown(shutdownCtx))
		}
		errs = append(errs, w.shutdown(shutdownCtx))
		return errors.Join(errs...)
	})

	err := g.Wait()
	w.logger.Info("worker stopped", logging.Err(err))
	return err
}

// shutdown stops intake first, flushes the scheduler so that every pending
// result reaches the producer, and then closes the producer and redis.
func (w *worker) shutdown(ctx context.Context) error {
	var errs []error
	if err := w.consumer.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := w.scheduler.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := w.release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// release closes whatever was built, in dependency order.  It is safe on a
// partially built worker.
func (w *worker) release() error {
	var errs []error
	if w.consumer != nil {
		errs = append(errs, w.consumer.Close())
	}
	if w.producer != nil {
		errs = append(errs, w.producer.Close())
	}
	if w.redis != nil {
		errs = append(errs, w.redis.Close())
	}
	return errors.Join(errs...)
}

func (w *worker) ensureTopics(ctx context.Context) error {
	kc := w.cfg.Kafka
	tm, err := kafka.NewTopicManager(kc.Brokers, kafkaSecurity(kc), w.logger.Named("topics"))
	if err != nil {
		return err
	}
	defer tm.Close()
	return tm.EnsureTopics(ctx, kafka.ExtractionTopics(kc.RequestTopic, kc.ResultTopic, kc.DeadLetterTopic))
}

// schedulerOptions maps the batching section onto scheduler options.
func schedulerOptions(b config.BatchingConfig) ([]batching.SchedulerOption, error) {
	opts := []batching.SchedulerOption{
		batching.WithTuneInterval(b.TuneInterval),
		batching.WithLoadFactorBounds(b.MinLoadFactor, b.MaxLoadFactor),
		batching.WithDispatchRateLimit(b.DispatchRate, b.DispatchBurst),
	}
	for name, tc := range b.Tiers() {
		tier, err := common.ParseSizeTier(name)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInvalidBatchConfig, "batching tier")
		}
		opts = append(opts, batching.WithTierConfig(tier, batching.TierConfig{
			MinBatchSize:  tc.MinBatchSize,
			MaxBatchSize:  tc.MaxBatchSize,
			MaxWaitTime:   tc.MaxWaitTime,
			TargetLatency: tc.TargetLatency,
		}))
	}
	return opts, nil
}

func kafkaSecurity(kc config.KafkaConfig) kafka.SecurityConfig {
	return kafka.SecurityConfig{
		SASLMechanism: kc.SASLMechanism,
		SASLUsername:  kc.SASLUsername,
		SASLPassword:  kc.SASLPassword,
		TLSEnabled:    kc.TLSEnabled,
		TLSCAFile:     kc.TLSCAFile,
	}
}
