package main

import (
	"context"
	"errors"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"bannerstream/internal/config"
	"bannerstream/internal/entity"
	ikafka "bannerstream/internal/kafka"
	"bannerstream/internal/logger"
	"bannerstream/internal/pipeline"
	"bannerstream/internal/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("load config: %v", err)
	}
	log, err := logger.New("consumer-validator", cfg.LogLevel)
	if err != nil {
		stdlog.Fatalf("build logger: %v", err)
	}
	defer log.Sync()

	patterns, err := cfg.LoadPatterns()
	if err != nil {
		log.Fatal("load validation patterns", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := sqlite.Open(ctx, cfg.EntityDBPath)
	if err != nil {
		log.Fatal("open entity store", zap.String("path", cfg.EntityDBPath), zap.Error(err))
	}
	defer store.Close()

	registry := entity.NewRegistry(patterns.Rules())
	skipped, err := registry.Preload(ctx, store)
	if err != nil {
		log.Fatal("preload entities", zap.Error(err))
	}
	if skipped > 0 {
		log.Warn("stored entities no longer match their rules", zap.Int("skipped", skipped))
	}

	validator, err := pipeline.NewValidator(pipeline.Config{
		Countries:     registry.Countries,
		Languages:     registry.Languages,
		Projects:      registry.Projects,
		BannerPattern: patterns.Banner,
		Logger:        log,
	})
	if err != nil {
		log.Fatal("build validator", zap.Error(err))
	}

	reader := ikafka.NewReader(cfg.KafkaBrokers, cfg.KafkaTopicRaw, "validator-group")
	validatedWriter := ikafka.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopicValidated)
	rejectedWriter := ikafka.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopicRejected)
	defer reader.Close()
	defer validatedWriter.Close()
	defer rejectedWriter.Close()

	metrics := newValidatorMetrics(prometheus.DefaultRegisterer)
	proc := &processor{
		validator: validator,
		registry:  registry,
		store:     store,
		validated: validatedWriter,
		rejected:  rejectedWriter,
		metrics:   metrics,
		logger:    log,
		now:       time.Now,
	}

	go serveMetrics(cfg.ValidatorMetricsAddr, log)
	go handleSignals(cancel)

	log.Info("validator started",
		zap.String("raw_topic", cfg.KafkaTopicRaw),
		zap.String("validated_topic", cfg.KafkaTopicValidated),
		zap.String("rejected_topic", cfg.KafkaTopicRejected),
		zap.Int("countries", registry.Countries.Len()),
		zap.Int("languages", registry.Languages.Len()),
		zap.Int("projects", registry.Projects.Len()),
	)

	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			metrics.errors.Inc()
			log.Error("read kafka", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		metrics.lag.Set(float64(reader.Stats().Lag))

		if err := proc.handle(ctx, m); err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error("process message",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err),
			)
		}
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if _, err := registry.Persist(flushCtx, store); err != nil {
		log.Error("persist entities on shutdown", zap.Error(err))
	}
	log.Info("validator shutdown complete")
}

func handleSignals(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	cancel()
}

func serveMetrics(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("metrics server failed", zap.Error(err))
	}
}
