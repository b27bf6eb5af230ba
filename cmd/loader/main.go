package main

import (
	"context"
	"encoding/json"
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

	"bannerstream/internal/ch"
	"bannerstream/internal/config"
	ikafka "bannerstream/internal/kafka"
	"bannerstream/internal/logger"
	"bannerstream/internal/model"
	"bannerstream/pkg/batcher"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("load config: %v", err)
	}
	log, err := logger.New("loader", cfg.LogLevel)
	if err != nil {
		stdlog.Fatalf("build logger: %v", err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := ch.New(ctx, cfg.ClickHouseDSN)
	if err != nil {
		log.Fatal("clickhouse", zap.Error(err))
	}
	defer client.Close()
	if err := client.EnsureSchema(ctx); err != nil {
		log.Fatal("ensure schema", zap.Error(err))
	}

	reader := ikafka.NewReader(cfg.KafkaBrokers, cfg.KafkaTopicValidated, "loader-group")
	defer reader.Close()

	ins := &inserter{
		client:  client,
		policy:  defaultRetryPolicy,
		metrics: newLoaderMetrics(prometheus.DefaultRegisterer),
		logger:  log,
	}
	// Close runs after ctx is canceled, so the final flush gets its own deadline.
	b := batcher.New[model.BannerEvent](cfg.BatchSize, cfg.BatchInterval,
		func(events []model.BannerEvent) error {
			flushCtx := ctx
			if ctx.Err() != nil {
				var flushCancel context.CancelFunc
				flushCtx, flushCancel = context.WithTimeout(context.Background(), 30*time.Second)
				defer flushCancel()
			}
			return ins.insert(flushCtx, events)
		},
		batcher.WithErrorHandler(func(batch []model.BannerEvent, err error) {
			log.Error("dropping batch after retries", zap.Int("events", len(batch)), zap.Error(err))
		}),
	)
	defer func() {
		if err := b.Close(); err != nil {
			log.Error("final flush", zap.Error(err))
		}
	}()

	go serveMetrics(cfg.LoaderMetricsAddr, log)
	go handleSignals(cancel)

	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error("read validated message", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		var evt model.BannerEvent
		if err := json.Unmarshal(m.Value, &evt); err != nil {
			log.Error("decode banner event", zap.Int64("offset", m.Offset), zap.Error(err))
			continue
		}
		if err := b.Add(evt); err != nil {
			log.Error("batch add failed", zap.Error(err))
		}
	}
	log.Info("loader shutdown complete")
}

func serveMetrics(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("loader metrics server failed", zap.Error(err))
	}
}

func handleSignals(cancel context.CancelFunc) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	cancel()
}
