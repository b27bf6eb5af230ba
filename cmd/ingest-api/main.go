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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"bannerstream/internal/config"
	ikafka "bannerstream/internal/kafka"
	"bannerstream/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("load config: %v", err)
	}
	log, err := logger.New("ingest-api", cfg.LogLevel)
	if err != nil {
		stdlog.Fatalf("build logger: %v", err)
	}
	defer log.Sync()

	log.Info("starting ingest API", zap.String("addr", cfg.IngestAddr))
	writer := ikafka.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopicRaw)
	defer writer.Close()

	gin.SetMode(gin.ReleaseMode)
	router := newRouter(ingestHandler{
		publisher:    writer,
		secret:       cfg.HMACSecret,
		maxBodyBytes: cfg.MaxBodyBytes,
		logger:       log,
	}, cfg.CORSAllowOrigins, prometheus.DefaultRegisterer)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:              cfg.IngestAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("ingest server failed", zap.Error(err))
		}
	}()

	graceful(server, log)
}

func graceful(server *http.Server, log *zap.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutting down ingest API")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
}
