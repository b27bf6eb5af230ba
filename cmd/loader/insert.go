package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"bannerstream/internal/model"
)

type batchInserter interface {
	InsertBatch(ctx context.Context, events []model.BannerEvent) error
}

// retryPolicy is a capped exponential backoff.
type retryPolicy struct {
	maxAttempts   int
	initial       time.Duration
	max           time.Duration
	insertTimeout time.Duration
}

var defaultRetryPolicy = retryPolicy{
	maxAttempts:   5,
	initial:       200 * time.Millisecond,
	max:           5 * time.Second,
	insertTimeout: 30 * time.Second,
}

type loaderMetrics struct {
	batchSize      prometheus.Histogram
	insertDuration prometheus.Histogram
	insertErrors   prometheus.Counter
	inserted       prometheus.Counter
}

func newLoaderMetrics(reg prometheus.Registerer) *loaderMetrics {
	factory := promauto.With(reg)
	return &loaderMetrics{
		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "loader_batch_size",
			Help:    "Histogram of ClickHouse batch sizes",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 2000},
		}),
		insertDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "loader_insert_duration_seconds",
			Help:    "Duration of ClickHouse insert operations",
			Buckets: prometheus.DefBuckets,
		}),
		insertErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "loader_insert_errors_total",
			Help: "Total ClickHouse insert failures",
		}),
		inserted: factory.NewCounter(prometheus.CounterOpts{
			Name: "loader_events_inserted_total",
			Help: "Total banner events written to ClickHouse",
		}),
	}
}

type inserter struct {
	client  batchInserter
	policy  retryPolicy
	metrics *loaderMetrics
	logger  *zap.Logger
}

func (i *inserter) insert(ctx context.Context, events []model.BannerEvent) error {
	backoff := i.policy.initial
	start := time.Now()
	for attempt := 1; ; attempt++ {
		insertCtx, cancel := context.WithTimeout(ctx, i.policy.insertTimeout)
		err := i.client.InsertBatch(insertCtx, events)
		cancel()
		if err == nil {
			i.metrics.insertDuration.Observe(time.Since(start).Seconds())
			i.metrics.batchSize.Observe(float64(len(events)))
			i.metrics.inserted.Add(float64(len(events)))
			return nil
		}
		i.metrics.insertErrors.Inc()
		if attempt >= i.policy.maxAttempts {
			return err
		}
		i.logger.Warn("insert failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > i.policy.max {
			backoff = i.policy.max
		}
	}
}
