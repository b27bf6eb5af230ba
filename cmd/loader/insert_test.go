package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bannerstream/internal/model"
)

type flakyInserter struct {
	failures int
	calls    int
	got      []model.BannerEvent
}

func (f *flakyInserter) InsertBatch(_ context.Context, events []model.BannerEvent) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("clickhouse unavailable")
	}
	f.got = append(f.got, events...)
	return nil
}

var fastPolicy = retryPolicy{
	maxAttempts:   3,
	initial:       time.Millisecond,
	max:           2 * time.Millisecond,
	insertTimeout: time.Second,
}

func newTestInserter(client batchInserter) *inserter {
	return &inserter{
		client:  client,
		policy:  fastPolicy,
		metrics: newLoaderMetrics(prometheus.NewRegistry()),
		logger:  zap.NewNop(),
	}
}

func TestInsertRetriesUntilSuccess(t *testing.T) {
	client := &flakyInserter{failures: 2}
	ins := newTestInserter(client)
	events := []model.BannerEvent{{Project: "wikipedia"}, {Project: "wikinews"}}

	require.NoError(t, ins.insert(context.Background(), events))
	require.Equal(t, 3, client.calls)
	require.Equal(t, events, client.got)
	require.Equal(t, 2.0, testutil.ToFloat64(ins.metrics.insertErrors))
	require.Equal(t, 2.0, testutil.ToFloat64(ins.metrics.inserted))
}

func TestInsertGivesUpAfterMaxAttempts(t *testing.T) {
	client := &flakyInserter{failures: 10}
	ins := newTestInserter(client)

	require.Error(t, ins.insert(context.Background(), []model.BannerEvent{{}}))
	require.Equal(t, fastPolicy.maxAttempts, client.calls)
	require.Zero(t, testutil.ToFloat64(ins.metrics.inserted))
}

func TestInsertStopsOnCancel(t *testing.T) {
	client := &flakyInserter{failures: 10}
	ins := newTestInserter(client)
	ins.policy.initial = time.Hour
	ins.policy.max = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	require.ErrorIs(t, ins.insert(ctx, []model.BannerEvent{{}}), context.Canceled)
	require.Equal(t, 1, client.calls)
}
