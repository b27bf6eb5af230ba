//go:build e2e

package ch

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bannerstream/internal/model"
)

func TestClientRoundTrip(t *testing.T) {
	dsn := os.Getenv("CLICKHOUSE_DSN")
	if dsn == "" {
		t.Skip("CLICKHOUSE_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := New(ctx, dsn)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.EnsureSchema(ctx))

	before, err := client.CountEvents(ctx)
	require.NoError(t, err)

	day := time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC)
	project := "e2e" + time.Now().UTC().Format("150405.000000")
	event := func(banner string, bot, testing, shown bool) model.BannerEvent {
		return model.BannerEvent{
			EventTime:   day.Add(5 * time.Hour),
			EventDate:   day,
			Country:     "US",
			Language:    "en",
			Project:     project,
			Banner:      banner,
			Bot:         bot,
			Testing:     testing,
			BannerShown: shown,
			IngestedAt:  time.Now().UTC(),
		}
	}
	require.NoError(t, client.InsertBatch(ctx, []model.BannerEvent{
		event("B1", false, false, true),
		event("B1", false, false, true),
		event("B2", false, false, true),
		event("B2", true, false, true),
		event("B2", false, true, true),
		event("B2", false, false, false),
	}))

	after, err := client.CountEvents(ctx)
	require.NoError(t, err)
	require.Equal(t, before+6, after)

	filter := ImpressionFilter{Project: project, From: day, To: day}
	series, err := client.Impressions(ctx, filter)
	require.NoError(t, err)
	require.Len(t, series, 1)
	require.Equal(t, int64(3), series[0].Value)

	top, err := client.TopBanners(ctx, filter, 10)
	require.NoError(t, err)
	require.Equal(t, []TopBanner{{Banner: "B1", Impressions: 2}, {Banner: "B2", Impressions: 1}}, top)
}
