package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bannerstream/internal/entity"
	"bannerstream/internal/model"
	"bannerstream/internal/pipeline"
)

func newTestValidator(t *testing.T) *pipeline.Validator {
	t.Helper()
	registry := entity.NewRegistry(entity.DefaultRules())
	v, err := pipeline.NewValidator(pipeline.Config{
		Countries: registry.Countries,
		Languages: registry.Languages,
		Projects:  registry.Projects,
	})
	require.NoError(t, err)
	return v
}

const input = `{"event":{"country":"US","uselang":"en","project":"wikipedia","banner":"B1","statusCode":"6"},"dt":"2021-01-01T00:00:00Z","userAgent":{"is_bot":false}}

{"event":{"country":"usa","uselang":"en","project":"wikipedia","statusCode":"6"},"dt":"2021-01-01T00:00:00Z","userAgent":{"is_bot":false}}
{"event":{"country":"DE","uselang":"de","project":"wikipedia","statusCode":"2"},"dt":"2021-01-01 00:00:00","userAgent":{"is_bot":false}}
not json
{"event":{"country":"FR","uselang":"fr","project":"wikipedia","statusCode":"2"},"dt":"2021-01-02T00:00:00Z","userAgent":{"is_bot":true}}
`

func TestRunSummarisesAndEmits(t *testing.T) {
	now := time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC)
	var emitted bytes.Buffer

	sum, err := run(context.Background(), strings.NewReader(input), &emitted, newTestValidator(t), func() time.Time { return now })
	require.NoError(t, err)
	require.Equal(t, 5, sum.Total)
	require.Equal(t, 2, sum.Valid)
	require.Equal(t, 1, sum.Rejected[pipeline.KindInvalidCountry])
	require.Equal(t, 1, sum.Rejected[pipeline.KindInvalidTimestamp])
	require.Equal(t, 1, sum.Rejected[pipeline.KindMalformedJSON])
	require.Zero(t, sum.Rejected[pipeline.KindInvalidBanner])

	var records []model.BannerEvent
	scanner := bufio.NewScanner(&emitted)
	for scanner.Scan() {
		var rec model.BannerEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.Len(t, records, 2)
	require.Equal(t, "B1", records[0].Banner)
	require.True(t, records[0].Counted())
	require.Equal(t, "FR", records[1].Country)
	require.True(t, records[1].Bot)
	require.False(t, records[1].Counted())
	require.True(t, records[1].IngestedAt.Equal(now))
}

func TestRunWithoutEmit(t *testing.T) {
	sum, err := run(context.Background(), strings.NewReader(input), nil, newTestValidator(t), time.Now)
	require.NoError(t, err)
	require.Equal(t, 2, sum.Valid)
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := run(ctx, strings.NewReader(input), nil, newTestValidator(t), time.Now)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWriteSummaryListsEveryKind(t *testing.T) {
	var buf bytes.Buffer
	sum := newSummary()
	sum.Total, sum.Valid = 3, 2
	sum.Rejected[pipeline.KindInvalidBanner] = 1
	require.NoError(t, writeSummary(&buf, sum))
	require.JSONEq(t, `{
		"total": 3,
		"valid": 2,
		"rejected": {
			"malformed_json": 0,
			"invalid_country": 0,
			"invalid_language": 0,
			"invalid_project": 0,
			"invalid_banner": 1,
			"invalid_timestamp": 0
		}
	}`, buf.String())
}
