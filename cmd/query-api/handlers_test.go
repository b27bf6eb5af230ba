package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bannerstream/internal/ch"
)

type fakeStore struct {
	filter  ch.ImpressionFilter
	limit   int
	series  []ch.MetricPoint
	banners []ch.TopBanner
	err     error
	pingErr error
}

func (s *fakeStore) Impressions(_ context.Context, f ch.ImpressionFilter) ([]ch.MetricPoint, error) {
	s.filter = f
	return s.series, s.err
}

func (s *fakeStore) TopBanners(_ context.Context, f ch.ImpressionFilter, limit int) ([]ch.TopBanner, error) {
	s.filter, s.limit = f, limit
	return s.banners, s.err
}

func (s *fakeStore) Ping(context.Context) error { return s.pingErr }

func get(store *fakeStore, url string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := newRouter(queryHandler{store: store, logger: zap.NewNop()}, nil, prometheus.NewRegistry())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	return rec
}

func TestImpressions(t *testing.T) {
	day := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{series: []ch.MetricPoint{{Date: day, Value: 12}, {Date: day.AddDate(0, 0, 1), Value: 3}}}

	rec := get(store, "/v1/impressions?project=wikipedia&banner=B1&from=2021-01-01&to=2021-01-02")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{
		"project": "wikipedia",
		"banner": "B1",
		"from": "2021-01-01",
		"to": "2021-01-02",
		"series": [{"date":"2021-01-01","value":12},{"date":"2021-01-02","value":3}]
	}`, rec.Body.String())
	require.Equal(t, ch.ImpressionFilter{Project: "wikipedia", Banner: "B1", From: day, To: day.AddDate(0, 0, 1)}, store.filter)
}

func TestImpressionsBadRequests(t *testing.T) {
	for _, url := range []string{
		"/v1/impressions?from=2021-01-01&to=2021-01-02",
		"/v1/impressions?project=wikipedia&to=2021-01-02",
		"/v1/impressions?project=wikipedia&from=01/01/2021&to=2021-01-02",
		"/v1/impressions?project=wikipedia&from=2021-01-03&to=2021-01-02",
		"/v1/impressions?project=wikipedia&from=2019-01-01&to=2021-01-02",
	} {
		rec := get(&fakeStore{}, url)
		require.Equal(t, http.StatusBadRequest, rec.Code, url)
	}
}

func TestImpressionsQueryFailure(t *testing.T) {
	rec := get(&fakeStore{err: errors.New("timeout")}, "/v1/impressions?project=wikipedia&from=2021-01-01&to=2021-01-02")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTopBanners(t *testing.T) {
	store := &fakeStore{banners: []ch.TopBanner{{Banner: "B1", Impressions: 9}}}

	rec := get(store, "/v1/banners/top?from=2021-01-01&to=2021-01-31&limit=500")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"from":"2021-01-01","to":"2021-01-31","banners":[{"banner":"B1","impressions":9}]}`, rec.Body.String())
	require.Equal(t, maxLimit, store.limit)
	require.Empty(t, store.filter.Project)

	rec = get(&fakeStore{}, "/v1/banners/top?from=2021-01-01&to=2021-01-31&project=wikipedia")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"from":"2021-01-01","to":"2021-01-31","project":"wikipedia","banners":[]}`, rec.Body.String())

	rec = get(&fakeStore{}, "/v1/banners/top?from=2021-01-01&to=2021-01-31&limit=0")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	require.Equal(t, http.StatusOK, get(&fakeStore{}, "/healthz").Code)
	require.Equal(t, http.StatusServiceUnavailable, get(&fakeStore{pingErr: errors.New("down")}, "/healthz").Code)
}
