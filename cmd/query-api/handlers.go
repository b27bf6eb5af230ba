package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"bannerstream/internal/ch"
	"bannerstream/internal/httpx"
)

const (
	dateLayout   = "2006-01-02"
	defaultLimit = 20
	maxLimit     = 100
	queryTimeout = 5 * time.Second
	maxRangeDays = 366
)

type impressionStore interface {
	Impressions(ctx context.Context, f ch.ImpressionFilter) ([]ch.MetricPoint, error)
	TopBanners(ctx context.Context, f ch.ImpressionFilter, limit int) ([]ch.TopBanner, error)
	Ping(ctx context.Context) error
}

type queryHandler struct {
	store  impressionStore
	logger *zap.Logger
}

func newRouter(h queryHandler, origins []string, reg prometheus.Registerer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpx.RequestID())
	router.Use(httpx.NewHTTPMetrics(reg, "query_api").Handler())
	router.Use(httpx.CORSMiddleware(origins))

	router.GET("/healthz", h.handleHealth)
	router.GET("/v1/impressions", h.handleImpressions)
	router.GET("/v1/banners/top", h.handleTopBanners)
	return router
}

func (h queryHandler) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h queryHandler) handleImpressions(c *gin.Context) {
	project := c.Query("project")
	if project == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "project, from, and to are required"})
		return
	}
	filter, err := parseRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filter.Project = project
	filter.Banner = c.Query("banner")

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()
	series, err := h.store.Impressions(ctx, filter)
	if err != nil {
		h.queryFailed(c, err)
		return
	}
	resp := gin.H{
		"project": project,
		"from":    filter.From.Format(dateLayout),
		"to":      filter.To.Format(dateLayout),
		"series":  toAPIseries(series),
	}
	if filter.Banner != "" {
		resp["banner"] = filter.Banner
	}
	c.Header("Cache-Control", "public, max-age=30")
	c.JSON(http.StatusOK, resp)
}

func (h queryHandler) handleTopBanners(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be positive"})
		return
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	filter, err := parseRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filter.Project = c.Query("project")

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()
	banners, err := h.store.TopBanners(ctx, filter, limit)
	if err != nil {
		h.queryFailed(c, err)
		return
	}
	if banners == nil {
		banners = []ch.TopBanner{}
	}
	resp := gin.H{
		"from":    filter.From.Format(dateLayout),
		"to":      filter.To.Format(dateLayout),
		"banners": banners,
	}
	if filter.Project != "" {
		resp["project"] = filter.Project
	}
	c.Header("Cache-Control", "public, max-age=30")
	c.JSON(http.StatusOK, resp)
}

func (h queryHandler) queryFailed(c *gin.Context, err error) {
	h.logger.Error("query failed",
		zap.String("path", c.FullPath()),
		zap.String("request_id", c.GetString(httpx.RequestIDHeader)),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
}

// parseRange reads the inclusive from/to dates.
func parseRange(c *gin.Context) (ch.ImpressionFilter, error) {
	fromStr, toStr := c.Query("from"), c.Query("to")
	if fromStr == "" || toStr == "" {
		return ch.ImpressionFilter{}, errors.New("from and to are required")
	}
	from, err := time.Parse(dateLayout, fromStr)
	if err != nil {
		return ch.ImpressionFilter{}, errors.New("invalid from date")
	}
	to, err := time.Parse(dateLayout, toStr)
	if err != nil {
		return ch.ImpressionFilter{}, errors.New("invalid to date")
	}
	if to.Before(from) {
		return ch.ImpressionFilter{}, errors.New("to must not be before from")
	}
	if to.Sub(from) > maxRangeDays*24*time.Hour {
		return ch.ImpressionFilter{}, errors.New("range exceeds one year")
	}
	return ch.ImpressionFilter{From: from, To: to}, nil
}

func toAPIseries(points []ch.MetricPoint) []gin.H {
	result := make([]gin.H, 0, len(points))
	for _, p := range points {
		result = append(result, gin.H{
			"date":  p.Date.Format(dateLayout),
			"value": p.Value,
		})
	}
	return result
}
