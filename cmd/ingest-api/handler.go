package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"bannerstream/internal/auth"
	"bannerstream/internal/httpx"
)

const (
	signatureHeader = "X-CN-Signature"
	projectPath     = "event.project"
	publishTimeout  = 5 * time.Second
)

// publisher is the part of *kafka.Writer the handler needs.
type publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
}

type ingestHandler struct {
	publisher    publisher
	secret       string
	maxBodyBytes int64
	logger       *zap.Logger
}

func newRouter(h ingestHandler, origins []string, reg prometheus.Registerer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpx.RequestID())
	router.Use(httpx.NewHTTPMetrics(reg, "ingest_api").Handler())
	router.Use(httpx.CORSMiddleware(origins, signatureHeader))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/v1/events", h.handleEvent)
	return router
}

// handleEvent checks that the body is a signed JSON object and queues it
// unchanged. Field validation happens downstream.
func (h ingestHandler) handleEvent(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if h.secret != "" {
		sig := c.GetHeader(signatureHeader)
		if sig == "" || !auth.VerifySignature(h.secret, body, sig) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), publishTimeout)
	defer cancel()
	if err := h.publisher.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(gjson.GetBytes(body, projectPath).String()),
		Value: body,
	}); err != nil {
		h.logger.Error("write kafka",
			zap.String("request_id", c.GetString(httpx.RequestIDHeader)),
			zap.Error(err),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue unavailable"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}
