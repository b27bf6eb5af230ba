package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"bannerstream/internal/entity"
	ikafka "bannerstream/internal/kafka"
	"bannerstream/internal/pipeline"
)

const writeTimeout = 10 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
}

type validatorMetrics struct {
	consumed  prometheus.Counter
	validated prometheus.Counter
	rejected  *prometheus.CounterVec
	produced  prometheus.Counter
	errors    prometheus.Counter
	lag       prometheus.Gauge
	entities  prometheus.Counter
}

func newValidatorMetrics(reg prometheus.Registerer) *validatorMetrics {
	factory := promauto.With(reg)
	m := &validatorMetrics{
		consumed: factory.NewCounter(prometheus.CounterOpts{
			Name: "validator_msgs_consumed_total",
			Help: "Total messages consumed from the raw topic",
		}),
		validated: factory.NewCounter(prometheus.CounterOpts{
			Name: "validator_msgs_validated_total",
			Help: "Total messages that passed validation",
		}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "validator_msgs_rejected_total",
			Help: "Total messages rejected, by kind",
		}, []string{"kind"}),
		produced: factory.NewCounter(prometheus.CounterOpts{
			Name: "validator_msgs_produced_total",
			Help: "Total messages produced to the validated topic",
		}),
		errors: factory.NewCounter(prometheus.CounterOpts{
			Name: "validator_errors_total",
			Help: "Number of processing failures",
		}),
		lag: factory.NewGauge(prometheus.GaugeOpts{
			Name: "validator_consumer_lag",
			Help: "Current consumer lag reported by kafka-go",
		}),
		entities: factory.NewCounter(prometheus.CounterOpts{
			Name: "validator_entities_persisted_total",
			Help: "Newly seen countries, languages and projects saved to the entity store",
		}),
	}
	for _, kind := range pipeline.Kinds {
		m.rejected.WithLabelValues(string(kind))
	}
	return m
}

// processor validates one raw message at a time and routes it to the
// validated or rejected topic.
type processor struct {
	validator *pipeline.Validator
	registry  *entity.Registry
	store     entity.Store
	validated messageWriter
	rejected  messageWriter
	metrics   *validatorMetrics
	logger    *zap.Logger
	now       func() time.Time
}

// handle returns an error only when the message could not be routed.
func (p *processor) handle(ctx context.Context, m kafkago.Message) error {
	p.metrics.consumed.Inc()

	evt, err := p.validator.Validate(ctx, m.Value)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		var rej *pipeline.Rejection
		if !errors.As(err, &rej) {
			p.metrics.errors.Inc()
			return err
		}
		p.metrics.rejected.WithLabelValues(string(rej.Kind)).Inc()
		return p.write(ctx, p.rejected, ikafka.RejectedMessage(m, rej, p.now()))
	}
	p.metrics.validated.Inc()

	if p.registry.HasPending() {
		n, err := p.registry.Persist(ctx, p.store)
		p.metrics.entities.Add(float64(n))
		if err != nil {
			p.metrics.errors.Inc()
			p.logger.Warn("persist entities", zap.Error(err))
		}
	}

	payload, err := json.Marshal(evt.Record(p.now()))
	if err != nil {
		p.metrics.errors.Inc()
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := p.write(ctx, p.validated, kafkago.Message{
		Key:   []byte(evt.Project.String()),
		Value: payload,
	}); err != nil {
		return err
	}
	p.metrics.produced.Inc()
	return nil
}

func (p *processor) write(ctx context.Context, w messageWriter, m kafkago.Message) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := w.WriteMessages(writeCtx, m); err != nil {
		p.metrics.errors.Inc()
		return fmt.Errorf("produce: %w", err)
	}
	return nil
}
