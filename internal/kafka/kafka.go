package kafka

import (
	"time"

	"github.com/segmentio/kafka-go"

	"bannerstream/internal/pipeline"
)

// Header keys attached to messages on the rejected topic.
const (
	HeaderRejectKind   = "reject_kind"
	HeaderRejectField  = "reject_field"
	HeaderRejectReason = "reject_reason"
	HeaderRejectedAt   = "rejected_at"
	HeaderSourceTopic  = "source_topic"
)

// NewWriter returns a synchronous writer that hashes keys to partitions.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}
}

// NewReader constructs a reader bound to a consumer group.
func NewReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:         brokers,
		Topic:           topic,
		GroupID:         group,
		MinBytes:        1e3,
		MaxBytes:        10e6,
		StartOffset:     kafka.FirstOffset,
		CommitInterval:  time.Second,
		ReadLagInterval: 5 * time.Second,
		MaxWait:         time.Second,
	})
}

// RejectedMessage copies the original message and annotates it with why it
// was rejected, so it can be inspected or replayed from the rejected topic.
func RejectedMessage(src kafka.Message, rej *pipeline.Rejection, at time.Time) kafka.Message {
	headers := []kafka.Header{
		{Key: HeaderRejectKind, Value: []byte(rej.Kind)},
		{Key: HeaderRejectField, Value: []byte(rej.Field)},
		{Key: HeaderRejectReason, Value: []byte(rej.Reason())},
		{Key: HeaderRejectedAt, Value: []byte(at.UTC().Format(time.RFC3339))},
	}
	if src.Topic != "" {
		headers = append(headers, kafka.Header{Key: HeaderSourceTopic, Value: []byte(src.Topic)})
	}
	return kafka.Message{
		Key:     src.Key,
		Value:   src.Value,
		Headers: headers,
	}
}

// Header returns the value of the first header named key.
func Header(m kafka.Message, key string) (string, bool) {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value), true
		}
	}
	return "", false
}
