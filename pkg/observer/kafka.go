package observer

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// ParseBrokers splits a comma-separated broker list.
func ParseBrokers(brokers string) []string {
	var out []string
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			out = append(out, broker)
		}
	}
	return out
}

// MessageWriter is the subset of *kafka.Writer the observer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(cfg KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// LifecycleMessage is the published form of an Event.
type LifecycleMessage struct {
	Name       string         `json:"name"`
	DurationMs int64          `json:"duration_ms"`
	Attributes map[string]any `json:"attributes"`
	OccurredAt time.Time      `json:"occurred_at"`
	TraceID    string         `json:"trace_id,omitempty"`
	SpanID     string         `json:"span_id,omitempty"`
}

// KafkaObserver publishes events keyed by integration id so one
// integration's events stay ordered on a partition.
type KafkaObserver struct {
	writer MessageWriter
	topic  string
	logger ectologger.Logger
}

func NewKafkaObserver(writer MessageWriter, topic string, logger ectologger.Logger) *KafkaObserver {
	return &KafkaObserver{writer: writer, topic: topic, logger: logger}
}

func (o *KafkaObserver) Observe(ctx context.Context, event Event) {
	ctx, span := tracing.StartSpan(ctx, "Kafka.PublishLifecycleEvent")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", o.topic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("event", event.Name),
	)

	msg := LifecycleMessage{
		Name:       event.Name,
		DurationMs: event.DurationMs(),
		Attributes: event.Attributes,
		OccurredAt: event.OccurredAt,
		TraceID:    tracing.GetTraceID(ctx),
		SpanID:     tracing.GetSpanID(ctx),
	}
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal event")
		o.logger.WithContext(ctx).WithError(err).Errorf("Failed to marshal %s event", event.Name)
		return
	}

	headers := []kafka.Header{
		{Key: "event", Value: []byte(event.Name)},
		{Key: "tenant_id", Value: []byte(event.Attr(AttrTenantID))},
		{Key: "provider_type", Value: []byte(event.Attr(AttrProviderType))},
	}
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}
	if tracestate := tracing.GetTraceState(ctx); tracestate != "" {
		headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(tracestate)})
	}

	if err := o.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(event.Attr(AttrIntegrationID)),
		Value:   data,
		Headers: headers,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish event")
		metrics.RecordKafkaPublish(o.topic, "error")
		o.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish %s to Kafka topic %s", event.Name, o.topic)
		return
	}

	span.SetStatus(codes.Ok, "event published")
	metrics.RecordKafkaPublish(o.topic, "success")
}

func (o *KafkaObserver) Close() error {
	return o.writer.Close()
}
