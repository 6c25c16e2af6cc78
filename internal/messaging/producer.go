package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/tournevent/fulfillment/internal/domain"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// EventTypeStatusChanged is sent in the event-type header.
const EventTypeStatusChanged = "shipment.status_changed"

const headerEventType = "event-type"

// Writer is the subset of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes status-change events keyed by waybill, so all events
// for one shipment land on one partition in order.
type Producer struct {
	writer Writer
	topic  string
	tracer trace.Tracer
	logger *otelzap.Logger
}

// NewProducer creates an asynchronous producer. Delivery failures surface
// in the writer's completion callback and are logged.
func NewProducer(brokers []string, topic string, logger *otelzap.Logger) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("Failed to deliver shipment events",
					zap.String("topic", topic),
					zap.Int("messages", len(messages)),
					zap.Error(err),
				)
			}
		},
	}
	return NewProducerWithWriter(w, topic, logger)
}

// NewProducerWithWriter creates a producer over an existing writer.
func NewProducerWithWriter(w Writer, topic string, logger *otelzap.Logger) *Producer {
	return &Producer{
		writer: w,
		topic:  topic,
		tracer: otel.Tracer("fulfillment/messaging"),
		logger: logger,
	}
}

// PublishStatusChanged enqueues one event.
func (p *Producer) PublishStatusChanged(ctx context.Context, event domain.ShipmentStatusChangedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:     []byte(event.AWB),
		Value:   data,
		Time:    event.Timestamp,
		Headers: []kafka.Header{{Key: headerEventType, Value: []byte(EventTypeStatusChanged)}},
	}

	ctx, span := p.tracer.Start(ctx, "send "+p.topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("send"),
			semconv.MessagingOperationTypePublish,
			semconv.MessagingDestinationName(p.topic),
			semconv.MessagingKafkaMessageKey(event.AWB),
		),
	)
	defer span.End()

	otel.GetTextMapPropagator().Inject(ctx, NewHeaderCarrier(&msg))

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	p.logger.Ctx(ctx).Debug("Queued shipment event",
		zap.String("awb", event.AWB),
		zap.String("to", string(event.To)),
	)
	return nil
}

// Close flushes pending messages.
func (p *Producer) Close() error {
	return p.writer.Close()
}
