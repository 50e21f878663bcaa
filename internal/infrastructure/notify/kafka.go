package notify

import (
	"context"
	"fmt"
	"time"

	domoutbox "github.com/farmstand/storefront/internal/domain/outbox"
	"github.com/farmstand/storefront/internal/observability"
	"github.com/farmstand/storefront/internal/observability/logctx"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	HeaderEventType = "event_type"
	HeaderMessageID = "message_id"
)

// Producer is the slice of *kafka.Writer the dispatcher needs.
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaDispatcher writes each outbox message to a topic derived from its event name.
type KafkaDispatcher struct {
	producer    Producer
	topicPrefix string
	log         observability.Logger
	calls       externalCalls
}

func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
}

func NewKafkaDispatcher(producer Producer, topicPrefix string, tel observability.Observability) *KafkaDispatcher {
	tel = observability.OrNop(tel)
	return &KafkaDispatcher{
		producer:    producer,
		topicPrefix: topicPrefix,
		log:         tel.Logger().With(observability.F("component", "kafka_dispatcher")),
		calls:       newExternalCalls(tel, "kafka"),
	}
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, m domoutbox.Message) error {
	headers := []kafka.Header{
		{Key: HeaderEventType, Value: []byte(m.Topic)},
		{Key: HeaderMessageID, Value: []byte(m.ID)},
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	msg := kafka.Message{
		Topic:   d.topicPrefix + m.Topic,
		Key:     []byte(m.AggregateID),
		Value:   m.Payload,
		Headers: headers,
	}
	start := time.Now()
	err := d.producer.WriteMessages(ctx, msg)
	d.calls.observe("write_messages", start, err)
	if err != nil {
		logctx.FromOr(ctx, d.log).Error("kafka_dispatch_failed",
			observability.F("message_id", m.ID),
			observability.F("error", err.Error()),
		)
		return fmt.Errorf("notify: kafka write %s: %w", msg.Topic, err)
	}
	logctx.FromOr(ctx, d.log).Debug("kafka_dispatched",
		observability.F("message_id", m.ID),
		observability.F("topic", msg.Topic),
	)
	return nil
}
