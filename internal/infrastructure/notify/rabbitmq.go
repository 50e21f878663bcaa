package notify

import (
	"context"
	"fmt"
	"time"

	domoutbox "github.com/farmstand/storefront/internal/domain/outbox"
	"github.com/farmstand/storefront/internal/observability"
	"github.com/farmstand/storefront/internal/observability/logctx"

	amqp "github.com/rabbitmq/amqp091-go"
)

const ExchangeType = "topic"

// Channel is the part of *amqp.Channel used for publishing.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// SetupConn dials the broker with a few retries and declares the durable topic exchange.
func SetupConn(url, exchange string, log observability.Logger) (*amqp.Connection, *amqp.Channel, error) {
	if log == nil {
		log = observability.NopLogger()
	}
	var conn *amqp.Connection
	var err error

	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		log.Warn("rabbitmq_connect_retry",
			observability.F("attempt", i+1),
			observability.F("error", err.Error()),
		)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("could not open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,     // name
		ExchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("could not declare exchange: %w", err)
	}

	return conn, ch, nil
}

// RabbitDispatcher publishes outbox messages to a topic exchange; the routing key is the event name.
type RabbitDispatcher struct {
	ch       Channel
	exchange string
	log      observability.Logger
	calls    externalCalls
}

func NewRabbitDispatcher(ch Channel, exchange string, tel observability.Observability) *RabbitDispatcher {
	tel = observability.OrNop(tel)
	return &RabbitDispatcher{
		ch:       ch,
		exchange: exchange,
		log:      tel.Logger().With(observability.F("component", "rabbitmq_dispatcher")),
		calls:    newExternalCalls(tel, "rabbitmq"),
	}
}

func (d *RabbitDispatcher) Dispatch(ctx context.Context, m domoutbox.Message) error {
	start := time.Now()
	err := d.ch.PublishWithContext(ctx,
		d.exchange, // exchange
		m.Topic,    // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    m.ID,
			Type:         m.Topic,
			Timestamp:    m.CreatedAt,
			Headers:      amqp.Table{"aggregate_id": m.AggregateID},
			Body:         m.Payload,
		},
	)
	d.calls.observe("publish", start, err)
	if err != nil {
		logctx.FromOr(ctx, d.log).Error("rabbitmq_dispatch_failed",
			observability.F("message_id", m.ID),
			observability.F("error", err.Error()),
		)
		return fmt.Errorf("notify: rabbitmq publish %s: %w", m.Topic, err)
	}
	return nil
}
