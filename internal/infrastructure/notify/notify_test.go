package notify

import (
	"context"
	"errors"
	"testing"

	domoutbox "github.com/farmstand/storefront/internal/domain/outbox"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	msgs []kafka.Message
	err  error
}

func (p *fakeProducer) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	got []published
	err error
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.got = append(c.got, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func sample() domoutbox.Message {
	return domoutbox.Message{
		ID:          "m-1",
		Topic:       "order.paid",
		AggregateID: "order-1",
		Payload:     []byte(`{"orderNumber":"BR-2026-0001"}`),
	}
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestKafkaDispatch(t *testing.T) {
	p := &fakeProducer{}
	d := NewKafkaDispatcher(p, "farmstand.", nil)

	require.NoError(t, d.Dispatch(context.Background(), sample()))
	require.Len(t, p.msgs, 1)
	got := p.msgs[0]
	assert.Equal(t, "farmstand.order.paid", got.Topic)
	assert.Equal(t, "order-1", string(got.Key))
	assert.JSONEq(t, `{"orderNumber":"BR-2026-0001"}`, string(got.Value))
	assert.Equal(t, "order.paid", header(got, HeaderEventType))
	assert.Equal(t, "m-1", header(got, HeaderMessageID))
}

func TestKafkaDispatchError(t *testing.T) {
	d := NewKafkaDispatcher(&fakeProducer{err: errors.New("leader not available")}, "", nil)

	err := d.Dispatch(context.Background(), sample())
	assert.ErrorContains(t, err, "leader not available")
}

func TestRabbitDispatch(t *testing.T) {
	ch := &fakeChannel{}
	d := NewRabbitDispatcher(ch, "farmstand", nil)

	require.NoError(t, d.Dispatch(context.Background(), sample()))
	require.Len(t, ch.got, 1)
	assert.Equal(t, "farmstand", ch.got[0].exchange)
	assert.Equal(t, "order.paid", ch.got[0].key)
	assert.Equal(t, "application/json", ch.got[0].msg.ContentType)
	assert.Equal(t, "m-1", ch.got[0].msg.MessageId)
	assert.Equal(t, amqp.Persistent, ch.got[0].msg.DeliveryMode)
}

func TestRabbitDispatchError(t *testing.T) {
	d := NewRabbitDispatcher(&fakeChannel{err: amqp.ErrClosed}, "farmstand", nil)

	err := d.Dispatch(context.Background(), sample())
	assert.ErrorIs(t, err, amqp.ErrClosed)
}
