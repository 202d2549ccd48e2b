// Package broker wraps RabbitMQ for durable task transport between the
// master and the workers.
//
// Durability guarantees:
//   - Queues are declared durable with x-max-priority so the broker orders
//     deliveries by task priority.
//   - Messages are marked Persistent and published with confirms where the
//     channel supports them.
//   - Consumers use manual ack with a bounded prefetch; a message leaves the
//     queue only after its handler returns an ack verdict.
package broker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/ternarybob/arbor"

	"github.com/blankors/dspider/internal/dserrors"
	"github.com/blankors/dspider/internal/interfaces"
)

const (
	maxPriority = 10

	reconnectBase = time.Second
	reconnectCap  = 60 * time.Second
)

// RabbitMQ owns one connection and one channel. The connection is
// single-owner per process; methods are serialized with a mutex rather than
// sharing the channel across goroutines.
type RabbitMQ struct {
	url     string
	logger  arbor.ILogger
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	confirm bool
}

// NewRabbitMQ dials the broker and opens a channel in confirm mode.
func NewRabbitMQ(url string, logger arbor.ILogger) (*RabbitMQ, error) {
	b := &RabbitMQ{url: url, logger: logger}
	if err := b.connect(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *RabbitMQ) connect() error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return dserrors.Wrap(dserrors.KindTransport, "broker dial", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return dserrors.Wrap(dserrors.KindTransport, "broker channel", err)
	}

	// Publisher confirms; not all brokers grant them, publish falls back to
	// fire-and-forget when unavailable.
	confirm := ch.Confirm(false) == nil

	b.conn = conn
	b.channel = ch
	b.confirm = confirm
	return nil
}

// Reset tears down and rebuilds channel and connection in one step.
func (b *RabbitMQ) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.teardown()
	return b.connect()
}

func (b *RabbitMQ) teardown() {
	if b.channel != nil {
		b.channel.Close()
		b.channel = nil
	}
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

// Close releases the channel and connection.
func (b *RabbitMQ) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.teardown()
	return nil
}

// DeclareQueue declares a durable priority queue. Idempotent.
func (b *RabbitMQ) DeclareQueue(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.channel.QueueDeclare(
		name,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-max-priority": int32(maxPriority)},
	)
	return dserrors.Wrap(dserrors.KindTransport, "declare queue "+name, err)
}

// DeclareExchange declares a durable direct exchange. Idempotent.
func (b *RabbitMQ) DeclareExchange(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.channel.ExchangeDeclare(
		name,
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	return dserrors.Wrap(dserrors.KindTransport, "declare exchange "+name, err)
}

// BindQueue binds a queue to an exchange under a routing key. Idempotent.
func (b *RabbitMQ) BindQueue(queue, exchange, routingKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.channel.QueueBind(queue, routingKey, exchange, false, nil)
	return dserrors.Wrap(dserrors.KindTransport, "bind queue "+queue, err)
}

// Publish sends a persistent message. An empty exchange publishes directly
// to the queue named by routingKey. Priority rides on the message header;
// payloads that also carry it stay authoritative downstream.
func (b *RabbitMQ) Publish(ctx context.Context, exchange, routingKey string, body []byte, priority uint8) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.channel == nil || b.channel.IsClosed() {
		return dserrors.New(dserrors.KindTransport, "publish on closed channel")
	}

	if priority > maxPriority {
		priority = maxPriority
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Priority:     priority,
		Timestamp:    time.Now(),
		Body:         body,
	}

	if b.confirm {
		conf, err := b.channel.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, pub)
		if err != nil {
			return dserrors.Wrap(dserrors.KindTransport, "publish", err)
		}
		if !conf.Wait() {
			return dserrors.New(dserrors.KindTransport, "publish not confirmed by broker")
		}
		return nil
	}

	err := b.channel.PublishWithContext(ctx, exchange, routingKey, false, false, pub)
	return dserrors.Wrap(dserrors.KindTransport, "publish", err)
}

// QueueDepth returns the number of ready messages in the queue.
func (b *RabbitMQ) QueueDepth(name string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, err := b.channel.QueueDeclarePassive(name, true, false, false, false, amqp.Table{"x-max-priority": int32(maxPriority)})
	if err != nil {
		return 0, dserrors.Wrap(dserrors.KindTransport, "inspect queue "+name, err)
	}
	return q.Messages, nil
}

// Consume blocks, delivering messages to the handler one prefetch window at
// a time with manual acks. On connection loss it reconnects with exponential
// backoff (base 1s, cap 60s, jitter) and resumes. Returns when the context
// is cancelled; the in-flight delivery is settled first.
func (b *RabbitMQ) Consume(ctx context.Context, queue string, prefetch int, handler interfaces.Handler) error {
	if prefetch <= 0 {
		prefetch = 1
	}

	backoff := reconnectBase
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := b.consumeOnce(ctx, queue, prefetch, handler)
		if err == nil {
			return nil // context cancelled, clean exit
		}

		sleep := backoff + time.Duration(rand.Int63n(int64(backoff)/2+1))
		b.logger.Warn().
			Err(err).
			Str("queue", queue).
			Dur("backoff", sleep).
			Msg("Consumer connection lost, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleep):
		}

		backoff *= 2
		if backoff > reconnectCap {
			backoff = reconnectCap
		}

		if rerr := b.Reset(); rerr != nil {
			b.logger.Error().Err(rerr).Msg("Broker reconnect failed")
			continue
		}
		backoff = reconnectBase
	}
}

// consumeOnce runs a single consume session on the current channel. Returns
// nil on context cancellation and a transport error when the delivery stream
// closes underneath us.
func (b *RabbitMQ) consumeOnce(ctx context.Context, queue string, prefetch int, handler interfaces.Handler) error {
	b.mu.Lock()
	ch := b.channel
	b.mu.Unlock()

	if ch == nil || ch.IsClosed() {
		return dserrors.New(dserrors.KindTransport, "consume on closed channel")
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		return dserrors.Wrap(dserrors.KindTransport, "set qos", err)
	}

	deliveries, err := ch.Consume(
		queue,
		"",    // consumer tag auto-generated
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return dserrors.Wrap(dserrors.KindTransport, "consume "+queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return dserrors.New(dserrors.KindTransport, "delivery stream closed")
			}
			verdict := handler(ctx, d.Body, interfaces.DeliveryMeta{
				Queue:       queue,
				Priority:    d.Priority,
				Redelivered: d.Redelivered,
			})
			switch verdict {
			case interfaces.AckOK:
				if err := d.Ack(false); err != nil {
					b.logger.Error().Err(err).Str("queue", queue).Msg("Ack failed")
				}
			case interfaces.NackRequeue:
				if err := d.Nack(false, true); err != nil {
					b.logger.Error().Err(err).Str("queue", queue).Msg("Nack(requeue) failed")
				}
			default:
				if err := d.Nack(false, false); err != nil {
					b.logger.Error().Err(err).Str("queue", queue).Msg("Nack(discard) failed")
				}
			}
		}
	}
}
