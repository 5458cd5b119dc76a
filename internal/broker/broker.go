package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"media-ingest/internal/jobs"
	"media-ingest/internal/logging"
	"media-ingest/internal/messages"
	"media-ingest/internal/metrics"
)

// MessageTypeHeader carries the envelope type on every published
// message. DLQ recovery reads it to find the origin queue.
const MessageTypeHeader = "MessageType"

// DLXName is the dead-letter exchange every work queue points at.
const DLXName = "media-ingest.dlx"

// Broker wraps one AMQP connection with a shared publisher channel.
type Broker struct {
	conn *amqp.Connection

	mu sync.Mutex // guards pub
	ch *amqp.Channel
}

// Connect dials the broker and opens the publisher channel.
func Connect(url string) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open publisher channel: %w", err)
	}

	logging.Info("Connected to broker")
	return &Broker{conn: conn, ch: ch}, nil
}

// Close shuts down the connection and all channels on it.
func (b *Broker) Close() error {
	return b.conn.Close()
}

// DeclareTopology declares the dead-letter exchange, the DLQ, and
// every work queue with its dead-letter binding. Work queues carry a
// per-message TTL: a message that sits unconsumed for the full TTL is
// dead-lettered instead of silently aging forever. The TTL is long
// enough to survive an operator restart.
func (b *Broker) DeclareTopology(dlqTTL time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ch.ExchangeDeclare(DLXName, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLX: %w", err)
	}

	if _, err := b.ch.QueueDeclare(messages.QueueDLQ, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}
	if err := b.ch.QueueBind(messages.QueueDLQ, "", DLXName, false, nil); err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange": DLXName,
		"x-message-ttl":          dlqTTL.Milliseconds(),
	}
	for _, queue := range messages.WorkQueues() {
		if _, err := b.ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", queue, err)
		}
	}
	logging.Info("Broker topology declared: %d work queues, DLQ %s", len(messages.WorkQueues()), messages.QueueDLQ)
	return nil
}

// Publish serializes the body as JSON and sends it durably to the
// queue mapped for the message type.
func (b *Broker) Publish(ctx context.Context, msgType messages.MessageType, body interface{}) error {
	queue, ok := messages.QueueFor(msgType)
	if !ok {
		return fmt.Errorf("no queue mapped for message type %s", msgType)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", msgType, err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         data,
		Headers:      amqp.Table{MessageTypeHeader: string(msgType)},
	}
	return b.PublishRaw(ctx, queue, pub)
}

// PublishRaw sends a prepared publishing to a queue through the
// default exchange. DLQ recovery uses it to republish messages with
// their original bodies.
func (b *Broker) PublishRaw(ctx context.Context, queue string, pub amqp.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	metrics.MessagesPublished.WithLabelValues(queue).Inc()
	return nil
}

// Handler processes one delivery. The context is cancelled on
// shutdown; a handler may return early on cancellation and the
// unacknowledged message is redelivered.
type Handler func(ctx context.Context, d amqp.Delivery) error

// Consume starts consuming a queue on a dedicated channel with the
// given prefetch. Each delivery runs in its own goroutine, bounded by
// the prefetch window. The call returns after the consumer is
// registered; consumption stops when ctx is cancelled.
func (b *Broker) Consume(ctx context.Context, queue string, prefetch int, handler Handler) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel for %s: %w", queue, err)
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("failed to set prefetch for %s: %w", queue, err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to consume %s: %w", queue, err)
	}

	go func() {
		defer ch.Close()
		var wg sync.WaitGroup
		for {
			select {
			case <-ctx.Done():
				wg.Wait()
				return
			case d, ok := <-deliveries:
				if !ok {
					wg.Wait()
					return
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					b.dispatch(ctx, queue, d, handler)
				}()
			}
		}
	}()

	logging.Info("Consuming %s (prefetch %d)", queue, prefetch)
	return nil
}

// dispatch runs the handler and settles the delivery. Settlement never
// uses the shutdown context: losing a message to cancellation would be
// a correctness bug, so ack/nack always run to completion.
func (b *Broker) dispatch(ctx context.Context, queue string, d amqp.Delivery, handler Handler) {
	start := time.Now()
	err := handler(ctx, d)
	metrics.MessageHandleDuration.WithLabelValues(queue).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			logging.Error("Failed to ack on %s: %v", queue, ackErr)
			return
		}
		metrics.MessagesConsumed.WithLabelValues(queue, "ack").Inc()

	case isPoison(err):
		// Terminal for this message; the handler has recorded the
		// failure. Redelivery would loop forever.
		logging.Warn("Poison message on %s acked: %v", queue, err)
		if ackErr := d.Ack(false); ackErr != nil {
			logging.Error("Failed to ack poison on %s: %v", queue, ackErr)
			return
		}
		metrics.MessagesConsumed.WithLabelValues(queue, "poison").Inc()

	default:
		logging.Warn("Handler error on %s, requeueing: %v", queue, err)
		if nackErr := d.Nack(false, true); nackErr != nil {
			logging.Error("Failed to nack on %s: %v", queue, nackErr)
			return
		}
		metrics.MessagesConsumed.WithLabelValues(queue, "nack").Inc()
	}
}

func isPoison(err error) bool {
	_, ok := jobs.AsPoison(err)
	return ok
}

// QueueDepth returns the number of ready messages sitting in a queue.
func (b *Broker) QueueDepth(queue string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, err := b.ch.QueueDeclarePassive(queue, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect %s: %w", queue, err)
	}
	return q.Messages, nil
}

// Channel opens a fresh channel on the shared connection. The DLQ
// recovery loop needs its own prefetch-1 channel.
func (b *Broker) Channel() (*amqp.Channel, error) {
	return b.conn.Channel()
}
