package dlq

import (
	"context"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"media-ingest/internal/broker"
	"media-ingest/internal/logging"
	"media-ingest/internal/messages"
	"media-ingest/internal/metrics"
)

const (
	pollInterval = 1 * time.Second
	// emptyConfirmDelay guards against declaring the DLQ drained while
	// the broker is still routing: the queue must read empty across
	// two checks this far apart.
	emptyConfirmDelay = 5 * time.Second
	// stuckTimeout aborts recovery when the queue is non-empty but no
	// message has moved.
	stuckTimeout = 30 * time.Second
)

// brokerConn is the slice of the broker the recoverer uses.
type brokerConn interface {
	Channel() (*amqp.Channel, error)
	QueueDepth(queue string) (int, error)
	PublishRaw(ctx context.Context, queue string, pub amqp.Publishing) error
}

// Recoverer drains the DLQ once, at startup, before the consumers are
// registered.
type Recoverer struct {
	broker brokerConn
}

// New creates a Recoverer.
func New(b *broker.Broker) *Recoverer {
	return &Recoverer{broker: b}
}

// Run consumes the DLQ with prefetch 1 until it stays empty. It
// returns an error when recovery stalls or the context is cancelled.
func (r *Recoverer) Run(ctx context.Context) error {
	ch, err := r.broker.Channel()
	if err != nil {
		return fmt.Errorf("failed to open DLQ channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set DLQ prefetch: %w", err)
	}
	deliveries, err := ch.Consume(messages.QueueDLQ, "dlq-recovery", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume DLQ: %w", err)
	}

	logging.Info("Starting DLQ recovery")
	recovered := 0
	lastProgress := time.Now()
	var emptySince time.Time

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("DLQ consumer channel closed after %d messages", recovered)
			}
			if err := r.recoverOne(ctx, d); err != nil {
				logging.Error("Failed to recover DLQ message: %v", err)
				if nackErr := d.Nack(false, true); nackErr != nil {
					return fmt.Errorf("failed to return message to DLQ: %w", nackErr)
				}
				continue
			}
			recovered++
			lastProgress = time.Now()
			emptySince = time.Time{}

		case <-ticker.C:
			depth, err := r.broker.QueueDepth(messages.QueueDLQ)
			if err != nil {
				logging.Warn("Failed to inspect DLQ depth: %v", err)
				continue
			}
			if depth == 0 {
				if emptySince.IsZero() {
					emptySince = time.Now()
				} else if time.Since(emptySince) >= emptyConfirmDelay {
					logging.Info("DLQ recovery complete: %d messages republished", recovered)
					return nil
				}
				continue
			}
			emptySince = time.Time{}
			if time.Since(lastProgress) >= stuckTimeout {
				return fmt.Errorf("DLQ recovery stalled with %d messages remaining after %d recovered", depth, recovered)
			}
		}
	}
}

// recoverOne republishes a single dead-lettered message to its origin
// queue and acks it. The publish comes first; the ack never uses the
// caller's context.
func (r *Recoverer) recoverOne(ctx context.Context, d amqp.Delivery) error {
	queue, ok := originQueue(d)
	if !ok {
		// Unroutable messages stay in the DLQ for manual review. They
		// are requeued, never dropped; the stuck detector ends the run
		// when nothing else moves.
		metrics.DLQUnroutable.Inc()
		return fmt.Errorf("unroutable DLQ message (no MessageType, no x-death): %d bytes", len(d.Body))
	}

	pub := amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         d.Body,
		Headers:      recoveryHeaders(d.Headers),
	}
	if err := r.broker.PublishRaw(ctx, queue, pub); err != nil {
		return err
	}
	if err := d.Ack(false); err != nil {
		return fmt.Errorf("republished to %s but failed to ack: %w", queue, err)
	}
	metrics.DLQRecovered.WithLabelValues(queue).Inc()
	logging.Debug("Recovered DLQ message to %s", queue)
	return nil
}

// originQueue resolves the queue a dead-lettered message came from.
// The MessageType header survives the dead-letter hop and is
// authoritative; the broker's x-death record covers messages published
// without one. When the two disagree the MessageType wins and the
// mismatch is logged.
func originQueue(d amqp.Delivery) (string, bool) {
	typed, typedOK := queueFromType(d)
	dead, deadOK := queueFromDeath(d)
	if typedOK {
		if deadOK && dead != typed {
			logging.Warn("DLQ message headers disagree: MessageType maps to %s, x-death records %s; using %s", typed, dead, typed)
		}
		return typed, true
	}
	return dead, deadOK
}

func queueFromType(d amqp.Delivery) (string, bool) {
	raw, ok := d.Headers[broker.MessageTypeHeader]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	if !ok {
		return "", false
	}
	return messages.QueueFor(messages.MessageType(s))
}

func queueFromDeath(d amqp.Delivery) (string, bool) {
	deaths, ok := d.Headers["x-death"].([]interface{})
	if !ok || len(deaths) == 0 {
		return "", false
	}
	death, ok := deaths[0].(amqp.Table)
	if !ok {
		return "", false
	}
	queue, ok := death["queue"].(string)
	if !ok || queue == "" || queue == messages.QueueDLQ {
		return "", false
	}
	return queue, true
}

// recoveryHeaders strips the dead-letter bookkeeping and marks the
// message as recovered. Carrying x-death forward would make the next
// dead-letter hop look like a repeat of this one.
func recoveryHeaders(h amqp.Table) amqp.Table {
	out := amqp.Table{}
	for k, v := range h {
		if k == "x-death" || strings.HasPrefix(k, "x-first-death") || strings.HasPrefix(k, "x-last-death") {
			continue
		}
		out[k] = v
	}
	out["x-recovered-from-dlq"] = true
	out["x-recovered-at"] = time.Now().UTC().Format(time.RFC3339)
	return out
}
