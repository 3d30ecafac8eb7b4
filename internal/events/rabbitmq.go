package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config names the broker topology.
type Config struct {
	URL string

	// Exchange is the topic exchange for lifecycle events.
	Exchange string

	// DelayExchange is an x-delayed-message exchange (requires the
	// rabbitmq_delayed_message_exchange plugin).
	DelayExchange string

	// PaymentCheckQueue receives delayed payment.check events.
	PaymentCheckQueue string

	// DeadLetterExchange receives rejected payment checks.
	DeadLetterExchange string
}

// RabbitMQ publishes events over AMQP 0.9.1.
type RabbitMQ struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	cfg    Config
	logger *slog.Logger

	// amqp channels are not safe for concurrent publishes
	mu sync.Mutex
}

// Dial connects to the broker and declares the topology.
func Dial(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}

	r := &RabbitMQ{conn: conn, ch: ch, cfg: cfg, logger: logger}
	if err := r.setup(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQ) setup() error {
	if err := r.ch.ExchangeDeclare(
		r.cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("rabbitmq: declare exchange %s: %w", r.cfg.Exchange, err)
	}

	if err := r.ch.ExchangeDeclare(
		r.cfg.DeadLetterExchange,
		"fanout",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("rabbitmq: declare dead letter exchange: %w", err)
	}

	if err := r.ch.ExchangeDeclare(
		r.cfg.DelayExchange,
		"x-delayed-message",
		true,
		false,
		false,
		false,
		amqp.Table{"x-delayed-type": "direct"},
	); err != nil {
		return fmt.Errorf("rabbitmq: declare delay exchange (is the delayed message plugin enabled?): %w", err)
	}

	if _, err := r.ch.QueueDeclare(
		r.cfg.PaymentCheckQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-dead-letter-exchange": r.cfg.DeadLetterExchange},
	); err != nil {
		return fmt.Errorf("rabbitmq: declare queue %s: %w", r.cfg.PaymentCheckQueue, err)
	}

	if err := r.ch.QueueBind(
		r.cfg.PaymentCheckQueue,
		TypePaymentCheck,
		r.cfg.DelayExchange,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("rabbitmq: bind queue %s: %w", r.cfg.PaymentCheckQueue, err)
	}

	return nil
}

func (r *RabbitMQ) publish(ctx context.Context, exchange string, e Event, headers amqp.Table) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("rabbitmq: encode event: %w", err)
	}

	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.OccurredAt,
		ContentType:  "application/json",
		MessageId:    e.ID,
		Type:         e.Type,
		Headers:      headers,
		Body:         body,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ch.PublishWithContext(ctx,
		exchange,
		e.Type, // routing key
		false,  // mandatory
		false,  // immediate
		msg,
	)
}

// Publish sends e to the lifecycle exchange.
func (r *RabbitMQ) Publish(ctx context.Context, e Event) error {
	return r.publish(ctx, r.cfg.Exchange, e, nil)
}

// PublishDelayed sends e through the delay exchange.
func (r *RabbitMQ) PublishDelayed(ctx context.Context, e Event, delay time.Duration) error {
	return r.publish(ctx, r.cfg.DelayExchange, e, amqp.Table{"x-delay": delay.Milliseconds()})
}

// ConsumePaymentChecks streams delayed payment.check events until ctx is
// cancelled. Malformed messages are dead-lettered.
func (r *RabbitMQ) ConsumePaymentChecks(ctx context.Context) (<-chan Delivery, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: open consumer channel: %w", err)
	}
	if err := ch.Qos(10, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("rabbitmq: set qos: %w", err)
	}

	msgs, err := ch.ConsumeWithContext(ctx,
		r.cfg.PaymentCheckQueue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("rabbitmq: consume %s: %w", r.cfg.PaymentCheckQueue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for msg := range msgs {
			var e Event
			if err := json.Unmarshal(msg.Body, &e); err != nil {
				r.logger.Warn("dropping malformed event", "message_id", msg.MessageId, "error", err)
				_ = msg.Nack(false, false)
				continue
			}
			d := NewDelivery(e,
				func() error { return msg.Ack(false) },
				func(requeue bool) error { return msg.Nack(false, requeue) },
			)
			select {
			case out <- d:
			case <-ctx.Done():
				_ = msg.Nack(false, true)
				return
			}
		}
	}()
	return out, nil
}

// Close closes the channel and connection.
func (r *RabbitMQ) Close() {
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		_ = r.conn.Close()
	}
}
