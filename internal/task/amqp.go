package task

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const routingKeyPrefix = "task."

type AMQPConfig struct {
	URL      string
	Exchange string
	Queue    string
}

// Broker carries tasks over RabbitMQ so that the processes enqueueing tasks
// and the processes running them can be separated.
type Broker struct {
	conn     *amqp.Connection
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
	queue    string
}

// DialAMQP connects to RabbitMQ and declares the task exchange and queue.
func DialAMQP(c AMQPConfig) (*Broker, error) {
	conn, err := amqp.Dial(c.URL)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, stderrors.Join(fmt.Errorf("open channel: %w", err), conn.Close())
	}

	b := &Broker{conn: conn, ch: ch, exchange: c.Exchange, queue: c.Queue}
	if err := b.declare(); err != nil {
		return nil, stderrors.Join(err, b.Close())
	}

	return b, nil
}

func (b *Broker) declare() error {
	if err := b.ch.ExchangeDeclare(b.exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", b.exchange, err)
	}

	if _, err := b.ch.QueueDeclare(b.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", b.queue, err)
	}

	if err := b.ch.QueueBind(b.queue, routingKeyPrefix+"#", b.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", b.queue, err)
	}

	return nil
}

// Enqueue publishes a task and returns its ID.
func (b *Broker) Enqueue(ctx context.Context, name string, args any) (string, error) {
	t, err := NewTask(name, args)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encode task %s: %w", name, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	err = b.ch.PublishWithContext(ctx, b.exchange, routingKeyPrefix+name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    t.ID,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return "", fmt.Errorf("publish task %s: %w", name, err)
	}

	return t.ID, nil
}

// Consume feeds published tasks into q until ctx is done or the channel is closed.
func (b *Broker) Consume(ctx context.Context, q *Queue) error {
	b.mu.Lock()
	deliveries, err := b.ch.Consume(b.queue, "", false, false, false, false, nil)
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("consume %s: %w", b.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("consume %s: delivery channel closed", b.queue)
			}

			b.handle(ctx, q, d)
		}
	}
}

func (b *Broker) handle(ctx context.Context, q *Queue, d amqp.Delivery) {
	var t Task
	if err := json.Unmarshal(d.Body, &t); err != nil {
		slog.ErrorContext(ctx, "task: drop malformed delivery", "message_id", d.MessageId, "error", err)
		_ = d.Nack(false, false)
		return
	}

	if err := q.Submit(ctx, t); err != nil {
		slog.ErrorContext(ctx, "task: reject delivery", "task", t.Name, "id", t.ID, "error", err)
		_ = d.Nack(false, false)
		return
	}

	_ = d.Ack(false)
}

func (b *Broker) Close() error {
	var errs []error
	if b.ch != nil {
		errs = append(errs, b.ch.Close())
	}
	if b.conn != nil {
		errs = append(errs, b.conn.Close())
	}
	return stderrors.Join(errs...)
}
