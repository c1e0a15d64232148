package mq

import (
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const DLQExchangeName = ExchangeName + ".dlq"

// DeadLetter describes a message that failed permanently.
type DeadLetter struct {
	RoutingKey string
	Queue      string
	Body       []byte
	Cause      error
	TraceID    string
	FailedAt   time.Time
}

func (d DeadLetter) headers() amqp091.Table {
	h := amqp091.Table{
		"x-original-queue": d.Queue,
		"x-failed-at":      d.FailedAt.UTC().Format(time.RFC3339Nano),
	}
	if d.Cause != nil {
		h["x-original-error"] = d.Cause.Error()
	}
	if d.TraceID != "" {
		h["X-Trace-ID"] = d.TraceID
	}
	return h
}

// DeadLetterQueueName is where failures for routingKey are parked for replay.
func DeadLetterQueueName(routingKey string) string {
	return routingKey + ".dlq"
}

// DeclareDLQQueue declares and binds the parking queue for routingKey.
func DeclareDLQQueue(ch *amqp091.Channel, routingKey string) (amqp091.Queue, error) {
	q, err := ch.QueueDeclare(DeadLetterQueueName(routingKey), true, false, false, false, nil)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, routingKey, DLQExchangeName, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to bind DLQ queue: %w", err)
	}
	return q, nil
}

// PublishToDLQ parks d on the dead letter exchange under its routing key.
func (p *Publisher) PublishToDLQ(d DeadLetter) error {
	if d.FailedAt.IsZero() {
		d.FailedAt = time.Now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.Publish(DLQExchangeName, d.RoutingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         d.Body,
		DeliveryMode: amqp091.Persistent,
		Headers:      d.headers(),
	})
}
