package mq

import (
	"github.com/rabbitmq/amqp091-go"

	"github.com/AbuAli85/business-services-hub-sub011/pkg/apperr"
)

const (
	// ExchangeName is the topic exchange every progress message goes through.
	ExchangeName = "bookings.progress"

	RoutingProgressUpdated     = "progress.updated"
	RoutingNotificationCreated = "notification.created"
)

// NewConnection dials the broker. Dial failures are transient so callers
// may retry startup.
func NewConnection(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, apperr.Transient(err, "failed to connect to RabbitMQ")
	}
	return conn, nil
}

func declareTopic(ch *amqp091.Channel, name string) error {
	return ch.ExchangeDeclare(name, "topic", true, false, false, false, nil)
}

// DeclareExchange declares the main and dead letter exchanges.
func DeclareExchange(ch *amqp091.Channel) error {
	if err := declareTopic(ch, ExchangeName); err != nil {
		return err
	}
	return declareTopic(ch, DLQExchangeName)
}
