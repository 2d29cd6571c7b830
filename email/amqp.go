package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// publisher is the subset of *amqp.Channel used by AMQPSender.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSender hands messages to a mail relay through a RabbitMQ exchange.
// A nil error means the broker accepted the publish.
type AMQPSender struct {
	channel    publisher
	closer     func() error
	exchange   string
	routingKey string
}

// DialAMQP connects to url and declares a durable direct exchange.
func DialAMQP(url, exchange, routingKey string) (*AMQPSender, error) {
	if exchange == "" {
		return nil, errors.New("amqp exchange is required")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("error connecting to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("error creating channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("error declaring exchange: %w", err)
	}

	s := newAMQPSender(ch, exchange, routingKey)
	s.closer = func() error {
		if err := ch.Close(); err != nil {
			_ = conn.Close()
			return err
		}
		return conn.Close()
	}
	return s, nil
}

func newAMQPSender(ch publisher, exchange, routingKey string) *AMQPSender {
	return &AMQPSender{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
	}
}

func (s *AMQPSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode email message: %w", err)
	}

	err = s.channel.PublishWithContext(ctx, s.exchange, s.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish email to %s: %w", msg.To, err)
	}
	return nil
}

// Close closes the channel and the connection.
func (s *AMQPSender) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
