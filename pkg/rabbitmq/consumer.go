/**
 * @description
 * This file provides the RabbitMQ consuming side for the subscription-service.
 * It sets up a durable topic exchange, a durable queue, and the binding
 * between them, then feeds message bodies to a handler function. The handler
 * decides the fate of each message: returning true acknowledges it, false
 * negative-acknowledges it for redelivery.
 */
package rabbitmq

import (
	"context"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer holds the connection and channel for RabbitMQ consumption.
type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewConsumer connects to RabbitMQ and opens a consuming channel.
func NewConsumer(amqpURL string) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch}, nil
}

// Consume binds a durable queue to a topic exchange and processes messages
// until the context is cancelled or the channel is closed. Messages are
// manually acknowledged based on the handler's verdict.
func (c *Consumer) Consume(ctx context.Context, exchange, queueName, routingKey string, handler func(body []byte) bool) error {
	err := c.ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return err
	}

	q, err := c.ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return err
	}

	if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		return err
	}

	msgs, err := c.ch.Consume(
		q.Name, // queue
		"",     // consumer
		false,  // auto-ack off, we acknowledge manually
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				// Delivery channel closed, either by Close() or a lost connection.
				return nil
			}
			log.Printf("Received a message with routing key: %s", d.RoutingKey)
			if handler(d.Body) {
				d.Ack(false)
			} else {
				log.Printf("Handler failed to process message. Re-queuing.")
				d.Nack(false, true)
			}
		}
	}
}

// Close closes the RabbitMQ channel and connection.
func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
