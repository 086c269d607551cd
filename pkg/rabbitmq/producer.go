/**
 * @description
 * This file provides the RabbitMQ publishing side for the subscription-service.
 * Billing events (subscription created/cancelled/past_due) are published to a
 * durable topic exchange. The service must be able to start without a broker,
 * so a logging fallback publisher is provided for that case.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	Close()
}

// EventProducer publishes events to a RabbitMQ topic exchange.
type EventProducer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// FallbackPublisher is a no-op publisher used when RabbitMQ is unavailable at
// startup. It lets the service run and logs what would have been published.
type FallbackPublisher struct{}

// Publish logs the event instead of sending it.
func (p *FallbackPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	log.Printf("[MQ-FALLBACK] Would publish to exchange='%s' routingKey='%s' body=%v", exchange, routingKey, body)
	return nil
}

// Close is a no-op.
func (p *FallbackPublisher) Close() {}

// sanitizeAMQPURL trims stray quoting and leading junk from a configured
// broker URL and validates the scheme.
func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer connects to RabbitMQ and opens a publishing channel.
func NewEventProducer(amqpURL string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Bound the dial so startup does not hang on an unreachable broker.
	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch}, nil
}

// declareExchange ensures the durable topic exchange exists on the current
// channel.
func (p *EventProducer) declareExchange(exchange string) error {
	return p.channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	)
}

// reopenChannel replaces a broken channel with a fresh one on the same
// connection and re-declares the exchange.
func (p *EventProducer) reopenChannel(exchange string) error {
	if p.conn == nil {
		return errors.New("no connection to reopen channel on")
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	p.channel = ch
	return p.declareExchange(exchange)
}

// Publish sends a JSON-encoded message to the exchange with the given routing
// key. A failed publish gets one retry on a fresh channel before giving up.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	if err := p.declareExchange(exchange); err != nil {
		log.Printf("Failed to declare exchange '%s': %v. Attempting channel reopen...", exchange, err)
		if err := p.reopenChannel(exchange); err != nil {
			return err
		}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		log.Printf("Error marshalling event body: %v", err)
		return err
	}

	publishing := amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        jsonBody,
	}

	err = p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, publishing)
	if err != nil {
		log.Printf("Failed to publish a message to exchange '%s': %v", exchange, err)
		if reopenErr := p.reopenChannel(exchange); reopenErr != nil {
			return err
		}
		if retryErr := p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, publishing); retryErr != nil {
			return err
		}
		log.Printf("Successfully published message to exchange '%s' after retry", exchange)
		return nil
	}

	log.Printf("Successfully published message to exchange '%s' with routing key '%s'", exchange, routingKey)
	return nil
}

// Close closes the RabbitMQ channel and connection.
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
