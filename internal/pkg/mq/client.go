package mq

import (
	"fmt"

	"github.com/3Eeeecho/go-cloudvault/internal/pkg/logger"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// Queue lanes of the upload pipeline. Each stage consumes exactly one lane
// and enqueues only into the next stage's lane, so stages for one session
// run in strict sequence.
const (
	QueueAssemble  = "uploads.assemble"
	QueueValidate  = "uploads.validate"
	QueueRelay     = "uploads.relay"
	QueueThumbnail = "uploads.thumbnail"
)

// Publisher is the enqueue-side contract consumed by the services and
// workers; it lets tests substitute an in-memory recorder.
type Publisher interface {
	Publish(queueName string, body []byte) error
}

// RabbitMQClient wraps a RabbitMQ connection and channel.
type RabbitMQClient struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewRabbitMQClient dials the broker and opens a channel.
func NewRabbitMQClient(amqpURL string) (*RabbitMQClient, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	return &RabbitMQClient{
		conn:    conn,
		channel: ch,
	}, nil
}

// DeclareQueue declares a durable queue.
func (c *RabbitMQClient) DeclareQueue(queueName string) (amqp.Queue, error) {
	return c.channel.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
}

// Publish sends a persistent message to a specific queue.
func (c *RabbitMQClient) Publish(queueName string, body []byte) error {
	return c.channel.Publish(
		"",        // exchange (default)
		queueName, // routing key (queue name)
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
}

// Consume registers a handler for a queue; messages are acked manually
// by the handler.
func (c *RabbitMQClient) Consume(queueName string, handler func(msg amqp.Delivery)) error {
	msgs, err := c.channel.Consume(
		queueName,
		"",    // consumer
		false, // auto-ack (we ack manually)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register a consumer: %w", err)
	}

	go func() {
		for msg := range msgs {
			handler(msg)
		}
	}()

	logger.Info("Waiting for messages", zap.String("queue", queueName))
	return nil
}

// Close releases the channel and connection.
func (c *RabbitMQClient) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
