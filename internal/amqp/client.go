// Package amqp connects the service to RabbitMQ. One durable direct exchange
// carries two queues: mutation events drained from the outbox, and
// process-month commands consumed by the recurring worker.
package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"centime/internal/log"
	"centime/internal/storage"
)

type Client struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	eventQueue   string
	commandQueue string
}

func NewClient(url, exchangeName, eventQueue, commandQueue string) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		eventQueue:   eventQueue,
		commandQueue: commandQueue,
	}

	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queues: %w", err)
	}

	return client, nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	for _, queue := range []string{c.eventQueue, c.commandQueue} {
		_, err = c.channel.QueueDeclare(
			queue, // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}

		// Routing key mirrors the queue name on a direct exchange
		if err := c.channel.QueueBind(queue, queue, c.exchangeName, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}

	return nil
}

// PublishMutationEvent publishes one outbox entry as a persistent event.
func (c *Client) PublishMutationEvent(ctx context.Context, entry storage.OutboxEntry) error {
	msg := &MutationEventMessage{
		EventID:   entry.ID,
		UserID:    entry.UserID,
		Entity:    entry.Entity,
		EntityID:  entry.EntityID,
		Operation: entry.Operation,
		Payload:   entry.Payload,
		Timestamp: time.Now(),
	}
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal mutation event: %w", err)
	}

	if err := c.publish(ctx, c.eventQueue, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Published mutation event",
		"event_id", entry.ID,
		"entity", entry.Entity,
		log.FieldOperation, entry.Operation,
		"queue", c.eventQueue)

	return nil
}

// PublishProcessMonth publishes a materialization command for the worker.
func (c *Client) PublishProcessMonth(ctx context.Context, userID, month string) error {
	body, err := NewProcessMonthMessage(userID, month).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal process-month command: %w", err)
	}

	if err := c.publish(ctx, c.commandQueue, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Published process-month command",
		log.FieldUserID, userID,
		log.FieldMonth, month,
		"queue", c.commandQueue)

	return nil
}

func (c *Client) publish(ctx context.Context, routingKey string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// ConsumeProcessMonth consumes materialization commands with manual acks.
// Handler failures nack with requeue; undecodable messages are dropped.
func (c *Client) ConsumeProcessMonth(ctx context.Context, handler func(*ProcessMonthMessage) error) error {
	msgs, err := c.channel.Consume(
		c.commandQueue, // queue
		"",             // consumer
		false,          // auto-ack (we want manual ack)
		false,          // exclusive
		false,          // no-local
		false,          // no-wait
		nil,            // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming process-month commands", "queue", c.commandQueue)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping command consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			msg, err := ProcessMonthMessageFromJSON(delivery.Body)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to unmarshal command", log.FieldError, err)
				delivery.Nack(false, false) // reject and don't requeue
				continue
			}

			slog.InfoContext(ctx, "Processing materialization command",
				log.FieldUserID, msg.UserID,
				log.FieldMonth, msg.Month)

			if err := handler(msg); err != nil {
				slog.ErrorContext(ctx, "Failed to handle command",
					log.FieldError, err,
					log.FieldUserID, msg.UserID,
					log.FieldMonth, msg.Month)
				delivery.Nack(false, true) // reject and requeue
				continue
			}

			delivery.Ack(false)
		}
	}
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
