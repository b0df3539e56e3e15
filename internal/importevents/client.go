// Package importevents consumes billing batch-import notifications and turns
// them into revenue cache invalidations.
package importevents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

// Client owns one AMQP connection bound to the import queue.
type Client struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	queueName    string
	logger       *slog.Logger
}

// NewClient dials the broker and declares the exchange, queue and binding.
func NewClient(url, exchangeName, queueName string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
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
		queueName:    queueName,
		logger:       logger,
	}
	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}
	return client, nil
}

func (c *Client) setup() error {
	if err := c.channel.ExchangeDeclare(c.exchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := c.channel.QueueDeclare(c.queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	// routing key equals the queue name on the direct exchange
	if err := c.channel.QueueBind(c.queueName, c.queueName, c.exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return c.channel.Qos(1, 0, false)
}

// PublishImportCompleted announces a finished batch import.
func (c *Client) PublishImportCompleted(ctx context.Context, msg *ImportCompleted) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = c.channel.PublishWithContext(ctx, c.exchangeName, c.queueName, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    msg.EventID.String(),
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	c.logger.InfoContext(ctx, "published import completed",
		slog.String("event_id", msg.EventID.String()),
		slog.String("batch_id", msg.BatchID),
		slog.String("queue", c.queueName))
	return nil
}

// HandlerFunc processes one decoded event.
type HandlerFunc func(ctx context.Context, msg *ImportCompleted) error

// Consume delivers events to handler until ctx ends or the channel closes.
func (c *Client) Consume(ctx context.Context, handler HandlerFunc) error {
	msgs, err := c.channel.Consume(c.queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}
	c.logger.InfoContext(ctx, "consuming import events", slog.String("queue", c.queueName))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return errChannelClosed
			}
			settle(ctx, c.logger, delivery, handler)
		}
	}
}

// Close releases the channel and connection.
func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

var errChannelClosed = errors.New("importevents: delivery channel closed")

// Acknowledger is the part of amqp091.Delivery used to settle a message.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func settle(ctx context.Context, logger *slog.Logger, delivery amqp091.Delivery, handler HandlerFunc) {
	outcome(ctx, logger, delivery.Body, handler).apply(logger, delivery)
}

type settlement int

const (
	settleAck settlement = iota
	settleDrop
	settleRequeue
)

// outcome decodes and handles one body. Undecodable bodies are dropped,
// handler failures are requeued.
func outcome(ctx context.Context, logger *slog.Logger, body []byte, handler HandlerFunc) settlement {
	msg, err := ImportCompletedFromJSON(body)
	if err != nil {
		logger.ErrorContext(ctx, "decode import event", slog.Any("error", err))
		return settleDrop
	}
	if err := handler(ctx, msg); err != nil {
		logger.ErrorContext(ctx, "handle import event",
			slog.String("event_id", msg.EventID.String()), slog.Any("error", err))
		return settleRequeue
	}
	return settleAck
}

func (s settlement) apply(logger *slog.Logger, d Acknowledger) {
	var err error
	switch s {
	case settleAck:
		err = d.Ack(false)
	case settleDrop:
		err = d.Nack(false, false)
	case settleRequeue:
		err = d.Nack(false, true)
	}
	if err != nil {
		logger.Warn("settle import event", slog.Any("error", err))
	}
}
