package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageHandler processes a single delivery body. A nil return
// acknowledges the message; an error nacks it back onto the queue.
type MessageHandler func(ctx context.Context, body []byte) error

// Consumer consumes task queues with manual acknowledgement.
type Consumer struct {
	conns         *ConnectionManager
	prefetchCount int
	logger        *slog.Logger

	mu       sync.Mutex
	channels []*amqp.Channel
	closed   bool
}

// ConsumerOption configures the consumer.
type ConsumerOption func(*Consumer)

// WithPrefetchCount sets the per-channel prefetch count.
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetchCount = count
	}
}

// WithConsumerLogger sets the logger.
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a consumer over the given connection manager.
func NewConsumer(conns *ConnectionManager, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		conns:         conns,
		prefetchCount: 10,
		logger:        slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Subscribe starts consuming from queue on a dedicated channel. Delivery
// processing stops when ctx is cancelled or the channel closes.
func (c *Consumer) Subscribe(ctx context.Context, queue string, handler MessageHandler) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConsumerClosed
	}
	c.mu.Unlock()

	ch, err := c.conns.Channel()
	if err != nil {
		return &ConsumerError{Queue: queue, Op: "subscribe", Err: err, Timestamp: time.Now()}
	}

	if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
		ch.Close()
		return &ConsumerError{Queue: queue, Op: "qos", Err: err, Timestamp: time.Now()}
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return &ConsumerError{Queue: queue, Op: "consume", Err: err, Timestamp: time.Now()}
	}

	c.mu.Lock()
	c.channels = append(c.channels, ch)
	c.mu.Unlock()

	go c.processDeliveries(ctx, queue, deliveries, handler)

	c.logger.Info("subscribed to queue",
		"queue", queue,
		"prefetchCount", c.prefetchCount)

	return nil
}

func (c *Consumer) processDeliveries(ctx context.Context, queue string, deliveries <-chan amqp.Delivery, handler MessageHandler) {
	for {
		select {
		case <-ctx.Done():
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed", "queue", queue)
				return
			}
			c.handleDelivery(ctx, queue, delivery, handler)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, queue string, delivery amqp.Delivery, handler MessageHandler) {
	err := handler(ctx, delivery.Body)
	if err != nil {
		c.logger.Error("handler failed, requeueing delivery",
			"queue", queue,
			"error", err)
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to nack delivery", "queue", queue, "error", nackErr)
		}
		return
	}

	if ackErr := delivery.Ack(false); ackErr != nil {
		c.logger.Error("failed to ack delivery", "queue", queue, "error", ackErr)
	}
}

// Close stops all consumer channels.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	var firstErr error
	for _, ch := range c.channels {
		if err := ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.channels = nil
	return firstErr
}
