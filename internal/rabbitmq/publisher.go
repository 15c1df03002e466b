package rabbitmq

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes persistent messages to queues with broker
// confirmation. A single confirming channel is shared and guarded by a
// mutex so confirmations map to publishes one to one.
type Publisher struct {
	conns          *ConnectionManager
	mu             sync.Mutex
	ch             *amqp.Channel
	confirms       chan amqp.Confirmation
	confirmTimeout time.Duration
	closed         bool
}

// PublisherOption configures the publisher.
type PublisherOption func(*Publisher)

// WithConfirmTimeout sets how long to wait for a broker confirmation.
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.confirmTimeout = timeout
	}
}

// NewPublisher creates a publisher over the given connection manager.
func NewPublisher(conns *ConnectionManager, options ...PublisherOption) *Publisher {
	p := &Publisher{
		conns:          conns,
		confirmTimeout: 5 * time.Second,
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// DeclareQueue declares a durable queue.
func (p *Publisher) DeclareQueue(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}

	_, err = ch.QueueDeclare(name, true, false, false, false, nil)
	if err != nil {
		p.dropChannel()
		return &PublishError{Queue: name, Err: err, Timestamp: time.Now()}
	}
	return nil
}

// Publish sends body to the queue as a persistent JSON message and waits
// for the broker to confirm it.
func (p *Publisher) Publish(ctx context.Context, queue string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPublisherClosed
	}

	ch, err := p.channel()
	if err != nil {
		return &PublishError{Queue: queue, Err: err, Timestamp: time.Now()}
	}

	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		p.dropChannel()
		return &PublishError{Queue: queue, Err: err, Timestamp: time.Now()}
	}

	select {
	case confirm, ok := <-p.confirms:
		if !ok {
			p.dropChannel()
			return &PublishError{Queue: queue, Err: ErrConnectionClosed, Timestamp: time.Now()}
		}
		if !confirm.Ack {
			return &PublishError{Queue: queue, Err: ErrPublishNotConfirmed, Timestamp: time.Now()}
		}
		return nil

	case <-time.After(p.confirmTimeout):
		p.dropChannel()
		return &PublishError{Queue: queue, Err: ErrConfirmTimeout, Timestamp: time.Now()}

	case <-ctx.Done():
		return ctx.Err()
	}
}

// channel returns the confirming channel, opening one if needed. Caller
// holds p.mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}

	ch, err := p.conns.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, err
	}

	p.ch = ch
	p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	return ch, nil
}

// dropChannel discards a channel in unknown state. Caller holds p.mu.
func (p *Publisher) dropChannel() {
	if p.ch != nil {
		p.ch.Close()
		p.ch = nil
	}
}

// Close releases the publisher channel.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.ch != nil {
		err := p.ch.Close()
		p.ch = nil
		return err
	}
	return nil
}
