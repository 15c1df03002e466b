package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/processtalk/bpmnflow/internal/rabbitmq"
)

// Transport moves envelope bytes between producers and workers.
type Transport interface {
	DeclareQueue(name string) error
	Publish(ctx context.Context, queue string, body []byte) error
	Subscribe(ctx context.Context, queue string, handler func(ctx context.Context, body []byte) error) error
	Close() error
}

// AMQPTransport is the production transport over RabbitMQ.
type AMQPTransport struct {
	publisher *rabbitmq.Publisher
	consumer  *rabbitmq.Consumer
}

// NewAMQPTransport creates a transport from a publisher and consumer pair.
func NewAMQPTransport(publisher *rabbitmq.Publisher, consumer *rabbitmq.Consumer) *AMQPTransport {
	return &AMQPTransport{publisher: publisher, consumer: consumer}
}

func (t *AMQPTransport) DeclareQueue(name string) error {
	return t.publisher.DeclareQueue(name)
}

func (t *AMQPTransport) Publish(ctx context.Context, queue string, body []byte) error {
	return t.publisher.Publish(ctx, queue, body)
}

func (t *AMQPTransport) Subscribe(ctx context.Context, queue string, handler func(ctx context.Context, body []byte) error) error {
	return t.consumer.Subscribe(ctx, queue, rabbitmq.MessageHandler(handler))
}

func (t *AMQPTransport) Close() error {
	err := t.consumer.Close()
	if perr := t.publisher.Close(); perr != nil && err == nil {
		err = perr
	}
	return err
}

// MemoryTransport delivers messages synchronously within the process.
// Publish invokes the subscribed handler inline, so a whole chained run
// completes before Publish returns. Messages published before a
// subscriber exists are buffered and delivered on Subscribe.
type MemoryTransport struct {
	mu       sync.Mutex
	handlers map[string]func(ctx context.Context, body []byte) error
	pending  map[string][][]byte
	closed   bool
}

// NewMemoryTransport creates an empty in-process transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		handlers: make(map[string]func(ctx context.Context, body []byte) error),
		pending:  make(map[string][][]byte),
	}
}

func (t *MemoryTransport) DeclareQueue(name string) error {
	return nil
}

func (t *MemoryTransport) Publish(ctx context.Context, queue string, body []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("memory transport closed")
	}
	handler, ok := t.handlers[queue]
	if !ok {
		t.pending[queue] = append(t.pending[queue], body)
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	return handler(ctx, body)
}

func (t *MemoryTransport) Subscribe(ctx context.Context, queue string, handler func(ctx context.Context, body []byte) error) error {
	t.mu.Lock()
	t.handlers[queue] = handler
	buffered := t.pending[queue]
	delete(t.pending, queue)
	t.mu.Unlock()

	for _, body := range buffered {
		if err := handler(ctx, body); err != nil {
			return err
		}
	}
	return nil
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
