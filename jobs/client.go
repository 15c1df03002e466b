package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrAwaitTimeout is returned by Handle.Await when no result appears
// within the wait budget.
var ErrAwaitTimeout = errors.New("jobs: timed out waiting for result")

// QueueName returns the queue a task is routed to.
func QueueName(task string) string {
	return "bpmnflow.task." + task
}

// Client enqueues task envelopes and hands out handles to await their
// results.
type Client struct {
	transport Transport
	store     ResultStore
	logger    *slog.Logger
	poll      time.Duration
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithClientLogger sets the logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithPollInterval sets how often Await checks the result store.
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.poll = d
	}
}

// NewClient creates a client over the given transport and result store.
func NewClient(transport Transport, store ResultStore, options ...ClientOption) *Client {
	c := &Client{
		transport: transport,
		store:     store,
		logger:    slog.Default(),
		poll:      100 * time.Millisecond,
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Enqueue publishes the envelope to its task queue and returns a handle
// for awaiting the result.
func (c *Client) Enqueue(ctx context.Context, env *Envelope) (*Handle, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	queue := QueueName(env.Task)
	if err := c.transport.DeclareQueue(queue); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := c.transport.Publish(ctx, queue, body); err != nil {
		return nil, fmt.Errorf("enqueue task %s: %w", env.Task, err)
	}

	c.logger.Debug("task enqueued",
		"taskId", env.ID,
		"task", env.Task)

	return &Handle{id: env.ID, store: c.store, poll: c.poll}, nil
}

// Handle refers to an enqueued task and can await its stored result.
type Handle struct {
	id    string
	store ResultStore
	poll  time.Duration
}

// ID returns the task id the handle refers to.
func (h *Handle) ID() string { return h.id }

// Await polls the result store until a result appears or the wait budget
// runs out. ErrAwaitTimeout reports an absent result; a present result is
// returned as-is, including failed ones. The execution log is stripped
// unless withLogs is set.
func (h *Handle) Await(ctx context.Context, timeout time.Duration, withLogs bool) (*Result, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()

	for {
		result, err := h.store.Load(waitCtx, h.id)
		if err == nil {
			if !withLogs {
				result.Log = ""
			}
			return result, nil
		}
		if !errors.Is(err, ErrResultNotFound) {
			return nil, err
		}

		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrAwaitTimeout
		}
	}
}
