// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/authd/pkg/errutil"
)

// Queue defaults.
const (
	DefaultQueueSize       = 256
	DefaultDeliveryTimeout = 30 * time.Second
)

// QueueSender hands messages to a background worker so callers return
// before the underlying Sender finishes, retries included.
type QueueSender struct {
	next    Sender
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	jobs   chan Message
	done   chan struct{}
}

// NewQueueSender starts a worker delivering through next. size bounds the
// number of messages waiting for delivery.
func NewQueueSender(next Sender, logger *slog.Logger, size int) (*QueueSender, error) {
	if next == nil {
		return nil, oops.Errorf("mail sender is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	if size <= 0 {
		return nil, oops.Code("MAIL_CONFIG_INVALID").With("size", size).Errorf("queue size must be positive")
	}
	q := &QueueSender{
		next:    next,
		logger:  logger,
		timeout: DefaultDeliveryTimeout,
		jobs:    make(chan Message, size),
		done:    make(chan struct{}),
	}
	go q.run()
	return q, nil
}

// Send enqueues msg. It fails without blocking when the queue is full or closed.
func (q *QueueSender) Send(_ context.Context, msg Message) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return oops.Code("MAIL_QUEUE_CLOSED").Errorf("mail queue is closed")
	}
	select {
	case q.jobs <- msg:
		return nil
	default:
		return oops.Code("MAIL_QUEUE_FULL").With("size", cap(q.jobs)).Errorf("mail queue is full")
	}
}

// Close stops accepting messages and waits for queued ones to be delivered
// or for ctx to end. It is safe to call more than once.
func (q *QueueSender) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return oops.Code("MAIL_QUEUE_DRAIN_FAILED").
			With("pending", len(q.jobs)).
			Wrap(ctx.Err())
	}
}

func (q *QueueSender) run() {
	defer close(q.done)
	for msg := range q.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err := q.next.Send(ctx, msg)
		cancel()
		if err != nil {
			// The recipient stays out of the log on failure paths.
			errutil.LogError(q.logger.With("event", "mail_delivery_failed", "subject", msg.Subject),
				"queued mail delivery failed", err)
		}
	}
}
