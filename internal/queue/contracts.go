package queue

import (
	"context"
	"errors"

	"github.com/iago/storybook-back/internal/domain"
)

var (
	ErrQueueFull   = errors.New("job queue is full")
	ErrQueueClosed = errors.New("job queue is closed")
)

// Producer hands storybook submissions to the workers.
type Producer interface {
	Enqueue(ctx context.Context, message domain.QueueMessage) error
}

// Consumer delivers submissions to a handler until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage)) error
}

// Drainer hands back submissions still buffered once consumers have stopped.
type Drainer interface {
	Drain() []domain.QueueMessage
}
