package queue

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/iago/storybook-back/internal/domain"
)

// LocalQueue is an in-process bounded queue. Enqueue never blocks: a full
// buffer is reported to the caller so the submission can be rejected.
type LocalQueue struct {
	ch     chan domain.QueueMessage
	logger logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
}

func NewLocalQueue(bufferSize int, logger logrus.FieldLogger) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LocalQueue{
		ch:     make(chan domain.QueueMessage, bufferSize),
		logger: logger,
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ch <- message:
		return nil
	default:
		q.logger.WithFields(logrus.Fields{
			"job_id":   message.JobID,
			"capacity": cap(q.ch),
		}).Warn("local queue full")
		return ErrQueueFull
	}
}

// Consume runs handler for each message, one at a time, until ctx is done
// or the queue is closed and drained.
func (q *LocalQueue) Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message, ok := <-q.ch:
			if !ok {
				return ErrQueueClosed
			}
			handler(ctx, message)
		}
	}
}

// Close stops accepting submissions. Consumers finish what is buffered.
func (q *LocalQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Drain removes and returns every buffered message without blocking.
func (q *LocalQueue) Drain() []domain.QueueMessage {
	var pending []domain.QueueMessage
	for {
		select {
		case message, ok := <-q.ch:
			if !ok {
				return pending
			}
			pending = append(pending, message)
		default:
			return pending
		}
	}
}

func (q *LocalQueue) Len() int {
	return len(q.ch)
}

func (q *LocalQueue) Capacity() int {
	return cap(q.ch)
}
