package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iago/storybook-back/internal/domain"
	"github.com/iago/storybook-back/internal/queue"
)

// JobRunner executes one storybook job to a terminal state.
type JobRunner interface {
	Run(ctx context.Context, message domain.QueueMessage)
}

// Abandoner closes out a job that was accepted but will never run.
type Abandoner interface {
	Abandon(message domain.QueueMessage, cause error)
}

var errShuttingDown = errors.New("server shutting down")

// Processor drains the queue with a fixed number of consumers, which is the
// ceiling on concurrently running jobs.
type Processor struct {
	consumer    queue.Consumer
	runner      JobRunner
	concurrency int
	logger      logrus.FieldLogger

	wg sync.WaitGroup
}

func NewProcessor(
	consumer queue.Consumer,
	runner JobRunner,
	concurrency int,
	logger logrus.FieldLogger,
) *Processor {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Processor{
		consumer:    consumer,
		runner:      runner,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Start launches the consumers and returns immediately. Use Wait after
// cancelling ctx.
func (p *Processor) Start(ctx context.Context) {
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go func(slot int) {
			defer p.wg.Done()
			p.consumeLoop(ctx, p.logger.WithField("worker", slot))
		}(i + 1)
	}
	p.logger.WithField("concurrency", p.concurrency).Info("storybook workers started")
}

// Wait blocks until every consumer has returned, then fails whatever is
// still buffered so no accepted job stays queued forever.
func (p *Processor) Wait() {
	p.wg.Wait()
	p.abandonPending()
}

func (p *Processor) abandonPending() {
	drainer, ok := p.consumer.(queue.Drainer)
	if !ok {
		return
	}
	pending := drainer.Drain()
	if len(pending) == 0 {
		return
	}
	abandoner, ok := p.runner.(Abandoner)
	if !ok {
		p.logger.WithField("jobs", len(pending)).Warn("dropping queued jobs at shutdown")
		return
	}
	for _, message := range pending {
		abandoner.Abandon(message, errShuttingDown)
	}
	p.logger.WithField("jobs", len(pending)).Info("queued jobs failed at shutdown")
}

func (p *Processor) consumeLoop(ctx context.Context, logger logrus.FieldLogger) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, func(ctx context.Context, message domain.QueueMessage) {
			logger.WithField("job_id", message.JobID).Debug("job picked up")
			p.runner.Run(ctx, message)
		})
		if err == nil || ctx.Err() != nil || errors.Is(err, queue.ErrQueueClosed) {
			return
		}
		logger.WithError(err).Error("worker consume loop error")

		timer := time.NewTimer(2 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
