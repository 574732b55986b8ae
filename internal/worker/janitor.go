package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper deletes job files older than a cutoff.
type Sweeper interface {
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// Janitor bounds disk usage by removing finished job directories after TTL.
type Janitor struct {
	sweeper  Sweeper
	ttl      time.Duration
	interval time.Duration
	logger   logrus.FieldLogger
	now      func() time.Time

	wg sync.WaitGroup
}

func NewJanitor(sweeper Sweeper, ttl, interval time.Duration, logger logrus.FieldLogger) *Janitor {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Janitor{
		sweeper:  sweeper,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Start launches the sweep loop and returns immediately. The loop stops when
// ctx is done. A non-positive TTL disables sweeping.
func (j *Janitor) Start(ctx context.Context) {
	if j.ttl <= 0 {
		j.logger.Info("artifact sweeping disabled")
		return
	}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.loop(ctx)
	}()
}

func (j *Janitor) Wait() {
	j.wg.Wait()
}

func (j *Janitor) loop(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.SweepOnce(ctx)
		}
	}
}

func (j *Janitor) SweepOnce(ctx context.Context) int {
	removed, err := j.sweeper.Sweep(ctx, j.now().Add(-j.ttl))
	if err != nil {
		j.logger.WithError(err).Warn("artifact sweep failed")
	}
	if removed > 0 {
		j.logger.WithField("removed", removed).Info("artifact sweep")
	}
	return removed
}
