package registry

import (
	"context"
	"sync"
	"time"

	"github.com/iago/storybook-back/internal/domain"
)

type MemoryRegistry struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
	now  func() time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		jobs: make(map[string]domain.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRegistry) Create(_ context.Context, job domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return ErrAlreadyExists
	}
	r.jobs[job.ID] = job
	return nil
}

func (r *MemoryRegistry) Update(_ context.Context, id string, update domain.JobUpdate) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, exists := r.jobs[id]
	if !exists {
		return domain.Job{}, ErrNotFound
	}
	if err := job.Apply(update, r.now()); err != nil {
		return job, err
	}
	r.jobs[id] = job
	return job, nil
}

func (r *MemoryRegistry) Get(_ context.Context, id string) (domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, exists := r.jobs[id]
	if !exists {
		return domain.Job{}, ErrNotFound
	}
	return job, nil
}

func (r *MemoryRegistry) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
	return nil
}

var _ Registry = (*MemoryRegistry)(nil)
