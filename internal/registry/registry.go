// Package registry tracks the live state of storybook jobs.
package registry

import (
	"context"
	"errors"

	"github.com/iago/storybook-back/internal/domain"
)

var (
	ErrNotFound      = errors.New("job not found")
	ErrAlreadyExists = errors.New("job already exists")
)

// Registry is safe for concurrent use. Update applies domain.Job.Apply
// atomically and returns the merged job.
type Registry interface {
	Create(ctx context.Context, job domain.Job) error
	Update(ctx context.Context, id string, update domain.JobUpdate) (domain.Job, error)
	Get(ctx context.Context, id string) (domain.Job, error)
	// Delete forgets a job. Unknown ids are not an error.
	Delete(ctx context.Context, id string) error
}
