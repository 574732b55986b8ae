package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iago/storybook-back/internal/ai"
	"github.com/iago/storybook-back/internal/domain"
	"github.com/iago/storybook-back/internal/queue"
	"github.com/iago/storybook-back/internal/registry"
	"github.com/iago/storybook-back/internal/repository"
	"github.com/iago/storybook-back/internal/storage"
)

var (
	ErrInvalidImage    = errors.New("No image file selected")
	ErrJobNotFound     = errors.New("Invalid job id")
	ErrNotReady        = errors.New("Not ready")
	ErrArtifactMissing = errors.New("File not found")
	ErrQueueFull       = errors.New("Server is busy, try again later")
)

type SubmitInput struct {
	Image  []byte
	Story  string
	Gender string
}

type StorybooksService struct {
	registry registry.Registry
	producer queue.Producer
	provider ai.ContentProvider
	store    *storage.ArtifactStore
	history  repository.BooksRepository
	logger   logrus.FieldLogger
	newID    func() string
	now      func() time.Time
}

func NewStorybooksService(
	reg registry.Registry,
	producer queue.Producer,
	provider ai.ContentProvider,
	store *storage.ArtifactStore,
	history repository.BooksRepository,
	logger logrus.FieldLogger,
) *StorybooksService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StorybooksService{
		registry: reg,
		producer: producer,
		provider: provider,
		store:    store,
		history:  history,
		logger:   logger,
		newID:    newJobID,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func newJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Submit registers a queued job and hands it to the workers. It returns as
// soon as the job is queued.
func (s *StorybooksService) Submit(ctx context.Context, input SubmitInput) (domain.Job, error) {
	if len(input.Image) == 0 {
		return domain.Job{}, ErrInvalidImage
	}
	if s.provider == nil || !s.provider.Available() {
		return domain.Job{}, ai.ErrProviderUnavailable
	}

	now := s.now()
	job := domain.NewQueuedJob(
		s.newID(),
		domain.ParseStory(strings.TrimSpace(input.Story)),
		domain.ParseGender(strings.TrimSpace(input.Gender)),
		now,
	)
	if err := s.registry.Create(ctx, job); err != nil {
		return domain.Job{}, fmt.Errorf("create job: %w", err)
	}

	message := domain.QueueMessage{
		JobID:       job.ID,
		Story:       job.Story,
		Gender:      job.Gender,
		Image:       append([]byte(nil), input.Image...),
		RequestedAt: now,
	}
	if err := s.producer.Enqueue(ctx, message); err != nil {
		// The id never reaches the caller, so the entry is dropped.
		if deleteErr := s.registry.Delete(context.WithoutCancel(ctx), job.ID); deleteErr != nil {
			s.logger.WithError(deleteErr).WithField("job_id", job.ID).Warn("could not drop rejected job")
		}
		if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrQueueClosed) {
			return domain.Job{}, ErrQueueFull
		}
		return domain.Job{}, fmt.Errorf("enqueue job: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"story":  job.Story,
		"gender": job.Gender,
		"bytes":  len(input.Image),
	}).Info("storybook queued")
	return job, nil
}

func (s *StorybooksService) Status(ctx context.Context, jobID string) (domain.Job, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return domain.Job{}, ErrJobNotFound
	}
	job, err := s.registry.Get(ctx, jobID)
	if errors.Is(err, registry.ErrNotFound) {
		return domain.Job{}, ErrJobNotFound
	}
	if err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

// Artifact opens the finished book. The caller closes the file.
func (s *StorybooksService) Artifact(ctx context.Context, jobID string) (*os.File, os.FileInfo, error) {
	job, err := s.Status(ctx, jobID)
	if errors.Is(err, ErrJobNotFound) {
		return nil, nil, ErrNotReady
	}
	if err != nil {
		return nil, nil, err
	}
	if job.State != domain.JobStateDone {
		return nil, nil, ErrNotReady
	}
	if job.ResultPath == "" {
		return nil, nil, ErrArtifactMissing
	}

	file, info, err := s.store.OpenArtifact(job.ResultPath)
	if errors.Is(err, storage.ErrArtifactNotFound) {
		return nil, nil, ErrArtifactMissing
	}
	if err != nil {
		return nil, nil, err
	}
	return file, info, nil
}

func (s *StorybooksService) ListBooks(
	ctx context.Context,
	filter domain.BookListFilter,
) ([]domain.BookRecord, int, error) {
	if s.history == nil {
		return []domain.BookRecord{}, 0, nil
	}
	return s.history.ListBooks(ctx, filter)
}
