// Package pipeline drives one storybook job from the uploaded photo to the
// compiled book.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iago/storybook-back/internal/ai"
	"github.com/iago/storybook-back/internal/cache"
	"github.com/iago/storybook-back/internal/domain"
	"github.com/iago/storybook-back/internal/registry"
	"github.com/iago/storybook-back/internal/repository"
	"github.com/iago/storybook-back/internal/retry"
	"github.com/iago/storybook-back/internal/storage"
	"github.com/iago/storybook-back/internal/story"
)

const (
	messageAnalyzing = "Analyzing child features..."
	messageCompiling = "Compiling PDF..."
	messageCompleted = "Completed! Your book is ready."

	progressAnalyzing = 1
	progressOutline   = 5
	progressCompiling = 92
)

// PageCompiler turns ordered page images into the final document.
type PageCompiler interface {
	Compile(ctx context.Context, pagePaths []string, outPath string) (int, error)
}

type Config struct {
	Registry registry.Registry
	Provider ai.ContentProvider
	Store    *storage.ArtifactStore
	Compiler PageCompiler
	// ImageRetry wraps each page render. The zero value makes one attempt.
	ImageRetry retry.Policy
	Traits     *cache.TraitsCache
	History    repository.BooksRepository
	Pages      int
	// JobTimeout bounds a whole run; zero means no deadline.
	JobTimeout  time.Duration
	DownloadURL func(jobID string) string
	Logger      logrus.FieldLogger
	Now         func() time.Time
}

type Orchestrator struct {
	registry    registry.Registry
	provider    ai.ContentProvider
	store       *storage.ArtifactStore
	compiler    PageCompiler
	imageRetry  retry.Policy
	traits      *cache.TraitsCache
	history     repository.BooksRepository
	pages       int
	jobTimeout  time.Duration
	downloadURL func(jobID string) string
	logger      logrus.FieldLogger
	now         func() time.Time
}

func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Registry == nil {
		return nil, errors.New("pipeline: registry is required")
	}
	if cfg.Provider == nil {
		return nil, errors.New("pipeline: provider is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("pipeline: artifact store is required")
	}
	if cfg.Compiler == nil {
		return nil, errors.New("pipeline: compiler is required")
	}
	if cfg.Pages <= 0 {
		cfg.Pages = story.DefaultPageCount
	}
	if cfg.DownloadURL == nil {
		cfg.DownloadURL = DownloadPath
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Orchestrator{
		registry:    cfg.Registry,
		provider:    cfg.Provider,
		store:       cfg.Store,
		compiler:    cfg.Compiler,
		imageRetry:  cfg.ImageRetry,
		traits:      cfg.Traits,
		history:     cfg.History,
		pages:       cfg.Pages,
		jobTimeout:  cfg.JobTimeout,
		downloadURL: cfg.DownloadURL,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}, nil
}

// DownloadPath is the public retrieval reference of a finished book.
func DownloadPath(jobID string) string {
	return "/storybook/download/" + jobID + ".pdf"
}

// PageProgress apportions 5..90 linearly across the pages.
func PageProgress(index, total int) int {
	if total <= 0 {
		total = story.DefaultPageCount
	}
	progress := progressOutline + (80*(index-1))/total
	if progress > 90 {
		progress = 90
	}
	return progress
}

// Run executes one job to a terminal state. Every failure, including a
// panic in any stage, ends as the job's error state; Run never returns it.
func (o *Orchestrator) Run(ctx context.Context, message domain.QueueMessage) {
	logger := o.logger.WithFields(logrus.Fields{
		"job_id": message.JobID,
		"story":  message.Story,
		"gender": message.Gender,
	})
	startedAt := o.now()

	if o.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.jobTimeout)
		defer cancel()
	}

	var title string
	var pageCount int
	var runErr error
	func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				logger.WithField("stack", string(debug.Stack())).Error("pipeline panic")
				runErr = fmt.Errorf("internal error: %v", recovered)
			}
		}()
		title, pageCount, runErr = o.run(ctx, message, logger)
	}()

	durationMS := o.now().Sub(startedAt).Milliseconds()
	if runErr != nil {
		o.fail(message, runErr, logger.WithField("duration_ms", durationMS))
		o.record(message, domain.JobStateError, "Error: "+runErr.Error(), title, 0, logger)
		return
	}
	logger.WithFields(logrus.Fields{
		"duration_ms": durationMS,
		"pages":       pageCount,
	}).Info("storybook completed")
	o.record(message, domain.JobStateDone, messageCompleted, title, pageCount, logger)
}

func (o *Orchestrator) run(ctx context.Context, message domain.QueueMessage, logger logrus.FieldLogger) (string, int, error) {
	if err := o.advance(ctx, message.JobID, domain.JobUpdate{}.
		WithState(domain.JobStateWorking).
		WithProgress(progressAnalyzing).
		WithMessage(messageAnalyzing), logger.WithField("stage", "analysis")); err != nil {
		return "", 0, err
	}
	traits, err := o.analyze(ctx, message.Image, logger)
	if err != nil {
		return "", 0, fmt.Errorf("analyze features: %w", err)
	}

	if err := o.advance(ctx, message.JobID, domain.JobUpdate{}.
		WithProgress(progressOutline).
		WithMessage(fmt.Sprintf("Generating %d-page story outline...", o.pages)), logger.WithField("stage", "outline")); err != nil {
		return "", 0, err
	}
	outline, err := o.provider.Complete(ctx, ai.CompletionRequest{
		Prompt: story.NarrativePrompt(message.Story, message.Gender, traits, o.pages),
	})
	if err != nil {
		return "", 0, fmt.Errorf("generate outline: %w", err)
	}
	narrative, err := story.ParseNarrative(outline, o.pages)
	if err != nil {
		return "", 0, err
	}

	if _, err := o.store.PrepareJobDir(message.JobID); err != nil {
		return narrative.Title, 0, err
	}

	pagePaths := make([]string, 0, len(narrative.Pages))
	for index, page := range narrative.Pages {
		number := index + 1
		pageLogger := logger.WithFields(logrus.Fields{"stage": "page", "page": number})
		if err := o.advance(ctx, message.JobID, domain.JobUpdate{}.
			WithProgress(PageProgress(number, o.pages)).
			WithMessage(fmt.Sprintf("Creating page %d of %d...", number, o.pages)), pageLogger); err != nil {
			return narrative.Title, 0, err
		}
		path, err := o.renderPage(ctx, message.JobID, number, story.ImagePrompt(page, traits), pageLogger)
		if err != nil {
			return narrative.Title, 0, fmt.Errorf("page %d: %w", number, err)
		}
		pagePaths = append(pagePaths, path)
	}

	if err := o.advance(ctx, message.JobID, domain.JobUpdate{}.
		WithProgress(progressCompiling).
		WithMessage(messageCompiling), logger.WithField("stage", "compile")); err != nil {
		return narrative.Title, 0, err
	}
	artifactPath, err := o.store.ArtifactPath(message.JobID)
	if err != nil {
		return narrative.Title, 0, err
	}
	pageCount, err := o.compiler.Compile(ctx, pagePaths, artifactPath)
	if err != nil {
		return narrative.Title, 0, fmt.Errorf("compile pdf: %w", err)
	}

	if _, err := o.registry.Update(ctx, message.JobID, domain.JobUpdate{}.
		WithState(domain.JobStateDone).
		WithMessage(messageCompleted).
		WithResult(artifactPath, o.downloadURL(message.JobID))); err != nil {
		return narrative.Title, 0, fmt.Errorf("mark done: %w", err)
	}
	return narrative.Title, pageCount, nil
}

// analyze returns the character traits. A provider failure aborts the job;
// an unparseable answer degrades to unstructured notes.
func (o *Orchestrator) analyze(ctx context.Context, image []byte, logger logrus.FieldLogger) (story.Traits, error) {
	key := cache.ImageKey(image)
	if o.traits != nil {
		if raw, ok := o.traits.Get(key); ok {
			logger.WithField("stage", "analysis").Debug("traits cache hit")
			return story.ParseTraits(raw), nil
		}
	}

	raw, err := o.provider.AnalyzeImage(ctx, ai.AnalysisRequest{
		Image:  image,
		Prompt: story.AnalysisPrompt(),
	})
	if err != nil {
		return story.Traits{}, err
	}

	traits := story.ParseTraits(raw)
	switch traits.Kind() {
	case story.TraitsStructured:
		if o.traits != nil {
			o.traits.Set(key, raw)
		}
	case story.TraitsUnstructured:
		logger.WithField("stage", "analysis").Warn("analysis returned unstructured traits")
	}
	return traits, nil
}

func (o *Orchestrator) renderPage(ctx context.Context, jobID string, number int, prompt string, logger logrus.FieldLogger) (string, error) {
	policy := o.imageRetry
	policy.Retryable = ai.Retryable
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"wait_ms": wait.Milliseconds(),
		}).WithError(err).Warn("image generation failed, retrying")
	}

	var ref string
	err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		rendered, err := o.provider.RenderImage(ctx, ai.ImageRequest{Prompt: prompt})
		if err != nil {
			return err
		}
		ref = rendered
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("generate image: %w", err)
	}

	data, err := o.provider.Download(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("download image: %w", err)
	}
	return o.store.WritePage(ctx, jobID, number, data)
}

func (o *Orchestrator) advance(ctx context.Context, jobID string, update domain.JobUpdate, logger logrus.FieldLogger) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	job, err := o.registry.Update(ctx, jobID, update)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"state":    job.State,
		"progress": job.Progress,
	}).Info(job.Message)
	return nil
}

// Abandon fails a job that never reached a worker.
func (o *Orchestrator) Abandon(message domain.QueueMessage, cause error) {
	logger := o.logger.WithField("job_id", message.JobID)
	o.fail(message, cause, logger)
	o.record(message, domain.JobStateError, "Error: "+cause.Error(), "", 0, logger)
}

// fail moves the job to error. It uses a fresh context so an expired job
// deadline still records the outcome.
func (o *Orchestrator) fail(message domain.QueueMessage, cause error, logger logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	text := "Error: " + cause.Error()
	if _, err := o.registry.Update(ctx, message.JobID, domain.JobUpdate{}.
		WithState(domain.JobStateError).
		WithMessage(text)); err != nil {
		logger.WithError(err).Error("could not record job failure")
	}
	if err := o.store.RemoveJob(message.JobID); err != nil {
		logger.WithError(err).Warn("could not remove job files")
	}
	logger.WithError(cause).Error("storybook failed")
}

// record writes the history row. History is best effort.
func (o *Orchestrator) record(message domain.QueueMessage, state domain.JobState, text, title string, pages int, logger logrus.FieldLogger) {
	if o.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	createdAt := message.RequestedAt
	if createdAt.IsZero() {
		createdAt = o.now()
	}
	record := domain.BookRecord{
		JobID:      message.JobID,
		Story:      message.Story,
		Gender:     message.Gender,
		State:      state,
		Message:    text,
		Title:      title,
		PageCount:  pages,
		CreatedAt:  createdAt,
		FinishedAt: o.now(),
	}
	if err := o.history.RecordBook(ctx, record); err != nil {
		logger.WithError(err).Warn("could not record book history")
	}
}
