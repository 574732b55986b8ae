package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"github.com/iago/storybook-back/internal/ai"
	"github.com/iago/storybook-back/internal/cache"
	"github.com/iago/storybook-back/internal/compiler"
	"github.com/iago/storybook-back/internal/domain"
	"github.com/iago/storybook-back/internal/registry"
	"github.com/iago/storybook-back/internal/repository"
	"github.com/iago/storybook-back/internal/retry"
	"github.com/iago/storybook-back/internal/storage"
)

type fakeProvider struct {
	mu sync.Mutex

	analysis    string
	analysisErr error
	outline     string
	outlineErr  error
	// renderFailures fails that many RenderImage calls before succeeding;
	// a negative value fails every call.
	renderFailures int
	renderErr      error

	analyzeCalls int
	renderCalls  int
	prompts      []string
	page         []byte
}

func newFakeProvider(t *testing.T, pages int) *fakeProvider {
	t.Helper()
	var buffer bytes.Buffer
	if err := imaging.Encode(&buffer, imaging.New(16, 16, color.NRGBA{R: 200, A: 255}), imaging.PNG); err != nil {
		t.Fatalf("encode page: %v", err)
	}
	return &fakeProvider{
		analysis: `{"eye_color":"green","hair_color":"red"}`,
		outline:  outlineJSON(pages),
		page:     buffer.Bytes(),
	}
}

func outlineJSON(pages int) string {
	items := make([]map[string]any, 0, pages)
	for i := 1; i <= pages; i++ {
		items = append(items, map[string]any{
			"page_number":  i,
			"text":         fmt.Sprintf("Page %d text.", i),
			"image_prompt": fmt.Sprintf("Illustration %d", i),
		})
	}
	encoded, _ := json.Marshal(map[string]any{"story_title": "Little Red Riding Hood", "pages": items})
	return string(encoded)
}

func (p *fakeProvider) Available() bool { return true }

func (p *fakeProvider) AnalyzeImage(context.Context, ai.AnalysisRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.analyzeCalls++
	return p.analysis, p.analysisErr
}

func (p *fakeProvider) Complete(context.Context, ai.CompletionRequest) (string, error) {
	return p.outline, p.outlineErr
}

func (p *fakeProvider) RenderImage(_ context.Context, request ai.ImageRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.renderCalls++
	p.prompts = append(p.prompts, request.Prompt)
	if p.renderFailures != 0 {
		if p.renderFailures > 0 {
			p.renderFailures--
		}
		if p.renderErr != nil {
			return "", p.renderErr
		}
		return "", errors.New("image service unavailable")
	}
	return "fake://page", nil
}

func (p *fakeProvider) Download(context.Context, string) ([]byte, error) {
	return p.page, nil
}

// recordingRegistry keeps every job snapshot written through Update.
type recordingRegistry struct {
	*registry.MemoryRegistry
	mu        sync.Mutex
	snapshots []domain.Job
}

func (r *recordingRegistry) Update(ctx context.Context, id string, update domain.JobUpdate) (domain.Job, error) {
	job, err := r.MemoryRegistry.Update(ctx, id, update)
	if err == nil {
		r.mu.Lock()
		r.snapshots = append(r.snapshots, job)
		r.mu.Unlock()
	}
	return job, err
}

type harness struct {
	orchestrator *Orchestrator
	registry     *recordingRegistry
	store        *storage.ArtifactStore
	history      *repository.MemoryBooksRepository
	waits        []time.Duration
}

func newHarness(t *testing.T, provider ai.ContentProvider, traits *cache.TraitsCache) *harness {
	t.Helper()
	store, err := storage.NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h := &harness{
		registry: &recordingRegistry{MemoryRegistry: registry.NewMemoryRegistry()},
		store:    store,
		history:  repository.NewMemoryBooksRepository(),
	}
	policy := retry.NewPolicy(2, retry.LinearBackoff(10*time.Second))
	policy.Sleep = func(_ context.Context, d time.Duration) error {
		h.waits = append(h.waits, d)
		return nil
	}

	h.orchestrator, err = NewOrchestrator(Config{
		Registry:   h.registry,
		Provider:   provider,
		Store:      store,
		Compiler:   compiler.New(32),
		ImageRetry: policy,
		Traits:     traits,
		History:    h.history,
		Pages:      12,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return h
}

func (h *harness) submit(t *testing.T, id string) domain.QueueMessage {
	t.Helper()
	job := domain.NewQueuedJob(id, domain.StoryLittleRedRidingHood, domain.GenderGirl, time.Now().UTC())
	if err := h.registry.Create(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return domain.QueueMessage{
		JobID:       id,
		Story:       domain.StoryLittleRedRidingHood,
		Gender:      domain.GenderGirl,
		Image:       []byte("photo-bytes"),
		RequestedAt: job.CreatedAt,
	}
}

func TestRunCompletesTwelvePageBook(t *testing.T) {
	provider := newFakeProvider(t, 12)
	h := newHarness(t, provider, nil)
	message := h.submit(t, "job-ok")

	h.orchestrator.Run(context.Background(), message)

	job, err := h.registry.Get(context.Background(), "job-ok")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.State != domain.JobStateDone || job.Progress != 100 {
		t.Fatalf("expected done/100, got %s/%d (%s)", job.State, job.Progress, job.Message)
	}
	if job.Message != "Completed! Your book is ready." || job.DownloadURL != "/storybook/download/job-ok.pdf" {
		t.Fatalf("unexpected completion fields %+v", job)
	}

	body, err := os.ReadFile(job.ResultPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if got := bytes.Count(body, []byte("/Type /Page\n")); got != 12 {
		t.Fatalf("expected 12 pdf pages, got %d", got)
	}
	if provider.renderCalls != 12 {
		t.Fatalf("expected 12 render calls, got %d", provider.renderCalls)
	}
	if !strings.Contains(provider.prompts[0], "Consistent main character across pages") ||
		!strings.Contains(provider.prompts[0], "eye color: green") {
		t.Fatalf("image prompt missing consistency or traits: %q", provider.prompts[0])
	}

	books, total, _ := h.history.ListBooks(context.Background(), domain.BookListFilter{})
	if total != 1 || books[0].State != domain.JobStateDone || books[0].PageCount != 12 {
		t.Fatalf("unexpected history %+v", books)
	}
}

func TestRunProgressIsMonotonic(t *testing.T) {
	h := newHarness(t, newFakeProvider(t, 12), nil)
	h.orchestrator.Run(context.Background(), h.submit(t, "job-progress"))

	last := -1
	sawPage := map[string]bool{}
	for _, snapshot := range h.registry.snapshots {
		if snapshot.Progress < last {
			t.Fatalf("progress decreased from %d to %d", last, snapshot.Progress)
		}
		last = snapshot.Progress
		sawPage[snapshot.Message] = true
	}
	for _, message := range []string{
		"Analyzing child features...",
		"Generating 12-page story outline...",
		"Creating page 1 of 12...",
		"Creating page 12 of 12...",
		"Compiling PDF...",
	} {
		if !sawPage[message] {
			t.Fatalf("missing transition %q", message)
		}
	}
}

func TestRunShortOutlineFailsJob(t *testing.T) {
	provider := newFakeProvider(t, 11)
	h := newHarness(t, provider, nil)
	h.orchestrator.Run(context.Background(), h.submit(t, "job-short"))

	job, _ := h.registry.Get(context.Background(), "job-short")
	if job.State != domain.JobStateError || job.Progress != 0 {
		t.Fatalf("expected error/0, got %s/%d", job.State, job.Progress)
	}
	if job.Message != "Error: Story JSON missing 12 pages" {
		t.Fatalf("unexpected message %q", job.Message)
	}
	if provider.renderCalls != 0 {
		t.Fatalf("no page should be rendered, got %d calls", provider.renderCalls)
	}
}

func TestRunInvalidOutlineFailsJob(t *testing.T) {
	provider := newFakeProvider(t, 12)
	provider.outline = "Once upon a time there was a girl."
	h := newHarness(t, provider, nil)
	h.orchestrator.Run(context.Background(), h.submit(t, "job-invalid"))

	job, _ := h.registry.Get(context.Background(), "job-invalid")
	if job.State != domain.JobStateError || job.Message != "Error: AI did not return valid JSON for story outline" {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestRunImageRetriesExhaustedFailsWithoutArtifact(t *testing.T) {
	provider := newFakeProvider(t, 12)
	provider.renderFailures = -1
	h := newHarness(t, provider, nil)
	h.orchestrator.Run(context.Background(), h.submit(t, "job-retry"))

	job, _ := h.registry.Get(context.Background(), "job-retry")
	if job.State != domain.JobStateError || job.ResultPath != "" {
		t.Fatalf("expected error without result, got %+v", job)
	}
	if provider.renderCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", provider.renderCalls)
	}
	if len(h.waits) != 2 || h.waits[0] != 10*time.Second || h.waits[1] != 20*time.Second {
		t.Fatalf("unexpected backoff waits %v", h.waits)
	}
	artifact, _ := h.store.ArtifactPath("job-retry")
	if _, err := os.Stat(artifact); !os.IsNotExist(err) {
		t.Fatalf("expected no artifact, got %v", err)
	}
}

func TestRunImageRetryRecovers(t *testing.T) {
	provider := newFakeProvider(t, 12)
	provider.renderFailures = 2
	h := newHarness(t, provider, nil)
	h.orchestrator.Run(context.Background(), h.submit(t, "job-recover"))

	job, _ := h.registry.Get(context.Background(), "job-recover")
	if job.State != domain.JobStateDone {
		t.Fatalf("expected done after transient failures, got %s (%s)", job.State, job.Message)
	}
	if provider.renderCalls != 14 {
		t.Fatalf("expected 14 render calls, got %d", provider.renderCalls)
	}
}

func TestRunDoesNotRetryConfigurationErrors(t *testing.T) {
	provider := newFakeProvider(t, 12)
	provider.renderFailures = -1
	provider.renderErr = ai.ErrProviderUnavailable
	h := newHarness(t, provider, nil)
	h.orchestrator.Run(context.Background(), h.submit(t, "job-config"))

	if provider.renderCalls != 1 {
		t.Fatalf("expected a single attempt, got %d", provider.renderCalls)
	}
}

func TestRunAnalysisFallsBackToNotes(t *testing.T) {
	provider := newFakeProvider(t, 12)
	provider.analysis = "A smiling child with curly hair."
	h := newHarness(t, provider, nil)
	h.orchestrator.Run(context.Background(), h.submit(t, "job-notes"))

	job, _ := h.registry.Get(context.Background(), "job-notes")
	if job.State != domain.JobStateDone {
		t.Fatalf("expected done with unstructured traits, got %s (%s)", job.State, job.Message)
	}
	if !strings.Contains(provider.prompts[0], "A smiling child with curly hair.") {
		t.Fatalf("expected raw notes in image prompt: %q", provider.prompts[0])
	}
}

func TestRunEmptyAnalysisDegradesToNotes(t *testing.T) {
	provider := newFakeProvider(t, 12)
	provider.analysis = ""
	h := newHarness(t, provider, nil)
	h.orchestrator.Run(context.Background(), h.submit(t, "job-blank"))

	job, _ := h.registry.Get(context.Background(), "job-blank")
	if job.State != domain.JobStateDone {
		t.Fatalf("expected done with empty analysis, got %s (%s)", job.State, job.Message)
	}
}

func TestRunWithOpenAIClientToleratesEmptyVisionAnswer(t *testing.T) {
	var page bytes.Buffer
	if err := imaging.Encode(&page, imaging.New(8, 8, color.NRGBA{B: 200, A: 255}), imaging.PNG); err != nil {
		t.Fatalf("encode page: %v", err)
	}
	chat := func(content string) []byte {
		encoded, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": content}}},
		})
		return encoded
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/chat/completions" && strings.Contains(string(raw), "image_url"):
			_, _ = w.Write(chat(""))
		case r.URL.Path == "/chat/completions":
			_, _ = w.Write(chat(outlineJSON(12)))
		case r.URL.Path == "/images/generations":
			encoded, _ := json.Marshal(map[string]any{
				"data": []map[string]any{{"b64_json": base64.StdEncoding.EncodeToString(page.Bytes())}},
			})
			_, _ = w.Write(encoded)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := ai.NewOpenAIClient(ai.OpenAIClientConfig{APIKey: "test-key", BaseURL: server.URL, Timeout: 5 * time.Second})
	h := newHarness(t, client, nil)
	h.orchestrator.Run(context.Background(), h.submit(t, "job-openai"))

	job, _ := h.registry.Get(context.Background(), "job-openai")
	if job.State != domain.JobStateDone || job.Progress != 100 {
		t.Fatalf("expected done/100, got %s/%d (%s)", job.State, job.Progress, job.Message)
	}
}

func TestRunAnalysisProviderErrorFailsJob(t *testing.T) {
	provider := newFakeProvider(t, 12)
	provider.analysisErr = errors.New("connection reset")
	h := newHarness(t, provider, nil)
	h.orchestrator.Run(context.Background(), h.submit(t, "job-analysis"))

	job, _ := h.registry.Get(context.Background(), "job-analysis")
	if job.State != domain.JobStateError || !strings.Contains(job.Message, "connection reset") {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestAbandonFailsQueuedJob(t *testing.T) {
	h := newHarness(t, newFakeProvider(t, 12), nil)
	message := h.submit(t, "job-abandoned")

	h.orchestrator.Abandon(message, errors.New("server shutting down"))

	job, err := h.registry.Get(context.Background(), "job-abandoned")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.State != domain.JobStateError || job.Progress != 0 || job.Message != "Error: server shutting down" {
		t.Fatalf("expected abandoned job in error, got %+v", job)
	}
	books, total, _ := h.history.ListBooks(context.Background(), domain.BookListFilter{})
	if total != 1 || books[0].State != domain.JobStateError || books[0].Message != job.Message {
		t.Fatalf("unexpected history %+v", books)
	}
}

func TestRunUsesTraitsCache(t *testing.T) {
	provider := newFakeProvider(t, 12)
	traits := cache.NewTraitsCache(cache.Config{TTL: time.Hour})
	h := newHarness(t, provider, traits)

	h.orchestrator.Run(context.Background(), h.submit(t, "job-a"))
	h.orchestrator.Run(context.Background(), h.submit(t, "job-b"))

	if provider.analyzeCalls != 1 {
		t.Fatalf("expected one analysis call, got %d", provider.analyzeCalls)
	}
}

type panickingProvider struct {
	*fakeProvider
}

func (p panickingProvider) Complete(context.Context, ai.CompletionRequest) (string, error) {
	panic("boom")
}

func TestRunRecoversPanics(t *testing.T) {
	h := newHarness(t, panickingProvider{newFakeProvider(t, 12)}, nil)
	h.orchestrator.Run(context.Background(), h.submit(t, "job-panic"))

	job, _ := h.registry.Get(context.Background(), "job-panic")
	if job.State != domain.JobStateError || job.Message != "Error: internal error: boom" {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestPageProgress(t *testing.T) {
	cases := map[int]int{1: 5, 2: 11, 7: 45, 12: 78}
	for index, want := range cases {
		if got := PageProgress(index, 12); got != want {
			t.Fatalf("PageProgress(%d, 12) = %d, want %d", index, got, want)
		}
	}
	if got := PageProgress(200, 12); got != 90 {
		t.Fatalf("expected cap at 90, got %d", got)
	}
}
