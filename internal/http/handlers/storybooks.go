package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iago/storybook-back/internal/ai"
	"github.com/iago/storybook-back/internal/domain"
	"github.com/iago/storybook-back/internal/service"
	"github.com/iago/storybook-back/internal/storage"
)

type startResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id"`
}

type statusResponse struct {
	Success     bool            `json:"success"`
	State       domain.JobState `json:"state"`
	Progress    int             `json:"progress"`
	Message     string          `json:"message"`
	DownloadURL string          `json:"download_url,omitempty"`
}

type bookItem struct {
	JobID      string          `json:"job_id"`
	Story      domain.Story    `json:"story"`
	Gender     domain.Gender   `json:"gender"`
	State      domain.JobState `json:"state"`
	Message    string          `json:"message"`
	Title      string          `json:"title,omitempty"`
	PageCount  int             `json:"page_count"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

type listResponse struct {
	Success  bool       `json:"success"`
	Items    []bookItem `json:"items"`
	Total    int        `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

// StartStorybook accepts a multipart upload and queues a new job.
func (api *API) StartStorybook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, api.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "Image file too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "No image file provided")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "No image file provided")
		return
	}
	defer file.Close()
	if strings.TrimSpace(header.Filename) == "" {
		writeError(w, r, http.StatusBadRequest, "No image file selected")
		return
	}

	image, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "Could not read image file")
		return
	}
	if len(image) == 0 {
		writeError(w, r, http.StatusBadRequest, "No image file selected")
		return
	}

	story := r.FormValue("story")
	gender := r.FormValue("gender")

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	payloadHash := hashSubmission(image, story, gender)
	if idempotencyKey != "" {
		entry, reserved := api.idempotency.Reserve(idempotencyKey, payloadHash)
		if !reserved {
			switch {
			case entry.PayloadHash != payloadHash:
				writeError(w, r, http.StatusConflict, "Idempotency-Key reused with a different payload")
			case entry.Pending():
				writeError(w, r, http.StatusConflict, "request with this Idempotency-Key is in progress")
			default:
				writeJSON(w, http.StatusOK, startResponse{Success: true, JobID: entry.JobID})
			}
			return
		}
	}

	job, err := api.storybooks.Submit(r.Context(), service.SubmitInput{
		Image:  image,
		Story:  story,
		Gender: gender,
	})
	if err != nil {
		if idempotencyKey != "" {
			api.idempotency.Release(idempotencyKey)
		}
		switch {
		case errors.Is(err, service.ErrInvalidImage):
			writeError(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, ai.ErrProviderUnavailable), errors.Is(err, service.ErrQueueFull):
			writeError(w, r, http.StatusServiceUnavailable, err.Error())
		default:
			api.logger.WithError(err).Error("submit storybook")
			writeError(w, r, http.StatusInternalServerError, "failed to start storybook")
		}
		return
	}

	if idempotencyKey != "" {
		api.idempotency.Complete(idempotencyKey, job.ID)
	}
	writeJSON(w, http.StatusOK, startResponse{Success: true, JobID: job.ID})
}

func (api *API) StorybookStatus(w http.ResponseWriter, r *http.Request) {
	job, err := api.storybooks.Status(r.Context(), r.URL.Query().Get("job_id"))
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		api.logger.WithError(err).Error("load storybook status")
		writeError(w, r, http.StatusInternalServerError, "failed to load job")
		return
	}

	response := statusResponse{
		Success:  true,
		State:    job.State,
		Progress: job.Progress,
		Message:  job.Message,
	}
	if job.State == domain.JobStateDone {
		response.DownloadURL = job.DownloadURL
	}
	writeJSON(w, http.StatusOK, response)
}

func (api *API) DownloadStorybook(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	file, info, err := api.storybooks.Artifact(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotReady):
			writeError(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrArtifactMissing):
			writeError(w, r, http.StatusNotFound, err.Error())
		default:
			api.logger.WithError(err).WithField("job_id", jobID).Error("open storybook artifact")
			writeError(w, r, http.StatusInternalServerError, "failed to open storybook")
		}
		return
	}
	defer file.Close()

	name := storage.ArtifactName(jobID)
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), file)
}

func (api *API) ListStorybooks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.BookListFilter{
		State:    domain.JobState(strings.TrimSpace(query.Get("state"))),
		Story:    domain.Story(strings.TrimSpace(query.Get("story"))),
		Page:     parsePositiveInt(query.Get("page"), 1),
		PageSize: parsePositiveInt(query.Get("page_size"), 20),
	}
	if filter.PageSize > 100 {
		filter.PageSize = 100
	}

	records, total, err := api.storybooks.ListBooks(r.Context(), filter)
	if err != nil {
		api.logger.WithError(err).Error("list storybooks")
		writeError(w, r, http.StatusInternalServerError, "failed to list storybooks")
		return
	}

	items := make([]bookItem, 0, len(records))
	for _, record := range records {
		items = append(items, bookItem{
			JobID:      record.JobID,
			Story:      record.Story,
			Gender:     record.Gender,
			State:      record.State,
			Message:    record.Message,
			Title:      record.Title,
			PageCount:  record.PageCount,
			CreatedAt:  record.CreatedAt,
			FinishedAt: record.FinishedAt,
		})
	}
	writeJSON(w, http.StatusOK, listResponse{
		Success:  true,
		Items:    items,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	})
}

func parsePositiveInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
