// Package apiclient talks to the storybook HTTP API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("storybook api: status %d: %s", e.StatusCode, e.Message)
}

type Status struct {
	State       string `json:"state"`
	Progress    int    `json:"progress"`
	Message     string `json:"message"`
	DownloadURL string `json:"download_url,omitempty"`
}

func (s Status) Terminal() bool {
	return s.State == "done" || s.State == "error"
}

type Book struct {
	JobID      string    `json:"job_id"`
	Story      string    `json:"story"`
	Gender     string    `json:"gender"`
	State      string    `json:"state"`
	Message    string    `json:"message"`
	Title      string    `json:"title,omitempty"`
	PageCount  int       `json:"page_count"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type BookList struct {
	Items    []Book `json:"items"`
	Total    int    `json:"total"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

type SubmitRequest struct {
	Image          []byte
	Filename       string
	Story          string
	Gender         string
	IdempotencyKey string
}

type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{baseURL: baseURL, token: cfg.Token, httpClient: httpClient}
}

// Submit uploads the photo and returns the new job id.
func (c *Client) Submit(ctx context.Context, request SubmitRequest) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	filename := filepath.Base(strings.TrimSpace(request.Filename))
	if filename == "" || filename == "." {
		filename = "photo.png"
	}
	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return "", fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(request.Image); err != nil {
		return "", fmt.Errorf("write image part: %w", err)
	}
	if request.Story != "" {
		_ = writer.WriteField("story", request.Story)
	}
	if request.Gender != "" {
		_ = writer.WriteField("gender", request.Gender)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart body: %w", err)
	}

	httpRequest, err := c.newRequest(ctx, http.MethodPost, "/storybook/start", &body)
	if err != nil {
		return "", err
	}
	httpRequest.Header.Set("Content-Type", writer.FormDataContentType())
	if key := strings.TrimSpace(request.IdempotencyKey); key != "" {
		httpRequest.Header.Set("Idempotency-Key", key)
	}

	var decoded struct {
		JobID string `json:"job_id"`
	}
	if err := c.doJSON(httpRequest, &decoded); err != nil {
		return "", err
	}
	return decoded.JobID, nil
}

func (c *Client) Status(ctx context.Context, jobID string) (Status, error) {
	request, err := c.newRequest(ctx, http.MethodGet, "/storybook/status?job_id="+url.QueryEscape(jobID), nil)
	if err != nil {
		return Status{}, err
	}
	var status Status
	if err := c.doJSON(request, &status); err != nil {
		return Status{}, err
	}
	return status, nil
}

// Wait polls Status until the job is terminal. onUpdate, when set, sees
// every observed status.
func (c *Client) Wait(ctx context.Context, jobID string, interval time.Duration, onUpdate func(Status)) (Status, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.Status(ctx, jobID)
		if err != nil {
			return Status{}, err
		}
		if onUpdate != nil {
			onUpdate(status)
		}
		if status.Terminal() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Download streams the finished PDF into w and returns the byte count.
func (c *Client) Download(ctx context.Context, jobID string, w io.Writer) (int64, error) {
	request, err := c.newRequest(ctx, http.MethodGet, "/storybook/download/"+url.PathEscape(jobID)+".pdf", nil)
	if err != nil {
		return 0, err
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return 0, fmt.Errorf("download storybook: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return 0, decodeAPIError(response)
	}
	written, err := io.Copy(w, response.Body)
	if err != nil {
		return written, fmt.Errorf("read storybook pdf: %w", err)
	}
	return written, nil
}

func (c *Client) ListBooks(ctx context.Context, state string, page, pageSize int) (BookList, error) {
	query := url.Values{}
	if state != "" {
		query.Set("state", state)
	}
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		query.Set("page_size", strconv.Itoa(pageSize))
	}
	path := "/v1/storybooks"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	request, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return BookList{}, err
	}
	var list BookList
	if err := c.doJSON(request, &list); err != nil {
		return BookList{}, err
	}
	return list, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}
	return request, nil
}

func (c *Client) doJSON(request *http.Request, out any) error {
	request.Header.Set("Accept", "application/json")
	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%s %s: %w", request.Method, request.URL.Path, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return decodeAPIError(response)
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(response *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(response.Body, 64<<10))
	var decoded struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Error != "" {
		message = decoded.Error
	}
	if message == "" {
		message = http.StatusText(response.StatusCode)
	}
	return &APIError{StatusCode: response.StatusCode, Message: message}
}
