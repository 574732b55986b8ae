package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxDownloadBytes = 32 << 20

type OpenAIClientConfig struct {
	APIKey          string
	BaseURL         string
	Timeout         time.Duration
	DownloadTimeout time.Duration
	HTTPClient      *http.Client
	Organization    string
	Router          *ModelRouter
}

// OpenAIClient talks to any OpenAI-compatible endpoint (chat completions and
// image generations).
type OpenAIClient struct {
	apiKey          string
	baseURL         string
	timeout         time.Duration
	downloadTimeout time.Duration
	httpClient      *http.Client
	organization    string
	router          *ModelRouter
}

func NewOpenAIClient(config OpenAIClientConfig) *OpenAIClient {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}
	if config.DownloadTimeout <= 0 {
		config.DownloadTimeout = 60 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if config.Router == nil {
		config.Router = NewModelRouter(ModelRouterConfig{})
	}

	return &OpenAIClient{
		apiKey:          strings.TrimSpace(config.APIKey),
		baseURL:         strings.TrimSuffix(config.BaseURL, "/"),
		timeout:         config.Timeout,
		downloadTimeout: config.DownloadTimeout,
		httpClient:      config.HTTPClient,
		organization:    strings.TrimSpace(config.Organization),
		router:          config.Router,
	}
}

func (c *OpenAIClient) Available() bool {
	return c.apiKey != ""
}

// AnalyzeImage returns the assistant text as is, empty included; callers
// degrade unusable answers to free-text traits.
func (c *OpenAIClient) AnalyzeImage(ctx context.Context, request AnalysisRequest) (string, error) {
	if !c.Available() {
		return "", ErrProviderUnavailable
	}
	if len(request.Image) == 0 {
		return "", errors.New("image is required")
	}

	profile := c.router.Select(CapabilityVision)
	content := []map[string]any{
		{"type": "text", "text": request.Prompt},
		{"type": "image_url", "image_url": map[string]any{"url": imageDataURI(request.Image)}},
	}
	payload := map[string]any{
		"model":       profile.Model,
		"messages":    []map[string]any{{"role": "user", "content": content}},
		"max_tokens":  profile.MaxOutputTokens,
		"temperature": profile.Temperature,
	}
	return c.chat(ctx, payload)
}

func (c *OpenAIClient) Complete(ctx context.Context, request CompletionRequest) (string, error) {
	if !c.Available() {
		return "", ErrProviderUnavailable
	}
	if strings.TrimSpace(request.Prompt) == "" {
		return "", errors.New("prompt is required")
	}

	profile := c.router.Select(CapabilityNarrative)
	messages := make([]map[string]any, 0, 2)
	if strings.TrimSpace(request.Instructions) != "" {
		messages = append(messages, map[string]any{
			"role":    "system",
			"content": strings.TrimSpace(request.Instructions),
		})
	}
	messages = append(messages, map[string]any{"role": "user", "content": request.Prompt})

	payload := map[string]any{
		"model":       profile.Model,
		"messages":    messages,
		"max_tokens":  profile.MaxOutputTokens,
		"temperature": profile.Temperature,
	}
	text, err := c.chat(ctx, payload)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("openai response without text output")
	}
	return text, nil
}

func (c *OpenAIClient) RenderImage(ctx context.Context, request ImageRequest) (string, error) {
	if !c.Available() {
		return "", ErrProviderUnavailable
	}
	if strings.TrimSpace(request.Prompt) == "" {
		return "", errors.New("prompt is required")
	}

	profile := c.router.Select(CapabilityImage)
	payload := map[string]any{
		"model":   profile.Model,
		"prompt":  request.Prompt,
		"size":    profile.ImageSize,
		"quality": profile.ImageQuality,
		"n":       1,
	}

	var raw imageGenerationsResponse
	if err := c.postJSON(ctx, "/images/generations", payload, &raw); err != nil {
		return "", err
	}
	if len(raw.Data) == 0 {
		return "", errors.New("openai image response without data")
	}
	first := raw.Data[0]
	if strings.TrimSpace(first.URL) != "" {
		return strings.TrimSpace(first.URL), nil
	}
	if strings.TrimSpace(first.B64JSON) != "" {
		return "data:image/png;base64," + strings.TrimSpace(first.B64JSON), nil
	}
	return "", errors.New("openai image response without url")
}

func (c *OpenAIClient) Download(ctx context.Context, ref string) ([]byte, error) {
	if isDataURI(ref) {
		return decodeDataURI(ref)
	}
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		return nil, fmt.Errorf("unsupported image reference %q", ref)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.downloadTimeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer httpResponse.Body.Close()

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		return nil, &ProviderHTTPError{
			Provider:   "download",
			StatusCode: httpResponse.StatusCode,
			Message:    http.StatusText(httpResponse.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(httpResponse.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image body: %w", err)
	}
	if len(body) > maxDownloadBytes {
		return nil, errors.New("downloaded image exceeds size limit")
	}
	if len(body) == 0 {
		return nil, errors.New("downloaded image is empty")
	}
	return body, nil
}

func (c *OpenAIClient) chat(ctx context.Context, payload map[string]any) (string, error) {
	var raw chatCompletionsResponse
	if err := c.postJSON(ctx, "/chat/completions", payload, &raw); err != nil {
		return "", err
	}
	return extractChatText(raw), nil
}

func (c *OpenAIClient) postJSON(ctx context.Context, path string, payload any, out any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal openai payload: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(
		timeoutCtx,
		http.MethodPost,
		c.baseURL+path,
		bytes.NewReader(encoded),
	)
	if err != nil {
		return fmt.Errorf("create openai request: %w", err)
	}
	httpRequest.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "application/json")
	if c.organization != "" {
		httpRequest.Header.Set("OpenAI-Organization", c.organization)
	}

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("openai timeout: %w", err)
		}
		return fmt.Errorf("openai transport error: %w", err)
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return fmt.Errorf("read openai body: %w", err)
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		message := strings.TrimSpace(string(body))
		if len(message) > 700 {
			message = message[:700]
		}
		return &ProviderHTTPError{
			Provider:   "openai",
			StatusCode: httpResponse.StatusCode,
			Message:    message,
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode openai response: %w", err)
	}
	return nil
}

type chatCompletionsResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type imageGenerationsResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

func extractChatText(response chatCompletionsResponse) string {
	if len(response.Choices) == 0 {
		return ""
	}
	switch typed := response.Choices[0].Message.Content.(type) {
	case string:
		return strings.TrimSpace(typed)
	case []any:
		fragments := make([]string, 0, len(typed))
		for _, item := range typed {
			fragment, ok := item.(map[string]any)
			if !ok {
				continue
			}
			textValue, _ := fragment["text"].(string)
			if strings.TrimSpace(textValue) == "" {
				continue
			}
			fragments = append(fragments, strings.TrimSpace(textValue))
		}
		return strings.TrimSpace(strings.Join(fragments, "\n"))
	default:
		return ""
	}
}

var _ ContentProvider = (*OpenAIClient)(nil)
