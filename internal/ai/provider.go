package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrProviderUnavailable is a configuration error: no credential was set.
var ErrProviderUnavailable = errors.New("OPENAI_API_KEY is not set on the server")

type AnalysisRequest struct {
	Image  []byte
	Prompt string
}

type CompletionRequest struct {
	Instructions string
	Prompt       string
}

type ImageRequest struct {
	Prompt string
}

// ContentProvider is everything the storybook pipeline needs from a
// generation backend. Each call makes exactly one attempt.
type ContentProvider interface {
	Available() bool
	AnalyzeImage(ctx context.Context, request AnalysisRequest) (string, error)
	Complete(ctx context.Context, request CompletionRequest) (string, error)
	// RenderImage returns a fetchable reference: an http(s) URL or a data URI.
	RenderImage(ctx context.Context, request ImageRequest) (string, error)
	Download(ctx context.Context, ref string) ([]byte, error)
}

// ProviderHTTPError is a non-2xx answer from a provider endpoint.
type ProviderHTTPError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderHTTPError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Retryable reports whether a failed provider call may be attempted again.
// Missing configuration never heals by waiting.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrProviderUnavailable) {
		return false
	}
	var httpErr *ProviderHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode != http.StatusUnauthorized && httpErr.StatusCode != http.StatusForbidden
	}
	return true
}

// imageDataURI encodes image bytes for inline transport, sniffing the type.
func imageDataURI(image []byte) string {
	mimeType := http.DetectContentType(image)
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/jpeg"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
}

func isDataURI(ref string) bool {
	return strings.HasPrefix(strings.TrimSpace(ref), "data:")
}

func decodeDataURI(ref string) ([]byte, error) {
	header, payload, ok := strings.Cut(strings.TrimSpace(ref), ",")
	if !ok {
		return nil, errors.New("malformed data uri")
	}
	if !strings.HasSuffix(header, ";base64") {
		return nil, errors.New("data uri is not base64 encoded")
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data uri: %w", err)
	}
	if len(decoded) == 0 {
		return nil, errors.New("empty data uri payload")
	}
	return decoded, nil
}
