package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
)

// MockProvider answers every capability locally. It backs PROVIDER_MOCK runs
// and tests that need a full pipeline without network access.
type MockProvider struct {
	Pages     int
	ImageSize int
}

func NewMockProvider(pages int) *MockProvider {
	if pages <= 0 {
		pages = 12
	}
	return &MockProvider{Pages: pages, ImageSize: 64}
}

func (m *MockProvider) Available() bool {
	return true
}

func (m *MockProvider) AnalyzeImage(_ context.Context, request AnalysisRequest) (string, error) {
	if len(request.Image) == 0 {
		return "", fmt.Errorf("image is required")
	}
	return `{"eye_color":"brown","hair_color":"dark brown","hair_style":"short curls","skin_tone":"warm medium","age_guess":"6","notable_features":"freckles"}`, nil
}

func (m *MockProvider) Complete(_ context.Context, request CompletionRequest) (string, error) {
	title := "Little Red Riding Hood"
	if strings.Contains(request.Prompt, "Jack and the Beanstalk") {
		title = "Jack and the Beanstalk"
	}

	pages := make([]map[string]any, 0, m.Pages)
	for i := 1; i <= m.Pages; i++ {
		pages = append(pages, map[string]any{
			"page_number":       i,
			"scene_description": fmt.Sprintf("Scene %d of %s", i, title),
			"text":              fmt.Sprintf("Page %d of our adventure.", i),
			"image_prompt":      fmt.Sprintf("Friendly storybook illustration, %s, scene %d", title, i),
		})
	}
	encoded, err := json.Marshal(map[string]any{"story_title": title, "pages": pages})
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func (m *MockProvider) RenderImage(_ context.Context, request ImageRequest) (string, error) {
	size := m.ImageSize
	if size <= 0 {
		size = 64
	}
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(request.Prompt))
	sum := hasher.Sum32()
	fill := color.NRGBA{R: uint8(sum), G: uint8(sum >> 8), B: uint8(sum >> 16), A: 255}

	var buffer bytes.Buffer
	if err := imaging.Encode(&buffer, imaging.New(size, size, fill), imaging.PNG); err != nil {
		return "", fmt.Errorf("encode mock page: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buffer.Bytes()), nil
}

func (m *MockProvider) Download(_ context.Context, ref string) ([]byte, error) {
	return decodeDataURI(ref)
}

var _ ContentProvider = (*MockProvider)(nil)
