package ai

import "strings"

type Capability string

const (
	CapabilityVision    Capability = "vision"
	CapabilityNarrative Capability = "narrative"
	CapabilityImage     Capability = "image"
)

type ModelProfile struct {
	Model           string
	Temperature     float64
	MaxOutputTokens int
	ImageSize       string
	ImageQuality    string
}

type ModelRouterConfig struct {
	VisionModel    string
	NarrativeModel string
	ImageModel     string
	ImageSize      string
	ImageQuality   string
}

type ModelRouter struct {
	config ModelRouterConfig
}

func NewModelRouter(config ModelRouterConfig) *ModelRouter {
	if strings.TrimSpace(config.VisionModel) == "" {
		config.VisionModel = "gpt-4o"
	}
	if strings.TrimSpace(config.NarrativeModel) == "" {
		config.NarrativeModel = "gpt-4o"
	}
	if strings.TrimSpace(config.ImageModel) == "" {
		config.ImageModel = "dall-e-3"
	}
	if strings.TrimSpace(config.ImageSize) == "" {
		config.ImageSize = "1024x1024"
	}
	if strings.TrimSpace(config.ImageQuality) == "" {
		config.ImageQuality = "standard"
	}

	return &ModelRouter{config: config}
}

func (r *ModelRouter) Select(capability Capability) ModelProfile {
	switch capability {
	case CapabilityVision:
		return ModelProfile{
			Model:           r.config.VisionModel,
			Temperature:     0.2,
			MaxOutputTokens: 300,
		}
	case CapabilityImage:
		return ModelProfile{
			Model:        r.config.ImageModel,
			ImageSize:    r.config.ImageSize,
			ImageQuality: r.config.ImageQuality,
		}
	default:
		return ModelProfile{
			Model:           r.config.NarrativeModel,
			Temperature:     0.6,
			MaxOutputTokens: 1800,
		}
	}
}
