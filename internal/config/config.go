package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config centralizes runtime settings for the API and the storybook workers.
type Config struct {
	Port string

	AuthToken          string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
	MaxUploadMB        int

	LogLevel  string
	LogFormat string

	DatabaseURL string

	OpenAIAPIKey         string
	OpenAIBaseURL        string
	OpenAITimeoutMS      int
	OpenAIModelVision    string
	OpenAIModelNarrative string
	OpenAIModelImage     string
	OpenAIImageSize      string
	OpenAIImageQuality   string
	ProviderMock         bool
	DownloadTimeoutMS    int

	StorybookDir        string
	StorybookPages      int
	ImageMaxRetries     int
	ImageRetryBackoffMS int
	MaxConcurrentJobs   int
	JobQueueCapacity    int
	JobTimeoutMS        int

	ArtifactTTLMinutes           int
	ArtifactSweepIntervalSeconds int

	TraitsCacheTTLSeconds int
	TraitsCacheMaxEntries int

	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisKeyPrefix     string
	RedisJobTTLSeconds int
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		AuthToken:          getEnv("API_AUTH_TOKEN", ""),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 40),
		MaxUploadMB:        getEnvInt("MAX_UPLOAD_MB", 20),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:        getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAITimeoutMS:      getEnvInt("OPENAI_TIMEOUT_MS", 120000),
		OpenAIModelVision:    getEnv("OPENAI_MODEL_VISION", "gpt-4o"),
		OpenAIModelNarrative: getEnv("OPENAI_MODEL_NARRATIVE", "gpt-4o"),
		OpenAIModelImage:     getEnv("OPENAI_MODEL_IMAGE", "dall-e-3"),
		OpenAIImageSize:      getEnv("OPENAI_IMAGE_SIZE", "1024x1024"),
		OpenAIImageQuality:   getEnv("OPENAI_IMAGE_QUALITY", "standard"),
		ProviderMock:         getEnvBool("PROVIDER_MOCK", false),
		DownloadTimeoutMS:    getEnvInt("DOWNLOAD_TIMEOUT_MS", 60000),

		StorybookDir:        getEnv("STORYBOOK_DIR", filepath.Join(os.TempDir(), "storybooks")),
		StorybookPages:      getEnvInt("STORYBOOK_PAGES", 12),
		ImageMaxRetries:     getEnvInt("IMAGE_MAX_RETRIES", 2),
		ImageRetryBackoffMS: getEnvInt("IMAGE_RETRY_BACKOFF_MS", 10000),
		MaxConcurrentJobs:   getEnvInt("MAX_CONCURRENT_JOBS", 4),
		JobQueueCapacity:    getEnvInt("JOB_QUEUE_CAPACITY", 64),
		JobTimeoutMS:        getEnvInt("JOB_TIMEOUT_MS", 0),

		ArtifactTTLMinutes:           getEnvInt("ARTIFACT_TTL_MINUTES", 1440),
		ArtifactSweepIntervalSeconds: getEnvInt("ARTIFACT_SWEEP_INTERVAL_SECONDS", 600),

		TraitsCacheTTLSeconds: getEnvInt("TRAITS_CACHE_TTL_SECONDS", 900),
		TraitsCacheMaxEntries: getEnvInt("TRAITS_CACHE_MAX_ENTRIES", 256),

		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		RedisKeyPrefix:     getEnv("REDIS_KEY_PREFIX", "storybook:"),
		RedisJobTTLSeconds: getEnvInt("REDIS_JOB_TTL_SECONDS", 86400),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return fallback
	}
	return result
}
