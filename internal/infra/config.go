package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"storyforge/internal/domain"
	"storyforge/internal/genai"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	StorageDir  string

	// GenAIAPIKey is the process-wide provider key; model-specific keys
	// below take precedence over it.
	GenAIAPIKey string

	ChatAPIKey  string
	ChatModel   string
	ChatBaseURL string

	ImageAPIKey  string
	ImageModel   string
	ImageBaseURL string

	VideoAPIKey  string
	VideoModel   string
	VideoBaseURL string
	VideoMode    string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StorageDir:  getEnv("STORAGE_DIR", "./data"),

		GenAIAPIKey: os.Getenv("GENAI_API_KEY"),

		ChatAPIKey:  os.Getenv("CHAT_API_KEY"),
		ChatModel:   getEnv("CHAT_MODEL", "gpt-4o-mini"),
		ChatBaseURL: getEnv("CHAT_BASE_URL", "https://api.openai.com/v1"),

		ImageAPIKey:  os.Getenv("IMAGE_API_KEY"),
		ImageModel:   getEnv("IMAGE_MODEL", "gemini-2.0-flash-exp"),
		ImageBaseURL: getEnv("IMAGE_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),

		VideoAPIKey:  os.Getenv("VIDEO_API_KEY"),
		VideoModel:   getEnv("VIDEO_MODEL", "video-01"),
		VideoBaseURL: getEnv("VIDEO_BASE_URL", "https://api.minimax.io/v1"),
		VideoMode:    getEnv("VIDEO_MODE", "async"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 1500)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	switch genai.VideoMode(cfg.VideoMode) {
	case genai.ModeSync, genai.ModeAsync:
	default:
		return nil, fmt.Errorf("VIDEO_MODE must be %q or %q", genai.ModeSync, genai.ModeAsync)
	}

	return cfg, nil
}

// GenAI derives the model-resolution config. It is rebuilt per call rather
// than cached so provider edits take effect on the next resolution.
func (c *Config) GenAI() genai.Config {
	return genai.Config{
		GlobalAPIKey: c.GenAIAPIKey,
		Models: []genai.ModelConfig{
			{
				ID:           "chat-default",
				Kind:         domain.KindChat,
				Provider:     providerFromURL(c.ChatBaseURL, "openai"),
				BaseURL:      c.ChatBaseURL,
				EndpointPath: "/chat/completions",
				APIModelName: c.ChatModel,
				APIKey:       c.ChatAPIKey,
				Default:      true,
			},
			{
				ID:               "image-default",
				Kind:             domain.KindImage,
				Provider:         providerFromURL(c.ImageBaseURL, "gemini"),
				BaseURL:          c.ImageBaseURL,
				EndpointPath:     "/models/" + c.ImageModel + ":generateContent",
				APIModelName:     c.ImageModel,
				APIKey:           c.ImageAPIKey,
				Default:          true,
				SupportedAspects: []string{"16:9", "9:16", "1:1", "4:3", "3:4"},
			},
			{
				ID:                 "video-default",
				Kind:               domain.KindVideo,
				Provider:           providerFromURL(c.VideoBaseURL, "minimax"),
				BaseURL:            c.VideoBaseURL,
				EndpointPath:       "/video_generation",
				APIModelName:       c.VideoModel,
				APIKey:             c.VideoAPIKey,
				Mode:               genai.VideoMode(c.VideoMode),
				Default:            true,
				SupportedAspects:   []string{"16:9", "9:16", "1:1"},
				SupportedDurations: []int{5, 10},
			},
		},
	}
}

// providerFromURL labels a provider by its host for key-store lookups.
func providerFromURL(baseURL, fallback string) string {
	switch {
	case strings.Contains(baseURL, "openai.com"):
		return "openai"
	case strings.Contains(baseURL, "googleapis.com"):
		return "gemini"
	case strings.Contains(baseURL, "minimax"):
		return "minimax"
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
