package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/tatianab/ai-game-assistant/internal/loop"
	"github.com/tatianab/ai-game-assistant/internal/models"
)

const (
	StoreFile   = "file"
	StoreBadger = "badger"
)

// Config holds the application configuration.
type Config struct {
	// Settings seeds the session; a restored session overrides it.
	Settings    models.AppSettings
	SaveDir     string
	Store       string
	SessionName string
	ListenAddr  string
	LogFile     string
}

// LoadConfig loads the configuration from environment variables, after
// reading a .env file from the working directory if there is one.
func LoadConfig() (*Config, error) {
	godotenv.Load()

	s := models.DefaultSettings()
	s.BackendURL = getEnv("BACKEND_URL", s.BackendURL)
	s.AIProvider = models.AIProvider(strings.ToLower(getEnv("AI_PROVIDER", string(s.AIProvider))))
	s.GoogleAPIKey = os.Getenv("GEMINI_API_KEY")
	s.OpenRouterAPIKey = os.Getenv("OPENROUTER_API_KEY")
	s.LMStudioURL = getEnv("LMSTUDIO_URL", s.LMStudioURL)
	s.SelectedModel = os.Getenv("AI_MODEL")

	switch s.AIProvider {
	case models.ProviderGoogle, models.ProviderOpenRouter, models.ProviderLMStudio:
	default:
		return nil, fmt.Errorf("AI_PROVIDER must be one of google, openrouter, lmstudio; got %q", s.AIProvider)
	}

	if v := os.Getenv("AI_ACTION_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("AI_ACTION_INTERVAL_MS must be a positive number of milliseconds, got %q", v)
		}
		s.AIActionInterval = ms
	}

	cfg := &Config{
		Settings:    s,
		SaveDir:     getEnv("SAVE_DIR", models.DefaultSaveDir),
		Store:       strings.ToLower(getEnv("STORE_BACKEND", StoreFile)),
		SessionName: getEnv("SESSION_NAME", loop.DefaultSessionName),
		ListenAddr:  os.Getenv("LISTEN_ADDR"),
		LogFile:     getEnv("LOG_FILE", "assistant.log"),
	}
	if cfg.Store != StoreFile && cfg.Store != StoreBadger {
		return nil, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreFile, StoreBadger, cfg.Store)
	}
	return cfg, nil
}

// OpenStore opens the configured session store.
func (c *Config) OpenStore() (models.SessionStore, error) {
	if c.Store == StoreBadger {
		return models.NewBadgerStore(filepath.Join(c.SaveDir, "badger"))
	}
	return models.NewFileStore(c.SaveDir), nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
