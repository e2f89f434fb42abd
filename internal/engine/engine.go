// Package engine asks a language model what to press next.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tatianab/ai-game-assistant/internal/models"
)

var (
	ErrUnknownProvider = errors.New("unknown AI provider")
	ErrNotConfigured   = errors.New("AI provider not configured")
	ErrInvalidAction   = errors.New("invalid action")
)

// Decision is the model's answer for one tick.
type Decision struct {
	Reasoning string            `json:"reasoning"`
	Action    models.GameAction `json:"action"`
}

// DecisionRequest is everything the model sees for one tick.
type DecisionRequest struct {
	Model         string
	Screen        models.Screen
	Goal          string
	Objectives    []models.Objective
	RecentActions []models.GameAction
	Map           models.MapData
	Dialogue      string
}

// Provider is one inference backend.
type Provider interface {
	Decide(ctx context.Context, req DecisionRequest) (Decision, error)
	Chat(ctx context.Context, model, prompt string) (string, error)
	ListModels(ctx context.Context) ([]models.AIModel, error)
	Close() error
}

// Factory builds the provider selected in settings.
type Factory func(ctx context.Context, settings models.AppSettings) (Provider, error)

// NewProvider is the default Factory.
func NewProvider(ctx context.Context, settings models.AppSettings) (Provider, error) {
	switch settings.AIProvider {
	case models.ProviderGoogle:
		if settings.GoogleAPIKey == "" {
			return nil, fmt.Errorf("%w: google", ErrNotConfigured)
		}
		return NewGoogleProvider(ctx, settings.GoogleAPIKey)
	case models.ProviderOpenRouter:
		if settings.OpenRouterAPIKey == "" {
			return nil, fmt.Errorf("%w: openrouter", ErrNotConfigured)
		}
		return NewOpenRouterProvider(settings.OpenRouterAPIKey), nil
	case models.ProviderLMStudio:
		if settings.LMStudioURL == "" {
			return nil, fmt.Errorf("%w: lmstudio", ErrNotConfigured)
		}
		return NewLMStudioProvider(settings.LMStudioURL), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, settings.AIProvider)
}

// Engine wraps the configured provider so that callers always get an answer.
// Decide never fails: every error becomes a SELECT decision whose reasoning
// explains what went wrong. Chat degrades the same way.
//
// The provider is built once and reused until the provider or its
// credentials change.
type Engine struct {
	factory Factory
	logger  *slog.Logger

	mu      sync.Mutex
	current *cachedProvider
}

// providerKey is the part of the settings a provider is built from. The
// selected model travels with each request instead.
type providerKey struct {
	provider      models.AIProvider
	googleKey     string
	openRouterKey string
	lmStudioURL   string
}

func keyOf(s models.AppSettings) providerKey {
	return providerKey{
		provider:      s.AIProvider,
		googleKey:     s.GoogleAPIKey,
		openRouterKey: s.OpenRouterAPIKey,
		lmStudioURL:   s.LMStudioURL,
	}
}

// cachedProvider is closed once it has been replaced and no call is using it.
type cachedProvider struct {
	Provider
	key     providerKey
	refs    int
	retired bool
}

func NewEngine() *Engine {
	return NewEngineWithFactory(NewProvider)
}

func NewEngineWithFactory(factory Factory) *Engine {
	return &Engine{
		factory: factory,
		logger:  slog.Default().With("component", "engine"),
	}
}

// acquire returns the provider for settings, building a new one when the
// cached one was made from different settings. Call release when done.
func (e *Engine) acquire(ctx context.Context, settings models.AppSettings) (Provider, func(), error) {
	key := keyOf(settings)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil || e.current.key != key {
		p, err := e.factory(ctx, settings)
		if err != nil {
			return nil, nil, err
		}
		e.retire(e.current)
		e.current = &cachedProvider{Provider: p, key: key}
	}

	c := e.current
	c.refs++
	return c.Provider, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		c.refs--
		if c.retired && c.refs == 0 {
			e.closeProvider(c)
		}
	}, nil
}

// retire closes c now if it is idle, or when its last call finishes.
// Callers hold e.mu.
func (e *Engine) retire(c *cachedProvider) {
	if c == nil {
		return
	}
	c.retired = true
	if c.refs == 0 {
		e.closeProvider(c)
	}
}

func (e *Engine) closeProvider(c *cachedProvider) {
	if err := c.Close(); err != nil {
		e.logger.Warn("failed to close provider", "provider", c.key.provider, "error", err)
	}
}

// Close releases the cached provider.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retire(e.current)
	e.current = nil
	return nil
}

func fallback(reasoning string) Decision {
	return Decision{Reasoning: reasoning, Action: models.ActionSelect}
}

func notConfiguredReason(p models.AIProvider) string {
	switch p {
	case models.ProviderGoogle:
		return "Google AI provider is not configured. Please set API Key and select a model in settings."
	case models.ProviderOpenRouter:
		return "OpenRouter is not configured. Please set API Key and select a model in settings."
	case models.ProviderLMStudio:
		return "LM Studio is not configured. Please set the server URL and select a model in settings."
	}
	return "No AI provider selected. Please check settings."
}

func (e *Engine) Decide(ctx context.Context, settings models.AppSettings, req DecisionRequest) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("provider panicked", "provider", settings.AIProvider, "panic", r)
			d = fallback(fmt.Sprintf("An error occurred while communicating with the AI model: %v", r))
		}
	}()

	if !settings.HasCredentials() || settings.SelectedModel == "" {
		return fallback(notConfiguredReason(settings.AIProvider))
	}

	p, release, err := e.acquire(ctx, settings)
	if err != nil {
		e.logger.Warn("provider unavailable", "provider", settings.AIProvider, "error", err)
		if errors.Is(err, ErrUnknownProvider) {
			return fallback(notConfiguredReason(settings.AIProvider))
		}
		return fallback(fmt.Sprintf("An error occurred while communicating with the AI model: %v", err))
	}
	defer release()

	req.Model = settings.SelectedModel
	d, err = p.Decide(ctx, req)
	if errors.Is(err, ErrInvalidAction) {
		e.logger.Warn("model returned an invalid action", "error", err)
		return fallback(fmt.Sprintf("Received an invalid action from the model, taking a safe action instead. (%v)", err))
	}
	if err != nil {
		e.logger.Error("decision failed", "provider", settings.AIProvider, "error", err)
		return fallback(fmt.Sprintf("An error occurred while communicating with the AI model: %v", err))
	}
	return d
}

// Chat answers a question from the user watching the game. Failures come back
// as readable text for the transcript.
func (e *Engine) Chat(ctx context.Context, settings models.AppSettings, prompt string) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			reply = fmt.Sprintf("Sorry, I couldn't process that request: %v", r)
		}
	}()

	switch settings.AIProvider {
	case models.ProviderGoogle:
		if !settings.HasCredentials() || settings.SelectedModel == "" {
			return "Google AI provider is not configured for chat."
		}
	case models.ProviderOpenRouter, models.ProviderLMStudio:
		if !settings.HasCredentials() || settings.SelectedModel == "" {
			return "AI provider not configured for chat."
		}
	default:
		return "No AI provider selected. Please configure one in settings."
	}

	p, release, err := e.acquire(ctx, settings)
	if err != nil {
		return fmt.Sprintf("Sorry, I couldn't process that request: %v", err)
	}
	defer release()

	reply, err = p.Chat(ctx, settings.SelectedModel, prompt)
	if err != nil {
		e.logger.Error("chat failed", "provider", settings.AIProvider, "error", err)
		return fmt.Sprintf("Sorry, I couldn't process that request: %v", err)
	}
	return reply
}

// ListModels returns the models the selected provider offers. Without
// credentials it returns an empty list and makes no request. On failure the
// list is empty and the error says why.
func (e *Engine) ListModels(ctx context.Context, settings models.AppSettings) ([]models.AIModel, error) {
	if !settings.HasCredentials() {
		return []models.AIModel{}, nil
	}

	p, release, err := e.acquire(ctx, settings)
	if err != nil {
		return []models.AIModel{}, err
	}
	defer release()

	list, err := p.ListModels(ctx)
	if err != nil {
		return []models.AIModel{}, fmt.Errorf("list %s models: %w", settings.AIProvider, err)
	}
	if list == nil {
		list = []models.AIModel{}
	}
	return list, nil
}

// parseDecision reads a {"reasoning", "action"} object out of model text.
func parseDecision(text string) (Decision, error) {
	clean := strings.TrimSpace(text)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")

	var raw struct {
		Reasoning string `json:"reasoning"`
		Action    string `json:"action"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(clean)), &raw); err != nil {
		return Decision{}, fmt.Errorf("failed to parse decision JSON: %w", err)
	}

	action, ok := models.ParseGameAction(raw.Action)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrInvalidAction, raw.Action)
	}
	return Decision{Reasoning: raw.Reasoning, Action: action}, nil
}
