package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/tatianab/ai-game-assistant/internal/models"
)

const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	// LM Studio ignores the key but some builds reject an empty header.
	lmStudioKey = "lmstudio-key"
)

// OpenAIProvider speaks the OpenAI chat-completions protocol. It serves both
// OpenRouter and local LM Studio servers.
type OpenAIProvider struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewOpenRouterProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		name:    "openrouter",
		baseURL: openRouterBaseURL,
		apiKey:  apiKey,
		client:  &http.Client{},
	}
}

func NewLMStudioProvider(serverURL string) *OpenAIProvider {
	return &OpenAIProvider{
		name:    "lmstudio",
		baseURL: strings.TrimSuffix(serverURL, "/") + "/v1",
		apiKey:  lmStudioKey,
		client:  &http.Client{},
	}
}

func (p *OpenAIProvider) Close() error { return nil }

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *OpenAIProvider) Decide(ctx context.Context, req DecisionRequest) (Decision, error) {
	prompt, err := buildDecisionPrompt(req)
	if err != nil {
		return Decision{}, err
	}
	prompt += jsonInstruction()

	dataURL := fmt.Sprintf("data:%s;base64,%s", req.Screen.ContentType(), base64.StdEncoding.EncodeToString(req.Screen.Data))
	body := chatRequest{
		Model:          req.Model,
		ResponseFormat: &responseFormat{Type: "json_object"},
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL, Detail: "low"}},
			},
		}},
		MaxTokens: 1000,
	}

	content, err := p.complete(ctx, body)
	if err != nil {
		return Decision{}, err
	}
	return parseDecision(content)
}

func (p *OpenAIProvider) Chat(ctx context.Context, model, prompt string) (string, error) {
	return p.complete(ctx, chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: strings.TrimSpace(chatSystemPrompt)},
			{Role: "user", Content: prompt},
		},
	})
}

func (p *OpenAIProvider) complete(ctx context.Context, body chatRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%s: create request: %w", p.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API Error: %d - %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New(p.name + ": empty choices in response")
	}
	return out.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) ListModels(ctx context.Context) ([]models.AIModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: list models: %s", p.name, resp.Status)
	}

	var out struct {
		Data []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}

	list := make([]models.AIModel, 0, len(out.Data))
	for _, m := range out.Data {
		name := m.Name
		if name == "" {
			name = m.ID
		}
		list = append(list, models.AIModel{ID: m.ID, Name: name})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}
