package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/tatianab/ai-game-assistant/internal/models"
)

// GoogleProvider calls Gemini through the generative-ai-go client.
type GoogleProvider struct {
	client *genai.Client
}

func NewGoogleProvider(ctx context.Context, apiKey string) (*GoogleProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GoogleProvider{client: client}, nil
}

func (p *GoogleProvider) Close() error {
	return p.client.Close()
}

var decisionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"reasoning": {
			Type:        genai.TypeString,
			Description: "A detailed, structured explanation of why you are choosing this action, considering the map and objectives. Use headings (e.g. 'Navigating Menu') and newlines for clarity.",
		},
		"action": {
			Type:        genai.TypeString,
			Description: "The single next game action to take.",
			Enum:        models.ActionNames(),
		},
	},
	Required: []string{"reasoning", "action"},
}

func (p *GoogleProvider) Decide(ctx context.Context, req DecisionRequest) (Decision, error) {
	prompt, err := buildDecisionPrompt(req)
	if err != nil {
		return Decision{}, err
	}

	model := p.client.GenerativeModel(req.Model)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = decisionSchema

	resp, err := model.GenerateContent(ctx,
		genai.ImageData(req.Screen.Format(), req.Screen.Data),
		genai.Text(prompt),
	)
	if err != nil {
		return Decision{}, err
	}

	text, err := responseText(resp)
	if err != nil {
		return Decision{}, err
	}
	return parseDecision(text)
}

func (p *GoogleProvider) Chat(ctx context.Context, modelName, prompt string) (string, error) {
	full := fmt.Sprintf("%s User's question: %q", strings.TrimSpace(chatSystemPrompt), prompt)
	resp, err := p.client.GenerativeModel(modelName).GenerateContent(ctx, genai.Text(full))
	if err != nil {
		return "", err
	}
	return responseText(resp)
}

// ListModels returns the flash models that support generateContent.
func (p *GoogleProvider) ListModels(ctx context.Context) ([]models.AIModel, error) {
	list := []models.AIModel{}
	it := p.client.ListModels(ctx)
	for {
		m, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		if !slices.Contains(m.SupportedGenerationMethods, "generateContent") || !strings.Contains(m.Name, "gemini-2.5-flash") {
			continue
		}
		list = append(list, models.AIModel{ID: m.Name, Name: m.DisplayName})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content returned from Gemini")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("unexpected response type from Gemini")
	}
	return sb.String(), nil
}
