package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/nimbus-chat/nimbus/internal/llm"
)

// Provider adapts the Gemini API to the llm.Provider contract. Tool calling is
// not wired for this provider; tool specs in the request are ignored and the
// model answers from conversation context alone.
type Provider struct {
	name   string
	client *genai.Client
}

// NewProvider constructs a Gemini provider using an API key.
func NewProvider(ctx context.Context, name, apiKey string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &Provider{name: name, client: client}, nil
}

// Name returns provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// Chat executes a non-streaming generation over the full message history.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		return llm.ChatResponse{}, fmt.Errorf("model is required")
	}

	var system string
	var contents []*genai.Content
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			system = m.Content
		case llm.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	temp := float32(req.Temperature)
	cfg := &genai.GenerateContentConfig{
		Temperature: &temp,
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	res, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return llm.ChatResponse{}, fmt.Errorf("gemini generate content: %w", err)
	}

	text := res.Text()
	if text == "" {
		return llm.ChatResponse{}, fmt.Errorf("gemini returned empty text")
	}

	return llm.ChatResponse{
		Message:      llm.ChatMessage{Role: llm.RoleAssistant, Content: text},
		FinishReason: "stop",
		ProviderName: p.name,
		Model:        model,
	}, nil
}
