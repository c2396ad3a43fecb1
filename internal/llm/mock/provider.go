package mock

import (
	"context"
	"sync"

	"github.com/nimbus-chat/nimbus/internal/llm"
)

// Provider is a test double implementing llm.Provider. Responses are consumed
// in order, one per Chat call; the last one repeats once the script runs out.
type Provider struct {
	mu        sync.Mutex
	NameValue string
	ChatFn    func(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error)
	Responses []llm.ChatResponse
	Err       error
	Requests  []llm.ChatRequest
	calls     int
}

func (p *Provider) Name() string {
	if p.NameValue != "" {
		return p.NameValue
	}
	return "mock"
}

func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Requests = append(p.Requests, req)

	if p.ChatFn != nil {
		return p.ChatFn(ctx, req)
	}
	if p.Err != nil {
		return llm.ChatResponse{}, p.Err
	}
	if len(p.Responses) == 0 {
		return llm.ChatResponse{
			Message:      llm.ChatMessage{Role: llm.RoleAssistant, Content: "mock"},
			FinishReason: "stop",
		}, nil
	}

	idx := p.calls
	if idx >= len(p.Responses) {
		idx = len(p.Responses) - 1
	}
	p.calls++
	return p.Responses[idx], nil
}
