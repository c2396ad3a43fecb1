package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/nimbus-chat/nimbus/internal/llm"
	"github.com/nimbus-chat/nimbus/internal/observability"
	"github.com/nimbus-chat/nimbus/internal/store"
	"github.com/nimbus-chat/nimbus/internal/tools"
)

// EventKind discriminates generation events.
type EventKind string

const (
	KindStepStart EventKind = "step-start"
	KindStepEnd   EventKind = "step-end"
	KindTextDelta EventKind = "text-delta"
	KindToolCall  EventKind = "tool-call"
	KindToolRes   EventKind = "tool-result"
	KindToolErr   EventKind = "tool-error"
	KindFailure   EventKind = "failure"
	KindDone      EventKind = "done"
)

// Event is one typed generation event in arrival order.
type Event struct {
	Kind         EventKind
	Delta        string
	Tool         string
	Args         map[string]any
	ClientSide   bool
	Result       string
	Err          string
	FinishReason string
}

// Options carry per-request overrides.
type Options struct {
	Provider string
	Model    string
}

// Engine drives a tool-calling chat loop and yields generation events.
type Engine struct {
	registry     *llm.Registry
	tools        *tools.Registry
	maxSteps     int
	maxTokens    int
	temperature  float64
	systemPrompt string
	logger       *zap.Logger
	metrics      *observability.Metrics
}

// Config holds engine construction parameters.
type Config struct {
	MaxSteps     int
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
}

// New constructs an engine.
func New(registry *llm.Registry, toolReg *tools.Registry, cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Engine {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		registry:     registry,
		tools:        toolReg,
		maxSteps:     cfg.MaxSteps,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		systemPrompt: cfg.SystemPrompt,
		logger:       logger,
		metrics:      metrics,
	}
}

// Generate runs the chat loop over the full turn history (oldest first) and
// emits events on the returned channel. The channel is closed when generation
// completes, fails, or ctx is cancelled; the last event is Failure or Done.
func (e *Engine) Generate(ctx context.Context, history []store.Turn, opts Options) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		e.run(ctx, out, history, opts)
	}()
	return out
}

func (e *Engine) run(ctx context.Context, out chan<- Event, history []store.Turn, opts Options) {
	provider, route, err := e.resolve(opts)
	if err != nil {
		send(ctx, out, Event{Kind: KindFailure, Err: err.Error()})
		return
	}

	messages := e.seedMessages(history)
	specs := e.toolSpecs()

	temperature := route.Temperature
	if temperature == 0 {
		temperature = e.temperature
	}
	maxTokens := route.MaxTokens
	if maxTokens == 0 {
		maxTokens = e.maxTokens
	}

	for step := 1; step <= e.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return
		}

		if step > 1 {
			if !send(ctx, out, Event{Kind: KindStepStart}) {
				return
			}
		}

		resp, err := provider.Chat(ctx, llm.ChatRequest{
			Model:       route.Model,
			Messages:    messages,
			Tools:       specs,
			MaxTokens:   maxTokens,
			Temperature: temperature,
		})
		if err != nil {
			e.logger.Warn("generation failed",
				zap.String("provider", provider.Name()),
				zap.String("model", route.Model),
				zap.Error(err))
			send(ctx, out, Event{Kind: KindFailure, Err: err.Error()})
			return
		}

		if resp.Message.Content != "" {
			if !send(ctx, out, Event{Kind: KindTextDelta, Delta: resp.Message.Content}) {
				return
			}
		}
		messages = append(messages, resp.Message)

		if len(resp.Message.ToolCalls) == 0 {
			send(ctx, out, Event{Kind: KindDone, FinishReason: finishReason(resp)})
			return
		}

		for _, tc := range resp.Message.ToolCalls {
			args := decodeArgs(tc.Arguments)
			clientSide := tools.IsClientSide(tc.Name)

			if !send(ctx, out, Event{Kind: KindToolCall, Tool: tc.Name, Args: args, ClientSide: clientSide}) {
				return
			}

			var output string
			if clientSide {
				// Dispatched on the client; generation proceeds on a synthetic ack.
				output = fmt.Sprintf(`{"status":"dispatched","tool":%q}`, tc.Name)
			} else {
				result, execErr := e.tools.Execute(ctx, tc.Name, args)
				if execErr != nil {
					e.metrics.RecordToolCall(tc.Name, "error")
					if !send(ctx, out, Event{Kind: KindToolErr, Tool: tc.Name, Err: execErr.Error()}) {
						return
					}
					output = fmt.Sprintf(`{"error":%q}`, execErr.Error())
					messages = append(messages, llm.ChatMessage{
						Role:       llm.RoleTool,
						Name:       tc.Name,
						Content:    output,
						ToolCallID: tc.ID,
					})
					continue
				}
				e.metrics.RecordToolCall(tc.Name, "ok")
				output = result
			}

			if !send(ctx, out, Event{Kind: KindToolRes, Tool: tc.Name, Result: output}) {
				return
			}
			messages = append(messages, llm.ChatMessage{
				Role:       llm.RoleTool,
				Name:       tc.Name,
				Content:    output,
				ToolCallID: tc.ID,
			})
		}

		if !send(ctx, out, Event{Kind: KindStepEnd}) {
			return
		}
	}

	send(ctx, out, Event{Kind: KindDone, FinishReason: "max_steps"})
}

func (e *Engine) resolve(opts Options) (llm.Provider, llm.ModelRoute, error) {
	if opts.Provider != "" {
		return e.registry.ResolveRef(opts.Provider, opts.Model)
	}
	return e.registry.Resolve(opts.Model)
}

func (e *Engine) seedMessages(history []store.Turn) []llm.ChatMessage {
	messages := make([]llm.ChatMessage, 0, len(history)+1)
	messages = append(messages, llm.ChatMessage{Role: llm.RoleSystem, Content: e.prompt()})
	for _, turn := range history {
		role := llm.RoleUser
		if turn.Role == store.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.ChatMessage{Role: role, Content: turn.Content})
	}
	return messages
}

func (e *Engine) toolSpecs() []llm.ToolSpec {
	if e.tools == nil {
		return nil
	}
	schemas := e.tools.Schemas()
	specs := make([]llm.ToolSpec, 0, len(schemas))
	for _, s := range schemas {
		specs = append(specs, llm.ToolSpec{
			Name:        s.Name,
			Description: s.Description,
			Schema:      s.JSONSchema(),
		})
	}
	return specs
}

func finishReason(resp llm.ChatResponse) string {
	if resp.FinishReason != "" {
		return resp.FinishReason
	}
	return "stop"
}

func decodeArgs(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return map[string]any{}
	}
	return args
}

// send delivers an event unless ctx is done; it reports whether delivery happened.
func send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- ev:
		return true
	}
}
