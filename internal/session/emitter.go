package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nimbus-chat/nimbus/internal/engine"
	"github.com/nimbus-chat/nimbus/internal/observability"
	"github.com/nimbus-chat/nimbus/internal/rpc"
	"github.com/nimbus-chat/nimbus/internal/store"
)

// ErrEmptyQuestion is returned before any stream starts.
var ErrEmptyQuestion = errors.New("question must not be empty")

// Activity state labels. Tool-derived labels ("checking weather_current") are
// produced on the fly and intentionally not enumerated.
const (
	StateThinking   = "thinking"
	StateResponding = "responding"
	StateProcessing = "processing tool result"
	StateFinalizing = "finalizing answer"
	StateError      = "error"
	StateIdle       = "idle"
)

// Generator yields typed generation events for one request.
type Generator interface {
	Generate(ctx context.Context, history []store.Turn, opts engine.Options) <-chan engine.Event
}

// Emitter turns one ask request into a strictly ordered wire event sequence.
type Emitter struct {
	Store   *store.Store
	Engine  Generator
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// NewEmitter constructs an emitter.
func NewEmitter(st *store.Store, gen Generator, logger *zap.Logger, metrics *observability.Metrics) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{Store: st, Engine: gen, Logger: logger, Metrics: metrics}
}

// HandleAsk validates the request and returns the ordered event stream,
// terminated by the sentinel. Validation failures surface before any event.
func (e *Emitter) HandleAsk(ctx context.Context, req rpc.AskRequest) (<-chan rpc.Event, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, ErrEmptyQuestion
	}
	if req.ConversationID != "" && !e.Store.Exists(req.ConversationID) {
		return nil, store.ErrNotFound
	}

	out := make(chan rpc.Event, 16)
	go func() {
		defer close(out)
		e.run(ctx, out, req)
	}()
	return out, nil
}

// stream tracks per-request emission state.
type stream struct {
	ctx       context.Context
	out       chan<- rpc.Event
	metrics   *observability.Metrics
	lastState string
	closed    bool
}

// send delivers one event unless the request context is done.
func (s *stream) send(ev rpc.Event) bool {
	if s.closed {
		return false
	}
	select {
	case <-s.ctx.Done():
		s.closed = true
		return false
	case s.out <- ev:
		s.metrics.RecordEvent(string(ev.Type))
		return true
	}
}

// setState emits an activity-state event, suppressing repeats of the last
// emitted value (compared case-sensitively after trimming).
func (s *stream) setState(value string) bool {
	value = strings.TrimSpace(value)
	if value == s.lastState {
		return true
	}
	s.lastState = value
	return s.send(rpc.Event{Type: rpc.EventState, State: value})
}

func (e *Emitter) run(ctx context.Context, out chan<- rpc.Event, req rpc.AskRequest) {
	start := time.Now()
	s := &stream{ctx: ctx, out: out, metrics: e.Metrics}

	convID := req.ConversationID
	if convID == "" {
		convID = e.Store.Create()
	}

	// The conversation announcement is always the first event.
	if !s.send(rpc.Event{Type: rpc.EventConversation, ConversationID: convID}) {
		e.Metrics.RecordAsk("cancelled", time.Since(start))
		return
	}

	if err := e.Store.Append(convID, store.Turn{Role: store.RoleUser, Content: req.Question}); err != nil {
		e.fail(s, start, "append user turn: "+err.Error())
		return
	}
	if !s.send(rpc.Event{Type: rpc.EventMessage, Role: string(store.RoleUser), Content: req.Question}) {
		e.Metrics.RecordAsk("cancelled", time.Since(start))
		return
	}

	if !s.setState(StateThinking) {
		e.Metrics.RecordAsk("cancelled", time.Since(start))
		return
	}

	conv, err := e.Store.Get(convID)
	if err != nil {
		e.fail(s, start, "load conversation: "+err.Error())
		return
	}

	var opts engine.Options
	if req.Model != nil {
		opts = engine.Options{Provider: req.Model.Provider, Model: req.Model.ID}
	}

	var (
		sawText bool
		agg     strings.Builder
	)

	for ev := range e.Engine.Generate(ctx, conv.Turns, opts) {
		switch ev.Kind {
		case engine.KindTextDelta:
			if !s.send(rpc.Event{Type: rpc.EventDelta, Delta: ev.Delta}) {
				e.Metrics.RecordAsk("cancelled", time.Since(start))
				return
			}
			agg.WriteString(ev.Delta)
			if !sawText && strings.TrimSpace(ev.Delta) != "" {
				sawText = true
				if !s.setState(StateResponding) {
					e.Metrics.RecordAsk("cancelled", time.Since(start))
					return
				}
			}

		case engine.KindToolCall:
			if !s.setState("checking " + ev.Tool) {
				e.Metrics.RecordAsk("cancelled", time.Since(start))
				return
			}
			evType := rpc.EventToolCall
			if ev.ClientSide {
				evType = rpc.EventClientTool
			}
			if !s.send(rpc.Event{Type: evType, ToolName: ev.Tool, Input: ev.Args}) {
				e.Metrics.RecordAsk("cancelled", time.Since(start))
				return
			}

		case engine.KindToolRes:
			if !s.setState(StateProcessing) {
				e.Metrics.RecordAsk("cancelled", time.Since(start))
				return
			}
			if !s.send(rpc.Event{
				Type:   rpc.EventToolResult,
				Result: []rpc.ContentBlock{{Type: "text", Text: ev.Result}},
			}) {
				e.Metrics.RecordAsk("cancelled", time.Since(start))
				return
			}

		case engine.KindToolErr:
			if !s.send(rpc.Event{Type: rpc.EventToolError, Err: ev.Err}) {
				e.Metrics.RecordAsk("cancelled", time.Since(start))
				return
			}

		case engine.KindStepStart:
			if !s.setState(StateThinking) {
				e.Metrics.RecordAsk("cancelled", time.Since(start))
				return
			}

		case engine.KindStepEnd:
			if !s.setState(StateFinalizing) {
				e.Metrics.RecordAsk("cancelled", time.Since(start))
				return
			}

		case engine.KindFailure:
			e.fail(s, start, ev.Err)
			return

		case engine.KindDone:
			// loop exits when the channel closes
		}
	}

	answer := agg.String()
	if !sawText && strings.TrimSpace(answer) != "" {
		if !s.setState(StateResponding) {
			e.Metrics.RecordAsk("cancelled", time.Since(start))
			return
		}
	}

	if !s.send(rpc.Event{Type: rpc.EventMessage, Role: string(store.RoleAssistant), Content: answer}) {
		e.Metrics.RecordAsk("cancelled", time.Since(start))
		return
	}
	if err := e.Store.Append(convID, store.Turn{Role: store.RoleAssistant, Content: answer}); err != nil {
		e.Logger.Warn("append assistant turn", zap.String("conversation", convID), zap.Error(err))
	}

	if !s.setState(StateIdle) {
		e.Metrics.RecordAsk("cancelled", time.Since(start))
		return
	}
	s.send(rpc.Event{Type: rpc.EventDone})
	e.Metrics.RecordAsk("ok", time.Since(start))
}

// fail emits the error tail: state, stream-error, sentinel. Nothing follows.
func (e *Emitter) fail(s *stream, start time.Time, msg string) {
	e.Logger.Warn("ask failed", zap.String("reason", msg))
	s.setState(StateError)
	s.send(rpc.Event{Type: rpc.EventError, Err: msg})
	s.send(rpc.Event{Type: rpc.EventDone})
	e.Metrics.RecordAsk("error", time.Since(start))
}
