package session

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimbus-chat/nimbus/internal/engine"
	"github.com/nimbus-chat/nimbus/internal/rpc"
	"github.com/nimbus-chat/nimbus/internal/store"
)

// scriptedEngine replays a fixed generation event sequence.
type scriptedEngine struct {
	events []engine.Event
}

func (s *scriptedEngine) Generate(ctx context.Context, history []store.Turn, opts engine.Options) <-chan engine.Event {
	out := make(chan engine.Event, len(s.events))
	go func() {
		defer close(out)
		for _, ev := range s.events {
			select {
			case <-ctx.Done():
				return
			case out <- ev:
			}
		}
	}()
	return out
}

func collect(t *testing.T, ch <-chan rpc.Event) []rpc.Event {
	t.Helper()
	var out []rpc.Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func newEmitter(st *store.Store, events ...engine.Event) *Emitter {
	return NewEmitter(st, &scriptedEngine{events: events}, nil, nil)
}

func TestHandleAskRejectsEmptyQuestion(t *testing.T) {
	e := newEmitter(store.New())

	_, err := e.HandleAsk(context.Background(), rpc.AskRequest{Question: "   "})
	require.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestHandleAskRejectsUnknownConversation(t *testing.T) {
	e := newEmitter(store.New())

	_, err := e.HandleAsk(context.Background(), rpc.AskRequest{Question: "hi", ConversationID: "999"})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSimpleAnswerSequence(t *testing.T) {
	st := store.New()
	e := newEmitter(st,
		engine.Event{Kind: engine.KindTextDelta, Delta: "Hello"},
		engine.Event{Kind: engine.KindTextDelta, Delta: " there"},
		engine.Event{Kind: engine.KindDone, FinishReason: "stop"},
	)

	ch, err := e.HandleAsk(context.Background(), rpc.AskRequest{Question: "hi"})
	require.NoError(t, err)
	events := collect(t, ch)

	require.Equal(t, []rpc.EventType{
		rpc.EventConversation,
		rpc.EventMessage, // user turn
		rpc.EventState,   // thinking
		rpc.EventDelta,
		rpc.EventState, // responding
		rpc.EventDelta,
		rpc.EventMessage, // final assistant message
		rpc.EventState,   // idle
		rpc.EventDone,
	}, types(events))

	require.Equal(t, StateThinking, events[2].State)
	require.Equal(t, StateResponding, events[4].State)
	require.Equal(t, StateIdle, events[7].State)

	// final message equals the concatenated deltas
	require.Equal(t, "Hello there", events[6].Content)

	// both turns persisted
	conv, err := st.Get(events[0].ConversationID)
	require.NoError(t, err)
	require.Len(t, conv.Turns, 2)
	require.Equal(t, store.RoleAssistant, conv.Turns[1].Role)
	require.Equal(t, "Hello there", conv.Turns[1].Content)
}

func TestRespondingWaitsForVisibleText(t *testing.T) {
	e := newEmitter(store.New(),
		engine.Event{Kind: engine.KindTextDelta, Delta: "  "},
		engine.Event{Kind: engine.KindTextDelta, Delta: "\n"},
		engine.Event{Kind: engine.KindTextDelta, Delta: "Hi"},
		engine.Event{Kind: engine.KindDone},
	)

	ch, err := e.HandleAsk(context.Background(), rpc.AskRequest{Question: "hi"})
	require.NoError(t, err)
	events := collect(t, ch)

	var states []string
	var deltasBeforeResponding int
	counting := true
	for _, ev := range events {
		switch ev.Type {
		case rpc.EventState:
			states = append(states, ev.State)
			if ev.State == StateResponding {
				counting = false
			}
		case rpc.EventDelta:
			if counting {
				deltasBeforeResponding++
			}
		}
	}
	require.Equal(t, []string{StateThinking, StateResponding, StateIdle}, states)
	// whitespace-only deltas plus the first visible one precede responding
	require.Equal(t, 3, deltasBeforeResponding)
}

func TestToolCallSequence(t *testing.T) {
	e := newEmitter(store.New(),
		engine.Event{Kind: engine.KindToolCall, Tool: "weather_current", Args: map[string]any{"location": "Oslo"}},
		engine.Event{Kind: engine.KindToolRes, Tool: "weather_current", Result: `{"condition":"sunny"}`},
		engine.Event{Kind: engine.KindStepEnd},
		engine.Event{Kind: engine.KindStepStart},
		engine.Event{Kind: engine.KindTextDelta, Delta: "Sunny in Oslo."},
		engine.Event{Kind: engine.KindDone},
	)

	ch, err := e.HandleAsk(context.Background(), rpc.AskRequest{Question: "weather?"})
	require.NoError(t, err)
	events := collect(t, ch)

	require.Equal(t, []rpc.EventType{
		rpc.EventConversation,
		rpc.EventMessage,
		rpc.EventState, // thinking
		rpc.EventState, // checking weather_current
		rpc.EventToolCall,
		rpc.EventState, // processing tool result
		rpc.EventToolResult,
		rpc.EventState, // finalizing answer
		rpc.EventState, // thinking (next step)
		rpc.EventDelta,
		rpc.EventState, // responding
		rpc.EventMessage,
		rpc.EventState, // idle
		rpc.EventDone,
	}, types(events))

	require.Equal(t, "checking weather_current", events[3].State)
	require.Equal(t, StateProcessing, events[5].State)
	require.Equal(t, StateFinalizing, events[7].State)
	require.Contains(t, events[6].Result[0].Text, "sunny")
}

func TestClientToolUsesDedicatedEventType(t *testing.T) {
	e := newEmitter(store.New(),
		engine.Event{Kind: engine.KindToolCall, Tool: "client_greet", Args: map[string]any{"message": "yo"}, ClientSide: true},
		engine.Event{Kind: engine.KindToolRes, Tool: "client_greet", Result: `{"status":"dispatched"}`},
		engine.Event{Kind: engine.KindTextDelta, Delta: "Done."},
		engine.Event{Kind: engine.KindDone},
	)

	ch, err := e.HandleAsk(context.Background(), rpc.AskRequest{Question: "greet me"})
	require.NoError(t, err)
	events := collect(t, ch)

	var found bool
	for _, ev := range events {
		if ev.Type == rpc.EventClientTool {
			found = true
			require.Equal(t, "client_greet", ev.ToolName)
			require.Equal(t, "yo", ev.Input["message"])
		}
	}
	require.True(t, found)
}

func TestStateDeduplication(t *testing.T) {
	e := newEmitter(store.New(),
		engine.Event{Kind: engine.KindStepStart}, // thinking again, must dedup
		engine.Event{Kind: engine.KindTextDelta, Delta: "Hi"},
		engine.Event{Kind: engine.KindDone},
	)

	ch, err := e.HandleAsk(context.Background(), rpc.AskRequest{Question: "hi"})
	require.NoError(t, err)
	events := collect(t, ch)

	var prev string
	first := true
	for _, ev := range events {
		if ev.Type != rpc.EventState {
			continue
		}
		if !first {
			require.NotEqual(t, prev, ev.State, "adjacent state events must differ")
		}
		prev = ev.State
		first = false
	}
}

func TestFailureTail(t *testing.T) {
	st := store.New()
	e := newEmitter(st,
		engine.Event{Kind: engine.KindFailure, Err: "provider exploded"},
	)

	ch, err := e.HandleAsk(context.Background(), rpc.AskRequest{Question: "hi"})
	require.NoError(t, err)
	events := collect(t, ch)

	n := len(events)
	require.GreaterOrEqual(t, n, 3)
	require.Equal(t, rpc.EventState, events[n-3].Type)
	require.Equal(t, StateError, events[n-3].State)
	require.Equal(t, rpc.EventError, events[n-2].Type)
	require.Equal(t, "provider exploded", events[n-2].Err)
	require.Equal(t, rpc.EventDone, events[n-1].Type)

	// user turn is retained, assistant turn skipped
	conv, err := st.Get(events[0].ConversationID)
	require.NoError(t, err)
	require.Len(t, conv.Turns, 1)
	require.Equal(t, store.RoleUser, conv.Turns[0].Role)
}

func TestExistingConversationKeepsHistory(t *testing.T) {
	st := store.New()
	id := st.Create()
	require.NoError(t, st.Append(id, store.Turn{Role: store.RoleUser, Content: "earlier"}))
	require.NoError(t, st.Append(id, store.Turn{Role: store.RoleAssistant, Content: "earlier answer"}))

	e := newEmitter(st,
		engine.Event{Kind: engine.KindTextDelta, Delta: "Again."},
		engine.Event{Kind: engine.KindDone},
	)

	ch, err := e.HandleAsk(context.Background(), rpc.AskRequest{Question: "and now?", ConversationID: id})
	require.NoError(t, err)
	events := collect(t, ch)

	require.Equal(t, id, events[0].ConversationID)

	conv, err := st.Get(id)
	require.NoError(t, err)
	require.Len(t, conv.Turns, 4)
}

func TestWhitespaceOnlyAnswerSkipsResponding(t *testing.T) {
	e := newEmitter(store.New(),
		engine.Event{Kind: engine.KindTextDelta, Delta: " "},
		engine.Event{Kind: engine.KindTextDelta, Delta: "\t"},
		engine.Event{Kind: engine.KindDone},
	)
	ch, err := e.HandleAsk(context.Background(), rpc.AskRequest{Question: "hi"})
	require.NoError(t, err)
	events := collect(t, ch)

	for _, ev := range events {
		if ev.Type == rpc.EventState {
			require.NotEqual(t, StateResponding, ev.State)
		}
	}
}

func types(events []rpc.Event) []rpc.EventType {
	out := make([]rpc.EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func joinDeltas(events []rpc.Event) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type == rpc.EventDelta {
			b.WriteString(ev.Delta)
		}
	}
	return b.String()
}

func TestFinalMessageMatchesDeltas(t *testing.T) {
	e := newEmitter(store.New(),
		engine.Event{Kind: engine.KindTextDelta, Delta: "The "},
		engine.Event{Kind: engine.KindTextDelta, Delta: "answer."},
		engine.Event{Kind: engine.KindDone},
	)
	ch, err := e.HandleAsk(context.Background(), rpc.AskRequest{Question: "q"})
	require.NoError(t, err)
	events := collect(t, ch)

	var final string
	for _, ev := range events {
		if ev.Type == rpc.EventMessage && ev.Role == string(store.RoleAssistant) {
			final = ev.Content
		}
	}
	require.Equal(t, joinDeltas(events), final)
}
