package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimbus-chat/nimbus/internal/engine"
	"github.com/nimbus-chat/nimbus/internal/rpc"
	"github.com/nimbus-chat/nimbus/internal/session"
	"github.com/nimbus-chat/nimbus/internal/store"
)

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

func newTestServer(t *testing.T, st *store.Store, events ...engine.Event) *httptest.Server {
	t.Helper()
	emitter := session.NewEmitter(st, &scriptedEngine{events: events}, nil, nil)

	mux := http.NewServeMux()
	mux.Handle("/ask", NewAskHandler(emitter, nil, nil))
	NewConversationsHandler(st).Mount(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postAsk(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/ask", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func readFrames(t *testing.T, resp *http.Response) []string {
	t.Helper()
	defer resp.Body.Close()

	var lines []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestAskStreamsOrderedEvents(t *testing.T) {
	srv := newTestServer(t, store.New(),
		engine.Event{Kind: engine.KindTextDelta, Delta: "4"},
		engine.Event{Kind: engine.KindDone, FinishReason: "stop"},
	)

	resp := postAsk(t, srv, `{"question":"what is 2+2?"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	frames := readFrames(t, resp)
	require.Equal(t, rpc.Sentinel, frames[len(frames)-1])

	var types []rpc.EventType
	for _, line := range frames {
		ev, err := rpc.DecodeFrame([]byte(line))
		require.NoError(t, err)
		types = append(types, ev.Type)
	}
	require.Equal(t, []rpc.EventType{
		rpc.EventConversation,
		rpc.EventMessage,
		rpc.EventState, // thinking
		rpc.EventDelta,
		rpc.EventState, // responding
		rpc.EventMessage,
		rpc.EventState, // idle
		rpc.EventDone,
	}, types)
}

func TestAskEmptyQuestionRejected(t *testing.T) {
	srv := newTestServer(t, store.New())

	resp := postAsk(t, srv, `{"question":"   "}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var e rpc.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	require.Equal(t, "question is required", e.Error)
}

func TestAskUnknownConversationRejected(t *testing.T) {
	srv := newTestServer(t, store.New())

	resp := postAsk(t, srv, `{"question":"hi","conversationId":"999"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var e rpc.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	require.Equal(t, "conversation not found", e.Error)
}

func TestAskInvalidBodyRejected(t *testing.T) {
	srv := newTestServer(t, store.New())

	resp := postAsk(t, srv, `{not json`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAskMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, store.New())

	resp, err := http.Get(srv.URL + "/ask")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStreamErrorTail(t *testing.T) {
	srv := newTestServer(t, store.New(),
		engine.Event{Kind: engine.KindFailure, Err: "provider unavailable"},
	)

	resp := postAsk(t, srv, `{"question":"hi"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frames := readFrames(t, resp)
	n := len(frames)
	require.Equal(t, rpc.Sentinel, frames[n-1])

	errEv, err := rpc.DecodeFrame([]byte(frames[n-2]))
	require.NoError(t, err)
	require.Equal(t, rpc.EventError, errEv.Type)
	require.Equal(t, "provider unavailable", errEv.Err)

	stateEv, err := rpc.DecodeFrame([]byte(frames[n-3]))
	require.NoError(t, err)
	require.Equal(t, rpc.EventState, stateEv.Type)
	require.Equal(t, session.StateError, stateEv.State)
}

func TestConversationsLifecycle(t *testing.T) {
	st := store.New()
	srv := newTestServer(t, st)

	// create
	resp, err := http.Post(srv.URL+"/conversations", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	var created rpc.CreateConversationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.NotEmpty(t, created.ConversationID)

	require.NoError(t, st.Append(created.ConversationID, store.Turn{Role: store.RoleUser, Content: "hello"}))

	// list
	resp, err = http.Get(srv.URL + "/conversations")
	require.NoError(t, err)
	var list rpc.ListConversationsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list.Conversations, 1)
	require.Equal(t, created.ConversationID, list.Conversations[0].ID)
	require.Equal(t, 1, list.Conversations[0].MessageCount)

	// detail
	resp, err = http.Get(srv.URL + "/conversations/" + created.ConversationID)
	require.NoError(t, err)
	var detail rpc.ConversationDetail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&detail))
	resp.Body.Close()
	require.Equal(t, created.ConversationID, detail.ConversationID)
	require.Len(t, detail.Messages, 1)
	require.Equal(t, "hello", detail.Messages[0].Content)
}

func TestConversationDetailNotFound(t *testing.T) {
	srv := newTestServer(t, store.New())

	resp, err := http.Get(srv.URL + "/conversations/999")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var e rpc.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	require.Equal(t, "conversation not found", e.Error)
}
