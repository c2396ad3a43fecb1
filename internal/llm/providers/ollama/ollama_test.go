package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nimbus-chat/nimbus/internal/llm"
)

func TestChatPlainAnswer(t *testing.T) {
	var captured ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"hei"},"done":true}`))
	}))
	t.Cleanup(srv.Close)

	p := NewProvider("local", srv.URL, time.Second)
	resp, err := p.Chat(context.Background(), llm.ChatRequest{
		Model:       "qwen",
		Messages:    []llm.ChatMessage{{Role: llm.RoleUser, Content: "hi"}},
		Temperature: 0.2,
		MaxTokens:   128,
	})
	require.NoError(t, err)

	require.Equal(t, "hei", resp.Message.Content)
	require.Equal(t, "stop", resp.FinishReason)
	require.False(t, captured.Stream)
	require.EqualValues(t, 0.2, captured.Options["temperature"])
}

func TestChatToolCallsSetFinishReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"","tool_calls":[
			{"function":{"name":"weather_current","arguments":{"location":"Oslo"}}}
		]},"done":true}`))
	}))
	t.Cleanup(srv.Close)

	p := NewProvider("local", srv.URL, time.Second)
	resp, err := p.Chat(context.Background(), llm.ChatRequest{
		Model:    "qwen",
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: "weather?"}},
	})
	require.NoError(t, err)

	require.Equal(t, "tool_calls", resp.FinishReason)
	require.Len(t, resp.Message.ToolCalls, 1)
	require.Equal(t, "weather_current", resp.Message.ToolCalls[0].Name)
}

func TestChatToolRoleMapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "tool", req.Messages[1].Role)
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"done"},"done":true}`))
	}))
	t.Cleanup(srv.Close)

	p := NewProvider("local", srv.URL, time.Second)
	_, err := p.Chat(context.Background(), llm.ChatRequest{
		Model: "qwen",
		Messages: []llm.ChatMessage{
			{Role: llm.RoleUser, Content: "weather?"},
			{Role: llm.RoleTool, Name: "weather_current", Content: `{"condition":"sunny"}`},
		},
	})
	require.NoError(t, err)
}

func TestChatErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	p := NewProvider("local", srv.URL, time.Second)
	_, err := p.Chat(context.Background(), llm.ChatRequest{
		Model:    "missing",
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")
}
