package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nimbus-chat/nimbus/internal/rpc"
)

// ErrNotFound is returned when the daemon does not know a conversation id.
var ErrNotFound = errors.New("conversation not found")

// API is the HTTP client for the nimbus daemon.
type API struct {
	base string
	http *http.Client
}

// NewAPI constructs an API client for the given daemon address.
func NewAPI(addr string) *API {
	return &API{
		base: normalizeAddr(addr),
		// No overall timeout: /ask responses stream indefinitely.
		http: &http.Client{},
	}
}

func normalizeAddr(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

// Ask starts one streamed exchange and returns the NDJSON body.
func (a *API) Ask(ctx context.Context, req rpc.AskRequest) (io.ReadCloser, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal ask: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+"/ask", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build ask request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("daemon returned status %d: %s", resp.StatusCode, readError(resp.Body))
	}
	return resp.Body, nil
}

// CreateConversation allocates a new conversation on the daemon.
func (a *API) CreateConversation(ctx context.Context) (string, error) {
	var out rpc.CreateConversationResponse
	if err := a.doJSON(ctx, http.MethodPost, "/conversations", &out); err != nil {
		return "", err
	}
	return out.ConversationID, nil
}

// ListConversations fetches conversation summaries, most recent first.
func (a *API) ListConversations(ctx context.Context) ([]rpc.ConversationSummary, error) {
	var out rpc.ListConversationsResponse
	if err := a.doJSON(ctx, http.MethodGet, "/conversations", &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// GetConversation fetches the full transcript for one conversation.
func (a *API) GetConversation(ctx context.Context, id string) (rpc.ConversationDetail, error) {
	var out rpc.ConversationDetail
	if err := a.doJSON(ctx, http.MethodGet, "/conversations/"+id, &out); err != nil {
		return rpc.ConversationDetail{}, err
	}
	return out, nil
}

func (a *API) doJSON(ctx context.Context, method, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, a.base+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("daemon returned status %d: %s", resp.StatusCode, readError(resp.Body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readError(body io.Reader) string {
	var e rpc.ErrorResponse
	if err := json.NewDecoder(body).Decode(&e); err == nil && e.Error != "" {
		return e.Error
	}
	return "unknown error"
}
