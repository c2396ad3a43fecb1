package chat

import (
	"net/http"
	"strings"
	"time"

	"github.com/nimbus-chat/nimbus/internal/rpc"
	"github.com/nimbus-chat/nimbus/internal/store"
)

// ConversationsHandler serves the conversation CRUD surface:
//
//	POST /conversations        create
//	GET  /conversations        list summaries
//	GET  /conversations/{id}   full detail
type ConversationsHandler struct {
	store *store.Store
}

// NewConversationsHandler constructs a handler instance.
func NewConversationsHandler(st *store.Store) *ConversationsHandler {
	return &ConversationsHandler{store: st}
}

// Mount registers the handler's routes on a mux.
func (h *ConversationsHandler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("/conversations", h.handleCollection)
	mux.HandleFunc("/conversations/", h.handleByID)
}

func (h *ConversationsHandler) handleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		id := h.store.Create()
		writeJSON(w, http.StatusOK, rpc.CreateConversationResponse{ConversationID: id})
	case http.MethodGet:
		summaries := h.store.ListSummaries()
		out := make([]rpc.ConversationSummary, 0, len(summaries))
		for _, s := range summaries {
			out = append(out, rpc.ConversationSummary{
				ID:           s.ID,
				MessageCount: s.MessageCount,
				LastMessage:  s.LastMessage,
				UpdatedAt:    s.UpdatedAt.UTC().Format(time.RFC3339Nano),
			})
		}
		writeJSON(w, http.StatusOK, rpc.ListConversationsResponse{Conversations: out})
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *ConversationsHandler) handleByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/conversations/")
	if id == "" || strings.Contains(id, "/") {
		writeJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}

	conv, err := h.store.Get(id)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}

	detail := rpc.ConversationDetail{
		ConversationID: conv.ID,
		Messages:       make([]rpc.TranscriptEntry, 0, len(conv.Turns)),
	}
	for _, turn := range conv.Turns {
		detail.Messages = append(detail.Messages, rpc.TranscriptEntry{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}
	writeJSON(w, http.StatusOK, detail)
}
