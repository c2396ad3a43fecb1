package rpc

// AskRequest starts one streamed question/answer exchange.
type AskRequest struct {
	Question       string    `json:"question"`
	ConversationID string    `json:"conversationId,omitempty"`
	Model          *ModelRef `json:"model,omitempty"`
}

// ModelRef optionally overrides the provider/model used for one request.
type ModelRef struct {
	Provider string `json:"provider"`
	ID       string `json:"id"`
}

// AskStreamRequest is the bidirectional stream payload for Connect RPC.
// The first message must carry the ask; later messages may carry control signals.
type AskStreamRequest struct {
	Ask    *AskRequest `json:"ask,omitempty"`
	Cancel bool        `json:"cancel,omitempty"`
}

// CreateConversationResponse is the body of POST /conversations.
type CreateConversationResponse struct {
	ConversationID string `json:"conversationId"`
}

// ConversationSummary is one row of GET /conversations.
type ConversationSummary struct {
	ID           string `json:"id"`
	MessageCount int    `json:"messageCount"`
	LastMessage  string `json:"lastMessage,omitempty"`
	UpdatedAt    string `json:"updatedAt"`
}

// ListConversationsResponse is the body of GET /conversations.
type ListConversationsResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
}

// ConversationDetail is the body of GET /conversations/{id}.
type ConversationDetail struct {
	ConversationID string            `json:"conversationId"`
	Messages       []TranscriptEntry `json:"messages"`
}

// TranscriptEntry is one finalized message in a conversation detail.
type TranscriptEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ErrorResponse is the JSON error body used by non-streaming endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}
