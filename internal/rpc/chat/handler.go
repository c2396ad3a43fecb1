package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/nimbus-chat/nimbus/internal/observability"
	"github.com/nimbus-chat/nimbus/internal/rpc"
	"github.com/nimbus-chat/nimbus/internal/session"
	"github.com/nimbus-chat/nimbus/internal/store"
)

// Asker starts one streamed exchange.
type Asker interface {
	HandleAsk(ctx context.Context, req rpc.AskRequest) (<-chan rpc.Event, error)
}

// AskHandler serves POST /ask with an NDJSON stream of wire events.
type AskHandler struct {
	asker   Asker
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewAskHandler constructs a handler instance.
func NewAskHandler(asker Asker, metrics *observability.Metrics, logger *zap.Logger) *AskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AskHandler{asker: asker, metrics: metrics, logger: logger}
}

// ServeHTTP handles POST /ask.
func (h *AskHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.metrics.RecordTransportError("ndjson", "method_not_allowed")
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req rpc.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.metrics.RecordTransportError("ndjson", "decode")
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	events, err := h.asker.HandleAsk(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrEmptyQuestion):
			writeJSONError(w, http.StatusBadRequest, "question is required")
		case errors.Is(err, store.ErrNotFound):
			writeJSONError(w, http.StatusNotFound, "conversation not found")
		default:
			h.logger.Error("ask setup failed", zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	h.metrics.IncActiveStreams("ndjson")
	defer h.metrics.DecActiveStreams("ndjson")

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	writer := bufio.NewWriter(w)
	writing := true
	for ev := range events {
		if !writing {
			continue // drain; the emitter stops via request context
		}
		frame, err := rpc.EncodeFrame(ev)
		if err != nil {
			h.logger.Error("encode frame", zap.Error(err))
			continue
		}
		if _, err := writer.Write(append(frame, '\n')); err != nil {
			h.metrics.RecordTransportError("ndjson", "write")
			writing = false
			continue
		}
		if err := writer.Flush(); err != nil {
			h.metrics.RecordTransportError("ndjson", "flush")
			writing = false
			continue
		}
		flusher.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, rpc.ErrorResponse{Error: msg})
}
