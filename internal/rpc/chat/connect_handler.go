package chat

import (
	"context"
	"errors"
	"net/http"

	"github.com/bufbuild/connect-go"

	"github.com/nimbus-chat/nimbus/internal/observability"
	"github.com/nimbus-chat/nimbus/internal/rpc"
	"github.com/nimbus-chat/nimbus/internal/rpc/connectjson"
	"github.com/nimbus-chat/nimbus/internal/session"
	"github.com/nimbus-chat/nimbus/internal/store"
)

// ConnectAskProcedure is the bidi-stream procedure path for ask.
const ConnectAskProcedure = "/connect.chat.v1.ChatService/Ask"

// NewConnectHandler builds a Connect bidi stream handler for ask. The stream
// carries the same events as the NDJSON transport; the sentinel is represented
// by stream close instead of a literal frame.
func NewConnectHandler(asker Asker, metrics *observability.Metrics) (string, http.Handler) {
	h := &connectAskHandler{asker: asker, metrics: metrics}
	return ConnectAskProcedure, connect.NewBidiStreamHandler(ConnectAskProcedure, h.handle, connect.WithCodec(connectjson.Codec{}))
}

type connectAskHandler struct {
	asker   Asker
	metrics *observability.Metrics
}

func (h *connectAskHandler) handle(ctx context.Context, stream *connect.BidiStream[rpc.AskStreamRequest, rpc.Event]) error {
	h.metrics.IncActiveStreams("connect")
	defer h.metrics.DecActiveStreams("connect")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	first, err := stream.Receive()
	if err != nil {
		h.metrics.RecordTransportError("connect", "receive_first")
		return err
	}
	if first == nil || first.Ask == nil {
		h.metrics.RecordTransportError("connect", "missing_ask")
		return connect.NewError(connect.CodeInvalidArgument, errors.New("first message must include ask payload"))
	}

	// Listen for cancellation messages from the client.
	go func() {
		for {
			msg, recvErr := stream.Receive()
			if recvErr != nil {
				if !errors.Is(recvErr, context.Canceled) {
					h.metrics.RecordTransportError("connect", "receive_stream")
				}
				cancel()
				return
			}
			if msg != nil && msg.Cancel {
				cancel()
				return
			}
		}
	}()

	events, askErr := h.asker.HandleAsk(ctx, *first.Ask)
	if askErr != nil {
		switch {
		case errors.Is(askErr, session.ErrEmptyQuestion):
			return connect.NewError(connect.CodeInvalidArgument, askErr)
		case errors.Is(askErr, store.ErrNotFound):
			return connect.NewError(connect.CodeNotFound, askErr)
		default:
			return connect.NewError(connect.CodeInternal, askErr)
		}
	}

	for ev := range events {
		if ev.Type == rpc.EventDone {
			continue
		}
		if err := stream.Send(&ev); err != nil {
			h.metrics.RecordTransportError("connect", "send")
			return err
		}
	}
	return nil
}
