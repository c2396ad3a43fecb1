package chat

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bufbuild/connect-go"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/nimbus-chat/nimbus/internal/engine"
	"github.com/nimbus-chat/nimbus/internal/rpc"
	"github.com/nimbus-chat/nimbus/internal/rpc/connectjson"
	"github.com/nimbus-chat/nimbus/internal/session"
	"github.com/nimbus-chat/nimbus/internal/store"
)

func TestConnectHandlerStreamsEvents(t *testing.T) {
	emitter := session.NewEmitter(store.New(), &scriptedEngine{events: []engine.Event{
		{Kind: engine.KindTextDelta, Delta: "Hello"},
		{Kind: engine.KindDone, FinishReason: "stop"},
	}}, nil, nil)

	path, handler := NewConnectHandler(emitter, nil)
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot open listener in sandbox: %v", err)
	}

	server := httptest.NewUnstartedServer(h2c.NewHandler(mux, &http2.Server{}))
	server.Listener = ln
	server.Start()
	t.Cleanup(server.Close)

	client := connect.NewClient[rpc.AskStreamRequest, rpc.Event](
		&http.Client{
			Transport: &http2.Transport{
				AllowHTTP: true,
				DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, network, addr)
				},
			},
		},
		server.URL+path,
		connect.WithCodec(connectjson.Codec{}),
	)

	stream := client.CallBidiStream(context.Background())
	require.NoError(t, stream.Send(&rpc.AskStreamRequest{
		Ask: &rpc.AskRequest{Question: "hello world"},
	}))
	require.NoError(t, stream.CloseRequest())

	var types []rpc.EventType
	for {
		ev, err := stream.Receive()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		types = append(types, ev.Type)
	}
	require.NoError(t, stream.CloseResponse())

	// stream close stands in for the sentinel; no done frame on the wire
	require.NotContains(t, types, rpc.EventDone)
	require.Equal(t, rpc.EventConversation, types[0])
	require.Contains(t, types, rpc.EventDelta)
	require.Contains(t, types, rpc.EventMessage)
}

func TestConnectHandlerRequiresAskPayload(t *testing.T) {
	emitter := session.NewEmitter(store.New(), &scriptedEngine{}, nil, nil)
	path, handler := NewConnectHandler(emitter, nil)
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot open listener in sandbox: %v", err)
	}

	server := httptest.NewUnstartedServer(h2c.NewHandler(mux, &http2.Server{}))
	server.Listener = ln
	server.Start()
	t.Cleanup(server.Close)

	client := connect.NewClient[rpc.AskStreamRequest, rpc.Event](
		&http.Client{
			Transport: &http2.Transport{
				AllowHTTP: true,
				DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, network, addr)
				},
			},
		},
		server.URL+path,
		connect.WithCodec(connectjson.Codec{}),
	)

	stream := client.CallBidiStream(context.Background())
	require.NoError(t, stream.Send(&rpc.AskStreamRequest{Cancel: true}))
	require.NoError(t, stream.CloseRequest())

	_, err = stream.Receive()
	require.Error(t, err)
	require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}
