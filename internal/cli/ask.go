package cli

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bufbuild/connect-go"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"

	"github.com/nimbus-chat/nimbus/internal/bridge"
	"github.com/nimbus-chat/nimbus/internal/client"
	"github.com/nimbus-chat/nimbus/internal/logging"
	"github.com/nimbus-chat/nimbus/internal/rpc"
	"github.com/nimbus-chat/nimbus/internal/rpc/chat"
	"github.com/nimbus-chat/nimbus/internal/rpc/connectjson"
)

// NewAskCmd wires the ask command to stream one exchange from the daemon.
func NewAskCmd(opts *Options) *cobra.Command {
	var conversationID string
	var modelOverride string
	var providerOverride string

	cmd := &cobra.Command{
		Use:   "ask \"<question>\"",
		Short: "Send a question to the daemon and stream the answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(args[0]) == "" {
				return client.ErrBlankQuestion
			}

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			logger, err := logging.NewLogger("warn", cfg.Logging.Format)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			if cfg.Client.Greeting != "" {
				fmt.Fprintln(out, cfg.Client.Greeting)
			}

			br := bridge.New(func(message string) {
				fmt.Fprintf(out, "\n[notice] %s\n", message)
			})
			br.Start(ctx)
			waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := br.WaitReady(waitCtx); err != nil {
				logger.Warn("client tool bridge not ready, calls will be queued")
			}
			cancel()

			api := client.NewAPI(cfg.Client.DaemonAddr)
			session := client.NewSession(api, br, logger, client.Hooks{
				OnEvent: func(ev rpc.Event) { renderEvent(out, ev) },
			})
			if conversationID != "" {
				if err := session.SelectConversation(ctx, conversationID); err != nil {
					return err
				}
			}
			if modelOverride != "" {
				session.SetModel(&rpc.ModelRef{Provider: providerOverride, ID: modelOverride})
			}

			if strings.EqualFold(strings.TrimSpace(cfg.Server.Transport), "connect") {
				return askConnect(ctx, cfg.Client.DaemonAddr, session, args[0], providerOverride, modelOverride, conversationID)
			}

			if err := session.SendQuestion(ctx, args[0]); err != nil {
				return err
			}
			if err := session.Wait(ctx); err != nil {
				session.Stop()
				return nil
			}
			if msg := session.ErrorMessage(); msg != "" {
				return errors.New(msg)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "Continue an existing conversation by id")
	cmd.Flags().StringVar(&modelOverride, "model", "", "Override the model id for this question")
	cmd.Flags().StringVar(&providerOverride, "provider", "", "Provider for --model (defaults to the model's configured provider)")
	return cmd
}

// askConnect streams one exchange over the Connect bidi transport, feeding
// decoded events into the same state machine the NDJSON path uses.
func askConnect(ctx context.Context, addr string, session *client.Session, question, provider, model, conversationID string) error {
	cl := connect.NewClient[rpc.AskStreamRequest, rpc.Event](
		buildH2CClient(),
		daemonURL(addr)+chat.ConnectAskProcedure,
		connect.WithCodec(connectjson.Codec{}),
	)
	stream := cl.CallBidiStream(ctx)

	req := rpc.AskRequest{Question: question, ConversationID: conversationID}
	if model != "" {
		req.Model = &rpc.ModelRef{Provider: provider, ID: model}
	}
	if err := stream.Send(&rpc.AskStreamRequest{Ask: &req}); err != nil {
		return err
	}

	// propagate cancellation to the daemon.
	go func() {
		<-ctx.Done()
		_ = stream.Send(&rpc.AskStreamRequest{Cancel: true})
		_ = stream.CloseRequest()
	}()

	for {
		ev, err := stream.Receive()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		session.ApplyEvent(ctx, *ev)
	}
	// Stream close stands in for the sentinel frame on this transport.
	session.ApplyEvent(ctx, rpc.Event{Type: rpc.EventDone})
	_ = stream.CloseRequest()
	if err := stream.CloseResponse(); err != nil {
		return err
	}
	if msg := session.ErrorMessage(); msg != "" {
		return errors.New(msg)
	}
	return nil
}

func renderEvent(out io.Writer, ev rpc.Event) {
	switch ev.Type {
	case rpc.EventState:
		if !strings.EqualFold(strings.TrimSpace(ev.State), "idle") && ev.State != "" {
			fmt.Fprintf(out, "(%s)\n", ev.State)
		}
	case rpc.EventToolCall, rpc.EventClientTool:
		fmt.Fprintf(out, "[tool %s]\n", ev.ToolName)
	case rpc.EventToolResult:
		for _, block := range ev.Result {
			if block.Type == "text" && block.Text != "" {
				fmt.Fprintln(out, block.Text)
			}
		}
	case rpc.EventDelta:
		fmt.Fprint(out, ev.Delta)
	case rpc.EventMessage:
		if ev.Role == "assistant" {
			fmt.Fprintln(out)
		}
	case rpc.EventDone:
		fmt.Fprintln(out)
	}
}

func daemonURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func buildH2CClient() *http.Client {
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}
