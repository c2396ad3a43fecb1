// Package bridge models the in-process request/response link that exposes
// client-local tools to backend-initiated calls. The server side advertises a
// fixed toolset; the client side invokes tools by name over an in-memory
// channel. Calls submitted before initialization completes are queued and
// replayed in order once the bridge is ready.
package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nimbus-chat/nimbus/internal/rpc"
	"github.com/nimbus-chat/nimbus/internal/tools"
)

// DefaultGreeting is used when the greet tool is called without a message.
const DefaultGreeting = "Hello from Nimbus!"

// ToolDef describes one client-local tool.
type ToolDef struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema is the JSON-schema shape of a tool's arguments.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes a single schema property.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Result is the outcome of one tool invocation.
type Result struct {
	Content []rpc.ContentBlock `json:"content"`
	IsError bool               `json:"isError"`
}

func textResult(text string, isError bool) Result {
	return Result{Content: []rpc.ContentBlock{{Type: "text", Text: text}}, IsError: isError}
}

// Handler executes one tool call on the client.
type Handler func(args map[string]any) Result

type request struct {
	list  bool
	name  string
	args  map[string]any
	reply chan response
}

type response struct {
	tools  []ToolDef
	result Result
}

// server is the advertising half of the link.
type server struct {
	tools    []ToolDef
	handlers map[string]Handler
	requests chan request
}

func (s *server) serve(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.requests:
			if req.list {
				req.reply <- response{tools: s.tools}
				continue
			}
			handler, ok := s.handlers[req.name]
			if !ok {
				req.reply <- response{result: textResult(fmt.Sprintf("unknown tool %q", req.name), true)}
				continue
			}
			req.reply <- response{result: handler(req.args)}
		}
	}
}

type pendingCall struct {
	name string
	args map[string]any
}

// Bridge is the calling half of the link. Bookkeeping state is guarded by mu;
// dispatches to the server side are serialized through callSem so concurrent
// CallTool invocations run one at a time without wedging the state accessors.
type Bridge struct {
	mu      sync.Mutex
	srv     *server
	life    context.Context
	tools   []ToolDef
	ready   bool
	failed  bool
	pending []pendingCall
	readyCh chan struct{}
	initErr error

	callSem chan struct{}
}

// New builds a bridge pair whose server side exposes the built-in greeting
// tool. The notify callback receives the resolved greeting text.
func New(notify func(message string)) *Bridge {
	greet := ToolDef{
		Name:        tools.ClientGreetTool,
		Description: "Display a greeting on this device",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"message": {Type: "string", Description: "Greeting text to display"},
			},
		},
	}

	srv := &server{
		tools: []ToolDef{greet},
		handlers: map[string]Handler{
			tools.ClientGreetTool: func(args map[string]any) Result {
				msg, _ := args["message"].(string)
				if strings.TrimSpace(msg) == "" {
					msg = DefaultGreeting
				}
				if notify != nil {
					notify(msg)
				}
				return textResult(fmt.Sprintf("Displayed greeting: %q", msg), false)
			},
		},
		requests: make(chan request),
	}

	return &Bridge{
		srv:     srv,
		life:    context.Background(),
		readyCh: make(chan struct{}),
		callSem: make(chan struct{}, 1),
	}
}

// Start runs the server side and performs the asynchronous initialization
// handshake. It returns immediately; use WaitReady to observe completion.
// Start must be called at most once per bridge.
func (b *Bridge) Start(ctx context.Context) {
	b.mu.Lock()
	b.life = ctx
	b.mu.Unlock()
	go b.srv.serve(ctx)
	go b.init(ctx)
}

func (b *Bridge) init(ctx context.Context) {
	reply := make(chan response, 1)

	select {
	case <-ctx.Done():
		b.finishInit(nil, ctx.Err())
		return
	case b.srv.requests <- request{list: true, reply: reply}:
	}

	select {
	case <-ctx.Done():
		b.finishInit(nil, ctx.Err())
	case resp := <-reply:
		b.finishInit(resp.tools, nil)
	}
}

func (b *Bridge) finishInit(defs []ToolDef, err error) {
	b.mu.Lock()

	if err != nil {
		// Initialization failed: queued calls are dropped, not retried.
		b.failed = true
		b.initErr = fmt.Errorf("bridge init: %w", err)
		b.pending = nil
		close(b.readyCh)
		b.mu.Unlock()
		return
	}

	b.tools = defs
	b.ready = true
	queued := b.pending
	b.pending = nil
	life := b.life
	b.mu.Unlock()

	// The call slot is held across the whole drain: queued calls run in
	// submission order ahead of any concurrent call, and readyCh closes
	// only once the drain is finished.
	if len(queued) > 0 {
		select {
		case b.callSem <- struct{}{}:
			for _, call := range queued {
				if life.Err() != nil {
					break
				}
				b.dispatch(life, life, call.name, call.args)
			}
			<-b.callSem
		case <-life.Done():
		}
	}
	close(b.readyCh)
}

// WaitReady blocks until initialization completes (or ctx expires) and
// reports the init outcome.
func (b *Bridge) WaitReady(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.readyCh:
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initErr
}

// ListTools returns the advertised toolset. Empty until initialization completes.
func (b *Bridge) ListTools() []ToolDef {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ToolDef(nil), b.tools...)
}

// CallTool invokes a client-local tool by name. Before initialization the
// call is queued and an acknowledgement result is returned; the queued calls
// run in submission order once the bridge is ready.
func (b *Bridge) CallTool(ctx context.Context, name string, args map[string]any) Result {
	b.mu.Lock()
	if b.failed {
		b.mu.Unlock()
		return textResult("bridge unavailable: initialization failed", true)
	}
	if !b.ready {
		b.pending = append(b.pending, pendingCall{name: name, args: args})
		b.mu.Unlock()
		return textResult(fmt.Sprintf("queued %q until the bridge is ready", name), false)
	}
	life := b.life
	b.mu.Unlock()

	select {
	case b.callSem <- struct{}{}:
	case <-ctx.Done():
		return textResult("bridge call cancelled", true)
	case <-life.Done():
		return textResult("bridge unavailable: shut down", true)
	}
	defer func() { <-b.callSem }()
	return b.dispatch(ctx, life, name, args)
}

// dispatch performs one request/reply round-trip with the server side. The
// lifecycle context bounds the send in case the serve goroutine has exited;
// the lock is never held here, so state accessors stay responsive.
func (b *Bridge) dispatch(ctx, life context.Context, name string, args map[string]any) Result {
	reply := make(chan response, 1)

	select {
	case <-ctx.Done():
		return textResult("bridge call cancelled", true)
	case <-life.Done():
		return textResult("bridge unavailable: shut down", true)
	case b.srv.requests <- request{name: name, args: args, reply: reply}:
	}

	select {
	case <-ctx.Done():
		return textResult("bridge call cancelled", true)
	case <-life.Done():
		return textResult("bridge unavailable: shut down", true)
	case resp := <-reply:
		return resp.result
	}
}
