package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nimbus-chat/nimbus/internal/bridge"
	"github.com/nimbus-chat/nimbus/internal/rpc"
	"github.com/nimbus-chat/nimbus/internal/tools"
)

// ErrBlankQuestion is returned by SendQuestion for empty or
// whitespace-only input. No request is issued in that case.
var ErrBlankQuestion = errors.New("Type a question before asking.")

// transportErrMsg is the generic message shown when the stream
// connection itself fails, as opposed to an in-band stream error.
const transportErrMsg = "connection to the assistant was interrupted"

const (
	roleUser      = "user"
	roleAssistant = "assistant"
)

// Message is one transcript entry as the client renders it.
type Message struct {
	ID        string
	Role      string
	Content   string
	Streaming bool
}

// Hooks let a frontend observe session changes. Both are optional and
// are invoked without internal locks held.
type Hooks struct {
	// OnEvent fires once per decoded wire event, after it was applied.
	OnEvent func(rpc.Event)
	// OnUpdate fires whenever visible state may have changed.
	OnUpdate func()
}

// Session is the client-side conversation state machine. It consumes
// the daemon's event stream, maintains the transcript and activity
// indicator, and dispatches client-side tool calls to the bridge.
type Session struct {
	api    *API
	bridge *bridge.Bridge
	logger *zap.Logger
	hooks  Hooks

	mu             sync.Mutex
	messages       []Message
	conversations  []rpc.ConversationSummary
	conversationID string
	model          *rpc.ModelRef
	activity       string
	errMsg         string
	nextID         int

	// per-exchange streaming state
	openIdx int
	buffer  strings.Builder
	failed  bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession builds a Session. api may be nil when events are fed
// directly through ApplyEvent, and br may be nil when no client-side
// tools are available.
func NewSession(api *API, br *bridge.Bridge, logger *zap.Logger, hooks Hooks) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		api:     api,
		bridge:  br,
		logger:  logger,
		hooks:   hooks,
		openIdx: -1,
	}
}

// SetModel overrides the model used for subsequent questions.
func (s *Session) SetModel(ref *rpc.ModelRef) {
	s.mu.Lock()
	s.model = ref
	s.mu.Unlock()
}

// SendQuestion validates and submits one question. Blank input is
// rejected locally with ErrBlankQuestion before any network traffic.
// A previous in-flight exchange, if any, is cancelled first.
func (s *Session) SendQuestion(ctx context.Context, question string) error {
	trimmed := strings.TrimSpace(question)
	if trimmed == "" {
		s.mu.Lock()
		s.errMsg = ErrBlankQuestion.Error()
		s.mu.Unlock()
		s.notifyUpdate()
		return ErrBlankQuestion
	}

	s.stopInflight()

	reqCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.errMsg = ""
	s.failed = false
	s.openIdx = -1
	s.buffer.Reset()
	req := rpc.AskRequest{
		Question:       trimmed,
		ConversationID: s.conversationID,
		Model:          s.model,
	}
	s.mu.Unlock()
	s.notifyUpdate()

	go s.consume(reqCtx, req, done)
	return nil
}

// Wait blocks until the current exchange finishes or ctx expires.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the in-flight exchange, if any. Partial streamed
// content is discarded without surfacing an error.
func (s *Session) Stop() {
	s.stopInflight()
}

func (s *Session) stopInflight() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Session) consume(ctx context.Context, req rpc.AskRequest, done chan struct{}) {
	defer close(done)

	stream, err := s.api.Ask(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			s.discardPartial()
			return
		}
		s.mu.Lock()
		s.errMsg = transportErrMsg
		s.activity = ""
		s.mu.Unlock()
		s.logger.Warn("ask request failed", zap.Error(err))
		s.notifyUpdate()
		return
	}
	defer stream.Close()

	terminated := s.readStream(ctx, stream)

	if ctx.Err() != nil {
		s.discardPartial()
		return
	}

	s.mu.Lock()
	failed := s.failed
	s.mu.Unlock()

	if !terminated && !failed {
		// Stream ended without the terminator frame.
		s.discardPartial()
		s.mu.Lock()
		s.errMsg = transportErrMsg
		s.mu.Unlock()
		s.notifyUpdate()
		return
	}

	if !failed {
		s.refresh()
	}
}

// readStream decodes NDJSON frames until the terminator, EOF, or a
// read error. It reports whether the terminator was seen.
func (s *Session) readStream(ctx context.Context, stream io.Reader) bool {
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		ev, err := rpc.DecodeFrame(line)
		if err != nil {
			s.logger.Debug("skipping malformed frame", zap.Error(err))
			continue
		}
		s.ApplyEvent(ctx, ev)
		if ev.Type == rpc.EventDone {
			return true
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		s.logger.Warn("stream read failed", zap.Error(err))
	}
	return false
}

// ApplyEvent advances the state machine by one wire event. It is
// exported so alternative transports can feed decoded events directly.
func (s *Session) ApplyEvent(ctx context.Context, ev rpc.Event) {
	s.mu.Lock()
	if s.failed && ev.Type != rpc.EventDone {
		s.mu.Unlock()
		return
	}
	var toolCall *rpc.Event
	refresh := false
	switch ev.Type {
	case rpc.EventError:
		s.errMsg = ev.Err
		s.activity = ""
		s.failed = true
		s.closeOpenLocked(true)

	case rpc.EventDelta:
		s.appendDeltaLocked(ev.Delta)

	case rpc.EventAnswer:
		if s.openIdx >= 0 {
			s.messages[s.openIdx].Content = ev.Answer
		}

	case rpc.EventConversation:
		s.conversationID = ev.ConversationID
		s.activity = ""
		refresh = true

	case rpc.EventMessage:
		s.applyMessageLocked(ev)

	case rpc.EventToolCall, rpc.EventClientTool:
		if strings.HasPrefix(ev.ToolName, tools.ClientPrefix) && s.bridge != nil {
			call := ev
			toolCall = &call
		}

	case rpc.EventToolResult:
		if joined, ok := joinText(ev.Result); ok {
			s.appendDeltaLocked(joined)
		}

	case rpc.EventToolError:
		// Non-terminal: surface it and keep consuming.
		s.errMsg = ev.Err

	case rpc.EventState:
		if strings.EqualFold(strings.TrimSpace(ev.State), "idle") {
			s.activity = ""
		} else {
			s.activity = ev.State
		}

	case rpc.EventDone:
		s.finalizeLocked()
	}
	s.mu.Unlock()

	if refresh {
		go s.refresh()
	}

	if toolCall != nil {
		// Result is local-only; the daemon has already moved on.
		res := s.bridge.CallTool(ctx, toolCall.ToolName, toolCall.Input)
		if res.IsError {
			detail, _ := joinText(res.Content)
			s.logger.Warn("client tool call failed",
				zap.String("tool", toolCall.ToolName),
				zap.String("result", detail))
		}
	}

	if s.hooks.OnEvent != nil {
		s.hooks.OnEvent(ev)
	}
	s.notifyUpdate()
}

// appendDeltaLocked opens a streaming assistant message on the first
// delta of an exchange and extends it on subsequent ones.
func (s *Session) appendDeltaLocked(text string) {
	if s.openIdx < 0 {
		s.nextID++
		s.messages = append(s.messages, Message{
			ID:        fmt.Sprintf("msg-%d", s.nextID),
			Role:      roleAssistant,
			Content:   text,
			Streaming: true,
		})
		s.openIdx = len(s.messages) - 1
	} else {
		s.messages[s.openIdx].Content += text
	}
	s.buffer.WriteString(text)
}

func (s *Session) applyMessageLocked(ev rpc.Event) {
	switch ev.Role {
	case roleUser:
		s.nextID++
		s.messages = append(s.messages, Message{
			ID:      fmt.Sprintf("msg-%d", s.nextID),
			Role:    roleUser,
			Content: ev.Content,
		})
	case roleAssistant:
		if s.openIdx >= 0 {
			s.messages[s.openIdx].Content = ev.Content
			s.messages[s.openIdx].Streaming = false
		} else if ev.Content != "" {
			s.nextID++
			s.messages = append(s.messages, Message{
				ID:      fmt.Sprintf("msg-%d", s.nextID),
				Role:    roleAssistant,
				Content: ev.Content,
			})
		}
		s.openIdx = -1
		s.buffer.Reset()
	}
}

// finalizeLocked handles the terminator. A message still open here
// means the final message frame never arrived: fall back to the
// accumulated buffer, or drop the entry when that is empty too.
func (s *Session) finalizeLocked() {
	s.closeOpenLocked(false)
	s.activity = ""
}

func (s *Session) closeOpenLocked(discard bool) {
	if s.openIdx >= 0 {
		content := s.messages[s.openIdx].Content
		if content == "" {
			content = s.buffer.String()
		}
		if discard || content == "" {
			s.messages = append(s.messages[:s.openIdx], s.messages[s.openIdx+1:]...)
		} else {
			s.messages[s.openIdx].Content = content
			s.messages[s.openIdx].Streaming = false
		}
		s.openIdx = -1
	}
	s.buffer.Reset()
}

// discardPartial drops any open streaming message after cancellation
// or a transport failure. Cancellation is not an error.
func (s *Session) discardPartial() {
	s.mu.Lock()
	s.closeOpenLocked(true)
	s.activity = ""
	s.mu.Unlock()
	s.notifyUpdate()
}

// refresh reconciles local state with the daemon after a completed
// exchange. Failures are logged and swallowed; the transcript already
// reflects the stream.
func (s *Session) refresh() {
	if s.api == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if summaries, err := s.api.ListConversations(ctx); err == nil {
		s.mu.Lock()
		s.conversations = summaries
		s.mu.Unlock()
	} else {
		s.logger.Debug("conversation list refresh failed", zap.Error(err))
	}

	s.mu.Lock()
	id := s.conversationID
	open := s.openIdx >= 0
	s.mu.Unlock()
	if id == "" || open {
		return
	}

	detail, err := s.api.GetConversation(ctx, id)
	if err != nil {
		s.logger.Debug("transcript refresh failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	// Do not clobber a transcript that moved on while we fetched.
	if s.conversationID == id && s.openIdx < 0 {
		s.messages = transcriptMessages(detail.Messages, &s.nextID)
	}
	s.mu.Unlock()
	s.notifyUpdate()
}

// SelectConversation switches to an existing conversation, replacing
// the transcript with its stored turns. Unknown ids surface as-is.
func (s *Session) SelectConversation(ctx context.Context, id string) error {
	s.stopInflight()

	detail, err := s.api.GetConversation(ctx, id)
	if err != nil {
		s.mu.Lock()
		s.errMsg = err.Error()
		s.mu.Unlock()
		s.notifyUpdate()
		return err
	}

	s.mu.Lock()
	s.conversationID = detail.ConversationID
	s.messages = transcriptMessages(detail.Messages, &s.nextID)
	s.openIdx = -1
	s.buffer.Reset()
	s.activity = ""
	s.errMsg = ""
	s.mu.Unlock()
	s.notifyUpdate()
	return nil
}

// StartNewConversation allocates a fresh conversation and clears the
// transcript.
func (s *Session) StartNewConversation(ctx context.Context) error {
	s.stopInflight()

	id, err := s.api.CreateConversation(ctx)
	if err != nil {
		s.mu.Lock()
		s.errMsg = err.Error()
		s.mu.Unlock()
		s.notifyUpdate()
		return err
	}

	s.mu.Lock()
	s.conversationID = id
	s.messages = nil
	s.openIdx = -1
	s.buffer.Reset()
	s.activity = ""
	s.errMsg = ""
	s.mu.Unlock()
	s.notifyUpdate()
	return nil
}

// RefreshConversations fetches the summary list on demand.
func (s *Session) RefreshConversations(ctx context.Context) error {
	summaries, err := s.api.ListConversations(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conversations = summaries
	s.mu.Unlock()
	s.notifyUpdate()
	return nil
}

// Messages returns a copy of the current transcript.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// CurrentState returns the activity indicator, empty when idle.
func (s *Session) CurrentState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activity
}

// ErrorMessage returns the last surfaced error, empty when none.
func (s *Session) ErrorMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Conversations returns the last fetched summary list.
func (s *Session) Conversations() []rpc.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]rpc.ConversationSummary, len(s.conversations))
	copy(out, s.conversations)
	return out
}

// ConversationID returns the active conversation id, empty before the
// first exchange.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

func (s *Session) notifyUpdate() {
	if s.hooks.OnUpdate != nil {
		s.hooks.OnUpdate()
	}
}

// joinText concatenates the text segments of a tool result verbatim, empty
// ones included. ok is false when no text-typed segment is present.
func joinText(blocks []rpc.ContentBlock) (text string, ok bool) {
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n"), len(parts) > 0
}

func transcriptMessages(turns []rpc.TranscriptEntry, nextID *int) []Message {
	out := make([]Message, 0, len(turns))
	for _, t := range turns {
		*nextID++
		out = append(out, Message{
			ID:      fmt.Sprintf("msg-%d", *nextID),
			Role:    t.Role,
			Content: t.Content,
		})
	}
	return out
}
