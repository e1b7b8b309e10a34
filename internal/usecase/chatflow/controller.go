package chatflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"draftpilot/internal/adapter/stream"
	"draftpilot/internal/domain"
	"draftpilot/internal/infra/tracer"
)

// Default circuit breaker settings for the stream endpoint.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// FinishResult describes how a turn ended. Exactly one of the Is* flags is
// set for abnormal endings; all false means the stream completed normally.
type FinishResult struct {
	// Message is the assistant message the turn produced. On an error
	// ending it is a synthetic empty assistant message.
	Message domain.Message
	// Messages is a snapshot of the full list at the time the turn ended.
	Messages []domain.Message
	// IsAbort is set when the user canceled the turn.
	IsAbort bool
	// IsDisconnect is set when the connection dropped mid-stream. The
	// partial message is kept and finalized.
	IsDisconnect bool
	// IsError is set when the turn failed: a setup failure or an in-band
	// error finish.
	IsError bool
}

// Options configures a session controller.
type Options struct {
	// API is the absolute URL of the streaming chat endpoint.
	API string
	// ChatID identifies the conversation in requests to the endpoint.
	ChatID string
	// Model is the model label sent with each request.
	Model string
	// Headers are added to every stream request.
	Headers map[string]string
	// Client is the HTTP client used for stream requests. Defaults to
	// http.DefaultClient.
	Client *http.Client
	// Logger defaults to slog.Default.
	Logger *slog.Logger
	// OnFinish is invoked once per turn, after the session left the
	// streaming status.
	OnFinish func(FinishResult)
	// OnError is invoked for setup failures and in-band stream errors.
	OnError func(error)
	// OnData is invoked with each raw frame payload before it is applied.
	OnData func(data []byte)
}

// RegenerateOptions selects which exchange to replay. All fields are
// optional; with none set the most recent user message is regenerated.
type RegenerateOptions struct {
	// UserMessageID names the user message to resend.
	UserMessageID string
	// AssistantMessageID names an assistant message whose nearest
	// preceding user message is resent. Ignored when UserMessageID is set.
	AssistantMessageID string
	// NewText replaces the resolved user message's text before resending.
	NewText string
}

// chatRequest is the body POSTed to the stream endpoint.
type chatRequest struct {
	ID        string           `json:"id"`
	Messages  []domain.Message `json:"messages"`
	Model     string           `json:"model,omitempty"`
	Trigger   string           `json:"trigger"`
	MessageID string           `json:"messageId,omitempty"`
}

// Controller drives chat turns: it submits the user message, opens the
// event stream, feeds frames through the interpreter and settles the
// session status when the stream ends, is canceled or fails. A new
// submission cancels the turn still in flight. The connection attempt runs
// through a circuit breaker so a dead endpoint fails fast instead of
// piling up requests.
type Controller struct {
	state   *State
	opts    Options
	client  *http.Client
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker[*http.Response]

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewController binds a controller to a session state.
func NewController(state *State, opts Options) *Controller {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "chat:" + opts.ChatID,
		MaxRequests: 1,
		Interval:    defaultCBInterval,
		Timeout:     defaultCBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= defaultCBMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// A canceled turn is a user action, not an endpoint failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &Controller{
		state:   state,
		opts:    opts,
		client:  client,
		logger:  logger,
		breaker: cb,
	}
}

// State exposes the session state the controller mutates.
func (c *Controller) State() *State { return c.state }

// Send submits a user message and streams the assistant response. Blank
// input is a no-op. Send blocks until the turn settles; the returned error
// covers setup failures only, everything after a successful connection is
// reported through the session status and OnFinish.
func (c *Controller) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	user := domain.Message{
		ID:        domain.NewID(),
		ChatID:    c.opts.ChatID,
		Role:      domain.RoleUser,
		Parts:     []domain.Part{domain.NewTextPart(text)},
		CreatedAt: time.Now().UTC(),
	}
	return c.submit(ctx, user, c.state.Messages(), domain.TriggerSubmit, "")
}

// Regenerate truncates the conversation strictly before the resolved user
// message and replays it. An unresolvable target or a target with no text
// is logged and ignored.
func (c *Controller) Regenerate(ctx context.Context, opts RegenerateOptions) error {
	messages := c.state.Messages()
	idx := resolveRegenerateTarget(messages, opts)
	if idx < 0 {
		c.logger.Warn("regenerate target not found",
			"user_message_id", opts.UserMessageID,
			"assistant_message_id", opts.AssistantMessageID,
		)
		return nil
	}

	target := messages[idx]
	text := target.Text()
	if opts.NewText != "" {
		text = opts.NewText
	}
	if strings.TrimSpace(text) == "" {
		c.logger.Warn("regenerate target has no text", "message_id", target.ID)
		return nil
	}

	user := domain.Message{
		ID:        target.ID,
		ChatID:    target.ChatID,
		Role:      domain.RoleUser,
		Parts:     []domain.Part{domain.NewTextPart(text)},
		CreatedAt: target.CreatedAt,
	}
	return c.submit(ctx, user, messages[:idx], domain.TriggerRegenerate, target.ID)
}

// Stop cancels the turn in flight, if any. The partial assistant message
// is kept and the session returns to ready.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// resolveRegenerateTarget returns the index of the user message to replay,
// or -1 when no target resolves.
func resolveRegenerateTarget(messages []domain.Message, opts RegenerateOptions) int {
	if opts.UserMessageID != "" {
		for i, m := range messages {
			if m.ID == opts.UserMessageID && m.Role == domain.RoleUser {
				return i
			}
		}
		return -1
	}
	if opts.AssistantMessageID != "" {
		anchor := -1
		for i, m := range messages {
			if m.ID == opts.AssistantMessageID && m.Role == domain.RoleAssistant {
				anchor = i
				break
			}
		}
		if anchor < 0 {
			return -1
		}
		for i := anchor - 1; i >= 0; i-- {
			if messages[i].Role == domain.RoleUser {
				return i
			}
		}
		return -1
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleUser {
			return i
		}
	}
	return -1
}

// beginTurn installs a fresh cancelable context for the turn, canceling
// whatever turn was still running.
func (c *Controller) beginTurn(ctx context.Context) (context.Context, context.CancelFunc) {
	turnCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	prev := c.cancel
	c.cancel = cancel
	c.mu.Unlock()
	if prev != nil {
		prev()
	}
	return turnCtx, cancel
}

func (c *Controller) submit(ctx context.Context, user domain.Message, base []domain.Message, trigger, regenerateID string) error {
	turnCtx, cancel := c.beginTurn(ctx)
	defer cancel()

	ctxSpan, span := tracer.StartSpan(turnCtx, "chat.turn")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("chat.id", c.opts.ChatID),
		tracer.StringAttr("chat.model", c.opts.Model),
		tracer.StringAttr("chat.trigger", trigger),
	)
	turnCtx = ctxSpan

	c.state.Submit(user, base)

	body := chatRequest{
		ID:        c.opts.ChatID,
		Messages:  c.state.Messages(),
		Model:     c.opts.Model,
		Trigger:   trigger,
		MessageID: regenerateID,
	}
	resp, err := c.openStream(turnCtx, body)
	if err != nil {
		if errors.Is(err, context.Canceled) && turnCtx.Err() != nil {
			c.state.Abort()
			return nil
		}
		// Setup failure: the list stays at base + user message, no
		// assistant placeholder. The synthetic message travels only in
		// the callback.
		c.state.SetError(err)
		tracer.RecordError(span, err)
		if c.opts.OnError != nil {
			c.opts.OnError(err)
		}
		c.finish(FinishResult{
			Message:  syntheticAssistant(c.opts.ChatID, c.opts.Model),
			Messages: c.state.Messages(),
			IsError:  true,
		})
		return err
	}
	defer resp.Body.Close()

	assistant := domain.Message{
		ID:        domain.NewID(),
		ChatID:    c.opts.ChatID,
		Role:      domain.RoleAssistant,
		Model:     c.opts.Model,
		Parts:     []domain.Part{},
		CreatedAt: time.Now().UTC(),
	}
	c.state.AppendAssistant(assistant)

	interp := NewInterpreter(c.state, assistant.ID)
	isAbort, isDisconnect := c.consume(turnCtx, resp.Body, interp)

	if streamErr := interp.Err(); streamErr != nil {
		// The partial parts stay visible but nothing may stay streaming;
		// the session carries the error.
		c.state.CloseParts(interp.MessageID())
		c.state.SetError(streamErr)
		tracer.RecordError(span, streamErr)
		if c.opts.OnError != nil {
			c.opts.OnError(streamErr)
		}
		c.finish(FinishResult{
			Message:  syntheticAssistant(c.opts.ChatID, c.opts.Model),
			Messages: c.state.Messages(),
			IsError:  true,
		})
		return nil
	}

	c.state.Finalize(interp.MessageID())
	tracer.SetOK(span)

	result := FinishResult{
		Messages:     c.state.Messages(),
		IsAbort:      isAbort,
		IsDisconnect: isDisconnect,
	}
	if msg, ok := c.state.Message(interp.MessageID()); ok {
		result.Message = msg
	}
	c.finish(result)
	return nil
}

// consume reads frames until the terminal sentinel, cancellation, a
// transport failure or a server-reported error. It reports whether the
// turn was aborted by the user or cut by a disconnect.
func (c *Controller) consume(ctx context.Context, body io.Reader, interp *Interpreter) (isAbort, isDisconnect bool) {
	sc := stream.NewScanner(body)
	for {
		if ctx.Err() != nil {
			return true, false
		}
		frame, err := sc.Next()
		if err != nil {
			if ctx.Err() != nil {
				return true, false
			}
			if err != io.EOF {
				c.logger.Warn("stream read failed", "error", err)
			} else {
				c.logger.Warn("stream ended without terminal frame")
			}
			return false, true
		}
		if frame.Done() {
			return false, false
		}
		data := []byte(frame.Data)
		if c.opts.OnData != nil {
			c.opts.OnData(data)
		}
		interp.Feed(data)
		// A server-reported error ends the turn; frames after it must
		// not keep mutating the message.
		if interp.Err() != nil {
			return false, false
		}
	}
}

// openStream POSTs the turn request through the circuit breaker and
// returns the response body to read frames from.
func (c *Controller) openStream(ctx context.Context, body chatRequest) (*http.Response, error) {
	return c.breaker.Execute(func() (*http.Response, error) {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.API, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		for k, v := range c.opts.Headers {
			req.Header.Set(k, v)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, domain.NewDomainError("chatflow.openStream", domain.ErrUpstream,
				fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(slurp))))
		}
		if resp.Body == nil {
			return nil, domain.NewDomainError("chatflow.openStream", domain.ErrNoResponseBody, "")
		}
		return resp, nil
	})
}

func (c *Controller) finish(res FinishResult) {
	if c.opts.OnFinish != nil {
		c.opts.OnFinish(res)
	}
}

func syntheticAssistant(chatID, model string) domain.Message {
	return domain.Message{
		ID:        domain.NewID(),
		ChatID:    chatID,
		Role:      domain.RoleAssistant,
		Model:     model,
		Parts:     []domain.Part{},
		CreatedAt: time.Now().UTC(),
	}
}
