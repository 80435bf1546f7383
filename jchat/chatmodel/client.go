// Package chatmodel is the chat completion client. It speaks the OpenAI
// compatible wire format and offers the model a single dispatcher function.
package chatmodel

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	ports "github.com/ZanzyTHEbar/journey-chat/jchat/harness/ports"
	"github.com/rs/zerolog"
	ai "github.com/sashabaranov/go-openai"
	"github.com/sethvargo/go-retry"
)

const (
	opChatCompletion = "chat/completions"
	limiterKey       = "model"
)

// Config is what the client needs to reach the provider.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	Temperature  float32
	SystemPrompt string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Client is a stateless ports.ChatModel; every call carries the full history.
type Client struct {
	api          *ai.Client
	model        string
	temperature  float32
	systemPrompt string
	timeout      time.Duration
	limiter      ports.RateLimiter
	retries      int
	backoff      time.Duration
	logger       zerolog.Logger
}

type Option func(*Client)

func WithRateLimiter(l ports.RateLimiter) Option { return func(c *Client) { c.limiter = l } }

// WithRetry retries transport failures and provider 429/5xx responses.
func WithRetry(count int, backoff time.Duration) Option {
	return func(c *Client) {
		c.retries = count
		c.backoff = backoff
	}
}

func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.logger = l } }

func NewClient(cfg Config, opts ...Option) *Client {
	apiCfg := ai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		apiCfg.HTTPClient = cfg.HTTPClient
	}

	c := &Client{
		api:          ai.NewClientWithConfig(apiCfg),
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		systemPrompt: cfg.SystemPrompt,
		timeout:      cfg.Timeout,
		backoff:      250 * time.Millisecond,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dispatcher is the function definition offered for catalog.
func Dispatcher(catalog []string) ai.FunctionDefinition {
	return ai.FunctionDefinition{
		Name:        ports.DispatcherName,
		Description: ports.DispatcherDescription,
		Parameters:  ports.DispatcherParameters(catalog),
	}
}

// RequestTurn sends the history with the dispatcher offered and reports either
// plain content or a tool invocation request. An empty catalog offers no function.
func (c *Client) RequestTurn(ctx context.Context, history []ports.ConversationTurn, catalog []string) (ports.TurnReply, error) {
	req := c.newRequest(history)
	if len(catalog) > 0 {
		req.Functions = []ai.FunctionDefinition{Dispatcher(catalog)}
		req.FunctionCall = "auto"
	}

	msg, err := c.complete(ctx, req)
	if err != nil {
		return ports.TurnReply{}, err
	}

	reply := ports.TurnReply{Content: msg.Content}
	switch {
	case msg.FunctionCall != nil && msg.FunctionCall.Name != "":
		reply.ToolRequest = &ports.ToolInvocationRequest{
			ToolName:     msg.FunctionCall.Name,
			RawArguments: msg.FunctionCall.Arguments,
		}
	case len(msg.ToolCalls) > 0:
		// some compatible servers answer functions with tool_calls
		fn := msg.ToolCalls[0].Function
		reply.ToolRequest = &ports.ToolInvocationRequest{ToolName: fn.Name, RawArguments: fn.Arguments}
	}
	return reply, nil
}

// RequestFinalAnswer sends the history without functions and requires non-empty text.
func (c *Client) RequestFinalAnswer(ctx context.Context, history []ports.ConversationTurn) (string, error) {
	msg, err := c.complete(ctx, c.newRequest(history))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(msg.Content) == "" {
		return "", &ports.ProviderError{Message: "model returned an empty answer"}
	}
	return msg.Content, nil
}

func (c *Client) newRequest(history []ports.ConversationTurn) ai.ChatCompletionRequest {
	return ai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    ToMessages(c.systemPrompt, history),
		Temperature: c.temperature,
	}
}

// ToMessages maps history to wire messages. Tool results travel as role
// "function" named after the tool.
func ToMessages(systemPrompt string, history []ports.ConversationTurn) []ai.ChatCompletionMessage {
	msgs := make([]ai.ChatCompletionMessage, 0, len(history)+1)
	if systemPrompt != "" {
		msgs = append(msgs, ai.ChatCompletionMessage{Role: ai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, turn := range history {
		switch turn.Role {
		case ports.RoleUser:
			msgs = append(msgs, ai.ChatCompletionMessage{Role: ai.ChatMessageRoleUser, Content: turn.Content})
		case ports.RoleAssistant:
			m := ai.ChatCompletionMessage{Role: ai.ChatMessageRoleAssistant, Content: turn.Content}
			if turn.Request != nil {
				m.FunctionCall = &ai.FunctionCall{Name: turn.Request.ToolName, Arguments: turn.Request.RawArguments}
			}
			msgs = append(msgs, m)
		case ports.RoleToolResult:
			msgs = append(msgs, ai.ChatCompletionMessage{Role: ai.ChatMessageRoleFunction, Name: turn.ToolName, Content: turn.Content})
		}
	}
	return msgs
}

func (c *Client) complete(ctx context.Context, req ai.ChatCompletionRequest) (ai.ChatCompletionMessage, error) {
	if c.limiter != nil {
		release, err := c.limiter.Acquire(ctx, limiterKey)
		if err != nil {
			return ai.ChatCompletionMessage{}, &ports.TransportError{Op: opChatCompletion, Err: err}
		}
		defer release()
	}

	var resp ai.ChatCompletionResponse
	attempt := func(ctx context.Context) error {
		callCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}

		start := time.Now()
		var err error
		resp, err = c.api.CreateChatCompletion(callCtx, req)
		c.logger.Debug().
			Str("model", req.Model).
			Int("messages", len(req.Messages)).
			Bool("functions", len(req.Functions) > 0).
			Dur("duration", time.Since(start)).
			Err(err).
			Msg("chat completion")
		if err != nil {
			return mapError(err)
		}
		return nil
	}

	var err error
	if c.retries > 0 {
		base := c.backoff
		if base <= 0 {
			base = time.Millisecond
		}
		backoff := retry.WithMaxRetries(uint64(c.retries), retry.NewExponential(base))
		err = retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := attempt(ctx); err != nil {
				if retryable(err) {
					return retry.RetryableError(err)
				}
				return err
			}
			return nil
		})
		if err != nil && ports.Kind(err) == "internal" {
			err = &ports.TransportError{Op: opChatCompletion, Err: err}
		}
	} else {
		err = attempt(ctx)
	}
	if err != nil {
		return ai.ChatCompletionMessage{}, err
	}

	if len(resp.Choices) == 0 {
		return ai.ChatCompletionMessage{}, &ports.ProviderError{Status: http.StatusOK, Message: "response contained no choices"}
	}
	return resp.Choices[0].Message, nil
}

// mapError sorts provider failures from network failures.
func mapError(err error) error {
	var apiErr *ai.APIError
	if errors.As(err, &apiErr) {
		return &ports.ProviderError{Status: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *ai.RequestError
	if errors.As(err, &reqErr) {
		msg := strings.TrimSpace(string(reqErr.Body))
		if msg == "" && reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		if msg == "" {
			msg = http.StatusText(reqErr.HTTPStatusCode)
		}
		return &ports.ProviderError{Status: reqErr.HTTPStatusCode, Message: msg}
	}
	return &ports.TransportError{Op: opChatCompletion, Err: err}
}

func retryable(err error) bool {
	var transportErr *ports.TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var providerErr *ports.ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Status == http.StatusTooManyRequests || providerErr.Status >= 500
	}
	return false
}

var _ ports.ChatModel = (*Client)(nil)
