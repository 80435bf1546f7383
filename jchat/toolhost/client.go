// Package toolhost talks to the JSON-RPC tool server: discovery, argument
// defaulting and validation, and invocation.
package toolhost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	ports "github.com/ZanzyTHEbar/journey-chat/jchat/harness/ports"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

const (
	MethodListTools = "tools/list"
	MethodCallTool  = "tools/call"

	limiterKey   = "toolhost"
	maxErrorBody = 4 << 10
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcErrorBody   `json:"error"`
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type listResult struct {
	Tools []wireTool `json:"tools"`
}

// Client is a ports.ToolHost over HTTP.
type Client struct {
	endpoint   string
	httpClient *http.Client
	timeout    time.Duration
	cache      ports.Cache
	cacheTTL   int
	limiter    ports.RateLimiter
	retries    int
	backoff    time.Duration
	logger     zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// WithTimeout bounds each RPC call. Expiry surfaces as a TransportError.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// WithCatalogCache keeps the tool catalog in cache until Refresh. ttlSeconds <= 0 never expires.
func WithCatalogCache(cache ports.Cache, ttlSeconds int) Option {
	return func(c *Client) {
		c.cache = cache
		c.cacheTTL = ttlSeconds
	}
}

func WithRateLimiter(l ports.RateLimiter) Option { return func(c *Client) { c.limiter = l } }

// WithRetry retries discovery on transport failures. tools/call is never retried.
func WithRetry(count int, backoff time.Duration) Option {
	return func(c *Client) {
		c.retries = count
		c.backoff = backoff
	}
}

func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.logger = l } }

// NewClient creates a client posting to baseURL+rpcPath.
func NewClient(baseURL, rpcPath string, opts ...Option) *Client {
	if rpcPath != "" && !strings.HasPrefix(rpcPath, "/") {
		rpcPath = "/" + rpcPath
	}
	c := &Client{
		endpoint:   strings.TrimRight(baseURL, "/") + rpcPath,
		httpClient: http.DefaultClient,
		timeout:    30 * time.Second,
		backoff:    250 * time.Millisecond,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint is the URL RPC envelopes are posted to.
func (c *Client) Endpoint() string { return c.endpoint }

// ListTools fetches the catalog from the tool host and refreshes the cached copy.
func (c *Client) ListTools(ctx context.Context) ([]ports.ToolSchema, error) {
	var raw json.RawMessage
	err := c.withRetry(ctx, func(ctx context.Context) error {
		var err error
		raw, err = c.call(ctx, MethodListTools, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	var res listResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, &ports.TransportError{Op: MethodListTools, Err: fmt.Errorf("undecodable result: %w", err)}
	}

	if c.cache != nil {
		if encoded, err := json.Marshal(res.Tools); err == nil {
			_ = c.cache.Set(ctx, c.cacheKey(), encoded, c.cacheTTL)
		}
	}
	return c.toSchemas(res.Tools), nil
}

// Refresh drops the cached catalog and fetches it again.
func (c *Client) Refresh(ctx context.Context) ([]ports.ToolSchema, error) {
	if c.cache != nil {
		_ = c.cache.Delete(ctx, c.cacheKey())
	}
	return c.ListTools(ctx)
}

// GetToolSchema returns the named tool from the (possibly cached) catalog.
func (c *Client) GetToolSchema(ctx context.Context, name string) (ports.ToolSchema, error) {
	catalog, err := c.catalog(ctx)
	if err != nil {
		return ports.ToolSchema{}, err
	}
	for _, s := range catalog {
		if s.Name == name {
			return s, nil
		}
	}
	return ports.ToolSchema{}, &ports.NotFoundError{Name: name}
}

// Invoke calls the named tool with args exactly as given.
// A result flagged isError by the host is returned together with an RpcError.
func (c *Client) Invoke(ctx context.Context, name string, args map[string]any) (ports.ToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := c.call(ctx, MethodCallTool, callParams{Name: name, Arguments: args})
	if err != nil {
		return ports.ToolResult{}, err
	}

	result := ParseResult(raw)
	if result.IsError {
		return result, &ports.RpcError{Code: 0, Message: result.Text()}
	}
	return result, nil
}

// ResolveAndInvoke fetches the schema, applies defaults, validates, then invokes.
// Nothing reaches tools/call unless validation passed.
func (c *Client) ResolveAndInvoke(ctx context.Context, name string, args map[string]any) (ports.ToolResult, error) {
	schema, err := c.GetToolSchema(ctx, name)
	if err != nil {
		return ports.ToolResult{}, err
	}

	merged := ApplyDefaults(schema, args)
	if err := Validate(schema, merged); err != nil {
		return ports.ToolResult{}, err
	}
	return c.Invoke(ctx, name, merged)
}

func (c *Client) catalog(ctx context.Context) ([]ports.ToolSchema, error) {
	if c.cache != nil {
		if encoded, ok := c.cache.Get(ctx, c.cacheKey()); ok {
			var tools []wireTool
			if err := json.Unmarshal(encoded, &tools); err == nil {
				return c.toSchemas(tools), nil
			}
			c.logger.Warn().Msg("discarding undecodable cached tool catalog")
		}
	}
	return c.ListTools(ctx)
}

func (c *Client) toSchemas(tools []wireTool) []ports.ToolSchema {
	out := make([]ports.ToolSchema, 0, len(tools))
	for _, t := range tools {
		s, err := ParseSchema(t.Name, t.Description, t.InputSchema)
		if err != nil {
			c.logger.Warn().Err(err).Str("tool", t.Name).Msg("skipping tool with unusable schema")
			continue
		}
		out = append(out, s)
	}
	return out
}

func (c *Client) cacheKey() string {
	return "toolhost:catalog:" + c.endpoint
}

// call posts one JSON-RPC envelope and returns its result member.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.limiter != nil {
		release, err := c.limiter.Acquire(ctx, limiterKey)
		if err != nil {
			return nil, &ports.TransportError{Op: method, Err: err}
		}
		defer release()
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	id := uuid.NewString()
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &ports.TransportError{Op: method, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ports.TransportError{Op: method, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ports.TransportError{Op: method, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	c.logger.Debug().
		Str("method", method).
		Str("id", id).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("rpc call")

	// HTTP failures are transport failures even when the body carries a JSON-RPC error
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ports.TransportError{Op: method, Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(payload))}
	}

	var envelope rpcResponse
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, &ports.TransportError{Op: method, Err: fmt.Errorf("undecodable response: %w", err)}
	}
	if envelope.Error != nil {
		return nil, &ports.RpcError{Code: envelope.Error.Code, Message: envelope.Error.Message}
	}
	return envelope.Result, nil
}

// withRetry retries fn while it fails with a TransportError.
func (c *Client) withRetry(ctx context.Context, fn func(context.Context) error) error {
	if c.retries <= 0 {
		return fn(ctx)
	}
	base := c.backoff
	if base <= 0 {
		base = time.Millisecond
	}
	backoff := retry.WithMaxRetries(uint64(c.retries), retry.NewExponential(base))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		var transportErr *ports.TransportError
		if errors.As(err, &transportErr) {
			c.logger.Debug().Err(err).Msg("retrying tool host call")
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && ctx.Err() != nil && !isTyped(err) {
		return &ports.TransportError{Op: MethodListTools, Err: err}
	}
	return err
}

func isTyped(err error) bool {
	return ports.Kind(err) != "internal"
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	return strings.TrimSpace(string(b))
}

var _ ports.ToolHost = (*Client)(nil)
