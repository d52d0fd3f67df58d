// Package toolclient calls named remote tools over JSON-RPC 2.0, accepting
// either a plain JSON response or a Server-Sent Events stream.
package toolclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultTimeout bounds one tool call, including reading the body.
	DefaultTimeout = 30 * time.Second

	jsonRPCVersion = "2.0"
	methodToolCall = "tools/call"
	acceptHeader   = "application/json, text/event-stream"
)

type request struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      string     `json:"id"`
	Method  string     `json:"method"`
	Params  callParams `json:"params"`
}

type callParams struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments"`
}

type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *envelope) hasID(id string) bool {
	var got string
	return len(e.ID) > 0 && json.Unmarshal(e.ID, &got) == nil && got == id
}

type toolResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Client is a JSON-RPC tools/call client for one endpoint.
type Client struct {
	endpoint    string
	httpClient  *http.Client
	timeout     time.Duration
	apiKeyName  string
	apiKeyValue string
	tracer      trace.Tracer
	registry    *Registry
	newID       func() string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithAPIKey attaches header: value to every request.
func WithAPIKey(header, value string) Option {
	return func(c *Client) {
		c.apiKeyName = header
		c.apiKeyValue = value
	}
}

// WithTracer sets the tracer used for call spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// WithRegistry replaces DefaultRegistry.
func WithRegistry(r *Registry) Option {
	return func(c *Client) { c.registry = r }
}

// New creates a client for endpoint.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		tracer:     otel.Tracer("smartflow/toolclient"),
		registry:   DefaultRegistry,
		newID:      func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Credits returns the registered cost of tool.
func (c *Client) Credits(tool string) int {
	return c.registry.Credits(tool)
}

// ListTools returns the registry contents sorted by name.
func (c *Client) ListTools() []ToolInfo {
	return c.registry.ListTools()
}

// Registry returns the tool registry in use.
func (c *Client) Registry() *Registry {
	return c.registry
}

// CallTool invokes tool with arguments and returns its decoded payload: the
// first text block parsed as JSON, or the text itself as a JSON string when
// it is not JSON, or null when the response carries no result. Every failure
// is an *Error. Calls are never retried.
func (c *Client) CallTool(ctx context.Context, tool string, arguments any) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, "toolclient.call-tool")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", tool))

	out, err := c.callTool(ctx, tool, arguments)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("tool.result_bytes", len(out)))
	return out, nil
}

func (c *Client) callTool(ctx context.Context, tool string, arguments any) (json.RawMessage, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	id := c.newID()
	payload, err := json.Marshal(request{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Method:  methodToolCall,
		Params:  callParams{Name: tool, Arguments: arguments},
	})
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Tool: tool, Message: "encode request", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Tool: tool, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", acceptHeader)
	if c.apiKeyName != "" && c.apiKeyValue != "" {
		req.Header.Set(c.apiKeyName, c.apiKeyValue)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, tool, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(ctx, tool, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Kind: KindHTTP, Tool: tool, Status: resp.StatusCode, Body: string(body)}
	}

	env, err := decodeEnvelope(resp.Header.Get("Content-Type"), body, id)
	if err != nil {
		var te *Error
		if errors.As(err, &te) {
			te.Tool = tool
		}
		return nil, err
	}
	if env.Error != nil {
		return nil, &Error{Kind: KindRPC, Tool: tool, Code: env.Error.Code, Message: env.Error.Message}
	}
	out, err := decodeResult(env.Result)
	if err != nil {
		var te *Error
		if errors.As(err, &te) {
			te.Tool = tool
		}
		return nil, err
	}
	return out, nil
}

func (c *Client) transportError(ctx context.Context, tool string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Tool: tool, Message: fmt.Sprintf("no response within %s", c.timeout), Err: context.DeadlineExceeded}
	}
	return &Error{Kind: KindNetwork, Tool: tool, Err: err}
}

func decodeEnvelope(contentType string, body []byte, requestID string) (*envelope, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	if mediaType == "text/event-stream" {
		return parseSSE(body, requestID)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &Error{Kind: KindProtocol, Message: "malformed JSON-RPC response", Err: err}
	}
	if env.JSONRPC != jsonRPCVersion {
		return nil, &Error{Kind: KindProtocol, Message: fmt.Sprintf("unexpected jsonrpc version %q", env.JSONRPC)}
	}
	return &env, nil
}

func decodeResult(raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return json.RawMessage("null"), nil
	}

	var res toolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, &Error{Kind: KindProtocol, Message: "malformed tool result", Err: err}
	}

	text, hasText := firstText(res.Content)
	if res.IsError {
		msg := text
		if !hasText || msg == "" {
			msg = "tool reported an error"
		}
		return nil, &Error{Kind: KindTool, Message: msg}
	}
	if !hasText {
		return raw, nil
	}
	if json.Valid([]byte(text)) {
		return json.RawMessage(text), nil
	}
	quoted, err := json.Marshal(text)
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Message: "encode text result", Err: err}
	}
	return quoted, nil
}

func firstText(blocks []contentBlock) (string, bool) {
	for _, b := range blocks {
		if b.Type == "text" {
			return b.Text, true
		}
	}
	return "", false
}

// CallToolInto calls tool and decodes its payload into T.
func CallToolInto[T any](ctx context.Context, c *Client, tool string, arguments any) (T, error) {
	var out T
	raw, err := c.CallTool(ctx, tool, arguments)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &Error{Kind: KindProtocol, Tool: tool, Message: "decode tool payload", Err: err}
	}
	return out, nil
}
