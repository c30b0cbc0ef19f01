// Package client implements the backend-facing Client handle (spec.md
// §4.6): a cheap-to-clone value that multiplexes outbound notifications and
// requests onto a single serial sink, assigns monotonically increasing
// request IDs with go.uber.org/atomic, and races response futures against
// caller-supplied cancellation tokens. Logging and the atomic-sequence-
// counter idiom are grounded on the same go-language-server jsonrpc2.Conn
// this module's rpc.Service is grounded on.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lspforge/lsprt/lifecycle"
	"github.com/lspforge/lsprt/pending"
	"github.com/lspforge/lsprt/wire"
)

// Gate controls which lifecycle states permit an outbound send for a given
// method. Every outbound method in this package uses GateInitialized: per
// spec.md §3, outbound traffic keeps flowing through ShutDown ("outbound
// traffic still flows"), so log_message, show_message, publish_diagnostics,
// and telemetry_event are all gated identically on "server has reached
// Initialized and has not yet Exited" (Initialized or ShutDown), not on
// Initialized alone. This uniform-gate policy is the choice spec.md §9
// permits; it does not reflect original_source's actual per-method split
// (log_message/show_message are ungated there while publish_diagnostics is
// gated) — see DESIGN.md.
type Gate int

const (
	// GateInitialized permits sends while the session is Initialized or
	// ShutDown.
	GateInitialized Gate = iota
	// GateNotExited permits sends any time before Exited (used internally
	// for $/cancelRequest, which must reach the peer even during ShutDown).
	GateNotExited
)

// Sink is the outbound side channel the transport loop drains. Outgoing
// values pushed here are written to the wire in push order.
type Sink chan *wire.Outgoing

// NewSink builds a Sink with the given buffer capacity. The transport loop
// owns closing it once ingress has stopped and nothing more will be pushed.
func NewSink(capacity int) Sink {
	return make(Sink, capacity)
}

// Client is the cheap-to-clone backend-facing handle. Copy it by value;
// every copy shares the same sequence counter, sink, and pending registry.
type Client struct {
	seq      *atomic.Int64
	sink     Sink
	pending  *pending.Client
	state    *lifecycle.Cell
	logger   *zap.Logger
	sessiond string
}

// New builds a Client around the given outbound sink, pending-client
// registry, and session lifecycle cell. A nil logger is replaced with a
// no-op logger. The returned Client is tagged with a random session ID
// (attached to every log line) so overlapping in-process sessions can be
// told apart.
func New(sink Sink, pendingClient *pending.Client, state *lifecycle.Cell, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		seq:      atomic.NewInt64(0),
		sink:     sink,
		pending:  pendingClient,
		state:    state,
		logger:   logger,
		sessiond: uuid.NewString(),
	}
}

func (c *Client) allowed(gate Gate) bool {
	switch gate {
	case GateNotExited:
		return c.state.Load() != lifecycle.Exited
	default:
		return c.state.IsInitialized()
	}
}

// Notify sends a fire-and-forget notification, gated on GateInitialized.
// Suppressed sends are logged at Debug, not reported as an error — spec.md
// §4.6's "suppressed with a trace log" policy.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	return c.notify(ctx, method, params, GateInitialized)
}

func (c *Client) notify(ctx context.Context, method string, params any, gate Gate) error {
	if !c.allowed(gate) {
		c.logger.Debug("client: suppressing notification, gate not open",
			zap.String("session", c.sessiond), zap.String("method", method))
		return nil
	}
	n, err := wire.NewNotification(method, params)
	if err != nil {
		return err
	}
	return c.push(ctx, &wire.Outgoing{Notification: n})
}

func (c *Client) push(ctx context.Context, out *wire.Outgoing) error {
	select {
	case c.sink <- out:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogMessage sends window/logMessage.
func (c *Client) LogMessage(ctx context.Context, typ int, message string) error {
	return c.Notify(ctx, "window/logMessage", struct {
		Type    int    `json:"type"`
		Message string `json:"message"`
	}{typ, message})
}

// ShowMessage sends window/showMessage.
func (c *Client) ShowMessage(ctx context.Context, typ int, message string) error {
	return c.Notify(ctx, "window/showMessage", struct {
		Type    int    `json:"type"`
		Message string `json:"message"`
	}{typ, message})
}

// PublishDiagnostics sends textDocument/publishDiagnostics.
func (c *Client) PublishDiagnostics(ctx context.Context, params any) error {
	return c.Notify(ctx, "textDocument/publishDiagnostics", params)
}

// TelemetryEvent sends telemetry/event, applying the scalar-wrapping shim
// from spec.md §4.6 / SPEC_FULL.md's supplemented features: a non-null,
// non-array, non-object JSON scalar is wrapped in a one-element array
// before dispatch; null is sent as-is.
func (c *Client) TelemetryEvent(ctx context.Context, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("client: marshal telemetry value: %w", err)
	}
	wrapped := wrapTelemetryScalar(raw)
	return c.notify(ctx, "telemetry/event", json.RawMessage(wrapped), GateInitialized)
}

func wrapTelemetryScalar(raw json.RawMessage) json.RawMessage {
	trimmed := bytesTrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] == '{' || trimmed[0] == '[' || string(trimmed) == "null" {
		return raw
	}
	out := make([]byte, 0, len(trimmed)+2)
	out = append(out, '[')
	out = append(out, trimmed...)
	out = append(out, ']')
	return out
}

func bytesTrimSpace(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && isJSONSpace(b[i]) {
		i++
	}
	for j > i && isJSONSpace(b[j-1]) {
		j--
	}
	return b[i:j]
}

func isJSONSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// CancelToken is the observer half backend code hands to Request to race
// the outbound call's response against caller-driven cancellation
// (spec.md §4.6 step 4).
type CancelToken interface {
	Done() <-chan struct{}
}

// Request sends a server-to-client request and awaits its response,
// deserializing the result into out (a pointer). If tok fires before the
// response arrives, the pending entry is removed, a $/cancelRequest
// notification carrying the integer form of the request ID is emitted, and
// Request returns a wire.Error with CodeRequestCancelled.
func (c *Client) Request(ctx context.Context, method string, params, out any, tok CancelToken) error {
	if !c.allowed(GateInitialized) {
		c.logger.Debug("client: suppressing request, gate not open",
			zap.String("session", c.sessiond), zap.String("method", method))
		return wire.ErrServerNotInitialized()
	}

	n := c.seq.Inc()
	id := wire.NewIntID(n)
	respCh := c.pending.Wait(id)

	req, err := wire.NewRequest(id, method, params)
	if err != nil {
		c.pending.Cancel(id)
		return err
	}
	if err := c.push(ctx, &wire.Outgoing{Request: req}); err != nil {
		c.pending.Cancel(id)
		return wire.Errorf(wire.CodeInternalError, "%v", err)
	}

	var done <-chan struct{}
	if tok != nil {
		done = tok.Done()
	}

	select {
	case resp, ok := <-respCh:
		if !ok {
			return wire.ErrRequestCancelled()
		}
		if resp.Error != nil {
			return resp.Error
		}
		if out != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return wire.Errorf(wire.CodeParseError, "failed to parse result: %v", err)
			}
		}
		return nil
	case <-done:
		c.pending.Cancel(id)
		_ = c.emitCancel(ctx, n)
		return wire.ErrRequestCancelled()
	case <-ctx.Done():
		c.pending.Cancel(id)
		return ctx.Err()
	}
}

// emitCancel sends $/cancelRequest carrying the integer ID. It uses
// GateNotExited, not GateInitialized: a cancellation that races shutdown
// must still reach the peer. Per original_source, only integer IDs are ever
// emitted, in int32 range: an ID beyond math.MaxInt32 is a local error and
// nothing is sent (spec.md §9 Open Question, resolved in DESIGN.md).
func (c *Client) emitCancel(ctx context.Context, id int64) error {
	if id > math.MaxInt32 {
		c.logger.Error("client: request id exceeds int32 range, not sending $/cancelRequest",
			zap.String("session", c.sessiond), zap.Int64("id", id))
		return fmt.Errorf("client: request id %d exceeds int32 range", id)
	}
	return c.notify(ctx, "$/cancelRequest", struct {
		ID int64 `json:"id"`
	}{id}, GateNotExited)
}

// ShowMessageRequest sends window/showMessageRequest and decodes the result
// into out.
func (c *Client) ShowMessageRequest(ctx context.Context, params, out any, tok CancelToken) error {
	return c.Request(ctx, "window/showMessageRequest", params, out, tok)
}

// RegisterCapability sends client/registerCapability.
func (c *Client) RegisterCapability(ctx context.Context, params any, tok CancelToken) error {
	return c.Request(ctx, "client/registerCapability", params, nil, tok)
}

// UnregisterCapability sends client/unregisterCapability.
func (c *Client) UnregisterCapability(ctx context.Context, params any, tok CancelToken) error {
	return c.Request(ctx, "client/unregisterCapability", params, nil, tok)
}

// ApplyEdit sends workspace/applyEdit and decodes the result into out.
func (c *Client) ApplyEdit(ctx context.Context, params, out any, tok CancelToken) error {
	return c.Request(ctx, "workspace/applyEdit", params, out, tok)
}

// Configuration sends workspace/configuration and decodes the result into out.
func (c *Client) Configuration(ctx context.Context, params, out any, tok CancelToken) error {
	return c.Request(ctx, "workspace/configuration", params, out, tok)
}

// WorkspaceFolders sends workspace/workspaceFolders and decodes the result
// into out.
func (c *Client) WorkspaceFolders(ctx context.Context, out any, tok CancelToken) error {
	return c.Request(ctx, "workspace/workspaceFolders", nil, out, tok)
}
