// Package rpc implements the Service described in spec.md §4.5: it consumes
// one Incoming message at a time, enforces the LSP lifecycle dispatch-rules
// table, and produces at most one outgoing Response plus whatever
// asynchronous outbound traffic the backend pushes through the Client side
// channel. Logging uses a session-tagged zap.Logger, as the akhenakh/lspgo
// and go-language-server jsonrpc2 packages do; entries are written for
// dropped pre-initialize notifications, malformed $/cancelRequest params and
// notification handler errors, not for every message.
package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/lspforge/lsprt/cancel"
	"github.com/lspforge/lsprt/dispatch"
	"github.com/lspforge/lsprt/lifecycle"
	"github.com/lspforge/lsprt/metrics"
	"github.com/lspforge/lsprt/pending"
	"github.com/lspforge/lsprt/wire"
)

const (
	methodInitialize    = "initialize"
	methodInitialized   = "initialized"
	methodShutdown      = "shutdown"
	methodExit          = "exit"
	methodCancelRequest = "$/cancelRequest"
)

// cancelParams is the minimal shape this package needs out of
// $/cancelRequest; the richer protocol type lives in the protocol package.
type cancelParams struct {
	ID wire.ID `json:"id"`
}

// Service is the lifecycle-gated JSON-RPC dispatcher. The zero value is not
// usable; build one with New.
type Service struct {
	state   *lifecycle.Cell
	table   *dispatch.Table
	server  *pending.Server
	clients *pending.Client
	logger  *zap.Logger
	session string

	recorder metrics.Recorder
	sem      *semaphore.Weighted

	onExit func()
}

// New builds a Service around a pre-built dispatch.Table. onExit, if
// non-nil, is invoked when an exit notification moves the session to
// Exited (transport.Loop does not rely on it; it polls PollReady). The
// Service is tagged with a random session ID (attached to every log line),
// the same overlapping-sessions-in-logs convenience client.Client provides.
func New(table *dispatch.Table, clients *pending.Client, logger *zap.Logger, onExit func(), opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	session := uuid.NewString()
	s := &Service{
		state:    lifecycle.New(),
		table:    table,
		server:   pending.NewServer(),
		clients:  clients,
		logger:   logger.With(zap.String("session", session)),
		session:  session,
		recorder: metrics.NoOp(),
		onExit:   onExit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Session returns the random session ID this Service was tagged with at
// construction.
func (s *Service) Session() string { return s.session }

// State exposes the underlying lifecycle cell, e.g. for the client handle's
// initialization gate.
func (s *Service) State() *lifecycle.Cell { return s.state }

// PollReady succeeds until the state is Exited, per spec.md §4.5.
func (s *Service) PollReady() error {
	if s.state.IsExited() {
		return wire.ExitedError{}
	}
	return nil
}

// Call consumes one Incoming message and returns at most one outgoing
// Response: non-nil for requests, nil for notifications and for
// client-response correlations (spec.md §4.5's call contract). It is
// Admit followed by a blocking wait on the resulting response, kept as a
// convenience for callers (and tests) that want one synchronous call per
// message; transport.Loop calls Admit directly so that admission decisions
// for a batch of messages happen in decode order (see Admit's doc comment).
func (s *Service) Call(ctx context.Context, in *wire.Incoming) (*wire.Response, error) {
	ch, err := s.Admit(ctx, in)
	if err != nil || ch == nil {
		return nil, err
	}
	return <-ch, nil
}

// Admit performs the synchronous admission decision for one Incoming
// message — lifecycle transitions and, for requests, registration into the
// pending-server table — and returns a channel that will yield the eventual
// *wire.Response (nil for notifications and client-response correlations).
// The initialize and shutdown handlers run inline, before Admit returns;
// every other handler body (the potentially slow part) runs in its own
// goroutine, and its admission is synchronous and non-blocking, so a caller
// that processes a batch of incoming messages one at a time (rather than
// handing each off to an unsynchronized goroutine before calling Admit) gets
// a consistent ordering guarantee: a request Admit'd before an exit
// notification is Admit'd is guaranteed a response — normal or cancelled —
// never a silently dropped ExitedError, because exit's CancelAll() only
// cancels entries already present in the pending-server table by the time
// it runs (spec.md §5: exit "cancels all outstanding handlers, then the
// transport drains and closes").
func (s *Service) Admit(ctx context.Context, in *wire.Incoming) (<-chan *wire.Response, error) {
	if s.state.IsExited() {
		return nil, wire.ExitedError{}
	}

	if in.IsResponse() {
		s.clients.Insert(in.Response)
		return nil, nil
	}

	method := in.Method()
	switch method {
	case methodInitialize:
		resp, err := s.handleInitialize(ctx, in)
		if err != nil || resp == nil {
			return nil, err
		}
		return immediate(resp), nil
	case methodInitialized:
		return nil, nil
	case methodShutdown:
		resp, err := s.handleShutdown(ctx, in)
		if err != nil || resp == nil {
			return nil, err
		}
		return immediate(resp), nil
	case methodExit:
		s.server.CancelAll()
		s.state.Store(lifecycle.Exited)
		if s.onExit != nil {
			s.onExit()
		}
		return nil, nil
	case methodCancelRequest:
		s.handleCancelRequest(in.Params())
		return nil, nil
	}

	st := s.state.Load()
	if in.IsRequest() {
		switch st {
		case lifecycle.Uninitialized:
			return immediate(wire.NewErrorResponse(in.Request.ID, wire.ErrServerNotInitialized())), nil
		case lifecycle.ShutDown:
			return immediate(wire.NewErrorResponse(in.Request.ID, wire.ErrInvalidRequest("server has shut down"))), nil
		}
		return s.admitRequest(ctx, in.Request), nil
	}

	// Notification other than the recognized lifecycle set.
	if st == lifecycle.Uninitialized {
		s.logger.Debug("rpc: dropping notification before initialize", zap.String("method", method))
		return nil, nil
	}
	s.admitNotification(ctx, in.Notification)
	return nil, nil
}

// immediate wraps an already-computed response in a closed, buffered channel
// of the shape Admit's other branches return, so every branch of Admit has
// the same "channel, maybe nil" return shape.
func immediate(resp *wire.Response) <-chan *wire.Response {
	ch := make(chan *wire.Response, 1)
	ch <- resp
	close(ch)
	return ch
}

func (s *Service) handleInitialize(ctx context.Context, in *wire.Incoming) (*wire.Response, error) {
	if !in.IsRequest() {
		return nil, nil
	}
	id := in.Request.ID
	if !s.state.CompareAndSwap(lifecycle.Uninitialized, lifecycle.Initializing) {
		return wire.NewErrorResponse(id, wire.ErrInvalidRequest("server already initialized")), nil
	}

	_, tok := cancel.New()
	result, rpcErr := s.table.Dispatch(ctx, tok, methodInitialize, in.Request.Params)
	if rpcErr != nil {
		s.state.Store(lifecycle.Uninitialized)
		return wire.NewErrorResponse(id, rpcErr), nil
	}
	s.state.Store(lifecycle.Initialized)
	resp, err := wire.NewResultResponse(id, result)
	if err != nil {
		return wire.NewErrorResponse(id, wire.Errorf(wire.CodeInternalError, "%v", err)), nil
	}
	return resp, nil
}

func (s *Service) handleShutdown(ctx context.Context, in *wire.Incoming) (*wire.Response, error) {
	if !in.IsRequest() {
		return nil, nil
	}
	id := in.Request.ID
	st := s.state.Load()
	if st != lifecycle.Initialized {
		return wire.NewErrorResponse(id, wire.ErrInvalidRequest("shutdown not valid in this state")), nil
	}

	_, tok := cancel.New()
	result, rpcErr := s.table.Dispatch(ctx, tok, methodShutdown, in.Request.Params)
	if rpcErr != nil {
		return wire.NewErrorResponse(id, rpcErr), nil
	}
	s.state.Store(lifecycle.ShutDown)
	resp, err := wire.NewResultResponse(id, result)
	if err != nil {
		return wire.NewErrorResponse(id, wire.Errorf(wire.CodeInternalError, "%v", err)), nil
	}
	return resp, nil
}

func (s *Service) handleCancelRequest(params json.RawMessage) {
	var p cancelParams
	if len(params) == 0 {
		return
	}
	if err := json.Unmarshal(params, &p); err != nil {
		s.logger.Warn("rpc: malformed $/cancelRequest params", zap.Error(err))
		return
	}
	s.server.Cancel(p.ID)
	s.recorder.RequestCancelled(context.Background(), p.ID.String())
}

// acquire blocks until the concurrency semaphore (if configured via
// WithMaxConcurrentHandlers) admits another handler invocation. Unbounded
// (the zero value) when no limit was configured.
func (s *Service) acquire(ctx context.Context) func() {
	if s.sem == nil {
		return func() {}
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return func() {}
	}
	return func() { s.sem.Release(1) }
}

// admitRequest registers req with the pending-server table (synchronously,
// before returning) and runs its handler in a new goroutine; the returned
// channel yields the eventual response. Registration happening before
// return, rather than inside the spawned goroutine, is what makes Admit's
// ordering guarantee hold.
func (s *Service) admitRequest(ctx context.Context, req *wire.Request) <-chan *wire.Response {
	return s.server.Execute(req.ID, func(tok cancel.Token) (any, *wire.Error) {
		release := s.acquire(ctx)
		defer release()

		s.recorder.HandlerStarted(ctx, req.Method)
		start := time.Now()
		result, rpcErr := s.table.Dispatch(ctx, tok, req.Method, req.Params)
		s.recorder.RequestDispatched(ctx, req.Method, time.Since(start), rpcErr != nil)
		s.recorder.HandlerFinished(ctx, req.Method)
		return result, rpcErr
	})
}

// admitNotification runs n's handler in a new goroutine without blocking the
// caller, matching the non-blocking-to-ingress behavior notifications have
// always had here; a notification produces no response to wait for.
func (s *Service) admitNotification(ctx context.Context, n *wire.Notification) {
	go func() {
		release := s.acquire(ctx)
		defer release()

		_, tok := cancel.New()
		s.recorder.HandlerStarted(ctx, n.Method)
		start := time.Now()
		_, rpcErr := s.table.Dispatch(ctx, tok, n.Method, n.Params)
		s.recorder.RequestDispatched(ctx, n.Method, time.Since(start), rpcErr != nil)
		s.recorder.HandlerFinished(ctx, n.Method)
		if rpcErr != nil {
			s.logger.Warn("rpc: notification handler error", zap.String("method", n.Method), zap.Error(rpcErr))
		}
	}()
}
