// Package pending implements the two correlation registries the service and
// client handle depend on: the server-side in-flight-handler registry
// (spec.md §4.2) and the client-side response-correlation registry (spec.md
// §4.3). Both follow the plain-map-plus-mutex shape the pack's jsonrpc2
// reference implementation uses for its own pending/handling maps, rather
// than sync.Map — the access pattern here (lookup-then-delete under one
// critical section) doesn't fit sync.Map's uncontended-disjoint-keys sweet
// spot.
package pending

import (
	"sync"

	"github.com/lspforge/lsprt/cancel"
	"github.com/lspforge/lsprt/wire"
)

// HandlerFunc is a backend method invocation already bound to its request;
// it returns the JSON-RPC result value (nil means a null/void result) or an
// *wire.Error.
type HandlerFunc func(tok cancel.Token) (any, *wire.Error)

// Server tracks in-flight backend handler goroutines keyed by request ID, so
// that $/cancelRequest or a session-wide exit can abort them.
type Server struct {
	mu      sync.Mutex
	entries map[wire.ID]*cancel.Canceller
}

// NewServer builds an empty Server registry.
func NewServer() *Server {
	return &Server{entries: make(map[wire.ID]*cancel.Canceller)}
}

// Execute runs fn in a new goroutine under id's abort handle and returns the
// eventual *wire.Response through the returned channel. If id is already
// registered, fn is never invoked (the original handler, if any, is left
// untouched) and the channel immediately yields an InvalidRequest error
// response, per spec.md §4.2.
func (s *Server) Execute(id wire.ID, fn HandlerFunc) <-chan *wire.Response {
	out := make(chan *wire.Response, 1)

	s.mu.Lock()
	if _, exists := s.entries[id]; exists {
		s.mu.Unlock()
		out <- wire.NewErrorResponse(id, wire.ErrInvalidRequest("duplicate request id"))
		close(out)
		return out
	}
	canceller, tok := cancel.New()
	s.entries[id] = canceller
	s.mu.Unlock()

	go func() {
		defer close(out)
		result, rpcErr := fn(tok)

		s.mu.Lock()
		_, stillPresent := s.entries[id]
		delete(s.entries, id)
		s.mu.Unlock()

		if !stillPresent {
			// Already removed by Cancel/CancelAll; the abort handle fired
			// and the handler's own result is discarded.
			out <- wire.NewErrorResponse(id, wire.ErrRequestCancelled())
			return
		}
		if tok.IsCancelled() {
			out <- wire.NewErrorResponse(id, wire.ErrRequestCancelled())
			return
		}
		if rpcErr != nil {
			out <- wire.NewErrorResponse(id, rpcErr)
			return
		}
		resp, err := wire.NewResultResponse(id, result)
		if err != nil {
			out <- wire.NewErrorResponse(id, wire.Errorf(wire.CodeInternalError, "%v", err))
			return
		}
		out <- resp
	}()

	return out
}

// Cancel removes id's entry, if present, and triggers its abort handle
// exactly once. No-op if id is absent (already completed or never
// registered).
func (s *Server) Cancel(id wire.ID) {
	s.mu.Lock()
	c, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	if ok {
		c.Cancel()
	}
}

// CancelAll drains every entry and triggers each abort handle, used on
// session exit (spec.md §4.5's ShutDown -> exit transition).
func (s *Server) CancelAll() {
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[wire.ID]*cancel.Canceller, len(entries))
	s.mu.Unlock()
	for _, c := range entries {
		c.Cancel()
	}
}

// Len reports the number of in-flight handlers; primarily for tests.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
