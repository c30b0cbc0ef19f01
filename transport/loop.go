// Package transport implements the read/write loop described in spec.md
// §4.7: it couples the Content-Length framed codec to an rpc.Service and
// splices the service's per-request responses with a client.Client's
// backend-initiated outbound traffic onto a single serial sink. The
// ingress/egress split is grounded on akhenakh/lspgo's server.Server.Run,
// which spawns one goroutine per inbound message off a single blocking
// read loop; here the two halves (decode-and-dispatch, encode-and-write)
// are coordinated with golang.org/x/sync/errgroup instead of a bare
// sync.WaitGroup, so a fatal error on either side cancels the other and is
// observable from Run's return value.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lspforge/lsprt/client"
	"github.com/lspforge/lsprt/codec"
	"github.com/lspforge/lsprt/rpc"
	"github.com/lspforge/lsprt/wire"
)

// Loop drives one session to completion: decode frames from Reader, hand
// them to Service, and write both the service's responses and the
// Client's backend-initiated outbound traffic to Writer in the order each
// becomes ready.
type Loop struct {
	r       io.Reader
	w       io.Writer
	service *rpc.Service
	sink    client.Sink
	logger  *zap.Logger
	session string
}

// New builds a Loop. sink is the same client.Sink a client.Client built
// over this session's pending.Client/lifecycle.Cell pushes outbound
// traffic into; Loop owns draining it. A nil logger is replaced with a
// no-op logger.
func New(r io.Reader, w io.Writer, service *rpc.Service, sink client.Sink, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	session := uuid.NewString()
	return &Loop{
		r:       r,
		w:       w,
		service: service,
		sink:    sink,
		logger:  logger.With(zap.String("transport_session", session)),
		session: session,
	}
}

// Run drives ingress and egress concurrently until the input source signals
// EOF or the service transitions to Exited, then drains the egress sink and
// returns. A read error other than io.EOF, or a write error, is returned
// (and cancels the sibling goroutine via the errgroup's shared context).
func (l *Loop) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	responses := make(chan *wire.Response, 16)
	stopIngress := make(chan struct{})

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer close(responses)
		defer close(stopIngress)
		return l.ingress(gctx, responses)
	})
	group.Go(func() error {
		return l.egress(gctx, responses, stopIngress)
	})

	err := group.Wait()
	if err != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ingress decodes frames one at a time and admits each to the service in
// decode order, spawning one goroutine per admitted request only to await
// its response, so that a slow handler does not hold up decoding the next
// frame (see dispatch). Any response the service produces is pushed to
// responses for egress to pick up.
func (l *Loop) ingress(ctx context.Context, responses chan<- *wire.Response) error {
	dec := codec.NewDecoder(l.logger)
	buf := make([]byte, 64*1024)

	var handlers errgroup.Group
	defer handlers.Wait() //nolint:errcheck // handler errors are reported to the peer, not here

	for {
		if err := l.pumpDecoder(ctx, dec, responses, &handlers); err != nil {
			return err
		}
		if l.service.PollReady() != nil {
			// Exited while decoding: stop before blocking on another read.
			return nil
		}

		n, err := l.r.Read(buf)
		if n > 0 {
			if _, werr := dec.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if l.service.PollReady() != nil {
			// Exited: stop reading further input. Remaining buffered bytes,
			// if any, are simply dropped.
			return nil
		}
	}
}

// pumpDecoder drains every fully-framed message currently buffered in dec,
// dispatching each through the service. ParseError is logged and decoding
// resumes on the same buffer (spec.md §4.1/§7's "log and continue" policy);
// any other decode error is fatal.
func (l *Loop) pumpDecoder(ctx context.Context, dec *codec.Decoder, responses chan<- *wire.Response, handlers *errgroup.Group) error {
	for {
		if l.service.PollReady() != nil {
			return nil
		}
		raw, err := dec.Decode()
		if err == nil {
			l.dispatch(ctx, raw, responses, handlers)
			continue
		}
		if errors.Is(err, codec.ErrIncomplete) {
			return nil
		}
		var perr *codec.ParseError
		if errors.As(err, &perr) {
			l.logger.Warn("transport: frame parse error, recovering", zap.String("kind", perr.Kind.String()), zap.Error(perr))
			continue
		}
		return err
	}
}

// dispatch admits raw through the service synchronously, in the same order
// frames are decoded, then (if the admitted message is a request) spawns a
// goroutine only to await its eventual response — so a slow handler never
// holds up decoding the next frame, but the admission decision itself (the
// part that can race an exit notification) never reorders relative to
// decode order. This is what makes rpc.Service.Admit's ordering guarantee
// hold: a request admitted from an earlier frame is guaranteed a response
// even if a later frame turns out to be exit (spec.md §5, §8 scenario 1).
func (l *Loop) dispatch(ctx context.Context, raw json.RawMessage, responses chan<- *wire.Response, handlers *errgroup.Group) {
	in, err := wire.DecodeIncoming(raw)
	if err != nil {
		l.logger.Warn("transport: dropping unparseable message", zap.Error(err))
		return
	}
	ch, callErr := l.service.Admit(ctx, in)
	if callErr != nil {
		if !wire.IsExited(callErr) {
			l.logger.Warn("transport: service.Admit error", zap.Error(callErr))
		}
		return
	}
	if ch == nil {
		return
	}
	handlers.Go(func() error {
		select {
		case resp, ok := <-ch:
			if ok && resp != nil {
				select {
				case responses <- resp:
				case <-ctx.Done():
				}
			}
		case <-ctx.Done():
		}
		return nil
	})
}

// egress interleaves service responses with the Client's outbound sink,
// encoding and writing each as it becomes ready, until ingress has stopped
// (closed both responses and stopIngress) and the sink has been drained.
func (l *Loop) egress(ctx context.Context, responses <-chan *wire.Response, stopIngress <-chan struct{}) error {
	var buf bytes.Buffer
	ingressDone := false
	for {
		if ingressDone && responses == nil && len(l.sink) == 0 {
			return l.drainSinkNonBlocking(&buf)
		}
		select {
		case resp, ok := <-responses:
			if !ok {
				responses = nil
				ingressDone = true
				continue
			}
			if err := l.write(&buf, &wire.Outgoing{Response: resp}); err != nil {
				return err
			}
		case out, ok := <-l.sink:
			if !ok {
				return nil
			}
			if err := l.write(&buf, out); err != nil {
				return err
			}
		case <-stopIngress:
			ingressDone = true
			stopIngress = nil
		case <-ctx.Done():
			if ingressDone {
				return l.drainSinkNonBlocking(&buf)
			}
			return ctx.Err()
		}
	}
}

// drainSinkNonBlocking flushes whatever is already buffered in the sink
// without blocking further, matching spec.md §4.7's "drain the egress side
// channel until empty, then close the sink" exit condition.
func (l *Loop) drainSinkNonBlocking(buf *bytes.Buffer) error {
	for {
		select {
		case out, ok := <-l.sink:
			if !ok {
				return nil
			}
			if err := l.write(buf, out); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (l *Loop) write(buf *bytes.Buffer, out *wire.Outgoing) error {
	buf.Reset()
	body, err := out.Encode()
	if err != nil {
		l.logger.Warn("transport: failed to encode outbound message", zap.Error(err))
		return nil
	}
	var payload json.RawMessage = body
	if err := codec.Encode(buf, payload); err != nil {
		return err
	}
	_, err = l.w.Write(buf.Bytes())
	return err
}
