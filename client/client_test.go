package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lspforge/lsprt/cancel"
	"github.com/lspforge/lsprt/lifecycle"
	"github.com/lspforge/lsprt/pending"
	"github.com/lspforge/lsprt/wire"
)

func newTestClient(state *lifecycle.Cell) (*Client, Sink, *pending.Client) {
	sink := NewSink(8)
	pc := pending.NewClient(nil)
	return New(sink, pc, state, nil), sink, pc
}

func TestNotifySuppressedBeforeInitialized(t *testing.T) {
	state := lifecycle.New()
	c, sink, _ := newTestClient(state)

	require.NoError(t, c.Notify(context.Background(), "window/logMessage", nil))
	select {
	case <-sink:
		t.Fatal("notification should have been suppressed")
	default:
	}
}

func TestNotifyFlowsOnceInitialized(t *testing.T) {
	state := lifecycle.New()
	state.Store(lifecycle.Initialized)
	c, sink, _ := newTestClient(state)

	require.NoError(t, c.LogMessage(context.Background(), 1, "hello"))
	out := <-sink
	require.NotNil(t, out.Notification)
	assert.Equal(t, "window/logMessage", out.Notification.Method)
}

func TestNotifyFlowsDuringShutDown(t *testing.T) {
	state := lifecycle.New()
	state.Store(lifecycle.ShutDown)
	c, sink, _ := newTestClient(state)

	require.NoError(t, c.LogMessage(context.Background(), 1, "still here"))
	out := <-sink
	require.NotNil(t, out.Notification)
	assert.Equal(t, "window/logMessage", out.Notification.Method)
}

func TestNotifySuppressedAfterExited(t *testing.T) {
	state := lifecycle.New()
	state.Store(lifecycle.Exited)
	c, sink, _ := newTestClient(state)

	require.NoError(t, c.LogMessage(context.Background(), 1, "too late"))
	select {
	case <-sink:
		t.Fatal("notification should have been suppressed")
	default:
	}
}

func TestTelemetryWrapsScalarButNotObjectOrNull(t *testing.T) {
	state := lifecycle.New()
	state.Store(lifecycle.Initialized)
	c, sink, _ := newTestClient(state)

	require.NoError(t, c.TelemetryEvent(context.Background(), 42))
	out := <-sink
	assert.JSONEq(t, `[42]`, string(out.Notification.Params))

	require.NoError(t, c.TelemetryEvent(context.Background(), map[string]int{"a": 1}))
	out = <-sink
	assert.JSONEq(t, `{"a":1}`, string(out.Notification.Params))

	require.NoError(t, c.TelemetryEvent(context.Background(), nil))
	out = <-sink
	assert.Equal(t, "null", string(out.Notification.Params))

	require.NoError(t, c.TelemetryEvent(context.Background(), true))
	out = <-sink
	assert.JSONEq(t, `[true]`, string(out.Notification.Params))
}

func TestRequestDeliversDeserializedResult(t *testing.T) {
	state := lifecycle.New()
	state.Store(lifecycle.Initialized)
	c, sink, pc := newTestClient(state)

	type result struct {
		OK bool `json:"ok"`
	}
	var out result
	done := make(chan error, 1)
	go func() {
		done <- c.Request(context.Background(), "workspace/configuration", nil, &out, nil)
	}()

	outgoing := <-sink
	require.NotNil(t, outgoing.Request)
	resp, err := wire.NewResultResponse(outgoing.Request.ID, result{OK: true})
	require.NoError(t, err)
	pc.Insert(resp)

	require.NoError(t, <-done)
	assert.True(t, out.OK)
}

func TestRequestCancellationEmitsCancelRequest(t *testing.T) {
	state := lifecycle.New()
	state.Store(lifecycle.Initialized)
	c, sink, _ := newTestClient(state)

	canceller, tok := cancel.New()
	done := make(chan error, 1)
	go func() {
		done <- c.Request(context.Background(), "workspace/configuration", nil, nil, tok)
	}()

	outgoing := <-sink
	require.NotNil(t, outgoing.Request)

	canceller.Cancel()

	err := <-done
	require.Error(t, err)
	rpcErr, ok := err.(*wire.Error)
	require.True(t, ok)
	assert.EqualValues(t, wire.CodeRequestCancelled, rpcErr.Code)

	select {
	case cancelMsg := <-sink:
		require.NotNil(t, cancelMsg.Notification)
		assert.Equal(t, "$/cancelRequest", cancelMsg.Notification.Method)
	case <-time.After(time.Second):
		t.Fatal("expected a $/cancelRequest notification on the sink")
	}
}

func TestRequestSuppressedBeforeInitializedReturnsServerNotInitialized(t *testing.T) {
	state := lifecycle.New()
	c, _, _ := newTestClient(state)

	err := c.Request(context.Background(), "workspace/configuration", nil, nil, nil)
	require.Error(t, err)
	rpcErr, ok := err.(*wire.Error)
	require.True(t, ok)
	assert.EqualValues(t, wire.CodeServerNotInitialized, rpcErr.Code)
}
