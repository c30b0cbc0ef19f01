package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lspforge/lsprt/cancel"
	"github.com/lspforge/lsprt/dispatch"
	"github.com/lspforge/lsprt/lifecycle"
	"github.com/lspforge/lsprt/pending"
	"github.com/lspforge/lsprt/wire"
)

func newTestService() *Service {
	table := dispatch.NewTable(nil)
	table.Register("initialize", func(ctx context.Context, p *struct{}) (*struct{ Ok bool }, error) {
		return &struct{ Ok bool }{Ok: true}, nil
	})
	table.Register("shutdown", func(ctx context.Context) error { return nil })
	table.Register("echo", func(ctx context.Context, p *struct{ X int }) (*struct{ X int }, error) {
		return &struct{ X int }{X: p.X}, nil
	})
	return New(table, pending.NewClient(nil), nil, nil)
}

func request(id wire.ID, method string, params string) *wire.Incoming {
	var raw []byte
	if params != "" {
		raw = []byte(params)
	}
	return &wire.Incoming{Request: &wire.Request{JSONRPC: wire.Version, ID: id, Method: method, Params: raw}}
}

func notification(method string) *wire.Incoming {
	return &wire.Incoming{Notification: &wire.Notification{JSONRPC: wire.Version, Method: method}}
}

func TestServiceRejectsNonInitializeBeforeInitialize(t *testing.T) {
	s := newTestService()
	resp, err := s.Call(context.Background(), request(wire.NewIntID(1), "echo", `{"X":1}`))
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.EqualValues(t, wire.CodeServerNotInitialized, resp.Error.Code)
}

func TestServiceDropsNotificationBeforeInitialize(t *testing.T) {
	s := newTestService()
	resp, err := s.Call(context.Background(), notification("textDocument/didOpen"))
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestServiceFullLifecycle(t *testing.T) {
	s := newTestService()

	initResp, err := s.Call(context.Background(), request(wire.NewIntID(1), "initialize", ""))
	require.NoError(t, err)
	require.Nil(t, initResp.Error)
	assert.Equal(t, lifecycle.Initialized, s.State().Load())

	// Second initialize is rejected.
	second, err := s.Call(context.Background(), request(wire.NewIntID(2), "initialize", ""))
	require.NoError(t, err)
	require.NotNil(t, second.Error)
	assert.EqualValues(t, wire.CodeInvalidRequest, second.Error.Code)

	echoResp, err := s.Call(context.Background(), request(wire.NewIntID(3), "echo", `{"X":42}`))
	require.NoError(t, err)
	require.Nil(t, echoResp.Error)

	shutdownResp, err := s.Call(context.Background(), request(wire.NewIntID(4), "shutdown", ""))
	require.NoError(t, err)
	require.Nil(t, shutdownResp.Error)
	assert.Equal(t, lifecycle.ShutDown, s.State().Load())

	// A second shutdown is rejected.
	second2, err := s.Call(context.Background(), request(wire.NewIntID(5), "shutdown", ""))
	require.NoError(t, err)
	require.NotNil(t, second2.Error)
	assert.EqualValues(t, wire.CodeInvalidRequest, second2.Error.Code)

	// Any other request after shutdown is also rejected.
	afterShutdown, err := s.Call(context.Background(), request(wire.NewIntID(6), "echo", `{"X":1}`))
	require.NoError(t, err)
	require.NotNil(t, afterShutdown.Error)
	assert.EqualValues(t, wire.CodeInvalidRequest, afterShutdown.Error.Code)

	exitResp, err := s.Call(context.Background(), notification("exit"))
	require.NoError(t, err)
	assert.Nil(t, exitResp)
	assert.Equal(t, lifecycle.Exited, s.State().Load())

	_, err = s.Call(context.Background(), request(wire.NewIntID(7), "echo", `{"X":1}`))
	assert.True(t, wire.IsExited(err))

	assert.True(t, wire.IsExited(s.PollReady()))
}

func TestServiceExitFromUninitialized(t *testing.T) {
	s := newTestService()
	_, err := s.Call(context.Background(), notification("exit"))
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Exited, s.State().Load())
}

func TestServiceCancelRequestAbortsInFlightHandler(t *testing.T) {
	table := dispatch.NewTable(nil)
	table.Register("initialize", func(ctx context.Context) error { return nil })
	started := make(chan struct{})
	table.Register("slow", func(ctx context.Context, tok cancel.Token) error {
		close(started)
		<-tok.Done()
		return nil
	})
	s := New(table, pending.NewClient(nil), nil, nil)
	_, err := s.Call(context.Background(), request(wire.NewIntID(1), "initialize", ""))
	require.NoError(t, err)

	done := make(chan *wire.Response, 1)
	go func() {
		resp, _ := s.Call(context.Background(), request(wire.NewIntID(2), "slow", ""))
		done <- resp
	}()
	<-started

	cancelParams := []byte(`{"id":2}`)
	_, err = s.Call(context.Background(), &wire.Incoming{Notification: &wire.Notification{
		JSONRPC: wire.Version, Method: "$/cancelRequest", Params: cancelParams,
	}})
	require.NoError(t, err)

	select {
	case resp := <-done:
		require.NotNil(t, resp.Error)
		assert.EqualValues(t, wire.CodeRequestCancelled, resp.Error.Code)
		assert.Equal(t, wire.NewIntID(2), resp.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cancelled response")
	}
}

func TestAdmitBeforeExitStillYieldsResponse(t *testing.T) {
	table := dispatch.NewTable(nil)
	table.Register("initialize", func(ctx context.Context) error { return nil })
	started := make(chan struct{})
	table.Register("slow", func(ctx context.Context, tok cancel.Token) error {
		close(started)
		<-tok.Done()
		return nil
	})
	s := New(table, pending.NewClient(nil), nil, nil)
	_, err := s.Call(context.Background(), request(wire.NewIntID(1), "initialize", ""))
	require.NoError(t, err)

	// Admit the slow request before exit is admitted, exactly as transport.Loop's
	// dispatch does for two frames decoded from the same batch: both admissions
	// happen before either handler or CancelAll runs.
	ch, err := s.Admit(context.Background(), request(wire.NewIntID(2), "slow", ""))
	require.NoError(t, err)
	require.NotNil(t, ch)
	<-started

	exitCh, err := s.Admit(context.Background(), notification("exit"))
	require.NoError(t, err)
	assert.Nil(t, exitCh)
	assert.Equal(t, lifecycle.Exited, s.State().Load())

	select {
	case resp := <-ch:
		require.NotNil(t, resp)
		require.NotNil(t, resp.Error)
		assert.EqualValues(t, wire.CodeRequestCancelled, resp.Error.Code)
		assert.Equal(t, wire.NewIntID(2), resp.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("request admitted before exit was never given a response")
	}
}

func TestServiceResponseCorrelatesToClientRegistry(t *testing.T) {
	clients := pending.NewClient(nil)
	s := New(dispatch.NewTable(nil), clients, nil, nil)
	ch := clients.Wait(wire.NewIntID(10))

	resp, err := wire.NewResultResponse(wire.NewIntID(10), "ok")
	require.NoError(t, err)
	out, callErr := s.Call(context.Background(), &wire.Incoming{Response: resp})
	require.NoError(t, callErr)
	assert.Nil(t, out)

	select {
	case got := <-ch:
		assert.Equal(t, resp, got)
	case <-time.After(time.Second):
		t.Fatal("response was not delivered to pending client registry")
	}
}
