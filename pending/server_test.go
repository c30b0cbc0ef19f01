package pending

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lspforge/lsprt/cancel"
	"github.com/lspforge/lsprt/wire"
)

func TestServerExecuteSuccess(t *testing.T) {
	s := NewServer()
	id := wire.NewIntID(1)
	ch := s.Execute(id, func(tok cancel.Token) (any, *wire.Error) {
		return map[string]int{"ok": 1}, nil
	})

	resp := recv(t, ch)
	require.Nil(t, resp.Error)
	assert.Equal(t, id, resp.ID)
}

func TestServerExecuteDuplicateIDRejectedWithoutTouchingOriginal(t *testing.T) {
	s := NewServer()
	id := wire.NewIntID(1)
	started := make(chan struct{})
	release := make(chan struct{})
	first := s.Execute(id, func(tok cancel.Token) (any, *wire.Error) {
		close(started)
		<-release
		return "first", nil
	})
	<-started

	second := s.Execute(id, func(tok cancel.Token) (any, *wire.Error) {
		t.Fatal("duplicate handler must not run")
		return nil, nil
	})
	resp := recv(t, second)
	require.NotNil(t, resp.Error)
	assert.EqualValues(t, wire.CodeInvalidRequest, resp.Error.Code)

	close(release)
	firstResp := recv(t, first)
	require.Nil(t, firstResp.Error)
}

func TestServerCancelYieldsCancelledResponse(t *testing.T) {
	s := NewServer()
	id := wire.NewIntID(9)
	started := make(chan struct{})
	ch := s.Execute(id, func(tok cancel.Token) (any, *wire.Error) {
		close(started)
		<-tok.Done()
		return "unused", nil
	})
	<-started
	s.Cancel(id)

	resp := recv(t, ch)
	require.NotNil(t, resp.Error)
	assert.EqualValues(t, wire.CodeRequestCancelled, resp.Error.Code)
	assert.Equal(t, id, resp.ID)
}

func TestServerCancelAbsentIsNoop(t *testing.T) {
	s := NewServer()
	s.Cancel(wire.NewIntID(404)) // must not panic
	assert.Equal(t, 0, s.Len())
}

func TestServerCancelAllAbortsEverything(t *testing.T) {
	s := NewServer()
	var started [2]chan struct{}
	var chans [2]<-chan *wire.Response
	for i := range started {
		started[i] = make(chan struct{})
		i := i
		chans[i] = s.Execute(wire.NewIntID(int64(i)), func(tok cancel.Token) (any, *wire.Error) {
			close(started[i])
			<-tok.Done()
			return nil, nil
		})
	}
	for _, s := range started {
		<-s
	}
	s.CancelAll()

	for _, ch := range chans {
		resp := recv(t, ch)
		require.NotNil(t, resp.Error)
		assert.EqualValues(t, wire.CodeRequestCancelled, resp.Error.Code)
	}
	assert.Equal(t, 0, s.Len())
}

func recv(t *testing.T, ch <-chan *wire.Response) *wire.Response {
	t.Helper()
	select {
	case resp := <-ch:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
		return nil
	}
}
