package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lspforge/lsprt/cancel"
	"github.com/lspforge/lsprt/wire"
)

type pingParams struct {
	N int `json:"n"`
}

type pingResult struct {
	Echo int `json:"echo"`
}

func TestTableDispatchWithParamsAndResult(t *testing.T) {
	tbl := NewTable(nil)
	tbl.Register("ping", func(ctx context.Context, p *pingParams) (*pingResult, error) {
		return &pingResult{Echo: p.N}, nil
	})

	_, tok := cancel.New()
	result, rpcErr := tbl.Dispatch(context.Background(), tok, "ping", []byte(`{"n":7}`))
	require.Nil(t, rpcErr)
	assert.Equal(t, &pingResult{Echo: 7}, result)
}

func TestTableDispatchWithToken(t *testing.T) {
	tbl := NewTable(nil)
	var observed cancel.Token
	tbl.Register("cancellable", func(ctx context.Context, tok cancel.Token) error {
		observed = tok
		return nil
	})

	c, tok := cancel.New()
	c.Cancel()
	_, rpcErr := tbl.Dispatch(context.Background(), tok, "cancellable", nil)
	require.Nil(t, rpcErr)
	assert.True(t, observed.IsCancelled())
}

func TestTableDispatchUnknownMethodFallsThroughToElse(t *testing.T) {
	tbl := NewTable(nil)
	_, tok := cancel.New()
	_, rpcErr := tbl.Dispatch(context.Background(), tok, "nope", nil)
	require.NotNil(t, rpcErr)
	assert.EqualValues(t, wire.CodeMethodNotFound, rpcErr.Code)
}

func TestTableDispatchInvalidParams(t *testing.T) {
	tbl := NewTable(nil)
	tbl.Register("ping", func(ctx context.Context, p *pingParams) (*pingResult, error) {
		return &pingResult{Echo: p.N}, nil
	})

	_, tok := cancel.New()
	_, rpcErr := tbl.Dispatch(context.Background(), tok, "ping", []byte(`{"n":`))
	require.NotNil(t, rpcErr)
	assert.EqualValues(t, wire.CodeInvalidParams, rpcErr.Code)
}

func TestTableDispatchErrorOnlyReturn(t *testing.T) {
	tbl := NewTable(nil)
	tbl.Register("notify", func(ctx context.Context, p *pingParams) error {
		return wire.ErrInvalidRequest("boom")
	})

	_, tok := cancel.New()
	result, rpcErr := tbl.Dispatch(context.Background(), tok, "notify", []byte(`{"n":1}`))
	assert.Nil(t, result)
	require.NotNil(t, rpcErr)
	assert.EqualValues(t, wire.CodeInvalidRequest, rpcErr.Code)
}

func TestTableRegisterInvalidSignaturePanics(t *testing.T) {
	tbl := NewTable(nil)
	assert.Panics(t, func() {
		tbl.Register("bad", func(p *pingParams) error { return nil })
	})
}

func TestTableHas(t *testing.T) {
	tbl := NewTable(nil)
	assert.False(t, tbl.Has("ping"))
	tbl.Register("ping", func(ctx context.Context) error { return nil })
	assert.True(t, tbl.Has("ping"))
}
