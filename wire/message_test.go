package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDRoundTrip(t *testing.T) {
	cases := []ID{NewIntID(42), NewStringID("abc"), NullID()}
	for _, id := range cases {
		data, err := json.Marshal(id)
		require.NoError(t, err)

		var got ID
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, id, got)
	}
}

func TestDecodeIncomingRequest(t *testing.T) {
	in, err := DecodeIncoming([]byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`))
	require.NoError(t, err)
	require.True(t, in.IsRequest())
	assert.Equal(t, "initialize", in.Method())
}

func TestDecodeIncomingNotification(t *testing.T) {
	in, err := DecodeIncoming([]byte(`{"jsonrpc":"2.0","method":"exit"}`))
	require.NoError(t, err)
	require.True(t, in.IsNotification())
	assert.Equal(t, "exit", in.Method())
}

func TestDecodeIncomingResponse(t *testing.T) {
	in, err := DecodeIncoming([]byte(`{"jsonrpc":"2.0","id":7,"result":{"ok":true}}`))
	require.NoError(t, err)
	require.True(t, in.IsResponse())
	n, ok := in.Response.ID.IntValue()
	require.True(t, ok)
	assert.Equal(t, int64(7), n)
}

func TestDecodeIncomingResponseMissingID(t *testing.T) {
	_, err := DecodeIncoming([]byte(`{"jsonrpc":"2.0","result":1}`))
	require.Error(t, err)
}

func TestErrorCodes(t *testing.T) {
	e := ErrServerNotInitialized()
	assert.EqualValues(t, CodeServerNotInitialized, e.Code)
	assert.Equal(t, e, ErrServerNotInitialized())
}
