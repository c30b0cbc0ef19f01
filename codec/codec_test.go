package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func frame(body string) string {
	return "Content-Length: " + itoa(len(body)) + crlf + crlf + body
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, map[string]int{"a": 1}))

	d := NewDecoder(zaptest.NewLogger(t))
	_, err := d.Write(buf.Bytes())
	require.NoError(t, err)

	got, err := d.Decode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(got))

	_, err = d.Decode()
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestDecodeIncompleteBufferUntouched(t *testing.T) {
	d := NewDecoder(nil)
	full := frame(`{"x":1}`)
	_, _ = d.Write([]byte(full[:len(full)-3]))

	_, err := d.Decode()
	assert.ErrorIs(t, err, ErrIncomplete)

	_, _ = d.Write([]byte(full[len(full)-3:]))
	got, err := d.Decode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(got))
}

func TestDecodeGarbagePrefixRecoversExactlyOnce(t *testing.T) {
	exit := `{"jsonrpc":"2.0","method":"exit"}`
	input := "1234567890abcdefgh" + frame(exit)

	d := NewDecoder(zaptest.NewLogger(t))
	_, _ = d.Write([]byte(input))

	_, err := d.Decode()
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindMissingHeader, perr.Kind)

	got, err := d.Decode()
	require.NoError(t, err)
	assert.JSONEq(t, exit, string(got))
}

func TestDecodeContentTypeToleratesEmbeddedNewline(t *testing.T) {
	body := `{"jsonrpc":"2.0","method":"exit"}`
	headers := "Content-Length: " + itoa(len(body)) + crlf +
		"Content-Type: application/vscode-jsonrpc; charset=utf-8; foo=\"bar\nbaz\\\"qux\\\"\"" + crlf + crlf
	input := headers + body

	withCT := NewDecoder(zaptest.NewLogger(t))
	_, _ = withCT.Write([]byte(input))
	gotWithCT, errWithCT := withCT.Decode()
	require.NoError(t, errWithCT)

	without := NewDecoder(nil)
	_, _ = without.Write([]byte(frame(body)))
	gotWithout, errWithout := without.Decode()
	require.NoError(t, errWithout)

	assert.Equal(t, string(gotWithout), string(gotWithCT))
}

func TestDecodeInvalidContentLengthThenRecovers(t *testing.T) {
	valid := `{"jsonrpc":"2.0","method":"exit"}`
	input := "Content-Length: notanumber" + crlf + crlf + frame(valid)

	d := NewDecoder(zaptest.NewLogger(t))
	_, _ = d.Write([]byte(input))

	_, err := d.Decode()
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindInvalidLength, perr.Kind)

	got, err := d.Decode()
	require.NoError(t, err)
	assert.JSONEq(t, valid, string(got))
}

func TestDecodeMalformedJSONBody(t *testing.T) {
	d := NewDecoder(nil)
	_, _ = d.Write([]byte(frame(`{not json`)))

	_, err := d.Decode()
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindBody, perr.Kind)
}

func TestDecodeNonUTF8Body(t *testing.T) {
	body := []byte{0xff, 0xfe, 0xfd}
	input := "Content-Length: " + itoa(len(body)) + crlf + crlf
	d := NewDecoder(nil)
	_, _ = d.Write([]byte(input))
	_, _ = d.Write(body)

	_, err := d.Decode()
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindUTF8, perr.Kind)
}

func TestEncodeWriteTo(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTo(&buf, map[string]string{"k": "v"}))

	d := NewDecoder(nil)
	_, _ = d.Write(buf.Bytes())
	got, err := d.Decode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v"}`, string(got))
}
