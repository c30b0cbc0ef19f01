// Package codec implements the Content-Length-framed JSON wire format used
// by LSP: one or more HTTP-style header lines, a blank line, then exactly
// Content-Length bytes of UTF-8 JSON. It knows nothing about JSON-RPC
// semantics (requests/responses/notifications) — it only turns bytes into
// validated JSON values and back, the same separation of concerns as
// akhenakh/lspgo's jsonrpc2.Stream, generalized with the recovery and
// content-type tolerance behavior spec.md §4.1 requires.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

const (
	headerContentLength = "Content-Length"
	headerContentType   = "Content-Type"
	crlf                = "\r\n"
	headerSep           = crlf + crlf
)

// Kind discriminates the ways a frame can fail to decode.
type Kind int

const (
	// KindMissingHeader means the headers parsed but no Content-Length was
	// present, or no header block could be found at all.
	KindMissingHeader Kind = iota
	// KindInvalidLength means Content-Length was present but not a valid
	// positive decimal integer.
	KindInvalidLength
	// KindInvalidType means a Content-Type header was present but malformed.
	KindInvalidType
	// KindBody means the framed bytes were not valid JSON.
	KindBody
	// KindUTF8 means the framed bytes were not valid UTF-8.
	KindUTF8
	// KindHeaderParse means the raw header block itself could not be parsed
	// as HTTP-style header lines (analogous to Rust's httparse error).
	KindHeaderParse
)

func (k Kind) String() string {
	switch k {
	case KindMissingHeader:
		return "MissingHeader"
	case KindInvalidLength:
		return "InvalidLength"
	case KindInvalidType:
		return "InvalidType"
	case KindBody:
		return "Body"
	case KindUTF8:
		return "Utf8"
	case KindHeaderParse:
		return "Httparse"
	default:
		return "Unknown"
	}
}

// ParseError is returned by Decoder.Decode for any malformed frame. After a
// ParseError of Kind MissingHeader or HeaderParse, the decoder has already
// advanced its internal buffer past the offending garbage, so a subsequent
// Decode call has a chance to succeed (spec.md §4.1 recovery property).
type ParseError struct {
	Kind Kind
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("codec: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("codec: %s", e.Kind)
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseErr(kind Kind, err error) *ParseError { return &ParseError{Kind: kind, Err: err} }

// ErrIncomplete is returned by Decode when the buffer does not yet contain
// a full frame. The buffer is left untouched; call Decode again after
// feeding it more bytes.
var ErrIncomplete = fmt.Errorf("codec: incomplete frame")

// Decoder incrementally parses Content-Length-framed JSON values out of a
// growable internal buffer fed by Write.
type Decoder struct {
	buf    bytes.Buffer
	needed int // minimum total bytes (headers+body) known to complete the current frame; 0 = unknown
	logger *zap.Logger
}

// NewDecoder builds a Decoder. A nil logger is replaced with a no-op logger.
func NewDecoder(logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{logger: logger}
}

// Write feeds more raw bytes into the decoder's buffer. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	return d.buf.Write(p)
}

// Decode attempts to extract exactly one framed JSON value from the
// buffered bytes. It returns ErrIncomplete (buffer untouched) when more
// bytes are needed, a *ParseError on malformed input (buffer advanced past
// recoverable garbage where possible), or the decoded body and a nil error
// on success (buffer advanced past the consumed frame).
func (d *Decoder) Decode() (json.RawMessage, error) {
	buf := d.buf.Bytes()

	if d.needed > 0 && len(buf) < d.needed {
		return nil, ErrIncomplete
	}

	idx := bytes.Index(buf, []byte(headerSep))
	if idx < 0 {
		// Headers haven't fully arrived yet; this is not necessarily
		// garbage, just incomplete. No limit is put on how much a peer
		// that never sends a blank line can make the buffer hold.
		return nil, ErrIncomplete
	}

	headerBlock := buf[:idx+len(headerSep)] // include the terminating blank line
	contentLength, ctype, herr := parseHeaders(headerBlock)
	if herr != nil {
		// MissingHeader/HeaderParse: the "Content-Length" literal we need to
		// resync on may be embedded inside the very block that just failed
		// to parse (a garbage prefix glued onto a real header, spec.md §8
		// scenario 3), so scan from the start of the buffer. InvalidLength:
		// the block already contains a syntactically valid but unusable
		// Content-Length line; rescanning from 0 would re-find the exact
		// same line and make no progress, so skip past the whole block.
		skip := 0
		if herr.Kind == KindInvalidLength {
			skip = len(headerBlock)
		}
		d.recover(buf, skip)
		if herr.Kind == KindMissingHeader {
			d.logger.Warn("codec: missing Content-Length header, recovering")
		} else {
			d.logger.Warn("codec: malformed headers, recovering", zap.Error(herr))
		}
		return nil, herr
	}

	if ctype != "" {
		warnIfNotUTF8(d.logger, ctype)
	}

	total := idx + len(headerSep) + contentLength
	if len(buf) < total {
		d.needed = total
		return nil, ErrIncomplete
	}

	body := buf[idx+len(headerSep) : total]
	if !utf8.Valid(body) {
		d.advance(total)
		return nil, parseErr(KindUTF8, fmt.Errorf("body is not valid utf-8"))
	}
	var probe any
	if err := json.Unmarshal(body, &probe); err != nil {
		d.advance(total)
		return nil, parseErr(KindBody, err)
	}

	out := make(json.RawMessage, len(body))
	copy(out, body)
	d.advance(total)
	return out, nil
}

// advance drops the first n bytes from the buffer and resets the
// known-length shortcut.
func (d *Decoder) advance(n int) {
	buf := d.buf.Bytes()
	rest := append([]byte(nil), buf[n:]...)
	d.buf.Reset()
	d.buf.Write(rest)
	d.needed = 0
}

// recover scans the buffer, starting skip bytes in, for the next literal
// occurrence of "Content-Length" and drops everything before it. Decode
// passes the failed header block's length as skip for KindInvalidLength
// (the literal "Content-Length" text of the bad header is still sitting in
// the buffer, and re-matching it would make no progress) and 0 for
// KindMissingHeader and KindHeaderParse, whose resync point may lie inside
// the failed block itself. This gives the property that a garbage prefix preceding a
// valid frame costs exactly one ParseError (spec.md §4.1, §8 "Codec
// recovery").
func (d *Decoder) recover(buf []byte, skip int) {
	if skip > len(buf) {
		skip = len(buf)
	}
	rel := bytes.Index(buf[skip:], []byte(headerContentLength))
	if rel < 0 {
		// No Content-Length anywhere in the remaining buffer; drop it all.
		d.buf.Reset()
		d.needed = 0
		return
	}
	d.advance(rel + skip)
}

// parseHeaders parses an HTTP-style header block (including the trailing
// blank-line CRLF), splitting strictly on "\r\n" rather than delegating to
// net/textproto: a quoted header parameter value is allowed to contain a
// bare '\n' (spec.md §8's content-type tolerance test does exactly this),
// and textproto's line-folding rules would misinterpret that as a new
// header line. Grounded on akhenakh/lspgo's jsonrpc2.Stream.ReadMessage,
// which walks header lines the same way, tolerating and skipping malformed
// ones rather than failing outright.
func parseHeaders(block []byte) (contentLength int, contentType string, perr *ParseError) {
	text := strings.TrimSuffix(string(block), headerSep)
	contentLength = -1
	sawAnyColon := false
	for _, line := range strings.Split(text, crlf) {
		if line == "" {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		sawAnyColon = true
		name := strings.TrimSpace(line[:colon])
		value := strings.TrimSpace(line[colon+1:])
		switch {
		case strings.EqualFold(name, headerContentLength):
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return 0, "", parseErr(KindInvalidLength, fmt.Errorf("invalid Content-Length %q", value))
			}
			contentLength = n
		case strings.EqualFold(name, headerContentType):
			contentType = value
		}
	}
	if !sawAnyColon && text != "" {
		return 0, "", parseErr(KindHeaderParse, fmt.Errorf("no parsable header lines in %q", text))
	}
	if contentLength < 0 {
		return 0, "", parseErr(KindMissingHeader, fmt.Errorf("no Content-Length header"))
	}
	return contentLength, contentType, nil
}

// warnIfNotUTF8 applies spec.md §4.1's best-effort Content-Type check: a
// mismatched media type or charset only produces a log warning, never a
// parse failure. "utf-8" and "utf8" are accepted by name (case-insensitive);
// any other charset is resolved through golang.org/x/text's IANA encoding
// registry, and only a name that resolves to the UTF-8 encoding itself (an
// IANA alias of UTF-8) passes without a warning.
func warnIfNotUTF8(logger *zap.Logger, contentType string) {
	mediaType, params := splitMediaType(contentType)
	if mediaType != "" && mediaType != "application/vscode-jsonrpc" {
		logger.Warn("codec: unexpected Content-Type media type", zap.String("mediaType", mediaType))
	}
	charset, ok := params["charset"]
	if !ok {
		return
	}
	if strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "utf8") {
		return
	}
	enc, err := ianaindex.MIME.Encoding(charset)
	if err != nil {
		logger.Warn("codec: unrecognized charset", zap.String("charset", charset))
		return
	}
	if enc != unicode.UTF8 {
		// Anything but UTF-8 itself would need transcoding; LSP always
		// sends UTF-8 regardless of what's declared.
		logger.Warn("codec: Content-Type charset is not utf-8", zap.String("charset", charset))
	}
}

// splitMediaType is a permissive "type; param=value; param2=value2" parser.
// It tolerates quoted values containing escaped quotes and embedded
// newlines, matching the tolerance spec.md §8's content-type test demands.
func splitMediaType(v string) (string, map[string]string) {
	parts := splitHeaderParams(v)
	if len(parts) == 0 {
		return "", nil
	}
	mediaType := strings.TrimSpace(parts[0])
	params := make(map[string]string, len(parts)-1)
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		val := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		params[key] = val
	}
	return mediaType, params
}

// splitHeaderParams splits on ';' but does not split inside double quotes,
// so a quoted parameter value containing ';' or a literal '\n' is kept
// intact.
func splitHeaderParams(v string) []string {
	var out []string
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
			cur.WriteByte(c)
		case c == ';' && !inQuotes:
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	out = append(out, cur.String())
	return out
}

// Encode serializes v to JSON and appends the framed bytes ("Content-Length:
// <n>\r\n\r\n<body>", no trailing whitespace) to buf.
func Encode(buf *bytes.Buffer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("codec: marshal: %w", err)
	}
	buf.Grow(len(headerContentLength) + 2 + 20 + len(headerSep) + len(body))
	fmt.Fprintf(buf, "%s: %d%s", headerContentLength, len(body), headerSep)
	buf.Write(body)
	return nil
}

// WriteTo serializes v and writes the framed bytes directly to w.
func WriteTo(w io.Writer, v any) error {
	var buf bytes.Buffer
	if err := Encode(&buf, v); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}
