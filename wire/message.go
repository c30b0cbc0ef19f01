package wire

import (
	"encoding/json"
	"fmt"
)

// Request is a server-bound or client-bound call that expects a Response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Notification is a one-way message; it carries no ID and expects no Response.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response correlates to a previously sent Request by ID, carrying either a
// Result or an Error, never both.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewResultResponse builds a successful Response, marshaling result.
func NewResultResponse(id ID, result any) (*Response, error) {
	if result == nil {
		return &Response{JSONRPC: Version, ID: id, Result: json.RawMessage("null")}, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal result: %w", err)
	}
	return &Response{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error Response.
func NewErrorResponse(id ID, err *Error) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: err}
}

// NewRequest builds a server- or client-bound request with marshaled params.
func NewRequest(id ID, method string, params any) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Request{JSONRPC: Version, ID: id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification with marshaled params.
func NewNotification(method string, params any) (*Notification, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Notification{JSONRPC: Version, Method: method, Params: raw}, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal params: %w", err)
	}
	return raw, nil
}

// envelope is used to sniff an incoming byte blob into one of Request,
// Notification, or Response before committing to a concrete decode. The
// transport's decision rule mirrors spec.md §3: presence of "method" means
// inbound call (request if "id" is present, notification otherwise);
// absence of "method" with an "id" present means a response correlating to
// a request this process previously sent out.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Incoming is the direction-tagged union of messages this process can
// receive: a call made on us (a Request, or a Notification when no ID was
// sent) or a Response correlating to a request we previously sent.
type Incoming struct {
	// Request is set when the peer is calling one of our methods with an ID
	// and expects a reply.
	Request *Request
	// Notification is set when the peer sent a notification.
	Notification *Notification
	// Response is set when the peer is answering a request we sent it.
	Response *Response
}

// IsRequest reports whether the incoming message is a request expecting a
// reply (as opposed to a notification or a response).
func (in *Incoming) IsRequest() bool { return in.Request != nil }

// IsNotification reports whether the incoming message is a one-way
// notification.
func (in *Incoming) IsNotification() bool { return in.Notification != nil }

// IsResponse reports whether the incoming message correlates to a request
// this process previously sent to the peer.
func (in *Incoming) IsResponse() bool { return in.Response != nil }

// Method returns the method name for a Request or Notification, "" for a
// Response.
func (in *Incoming) Method() string {
	switch {
	case in.Request != nil:
		return in.Request.Method
	case in.Notification != nil:
		return in.Notification.Method
	default:
		return ""
	}
}

// Params returns the raw params for a Request or Notification, nil for a
// Response.
func (in *Incoming) Params() json.RawMessage {
	switch {
	case in.Request != nil:
		return in.Request.Params
	case in.Notification != nil:
		return in.Notification.Params
	default:
		return nil
	}
}

// DecodeIncoming classifies a raw JSON body into an Incoming value by
// sniffing the jsonrpc/method/id/result/error shape, then fully decoding
// into the concrete type. Returns a Parse-kind *Error wrapped as a Go error
// on malformed JSON.
func DecodeIncoming(data []byte) (*Incoming, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, NewError(CodeParseError, fmt.Sprintf("failed to parse message: %v", err))
	}

	if env.Method != "" {
		if env.ID != nil && env.ID.IsValid() {
			return &Incoming{Request: &Request{
				JSONRPC: env.JSONRPC, ID: *env.ID, Method: env.Method, Params: env.Params,
			}}, nil
		}
		return &Incoming{Notification: &Notification{
			JSONRPC: env.JSONRPC, Method: env.Method, Params: env.Params,
		}}, nil
	}

	if env.ID == nil || !env.ID.IsValid() {
		return nil, NewError(CodeInvalidRequest, "message is neither a call nor a correlatable response")
	}
	return &Incoming{Response: &Response{
		JSONRPC: env.JSONRPC, ID: *env.ID, Result: env.Result, Error: env.Error,
	}}, nil
}

// Outgoing is the direction-tagged union of messages this process can send:
// a Response to a request the peer made on us, or a call (Request or
// Notification) this process is making on the peer.
type Outgoing struct {
	Response     *Response
	Request      *Request
	Notification *Notification
}

func (out *Outgoing) payload() any {
	switch {
	case out.Response != nil:
		return out.Response
	case out.Request != nil:
		return out.Request
	default:
		return out.Notification
	}
}

// Encode marshals the underlying concrete message to JSON.
func (out *Outgoing) Encode() ([]byte, error) {
	return json.Marshal(out.payload())
}
