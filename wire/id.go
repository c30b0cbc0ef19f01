// Package wire defines the JSON-RPC 2.0 / LSP message envelope: the request
// ID union, request/response/notification shapes, and the standard error
// taxonomy. It does not know about any particular method's parameter or
// result types — those are opaque json.RawMessage values, supplied by
// whatever LSP type package a backend chooses to pair this runtime with.
package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is the JSON-RPC protocol version string carried on every message.
const Version = "2.0"

// ID is the tagged union of request identifiers the protocol allows:
// a 64-bit integer or a string. The zero value is the integer ID 0; an
// absent or JSON-null ID is NullID, which IsValid reports as not valid.
type ID struct {
	str    string
	num    int64
	isStr  bool
	isNull bool
}

// NewIntID builds an integer-valued ID.
func NewIntID(n int64) ID { return ID{num: n} }

// NewStringID builds a string-valued ID.
func NewStringID(s string) ID { return ID{str: s, isStr: true} }

// NullID is the absent/JSON-null ID carried by some error responses.
func NullID() ID { return ID{isNull: true} }

// IsValid reports whether id is a concrete (non-null) identifier.
func (id ID) IsValid() bool { return !id.isNull }

// IsString reports whether the ID is string-valued.
func (id ID) IsString() bool { return id.isStr }

// IntValue returns the integer value and true, if the ID is integer-valued.
func (id ID) IntValue() (int64, bool) {
	if id.isNull || id.isStr {
		return 0, false
	}
	return id.num, true
}

// StringValue returns the string value and true, if the ID is string-valued.
func (id ID) StringValue() (string, bool) {
	if id.isNull || !id.isStr {
		return "", false
	}
	return id.str, true
}

// String renders the ID for logging; it is not the wire form.
func (id ID) String() string {
	switch {
	case id.isNull:
		return "<null>"
	case id.isStr:
		return id.str
	default:
		return strconv.FormatInt(id.num, 10)
	}
}

// MarshalJSON encodes the ID as a JSON number, string, or null.
func (id ID) MarshalJSON() ([]byte, error) {
	switch {
	case id.isNull:
		return []byte("null"), nil
	case id.isStr:
		return json.Marshal(id.str)
	default:
		return json.Marshal(id.num)
	}
}

// UnmarshalJSON decodes a JSON number, string, or null into an ID.
func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" || len(data) == 0 {
		*id = NullID()
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("wire: invalid string id: %w", err)
		}
		*id = NewStringID(s)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("wire: invalid numeric id: %w", err)
	}
	*id = NewIntID(n)
	return nil
}
