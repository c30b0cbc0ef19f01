// Package dispatch builds the method-name-keyed handler table the service
// consumes as an opaque function (spec.md §4.5: "the dispatch table itself
// is generated from the backend interface; the service consumes it as an
// opaque function"). The reflection-based Register/invoke machinery is
// adapted from akhenakh/lspgo's server.typedHandler and
// validateHandlerFunc, generalized so a handler may additionally accept a
// cancel.Token (in place of that package's *jsonrpc2.Conn) for cooperative
// cancellation, and so results/errors come back as (any, *wire.Error)
// instead of a bare error.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/lspforge/lsprt/cancel"
	"github.com/lspforge/lsprt/wire"
)

var (
	ctxType   = reflect.TypeOf((*context.Context)(nil)).Elem()
	tokenType = reflect.TypeOf(cancel.Token{})
	errType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Func is the uniform, already-type-erased shape every registered method is
// reduced to: decode params, run, produce a result or a *wire.Error.
type Func func(ctx context.Context, tok cancel.Token, params json.RawMessage) (any, *wire.Error)

// ElseFunc is the catch-all hook invoked for method names the table does not
// recognize (spec.md §4.5's request_else).
type ElseFunc func(ctx context.Context, method string, params json.RawMessage) (any, error)

// Table is the built dispatch table: method name -> handler.
type Table struct {
	methods map[string]Func
	elseFn  ElseFunc
}

// NewTable builds an empty Table. A nil elseFn defaults to one that always
// returns MethodNotFound.
func NewTable(elseFn ElseFunc) *Table {
	if elseFn == nil {
		elseFn = func(_ context.Context, method string, _ json.RawMessage) (any, error) {
			return nil, wire.ErrMethodNotFound(method)
		}
	}
	return &Table{methods: make(map[string]Func), elseFn: elseFn}
}

// Register validates h's signature and binds it to method. h must have the
// shape:
//
//	func(ctx context.Context [, tok cancel.Token] [, params *P]) ([R,] error)
//
// where P is any JSON-unmarshalable type and R is any JSON-marshalable type.
// Every combination of the bracketed pieces is allowed (this mirrors
// validateHandlerFunc's permissiveness in the teacher package, just with
// cancel.Token standing in for the connection handle). Register panics on an
// invalid signature — this is a wiring-time programmer error, not a runtime
// condition.
func (t *Table) Register(method string, h any) {
	fn, err := bind(h)
	if err != nil {
		panic(fmt.Sprintf("dispatch: registering %q: %v", method, err))
	}
	t.methods[method] = fn
}

// Dispatch runs the handler registered for method, or the catch-all hook if
// none is registered.
func (t *Table) Dispatch(ctx context.Context, tok cancel.Token, method string, params json.RawMessage) (any, *wire.Error) {
	if fn, ok := t.methods[method]; ok {
		return fn(ctx, tok, params)
	}
	result, err := t.elseFn(ctx, method, params)
	if err != nil {
		if rpcErr, ok := err.(*wire.Error); ok {
			return nil, rpcErr
		}
		return nil, wire.Errorf(wire.CodeInternalError, "%v", err)
	}
	return result, nil
}

// Has reports whether method has a registered handler (as opposed to
// falling through to the catch-all).
func (t *Table) Has(method string) bool {
	_, ok := t.methods[method]
	return ok
}

func bind(h any) (Func, error) {
	hType := reflect.TypeOf(h)
	if hType == nil || hType.Kind() != reflect.Func {
		return nil, fmt.Errorf("handler must be a function")
	}
	if hType.NumIn() < 1 || hType.In(0) != ctxType {
		return nil, fmt.Errorf("handler must accept context.Context as its first argument")
	}

	idx := 1
	takesToken := hType.NumIn() > idx && hType.In(idx) == tokenType
	if takesToken {
		idx++
	}

	var paramType reflect.Type
	takesParams := hType.NumIn() > idx
	if takesParams {
		paramType = hType.In(idx)
		if paramType.Kind() == reflect.Ptr {
			paramType = paramType.Elem()
		}
		idx++
	}
	if hType.NumIn() > idx {
		return nil, fmt.Errorf("too many arguments (max ctx, [token], [params])")
	}

	if hType.NumOut() > 2 {
		return nil, fmt.Errorf("too many return values (max result, error)")
	}
	if hType.NumOut() > 0 {
		last := hType.Out(hType.NumOut() - 1)
		if !last.Implements(errType) && hType.NumOut() != 1 {
			return nil, fmt.Errorf("last return value must be error when there are two returns")
		}
	}
	returnsResult := hType.NumOut() == 2 || (hType.NumOut() == 1 && !hType.Out(0).Implements(errType))

	fn := reflect.ValueOf(h)

	return func(ctx context.Context, tok cancel.Token, raw json.RawMessage) (any, *wire.Error) {
		args := make([]reflect.Value, 0, 3)
		args = append(args, reflect.ValueOf(ctx))
		if takesToken {
			args = append(args, reflect.ValueOf(tok))
		}
		if takesParams {
			paramPtr := reflect.New(paramType)
			if len(raw) > 0 && string(raw) != "null" {
				if err := json.Unmarshal(raw, paramPtr.Interface()); err != nil {
					return nil, wire.Errorf(wire.CodeInvalidParams, "invalid params: %v", err)
				}
			}
			argType := hType.In(idx - 1)
			if argType.Kind() == reflect.Ptr {
				args = append(args, paramPtr)
			} else {
				args = append(args, paramPtr.Elem())
			}
		}

		out := fn.Call(args)
		var result any
		var rpcErr *wire.Error
		switch {
		case len(out) == 2:
			if !isNilResult(out[0]) {
				result = out[0].Interface()
			}
			if errVal := out[1].Interface(); errVal != nil {
				rpcErr = toRPCError(errVal.(error))
			}
		case len(out) == 1 && returnsResult:
			result = out[0].Interface()
		case len(out) == 1:
			if errVal := out[0].Interface(); errVal != nil {
				rpcErr = toRPCError(errVal.(error))
			}
		}
		return result, rpcErr
	}, nil
}

// isNilResult reports whether a handler's result return value represents
// "no result" (a nil pointer, map, slice, or interface) rather than a real
// zero value like an empty struct or 0.
func isNilResult(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return v.IsNil()
	default:
		return false
	}
}

func toRPCError(err error) *wire.Error {
	if rpcErr, ok := err.(*wire.Error); ok {
		return rpcErr
	}
	return wire.Errorf(wire.CodeInternalError, "%v", err)
}
