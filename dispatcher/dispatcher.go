// Package dispatcher is the data-driven JSON-RPC method table shared
// by every JSON-RPC-shaped protocol the gateway speaks (bitcoind_rpc,
// electrum, stratum_v1): each protocol package builds a Table mapping
// method name to a typed Handler, and Dispatch does request
// validation, invocation, and response framing identically across all
// three instead of each protocol hand-rolling its own request loop.
package dispatcher

import (
	"context"
	"encoding/json"

	"github.com/btcsuite/bsd/bserr"
)

// Request is a parsed JSON-RPC request, normalized across the 1.0 and
// 2.0 dialects the three JSON-RPC-shaped protocols use.
type Request struct {
	Version string          // "1.0" or "2.0"
	ID      json.RawMessage // raw null/string/number, nil when absent; see IsNotification
	Method  string
	Params  json.RawMessage
}

// IsNotification reports whether req expects no response: a 2.0
// request with no id, or a 1.0 request whose id is null.
func (r Request) IsNotification() bool {
	if r.Version == "2.0" {
		return r.ID == nil
	}
	return string(r.ID) == "null"
}

// Response is a JSON-RPC response, ready to be marshaled by the
// calling protocol in whatever envelope it uses (bare JSON for
// electrum/stratum, an HTTP body for bitcoind_rpc).
type Response struct {
	Version string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error envelope.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Handler implements one RPC method. params is the raw "params" array
// or object from the request; the handler is responsible for its own
// unmarshaling and argument validation.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Method is one Table entry. Params, when declared, is validated by
// Dispatch before Handler runs: named params are reordered to the
// declared positional order, optional slots are filled from defaults,
// every supplied value is type-checked, and extra trailing positional
// params are tolerated and dropped. A Method with a nil Params does
// its own parameter handling inside Handler.
type Method struct {
	Name    string
	Params  []Param
	Handler Handler
}

// Table is a method name to Method lookup, built once per protocol at
// startup and treated as read-only thereafter.
type Table map[string]Method

// NewTable builds a Table from a list of methods, for the compact
// literal style each protocol package uses to declare its method set.
func NewTable(methods ...Method) Table {
	t := make(Table, len(methods))
	for _, m := range methods {
		t[m.Name] = m
	}
	return t
}

// Dispatch looks up req.Method in t and invokes its handler, building
// a Response, whose ID is always req.ID. If req is a notification (see
// IsNotification), the caller should not write anything back to the
// wire.
//
// A method not present in t resolves to bserr.KindMethodNotFound
// rather than panicking or falling through to a default handler,
// keeping dispatch an explicit table rather than an open-ended
// reflection-based lookup.
func Dispatch(ctx context.Context, t Table, req Request) Response {
	resp := Response{Version: req.Version, ID: req.ID}

	m, ok := t[req.Method]
	if !ok {
		resp.Error = errorOf(bserr.New(bserr.KindMethodNotFound, "unknown method %q", req.Method))
		return resp
	}

	params := req.Params
	if m.Params != nil {
		normalized, err := normalizeParams(m.Params, params)
		if err != nil {
			resp.Error = errorOf(err)
			return resp
		}
		params = normalized
	}

	result, err := m.Handler(ctx, params)
	if err != nil {
		resp.Error = errorOf(err)
		return resp
	}
	resp.Result = result
	return resp
}

func errorOf(err error) *RPCError {
	return &RPCError{
		Code:    bserr.RPCCode(err),
		Message: err.Error(),
	}
}
