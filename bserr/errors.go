// Package bserr enumerates the error kinds shared across every wire
// protocol the gateway speaks. Each kind is a sentinel that satisfies
// errors.Is, carries the JSON-RPC numeric code the bitcoind/electrum
// protocols echo back, and an HTTP status the REST protocols use when
// framing a non-2xx response.
package bserr

import "fmt"

// Kind identifies one of the enumerated error kinds from the gateway's
// error handling design. It is comparable and safe to use as a map key.
type Kind string

const (
	// Parsing errors.
	KindBadStream        Kind = "bad_stream"
	KindInvalidHash      Kind = "invalid_hash"
	KindInvalidNumber    Kind = "invalid_number"
	KindInvalidArgument  Kind = "invalid_argument"
	KindMissingVersion   Kind = "missing_version"
	KindMissingTarget    Kind = "missing_target"
	KindMissingHash      Kind = "missing_hash"
	KindMissingHeight    Kind = "missing_height"
	KindMissingPosition  Kind = "missing_position"
	KindMissingIDType    Kind = "missing_id_type"
	KindMissingTypeID    Kind = "missing_type_id"
	KindInvalidTarget    Kind = "invalid_target"
	KindInvalidComponent Kind = "invalid_component"
	KindInvalidSubcomp   Kind = "invalid_subcomponent"
	KindInvalidIDType    Kind = "invalid_id_type"
	KindExtraSegment     Kind = "extra_segment"
	KindEmptyPath        Kind = "empty_path"

	// Admission errors.
	KindBadHost         Kind = "bad_host"
	KindForbiddenOrigin Kind = "forbidden_origin"
	KindPoolFilled      Kind = "pool_filled"
	KindNotImplemented  Kind = "not_implemented"

	// Transport errors.
	KindChannelStopped  Kind = "channel_stopped"
	KindChannelTimeout  Kind = "channel_timeout"
	KindChannelOverflow Kind = "channel_overflow"
	KindBadAlloc        Kind = "bad_alloc"
	KindServiceStopped  Kind = "service_stopped"

	// Protocol errors.
	KindNotFound        Kind = "not_found"
	KindServerError     Kind = "server_error"
	KindMethodNotFound  Kind = "method_not_found"
)

// rpcCode holds the JSON-RPC 2.0 numeric code associated with a kind.
// Codes below -32000 follow the JSON-RPC reserved range; application
// codes sit in the -32000..-31000 band, mirroring how bitcoind assigns
// its own RPC_* error codes outside the reserved range.
var rpcCode = map[Kind]int{
	KindBadStream:        -32700,
	KindInvalidHash:      -32602,
	KindInvalidNumber:    -32602,
	KindInvalidArgument:  -32602,
	KindMissingVersion:   -32602,
	KindMissingTarget:    -32602,
	KindMissingHash:      -32602,
	KindMissingHeight:    -32602,
	KindMissingPosition:  -32602,
	KindMissingIDType:    -32602,
	KindMissingTypeID:    -32602,
	KindInvalidTarget:    -32602,
	KindInvalidComponent: -32602,
	KindInvalidSubcomp:   -32602,
	KindInvalidIDType:    -32602,
	KindExtraSegment:     -32602,
	KindEmptyPath:        -32600,
	KindBadHost:          -32001,
	KindForbiddenOrigin:  -32002,
	KindPoolFilled:       -32003,
	KindNotImplemented:   -32004,
	KindChannelStopped:   -32005,
	KindChannelTimeout:   -32006,
	KindChannelOverflow:  -32007,
	KindBadAlloc:         -32008,
	KindServiceStopped:   -32009,
	KindNotFound:         -32601,
	KindServerError:      -32000,
	KindMethodNotFound:   -32601,
}

// httpStatus holds the HTTP status a REST-flavored protocol uses when
// framing an error of this kind as a non-2xx response.
var httpStatus = map[Kind]int{
	KindBadStream:        400,
	KindInvalidHash:      400,
	KindInvalidNumber:    400,
	KindInvalidArgument:  400,
	KindMissingVersion:   400,
	KindMissingTarget:    400,
	KindMissingHash:      400,
	KindMissingHeight:    400,
	KindMissingPosition:  400,
	KindMissingIDType:    400,
	KindMissingTypeID:    400,
	KindInvalidTarget:    400,
	KindInvalidComponent: 400,
	KindInvalidSubcomp:   400,
	KindInvalidIDType:    400,
	KindExtraSegment:     400,
	KindEmptyPath:        400,
	KindBadHost:          403,
	KindForbiddenOrigin:  403,
	KindPoolFilled:       503,
	KindNotImplemented:   501,
	KindChannelStopped:   410,
	KindChannelTimeout:   408,
	KindChannelOverflow:  429,
	KindBadAlloc:         507,
	KindServiceStopped:   503,
	KindNotFound:         404,
	KindServerError:      500,
	KindMethodNotFound:   404,
}

// Error is the concrete error type carried across the gateway. It wraps
// a Kind plus an optional human-readable detail and an optional cause.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

// New builds an Error of the given kind with a formatted detail.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around an underlying cause.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func (e *Error) Error() string {
	if e.Detail != "" && e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, bserr.Sentinel(KindX)) work, and also lets two
// *Error values with the same Kind compare equal regardless of detail.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// Sentinel returns a bare *Error of the given kind, suitable as the
// target of errors.Is.
func Sentinel(kind Kind) *Error { return &Error{Kind: kind} }

// RPCCode returns the JSON-RPC numeric code for an error, defaulting to
// the generic server_error code if err does not carry a known Kind.
func RPCCode(err error) int {
	var be *Error
	if As(err, &be) {
		if code, ok := rpcCode[be.Kind]; ok {
			return code
		}
	}
	return rpcCode[KindServerError]
}

// HTTPStatus returns the HTTP status for an error, defaulting to 500.
func HTTPStatus(err error) int {
	var be *Error
	if As(err, &be) {
		if status, ok := httpStatus[be.Kind]; ok {
			return status
		}
	}
	return 500
}

// KindOf extracts the Kind from err, returning ("", false) if err does
// not carry one.
func KindOf(err error) (Kind, bool) {
	var be *Error
	if As(err, &be) {
		return be.Kind, true
	}
	return "", false
}

// As is a small local wrapper around errors.As specialized to *Error so
// callers in this package don't need to import errors directly; kept
// tiny and unexported-shaped on purpose.
func As(err error, target **Error) bool {
	for err != nil {
		if be, ok := err.(*Error); ok {
			*target = be
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
