// Package rpc implements the client/server request-response
// correlator (spec §4.6): pending calls keyed by (service_id,
// method_id, session_id) with a deadline
// sweeper on the client side, and a method dispatch table with
// return-code mapping on the server side. It generalizes the
// teacher's SDO client/server — a fixed single-object-per-request
// protocol with one in-flight transfer — to an arbitrary
// (service_id, method_id) registry with many concurrent in-flight
// calls.
package rpc

import "github.com/go-someip/someip"

// Result is the outcome surfaced to an RPC client's completion sink.
type Result uint8

const (
	Success Result = iota
	MethodNotFound
	ServiceNotAvailable
	Timeout
	InvalidParameters
	NetworkError
	Cancelled
	WrongInterfaceVersion
	InternalError
)

func (r Result) String() string {
	switch r {
	case Success:
		return "SUCCESS"
	case MethodNotFound:
		return "METHOD_NOT_FOUND"
	case ServiceNotAvailable:
		return "SERVICE_NOT_AVAILABLE"
	case Timeout:
		return "TIMEOUT"
	case InvalidParameters:
		return "INVALID_PARAMETERS"
	case NetworkError:
		return "NETWORK_ERROR"
	case Cancelled:
		return "CANCELLED"
	case WrongInterfaceVersion:
		return "WRONG_INTERFACE_VERSION"
	default:
		return "INTERNAL_ERROR"
	}
}

// resultForReturnCode implements the client-side mapping from spec
// §4.6 ("Completion matching").
func resultForReturnCode(rc someip.ReturnCode) Result {
	switch rc {
	case someip.EOk:
		return Success
	case someip.EUnknownMethod:
		return MethodNotFound
	case someip.ENotReachable:
		return ServiceNotAvailable
	case someip.ETimeout:
		return Timeout
	case someip.EMalformedMessage:
		return InvalidParameters
	case someip.EWrongInterfaceVersion:
		return WrongInterfaceVersion
	default:
		return InternalError
	}
}

// HandlerError is the error taxonomy a server-side Handler may return;
// it maps back onto the wire ReturnCode per spec §4.6 ("Server side").
type HandlerError uint8

const (
	ErrInvalidParameters HandlerError = iota
	ErrMethodNotFound
	ErrServiceNotAvailable
	ErrHandlerTimeout
	ErrHandlerInternal
)

func (e HandlerError) Error() string {
	switch e {
	case ErrInvalidParameters:
		return "rpc: invalid parameters"
	case ErrMethodNotFound:
		return "rpc: method not found"
	case ErrServiceNotAvailable:
		return "rpc: service not available"
	case ErrHandlerTimeout:
		return "rpc: handler timed out"
	default:
		return "rpc: internal error"
	}
}

// returnCodeForHandlerError implements the server-side mapping from
// spec §4.6 ("Handler errors").
func returnCodeForHandlerError(err error) someip.ReturnCode {
	he, ok := err.(HandlerError)
	if !ok {
		return someip.ENotOk
	}
	switch he {
	case ErrInvalidParameters:
		return someip.EMalformedMessage
	case ErrMethodNotFound:
		return someip.EUnknownMethod
	case ErrServiceNotAvailable:
		return someip.ENotReachable
	case ErrHandlerTimeout:
		return someip.ETimeout
	default:
		return someip.ENotOk
	}
}
