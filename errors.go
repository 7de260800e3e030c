package someip

import "errors"

// Error categories per the failure taxonomy: Network, Protocol, Resource,
// Timeout, State. Components wrap these with context using fmt.Errorf
// and %w so callers can still errors.Is against the category.
var (
	// ErrMalformedMessage is returned by the codec when a buffer is too
	// short, or its length field disagrees with the payload it carries.
	ErrMalformedMessage = errors.New("someip: malformed message")

	// ErrWrongProtocolVersion is returned by the codec when byte 12 of
	// the header is not ProtocolVersion.
	ErrWrongProtocolVersion = errors.New("someip: wrong protocol version")

	// ErrWrongMessageType is returned alongside a valid decoded Message
	// when message_type is not one of the known values.
	ErrWrongMessageType = errors.New("someip: wrong message type")

	// ErrBufferOverflow is returned by the stream framer when its
	// accumulation buffer exceeds its configured maximum.
	ErrBufferOverflow = errors.New("someip: stream buffer overflow")

	// ErrMessageTooLarge is returned by the TP sender when a message
	// exceeds max_message_size and must not be segmented.
	ErrMessageTooLarge = errors.New("someip: message too large for TP")

	// ErrInvalidSegment is returned by the TP reassembler for a segment
	// whose offset/length is out of range or whose claimed total length
	// conflicts with an earlier segment of the same transfer.
	ErrInvalidSegment = errors.New("someip: invalid TP segment")

	// ErrReassemblyTimeout names a partial TP transfer that made no
	// progress for longer than the configured reassembly timeout. The
	// TP reassembler does not return it: ReapIdle drops such transfers
	// and logs them.
	ErrReassemblyTimeout = errors.New("someip: TP reassembly timed out")

	// ErrResourceExhausted is returned when a resource cap (concurrent
	// TP transfers, connections, ...) has been reached.
	ErrResourceExhausted = errors.New("someip: resource exhausted")

	// ErrNotStarted / ErrAlreadyStarted guard state-machine misuse of a
	// component's Start/Stop lifecycle.
	ErrNotStarted     = errors.New("someip: component not started")
	ErrAlreadyStarted = errors.New("someip: component already started")

	// ErrMethodExists is returned by the RPC server's Register for a
	// method id that is already registered. ErrUnknownMethod is not
	// returned by the server: a request for an unregistered method is
	// answered on the wire with E_UNKNOWN_METHOD.
	ErrUnknownMethod = errors.New("someip: unknown method")
	ErrMethodExists  = errors.New("someip: method already registered")

	// ErrCallCancelled names a call cancelled before a terminal response
	// arrived. The RPC client reports that outcome to the completion
	// sink as the Cancelled Result, not as this error.
	ErrCallCancelled = errors.New("someip: call cancelled")

	// ErrCallTimeout names a call expired by the deadline sweeper. The
	// RPC client reports that outcome to the completion sink as the
	// Timeout Result, not as this error.
	ErrCallTimeout = errors.New("someip: call timed out")

	// ErrNetwork wraps transport send/receive/connect failures.
	ErrNetwork = errors.New("someip: network error")
)
