package blip

import "errors"

// Fatal errors: any one of these is connection-terminating. On any of them
// the Connection transitions to Closing, the transport is closed, every
// pending reply completes with ErrConnectionClosed (wrapping the cause),
// and no further listener callbacks fire for partially-assembled messages.
var (
	// ErrShortFrame indicates a frame ended before its declared length was
	// satisfied (truncation at the transport layer).
	ErrShortFrame = errors.New("blip: truncated frame")

	// ErrUnknownType indicates a frame's type bits (low 3 bits of flags) do
	// not name one of the five defined message types.
	ErrUnknownType = errors.New("blip: unknown message type")

	// ErrEmptyFrame indicates the transport delivered a zero-length binary
	// message, which can never be a valid frame (it has no header).
	ErrEmptyFrame = errors.New("blip: empty frame")

	// ErrDuplicateMessageNumber indicates a MSG frame arrived whose number
	// matches an already-completed request on this connection.
	ErrDuplicateMessageNumber = errors.New("blip: duplicate message number")

	// ErrTextMessageReceived indicates the transport delivered a text frame;
	// BLIP only runs over binary frames.
	ErrTextMessageReceived = errors.New("blip: text message on binary-only connection")

	// ErrTransport wraps an error reported by the underlying transport
	// (send failure, unexpected close, etc).
	ErrTransport = errors.New("blip: transport error")

	// ErrBadCompression indicates the compressed stream of a COMPRESSED
	// message could not be inflated.
	ErrBadCompression = errors.New("blip: bad compressed stream")
)

// ErrUnknownReplyNumber is a per-message (recoverable) condition: an RPY or
// ERR frame arrived whose number is not in pendingReplies. It is logged and
// the frame is discarded; the connection is not affected.
var ErrUnknownReplyNumber = errors.New("blip: reply to unknown message number")

// ErrBadErrorCode is a per-message (recoverable) condition: a Message of
// type ERR carries an Error-Code property that does not parse as an
// integer. It surfaces only to a caller that asks for the parsed code.
var ErrBadErrorCode = errors.New("blip: malformed Error-Code property")

// Caller-misuse errors: raised synchronously at the point of misuse; they
// never affect connection state and are never produced by the worker.
var (
	// ErrImmutable indicates a mutator was called on a Message whose
	// IsMutable is false (already sent, or not locally owned).
	ErrImmutable = errors.New("blip: message is immutable")

	// ErrNotMine indicates Send was called on a Message not created
	// locally (IsMine is false).
	ErrNotMine = errors.New("blip: message was not created locally")

	// ErrWrongOwner indicates a Message was handed to a Connection other
	// than the one it was created on.
	ErrWrongOwner = errors.New("blip: message belongs to a different connection")

	// ErrCannotReply indicates NewResponse was called on a Message that is
	// not a request, is flagged NoReply, or already has a response.
	ErrCannotReply = errors.New("blip: cannot create a response for this message")

	// ErrNullField indicates SetProperty was called with an empty key.
	ErrNullField = errors.New("blip: property key missing")

	// ErrCompressionUnsupported indicates a caller requested compression
	// that this build cannot produce. Peers MUST still be able to receive
	// compressed messages regardless of this error.
	ErrCompressionUnsupported = errors.New("blip: compression not supported")
)

// ErrConnectionClosed is the synthetic error delivered to every pending
// reply listener when a Connection closes (cleanly or due to a fatal
// error) before the reply arrived.
var ErrConnectionClosed = errors.New("blip: connection closed")
