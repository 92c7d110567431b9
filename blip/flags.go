package blip

// MessageType identifies the low 3 bits of a Message's flags: what kind of
// message this is and which number space it lives in.
type MessageType uint8

const (
	// TypeRequest is an ordinary request message (MSG).
	TypeRequest MessageType = 0
	// TypeResponse is a successful reply (RPY). Shares its number with the
	// request it answers.
	TypeResponse MessageType = 1
	// TypeError is a failed reply (ERR). Shares its number with the request
	// it answers.
	TypeError MessageType = 2
	// typeAckRequest (ACKMSG) acknowledges bytes received for a request.
	typeAckRequest MessageType = 4
	// typeAckResponse (ACKRPY) acknowledges bytes received for a reply.
	typeAckResponse MessageType = 5
)

func (t MessageType) String() string {
	switch t {
	case TypeRequest:
		return "MSG"
	case TypeResponse:
		return "RPY"
	case TypeError:
		return "ERR"
	case typeAckRequest:
		return "ACKMSG"
	case typeAckResponse:
		return "ACKRPY"
	default:
		return "UNKNOWN"
	}
}

// isValidType reports whether t is one of the five defined message types.
func isValidType(t MessageType) bool {
	switch t {
	case TypeRequest, TypeResponse, TypeError, typeAckRequest, typeAckResponse:
		return true
	default:
		return false
	}
}

// Frame flag bits, layered on top of the 3-bit type field above.
const (
	flagTypeMask   uint8 = 0x07
	FlagCompressed uint8 = 0x08 // message body is gzip-compressed on the wire
	FlagUrgent     uint8 = 0x10 // scheduler should prefer this message
	FlagNoReply    uint8 = 0x20 // request: no reply will be sent
	FlagMoreComing uint8 = 0x40 // more frames for this message will follow
	FlagMeta       uint8 = 0x80 // message is protocol metadata (e.g. an ACK)
)

// flags is the raw 8-bit flags byte of a Message or frame header.
type flags uint8

func newFlags(t MessageType, bits uint8) flags {
	return flags(uint8(t)&flagTypeMask | bits)
}

func (f flags) messageType() MessageType { return MessageType(uint8(f) & flagTypeMask) }
func (f flags) has(bit uint8) bool       { return uint8(f)&bit != 0 }

func (f flags) withBit(bit uint8, set bool) flags {
	if set {
		return flags(uint8(f) | bit)
	}
	return flags(uint8(f) &^ bit)
}

// withoutMoreComing strips FlagMoreComing, used when comparing "the rest of
// the flags must be identical across every frame of a message."
func (f flags) withoutMoreComing() flags {
	return flags(uint8(f) &^ FlagMoreComing)
}
