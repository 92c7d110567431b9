package blip

import (
	"strconv"
	"sync"
)

// ReplyListener is invoked exactly once, on the connection's worker, when
// the reply to a specific outgoing request completes (or the connection
// closes before it does).
type ReplyListener interface {
	OnCompleted(msg *Message)
}

// ReplyListenerFunc adapts a plain function to ReplyListener.
type ReplyListenerFunc func(msg *Message)

// OnCompleted implements ReplyListener.
func (f ReplyListenerFunc) OnCompleted(msg *Message) { f(msg) }

// Message is one logical BLIP message: a set of string properties plus an
// opaque body, travelling as one or more frames. A Message is mutable only
// while IsMutable is true, from creation until it is enqueued for sending
// (Send); after that every mutator fails with ErrImmutable. Incoming
// messages are never mutable: they are built by the connection's receive
// path and presented to listeners read-only.
type Message struct {
	mu sync.Mutex

	conn    *Connection
	number  uint32
	msgType MessageType
	bits    uint8 // FlagCompressed | FlagUrgent | FlagNoReply; set by mutators, or copied from an incoming message's first frame

	properties *Properties
	body       []byte

	isMine      bool
	isMutable   bool
	hasResponse bool // request only: NewResponse already called
	closeCause  error

	onReply ReplyListener

	encoder *encoderState
	decoder *decoderState
}

// newOutgoingMessage creates a mutable Message owned by conn. number is
// assigned by the caller (Connection.NewRequest or Message.NewResponse).
func newOutgoingMessage(conn *Connection, number uint32, t MessageType) *Message {
	return &Message{
		conn:       conn,
		number:     number,
		msgType:    t,
		properties: NewProperties(),
		isMine:     true,
		isMutable:  true,
	}
}

// newIncomingMessage creates an immutable placeholder for a message whose
// frames are still arriving.
func newIncomingMessage(conn *Connection, number uint32, t MessageType) *Message {
	return &Message{
		conn:       conn,
		number:     number,
		msgType:    t,
		properties: NewProperties(),
		isMine:     false,
		isMutable:  false,
		decoder:    &decoderState{},
	}
}

// Connection returns the owning connection. The Message holds this only as
// a non-owning reference; it never extends the Connection's lifetime.
func (m *Message) Connection() *Connection { return m.conn }

// Number returns the message's wire number.
func (m *Message) Number() uint32 { return m.number }

// Type returns the message's type (MSG, RPY, or ERR).
func (m *Message) Type() MessageType { return m.msgType }

// IsMine reports whether this Message was created locally.
func (m *Message) IsMine() bool { return m.isMine }

// IsMutable reports whether the creator may still mutate this Message.
func (m *Message) IsMutable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isMutable
}

// Urgent reports whether the URGENT flag is set.
func (m *Message) Urgent() bool { return m.wireFlags().has(FlagUrgent) }

// NoReply reports whether the NOREPLY flag is set.
func (m *Message) NoReply() bool { return m.wireFlags().has(FlagNoReply) }

// Compressed reports whether the COMPRESSED flag is set.
func (m *Message) Compressed() bool { return m.wireFlags().has(FlagCompressed) }

// wireFlags assembles the full flags byte: type bits plus the mutator bits.
// For an outgoing message these are the bits set by SetUrgent/SetNoReply/
// SetCompressed; for an incoming message they are copied from the first
// frame's authoritative bits once the connection's receive path completes
// reassembly (see Message.finalizeIncoming).
func (m *Message) wireFlags() flags {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.decoder != nil {
		return newFlags(m.msgType, uint8(m.decoder.authoritative)&^uint8(flagTypeMask))
	}
	return newFlags(m.msgType, m.bits)
}

// Properties returns the message's properties. For an outgoing message
// these may still change until Send; for an incoming message they are
// final once the message is handed to a listener. The caller must not
// mutate the returned set; use CopyProperties to obtain an independent
// copy.
func (m *Message) Properties() *Properties {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.decoder != nil && m.decoder.properties != nil {
		return m.decoder.properties
	}
	return m.properties
}

// Body returns the message's body bytes. Same finality rules as
// Properties.
func (m *Message) Body() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.decoder != nil {
		return m.decoder.body
	}
	return m.body
}

// SetProperty sets key=value. Fails with ErrImmutable if the message is no
// longer mutable, ErrNullField if the key is empty, ErrBadProperty if key
// or value contains a NUL byte or a non-Latin-1 rune, or
// ErrDuplicateProperty if key is already set (an existing value is not
// replaced).
func (m *Message) SetProperty(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isMutable {
		return ErrImmutable
	}
	if key == "" {
		return ErrNullField
	}
	return m.properties.Set(key, value)
}

// RemoveProperty removes key. Fails with ErrImmutable if the message is no
// longer mutable.
func (m *Message) RemoveProperty(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isMutable {
		return ErrImmutable
	}
	m.properties.Remove(key)
	return nil
}

// ClearProperties removes all properties. Fails with ErrImmutable if the
// message is no longer mutable.
func (m *Message) ClearProperties() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isMutable {
		return ErrImmutable
	}
	m.properties.Clear()
	return nil
}

// CopyProperties replaces this message's properties with a copy of src.
// Fails with ErrImmutable if the message is no longer mutable.
func (m *Message) CopyProperties(src *Properties) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isMutable {
		return ErrImmutable
	}
	m.properties = src.Clone()
	return nil
}

// SetBody sets the message body. Fails with ErrImmutable if the message is
// no longer mutable.
func (m *Message) SetBody(body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isMutable {
		return ErrImmutable
	}
	m.body = body
	return nil
}

// SetUrgent sets or clears the URGENT flag. Fails with ErrImmutable if the
// message is no longer mutable.
func (m *Message) SetUrgent(urgent bool) error { return m.setBit(FlagUrgent, urgent) }

// SetNoReply sets or clears the NOREPLY flag. Only meaningful on a request.
// Fails with ErrImmutable if the message is no longer mutable.
func (m *Message) SetNoReply(noReply bool) error { return m.setBit(FlagNoReply, noReply) }

// SetCompressed sets or clears the COMPRESSED flag. Fails with
// ErrImmutable if the message is no longer mutable.
func (m *Message) SetCompressed(compressed bool) error { return m.setBit(FlagCompressed, compressed) }

func (m *Message) setBit(bit uint8, set bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isMutable {
		return ErrImmutable
	}
	if set {
		m.bits |= bit
	} else {
		m.bits &^= bit
	}
	return nil
}

// beginEncoding snapshots the message's properties, body, and flags into a
// fresh encoder state. Called once, at the moment the message is enqueued,
// so that later mutation attempts (already blocked by isMutable) can never
// race with framing.
func (m *Message) beginEncoding() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	enc, err := newEncoderState(m.number, newFlags(m.msgType, m.bits), m.properties, m.body)
	if err != nil {
		return err
	}
	m.encoder = enc
	return nil
}

// nextFrame returns the message's next outgoing frame, or (nil, false) once
// fully sent. The caller (the connection's scheduler) owns removing a
// fully-sent message from the outgoing queue.
func (m *Message) nextFrame(maxLen int) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.encoder.nextFrame(maxLen)
}

// readFirstFrame feeds the first frame's post-header bytes into the
// message's decoder. f carries the frame's flags (MORECOMING significant).
func (m *Message) readFirstFrame(frameBody []byte, f flags) error {
	if err := m.decoder.readFirstFrame(frameBody, f); err != nil {
		return err
	}
	if m.decoder.complete {
		m.finalizeIncoming()
	}
	return nil
}

// readNextFrame feeds a continuation frame's bytes into the message's
// decoder.
func (m *Message) readNextFrame(frameBody []byte, f flags) error {
	if err := m.decoder.readNextFrame(frameBody, f); err != nil {
		return err
	}
	if m.decoder.complete {
		m.finalizeIncoming()
	}
	return nil
}

// complete reports whether an incoming message has finished reassembly.
func (m *Message) complete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decoder == nil
}

// startedDecoding reports whether readFirstFrame has already been called.
func (m *Message) startedDecoding() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decoder != nil && m.decoder.headerSeen
}

// finalizeIncoming copies the decoder's assembled properties, body, and
// authoritative flags onto the message and drops the decoder, once
// reassembly has completed. Called by the connection's receive path.
func (m *Message) finalizeIncoming() {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.decoder
	m.properties = d.properties
	m.body = d.body
	m.bits = uint8(d.authoritative) &^ uint8(flagTypeMask)
	m.decoder = nil
}

// freeze marks the message immutable. Called by Connection.SendMessage at
// the moment it is enqueued. Idempotent.
func (m *Message) freeze() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isMutable = false
}

// NewResponse creates a mutable reply Message sharing this message's
// connection and number. Valid only on an incoming request that is not
// NOREPLY and does not already have a response. Fails with ErrCannotReply
// otherwise.
func (m *Message) NewResponse() (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isMine || m.msgType != TypeRequest || m.bits&FlagNoReply != 0 || m.hasResponse {
		return nil, ErrCannotReply
	}
	m.hasResponse = true
	reply := newOutgoingMessage(m.conn, m.number, TypeResponse)
	return reply, nil
}

// NewErrorResponse creates a mutable ERR-type response carrying
// Error-Domain and Error-Code, for a handler that wants to report a
// failure instead of answering with NewResponse. The same constraints as
// NewResponse apply.
func (m *Message) NewErrorResponse(domain string, code int) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isMine || m.msgType != TypeRequest || m.bits&FlagNoReply != 0 || m.hasResponse {
		return nil, ErrCannotReply
	}
	m.hasResponse = true
	reply := newOutgoingMessage(m.conn, m.number, TypeError)
	_ = reply.SetProperty("Error-Domain", domain)
	_ = reply.SetProperty("Error-Code", strconv.Itoa(code))
	return reply, nil
}

// Send enqueues the message for sending on its connection. Fails with
// ErrNotMine if the message was not created locally. See
// Connection.SendMessage for the full contract, including the placeholder
// reply returned for requests.
func (m *Message) Send() (*Message, error) {
	if !m.isMine {
		return nil, ErrNotMine
	}
	return m.conn.SendMessage(m)
}

// SetReplyListener attaches a ReplyListener to an outgoing request; it
// fires once when the reply completes. Only meaningful before Send.
func (m *Message) SetReplyListener(l ReplyListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReply = l
}

// replyListener returns the attached ReplyListener, or nil.
func (m *Message) replyListener() ReplyListener {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onReply
}

// setObservedType overrides a placeholder reply's provisional type once the
// first inbound frame reveals whether the peer answered with RPY or ERR.
func (m *Message) setObservedType(t MessageType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgType = t
}

// finalizeClosed completes an incoming message (normally a placeholder
// reply still awaiting frames) with a synthetic closure error, used when
// the connection shuts down before the reply arrived. The message is left
// with an empty body, its type forced to ERR, Error-Domain "BLIP" and
// Error-Code "close"; since that code is not an integer, ToError reports
// ErrBadErrorCode for it. CloseCause returns cause.
func (m *Message) finalizeClosed(cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decoder = nil
	m.msgType = TypeError
	m.properties = NewProperties()
	_ = m.properties.Set("Error-Domain", "BLIP")
	_ = m.properties.Set("Error-Code", "close")
	m.body = nil
	m.closeCause = cause
}

// CloseCause returns the error that caused the connection to close before
// this reply arrived, or nil if the message completed normally.
func (m *Message) CloseCause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCause
}

// ToError returns the Error-Code and Error-Domain properties of an ERR
// message. Fails with ErrCannotReply if the message is not of type ERR,
// and with ErrBadErrorCode if Error-Code is not a valid integer.
func (m *Message) ToError() (code int, domain string, err error) {
	if m.Type() != TypeError {
		return 0, "", ErrCannotReply
	}
	domain, _ = m.Properties().Get("Error-Domain")
	codeStr, _ := m.Properties().Get("Error-Code")
	n, convErr := strconv.Atoi(codeStr)
	if convErr != nil {
		return 0, domain, ErrBadErrorCode
	}
	return n, domain, nil
}

// Equal reports whether m and other refer to the same logical message: the
// same connection identity and the same wire number. Messages on different
// connections are never equal, even if numbers coincide.
func (m *Message) Equal(other *Message) bool {
	if other == nil {
		return false
	}
	return m.conn == other.conn && m.number == other.number
}

// Compare orders two messages sharing a connection by number. Comparing
// messages from different connections is not meaningful; per the BLIP
// design notes this is a deliberate open choice, and Compare returns 0
// without claiming the messages are equal.
func (m *Message) Compare(other *Message) int {
	if m.conn != other.conn {
		return 0
	}
	switch {
	case m.number < other.number:
		return -1
	case m.number > other.number:
		return 1
	default:
		return 0
	}
}
