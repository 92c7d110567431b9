package blip

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// defaultMaxFrameSize is MAX_FRAME_SIZE: the largest chunk of payload
// bytes the scheduler asks an encoder for in one frame.
const defaultMaxFrameSize = 0x8000

// State is a Connection's lifecycle state.
type State int32

const (
	// StateOpen is the normal operating state.
	StateOpen State = iota
	// StateClosing means a local close, transport close, or fatal error
	// has been observed and the worker is draining.
	StateClosing
	// StateClosed means the worker has exited and all tables are empty.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Option configures a Connection at construction time.
type Option func(*Connection)

// WithListener attaches the ConnectionListener that receives completed
// request/response/error callbacks.
func WithListener(l ConnectionListener) Option {
	return func(c *Connection) { c.listener = l }
}

// WithLogger attaches a structured logger. The default is a disabled
// logger, so the core is silent unless a caller opts in.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Connection) { c.log = log }
}

// WithMaxFrameSize overrides MAX_FRAME_SIZE (default 0x8000).
func WithMaxFrameSize(n int) Option {
	return func(c *Connection) {
		if n > 0 {
			c.maxFrameSize = n
		}
	}
}

// WithAckPolicy overrides the flow-control window and ACK cadence (defaults
// 128 KiB / 32 KiB).
func WithAckPolicy(window, interval uint32) Option {
	return func(c *Connection) { c.flow = newFlowController(window, interval) }
}

// WithMetrics overrides the Prometheus collectors a Connection reports to.
// Pass nil to disable metrics entirely.
func WithMetrics(m *connMetrics) Option {
	return func(c *Connection) { c.metrics = m }
}

type inboundEvent struct {
	frame        []byte
	closed       bool
	closeReason  error
	transportErr error
}

// Connection is one BLIP session layered over a Transport. All mutation of
// its reassembly tables, outgoing queue, and lifecycle state is serialized
// onto a single worker goroutine; Transport notifications (OnBinary,
// OnClose, OnError) may arrive on any goroutine and are handed to the
// worker through a channel.
type Connection struct {
	id           string
	transport    Transport
	listener     ConnectionListener
	log          zerolog.Logger
	metrics      *connMetrics
	maxFrameSize int
	flow         *flowController

	mu                sync.Mutex
	state             State
	nextNumber        uint32
	outQueue          []*Message
	inRequests        map[uint32]*Message
	pendingReplies    map[uint32]*Message
	completedRequests map[uint32]bool

	inboundCh  chan inboundEvent
	closeReqCh chan struct{}
	wakeCh     chan struct{}
	closeDone  chan struct{}
}

// NewConnection creates an open Connection driving transport, and starts
// its worker goroutine immediately.
func NewConnection(transport Transport, opts ...Option) *Connection {
	c := newConnection(transport, opts...)
	go c.run()
	return c
}

// newConnection builds a Connection without starting its worker. Tests use
// this directly to drive scheduler passes and the receive path one step at
// a time.
func newConnection(transport Transport, opts ...Option) *Connection {
	c := &Connection{
		id:                uuid.NewString(),
		transport:         transport,
		log:               disabledLogger,
		metrics:           defaultMetrics,
		maxFrameSize:      defaultMaxFrameSize,
		flow:              newFlowController(0, 0),
		state:             StateOpen,
		nextNumber:        1,
		inRequests:        make(map[uint32]*Message),
		pendingReplies:    make(map[uint32]*Message),
		completedRequests: make(map[uint32]bool),
		inboundCh:         make(chan inboundEvent, 64),
		closeReqCh:        make(chan struct{}, 1),
		wakeCh:            make(chan struct{}, 1),
		closeDone:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns a short identifier for this connection, used in log fields and
// metric labels.
func (c *Connection) ID() string { return c.id }

// Done returns a channel that is closed once the connection's worker has
// fully shut down (State() == StateClosed).
func (c *Connection) Done() <-chan struct{} { return c.closeDone }

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// NewRequest allocates a new, mutable outgoing request Message with the
// next available number. It is not enqueued until Send is called.
func (c *Connection) NewRequest() *Message {
	c.mu.Lock()
	n := c.nextNumber
	c.nextNumber++
	c.mu.Unlock()
	return newOutgoingMessage(c, n, TypeRequest)
}

// SendMessage validates and enqueues m. It fails with ErrNotMine if m was
// not created locally, ErrWrongOwner if m belongs to a different
// Connection, and ErrConnectionClosed if the connection is no longer open.
// For a request that is not NOREPLY, it returns the placeholder reply
// Message that will be populated as RPY/ERR frames arrive; otherwise it
// returns nil.
func (c *Connection) SendMessage(m *Message) (*Message, error) {
	if !m.IsMine() {
		return nil, ErrNotMine
	}
	if m.Connection() != c {
		return nil, ErrWrongOwner
	}

	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	c.mu.Unlock()

	if err := m.beginEncoding(); err != nil {
		return nil, err
	}

	var placeholder *Message
	isUnacknowledgedRequest := m.Type() == TypeRequest && !m.NoReply()
	if isUnacknowledgedRequest {
		placeholder = newIncomingMessage(c, m.Number(), TypeResponse)
		if rl := m.replyListener(); rl != nil {
			placeholder.SetReplyListener(rl)
		}
	}

	m.freeze()

	c.mu.Lock()
	c.outQueue = append(c.outQueue, m)
	if placeholder != nil {
		c.pendingReplies[m.Number()] = placeholder
	}
	c.mu.Unlock()

	c.wake()

	return placeholder, nil
}

// Close requests an orderly shutdown and blocks until the worker has
// finished draining. It is safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	done := c.state == StateClosed
	c.mu.Unlock()
	if !done {
		select {
		case c.closeReqCh <- struct{}{}:
		case <-c.closeDone:
		}
	}
	<-c.closeDone
	return nil
}

func (c *Connection) wake() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}

// OnBinary implements TransportListener: it is called by the transport
// whenever a binary frame arrives. It may be called from any goroutine.
func (c *Connection) OnBinary(frame []byte) {
	select {
	case c.inboundCh <- inboundEvent{frame: frame}:
	case <-c.closeDone:
	}
}

// OnClose implements TransportListener: it is called when the transport
// closes, cleanly or not.
func (c *Connection) OnClose(reason error) {
	select {
	case c.inboundCh <- inboundEvent{closed: true, closeReason: reason}:
	case <-c.closeDone:
	}
}

// OnError implements TransportListener: it is called when the transport
// reports an unrecoverable error.
func (c *Connection) OnError(err error) {
	select {
	case c.inboundCh <- inboundEvent{transportErr: err}:
	case <-c.closeDone:
	}
}

// run is the connection's single worker goroutine: it owns every table
// above and is the only goroutine that ever calls transport.Send.
func (c *Connection) run() {
	defer close(c.closeDone)
	for {
		c.mu.Lock()
		state := c.state
		c.mu.Unlock()
		if state != StateOpen {
			return
		}

		select {
		case ev := <-c.inboundCh:
			c.handleInbound(ev)
			continue
		case <-c.closeReqCh:
			c.shutdown(nil)
			continue
		default:
		}

		c.mu.Lock()
		hasWork := len(c.outQueue) > 0
		c.mu.Unlock()

		if hasWork && c.sendOnePass() {
			continue
		}

		// Queue empty, or everything still queued is blocked on its
		// flow-control window: sleep until a frame, an ack, or new work
		// arrives.
		select {
		case ev := <-c.inboundCh:
			c.handleInbound(ev)
		case <-c.closeReqCh:
			c.shutdown(nil)
		case <-c.wakeCh:
		}
	}
}

// sendOnePass performs exactly one scheduler pass: urgent messages in
// insertion order, then non-urgent messages in insertion order, each
// asked for exactly one frame. A message whose flow-control window is
// currently full is skipped (left queued) for this pass. Messages
// enqueued mid-pass are folded back in and visible starting the next pass.
// It reports whether the pass made progress (sent a frame or retired a
// fully-sent message); false means everything queued is window-blocked.
func (c *Connection) sendOnePass() bool {
	c.mu.Lock()
	snapshot := append([]*Message(nil), c.outQueue...)
	n := len(snapshot)
	c.mu.Unlock()

	var urgent, normal []*Message
	for _, m := range snapshot {
		if m.Urgent() {
			urgent = append(urgent, m)
		} else {
			normal = append(normal, m)
		}
	}
	ordered := append(urgent, normal...)

	progress := false
	remaining := make([]*Message, 0, n)
	for _, m := range ordered {
		if !c.flow.canSend(m.Type(), m.Number(), c.maxFrameSize) {
			remaining = append(remaining, m)
			if c.metrics != nil {
				c.metrics.ackWindowStalls.WithLabelValues(c.id).Inc()
			}
			continue
		}
		frame, ok := m.nextFrame(c.maxFrameSize)
		if !ok {
			c.flow.forgetSent(m.Type(), m.Number())
			if c.metrics != nil {
				c.metrics.messagesComplete.WithLabelValues(c.id, "sent").Inc()
			}
			progress = true
			continue
		}
		if err := c.transport.Send(frame); err != nil {
			c.shutdown(fmt.Errorf("%w: %v", ErrTransport, err))
			return true
		}
		progress = true
		c.flow.recordSent(m.Type(), m.Number(), len(frame))
		if c.metrics != nil {
			c.metrics.framesSent.WithLabelValues(c.id).Inc()
			c.metrics.bytesInFlight.WithLabelValues(c.id).Set(float64(c.flow.totalUnacked()))
		}
		remaining = append(remaining, m)
	}

	c.mu.Lock()
	c.outQueue = append(remaining, c.outQueue[n:]...)
	c.mu.Unlock()
	return progress
}

// handleInbound processes one event delivered by the transport: a frame, a
// close notification, or a transport error.
func (c *Connection) handleInbound(ev inboundEvent) {
	if ev.transportErr != nil {
		c.shutdown(fmt.Errorf("%w: %v", ErrTransport, ev.transportErr))
		return
	}
	if ev.closed {
		c.shutdown(ev.closeReason)
		return
	}
	if len(ev.frame) == 0 {
		c.shutdown(ErrEmptyFrame)
		return
	}
	if c.metrics != nil {
		c.metrics.framesReceived.WithLabelValues(c.id).Inc()
	}

	number, f, n, err := readFrameHeader(ev.frame)
	if err != nil {
		c.shutdown(err)
		return
	}
	rest := ev.frame[n:]
	t := f.messageType()
	if !isValidType(t) {
		c.shutdown(ErrUnknownType)
		return
	}

	switch t {
	case TypeRequest:
		c.handleRequestFrame(number, f, rest, len(ev.frame))
	case TypeResponse, TypeError:
		c.handleReplyFrame(t, number, f, rest, len(ev.frame))
	case typeAckRequest, typeAckResponse:
		c.handleAckFrame(t, number, rest)
	}
}

func (c *Connection) handleRequestFrame(number uint32, f flags, rest []byte, frameLen int) {
	c.mu.Lock()
	msg, exists := c.inRequests[number]
	alreadyCompleted := c.completedRequests[number]
	c.mu.Unlock()

	var err error
	if !exists {
		if alreadyCompleted {
			c.shutdown(ErrDuplicateMessageNumber)
			return
		}
		msg = newIncomingMessage(c, number, TypeRequest)
		c.mu.Lock()
		c.inRequests[number] = msg
		c.mu.Unlock()
		err = msg.readFirstFrame(rest, f)
	} else {
		err = msg.readNextFrame(rest, f)
	}
	if err != nil {
		c.shutdown(err)
		return
	}

	if cumulative, shouldAck := c.flow.recordReceived(TypeRequest, number, frameLen); shouldAck {
		c.sendAck(false, number, cumulative)
	}

	if msg.complete() {
		c.mu.Lock()
		delete(c.inRequests, number)
		c.completedRequests[number] = true
		c.mu.Unlock()
		c.flow.forgetReceived(TypeRequest, number)
		if c.metrics != nil {
			c.metrics.messagesComplete.WithLabelValues(c.id, "received").Inc()
		}
		if c.listener != nil {
			c.listener.OnRequest(c, msg)
		}
	}
}

func (c *Connection) handleReplyFrame(t MessageType, number uint32, f flags, rest []byte, frameLen int) {
	c.mu.Lock()
	placeholder, ok := c.pendingReplies[number]
	c.mu.Unlock()
	if !ok {
		c.log.Warn().Err(ErrUnknownReplyNumber).Uint32("number", number).Msg("blip: dropping reply frame")
		return
	}

	var err error
	if !placeholder.startedDecoding() {
		placeholder.setObservedType(t)
		err = placeholder.readFirstFrame(rest, f)
	} else {
		err = placeholder.readNextFrame(rest, f)
	}
	if err != nil {
		c.shutdown(err)
		return
	}

	if cumulative, shouldAck := c.flow.recordReceived(t, number, frameLen); shouldAck {
		c.sendAck(true, number, cumulative)
	}

	if placeholder.complete() {
		c.mu.Lock()
		delete(c.pendingReplies, number)
		c.mu.Unlock()
		c.flow.forgetReceived(t, number)
		c.flow.forgetSent(TypeRequest, number)
		if c.metrics != nil {
			c.metrics.messagesComplete.WithLabelValues(c.id, "received").Inc()
		}
		if rl := placeholder.replyListener(); rl != nil {
			rl.OnCompleted(placeholder)
		}
		if c.listener != nil {
			if placeholder.Type() == TypeResponse {
				c.listener.OnResponse(c, placeholder)
			} else {
				c.listener.OnError(c, placeholder)
			}
		}
	}
}

func (c *Connection) handleAckFrame(t MessageType, number uint32, rest []byte) {
	cumulative, _, err := uvarint(rest)
	if err != nil {
		c.shutdown(err)
		return
	}
	c.flow.recordAck(t == typeAckResponse, number, cumulative)
	if c.metrics != nil {
		c.metrics.bytesInFlight.WithLabelValues(c.id).Set(float64(c.flow.totalUnacked()))
	}
	c.wake()
}

// sendAck writes an ACKMSG/ACKRPY meta-frame directly: these are
// one-shot, single-frame, have no properties/body, and are never subject to
// the round-robin scheduler or flow control themselves.
func (c *Connection) sendAck(isReply bool, number uint32, cumulative uint32) {
	t := typeAckRequest
	if isReply {
		t = typeAckResponse
	}
	f := newFlags(t, FlagMeta)
	buf := writeFrameHeader(nil, number, f)
	buf = putUvarint(buf, cumulative)
	if err := c.transport.Send(buf); err != nil {
		c.shutdown(fmt.Errorf("%w: %v", ErrTransport, err))
		return
	}
	if c.metrics != nil {
		c.metrics.framesSent.WithLabelValues(c.id).Inc()
	}
}

// shutdown transitions the connection to Closing then Closed: it closes
// the transport, completes every pending reply with ErrConnectionClosed
// (wrapping cause, if any), clears the reassembly tables without invoking
// OnRequest, and marks the connection Closed. It is only ever called from
// the worker goroutine.
func (c *Connection) shutdown(cause error) {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	pending := make([]*Message, 0, len(c.pendingReplies))
	for _, m := range c.pendingReplies {
		pending = append(pending, m)
	}
	c.pendingReplies = make(map[uint32]*Message)
	c.inRequests = make(map[uint32]*Message)
	c.mu.Unlock()

	if cause != nil {
		c.log.Error().Err(cause).Str("connection", c.id).Msg("blip: connection closing after fatal error")
	}
	_ = c.transport.Close()

	closedErr := ErrConnectionClosed
	if cause != nil {
		closedErr = fmt.Errorf("%w: %v", ErrConnectionClosed, cause)
	}
	for _, m := range pending {
		m.finalizeClosed(closedErr)
		if rl := m.replyListener(); rl != nil {
			rl.OnCompleted(m)
		}
	}

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
}
