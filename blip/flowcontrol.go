package blip

// ackKey identifies the flow-control counter for one logical message: its
// type-class (request, vs reply/error) and its number. ACKMSG acknowledges
// request bytes; ACKRPY acknowledges reply/error bytes.
type ackKey struct {
	isReply bool
	number  uint32
}

func ackKeyFor(t MessageType, number uint32) ackKey {
	return ackKey{isReply: t == TypeResponse || t == TypeError, number: number}
}

// Default flow-control constants. BLIP does not fix the window size or
// ACK cadence; this implementation commits to a 128 KiB window with an ACK
// emitted every 32 KiB received. Both are tunable via WithAckPolicy.
const (
	defaultAckWindow   = 128 * 1024
	defaultAckInterval = 32 * 1024
)

// senderFlow tracks, per in-flight outgoing message, how many frame bytes
// (headers included) have been sent and how many the peer has
// acknowledged. A message whose unacked bytes would exceed the window with
// one more frame is skipped by the scheduler until an ACKMSG/ACKRPY frame
// raises bytesAcked.
type senderFlow struct {
	bytesSent  uint32
	bytesAcked uint32
}

func (s *senderFlow) unacked() uint32 { return s.bytesSent - s.bytesAcked }

// receiverFlow tracks, per in-flight incoming message, how many frame bytes
// (headers included) have arrived in total, and how many have arrived since
// the last ACK was emitted.
type receiverFlow struct {
	totalReceived uint32
	sinceLastAck  uint32
}

// flowController owns the per-connection flow-control bookkeeping
// described in the multiplexer's ACKMSG/ACKRPY design contract.
type flowController struct {
	window      uint32
	ackInterval uint32

	sent     map[ackKey]*senderFlow
	received map[ackKey]*receiverFlow
}

func newFlowController(window, ackInterval uint32) *flowController {
	if window == 0 {
		window = defaultAckWindow
	}
	if ackInterval == 0 {
		ackInterval = defaultAckInterval
	}
	return &flowController{
		window:      window,
		ackInterval: ackInterval,
		sent:        make(map[ackKey]*senderFlow),
		received:    make(map[ackKey]*receiverFlow),
	}
}

// canSend reports whether frameLen more bytes may be sent for the given
// message right now without its unacked bytes exceeding the window. ACK
// frames never pass through here (see Connection.sendAck).
func (fc *flowController) canSend(t MessageType, number uint32, frameLen int) bool {
	k := ackKeyFor(t, number)
	s, ok := fc.sent[k]
	if !ok {
		return true
	}
	return s.unacked()+uint32(frameLen) <= fc.window
}

// recordSent notes that a frame of frameLen bytes was just sent for the
// given message.
func (fc *flowController) recordSent(t MessageType, number uint32, frameLen int) {
	k := ackKeyFor(t, number)
	s, ok := fc.sent[k]
	if !ok {
		s = &senderFlow{}
		fc.sent[k] = s
	}
	s.bytesSent += uint32(frameLen)
}

// recordAck applies an ACKMSG/ACKRPY's cumulative byte count to the
// matching outgoing message. An ack for a message with no send-side
// bookkeeping (unknown, or already forgotten) is ignored.
func (fc *flowController) recordAck(isReply bool, number uint32, cumulative uint32) {
	k := ackKey{isReply: isReply, number: number}
	s, ok := fc.sent[k]
	if !ok {
		return
	}
	if cumulative > s.bytesAcked {
		s.bytesAcked = cumulative
	}
}

// forgetSent drops the send-side bookkeeping for a message. The scheduler
// calls it as soon as the message has been fully sent; the receive path
// calls it again when the reply to a request completes.
func (fc *flowController) forgetSent(t MessageType, number uint32) {
	delete(fc.sent, ackKeyFor(t, number))
}

// recordReceived notes that a frame of frameLen bytes arrived for the given
// incoming message, and reports the cumulative total to ACK if this push
// crossed the ackInterval threshold (the caller should then send an
// ACKMSG/ACKRPY frame carrying the returned value).
func (fc *flowController) recordReceived(t MessageType, number uint32, frameLen int) (cumulative uint32, shouldAck bool) {
	k := ackKeyFor(t, number)
	r, ok := fc.received[k]
	if !ok {
		r = &receiverFlow{}
		fc.received[k] = r
	}
	r.totalReceived += uint32(frameLen)
	r.sinceLastAck += uint32(frameLen)
	if r.sinceLastAck >= fc.ackInterval {
		r.sinceLastAck = 0
		return r.totalReceived, true
	}
	return r.totalReceived, false
}

// totalUnacked sums the unacknowledged outgoing bytes across every
// in-flight message, for the bytes-in-flight gauge.
func (fc *flowController) totalUnacked() uint32 {
	var total uint32
	for _, s := range fc.sent {
		total += s.unacked()
	}
	return total
}

// forgetReceived drops bookkeeping for a completed (or abandoned) incoming
// message.
func (fc *flowController) forgetReceived(t MessageType, number uint32) {
	delete(fc.received, ackKeyFor(t, number))
}
