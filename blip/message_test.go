package blip

import (
	"errors"
	"testing"
)

// TestMessage_MutatorsFailAfterFreeze tests that every mutator is gated on
// mutability: all succeed before freeze and all fail with ErrImmutable
// after.
func TestMessage_MutatorsFailAfterFreeze(t *testing.T) {
	c := newConnection(&fakeTransport{})
	m := c.NewRequest()

	mutators := map[string]func() error{
		"SetProperty":     func() error { return m.SetProperty("Profile", "echo") },
		"RemoveProperty":  func() error { return m.RemoveProperty("Profile") },
		"ClearProperties": func() error { return m.ClearProperties() },
		"CopyProperties":  func() error { return m.CopyProperties(NewProperties()) },
		"SetBody":         func() error { return m.SetBody([]byte("x")) },
		"SetUrgent":       func() error { return m.SetUrgent(true) },
		"SetNoReply":      func() error { return m.SetNoReply(true) },
		"SetCompressed":   func() error { return m.SetCompressed(true) },
	}

	for name, fn := range mutators {
		if err := fn(); err != nil {
			t.Errorf("%s before freeze: %v", name, err)
		}
	}

	m.freeze()
	if m.IsMutable() {
		t.Fatal("still mutable after freeze")
	}
	for name, fn := range mutators {
		if err := fn(); !errors.Is(err, ErrImmutable) {
			t.Errorf("%s after freeze: expected ErrImmutable, got %v", name, err)
		}
	}
}

// TestMessage_FlagAccessors tests the Urgent/NoReply/Compressed round trip
// through the flag mutators.
func TestMessage_FlagAccessors(t *testing.T) {
	c := newConnection(&fakeTransport{})
	m := c.NewRequest()
	if m.Urgent() || m.NoReply() || m.Compressed() {
		t.Fatal("flags set on a fresh request")
	}
	_ = m.SetUrgent(true)
	_ = m.SetCompressed(true)
	if !m.Urgent() || !m.Compressed() {
		t.Error("flag mutators did not take")
	}
	_ = m.SetUrgent(false)
	if m.Urgent() {
		t.Error("SetUrgent(false) did not clear the flag")
	}
}

// TestMessage_Numbering tests that NewRequest assigns 1, 2, 3, ... on one
// connection.
func TestMessage_Numbering(t *testing.T) {
	c := newConnection(&fakeTransport{})
	for want := uint32(1); want <= 5; want++ {
		if got := c.NewRequest().Number(); got != want {
			t.Fatalf("request %d numbered %d", want, got)
		}
	}
}

// TestMessage_NewResponse tests reply creation on an incoming request: it
// shares the connection and number, is type RPY, and can be created only
// once.
func TestMessage_NewResponse(t *testing.T) {
	c := newConnection(&fakeTransport{})
	req := completeIncomingRequest(t, c, 7, map[string]string{"Profile": "echo"}, nil)

	reply, err := req.NewResponse()
	if err != nil {
		t.Fatalf("NewResponse: %v", err)
	}
	if reply.Number() != 7 || reply.Type() != TypeResponse || reply.Connection() != c {
		t.Errorf("reply number=%d type=%v", reply.Number(), reply.Type())
	}
	if !reply.IsMine() || !reply.IsMutable() {
		t.Error("reply must be locally owned and mutable")
	}

	if _, err := req.NewResponse(); !errors.Is(err, ErrCannotReply) {
		t.Errorf("second NewResponse: expected ErrCannotReply, got %v", err)
	}
}

// TestMessage_SetPropertyNullKey tests that an empty key is rejected
// before it can reach the wire.
func TestMessage_SetPropertyNullKey(t *testing.T) {
	c := newConnection(&fakeTransport{})
	m := c.NewRequest()
	if err := m.SetProperty("", "value"); !errors.Is(err, ErrNullField) {
		t.Fatalf("expected ErrNullField, got %v", err)
	}
	// An empty value is legal.
	if err := m.SetProperty("Accept", ""); err != nil {
		t.Fatalf("empty value rejected: %v", err)
	}
}

// TestMessage_NewErrorResponse tests the ERR-reply convenience: it carries
// the domain and code and counts as the request's one response.
func TestMessage_NewErrorResponse(t *testing.T) {
	c := newConnection(&fakeTransport{})
	req := completeIncomingRequest(t, c, 9, nil, nil)

	errReply, err := req.NewErrorResponse("HTTP", 404)
	if err != nil {
		t.Fatalf("NewErrorResponse: %v", err)
	}
	if errReply.Type() != TypeError || errReply.Number() != 9 {
		t.Errorf("error reply type=%v number=%d", errReply.Type(), errReply.Number())
	}
	if code, _ := errReply.Properties().Get("Error-Code"); code != "404" {
		t.Errorf("Error-Code=%q", code)
	}
	if domain, _ := errReply.Properties().Get("Error-Domain"); domain != "HTTP" {
		t.Errorf("Error-Domain=%q", domain)
	}
	if _, err := req.NewResponse(); !errors.Is(err, ErrCannotReply) {
		t.Errorf("NewResponse after NewErrorResponse: expected ErrCannotReply, got %v", err)
	}
}

// TestMessage_NewResponseOnOwnRequest tests that a locally created request
// cannot be answered locally.
func TestMessage_NewResponseOnOwnRequest(t *testing.T) {
	c := newConnection(&fakeTransport{})
	m := c.NewRequest()
	if _, err := m.NewResponse(); !errors.Is(err, ErrCannotReply) {
		t.Fatalf("expected ErrCannotReply, got %v", err)
	}
}

// TestMessage_NewResponseOnNoReply tests that a NOREPLY request refuses a
// response.
func TestMessage_NewResponseOnNoReply(t *testing.T) {
	c := newConnection(&fakeTransport{})
	req := newIncomingMessage(c, 3, TypeRequest)
	frame := buildFrame(t, 3, newFlags(TypeRequest, FlagNoReply), nil, nil)
	_, f, n, _ := readFrameHeader(frame)
	if err := req.readFirstFrame(frame[n:], f); err != nil {
		t.Fatal(err)
	}
	if _, err := req.NewResponse(); !errors.Is(err, ErrCannotReply) {
		t.Fatalf("expected ErrCannotReply, got %v", err)
	}
}

// TestMessage_ToError tests Error-Code/Error-Domain extraction and the
// malformed-code path.
func TestMessage_ToError(t *testing.T) {
	c := newConnection(&fakeTransport{})

	errMsg := completeIncomingReplyFrame(t, c, 1, TypeError,
		map[string]string{"Error-Domain": "HTTP", "Error-Code": "404"})
	code, domain, err := errMsg.ToError()
	if err != nil || code != 404 || domain != "HTTP" {
		t.Errorf("ToError = (%d, %q, %v)", code, domain, err)
	}

	bad := completeIncomingReplyFrame(t, c, 2, TypeError,
		map[string]string{"Error-Domain": "HTTP", "Error-Code": "notanumber"})
	if _, _, err := bad.ToError(); !errors.Is(err, ErrBadErrorCode) {
		t.Errorf("expected ErrBadErrorCode, got %v", err)
	}

	rpy := completeIncomingReplyFrame(t, c, 3, TypeResponse, nil)
	if _, _, err := rpy.ToError(); !errors.Is(err, ErrCannotReply) {
		t.Errorf("ToError on RPY: expected ErrCannotReply, got %v", err)
	}
}

// TestMessage_EqualAndCompare tests identity semantics: same connection and
// number means equal; different connections are never equal and compare as
// 0 without meaning equal.
func TestMessage_EqualAndCompare(t *testing.T) {
	c1 := newConnection(&fakeTransport{})
	c2 := newConnection(&fakeTransport{})

	a := c1.NewRequest() // number 1
	b := c1.NewRequest() // number 2
	other := c2.NewRequest()

	if !a.Equal(a) {
		t.Error("message not Equal to itself")
	}
	if a.Equal(b) {
		t.Error("distinct numbers compare Equal")
	}
	if a.Equal(other) {
		t.Error("messages on different connections compare Equal")
	}
	if a.Equal(nil) {
		t.Error("Equal(nil) returned true")
	}

	if a.Compare(b) != -1 || b.Compare(a) != 1 || a.Compare(a) != 0 {
		t.Error("Compare ordering wrong on shared connection")
	}
	if a.Compare(other) != 0 {
		t.Error("cross-connection Compare must report 0")
	}
}

// completeIncomingRequest delivers a single-frame request into c's receive
// path and returns the completed message.
func completeIncomingRequest(t *testing.T, c *Connection, number uint32, props map[string]string, body []byte) *Message {
	t.Helper()
	sink := &listenerRecorder{}
	c.listener = sink
	c.handleInbound(inboundEvent{frame: buildFrame(t, number, newFlags(TypeRequest, 0), props, body)})
	if len(sink.requests) != 1 {
		t.Fatalf("request %d did not complete", number)
	}
	return sink.requests[0]
}

// completeIncomingReplyFrame builds a completed incoming RPY/ERR message by
// feeding a single frame straight into a placeholder's decoder.
func completeIncomingReplyFrame(t *testing.T, c *Connection, number uint32, typ MessageType, props map[string]string) *Message {
	t.Helper()
	m := newIncomingMessage(c, number, typ)
	frame := buildFrame(t, number, newFlags(typ, 0), props, nil)
	_, f, n, _ := readFrameHeader(frame)
	if err := m.readFirstFrame(frame[n:], f); err != nil {
		t.Fatal(err)
	}
	if !m.complete() {
		t.Fatalf("message %d did not complete", number)
	}
	return m
}

// buildFrame encodes a complete single-frame message for tests.
func buildFrame(t *testing.T, number uint32, f flags, props map[string]string, body []byte) []byte {
	t.Helper()
	p := NewProperties()
	for k, v := range props {
		if err := p.Set(k, v); err != nil {
			t.Fatal(err)
		}
	}
	e, err := newEncoderState(number, f, p, body)
	if err != nil {
		t.Fatal(err)
	}
	frame, ok := e.nextFrame(1 << 20)
	if !ok {
		t.Fatal("encoder produced no frame")
	}
	if _, again := e.nextFrame(1 << 20); again {
		t.Fatal("message did not fit one frame")
	}
	return frame
}
