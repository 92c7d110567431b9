package blip

// ConnectionListener receives completion callbacks for a Connection. All
// three methods are invoked on the connection's worker, in the order the
// underlying messages complete (not the order their first frame arrived).
// Implementations must not block indefinitely and may call back into
// Connection.NewRequest/SendMessage re-entrantly; that is the normal
// "reply to a request" pattern.
type ConnectionListener interface {
	// OnRequest is invoked once a complete incoming request has been
	// reassembled.
	OnRequest(conn *Connection, msg *Message)
	// OnResponse is invoked once a complete incoming RPY has been
	// reassembled, after any ReplyListener attached to the corresponding
	// placeholder has already fired.
	OnResponse(conn *Connection, msg *Message)
	// OnError is invoked once a complete incoming ERR has been
	// reassembled, after any ReplyListener attached to the corresponding
	// placeholder has already fired.
	OnError(conn *Connection, msg *Message)
}

// ConnectionListenerFuncs adapts plain functions to ConnectionListener. A
// nil field ignores that callback.
type ConnectionListenerFuncs struct {
	Request  func(conn *Connection, msg *Message)
	Response func(conn *Connection, msg *Message)
	Error    func(conn *Connection, msg *Message)
}

// OnRequest implements ConnectionListener.
func (f *ConnectionListenerFuncs) OnRequest(conn *Connection, msg *Message) {
	if f.Request != nil {
		f.Request(conn, msg)
	}
}

// OnResponse implements ConnectionListener.
func (f *ConnectionListenerFuncs) OnResponse(conn *Connection, msg *Message) {
	if f.Response != nil {
		f.Response(conn, msg)
	}
}

// OnError implements ConnectionListener.
func (f *ConnectionListenerFuncs) OnError(conn *Connection, msg *Message) {
	if f.Error != nil {
		f.Error(conn, msg)
	}
}

// Transport is the minimal contract the connection multiplexer needs from
// a binary message transport. BLIP itself never dials, accepts, or
// terminates TLS; those are the caller's responsibility (e.g. via
// transport/websocket). Send must be safe to call only from the
// connection's single worker goroutine; inbound notifications
// (TransportListener) may arrive concurrently on whatever goroutine the
// transport itself uses.
type Transport interface {
	// Send writes one complete binary frame. It may block (backpressure);
	// the worker treats that as synchronous.
	Send(frame []byte) error
	// Close closes the underlying transport.
	Close() error
}

// TransportListener receives inbound notifications from a Transport. A
// Connection implements this; the code that owns the transport (e.g. the
// read loop in transport/websocket) calls these methods on it.
type TransportListener interface {
	OnBinary(frame []byte)
	OnClose(reason error)
	OnError(err error)
}

// ServerListener observes accept-side connection lifecycle events; it is
// invoked by the boundary adapter, not by the core (see
// transport/websocket.Listener).
type ServerListener interface {
	ConnectionOpened(conn *Connection)
	ConnectionClosed(conn *Connection)
}
