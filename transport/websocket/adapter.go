// Package websocket adapts a live WebSocket connection (via
// github.com/gorilla/websocket) to the blip.Transport/TransportListener
// contract. The blip package never dials or accepts sockets itself; this
// package is the boundary glue that does.
package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/coregx/blip/blip"
)

// ErrTextFrame is reported to the Connection (as a fatal transport error)
// when the peer sends a text WebSocket frame; BLIP only runs over binary.
var ErrTextFrame = blip.ErrTextMessageReceived

// socketTransport implements blip.Transport over one *websocket.Conn.
type socketTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

func (s *socketTransport) Send(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (s *socketTransport) Close() error {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}

// Wrap adapts an already-established *websocket.Conn into a blip.Connection
// and starts the background read loop that feeds it frames. It is the
// common path for both Dial and server-side Accept.
func Wrap(wsConn *websocket.Conn, opts ...blip.Option) *blip.Connection {
	t := &socketTransport{conn: wsConn}
	conn := blip.NewConnection(t, opts...)
	go readLoop(wsConn, conn)
	return conn
}

// readLoop is the one goroutine per socket that the transport uses to
// deliver inbound frames; it is the "whatever thread the transport uses"
// the core's concurrency model expects alongside the connection's own
// worker.
func readLoop(wsConn *websocket.Conn, conn *blip.Connection) {
	for {
		messageType, data, err := wsConn.ReadMessage()
		if err != nil {
			conn.OnClose(err)
			return
		}
		switch messageType {
		case websocket.BinaryMessage:
			conn.OnBinary(data)
		case websocket.TextMessage:
			conn.OnError(ErrTextFrame)
			return
		default:
			// Ping/Pong/Close are handled internally by gorilla/websocket's
			// ReadMessage; nothing else reaches here.
		}
	}
}

// DialOptions configures an outgoing WebSocket dial.
type DialOptions struct {
	// Subprotocol, if set, is offered via Sec-WebSocket-Protocol.
	Subprotocol string
	// HandshakeTimeout bounds the WebSocket upgrade handshake.
	HandshakeTimeout time.Duration
}

// Dial opens a WebSocket connection to url and wraps it as a blip.Connection.
func Dial(url string, dialOpts DialOptions, opts ...blip.Option) (*blip.Connection, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: dialOpts.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	header := http.Header{}
	if dialOpts.Subprotocol != "" {
		dialer.Subprotocols = []string{dialOpts.Subprotocol}
	}
	wsConn, _, err := dialer.Dial(url, header)
	if err != nil {
		return nil, err
	}
	return Wrap(wsConn, opts...), nil
}

// ListenerOptions configures a server-side Listener.
type ListenerOptions struct {
	// CheckOrigin, if set, is passed through to the underlying upgrader.
	CheckOrigin func(r *http.Request) bool
	// Logger is used for accept-loop diagnostics (upgrade failures, etc).
	Logger zerolog.Logger
	// ConnectionOptions are applied to every accepted blip.Connection.
	ConnectionOptions []blip.Option
}

// Listener upgrades incoming HTTP requests to WebSocket and starts one
// blip.Connection per accepted socket, tracking the live set until each
// connection closes.
type Listener struct {
	upgrader websocket.Upgrader
	log      zerolog.Logger
	connOpts []blip.Option

	serverListener blip.ServerListener

	mu    sync.Mutex
	conns map[string]*blip.Connection
}

// NewListener creates a Listener ready to be used as an http.Handler.
func NewListener(sl blip.ServerListener, opts ListenerOptions) *Listener {
	return &Listener{
		upgrader: websocket.Upgrader{
			CheckOrigin: opts.CheckOrigin,
		},
		log:            opts.Logger,
		connOpts:       opts.ConnectionOptions,
		serverListener: sl,
		conns:          make(map[string]*blip.Connection),
	}
}

// ServeHTTP implements http.Handler: it upgrades the request and starts a
// blip.Connection over the resulting socket.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.Error().Err(err).Msg("websocket: upgrade failed")
		return
	}

	id := uuid.NewString()
	opts := append(append([]blip.Option(nil), l.connOpts...), blip.WithLogger(l.log))
	conn := Wrap(wsConn, opts...)

	l.mu.Lock()
	l.conns[id] = conn
	l.mu.Unlock()

	if l.serverListener != nil {
		l.serverListener.ConnectionOpened(conn)
	}

	go l.watchClose(id, conn)
}

// watchClose removes a connection from the listener's table and notifies
// ServerListener once the connection has fully closed.
func (l *Listener) watchClose(id string, conn *blip.Connection) {
	<-conn.Done()
	l.mu.Lock()
	delete(l.conns, id)
	l.mu.Unlock()
	if l.serverListener != nil {
		l.serverListener.ConnectionClosed(conn)
	}
}

// Connections returns the currently open connections accepted by this
// Listener.
func (l *Listener) Connections() []*blip.Connection {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*blip.Connection, 0, len(l.conns))
	for _, c := range l.conns {
		out = append(out, c)
	}
	return out
}

// Close closes every connection currently accepted by this Listener.
func (l *Listener) Close() error {
	l.mu.Lock()
	conns := make([]*blip.Connection, 0, len(l.conns))
	for _, c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}
