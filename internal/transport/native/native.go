// Package native implements transport.Socket over a real network
// connection using nhooyr.io/websocket, here used from the dial side.
// This is the transport wired into cmd/kolabpad-sim and the integration
// tests (internal/integrationtest); it cannot be used from a js/wasm build
// because nhooyr.io/websocket depends on net and context deadlines that
// don't exist under GOOS=js.
package native

import (
	"context"
	"sync"

	"nhooyr.io/websocket"

	"github.com/shiv248/kolabpad-client/internal/transport"
	"github.com/shiv248/kolabpad-client/pkg/logger"
)

// Socket is a transport.Socket backed by nhooyr.io/websocket.
type Socket struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// New returns an unconnected Socket.
func New() *Socket {
	return &Socket{}
}

// Connect dials url in a new goroutine and, on success, starts a read
// loop that forwards frames to h.OnMessage until the connection closes
// or Close is called.
func (s *Socket) Connect(url string, h transport.Handlers) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.ctx = ctx
	s.closed = false
	s.mu.Unlock()

	go s.run(ctx, url, h)
}

func (s *Socket) run(ctx context.Context, url string, h transport.Handlers) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		logger.Debug("native transport dial failed: %v", err)
		if h.OnError != nil {
			h.OnError(err)
		}
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	s.conn = conn
	s.mu.Unlock()

	if h.OnOpen != nil {
		h.OnOpen()
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.mu.Lock()
			wasClosed := s.closed
			s.mu.Unlock()
			if wasClosed {
				return
			}
			if h.OnClose != nil {
				h.OnClose()
			}
			return
		}
		if h.OnMessage != nil {
			h.OnMessage(string(data))
		}
	}
}

// Send writes one text frame.
func (s *Socket) Send(data string) error {
	s.mu.Lock()
	conn, ctx := s.conn, s.ctx
	s.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	return conn.Write(ctx, websocket.MessageText, []byte(data))
}

// Close tears down the connection and suppresses further callbacks.
func (s *Socket) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		s.conn.Close(websocket.StatusNormalClosure, "")
	}
}

var errNotConnected = &notConnectedError{}

type notConnectedError struct{}

func (*notConnectedError) Error() string { return "native transport: not connected" }
