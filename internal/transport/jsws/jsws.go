//go:build js && wasm

// Package jsws implements transport.Socket over the browser's native
// WebSocket object, reached through syscall/js. It follows the same
// wrap/unwrap idiom cmd/ot-wasm-bridge uses to bridge Go values and JS
// callables (js.FuncOf for callbacks, js.ValueOf/js.Global for
// construction) rather than inventing a new one.
package jsws

import (
	"sync"
	"syscall/js"

	"github.com/shiv248/kolabpad-client/internal/transport"
)

// Socket is a transport.Socket backed by a browser WebSocket instance.
type Socket struct {
	mu      sync.Mutex
	ws      js.Value
	closed  bool
	onOpen  js.Func
	onClose js.Func
	onError js.Func
	onMsg   js.Func
}

// New returns an unconnected Socket.
func New() *Socket {
	return &Socket{}
}

// Connect constructs `new WebSocket(url)` and wires its four lifecycle
// events to h.
func (s *Socket) Connect(url string, h transport.Handlers) {
	ws := js.Global().Get("WebSocket").New(url)

	s.mu.Lock()
	s.ws = ws
	s.closed = false
	s.mu.Unlock()

	s.onOpen = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if h.OnOpen != nil {
			h.OnOpen()
		}
		return nil
	})
	s.onClose = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		s.mu.Lock()
		wasClosed := s.closed
		s.mu.Unlock()
		if !wasClosed && h.OnClose != nil {
			h.OnClose()
		}
		return nil
	})
	s.onError = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if h.OnError != nil {
			h.OnError(errSocketError)
		}
		return nil
	})
	s.onMsg = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) == 0 || h.OnMessage == nil {
			return nil
		}
		data := args[0].Get("data")
		if data.Type() == js.TypeString {
			h.OnMessage(data.String())
		}
		return nil
	})

	ws.Call("addEventListener", "open", s.onOpen)
	ws.Call("addEventListener", "close", s.onClose)
	ws.Call("addEventListener", "error", s.onError)
	ws.Call("addEventListener", "message", s.onMsg)
}

// Send writes one text frame via WebSocket.send.
func (s *Socket) Send(data string) error {
	s.mu.Lock()
	ws, closed := s.ws, s.closed
	s.mu.Unlock()
	if closed || ws.IsUndefined() {
		return errNotConnected
	}
	ws.Call("send", data)
	return nil
}

// Close calls WebSocket.close and releases the registered JS callbacks.
func (s *Socket) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if !s.ws.IsUndefined() {
		s.ws.Call("close")
	}
	for _, fn := range []js.Func{s.onOpen, s.onClose, s.onError, s.onMsg} {
		fn.Release()
	}
}

var (
	errSocketError = errString("jsws: socket error")
	errNotConnected = errString("jsws: not connected")
)

type errString string

func (e errString) Error() string { return string(e) }
