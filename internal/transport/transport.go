// Package transport defines the socket abstraction the connection
// manager (pkg/session) programs against. internal/transport/native
// implements it over nhooyr.io/websocket for the headless/native build
// and integration tests; internal/transport/jsws implements it over the
// browser's native WebSocket object via syscall/js for the js/wasm
// build. Neither implementation is imported directly by pkg/session —
// callers depend only on this interface, so reconnect/backoff logic is
// testable against a fake.
package transport

// Handlers are the four socket lifecycle callbacks: on_open, on_close,
// on_error, on_message. All four are invoked from
// whatever goroutine/event-loop the transport uses internally; callers
// that must serialize with other state (pkg/session) hop back onto
// their own single goroutine inside these callbacks.
type Handlers struct {
	OnOpen    func()
	OnClose   func()
	OnError   func(err error)
	OnMessage func(data string)
}

// Socket is a single WebSocket-like connection attempt. A new Socket is
// constructed per connect attempt (the connection manager owns retry
// scheduling); Connect is non-blocking and reports outcomes through
// Handlers. Close is idempotent.
type Socket interface {
	// Connect starts dialing url in the background and returns
	// immediately; Handlers.OnOpen/OnError report the outcome.
	Connect(url string, h Handlers)
	// Send writes one text frame. Safe to call only after OnOpen.
	Send(data string) error
	// Close tears down the connection, if any, and suppresses further
	// callback invocations. Safe to call multiple times.
	Close()
}
