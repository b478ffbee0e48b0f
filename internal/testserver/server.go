package testserver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/shiv248/kolabpad-client/internal/protocol"
	"github.com/shiv248/kolabpad-client/pkg/logger"
)

const (
	defaultMaxDocumentSize     = 10 << 20
	defaultBroadcastBufferSize = 16
)

// Server is an http.Handler serving one WebSocket endpoint per document
// id, with no database persister and no REST OTP endpoints — persistence
// is an out-of-scope external collaborator for this client.
type Server struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	mux       *http.ServeMux
}

// NewServer creates an empty in-memory document server.
func NewServer() *Server {
	s := &Server{sessions: make(map[string]*Session)}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/api/socket/", s.handleSocket)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Session returns the named document's session, creating it if absent.
func (s *Server) Session(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	sess := NewSession(defaultMaxDocumentSize, defaultBroadcastBufferSize)
	s.sessions[id] = sess
	return sess
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	docID := r.URL.Path[len("/api/socket/"):]
	if docID == "" {
		http.Error(w, "document id required", http.StatusBadRequest)
		return
	}

	sess := s.Session(docID)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{CompressionMode: websocket.CompressionDisabled})
	if err != nil {
		logger.Error("testserver: upgrade failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	h := newConnHandler(sess, conn)
	if err := h.run(r.Context()); err != nil {
		logger.Debug("testserver: connection %d ended: %v", h.userID, err)
	}
}

// connHandler is one client connection's message loop.
type connHandler struct {
	userID uint64
	sess   *Session
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	sendMu sync.Mutex
}

func newConnHandler(sess *Session, conn *websocket.Conn) *connHandler {
	ctx, cancel := context.WithCancel(context.Background())
	return &connHandler{
		userID: sess.NextUserID(),
		sess:   sess,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}
}

// readResult carries one decoded client frame or the read error that
// ended the pump goroutine below.
type readResult struct {
	msg *protocol.ClientMsg
	err error
}

// run drives one connection. Reads are pumped into a channel on their
// own goroutine so the main loop can select on the client's own frames
// and the document's notify channel at the same time, so an idle
// connection still learns about other peers' edits promptly instead of
// only between its own blocking reads.
func (c *connHandler) run(ctx context.Context) error {
	defer c.cleanup()

	revision, err := c.sendInitial()
	if err != nil {
		return fmt.Errorf("send initial: %w", err)
	}

	updatesDone := make(chan struct{})
	go c.broadcastUpdates(updatesDone)

	msgCh := make(chan readResult, 1)
	go c.readPump(ctx, msgCh)

	for {
		if c.sess.Revision() > revision {
			newRev, err := c.sendHistory(revision)
			if err != nil {
				return fmt.Errorf("send history: %w", err)
			}
			revision = newRev
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ctx.Done():
			return c.ctx.Err()
		case <-c.sess.NotifyChannel():
			// A new operation landed (possibly from another connection);
			// loop back to the revision check above before reading again.
		case res := <-msgCh:
			if res.err != nil {
				if websocket.CloseStatus(res.err) == websocket.StatusNormalClosure {
					return nil
				}
				return fmt.Errorf("read message: %w", res.err)
			}
			if err := c.handleMessage(res.msg); err != nil {
				return err
			}
		}
	}
}

func (c *connHandler) readPump(ctx context.Context, out chan<- readResult) {
	for {
		var msg protocol.ClientMsg
		err := wsjson.Read(ctx, c.conn, &msg)
		select {
		case out <- readResult{msg: &msg, err: err}:
		case <-c.ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *connHandler) sendInitial() (int, error) {
	if err := c.send(protocol.NewIdentityMsg(c.userID)); err != nil {
		return 0, err
	}

	ops, lang, visibility, users, cursors := c.sess.GetInitialState()

	if len(ops) > 0 {
		if err := c.send(protocol.NewHistoryMsg(0, ops)); err != nil {
			return 0, err
		}
	}
	if lang != nil {
		if err := c.send(protocol.NewMetaMsg(*lang, visibility, protocol.SystemUserID, "")); err != nil {
			return 0, err
		}
	}
	for id, info := range users {
		infoCopy := info
		if err := c.send(protocol.NewUserInfoMsg(id, &infoCopy)); err != nil {
			return 0, err
		}
	}
	for id, data := range cursors {
		if err := c.send(protocol.NewUserCursorMsg(id, data)); err != nil {
			return 0, err
		}
	}

	return len(ops), nil
}

func (c *connHandler) sendHistory(start int) (int, error) {
	ops := c.sess.GetHistory(start)
	if len(ops) > 0 {
		if err := c.send(protocol.NewHistoryMsg(start, ops)); err != nil {
			return start, err
		}
	}
	return start + len(ops), nil
}

func (c *connHandler) handleMessage(msg *protocol.ClientMsg) error {
	switch {
	case msg.Edit != nil:
		if err := c.sess.ApplyEdit(c.userID, msg.Edit.Revision, msg.Edit.Operation); err != nil {
			return fmt.Errorf("apply edit: %w", err)
		}
	case msg.SetMeta != nil:
		name := c.userName()
		c.sess.SetMeta(msg.SetMeta.Language, msg.SetMeta.Visibility, c.userID, name)
	case msg.SetLanguage != nil:
		lang := *msg.SetLanguage
		c.sess.SetMeta(&lang, nil, c.userID, c.userName())
	case msg.ClientInfo != nil:
		c.sess.SetUserInfo(c.userID, *msg.ClientInfo)
	case msg.CursorData != nil:
		c.sess.SetCursorData(c.userID, *msg.CursorData)
	}
	return nil
}

func (c *connHandler) userName() string {
	_, _, _, users, _ := c.sess.GetInitialState()
	if info, ok := users[c.userID]; ok {
		return info.Name
	}
	return ""
}

func (c *connHandler) broadcastUpdates(done chan struct{}) {
	defer close(done)
	updates := c.sess.Subscribe(c.userID)
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-updates:
			if !ok {
				return
			}
			if err := c.send(msg); err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (c *connHandler) send(msg *protocol.ServerMsg) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	writeCtx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancel()
	return wsjson.Write(writeCtx, c.conn, msg)
}

func (c *connHandler) cleanup() {
	c.sess.RemoveUser(c.userID)
	c.cancel()
}
