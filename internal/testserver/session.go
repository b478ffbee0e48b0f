// Package testserver is a trimmed, in-memory peer server: no SQLite
// persistence, no OTP REST side-channel, just the document state
// manager and WebSocket connection handler needed to give this client's
// integration tests a real wire-compatible peer to talk to.
package testserver

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shiv248/kolabpad-client/internal/protocol"
	"github.com/shiv248/kolabpad-client/pkg/logger"
	"github.com/shiv248/kolabpad-client/pkg/ot"
)

// docState is the shared document state, protected by Session.mu.
type docState struct {
	Operations []protocol.UserOperation
	Text       string
	Language   *string
	Visibility string
	OTP        *string
	Users      map[uint64]protocol.UserInfo
	Cursors    map[uint64]protocol.CursorData
}

// Session holds one document's operation history, text, metadata and
// connected users.
type Session struct {
	mu     sync.RWMutex
	state  *docState
	count  atomic.Uint64

	subscribers map[uint64]chan *protocol.ServerMsg
	notify      chan struct{}

	maxDocumentSize     int
	broadcastBufferSize int
}

// NewSession creates an empty document session.
func NewSession(maxDocumentSize, broadcastBufferSize int) *Session {
	return &Session{
		state: &docState{
			Operations: make([]protocol.UserOperation, 0),
			Visibility: "public",
			Users:      make(map[uint64]protocol.UserInfo),
			Cursors:    make(map[uint64]protocol.CursorData),
		},
		subscribers:         make(map[uint64]chan *protocol.ServerMsg),
		notify:              make(chan struct{}),
		maxDocumentSize:     maxDocumentSize,
		broadcastBufferSize: broadcastBufferSize,
	}
}

// NextUserID returns the next available user id.
func (s *Session) NextUserID() uint64 { return s.count.Add(1) - 1 }

// Revision returns the current revision (operation count).
func (s *Session) Revision() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Operations)
}

// Text returns a copy of the current document text.
func (s *Session) Text() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Text
}

// Subscribe registers a channel for metadata broadcasts to userID.
func (s *Session) Subscribe(userID uint64) <-chan *protocol.ServerMsg {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan *protocol.ServerMsg, s.broadcastBufferSize)
	s.subscribers[userID] = ch
	return ch
}

// Unsubscribe removes userID's broadcast channel.
func (s *Session) Unsubscribe(userID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subscribers[userID]; ok {
		close(ch)
		delete(s.subscribers, userID)
	}
}

// NotifyChannel returns the channel closed whenever new operations land.
func (s *Session) NotifyChannel() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notify
}

func (s *Session) broadcast(msg *protocol.ServerMsg) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- msg:
		default:
		}
	}
}

// GetInitialState returns everything a newly connecting client needs.
func (s *Session) GetInitialState() (ops []protocol.UserOperation, lang *string, visibility string, users map[uint64]protocol.UserInfo, cursors map[uint64]protocol.CursorData) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ops = make([]protocol.UserOperation, len(s.state.Operations))
	copy(ops, s.state.Operations)
	lang = s.state.Language
	visibility = s.state.Visibility

	users = make(map[uint64]protocol.UserInfo, len(s.state.Users))
	for k, v := range s.state.Users {
		users[k] = v
	}
	cursors = make(map[uint64]protocol.CursorData, len(s.state.Cursors))
	for k, v := range s.state.Cursors {
		cursors[k] = v
	}
	return
}

// GetHistory returns operations from a starting revision onward.
func (s *Session) GetHistory(start int) []protocol.UserOperation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	length := len(s.state.Operations)
	if start >= length {
		return []protocol.UserOperation{}
	}
	ops := make([]protocol.UserOperation, length-start)
	copy(ops, s.state.Operations[start:])
	return ops
}

// ApplyEdit transforms operation against every historical op since
// revision, applies the result, and shifts every stored cursor through it
// with ot.OperationSeq.TransformIndex instead of a locally duplicated helper.
func (s *Session) ApplyEdit(userID uint64, revision int, operation *ot.OperationSeq) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	currentLen := len(s.state.Operations)
	if revision > currentLen {
		return fmt.Errorf("testserver: invalid revision: got %d, current is %d", revision, currentLen)
	}

	transformed := operation
	for _, histOp := range s.state.Operations[revision:] {
		aPrime, _, err := transformed.Transform(histOp.Operation)
		if err != nil {
			return fmt.Errorf("testserver: transform failed: %w", err)
		}
		transformed = aPrime
	}

	if int(transformed.TargetLen()) > s.maxDocumentSize {
		return fmt.Errorf("testserver: target length %d exceeds maximum of %d", transformed.TargetLen(), s.maxDocumentSize)
	}

	newText, err := transformed.Apply(s.state.Text)
	if err != nil {
		return fmt.Errorf("testserver: apply failed: %w", err)
	}

	for id, cursorData := range s.state.Cursors {
		newCursors := make([]uint32, len(cursorData.Cursors))
		for i, c := range cursorData.Cursors {
			newCursors[i] = transformed.TransformIndex(c)
		}
		newSelections := make([][2]uint32, len(cursorData.Selections))
		for i, sel := range cursorData.Selections {
			newSelections[i] = [2]uint32{transformed.TransformIndex(sel[0]), transformed.TransformIndex(sel[1])}
		}
		s.state.Cursors[id] = protocol.CursorData{Cursors: newCursors, Selections: newSelections}
	}

	s.state.Operations = append(s.state.Operations, protocol.UserOperation{ID: userID, Operation: transformed})
	s.state.Text = newText

	logger.Debug("testserver: applied edit user=%d revision=%d->%d docLen=%d", userID, revision, len(s.state.Operations), len(newText))

	close(s.notify)
	s.notify = make(chan struct{})
	return nil
}

// SetMeta updates language and/or visibility and broadcasts the change.
func (s *Session) SetMeta(language, visibility *string, userID uint64, userName string) {
	s.mu.Lock()
	if language != nil {
		s.state.Language = language
	}
	if visibility != nil {
		s.state.Visibility = *visibility
	}
	lang, vis := s.state.Language, s.state.Visibility
	s.mu.Unlock()

	langStr := ""
	if lang != nil {
		langStr = *lang
	}
	s.broadcast(protocol.NewMetaMsg(langStr, vis, userID, userName))
}

// SetOTP updates the document's protection token and broadcasts it.
func (s *Session) SetOTP(otp *string, userID uint64, userName string) {
	s.mu.Lock()
	s.state.OTP = otp
	s.mu.Unlock()
	s.broadcast(protocol.NewOTPMsg(otp, userID, userName))
}

// SetUserInfo updates a user's display info and broadcasts it.
func (s *Session) SetUserInfo(userID uint64, info protocol.UserInfo) {
	s.mu.Lock()
	s.state.Users[userID] = info
	s.mu.Unlock()
	s.broadcast(protocol.NewUserInfoMsg(userID, &info))
}

// SetCursorData updates a user's cursor state and broadcasts it.
func (s *Session) SetCursorData(userID uint64, data protocol.CursorData) {
	s.mu.Lock()
	s.state.Cursors[userID] = data
	s.mu.Unlock()
	s.broadcast(protocol.NewUserCursorMsg(userID, data))
}

// RemoveUser disconnects userID, unsubscribing and broadcasting departure.
func (s *Session) RemoveUser(userID uint64) {
	s.mu.Lock()
	delete(s.state.Users, userID)
	delete(s.state.Cursors, userID)
	s.mu.Unlock()

	s.Unsubscribe(userID)
	s.broadcast(protocol.NewUserInfoMsg(userID, nil))
}

// Kill closes every subscriber channel and the notify channel, the test
// harness's analog of a document-expiry cleaner.
func (s *Session) Kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = make(map[uint64]chan *protocol.ServerMsg)
	close(s.notify)
}
