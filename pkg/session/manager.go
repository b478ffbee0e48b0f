package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shiv248/kolabpad-client/internal/protocol"
	"github.com/shiv248/kolabpad-client/internal/transport"
	"github.com/shiv248/kolabpad-client/pkg/codepoint"
	"github.com/shiv248/kolabpad-client/pkg/editor"
	"github.com/shiv248/kolabpad-client/pkg/logger"
	"github.com/shiv248/kolabpad-client/pkg/presence"
)

// State is the connection manager's lifecycle state.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

const failureWindowThreshold = 5

// Callbacks is the editor-contract-produced surface: onConnected,
// onDisconnected, onDesynchronized, onError, onChangeMeta,
// onChangeUsers, onChangeMe, plus the OTP broadcast this module adds.
type Callbacks struct {
	OnConnected      func(info *protocol.UserInfo)
	OnDisconnected   func()
	OnDesynchronized func()
	OnError          func(err error)
	OnChangeMeta     func(language, visibility string)
	OnChangeUsers    func(peers map[uint64]presence.Peer)
	OnChangeMe       func(info protocol.UserInfo)
	OnOTPChanged     func(otp *string, by protocol.UserInfo)
	InjectHueStyle   func(hue uint32)
}

// Manager is the connection manager, wiring the OT client, the presence
// tracker and one Editor to one transport.Socket. All externally driven
// events — timer ticks, socket callbacks, editor callbacks — are
// funneled through a single internal event queue so the state machine
// never observes re-entrant mutation.
type Manager struct {
	uri                  string
	reconnectIntervalMs  int
	newSocket            func() transport.Socket
	socket               transport.Socket
	state                State
	recentFailures       int

	ed      editor.Editor
	client  *Client
	tracker *presence.Tracker
	cb      Callbacks

	decorations []editor.Disposable
	disposed    bool

	events chan func()
	stop   chan struct{}
}

// NewManager constructs a Manager and starts its event loop, reconnect
// timers and editor subscriptions. newSocket builds a fresh, unconnected
// transport.Socket for each connection attempt.
func NewManager(uri string, reconnectIntervalMs int, newSocket func() transport.Socket, ed editor.Editor, cb Callbacks) *Manager {
	if reconnectIntervalMs <= 0 {
		reconnectIntervalMs = 1000
	}
	ed.SetEOL("\n")

	m := &Manager{
		uri:                 uri,
		reconnectIntervalMs: reconnectIntervalMs,
		newSocket:           newSocket,
		ed:                  ed,
		cb:                  cb,
		events:              make(chan func(), 64),
		stop:                make(chan struct{}),
	}
	m.client = NewClient(ed, nil, m)
	m.tracker = presence.NewTracker(NoPeer, m, m, m.client)
	m.client.tracker = m.tracker

	go m.loop()
	m.attachEditor()
	m.startTimers()
	m.enqueue(m.tryConnect)
	return m
}

func (m *Manager) loop() {
	for {
		select {
		case fn := <-m.events:
			fn()
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) enqueue(fn func()) {
	select {
	case m.events <- fn:
	case <-m.stop:
	}
}

func (m *Manager) attachEditor() {
	m.decorations = append(m.decorations,
		m.ed.OnDidChangeContent(func(ranges []editor.ChangeRange) {
			// A guarded ApplyServer edit calls back synchronously while
			// ignoreChanges is set; a queued closure would only run after
			// the guard is cleared, so that echo is dropped here.
			if m.client.ignoreChanges {
				return
			}
			m.enqueue(func() {
				if err := m.client.OnLocalChange(ranges); err != nil {
					logger.Error("session: on_local_change: %v", err)
				}
			})
		}),
		m.ed.OnDidChangeCursor(func(offsets []int) {
			m.enqueue(func() { m.onLocalCursor(offsets, nil) })
		}),
		m.ed.OnDidChangeSelection(func(selections [][2]int) {
			m.enqueue(func() { m.onLocalCursor(nil, selections) })
		}),
	)
}

func (m *Manager) onLocalCursor(offsets []int, selections [][2]int) {
	value := m.client.LastValue()
	cursors := make([]uint32, len(offsets))
	for i, o := range offsets {
		cursors[i] = uint32(codepoint.UTF16ToCodepoint(value, o))
	}
	sels := make([][2]uint32, len(selections))
	for i, s := range selections {
		sels[i] = [2]uint32{
			uint32(codepoint.UTF16ToCodepoint(value, s[0])),
			uint32(codepoint.UTF16ToCodepoint(value, s[1])),
		}
	}
	m.tracker.OnLocalCursor(cursors, sels)
}

func (m *Manager) startTimers() {
	reconnectTick := time.NewTicker(time.Duration(m.reconnectIntervalMs) * time.Millisecond)
	resetTick := time.NewTicker(time.Duration(m.reconnectIntervalMs*15) * time.Millisecond)
	go func() {
		defer reconnectTick.Stop()
		defer resetTick.Stop()
		for {
			select {
			case <-reconnectTick.C:
				m.enqueue(m.tryConnect)
			case <-resetTick.C:
				m.enqueue(func() { m.recentFailures = 0 })
			case <-m.stop:
				return
			}
		}
	}()
}

func (m *Manager) tryConnect() {
	if m.disposed || m.state == StateConnecting || m.state == StateOpen {
		return
	}
	m.state = StateConnecting
	sock := m.newSocket()
	m.socket = sock
	sock.Connect(m.uri, transport.Handlers{
		OnOpen:    func() { m.enqueue(m.handleOpen) },
		OnClose:   func() { m.enqueue(m.handleClose) },
		OnError:   func(err error) { m.enqueue(func() { m.handleError(err) }) },
		OnMessage: func(data string) { m.enqueue(func() { m.handleMessage(data) }) },
	})
}

func (m *Manager) handleOpen() {
	m.state = StateOpen
	m.tracker.Reset()

	if info := m.client.Info(); info != nil {
		if err := m.SendClientMsg(&protocol.ClientMsg{ClientInfo: info}); err != nil {
			logger.Debug("session: resend ClientInfo failed: %v", err)
		}
	}
	if err := m.client.ResendOutstanding(); err != nil {
		logger.Debug("session: resend outstanding failed: %v", err)
	}
}

func (m *Manager) handleClose() {
	wasOpen := m.state == StateOpen
	m.state = StateClosed
	if wasOpen && m.cb.OnDisconnected != nil {
		m.cb.OnDisconnected()
	}

	m.recentFailures++
	if m.recentFailures >= failureWindowThreshold {
		m.disposeLocked()
		if m.cb.OnDesynchronized != nil {
			m.cb.OnDesynchronized()
		}
	}
}

func (m *Manager) handleError(err error) {
	m.disposeLocked()
	if m.cb.OnError != nil {
		m.cb.OnError(err)
	}
}

func (m *Manager) handleMessage(data string) {
	var msg protocol.ServerMsg
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		logger.Error("session: malformed frame: %v", err)
		return
	}

	switch {
	case msg.Identity != nil:
		m.client.SetMe(*msg.Identity)
		m.tracker.SetMe(*msg.Identity)
		if m.cb.OnConnected != nil {
			m.cb.OnConnected(m.client.Info())
		}

	case msg.History != nil:
		if err := m.client.HandleHistory(msg.History.Start, msg.History.Operations); err != nil {
			logger.Error("session: history: %v", err)
			if errors.Is(err, ErrDesynchronized) {
				m.disposeLocked()
				if m.cb.OnDesynchronized != nil {
					m.cb.OnDesynchronized()
				}
			} else if m.socket != nil {
				m.socket.Close()
			}
		}

	case msg.Language != nil:
		if m.cb.OnChangeMeta != nil {
			m.cb.OnChangeMeta(msg.Language.Language, "")
		}

	case msg.Meta != nil:
		if m.cb.OnChangeMeta != nil {
			m.cb.OnChangeMeta(msg.Meta.Language, msg.Meta.Visibility)
		}

	case msg.UserInfo != nil:
		if msg.UserInfo.Info != nil {
			m.tracker.UpsertUser(msg.UserInfo.ID, *msg.UserInfo.Info)
		} else {
			m.tracker.RemoveUser(msg.UserInfo.ID)
		}
		if m.cb.OnChangeUsers != nil {
			m.cb.OnChangeUsers(m.tracker.Peers())
		}

	case msg.UserCursor != nil:
		m.tracker.UpsertCursor(msg.UserCursor.ID, msg.UserCursor.Data)

	case msg.OTP != nil:
		if m.cb.OnOTPChanged != nil {
			m.cb.OnOTPChanged(msg.OTP.OTP, protocol.UserInfo{Name: msg.OTP.UserName})
		}

	default:
		logger.Debug("session: server frame with no known discriminator")
	}
}

// SendClientMsg implements Sender for the OT client.
func (m *Manager) SendClientMsg(msg *protocol.ClientMsg) error {
	if m.state != StateOpen || m.socket == nil {
		return fmt.Errorf("session: send while socket not open (state=%s)", m.state)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("session: marshal client message: %w", err)
	}
	return m.socket.Send(string(data))
}

// SendCursorData implements presence.Sender.
func (m *Manager) SendCursorData(data protocol.CursorData) error {
	return m.SendClientMsg(&protocol.ClientMsg{CursorData: &data})
}

// ToPosition implements presence.DecorationHost.
func (m *Manager) ToPosition(codepointOffset uint32) editor.Position {
	utf16 := codepoint.CodepointToUTF16(m.client.LastValue(), int(codepointOffset))
	return m.ed.OffsetToPosition(utf16)
}

// DeltaDecorations implements presence.DecorationHost.
func (m *Manager) DeltaDecorations(oldIDs []string, decorations []editor.Decoration) []string {
	return m.ed.DeltaDecorations(oldIDs, decorations)
}

// InjectHueStyle implements presence.DecorationHost.
func (m *Manager) InjectHueStyle(hue uint32) {
	if m.cb.InjectHueStyle != nil {
		m.cb.InjectHueStyle(hue)
	}
}

// SetInfo sets the local user's display info, sending it immediately if
// connected, and fires OnChangeMe.
func (m *Manager) SetInfo(info protocol.UserInfo) {
	m.client.SetInfo(info)
	if m.cb.OnChangeMe != nil {
		m.cb.OnChangeMe(info)
	}
}

// SetMeta enqueues a language/visibility change.
func (m *Manager) SetMeta(language, visibility *string) bool {
	return m.client.SetMeta(language, visibility)
}

// BeforeUnload reports whether navigation should be blocked for unacked
// work. Hosts without a real unload event (native/headless builds) can
// ignore this.
func (m *Manager) BeforeUnload() bool {
	return m.client.HasUnackedWork()
}

// Dispose cancels timers, detaches editor listeners and closes the
// socket. Idempotent.
func (m *Manager) Dispose() {
	m.enqueue(m.disposeLocked)
}

func (m *Manager) disposeLocked() {
	if m.disposed {
		return
	}
	m.disposed = true
	close(m.stop)
	for _, d := range m.decorations {
		d.Dispose()
	}
	if m.socket != nil {
		m.socket.Close()
	}
}
