// Package presence implements the remote-peer cursor tracker: it keeps
// each peer's cursor/selection state in codepoint indices, shifts them
// through every applied operation, and emits a decoration delta to the
// host editor.
package presence

import (
	"fmt"
	"sort"
	"time"

	"github.com/shiv248/kolabpad-client/internal/protocol"
	"github.com/shiv248/kolabpad-client/pkg/editor"
	"github.com/shiv248/kolabpad-client/pkg/logger"
	"github.com/shiv248/kolabpad-client/pkg/ot"
)

// Peer is one remote collaborator's display info and latest cursor state.
type Peer struct {
	Info   protocol.UserInfo
	Cursor protocol.CursorData
}

// BufferState reports whether local edits are buffered (unacked by the
// server). The tracker suppresses local cursor sends while true — the
// server hasn't seen the corresponding text state yet, so a cursor sent
// now would decorate the wrong position for peers.
type BufferState interface {
	Buffered() bool
}

// Sender delivers our own cursor state to the server.
type Sender interface {
	SendCursorData(protocol.CursorData) error
}

// DecorationHost receives the rendered decoration set for all remote
// peers, replacing whatever decoration set it last returned. The host
// (the session Manager) owns the editor and the current buffer
// content, so it is the one that can turn a codepoint offset into an
// editor.Position — the tracker only ever reasons in codepoint space.
type DecorationHost interface {
	ToPosition(codepointOffset uint32) editor.Position
	DeltaDecorations(oldIDs []string, decorations []editor.Decoration) []string
	// InjectHueStyle is called once per distinct hue value the first time
	// it's observed, so the host can add a CSS rule (or equivalent).
	InjectHueStyle(hue uint32)
}

const debounceInterval = 20 * time.Millisecond

// Tracker holds the live set of remote peers plus the local cursor
// debounce/suppression logic.
type Tracker struct {
	me    uint64
	peers map[uint64]*Peer
	order []uint64 // stable iteration order, insertion order

	host  DecorationHost
	send  Sender
	state BufferState

	decorationIDs []string
	seenHues      map[uint32]struct{}

	localCursors    []uint32
	localSelections [][2]uint32
	debounce        *time.Timer
}

// NewTracker builds a Tracker bound to a decoration host, a sender for
// our own cursor updates, and a BufferState consulted before each send.
func NewTracker(me uint64, host DecorationHost, send Sender, state BufferState) *Tracker {
	return &Tracker{
		me:       me,
		peers:    make(map[uint64]*Peer),
		host:     host,
		send:     send,
		state:    state,
		seenHues: make(map[uint32]struct{}),
	}
}

// SetMe records the id assigned by the server's Identity message, so
// later UserInfo broadcasts about ourselves are ignored.
func (t *Tracker) SetMe(id uint64) { t.me = id }

// Reset clears the peer map, used on (re)connect since the server will
// re-announce everyone.
func (t *Tracker) Reset() {
	t.peers = make(map[uint64]*Peer)
	t.order = nil
	t.render()
}

// UpsertUser handles a UserInfo message: stores info for id, creating an
// empty cursor entry if this is a new peer.
func (t *Tracker) UpsertUser(id uint64, info protocol.UserInfo) {
	if id == t.me {
		return
	}
	p, ok := t.peers[id]
	if !ok {
		p = &Peer{}
		t.peers[id] = p
		t.order = append(t.order, id)
	}
	p.Info = info
	t.maybeInjectHueStyle(info.Hue)
	t.render()
}

// RemoveUser handles a UserDisconnect message.
func (t *Tracker) RemoveUser(id uint64) {
	if _, ok := t.peers[id]; !ok {
		return
	}
	delete(t.peers, id)
	for i, pid := range t.order {
		if pid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	t.render()
}

// UpsertCursor handles a UserCursor message: overwrites the peer's
// cursor state verbatim.
func (t *Tracker) UpsertCursor(id uint64, data protocol.CursorData) {
	p, ok := t.peers[id]
	if !ok {
		p = &Peer{}
		t.peers[id] = p
		t.order = append(t.order, id)
	}
	p.Cursor = data
	t.render()
}

// Peers returns a snapshot of the currently known remote peers.
func (t *Tracker) Peers() map[uint64]Peer {
	out := make(map[uint64]Peer, len(t.peers))
	for id, p := range t.peers {
		out[id] = *p
	}
	return out
}

func (t *Tracker) maybeInjectHueStyle(hue uint32) {
	if _, seen := t.seenHues[hue]; seen {
		return
	}
	t.seenHues[hue] = struct{}{}
	if t.host != nil {
		t.host.InjectHueStyle(hue)
	}
}

// TransformLocalCursors shifts our own pending cursor state through a
// locally originated operation (it changes base_len for future ops but
// our own cursor is already where the editor says it is; this exists to
// keep symmetry with TransformRemoteCursors and to shift any cursor
// positions captured before this op was built).
func (t *Tracker) TransformLocalCursors(op *ot.OperationSeq) {
	for i, c := range t.localCursors {
		t.localCursors[i] = op.TransformIndex(c)
	}
	for i, s := range t.localSelections {
		t.localSelections[i] = [2]uint32{op.TransformIndex(s[0]), op.TransformIndex(s[1])}
	}
}

// TransformRemoteCursors shifts every known peer's cursor state through
// an applied operation (local or remote), then re-renders decorations.
func (t *Tracker) TransformRemoteCursors(op *ot.OperationSeq) {
	for _, p := range t.peers {
		for i, c := range p.Cursor.Cursors {
			p.Cursor.Cursors[i] = op.TransformIndex(c)
		}
		for i, s := range p.Cursor.Selections {
			p.Cursor.Selections[i] = [2]uint32{op.TransformIndex(s[0]), op.TransformIndex(s[1])}
		}
	}
	t.render()
}

// OnLocalCursor records our own cursor/selection state (converted to
// codepoint indices by the caller) and schedules a debounced send.
func (t *Tracker) OnLocalCursor(cursors []uint32, selections [][2]uint32) {
	t.localCursors = cursors
	t.localSelections = selections
	t.scheduleSend()
}

func (t *Tracker) scheduleSend() {
	if t.debounce != nil {
		t.debounce.Stop()
	}
	t.debounce = time.AfterFunc(debounceInterval, t.flushSend)
}

func (t *Tracker) flushSend() {
	if t.state != nil && t.state.Buffered() {
		return
	}
	if t.send == nil {
		return
	}
	if err := t.send.SendCursorData(protocol.CursorData{
		Cursors:    t.localCursors,
		Selections: t.localSelections,
	}); err != nil {
		logger.Error("presence: send cursor data: %v", err)
	}
}

// render rebuilds the decoration set for every known peer and hands it
// to the host, deterministically ordered by ascending peer id so the
// returned id slice is stable across calls with unchanged peer state.
func (t *Tracker) render() {
	if t.host == nil {
		return
	}
	order := append([]uint64(nil), t.order...)
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	var decorations []editor.Decoration
	for _, id := range order {
		p := t.peers[id]
		className := fmt.Sprintf("kolabpad-cursor-hue-%d", p.Info.Hue)
		for _, c := range p.Cursor.Cursors {
			at := t.host.ToPosition(c)
			decorations = append(decorations, editor.Decoration{
				Range:     editor.Range{StartLine: at.Line, StartColumn: at.Column, EndLine: at.Line, EndColumn: at.Column},
				ClassName: className + "-caret",
			})
		}
		for _, s := range p.Cursor.Selections {
			start, end := t.host.ToPosition(s[0]), t.host.ToPosition(s[1])
			decorations = append(decorations, editor.Decoration{
				Range:     editor.Range{StartLine: start.Line, StartColumn: start.Column, EndLine: end.Line, EndColumn: end.Column},
				ClassName: className + "-selection",
			})
		}
	}
	t.decorationIDs = t.host.DeltaDecorations(t.decorationIDs, decorations)
}
