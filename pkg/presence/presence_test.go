package presence

import (
	"testing"

	"github.com/shiv248/kolabpad-client/internal/protocol"
	"github.com/shiv248/kolabpad-client/pkg/editor"
	"github.com/shiv248/kolabpad-client/pkg/ot"
)

type fakeHost struct {
	deltaOldIDs []string
	decorations []editor.Decoration
	calls       int
	hues        []uint32
}

func (f *fakeHost) ToPosition(offset uint32) editor.Position {
	return editor.Position{Line: 0, Column: int(offset)}
}

func (f *fakeHost) DeltaDecorations(oldIDs []string, decorations []editor.Decoration) []string {
	f.calls++
	f.deltaOldIDs = oldIDs
	f.decorations = decorations
	ids := make([]string, len(decorations))
	for i := range decorations {
		ids[i] = "dec"
	}
	return ids
}

func (f *fakeHost) InjectHueStyle(hue uint32) { f.hues = append(f.hues, hue) }

type fakeSender struct {
	sent []protocol.CursorData
}

func (f *fakeSender) SendCursorData(data protocol.CursorData) error {
	f.sent = append(f.sent, data)
	return nil
}

type fakeBufferState struct{ buffered bool }

func (f *fakeBufferState) Buffered() bool { return f.buffered }

func TestTrackerUpsertUserInjectsHueOnce(t *testing.T) {
	host := &fakeHost{}
	tracker := NewTracker(1, host, &fakeSender{}, &fakeBufferState{})

	tracker.UpsertUser(2, protocol.UserInfo{Name: "alice", Hue: 42})
	tracker.UpsertUser(2, protocol.UserInfo{Name: "alice2", Hue: 42})
	tracker.UpsertUser(3, protocol.UserInfo{Name: "bob", Hue: 99})

	if len(host.hues) != 2 {
		t.Fatalf("expected hue style injected once per distinct hue, got %v", host.hues)
	}
}

func TestTrackerUpsertUserIgnoresSelf(t *testing.T) {
	host := &fakeHost{}
	tracker := NewTracker(1, host, &fakeSender{}, &fakeBufferState{})
	tracker.UpsertUser(1, protocol.UserInfo{Name: "me", Hue: 1})
	if len(tracker.Peers()) != 0 {
		t.Fatalf("expected self to be ignored, got %d peers", len(tracker.Peers()))
	}
}

func TestTrackerRemoveUser(t *testing.T) {
	host := &fakeHost{}
	tracker := NewTracker(1, host, &fakeSender{}, &fakeBufferState{})
	tracker.UpsertUser(2, protocol.UserInfo{Name: "alice", Hue: 1})
	if len(tracker.Peers()) != 1 {
		t.Fatalf("expected 1 peer")
	}
	tracker.RemoveUser(2)
	if len(tracker.Peers()) != 0 {
		t.Fatalf("expected 0 peers after removal")
	}
}

func TestTrackerTransformRemoteCursorsShiftsPositions(t *testing.T) {
	host := &fakeHost{}
	tracker := NewTracker(1, host, &fakeSender{}, &fakeBufferState{})
	tracker.UpsertUser(2, protocol.UserInfo{Name: "alice", Hue: 1})
	tracker.UpsertCursor(2, protocol.CursorData{Cursors: []uint32{5}, Selections: [][2]uint32{{2, 8}}})

	op := ot.NewOperationSeq()
	op.Insert("XXX")
	op.Retain(10)

	tracker.TransformRemoteCursors(op)

	peers := tracker.Peers()
	p := peers[2]
	if p.Cursor.Cursors[0] != 8 {
		t.Fatalf("cursor = %d, want 8", p.Cursor.Cursors[0])
	}
	if p.Cursor.Selections[0] != [2]uint32{5, 11} {
		t.Fatalf("selection = %v, want [5 11]", p.Cursor.Selections[0])
	}
	if host.calls == 0 {
		t.Fatalf("expected render to call DeltaDecorations")
	}
}

func TestTrackerFlushSendSuppressedWhileBuffered(t *testing.T) {
	sender := &fakeSender{}
	state := &fakeBufferState{buffered: true}
	tracker := NewTracker(1, &fakeHost{}, sender, state)

	tracker.OnLocalCursor([]uint32{3}, nil)
	tracker.flushSend()
	if len(sender.sent) != 0 {
		t.Fatalf("expected send to be suppressed while buffered, got %d sends", len(sender.sent))
	}

	state.buffered = false
	tracker.flushSend()
	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly 1 send once unbuffered, got %d", len(sender.sent))
	}
	if sender.sent[0].Cursors[0] != 3 {
		t.Fatalf("sent cursor = %d, want 3", sender.sent[0].Cursors[0])
	}
}
