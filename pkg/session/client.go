// Package session implements the OT client state machine (the mirror
// image of a server's ApplyEdit, run against outstanding/buffer instead
// of against history) and the connection manager that wires it, the
// presence tracker, and an editor together against a real or simulated
// socket.
package session

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shiv248/kolabpad-client/internal/protocol"
	"github.com/shiv248/kolabpad-client/pkg/codepoint"
	"github.com/shiv248/kolabpad-client/pkg/editor"
	"github.com/shiv248/kolabpad-client/pkg/logger"
	"github.com/shiv248/kolabpad-client/pkg/ot"
)

// PeerID identifies a connected user, matching the wire's uint64 ids.
type PeerID = uint64

// NoPeer is the sentinel used before an Identity message assigns us one.
const NoPeer PeerID = ^PeerID(0)

// ErrDesynchronized means the client observed a gap or mismatch it
// cannot resolve locally; the connection manager surfaces onDesynchronized.
var ErrDesynchronized = errors.New("session: desynchronized")

// ErrHistoryGap is the specific desync cause: History.start > revision.
var ErrHistoryGap = fmt.Errorf("%w: history start past local revision", ErrDesynchronized)

// CursorTransformer is the subset of the presence tracker the client
// state machine drives: every applied operation, local or remote, must
// shift cursor endpoints through transform_index.
type CursorTransformer interface {
	TransformLocalCursors(op *ot.OperationSeq)
	TransformRemoteCursors(op *ot.OperationSeq)
}

// Sender delivers a ClientMsg to the server. It is an interface, not a
// socket reference, so Client can be unit tested without a transport.
type Sender interface {
	SendClientMsg(*protocol.ClientMsg) error
}

// Client is the OT reconciliation state machine: one in-flight
// outstanding operation, one composed buffer of further local edits,
// and the revision counter reconciling both against the server's
// History stream.
type Client struct {
	revision      int
	outstanding   *ot.OperationSeq
	buffer        *ot.OperationSeq
	me            PeerID
	lastValue     string
	ignoreChanges bool
	info          *protocol.UserInfo

	ed      editor.Editor
	tracker CursorTransformer
	sender  Sender
}

// NewClient builds a Client bound to an editor, a cursor tracker and a
// message sender. tracker may be nil (tests that don't exercise presence).
func NewClient(ed editor.Editor, tracker CursorTransformer, sender Sender) *Client {
	return &Client{
		me:      NoPeer,
		ed:      ed,
		tracker: tracker,
		sender:  sender,
	}
}

// SetMe records the id assigned by the server's Identity message.
func (c *Client) SetMe(id PeerID) { c.me = id }

// Me returns the locally assigned peer id, or NoPeer before Identity.
func (c *Client) Me() PeerID { return c.me }

// Revision returns the client's current server revision.
func (c *Client) Revision() int { return c.revision }

// HasUnackedWork reports whether there is an in-flight or buffered op,
// the signal the connection manager's beforeunload handler checks.
func (c *Client) HasUnackedWork() bool { return c.outstanding != nil }

// Buffered reports whether local edits are composed in buffer, waiting
// for outstanding to be acked. Implements presence.BufferState.
func (c *Client) Buffered() bool { return c.buffer != nil }

// LastValue returns the content snapshot the state machine is currently
// reconciled against.
func (c *Client) LastValue() string { return c.lastValue }

// ResendOutstanding re-sends the in-flight op without mutating state,
// used when a fresh connection reopens: the server will ack it against
// whatever revision it's now at, exactly as on first send.
func (c *Client) ResendOutstanding() error {
	if c.outstanding == nil {
		return nil
	}
	return c.sendEdit(c.outstanding)
}

// SetLastValue seeds the snapshot the op-diffing logic works against,
// used at startup once the editor's initial content is loaded.
func (c *Client) SetLastValue(value string) { c.lastValue = value }

// OnLocalChange builds a single Operation spanning the pre-change
// content from the host editor's change-content ranges and feeds it
// into the outstanding/buffer pipeline. While ignoreChanges is set
// (during a guarded ApplyServer edit) it returns immediately.
//
// Ranges are converted to codepoint offsets against the stable
// pre-change snapshot, so — unlike an approach that mutates a running
// buffer between ranges — they can be folded into one op in ascending
// position order regardless of the order the host delivers them in,
// computed in a single pass instead of composing range by range.
func (c *Client) OnLocalChange(ranges []editor.ChangeRange) error {
	if c.ignoreChanges || len(ranges) == 0 {
		return nil
	}

	value := c.lastValue
	sorted := append([]editor.ChangeRange(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UTF16Offset < sorted[j].UTF16Offset })

	total := codepoint.Len(value)
	op := ot.NewOperationSeq()
	pos := 0
	for _, r := range sorted {
		cpStart := codepoint.UTF16ToCodepoint(value, r.UTF16Offset)
		cpEnd := codepoint.UTF16ToCodepoint(value, r.UTF16Offset+r.UTF16Length)
		if cpStart < pos {
			return fmt.Errorf("on_local_change: overlapping change ranges")
		}
		if cpStart > pos {
			op.Retain(uint64(cpStart - pos))
		}
		if cpEnd > cpStart {
			op.Delete(uint64(cpEnd - cpStart))
		}
		if r.Text != "" {
			op.Insert(r.Text)
		}
		pos = cpEnd
	}
	if total > pos {
		op.Retain(uint64(total - pos))
	}
	if op.IsNoop() {
		return nil
	}

	newValue, err := op.Apply(value)
	if err != nil {
		return fmt.Errorf("on_local_change: apply: %w", err)
	}
	c.lastValue = newValue

	return c.applyClient(op)
}

// applyClient folds a locally originated op into outstanding/buffer.
func (c *Client) applyClient(op *ot.OperationSeq) error {
	switch {
	case c.outstanding == nil:
		c.outstanding = op
		if err := c.sendEdit(op); err != nil {
			return fmt.Errorf("apply_client: send: %w", err)
		}
	case c.buffer == nil:
		c.buffer = op
	default:
		composed, err := c.buffer.Compose(op)
		if err != nil {
			return fmt.Errorf("apply_client: compose buffer: %w", err)
		}
		c.buffer = composed
	}

	if c.tracker != nil {
		c.tracker.TransformLocalCursors(op)
		c.tracker.TransformRemoteCursors(op)
	}
	return nil
}

// ApplyServer handles a History entry not authored by us: transform it
// against outstanding/buffer, apply the result to the editor under a
// guarded ignoreChanges edit, and advance last_value.
func (c *Client) ApplyServer(op *ot.OperationSeq) error {
	if c.outstanding != nil {
		newOutstanding, opPrime, err := c.outstanding.Transform(op)
		if err != nil {
			return fmt.Errorf("apply_server: transform outstanding: %w: %v", ErrDesynchronized, err)
		}
		c.outstanding = newOutstanding
		op = opPrime

		if c.buffer != nil {
			newBuffer, opPrime2, err := c.buffer.Transform(op)
			if err != nil {
				return fmt.Errorf("apply_server: transform buffer: %w: %v", ErrDesynchronized, err)
			}
			c.buffer = newBuffer
			op = opPrime2
		}
	}

	c.ignoreChanges = true
	edits := c.buildTextEdits(op, c.lastValue)
	if len(edits) > 0 {
		c.ed.PushEdit(edits)
	}
	c.ignoreChanges = false

	newValue, err := op.Apply(c.lastValue)
	if err != nil {
		return fmt.Errorf("apply_server: apply: %w: %v", ErrDesynchronized, err)
	}
	c.lastValue = newValue

	if c.tracker != nil {
		c.tracker.TransformRemoteCursors(op)
	}
	return nil
}

// buildTextEdits translates a codepoint-indexed operation into the
// editor's native UTF-16 TextEdit batch, walking op alongside value
// (the content the op's base_len was computed against).
func (c *Client) buildTextEdits(op *ot.OperationSeq, value string) []editor.TextEdit {
	var edits []editor.TextEdit
	cp := 0
	for _, action := range op.Ops() {
		switch a := action.(type) {
		case ot.Retain:
			cp += int(a.N)
		case ot.Delete:
			start := c.ed.OffsetToPosition(codepoint.CodepointToUTF16(value, cp))
			end := c.ed.OffsetToPosition(codepoint.CodepointToUTF16(value, cp+int(a.N)))
			edits = append(edits, editor.TextEdit{Start: start, End: end, Text: ""})
			cp += int(a.N)
		case ot.Insert:
			at := c.ed.OffsetToPosition(codepoint.CodepointToUTF16(value, cp))
			edits = append(edits, editor.TextEdit{Start: at, End: at, Text: a.Text})
		}
	}
	return edits
}

// ServerAck handles a History entry whose author is us: the outstanding
// op we sent is now part of server state; the buffer, if any, becomes
// the new outstanding and is sent.
func (c *Client) ServerAck() error {
	if c.outstanding == nil {
		logger.Warn("session: server_ack with no outstanding operation")
		return nil
	}
	c.outstanding = c.buffer
	c.buffer = nil
	if c.outstanding != nil {
		return c.sendEdit(c.outstanding)
	}
	return nil
}

// HandleHistory processes a batch of History entries starting at the
// server revision `start`. It requires start <= revision; a gap beyond
// that is unrecoverable locally.
func (c *Client) HandleHistory(start int, ops []protocol.UserOperation) error {
	if start > c.revision {
		return ErrHistoryGap
	}
	for i := c.revision - start; i < len(ops); i++ {
		entry := ops[i]
		var err error
		if entry.ID == c.me {
			err = c.ServerAck()
		} else {
			err = c.ApplyServer(entry.Operation)
		}
		if err != nil {
			return err
		}
		c.revision++
	}
	return nil
}

func (c *Client) sendEdit(op *ot.OperationSeq) error {
	if c.sender == nil {
		return nil
	}
	return c.sender.SendClientMsg(&protocol.ClientMsg{
		Edit: &protocol.EditMsg{Revision: c.revision, Operation: op},
	})
}

// SetMeta enqueues a metadata change and reports whether it could be
// sent (i.e. whether the sender considers the socket open).
func (c *Client) SetMeta(language, visibility *string) bool {
	if c.sender == nil {
		return false
	}
	err := c.sender.SendClientMsg(&protocol.ClientMsg{
		SetMeta: &protocol.MetaMsg{Language: language, Visibility: visibility},
	})
	return err == nil
}

// SetInfo stores the local user's info and sends it if connected.
func (c *Client) SetInfo(info protocol.UserInfo) {
	c.info = &info
	if c.sender == nil {
		return
	}
	if err := c.sender.SendClientMsg(&protocol.ClientMsg{ClientInfo: &info}); err != nil {
		logger.Debug("session: send ClientInfo failed: %v", err)
	}
}

// Info returns the last info passed to SetInfo, or nil.
func (c *Client) Info() *protocol.UserInfo { return c.info }
