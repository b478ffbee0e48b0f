package editor

import (
	"fmt"
	"sort"
	"sync"
	"unicode/utf16"
)

// Buffer is a minimal in-process Editor implementation: a single logical
// line addressed by UTF-16 offset (Position.Column is the offset,
// Position.Line is always 0). It backs cmd/kolabpad-sim and the
// integration/unit tests — nothing here depends on a browser, so it
// exercises the same Editor contract a Monaco/CodeMirror adapter would
// without needing one.
type Buffer struct {
	mu    sync.Mutex
	value string
	eol   string

	contentSubs   map[int]func([]ChangeRange)
	cursorSubs    map[int]func([]int)
	selectionSubs map[int]func([][2]int)
	nextSubID     int

	decorations map[string]Decoration
	nextDecID   int
}

// NewBuffer returns an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{
		contentSubs:   make(map[int]func([]ChangeRange)),
		cursorSubs:    make(map[int]func([]int)),
		selectionSubs: make(map[int]func([][2]int)),
		decorations:   make(map[string]Decoration),
		eol:           "\n",
	}
}

// Value returns the current content.
func (b *Buffer) Value() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

// SetValue replaces the content without going through the change-content
// subscribers (mirrors a host editor's initial-load setValue).
func (b *Buffer) SetValue(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value = text
}

// SetEOL records the forced end-of-line sequence.
func (b *Buffer) SetEOL(eol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.eol = eol
}

// PushEdit applies a batch of edits (addressed by UTF-16 offset, per
// OffsetToPosition/PositionToOffset below) and notifies content
// subscribers exactly as a real editor would for a programmatic edit —
// callers relying on an ignore-changes guard must set it themselves
// before calling PushEdit, matching how a server-originated apply works.
func (b *Buffer) PushEdit(edits []TextEdit) {
	if len(edits) == 0 {
		return
	}

	b.mu.Lock()
	units := utf16.Encode([]rune(b.value))

	sorted := append([]TextEdit(nil), edits...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Column > sorted[j].Start.Column })

	for _, e := range sorted {
		start, end := e.Start.Column, e.End.Column
		if start < 0 || end > len(units) || start > end {
			continue
		}
		textUnits := utf16.Encode([]rune(e.Text))
		merged := make([]uint16, 0, len(units)-(end-start)+len(textUnits))
		merged = append(merged, units[:start]...)
		merged = append(merged, textUnits...)
		merged = append(merged, units[end:]...)
		units = merged
	}

	b.value = string(utf16.Decode(units))
	subs := make([]func([]ChangeRange), 0, len(b.contentSubs))
	for _, fn := range b.contentSubs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	ranges := make([]ChangeRange, len(sorted))
	for i, e := range sorted {
		ranges[i] = ChangeRange{UTF16Offset: e.Start.Column, UTF16Length: e.End.Column - e.Start.Column, Text: e.Text}
	}
	for _, fn := range subs {
		fn(ranges)
	}
}

// OffsetToPosition treats the buffer as one logical line: Column is the
// UTF-16 offset itself.
func (b *Buffer) OffsetToPosition(offset int) Position {
	return Position{Line: 0, Column: offset}
}

// PositionToOffset is OffsetToPosition's inverse under the same
// single-line convention.
func (b *Buffer) PositionToOffset(pos Position) int {
	return pos.Column
}

// OnDidChangeContent registers fn and returns a Disposable that
// unregisters it.
func (b *Buffer) OnDidChangeContent(fn func([]ChangeRange)) Disposable {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSubID
	b.nextSubID++
	b.contentSubs[id] = fn
	return DisposableFunc(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.contentSubs, id)
	})
}

// OnDidChangeCursor registers fn and returns a Disposable.
func (b *Buffer) OnDidChangeCursor(fn func([]int)) Disposable {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSubID
	b.nextSubID++
	b.cursorSubs[id] = fn
	return DisposableFunc(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.cursorSubs, id)
	})
}

// OnDidChangeSelection registers fn and returns a Disposable.
func (b *Buffer) OnDidChangeSelection(fn func([][2]int)) Disposable {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSubID
	b.nextSubID++
	b.selectionSubs[id] = fn
	return DisposableFunc(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.selectionSubs, id)
	})
}

// EmitCursor lets a test or a host harness simulate a caret move.
func (b *Buffer) EmitCursor(offsets []int) {
	b.mu.Lock()
	subs := make([]func([]int), 0, len(b.cursorSubs))
	for _, fn := range b.cursorSubs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()
	for _, fn := range subs {
		fn(offsets)
	}
}

// EmitSelection lets a test or a host harness simulate a selection change.
func (b *Buffer) EmitSelection(selections [][2]int) {
	b.mu.Lock()
	subs := make([]func([][2]int), 0, len(b.selectionSubs))
	for _, fn := range b.selectionSubs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()
	for _, fn := range subs {
		fn(selections)
	}
}

// Type simulates local typing at a UTF-16 offset and fires the same
// change-content subscribers PushEdit does, so tests can drive local
// edits the way a real keystroke would.
func (b *Buffer) Type(offset, deleteLen int, text string) {
	b.mu.Lock()
	units := utf16.Encode([]rune(b.value))
	if offset < 0 || offset+deleteLen > len(units) {
		b.mu.Unlock()
		panic(fmt.Sprintf("editor.Buffer.Type: out of range offset=%d deleteLen=%d len=%d", offset, deleteLen, len(units)))
	}
	textUnits := utf16.Encode([]rune(text))
	merged := make([]uint16, 0, len(units)-deleteLen+len(textUnits))
	merged = append(merged, units[:offset]...)
	merged = append(merged, textUnits...)
	merged = append(merged, units[offset+deleteLen:]...)
	b.value = string(utf16.Decode(merged))
	subs := make([]func([]ChangeRange), 0, len(b.contentSubs))
	for _, fn := range b.contentSubs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	ranges := []ChangeRange{{UTF16Offset: offset, UTF16Length: deleteLen, Text: text}}
	for _, fn := range subs {
		fn(ranges)
	}
}

// DeltaDecorations tracks decoration ids without rendering anything —
// headless builds have no visual surface.
func (b *Buffer) DeltaDecorations(oldIDs []string, decorations []Decoration) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range oldIDs {
		delete(b.decorations, id)
	}
	newIDs := make([]string, len(decorations))
	for i, d := range decorations {
		id := fmt.Sprintf("dec-%d", b.nextDecID)
		b.nextDecID++
		b.decorations[id] = d
		newIDs[i] = id
	}
	return newIDs
}
