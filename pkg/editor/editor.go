// Package editor defines the host text-editor contract this client is
// built against. Nothing in this package depends on a concrete editor
// widget: the js/wasm build adapts a Monaco/CodeMirror-class JS object
// (internal/jsbridge) to this interface, and tests/headless builds adapt
// an in-memory buffer to the same interface.
package editor

// Position is a line/column location, both zero-based, column counted in
// the host editor's native indexing (UTF-16 code units in a browser).
type Position struct {
	Line   int
	Column int
}

// Range is a half-open span between two Positions.
type Range struct {
	StartLine   int
	StartColumn int
	EndLine     int
	EndColumn   int
}

// TextEdit replaces the content between Start and End with Text.
type TextEdit struct {
	Start Position
	End   Position
	Text  string
}

// ChangeRange is one edited span reported by the host editor's
// change-content event, in UTF-16 code-unit offsets against the buffer
// content immediately before the edit.
type ChangeRange struct {
	UTF16Offset int
	UTF16Length int
	Text        string
}

// Decoration paints a caret or a selection range, styled by a CSS class.
type Decoration struct {
	Range       Range
	ClassName   string
	IsWholeLine bool
}

// Disposable detaches an event subscription or a decoration set.
type Disposable interface {
	Dispose()
}

// DisposableFunc adapts a plain func to Disposable.
type DisposableFunc func()

// Dispose calls f.
func (f DisposableFunc) Dispose() {
	if f != nil {
		f()
	}
}

// Editor is the text model and event surface this client drives and
// observes. session.NewManager forces the document EOL to LF through
// SetEOL before the first read; no other code normalizes line endings.
type Editor interface {
	// Value returns the current full buffer content.
	Value() string
	// SetValue replaces the entire buffer content, e.g. on initial load.
	SetValue(text string)
	// SetEOL forces the end-of-line sequence ("\n" or "\r\n").
	SetEOL(eol string)
	// PushEdit applies a batch of edits as a single host-editor undo
	// step, preserving caret intent the way the host's native edit API
	// does (so an applied remote op doesn't stomp the local caret).
	PushEdit(edits []TextEdit)
	// OffsetToPosition converts a native (UTF-16) offset to a Position.
	OffsetToPosition(offset int) Position
	// PositionToOffset converts a Position to a native (UTF-16) offset.
	PositionToOffset(pos Position) int

	// OnDidChangeContent fires with the edited ranges, in descending
	// offset order, whenever the buffer content changes.
	OnDidChangeContent(func(ranges []ChangeRange)) Disposable
	// OnDidChangeCursor fires with the current caret offsets.
	OnDidChangeCursor(func(offsets []int)) Disposable
	// OnDidChangeSelection fires with the current selection ranges.
	OnDidChangeSelection(func(selections [][2]int)) Disposable

	// DeltaDecorations replaces the decoration set identified by oldIDs
	// with decorations, returning the new set's ids.
	DeltaDecorations(oldIDs []string, decorations []Decoration) []string
}
