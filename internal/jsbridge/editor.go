//go:build js && wasm

// Package jsbridge adapts a host page's text editor widget (a Monaco- or
// CodeMirror-class object passed in from JS) to the pkg/editor.Editor
// interface, using the same js.FuncOf/js.ValueOf/js.Global wrap idiom
// cmd/ot-wasm-bridge/main.go uses to cross the Go/JS boundary.
package jsbridge

import (
	"syscall/js"

	"github.com/shiv248/kolabpad-client/pkg/editor"
)

// Editor wraps a JS host object exposing the method names below:
//
//	getValue() string
//	setValue(text string)
//	setEOL(eol string)
//	pushEditOperations(edits []{startLine,startColumn,endLine,endColumn,text})
//	offsetToPosition(offset int) {line, column}
//	positionToOffset(pos {line, column}) int
//	onDidChangeContent(fn) -> disposable
//	onDidChangeCursorPosition(fn) -> disposable
//	onDidChangeCursorSelection(fn) -> disposable
//	deltaDecorations(oldIds []string, decorations []{...}) []string
type Editor struct {
	host js.Value
}

// New wraps host, the JS editor object passed into the exported start
// function.
func New(host js.Value) *Editor {
	return &Editor{host: host}
}

func (e *Editor) Value() string {
	return e.host.Call("getValue").String()
}

func (e *Editor) SetValue(text string) {
	e.host.Call("setValue", text)
}

func (e *Editor) SetEOL(eol string) {
	e.host.Call("setEOL", eol)
}

func (e *Editor) PushEdit(edits []editor.TextEdit) {
	if len(edits) == 0 {
		return
	}
	jsEdits := make([]interface{}, len(edits))
	for i, ed := range edits {
		jsEdits[i] = map[string]interface{}{
			"startLine":   ed.Start.Line,
			"startColumn": ed.Start.Column,
			"endLine":     ed.End.Line,
			"endColumn":   ed.End.Column,
			"text":        ed.Text,
		}
	}
	e.host.Call("pushEditOperations", js.ValueOf(jsEdits))
}

func (e *Editor) OffsetToPosition(offset int) editor.Position {
	pos := e.host.Call("offsetToPosition", offset)
	return editor.Position{Line: pos.Get("line").Int(), Column: pos.Get("column").Int()}
}

func (e *Editor) PositionToOffset(pos editor.Position) int {
	jsPos := map[string]interface{}{"line": pos.Line, "column": pos.Column}
	return e.host.Call("positionToOffset", js.ValueOf(jsPos)).Int()
}

func (e *Editor) OnDidChangeContent(fn func([]editor.ChangeRange)) editor.Disposable {
	cb := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) == 0 {
			return nil
		}
		changes := args[0]
		length := changes.Length()
		ranges := make([]editor.ChangeRange, length)
		for i := 0; i < length; i++ {
			c := changes.Index(i)
			ranges[i] = editor.ChangeRange{
				UTF16Offset: c.Get("offset").Int(),
				UTF16Length: c.Get("length").Int(),
				Text:        c.Get("text").String(),
			}
		}
		fn(ranges)
		return nil
	})
	disposable := e.host.Call("onDidChangeContent", cb)
	return editor.DisposableFunc(func() {
		disposable.Call("dispose")
		cb.Release()
	})
}

func (e *Editor) OnDidChangeCursor(fn func([]int)) editor.Disposable {
	cb := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) == 0 {
			return nil
		}
		offsets := jsIntSlice(args[0])
		fn(offsets)
		return nil
	})
	disposable := e.host.Call("onDidChangeCursorPosition", cb)
	return editor.DisposableFunc(func() {
		disposable.Call("dispose")
		cb.Release()
	})
}

func (e *Editor) OnDidChangeSelection(fn func([][2]int)) editor.Disposable {
	cb := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) == 0 {
			return nil
		}
		arr := args[0]
		length := arr.Length()
		sels := make([][2]int, length)
		for i := 0; i < length; i++ {
			pair := arr.Index(i)
			sels[i] = [2]int{pair.Index(0).Int(), pair.Index(1).Int()}
		}
		fn(sels)
		return nil
	})
	disposable := e.host.Call("onDidChangeCursorSelection", cb)
	return editor.DisposableFunc(func() {
		disposable.Call("dispose")
		cb.Release()
	})
}

func (e *Editor) DeltaDecorations(oldIDs []string, decorations []editor.Decoration) []string {
	jsOld := make([]interface{}, len(oldIDs))
	for i, id := range oldIDs {
		jsOld[i] = id
	}
	jsDecorations := make([]interface{}, len(decorations))
	for i, d := range decorations {
		jsDecorations[i] = map[string]interface{}{
			"startLine":   d.Range.StartLine,
			"startColumn": d.Range.StartColumn,
			"endLine":     d.Range.EndLine,
			"endColumn":   d.Range.EndColumn,
			"className":   d.ClassName,
			"isWholeLine": d.IsWholeLine,
		}
	}
	result := e.host.Call("deltaDecorations", js.ValueOf(jsOld), js.ValueOf(jsDecorations))
	return jsStringSlice(result)
}

func jsIntSlice(v js.Value) []int {
	length := v.Length()
	out := make([]int, length)
	for i := 0; i < length; i++ {
		out[i] = v.Index(i).Int()
	}
	return out
}

func jsStringSlice(v js.Value) []string {
	length := v.Length()
	out := make([]string, length)
	for i := 0; i < length; i++ {
		out[i] = v.Index(i).String()
	}
	return out
}
