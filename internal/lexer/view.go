// Package lexer provides the source-view layer the context stack drives: one
// View per open file, macro body, or REPT/FOR body. Token scanning proper
// lives with the directive parser; the context stack only needs cursors, line
// numbers, and conditional-nesting depth.
package lexer

import (
	"fmt"

	"fortio.org/safecast"

	"gbasm/internal/source"
)

// View представляет собой открытый источник: файл или сырой буфер
// (тело макроса, тело REPT/FOR).
type View struct {
	// Name is the display label of this view: a file path for file views,
	// "MACRO" or "REPT" for body views.
	Name string

	buf       []byte
	off       uint32
	limit     uint32
	startLine uint32 // line the body starts at, for Restart
	line      uint32 // current line, 1-based
	ifDepth   uint32
}

// OpenFile loads path through the file set and returns a view positioned at
// its first byte.
func OpenFile(fs *source.FileSet, path string) (*View, error) {
	id, err := fs.Load(path)
	if err != nil {
		return nil, err
	}
	f := fs.Get(id)
	return newView(f.Path, f.Content, 1), nil
}

// OpenVirtual wraps an already-loaded file without touching the disk.
func OpenVirtual(f *source.File) *View {
	return newView(f.Path, f.Content, 1)
}

// OpenBody opens a view over a raw buffer: a macro body or a REPT/FOR body.
// startLine is the line the body begins at in its defining context.
func OpenBody(label string, body []byte, startLine uint32) *View {
	return newView(label, body, startLine)
}

func newView(name string, buf []byte, startLine uint32) *View {
	limit, err := safecast.Conv[uint32](len(buf))
	if err != nil {
		panic(fmt.Errorf("len view buffer overflow: %w", err))
	}
	return &View{
		Name:      name,
		buf:       buf,
		off:       0,
		limit:     limit,
		startLine: startLine,
		line:      startLine - 1,
	}
}

// EOF проверяет, достигнут ли конец буфера
func (v *View) EOF() bool {
	return v.off >= v.limit
}

// Line returns the 1-based line number of the line most recently returned by
// NextLine; diagnostics emitted while a statement is processed attribute to
// it. Before the first NextLine it is one less than the body's start line.
func (v *View) Line() uint32 {
	return v.line
}

// SetLine overrides the current line number. The context stack uses this to
// point a REPT body view at the line of the defining directive.
func (v *View) SetLine(line uint32) {
	v.line = line
}

// NextLine returns the next source line without its trailing newline and
// advances the cursor past it. ok is false at end of buffer.
func (v *View) NextLine() (text string, ok bool) {
	if v.EOF() {
		return "", false
	}
	v.line++
	start := v.off
	for v.off < v.limit && v.buf[v.off] != '\n' {
		v.off++
	}
	text = string(v.buf[start:v.off])
	if v.off < v.limit {
		v.off++ // consume the newline
	}
	return text, true
}

// Restart rewinds the view to the start of its body for the next REPT/FOR
// iteration, resetting the line counter to the body's starting line.
func (v *View) Restart(bodyLine uint32) {
	v.off = 0
	v.startLine = bodyLine
	v.line = bodyLine - 1
}

// Cursor is a saved position within a view.
type Cursor struct {
	Off  uint32
	Line uint32
}

// Cursor captures the current position.
func (v *View) Cursor() Cursor {
	return Cursor{Off: v.off, Line: v.line}
}

// SetCursor restores a previously captured position.
func (v *View) SetCursor(c Cursor) {
	v.off = c.Off
	v.line = c.Line
}

// EnterIF records entry into a conditional block.
func (v *View) EnterIF() {
	v.ifDepth++
}

// ExitIF records leaving a conditional block; underflow is a caller bug.
func (v *View) ExitIF() {
	if v.ifDepth == 0 {
		panic("lexer: IF depth underflow")
	}
	v.ifDepth--
}

// IFDepth reports the nesting depth of unterminated conditional blocks.
func (v *View) IFDepth() uint32 {
	return v.ifDepth
}
