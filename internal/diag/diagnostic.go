package diag

import "fmt"

// Pos locates a diagnostic in the source being assembled. File holds the
// display name of the innermost context (a file path, or a synthesized
// macro/REPT name such as "main.asm::mac::REPT~2").
type Pos struct {
	File string
	Line uint32
}

func (p Pos) String() string {
	return fmt.Sprintf("%s(%d)", p.File, p.Line)
}

type Note struct {
	Pos Pos
	Msg string
}

type Diagnostic struct {
	Severity Severity
	Code     Code
	Message  string
	Primary  Pos
	Notes    []Note
}
