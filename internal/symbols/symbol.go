// Package symbols implements the symbol service the context stack and the
// section table consume: macro lookup, loop-variable binding, the PC
// pseudo-symbol, and the current label-scope pair.
package symbols

import "gbasm/internal/fstack"

// Kind discriminates symbol table entries.
type Kind uint8

const (
	KindVar Kind = iota
	KindLabel
	KindMacro
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindVar:
		return "variable"
	case KindLabel:
		return "label"
	case KindMacro:
		return "macro"
	case KindString:
		return "string"
	}
	return "unknown"
}

// Symbol is one table entry. Value is meaningful for variables and labels;
// Body, DefLine and DefNode only for macros.
type Symbol struct {
	Name    string
	Kind    Kind
	Value   int32
	Body    []byte
	DefLine uint32
	DefNode fstack.NodeID
}
