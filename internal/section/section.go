package section

import (
	"gbasm/internal/fstack"
)

// Unset marks an org or bank that was not specified.
const Unset = ^uint32(0)

// Expression is the evaluated form the section table consumes; parsing and
// evaluation live with the directive layer.
type Expression interface {
	// Known returns the constant value when the expression is fully
	// resolved at emission time.
	Known() (int32, bool)
	// PCRelative reports whether the expression is the program counter
	// plus a known constant: target is the absolute target value, selfPC
	// is true when the expression is PC itself.
	PCRelative() (target int32, selfPC bool, ok bool)
}

// Patch is a deferred relocation record for an expression not yet resolvable
// at emission time.
type Patch struct {
	Type    PatchType
	Offset  uint32 // byte offset within the section
	PCShift uint32
	Expr    Expression
}

// Section is one named memory region accumulating emitted bytes.
type Section struct {
	Name     string
	Type     Type
	Modifier Modifier

	// Org is the fixed address, Unset when floating. Align is a
	// power-of-two exponent (0 = none) with AlignOfs the offset within the
	// aligned block.
	Org      uint32
	Bank     uint32
	Align    uint8
	AlignOfs uint16

	Size uint32
	Data []byte // populated only for data-bearing types

	// Src and FileLine record the declaration site for diagnostics.
	Src      fstack.NodeID
	FileLine uint32

	Patches []Patch
}

// AddPatch appends a deferred relocation record.
func (s *Section) AddPatch(t PatchType, offset, pcShift uint32, expr Expression) {
	s.Patches = append(s.Patches, Patch{Type: t, Offset: offset, PCShift: pcShift, Expr: expr})
}
