// Package section implements the assembler's section/layout table: named
// memory regions accumulating emitted bytes, their placement constraints,
// UNION/FRAGMENT merge rules, LOAD overlays, and the PUSHS/POPS stack.
package section

// Type is the symbolic memory region kind; it determines whether a section
// holds data and what address and bank ranges it may occupy.
type Type uint8

const (
	WRAM0 Type = iota
	VRAM
	ROMX
	ROM0
	HRAM
	WRAMX
	SRAM
	OAM

	NumTypes = OAM + 1
)

// TypeInfo describes one region kind's layout constraints.
type TypeInfo struct {
	Name      string
	StartAddr uint16
	Size      uint32
	FirstBank uint32
	LastBank  uint32
	HasData   bool
}

var typeInfo = [...]TypeInfo{
	WRAM0: {Name: "WRAM0", StartAddr: 0xC000, Size: 0x1000, FirstBank: 0, LastBank: 0},
	VRAM:  {Name: "VRAM", StartAddr: 0x8000, Size: 0x2000, FirstBank: 0, LastBank: 1},
	ROMX:  {Name: "ROMX", StartAddr: 0x4000, Size: 0x4000, FirstBank: 1, LastBank: 511, HasData: true},
	ROM0:  {Name: "ROM0", StartAddr: 0x0000, Size: 0x4000, FirstBank: 0, LastBank: 0, HasData: true},
	HRAM:  {Name: "HRAM", StartAddr: 0xFF80, Size: 0x7F, FirstBank: 0, LastBank: 0},
	WRAMX: {Name: "WRAMX", StartAddr: 0xD000, Size: 0x1000, FirstBank: 1, LastBank: 7},
	SRAM:  {Name: "SRAM", StartAddr: 0xA000, Size: 0x2000, FirstBank: 0, LastBank: 15},
	OAM:   {Name: "OAM", StartAddr: 0xFE00, Size: 0xA0, FirstBank: 0, LastBank: 0},
}

// Info returns the layout constraints for a type.
func (t Type) Info() TypeInfo {
	return typeInfo[t]
}

func (t Type) String() string {
	return typeInfo[t].Name
}

// HasData reports whether sections of this type carry a byte buffer.
func (t Type) HasData() bool {
	return typeInfo[t].HasData
}

// EndAddr is the last valid address of the type's window.
func (t Type) EndAddr() uint16 {
	info := typeInfo[t]
	return info.StartAddr + uint16(info.Size) - 1
}

// NBanks reports how many banks the type spans.
func (t Type) NBanks() uint32 {
	info := typeInfo[t]
	return info.LastBank - info.FirstBank + 1
}

// Bankable reports whether a BANK attribute is meaningful for the type.
func (t Type) Bankable() bool {
	switch t {
	case ROMX, VRAM, SRAM, WRAMX:
		return true
	}
	return false
}

// Modifier adjusts how repeated declarations of one name reconcile.
type Modifier uint8

const (
	// ModNormal sections may be declared exactly once.
	ModNormal Modifier = iota
	// ModUnion sections overlap their declarations in storage.
	ModUnion
	// ModFragment sections concatenate their declarations.
	ModFragment
)

func (m Modifier) String() string {
	switch m {
	case ModNormal:
		return "SECTION"
	case ModUnion:
		return "SECTION UNION"
	case ModFragment:
		return "SECTION FRAGMENT"
	}
	return "SECTION"
}

// PatchType tags a deferred relocation record.
type PatchType uint8

const (
	PatchByte PatchType = iota
	PatchWord
	PatchLong
	PatchJR
)

func (p PatchType) String() string {
	switch p {
	case PatchByte:
		return "byte"
	case PatchWord:
		return "word"
	case PatchLong:
		return "long"
	case PatchJR:
		return "jr"
	}
	return "unknown"
}
