package section

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gbasm/internal/diag"
)

// growSection advances the cursor and raises the active section's (and any
// active LOAD overlay's) recorded size to the high-water mark.
func (t *Table) growSection(growth uint32) error {
	if growth > 0 && t.curOffset > math.MaxUint32-growth {
		return diag.Fatalf(t.pos(), "Section size would overflow internal counter")
	}
	t.curOffset += growth
	if outOffset := t.OutputOffset(); outOffset > t.cur.Size {
		t.cur.Size = outOffset
	}
	if t.curLoad != nil && t.curOffset > t.curLoad.Size {
		t.curLoad.Size = t.curOffset
	}
	return nil
}

// writeByte stores one byte into the underlying buffer when in bounds.
// Writes past the buffer can only follow an earlier error; the size tracking
// still advances so the overflow is caught by CheckSizes.
func (t *Table) writeByte(b byte) error {
	if index := t.OutputOffset(); index < uint32(len(t.cur.Data)) {
		t.cur.Data[index] = b
	}
	return t.growSection(1)
}

func (t *Table) writeWord(v uint16) error {
	if err := t.writeByte(byte(v)); err != nil {
		return err
	}
	return t.writeByte(byte(v >> 8))
}

func (t *Table) writeLong(v uint32) error {
	if err := t.writeByte(byte(v)); err != nil {
		return err
	}
	if err := t.writeByte(byte(v >> 8)); err != nil {
		return err
	}
	if err := t.writeByte(byte(v >> 16)); err != nil {
		return err
	}
	return t.writeByte(byte(v >> 24))
}

func (t *Table) createPatch(typ PatchType, expr Expression, pcShift uint32) {
	t.cur.AddPatch(typ, t.OutputOffset(), pcShift, expr)
}

// GetAlignBytes returns how many bytes must be emitted for the given
// alignment and offset to be reached, 0 when the section carries no
// alignment information.
func (t *Table) GetAlignBytes(alignment uint8, offset uint16) uint32 {
	sect := t.SymbolSection()
	if sect == nil {
		return 0
	}

	isFixed := sect.Org != Unset

	// Fixed sections count as maximally aligned.
	curAlignment := sect.Align
	if isFixed {
		curAlignment = 16
	}
	if curAlignment == 0 {
		return 0
	}

	pcValue := uint16(sect.AlignOfs)
	if isFixed {
		pcValue = uint16(sect.Org)
	}
	eff := alignment
	if curAlignment < eff {
		eff = curAlignment
	}
	// We need (pcValue + curOffset + result) % (1 << alignment) == offset.
	return uint32(uint16(offset-uint16(t.curOffset)-pcValue)) % (uint32(1) << eff)
}

// AlignPC implements the ALIGN directive: verify the requirement against a
// fixed address, or tighten the region's alignment, fixing the address when
// the exponent pins it uniquely.
func (t *Table) AlignPC(alignment uint8, offset uint16) {
	if !t.requireSection() {
		return
	}

	sect := t.SymbolSection()
	alignSize := uint32(1) << alignment

	if sect.Org != Unset {
		if actual := (sect.Org + t.curOffset) % alignSize; actual != uint32(offset) {
			t.errorf(diag.SecMisaligned,
				"Section is misaligned (at PC = $%04x, expected ALIGN[%d, %d], got ALIGN[%d, %d])",
				sect.Org+t.curOffset, alignment, offset, alignment, actual)
		}
		return
	}

	actual := (uint32(sect.AlignOfs) + t.curOffset) % alignSize
	sectAlignSize := uint32(1) << sect.Align
	switch {
	case sect.Align != 0 && actual%sectAlignSize != uint32(offset)%sectAlignSize:
		t.errorf(diag.SecMisaligned,
			"Section is misaligned ($%04x bytes into the section, expected ALIGN[%d, %d], got ALIGN[%d, %d])",
			t.curOffset, alignment, offset, alignment, actual)
	case alignment >= 16:
		// An alignment this large fixes the address; a section's own
		// alignment therefore never reaches 16.
		if alignment > 16 {
			t.errorf(diag.SecAlignTooLarge, "Alignment must be between 0 and 16, not %d", alignment)
		}
		sect.Align = 0
		sect.Org = uint32(offset) - t.curOffset
	case alignment > sect.Align:
		sect.Align = alignment
		// We need (sect.AlignOfs + curOffset) % alignSize == offset.
		sect.AlignOfs = uint16((uint32(offset) - t.curOffset) % alignSize)
	}
}

// ConstByte emits one literal byte.
func (t *Table) ConstByte(b byte) error {
	if !t.requireCodeSection() {
		return nil
	}
	return t.writeByte(b)
}

func (t *Table) checkUnits(units []int32, bits uint, what string) {
	min := int32(-1) << (bits - 1)
	max := int32(1)<<bits - 1
	for _, unit := range units {
		if unit < min || unit > max {
			t.errorf(diag.SecCharUnitOutOfRange,
				"%s must be %d-bit, got %d", what, bits, unit)
			break
		}
	}
}

// ByteString emits a string as 8-bit units, warning once about any unit that
// does not fit.
func (t *Table) ByteString(units []int32) error {
	if !t.requireCodeSection() {
		return nil
	}
	t.checkUnits(units, 8, "All character units")
	for _, unit := range units {
		if err := t.writeByte(byte(unit)); err != nil {
			return err
		}
	}
	return nil
}

// WordString emits a string as little-endian 16-bit units.
func (t *Table) WordString(units []int32) error {
	if !t.requireCodeSection() {
		return nil
	}
	t.checkUnits(units, 16, "All character units")
	for _, unit := range units {
		if err := t.writeWord(uint16(unit)); err != nil {
			return err
		}
	}
	return nil
}

// LongString emits a string as little-endian 32-bit units.
func (t *Table) LongString(units []int32) error {
	if !t.requireCodeSection() {
		return nil
	}
	for _, unit := range units {
		if err := t.writeLong(uint32(unit)); err != nil {
			return err
		}
	}
	return nil
}

// Skip advances the cursor by skip bytes: reserving space in RAM sections,
// emitting the pad byte in ROM ones. ds marks an explicit DS directive; a
// bare data directive without arguments warns instead.
func (t *Table) Skip(skip uint32, ds bool) error {
	if !t.requireSection() {
		return nil
	}

	if !t.cur.Type.HasData() {
		return t.growSection(skip)
	}

	if !ds {
		name := "DB"
		switch skip {
		case 4:
			name = "DL"
		case 2:
			name = "DW"
		}
		t.warnf(diag.WarnEmptyDataDirective, "%s directive without data in ROM", name)
	}
	for i := uint32(0); i < skip; i++ {
		if err := t.writeByte(t.padByte); err != nil {
			return err
		}
	}
	return nil
}

// RelByte emits an expression as one byte, deferring to a patch record when
// it is not yet known.
func (t *Table) RelByte(expr Expression, pcShift uint32) error {
	if !t.requireCodeSection() {
		return nil
	}
	if v, known := expr.Known(); known {
		return t.writeByte(byte(v))
	}
	t.createPatch(PatchByte, expr, pcShift)
	return t.writeByte(0)
}

// RelBytes emits n bytes cycling through the given expressions.
func (t *Table) RelBytes(n uint32, exprs []Expression) error {
	if !t.requireCodeSection() {
		return nil
	}
	for i := uint32(0); i < n; i++ {
		expr := exprs[int(i)%len(exprs)]
		if v, known := expr.Known(); known {
			if err := t.writeByte(byte(v)); err != nil {
				return err
			}
			continue
		}
		t.createPatch(PatchByte, expr, i)
		if err := t.writeByte(0); err != nil {
			return err
		}
	}
	return nil
}

// RelWord emits an expression as a little-endian word.
func (t *Table) RelWord(expr Expression, pcShift uint32) error {
	if !t.requireCodeSection() {
		return nil
	}
	if v, known := expr.Known(); known {
		return t.writeWord(uint16(v))
	}
	t.createPatch(PatchWord, expr, pcShift)
	return t.writeWord(0)
}

// RelLong emits an expression as a little-endian long.
func (t *Table) RelLong(expr Expression, pcShift uint32) error {
	if !t.requireCodeSection() {
		return nil
	}
	if v, known := expr.Known(); known {
		return t.writeLong(uint32(v))
	}
	t.createPatch(PatchLong, expr, pcShift)
	return t.writeLong(0)
}

// PCRelByte emits a PC-relative jump operand. A target out of the encodable
// [-128, 127] range is a recoverable error emitting a zero placeholder.
func (t *Table) PCRelByte(expr Expression, pcShift uint32) error {
	if !t.requireCodeSection() {
		return nil
	}

	target, selfPC, ok := expr.PCRelative()
	if !ok {
		t.createPatch(PatchJR, expr, pcShift)
		return t.writeByte(0)
	}

	// The offset is relative to the byte after the operand.
	var offset int32
	if selfPC {
		offset = -2 // PC as operand to jr is lower than the reference PC by 2
	} else {
		offset = target - (t.syms.PCValue() + 1)
	}

	if offset < -128 || offset > 127 {
		t.errorf(diag.SecJrTargetOutOfRange,
			"JR target must be between -128 and 127 bytes away, not %d; use JP instead", offset)
		return t.writeByte(0)
	}
	return t.writeByte(byte(offset))
}

// BinaryFile includes a whole binary file starting at startPos, routing every
// byte through the same write path as any other emitted datum.
func (t *Table) BinaryFile(name string, startPos uint32) error {
	if !t.requireCodeSection() {
		return nil
	}

	f := t.openBinary(name)
	if f == nil {
		return nil
	}
	defer f.Close()

	if !t.seekToStart(f, name, startPos) {
		return nil
	}

	buf := make([]byte, 1)
	for {
		n, err := f.Read(buf)
		if n == 1 {
			if werr := t.writeByte(buf[0]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.errorf(diag.SecIncbinReadError,
					"Error reading INCBIN file '%s': %v", name, err)
			}
			return nil
		}
	}
}

// BinaryFileSlice includes length bytes of a binary file starting at
// startPos. Reading past the declared length or past end-of-file is a
// recoverable error.
func (t *Table) BinaryFileSlice(name string, startPos, length uint32) error {
	if !t.requireCodeSection() {
		return nil
	}
	if length == 0 { // don't even bother with 0-byte slices
		return nil
	}

	f := t.openBinary(name)
	if f == nil {
		return nil
	}
	defer f.Close()

	if fsize, err := f.Seek(0, io.SeekEnd); err == nil {
		if uint64(startPos) > uint64(fsize) {
			t.errorf(diag.SecIncbinStartPastEOF,
				"Specified start position is greater than length of file '%s'", name)
			return nil
		}
		if uint64(startPos)+uint64(length) > uint64(fsize) {
			t.errorf(diag.SecIncbinRangeOutOfBounds,
				"Specified range in INCBIN file '%s' is out of bounds (%d + %d > %d)",
				name, startPos, length, fsize)
			return nil
		}
		if _, err := f.Seek(int64(startPos), io.SeekStart); err != nil {
			t.errorf(diag.SecIncbinReadError,
				"Error reading INCBIN file '%s': %v", name, err)
			return nil
		}
	} else if !t.skipUnseekable(f, name, startPos) {
		return nil
	}

	buf := make([]byte, 1)
	for remaining := length; remaining > 0; remaining-- {
		n, err := f.Read(buf)
		switch {
		case n == 1:
			if werr := t.writeByte(buf[0]); werr != nil {
				return werr
			}
		case err != nil && !errors.Is(err, io.EOF):
			t.errorf(diag.SecIncbinReadError,
				"Error reading INCBIN file '%s': %v", name, err)
		default:
			t.errorf(diag.SecIncbinPrematureEnd,
				"Premature end of INCBIN file '%s' (%d bytes left to read)", name, remaining)
		}
	}
	return nil
}

// openBinary resolves name through the include search and opens it; a miss
// is handled by the file stack's dependency-generation rules.
func (t *Table) openBinary(name string) *os.File {
	full, found := t.fstk.FindFile(name)
	if found {
		if f, err := os.Open(full); err == nil {
			return f
		}
	}
	t.fstk.FileError(name, "INCBIN")
	return nil
}

// seekToStart positions a whole-file INCBIN at startPos, falling back to
// byte-by-byte consumption on non-seekable streams.
func (t *Table) seekToStart(f *os.File, name string, startPos uint32) bool {
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return t.skipUnseekable(f, name, startPos)
	}
	if uint64(startPos) > uint64(size) {
		t.errorf(diag.SecIncbinStartPastEOF,
			"Specified start position is greater than length of file '%s'", name)
		return false
	}
	if _, err := f.Seek(int64(startPos), io.SeekStart); err != nil {
		t.errorf(diag.SecIncbinReadError,
			"Error reading INCBIN file '%s': %v", name, err)
		return false
	}
	return true
}

// skipUnseekable consumes startPos bytes one at a time from a stream that
// cannot seek.
func (t *Table) skipUnseekable(f *os.File, name string, startPos uint32) bool {
	if _, err := io.CopyN(io.Discard, f, int64(startPos)); err != nil {
		t.errorf(diag.SecIncbinStartPastEOF,
			"Specified start position is greater than length of file '%s'", name)
		return false
	}
	return true
}

// PushFragmentLiteral opens an inline anonymous fragment for scoped bytes:
// the enclosing section becomes a FRAGMENT (the literal must stay freely
// relocatable at link time), the section scope is pushed, and a new region
// sharing the parent's name becomes active. The returned identifier names
// the literal's symbolic address.
func (t *Table) PushFragmentLiteral() (string, error) {
	if t.cur == nil {
		return "", diag.Fatalf(t.pos(), "Cannot output fragment literals outside of a SECTION")
	}
	if !t.cur.Type.HasData() {
		return "", diag.Fatalf(t.pos(),
			"Section '%s' cannot contain fragment literals (not ROM0 or ROMX)", t.cur.Name)
	}
	if t.curLoad != nil {
		return "", diag.Fatalf(t.pos(), "`LOAD` blocks cannot contain fragment literals")
	}
	if t.cur.Modifier == ModUnion {
		return "", diag.Fatalf(t.pos(), "`SECTION UNION` cannot contain fragment literals")
	}

	// A section containing a fragment literal has to become a fragment too.
	t.cur.Modifier = ModFragment

	parent := t.cur
	t.PushSection() // resets the current section

	sect := t.createFragmentLiteral(parent)

	if err := t.changeSection(); err != nil {
		return "", err
	}
	t.curOffset = sect.Size
	t.cur = sect

	id := fmt.Sprintf("$%d", t.fragLiteralID)
	t.fragLiteralID++
	return id, nil
}
