package section

import (
	"gbasm/internal/diag"
)

// PushSection saves the full active-section state and clears the scope to
// "no active section".
func (t *Table) PushSection() {
	global, local := t.syms.LabelScopes()
	t.stack = append(t.stack, StackEntry{
		section:     t.cur,
		loadSection: t.curLoad,
		globalScope: global,
		localScope:  local,
		offset:      t.curOffset,
		loadOffset:  t.loadOffset,
		unionStack:  t.unionStack,
	})

	t.cur = nil
	t.curLoad = nil
	t.syms.ResetLabelScopes()
	t.unionStack = nil
}

// PopSection restores the state saved by the matching PushSection,
// auto-closing any dangling LOAD overlay first.
func (t *Table) PopSection() error {
	if len(t.stack) == 0 {
		return diag.Fatalf(t.pos(), "No entries in the section stack")
	}

	if t.curLoad != nil {
		t.EndLoadSection("POPS")
	}

	entry := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]

	if err := t.changeSection(); err != nil {
		return err
	}
	t.cur = entry.section
	t.curLoad = entry.loadSection
	t.syms.SetLabelScopes(entry.globalScope, entry.localScope)
	t.curOffset = entry.offset
	t.loadOffset = entry.loadOffset
	t.unionStack = entry.unionStack
	return nil
}

// CheckStack warns about PUSHS left unmatched at end of input.
func (t *Table) CheckStack() {
	if len(t.stack) != 0 {
		t.warnf(diag.WarnUnmatchedDirective, "`PUSHS` without corresponding `POPS`")
	}
}

// StartUnion opens a UNION scope at the current cursor. Only legal inside a
// non-data-bearing section, since ROM storage cannot be reused.
func (t *Table) StartUnion() {
	if t.cur == nil {
		t.errorf(diag.SecDataOutsideSection, "UNIONs must be inside a SECTION")
		return
	}
	if t.cur.Type.HasData() {
		t.errorf(diag.SecUnionInRom, "Cannot use UNION inside of ROM0 or ROMX sections")
		return
	}

	t.unionStack = append(t.unionStack, UnionEntry{Start: t.curOffset, Size: 0})
}

// endUnionMember records the closing member's size and rewinds the cursor to
// the union's start.
func (t *Table) endUnionMember() {
	member := &t.unionStack[len(t.unionStack)-1]
	memberSize := t.curOffset - member.Start
	if memberSize > member.Size {
		member.Size = memberSize
	}
	t.curOffset = member.Start
}

// NextUnionMember closes the current member and starts the next one at the
// union's start offset.
func (t *Table) NextUnionMember() {
	if len(t.unionStack) == 0 {
		t.errorf(diag.SecNextUOutsideUnion, "Found NEXTU outside of a UNION construct")
		return
	}
	t.endUnionMember()
}

// EndUnion closes the union, advancing the cursor past its largest member.
func (t *Table) EndUnion() {
	if len(t.unionStack) == 0 {
		t.errorf(diag.SecEndUOutsideUnion, "Found ENDU outside of a UNION construct")
		return
	}
	t.endUnionMember()
	t.curOffset += t.unionStack[len(t.unionStack)-1].Size
	t.unionStack = t.unionStack[:len(t.unionStack)-1]
}

// CheckUnionClosed reports a UNION left open at end of scope.
func (t *Table) CheckUnionClosed() {
	if len(t.unionStack) != 0 {
		t.errorf(diag.SecUnterminatedUnion, "Unterminated UNION construct")
	}
}
