package section

import (
	"fmt"

	"gbasm/internal/diag"
	"gbasm/internal/fstack"
)

// SymbolState — узкий интерфейс к таблице символов: скоупы меток и PC.
// Реализация: symbols.Table.
type SymbolState interface {
	LabelScopes() (global, local string)
	SetLabelScopes(global, local string)
	ResetLabelScopes()
	PCValue() int32
}

// Output is the object-output collaborator; it pins file-stack nodes that
// become reachable from emitted records.
type Output interface {
	RegisterNode(id fstack.NodeID)
}

// Spec carries the optional attributes of a SECTION declaration.
type Spec struct {
	Bank     uint32 // Unset when unspecified
	Align    uint8  // power-of-two exponent, 0 = none
	AlignOfs uint16
}

// UnionEntry is one nested UNION level: the member start offset and the
// largest member size observed so far.
type UnionEntry struct {
	Start uint32
	Size  uint32
}

// StackEntry is the full active-section state saved by PUSHS.
type StackEntry struct {
	section     *Section
	loadSection *Section
	globalScope string
	localScope  string
	offset      uint32
	loadOffset  uint32
	unionStack  []UnionEntry
}

// Options configures a Table.
type Options struct {
	Reporter diag.Reporter
	Stack    *fstack.Stack
	Symbols  SymbolState
	Output   Output // may be nil
	PadByte  byte
}

// Table owns all named regions and the active-section bookkeeping for one
// assembly pass.
type Table struct {
	reporter diag.Reporter
	fstk     *fstack.Stack
	syms     SymbolState
	out      Output
	padByte  byte

	sections []*Section
	index    map[string]int // name -> index of first section with that name

	cur     *Section
	curLoad *Section

	// curOffset is the write cursor relative to the innermost target (the
	// LOAD overlay when one is active); loadOffset is the overlay's
	// position within its parent.
	curOffset  uint32
	loadOffset uint32

	loadGlobalScope string
	loadLocalScope  string

	unionStack []UnionEntry
	stack      []StackEntry

	fragLiteralID uint64
}

// NewTable builds an empty section table.
func NewTable(opts Options) *Table {
	return &Table{
		reporter: opts.Reporter,
		fstk:     opts.Stack,
		syms:     opts.Symbols,
		out:      opts.Output,
		padByte:  opts.PadByte,
		index:    make(map[string]int),
	}
}

func (t *Table) pos() diag.Pos {
	if t.fstk == nil {
		return diag.Pos{}
	}
	return t.fstk.Pos()
}

func (t *Table) errorf(code diag.Code, format string, args ...any) {
	diag.ReportError(t.reporter, code, t.pos(), fmt.Sprintf(format, args...)).Emit()
}

func (t *Table) warnf(code diag.Code, format string, args ...any) {
	diag.ReportWarning(t.reporter, code, t.pos(), fmt.Sprintf(format, args...)).Emit()
}

func (t *Table) requireSection() bool {
	if t.cur != nil {
		return true
	}
	t.errorf(diag.SecDataOutsideSection, "Cannot output data outside of a SECTION")
	return false
}

func (t *Table) requireCodeSection() bool {
	if !t.requireSection() {
		return false
	}
	if t.cur.Type.HasData() {
		return true
	}
	t.errorf(diag.SecNotCodeSection,
		"Section '%s' cannot contain code or data (not ROM0 or ROMX)", t.cur.Name)
	return false
}

// Count reports how many regions exist, fragments included.
func (t *Table) Count() int {
	return len(t.sections)
}

// ForEach visits every region in declaration order.
func (t *Table) ForEach(fn func(*Section)) {
	for _, sect := range t.sections {
		fn(sect)
	}
}

// FindByName returns the first region with the given name.
func (t *Table) FindByName(name string) *Section {
	if i, ok := t.index[name]; ok {
		return t.sections[i]
	}
	return nil
}

// Current returns the active section, nil when none.
func (t *Table) Current() *Section {
	return t.cur
}

// CurrentLoad returns the active LOAD overlay, nil when none.
func (t *Table) CurrentLoad() *Section {
	return t.curLoad
}

// SymbolSection is the region a label defined right now would land in.
func (t *Table) SymbolSection() *Section {
	if t.curLoad != nil {
		return t.curLoad
	}
	return t.cur
}

// SymbolOffset is the write cursor relative to the innermost target.
func (t *Table) SymbolOffset() uint32 {
	return t.curOffset
}

// OutputOffset is the write cursor relative to the section whose buffer
// receives the bytes.
func (t *Table) OutputOffset() uint32 {
	return t.curOffset + t.loadOffset
}

// OutputBank reports the active section's bank.
func (t *Table) OutputBank() (uint32, bool) {
	if t.cur == nil {
		return 0, false
	}
	return t.cur.Bank, true
}

// CheckSizes verifies no region outgrew its type's window; called at the end
// of the pass.
func (t *Table) CheckSizes() {
	for _, sect := range t.sections {
		if maxSize := sect.Type.Info().Size; sect.Size > maxSize {
			t.errorf(diag.SecGrewTooBig,
				"Section '%s' grew too big (max size = 0x%X bytes, reached 0x%X)",
				sect.Name, maxSize, sect.Size)
		}
	}
}

// IsSizeKnown reports whether a region can no longer grow.
func (t *Table) IsSizeKnown(sect *Section) bool {
	// UNION and FRAGMENT sections can always grow.
	if sect.Modifier != ModNormal {
		return false
	}
	// The current section (or current load section) is still growing.
	if sect == t.cur || sect == t.curLoad {
		return false
	}
	// Any section on the stack is still growing.
	for i := range t.stack {
		if t.stack[i].section != nil && t.stack[i].section.Name == sect.Name {
			return false
		}
	}
	return true
}

func mask(align uint8) uint32 {
	return (uint32(1) << align) - 1
}

// mergeSectUnion intersects a UNION redeclaration's placement constraints
// with the existing region's: two fixed addresses must agree, a fixed
// address must satisfy the other's alignment, and two alignments keep the
// stricter one provided the offsets are congruent under the smaller.
func (t *Table) mergeSectUnion(sect *Section, typ Type, org uint32, alignment uint8, alignOfs uint16) int {
	errs := 0
	sectError := func(code diag.Code, format string, args ...any) {
		t.errorf(code, format, args...)
		errs++
	}

	if typ.HasData() {
		sectError(diag.SecUnionHasData, "Cannot declare ROM sections as UNION")
	}

	if org != Unset {
		switch {
		case sect.Org != Unset && sect.Org != org:
			sectError(diag.SecFixedAddrConflict,
				"Section already declared as fixed at different address $%04x", sect.Org)
		case sect.Align != 0 && mask(sect.Align)&(org-uint32(sect.AlignOfs)) != 0:
			sectError(diag.SecAlignConflict,
				"Section already declared as aligned to %d bytes (offset %d)",
				uint32(1)<<sect.Align, sect.AlignOfs)
		default:
			// Otherwise, just override
			sect.Org = org
		}
	} else if alignment != 0 {
		switch {
		case sect.Org != Unset:
			if (sect.Org-uint32(alignOfs))&mask(alignment) != 0 {
				sectError(diag.SecFixedAddrConflict,
					"Section already declared as fixed at incompatible address $%04x", sect.Org)
			}
		case uint32(alignOfs)&mask(sect.Align) != uint32(sect.AlignOfs)&mask(alignment):
			sectError(diag.SecAlignConflict,
				"Section already declared with incompatible %d-byte alignment (offset %d)",
				uint32(1)<<sect.Align, sect.AlignOfs)
		case alignment > sect.Align:
			// The merged region keeps the larger alignment.
			sect.Align = alignment
			sect.AlignOfs = alignOfs
		}
	}

	return errs
}

// mergeFragments reconciles a FRAGMENT redeclaration. Identical math to
// UNION merging, but constraints are evaluated relative to the end of the
// bytes already accumulated: a fragment continues where the previous one
// left off.
func (t *Table) mergeFragments(sect *Section, org uint32, alignment uint8, alignOfs uint16) int {
	errs := 0
	sectError := func(code diag.Code, format string, args ...any) {
		t.errorf(code, format, args...)
		errs++
	}

	if org != Unset {
		curOrg := (org - sect.Size) & 0xFFFF

		switch {
		case sect.Org != Unset && sect.Org != curOrg:
			sectError(diag.SecFixedAddrConflict,
				"Section already declared as fixed at incompatible address $%04x", sect.Org)
		case sect.Align != 0 && mask(sect.Align)&(curOrg-uint32(sect.AlignOfs)) != 0:
			sectError(diag.SecAlignConflict,
				"Section already declared as aligned to %d bytes (offset %d)",
				uint32(1)<<sect.Align, sect.AlignOfs)
		default:
			sect.Org = curOrg
		}
	} else if alignment != 0 {
		curOfs := (int64(alignOfs) - int64(sect.Size)) % (int64(1) << alignment)
		if curOfs < 0 {
			curOfs += int64(1) << alignment
		}
		ofs := uint32(curOfs)

		switch {
		case sect.Org != Unset:
			if (sect.Org-ofs)&mask(alignment) != 0 {
				sectError(diag.SecFixedAddrConflict,
					"Section already declared as fixed at incompatible address $%04x", sect.Org)
			}
		case ofs&mask(sect.Align) != uint32(sect.AlignOfs)&mask(alignment):
			sectError(diag.SecAlignConflict,
				"Section already declared with incompatible %d-byte alignment (offset %d)",
				uint32(1)<<sect.Align, sect.AlignOfs)
		case alignment > sect.Align:
			sect.Align = alignment
			sect.AlignOfs = uint16(ofs)
		}
	}

	return errs
}

// mergeSections reconciles a redeclaration with the existing region.
// Conflicts are batched into a count and reported once as a single fatal
// summary, so the user sees every conflict for the declaration together.
func (t *Table) mergeSections(sect *Section, typ Type, org, bank uint32, alignment uint8, alignOfs uint16, mod Modifier) error {
	errs := 0
	sectError := func(code diag.Code, format string, args ...any) {
		t.errorf(code, format, args...)
		errs++
	}

	if typ != sect.Type {
		sectError(diag.SecTypeConflict,
			"Section already exists but with type %s", sect.Type)
	}

	if sect.Modifier != mod {
		sectError(diag.SecModifierConflict,
			"Section already declared as %s", sect.Modifier)
	} else {
		switch mod {
		case ModUnion, ModFragment:
			if mod == ModUnion {
				errs += t.mergeSectUnion(sect, typ, org, alignment, alignOfs)
			} else {
				errs += t.mergeFragments(sect, org, alignment, alignOfs)
			}

			// Bank: unset inherits, set-set must match.
			if sect.Bank == Unset {
				sect.Bank = bank
			} else if bank != Unset && sect.Bank != bank {
				sectError(diag.SecBankConflict,
					"Section already declared with different bank %d", sect.Bank)
			}

		case ModNormal:
			declaredAt := t.fstk.Nodes().Dump(sect.Src, sect.FileLine)
			sectError(diag.SecRedeclared,
				"Section already defined previously at %s", declaredAt)
		}
	}

	if errs != 0 {
		plural := "s"
		if errs == 1 {
			plural = ""
		}
		return diag.Fatalf(t.pos(),
			"Cannot create section \"%s\" (%d error%s)", sect.Name, errs, plural)
	}
	return nil
}

func (t *Table) createSection(name string, typ Type, org, bank uint32, alignment uint8, alignOfs uint16, mod Modifier) *Section {
	sect := &Section{
		Name:     name,
		Type:     typ,
		Modifier: mod,
		Org:      org,
		Bank:     bank,
		Align:    alignment,
		AlignOfs: alignOfs,
		Src:      t.fstk.GetFileStack(),
		FileLine: t.fstk.Line(),
	}
	if _, ok := t.index[name]; !ok {
		t.index[name] = len(t.sections)
	}
	t.sections = append(t.sections, sect)

	if t.out != nil {
		t.out.RegisterNode(sect.Src)
	}

	// Only data-bearing sections need backing storage.
	if typ.HasData() {
		sect.Data = make([]byte, typ.Info().Size)
	}
	return sect
}

// createFragmentLiteral adds an anonymous fragment sharing the parent's
// name, type and bank, but with fresh placement constraints. The name index
// keeps pointing at the parent.
func (t *Table) createFragmentLiteral(parent *Section) *Section {
	bank := parent.Bank
	if bank == 0 {
		bank = Unset
	}
	sect := &Section{
		Name:     parent.Name,
		Type:     parent.Type,
		Modifier: ModFragment,
		Org:      Unset,
		Bank:     bank,
		Src:      t.fstk.GetFileStack(),
		FileLine: t.fstk.Line(),
	}
	t.sections = append(t.sections, sect)

	if t.out != nil {
		t.out.RegisterNode(sect.Src)
	}

	// Fragment literals only make sense in ROM sections.
	sect.Data = make([]byte, sect.Type.Info().Size)
	return sect
}

// getSection validates the declaration parameters, normalizes them, then
// either creates the region or merges with the existing one.
func (t *Table) getSection(name string, typ Type, org uint32, attrs Spec, mod Modifier) (*Section, error) {
	bank := attrs.Bank
	alignment := attrs.Align
	alignOfs := attrs.AlignOfs

	if bank != Unset {
		info := typ.Info()
		if !typ.Bankable() {
			t.errorf(diag.SecBankNotAllowed, "BANK only allowed for ROMX, WRAMX, SRAM, or VRAM sections")
		} else if bank < info.FirstBank || bank > info.LastBank {
			t.errorf(diag.SecBankOutOfRange,
				"%s bank value $%04x out of range ($%04x to $%04x)",
				typ, bank, info.FirstBank, info.LastBank)
		}
	} else if typ.NBanks() == 1 {
		// A single-bank type implies its bank even when unspecified.
		bank = typ.Info().FirstBank
	}

	if uint32(alignOfs) >= uint32(1)<<alignment {
		t.errorf(diag.SecAlignOffsetTooLarge,
			"Alignment offset (%d) must be smaller than alignment size (%d)",
			alignOfs, uint32(1)<<alignment)
		alignOfs = 0
	}

	if org != Unset {
		if org < uint32(typ.Info().StartAddr) || org > uint32(typ.EndAddr()) {
			t.errorf(diag.SecAddrOutOfRange,
				"Section \"%s\"'s fixed address $%04x is outside of range [$%04x; $%04x]",
				name, org, typ.Info().StartAddr, typ.EndAddr())
		}
	}

	if alignment != 0 {
		if alignment > 16 {
			t.errorf(diag.SecAlignTooLarge, "Alignment must be between 0 and 16, not %d", alignment)
			alignment = 16
		}
		m := mask(alignment)
		switch {
		case org != Unset:
			if (org-uint32(alignOfs))&m != 0 {
				t.errorf(diag.SecAddrAlignMismatch,
					"Section \"%s\"'s fixed address doesn't match its alignment", name)
			}
			alignment = 0 // ignore it once satisfied
		case uint32(typ.Info().StartAddr)&m != 0:
			t.errorf(diag.SecAlignUnattainable,
				"Section \"%s\"'s alignment cannot be attained in %s", name, typ)
			alignment = 0
			org = 0
		case alignment == 16:
			// An alignment of 16 leaves no bits of freedom: it fixes the
			// address outright.
			alignment = 0
			org = uint32(alignOfs)
		}
	}

	if sect := t.FindByName(name); sect != nil {
		if err := t.mergeSections(sect, typ, org, bank, alignment, alignOfs, mod); err != nil {
			return nil, err
		}
		return sect, nil
	}
	return t.createSection(name, typ, org, bank, alignment, alignOfs, mod), nil
}

// changeSection resets label scoping when the active section changes; doing
// so inside a UNION would leave the member accounting ill-defined.
func (t *Table) changeSection() error {
	if len(t.unionStack) != 0 {
		return diag.Fatalf(t.pos(), "Cannot change the section within a UNION")
	}
	t.syms.ResetLabelScopes()
	return nil
}

// NewSection enters a region declared with the given attributes, creating or
// merging as needed.
func (t *Table) NewSection(name string, typ Type, org uint32, attrs Spec, mod Modifier) error {
	for i := range t.stack {
		if t.stack[i].section != nil && t.stack[i].section.Name == name {
			return diag.Fatalf(t.pos(), "Section '%s' is already on the stack", name)
		}
	}

	if t.curLoad != nil {
		t.EndLoadSection("SECTION")
	}

	sect, err := t.getSection(name, typ, org, attrs, mod)
	if err != nil {
		return err
	}

	if err := t.changeSection(); err != nil {
		return err
	}
	if mod == ModUnion {
		t.curOffset = 0
	} else {
		t.curOffset = sect.Size
	}
	t.loadOffset = 0 // still used when checking for section size overflow
	t.cur = sect
	return nil
}

// SetLoadSection enters a LOAD overlay: a non-data-bearing region whose
// bytes are written into the enclosing code section's buffer while its own
// size is tracked separately.
func (t *Table) SetLoadSection(name string, typ Type, org uint32, attrs Spec, mod Modifier) error {
	// UNION and LOAD cannot interact: UNION is prohibited in code
	// sections, whereas LOAD is restricted to them.

	if !t.requireCodeSection() {
		return nil
	}

	if typ.HasData() {
		t.errorf(diag.SecLoadCreatesRom, "`LOAD` blocks cannot create a ROM section")
		return nil
	}

	if t.curLoad != nil {
		t.EndLoadSection("LOAD")
	}

	sect, err := t.getSection(name, typ, org, attrs, mod)
	if err != nil {
		return err
	}

	t.loadGlobalScope, t.loadLocalScope = t.syms.LabelScopes()
	if err := t.changeSection(); err != nil {
		return err
	}
	base := sect.Size
	if mod == ModUnion {
		base = 0
	}
	t.loadOffset = t.curOffset - base
	t.curOffset -= t.loadOffset
	t.curLoad = sect
	return nil
}

// EndLoadSection closes the active LOAD overlay. A non-empty cause marks an
// implicit close and warns.
func (t *Table) EndLoadSection(cause string) {
	if cause != "" {
		t.warnf(diag.WarnUnterminatedLoad, "`LOAD` block without `ENDL` terminated by `%s`", cause)
	}

	if t.curLoad == nil {
		t.errorf(diag.SecEndLOutsideLoad, "Found `ENDL` outside of a `LOAD` block")
		return
	}

	// A LOAD overlay cannot be open while a UNION is, so changeSection
	// cannot fail here.
	_ = t.changeSection()
	t.curOffset += t.loadOffset
	t.loadOffset = 0
	t.curLoad = nil
	t.syms.SetLabelScopes(t.loadGlobalScope, t.loadLocalScope)
}

// CheckLoadClosed warns when a LOAD overlay is still open at end of input.
func (t *Table) CheckLoadClosed() {
	if t.curLoad != nil {
		t.warnf(diag.WarnUnterminatedLoad, "`LOAD` block without `ENDL` terminated by EOF")
	}
}

// EndSection leaves the active section explicitly.
func (t *Table) EndSection() error {
	if t.cur == nil {
		return diag.Fatalf(t.pos(), "Cannot end the section outside of a SECTION")
	}
	if len(t.unionStack) != 0 {
		return diag.Fatalf(t.pos(), "Cannot end the section within a UNION")
	}
	if t.curLoad != nil {
		t.EndLoadSection("ENDSECTION")
	}

	t.cur = nil
	t.syms.ResetLabelScopes()
	return nil
}
