package section

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gbasm/internal/diag"
	"gbasm/internal/fstack"
	"gbasm/internal/source"
)

// fakeState is the minimal symbol service the table needs.
type fakeState struct {
	global, local string
	pc            int32
}

func (f *fakeState) LabelScopes() (string, string)  { return f.global, f.local }
func (f *fakeState) SetLabelScopes(g, l string)     { f.global, f.local = g, l }
func (f *fakeState) ResetLabelScopes()              { f.global, f.local = "", "" }
func (f *fakeState) PCValue() int32                 { return f.pc }

type fakeSource struct{}

func (fakeSource) FindMacro(string) (fstack.MacroDef, bool, bool) { return fstack.MacroDef{}, false, false }
func (fakeSource) BindVar(string, int32) bool                     { return true }

type fakeOutput struct {
	nodes []fstack.NodeID
}

func (f *fakeOutput) RegisterNode(id fstack.NodeID) { f.nodes = append(f.nodes, id) }

// Known/unknown expression stand-ins.
type constE int32

func (c constE) Known() (int32, bool)            { return int32(c), true }
func (c constE) PCRelative() (int32, bool, bool) { return 0, false, false }

type unknownE struct{}

func (unknownE) Known() (int32, bool)            { return 0, false }
func (unknownE) PCRelative() (int32, bool, bool) { return 0, false, false }

type testEnv struct {
	table *Table
	bag   *diag.Bag
	fstk  *fstack.Stack
	syms  *fakeState
	out   *fakeOutput
	dir   string
}

func newTestTable(t *testing.T, padByte byte) *testEnv {
	t.Helper()
	dir := t.TempDir()
	main := filepath.Join(dir, "main.asm")
	if err := os.WriteFile(main, []byte("\n\n\n\n\n\n\n\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	bag := diag.NewBag(32)
	rep := diag.BagReporter{Bag: bag}
	fstk := fstack.New(fstack.Options{
		Reporter:     rep,
		Files:        source.NewFileSet(),
		Symbols:      fakeSource{},
		IncludePaths: []string{dir},
	})
	if err := fstk.Init(main); err != nil {
		t.Fatalf("Init: %v", err)
	}

	syms := &fakeState{}
	out := &fakeOutput{}
	table := NewTable(Options{
		Reporter: rep,
		Stack:    fstk,
		Symbols:  syms,
		Output:   out,
		PadByte:  padByte,
	})
	return &testEnv{table: table, bag: bag, fstk: fstk, syms: syms, out: out, dir: dir}
}

func mustNewSection(t *testing.T, env *testEnv, name string, typ Type, org uint32, attrs Spec, mod Modifier) {
	t.Helper()
	if attrs.Bank == 0 {
		attrs.Bank = Unset
	}
	if err := env.table.NewSection(name, typ, org, attrs, mod); err != nil {
		t.Fatalf("NewSection %q: %v", name, err)
	}
}

func TestNewSectionCreatesRegion(t *testing.T) {
	env := newTestTable(t, 0)
	mustNewSection(t, env, "code", ROM0, Unset, Spec{}, ModNormal)

	sect := env.table.Current()
	if sect == nil || sect.Name != "code" {
		t.Fatalf("Current = %+v", sect)
	}
	if sect.Bank != 0 {
		t.Errorf("ROM0 must imply bank 0, got %d", sect.Bank)
	}
	if len(sect.Data) != int(ROM0.Info().Size) {
		t.Errorf("Expected a full-size data buffer, got %d bytes", len(sect.Data))
	}
	if env.table.FindByName("code") != sect {
		t.Error("FindByName should resolve the new region")
	}
	if len(env.out.nodes) != 1 {
		t.Errorf("Expected the declaration node to be registered, got %v", env.out.nodes)
	}
	if env.bag.HasErrors() {
		t.Errorf("Unexpected diagnostics: %v", env.bag.Items())
	}
}

func TestRAMSectionHasNoBuffer(t *testing.T) {
	env := newTestTable(t, 0)
	mustNewSection(t, env, "vars", WRAM0, Unset, Spec{}, ModNormal)

	if data := env.table.Current().Data; data != nil {
		t.Errorf("RAM sections must not allocate storage, got %d bytes", len(data))
	}
}

func TestNormalRedeclarationIsFatal(t *testing.T) {
	env := newTestTable(t, 0)
	mustNewSection(t, env, "code", ROM0, Unset, Spec{}, ModNormal)

	err := env.table.NewSection("code", ROM0, Unset, Spec{Bank: Unset}, ModNormal)
	if err == nil || !diag.IsFatal(err) {
		t.Fatalf("Expected a fatal redeclaration, got %v", err)
	}
	if !strings.Contains(err.Error(), `Cannot create section "code" (1 error)`) {
		t.Errorf("Unexpected summary %q", err.Error())
	}
	found := false
	for _, d := range env.bag.Items() {
		if d.Code == diag.SecRedeclared && strings.Contains(d.Message, "previously at") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected SecRedeclared naming the original site, got %v", env.bag.Items())
	}
}

func TestBankValidation(t *testing.T) {
	env := newTestTable(t, 0)

	// ROM0 is not bankable.
	if err := env.table.NewSection("a", ROM0, Unset, Spec{Bank: 1}, ModNormal); err != nil {
		t.Fatalf("NewSection: %v", err)
	}
	if !env.bag.HasErrors() || env.bag.Items()[0].Code != diag.SecBankNotAllowed {
		t.Fatalf("Expected SecBankNotAllowed, got %v", env.bag.Items())
	}

	// ROMX bank 0 is out of range (banks start at 1).
	env2 := newTestTable(t, 0)
	if err := env2.table.NewSection("b", ROMX, Unset, Spec{Bank: 0}, ModNormal); err != nil {
		t.Fatalf("NewSection: %v", err)
	}
	if !env2.bag.HasErrors() || env2.bag.Items()[0].Code != diag.SecBankOutOfRange {
		t.Fatalf("Expected SecBankOutOfRange, got %v", env2.bag.Items())
	}
}

func TestFixedAddressRangeCheck(t *testing.T) {
	env := newTestTable(t, 0)
	// 0x8000 is past the end of ROM0's window.
	if err := env.table.NewSection("c", ROM0, 0x8000, Spec{Bank: Unset}, ModNormal); err != nil {
		t.Fatalf("NewSection: %v", err)
	}
	if !env.bag.HasErrors() || env.bag.Items()[0].Code != diag.SecAddrOutOfRange {
		t.Errorf("Expected SecAddrOutOfRange, got %v", env.bag.Items())
	}
}

func TestAlignmentSixteenFixesAddress(t *testing.T) {
	// Only possible in ROM0, whose window starts at $0000.
	env := newTestTable(t, 0)
	mustNewSection(t, env, "r", ROM0, Unset, Spec{Align: 16, AlignOfs: 0x0123}, ModNormal)

	sect := env.table.Current()
	if sect.Align != 0 || sect.Org != 0x0123 {
		t.Errorf("ALIGN[16] must fix the address: align=%d org=$%04X", sect.Align, sect.Org)
	}
	if env.bag.HasErrors() {
		t.Errorf("Unexpected diagnostics: %v", env.bag.Items())
	}
}

func TestAlignmentTooLargeClamped(t *testing.T) {
	env := newTestTable(t, 0)
	mustNewSection(t, env, "r", ROM0, Unset, Spec{Align: 20, AlignOfs: 0x0100}, ModNormal)

	if !env.bag.HasErrors() || env.bag.Items()[0].Code != diag.SecAlignTooLarge {
		t.Fatalf("Expected SecAlignTooLarge, got %v", env.bag.Items())
	}
	// Clamped to 16, which then degenerates to a fixed address.
	sect := env.table.Current()
	if sect.Org != 0x0100 {
		t.Errorf("Expected the clamped alignment to fix the address, org=$%04X", sect.Org)
	}
}

func TestAlignmentUnattainable(t *testing.T) {
	env := newTestTable(t, 0)
	// HRAM starts at $FF80; ALIGN[8] needs a $xx00 boundary.
	mustNewSection(t, env, "h", HRAM, Unset, Spec{Align: 8}, ModNormal)

	if !env.bag.HasErrors() || env.bag.Items()[0].Code != diag.SecAlignUnattainable {
		t.Fatalf("Expected SecAlignUnattainable, got %v", env.bag.Items())
	}
	sect := env.table.Current()
	if sect.Align != 0 || sect.Org != 0 {
		t.Errorf("Expected constraints dropped after unattainable alignment: align=%d org=%d", sect.Align, sect.Org)
	}
}

func TestUnionMergeKeepsStricterAlignment(t *testing.T) {
	env := newTestTable(t, 0)
	mustNewSection(t, env, "u", WRAM0, Unset, Spec{Align: 4, AlignOfs: 2}, ModUnion)
	mustNewSection(t, env, "u", WRAM0, Unset, Spec{Align: 8, AlignOfs: 2}, ModUnion)

	sect := env.table.Current()
	if sect.Align != 8 || sect.AlignOfs != 2 {
		t.Errorf("Expected merged ALIGN[8, 2], got ALIGN[%d, %d]", sect.Align, sect.AlignOfs)
	}
	if env.bag.HasErrors() {
		t.Errorf("Unexpected diagnostics: %v", env.bag.Items())
	}
}

func TestUnionMergeIncompatibleAlignmentIsFatal(t *testing.T) {
	env := newTestTable(t, 0)
	mustNewSection(t, env, "u", WRAM0, Unset, Spec{Align: 4, AlignOfs: 2}, ModUnion)

	err := env.table.NewSection("u", WRAM0, Unset, Spec{Bank: Unset, Align: 8, AlignOfs: 3}, ModUnion)
	if err == nil || !strings.Contains(err.Error(), `Cannot create section "u" (1 error)`) {
		t.Fatalf("Expected a single-conflict fatal, got %v", err)
	}
	found := false
	for _, d := range env.bag.Items() {
		if d.Code == diag.SecAlignConflict {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected SecAlignConflict, got %v", env.bag.Items())
	}
}

func TestUnionMergeBatchesConflictsIntoOneFatal(t *testing.T) {
	env := newTestTable(t, 0)
	mustNewSection(t, env, "u", WRAM0, 0xC000, Spec{}, ModUnion)

	// Wrong type and wrong address: both conflicts must be reported, then
	// one fatal summary.
	err := env.table.NewSection("u", HRAM, 0xFF80, Spec{Bank: Unset}, ModUnion)
	if err == nil || !strings.Contains(err.Error(), `(2 errors)`) {
		t.Fatalf("Expected a two-conflict fatal, got %v", err)
	}
}

func TestUnionSizeIsMaxOfMembers(t *testing.T) {
	env := newTestTable(t, 0)
	mustNewSection(t, env, "u", WRAM0, Unset, Spec{}, ModUnion)
	if err := env.table.Skip(2, true); err != nil {
		t.Fatal(err)
	}
	if got := env.table.Current().Size; got != 2 {
		t.Fatalf("Size after first member = %d", got)
	}

	// Redeclaring the UNION rewinds the cursor to 0; the larger member
	// sets the final size.
	mustNewSection(t, env, "u", WRAM0, Unset, Spec{}, ModUnion)
	if got := env.table.SymbolOffset(); got != 0 {
		t.Fatalf("UNION redeclaration must reset the cursor, got %d", got)
	}
	if err := env.table.Skip(5, true); err != nil {
		t.Fatal(err)
	}
	if got := env.table.Current().Size; got != 5 {
		t.Errorf("Expected union size 5, got %d", got)
	}
}

func TestFragmentsConcatenate(t *testing.T) {
	env := newTestTable(t, 0)
	mustNewSection(t, env, "f", ROM0, Unset, Spec{}, ModFragment)
	for _, b := range []byte{1, 2, 3} {
		if err := env.table.ConstByte(b); err != nil {
			t.Fatal(err)
		}
	}

	mustNewSection(t, env, "f", ROM0, Unset, Spec{}, ModFragment)
	if got := env.table.SymbolOffset(); got != 3 {
		t.Fatalf("Fragment redeclaration must continue at the end, got %d", got)
	}
	if err := env.table.ConstByte(4); err != nil {
		t.Fatal(err)
	}

	sect := env.table.Current()
	if sect.Size != 4 {
		t.Errorf("Size = %d, want 4", sect.Size)
	}
	for i, want := range []byte{1, 2, 3, 4} {
		if sect.Data[i] != want {
			t.Errorf("Data[%d] = %d, want %d", i, sect.Data[i], want)
		}
	}
}

func TestFragmentFixedAddressIsEndRelative(t *testing.T) {
	env := newTestTable(t, 0)
	mustNewSection(t, env, "f", ROM0, Unset, Spec{}, ModFragment)
	if err := env.table.ConstByte(0xAA); err != nil {
		t.Fatal(err)
	}
	if err := env.table.ConstByte(0xBB); err != nil {
		t.Fatal(err)
	}

	// Fixing the second fragment at $0100 places the region's start two
	// bytes earlier.
	mustNewSection(t, env, "f", ROM0, 0x100, Spec{}, ModFragment)
	if got := env.table.Current().Org; got != 0xFE {
		t.Errorf("Org = $%04X, want $00FE", got)
	}
}

func TestSectionAlreadyOnStackIsFatal(t *testing.T) {
	env := newTestTable(t, 0)
	mustNewSection(t, env, "a", ROM0, Unset, Spec{}, ModNormal)
	env.table.PushSection()

	err := env.table.NewSection("a", ROM0, Unset, Spec{Bank: Unset}, ModNormal)
	if err == nil || !strings.Contains(err.Error(), "already on the stack") {
		t.Fatalf("Expected the on-stack fatal, got %v", err)
	}
}

func TestChangeSectionInsideUnionIsFatal(t *testing.T) {
	env := newTestTable(t, 0)
	mustNewSection(t, env, "w", WRAM0, Unset, Spec{}, ModNormal)
	env.table.StartUnion()

	err := env.table.NewSection("other", WRAM0, Unset, Spec{Bank: Unset}, ModNormal)
	if err == nil || !strings.Contains(err.Error(), "Cannot change the section within a UNION") {
		t.Fatalf("Expected the in-union fatal, got %v", err)
	}
}

func TestEndSection(t *testing.T) {
	env := newTestTable(t, 0)

	if err := env.table.EndSection(); err == nil {
		t.Error("ENDSECTION outside a section must be fatal")
	}

	mustNewSection(t, env, "w", WRAM0, Unset, Spec{}, ModNormal)
	env.syms.SetLabelScopes("Global", ".loc")
	if err := env.table.EndSection(); err != nil {
		t.Fatalf("EndSection: %v", err)
	}
	if env.table.Current() != nil {
		t.Error("Expected no active section after ENDSECTION")
	}
	if env.syms.global != "" || env.syms.local != "" {
		t.Error("ENDSECTION must reset the label scopes")
	}

	mustNewSection(t, env, "w2", WRAM0, Unset, Spec{}, ModNormal)
	env.table.StartUnion()
	if err := env.table.EndSection(); err == nil || !strings.Contains(err.Error(), "within a UNION") {
		t.Errorf("Expected the in-union fatal, got %v", err)
	}
}

func TestCheckSizes(t *testing.T) {
	env := newTestTable(t, 0)
	mustNewSection(t, env, "h", HRAM, Unset, Spec{}, ModNormal)
	if err := env.table.Skip(0x100, true); err != nil {
		t.Fatal(err)
	}

	env.table.CheckSizes()
	if !env.bag.HasErrors() {
		t.Fatal("Expected a grew-too-big error")
	}
	d := env.bag.Items()[0]
	if d.Code != diag.SecGrewTooBig || !strings.Contains(d.Message, "max size = 0x7F") {
		t.Errorf("Unexpected diagnostic %v", d)
	}
}

func TestIsSizeKnown(t *testing.T) {
	env := newTestTable(t, 0)
	mustNewSection(t, env, "frag", ROM0, Unset, Spec{}, ModFragment)
	frag := env.table.Current()

	mustNewSection(t, env, "plain", ROM0, Unset, Spec{}, ModNormal)
	plain := env.table.Current()

	if env.table.IsSizeKnown(frag) {
		t.Error("Fragments can always grow")
	}
	if env.table.IsSizeKnown(plain) {
		t.Error("The active section is still growing")
	}

	mustNewSection(t, env, "third", ROM0, Unset, Spec{}, ModNormal)
	if !env.table.IsSizeKnown(plain) {
		t.Error("A left plain section can no longer grow")
	}

	// Sections parked on the stack are still growing.
	env.table.PushSection()
	if env.table.IsSizeKnown(env.table.FindByName("third")) {
		t.Error("A stacked section can still grow")
	}
	if err := env.table.PopSection(); err != nil {
		t.Fatal(err)
	}
}
