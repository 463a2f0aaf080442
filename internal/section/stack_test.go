package section

import (
	"strings"
	"testing"

	"gbasm/internal/diag"
)

func TestPushPopRestoresState(t *testing.T) {
	env := newTestTable(t, 0)
	mustNewSection(t, env, "a", ROM0, Unset, Spec{}, ModNormal)
	if err := env.table.ConstByte(1); err != nil {
		t.Fatal(err)
	}
	if err := env.table.ConstByte(2); err != nil {
		t.Fatal(err)
	}
	env.syms.SetLabelScopes("Global", ".loc")

	env.table.PushSection()
	if env.table.Current() != nil {
		t.Error("PUSHS must leave no active section")
	}
	if env.syms.global != "" || env.syms.local != "" {
		t.Error("PUSHS must reset the label scopes")
	}

	mustNewSection(t, env, "b", WRAM0, Unset, Spec{}, ModNormal)
	if err := env.table.Skip(7, true); err != nil {
		t.Fatal(err)
	}

	if err := env.table.PopSection(); err != nil {
		t.Fatalf("PopSection: %v", err)
	}
	if cur := env.table.Current(); cur == nil || cur.Name != "a" {
		t.Fatalf("POPS must restore the saved section, got %+v", cur)
	}
	if got := env.table.SymbolOffset(); got != 2 {
		t.Errorf("POPS must restore the cursor, got %d", got)
	}
	if env.syms.global != "Global" || env.syms.local != ".loc" {
		t.Error("POPS must restore the label scopes")
	}

	// Writes resume where the section left off.
	if err := env.table.ConstByte(3); err != nil {
		t.Fatal(err)
	}
	if sect := env.table.Current(); sect.Size != 3 || sect.Data[2] != 3 {
		t.Errorf("Resumed write landed wrong: size=%d data=%v", sect.Size, sect.Data[:3])
	}
}

func TestPopEmptyStackIsFatal(t *testing.T) {
	env := newTestTable(t, 0)
	err := env.table.PopSection()
	if err == nil || !strings.Contains(err.Error(), "No entries in the section stack") {
		t.Fatalf("Expected the empty-stack fatal, got %v", err)
	}
}

func TestPushSavesUnionState(t *testing.T) {
	env := newTestTable(t, 0)
	mustNewSection(t, env, "w", WRAM0, Unset, Spec{}, ModNormal)
	env.table.StartUnion()
	if err := env.table.Skip(3, true); err != nil {
		t.Fatal(err)
	}

	env.table.PushSection()

	// The new scope carries no union, so sections can be switched freely.
	mustNewSection(t, env, "other", WRAM0, Unset, Spec{}, ModNormal)

	if err := env.table.PopSection(); err != nil {
		t.Fatal(err)
	}
	env.table.EndUnion()
	if env.bag.HasErrors() {
		t.Errorf("Restored union state should close cleanly: %v", env.bag.Items())
	}
	if got := env.table.SymbolOffset(); got != 3 {
		t.Errorf("Cursor after ENDU = %d, want 3", got)
	}
}

func TestCheckStackWarnsOnDanglingPush(t *testing.T) {
	env := newTestTable(t, 0)
	env.table.PushSection()
	env.table.CheckStack()

	if !env.bag.HasWarnings() {
		t.Fatal("Expected a PUSHS-without-POPS warning")
	}
	d := env.bag.Items()[0]
	if d.Code != diag.WarnUnmatchedDirective || !strings.Contains(d.Message, "`PUSHS` without corresponding `POPS`") {
		t.Errorf("Unexpected diagnostic %v", d)
	}
}

func TestUnionReservesLargestMember(t *testing.T) {
	env := newTestTable(t, 0)
	mustNewSection(t, env, "w", WRAM0, Unset, Spec{}, ModNormal)

	env.table.StartUnion()
	if err := env.table.Skip(2, true); err != nil {
		t.Fatal(err)
	}
	env.table.NextUnionMember()
	if got := env.table.SymbolOffset(); got != 0 {
		t.Fatalf("NEXTU must rewind to the union start, got %d", got)
	}
	if err := env.table.Skip(5, true); err != nil {
		t.Fatal(err)
	}
	env.table.EndUnion()

	if got := env.table.SymbolOffset(); got != 5 {
		t.Errorf("ENDU must advance past the largest member, got %d", got)
	}
	if got := env.table.Current().Size; got != 5 {
		t.Errorf("Size = %d, want 5", got)
	}
}

func TestNestedUnions(t *testing.T) {
	env := newTestTable(t, 0)
	mustNewSection(t, env, "w", WRAM0, Unset, Spec{}, ModNormal)

	env.table.StartUnion()
	if err := env.table.Skip(1, true); err != nil {
		t.Fatal(err)
	}
	// Inner union sits one byte in; its largest member is 4 bytes.
	env.table.StartUnion()
	if err := env.table.Skip(4, true); err != nil {
		t.Fatal(err)
	}
	env.table.NextUnionMember()
	if err := env.table.Skip(2, true); err != nil {
		t.Fatal(err)
	}
	env.table.EndUnion()
	if got := env.table.SymbolOffset(); got != 5 {
		t.Fatalf("Inner ENDU cursor = %d, want 5", got)
	}

	env.table.NextUnionMember()
	if err := env.table.Skip(3, true); err != nil {
		t.Fatal(err)
	}
	env.table.EndUnion()

	if got := env.table.SymbolOffset(); got != 5 {
		t.Errorf("Outer ENDU cursor = %d, want 5", got)
	}
}

func TestUnionOutsideSection(t *testing.T) {
	env := newTestTable(t, 0)
	env.table.StartUnion()
	if !env.bag.HasErrors() || env.bag.Items()[0].Code != diag.SecDataOutsideSection {
		t.Errorf("Expected SecDataOutsideSection, got %v", env.bag.Items())
	}
}

func TestUnionInRomSection(t *testing.T) {
	env := newTestTable(t, 0)
	mustNewSection(t, env, "r", ROM0, Unset, Spec{}, ModNormal)
	env.table.StartUnion()
	if !env.bag.HasErrors() || env.bag.Items()[0].Code != diag.SecUnionInRom {
		t.Errorf("Expected SecUnionInRom, got %v", env.bag.Items())
	}
}

func TestStrayUnionTerminators(t *testing.T) {
	env := newTestTable(t, 0)
	mustNewSection(t, env, "w", WRAM0, Unset, Spec{}, ModNormal)

	env.table.NextUnionMember()
	env.table.EndUnion()

	items := env.bag.Items()
	if len(items) != 2 || items[0].Code != diag.SecNextUOutsideUnion || items[1].Code != diag.SecEndUOutsideUnion {
		t.Errorf("Unexpected diagnostics %v", items)
	}
}

func TestCheckUnionClosed(t *testing.T) {
	env := newTestTable(t, 0)
	mustNewSection(t, env, "w", WRAM0, Unset, Spec{}, ModNormal)
	env.table.StartUnion()
	env.table.CheckUnionClosed()

	if !env.bag.HasErrors() || env.bag.Items()[0].Code != diag.SecUnterminatedUnion {
		t.Errorf("Expected SecUnterminatedUnion, got %v", env.bag.Items())
	}
}

func TestLoadOverlay(t *testing.T) {
	env := newTestTable(t, 0xFF)
	mustNewSection(t, env, "code", ROM0, Unset, Spec{}, ModNormal)
	if err := env.table.ConstByte(0x11); err != nil {
		t.Fatal(err)
	}
	if err := env.table.ConstByte(0x22); err != nil {
		t.Fatal(err)
	}

	env.syms.SetLabelScopes("Outer", "")
	if err := env.table.SetLoadSection("ram", WRAM0, Unset, Spec{Bank: Unset}, ModNormal); err != nil {
		t.Fatalf("SetLoadSection: %v", err)
	}

	load := env.table.CurrentLoad()
	if load == nil || load.Name != "ram" {
		t.Fatalf("CurrentLoad = %+v", load)
	}
	if env.table.SymbolSection() != load {
		t.Error("Labels inside a LOAD block must land in the overlay")
	}
	if got := env.table.SymbolOffset(); got != 0 {
		t.Fatalf("Cursor inside the overlay starts at its size, got %d", got)
	}
	if got := env.table.OutputOffset(); got != 2 {
		t.Fatalf("Output cursor must stay in the host section, got %d", got)
	}

	// Bytes written inside LOAD land in the host buffer while the overlay
	// tracks its own size.
	if err := env.table.ConstByte(0x33); err != nil {
		t.Fatal(err)
	}
	host := env.table.Current()
	if host.Data[2] != 0x33 {
		t.Errorf("Overlay byte must land in the host buffer, got %v", host.Data[:3])
	}
	if host.Size != 3 || load.Size != 1 {
		t.Errorf("host.Size=%d load.Size=%d, want 3 and 1", host.Size, load.Size)
	}

	env.table.EndLoadSection("")
	if env.table.CurrentLoad() != nil {
		t.Error("ENDL must close the overlay")
	}
	if got := env.table.SymbolOffset(); got != 3 {
		t.Errorf("ENDL must restore the host cursor, got %d", got)
	}
	if env.syms.global != "Outer" {
		t.Error("ENDL must restore the label scopes captured at LOAD")
	}
	if env.bag.HasErrors() || env.bag.HasWarnings() {
		t.Errorf("Unexpected diagnostics: %v", env.bag.Items())
	}
}

func TestLoadResumedOverlayContinues(t *testing.T) {
	env := newTestTable(t, 0)
	mustNewSection(t, env, "code", ROM0, Unset, Spec{}, ModNormal)

	if err := env.table.SetLoadSection("ram", WRAM0, Unset, Spec{Bank: Unset}, ModNormal); err != nil {
		t.Fatal(err)
	}
	if err := env.table.ConstByte(1); err != nil {
		t.Fatal(err)
	}
	env.table.EndLoadSection("")

	// Re-entering the same overlay picks up after its accumulated size...
	// which requires a UNION or FRAGMENT modifier; a plain re-LOAD is a
	// redeclaration and fails like any other.
	err := env.table.SetLoadSection("ram", WRAM0, Unset, Spec{Bank: Unset}, ModNormal)
	if err == nil || !strings.Contains(err.Error(), `Cannot create section "ram"`) {
		t.Fatalf("Expected the redeclaration fatal, got %v", err)
	}
}

func TestLoadUnionOverlayRestartsAtZero(t *testing.T) {
	env := newTestTable(t, 0)
	mustNewSection(t, env, "code", ROM0, Unset, Spec{}, ModNormal)

	if err := env.table.SetLoadSection("ram", WRAM0, Unset, Spec{Bank: Unset}, ModUnion); err != nil {
		t.Fatal(err)
	}
	if err := env.table.Skip(4, true); err != nil {
		t.Fatal(err)
	}
	env.table.EndLoadSection("")

	if err := env.table.SetLoadSection("ram", WRAM0, Unset, Spec{Bank: Unset}, ModUnion); err != nil {
		t.Fatal(err)
	}
	if got := env.table.SymbolOffset(); got != 0 {
		t.Errorf("A UNION overlay restarts at offset 0, got %d", got)
	}
	if err := env.table.Skip(2, true); err != nil {
		t.Fatal(err)
	}
	env.table.EndLoadSection("")

	if got := env.table.FindByName("ram").Size; got != 4 {
		t.Errorf("Overlay size must stay at the largest member, got %d", got)
	}
}

func TestLoadRequiresCodeSection(t *testing.T) {
	env := newTestTable(t, 0)
	mustNewSection(t, env, "w", WRAM0, Unset, Spec{}, ModNormal)

	if err := env.table.SetLoadSection("ram", WRAM0, Unset, Spec{Bank: Unset}, ModNormal); err != nil {
		t.Fatal(err)
	}
	if !env.bag.HasErrors() || env.bag.Items()[0].Code != diag.SecNotCodeSection {
		t.Errorf("Expected SecNotCodeSection, got %v", env.bag.Items())
	}
}

func TestLoadCannotCreateRomSection(t *testing.T) {
	env := newTestTable(t, 0)
	mustNewSection(t, env, "code", ROM0, Unset, Spec{}, ModNormal)

	if err := env.table.SetLoadSection("more", ROMX, Unset, Spec{Bank: 1}, ModNormal); err != nil {
		t.Fatal(err)
	}
	if !env.bag.HasErrors() || env.bag.Items()[0].Code != diag.SecLoadCreatesRom {
		t.Errorf("Expected SecLoadCreatesRom, got %v", env.bag.Items())
	}
}

func TestEndLoadOutsideBlock(t *testing.T) {
	env := newTestTable(t, 0)
	mustNewSection(t, env, "code", ROM0, Unset, Spec{}, ModNormal)

	env.table.EndLoadSection("")
	if !env.bag.HasErrors() || env.bag.Items()[0].Code != diag.SecEndLOutsideLoad {
		t.Errorf("Expected SecEndLOutsideLoad, got %v", env.bag.Items())
	}
}

func TestImplicitLoadTermination(t *testing.T) {
	causes := []struct {
		name string
		run  func(env *testEnv)
		want string
	}{
		{"section", func(env *testEnv) {
			mustNewSection(t, env, "next", ROM0, Unset, Spec{}, ModNormal)
		}, "terminated by `SECTION`"},
		{"pops", func(env *testEnv) {
			if err := env.table.PopSection(); err != nil {
				t.Fatal(err)
			}
		}, "terminated by `POPS`"},
		{"endsection", func(env *testEnv) {
			if err := env.table.EndSection(); err != nil {
				t.Fatal(err)
			}
		}, "terminated by `ENDSECTION`"},
		{"eof", func(env *testEnv) {
			env.table.CheckLoadClosed()
		}, "terminated by EOF"},
	}

	for _, tc := range causes {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestTable(t, 0)
			if tc.name == "pops" {
				env.table.PushSection()
			}
			mustNewSection(t, env, "code", ROM0, Unset, Spec{}, ModNormal)
			if err := env.table.SetLoadSection("ram", WRAM0, Unset, Spec{Bank: Unset}, ModNormal); err != nil {
				t.Fatal(err)
			}

			tc.run(env)

			if !env.bag.HasWarnings() {
				t.Fatal("Expected an unterminated-LOAD warning")
			}
			found := false
			for _, d := range env.bag.Items() {
				if d.Code == diag.WarnUnterminatedLoad && strings.Contains(d.Message, tc.want) {
					found = true
				}
			}
			if !found {
				t.Errorf("Expected a warning containing %q, got %v", tc.want, env.bag.Items())
			}
		})
	}
}
