package diagfmt

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gbasm/internal/diag"
	"gbasm/internal/fstack"
	"gbasm/internal/section"
	"gbasm/internal/source"
)

func TestPrettyFormatsDiagnostics(t *testing.T) {
	bag := diag.NewBag(4)
	diag.ReportError(diag.BagReporter{Bag: bag}, diag.SecRedeclared,
		diag.Pos{File: "main.asm", Line: 12}, "Section already defined").
		WithNote(diag.Pos{File: "main.asm", Line: 3}, "first defined here").
		Emit()
	diag.ReportWarning(diag.BagReporter{Bag: bag}, diag.WarnUnmatchedDirective,
		diag.Pos{File: "main.asm", Line: 20}, "`PUSHS` without corresponding `POPS`").Emit()

	var buf bytes.Buffer
	Pretty(&buf, bag, PrettyOpts{ShowNotes: true})

	want := "main.asm(12): ERROR[SEC2016]: Section already defined\n" +
		"    note: main.asm(3): first defined here\n" +
		"main.asm(20): WARNING[WRN4003]: `PUSHS` without corresponding `POPS`\n"
	if buf.String() != want {
		t.Errorf("Pretty output:\n%q\nwant:\n%q", buf.String(), want)
	}
}

func TestPrettyHidesNotes(t *testing.T) {
	bag := diag.NewBag(4)
	diag.ReportError(diag.BagReporter{Bag: bag}, diag.SecRedeclared,
		diag.Pos{File: "a.asm", Line: 1}, "msg").
		WithNote(diag.Pos{}, "hidden").
		Emit()

	var buf bytes.Buffer
	Pretty(&buf, bag, PrettyOpts{})
	if strings.Contains(buf.String(), "note:") {
		t.Errorf("Notes must be suppressed: %q", buf.String())
	}
}

type fakeState struct{ global, local string }

func (f *fakeState) LabelScopes() (string, string) { return f.global, f.local }
func (f *fakeState) SetLabelScopes(g, l string)    { f.global, f.local = g, l }
func (f *fakeState) ResetLabelScopes()             { f.global, f.local = "", "" }
func (f *fakeState) PCValue() int32                { return 0 }

type fakeSource struct{}

func (fakeSource) FindMacro(string) (fstack.MacroDef, bool, bool) { return fstack.MacroDef{}, false, false }
func (fakeSource) BindVar(string, int32) bool                     { return true }

func newTestTable(t *testing.T) *section.Table {
	t.Helper()
	dir := t.TempDir()
	main := filepath.Join(dir, "main.asm")
	if err := os.WriteFile(main, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	bag := diag.NewBag(16)
	rep := diag.BagReporter{Bag: bag}
	fstk := fstack.New(fstack.Options{
		Reporter: rep,
		Files:    source.NewFileSet(),
		Symbols:  fakeSource{},
	})
	if err := fstk.Init(main); err != nil {
		t.Fatal(err)
	}
	return section.NewTable(section.Options{
		Reporter: rep,
		Stack:    fstk,
		Symbols:  &fakeState{},
	})
}

func fillTable(t *testing.T, table *section.Table) {
	t.Helper()
	if err := table.NewSection("code", section.ROMX, 0x4000,
		section.Spec{Bank: 2}, section.ModNormal); err != nil {
		t.Fatal(err)
	}
	if err := table.ConstByte(0x00); err != nil {
		t.Fatal(err)
	}
	if err := table.NewSection("vars", section.WRAM0, section.Unset,
		section.Spec{Bank: section.Unset, Align: 3, AlignOfs: 1}, section.ModUnion); err != nil {
		t.Fatal(err)
	}
}

func TestFormatSectionsPretty(t *testing.T) {
	table := newTestTable(t)
	fillTable(t, table)

	var buf bytes.Buffer
	if err := FormatSectionsPretty(&buf, table); err != nil {
		t.Fatalf("FormatSectionsPretty: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %q", buf.String())
	}
	if lines[0] != `ROMX "code": line 0 at $4000, BANK[2], 1 bytes, 0 patches` {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != `WRAM0 "vars" (SECTION UNION): line 0 at floating, BANK[0], ALIGN[3, 1], 0 bytes, 0 patches` {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestFormatSectionsJSON(t *testing.T) {
	table := newTestTable(t)
	fillTable(t, table)

	var buf bytes.Buffer
	if err := FormatSectionsJSON(&buf, table, JSONOpts{}); err != nil {
		t.Fatalf("FormatSectionsJSON: %v", err)
	}

	var out []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if len(out) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(out))
	}
	if out[0]["name"] != "code" || out[0]["type"] != "ROMX" || out[0]["org"] != float64(0x4000) {
		t.Errorf("record 0 = %v", out[0])
	}
	if _, present := out[1]["org"]; present {
		t.Error("A floating section must omit org")
	}
	if out[1]["modifier"] != "SECTION UNION" || out[1]["align"] != float64(3) {
		t.Errorf("record 1 = %v", out[1])
	}
}

func TestFormatSectionsJSONMax(t *testing.T) {
	table := newTestTable(t)
	fillTable(t, table)

	var buf bytes.Buffer
	if err := FormatSectionsJSON(&buf, table, JSONOpts{Max: 1}); err != nil {
		t.Fatal(err)
	}
	var out []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Errorf("Expected the output capped at 1 record, got %d", len(out))
	}
}
