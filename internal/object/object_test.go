package object

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"gbasm/internal/diag"
	"gbasm/internal/fstack"
	"gbasm/internal/section"
	"gbasm/internal/source"
)

type fakeState struct {
	global, local string
}

func (f *fakeState) LabelScopes() (string, string) { return f.global, f.local }
func (f *fakeState) SetLabelScopes(g, l string)    { f.global, f.local = g, l }
func (f *fakeState) ResetLabelScopes()             { f.global, f.local = "", "" }
func (f *fakeState) PCValue() int32                { return 0 }

type fakeSource struct{}

func (fakeSource) FindMacro(string) (fstack.MacroDef, bool, bool) { return fstack.MacroDef{}, false, false }
func (fakeSource) BindVar(string, int32) bool                     { return true }

type unknownE struct{}

func (unknownE) Known() (int32, bool)            { return 0, false }
func (unknownE) PCRelative() (int32, bool, bool) { return 0, false, false }

func TestRegisterNodePinsAncestors(t *testing.T) {
	nodes := fstack.NewNodes(0)
	root := nodes.New(fstack.Node{Kind: fstack.NodeFile, Name: "main.asm"})
	child := nodes.New(fstack.Node{Kind: fstack.NodeRept, Parent: root, LineNo: 4, Iters: []uint32{2}})

	w := NewWriter(nodes)
	w.RegisterNode(child)
	w.RegisterNode(child) // idempotent

	payload := w.Build(section.NewTable(section.Options{}))
	if len(payload.Nodes) != 2 {
		t.Fatalf("Nodes = %d, want 2 (child plus its ancestor)", len(payload.Nodes))
	}
	if payload.Nodes[0].Parent != 1 {
		t.Errorf("Child record must point at the ancestor, got %d", payload.Nodes[0].Parent)
	}
	if payload.Nodes[1].Parent != -1 || payload.Nodes[1].Name != "main.asm" {
		t.Errorf("Root record = %+v", payload.Nodes[1])
	}
	if len(payload.Nodes[0].Iters) != 1 || payload.Nodes[0].Iters[0] != 2 {
		t.Errorf("Iters = %v", payload.Nodes[0].Iters)
	}
}

func newTestTable(t *testing.T) (*Writer, *section.Table, *diag.Bag) {
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

	w := NewWriter(fstk.Nodes())
	return w, section.NewTable(section.Options{
		Reporter: rep,
		Stack:    fstk,
		Symbols:  &fakeState{},
		Output:   w,
	}), bag
}

func TestWriteAndReadRoundTrip(t *testing.T) {
	// The table registers declaration nodes through the Output interface;
	// this test drives it with the real collaborators.
	w, table, bag := newTestTable(t)

	if err := table.NewSection("code", section.ROM0, section.Unset,
		section.Spec{Bank: section.Unset}, section.ModNormal); err != nil {
		t.Fatal(err)
	}
	if err := table.ConstByte(0xAA); err != nil {
		t.Fatal(err)
	}
	if err := table.RelByte(unknownE{}, 0); err != nil {
		t.Fatal(err)
	}

	if err := table.NewSection("vars", section.WRAM0, section.Unset,
		section.Spec{Bank: section.Unset}, section.ModNormal); err != nil {
		t.Fatal(err)
	}
	if err := table.Skip(3, true); err != nil {
		t.Fatal(err)
	}

	if bag.HasErrors() {
		t.Fatalf("Unexpected diagnostics: %v", bag.Items())
	}

	path := filepath.Join(t.TempDir(), "out", "game.o")
	if err := w.WriteFile(path, table); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	payload, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if payload.Schema != objectSchemaVersion {
		t.Errorf("Schema = %d", payload.Schema)
	}
	if len(payload.Sections) != 2 {
		t.Fatalf("Sections = %d, want 2", len(payload.Sections))
	}

	code := payload.Sections[0]
	if code.Name != "code" || code.Type != uint8(section.ROM0) || code.Size != 2 {
		t.Errorf("code record = %+v", code)
	}
	// Only the emitted bytes are persisted, not the full 16 KiB buffer.
	if len(code.Data) != 2 || code.Data[0] != 0xAA || code.Data[1] != 0 {
		t.Errorf("code data = %v", code.Data)
	}
	if len(code.Patches) != 1 || code.Patches[0].Type != uint8(section.PatchByte) || code.Patches[0].Offset != 1 {
		t.Errorf("code patches = %+v", code.Patches)
	}

	vars := payload.Sections[1]
	if vars.Name != "vars" || vars.Size != 3 || len(vars.Data) != 0 {
		t.Errorf("vars record = %+v", vars)
	}

	// The writer registered the declaration site of both sections; that
	// ends up as a resolvable node index.
	if code.SrcNode < 0 || int(code.SrcNode) >= len(payload.Nodes) {
		t.Errorf("SrcNode = %d with %d nodes", code.SrcNode, len(payload.Nodes))
	}
}

func TestReadFileRejectsUnknownSchema(t *testing.T) {
	blob, err := msgpack.Marshal(&Payload{Schema: 99})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "bad.o")
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadFile(path); err == nil {
		t.Fatal("Expected a schema rejection")
	}
}
