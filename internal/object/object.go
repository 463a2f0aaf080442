// Package object builds the serialized output payload of an assembly pass:
// the file-stack node table for provenance, and every section with its data
// and unresolved patches. The linker consumes this payload.
package object

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"gbasm/internal/fstack"
	"gbasm/internal/section"
)

// Current schema version - increment when Payload format changes
const objectSchemaVersion uint16 = 1

// NodeRecord is one serialized file-stack node. Parent indexes into the
// payload's node table, -1 for roots.
type NodeRecord struct {
	Kind   uint8
	Parent int32
	Line   uint32
	Name   string
	Iters  []uint32
}

// PatchRecord is one serialized relocation. Unresolved expressions are
// stored by their known/unknown state only; the linker re-evaluates.
type PatchRecord struct {
	Type    uint8
	Offset  uint32
	PCShift uint32
}

// SectionRecord serializes one region.
type SectionRecord struct {
	Name     string
	Type     uint8
	Modifier uint8
	Org      uint32
	Bank     uint32
	Align    uint8
	AlignOfs uint16
	Size     uint32
	SrcNode  int32
	FileLine uint32
	Data     []byte
	Patches  []PatchRecord
}

// Payload is the on-disk object representation.
type Payload struct {
	Schema   uint16
	Nodes    []NodeRecord
	Sections []SectionRecord
}

// Writer accumulates registered nodes during the pass and serializes the
// final payload. Registering a node pins it: the file stack marks it
// referenced so it survives its context.
type Writer struct {
	nodes *fstack.Nodes

	ids   map[fstack.NodeID]int32
	order []fstack.NodeID
}

// NewWriter builds a Writer over the pass's node arena.
func NewWriter(nodes *fstack.Nodes) *Writer {
	return &Writer{
		nodes: nodes,
		ids:   make(map[fstack.NodeID]int32),
	}
}

// RegisterNode records that a node (and implicitly its ancestors) is
// reachable from the object output. Implements section.Output.
func (w *Writer) RegisterNode(id fstack.NodeID) {
	for id.IsValid() {
		if _, ok := w.ids[id]; ok {
			return
		}
		w.ids[id] = int32(len(w.order))
		w.order = append(w.order, id)
		id = w.nodes.Get(id).Parent
	}
}

func (w *Writer) nodeIndex(id fstack.NodeID) int32 {
	if idx, ok := w.ids[id]; ok {
		return idx
	}
	return -1
}

// Build assembles the payload from the section table.
func (w *Writer) Build(table *section.Table) *Payload {
	payload := &Payload{Schema: objectSchemaVersion}

	payload.Nodes = make([]NodeRecord, len(w.order))
	for i, id := range w.order {
		node := w.nodes.Get(id)
		payload.Nodes[i] = NodeRecord{
			Kind:   uint8(node.Kind),
			Parent: w.nodeIndex(node.Parent),
			Line:   node.LineNo,
			Name:   node.Name,
			Iters:  node.Iters,
		}
	}

	table.ForEach(func(sect *section.Section) {
		rec := SectionRecord{
			Name:     sect.Name,
			Type:     uint8(sect.Type),
			Modifier: uint8(sect.Modifier),
			Org:      sect.Org,
			Bank:     sect.Bank,
			Align:    sect.Align,
			AlignOfs: sect.AlignOfs,
			Size:     sect.Size,
			SrcNode:  w.nodeIndex(sect.Src),
			FileLine: sect.FileLine,
		}
		// Only the bytes actually emitted are persisted, not the whole
		// type-sized buffer.
		if sect.Data != nil && sect.Size <= uint32(len(sect.Data)) {
			rec.Data = sect.Data[:sect.Size]
		}
		for _, p := range sect.Patches {
			rec.Patches = append(rec.Patches, PatchRecord{
				Type:    uint8(p.Type),
				Offset:  p.Offset,
				PCShift: p.PCShift,
			})
		}
		payload.Sections = append(payload.Sections, rec)
	})

	return payload
}

// WriteFile serializes the payload to path, creating parent directories.
func (w *Writer) WriteFile(path string, table *section.Table) error {
	payload := w.Build(table)

	blob, err := msgpack.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal object payload: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadFile loads a payload back; unknown schemas are rejected.
func ReadFile(path string) (*Payload, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var payload Payload
	if err := msgpack.Unmarshal(blob, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal object payload: %w", err)
	}
	if payload.Schema != objectSchemaVersion {
		return nil, fmt.Errorf("unsupported object schema %d", payload.Schema)
	}
	return &payload, nil
}
