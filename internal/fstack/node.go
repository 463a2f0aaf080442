// Package fstack implements the lexical context stack: the chain of active
// INCLUDE files, macro expansions, and REPT/FOR blocks, plus the persisted
// file-stack nodes that attribute sections and symbols to source locations.
package fstack

import (
	"fmt"
	"strings"
)

// NodeID addresses a file-stack node inside a Nodes arena.
// Index 0 is reserved for NoNodeID.
type NodeID uint32

// NoNodeID is the invalid node sentinel.
const NoNodeID NodeID = 0

// IsValid reports whether the ID addresses a real node.
func (id NodeID) IsValid() bool { return id != NoNodeID }

// NodeKind discriminates the three context flavors.
type NodeKind uint8

const (
	// NodeFile is a physically opened source file.
	NodeFile NodeKind = iota
	// NodeMacro is a macro-body expansion.
	NodeMacro
	// NodeRept is a REPT/FOR block.
	NodeRept
)

func (k NodeKind) String() string {
	switch k {
	case NodeFile:
		return "file"
	case NodeMacro:
		return "macro"
	case NodeRept:
		return "rept"
	}
	return "unknown"
}

// Node is the persisted provenance record for one context. Name is meaningful
// for file and macro nodes; Iters for REPT nodes, ordered innermost first.
//
// Referenced flips when an emitted section or symbol captures the node: a
// referenced node must never be mutated in place (REPT iteration bumps
// duplicate it first) and survives until the whole arena is dropped.
type Node struct {
	Kind       NodeKind
	Parent     NodeID
	LineNo     uint32 // line in the parent at which this context was entered
	Referenced bool
	Name       string
	Iters      []uint32
}

// Nodes stores all file-stack nodes in a compact slice-based arena. Nodes no
// longer reachable from any context are recycled through a free list unless
// referenced; referenced nodes live for the arena's whole lifetime.
type Nodes struct {
	data []Node
	free []NodeID
}

// NewNodes creates an arena with optional capacity hint.
func NewNodes(capacity uint32) *Nodes {
	if capacity == 0 {
		capacity = 32
	}
	return &Nodes{
		data: make([]Node, 1, capacity+1), // index 0 reserved for NoNodeID
	}
}

// New allocates a node, reusing a released slot when one is available.
func (n *Nodes) New(node Node) NodeID {
	if last := len(n.free); last > 0 {
		id := n.free[last-1]
		n.free = n.free[:last-1]
		n.data[id] = node
		return id
	}
	id := NodeID(len(n.data))
	n.data = append(n.data, node)
	return id
}

// Get returns the node pointer or nil if ID is invalid.
func (n *Nodes) Get(id NodeID) *Node {
	if !id.IsValid() || int(id) >= len(n.data) {
		return nil
	}
	return &n.data[id]
}

// Release returns the slot to the free list unless the node is referenced.
// Referenced nodes are kept so sections and symbols can keep pointing at them.
func (n *Nodes) Release(id NodeID) {
	node := n.Get(id)
	if node == nil || node.Referenced {
		return
	}
	n.free = append(n.free, id)
}

// Len reports total number of live slots excluding the sentinel.
func (n *Nodes) Len() int { return len(n.data) - 1 }

// DisplayName renders the diagnostics name of a node: the file path, the
// synthesized macro name, or the nearest named ancestor with one ::REPT~n
// suffix per repetition level.
func (n *Nodes) DisplayName(id NodeID) string {
	node := n.Get(id)
	if node == nil {
		return ""
	}
	if node.Kind != NodeRept {
		return node.Name
	}
	var sb strings.Builder
	sb.WriteString(n.DisplayName(node.Parent))
	writeReptSuffixes(&sb, node.Iters)
	return sb.String()
}

// Dump renders the full inclusion/expansion chain ending at the given node,
// in the form "a.asm(5) -> b.asm::REPT~2(3)" with lineNo appended last.
func (n *Nodes) Dump(id NodeID, lineNo uint32) string {
	var sb strings.Builder
	n.dumpChain(&sb, id)
	fmt.Fprintf(&sb, "(%d)", lineNo)
	return sb.String()
}

// dumpChain prints parents outward and returns this node's display name.
func (n *Nodes) dumpChain(sb *strings.Builder, id NodeID) string {
	node := n.Get(id)
	if node == nil {
		return ""
	}

	if node.Kind == NodeRept {
		// REPT nodes always have a parent
		name := n.dumpChain(sb, node.Parent)
		fmt.Fprintf(sb, "(%d) -> %s", node.LineNo, name)
		writeReptSuffixes(sb, node.Iters)
		return name
	}

	if node.Parent.IsValid() {
		n.dumpChain(sb, node.Parent)
		fmt.Fprintf(sb, "(%d) -> %s", node.LineNo, node.Name)
	} else {
		sb.WriteString(node.Name)
	}
	return node.Name
}

// writeReptSuffixes prints one ::REPT~n per counter level. Iters is stored
// innermost first, so iterate backwards to print outer levels before inner.
func writeReptSuffixes(sb *strings.Builder, iters []uint32) {
	for i := len(iters); i > 0; i-- {
		fmt.Fprintf(sb, "::REPT~%d", iters[i-1])
	}
}
