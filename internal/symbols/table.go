package symbols

import (
	"strings"

	"gbasm/internal/fstack"
)

// Table is the assembler's symbol table, reduced here to what the context
// stack and the section table consume: macros, loop variables, the PC
// pseudo-symbol, and the current label-scope pair.
type Table struct {
	syms map[string]*Symbol

	// Label scopes: the current global label and the current local prefix.
	globalScope string
	localScope  string

	pcValue int32
}

// NewTable creates an empty symbol table.
func NewTable() *Table {
	return &Table{syms: make(map[string]*Symbol)}
}

// Find returns the symbol bound to name, if any.
func (t *Table) Find(name string) (*Symbol, bool) {
	sym, ok := t.syms[name]
	return sym, ok
}

// DefineMacro binds name to a macro body. Returns false when name is
// already bound to something else.
func (t *Table) DefineMacro(name string, body []byte, defLine uint32, defNode fstack.NodeID) bool {
	if existing, ok := t.syms[name]; ok && existing.Kind != KindMacro {
		return false
	}
	t.syms[name] = &Symbol{
		Name:    name,
		Kind:    KindMacro,
		Body:    body,
		DefLine: defLine,
		DefNode: defNode,
	}
	return true
}

// DefineLabel binds name to a label at the given value. Returns false when
// name is already bound. A global label (no leading dot) becomes the current
// global scope; a local one becomes the current local scope.
func (t *Table) DefineLabel(name string, value int32, defLine uint32, defNode fstack.NodeID) bool {
	if _, ok := t.syms[name]; ok {
		return false
	}
	t.syms[name] = &Symbol{
		Name:    name,
		Kind:    KindLabel,
		Value:   value,
		DefLine: defLine,
		DefNode: defNode,
	}
	if strings.HasPrefix(name, ".") {
		t.localScope = name
	} else {
		t.globalScope = name
		t.localScope = ""
	}
	return true
}

// FindMacro implements fstack.SymbolSource.
func (t *Table) FindMacro(name string) (def fstack.MacroDef, found, isMacro bool) {
	sym, ok := t.syms[name]
	if !ok {
		return fstack.MacroDef{}, false, false
	}
	if sym.Kind != KindMacro {
		return fstack.MacroDef{}, true, false
	}
	return fstack.MacroDef{
		Body:    sym.Body,
		DefLine: sym.DefLine,
		DefNode: sym.DefNode,
	}, true, true
}

// BindVar implements fstack.SymbolSource: set name to value, creating the
// variable if needed. Returns false when name exists but is not a variable.
func (t *Table) BindVar(name string, value int32) bool {
	if sym, ok := t.syms[name]; ok {
		if sym.Kind != KindVar {
			return false
		}
		sym.Value = value
		return true
	}
	t.syms[name] = &Symbol{Name: name, Kind: KindVar, Value: value}
	return true
}

// VarValue returns a variable's current value.
func (t *Table) VarValue(name string) (int32, bool) {
	sym, ok := t.syms[name]
	if !ok || sym.Kind != KindVar {
		return 0, false
	}
	return sym.Value, true
}

// SetPC updates the program-counter pseudo-symbol; the section table and
// expression evaluation read it back through PCValue.
func (t *Table) SetPC(value int32) {
	t.pcValue = value
}

// PCValue implements the section table's view of the PC pseudo-symbol.
func (t *Table) PCValue() int32 {
	return t.pcValue
}

// LabelScopes returns the current label-scope pair.
func (t *Table) LabelScopes() (global, local string) {
	return t.globalScope, t.localScope
}

// SetLabelScopes restores a saved label-scope pair.
func (t *Table) SetLabelScopes(global, local string) {
	t.globalScope = global
	t.localScope = local
}

// ResetLabelScopes clears both scopes; entering or leaving a section does this.
func (t *Table) ResetLabelScopes() {
	t.globalScope = ""
	t.localScope = ""
}
