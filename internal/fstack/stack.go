package fstack

import (
	"fmt"
	"strings"

	"gbasm/internal/diag"
	"gbasm/internal/lexer"
	"gbasm/internal/source"
)

// MacroDef is what the symbol service hands back for a macro lookup.
type MacroDef struct {
	Body    []byte
	DefLine uint32
	DefNode NodeID
}

// SymbolSource — тонкий интерфейс к таблице символов, чтобы не тянуть её сюда.
// Реализация: symbols.Table.
type SymbolSource interface {
	// FindMacro looks name up by exact spelling. found is false for unbound
	// names; isMacro is false when the name is bound to something else.
	FindMacro(name string) (def MacroDef, found, isMacro bool)
	// BindVar sets name to value, creating the variable if needed. Returns
	// false when name exists but is not a variable.
	BindVar(name string, value int32) bool
}

// Context is one frame of the lexical context stack. It is never persisted;
// only its node outlives it, and only when referenced.
type Context struct {
	node NodeID
	view *lexer.View

	// uniqueID is this frame's \@ expansion identifier; 0 means none.
	uniqueID uint32

	// macroArgs saves the *caller's* arguments while a macro frame is live.
	macroArgs *MacroArgs

	// REPT/FOR bookkeeping. forName is empty for plain REPT frames.
	reptIters uint32
	forValue  int32
	forStep   int32
	forName   string
}

// Options configures a Stack.
type Options struct {
	Reporter diag.Reporter
	Files    *source.FileSet
	Symbols  SymbolSource

	// MaxRecursionDepth is the context nesting ceiling; exceeding it is
	// fatal since unbounded nesting indicates runaway recursion.
	MaxRecursionDepth uint32

	IncludePaths []string
	PreInclude   string

	// GenerateMissingIncludes makes missing INCLUDE/INCBIN files soft
	// failures recorded as dependencies (-MG style).
	GenerateMissingIncludes bool
	// OnDependency is invoked for every file resolved through the include
	// search, for dependency-file generation.
	OnDependency func(path string)
}

// Stack owns the chain of active contexts and the node arena.
type Stack struct {
	nodes    *Nodes
	contexts []*Context // contexts[len-1] is current; parents precede it

	reporter diag.Reporter
	files    *source.FileSet
	syms     SymbolSource

	maxDepth uint32

	includePaths            []string
	preInclude              string
	generateMissingIncludes bool
	onDependency            func(string)
	missingInclude          bool

	// uniqueIDCounter backs fresh \@ identifiers; 0 stays "undefined".
	uniqueIDCounter uint32

	argStack *MacroArgs // the currently visible macro arguments
}

// New builds a Stack; call Init before driving it.
func New(opts Options) *Stack {
	maxDepth := opts.MaxRecursionDepth
	if maxDepth == 0 {
		maxDepth = 64
	}
	s := &Stack{
		nodes:                   NewNodes(0),
		reporter:                opts.Reporter,
		files:                   opts.Files,
		syms:                    opts.Symbols,
		maxDepth:                maxDepth,
		preInclude:              opts.PreInclude,
		generateMissingIncludes: opts.GenerateMissingIncludes,
		onDependency:            opts.OnDependency,
	}
	for _, p := range opts.IncludePaths {
		s.AddIncludePath(p)
	}
	return s
}

// Init opens the main file as the top-level context and, if configured,
// stacks the pre-include file on top of it.
func (s *Stack) Init(mainPath string) error {
	view, err := lexer.OpenFile(s.files, mainPath)
	if err != nil {
		return diag.Fatalf(diag.Pos{}, "Failed to open main file: %v", err)
	}

	node := s.nodes.New(Node{
		Kind: NodeFile,
		Name: view.Name,
		// lineNo is unused on the top-level context but still ends up in
		// the object file, so keep it zeroed deliberately.
	})
	s.contexts = append(s.contexts, &Context{
		node:     node,
		view:     view,
		uniqueID: 0, // undefined at top level
	})

	return s.runPreInclude()
}

func (s *Stack) current() *Context {
	return s.contexts[len(s.contexts)-1]
}

// Depth reports the current nesting depth; 0 at top level.
func (s *Stack) Depth() uint32 {
	return uint32(len(s.contexts) - 1)
}

// SetMaxRecursionDepth updates the ceiling; shrinking it below the current
// depth is fatal, exactly like exceeding it.
func (s *Stack) SetMaxRecursionDepth(depth uint32) error {
	if s.Depth() > depth {
		return diag.Fatalf(s.Pos(), "Recursion limit (%d) exceeded", depth)
	}
	s.maxDepth = depth
	return nil
}

// View exposes the current source view to the directive driver.
func (s *Stack) View() *lexer.View {
	return s.current().view
}

// Args exposes the currently visible macro arguments (nil outside macros).
func (s *Stack) Args() *MacroArgs {
	return s.argStack
}

// UniqueID returns the current \@ expansion identifier, 0 when undefined.
func (s *Stack) UniqueID() uint32 {
	return s.current().uniqueID
}

// UniqueIDSuffix renders \@ for the current context, empty when undefined.
func (s *Stack) UniqueIDSuffix() string {
	id := s.UniqueID()
	if id == 0 {
		return ""
	}
	return fmt.Sprintf("_u%d", id)
}

func (s *Stack) newUniqueID() uint32 {
	s.uniqueIDCounter++
	return s.uniqueIDCounter
}

// Pos is the current source position for diagnostics: the innermost
// context's display name and the current line.
func (s *Stack) Pos() diag.Pos {
	if len(s.contexts) == 0 {
		return diag.Pos{}
	}
	cur := s.current()
	return diag.Pos{
		File: s.nodes.DisplayName(cur.node),
		Line: cur.view.Line(),
	}
}

// DumpCurrent renders the current context chain for fatal messages.
func (s *Stack) DumpCurrent() string {
	if len(s.contexts) == 0 {
		return "at top level"
	}
	cur := s.current()
	return s.nodes.Dump(cur.node, cur.view.Line())
}

// Nodes exposes the node arena to the section table and the output layer.
func (s *Stack) Nodes() *Nodes {
	return s.nodes
}

// GetFileStack returns the current node for attribution, marking it and all
// of its ancestors referenced so they are not freed on pop.
func (s *Stack) GetFileStack() NodeID {
	if len(s.contexts) == 0 {
		return NoNodeID
	}
	id := s.current().node
	for walk := id; walk.IsValid(); {
		node := s.nodes.Get(walk)
		if node.Referenced {
			break
		}
		node.Referenced = true
		walk = node.Parent
	}
	return id
}

// FileName walks to the nearest physical file context, skipping macro and
// REPT views.
func (s *Stack) FileName() string {
	node := s.nodes.Get(s.current().node)
	for node.Kind != NodeFile {
		node = s.nodes.Get(node.Parent)
	}
	return node.Name
}

// Line reports the current line number in the innermost view.
func (s *Stack) Line() uint32 {
	return s.current().view.Line()
}

// newContext pushes a frame for the given node, enforcing the recursion
// ceiling. The caller sets the view and unique ID on the returned context.
func (s *Stack) newContext(node Node) (*Context, error) {
	if s.Depth()+1 > s.maxDepth {
		return nil, diag.Fatalf(s.Pos(), "Recursion limit (%d) exceeded", s.maxDepth)
	}

	node.Parent = s.current().node
	node.LineNo = s.current().view.Line()
	node.Referenced = false

	ctx := &Context{node: s.nodes.New(node)}
	s.contexts = append(s.contexts, ctx)
	return ctx, nil
}

// RunInclude pushes a context for an INCLUDEd file. A file that cannot be
// found is a recoverable error, or a soft miss in dependency-generation mode.
func (s *Stack) RunInclude(path string) error {
	full, ok := s.FindFile(path)
	if !ok {
		if s.generateMissingIncludes {
			s.missingInclude = true
		} else {
			diag.ReportError(s.reporter, diag.FstIncludeNotFound, s.Pos(),
				fmt.Sprintf("Unable to open included file '%s'", path)).Emit()
		}
		return nil
	}

	view, err := lexer.OpenFile(s.files, full)
	if err != nil {
		return diag.Fatalf(s.Pos(), "Failed to set up lexer for file include: %v", err)
	}

	parentUnique := s.current().uniqueID
	ctx, err := s.newContext(Node{Kind: NodeFile, Name: view.Name})
	if err != nil {
		return err
	}
	ctx.view = view
	// We're back at file level, so most things are reset, but not the
	// unique ID: INCLUDE may sit inside a MACRO or REPT/FOR loop.
	ctx.uniqueID = parentUnique
	return nil
}

// runPreInclude opens the configured pre-include file on top of the main
// context. Unlike RunInclude it is not subject to dependency-generation mode
// and resets the unique ID.
func (s *Stack) runPreInclude() error {
	if s.preInclude == "" {
		return nil
	}

	full, ok := s.FindFile(s.preInclude)
	if !ok {
		diag.ReportError(s.reporter, diag.FstIncludeNotFound, s.Pos(),
			fmt.Sprintf("Unable to open included file '%s'", s.preInclude)).Emit()
		return nil
	}

	view, err := lexer.OpenFile(s.files, full)
	if err != nil {
		return diag.Fatalf(s.Pos(), "Failed to set up lexer for file include: %v", err)
	}

	ctx, err := s.newContext(Node{Kind: NodeFile, Name: view.Name})
	if err != nil {
		return err
	}
	ctx.view = view
	ctx.uniqueID = 0
	return nil
}

// RunMacro pushes a context expanding the named macro with the given
// arguments. The display name of the new node is synthesized from the
// macro's defining context: the nearest named ancestor, one ::REPT~n suffix
// per repetition level enclosing the definition, then ::<name>.
func (s *Stack) RunMacro(name string, args *MacroArgs) error {
	def, found, isMacro := s.syms.FindMacro(name)
	if !found {
		diag.ReportError(s.reporter, diag.FstMacroUndefined, s.Pos(),
			fmt.Sprintf("Macro \"%s\" not defined", name)).Emit()
		return nil
	}
	if !isMacro {
		diag.ReportError(s.reporter, diag.FstNotAMacro, s.Pos(),
			fmt.Sprintf("\"%s\" is not a macro", name)).Emit()
		return nil
	}

	var sb strings.Builder
	defNode := s.nodes.Get(def.DefNode)
	if defNode != nil && defNode.Kind == NodeRept {
		// Walk to the nearest named node, then print the REPT suffixes of
		// the defining block itself.
		named := defNode
		for named.Kind == NodeRept {
			named = s.nodes.Get(named.Parent)
		}
		sb.WriteString(named.Name)
		writeReptSuffixes(&sb, defNode.Iters)
	} else if defNode != nil {
		sb.WriteString(defNode.Name)
	} else {
		sb.WriteString(s.FileName())
	}
	sb.WriteString("::")
	sb.WriteString(name)

	// Save the caller's arguments on the caller's frame before pushing.
	caller := s.current()
	caller.macroArgs = s.argStack

	ctx, err := s.newContext(Node{Kind: NodeMacro, Name: sb.String()})
	if err != nil {
		return err
	}
	ctx.view = lexer.OpenBody("MACRO", def.Body, def.DefLine)
	ctx.uniqueID = s.newUniqueID()
	s.argStack = args
	return nil
}

// newReptContext pushes a REPT/FOR frame whose counter sequence extends the
// parent's (when the parent is itself a REPT) with a new leading counter at 1.
func (s *Stack) newReptContext(reptLine uint32, body []byte) (*Context, error) {
	var iters []uint32
	if parent := s.nodes.Get(s.current().node); parent.Kind == NodeRept {
		iters = make([]uint32, 0, len(parent.Iters)+1)
		iters = append(iters, 1)
		iters = append(iters, parent.Iters...)
	} else {
		iters = []uint32{1}
	}

	ctx, err := s.newContext(Node{Kind: NodeRept, Iters: iters})
	if err != nil {
		return nil, err
	}
	// Correct the node's line, which currently points at the ENDR line.
	s.nodes.Get(ctx.node).LineNo = reptLine

	ctx.view = lexer.OpenBody("REPT", body, reptLine)
	ctx.uniqueID = s.newUniqueID()
	return ctx, nil
}

// RunRept pushes a REPT block iterating count times; count 0 is a no-op.
func (s *Stack) RunRept(count uint32, reptLine uint32, body []byte) error {
	if count == 0 {
		return nil
	}
	ctx, err := s.newReptContext(reptLine, body)
	if err != nil {
		return err
	}
	ctx.reptIters = count
	return nil
}

// RunFor pushes a FOR block over [start, stop) by step, binding the loop
// variable to start before the first iteration. A zero step is an error; a
// range running against the step's sign warns and iterates zero times.
func (s *Stack) RunFor(varName string, start, stop, step int32, reptLine uint32, body []byte) error {
	if !s.syms.BindVar(varName, start) {
		diag.ReportError(s.reporter, diag.FstForVarConflict, s.Pos(),
			fmt.Sprintf("\"%s\" already defined as non-variable", varName)).Emit()
		return nil
	}

	var count uint32
	switch {
	case step > 0 && start < stop:
		count = uint32((int64(stop)-int64(start)-1)/int64(step) + 1)
	case step < 0 && stop < start:
		count = uint32((int64(start)-int64(stop)-1)/-int64(step) + 1)
	case step == 0:
		diag.ReportError(s.reporter, diag.FstForZeroStep, s.Pos(),
			"FOR cannot have a step value of 0").Emit()
	}

	if (step > 0 && start > stop) || (step < 0 && start < stop) {
		diag.ReportWarning(s.reporter, diag.WarnBackwardsFor, s.Pos(),
			fmt.Sprintf("FOR goes backwards from %d to %d by %d", start, stop, step)).Emit()
	}

	if count == 0 {
		return nil
	}
	ctx, err := s.newReptContext(reptLine, body)
	if err != nil {
		return err
	}
	ctx.reptIters = count
	ctx.forValue = start
	ctx.forStep = step
	ctx.forName = varName
	return nil
}

// StopRept forces the current REPT frame's remaining iterations to zero so
// the next EndOfBody pops it.
func (s *Stack) StopRept() {
	s.current().reptIters = 0
}

// Break implements the BREAK directive: legal only inside a REPT/FOR block.
func (s *Stack) Break() bool {
	if s.nodes.Get(s.current().node).Kind != NodeRept {
		diag.ReportError(s.reporter, diag.FstBreakOutsideRept, s.Pos(),
			"BREAK can only be used inside a REPT/FOR block").Emit()
		return false
	}
	s.StopRept()
	return true
}

// EndOfBody handles reaching the end of the current source view. A REPT frame
// with iterations left rewinds in place; anything else pops. done is true
// once the top-level frame itself ends.
func (s *Stack) EndOfBody() (done bool, err error) {
	cur := s.current()

	if depth := cur.view.IFDepth(); depth != 0 {
		plural := "s"
		if depth == 1 {
			plural = ""
		}
		return false, diag.Fatalf(s.Pos(),
			"Ended block with %d unterminated IF construct%s", depth, plural)
	}

	node := s.nodes.Get(cur.node)
	if node.Kind == NodeRept {
		// The node may be captured by an emitted symbol or section; if so
		// it must not be mutated, so work on a detached copy. The order
		// below (duplicate, update FOR symbol, increment, compare) is
		// load-bearing: the duplicate is what observes the new value.
		if node.Referenced {
			copyIters := make([]uint32, len(node.Iters))
			copy(copyIters, node.Iters)
			cur.node = s.nodes.New(Node{
				Kind:   NodeRept,
				Parent: node.Parent,
				LineNo: node.LineNo,
				Iters:  copyIters,
			})
			node = s.nodes.Get(cur.node)
		}

		// If this is a FOR, advance the symbol value first.
		if cur.forName != "" && node.Iters[0] <= cur.reptIters {
			// Unsigned add keeps the wraparound well-defined.
			cur.forValue = int32(uint32(cur.forValue) + uint32(cur.forStep))
			if !s.syms.BindVar(cur.forName, cur.forValue) {
				return false, diag.Fatalf(s.Pos(), "Failed to update FOR symbol value")
			}
		}

		node.Iters[0]++
		// If this wasn't the last iteration, wrap instead of popping.
		if node.Iters[0] <= cur.reptIters {
			cur.view.Restart(node.LineNo)
			cur.uniqueID = s.newUniqueID()
			return false, nil
		}
	} else if len(s.contexts) == 1 {
		return true, nil
	}

	// Pop: drop the frame, free its node unless referenced, restore the
	// caller's macro arguments if the popped frame was a macro.
	s.contexts = s.contexts[:len(s.contexts)-1]
	if node.Kind == NodeMacro {
		s.argStack = s.current().macroArgs
		s.current().macroArgs = nil
	}
	s.nodes.Release(cur.node)

	return false, nil
}
