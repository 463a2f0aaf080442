package driver

import (
	"fmt"
	"strings"

	"gbasm/internal/diag"
	"gbasm/internal/fstack"
	"gbasm/internal/section"
	"gbasm/internal/symbols"
)

// interp is the line-oriented directive interpreter. It pulls lines from the
// context stack's innermost view and dispatches on the first word; everything
// that is not a known directive or a label is treated as a macro invocation.
type interp struct {
	rep  diag.Reporter
	fstk *fstack.Stack
	sect *section.Table
	syms *symbols.Table
}

func (in *interp) run() error {
	for {
		view := in.fstk.View()
		line, ok := view.NextLine()
		if !ok {
			done, err := in.fstk.EndOfBody()
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			continue
		}
		if err := in.execLine(line); err != nil {
			return err
		}
	}
}

func (in *interp) errorf(code diag.Code, format string, args ...any) {
	diag.ReportError(in.rep, code, in.fstk.Pos(), fmt.Sprintf(format, args...)).Emit()
}

func (in *interp) execLine(raw string) error {
	line := strings.TrimSpace(stripComment(raw))
	if line == "" {
		return nil
	}
	line = in.expand(line)

	word, rest := splitWord(line)

	// Labels close over the current file stack, pinning the node chain for
	// the object file.
	if name, ok := labelName(word); ok {
		in.defineLabel(name)
		if rest == "" {
			return nil
		}
		word, rest = splitWord(rest)
	}

	switch strings.ToUpper(word) {
	case "INCLUDE":
		return in.doInclude(rest)
	case "SECTION":
		return in.doSection(rest)
	case "ENDSECTION":
		return in.sect.EndSection()
	case "PUSHS":
		in.sect.PushSection()
		if rest != "" {
			return in.doSection(rest)
		}
		return nil
	case "POPS":
		return in.sect.PopSection()
	case "LOAD":
		return in.doLoad(rest)
	case "ENDL":
		in.sect.EndLoadSection("")
	case "UNION":
		in.sect.StartUnion()
	case "NEXTU":
		in.sect.NextUnionMember()
	case "ENDU":
		in.sect.EndUnion()
	case "DB":
		return in.doData(rest, 1)
	case "DW":
		return in.doData(rest, 2)
	case "DL":
		return in.doData(rest, 4)
	case "DS":
		return in.doSkip(rest)
	case "ALIGN":
		in.doAlign(rest)
	case "INCBIN":
		return in.doIncbin(rest)
	case "REPT":
		return in.doRept(rest)
	case "FOR":
		return in.doFor(rest)
	case "BREAK":
		in.doBreak()
	case "ENDR":
		in.errorf(diag.AsmEndWithoutBlock, "ENDR without matching REPT/FOR")
	case "MACRO":
		return in.doMacroDef(rest)
	case "ENDM":
		in.errorf(diag.AsmEndWithoutBlock, "ENDM without matching MACRO")
	case "SHIFT":
		in.doShift(rest)
	case "DEF":
		in.doDef(rest)
	case "IF":
		return in.doIf(rest)
	case "ELSE":
		// Reached only when the taken branch runs off into ELSE: skip the
		// rest of the conditional.
		return in.skipConditional(true)
	case "ENDC":
		view := in.fstk.View()
		if view.IFDepth() == 0 {
			in.errorf(diag.AsmEndWithoutBlock, "ENDC without matching IF")
			return nil
		}
		view.ExitIF()
	default:
		return in.doMacroCall(word, rest)
	}
	return nil
}

func (in *interp) defineLabel(name string) {
	if in.sect.SymbolSection() == nil {
		in.errorf(diag.SecDataOutsideSection, "Label \"%s\" created outside of a SECTION", name)
		return
	}
	node := in.fstk.GetFileStack()
	value := in.syms.PCValue() + int32(in.sect.SymbolOffset())
	if !in.syms.DefineLabel(name, value, in.fstk.Line(), node) {
		in.errorf(diag.AsmRedefined, "\"%s\" already defined", name)
	}
}

func (in *interp) doInclude(rest string) error {
	path, ok := unquote(strings.TrimSpace(rest))
	if !ok {
		in.errorf(diag.AsmSyntaxError, "INCLUDE expects a quoted file name")
		return nil
	}
	return in.fstk.RunInclude(path)
}

// doSection parses `["]name["], TYPE[org] {, BANK[n] | , ALIGN[a {, ofs}]}`
// with an optional leading UNION or FRAGMENT modifier.
func (in *interp) doSection(rest string) error {
	mod := section.ModNormal
	word, tail := splitWord(rest)
	switch strings.ToUpper(word) {
	case "UNION":
		mod = section.ModUnion
		rest = tail
	case "FRAGMENT":
		mod = section.ModFragment
		rest = tail
	}

	args := splitArgs(rest)
	if len(args) < 2 {
		in.errorf(diag.AsmSyntaxError, "SECTION expects a name and a memory region")
		return nil
	}
	name, ok := unquote(args[0])
	if !ok {
		in.errorf(diag.AsmSyntaxError, "SECTION name must be quoted")
		return nil
	}

	typ, org, ok := in.parseRegion(args[1])
	if !ok {
		return nil
	}
	attrs, ok := in.parseSpec(args[2:])
	if !ok {
		return nil
	}
	return in.sect.NewSection(name, typ, org, attrs, mod)
}

func (in *interp) doLoad(rest string) error {
	mod := section.ModNormal
	word, tail := splitWord(rest)
	switch strings.ToUpper(word) {
	case "UNION":
		mod = section.ModUnion
		rest = tail
	case "FRAGMENT":
		mod = section.ModFragment
		rest = tail
	}

	args := splitArgs(rest)
	if len(args) < 2 {
		in.errorf(diag.AsmSyntaxError, "LOAD expects a name and a memory region")
		return nil
	}
	name, ok := unquote(args[0])
	if !ok {
		in.errorf(diag.AsmSyntaxError, "LOAD name must be quoted")
		return nil
	}
	typ, org, ok := in.parseRegion(args[1])
	if !ok {
		return nil
	}
	attrs, ok := in.parseSpec(args[2:])
	if !ok {
		return nil
	}
	return in.sect.SetLoadSection(name, typ, org, attrs, mod)
}

// parseRegion parses `TYPE` or `TYPE[org]`.
func (in *interp) parseRegion(tok string) (section.Type, uint32, bool) {
	name, arg, hasArg, ok := splitBracket(tok)
	if !ok {
		in.errorf(diag.AsmSyntaxError, "Malformed memory region %q", tok)
		return 0, 0, false
	}
	typ, found := regionByName(name)
	if !found {
		in.errorf(diag.AsmSyntaxError, "Unknown memory region %q", name)
		return 0, 0, false
	}
	org := section.Unset
	if hasArg {
		v, err := parseNumber(arg, in.syms)
		if err != nil {
			in.errorf(diag.AsmSyntaxError, "Bad section address: %v", err)
			return 0, 0, false
		}
		org = uint32(v)
	}
	return typ, org, true
}

// parseSpec parses the trailing `BANK[n]` / `ALIGN[a]` / `ALIGN[a, ofs]`
// attributes of a SECTION or LOAD directive.
func (in *interp) parseSpec(args []string) (section.Spec, bool) {
	attrs := section.Spec{Bank: section.Unset}
	for _, a := range args {
		name, arg, hasArg, ok := splitBracket(a)
		if !ok || !hasArg {
			in.errorf(diag.AsmSyntaxError, "Malformed section attribute %q", a)
			return attrs, false
		}
		switch strings.ToUpper(name) {
		case "BANK":
			v, err := parseNumber(arg, in.syms)
			if err != nil {
				in.errorf(diag.AsmSyntaxError, "Bad bank number: %v", err)
				return attrs, false
			}
			attrs.Bank = uint32(v)
		case "ALIGN":
			parts := splitArgs(arg)
			v, err := parseNumber(parts[0], in.syms)
			if err != nil {
				in.errorf(diag.AsmSyntaxError, "Bad alignment: %v", err)
				return attrs, false
			}
			attrs.Align = uint8(v)
			if len(parts) > 1 {
				ofs, err := parseNumber(parts[1], in.syms)
				if err != nil {
					in.errorf(diag.AsmSyntaxError, "Bad alignment offset: %v", err)
					return attrs, false
				}
				attrs.AlignOfs = uint16(ofs)
			}
		default:
			in.errorf(diag.AsmSyntaxError, "Unknown section attribute %q", name)
			return attrs, false
		}
	}
	return attrs, true
}

// doData handles DB/DW/DL. String arguments emit one unit per character;
// numeric arguments emit their value; undefined names emit a patch.
func (in *interp) doData(rest string, width int) error {
	args := splitArgs(rest)
	if len(args) == 0 {
		// A data directive without arguments reserves one unit.
		return in.sect.Skip(uint32(width), false)
	}
	for _, a := range args {
		if s, ok := unquote(a); ok {
			units := make([]int32, len(s))
			for i := 0; i < len(s); i++ {
				units[i] = int32(s[i])
			}
			var err error
			switch width {
			case 1:
				err = in.sect.ByteString(units)
			case 2:
				err = in.sect.WordString(units)
			default:
				err = in.sect.LongString(units)
			}
			if err != nil {
				return err
			}
			continue
		}

		expr := in.evalExpr(a)
		var err error
		switch width {
		case 1:
			err = in.sect.RelByte(expr, 0)
		case 2:
			err = in.sect.RelWord(expr, 0)
		default:
			err = in.sect.RelLong(expr, 0)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// evalExpr turns one operand into a section expression: a constant when the
// token resolves now, a symbol patch otherwise.
func (in *interp) evalExpr(tok string) section.Expression {
	if v, err := parseNumber(tok, in.syms); err == nil {
		return constExpr(v)
	}
	return symExpr{name: tok}
}

func (in *interp) doSkip(rest string) error {
	args := splitArgs(rest)
	if len(args) == 0 {
		in.errorf(diag.AsmSyntaxError, "DS expects a length")
		return nil
	}
	n, err := parseNumber(args[0], in.syms)
	if err != nil {
		in.errorf(diag.AsmSyntaxError, "Bad DS length: %v", err)
		return nil
	}
	if len(args) == 1 {
		return in.sect.Skip(uint32(n), true)
	}
	exprs := make([]section.Expression, 0, len(args)-1)
	for _, a := range args[1:] {
		exprs = append(exprs, in.evalExpr(a))
	}
	return in.sect.RelBytes(uint32(n), exprs)
}

func (in *interp) doAlign(rest string) {
	args := splitArgs(rest)
	if len(args) == 0 {
		in.errorf(diag.AsmSyntaxError, "ALIGN expects an alignment")
		return
	}
	a, err := parseNumber(args[0], in.syms)
	if err != nil {
		in.errorf(diag.AsmSyntaxError, "Bad alignment: %v", err)
		return
	}
	var ofs int32
	if len(args) > 1 {
		ofs, err = parseNumber(args[1], in.syms)
		if err != nil {
			in.errorf(diag.AsmSyntaxError, "Bad alignment offset: %v", err)
			return
		}
	}
	in.sect.AlignPC(uint8(a), uint16(ofs))
}

func (in *interp) doIncbin(rest string) error {
	args := splitArgs(rest)
	if len(args) == 0 {
		in.errorf(diag.AsmSyntaxError, "INCBIN expects a quoted file name")
		return nil
	}
	name, ok := unquote(args[0])
	if !ok {
		in.errorf(diag.AsmSyntaxError, "INCBIN file name must be quoted")
		return nil
	}
	var start, length int32
	var err error
	if len(args) > 1 {
		if start, err = parseNumber(args[1], in.syms); err != nil {
			in.errorf(diag.AsmSyntaxError, "Bad INCBIN start: %v", err)
			return nil
		}
	}
	if len(args) > 2 {
		if length, err = parseNumber(args[2], in.syms); err != nil {
			in.errorf(diag.AsmSyntaxError, "Bad INCBIN length: %v", err)
			return nil
		}
		return in.sect.BinaryFileSlice(name, uint32(start), uint32(length))
	}
	return in.sect.BinaryFile(name, uint32(start))
}

func (in *interp) doRept(rest string) error {
	count, err := parseNumber(strings.TrimSpace(rest), in.syms)
	if err != nil {
		in.errorf(diag.AsmSyntaxError, "Bad REPT count: %v", err)
		count = 0
	}
	bodyLine := in.fstk.Line() + 1
	body, ok, ferr := in.captureBody("REPT", "ENDR", reptOpensBlock)
	if ferr != nil {
		return ferr
	}
	if !ok || count <= 0 {
		return nil
	}
	return in.fstk.RunRept(uint32(count), bodyLine, body)
}

func (in *interp) doFor(rest string) error {
	args := splitArgs(rest)
	bodyLine := in.fstk.Line() + 1

	bad := func(format string, a ...any) error {
		in.errorf(diag.AsmSyntaxError, format, a...)
		_, _, err := in.captureBody("FOR", "ENDR", reptOpensBlock)
		return err
	}

	if len(args) < 2 || len(args) > 4 {
		return bad("FOR expects a variable and 1 to 3 bounds")
	}
	varName := args[0]

	var start, stop, step int32 = 0, 0, 1
	bounds := make([]int32, 0, 3)
	for _, a := range args[1:] {
		v, err := parseNumber(a, in.syms)
		if err != nil {
			return bad("Bad FOR bound: %v", err)
		}
		bounds = append(bounds, v)
	}
	switch len(bounds) {
	case 1:
		stop = bounds[0]
	case 2:
		start, stop = bounds[0], bounds[1]
	case 3:
		start, stop, step = bounds[0], bounds[1], bounds[2]
	}

	body, ok, ferr := in.captureBody("FOR", "ENDR", reptOpensBlock)
	if ferr != nil {
		return ferr
	}
	if !ok {
		return nil
	}
	return in.fstk.RunFor(varName, start, stop, step, bodyLine, body)
}

func (in *interp) doBreak() {
	if !in.fstk.Break() {
		return
	}
	// Skip the remainder of the current iteration; EndOfBody then pops the
	// exhausted frame.
	view := in.fstk.View()
	for {
		if _, ok := view.NextLine(); !ok {
			return
		}
	}
}

func (in *interp) doMacroDef(rest string) error {
	name := strings.TrimSpace(rest)
	if name == "" {
		in.errorf(diag.AsmSyntaxError, "MACRO expects a name")
		name = "_"
	}
	bodyLine := in.fstk.Line() + 1
	node := in.fstk.GetFileStack()
	body, ok, ferr := in.captureBody("MACRO", "ENDM", macroOpensBlock)
	if ferr != nil {
		return ferr
	}
	if !ok {
		return nil
	}
	if !in.syms.DefineMacro(name, body, bodyLine, node) {
		in.errorf(diag.AsmRedefined, "\"%s\" already defined as non-macro", name)
	}
	return nil
}

func (in *interp) doMacroCall(word, rest string) error {
	args := splitArgs(rest)
	for i, a := range args {
		if s, ok := unquote(a); ok {
			args[i] = s
		}
	}
	return in.fstk.RunMacro(word, fstack.NewMacroArgs(args...))
}

func (in *interp) doShift(rest string) {
	n := int32(1)
	if tok := strings.TrimSpace(rest); tok != "" {
		v, err := parseNumber(tok, in.syms)
		if err != nil {
			in.errorf(diag.AsmSyntaxError, "Bad SHIFT amount: %v", err)
			return
		}
		n = v
	}
	args := in.fstk.Args()
	if args == nil {
		in.errorf(diag.AsmSyntaxError, "SHIFT can only be used inside a macro")
		return
	}
	args.Shift(int(n))
}

// doDef handles `DEF name = expr`, binding a numeric variable.
func (in *interp) doDef(rest string) {
	name, tail := splitWord(rest)
	tail = strings.TrimSpace(tail)
	if name == "" || !strings.HasPrefix(tail, "=") {
		in.errorf(diag.AsmSyntaxError, "DEF expects `name = value`")
		return
	}
	v, err := parseNumber(tail[1:], in.syms)
	if err != nil {
		in.errorf(diag.AsmSyntaxError, "Bad DEF value: %v", err)
		return
	}
	if !in.syms.BindVar(name, v) {
		in.errorf(diag.AsmRedefined, "\"%s\" already defined as non-variable", name)
	}
}

func (in *interp) doIf(rest string) error {
	v, err := parseNumber(strings.TrimSpace(rest), in.syms)
	if err != nil {
		in.errorf(diag.AsmSyntaxError, "Bad IF condition: %v", err)
		v = 0
	}
	in.fstk.View().EnterIF()
	if v != 0 {
		return nil
	}
	return in.skipConditional(false)
}

// skipConditional consumes lines until the matching ENDC, or until an ELSE at
// the same depth when stopping there would take the other branch. The IF
// depth stays entered; ENDC exits it.
func (in *interp) skipConditional(fromElse bool) error {
	view := in.fstk.View()
	depth := 0
	for {
		line, ok := view.NextLine()
		if !ok {
			// EndOfBody reports the unterminated conditional.
			done, err := in.fstk.EndOfBody()
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			return diag.Fatalf(in.fstk.Pos(), "Unterminated IF construct")
		}
		word, _ := splitWord(strings.TrimSpace(stripComment(line)))
		switch strings.ToUpper(word) {
		case "IF":
			depth++
		case "ELSE":
			if depth == 0 && !fromElse {
				return nil
			}
		case "ENDC":
			if depth == 0 {
				view.ExitIF()
				return nil
			}
			depth--
		}
	}
}

// blockOpener classifies which directives open a nested block during body
// capture, so the matching terminator can be paired up.
type blockOpener func(word string) bool

func reptOpensBlock(word string) bool {
	return word == "REPT" || word == "FOR"
}

func macroOpensBlock(word string) bool {
	return word == "MACRO"
}

// captureBody consumes raw lines up to the matching terminator and returns
// them unexpanded. ok is false when the body was discarded after an error;
// running past the end of the view is fatal.
func (in *interp) captureBody(kind, terminator string, opens blockOpener) (body []byte, ok bool, err error) {
	view := in.fstk.View()
	var sb strings.Builder
	depth := 0
	for {
		line, lineOK := view.NextLine()
		if !lineOK {
			return nil, false, diag.Fatalf(in.fstk.Pos(), "Unterminated %s block", kind)
		}
		word, _ := splitWord(strings.TrimSpace(stripComment(line)))
		upper := strings.ToUpper(word)
		if upper == terminator {
			if depth == 0 {
				return []byte(sb.String()), true, nil
			}
			depth--
		} else if opens(upper) {
			depth++
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
}

// expand substitutes macro arguments (\1 through \9) and the unique
// expansion suffix (\@) into a line about to be executed.
func (in *interp) expand(line string) string {
	if !strings.ContainsRune(line, '\\') {
		return line
	}
	var sb strings.Builder
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c != '\\' || i+1 >= len(line) {
			sb.WriteByte(c)
			continue
		}
		next := line[i+1]
		switch {
		case next == '@':
			sb.WriteString(in.fstk.UniqueIDSuffix())
			i++
		case next >= '1' && next <= '9':
			args := in.fstk.Args()
			if args == nil {
				in.errorf(diag.AsmSyntaxError, "Macro argument '\\%c' used outside a macro", next)
			} else if arg, ok := args.Arg(int(next - '0')); ok {
				sb.WriteString(arg)
			} else {
				in.errorf(diag.AsmSyntaxError, "Macro argument '\\%c' not supplied", next)
			}
			i++
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// labelName recognizes `name:` and `name::` tokens.
func labelName(word string) (string, bool) {
	name := strings.TrimSuffix(strings.TrimSuffix(word, ":"), ":")
	if name == word || name == "" {
		return "", false
	}
	return name, true
}

// regionByName maps a memory region keyword to its section type.
func regionByName(name string) (section.Type, bool) {
	for t := section.Type(0); t < section.NumTypes; t++ {
		if strings.EqualFold(t.String(), name) {
			return t, true
		}
	}
	return 0, false
}

// stripComment cuts the line at the first ';' outside a string literal.
func stripComment(line string) string {
	inString := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inString = !inString
		case ';':
			if !inString {
				return line[:i]
			}
		}
	}
	return line
}

// splitWord splits off the first whitespace-delimited word.
func splitWord(line string) (word, rest string) {
	line = strings.TrimSpace(line)
	i := strings.IndexAny(line, " \t")
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimSpace(line[i+1:])
}

// splitArgs splits on commas outside string literals and brackets.
func splitArgs(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		args     []string
		start    int
		inString bool
		brackets int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inString = !inString
		case '[':
			brackets++
		case ']':
			brackets--
		case ',':
			if !inString && brackets == 0 {
				args = append(args, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	args = append(args, strings.TrimSpace(s[start:]))
	return args
}

// splitBracket parses `name` or `name[arg]`.
func splitBracket(tok string) (name, arg string, hasArg, ok bool) {
	tok = strings.TrimSpace(tok)
	open := strings.IndexByte(tok, '[')
	if open < 0 {
		return tok, "", false, true
	}
	if !strings.HasSuffix(tok, "]") {
		return "", "", false, false
	}
	return strings.TrimSpace(tok[:open]), strings.TrimSpace(tok[open+1 : len(tok)-1]), true, true
}

// unquote strips one pair of double quotes.
func unquote(s string) (string, bool) {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1], true
	}
	return s, false
}
