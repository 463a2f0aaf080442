package driver

import (
	"fmt"
	"strconv"
	"strings"

	"gbasm/internal/symbols"
)

// constExpr is a fully resolved value.
type constExpr int32

func (c constExpr) Known() (int32, bool)            { return int32(c), true }
func (c constExpr) PCRelative() (int32, bool, bool) { return 0, false, false }

// symExpr is a reference to a symbol not resolvable during the pass; the
// section table turns it into a patch record.
type symExpr struct {
	name string
}

func (symExpr) Known() (int32, bool)            { return 0, false }
func (symExpr) PCRelative() (int32, bool, bool) { return 0, false, false }

// parseNumber evaluates a numeric token: $ introduces hexadecimal, % binary,
// & octal, a leading quote a character constant, anything else decimal or a
// defined variable/label name.
func parseNumber(tok string, syms *symbols.Table) (int32, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return 0, fmt.Errorf("empty expression")
	}

	neg := false
	if tok[0] == '-' {
		neg = true
		tok = tok[1:]
	}

	var (
		v   uint64
		err error
	)
	switch {
	case tok == "":
		return 0, fmt.Errorf("expression expected after '-'")
	case tok[0] == '$':
		v, err = strconv.ParseUint(tok[1:], 16, 32)
	case tok[0] == '%':
		v, err = strconv.ParseUint(tok[1:], 2, 32)
	case tok[0] == '&':
		v, err = strconv.ParseUint(tok[1:], 8, 32)
	case tok[0] >= '0' && tok[0] <= '9':
		v, err = strconv.ParseUint(tok, 10, 32)
	default:
		sym, ok := syms.Find(tok)
		if !ok || (sym.Kind != symbols.KindVar && sym.Kind != symbols.KindLabel) {
			return 0, fmt.Errorf("symbol %q is not a numeric constant", tok)
		}
		v = uint64(uint32(sym.Value))
	}
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", tok)
	}
	n := int32(uint32(v))
	if neg {
		n = -n
	}
	return n, nil
}

// isNumeric reports whether tok would parse as a number or a defined
// numeric symbol.
func isNumeric(tok string, syms *symbols.Table) bool {
	_, err := parseNumber(tok, syms)
	return err == nil
}
