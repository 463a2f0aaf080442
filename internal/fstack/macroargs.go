package fstack

// MacroArgs holds one invocation's positional arguments. A SHIFT directive
// moves the visible window; the underlying list is never modified.
type MacroArgs struct {
	args  []string
	shift int
}

// NewMacroArgs wraps the given argument list.
func NewMacroArgs(args ...string) *MacroArgs {
	return &MacroArgs{args: args}
}

// Arg returns the i-th visible argument, 1-based like \1..\9.
func (m *MacroArgs) Arg(i int) (string, bool) {
	if m == nil || i < 1 {
		return "", false
	}
	idx := m.shift + i - 1
	if idx >= len(m.args) {
		return "", false
	}
	return m.args[idx], true
}

// NArgs reports the number of visible arguments.
func (m *MacroArgs) NArgs() int {
	if m == nil {
		return 0
	}
	return len(m.args) - m.shift
}

// Shift moves the argument window by n, clamped to the list bounds.
func (m *MacroArgs) Shift(n int) {
	if m == nil {
		return
	}
	m.shift += n
	if m.shift < 0 {
		m.shift = 0
	}
	if m.shift > len(m.args) {
		m.shift = len(m.args)
	}
}
