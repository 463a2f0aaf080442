package diagfmt

// PrettyOpts configures pretty-printing of diagnostics.
type PrettyOpts struct {
	Color     bool
	ShowNotes bool
}

// JSONOpts configures JSON output.
type JSONOpts struct {
	IncludeNotes bool
	Max          int // обрезка вывода, не Bag
}
