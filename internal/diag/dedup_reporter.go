package diag

type dedupKey struct {
	code Code
	sev  Severity
	file string
	line uint32
	msg  string
}

// DedupReporter wraps another Reporter and suppresses duplicate diagnostics
// with the same code, severity, position and message. A REPT body that raises
// the same error on every iteration surfaces it once.
type DedupReporter struct {
	next Reporter
	seen map[dedupKey]struct{}
}

// NewDedupReporter returns a Reporter that filters out duplicates while
// forwarding unique diagnostics to the provided reporter.
func NewDedupReporter(next Reporter) *DedupReporter {
	return &DedupReporter{
		next: next,
		seen: make(map[dedupKey]struct{}),
	}
}

func (r *DedupReporter) Report(code Code, sev Severity, primary Pos, msg string, notes []Note) {
	if r == nil {
		return
	}
	key := dedupKey{
		code: code,
		sev:  sev,
		file: primary.File,
		line: primary.Line,
		msg:  msg,
	}
	if _, ok := r.seen[key]; ok {
		return
	}
	r.seen[key] = struct{}{}
	if r.next != nil {
		r.next.Report(code, sev, primary, msg, notes)
	}
}
