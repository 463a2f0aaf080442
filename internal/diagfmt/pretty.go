package diagfmt

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"gbasm/internal/diag"
)

var (
	errColor  = color.New(color.FgRed, color.Bold)
	warnColor = color.New(color.FgYellow, color.Bold)
	infoColor = color.New(color.FgCyan)
	noteColor = color.New(color.Faint)
)

// Pretty форматирует диагностики в человекочитаемый вид.
// Идёт по bag.Items() (ожидается bag.Sort() заранее).
// Для каждого diag печатает:
// <path>(<line>): <SEV>[<CODE>]: <Message>
// затем Notes с отступом. Цвет включается опцией.
func Pretty(w io.Writer, bag *diag.Bag, opts PrettyOpts) {
	for _, d := range bag.Items() {
		sev := d.Severity.String()
		if opts.Color {
			sev = severityColor(d.Severity).Sprint(sev)
		}
		fmt.Fprintf(w, "%s: %s[%s]: %s\n", d.Primary, sev, d.Code.ID(), d.Message)
		if !opts.ShowNotes {
			continue
		}
		for _, n := range d.Notes {
			line := fmt.Sprintf("    note: %s", n.Msg)
			if n.Pos.File != "" {
				line = fmt.Sprintf("    note: %s: %s", n.Pos, n.Msg)
			}
			if opts.Color {
				line = noteColor.Sprint(line)
			}
			fmt.Fprintln(w, line)
		}
	}
}

func severityColor(s diag.Severity) *color.Color {
	switch s {
	case diag.SevError, diag.SevFatal:
		return errColor
	case diag.SevWarning:
		return warnColor
	default:
		return infoColor
	}
}
