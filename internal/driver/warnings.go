package driver

import (
	"gbasm/internal/config"
	"gbasm/internal/diag"
)

// warningFilter drops warnings whose category is disabled in the manifest.
type warningFilter struct {
	next diag.Reporter
	cfg  config.Warnings
}

func (w warningFilter) Report(code diag.Code, sev diag.Severity, primary diag.Pos, msg string, notes []diag.Note) {
	if sev == diag.SevWarning && !w.enabled(code) {
		return
	}
	w.next.Report(code, sev, primary, msg, notes)
}

func (w warningFilter) enabled(code diag.Code) bool {
	switch code {
	case diag.WarnBackwardsFor:
		return config.WarningEnabled(w.cfg.BackwardsFor)
	case diag.WarnUnterminatedLoad:
		return config.WarningEnabled(w.cfg.UnterminatedLoad)
	case diag.WarnUnmatchedDirective:
		return config.WarningEnabled(w.cfg.UnmatchedDirective)
	case diag.WarnEmptyDataDirective:
		return config.WarningEnabled(w.cfg.EmptyDataDirective)
	}
	return true
}
