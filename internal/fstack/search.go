package fstack

import (
	"fmt"
	"os"
	"strings"

	"gbasm/internal/diag"
)

// MaxIncludePaths bounds the include-search list; paths beyond it are
// reported and dropped.
const MaxIncludePaths = 128

// AddIncludePath appends a directory to the include-search list, normalizing
// it to end with a separator. Empty paths are ignored.
func (s *Stack) AddIncludePath(path string) {
	if path == "" {
		return
	}
	if len(s.includePaths) >= MaxIncludePaths {
		diag.ReportError(s.reporter, diag.FstTooManyIncludePaths, s.Pos(),
			"Too many include directories").Emit()
		return
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	s.includePaths = append(s.includePaths, path)
}

// SetPreIncludeFile records a file to be opened on top of the main file
// before assembly starts.
func (s *Stack) SetPreIncludeFile(path string) {
	if s.preInclude != "" {
		diag.ReportWarning(s.reporter, diag.WarnPreIncludeOverride, s.Pos(),
			fmt.Sprintf("Overriding pre-included filename %s", s.preInclude)).Emit()
	}
	s.preInclude = path
}

func (s *Stack) recordDep(path string) {
	if s.onDependency != nil {
		s.onDependency(path)
	}
}

func isPathValid(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	// Reject directories
	return !info.IsDir()
}

// FindFile resolves path against the include-search list. The first prefix
// tried is empty, i.e. the path as given; the first existing non-directory
// match wins. In dependency-generation mode a miss still records the bare
// path as a dependency.
func (s *Stack) FindFile(path string) (string, bool) {
	for i := 0; i <= len(s.includePaths); i++ {
		full := path
		if i > 0 {
			full = s.includePaths[i-1] + path
		}
		if isPathValid(full) {
			s.recordDep(full)
			return full, true
		}
	}

	if s.generateMissingIncludes {
		s.recordDep(path)
	}
	return "", false
}

// FileError handles a file that could not be opened for the given directive.
// In dependency-generation mode the failure is soft: it only flags the pass
// as having missed an include. Returns true when the failure was soft.
func (s *Stack) FileError(name, directive string) bool {
	if s.generateMissingIncludes {
		s.missingInclude = true
		return true
	}
	diag.ReportError(s.reporter, diag.FstFileError, s.Pos(),
		fmt.Sprintf("Error opening %s file '%s'", directive, name)).Emit()
	return false
}

// MissedInclude reports whether dependency-generation mode hit a missing
// include, which aborts normal output.
func (s *Stack) MissedInclude() bool {
	return s.missingInclude
}
