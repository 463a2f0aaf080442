package driver

import (
	"gbasm/internal/config"
	"gbasm/internal/diag"
	"gbasm/internal/fstack"
	"gbasm/internal/object"
	"gbasm/internal/observ"
	"gbasm/internal/section"
	"gbasm/internal/source"
	"gbasm/internal/symbols"
)

// Options tunes one assembly pass beyond what the manifest provides.
type Options struct {
	Config         config.Config
	MaxDiagnostics int

	// GenerateMissingIncludes turns missing INCLUDE/INCBIN files into
	// recorded dependencies instead of errors.
	GenerateMissingIncludes bool
	// OnDependency, when set, observes every file the include search
	// resolves.
	OnDependency func(path string)
	// Timer, when set, records the duration of each phase of the pass.
	Timer *observ.Timer
}

// Result carries everything one pass produced. Fatal conditions come back as
// the error return of Assemble; Bag holds the recoverable diagnostics either
// way.
type Result struct {
	Bag      *diag.Bag
	FileSet  *source.FileSet
	Symbols  *symbols.Table
	Stack    *fstack.Stack
	Sections *section.Table
	Object   *object.Writer
}

// Assemble runs one pass over the main file: контексты, секции, объектный
// вывод. The returned Result is valid even when err is a fatal diagnostic.
func Assemble(path string, opts Options) (*Result, error) {
	maxDiags := opts.MaxDiagnostics
	if maxDiags <= 0 {
		maxDiags = opts.Config.Limits.MaxDiagnostics
	}

	bag := diag.NewBag(maxDiags)
	var rep diag.Reporter = diag.NewDedupReporter(diag.BagReporter{Bag: bag})
	rep = warningFilter{next: rep, cfg: opts.Config.Warnings}

	fs := source.NewFileSet()
	syms := symbols.NewTable()

	fstk := fstack.New(fstack.Options{
		Reporter:                rep,
		Files:                   fs,
		Symbols:                 syms,
		MaxRecursionDepth:       opts.Config.Limits.Recursion,
		IncludePaths:            opts.Config.Paths.Include,
		PreInclude:              opts.Config.Paths.PreInclude,
		GenerateMissingIncludes: opts.GenerateMissingIncludes,
		OnDependency:            opts.OnDependency,
	})

	out := object.NewWriter(fstk.Nodes())
	sect := section.NewTable(section.Options{
		Reporter: rep,
		Stack:    fstk,
		Symbols:  syms,
		Output:   out,
		PadByte:  opts.Config.Output.PadByte,
	})

	res := &Result{
		Bag:      bag,
		FileSet:  fs,
		Symbols:  syms,
		Stack:    fstk,
		Sections: sect,
		Object:   out,
	}

	endRead := opts.Timer.Phase("read")
	if err := fstk.Init(path); err != nil {
		endRead()
		bag.Sort()
		return res, err
	}
	endRead()

	endInterp := opts.Timer.Phase("interpret")
	in := &interp{rep: rep, fstk: fstk, sect: sect, syms: syms}
	if err := in.run(); err != nil {
		endInterp()
		bag.Sort()
		return res, err
	}
	endInterp()

	// End-of-input checks mirror what an explicit directive would have done.
	endFinish := opts.Timer.Phase("finalize")
	sect.CheckUnionClosed()
	sect.CheckLoadClosed()
	sect.CheckStack()
	sect.CheckSizes()

	bag.Sort()
	endFinish()
	return res, nil
}
