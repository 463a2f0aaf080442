// Package diag defines the diagnostic model shared by every assembler phase.
//
// # Purpose
//
//   - Provide deterministic, serialisable records for findings produced by the
//     context stack, the section table, and their collaborators.
//   - Offer light-weight utilities (Reporter, Bag) that let producers emit
//     diagnostics without coupling to concrete storage or formatting layers.
//
// # Severities
//
// Diagnostics come in four severities. Info and Warning never affect control
// flow. Error marks a recoverable problem: the operation that raised it
// substitutes a safe default and the pass keeps going so later problems in the
// same source are still surfaced. Fatal conditions are not reported through a
// Reporter at all — they are returned as *FatalError values and unwind the
// whole pass.
//
// # Emitting diagnostics
//
// Phases emit through a diag.Reporter to decouple emission from storage.
// BagReporter aggregates into a Bag, which supports sorting and deduplication
// for stable output. DedupReporter suppresses the repeats that a REPT or macro
// expansion would otherwise produce once per iteration.
//
// Rendering is not this package's concern; the CLI layer formats Diagnostics
// for humans.
package diag
