package diag

import (
	"fmt"
)

type Code uint16

const (
	// Неизвестная ошибка - на первое время
	UnknownCode Code = 0

	// File stack / lexical contexts
	FstInfo                Code = 1000
	FstIncludeNotFound     Code = 1001
	FstMacroUndefined      Code = 1002
	FstNotAMacro           Code = 1003
	FstForZeroStep         Code = 1004
	FstBreakOutsideRept    Code = 1005
	FstTooManyIncludePaths Code = 1006
	FstFileError           Code = 1007
	FstForVarConflict      Code = 1008

	// Section table
	SecInfo                   Code = 2000
	SecDataOutsideSection     Code = 2001
	SecNotCodeSection         Code = 2002
	SecBankNotAllowed         Code = 2003
	SecBankOutOfRange         Code = 2004
	SecAlignOffsetTooLarge    Code = 2005
	SecAddrOutOfRange         Code = 2006
	SecAlignTooLarge          Code = 2007
	SecAddrAlignMismatch      Code = 2008
	SecAlignUnattainable      Code = 2009
	SecTypeConflict           Code = 2010
	SecModifierConflict       Code = 2011
	SecUnionHasData           Code = 2012
	SecFixedAddrConflict      Code = 2013
	SecAlignConflict          Code = 2014
	SecBankConflict           Code = 2015
	SecRedeclared             Code = 2016
	SecNextUOutsideUnion      Code = 2017
	SecEndUOutsideUnion       Code = 2018
	SecUnterminatedUnion      Code = 2019
	SecUnionInRom             Code = 2020
	SecLoadCreatesRom         Code = 2021
	SecEndLOutsideLoad        Code = 2022
	SecMisaligned             Code = 2023
	SecGrewTooBig             Code = 2024
	SecCharUnitOutOfRange     Code = 2025
	SecJrTargetOutOfRange     Code = 2026
	SecIncbinStartPastEOF     Code = 2027
	SecIncbinRangeOutOfBounds Code = 2028
	SecIncbinReadError        Code = 2029
	SecIncbinPrematureEnd     Code = 2030

	// Directive driver
	AsmInfo             Code = 3000
	AsmUnknownDirective Code = 3001
	AsmSyntaxError      Code = 3002
	AsmEndWithoutBlock  Code = 3003
	AsmRedefined        Code = 3004

	// Warning categories. These never affect control flow; each keeps a
	// stable code so a category can be silenced from configuration.
	WarnBackwardsFor       Code = 4001
	WarnUnterminatedLoad   Code = 4002
	WarnUnmatchedDirective Code = 4003
	WarnEmptyDataDirective Code = 4004
	WarnPreIncludeOverride Code = 4005
)

var codeDescription = map[Code]string{
	UnknownCode: "Unknown error",

	FstInfo:                "File stack info",
	FstIncludeNotFound:     "Unable to open included file",
	FstMacroUndefined:      "Macro not defined",
	FstNotAMacro:           "Symbol is not a macro",
	FstForZeroStep:         "FOR cannot have a step value of 0",
	FstBreakOutsideRept:    "BREAK can only be used inside a REPT/FOR block",
	FstTooManyIncludePaths: "Too many include directories",
	FstFileError:           "File error",
	FstForVarConflict:      "FOR variable already defined as non-variable",

	SecInfo:                   "Section info",
	SecDataOutsideSection:     "Cannot output data outside of a SECTION",
	SecNotCodeSection:         "Section cannot contain code or data",
	SecBankNotAllowed:         "BANK not allowed for this section type",
	SecBankOutOfRange:         "Bank value out of range",
	SecAlignOffsetTooLarge:    "Alignment offset not smaller than alignment size",
	SecAddrOutOfRange:         "Fixed address outside of section type's range",
	SecAlignTooLarge:          "Alignment must be between 0 and 16",
	SecAddrAlignMismatch:      "Fixed address doesn't match alignment",
	SecAlignUnattainable:      "Alignment cannot be attained in this section type",
	SecTypeConflict:           "Section already exists with a different type",
	SecModifierConflict:       "Section already declared with a different modifier",
	SecUnionHasData:           "Cannot declare ROM sections as UNION",
	SecFixedAddrConflict:      "Section already declared as fixed at a different address",
	SecAlignConflict:          "Section already declared with incompatible alignment",
	SecBankConflict:           "Section already declared with a different bank",
	SecRedeclared:             "Section already defined previously",
	SecNextUOutsideUnion:      "NEXTU outside of a UNION construct",
	SecEndUOutsideUnion:       "ENDU outside of a UNION construct",
	SecUnterminatedUnion:      "Unterminated UNION construct",
	SecUnionInRom:             "Cannot use UNION inside of ROM sections",
	SecLoadCreatesRom:         "LOAD blocks cannot create a ROM section",
	SecEndLOutsideLoad:        "ENDL outside of a LOAD block",
	SecMisaligned:             "Section is misaligned",
	SecGrewTooBig:             "Section grew too big",
	SecCharUnitOutOfRange:     "Character unit out of range",
	SecJrTargetOutOfRange:     "JR target out of range",
	SecIncbinStartPastEOF:     "Start position is greater than length of file",
	SecIncbinRangeOutOfBounds: "Range in INCBIN file is out of bounds",
	SecIncbinReadError:        "Error reading INCBIN file",
	SecIncbinPrematureEnd:     "Premature end of INCBIN file",

	AsmInfo:             "Assembler info",
	AsmUnknownDirective: "Unknown directive or macro",
	AsmSyntaxError:      "Syntax error",
	AsmEndWithoutBlock:  "Block terminator without a matching block",
	AsmRedefined:        "Symbol already defined",

	WarnBackwardsFor:       "FOR goes backwards",
	WarnUnterminatedLoad:   "LOAD block without ENDL",
	WarnUnmatchedDirective: "Unmatched directive",
	WarnEmptyDataDirective: "Data directive without data in ROM",
	WarnPreIncludeOverride: "Overriding pre-included filename",
}

func (c Code) ID() string {
	switch ic := int(c); {
	case ic >= 1000 && ic < 2000:
		return fmt.Sprintf("FST%04d", ic)
	case ic >= 2000 && ic < 3000:
		return fmt.Sprintf("SEC%04d", ic)
	case ic >= 3000 && ic < 4000:
		return fmt.Sprintf("ASM%04d", ic)
	case ic >= 4000 && ic < 5000:
		return fmt.Sprintf("WRN%04d", ic)
	}
	return "E0000"
}

func (c Code) Title() string {
	desc, ok := codeDescription[c]
	if !ok {
		return codeDescription[Code(0)]
	}
	return desc
}

func (c Code) String() string {
	return fmt.Sprintf("[%s]: %s", c.ID(), c.Title())
}
