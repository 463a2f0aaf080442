package diag

import (
	"errors"
	"fmt"
)

// FatalError terminates the assembly pass. Operations that hit a structural
// impossibility return one as an error value; the driver stops unwinding only
// at the top level. Recoverable problems never use this type — they go through
// a Reporter and the operation substitutes a safe default.
type FatalError struct {
	Pos Pos
	Msg string
}

func (e *FatalError) Error() string {
	if e.Pos.File == "" {
		return "FATAL: " + e.Msg
	}
	return fmt.Sprintf("%s: FATAL: %s", e.Pos, e.Msg)
}

// Fatalf builds a FatalError with a formatted message.
func Fatalf(pos Pos, format string, args ...any) error {
	return &FatalError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err is (or wraps) a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
