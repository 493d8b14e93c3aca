// Package check provides fail-fast assertions for invariants whose violation
// means memory is already corrupted.
//
// These are not errors: a failed check panics with a *Violation and is not
// meant to be recovered outside of tests. Recoverable conditions (such as the
// OS refusing a mapping) are reported through ordinary error returns instead.
package check

import "fmt"

// Violation is the panic value raised by a failed check.
type Violation struct {
	Msg string
}

func (v *Violation) Error() string {
	return "invariant violation: " + v.Msg
}

// That panics with a Violation built from format and args when cond is false.
func That(cond bool, format string, args ...any) {
	if !cond {
		Fail(format, args...)
	}
}

// Fail panics unconditionally.
func Fail(format string, args ...any) {
	panic(&Violation{Msg: fmt.Sprintf(format, args...)})
}
