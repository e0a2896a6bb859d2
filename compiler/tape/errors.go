package tape

import (
	"fmt"

	"tlog.app/go/loc"
)

type (
	// Errs are raised by panicking since constructs are compiled from
	// plain callables that do not return errors.  Recover at the
	// compile entry point turns them back into an error value.
	Err struct {
		Label string
		At    loc.PC
		Text  string
	}

	// StructuralError is a bug in the calling program: mismatched
	// open/close, calling an uncompiled subroutine and the like.
	StructuralError struct{ Err }

	// UnsupportedError is a construct the compiler refuses to compile,
	// such as branching on a secret value.
	UnsupportedError struct{ Err }

	// ConfigError is a program-level misconfiguration, such as calling
	// a thread-running tape from a foreign thread pool.
	ConfigError struct{ Err }
)

func (e Err) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("%v: %v (at %v)", e.Label, e.Text, e.At)
	}

	return fmt.Sprintf("%v (at %v)", e.Text, e.At)
}

func newErr(label string, format string, args ...any) Err {
	return Err{
		Label: label,
		At:    loc.Caller(2),
		Text:  fmt.Sprintf(format, args...),
	}
}

func Structuralf(label, format string, args ...any) {
	panic(&StructuralError{Err: newErr(label, format, args...)})
}

func Unsupportedf(label, format string, args ...any) {
	panic(&UnsupportedError{Err: newErr(label, format, args...)})
}

func Configf(label, format string, args ...any) {
	panic(&ConfigError{Err: newErr(label, format, args...)})
}

// Recover converts a compile abort into the error it carries.
// Anything else keeps panicking.
func Recover(errp *error) {
	switch e := recover().(type) {
	case nil:
	case *StructuralError:
		*errp = e
	case *UnsupportedError:
		*errp = e
	case *ConfigError:
		*errp = e
	default:
		panic(e)
	}
}
