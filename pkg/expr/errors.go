package expr

import (
	"errors"
	"fmt"
)

// TypeError reports an expression that cannot be built from its operands.
type TypeError struct {
	Op  string
	Msg string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

// EvalError reports a failure while evaluating a compiled expression.
type EvalError struct {
	Expr Expression
	Err  error
}

func (e *EvalError) Error() string {
	if e.Expr == nil {
		return fmt.Sprintf("eval: %s", e.Err)
	}
	return fmt.Sprintf("eval %s: %s", e.Expr, e.Err)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

// ErrNilDereference is returned when a member is read through a nil pointer.
var ErrNilDereference = errors.New("nil dereference")

// evalPanic carries an error out of a function built with reflect.MakeFunc,
// which has no error result of its own.
type evalPanic struct {
	err error
}

// protect runs fn, converting panics raised by reflection into errors.
func protect[T any](e Expression, fn func() (T, error)) (res T, err error) {
	defer func() {
		if r := recover(); r != nil {
			switch x := r.(type) {
			case evalPanic:
				err = x.err
			case error:
				err = &EvalError{Expr: e, Err: x}
			default:
				err = &EvalError{Expr: e, Err: fmt.Errorf("%v", x)}
			}
		}
	}()
	return fn()
}
