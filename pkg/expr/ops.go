package expr

import (
	"fmt"
	"reflect"
	"time"
)

// BinaryOp is the operator of a BinaryExpr.
type BinaryOp int

const (
	Add BinaryOp = iota
	Subtract
	Multiply
	Divide
	Modulo
	And
	Or
	ExclusiveOr
	LeftShift
	RightShift
	AndAlso
	OrElse
	Equal
	NotEqual
	LessThan
	LessThanOrEqual
	GreaterThan
	GreaterThanOrEqual
	Coalesce
	ArrayIndex
)

var binaryOps = [...]struct{ name, symbol string }{
	Add:                {"Add", "+"},
	Subtract:           {"Subtract", "-"},
	Multiply:           {"Multiply", "*"},
	Divide:             {"Divide", "/"},
	Modulo:             {"Modulo", "%"},
	And:                {"And", "&"},
	Or:                 {"Or", "|"},
	ExclusiveOr:        {"ExclusiveOr", "^"},
	LeftShift:          {"LeftShift", "<<"},
	RightShift:         {"RightShift", ">>"},
	AndAlso:            {"AndAlso", "&&"},
	OrElse:             {"OrElse", "||"},
	Equal:              {"Equal", "=="},
	NotEqual:           {"NotEqual", "!="},
	LessThan:           {"LessThan", "<"},
	LessThanOrEqual:    {"LessThanOrEqual", "<="},
	GreaterThan:        {"GreaterThan", ">"},
	GreaterThanOrEqual: {"GreaterThanOrEqual", ">="},
	Coalesce:           {"Coalesce", "??"},
	ArrayIndex:         {"ArrayIndex", "[]"},
}

func (op BinaryOp) String() string {
	if op >= 0 && int(op) < len(binaryOps) {
		return binaryOps[op].name
	}
	return fmt.Sprintf("BinaryOp(%d)", int(op))
}

// Symbol is the operator's infix spelling.
func (op BinaryOp) Symbol() string {
	if op >= 0 && int(op) < len(binaryOps) {
		return binaryOps[op].symbol
	}
	return "?"
}

// ParseBinaryOp maps an operator name back to its BinaryOp.
func ParseBinaryOp(name string) (BinaryOp, error) {
	for i, o := range binaryOps {
		if o.name == name {
			return BinaryOp(i), nil
		}
	}
	return 0, fmt.Errorf("unknown binary operator %q", name)
}

func (op BinaryOp) isComparison() bool {
	switch op {
	case Equal, NotEqual, LessThan, LessThanOrEqual, GreaterThan, GreaterThanOrEqual:
		return true
	}
	return false
}

// UnaryOp is the operator of a UnaryExpr.
type UnaryOp int

const (
	Negate UnaryOp = iota
	Not
	Convert
	ArrayLength
	Quote
	UnaryPlus
)

var unaryOpNames = [...]string{
	Negate:      "Negate",
	Not:         "Not",
	Convert:     "Convert",
	ArrayLength: "ArrayLength",
	Quote:       "Quote",
	UnaryPlus:   "UnaryPlus",
}

func (op UnaryOp) String() string {
	if op >= 0 && int(op) < len(unaryOpNames) {
		return unaryOpNames[op]
	}
	return fmt.Sprintf("UnaryOp(%d)", int(op))
}

// ParseUnaryOp maps an operator name back to its UnaryOp.
func ParseUnaryOp(name string) (UnaryOp, error) {
	for i, n := range unaryOpNames {
		if n == name {
			return UnaryOp(i), nil
		}
	}
	return 0, fmt.Errorf("unknown unary operator %q", name)
}

var timeType = reflect.TypeFor[time.Time]()

// lifted reports whether a and b are the same type modulo one level of
// pointer, returning the underlying value type.
func lifted(a, b reflect.Type) (reflect.Type, bool) {
	switch {
	case a == b:
		if a.Kind() == reflect.Pointer {
			return a.Elem(), true
		}
		return a, true
	case a.Kind() == reflect.Pointer && a.Elem() == b:
		return b, true
	case b.Kind() == reflect.Pointer && b.Elem() == a:
		return a, true
	}
	return nil, false
}

func isOrdered(t reflect.Type) bool {
	return isNumeric(t) || t.Kind() == reflect.String || t == timeType
}

func binaryType(op BinaryOp, lt, rt reflect.Type) (reflect.Type, error) {
	bad := func(msg string) (reflect.Type, error) {
		return nil, &TypeError{Op: op.String(), Msg: fmt.Sprintf("%s (operands %s and %s)", msg, lt, rt)}
	}
	switch op {
	case AndAlso, OrElse:
		if lt.Kind() != reflect.Bool || lt != rt {
			return bad("operands must be the same boolean type")
		}
		return lt, nil
	case Equal, NotEqual:
		if _, ok := lifted(lt, rt); ok {
			return boolType, nil
		}
		if lt.Kind() == reflect.Interface && rt.AssignableTo(lt) ||
			rt.Kind() == reflect.Interface && lt.AssignableTo(rt) {
			return boolType, nil
		}
		return bad("operands are not comparable")
	case LessThan, LessThanOrEqual, GreaterThan, GreaterThanOrEqual:
		vt, ok := lifted(lt, rt)
		if !ok || !isOrdered(vt) {
			return bad("operands are not ordered")
		}
		return boolType, nil
	case Add:
		if lt != rt || !(isNumeric(lt) || lt.Kind() == reflect.String) {
			return bad("operands must be the same numeric or string type")
		}
		return lt, nil
	case Subtract, Multiply, Divide, Modulo:
		if lt != rt || !isNumeric(lt) {
			return bad("operands must be the same numeric type")
		}
		return lt, nil
	case And, Or, ExclusiveOr:
		if lt != rt || !(isInteger(lt) || lt.Kind() == reflect.Bool) {
			return bad("operands must be the same integer or boolean type")
		}
		return lt, nil
	case LeftShift, RightShift:
		if !isInteger(lt) || !isInteger(rt) {
			return bad("shift needs integer operands")
		}
		return lt, nil
	case Coalesce:
		switch {
		case lt.Kind() == reflect.Pointer && lt.Elem() == rt:
			return rt, nil
		case (lt.Kind() == reflect.Pointer || lt.Kind() == reflect.Interface) && rt.AssignableTo(lt):
			return lt, nil
		}
		return bad("left operand must be nullable and match the right operand")
	case ArrayIndex:
		if (lt.Kind() != reflect.Slice && lt.Kind() != reflect.Array) || !isInteger(rt) {
			return bad("index needs a slice and an integer")
		}
		return lt.Elem(), nil
	}
	return bad("unknown operator")
}

func unaryType(op UnaryOp, ot, target reflect.Type) (reflect.Type, error) {
	bad := func(msg string) (reflect.Type, error) {
		return nil, &TypeError{Op: op.String(), Msg: fmt.Sprintf("%s (operand %s)", msg, ot)}
	}
	switch op {
	case Negate, UnaryPlus:
		if !isNumeric(ot) {
			return bad("operand must be numeric")
		}
		return ot, nil
	case Not:
		if ot.Kind() != reflect.Bool && !isInteger(ot) {
			return bad("operand must be boolean or integer")
		}
		return ot, nil
	case ArrayLength:
		switch ot.Kind() {
		case reflect.Slice, reflect.Array, reflect.String, reflect.Map:
			return intType, nil
		}
		return bad("operand has no length")
	case Quote:
		if ot.Kind() != reflect.Func {
			return bad("only lambdas can be quoted")
		}
		return ot, nil
	case Convert:
		if target == nil {
			return bad("conversion needs a target type")
		}
		if convertible(ot, target) {
			return target, nil
		}
		return bad(fmt.Sprintf("cannot convert to %s", target))
	}
	return bad("unknown operator")
}

func convertible(from, to reflect.Type) bool {
	switch {
	case from == to:
		return true
	case to.Kind() == reflect.Interface && from.Implements(to):
		return true
	case from.Kind() == reflect.Interface:
		return true
	case to.Kind() == reflect.Pointer && to.Elem() == from:
		return true
	case from.Kind() == reflect.Pointer && from.Elem() == to:
		return true
	}
	return from.ConvertibleTo(to)
}
