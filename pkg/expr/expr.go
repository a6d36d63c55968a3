// Package expr is a typed, executable computation graph: predicates,
// projections and function bodies built from comparisons, arithmetic,
// conditionals, member access, method calls, object construction and lambda
// abstraction.
//
// Expressions are immutable once constructed. The constructors validate
// operand types and compute result types, so a successfully built tree can
// always be compiled.
package expr

import (
	"fmt"
	"reflect"
)

// Kind identifies the shape of an Expression.
type Kind int

const (
	KindConstant Kind = iota
	KindParameter
	KindBinary
	KindUnary
	KindConditional
	KindMember
	KindCall
	KindNew
	KindNewArray
	KindMemberInit
	KindTypeIs
	KindLambda
	KindCapture
)

var kindNames = [...]string{
	KindConstant:    "Constant",
	KindParameter:   "Parameter",
	KindBinary:      "Binary",
	KindUnary:       "Unary",
	KindConditional: "Conditional",
	KindMember:      "Member",
	KindCall:        "Call",
	KindNew:         "New",
	KindNewArray:    "NewArray",
	KindMemberInit:  "MemberInit",
	KindTypeIs:      "TypeIs",
	KindLambda:      "Lambda",
	KindCapture:     "Capture",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Expression is a node of the computation graph.
type Expression interface {
	Kind() Kind
	// Type is the static result type of the expression.
	Type() reflect.Type
	String() string
}

var (
	boolType = reflect.TypeFor[bool]()
	intType  = reflect.TypeFor[int]()
	anyType  = reflect.TypeFor[any]()
	errType  = reflect.TypeFor[error]()
)

// Must unwraps the result of a constructor, panicking on error. It is meant
// for statically known trees such as tests and fixtures.
func Must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// ConstantExpr is a literal value.
type ConstantExpr struct {
	Value reflect.Value
	typ   reflect.Type
}

// Constant wraps v as a literal of its dynamic type. A nil v becomes a nil
// literal of type any.
func Constant(v any) *ConstantExpr {
	if v == nil {
		return &ConstantExpr{Value: reflect.Zero(anyType), typ: anyType}
	}
	rv := reflect.ValueOf(v)
	return &ConstantExpr{Value: rv, typ: rv.Type()}
}

// TypedConstant wraps v as a literal of type t. A nil v yields the zero value
// of t.
func TypedConstant(v any, t reflect.Type) (*ConstantExpr, error) {
	if t == nil {
		return nil, &TypeError{Op: "Constant", Msg: "missing type"}
	}
	if v == nil {
		return &ConstantExpr{Value: reflect.Zero(t), typ: t}, nil
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.Type() == t:
	case rv.Type().AssignableTo(t):
		out := reflect.New(t).Elem()
		out.Set(rv)
		rv = out
	case rv.Type().ConvertibleTo(t) && sameFamily(rv.Type(), t):
		rv = rv.Convert(t)
	default:
		return nil, &TypeError{Op: "Constant", Msg: fmt.Sprintf("value of type %s is not a %s", rv.Type(), t)}
	}
	return &ConstantExpr{Value: rv, typ: t}, nil
}

func (c *ConstantExpr) Kind() Kind         { return KindConstant }
func (c *ConstantExpr) Type() reflect.Type { return c.typ }

// Interface returns the literal as an untyped Go value.
func (c *ConstantExpr) Interface() any {
	return valueInterface(c.Value)
}

// ParameterExpr is a formal parameter of a lambda. Parameters are identified
// by pointer: two ParameterExprs with the same name are distinct variables.
type ParameterExpr struct {
	Name string
	typ  reflect.Type
}

// Parameter declares a new variable of type t.
func Parameter(t reflect.Type, name string) *ParameterExpr {
	return &ParameterExpr{Name: name, typ: t}
}

func (p *ParameterExpr) Kind() Kind         { return KindParameter }
func (p *ParameterExpr) Type() reflect.Type { return p.typ }

// CaptureExpr reads an external variable through a pointer each time it is
// evaluated, the way a closure reads a local it closed over.
type CaptureExpr struct {
	Name string
	Ptr  reflect.Value
}

// Capture references the variable ptr points to.
func Capture(name string, ptr any) (*CaptureExpr, error) {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil, &TypeError{Op: "Capture", Msg: fmt.Sprintf("%s: expected a non-nil pointer, got %T", name, ptr)}
	}
	return &CaptureExpr{Name: name, Ptr: rv}, nil
}

func (c *CaptureExpr) Kind() Kind         { return KindCapture }
func (c *CaptureExpr) Type() reflect.Type { return c.Ptr.Type().Elem() }

// ConditionalExpr is a ternary test ? ifTrue : ifFalse.
type ConditionalExpr struct {
	Test    Expression
	IfTrue  Expression
	IfFalse Expression
}

// Condition builds a conditional. Both branches must share a type.
func Condition(test, ifTrue, ifFalse Expression) (*ConditionalExpr, error) {
	if test.Type().Kind() != reflect.Bool {
		return nil, &TypeError{Op: "Condition", Msg: fmt.Sprintf("test must be boolean, got %s", test.Type())}
	}
	if ifTrue.Type() != ifFalse.Type() {
		return nil, &TypeError{Op: "Condition", Msg: fmt.Sprintf("branch types differ: %s and %s", ifTrue.Type(), ifFalse.Type())}
	}
	return &ConditionalExpr{Test: test, IfTrue: ifTrue, IfFalse: ifFalse}, nil
}

func (c *ConditionalExpr) Kind() Kind         { return KindConditional }
func (c *ConditionalExpr) Type() reflect.Type { return c.IfTrue.Type() }

// TypeIsExpr tests whether the dynamic type of Operand is Test.
type TypeIsExpr struct {
	Operand Expression
	Test    reflect.Type
}

// TypeIs builds a type test.
func TypeIs(operand Expression, t reflect.Type) *TypeIsExpr {
	return &TypeIsExpr{Operand: operand, Test: t}
}

func (t *TypeIsExpr) Kind() Kind         { return KindTypeIs }
func (t *TypeIsExpr) Type() reflect.Type { return boolType }

// LambdaExpr is a function abstraction over Params.
type LambdaExpr struct {
	Params []*ParameterExpr
	Body   Expression
	typ    reflect.Type
}

// Lambda abstracts body over params.
func Lambda(body Expression, params ...*ParameterExpr) *LambdaExpr {
	in := make([]reflect.Type, len(params))
	for i, p := range params {
		in[i] = p.Type()
	}
	return &LambdaExpr{
		Params: params,
		Body:   body,
		typ:    reflect.FuncOf(in, []reflect.Type{body.Type()}, false),
	}
}

func (l *LambdaExpr) Kind() Kind { return KindLambda }

// Type is the Go func type func(P1, ..., Pn) R.
func (l *LambdaExpr) Type() reflect.Type { return l.typ }

// sameFamily reports whether a conversion between a and b keeps the value
// meaning: numeric to numeric, string to string.
func sameFamily(a, b reflect.Type) bool {
	return (isNumeric(a) && isNumeric(b)) ||
		(a.Kind() == reflect.String && b.Kind() == reflect.String) ||
		(a.Kind() == reflect.Bool && b.Kind() == reflect.Bool)
}

func isNumeric(t reflect.Type) bool {
	return isInteger(t) || isFloat(t)
}

func isInteger(t reflect.Type) bool {
	return isSigned(t) || isUnsigned(t)
}

func isSigned(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUnsigned(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func isFloat(t reflect.Type) bool {
	return t.Kind() == reflect.Float32 || t.Kind() == reflect.Float64
}
